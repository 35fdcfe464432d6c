package notification_test

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/entitlements/pkg/entitlement"
	"github.com/dmitrymomot/entitlements/pkg/notification"
)

type stubApplier struct {
	mu       sync.Mutex
	state    entitlement.State
	applied  []entitlement.State
	applyErr error
}

func (s *stubApplier) CurrentState(_ context.Context, _ string) (entitlement.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, nil
}

func (s *stubApplier) ApplyWebhook(_ context.Context, _ string, incoming entitlement.State) (entitlement.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.applyErr != nil {
		return entitlement.State{}, s.applyErr
	}
	incoming.ValidationSource = entitlement.SourceServer
	s.state = incoming
	s.applied = append(s.applied, incoming)
	return incoming, nil
}

func (s *stubApplier) setApplyErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.applyErr = err
}

func (s *stubApplier) applyCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.applied)
}

type stubResolver struct {
	userID string
	err    error
}

func (s stubResolver) UserByTransaction(_ context.Context, _, _ string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return s.userID, nil
}

func activeState(now time.Time) entitlement.State {
	expiry := now.Add(30 * 24 * time.Hour)
	return entitlement.State{
		Tier:               entitlement.TierPremium,
		Status:             entitlement.StatusActive,
		ProductID:          "com.example.app.premium.monthly",
		TransactionID:      "tx-1000",
		ExpirationDate:     &expiry,
		AutoRenewalEnabled: true,
		LastUpdated:        now.Add(-time.Hour),
		ValidationSource:   entitlement.SourceServer,
	}
}

func newProcessor(applier *stubApplier, now time.Time, opts ...notification.ProcessorOption) *notification.Processor {
	opts = append([]notification.ProcessorOption{
		notification.WithClock(func() time.Time { return now }),
	}, opts...)
	return notification.NewProcessor(applier, stubResolver{userID: "user-1"},
		notification.NewMemoryDedup(time.Hour), opts...)
}

func TestProcessTransitions(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		update notification.Update
		check  func(t *testing.T, state entitlement.State)
	}{
		{
			name: "renewal keeps access and clears grace",
			update: notification.Update{
				EventType:     notification.EventDidRenew,
				ProductID:     "com.example.app.premium.monthly",
				TransactionID: "tx-1001",
			},
			check: func(t *testing.T, state entitlement.State) {
				assert.Equal(t, entitlement.StatusActive, state.Status)
				assert.Equal(t, entitlement.TierPremium, state.Tier)
				assert.Equal(t, "tx-1001", state.TransactionID)
				assert.Nil(t, state.GracePeriodEndDate)
				assert.True(t, state.AutoRenewalEnabled)
			},
		},
		{
			name: "cancel keeps tier until period end",
			update: notification.Update{
				EventType:     notification.EventCancel,
				TransactionID: "tx-1000",
			},
			check: func(t *testing.T, state entitlement.State) {
				assert.Equal(t, entitlement.StatusCancelled, state.Status)
				assert.Equal(t, entitlement.TierPremium, state.Tier)
				assert.False(t, state.AutoRenewalEnabled)
				assert.True(t, state.HasActiveAccessAt(now), "access lasts until the paid period ends")
			},
		},
		{
			name: "failed renewal enters grace",
			update: notification.Update{
				EventType:          notification.EventDidFailToRenew,
				TransactionID:      "tx-1000",
				GracePeriodEndDate: timePtr(now.Add(16 * 24 * time.Hour)),
			},
			check: func(t *testing.T, state entitlement.State) {
				assert.Equal(t, entitlement.StatusGrace, state.Status)
				assert.Equal(t, entitlement.TierPremium, state.Tier, "tier preserved during billing retry")
				require.NotNil(t, state.GracePeriodEndDate)
				assert.True(t, state.HasActiveAccessAt(now))
			},
		},
		{
			name: "expiry ends access",
			update: notification.Update{
				EventType:     notification.EventExpired,
				TransactionID: "tx-1000",
			},
			check: func(t *testing.T, state entitlement.State) {
				assert.Equal(t, entitlement.StatusExpired, state.Status)
				assert.Equal(t, entitlement.TierNone, state.Tier)
				assert.False(t, state.HasActiveAccessAt(now))
			},
		},
		{
			name: "grace period expiry ends access",
			update: notification.Update{
				EventType:     notification.EventGracePeriodExpired,
				TransactionID: "tx-1000",
			},
			check: func(t *testing.T, state entitlement.State) {
				assert.Equal(t, entitlement.StatusExpired, state.Status)
				assert.False(t, state.HasActiveAccessAt(now))
			},
		},
		{
			name: "refund cuts access immediately",
			update: notification.Update{
				EventType:     notification.EventRefund,
				TransactionID: "tx-1000",
			},
			check: func(t *testing.T, state entitlement.State) {
				assert.Equal(t, entitlement.StatusCancelled, state.Status)
				assert.Equal(t, entitlement.TierNone, state.Tier)
				assert.False(t, state.HasActiveAccessAt(now.Add(time.Second)))
			},
		},
		{
			name: "revoke cuts access immediately",
			update: notification.Update{
				EventType:     notification.EventRevoke,
				TransactionID: "tx-1000",
			},
			check: func(t *testing.T, state entitlement.State) {
				assert.False(t, state.HasActiveAccessAt(now.Add(time.Second)))
			},
		},
		{
			name: "renewal status change flips the flag only",
			update: notification.Update{
				EventType:          notification.EventDidChangeRenewalStatus,
				TransactionID:      "tx-1000",
				AutoRenewalEnabled: boolPtr(false),
			},
			check: func(t *testing.T, state entitlement.State) {
				assert.Equal(t, entitlement.StatusActive, state.Status)
				assert.Equal(t, entitlement.TierPremium, state.Tier)
				assert.False(t, state.AutoRenewalEnabled)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			applier := &stubApplier{state: activeState(now)}
			p := newProcessor(applier, now)

			state, disposition, err := p.Process(context.Background(), tt.update)
			require.NoError(t, err)
			assert.Equal(t, notification.DispositionApplied, disposition)
			tt.check(t, state)
		})
	}
}

func TestProcessDuplicateIsNoOp(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	applier := &stubApplier{state: activeState(now)}
	p := newProcessor(applier, now)

	update := notification.Update{EventType: notification.EventDidRenew, TransactionID: "tx-1001"}

	ctx := context.Background()
	first, disposition, err := p.Process(ctx, update)
	require.NoError(t, err)
	assert.Equal(t, notification.DispositionApplied, disposition)

	second, disposition, err := p.Process(ctx, update)
	require.NoError(t, err)
	assert.Equal(t, notification.DispositionDuplicate, disposition)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, applier.applyCount(), "redelivery must not apply twice")
}

func TestProcessRedeliveryAfterApplyFailure(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	applier := &stubApplier{state: activeState(now)}
	applier.setApplyErr(errors.New("store write timed out"))
	p := newProcessor(applier, now)

	update := notification.Update{EventType: notification.EventRefund, TransactionID: "tx-1000"}

	ctx := context.Background()
	_, _, err := p.Process(ctx, update)
	require.Error(t, err)
	assert.Zero(t, applier.applyCount())

	// The store redelivers after the 5xx; the event must not be treated as a
	// duplicate just because the failed attempt saw it first.
	applier.setApplyErr(nil)
	state, disposition, err := p.Process(ctx, update)
	require.NoError(t, err)
	assert.Equal(t, notification.DispositionApplied, disposition)
	assert.Equal(t, 1, applier.applyCount())
	assert.Equal(t, entitlement.StatusCancelled, state.Status)
	assert.Equal(t, entitlement.TierNone, state.Tier)
	assert.False(t, state.HasActiveAccessAt(now.Add(time.Second)), "refund must revoke access")
}

func TestProcessUnknownEventAcknowledged(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	applier := &stubApplier{state: activeState(now)}
	p := newProcessor(applier, now)

	state, disposition, err := p.Process(context.Background(), notification.Update{
		EventType:     "SOME_FUTURE_EVENT",
		TransactionID: "tx-1000",
	})
	require.NoError(t, err, "new store event types never break delivery")
	assert.Equal(t, notification.DispositionNoop, disposition)
	assert.Equal(t, activeState(now), state)
	assert.Zero(t, applier.applyCount())
}

func TestProcessRenewalStatusWithoutFlagIsNoOp(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	applier := &stubApplier{state: activeState(now)}
	p := newProcessor(applier, now)

	_, disposition, err := p.Process(context.Background(), notification.Update{
		EventType:     notification.EventDidChangeRenewalStatus,
		TransactionID: "tx-1000",
	})
	require.NoError(t, err)
	assert.Equal(t, notification.DispositionNoop, disposition)
	assert.Zero(t, applier.applyCount())
}

func TestProcessUnknownUser(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	p := notification.NewProcessor(&stubApplier{}, stubResolver{err: errors.New("no owner")},
		notification.NewMemoryDedup(time.Hour),
		notification.WithClock(func() time.Time { return now }))

	_, _, err := p.Process(context.Background(), notification.Update{
		EventType:     notification.EventDidRenew,
		TransactionID: "tx-9999",
	})
	assert.ErrorIs(t, err, notification.ErrUnknownUser)
}

func TestProcessSigned(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	verifier := notification.NewVerifier("shared-secret",
		notification.WithVerifierClock(func() time.Time { return now }))

	applier := &stubApplier{state: activeState(now)}
	p := newProcessor(applier, now, notification.WithVerifier(verifier))

	payload := []byte(`{"notificationType":"CANCEL","transactionId":"tx-1000"}`)
	ts := strconv.FormatInt(now.Unix(), 10)
	headers := notification.SignatureHeaders{
		Signature: verifier.Sign(payload, ts),
		Timestamp: ts,
	}

	t.Run("valid signature applies", func(t *testing.T) {
		state, disposition, err := p.ProcessSigned(context.Background(), payload, headers)
		require.NoError(t, err)
		assert.Equal(t, notification.DispositionApplied, disposition)
		assert.Equal(t, entitlement.StatusCancelled, state.Status)
	})

	t.Run("bad signature rejected before processing", func(t *testing.T) {
		bad := headers
		bad.Signature = "deadbeef"
		_, _, err := p.ProcessSigned(context.Background(), payload, bad)
		assert.ErrorIs(t, err, notification.ErrInvalidSignature)
	})

	t.Run("malformed payload", func(t *testing.T) {
		body := []byte(`{"subtype":"VOLUNTARY"}`)
		h := notification.SignatureHeaders{Signature: verifier.Sign(body, ts), Timestamp: ts}
		_, _, err := p.ProcessSigned(context.Background(), body, h)
		assert.ErrorIs(t, err, notification.ErrInvalidPayload)
	})
}

func TestDecode(t *testing.T) {
	t.Parallel()

	t.Run("valid payload", func(t *testing.T) {
		t.Parallel()

		update, err := notification.Decode([]byte(`{
			"notificationType": "DID_FAIL_TO_RENEW",
			"productId": "com.example.app.basic.monthly",
			"transactionId": "tx-1",
			"originalTransactionId": "tx-0"
		}`))
		require.NoError(t, err)
		assert.Equal(t, notification.EventDidFailToRenew, update.EventType)
		assert.Equal(t, "tx-1", update.TransactionID)
		assert.Equal(t, "tx-1:DID_FAIL_TO_RENEW", update.DedupKey())
	})

	t.Run("not json", func(t *testing.T) {
		t.Parallel()

		_, err := notification.Decode([]byte("nope"))
		assert.ErrorIs(t, err, notification.ErrInvalidPayload)
	})

	t.Run("missing required fields", func(t *testing.T) {
		t.Parallel()

		_, err := notification.Decode([]byte(`{"transactionId":"tx-1"}`))
		assert.ErrorIs(t, err, notification.ErrInvalidPayload)

		_, err = notification.Decode([]byte(`{"notificationType":"CANCEL"}`))
		assert.ErrorIs(t, err, notification.ErrInvalidPayload)
	})
}

func timePtr(t time.Time) *time.Time { return &t }
func boolPtr(b bool) *bool           { return &b }
