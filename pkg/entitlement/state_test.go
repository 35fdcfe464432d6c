package entitlement_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/dmitrymomot/entitlements/pkg/entitlement"
)

func timePtr(t time.Time) *time.Time { return &t }

func TestStateHasActiveAccessAt(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	future := timePtr(now.Add(24 * time.Hour))
	past := timePtr(now.Add(-24 * time.Hour))

	tests := []struct {
		name  string
		state entitlement.State
		want  bool
	}{
		{
			name:  "active before expiration",
			state: entitlement.State{Status: entitlement.StatusActive, ExpirationDate: future},
			want:  true,
		},
		{
			name:  "active past expiration",
			state: entitlement.State{Status: entitlement.StatusActive, ExpirationDate: past},
			want:  false,
		},
		{
			name:  "active without expiration date",
			state: entitlement.State{Status: entitlement.StatusActive},
			want:  true,
		},
		{
			name:  "trial before expiration",
			state: entitlement.State{Status: entitlement.StatusTrial, ExpirationDate: future},
			want:  true,
		},
		{
			name:  "grace within grace window",
			state: entitlement.State{Status: entitlement.StatusGrace, ExpirationDate: past, GracePeriodEndDate: future},
			want:  true,
		},
		{
			name:  "grace past grace window",
			state: entitlement.State{Status: entitlement.StatusGrace, ExpirationDate: past, GracePeriodEndDate: past},
			want:  false,
		},
		{
			name:  "grace without grace window falls back to expiration",
			state: entitlement.State{Status: entitlement.StatusGrace, ExpirationDate: future},
			want:  true,
		},
		{
			name:  "cancelled keeps access until paid period ends",
			state: entitlement.State{Status: entitlement.StatusCancelled, Tier: entitlement.TierPremium, ExpirationDate: future},
			want:  true,
		},
		{
			name:  "cancelled past paid period",
			state: entitlement.State{Status: entitlement.StatusCancelled, ExpirationDate: past},
			want:  false,
		},
		{
			name:  "cancelled without expiration date",
			state: entitlement.State{Status: entitlement.StatusCancelled},
			want:  false,
		},
		{
			name:  "expired never grants access",
			state: entitlement.State{Status: entitlement.StatusExpired, ExpirationDate: future},
			want:  false,
		},
		{
			name:  "none never grants access",
			state: entitlement.State{Status: entitlement.StatusNone},
			want:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.state.HasActiveAccessAt(now))
		})
	}
}

func TestStateIsStaleAt(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	state := entitlement.State{LastUpdated: now}

	assert.False(t, state.IsStaleAt(now))
	assert.False(t, state.IsStaleAt(now.Add(entitlement.StalenessThreshold)))
	assert.True(t, state.IsStaleAt(now.Add(entitlement.StalenessThreshold+time.Second)))
}

func TestStateExpired(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	expiry := timePtr(now.Add(-time.Hour))

	state := entitlement.State{
		Tier:               entitlement.TierElite,
		Status:             entitlement.StatusGrace,
		ProductID:          "com.example.app.elite.monthly",
		ExpirationDate:     expiry,
		GracePeriodEndDate: timePtr(now.Add(-time.Minute)),
		AutoRenewalEnabled: true,
	}

	expired := state.Expired(now)

	assert.Equal(t, entitlement.TierNone, expired.Tier)
	assert.Equal(t, entitlement.StatusExpired, expired.Status)
	assert.False(t, expired.AutoRenewalEnabled)
	assert.Nil(t, expired.GracePeriodEndDate)
	assert.Equal(t, expiry, expired.ExpirationDate, "expiration date kept for display")
	assert.Equal(t, now, expired.LastUpdated)

	// The original value stays untouched.
	assert.Equal(t, entitlement.TierElite, state.Tier)
	assert.Equal(t, entitlement.StatusGrace, state.Status)
}

func TestStateNormalize(t *testing.T) {
	t.Parallel()

	cancelled := entitlement.State{Tier: entitlement.TierPremium, Status: entitlement.StatusCancelled}
	assert.Equal(t, entitlement.TierPremium, cancelled.Normalize().Tier,
		"cancelled keeps its tier until the paid period ends")

	expired := entitlement.State{Tier: entitlement.TierPremium, Status: entitlement.StatusExpired}
	assert.Equal(t, entitlement.TierNone, expired.Normalize().Tier)

	none := entitlement.State{Tier: entitlement.TierBasic, Status: entitlement.StatusNone}
	assert.Equal(t, entitlement.TierNone, none.Normalize().Tier)
}

func TestStateSupersedes(t *testing.T) {
	t.Parallel()

	earlier := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	later := earlier.Add(time.Hour)

	tests := []struct {
		name     string
		incoming entitlement.State
		current  entitlement.State
		want     bool
	}{
		{
			name:     "server beats client regardless of timestamps",
			incoming: entitlement.State{ValidationSource: entitlement.SourceServer, LastUpdated: earlier},
			current:  entitlement.State{ValidationSource: entitlement.SourceClient, LastUpdated: later},
			want:     true,
		},
		{
			name:     "client never beats server",
			incoming: entitlement.State{ValidationSource: entitlement.SourceClient, LastUpdated: later},
			current:  entitlement.State{ValidationSource: entitlement.SourceServer, LastUpdated: earlier},
			want:     false,
		},
		{
			name:     "same source newer wins",
			incoming: entitlement.State{ValidationSource: entitlement.SourceServer, LastUpdated: later},
			current:  entitlement.State{ValidationSource: entitlement.SourceServer, LastUpdated: earlier},
			want:     true,
		},
		{
			name:     "same source older loses",
			incoming: entitlement.State{ValidationSource: entitlement.SourceClient, LastUpdated: earlier},
			current:  entitlement.State{ValidationSource: entitlement.SourceClient, LastUpdated: later},
			want:     false,
		},
		{
			name:     "same source equal timestamp wins",
			incoming: entitlement.State{ValidationSource: entitlement.SourceServer, LastUpdated: earlier},
			current:  entitlement.State{ValidationSource: entitlement.SourceServer, LastUpdated: earlier},
			want:     true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.incoming.Supersedes(tt.current))
		})
	}
}

func TestNonSubscribed(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	state := entitlement.NonSubscribed(now)

	assert.Equal(t, entitlement.TierNone, state.Tier)
	assert.Equal(t, entitlement.StatusNone, state.Status)
	assert.Equal(t, entitlement.SourceClient, state.ValidationSource)
	assert.False(t, state.HasActiveAccessAt(now))
}

func TestTierPriority(t *testing.T) {
	t.Parallel()

	assert.True(t, entitlement.TierElite.UpgradesFrom(entitlement.TierPremium))
	assert.True(t, entitlement.TierPremium.UpgradesFrom(entitlement.TierBasic))
	assert.True(t, entitlement.TierBasic.UpgradesFrom(entitlement.TierNone))
	assert.False(t, entitlement.TierBasic.UpgradesFrom(entitlement.TierBasic))
	assert.False(t, entitlement.TierNone.IsPaid())
	assert.True(t, entitlement.TierElite.IsPaid())
	assert.Equal(t, 0, entitlement.Tier("bogus").Priority())
}
