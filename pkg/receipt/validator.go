package receipt

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/dmitrymomot/entitlements/pkg/appstore"
	"github.com/dmitrymomot/entitlements/pkg/breaker"
	"github.com/dmitrymomot/entitlements/pkg/entitlement"
	"github.com/dmitrymomot/entitlements/pkg/retry"
)

// DefaultCacheTTL bounds how long a successful validation is served from
// cache before the receipt goes back to the server.
const DefaultCacheTTL = time.Hour

// UpstreamVerifier is the slice of the store client the validator needs.
type UpstreamVerifier interface {
	VerifyReceipt(ctx context.Context, receiptData string) (*appstore.VerifyResponse, error)
}

// Validator turns raw receipt data into an entitlement state. Each validation
// checks the cache first, then goes to the server through the shared circuit
// breaker with bounded retries. Only successful validations are cached.
type Validator struct {
	upstream UpstreamVerifier
	cache    Cache
	breaker  *breaker.CircuitBreaker
	catalog  *entitlement.Catalog
	policy   retry.Policy
	cacheTTL time.Duration
	log      *slog.Logger
	now      func() time.Time
}

// Option configures optional validator settings.
type Option func(*Validator)

// WithRetryPolicy overrides the retry policy for server calls.
func WithRetryPolicy(p retry.Policy) Option {
	return func(v *Validator) { v.policy = p }
}

// WithCacheTTL overrides how long successful validations stay cached.
func WithCacheTTL(ttl time.Duration) Option {
	return func(v *Validator) {
		if ttl > 0 {
			v.cacheTTL = ttl
		}
	}
}

// WithLogger sets the logger; a discarding logger is used otherwise.
func WithLogger(log *slog.Logger) Option {
	return func(v *Validator) {
		if log != nil {
			v.log = log
		}
	}
}

// WithClock injects the time source for tests.
func WithClock(now func() time.Time) Option {
	return func(v *Validator) {
		if now != nil {
			v.now = now
		}
	}
}

// NewValidator creates a receipt validator. Panics if any required dependency
// is nil, as this is a programming error.
func NewValidator(upstream UpstreamVerifier, c Cache, cb *breaker.CircuitBreaker, catalog *entitlement.Catalog, opts ...Option) *Validator {
	if upstream == nil {
		panic("receipt: upstream verifier is required")
	}
	if c == nil {
		panic("receipt: cache is required")
	}
	if cb == nil {
		panic("receipt: circuit breaker is required")
	}

	v := &Validator{
		upstream: upstream,
		cache:    c,
		breaker:  cb,
		catalog:  catalog,
		policy:   retry.DefaultPolicy(),
		cacheTTL: DefaultCacheTTL,
		log:      slog.New(slog.DiscardHandler),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate resolves receipt data to a validation result. A transient upstream
// failure yields an invalid result with Err set but no rejection marker, so
// the state manager keeps the user's last known good entitlement. Only an
// authoritative server verdict (malformed receipt, lapsed subscription)
// carries entitlement.ErrReceiptRejected and may downgrade.
func (v *Validator) Validate(ctx context.Context, userID, receiptData string) (entitlement.ValidationResult, error) {
	if receiptData == "" {
		return entitlement.ValidationResult{Err: ErrEmptyReceipt}, ErrEmptyReceipt
	}

	key := Fingerprint(userID, receiptData)
	if entry, ok, err := v.cache.Get(ctx, key); err != nil {
		v.log.WarnContext(ctx, "validation cache read failed", "error", err)
	} else if ok {
		v.log.DebugContext(ctx, "validation served from cache",
			"user_id", userID, "hits", entry.HitCount)
		return entitlement.ValidationResult{
			Valid:       true,
			State:       entry.State,
			Source:      entitlement.ResultSourceCache,
			ReceiptHash: entry.ReceiptHash,
		}, nil
	}

	resp, err := v.verify(ctx, receiptData)
	if err != nil {
		return v.failureResult(ctx, err)
	}

	result := v.resultFromResponse(resp, receiptData)
	if result.Valid {
		now := v.now()
		entry := Entry{
			State:       result.State,
			ReceiptHash: result.ReceiptHash,
			CreatedAt:   now,
			ExpiresAt:   now.Add(v.cacheTTL),
		}
		if err := v.cache.Set(ctx, key, entry); err != nil {
			v.log.WarnContext(ctx, "validation cache write failed", "error", err)
		}
	}
	return result, result.Err
}

// Invalidate drops any cached result for the given (user, receipt) pair,
// forcing the next validation back to the server.
func (v *Validator) Invalidate(ctx context.Context, userID, receiptData string) error {
	return v.cache.Delete(ctx, Fingerprint(userID, receiptData))
}

func (v *Validator) verify(ctx context.Context, receiptData string) (*appstore.VerifyResponse, error) {
	classify := func(err error) (bool, time.Duration) {
		return appstore.IsRetryable(err), appstore.RetryAfter(err)
	}

	var resp *appstore.VerifyResponse
	err := v.breaker.Do(ctx, func(ctx context.Context) error {
		return retry.Do(ctx, v.policy, classify, func(ctx context.Context) error {
			r, err := v.upstream.VerifyReceipt(ctx, receiptData)
			if err != nil {
				return err
			}
			resp = r
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// failureResult maps an upstream failure to a validation result. A malformed
// receipt is the only upstream error treated as an authoritative rejection;
// everything else (network, breaker open, auth misconfiguration) leaves the
// current entitlement untouched.
func (v *Validator) failureResult(ctx context.Context, err error) (entitlement.ValidationResult, error) {
	if errors.Is(err, appstore.ErrInvalidReceipt) {
		rejected := errors.Join(err, entitlement.ErrReceiptRejected)
		return entitlement.ValidationResult{
			State:  entitlement.NonSubscribed(v.now()).Validated(entitlement.SourceServer, v.now()),
			Source: entitlement.ResultSourceServer,
			Err:    rejected,
		}, rejected
	}

	if errors.Is(err, breaker.ErrServerUnavailable) {
		v.log.WarnContext(ctx, "validation rejected by open circuit")
	} else {
		v.log.WarnContext(ctx, "receipt verification failed", "error", err)
	}
	return entitlement.ValidationResult{
		Source: entitlement.ResultSourceServer,
		Err:    err,
	}, err
}

func (v *Validator) resultFromResponse(resp *appstore.VerifyResponse, receiptData string) entitlement.ValidationResult {
	now := v.now()
	hash := Hash(receiptData)

	latest := resp.Latest()
	if latest == nil {
		err := errors.Join(ErrNoActiveSubscription, entitlement.ErrReceiptRejected)
		state := entitlement.NonSubscribed(now).Validated(entitlement.SourceServer, now)
		state.ReceiptHash = hash
		return entitlement.ValidationResult{
			State:       state,
			Source:      entitlement.ResultSourceServer,
			ReceiptHash: hash,
			Err:         err,
		}
	}

	state := entitlement.State{
		Tier:               v.catalog.TierFor(latest.ProductID),
		Status:             entitlement.StatusActive,
		ProductID:          latest.ProductID,
		TransactionID:      latest.TransactionID,
		AutoRenewalEnabled: resp.AutoRenewEnabled(),
		ReceiptHash:        hash,
	}
	if expiresAt, ok := latest.ExpiresAt(); ok {
		exp := expiresAt
		state.ExpirationDate = &exp
	}
	if latest.InTrial() {
		state.Status = entitlement.StatusTrial
		state.TrialExpirationDate = state.ExpirationDate
	}

	expired := resp.Status == appstore.StatusSubscriptionExpired ||
		(state.ExpirationDate != nil && !now.Before(*state.ExpirationDate))
	if expired {
		err := errors.Join(ErrSubscriptionExpired, entitlement.ErrReceiptRejected)
		return entitlement.ValidationResult{
			State:       state.Expired(now).Validated(entitlement.SourceServer, now),
			Source:      entitlement.ResultSourceServer,
			ReceiptHash: hash,
			Err:         err,
		}
	}

	return entitlement.ValidationResult{
		Valid:       true,
		State:       state.Validated(entitlement.SourceServer, now),
		Source:      entitlement.ResultSourceServer,
		ReceiptHash: hash,
	}
}
