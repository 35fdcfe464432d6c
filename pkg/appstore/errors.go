package appstore

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNoNetwork          = errors.New("appstore: network unreachable")
	ErrUnauthenticated    = errors.New("appstore: authentication failed")
	ErrInvalidReceipt     = errors.New("appstore: receipt data is malformed")
	ErrInvalidResponse    = errors.New("appstore: unexpected response payload")
	ErrServerError        = errors.New("appstore: store server error")
	ErrNotFound           = errors.New("appstore: resource not found")
	ErrRateLimited        = errors.New("appstore: rate limited by store API")
	ErrRequestBudget      = errors.New("appstore: local request budget exhausted")
	ErrMissingCredentials = errors.New("appstore: missing API credentials")
	ErrInvalidPrivateKey  = errors.New("appstore: invalid signing key")
)

// RateLimitError carries the server-mandated delay from a 429 response so the
// retry policy can honor it instead of its own backoff.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("appstore: rate limited, retry after %s", e.RetryAfter)
}

func (e *RateLimitError) Unwrap() error {
	return ErrRateLimited
}

// IsRetryable classifies upstream failures for the retry policy. Credential
// and malformed-receipt failures are terminal: retrying them can only burn
// the attempt budget.
func IsRetryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrUnauthenticated),
		errors.Is(err, ErrInvalidReceipt),
		errors.Is(err, ErrNotFound),
		errors.Is(err, ErrMissingCredentials),
		errors.Is(err, ErrInvalidResponse):
		return false
	default:
		return true
	}
}

// RetryAfter extracts the server-mandated retry delay, if any.
func RetryAfter(err error) time.Duration {
	var rle *RateLimitError
	if errors.As(err, &rle) {
		return rle.RetryAfter
	}
	return 0
}
