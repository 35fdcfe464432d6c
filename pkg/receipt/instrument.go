package receipt

import (
	"context"
	"time"

	"github.com/dmitrymomot/entitlements/pkg/appstore"
)

// InstrumentUpstream wraps an upstream verifier and reports the duration of
// every call, in seconds, to observe. Failed calls are observed too, so the
// latency of timeouts and slow errors stays visible. A nil observe returns
// the verifier unwrapped.
func InstrumentUpstream(next UpstreamVerifier, observe func(seconds float64)) UpstreamVerifier {
	if next == nil {
		panic("receipt: upstream verifier is required")
	}
	if observe == nil {
		return next
	}
	return &instrumentedUpstream{next: next, observe: observe}
}

type instrumentedUpstream struct {
	next    UpstreamVerifier
	observe func(seconds float64)
}

func (u *instrumentedUpstream) VerifyReceipt(ctx context.Context, receiptData string) (*appstore.VerifyResponse, error) {
	start := time.Now()
	resp, err := u.next.VerifyReceipt(ctx, receiptData)
	u.observe(time.Since(start).Seconds())
	return resp, err
}
