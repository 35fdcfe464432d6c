// Package receipt validates purchase receipts against the store and converts
// the server's verdict into entitlement state.
//
// The validation path is cache, then circuit breaker, then bounded retries
// around the upstream call. Successful results are cached by a user-scoped
// receipt fingerprint; failures never are. Transient upstream failures
// surface as errors without a rejection marker so callers can fall back to
// the user's last known good entitlement instead of revoking access.
package receipt
