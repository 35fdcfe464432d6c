package breaker

import "errors"

// ErrServerUnavailable is returned while the circuit is open. Callers must
// treat it differently from a validation failure: the upstream was never
// contacted, so existing entitlements should not be revoked because of it.
var ErrServerUnavailable = errors.New("upstream unavailable: circuit breaker is open")
