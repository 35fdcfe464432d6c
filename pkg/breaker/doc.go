// Package breaker implements a circuit breaker for calls to the App Store
// verification API. After a run of consecutive failures the circuit opens and
// rejects calls immediately with ErrServerUnavailable, protecting the
// upstream from retry storms during an outage and giving validations a fast
// failure mode. After a cooldown a single probe is let through; its outcome
// decides whether the circuit closes again.
package breaker
