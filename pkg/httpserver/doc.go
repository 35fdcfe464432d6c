// Package httpserver wraps net/http with graceful shutdown, configurable
// timeouts, lifecycle hooks and a combined liveness/readiness health handler.
//
// Run blocks until the context is cancelled or an interrupt/TERM signal
// arrives, then drains in-flight requests within the shutdown deadline.
// Construction goes through New or NewFromConfig with functional options;
// startup and shutdown failures are wrapped with the ErrStart and ErrShutdown
// sentinels.
package httpserver
