// Package redis connects to Redis with retry-on-startup semantics and exposes
// a health check closure for readiness probes. The service uses Redis for the
// shared validation result cache and webhook deduplication.
package redis
