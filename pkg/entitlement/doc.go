// Package entitlement holds the authoritative subscription state model and
// the per-user state manager.
//
// State is an immutable value object: every lifecycle transition (renewal,
// cancellation, grace period, refund, expiry) produces a new State. The
// Manager serializes writes per user and resolves conflicts between
// concurrently arriving updates with a simple precedence rule: server-derived
// state always outranks client-reported state, and within the same source the
// newer timestamp wins.
//
// The package deliberately has no transport or storage dependencies; stores
// implement the Store interface and validators/webhook processors feed
// transitions in through the Manager.
package entitlement
