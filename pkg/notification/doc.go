// Package notification processes server-to-server subscription notifications
// from the store.
//
// Incoming requests are authenticated (HMAC signature, timestamp freshness,
// trusted certificate origin), deduplicated by (transaction, event type), and
// translated into entitlement state transitions. Unknown event types are
// acknowledged without effect so the store does not retry them forever.
package notification
