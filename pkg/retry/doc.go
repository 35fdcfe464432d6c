// Package retry provides a bounded retry loop with pluggable backoff for
// calls to the App Store verification API. Only errors classified as
// transient (network timeouts, 429, 5xx) are retried; authentication and
// malformed-receipt failures propagate immediately. Backoff delays are
// context-aware suspensions, not spin-waits.
package retry
