// Package appstore implements the client for the App Store's receipt
// verification and subscription status endpoints.
//
// Receipt verification authenticates with the app's shared secret and follows
// the recommended production-first flow: a sandbox receipt submitted to the
// production endpoint (status 21007) is transparently retried against the
// sandbox endpoint. Server API calls authenticate with a short-lived
// ES256-signed bearer token that is cached and reused until near expiry.
//
// The client classifies failures into a small taxonomy (network, auth,
// malformed receipt, rate limit, server error) so the retry policy can
// distinguish transient from terminal errors; it performs no retries itself.
package appstore
