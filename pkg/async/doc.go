// Package async provides a minimal Future for running a function in the
// background and collecting its result later. The receipt validation endpoint
// uses it to keep a slow upstream verification running after the HTTP caller
// has been answered with 202 Accepted.
package async
