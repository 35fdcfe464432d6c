// Package requestid assigns every HTTP request a correlation ID, propagated
// through context and echoed in the X-Request-ID response header. The logger
// extractor attaches the ID to every log record in the request scope.
package requestid
