// Package logger builds configured slog loggers with context attribute
// injection.
//
// The factory produces JSON output at info level by default, suitable for log
// aggregation; development setups switch to readable text output. Context
// extractors registered at construction time add request-scoped attributes
// (request ID, user ID) to every record automatically:
//
//	log := logger.New(
//	    logger.WithProduction("entitlements"),
//	    logger.WithContextValue("request_id", requestIDKey),
//	)
//
// Attr helpers keep field names consistent across the codebase.
package logger
