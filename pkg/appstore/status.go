package appstore

import "fmt"

// Receipt validation status codes returned by the store's verification
// endpoint in the response body (the HTTP status is 200 regardless).
const (
	StatusSuccess                    = 0
	StatusInvalidJSON                = 21000
	StatusInvalidReceiptData         = 21002
	StatusAuthenticationFailed       = 21003
	StatusSharedSecretMismatch       = 21004
	StatusServerUnavailable          = 21005
	StatusSubscriptionExpired        = 21006
	StatusSandboxReceiptOnProduction = 21007
	StatusProductionReceiptOnSandbox = 21008
	StatusUnauthorized               = 21010
)

// StatusMessage returns a human-readable description of a verification
// status code, for logs and client-facing error details.
func StatusMessage(code int) string {
	switch code {
	case StatusSuccess:
		return "valid receipt"
	case StatusInvalidJSON:
		return "the receipt data is not properly formatted"
	case StatusInvalidReceiptData:
		return "the receipt data is malformed"
	case StatusAuthenticationFailed:
		return "receipt authentication failed"
	case StatusSharedSecretMismatch:
		return "invalid app shared secret"
	case StatusServerUnavailable:
		return "store servers are temporarily unavailable"
	case StatusSubscriptionExpired:
		return "subscription has expired"
	case StatusSandboxReceiptOnProduction:
		return "test receipt submitted to production"
	case StatusProductionReceiptOnSandbox:
		return "production receipt submitted to test environment"
	case StatusUnauthorized:
		return "receipt validation not authorized"
	default:
		return fmt.Sprintf("unknown status code: %d", code)
	}
}

// statusError maps a non-success body status to the error taxonomy.
// StatusSubscriptionExpired is not an error: the receipt is genuine, the
// subscription just lapsed, and the response still carries the transaction.
func statusError(code int) error {
	switch code {
	case StatusSuccess, StatusSubscriptionExpired:
		return nil
	case StatusInvalidJSON, StatusInvalidReceiptData:
		return fmt.Errorf("%w: %s", ErrInvalidReceipt, StatusMessage(code))
	case StatusAuthenticationFailed, StatusSharedSecretMismatch, StatusUnauthorized:
		return fmt.Errorf("%w: %s", ErrUnauthenticated, StatusMessage(code))
	case StatusServerUnavailable:
		return fmt.Errorf("%w: %s", ErrServerError, StatusMessage(code))
	default:
		return fmt.Errorf("%w: %s", ErrInvalidResponse, StatusMessage(code))
	}
}
