package entitlement

// ResultSource tells callers whether a validation result was served from the
// cache or from a live server round trip.
type ResultSource string

const (
	ResultSourceCache  ResultSource = "cache"
	ResultSourceServer ResultSource = "server"
)

// ValidationResult is the outcome of a single receipt validation attempt.
// Results are short-lived; only the derived State is persisted.
type ValidationResult struct {
	Valid       bool
	State       State
	Source      ResultSource
	ReceiptHash string
	Err         error
}
