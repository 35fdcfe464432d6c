package entitlement

import "errors"

var (
	ErrStateNotFound    = errors.New("entitlement state not found")
	ErrReceiptRejected  = errors.New("receipt rejected by the store")
	ErrMissingUserID    = errors.New("user ID is required")
	ErrInvalidCatalog   = errors.New("invalid product catalog configuration")
	ErrUnknownProductID = errors.New("unknown product identifier")
)
