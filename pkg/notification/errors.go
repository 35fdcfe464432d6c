package notification

import "errors"

var (
	ErrInvalidSignature = errors.New("notification: signature verification failed")
	ErrStaleTimestamp   = errors.New("notification: timestamp outside tolerance")
	ErrInvalidCertURL   = errors.New("notification: certificate URL not trusted")
	ErrInvalidPayload   = errors.New("notification: malformed payload")
	ErrUnknownUser      = errors.New("notification: no user for transaction")
)
