package redis

import "errors"

var (
	ErrInvalidConnString = errors.New("redis: invalid connection string")
	ErrNotReady          = errors.New("redis: connection not ready before deadline")
	ErrHealthcheckFailed = errors.New("redis: healthcheck failed")
)
