package logger_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dmitrymomot/entitlements/pkg/logger"
)

func TestError(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "error", logger.Error(errors.New("boom")).Key)
	assert.Empty(t, logger.Error(nil).Key)
}

func TestErrors(t *testing.T) {
	t.Parallel()

	attr := logger.Errors(errors.New("a"), nil, errors.New("b"))
	assert.Equal(t, "errors", attr.Key)
	assert.Len(t, attr.Value.Group(), 2)

	assert.Empty(t, logger.Errors(nil, nil).Key)
}

func TestDomainAttrs(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "user_id", logger.UserID("u1").Key)
	assert.Equal(t, "transaction_id", logger.TransactionID("tx1").Key)
	assert.Equal(t, "event_type", logger.EventType("DID_RENEW").Key)
	assert.Equal(t, "retry_count", logger.RetryCount(2).Key)
}
