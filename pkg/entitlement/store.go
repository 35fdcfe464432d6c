package entitlement

import (
	"context"
	"time"
)

// Store persists per-user entitlement state. Implementations must return
// ErrStateNotFound when no state exists for the user.
type Store interface {
	Get(ctx context.Context, userID string) (State, error)
	Save(ctx context.Context, userID string, state State) error
}

// UserState pairs a state with its owning user, used for aggregation.
type UserState struct {
	UserID string
	State  State
}

// AuditEntry is one row of the append-only validation log.
type AuditEntry struct {
	ID            string    `json:"id"`
	UserID        string    `json:"user_id"`
	Event         string    `json:"event"`
	Tier          Tier      `json:"tier"`
	Status        Status    `json:"status"`
	Source        Source    `json:"source"`
	TransactionID string    `json:"transaction_id,omitempty"`
	RecordedAt    time.Time `json:"recorded_at"`
}

// AuditLogger records applied transitions for audit purposes. Logging
// failures must not block state updates; implementations should be cheap.
type AuditLogger interface {
	Record(ctx context.Context, entry AuditEntry) error
}
