package entitlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Manager is the authoritative holder of per-user entitlement state. All
// transitions go through it so that a validation result and a concurrently
// arriving webhook for the same user cannot interleave into an inconsistent
// state: writes are serialized per user ID.
type Manager struct {
	store Store
	audit AuditLogger
	log   *slog.Logger
	now   func() time.Time

	mu    sync.Mutex
	locks map[string]*userLock
}

// userLock is a refcounted per-user mutex. The refcount lets the manager drop
// the map entry once the last holder releases, keeping the lock table bounded
// by the number of in-flight writes rather than by the number of users ever
// seen.
type userLock struct {
	mu   sync.Mutex
	refs int
}

// ManagerOption configures optional Manager settings.
type ManagerOption func(*Manager)

// WithAuditLogger enables append-only transition logging.
func WithAuditLogger(a AuditLogger) ManagerOption {
	return func(m *Manager) { m.audit = a }
}

// WithLogger sets the structured logger.
func WithLogger(log *slog.Logger) ManagerOption {
	return func(m *Manager) {
		if log != nil {
			m.log = log
		}
	}
}

// WithClock overrides the time source, primarily for tests.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewManager creates a state manager backed by the given store.
// Panics on a nil store to fail fast during initialization.
func NewManager(store Store, opts ...ManagerOption) *Manager {
	if store == nil {
		panic("entitlement: Store is required")
	}

	m := &Manager{
		store: store,
		log:   slog.Default(),
		now:   time.Now,
		locks: make(map[string]*userLock),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// lockUser acquires the write lock serializing updates for a single user and
// returns the release function.
func (m *Manager) lockUser(userID string) func() {
	m.mu.Lock()
	lock, ok := m.locks[userID]
	if !ok {
		lock = &userLock{}
		m.locks[userID] = lock
	}
	lock.refs++
	m.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()

		m.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(m.locks, userID)
		}
		m.mu.Unlock()
	}
}

// CurrentState returns the persisted state for a user, or the default
// non-subscribed state when none exists yet.
func (m *Manager) CurrentState(ctx context.Context, userID string) (State, error) {
	if userID == "" {
		return State{}, ErrMissingUserID
	}

	state, err := m.store.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrStateNotFound) {
			return NonSubscribed(m.now()), nil
		}
		return State{}, fmt.Errorf("load entitlement state: %w", err)
	}
	return state, nil
}

// HasActiveAccess reports whether the user currently holds access to paid
// features. Stale state still counts; staleness only signals revalidation.
func (m *Manager) HasActiveAccess(ctx context.Context, userID string) (bool, error) {
	state, err := m.CurrentState(ctx, userID)
	if err != nil {
		return false, err
	}
	return state.HasActiveAccessAt(m.now()), nil
}

// ApplyValidation reconciles a receipt validation result into the stored
// state and returns the state that is authoritative afterwards.
//
// A transient upstream failure never downgrades a user who already holds a
// server-confirmed state: only a definitive rejection (ErrReceiptRejected)
// applies the failure; all other errors keep the last known good state.
func (m *Manager) ApplyValidation(ctx context.Context, userID string, result ValidationResult) (State, error) {
	if userID == "" {
		return State{}, ErrMissingUserID
	}

	unlock := m.lockUser(userID)
	defer unlock()

	current, err := m.CurrentState(ctx, userID)
	if err != nil {
		return State{}, err
	}

	switch {
	case result.Valid:
		incoming := result.State.Normalize()
		if !incoming.Supersedes(current) {
			return current, nil
		}
		if err := m.persist(ctx, userID, incoming, "validation"); err != nil {
			return State{}, err
		}
		return incoming, nil

	case errors.Is(result.Err, ErrReceiptRejected):
		// The server authoritatively rejected the receipt.
		incoming := result.State.Normalize()
		incoming.ValidationSource = SourceServer
		if incoming.LastUpdated.IsZero() {
			incoming.LastUpdated = m.now().UTC()
		}
		if err := m.persist(ctx, userID, incoming, "validation_rejected"); err != nil {
			return State{}, err
		}
		return incoming, nil

	default:
		// Unreachable upstream, circuit open, budget exhausted: keep the
		// last known good state so an outage never revokes access.
		m.log.WarnContext(ctx, "keeping last known entitlement state after validation failure",
			"user_id", userID, "error", result.Err)
		return current, nil
	}
}

// ApplyWebhook applies a server-notification-derived state transition. The
// incoming state is stamped as server-sourced and persisted if it supersedes
// the current state.
func (m *Manager) ApplyWebhook(ctx context.Context, userID string, incoming State) (State, error) {
	if userID == "" {
		return State{}, ErrMissingUserID
	}

	unlock := m.lockUser(userID)
	defer unlock()

	current, err := m.CurrentState(ctx, userID)
	if err != nil {
		return State{}, err
	}

	incoming.ValidationSource = SourceServer
	if incoming.LastUpdated.IsZero() {
		incoming.LastUpdated = m.now().UTC()
	}
	incoming = incoming.Normalize()

	if !incoming.Supersedes(current) {
		return current, nil
	}

	if err := m.persist(ctx, userID, incoming, "webhook"); err != nil {
		return State{}, err
	}
	return incoming, nil
}

func (m *Manager) persist(ctx context.Context, userID string, state State, event string) error {
	if err := m.store.Save(ctx, userID, state); err != nil {
		return fmt.Errorf("save entitlement state: %w", err)
	}

	if m.audit != nil {
		entry := AuditEntry{
			ID:            uuid.New().String(),
			UserID:        userID,
			Event:         event,
			Tier:          state.Tier,
			Status:        state.Status,
			Source:        state.ValidationSource,
			TransactionID: state.TransactionID,
			RecordedAt:    m.now().UTC(),
		}
		if err := m.audit.Record(ctx, entry); err != nil {
			m.log.WarnContext(ctx, "failed to record audit entry",
				"user_id", userID, "event", event, "error", err)
		}
	}
	return nil
}
