package subscription

import (
	"context"
	"sync"

	"github.com/dmitrymomot/entitlements/pkg/entitlement"
)

// MemoryStore keeps entitlement state, transaction ownership and the audit
// trail in process memory. It backs single-instance deployments and tests;
// production uses PGStore.
type MemoryStore struct {
	mu     sync.RWMutex
	states map[string]entitlement.State
	owners map[string]string // transaction ID -> user ID
	audit  []entitlement.AuditEntry
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		states: make(map[string]entitlement.State),
		owners: make(map[string]string),
	}
}

// Get implements entitlement.Store.
func (s *MemoryStore) Get(_ context.Context, userID string) (entitlement.State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, ok := s.states[userID]
	if !ok {
		return entitlement.State{}, entitlement.ErrStateNotFound
	}
	return state, nil
}

// Save implements entitlement.Store. Transaction ownership is tracked so
// webhook events can be routed back to the user.
func (s *MemoryStore) Save(_ context.Context, userID string, state entitlement.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.states[userID] = state
	if state.TransactionID != "" {
		s.owners[state.TransactionID] = userID
	}
	return nil
}

// UserByTransaction implements notification.UserResolver.
func (s *MemoryStore) UserByTransaction(_ context.Context, originalTransactionID, transactionID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if userID, ok := s.owners[originalTransactionID]; ok {
		return userID, nil
	}
	if userID, ok := s.owners[transactionID]; ok {
		return userID, nil
	}
	return "", entitlement.ErrStateNotFound
}

// LinkTransaction registers transaction ownership ahead of any state write,
// e.g. when the purchase flow reports the transaction before validation.
func (s *MemoryStore) LinkTransaction(transactionID, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.owners[transactionID] = userID
}

// ListStates implements metrics.StateLister.
func (s *MemoryStore) ListStates(_ context.Context) ([]entitlement.UserState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]entitlement.UserState, 0, len(s.states))
	for userID, state := range s.states {
		out = append(out, entitlement.UserState{UserID: userID, State: state})
	}
	return out, nil
}

// Record implements entitlement.AuditLogger.
func (s *MemoryStore) Record(_ context.Context, entry entitlement.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audit = append(s.audit, entry)
	return nil
}

// AuditTrail returns a copy of the recorded audit entries.
func (s *MemoryStore) AuditTrail() []entitlement.AuditEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]entitlement.AuditEntry, len(s.audit))
	copy(out, s.audit)
	return out
}
