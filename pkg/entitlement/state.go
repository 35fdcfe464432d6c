package entitlement

import "time"

// Status represents the lifecycle phase of a subscription.
type Status string

const (
	StatusNone      Status = "none"
	StatusActive    Status = "active"
	StatusTrial     Status = "trial"
	StatusGrace     Status = "grace" // failed renewal, access preserved while billing retries
	StatusExpired   Status = "expired"
	StatusCancelled Status = "cancelled" // access continues until the expiration date passes
)

// Source identifies where a state update originated. Server-derived state
// always outranks client-reported state during conflict resolution.
type Source string

const (
	SourceClient Source = "client"
	SourceServer Source = "server"
)

// StalenessThreshold is how long a state is trusted before callers should
// revalidate. Stale state is not invalid; it only needs a refresh.
const StalenessThreshold = 15 * time.Minute

// State is an immutable snapshot of a user's subscription entitlement.
// Transitions always produce a new State value, never mutate in place.
type State struct {
	Tier                Tier       `json:"tier"`
	Status              Status     `json:"status"`
	ProductID           string     `json:"product_id,omitempty"`
	TransactionID       string     `json:"transaction_id,omitempty"`
	ExpirationDate      *time.Time `json:"expiration_date,omitempty"`
	TrialExpirationDate *time.Time `json:"trial_expiration_date,omitempty"`
	GracePeriodEndDate  *time.Time `json:"grace_period_end_date,omitempty"`
	AutoRenewalEnabled  bool       `json:"auto_renewal_enabled"`
	LastUpdated         time.Time  `json:"last_updated"`
	ValidationSource    Source     `json:"validation_source"`
	ReceiptHash         string     `json:"receipt_hash,omitempty"`
}

// NonSubscribed returns the default state for a user with no subscription.
func NonSubscribed(now time.Time) State {
	return State{
		Tier:             TierNone,
		Status:           StatusNone,
		LastUpdated:      now.UTC(),
		ValidationSource: SourceClient,
	}
}

// HasActiveAccessAt reports whether the state grants access to paid features
// at the given instant. Grace status keeps access through the grace window;
// cancelled subscriptions keep access until the already-paid period ends.
func (s State) HasActiveAccessAt(now time.Time) bool {
	switch s.Status {
	case StatusActive, StatusTrial:
		return s.ExpirationDate == nil || now.Before(*s.ExpirationDate)
	case StatusGrace:
		if s.GracePeriodEndDate != nil {
			return now.Before(*s.GracePeriodEndDate)
		}
		return s.ExpirationDate == nil || now.Before(*s.ExpirationDate)
	case StatusCancelled:
		return s.ExpirationDate != nil && now.Before(*s.ExpirationDate)
	default:
		return false
	}
}

// IsStaleAt reports whether the state exceeded the staleness threshold and
// should be revalidated against the server.
func (s State) IsStaleAt(now time.Time) bool {
	return now.Sub(s.LastUpdated) > StalenessThreshold
}

// Expired returns a terminal expired state derived from s. The expiration
// date is kept for display; tier and auto-renewal are cleared.
func (s State) Expired(now time.Time) State {
	next := s
	next.Tier = TierNone
	next.Status = StatusExpired
	next.AutoRenewalEnabled = false
	next.GracePeriodEndDate = nil
	next.LastUpdated = now.UTC()
	return next
}

// Validated returns a copy of s stamped with a fresh timestamp and the given
// validation source.
func (s State) Validated(source Source, now time.Time) State {
	next := s
	next.ValidationSource = source
	next.LastUpdated = now.UTC()
	return next
}

// Normalize enforces the tier invariant: terminal statuses carry no tier.
// Cancelled keeps its tier because access continues until the paid period ends.
func (s State) Normalize() State {
	switch s.Status {
	case StatusNone, StatusExpired:
		s.Tier = TierNone
	}
	return s
}

// Supersedes reports whether s may replace current under the conflict rule:
// server-sourced state always wins over client-sourced state, and within the
// same source the newer LastUpdated timestamp wins.
func (s State) Supersedes(current State) bool {
	if s.ValidationSource == SourceServer && current.ValidationSource != SourceServer {
		return true
	}
	if s.ValidationSource != SourceServer && current.ValidationSource == SourceServer {
		return false
	}
	return !s.LastUpdated.Before(current.LastUpdated)
}
