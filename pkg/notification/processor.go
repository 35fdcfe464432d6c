package notification

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dmitrymomot/entitlements/pkg/entitlement"
)

// UserResolver maps a store transaction to the owning user account.
type UserResolver interface {
	UserByTransaction(ctx context.Context, originalTransactionID, transactionID string) (string, error)
}

// StateApplier is the slice of the entitlement manager the processor needs.
type StateApplier interface {
	CurrentState(ctx context.Context, userID string) (entitlement.State, error)
	ApplyWebhook(ctx context.Context, userID string, incoming entitlement.State) (entitlement.State, error)
}

// Disposition classifies how a notification was handled.
type Disposition string

const (
	// DispositionApplied means the event changed the stored entitlement.
	DispositionApplied Disposition = "applied"
	// DispositionDuplicate means the event was already processed earlier.
	DispositionDuplicate Disposition = "duplicate"
	// DispositionNoop means the event required no state change.
	DispositionNoop Disposition = "noop"
)

// Processor turns store notifications into entitlement transitions. Every
// event is deduplicated before it reaches the manager, so redelivered
// notifications acknowledge without applying twice. The dedup claim is
// released when the apply fails, so the store's redelivery retries the
// transition instead of losing it.
type Processor struct {
	manager  StateApplier
	users    UserResolver
	dedup    DedupStore
	verifier *Verifier
	catalog  *entitlement.Catalog
	log      *slog.Logger
	now      func() time.Time
}

// ProcessorOption configures optional processor settings.
type ProcessorOption func(*Processor)

// WithVerifier enables signature verification for ProcessSigned.
func WithVerifier(v *Verifier) ProcessorOption {
	return func(p *Processor) { p.verifier = v }
}

// WithCatalog sets the product catalog used to resolve tiers.
func WithCatalog(c *entitlement.Catalog) ProcessorOption {
	return func(p *Processor) { p.catalog = c }
}

// WithLogger sets the structured logger.
func WithLogger(log *slog.Logger) ProcessorOption {
	return func(p *Processor) {
		if log != nil {
			p.log = log
		}
	}
}

// WithClock injects the time source for tests.
func WithClock(now func() time.Time) ProcessorOption {
	return func(p *Processor) {
		if now != nil {
			p.now = now
		}
	}
}

// NewProcessor creates a notification processor. Panics on nil required
// dependencies.
func NewProcessor(manager StateApplier, users UserResolver, dedup DedupStore, opts ...ProcessorOption) *Processor {
	if manager == nil {
		panic("notification: state applier is required")
	}
	if users == nil {
		panic("notification: user resolver is required")
	}
	if dedup == nil {
		panic("notification: dedup store is required")
	}

	p := &Processor{
		manager: manager,
		users:   users,
		dedup:   dedup,
		log:     slog.New(slog.DiscardHandler),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ProcessSigned verifies, decodes and applies a raw notification request
// body. Requires a verifier to be configured.
func (p *Processor) ProcessSigned(ctx context.Context, payload []byte, headers SignatureHeaders) (entitlement.State, Disposition, error) {
	if p.verifier == nil {
		panic("notification: verifier is required for signed processing")
	}
	if err := p.verifier.Verify(payload, headers); err != nil {
		return entitlement.State{}, "", err
	}

	update, err := Decode(payload)
	if err != nil {
		return entitlement.State{}, "", err
	}
	return p.Process(ctx, update)
}

// Process applies a decoded update to the owning user's entitlement. A
// duplicate event returns the current state unchanged; an unknown event type
// is acknowledged as a no-op so new store event types never break delivery.
// An event is marked as seen only once its transition is persisted; a failed
// apply releases the mark so redelivery gets another attempt.
func (p *Processor) Process(ctx context.Context, update Update) (entitlement.State, Disposition, error) {
	userID, err := p.users.UserByTransaction(ctx, update.OriginalTransactionID, update.TransactionID)
	if err != nil {
		return entitlement.State{}, "", fmt.Errorf("%w: %w", ErrUnknownUser, err)
	}

	current, err := p.manager.CurrentState(ctx, userID)
	if err != nil {
		return entitlement.State{}, "", err
	}

	seen, err := p.dedup.CheckAndMark(ctx, update.DedupKey())
	if err != nil {
		return entitlement.State{}, "", fmt.Errorf("notification: dedup: %w", err)
	}
	if seen {
		p.log.InfoContext(ctx, "duplicate notification ignored",
			"user_id", userID, "event", update.EventType, "transaction_id", update.TransactionID)
		return current, DispositionDuplicate, nil
	}

	next, apply := p.transition(current, update)
	if !apply {
		p.log.InfoContext(ctx, "notification acknowledged without transition",
			"user_id", userID, "event", update.EventType)
		return current, DispositionNoop, nil
	}

	applied, err := p.manager.ApplyWebhook(ctx, userID, next)
	if err != nil {
		if unmarkErr := p.dedup.Unmark(ctx, update.DedupKey()); unmarkErr != nil {
			p.log.ErrorContext(ctx, "failed to release dedup claim, event may be lost",
				"user_id", userID, "event", update.EventType, "error", unmarkErr)
		}
		return entitlement.State{}, "", err
	}

	p.log.InfoContext(ctx, "notification applied",
		"user_id", userID, "event", update.EventType,
		"tier", applied.Tier, "status", applied.Status)
	return applied, DispositionApplied, nil
}

// transition computes the state an event produces. The second return value is
// false when the event requires no change.
func (p *Processor) transition(current entitlement.State, update Update) (entitlement.State, bool) {
	now := p.now()

	next := current
	if update.ProductID != "" {
		next.ProductID = update.ProductID
		next.Tier = p.catalog.TierFor(update.ProductID)
	}
	if update.TransactionID != "" {
		next.TransactionID = update.TransactionID
	}
	if update.ExpirationDate != nil {
		exp := *update.ExpirationDate
		next.ExpirationDate = &exp
	}
	next.LastUpdated = now.UTC()

	switch update.EventType {
	case EventSubscribed, EventDidRenew, EventOfferRedeemed:
		next.Status = entitlement.StatusActive
		next.GracePeriodEndDate = nil
		next.AutoRenewalEnabled = true
		return next, true

	case EventCancel:
		// Auto-renew turned off; access continues until the paid period ends.
		next.Status = entitlement.StatusCancelled
		next.AutoRenewalEnabled = false
		return next, true

	case EventDidFailToRenew:
		// Billing retry window: the tier is preserved while the store retries.
		next.Status = entitlement.StatusGrace
		if update.GracePeriodEndDate != nil {
			end := *update.GracePeriodEndDate
			next.GracePeriodEndDate = &end
		}
		return next, true

	case EventExpired, EventGracePeriodExpired:
		return next.Expired(now), true

	case EventRefund, EventRevoke:
		// Money returned or family-sharing access revoked: cut access now.
		cutoff := now.UTC()
		next.Status = entitlement.StatusCancelled
		next.Tier = entitlement.TierNone
		next.ExpirationDate = &cutoff
		next.GracePeriodEndDate = nil
		next.AutoRenewalEnabled = false
		return next, true

	case EventDidChangeRenewalStatus:
		if update.AutoRenewalEnabled == nil {
			return current, false
		}
		next = current
		next.AutoRenewalEnabled = *update.AutoRenewalEnabled
		next.LastUpdated = now.UTC()
		return next, true

	default:
		return current, false
	}
}
