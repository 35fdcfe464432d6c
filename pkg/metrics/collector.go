package metrics

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/dmitrymomot/entitlements/pkg/entitlement"
)

// StateLister provides the current entitlement state of every known user.
type StateLister interface {
	ListStates(ctx context.Context) ([]entitlement.UserState, error)
}

// Pricing maps product IDs to their list price per billing period. Yearly
// prices are divided by twelve when computing monthly recurring revenue.
type Pricing map[string]float64

// Collector aggregates subscription business metrics: active counts, revenue,
// conversion and churn rates. Counter updates are lock-free; snapshots read a
// consistent view of the state store on demand.
type Collector struct {
	states  StateLister
	catalog *entitlement.Catalog
	pricing Pricing
	log     *slog.Logger
	now     func() time.Time

	transactionAttempts  atomic.Int64
	transactionSuccesses atomic.Int64
	trialStarts          atomic.Int64
	trialConversions     atomic.Int64
	cancellations        atomic.Int64
}

// CollectorOption configures optional collector settings.
type CollectorOption func(*Collector)

// WithPricing supplies product prices for revenue metrics. Without it the
// revenue section of snapshots stays zero.
func WithPricing(p Pricing) CollectorOption {
	return func(c *Collector) { c.pricing = p }
}

// WithCatalog sets the catalog used to resolve billing periods.
func WithCatalog(cat *entitlement.Catalog) CollectorOption {
	return func(c *Collector) { c.catalog = cat }
}

// WithLogger sets the structured logger.
func WithLogger(log *slog.Logger) CollectorOption {
	return func(c *Collector) {
		if log != nil {
			c.log = log
		}
	}
}

// WithClock injects the time source for tests.
func WithClock(now func() time.Time) CollectorOption {
	return func(c *Collector) {
		if now != nil {
			c.now = now
		}
	}
}

// NewCollector creates a metrics collector over the given state source.
// Panics on a nil lister.
func NewCollector(states StateLister, opts ...CollectorOption) *Collector {
	if states == nil {
		panic("metrics: state lister is required")
	}

	c := &Collector{
		states: states,
		log:    slog.New(slog.DiscardHandler),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RecordTransaction counts one purchase or renewal attempt.
func (c *Collector) RecordTransaction(success bool) {
	c.transactionAttempts.Add(1)
	if success {
		c.transactionSuccesses.Add(1)
	}
}

// RecordTrialStart counts one started trial.
func (c *Collector) RecordTrialStart() { c.trialStarts.Add(1) }

// RecordTrialConversion counts one trial that converted to a paid plan.
func (c *Collector) RecordTrialConversion() { c.trialConversions.Add(1) }

// RecordCancellation counts one cancellation, refund or revocation.
func (c *Collector) RecordCancellation() { c.cancellations.Add(1) }

// ActiveSubscriptions breaks down subscriptions that currently grant access.
type ActiveSubscriptions struct {
	Total           int                               `json:"total"`
	ByTier          map[entitlement.Tier]int          `json:"by_tier"`
	ByBillingPeriod map[entitlement.BillingPeriod]int `json:"by_billing_period"`
}

// Transactions summarizes purchase and renewal outcomes since startup.
type Transactions struct {
	Attempts    int64   `json:"attempts"`
	Successes   int64   `json:"successes"`
	SuccessRate float64 `json:"success_rate"`
}

// Revenue holds derived recurring-revenue figures.
type Revenue struct {
	MRR  float64 `json:"mrr"`
	ARR  float64 `json:"arr"`
	ARPU float64 `json:"arpu"`
}

// Conversions summarizes trial funnel performance since startup.
type Conversions struct {
	TrialStarts     int64   `json:"trial_starts"`
	TrialsActive    int     `json:"trials_active"`
	Conversions     int64   `json:"conversions"`
	TrialToPaidRate float64 `json:"trial_to_paid_rate"`
}

// Churn summarizes subscription losses since startup.
type Churn struct {
	Cancellations int64   `json:"cancellations"`
	ChurnRate     float64 `json:"churn_rate"`
}

// Snapshot is a point-in-time view of the subscription business metrics.
type Snapshot struct {
	GeneratedAt         time.Time           `json:"generated_at"`
	ActiveSubscriptions ActiveSubscriptions `json:"active_subscriptions"`
	Transactions        Transactions        `json:"transactions"`
	Revenue             Revenue             `json:"revenue"`
	Conversions         Conversions         `json:"conversions"`
	Churn               Churn               `json:"churn"`
}

// Snapshot computes the current metrics view from the state store and the
// in-process counters.
func (c *Collector) Snapshot(ctx context.Context) (Snapshot, error) {
	states, err := c.states.ListStates(ctx)
	if err != nil {
		return Snapshot{}, err
	}

	now := c.now()
	snap := Snapshot{
		GeneratedAt: now.UTC(),
		ActiveSubscriptions: ActiveSubscriptions{
			ByTier:          make(map[entitlement.Tier]int),
			ByBillingPeriod: make(map[entitlement.BillingPeriod]int),
		},
	}

	var mrr float64
	for _, us := range states {
		state := us.State
		if !state.HasActiveAccessAt(now) {
			continue
		}

		snap.ActiveSubscriptions.Total++
		snap.ActiveSubscriptions.ByTier[state.Tier]++

		period := c.catalog.PeriodFor(state.ProductID)
		snap.ActiveSubscriptions.ByBillingPeriod[period]++

		if state.Status == entitlement.StatusTrial {
			snap.Conversions.TrialsActive++
			continue // trials do not contribute revenue yet
		}

		if price, ok := c.pricing[state.ProductID]; ok {
			switch period {
			case entitlement.BillingPeriodYearly:
				mrr += price / 12
			default:
				mrr += price
			}
		}
	}

	snap.Revenue.MRR = mrr
	snap.Revenue.ARR = mrr * 12
	if paying := snap.ActiveSubscriptions.Total - snap.Conversions.TrialsActive; paying > 0 {
		snap.Revenue.ARPU = mrr / float64(paying)
	}

	snap.Transactions.Attempts = c.transactionAttempts.Load()
	snap.Transactions.Successes = c.transactionSuccesses.Load()
	if snap.Transactions.Attempts > 0 {
		snap.Transactions.SuccessRate = float64(snap.Transactions.Successes) / float64(snap.Transactions.Attempts)
	}

	snap.Conversions.TrialStarts = c.trialStarts.Load()
	snap.Conversions.Conversions = c.trialConversions.Load()
	if snap.Conversions.TrialStarts > 0 {
		snap.Conversions.TrialToPaidRate = float64(snap.Conversions.Conversions) / float64(snap.Conversions.TrialStarts)
	}

	snap.Churn.Cancellations = c.cancellations.Load()
	if base := int64(snap.ActiveSubscriptions.Total) + snap.Churn.Cancellations; base > 0 {
		snap.Churn.ChurnRate = float64(snap.Churn.Cancellations) / float64(base)
	}

	return snap, nil
}

// Run logs a metrics snapshot at the given interval until the context is
// cancelled. Intended to run in its own goroutine.
func (c *Collector) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap, err := c.Snapshot(ctx)
			if err != nil {
				c.log.ErrorContext(ctx, "metrics snapshot failed", "error", err)
				continue
			}
			c.log.InfoContext(ctx, "subscription metrics",
				"active_total", snap.ActiveSubscriptions.Total,
				"mrr", snap.Revenue.MRR,
				"success_rate", snap.Transactions.SuccessRate,
				"trial_to_paid_rate", snap.Conversions.TrialToPaidRate,
				"churn_rate", snap.Churn.ChurnRate)
		}
	}
}
