package subscription

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/dmitrymomot/entitlements/pkg/async"
	"github.com/dmitrymomot/entitlements/pkg/breaker"
	"github.com/dmitrymomot/entitlements/pkg/entitlement"
	"github.com/dmitrymomot/entitlements/pkg/metrics"
	"github.com/dmitrymomot/entitlements/pkg/notification"
	"github.com/dmitrymomot/entitlements/pkg/receipt"
)

// ErrValidationPending signals that the upstream verification is still
// running; the caller gets the last known state and should poll again.
var ErrValidationPending = errors.New("subscription: validation still in progress")

// Config holds service-level settings.
type Config struct {
	// SyncWait bounds how long a validation request blocks before the work
	// continues in the background and the caller is answered with 202.
	SyncWait time.Duration `env:"VALIDATION_SYNC_WAIT" envDefault:"5s"`
}

// Service is the subscription entitlement facade: it validates receipts,
// applies store notifications and answers entitlement queries, recording
// operational and business metrics along the way.
type Service struct {
	validator *receipt.Validator
	manager   *entitlement.Manager
	processor *notification.Processor
	collector *metrics.Collector
	recorder  *metrics.Recorder
	breaker   *breaker.CircuitBreaker
	syncWait  time.Duration
	log       *slog.Logger
}

// ServiceOption configures optional service settings.
type ServiceOption func(*Service)

// WithMetrics attaches the metrics recorder and collector.
func WithMetrics(rec *metrics.Recorder, col *metrics.Collector) ServiceOption {
	return func(s *Service) {
		s.recorder = rec
		s.collector = col
	}
}

// WithBreaker lets the service publish the circuit state gauge.
func WithBreaker(cb *breaker.CircuitBreaker) ServiceOption {
	return func(s *Service) { s.breaker = cb }
}

// WithSyncWait overrides the synchronous validation wait.
func WithSyncWait(d time.Duration) ServiceOption {
	return func(s *Service) {
		if d > 0 {
			s.syncWait = d
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(log *slog.Logger) ServiceOption {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

// NewService creates the entitlement service. Panics on nil required
// dependencies.
func NewService(validator *receipt.Validator, manager *entitlement.Manager, processor *notification.Processor, opts ...ServiceOption) *Service {
	if validator == nil {
		panic("subscription: validator is required")
	}
	if manager == nil {
		panic("subscription: manager is required")
	}
	if processor == nil {
		panic("subscription: processor is required")
	}

	s := &Service{
		validator: validator,
		manager:   manager,
		processor: processor,
		syncWait:  5 * time.Second,
		log:       slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ValidationOutcome is what a validation request returns to the API layer.
type ValidationOutcome struct {
	State   entitlement.State
	Source  entitlement.ResultSource
	Pending bool
}

// ValidateReceipt validates receipt data for a user and reconciles the result
// into the stored entitlement. When the upstream is slow the work continues in
// the background and the last known state is returned with ErrValidationPending.
func (s *Service) ValidateReceipt(ctx context.Context, userID, receiptData string) (ValidationOutcome, error) {
	before, err := s.manager.CurrentState(ctx, userID)
	if err != nil {
		return ValidationOutcome{}, err
	}

	type validationInput struct {
		userID      string
		receiptData string
	}
	type validationDone struct {
		applied entitlement.State
		source  entitlement.ResultSource
	}

	// Detached from the request context so an impatient caller does not
	// cancel the upstream verification mid-flight.
	future := async.Async(context.WithoutCancel(ctx), validationInput{userID, receiptData},
		func(ctx context.Context, in validationInput) (validationDone, error) {
			result, _ := s.validator.Validate(ctx, in.userID, in.receiptData)
			s.recordValidation(before, result)

			applied, err := s.manager.ApplyValidation(ctx, in.userID, result)
			if err != nil {
				return validationDone{}, err
			}
			done := validationDone{applied: applied, source: result.Source}
			if result.Err != nil && !result.Valid {
				return done, result.Err
			}
			return done, nil
		})

	done, err := future.AwaitWithTimeout(s.syncWait)
	if errors.Is(err, async.ErrTimeout) {
		s.log.InfoContext(ctx, "validation continues in background",
			"user_id", userID, "sync_wait", s.syncWait)
		go func() {
			if _, err := future.Await(); err != nil {
				s.log.WarnContext(context.Background(), "background validation failed",
					"user_id", userID, "error", err)
			}
		}()
		return ValidationOutcome{State: before, Pending: true}, ErrValidationPending
	}
	if err != nil {
		return ValidationOutcome{State: done.applied, Source: done.source}, err
	}
	return ValidationOutcome{State: done.applied, Source: done.source}, nil
}

// CurrentState returns the stored entitlement for a user.
func (s *Service) CurrentState(ctx context.Context, userID string) (entitlement.State, error) {
	return s.manager.CurrentState(ctx, userID)
}

// HasActiveAccess reports whether the user holds access to paid features.
func (s *Service) HasActiveAccess(ctx context.Context, userID string) (bool, error) {
	return s.manager.HasActiveAccess(ctx, userID)
}

// HandleNotification verifies and applies a raw store notification.
func (s *Service) HandleNotification(ctx context.Context, payload []byte, headers notification.SignatureHeaders) error {
	update, decodeErr := notification.Decode(payload)

	_, disposition, err := s.processor.ProcessSigned(ctx, payload, headers)
	if err != nil {
		if s.recorder != nil && decodeErr == nil {
			s.recorder.WebhookEvent(string(update.EventType), metrics.OutcomeRejected)
		}
		return err
	}

	if s.recorder != nil && decodeErr == nil {
		outcome := metrics.OutcomeApplied
		switch disposition {
		case notification.DispositionDuplicate:
			outcome = metrics.OutcomeDuplicate
		case notification.DispositionNoop:
			outcome = metrics.OutcomeNoop
		}
		s.recorder.WebhookEvent(string(update.EventType), outcome)
	}
	if disposition == notification.DispositionApplied {
		s.recordNotification(update)
	}
	return nil
}

// MetricsSnapshot returns the current business metrics view.
func (s *Service) MetricsSnapshot(ctx context.Context) (metrics.Snapshot, error) {
	if s.collector == nil {
		return metrics.Snapshot{}, errors.New("subscription: metrics collector not configured")
	}
	return s.collector.Snapshot(ctx)
}

func (s *Service) recordValidation(before entitlement.State, result entitlement.ValidationResult) {
	if s.recorder != nil {
		outcome := metrics.OutcomeError
		switch {
		case result.Valid:
			outcome = metrics.OutcomeValid
		case errors.Is(result.Err, entitlement.ErrReceiptRejected):
			outcome = metrics.OutcomeInvalid
		}
		s.recorder.Validation(outcome, string(result.Source))

		if s.breaker != nil {
			s.recorder.BreakerState(s.breaker.State().String())
		}
	}

	if s.collector == nil || result.Source != entitlement.ResultSourceServer {
		return
	}
	if result.Valid || errors.Is(result.Err, entitlement.ErrReceiptRejected) {
		s.collector.RecordTransaction(result.Valid)
	}
	if !result.Valid {
		return
	}

	switch {
	case result.State.Status == entitlement.StatusTrial && before.Status != entitlement.StatusTrial:
		s.collector.RecordTrialStart()
	case result.State.Status == entitlement.StatusActive && before.Status == entitlement.StatusTrial:
		s.collector.RecordTrialConversion()
	}
}

func (s *Service) recordNotification(update notification.Update) {
	if s.collector == nil {
		return
	}

	switch update.EventType {
	case notification.EventCancel, notification.EventRefund, notification.EventRevoke,
		notification.EventExpired, notification.EventGracePeriodExpired:
		s.collector.RecordCancellation()
	case notification.EventDidRenew, notification.EventSubscribed:
		s.collector.RecordTransaction(true)
	case notification.EventDidFailToRenew:
		s.collector.RecordTransaction(false)
	}
}
