package subscription

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/entitlements/pkg/entitlement"
	"github.com/dmitrymomot/entitlements/pkg/pg"
)

// PGStore persists entitlement state, transaction ownership and the audit
// trail in PostgreSQL. The upsert re-checks the source precedence rule so
// concurrent writers on different service instances cannot let client-sourced
// state overwrite a server-confirmed row.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore creates a store over the given connection pool.
// Panics on a nil pool.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	if pool == nil {
		panic("subscription: pgx pool is required")
	}
	return &PGStore{pool: pool}
}

// Get implements entitlement.Store.
func (s *PGStore) Get(ctx context.Context, userID string) (entitlement.State, error) {
	const q = `
		SELECT tier, status, product_id, transaction_id,
		       expiration_date, trial_expiration_date, grace_period_end_date,
		       auto_renewal_enabled, last_updated, validation_source, receipt_hash
		FROM entitlements
		WHERE user_id = $1`

	var state entitlement.State
	err := s.pool.QueryRow(ctx, q, userID).Scan(
		&state.Tier, &state.Status, &state.ProductID, &state.TransactionID,
		&state.ExpirationDate, &state.TrialExpirationDate, &state.GracePeriodEndDate,
		&state.AutoRenewalEnabled, &state.LastUpdated, &state.ValidationSource, &state.ReceiptHash,
	)
	if err != nil {
		if pg.IsNotFoundError(err) {
			return entitlement.State{}, entitlement.ErrStateNotFound
		}
		return entitlement.State{}, fmt.Errorf("query entitlement: %w", err)
	}
	return state, nil
}

// Save implements entitlement.Store.
func (s *PGStore) Save(ctx context.Context, userID string, state entitlement.State) error {
	const q = `
		INSERT INTO entitlements (
			user_id, tier, status, product_id, transaction_id,
			expiration_date, trial_expiration_date, grace_period_end_date,
			auto_renewal_enabled, last_updated, validation_source, receipt_hash
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (user_id) DO UPDATE SET
			tier = excluded.tier,
			status = excluded.status,
			product_id = excluded.product_id,
			transaction_id = excluded.transaction_id,
			expiration_date = excluded.expiration_date,
			trial_expiration_date = excluded.trial_expiration_date,
			grace_period_end_date = excluded.grace_period_end_date,
			auto_renewal_enabled = excluded.auto_renewal_enabled,
			last_updated = excluded.last_updated,
			validation_source = excluded.validation_source,
			receipt_hash = excluded.receipt_hash
		WHERE (excluded.validation_source = 'server' AND entitlements.validation_source = 'client')
		   OR (excluded.validation_source = entitlements.validation_source
		       AND excluded.last_updated >= entitlements.last_updated)`

	if _, err := s.pool.Exec(ctx, q,
		userID, state.Tier, state.Status, state.ProductID, state.TransactionID,
		state.ExpirationDate, state.TrialExpirationDate, state.GracePeriodEndDate,
		state.AutoRenewalEnabled, state.LastUpdated, state.ValidationSource, state.ReceiptHash,
	); err != nil {
		return fmt.Errorf("upsert entitlement: %w", err)
	}

	if state.TransactionID != "" {
		if err := s.linkTransaction(ctx, state.TransactionID, userID); err != nil {
			return err
		}
	}
	return nil
}

func (s *PGStore) linkTransaction(ctx context.Context, transactionID, userID string) error {
	const q = `
		INSERT INTO transaction_owners (transaction_id, user_id)
		VALUES ($1, $2)
		ON CONFLICT (transaction_id) DO NOTHING`

	if _, err := s.pool.Exec(ctx, q, transactionID, userID); err != nil {
		return fmt.Errorf("link transaction owner: %w", err)
	}
	return nil
}

// UserByTransaction implements notification.UserResolver. The original
// transaction ID identifies the subscription across renewals, so it is
// checked first.
func (s *PGStore) UserByTransaction(ctx context.Context, originalTransactionID, transactionID string) (string, error) {
	const q = `SELECT user_id FROM transaction_owners WHERE transaction_id = $1`

	for _, id := range []string{originalTransactionID, transactionID} {
		if id == "" {
			continue
		}
		var userID string
		err := s.pool.QueryRow(ctx, q, id).Scan(&userID)
		if err == nil {
			return userID, nil
		}
		if !pg.IsNotFoundError(err) {
			return "", fmt.Errorf("query transaction owner: %w", err)
		}
	}
	return "", entitlement.ErrStateNotFound
}

// ListStates implements metrics.StateLister.
func (s *PGStore) ListStates(ctx context.Context) ([]entitlement.UserState, error) {
	const q = `
		SELECT user_id, tier, status, product_id, transaction_id,
		       expiration_date, trial_expiration_date, grace_period_end_date,
		       auto_renewal_enabled, last_updated, validation_source, receipt_hash
		FROM entitlements`

	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list entitlements: %w", err)
	}
	defer rows.Close()

	var out []entitlement.UserState
	for rows.Next() {
		var us entitlement.UserState
		if err := rows.Scan(
			&us.UserID, &us.State.Tier, &us.State.Status, &us.State.ProductID, &us.State.TransactionID,
			&us.State.ExpirationDate, &us.State.TrialExpirationDate, &us.State.GracePeriodEndDate,
			&us.State.AutoRenewalEnabled, &us.State.LastUpdated, &us.State.ValidationSource, &us.State.ReceiptHash,
		); err != nil {
			return nil, fmt.Errorf("scan entitlement: %w", err)
		}
		out = append(out, us)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entitlements: %w", err)
	}
	return out, nil
}

// Record implements entitlement.AuditLogger.
func (s *PGStore) Record(ctx context.Context, entry entitlement.AuditEntry) error {
	const q = `
		INSERT INTO validation_log (
			id, user_id, event, tier, status, source, transaction_id, recorded_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	if _, err := s.pool.Exec(ctx, q,
		entry.ID, entry.UserID, entry.Event, entry.Tier, entry.Status,
		entry.Source, entry.TransactionID, entry.RecordedAt,
	); err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// AuditTrail returns the most recent audit entries for a user, newest first.
func (s *PGStore) AuditTrail(ctx context.Context, userID string, limit int) ([]entitlement.AuditEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	const q = `
		SELECT id, user_id, event, tier, status, source, transaction_id, recorded_at
		FROM validation_log
		WHERE user_id = $1
		ORDER BY recorded_at DESC
		LIMIT $2`

	rows, err := s.pool.Query(ctx, q, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit trail: %w", err)
	}
	defer rows.Close()

	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (entitlement.AuditEntry, error) {
		var e entitlement.AuditEntry
		err := row.Scan(&e.ID, &e.UserID, &e.Event, &e.Tier, &e.Status, &e.Source, &e.TransactionID, &e.RecordedAt)
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("collect audit trail: %w", err)
	}
	return entries, nil
}
