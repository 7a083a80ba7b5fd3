package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// BillingRepository answers subscription and quota questions. Plan data is
// owned by the billing subsystem; this is a read-only view over its tables.
type BillingRepository struct {
	db *sqlx.DB
}

// NewBillingRepository constructs the repository.
func NewBillingRepository(db *sqlx.DB) *BillingRepository {
	return &BillingRepository{db: db}
}

// IsSubscriptionActive reports whether the user has an active subscription.
// A user without any subscription row is treated as inactive.
func (r *BillingRepository) IsSubscriptionActive(ctx context.Context, userID uuid.UUID) (bool, error) {
	row := r.db.QueryRowxContext(ctx,
		`SELECT status FROM subscriptions
		 WHERE user_id = $1
		 ORDER BY created_at DESC
		 LIMIT 1`, userID)

	var status string
	if err := row.Scan(&status); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("billing repo: subscription status: %w", err)
	}
	return status == "active" || status == "trialing", nil
}

// HasQuotaRemaining reports whether the user's call usage is below the plan
// allowance for the current billing period.
func (r *BillingRepository) HasQuotaRemaining(ctx context.Context, userID uuid.UUID) (bool, error) {
	row := r.db.QueryRowxContext(ctx,
		`SELECT u.calls_used < s.call_allowance
		 FROM subscriptions s
		 JOIN usage_counters u ON u.subscription_id = s.id
		 WHERE s.user_id = $1 AND u.period_start <= NOW() AND u.period_end > NOW()
		 ORDER BY s.created_at DESC
		 LIMIT 1`, userID)

	var remaining bool
	if err := row.Scan(&remaining); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// No usage row yet this period means nothing consumed.
			return true, nil
		}
		return false, fmt.Errorf("billing repo: quota: %w", err)
	}
	return remaining, nil
}
