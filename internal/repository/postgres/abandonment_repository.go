package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/NeoboundAI/Skiddly-sub000/internal/domain"
	"github.com/NeoboundAI/Skiddly-sub000/internal/repository"
)

// AbandonmentRepository implements repository.AbandonmentRepository using
// PostgreSQL. Records are unique on the cart reference.
type AbandonmentRepository struct {
	db *sqlx.DB
}

// NewAbandonmentRepository constructs the repository.
func NewAbandonmentRepository(db *sqlx.DB) *AbandonmentRepository {
	return &AbandonmentRepository{db: db}
}

const abandonmentColumns = `id, cart_id, agent_id, user_id, abandoned_at, total_attempts,
	next_call_time, order_queue_status, is_qualified, not_qualified_reasons,
	is_eligible_for_queue, completed_at, correlation_id, created_at, updated_at`

// Get fetches a record by id.
func (r *AbandonmentRepository) Get(ctx context.Context, id uuid.UUID) (*domain.AbandonmentRecord, error) {
	row := r.db.QueryRowxContext(ctx,
		`SELECT `+abandonmentColumns+` FROM abandonment_records WHERE id = $1`, id)
	return scanAbandonment(row)
}

// GetByCart fetches the record for a cart.
func (r *AbandonmentRepository) GetByCart(ctx context.Context, cartID uuid.UUID) (*domain.AbandonmentRecord, error) {
	row := r.db.QueryRowxContext(ctx,
		`SELECT `+abandonmentColumns+` FROM abandonment_records WHERE cart_id = $1`, cartID)
	return scanAbandonment(row)
}

// Upsert inserts or replaces the record keyed on the cart reference.
func (r *AbandonmentRepository) Upsert(ctx context.Context, record *domain.AbandonmentRecord) error {
	reasons, err := json.Marshal(record.NotQualifiedReasons)
	if err != nil {
		return fmt.Errorf("abandonment repo: marshal reasons: %w", err)
	}

	q := `INSERT INTO abandonment_records (
		id, cart_id, agent_id, user_id, abandoned_at, total_attempts,
		next_call_time, order_queue_status, is_qualified, not_qualified_reasons,
		is_eligible_for_queue, completed_at, correlation_id, created_at, updated_at
	) VALUES (
		:id, :cart_id, :agent_id, :user_id, :abandoned_at, :total_attempts,
		:next_call_time, :order_queue_status, :is_qualified, :not_qualified_reasons,
		:is_eligible_for_queue, :completed_at, :correlation_id, :created_at, :updated_at
	)
	ON CONFLICT (cart_id) DO UPDATE SET
		agent_id = EXCLUDED.agent_id,
		abandoned_at = EXCLUDED.abandoned_at,
		next_call_time = EXCLUDED.next_call_time,
		order_queue_status = EXCLUDED.order_queue_status,
		is_qualified = EXCLUDED.is_qualified,
		not_qualified_reasons = EXCLUDED.not_qualified_reasons,
		is_eligible_for_queue = EXCLUDED.is_eligible_for_queue,
		correlation_id = EXCLUDED.correlation_id,
		updated_at = EXCLUDED.updated_at`

	now := time.Now().UTC()
	params := map[string]any{
		"id":                    record.ID,
		"cart_id":               record.CartID,
		"agent_id":              record.AgentID,
		"user_id":               record.UserID,
		"abandoned_at":          record.AbandonedAt,
		"total_attempts":        record.TotalAttempts,
		"next_call_time":        record.NextCallTime,
		"order_queue_status":    record.OrderQueueStatus,
		"is_qualified":          record.IsQualified,
		"not_qualified_reasons": reasons,
		"is_eligible_for_queue": record.IsEligibleForQueue,
		"completed_at":          record.CompletedAt,
		"correlation_id":        record.CorrelationID,
		"created_at":            now,
		"updated_at":            now,
	}

	if _, err := r.db.NamedExecContext(ctx, q, params); err != nil {
		return fmt.Errorf("abandonment repo: upsert: %w", err)
	}
	return nil
}

// RefreshAbandonedAt updates only the abandonment timestamp, preserving the
// attempt history of records that have already been called.
func (r *AbandonmentRepository) RefreshAbandonedAt(ctx context.Context, id uuid.UUID, abandonedAt time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE abandonment_records SET abandoned_at = $2, updated_at = $3 WHERE id = $1`,
		id, abandonedAt, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("abandonment repo: refresh abandoned_at: %w", err)
	}
	return requireRow(res, "abandonment repo")
}

// IncrementAttempts bumps total_attempts and returns the new count.
func (r *AbandonmentRepository) IncrementAttempts(ctx context.Context, id uuid.UUID) (int, error) {
	row := r.db.QueryRowxContext(ctx,
		`UPDATE abandonment_records
		 SET total_attempts = total_attempts + 1, updated_at = $2
		 WHERE id = $1
		 RETURNING total_attempts`, id, time.Now().UTC())

	var attempts int
	if err := row.Scan(&attempts); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, repository.ErrNotFound
		}
		return 0, fmt.Errorf("abandonment repo: increment attempts: %w", err)
	}
	return attempts, nil
}

// UpdateEligibility persists the rule verdict. Ineligible records are also
// marked failed on the queue status for operator visibility.
func (r *AbandonmentRepository) UpdateEligibility(ctx context.Context, id uuid.UUID, eligible bool, reasons []string) error {
	encoded, err := json.Marshal(reasons)
	if err != nil {
		return fmt.Errorf("abandonment repo: marshal reasons: %w", err)
	}

	q := `UPDATE abandonment_records
	      SET is_eligible_for_queue = $2,
	          is_qualified = $2,
	          not_qualified_reasons = $3,
	          updated_at = $4`
	if !eligible {
		q += `, order_queue_status = 'failed'`
	}
	q += ` WHERE id = $1`

	res, err := r.db.ExecContext(ctx, q, id, eligible, encoded, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("abandonment repo: update eligibility: %w", err)
	}
	return requireRow(res, "abandonment repo")
}

// Deactivate permanently removes the record from recovery.
func (r *AbandonmentRepository) Deactivate(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE abandonment_records
		 SET order_queue_status = 'failed', is_eligible_for_queue = FALSE, next_call_time = NULL, updated_at = $2
		 WHERE id = $1`, id, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("abandonment repo: deactivate: %w", err)
	}
	return requireRow(res, "abandonment repo")
}

// MarkCompleted records a successful recovery.
func (r *AbandonmentRepository) MarkCompleted(ctx context.Context, id uuid.UUID, completedAt time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE abandonment_records
		 SET order_queue_status = 'completed', completed_at = $2, updated_at = $3
		 WHERE id = $1`, id, completedAt, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("abandonment repo: mark completed: %w", err)
	}
	return requireRow(res, "abandonment repo")
}

func requireRow(res sql.Result, component string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: rows affected: %w", component, err)
	}
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func scanAbandonment(row *sqlx.Row) (*domain.AbandonmentRecord, error) {
	var rec abandonmentRecord
	if err := row.StructScan(&rec); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("abandonment repo: get: %w", err)
	}
	record, err := rec.toDomain()
	if err != nil {
		return nil, fmt.Errorf("abandonment repo: decode: %w", err)
	}
	return record, nil
}

type abandonmentRecord struct {
	ID                  uuid.UUID      `db:"id"`
	CartID              uuid.UUID      `db:"cart_id"`
	AgentID             uuid.NullUUID  `db:"agent_id"`
	UserID              uuid.UUID      `db:"user_id"`
	AbandonedAt         time.Time      `db:"abandoned_at"`
	TotalAttempts       int            `db:"total_attempts"`
	NextCallTime        sql.NullTime   `db:"next_call_time"`
	OrderQueueStatus    string         `db:"order_queue_status"`
	IsQualified         bool           `db:"is_qualified"`
	NotQualifiedReasons []byte         `db:"not_qualified_reasons"`
	IsEligibleForQueue  bool           `db:"is_eligible_for_queue"`
	CompletedAt         sql.NullTime   `db:"completed_at"`
	CorrelationID       uuid.UUID      `db:"correlation_id"`
	CreatedAt           time.Time      `db:"created_at"`
	UpdatedAt           time.Time      `db:"updated_at"`
}

func (r abandonmentRecord) toDomain() (*domain.AbandonmentRecord, error) {
	record := &domain.AbandonmentRecord{
		ID:                 r.ID,
		CartID:             r.CartID,
		UserID:             r.UserID,
		AbandonedAt:        r.AbandonedAt,
		TotalAttempts:      r.TotalAttempts,
		OrderQueueStatus:   domain.OrderQueueStatus(r.OrderQueueStatus),
		IsQualified:        r.IsQualified,
		IsEligibleForQueue: r.IsEligibleForQueue,
		CorrelationID:      r.CorrelationID,
		CreatedAt:          r.CreatedAt,
		UpdatedAt:          r.UpdatedAt,
	}
	if r.AgentID.Valid {
		id := r.AgentID.UUID
		record.AgentID = &id
	}
	if r.NextCallTime.Valid {
		t := r.NextCallTime.Time
		record.NextCallTime = &t
	}
	if r.CompletedAt.Valid {
		t := r.CompletedAt.Time
		record.CompletedAt = &t
	}
	if len(r.NotQualifiedReasons) > 0 {
		if err := json.Unmarshal(r.NotQualifiedReasons, &record.NotQualifiedReasons); err != nil {
			return nil, fmt.Errorf("reasons: %w", err)
		}
	}
	return record, nil
}
