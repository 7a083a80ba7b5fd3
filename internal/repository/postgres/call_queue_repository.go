package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/NeoboundAI/Skiddly-sub000/internal/domain"
	"github.com/NeoboundAI/Skiddly-sub000/internal/repository"
)

// CallQueueRepository implements repository.CallQueueRepository using
// PostgreSQL. All state transitions are single conditional UPDATEs so the
// queue state machine holds across concurrent processor instances.
type CallQueueRepository struct {
	db *sqlx.DB
}

// NewCallQueueRepository constructs the repository.
func NewCallQueueRepository(db *sqlx.DB) *CallQueueRepository {
	return &CallQueueRepository{db: db}
}

const queueColumns = `id, abandonment_id, agent_id, cart_id, user_id, status,
	next_attempt_time, attempt_number, added_at, last_processed_at, processing_notes, correlation_id`

// Get fetches a queue entry by id.
func (r *CallQueueRepository) Get(ctx context.Context, id uuid.UUID) (*domain.CallQueueEntry, error) {
	row := r.db.QueryRowxContext(ctx,
		`SELECT `+queueColumns+` FROM call_queue WHERE id = $1`, id)

	var rec queueEntryRecord
	if err := row.StructScan(&rec); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("call queue: get: %w", err)
	}
	entry := rec.toDomain()
	return &entry, nil
}

// Insert adds a new pending entry. Within one transaction any stray pending
// entry for the same abandonment record is removed first. An entry in
// processing is left alone: a worker owns it, and deleting it here would pull
// the row out from under that worker's later transitions.
func (r *CallQueueRepository) Insert(ctx context.Context, entry *domain.CallQueueEntry) error {
	return withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM call_queue WHERE abandonment_id = $1 AND status = 'pending'`,
			entry.AbandonmentID); err != nil {
			return fmt.Errorf("call queue: clear pending entries: %w", err)
		}

		q := `INSERT INTO call_queue (
			id, abandonment_id, agent_id, cart_id, user_id, status,
			next_attempt_time, attempt_number, added_at, last_processed_at, processing_notes, correlation_id
		) VALUES (
			:id, :abandonment_id, :agent_id, :cart_id, :user_id, :status,
			:next_attempt_time, :attempt_number, :added_at, :last_processed_at, :processing_notes, :correlation_id
		)`
		if _, err := tx.NamedExecContext(ctx, q, newQueueEntryRecord(entry)); err != nil {
			return fmt.Errorf("call queue: insert: %w", err)
		}
		return nil
	})
}

// DeletePending removes stray pending entries for a cart.
func (r *CallQueueRepository) DeletePending(ctx context.Context, cartID uuid.UUID) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM call_queue WHERE cart_id = $1 AND status = 'pending'`, cartID)
	if err != nil {
		return 0, fmt.Errorf("call queue: delete pending: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("call queue: rows affected: %w", err)
	}
	return n, nil
}

// ClaimDue selects due pending entries, oldest attempt time first.
func (r *CallQueueRepository) ClaimDue(ctx context.Context, now time.Time, limit int) ([]*domain.CallQueueEntry, error) {
	if limit <= 0 {
		limit = 5
	}

	rows, err := r.db.QueryxContext(ctx,
		`SELECT `+queueColumns+` FROM call_queue
		 WHERE status = 'pending' AND next_attempt_time <= $1
		 ORDER BY next_attempt_time ASC
		 LIMIT $2`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("call queue: claim due: %w", err)
	}
	defer rows.Close()

	var results []*domain.CallQueueEntry
	for rows.Next() {
		var rec queueEntryRecord
		if err := rows.StructScan(&rec); err != nil {
			return nil, fmt.Errorf("call queue: scan: %w", err)
		}
		entry := rec.toDomain()
		results = append(results, &entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("call queue: rows err: %w", err)
	}
	return results, nil
}

// MarkProcessing claims exclusive ownership of the entry. The conditional
// UPDATE succeeds only while the entry is still pending; a nil entry with a
// nil error means another worker won the race.
func (r *CallQueueRepository) MarkProcessing(ctx context.Context, id uuid.UUID, notes string) (*domain.CallQueueEntry, error) {
	row := r.db.QueryRowxContext(ctx,
		`UPDATE call_queue
		 SET status = 'processing',
		     attempt_number = attempt_number + 1,
		     last_processed_at = $2,
		     processing_notes = $3
		 WHERE id = $1 AND status = 'pending'
		 RETURNING `+queueColumns, id, time.Now().UTC(), notes)

	var rec queueEntryRecord
	if err := row.StructScan(&rec); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("call queue: mark processing: %w", err)
	}
	entry := rec.toDomain()
	return &entry, nil
}

// MarkCompleted terminally completes the entry.
func (r *CallQueueRepository) MarkCompleted(ctx context.Context, id uuid.UUID, notes string) error {
	return r.terminalTransition(ctx, id, domain.QueueEntryCompleted, notes)
}

// MarkFailed terminally fails the entry.
func (r *CallQueueRepository) MarkFailed(ctx context.Context, id uuid.UUID, reason string) error {
	return r.terminalTransition(ctx, id, domain.QueueEntryFailed, reason)
}

func (r *CallQueueRepository) terminalTransition(ctx context.Context, id uuid.UUID, status domain.QueueEntryStatus, notes string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE call_queue
		 SET status = $2, last_processed_at = $3, processing_notes = $4
		 WHERE id = $1 AND status IN ('pending', 'processing')`,
		id, status, time.Now().UTC(), notes)
	if err != nil {
		return fmt.Errorf("call queue: mark %s: %w", status, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("call queue: rows affected: %w", err)
	}
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// ScheduleRetry releases a processing entry back to pending at a future time.
func (r *CallQueueRepository) ScheduleRetry(ctx context.Context, id uuid.UUID, nextAttempt time.Time, notes string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE call_queue
		 SET status = 'pending', next_attempt_time = $2, last_processed_at = $3, processing_notes = $4
		 WHERE id = $1 AND status = 'processing'`,
		id, nextAttempt, time.Now().UTC(), notes)
	if err != nil {
		return fmt.Errorf("call queue: schedule retry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("call queue: rows affected: %w", err)
	}
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// ResetStuckProcessing recovers entries abandoned by crashed workers. The
// reset entries are returned so callers can release per-agent resources the
// dead workers were holding.
func (r *CallQueueRepository) ResetStuckProcessing(ctx context.Context, cutoff time.Time) ([]*domain.CallQueueEntry, error) {
	rows, err := r.db.QueryxContext(ctx,
		`UPDATE call_queue
		 SET status = 'pending', processing_notes = 'reset after stuck processing'
		 WHERE status = 'processing' AND last_processed_at < $1
		 RETURNING `+queueColumns, cutoff)
	if err != nil {
		return nil, fmt.Errorf("call queue: reset stuck: %w", err)
	}
	defer rows.Close()

	var results []*domain.CallQueueEntry
	for rows.Next() {
		var rec queueEntryRecord
		if err := rows.StructScan(&rec); err != nil {
			return nil, fmt.Errorf("call queue: scan: %w", err)
		}
		entry := rec.toDomain()
		results = append(results, &entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("call queue: rows err: %w", err)
	}
	return results, nil
}

// CountByStatus aggregates entry counts per status.
func (r *CallQueueRepository) CountByStatus(ctx context.Context) (map[domain.QueueEntryStatus]int64, error) {
	rows, err := r.db.QueryxContext(ctx,
		`SELECT status, COUNT(*) AS n FROM call_queue GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("call queue: count by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.QueueEntryStatus]int64)
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("call queue: scan count: %w", err)
		}
		counts[domain.QueueEntryStatus(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("call queue: rows err: %w", err)
	}
	return counts, nil
}

// DeleteTerminalOlderThan prunes old completed and failed entries.
func (r *CallQueueRepository) DeleteTerminalOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM call_queue
		 WHERE status IN ('completed', 'failed') AND last_processed_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("call queue: delete terminal: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("call queue: rows affected: %w", err)
	}
	return n, nil
}

type queueEntryRecord struct {
	ID              uuid.UUID    `db:"id"`
	AbandonmentID   uuid.UUID    `db:"abandonment_id"`
	AgentID         uuid.UUID    `db:"agent_id"`
	CartID          uuid.UUID    `db:"cart_id"`
	UserID          uuid.UUID    `db:"user_id"`
	Status          string       `db:"status"`
	NextAttemptTime time.Time    `db:"next_attempt_time"`
	AttemptNumber   int          `db:"attempt_number"`
	AddedAt         time.Time    `db:"added_at"`
	LastProcessedAt sql.NullTime `db:"last_processed_at"`
	ProcessingNotes string       `db:"processing_notes"`
	CorrelationID   uuid.UUID    `db:"correlation_id"`
}

func newQueueEntryRecord(entry *domain.CallQueueEntry) map[string]any {
	var lastProcessed any
	if entry.LastProcessedAt != nil {
		lastProcessed = *entry.LastProcessedAt
	}
	return map[string]any{
		"id":                entry.ID,
		"abandonment_id":    entry.AbandonmentID,
		"agent_id":          entry.AgentID,
		"cart_id":           entry.CartID,
		"user_id":           entry.UserID,
		"status":            entry.Status,
		"next_attempt_time": entry.NextAttemptTime,
		"attempt_number":    entry.AttemptNumber,
		"added_at":          entry.AddedAt,
		"last_processed_at": lastProcessed,
		"processing_notes":  entry.ProcessingNotes,
		"correlation_id":    entry.CorrelationID,
	}
}

func (r queueEntryRecord) toDomain() domain.CallQueueEntry {
	entry := domain.CallQueueEntry{
		ID:              r.ID,
		AbandonmentID:   r.AbandonmentID,
		AgentID:         r.AgentID,
		CartID:          r.CartID,
		UserID:          r.UserID,
		Status:          domain.QueueEntryStatus(r.Status),
		NextAttemptTime: r.NextAttemptTime,
		AttemptNumber:   r.AttemptNumber,
		AddedAt:         r.AddedAt,
		ProcessingNotes: r.ProcessingNotes,
		CorrelationID:   r.CorrelationID,
	}
	if r.LastProcessedAt.Valid {
		t := r.LastProcessedAt.Time
		entry.LastProcessedAt = &t
	}
	return entry
}
