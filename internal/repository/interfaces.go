package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/NeoboundAI/Skiddly-sub000/internal/domain"
	apperrors "github.com/NeoboundAI/Skiddly-sub000/pkg/errors"
)

var (
	// ErrNotFound indicates the entity was not located.
	ErrNotFound = apperrors.ErrNotFound
	// ErrConflict indicates a unique constraint violation.
	ErrConflict = apperrors.ErrConflict
)

// CartRepository reads checkout sessions and flips their status. Carts are
// written by the checkout ingestion path; the recovery pipeline only mutates
// the status column.
type CartRepository interface {
	Get(ctx context.Context, id uuid.UUID) (*domain.Cart, error)
	// ListInactiveCheckouts returns carts still in_checkout whose last
	// activity predates the cutoff, oldest first.
	ListInactiveCheckouts(ctx context.Context, cutoff time.Time, limit int) ([]*domain.Cart, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status domain.CartStatus, reason string) error
}

// AgentRepository is a read-only view of agent rule configuration.
type AgentRepository interface {
	Get(ctx context.Context, id uuid.UUID) (*domain.Agent, error)
	// GetActiveForUser returns the user's live agent, or ErrNotFound.
	GetActiveForUser(ctx context.Context, userID uuid.UUID) (*domain.Agent, error)
}

// AbandonmentRepository persists abandonment records.
type AbandonmentRepository interface {
	Get(ctx context.Context, id uuid.UUID) (*domain.AbandonmentRecord, error)
	GetByCart(ctx context.Context, cartID uuid.UUID) (*domain.AbandonmentRecord, error)
	// Upsert inserts or replaces the record keyed on the cart reference.
	Upsert(ctx context.Context, record *domain.AbandonmentRecord) error
	RefreshAbandonedAt(ctx context.Context, id uuid.UUID, abandonedAt time.Time) error
	// IncrementAttempts bumps total_attempts by one and returns the new count.
	IncrementAttempts(ctx context.Context, id uuid.UUID) (int, error)
	// UpdateEligibility persists the rule verdict. An ineligible verdict also
	// marks the record's queue status failed.
	UpdateEligibility(ctx context.Context, id uuid.UUID, eligible bool, reasons []string) error
	// Deactivate permanently removes the record from recovery (retry budget
	// exhausted or terminal processing failure).
	Deactivate(ctx context.Context, id uuid.UUID) error
	MarkCompleted(ctx context.Context, id uuid.UUID, completedAt time.Time) error
}

// CallQueueRepository is the queue store: CRUD plus the atomic state
// transitions the processor relies on. Every transition is a conditional
// update so the state machine holds across concurrent processor instances.
type CallQueueRepository interface {
	Get(ctx context.Context, id uuid.UUID) (*domain.CallQueueEntry, error)
	Insert(ctx context.Context, entry *domain.CallQueueEntry) error
	// DeletePending removes stray pending entries for a cart before a fresh
	// enqueue; keeps the one-live-entry-per-record invariant.
	DeletePending(ctx context.Context, cartID uuid.UUID) (int64, error)
	// ClaimDue selects pending entries whose next_attempt_time has passed,
	// ordered by next_attempt_time ascending.
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]*domain.CallQueueEntry, error)
	// MarkProcessing transitions pending -> processing and increments the
	// attempt number. Returns nil (no error) when the entry was already
	// claimed by a concurrent worker. This is the mutual-exclusion primitive.
	MarkProcessing(ctx context.Context, id uuid.UUID, notes string) (*domain.CallQueueEntry, error)
	MarkCompleted(ctx context.Context, id uuid.UUID, notes string) error
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) error
	// ScheduleRetry transitions processing -> pending with a future attempt time.
	ScheduleRetry(ctx context.Context, id uuid.UUID, nextAttempt time.Time, notes string) error
	// ResetStuckProcessing sweeps entries stuck in processing since before the
	// cutoff back to pending and returns the recovered entries.
	ResetStuckProcessing(ctx context.Context, cutoff time.Time) ([]*domain.CallQueueEntry, error)
	CountByStatus(ctx context.Context) (map[domain.QueueEntryStatus]int64, error)
	// DeleteTerminalOlderThan prunes archived-age terminal entries.
	DeleteTerminalOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// BillingRepository answers subscription and quota questions for a user.
type BillingRepository interface {
	IsSubscriptionActive(ctx context.Context, userID uuid.UUID) (bool, error)
	HasQuotaRemaining(ctx context.Context, userID uuid.UUID) (bool, error)
}

// ArchiveRecord is the immutable snapshot of a terminal queue entry.
type ArchiveRecord struct {
	EntryID       uuid.UUID
	AbandonmentID uuid.UUID
	CartID        uuid.UUID
	AgentID       uuid.UUID
	Status        domain.QueueEntryStatus
	AttemptNumber int
	Notes         string
	CorrelationID uuid.UUID
	ArchivedAt    time.Time
}

// ArchiveStore appends terminal queue entries to an immutable log.
type ArchiveStore interface {
	Append(ctx context.Context, record ArchiveRecord) error
	ListByCart(ctx context.Context, cartID uuid.UUID, limit int) ([]ArchiveRecord, error)
}
