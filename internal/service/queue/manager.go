// Package queue holds the queue manager: the single mutation surface over
// call queue entries and their abandonment records. Terminal transitions are
// mirrored to an append-only archive (Scylla) and an archive topic.
package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/NeoboundAI/Skiddly-sub000/internal/domain"
	"github.com/NeoboundAI/Skiddly-sub000/internal/eligibility"
	kafkaqueue "github.com/NeoboundAI/Skiddly-sub000/internal/queue"
	"github.com/NeoboundAI/Skiddly-sub000/internal/repository"
	"github.com/NeoboundAI/Skiddly-sub000/pkg/logger"
)

// ArchivePublisher publishes terminal transitions to the archive topic.
type ArchivePublisher interface {
	Publish(ctx context.Context, msg kafkaqueue.ArchiveMessage) error
}

// Manager coordinates queue entry state with abandonment record state.
type Manager struct {
	entries   repository.CallQueueRepository
	abandons  repository.AbandonmentRepository
	agents    repository.AgentRepository
	carts     repository.CartRepository
	archive   repository.ArchiveStore
	publisher ArchivePublisher
	logger    *logger.Logger
}

// NewManager constructs the queue manager. Archive store and publisher may
// be nil in tests; archiving then becomes a no-op.
func NewManager(
	entries repository.CallQueueRepository,
	abandons repository.AbandonmentRepository,
	agents repository.AgentRepository,
	carts repository.CartRepository,
	archive repository.ArchiveStore,
	publisher ArchivePublisher,
	lg *logger.Logger,
) *Manager {
	return &Manager{
		entries:   entries,
		abandons:  abandons,
		agents:    agents,
		carts:     carts,
		archive:   archive,
		publisher: publisher,
		logger:    lg,
	}
}

// GetEntry loads one queue entry.
func (m *Manager) GetEntry(ctx context.Context, id uuid.UUID) (*domain.CallQueueEntry, error) {
	return m.entries.Get(ctx, id)
}

// ClaimDue returns due pending entries for processing.
func (m *Manager) ClaimDue(ctx context.Context, limit int) ([]*domain.CallQueueEntry, error) {
	return m.entries.ClaimDue(ctx, time.Now().UTC(), limit)
}

// MarkProcessing claims exclusive ownership; nil entry means another worker won.
func (m *Manager) MarkProcessing(ctx context.Context, id uuid.UUID, notes string) (*domain.CallQueueEntry, error) {
	return m.entries.MarkProcessing(ctx, id, notes)
}

// CompleteEntry terminally completes an entry and its abandonment record,
// then archives the snapshot.
func (m *Manager) CompleteEntry(ctx context.Context, id uuid.UUID, notes string) error {
	entry, err := m.entries.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("queue manager: load entry: %w", err)
	}

	if err := m.entries.MarkCompleted(ctx, id, notes); err != nil {
		return fmt.Errorf("queue manager: complete entry: %w", err)
	}
	if err := m.abandons.MarkCompleted(ctx, entry.AbandonmentID, time.Now().UTC()); err != nil {
		return fmt.Errorf("queue manager: complete record: %w", err)
	}

	entry.Status = domain.QueueEntryCompleted
	entry.ProcessingNotes = notes
	m.archiveEntry(ctx, entry)
	return nil
}

// FailEntry terminally fails an entry and archives the snapshot. When
// deactivateRecord is set the abandonment record is also removed from
// recovery (retry budget exhausted, configuration failure).
func (m *Manager) FailEntry(ctx context.Context, id uuid.UUID, reason string, deactivateRecord bool) error {
	entry, err := m.entries.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("queue manager: load entry: %w", err)
	}

	if err := m.entries.MarkFailed(ctx, id, reason); err != nil {
		return fmt.Errorf("queue manager: fail entry: %w", err)
	}
	if deactivateRecord {
		if err := m.abandons.Deactivate(ctx, entry.AbandonmentID); err != nil {
			return fmt.Errorf("queue manager: deactivate record: %w", err)
		}
	}

	entry.Status = domain.QueueEntryFailed
	entry.ProcessingNotes = reason
	m.archiveEntry(ctx, entry)
	return nil
}

// ScheduleRetry releases a processing entry back to pending after the delay.
func (m *Manager) ScheduleRetry(ctx context.Context, id uuid.UUID, delay time.Duration, notes string) error {
	return m.entries.ScheduleRetry(ctx, id, time.Now().UTC().Add(delay), notes)
}

// ScheduleRetryAt releases a processing entry back to pending at an absolute
// time, for deferrals pinned to a clock boundary such as a call window open.
func (m *Manager) ScheduleRetryAt(ctx context.Context, id uuid.UUID, at time.Time, notes string) error {
	return m.entries.ScheduleRetry(ctx, id, at, notes)
}

// UpdateAbandonmentEligibility propagates a rule verdict onto the record.
func (m *Manager) UpdateAbandonmentEligibility(ctx context.Context, recordID uuid.UUID, eligible bool, reasons []string) error {
	return m.abandons.UpdateEligibility(ctx, recordID, eligible, reasons)
}

// RecordCallAttempt bumps the record's attempt counter and returns the new count.
func (m *Manager) RecordCallAttempt(ctx context.Context, recordID uuid.UUID) (int, error) {
	return m.abandons.IncrementAttempts(ctx, recordID)
}

// Stats returns entry counts by status.
func (m *Manager) Stats(ctx context.Context) (map[domain.QueueEntryStatus]int64, error) {
	return m.entries.CountByStatus(ctx)
}

// CleanupOldEntries prunes terminal entries older than the given age.
func (m *Manager) CleanupOldEntries(ctx context.Context, daysOld int) (int64, error) {
	if daysOld <= 0 {
		daysOld = 30
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -daysOld)
	return m.entries.DeleteTerminalOlderThan(ctx, cutoff)
}

// ResetStuckProcessing recovers entries stuck in processing past the timeout
// and returns them so callers can release what the dead workers held.
func (m *Manager) ResetStuckProcessing(ctx context.Context, timeout time.Duration) ([]*domain.CallQueueEntry, error) {
	cutoff := time.Now().UTC().Add(-timeout)
	return m.entries.ResetStuckProcessing(ctx, cutoff)
}

// EligibilityReport is the dry-run verdict for one queue entry.
type EligibilityReport struct {
	EntryID  uuid.UUID
	Eligible bool
	Reasons  []string
}

// CheckEligibilityForEntry re-runs the rule set for an entry without any
// side effects. Debug surface for operators.
func (m *Manager) CheckEligibilityForEntry(ctx context.Context, id uuid.UUID) (*EligibilityReport, error) {
	entry, err := m.entries.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("queue manager: load entry: %w", err)
	}
	agent, err := m.agents.Get(ctx, entry.AgentID)
	if err != nil {
		return nil, fmt.Errorf("queue manager: load agent: %w", err)
	}
	cart, err := m.carts.Get(ctx, entry.CartID)
	if err != nil {
		return nil, fmt.Errorf("queue manager: load cart: %w", err)
	}
	record, err := m.abandons.Get(ctx, entry.AbandonmentID)
	if err != nil {
		return nil, fmt.Errorf("queue manager: load record: %w", err)
	}

	result := eligibility.Check(agent, cart, record)
	return &EligibilityReport{EntryID: id, Eligible: result.Eligible, Reasons: result.Reasons}, nil
}

// archiveEntry mirrors a terminal entry to the immutable stores. Archive
// failures are logged, never propagated: the state transition already
// happened and must not be rolled back by observability plumbing.
func (m *Manager) archiveEntry(ctx context.Context, entry *domain.CallQueueEntry) {
	archivedAt := time.Now().UTC()

	if m.archive != nil {
		record := repository.ArchiveRecord{
			EntryID:       entry.ID,
			AbandonmentID: entry.AbandonmentID,
			CartID:        entry.CartID,
			AgentID:       entry.AgentID,
			Status:        entry.Status,
			AttemptNumber: entry.AttemptNumber,
			Notes:         entry.ProcessingNotes,
			CorrelationID: entry.CorrelationID,
			ArchivedAt:    archivedAt,
		}
		if err := m.archive.Append(ctx, record); err != nil {
			m.logger.Error("queue manager: archive append failed",
				zap.String("entry_id", entry.ID.String()), zap.Error(err))
		}
	}

	if m.publisher != nil {
		msg := kafkaqueue.ArchiveMessage{
			EntryID:       entry.ID,
			AbandonmentID: entry.AbandonmentID,
			CartID:        entry.CartID,
			AgentID:       entry.AgentID,
			Status:        string(entry.Status),
			AttemptNumber: entry.AttemptNumber,
			Notes:         entry.ProcessingNotes,
			CorrelationID: entry.CorrelationID,
			ArchivedAt:    archivedAt,
		}
		if err := m.publisher.Publish(ctx, msg); err != nil {
			m.logger.Error("queue manager: archive publish failed",
				zap.String("entry_id", entry.ID.String()), zap.Error(err))
		}
	}
}
