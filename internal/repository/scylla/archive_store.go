package scylla

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"

	"github.com/NeoboundAI/Skiddly-sub000/internal/domain"
	"github.com/NeoboundAI/Skiddly-sub000/internal/repository"
)

// ArchiveStore appends terminal call queue entries to an immutable log in
// Scylla. Rows are only ever inserted; the operational queue table in
// Postgres is pruned separately.
type ArchiveStore struct {
	session *gocql.Session
}

// NewArchiveStore creates a new archive store.
func NewArchiveStore(session *gocql.Session) *ArchiveStore {
	return &ArchiveStore{session: session}
}

// Append writes one terminal entry snapshot.
func (s *ArchiveStore) Append(ctx context.Context, record repository.ArchiveRecord) error {
	if err := s.session.Query(`INSERT INTO call_queue_archive
		(cart_id, archived_at, entry_id, abandonment_id, agent_id, status, attempt_number, notes, correlation_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.CartID.String(), record.ArchivedAt, record.EntryID.String(),
		record.AbandonmentID.String(), record.AgentID.String(), string(record.Status),
		record.AttemptNumber, record.Notes, record.CorrelationID.String(),
	).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("archive store: insert: %w", err)
	}
	return nil
}

// ListByCart returns archived entries for a cart, newest first.
func (s *ArchiveStore) ListByCart(ctx context.Context, cartID uuid.UUID, limit int) ([]repository.ArchiveRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	iter := s.session.Query(`SELECT cart_id, archived_at, entry_id, abandonment_id, agent_id, status, attempt_number, notes, correlation_id
		FROM call_queue_archive
		WHERE cart_id = ?
		ORDER BY archived_at DESC
		LIMIT ?`, cartID.String(), limit).WithContext(ctx).Iter()

	var (
		results       []repository.ArchiveRecord
		cartIDStr     string
		archivedAt    time.Time
		entryIDStr    string
		abandonIDStr  string
		agentIDStr    string
		status        string
		attemptNumber int
		notes         string
		corrIDStr     string
	)

	for iter.Scan(&cartIDStr, &archivedAt, &entryIDStr, &abandonIDStr, &agentIDStr, &status, &attemptNumber, &notes, &corrIDStr) {
		record := repository.ArchiveRecord{
			ArchivedAt:    archivedAt,
			Status:        domain.QueueEntryStatus(status),
			AttemptNumber: attemptNumber,
			Notes:         notes,
		}
		record.CartID, _ = uuid.Parse(cartIDStr)
		record.EntryID, _ = uuid.Parse(entryIDStr)
		record.AbandonmentID, _ = uuid.Parse(abandonIDStr)
		record.AgentID, _ = uuid.Parse(agentIDStr)
		record.CorrelationID, _ = uuid.Parse(corrIDStr)
		results = append(results, record)
	}

	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("archive store: list by cart: %w", err)
	}
	return results, nil
}
