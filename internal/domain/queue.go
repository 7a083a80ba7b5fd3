package domain

import (
	"time"

	"github.com/google/uuid"
)

// QueueEntryStatus enumerates call queue entry states.
//
// pending -> processing -> {completed | failed}; processing -> pending is
// permitted only via retry scheduling. completed and failed are terminal.
type QueueEntryStatus string

const (
	QueueEntryPending    QueueEntryStatus = "pending"
	QueueEntryProcessing QueueEntryStatus = "processing"
	QueueEntryCompleted  QueueEntryStatus = "completed"
	QueueEntryFailed     QueueEntryStatus = "failed"
)

// IsTerminal reports whether no further automatic transitions occur.
func (s QueueEntryStatus) IsTerminal() bool {
	return s == QueueEntryCompleted || s == QueueEntryFailed
}

// CallQueueEntry is one schedulable unit of work representing a single
// pending or attempted outbound call. At most one entry per abandonment
// record may be pending or processing at a time.
type CallQueueEntry struct {
	ID              uuid.UUID
	AbandonmentID   uuid.UUID
	AgentID         uuid.UUID
	CartID          uuid.UUID
	UserID          uuid.UUID
	Status          QueueEntryStatus
	NextAttemptTime time.Time
	AttemptNumber   int
	AddedAt         time.Time
	LastProcessedAt *time.Time
	ProcessingNotes string
	CorrelationID   uuid.UUID
}
