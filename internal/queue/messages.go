package queue

import (
	"time"

	"github.com/google/uuid"
)

// CallEventMessage is the asynchronous outcome of a placed call, published
// by the voice bridge once the call finishes. Call duration is unbounded, so
// the queue entry stays in processing until one of these arrives.
type CallEventMessage struct {
	EntryID       uuid.UUID  `json:"entry_id"`
	CallID        string     `json:"call_id"`
	Outcome       string     `json:"outcome"`
	EndedReason   string     `json:"ended_reason,omitempty"`
	DurationMs    int64      `json:"duration_ms"`
	CorrelationID uuid.UUID  `json:"correlation_id"`
	OccurredAt    time.Time  `json:"occurred_at"`
}

// Call outcomes reported by the voice bridge.
const (
	CallOutcomeCompleted = "completed"
	CallOutcomeFailed    = "failed"
	CallOutcomeNoAnswer  = "no-answer"
)

// ArchiveMessage mirrors a terminal queue entry onto the archive topic so
// downstream consumers (analytics, audit) see every terminal transition.
type ArchiveMessage struct {
	EntryID       uuid.UUID `json:"entry_id"`
	AbandonmentID uuid.UUID `json:"abandonment_id"`
	CartID        uuid.UUID `json:"cart_id"`
	AgentID       uuid.UUID `json:"agent_id"`
	Status        string    `json:"status"`
	AttemptNumber int       `json:"attempt_number"`
	Notes         string    `json:"notes,omitempty"`
	CorrelationID uuid.UUID `json:"correlation_id"`
	ArchivedAt    time.Time `json:"archived_at"`
}
