package domain

import (
	"time"

	"github.com/google/uuid"
)

// OrderQueueStatus tracks where an abandonment record sits in the recovery flow.
type OrderQueueStatus string

const (
	OrderQueuePending   OrderQueueStatus = "pending"
	OrderQueueInQueue   OrderQueueStatus = "in_queue"
	OrderQueueCompleted OrderQueueStatus = "completed"
	OrderQueueFailed    OrderQueueStatus = "failed"
)

// AbandonmentRecord is the durable record that a checkout has gone stale,
// plus its qualification state. One-to-one with a cart.
//
// TotalAttempts stays zero until the first call is placed; once positive the
// scanner must never re-enqueue this record, only refresh AbandonedAt.
type AbandonmentRecord struct {
	ID                  uuid.UUID
	CartID              uuid.UUID
	AgentID             *uuid.UUID
	UserID              uuid.UUID
	AbandonedAt         time.Time
	TotalAttempts       int
	NextCallTime        *time.Time
	OrderQueueStatus    OrderQueueStatus
	IsQualified         bool
	NotQualifiedReasons []string
	IsEligibleForQueue  bool
	CompletedAt         *time.Time
	CorrelationID       uuid.UUID
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// HasBeenCalled reports whether any call attempt was ever placed.
func (r *AbandonmentRecord) HasBeenCalled() bool {
	return r.TotalAttempts > 0
}
