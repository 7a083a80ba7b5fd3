// Package callbridge is the integration boundary to the outbound voice
// provider. The processor builds a CallRequest from the agent, cart and
// queue entry; a Provider places the call and classifies failures.
package callbridge

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// CallRequest carries everything a provider needs to place one call.
type CallRequest struct {
	EntryID       uuid.UUID
	AgentID       uuid.UUID
	AgentPhone    string
	CustomerPhone string
	Variables     map[string]string
	CorrelationID uuid.UUID
	AttemptNumber int
}

// Result captures the synchronous outcome of initiating a call. A successful
// initiation only means the call was started; the final outcome arrives
// later through the call-event stream.
type Result struct {
	CallID    string
	Retryable bool
	Error     string
	Latency   time.Duration
}

// Provider abstracts the voice bridge. InitiateCall must be safe to invoke
// at most once per claimed queue entry.
type Provider interface {
	InitiateCall(ctx context.Context, req CallRequest) (Result, error)
}
