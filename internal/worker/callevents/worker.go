// Package callevents consumes call outcome events from the voice bridge and
// resolves the queue entries left in processing by the call processor.
package callevents

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/NeoboundAI/Skiddly-sub000/internal/config"
	"github.com/NeoboundAI/Skiddly-sub000/internal/domain"
	"github.com/NeoboundAI/Skiddly-sub000/internal/queue"
	"github.com/NeoboundAI/Skiddly-sub000/internal/repository"
	queuesvc "github.com/NeoboundAI/Skiddly-sub000/internal/service/queue"
	"github.com/NeoboundAI/Skiddly-sub000/pkg/logger"
)

// Reader is the subset of kafka.Reader the worker needs.
type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Limiter releases the per-agent call slot once a call ends.
type Limiter interface {
	Release(ctx context.Context, agentID uuid.UUID) error
}

// Worker consumes call events and applies terminal or retry transitions.
type Worker struct {
	reader   Reader
	manager  *queuesvc.Manager
	agents   repository.AgentRepository
	abandons repository.AbandonmentRepository
	limiter  Limiter
	cfg      config.ProcessorConfig
	logger   *logger.Logger
}

// New constructs a call-event worker over an open reader.
func New(
	reader Reader,
	manager *queuesvc.Manager,
	agents repository.AgentRepository,
	abandons repository.AbandonmentRepository,
	limiter Limiter,
	cfg config.ProcessorConfig,
	lg *logger.Logger,
) *Worker {
	return &Worker{
		reader:   reader,
		manager:  manager,
		agents:   agents,
		abandons: abandons,
		limiter:  limiter,
		cfg:      cfg,
		logger:   lg,
	}
}

// Run consumes events until the context is cancelled. Malformed messages are
// committed and skipped; transition failures leave the message uncommitted
// so it is redelivered.
func (w *Worker) Run(ctx context.Context) error {
	defer w.reader.Close()

	for {
		msg, err := w.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.logger.Error("call events: fetch", zap.Error(err))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
			continue
		}

		var event queue.CallEventMessage
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			w.logger.Error("call events: unmarshal", zap.Error(err))
			if cerr := w.reader.CommitMessages(ctx, msg); cerr != nil {
				w.logger.Error("call events: commit malformed", zap.Error(cerr))
			}
			continue
		}

		if err := w.Handle(ctx, event); err != nil {
			w.logger.Error("call events: handle",
				zap.String("entry_id", event.EntryID.String()), zap.Error(err))
			continue
		}

		if err := w.reader.CommitMessages(ctx, msg); err != nil {
			w.logger.Error("call events: commit", zap.Error(err))
		}
	}
}

// Handle applies one call event to its queue entry.
func (w *Worker) Handle(ctx context.Context, event queue.CallEventMessage) error {
	tracer := otel.Tracer("skiddly.callevents")
	hctx, span := tracer.Start(ctx, "callevents.handle", trace.WithAttributes(
		attribute.String("entry.id", event.EntryID.String()),
		attribute.String("call.outcome", event.Outcome),
	))
	defer span.End()

	entry, err := w.manager.GetEntry(hctx, event.EntryID)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("call events: load entry: %w", err)
	}

	if entry.Status != domain.QueueEntryProcessing {
		// Late or duplicate event. The entry already moved on and its slot
		// was released by the delivery that transitioned it.
		w.logger.Debug("call events: stale event ignored",
			zap.String("entry_id", entry.ID.String()),
			zap.String("status", string(entry.Status)))
		return nil
	}

	// The slot was acquired when the call was initiated; the first delivery
	// of the final outcome frees it.
	if rerr := w.limiter.Release(hctx, entry.AgentID); rerr != nil {
		w.logger.Warn("call events: release slot",
			zap.String("agent_id", entry.AgentID.String()), zap.Error(rerr))
	}

	duration := time.Duration(event.DurationMs) * time.Millisecond

	switch event.Outcome {
	case queue.CallOutcomeCompleted:
		notes := fmt.Sprintf("call %s completed after %s", event.CallID, duration)
		if err := w.manager.CompleteEntry(hctx, entry.ID, notes); err != nil {
			span.RecordError(err)
			return err
		}
		w.logger.Info("call events: entry completed",
			zap.String("entry_id", entry.ID.String()),
			zap.String("call_id", event.CallID),
			zap.Duration("duration", duration))
		return nil

	case queue.CallOutcomeNoAnswer:
		return w.retryOrFail(hctx, entry, event)

	case queue.CallOutcomeFailed:
		reason := fmt.Sprintf("call %s failed: %s", event.CallID, event.EndedReason)
		if err := w.manager.FailEntry(hctx, entry.ID, reason, true); err != nil {
			span.RecordError(err)
			return err
		}
		return nil

	default:
		w.logger.Warn("call events: unknown outcome",
			zap.String("entry_id", entry.ID.String()),
			zap.String("outcome", event.Outcome))
		return nil
	}
}

// retryOrFail reschedules an unanswered call within the agent's retry budget
// and fails it terminally once the budget is spent.
func (w *Worker) retryOrFail(ctx context.Context, entry *domain.CallQueueEntry, event queue.CallEventMessage) error {
	agent, err := w.agents.Get(ctx, entry.AgentID)
	if err != nil {
		return fmt.Errorf("call events: load agent: %w", err)
	}
	record, err := w.abandons.Get(ctx, entry.AbandonmentID)
	if err != nil {
		return fmt.Errorf("call events: load record: %w", err)
	}

	maxAttempts := 1 + agent.Schedule.MaxRetries
	if record.TotalAttempts >= maxAttempts {
		reason := fmt.Sprintf("no answer after %d attempts", record.TotalAttempts)
		return w.manager.FailEntry(ctx, entry.ID, reason, true)
	}

	delay := agent.Schedule.RetryDelay(record.TotalAttempts, w.cfg.RetryDelay)
	w.logger.Info("call events: no answer, retry scheduled",
		zap.String("entry_id", entry.ID.String()),
		zap.Int("attempts", record.TotalAttempts),
		zap.Duration("retry_in", delay))
	return w.manager.ScheduleRetry(ctx, entry.ID, delay,
		fmt.Sprintf("no answer on call %s", event.CallID))
}
