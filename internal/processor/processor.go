// Package processor drains the call queue: it claims due entries, re-checks
// eligibility, enforces the agent's call window and retry budget, and places
// calls through the voice bridge.
package processor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/NeoboundAI/Skiddly-sub000/internal/callbridge"
	"github.com/NeoboundAI/Skiddly-sub000/internal/config"
	"github.com/NeoboundAI/Skiddly-sub000/internal/domain"
	"github.com/NeoboundAI/Skiddly-sub000/internal/eligibility"
	"github.com/NeoboundAI/Skiddly-sub000/internal/repository"
	queuesvc "github.com/NeoboundAI/Skiddly-sub000/internal/service/queue"
	"github.com/NeoboundAI/Skiddly-sub000/pkg/logger"
)

// Limiter caps concurrent calls per agent.
type Limiter interface {
	Acquire(ctx context.Context, agentID uuid.UUID, limit int) (bool, error)
	Release(ctx context.Context, agentID uuid.UUID) error
}

// Processor owns one drain loop over the call queue.
type Processor struct {
	manager  *queuesvc.Manager
	agents   repository.AgentRepository
	carts    repository.CartRepository
	abandons repository.AbandonmentRepository
	provider callbridge.Provider
	limiter  Limiter
	cfg      config.ProcessorConfig
	bridge   config.CallBridgeConfig
	throttle config.ThrottleConfig
	logger   *logger.Logger
	now      func() time.Time
}

// New constructs a processor.
func New(
	manager *queuesvc.Manager,
	agents repository.AgentRepository,
	carts repository.CartRepository,
	abandons repository.AbandonmentRepository,
	provider callbridge.Provider,
	limiter Limiter,
	cfg config.ProcessorConfig,
	bridge config.CallBridgeConfig,
	throttle config.ThrottleConfig,
	lg *logger.Logger,
) *Processor {
	return &Processor{
		manager:  manager,
		agents:   agents,
		carts:    carts,
		abandons: abandons,
		provider: provider,
		limiter:  limiter,
		cfg:      cfg,
		bridge:   bridge,
		throttle: throttle,
		logger:   lg,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// ProcessBatch claims due entries and processes them concurrently. Entry
// failures are isolated; the batch never aborts because one entry broke.
func (p *Processor) ProcessBatch(ctx context.Context) error {
	tracer := otel.Tracer("skiddly.processor")
	bctx, span := tracer.Start(ctx, "processor.batch")
	defer span.End()

	entries, err := p.manager.ClaimDue(bctx, p.cfg.BatchSize)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("processor: claim due entries: %w", err)
	}
	span.SetAttributes(attribute.Int("entries.due", len(entries)))
	if len(entries) == 0 {
		return nil
	}
	p.logger.Info("processor: claimed due entries", zap.Int("count", len(entries)))

	var wg sync.WaitGroup
	for _, entry := range entries {
		wg.Add(1)
		go func(e *domain.CallQueueEntry) {
			defer wg.Done()
			ectx, espan := tracer.Start(bctx, "processor.entry", trace.WithAttributes(
				attribute.String("entry.id", e.ID.String()),
			))
			defer espan.End()
			if err := p.processEntry(ectx, e); err != nil {
				espan.RecordError(err)
				p.logger.Error("processor: entry failed",
					zap.String("entry_id", e.ID.String()), zap.Error(err))
			}
		}(entry)
	}
	wg.Wait()
	return nil
}

// SweepStuck recovers entries stuck in processing past the stuck timeout and
// frees the call slot each dead worker was holding. A late call event for a
// swept entry finds it out of processing and does not release again; the slot
// TTL covers anything the sweep itself cannot see.
func (p *Processor) SweepStuck(ctx context.Context) error {
	entries, err := p.manager.ResetStuckProcessing(ctx, p.cfg.StuckTimeout)
	if err != nil {
		return fmt.Errorf("processor: sweep stuck entries: %w", err)
	}
	for _, entry := range entries {
		p.releaseSlot(ctx, entry.AgentID)
	}
	if len(entries) > 0 {
		p.logger.Warn("processor: recovered stuck entries", zap.Int("count", len(entries)))
	}
	return nil
}

func (p *Processor) processEntry(ctx context.Context, due *domain.CallQueueEntry) error {
	entry, err := p.manager.MarkProcessing(ctx, due.ID, "claimed by processor")
	if err != nil {
		return fmt.Errorf("mark processing: %w", err)
	}
	if entry == nil {
		// Another worker won the claim. Nothing to do.
		return nil
	}

	agent, cart, record, err := p.loadContext(ctx, entry)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			// The entry references broken state; fail it so it stops cycling.
			if ferr := p.manager.FailEntry(ctx, entry.ID, fmt.Sprintf("load context: %v", err), true); ferr != nil {
				return fmt.Errorf("fail entry after load error: %v (load: %w)", ferr, err)
			}
			return nil
		}
		// Transient store failure. Leave the entry processing; the stuck
		// sweep returns it to pending once the timeout passes.
		return fmt.Errorf("load context: %w", err)
	}

	if reason := validate(agent, cart); reason != "" {
		return p.manager.FailEntry(ctx, entry.ID, reason, true)
	}

	maxAttempts := 1 + agent.Schedule.MaxRetries
	if record.TotalAttempts >= maxAttempts {
		return p.manager.FailEntry(ctx, entry.ID,
			fmt.Sprintf("retry budget exhausted after %d attempts", record.TotalAttempts), true)
	}

	now := p.now()
	if open, next := callWindow(now, agent.Schedule); !open {
		// Deferring to the window open does not consume a call attempt.
		p.logger.Debug("processor: outside call window",
			zap.String("entry_id", entry.ID.String()), zap.Time("window_open", next))
		return p.manager.ScheduleRetryAt(ctx, entry.ID, next, "deferred to call window open")
	}

	verdict := eligibility.Check(agent, cart, record)
	if !verdict.Eligible {
		if err := p.manager.UpdateAbandonmentEligibility(ctx, record.ID, false, verdict.Reasons); err != nil {
			return fmt.Errorf("update eligibility: %w", err)
		}
		return p.manager.FailEntry(ctx, entry.ID,
			"not eligible: "+strings.Join(verdict.Reasons, "; "), false)
	}

	acquired, err := p.limiter.Acquire(ctx, agent.ID, p.throttle.PerAgentConcurrency)
	if err != nil {
		return fmt.Errorf("acquire call slot: %w", err)
	}
	if !acquired {
		return p.manager.ScheduleRetry(ctx, entry.ID, p.cfg.RetryDelay, "agent at concurrent call capacity")
	}

	attempts, err := p.manager.RecordCallAttempt(ctx, record.ID)
	if err != nil {
		p.releaseSlot(ctx, agent.ID)
		return fmt.Errorf("record call attempt: %w", err)
	}

	req := callbridge.BuildRequest(agent, cart, entry)
	cctx, cancel := context.WithTimeout(ctx, p.bridge.RequestTimeout)
	result, callErr := p.provider.InitiateCall(cctx, req)
	cancel()

	if callErr == nil && result.Error == "" {
		// Call initiated. The entry stays processing until the call-event
		// stream reports the final outcome; the slot is released there too.
		p.logger.Info("processor: call initiated",
			zap.String("entry_id", entry.ID.String()),
			zap.String("call_id", result.CallID),
			zap.Int("attempt", attempts),
			zap.Duration("latency", result.Latency))
		return nil
	}

	p.releaseSlot(ctx, agent.ID)

	msg := result.Error
	retryable := result.Retryable
	if callErr != nil {
		msg = callErr.Error()
		retryable = callbridge.ClassifyError(msg)
	}

	if !retryable {
		return p.manager.FailEntry(ctx, entry.ID, "call rejected: "+msg, true)
	}
	if attempts >= maxAttempts {
		return p.manager.FailEntry(ctx, entry.ID,
			fmt.Sprintf("retry budget exhausted after %d attempts: %s", attempts, msg), true)
	}

	delay := agent.Schedule.RetryDelay(attempts, p.cfg.RetryDelay)
	p.logger.Warn("processor: call attempt failed, retrying",
		zap.String("entry_id", entry.ID.String()),
		zap.Int("attempt", attempts),
		zap.Duration("retry_in", delay),
		zap.String("error", msg))
	return p.manager.ScheduleRetry(ctx, entry.ID, delay, "retry after: "+msg)
}

func (p *Processor) loadContext(ctx context.Context, entry *domain.CallQueueEntry) (*domain.Agent, *domain.Cart, *domain.AbandonmentRecord, error) {
	agent, err := p.agents.Get(ctx, entry.AgentID)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("agent %s: %w", entry.AgentID, err)
	}
	cart, err := p.carts.Get(ctx, entry.CartID)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("cart %s: %w", entry.CartID, err)
	}
	record, err := p.abandons.Get(ctx, entry.AbandonmentID)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("record %s: %w", entry.AbandonmentID, err)
	}
	return agent, cart, record, nil
}

func (p *Processor) releaseSlot(ctx context.Context, agentID uuid.UUID) {
	if err := p.limiter.Release(ctx, agentID); err != nil {
		p.logger.Warn("processor: release call slot failed",
			zap.String("agent_id", agentID.String()), zap.Error(err))
	}
}

// validate returns a terminal failure reason, or empty when the entry can
// proceed to a call.
func validate(agent *domain.Agent, cart *domain.Cart) string {
	if !agent.IsLive() {
		return fmt.Sprintf("agent %s is not live", agent.ID)
	}
	if callbridge.NormalizePhone(agent.PhoneNumber) == "" {
		return fmt.Sprintf("agent %s has no outbound phone number", agent.ID)
	}
	if callbridge.NormalizePhone(cart.Phone) == "" {
		return "cart has no customer phone number"
	}
	return ""
}
