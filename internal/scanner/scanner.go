// Package scanner detects abandoned checkouts and feeds the call queue.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/NeoboundAI/Skiddly-sub000/internal/config"
	"github.com/NeoboundAI/Skiddly-sub000/internal/domain"
	"github.com/NeoboundAI/Skiddly-sub000/internal/repository"
	"github.com/NeoboundAI/Skiddly-sub000/pkg/logger"
)

const (
	reasonSubscriptionInactive = "subscription inactive"
	reasonQuotaExhausted       = "call quota exhausted"
	reasonNoLiveAgent          = "no live agent configured"
	reasonInactivity           = "checkout inactive past threshold"
)

// Scanner converts stale in_checkout carts into abandonment records and
// pending call queue entries.
type Scanner struct {
	carts    repository.CartRepository
	agents   repository.AgentRepository
	abandons repository.AbandonmentRepository
	entries  repository.CallQueueRepository
	billing  repository.BillingRepository
	cfg      config.ScannerConfig
	logger   *logger.Logger
	now      func() time.Time
}

// New constructs a scanner over the given repositories.
func New(
	carts repository.CartRepository,
	agents repository.AgentRepository,
	abandons repository.AbandonmentRepository,
	entries repository.CallQueueRepository,
	billing repository.BillingRepository,
	cfg config.ScannerConfig,
	lg *logger.Logger,
) *Scanner {
	return &Scanner{
		carts:    carts,
		agents:   agents,
		abandons: abandons,
		entries:  entries,
		billing:  billing,
		cfg:      cfg,
		logger:   lg,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Scan is one pass over stale checkouts. Cart failures are isolated: one bad
// cart never blocks the rest of the batch.
func (s *Scanner) Scan(ctx context.Context) error {
	tracer := otel.Tracer("skiddly.scanner")
	sctx, span := tracer.Start(ctx, "scanner.scan")
	defer span.End()

	now := s.now()
	cutoff := now.Add(-s.cfg.InactivityWindow)
	carts, err := s.carts.ListInactiveCheckouts(sctx, cutoff, s.cfg.BatchSize)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("scanner: list inactive checkouts: %w", err)
	}
	span.SetAttributes(attribute.Int("carts.found", len(carts)))
	if len(carts) == 0 {
		return nil
	}
	s.logger.Info("scanner: found stale checkouts",
		zap.Int("count", len(carts)), zap.Time("cutoff", cutoff))

	var failed int
	for _, cart := range carts {
		cctx, cspan := tracer.Start(sctx, "scanner.cart", trace.WithAttributes(
			attribute.String("cart.id", cart.ID.String()),
		))
		if err := s.processCart(cctx, cart, now); err != nil {
			cspan.RecordError(err)
			failed++
			s.logger.Error("scanner: cart processing failed",
				zap.String("cart_id", cart.ID.String()), zap.Error(err))
		}
		cspan.End()
	}

	span.SetAttributes(attribute.Int("carts.failed", failed))
	return nil
}

func (s *Scanner) processCart(ctx context.Context, cart *domain.Cart, now time.Time) error {
	// Billing gate first: users without an active subscription or remaining
	// quota get their checkouts expired without any recovery record.
	active, err := s.billing.IsSubscriptionActive(ctx, cart.UserID)
	if err != nil {
		return fmt.Errorf("check subscription: %w", err)
	}
	if !active {
		return s.expireCart(ctx, cart, reasonSubscriptionInactive)
	}
	hasQuota, err := s.billing.HasQuotaRemaining(ctx, cart.UserID)
	if err != nil {
		return fmt.Errorf("check quota: %w", err)
	}
	if !hasQuota {
		return s.expireCart(ctx, cart, reasonQuotaExhausted)
	}

	agent, err := s.agents.GetActiveForUser(ctx, cart.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return s.expireCart(ctx, cart, reasonNoLiveAgent)
		}
		return fmt.Errorf("load agent: %w", err)
	}

	record, err := s.abandons.GetByCart(ctx, cart.ID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("load record: %w", err)
	}

	// A record that has already been called is never re-enqueued. The cart
	// going stale again only refreshes the abandonment timestamp.
	if record != nil && record.HasBeenCalled() {
		if err := s.abandons.RefreshAbandonedAt(ctx, record.ID, now); err != nil {
			return fmt.Errorf("refresh record: %w", err)
		}
		if err := s.carts.UpdateStatus(ctx, cart.ID, domain.CartStatusAbandoned, reasonInactivity); err != nil {
			return fmt.Errorf("mark cart abandoned: %w", err)
		}
		s.logger.Debug("scanner: record already called, refreshed only",
			zap.String("cart_id", cart.ID.String()),
			zap.Int("total_attempts", record.TotalAttempts))
		return nil
	}

	return s.enqueue(ctx, cart, agent, record, now)
}

func (s *Scanner) expireCart(ctx context.Context, cart *domain.Cart, reason string) error {
	if err := s.carts.UpdateStatus(ctx, cart.ID, domain.CartStatusExpired, reason); err != nil {
		return fmt.Errorf("expire cart: %w", err)
	}
	s.logger.Info("scanner: cart expired without recovery",
		zap.String("cart_id", cart.ID.String()), zap.String("reason", reason))
	return nil
}

// enqueue writes the abandonment record and a fresh pending queue entry.
// Any stray pending entry for the cart is cleared first so exactly one live
// entry exists per record.
func (s *Scanner) enqueue(ctx context.Context, cart *domain.Cart, agent *domain.Agent, prior *domain.AbandonmentRecord, now time.Time) error {
	if _, err := s.entries.DeletePending(ctx, cart.ID); err != nil {
		return fmt.Errorf("clear pending entries: %w", err)
	}

	nextCall := now.Add(agent.Schedule.WaitDuration())
	correlationID := uuid.New()

	record := &domain.AbandonmentRecord{
		ID:            uuid.New(),
		CartID:        cart.ID,
		AgentID:       &agent.ID,
		UserID:        cart.UserID,
		AbandonedAt:   now,
		NextCallTime:  &nextCall,
		CorrelationID: correlationID,
	}
	if prior != nil {
		record.ID = prior.ID
		record.TotalAttempts = prior.TotalAttempts
		record.CorrelationID = prior.CorrelationID
		correlationID = prior.CorrelationID
	}
	record.OrderQueueStatus = domain.OrderQueueInQueue
	record.IsQualified = true
	record.NotQualifiedReasons = nil
	record.IsEligibleForQueue = true

	if err := s.abandons.Upsert(ctx, record); err != nil {
		return fmt.Errorf("upsert record: %w", err)
	}

	if err := s.carts.UpdateStatus(ctx, cart.ID, domain.CartStatusAbandoned, reasonInactivity); err != nil {
		return fmt.Errorf("mark cart abandoned: %w", err)
	}

	entry := &domain.CallQueueEntry{
		ID:              uuid.New(),
		AbandonmentID:   record.ID,
		AgentID:         agent.ID,
		CartID:          cart.ID,
		UserID:          cart.UserID,
		Status:          domain.QueueEntryPending,
		NextAttemptTime: nextCall,
		AddedAt:         now,
		CorrelationID:   correlationID,
	}
	if err := s.entries.Insert(ctx, entry); err != nil {
		return fmt.Errorf("insert queue entry: %w", err)
	}

	s.logger.Info("scanner: cart enqueued for recovery",
		zap.String("cart_id", cart.ID.String()),
		zap.String("agent_id", agent.ID.String()),
		zap.Time("next_call", nextCall))
	return nil
}
