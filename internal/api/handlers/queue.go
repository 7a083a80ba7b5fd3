package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/NeoboundAI/Skiddly-sub000/internal/domain"
)

type entryResponse struct {
	ID              uuid.UUID               `json:"id"`
	AbandonmentID   uuid.UUID               `json:"abandonment_id"`
	AgentID         uuid.UUID               `json:"agent_id"`
	CartID          uuid.UUID               `json:"cart_id"`
	UserID          uuid.UUID               `json:"user_id"`
	Status          domain.QueueEntryStatus `json:"status"`
	NextAttemptTime time.Time               `json:"next_attempt_time"`
	AttemptNumber   int                     `json:"attempt_number"`
	AddedAt         time.Time               `json:"added_at"`
	LastProcessedAt *time.Time              `json:"last_processed_at,omitempty"`
	ProcessingNotes string                  `json:"processing_notes,omitempty"`
	CorrelationID   uuid.UUID               `json:"correlation_id"`
}

func toEntryResponse(e *domain.CallQueueEntry) entryResponse {
	return entryResponse{
		ID:              e.ID,
		AbandonmentID:   e.AbandonmentID,
		AgentID:         e.AgentID,
		CartID:          e.CartID,
		UserID:          e.UserID,
		Status:          e.Status,
		NextAttemptTime: e.NextAttemptTime,
		AttemptNumber:   e.AttemptNumber,
		AddedAt:         e.AddedAt,
		LastProcessedAt: e.LastProcessedAt,
		ProcessingNotes: e.ProcessingNotes,
		CorrelationID:   e.CorrelationID,
	}
}

func (h *HandlerSet) queueStats(ctx *fiber.Ctx) error {
	stats, err := h.manager.Stats(ctx.Context())
	if err != nil {
		return translateError(err)
	}
	return ctx.JSON(fiber.Map{"counts": stats})
}

type cleanupRequest struct {
	DaysOld int `json:"days_old"`
}

func (h *HandlerSet) queueCleanup(ctx *fiber.Ctx) error {
	var req cleanupRequest
	if len(ctx.Body()) > 0 {
		if err := ctx.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}
	}
	removed, err := h.manager.CleanupOldEntries(ctx.Context(), req.DaysOld)
	if err != nil {
		return translateError(err)
	}
	return ctx.JSON(fiber.Map{"removed": removed})
}

func (h *HandlerSet) queueResetStuck(ctx *fiber.Ctx) error {
	recovered, err := h.manager.ResetStuckProcessing(ctx.Context(), h.container.Config.Processor.StuckTimeout)
	if err != nil {
		return translateError(err)
	}
	return ctx.JSON(fiber.Map{"recovered": len(recovered)})
}

func (h *HandlerSet) getEntry(ctx *fiber.Ctx) error {
	id, err := uuid.Parse(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid entry id")
	}
	entry, err := h.manager.GetEntry(ctx.Context(), id)
	if err != nil {
		return translateError(err)
	}
	return ctx.JSON(toEntryResponse(entry))
}

func (h *HandlerSet) entryEligibility(ctx *fiber.Ctx) error {
	id, err := uuid.Parse(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid entry id")
	}
	report, err := h.manager.CheckEligibilityForEntry(ctx.Context(), id)
	if err != nil {
		return translateError(err)
	}
	return ctx.JSON(fiber.Map{
		"entry_id": report.EntryID,
		"eligible": report.Eligible,
		"reasons":  report.Reasons,
	})
}

func (h *HandlerSet) cartArchive(ctx *fiber.Ctx) error {
	id, err := uuid.Parse(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid cart id")
	}
	limit := ctx.QueryInt("limit", 50)
	records, err := h.container.Repositories().Archive.ListByCart(ctx.Context(), id, limit)
	if err != nil {
		return translateError(err)
	}
	return ctx.JSON(fiber.Map{"records": records})
}
