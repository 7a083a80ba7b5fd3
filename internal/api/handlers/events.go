package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/NeoboundAI/Skiddly-sub000/internal/queue"
)

type callEventRequest struct {
	EntryID       uuid.UUID `json:"entry_id"`
	CallID        string    `json:"call_id"`
	Outcome       string    `json:"outcome"`
	EndedReason   string    `json:"ended_reason"`
	DurationMs    int64     `json:"duration_ms"`
	CorrelationID uuid.UUID `json:"correlation_id"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// ingestCallEvent accepts a bridge callback and forwards it onto the
// call-event topic so the consumer worker applies it with the same ordering
// guarantees as events produced directly by the bridge.
func (h *HandlerSet) ingestCallEvent(ctx *fiber.Ctx) error {
	var req callEventRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if req.EntryID == uuid.Nil {
		return fiber.NewError(fiber.StatusBadRequest, "entry_id is required")
	}
	switch req.Outcome {
	case queue.CallOutcomeCompleted, queue.CallOutcomeFailed, queue.CallOutcomeNoAnswer:
	default:
		return fiber.NewError(fiber.StatusBadRequest, "unknown outcome")
	}
	if req.OccurredAt.IsZero() {
		req.OccurredAt = time.Now().UTC()
	}

	msg := queue.CallEventMessage{
		EntryID:       req.EntryID,
		CallID:        req.CallID,
		Outcome:       req.Outcome,
		EndedReason:   req.EndedReason,
		DurationMs:    req.DurationMs,
		CorrelationID: req.CorrelationID,
		OccurredAt:    req.OccurredAt,
	}
	if err := h.container.Publishers().CallEvents.Publish(ctx.Context(), msg); err != nil {
		return translateError(err)
	}
	return ctx.Status(fiber.StatusAccepted).JSON(fiber.Map{"status": "accepted"})
}
