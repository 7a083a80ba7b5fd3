package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/NeoboundAI/Skiddly-sub000/internal/app"
	"github.com/NeoboundAI/Skiddly-sub000/internal/scheduler"
	queuesvc "github.com/NeoboundAI/Skiddly-sub000/internal/service/queue"
)

// HandlerSet bundles all HTTP handlers.
type HandlerSet struct {
	container *app.Container
	manager   *queuesvc.Manager
	jobs      *scheduler.Scheduler
}

// NewHandlerSet creates a new handler bundle. The scheduler may be nil when
// the HTTP surface runs without colocated jobs; job routes then return 404.
func NewHandlerSet(container *app.Container, jobs *scheduler.Scheduler) *HandlerSet {
	return &HandlerSet{
		container: container,
		manager:   container.Services().QueueManager,
		jobs:      jobs,
	}
}

// Register wires all routes onto the fiber app.
func (h *HandlerSet) Register(app *fiber.App) {
	app.Get("/healthz", h.health)

	api := app.Group("/api")
	v1 := api.Group("/v1")

	queue := v1.Group("/queue")
	queue.Get("/stats", h.queueStats)
	queue.Post("/cleanup", h.queueCleanup)
	queue.Post("/reset-stuck", h.queueResetStuck)
	queue.Get("/entries/:id", h.getEntry)
	queue.Get("/entries/:id/eligibility", h.entryEligibility)
	queue.Get("/carts/:id/archive", h.cartArchive)

	if h.jobs != nil {
		jobs := v1.Group("/jobs")
		jobs.Get("/", h.listJobs)
		jobs.Get("/:id", h.getJob)
		jobs.Post("/:id/trigger", h.triggerJob)
		jobs.Post("/:id/stop", h.stopJob)
	}

	v1.Post("/call-events", h.ingestCallEvent)
}

// ErrorHandler provides centralized error responses.
func (h *HandlerSet) ErrorHandler(ctx *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := err.Error()

	if fiberErr, ok := err.(*fiber.Error); ok {
		code = fiberErr.Code
		message = fiberErr.Message
	}

	if code == fiber.StatusInternalServerError {
		h.container.Logger.Error("request failed", zap.Error(err))
	}

	return ctx.Status(code).JSON(fiber.Map{
		"error":    message,
		"trace_id": ctx.GetRespHeader("Trace-Id"),
	})
}

func (h *HandlerSet) health(ctx *fiber.Ctx) error {
	healthCtx, cancel := context.WithTimeout(ctx.Context(), 2*time.Second)
	defer cancel()

	errs := make(map[string]string)

	if err := h.container.Postgres.DB().PingContext(healthCtx); err != nil {
		errs["postgres"] = err.Error()
	}

	if err := h.container.Redis.Inner().Ping(healthCtx).Err(); err != nil {
		errs["redis"] = err.Error()
	}

	if err := h.container.Scylla.Session().Query("SELECT now() FROM system.local").WithContext(healthCtx).Exec(); err != nil {
		errs["scylla"] = err.Error()
	}

	status := fiber.StatusOK
	if len(errs) > 0 {
		status = fiber.StatusServiceUnavailable
	}

	return ctx.Status(status).JSON(fiber.Map{"status": "ok", "errors": errs})
}
