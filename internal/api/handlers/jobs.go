package handlers

import (
	"github.com/gofiber/fiber/v2"
)

func (h *HandlerSet) listJobs(ctx *fiber.Ctx) error {
	return ctx.JSON(fiber.Map{"jobs": h.jobs.Statuses()})
}

func (h *HandlerSet) getJob(ctx *fiber.Ctx) error {
	st, err := h.jobs.JobStatus(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	}
	return ctx.JSON(st)
}

func (h *HandlerSet) triggerJob(ctx *fiber.Ctx) error {
	id := ctx.Params("id")
	if err := h.jobs.Trigger(ctx.Context(), id); err != nil {
		return fiber.NewError(fiber.StatusConflict, err.Error())
	}
	st, err := h.jobs.JobStatus(id)
	if err != nil {
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	}
	return ctx.JSON(st)
}

func (h *HandlerSet) stopJob(ctx *fiber.Ctx) error {
	if err := h.jobs.StopJob(ctx.Params("id")); err != nil {
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	}
	return ctx.SendStatus(fiber.StatusNoContent)
}
