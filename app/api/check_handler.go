package api

import (
	"context"

	"github.com/gofiber/fiber/v2"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type CheckHandler struct {
	backend Pinger
}

func NewCheckHandler(p Pinger) *CheckHandler {
	return &CheckHandler{
		backend: p,
	}
}

func (h CheckHandler) HandleHealthy(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"result": "ok"})
}

// HandleReady reports whether the vector store answers.
func (h CheckHandler) HandleReady(c *fiber.Ctx) error {
	if h.backend == nil {
		return ErrNotReady("store not configured")
	}
	if err := h.backend.Ping(c.UserContext()); err != nil {
		return ErrNotReady("store unavailable")
	}
	return c.JSON(fiber.Map{"result": "ready"})
}
