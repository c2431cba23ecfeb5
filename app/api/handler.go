package api

import (
	"context"
	"errors"
	"strings"
	"time"

	"fapchat/app/agent"
	"fapchat/types"

	"github.com/gofiber/fiber/v2"
)

type Orchestrator interface {
	Handle(ctx context.Context, req agent.Request) (*types.QueryResult, error)
}

type SearchHandler struct {
	orchestrator Orchestrator
	now          func() time.Time
}

func NewSearchHandler(o Orchestrator) *SearchHandler {
	return &SearchHandler{
		orchestrator: o,
		now:          time.Now,
	}
}

func (h *SearchHandler) HandleSearch(c *fiber.Ctx) error {
	var params types.SearchParams
	if c.BodyParser(&params) != nil {
		return ErrBadRequest()
	}
	if strings.TrimSpace(params.Query) == "" {
		return ErrMissingQuery()
	}

	if errs := types.Validate(&params); len(errs) > 0 {
		return NewValidationError(errs)
	}

	res, err := h.orchestrator.Handle(c.UserContext(), agent.Request{
		Query:   params.Query,
		OwnerID: params.OwnerID,
		History: params.History,
	})
	if errors.Is(err, agent.ErrEmptyQuery) {
		return ErrMissingQuery()
	}
	if err != nil {
		return err
	}

	return c.JSON(types.NewSearchResponse(res, h.now()))
}
