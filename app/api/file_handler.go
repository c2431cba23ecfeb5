package api

import (
	"context"
	"errors"
	"io"

	"fapchat/loader/service"
	ltypes "fapchat/loader/types"
	"fapchat/types"

	"github.com/gofiber/fiber/v2"
)

type Ingester interface {
	Ingest(ctx context.Context, kind ltypes.Kind, r io.Reader, opts ltypes.Options) (*types.IngestResponse, error)
}

type IngestHandler struct {
	ingester Ingester
}

func NewIngestHandler(i Ingester) *IngestHandler {
	return &IngestHandler{
		ingester: i,
	}
}

// HandleIngest reads one CSV upload of the kind named in the path.
func (h *IngestHandler) HandleIngest(c *fiber.Ctx) error {
	kind, err := ltypes.ParseKind(c.Params("kind"))
	if err != nil {
		return NewError(fiber.StatusBadRequest, err.Error())
	}

	var params types.IngestParams
	if c.BodyParser(&params) != nil {
		return ErrBadRequest()
	}
	if errs := types.Validate(&params); len(errs) > 0 {
		return NewValidationError(errs)
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		return ErrMissingFile()
	}
	file, err := fileHeader.Open()
	if err != nil {
		return err
	}
	defer file.Close()

	resp, err := h.ingester.Ingest(c.UserContext(), kind, file, ltypes.Options{
		OwnerID:     params.OwnerID,
		DisplayName: params.DisplayName,
	})
	var inputErr *service.InputError
	if errors.As(err, &inputErr) {
		return NewError(fiber.StatusUnprocessableEntity, inputErr.Err.Error())
	}
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(resp)
}
