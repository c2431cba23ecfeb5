package api

import (
	"fapchat/intent"

	"github.com/gofiber/fiber/v2"
)

type CatalogSource interface {
	Catalog() *intent.Catalog
}

type CatalogHandler struct {
	source CatalogSource
}

func NewCatalogHandler(src CatalogSource) *CatalogHandler {
	return &CatalogHandler{
		source: src,
	}
}

// HandleCatalog returns the subjects, record types and terms the resolver
// accepts.
func (h *CatalogHandler) HandleCatalog(c *fiber.Ctx) error {
	return c.JSON(h.source.Catalog().Spec())
}
