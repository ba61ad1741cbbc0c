package handlers

import (
	"github.com/gin-gonic/gin"

	"unitwork/internal/domain/catalog"
	"unitwork/internal/infrastructure/http/v1/dto"
)

// CategoryHandler handles category endpoints.
type CategoryHandler struct {
	*BaseHandler
	service *catalog.Service
}

// NewCategoryHandler creates a new category handler.
func NewCategoryHandler(base *BaseHandler, service *catalog.Service) *CategoryHandler {
	return &CategoryHandler{BaseHandler: base, service: service}
}

// Create adds a category.
// POST /api/categories
func (h *CategoryHandler) Create(c *gin.Context) {
	var req dto.CreateCategoryRequest
	if !h.BindJSON(c, &req) {
		return
	}
	cat := catalog.NewCategory(req.Name)
	if err := h.service.CreateCategory(c.Request.Context(), cat); err != nil {
		h.Error(c, err)
		return
	}
	h.Created(c, dto.FromCategory(cat))
}

// List returns every category.
// GET /api/categories
func (h *CategoryHandler) List(c *gin.Context) {
	list, err := h.service.ListCategories(c.Request.Context())
	if err != nil {
		h.Error(c, err)
		return
	}
	out := make([]dto.CategoryResponse, 0, len(list))
	for _, cat := range list {
		out = append(out, dto.FromCategory(cat))
	}
	h.OK(c, dto.NewListResponse(out))
}
