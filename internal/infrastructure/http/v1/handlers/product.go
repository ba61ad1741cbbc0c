package handlers

import (
	"github.com/gin-gonic/gin"

	"unitwork/internal/core/apperror"
	"unitwork/internal/domain/catalog"
	"unitwork/internal/infrastructure/http/v1/dto"
)

// ProductHandler handles the products API.
type ProductHandler struct {
	*BaseHandler
	service *catalog.Service
}

// NewProductHandler creates a new product handler.
func NewProductHandler(base *BaseHandler, service *catalog.Service) *ProductHandler {
	return &ProductHandler{BaseHandler: base, service: service}
}

// Get returns one product.
// GET /api/products/:id
func (h *ProductHandler) Get(c *gin.Context) {
	pid, ok := h.ParamID(c)
	if !ok {
		return
	}
	p, err := h.service.GetProduct(c.Request.Context(), pid)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.FromProduct(p))
}

// List returns every product.
// GET /api/products
func (h *ProductHandler) List(c *gin.Context) {
	list, err := h.service.ListProducts(c.Request.Context())
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.NewListResponse(dto.FromProducts(list)))
}

// Save creates a product, or overwrites it when the body carries the row version the
// client last read. A stale row version answers 409 with both versions of the row.
// POST /api/products
func (h *ProductHandler) Save(c *gin.Context) {
	var req dto.SaveProductRequest
	if !h.BindJSON(c, &req) {
		return
	}
	p, err := req.ToEntity()
	if err != nil {
		h.Error(c, err)
		return
	}

	if err := h.service.SaveProduct(c.Request.Context(), p); err != nil {
		h.Error(c, productConflict(err))
		return
	}
	h.OK(c, dto.FromProduct(p))
}

// Delete removes a product predicated on its row version.
// DELETE /api/products/:id
func (h *ProductHandler) Delete(c *gin.Context) {
	pid, ok := h.ParamID(c)
	if !ok {
		return
	}
	var req dto.DeleteProductRequest
	if !h.BindJSON(c, &req) {
		return
	}
	if err := h.service.DeleteProduct(c.Request.Context(), pid, req.RowVersion); err != nil {
		h.Error(c, productConflict(err))
		return
	}
	h.NoContent(c)
}

// productConflict words a conflict for product clients.
func productConflict(err error) error {
	conflict, ok := apperror.AsConflict(err)
	if !ok {
		return err
	}
	appErr := conflict.AppError()
	if conflict.Kind == apperror.ConflictRowDeleted {
		appErr.Message = "This product removed by another user."
	} else {
		appErr.Message = "This product updated by another user."
	}
	return appErr
}
