package handlers

import (
	"github.com/gin-gonic/gin"

	"unitwork/internal/domain/staff"
	"unitwork/internal/infrastructure/http/v1/dto"
)

// EmployeeHandler lists employees by kind.
type EmployeeHandler struct {
	*BaseHandler
	service *staff.Service
}

// NewEmployeeHandler creates a new employee handler.
func NewEmployeeHandler(base *BaseHandler, service *staff.Service) *EmployeeHandler {
	return &EmployeeHandler{BaseHandler: base, service: service}
}

// Permanent lists permanent employees.
// GET /api/employees/permanent
func (h *EmployeeHandler) Permanent(c *gin.Context) {
	list, err := h.service.PermanentEmployees(c.Request.Context())
	if err != nil {
		h.Error(c, err)
		return
	}
	out := make([]dto.EmployeeResponse, 0, len(list))
	for _, e := range list {
		out = append(out, dto.FromPermanent(e))
	}
	h.OK(c, dto.NewListResponse(out))
}

// Contract lists contract employees.
// GET /api/employees/contract
func (h *EmployeeHandler) Contract(c *gin.Context) {
	list, err := h.service.ContractEmployees(c.Request.Context())
	if err != nil {
		h.Error(c, err)
		return
	}
	out := make([]dto.EmployeeResponse, 0, len(list))
	for _, e := range list {
		out = append(out, dto.FromContract(e))
	}
	h.OK(c, dto.NewListResponse(out))
}
