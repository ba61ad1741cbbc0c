package dto

import (
	"github.com/shopspring/decimal"

	"unitwork/internal/core/apperror"
	"unitwork/internal/core/id"
	"unitwork/internal/domain/catalog"
)

// --- Request DTOs ---

// SaveProductRequest creates a product (no rowVersion) or overwrites one (rowVersion
// as last read, base64).
type SaveProductRequest struct {
	ID         string          `json:"id"`
	CategoryID string          `json:"categoryId" binding:"required"`
	Name       string          `json:"name" binding:"required"`
	UnitPrice  decimal.Decimal `json:"unitPrice"`
	RowVersion []byte          `json:"rowVersion"`
}

// ToEntity converts DTO to domain entity.
func (r *SaveProductRequest) ToEntity() (*catalog.Product, error) {
	p := &catalog.Product{
		Name:       r.Name,
		UnitPrice:  r.UnitPrice,
		RowVersion: r.RowVersion,
	}
	if r.ID != "" {
		pid, err := id.Parse(r.ID)
		if err != nil {
			return nil, apperror.NewValidation("invalid id").WithDetail("field", "id")
		}
		p.ID = pid
	}
	cid, err := id.Parse(r.CategoryID)
	if err != nil {
		return nil, apperror.NewValidation("invalid category id").WithDetail("field", "categoryId")
	}
	p.CategoryID = cid
	return p, nil
}

// DeleteProductRequest carries the row version a delete is predicated on.
type DeleteProductRequest struct {
	RowVersion []byte `json:"rowVersion" binding:"required"`
}

// CreateCategoryRequest is the request body for creating a category.
type CreateCategoryRequest struct {
	Name string `json:"name" binding:"required"`
}

// --- Response DTOs ---

// ProductResponse is the response body for a product.
type ProductResponse struct {
	ID         string          `json:"id"`
	CategoryID string          `json:"categoryId"`
	Name       string          `json:"name"`
	UnitPrice  decimal.Decimal `json:"unitPrice"`
	RowVersion []byte          `json:"rowVersion"`
}

// FromProduct creates a response from the entity.
func FromProduct(p *catalog.Product) ProductResponse {
	return ProductResponse{
		ID:         p.ID.String(),
		CategoryID: p.CategoryID.String(),
		Name:       p.Name,
		UnitPrice:  p.UnitPrice,
		RowVersion: p.RowVersion,
	}
}

// FromProducts converts a list.
func FromProducts(list []*catalog.Product) []ProductResponse {
	out := make([]ProductResponse, 0, len(list))
	for _, p := range list {
		out = append(out, FromProduct(p))
	}
	return out
}

// CategoryResponse is the response body for a category.
type CategoryResponse struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	RowVersion int64  `json:"rowVersion"`
}

// FromCategory creates a response from the entity.
func FromCategory(c *catalog.Category) CategoryResponse {
	return CategoryResponse{ID: c.ID.String(), Name: c.Name, RowVersion: c.RowVersion}
}
