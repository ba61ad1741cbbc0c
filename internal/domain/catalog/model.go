// Package catalog provides the product catalog used by the products API: categories and
// products guarded by a row version.
package catalog

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"

	"unitwork/internal/core/apperror"
	"unitwork/internal/core/entity"
	"unitwork/internal/core/id"
	"unitwork/internal/core/schema"
)

// Category groups products.
type Category struct {
	entity.BaseEntity

	Name string `db:"name" json:"name"`
}

// NewCategory creates a category with a fresh ID.
func NewCategory(name string) *Category {
	return &Category{BaseEntity: entity.NewBaseEntity(), Name: name}
}

// Validate checks required fields.
func (c *Category) Validate(_ context.Context) error {
	if strings.TrimSpace(c.Name) == "" {
		return apperror.NewValidation("name is required").WithDetail("field", "name")
	}
	return nil
}

// Product is the entity edited concurrently through the API. RowVersion is an 8-byte
// big-endian counter, sent to clients as base64 and echoed back on update.
type Product struct {
	ID         id.ID           `db:"id" track:"key" json:"id"`
	CategoryID id.ID           `db:"category_id" json:"categoryId"`
	Name       string          `db:"name" json:"name"`
	UnitPrice  decimal.Decimal `db:"unit_price" json:"unitPrice"`
	RowVersion []byte          `db:"row_version" track:"version" json:"rowVersion"`
}

// Validate checks required fields and the price.
func (p *Product) Validate(_ context.Context) error {
	if strings.TrimSpace(p.Name) == "" {
		return apperror.NewValidation("name is required").WithDetail("field", "name")
	}
	if id.IsNil(p.CategoryID) {
		return apperror.NewValidation("category is required").WithDetail("field", "categoryId")
	}
	if p.UnitPrice.IsNegative() {
		return apperror.NewValidation("unit price must not be negative").
			WithDetail("field", "unitPrice").
			WithDetail("value", p.UnitPrice.String())
	}
	return nil
}

// Register maps the catalog entities.
func Register(m *schema.Mapper) {
	m.MustRegister(&Category{}, schema.Options{Name: "Category", Table: "categories"})
	m.MustRegister(&Product{}, schema.Options{Name: "Product", Table: "products"})
}
