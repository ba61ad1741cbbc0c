package catalog

import (
	"context"

	"unitwork/internal/core/apperror"
	"unitwork/internal/core/id"
	"unitwork/internal/core/schema"
	"unitwork/internal/core/tx"
	"unitwork/internal/core/uow"
)

// Service runs every call in its own unit of work, the way a request-scoped data
// context would.
type Service struct {
	backend tx.Backend
	mapper  *schema.Mapper
	cfg     uow.Config
}

// NewService creates the service and registers the catalog mappings on mapper.
func NewService(backend tx.Backend, mapper *schema.Mapper, cfg uow.Config) *Service {
	Register(mapper)
	return &Service{backend: backend, mapper: mapper, cfg: cfg}
}

func (s *Service) unit() *uow.UnitOfWork {
	return uow.New(s.backend, s.mapper, s.cfg)
}

// GetProduct returns one product.
func (s *Service) GetProduct(ctx context.Context, productID id.ID) (*Product, error) {
	return uow.Get[Product](ctx, s.unit(), productID)
}

// ListProducts returns every product without tracking them.
func (s *Service) ListProducts(ctx context.Context) ([]*Product, error) {
	return uow.FindNoTracking[Product](ctx, s.unit(), nil)
}

// ListCategories returns every category without tracking them.
func (s *Service) ListCategories(ctx context.Context) ([]*Category, error) {
	return uow.FindNoTracking[Category](ctx, s.unit(), nil)
}

// CreateCategory inserts c, assigning an ID when it has none.
func (s *Service) CreateCategory(ctx context.Context, c *Category) error {
	if err := c.Validate(ctx); err != nil {
		return err
	}
	if id.IsNil(c.ID) {
		c.ID = id.New()
	}

	u := s.unit()
	if err := u.Add(c); err != nil {
		return err
	}
	return u.SaveChanges(ctx)
}

// SaveProduct inserts p when it carries no row version, otherwise overwrites the
// stored product provided its row version still matches. A stale version fails with
// an *apperror.ConflictError holding both the client and the stored values.
func (s *Service) SaveProduct(ctx context.Context, p *Product) error {
	if err := p.Validate(ctx); err != nil {
		return err
	}

	u := s.unit()
	if len(p.RowVersion) == 0 {
		if id.IsNil(p.ID) {
			p.ID = id.New()
		}
		if _, err := uow.Get[Category](ctx, u, p.CategoryID); err != nil {
			if apperror.IsNotFound(err) {
				return apperror.NewValidation("category does not exist").
					WithDetail("field", "categoryId").
					WithDetail("value", p.CategoryID.String())
			}
			return err
		}
		if err := u.Add(p); err != nil {
			return err
		}
		return u.SaveChanges(ctx)
	}

	if id.IsNil(p.ID) {
		return apperror.NewValidation("id is required with a row version").WithDetail("field", "id")
	}
	if err := u.Update(p); err != nil {
		return err
	}
	return u.SaveChanges(ctx)
}

// DeleteProduct removes a product provided rowVersion still matches the stored one.
func (s *Service) DeleteProduct(ctx context.Context, productID id.ID, rowVersion []byte) error {
	if len(rowVersion) == 0 {
		return apperror.NewValidation("row version is required").WithDetail("field", "rowVersion")
	}

	u := s.unit()
	p := &Product{ID: productID, RowVersion: rowVersion}
	if err := u.Attach(p); err != nil {
		return err
	}
	if err := u.Remove(p); err != nil {
		return err
	}
	return u.SaveChanges(ctx)
}
