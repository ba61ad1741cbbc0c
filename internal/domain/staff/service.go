package staff

import (
	"context"

	"github.com/shopspring/decimal"

	"unitwork/internal/core/entity"
	"unitwork/internal/core/schema"
	"unitwork/internal/core/tx"
	"unitwork/internal/core/uow"
)

// Service reads and seeds employees.
type Service struct {
	backend tx.Backend
	mapper  *schema.Mapper
	cfg     uow.Config
}

// NewService creates the service and registers the employee mappings on mapper.
func NewService(backend tx.Backend, mapper *schema.Mapper, cfg uow.Config) *Service {
	Register(mapper)
	return &Service{backend: backend, mapper: mapper, cfg: cfg}
}

// Seed inserts a fixed set of employees when the table is empty. It reports whether
// anything was inserted.
func (s *Service) Seed(ctx context.Context) (bool, error) {
	u := uow.New(s.backend, s.mapper, s.cfg)

	var seeded bool
	err := u.RunInTransaction(ctx, tx.Serializable, func(ctx context.Context) error {
		permanent, err := uow.FindNoTracking[PermanentEmployee](ctx, u, nil)
		if err != nil {
			return err
		}
		contract, err := uow.FindNoTracking[ContractEmployee](ctx, u, nil)
		if err != nil {
			return err
		}
		if len(permanent)+len(contract) > 0 {
			return nil
		}

		for _, e := range seedEmployees() {
			if err := u.Add(e); err != nil {
				return err
			}
		}
		seeded = true
		return nil
	})
	return seeded, err
}

// PermanentEmployees returns the permanent staff.
func (s *Service) PermanentEmployees(ctx context.Context) ([]*PermanentEmployee, error) {
	return uow.FindNoTracking[PermanentEmployee](ctx, uow.New(s.backend, s.mapper, s.cfg), nil)
}

// ContractEmployees returns the contract staff.
func (s *Service) ContractEmployees(ctx context.Context) ([]*ContractEmployee, error) {
	return uow.FindNoTracking[ContractEmployee](ctx, uow.New(s.backend, s.mapper, s.cfg), nil)
}

func seedEmployees() []any {
	contract := func(first, last string) *ContractEmployee {
		return &ContractEmployee{
			Employee:    Employee{BaseEntity: entity.NewBaseEntity(), FirstName: first, LastName: last},
			HourlyPay:   decimal.NewFromInt(15),
			HoursWorked: 25,
		}
	}
	permanent := func(first, last string, salary int64) *PermanentEmployee {
		return &PermanentEmployee{
			Employee:     Employee{BaseEntity: entity.NewBaseEntity(), FirstName: first, LastName: last},
			AnnualSalary: decimal.NewFromInt(salary),
		}
	}
	return []any{
		contract("John", "Smith"),
		permanent("Adam", "Wilson", 25000),
		contract("Steven", "Harris"),
		permanent("Robinson", "Lewis", 30000),
		contract("Taylor", "Wright"),
	}
}
