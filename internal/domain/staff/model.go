// Package staff maps two employee kinds onto one "employees" table, told apart by the
// employee_type column.
package staff

import (
	"fmt"

	"github.com/shopspring/decimal"

	"unitwork/internal/core/entity"
	"unitwork/internal/core/schema"
)

const (
	Table         = "employees"
	Discriminator = "employee_type"

	TypePermanent = "permanent"
	TypeContract  = "contract"
)

// Employee holds the columns every kind shares.
type Employee struct {
	entity.BaseEntity

	FirstName string `db:"first_name" json:"firstName"`
	LastName  string `db:"last_name" json:"lastName"`
}

// FullName joins first and last name.
func (e *Employee) FullName() string {
	return e.FirstName + " " + e.LastName
}

// PermanentEmployee is paid a yearly salary.
type PermanentEmployee struct {
	Employee

	AnnualSalary decimal.Decimal `db:"annual_salary" json:"annualSalary"`
}

func (e *PermanentEmployee) String() string {
	return fmt.Sprintf("%s - Permanent - %s", e.FullName(), e.AnnualSalary.String())
}

// ContractEmployee is paid by the hour.
type ContractEmployee struct {
	Employee

	HourlyPay   decimal.Decimal `db:"hourly_pay" json:"hourlyPay"`
	HoursWorked int32           `db:"hours_worked" json:"hoursWorked"`
}

// Pay is HourlyPay times HoursWorked.
func (e *ContractEmployee) Pay() decimal.Decimal {
	return e.HourlyPay.Mul(decimal.NewFromInt32(e.HoursWorked))
}

func (e *ContractEmployee) String() string {
	return fmt.Sprintf("%s - Contract - %s", e.FullName(), e.Pay().String())
}

// Register maps both kinds onto the shared table.
func Register(m *schema.Mapper) {
	m.MustRegister(&PermanentEmployee{}, schema.Options{
		Name:               "PermanentEmployee",
		Table:              Table,
		Discriminator:      Discriminator,
		DiscriminatorValue: TypePermanent,
	})
	m.MustRegister(&ContractEmployee{}, schema.Options{
		Name:               "ContractEmployee",
		Table:              Table,
		Discriminator:      Discriminator,
		DiscriminatorValue: TypeContract,
	})
}
