package dto

import (
	"github.com/shopspring/decimal"

	"unitwork/internal/domain/staff"
)

// EmployeeResponse flattens both employee kinds; fields of the other kind are omitted.
type EmployeeResponse struct {
	ID           string           `json:"id"`
	Type         string           `json:"type"`
	FirstName    string           `json:"firstName"`
	LastName     string           `json:"lastName"`
	AnnualSalary *decimal.Decimal `json:"annualSalary,omitempty"`
	HourlyPay    *decimal.Decimal `json:"hourlyPay,omitempty"`
	HoursWorked  *int32           `json:"hoursWorked,omitempty"`
	Description  string           `json:"description"`
}

// FromPermanent converts a permanent employee.
func FromPermanent(e *staff.PermanentEmployee) EmployeeResponse {
	return EmployeeResponse{
		ID:           e.ID.String(),
		Type:         staff.TypePermanent,
		FirstName:    e.FirstName,
		LastName:     e.LastName,
		AnnualSalary: &e.AnnualSalary,
		Description:  e.String(),
	}
}

// FromContract converts a contract employee.
func FromContract(e *staff.ContractEmployee) EmployeeResponse {
	return EmployeeResponse{
		ID:          e.ID.String(),
		Type:        staff.TypeContract,
		FirstName:   e.FirstName,
		LastName:    e.LastName,
		HourlyPay:   &e.HourlyPay,
		HoursWorked: &e.HoursWorked,
		Description: e.String(),
	}
}
