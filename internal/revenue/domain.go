package revenue

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stay-revenue/internal/platform/httpx"
)

// FeeType separates the room rate from guest-facing fees.
type FeeType string

const (
	// FeeTypeAccommodation is the nightly room revenue.
	FeeTypeAccommodation FeeType = "ACCOMMODATION"
	// FeeTypeGuestFee covers cleaning, pet, resort and similar fees.
	FeeTypeGuestFee FeeType = "GUEST_FEE"
)

// FeeUnit describes how a fee rate scales with the stay.
type FeeUnit string

const (
	UnitPerStay         FeeUnit = "PER_STAY"
	UnitPerDay          FeeUnit = "PER_DAY"
	UnitPerPerson       FeeUnit = "PER_PERSON"
	UnitPerPersonPerDay FeeUnit = "PER_PERSON_PER_DAY"
)

// DeductionType enumerates amounts removed from a fee before payout.
type DeductionType string

const (
	DeductionTax        DeductionType = "TAX"
	DeductionCreditCard DeductionType = "CREDIT_CARD"
)

// Deduction is an absolute, non-negative amount subtracted from one fee.
type Deduction struct {
	ID          int64
	Type        DeductionType
	Description string
	Value       decimal.Decimal
}

// InvalidDeductionError rejects a deduction at construction time.
type InvalidDeductionError struct {
	Description string
	Value       decimal.Decimal
	Reason      string
}

func (e *InvalidDeductionError) Error() string {
	return fmt.Sprintf("revenue: deduction %q (%s): %s", e.Description, e.Value.String(), e.Reason)
}

// Unwrap classifies the error as a validation failure.
func (e *InvalidDeductionError) Unwrap() error { return httpx.ErrValidation }

// NewDeduction validates and builds a deduction.
func NewDeduction(kind DeductionType, description string, value decimal.Decimal) (Deduction, error) {
	if kind != DeductionTax && kind != DeductionCreditCard {
		return Deduction{}, &InvalidDeductionError{Description: description, Value: value, Reason: "unknown type " + string(kind)}
	}
	if value.IsNegative() {
		return Deduction{}, &InvalidDeductionError{Description: description, Value: value, Reason: "must not be negative"}
	}
	return Deduction{Type: kind, Description: description, Value: value}, nil
}

// RevenueFee is a single line of a reservation's revenue.
type RevenueFee struct {
	ID      int64
	Name    string
	Value   decimal.Decimal
	Unit    FeeUnit
	Taxable bool
	// PmcShare overrides the reservation default when set.
	PmcShare   *decimal.Decimal
	Type       FeeType
	Deductions []Deduction
}

// DeductionTotal sums deductions of one type.
func (f RevenueFee) DeductionTotal(kind DeductionType) decimal.Decimal {
	total := decimal.Zero
	for _, d := range f.Deductions {
		if d.Type == kind {
			total = total.Add(d.Value)
		}
	}
	return total
}

// HasDeduction reports whether the fee carries a deduction of the given type.
func (f RevenueFee) HasDeduction(kind DeductionType) bool {
	for _, d := range f.Deductions {
		if d.Type == kind {
			return true
		}
	}
	return false
}

// Revenue is the financial record attached 1:1 to a reservation.
type Revenue struct {
	ID                   int64
	ReservationID        int64
	AccommodationRevenue decimal.Decimal
	PmcShare             decimal.Decimal
	ChannelCommission    *decimal.Decimal
	Discount             *decimal.Decimal
	Currency             string
	Fees                 []RevenueFee
	UpdatedAt            time.Time
}

// ShareFor returns the effective manager share of a fee.
func (r Revenue) ShareFor(fee RevenueFee) decimal.Decimal {
	if fee.PmcShare != nil {
		return *fee.PmcShare
	}
	return r.PmcShare
}

// Validate checks every deduction and fee type.
func (r Revenue) Validate() error {
	for _, fee := range r.Fees {
		if fee.Type != FeeTypeAccommodation && fee.Type != FeeTypeGuestFee {
			return fmt.Errorf("%w: fee %q has unknown type %q", httpx.ErrValidation, fee.Name, fee.Type)
		}
		for _, d := range fee.Deductions {
			if _, err := NewDeduction(d.Type, d.Description, d.Value); err != nil {
				return err
			}
		}
	}
	if r.ChannelCommission != nil && r.ChannelCommission.IsNegative() {
		return fmt.Errorf("%w: channel commission must not be negative", httpx.ErrValidation)
	}
	return nil
}

// GrossValue sums the value of every fee.
func (r Revenue) GrossValue() decimal.Decimal {
	total := decimal.Zero
	for _, fee := range r.Fees {
		total = total.Add(fee.Value)
	}
	return total
}

// Stay carries the reservation facts needed to resolve fee units.
type Stay struct {
	Nights int
	Guests int
}

// ResolveUnitValue converts a unit rate to the amount charged for the stay.
func ResolveUnitValue(unit FeeUnit, rate decimal.Decimal, stay Stay) (decimal.Decimal, error) {
	nights := decimal.NewFromInt(int64(stay.Nights))
	guests := decimal.NewFromInt(int64(stay.Guests))
	switch unit {
	case UnitPerStay, "":
		return rate, nil
	case UnitPerDay:
		return rate.Mul(nights), nil
	case UnitPerPerson:
		return rate.Mul(guests), nil
	case UnitPerPersonPerDay:
		return rate.Mul(guests).Mul(nights), nil
	default:
		return decimal.Zero, fmt.Errorf("%w: unknown fee unit %q", httpx.ErrValidation, unit)
	}
}
