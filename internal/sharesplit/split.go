// Package sharesplit models a money amount divided between the property
// manager and the owner.
package sharesplit

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stay-revenue/internal/platform/httpx"
)

var one = decimal.NewFromInt(1)

// Split is an immutable amount with its manager/owner division. Shares are
// never stored; they are derived from the amounts on every read.
type Split struct {
	amount        decimal.Decimal
	managerAmount decimal.Decimal
	ownerAmount   decimal.Decimal
}

// InvalidShareError reports a manager share outside [0, 1].
type InvalidShareError struct {
	Share decimal.Decimal
}

func (e *InvalidShareError) Error() string {
	return fmt.Sprintf("sharesplit: manager share %s outside [0,1]", e.Share.String())
}

// Unwrap classifies the error as a validation failure.
func (e *InvalidShareError) Unwrap() error {
	return httpx.ErrValidation
}

// Zero returns the all-zero split.
func Zero() Split {
	return Split{amount: decimal.Zero, managerAmount: decimal.Zero, ownerAmount: decimal.Zero}
}

// FromManagerShare divides amount using managerShare for the manager and the
// remainder for the owner.
func FromManagerShare(amount, managerShare decimal.Decimal) (Split, error) {
	if managerShare.IsNegative() || managerShare.GreaterThan(one) {
		return Split{}, &InvalidShareError{Share: managerShare}
	}
	return fromShare(amount, managerShare), nil
}

// MustFromManagerShare is FromManagerShare for constant shares known to be valid.
func MustFromManagerShare(amount, managerShare decimal.Decimal) Split {
	s, err := FromManagerShare(amount, managerShare)
	if err != nil {
		panic(err)
	}
	return s
}

// FromAmounts builds a split from explicit totals. The manager and owner
// amounts are not required to add up to amount.
func FromAmounts(amount, managerAmount, ownerAmount decimal.Decimal) Split {
	return Split{amount: amount, managerAmount: managerAmount, ownerAmount: ownerAmount}
}

func fromShare(amount, managerShare decimal.Decimal) Split {
	manager := amount.Mul(managerShare)
	return Split{
		amount:        amount,
		managerAmount: manager,
		ownerAmount:   amount.Mul(one.Sub(managerShare)),
	}
}

// Allocate splits amount with the same manager share as like. When like has
// no amount the whole value goes to the owner.
func Allocate(amount decimal.Decimal, like Split) Split {
	return fromShare(amount, like.ManagerShare())
}

// Sum adds splits component-wise.
func Sum(splits ...Split) Split {
	total := Zero()
	for _, s := range splits {
		total.amount = total.amount.Add(s.amount)
		total.managerAmount = total.managerAmount.Add(s.managerAmount)
		total.ownerAmount = total.ownerAmount.Add(s.ownerAmount)
	}
	return total
}

// Subtract removes every split in rest from first. Results may go negative.
func Subtract(first Split, rest ...Split) Split {
	removed := Sum(rest...)
	return Split{
		amount:        first.amount.Sub(removed.amount),
		managerAmount: first.managerAmount.Sub(removed.managerAmount),
		ownerAmount:   first.ownerAmount.Sub(removed.ownerAmount),
	}
}

// Amount returns the total.
func (s Split) Amount() decimal.Decimal { return s.amount }

// ManagerAmount returns the manager's portion.
func (s Split) ManagerAmount() decimal.Decimal { return s.managerAmount }

// OwnerAmount returns the owner's portion.
func (s Split) OwnerAmount() decimal.Decimal { return s.ownerAmount }

// ManagerShare is managerAmount / amount, or zero for a zero amount.
func (s Split) ManagerShare() decimal.Decimal {
	if s.amount.IsZero() {
		return decimal.Zero
	}
	return s.managerAmount.Div(s.amount)
}

// OwnerShare is ownerAmount / amount, or zero for a zero amount.
func (s Split) OwnerShare() decimal.Decimal {
	if s.amount.IsZero() {
		return decimal.Zero
	}
	return s.ownerAmount.Div(s.amount)
}

// IsZero reports whether every amount is zero.
func (s Split) IsZero() bool {
	return s.amount.IsZero() && s.managerAmount.IsZero() && s.ownerAmount.IsZero()
}

// Neg flips the sign of every amount.
func (s Split) Neg() Split {
	return Split{amount: s.amount.Neg(), managerAmount: s.managerAmount.Neg(), ownerAmount: s.ownerAmount.Neg()}
}

// Round rounds every amount to places decimal places.
func (s Split) Round(places int32) Split {
	return Split{
		amount:        s.amount.Round(places),
		managerAmount: s.managerAmount.Round(places),
		ownerAmount:   s.ownerAmount.Round(places),
	}
}

// Equal compares amounts numerically.
func (s Split) Equal(other Split) bool {
	return s.amount.Equal(other.amount) &&
		s.managerAmount.Equal(other.managerAmount) &&
		s.ownerAmount.Equal(other.ownerAmount)
}

func (s Split) String() string {
	return fmt.Sprintf("{amount:%s manager:%s owner:%s}", s.amount, s.managerAmount, s.ownerAmount)
}

type splitJSON struct {
	Amount        decimal.Decimal `json:"amount"`
	ManagerAmount decimal.Decimal `json:"managerAmount"`
	OwnerAmount   decimal.Decimal `json:"ownerAmount"`
	ManagerShare  decimal.Decimal `json:"managerShare"`
	OwnerShare    decimal.Decimal `json:"ownerShare"`
}

// MarshalJSON renders the amounts together with the derived shares.
func (s Split) MarshalJSON() ([]byte, error) {
	return json.Marshal(splitJSON{
		Amount:        s.amount,
		ManagerAmount: s.managerAmount,
		OwnerAmount:   s.ownerAmount,
		ManagerShare:  s.ManagerShare().Round(6),
		OwnerShare:    s.OwnerShare().Round(6),
	})
}

// UnmarshalJSON reads the amounts back; any share fields are ignored and
// derived again.
func (s *Split) UnmarshalJSON(data []byte) error {
	var raw splitJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*s = FromAmounts(raw.Amount, raw.ManagerAmount, raw.OwnerAmount)
	return nil
}
