package entity

import (
	"fmt"

	"github.com/shopspring/decimal"
)

const DefaultUnit = "pcs"

// Quantity is an immutable (amount, unit) pair. Amount is never negative.
type Quantity struct {
	Amount decimal.Decimal `json:"amount" gorm:"type:numeric(18,6);not null;default:1"`
	Unit   string          `json:"unit" gorm:"size:16;not null;default:pcs"`
}

// NewQuantity validates amount >= 0. An empty unit becomes DefaultUnit.
func NewQuantity(amount decimal.Decimal, unit string) (Quantity, error) {
	if amount.IsNegative() {
		return Quantity{}, NewValidationError("quantity.amount", "must be >= 0")
	}
	if unit == "" {
		unit = DefaultUnit
	}
	return Quantity{Amount: amount, Unit: unit}, nil
}

// MustQuantity is NewQuantity for literals known to be valid.
func MustQuantity(amount float64, unit string) Quantity {
	q, err := NewQuantity(decimal.NewFromFloat(amount), unit)
	if err != nil {
		panic(err)
	}
	return q
}

// Pieces returns n "pcs".
func Pieces(n int64) Quantity {
	return Quantity{Amount: decimal.NewFromInt(n), Unit: DefaultUnit}
}

// Mul scales the amount; the unit is preserved. Negative factors are rejected.
func (q Quantity) Mul(factor decimal.Decimal) (Quantity, error) {
	if factor.IsNegative() {
		return Quantity{}, NewValidationError("quantity.factor", "must be >= 0")
	}
	return Quantity{Amount: q.Amount.Mul(factor), Unit: q.Unit}, nil
}

// Add sums two quantities of the same unit. Mixing units is a programming
// error: callers convert before combining.
func (q Quantity) Add(other Quantity) Quantity {
	if q.Unit != other.Unit {
		panic(fmt.Sprintf("quantity: cannot add %s to %s", other.Unit, q.Unit))
	}
	return Quantity{Amount: q.Amount.Add(other.Amount), Unit: q.Unit}
}

func (q Quantity) IsZero() bool { return q.Amount.IsZero() }

func (q Quantity) Equal(other Quantity) bool {
	return q.Unit == other.Unit && q.Amount.Equal(other.Amount)
}

func (q Quantity) String() string {
	return q.Amount.String() + " " + q.Unit
}
