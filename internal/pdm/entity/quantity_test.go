package entity

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func TestNewQuantity(t *testing.T) {
	q, err := NewQuantity(decimal.NewFromInt(3), "")
	if err != nil {
		t.Fatalf("NewQuantity: %v", err)
	}
	if q.Unit != DefaultUnit {
		t.Fatalf("empty unit should default to %s, got %s", DefaultUnit, q.Unit)
	}
	if _, err := NewQuantity(decimal.NewFromInt(-1), "kg"); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := NewQuantity(decimal.Zero, "kg"); err != nil {
		t.Fatalf("zero amount is allowed: %v", err)
	}
}

func TestQuantityArithmetic(t *testing.T) {
	q := MustQuantity(2.5, "kg")

	doubled, err := q.Mul(decimal.NewFromInt(2))
	if err != nil {
		t.Fatalf("Mul: %v", err)
	}
	if !doubled.Equal(MustQuantity(5, "kg")) {
		t.Fatalf("want=5 kg got=%s", doubled)
	}
	if _, err := q.Mul(decimal.NewFromInt(-1)); !errors.Is(err, ErrValidation) {
		t.Fatalf("negative factor: %v", err)
	}

	sum := q.Add(MustQuantity(1.5, "kg"))
	if sum.String() != "4 kg" {
		t.Fatalf("want=4 kg got=%s", sum)
	}
	if q.Equal(MustQuantity(2.5, "g")) {
		t.Fatalf("different units must not be equal")
	}
}

func TestQuantityAddUnitMismatchPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic on unit mismatch")
		}
	}()
	MustQuantity(1, "kg").Add(MustQuantity(1, "g"))
}
