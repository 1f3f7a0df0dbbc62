package money

import (
	"errors"

	"github.com/shopspring/decimal"
)

const (
	// PlanckPerHP is the number of chain minor units in one Happy Paisa.
	PlanckPerHP int64 = 1_000_000_000_000
	// PaisePerHP follows the fixed 1 HP = ₹1000 peg (100,000 paise).
	PaisePerHP int64 = 100_000
	// PlanckPerPaise converts INR minor units to chain minor units.
	PlanckPerPaise int64 = PlanckPerHP / PaisePerHP
	// INRPerHP is the fixed rupee value of one Happy Paisa.
	INRPerHP int64 = 1000
)

var (
	// ErrNotRepresentable indicates an HP amount that does not map onto a
	// whole number of planck, or overflows int64.
	ErrNotRepresentable = errors.New("amount not representable in planck")

	// ErrNotPositive indicates a zero or negative monetary amount.
	ErrNotPositive = errors.New("amount must be positive")
)

// HPToPlanck converts a decimal HP amount into planck.
func HPToPlanck(hp decimal.Decimal) (int64, error) {
	scaled := hp.Shift(12)
	if !scaled.IsInteger() {
		return 0, ErrNotRepresentable
	}
	bi := scaled.BigInt()
	if !bi.IsInt64() {
		return 0, ErrNotRepresentable
	}
	return bi.Int64(), nil
}

// ParseHP parses a decimal HP string (e.g. "2.5") into planck, requiring a
// strictly positive amount.
func ParseHP(s string) (int64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, err
	}
	if d.Sign() <= 0 {
		return 0, ErrNotPositive
	}
	return HPToPlanck(d)
}

// ParseINR parses a decimal rupee string (e.g. "249.50") into paise,
// requiring a strictly positive amount in whole paise.
func ParseINR(s string) (int64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, err
	}
	if d.Sign() <= 0 {
		return 0, ErrNotPositive
	}
	scaled := d.Shift(2)
	if !scaled.IsInteger() {
		return 0, ErrNotRepresentable
	}
	bi := scaled.BigInt()
	if !bi.IsInt64() {
		return 0, ErrNotRepresentable
	}
	return bi.Int64(), nil
}

// PlanckToHP renders planck as a decimal HP amount.
func PlanckToHP(planck int64) decimal.Decimal {
	return decimal.NewFromInt(planck).Shift(-12)
}

// PlanckToINR renders planck as a decimal rupee amount at the fixed peg.
func PlanckToINR(planck int64) decimal.Decimal {
	return decimal.NewFromInt(planck).Shift(-9)
}

// PaiseToPlanck converts INR minor units to planck.
func PaiseToPlanck(paise int64) int64 {
	return paise * PlanckPerPaise
}

// PlanckToPaise converts planck to INR minor units, truncating dust below
// one paisa.
func PlanckToPaise(planck int64) int64 {
	return planck / PlanckPerPaise
}

// FormatPaise renders paise as a two-decimal rupee string.
func FormatPaise(paise int64) string {
	return decimal.NewFromInt(paise).Shift(-2).StringFixed(2)
}
