// Package money holds the fixed-point amounts and interest rates the ledger
// works with. Balances never touch floating point.
package money

import (
	"bytes"
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

const (
	amountScale = 2
	rateScale   = 4
)

// MaxRequestRate is the highest interest rate a microloan may carry (50%).
const MaxRequestRate Rate = 5000

var (
	ErrMalformed = errors.New("malformed decimal value")
	ErrPrecision = errors.New("too many decimal places")
	ErrNegative  = errors.New("value must not be negative")
	ErrRange     = errors.New("value out of range")
)

var (
	minUnits = decimal.NewFromInt(math.MinInt64)
	maxUnits = decimal.NewFromInt(math.MaxInt64)
)

// units converts an already shifted decimal to int64 without wrapping.
func units(shifted decimal.Decimal, s string) (int64, error) {
	if !shifted.IsInteger() {
		return 0, fmt.Errorf("%w: %q", ErrPrecision, s)
	}
	if shifted.LessThan(minUnits) || shifted.GreaterThan(maxUnits) {
		return 0, fmt.Errorf("%w: %q", ErrRange, s)
	}
	return shifted.IntPart(), nil
}

// Amount is a currency amount in minor units (cents).
type Amount int64

// ParseAmount reads a decimal string such as "12.50" into minor units.
func ParseAmount(s string) (Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrMalformed, s)
	}
	v, err := units(d.Shift(amountScale), s)
	if err != nil {
		return 0, err
	}
	return Amount(v), nil
}

// MustAmount is ParseAmount for literals known to be valid.
func MustAmount(s string) Amount {
	a, err := ParseAmount(s)
	if err != nil {
		panic(err)
	}
	return a
}

// Add returns a+b, or false when the sum does not fit in an Amount.
func (a Amount) Add(b Amount) (Amount, bool) {
	if (b > 0 && a > math.MaxInt64-b) || (b < 0 && a < math.MinInt64-b) {
		return 0, false
	}
	return a + b, true
}

func (a Amount) Decimal() decimal.Decimal {
	return decimal.New(int64(a), -amountScale)
}

func (a Amount) String() string {
	return a.Decimal().StringFixed(amountScale)
}

func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(`"` + a.String() + `"`), nil
}

// UnmarshalJSON accepts both "12.50" and 12.50.
func (a *Amount) UnmarshalJSON(data []byte) error {
	v, err := ParseAmount(string(bytes.Trim(data, `"`)))
	if err != nil {
		return err
	}
	*a = v
	return nil
}

// Rate is an interest rate in basis points; 500 is 0.05.
type Rate int64

// ParseRate reads a fractional rate such as "0.05". Negative rates are rejected.
func ParseRate(s string) (Rate, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrMalformed, s)
	}
	if d.IsNegative() {
		return 0, fmt.Errorf("%w: %q", ErrNegative, s)
	}
	v, err := units(d.Shift(rateScale), s)
	if err != nil {
		return 0, err
	}
	return Rate(v), nil
}

func MustRate(s string) Rate {
	r, err := ParseRate(s)
	if err != nil {
		panic(err)
	}
	return r
}

func (r Rate) Decimal() decimal.Decimal {
	return decimal.New(int64(r), -rateScale)
}

func (r Rate) String() string {
	return r.Decimal().String()
}

func (r Rate) MarshalJSON() ([]byte, error) {
	return []byte(`"` + r.String() + `"`), nil
}

func (r *Rate) UnmarshalJSON(data []byte) error {
	v, err := ParseRate(string(bytes.Trim(data, `"`)))
	if err != nil {
		return err
	}
	*r = v
	return nil
}
