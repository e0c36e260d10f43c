package money

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Scale is the number of fractional digits every Money value carries.
const Scale = 2

var ErrDivisionByZero = errors.New("division by zero")

// Money is an immutable fixed-point amount. Every constructor and every
// arithmetic result is rounded to Scale digits, half away from zero.
// The zero value is 0.00.
type Money struct {
	amount decimal.Decimal
}

var Zero = Money{}

func New(amount decimal.Decimal) Money {
	return Money{amount: amount.Round(Scale)}
}

func FromString(raw string) (Money, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return Money{}, fmt.Errorf("parse money %q: %w", raw, err)
	}
	return New(d), nil
}

// MustParse is FromString for literals known to be valid.
func MustParse(raw string) Money {
	m, err := FromString(raw)
	if err != nil {
		panic(err)
	}
	return m
}

func FromFloat(value float64) Money {
	return New(decimal.NewFromFloat(value))
}

func FromInt(units int64) Money {
	return Money{amount: decimal.NewFromInt(units)}
}

func FromCents(cents int64) Money {
	return Money{amount: decimal.New(cents, -Scale)}
}

func (m Money) Add(other Money) Money {
	return New(m.amount.Add(other.amount))
}

func (m Money) Sub(other Money) Money {
	return New(m.amount.Sub(other.amount))
}

func (m Money) MulInt(n int64) Money {
	return New(m.amount.Mul(decimal.NewFromInt(n)))
}

func (m Money) Mul(factor decimal.Decimal) Money {
	return New(m.amount.Mul(factor))
}

func (m Money) DivInt(n int64) (Money, error) {
	if n == 0 {
		return Money{}, ErrDivisionByZero
	}
	return Money{amount: m.amount.DivRound(decimal.NewFromInt(n), Scale)}, nil
}

func (m Money) IsNegative() bool { return m.amount.IsNegative() }
func (m Money) IsZero() bool { return m.amount.IsZero() }
func (m Money) IsPositive() bool { return m.amount.IsPositive() }

// Cmp returns -1, 0 or +1 comparing numeric values.
func (m Money) Cmp(other Money) int {
	return m.amount.Cmp(other.amount)
}

func (m Money) Equal(other Money) bool {
	return m.amount.Equal(other.amount)
}

func (m Money) LessThan(other Money) bool {
	return m.amount.LessThan(other.amount)
}

func (m Money) GreaterThan(other Money) bool {
	return m.amount.GreaterThan(other.amount)
}

func (m Money) Decimal() decimal.Decimal {
	return m.amount
}

// Cents returns the amount in minor units.
func (m Money) Cents() int64 {
	return m.amount.Shift(Scale).IntPart()
}

func (m Money) String() string {
	return m.amount.StringFixed(Scale)
}

func Sum(values ...Money) Money {
	total := Zero
	for _, v := range values {
		total = total.Add(v)
	}
	return total
}

func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

func (m *Money) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "null" {
		*m = Zero
		return nil
	}
	raw = strings.Trim(raw, `"`)
	parsed, err := FromString(raw)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

func (m Money) Value() (driver.Value, error) {
	return m.String(), nil
}

func (m *Money) Scan(src any) error {
	var d decimal.Decimal
	if err := d.Scan(src); err != nil {
		return fmt.Errorf("scan money: %w", err)
	}
	*m = New(d)
	return nil
}
