package types

import (
	"bytes"
	"fmt"

	"github.com/shopspring/decimal"
)

// Money is an amount in minor currency units (kuruş, cents).
// It renders in JSON as a number with two fixed decimals, e.g. 80.00.
type Money int64

var hundred = decimal.NewFromInt(100)

// MoneyFromDecimal converts a major-unit decimal (12.34) to Money, rounding half up.
func MoneyFromDecimal(d decimal.Decimal) Money {
	return Money(d.Mul(hundred).Round(0).IntPart())
}

// ParseMoney parses a major-unit string such as "19.90".
func ParseMoney(value string) (Money, error) {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return 0, fmt.Errorf("parse money %q: %w", value, err)
	}
	return MoneyFromDecimal(d), nil
}

func (m Money) Cents() int64 {
	return int64(m)
}

// Decimal returns the amount in major units.
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(int64(m), -2)
}

func (m Money) String() string {
	return m.Decimal().StringFixed(2)
}

// Percent returns pct% of m, rounded half up to the minor unit.
func (m Money) Percent(pct decimal.Decimal) Money {
	return Money(decimal.NewFromInt(int64(m)).Mul(pct).Div(hundred).Round(0).IntPart())
}

// IncludedTax returns the tax portion of a tax-inclusive amount at ratePercent.
func (m Money) IncludedTax(ratePercent int64) Money {
	if ratePercent <= 0 || m <= 0 {
		return 0
	}
	gross := decimal.NewFromInt(int64(m))
	rate := decimal.NewFromInt(ratePercent)
	net := gross.Mul(hundred).Div(hundred.Add(rate))
	return Money(gross.Sub(net).Round(0).IntPart())
}

// Clamp bounds m to [lo, hi].
func (m Money) Clamp(lo, hi Money) Money {
	if m < lo {
		return lo
	}
	if m > hi {
		return hi
	}
	return m
}

func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *Money) UnmarshalJSON(data []byte) error {
	raw := bytes.Trim(bytes.TrimSpace(data), `"`)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		*m = 0
		return nil
	}
	parsed, err := ParseMoney(string(raw))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
