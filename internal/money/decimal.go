// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package money

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/apd/v3"
)

// precision is the number of significant digits kept by arithmetic.
const precision = 34

// Decimal is an immutable exact decimal value. The zero value is 0.
type Decimal struct {
	value apd.Decimal
}

// Zero is the additive identity.
var Zero = Decimal{}

// Parse parses a decimal string such as "10", "0.25" or "-3.5e2".
func Parse(s string) (Decimal, error) {
	var d apd.Decimal
	if _, _, err := d.SetString(s); err != nil {
		return Decimal{}, fmt.Errorf("invalid decimal %q: %w", s, err)
	}
	if d.Form != apd.Finite {
		return Decimal{}, fmt.Errorf("invalid decimal %q: not finite", s)
	}
	return Decimal{value: d}, nil
}

// MustParse is Parse for constants and tests; it panics on bad input.
func MustParse(s string) Decimal {
	d, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return d
}

// FromInt64 returns the decimal value of i.
func FromInt64(i int64) Decimal {
	var d apd.Decimal
	d.SetInt64(i)
	return Decimal{value: d}
}

// FromCents returns cents / 100.
func FromCents(cents int64) Decimal {
	return Decimal{value: *apd.New(cents, -2)}
}

func (d Decimal) String() string {
	return d.value.Text('f')
}

// StringFixed formats d rounded half-up to places fractional digits.
func (d Decimal) StringFixed(places int32) string {
	var out apd.Decimal
	ctx := apd.BaseContext.WithPrecision(precision)
	ctx.Rounding = apd.RoundHalfUp
	ctx.Quantize(&out, &d.value, -places)
	return out.Text('f')
}

func (d Decimal) IsZero() bool {
	return d.value.IsZero()
}

// Sign returns -1, 0 or 1.
func (d Decimal) Sign() int {
	return d.value.Sign()
}

// Cmp compares d and other numerically (2.50 equals 2.5).
func (d Decimal) Cmp(other Decimal) int {
	return d.value.Cmp(&other.value)
}

// Equal reports numeric equality.
func (d Decimal) Equal(other Decimal) bool {
	return d.Cmp(other) == 0
}

// Add returns the sum of d and other.
func (d Decimal) Add(other Decimal) Decimal {
	var result apd.Decimal
	ctx := apd.BaseContext.WithPrecision(precision)
	ctx.Add(&result, &d.value, &other.value)
	return Decimal{value: result}
}

// Sub returns d minus other.
func (d Decimal) Sub(other Decimal) Decimal {
	var result apd.Decimal
	ctx := apd.BaseContext.WithPrecision(precision)
	ctx.Sub(&result, &d.value, &other.value)
	return Decimal{value: result}
}

// Float64 returns the nearest float, for metrics and display only.
func (d Decimal) Float64() float64 {
	f, _ := d.value.Float64()
	return f
}

// Sum adds all values; an empty input sums to Zero.
func Sum(values ...Decimal) Decimal {
	total := Zero
	for _, v := range values {
		total = total.Add(v)
	}
	return total
}

// =============================================================================
// ENCODING
// =============================================================================

func (d Decimal) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Decimal) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*d = Zero
		return nil
	}
	s := string(data)
	if len(data) > 0 && data[0] == '"' {
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
	}
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

func (d Decimal) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Decimal) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Value implements driver.Valuer; decimals are stored as TEXT.
func (d Decimal) Value() (driver.Value, error) {
	return d.String(), nil
}

// Scan implements sql.Scanner.
func (d *Decimal) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*d = Zero
		return nil
	case string:
		return d.UnmarshalText([]byte(v))
	case []byte:
		return d.UnmarshalText(v)
	case int64:
		*d = FromInt64(v)
		return nil
	default:
		return fmt.Errorf("cannot scan %T into money.Decimal", src)
	}
}
