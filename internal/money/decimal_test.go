// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package money

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	d, err := Parse("10.50")
	require.NoError(t, err)
	assert.Equal(t, "10.50", d.String())

	_, err = Parse("ten")
	assert.Error(t, err)

	_, err = Parse("NaN")
	assert.Error(t, err)
}

func TestAddIsExact(t *testing.T) {
	// 0.1 + 0.2 is not 0.3 in float64
	sum := MustParse("0.1").Add(MustParse("0.2"))
	assert.True(t, sum.Equal(MustParse("0.3")), "got %s", sum)
}

func TestSum(t *testing.T) {
	assert.True(t, Sum().IsZero())
	total := Sum(FromInt64(10), FromInt64(5))
	assert.True(t, total.Equal(FromInt64(15)))
	assert.Equal(t, "15", total.String())
}

func TestSubAndSign(t *testing.T) {
	d := FromInt64(5).Sub(MustParse("7.25"))
	assert.Equal(t, -1, d.Sign())
	assert.Equal(t, "-2.25", d.String())
}

func TestFromCents(t *testing.T) {
	assert.Equal(t, "12.34", FromCents(1234).String())
}

func TestStringFixed(t *testing.T) {
	assert.Equal(t, "15.00", FromInt64(15).StringFixed(2))
	assert.Equal(t, "0.13", MustParse("0.125").StringFixed(2))
}

func TestJSONRoundTripAcceptsNumbers(t *testing.T) {
	var got struct {
		A Decimal `json:"a"`
		B Decimal `json:"b"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"a":"1.25","b":3.5}`), &got))
	assert.Equal(t, "1.25", got.A.String())
	assert.Equal(t, "3.5", got.B.String())

	out, err := json.Marshal(got.A)
	require.NoError(t, err)
	assert.JSONEq(t, `"1.25"`, string(out))
}

func TestScan(t *testing.T) {
	var d Decimal
	require.NoError(t, d.Scan("4.20"))
	assert.True(t, d.Equal(MustParse("4.2")))
	require.NoError(t, d.Scan(int64(7)))
	assert.Equal(t, "7", d.String())
	assert.Error(t, d.Scan(1.5))
}
