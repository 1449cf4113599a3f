package money_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-pos/internal/money"
)

func TestRoundHalfToEven(t *testing.T) {
	cases := map[string]string{
		"0.125": "0.12",
		"0.135": "0.14",
		"2.675": "2.68",
		"1.005": "1.00",
		"10":    "10.00",
	}
	for in, want := range cases {
		require.Equal(t, want, money.String(money.MustParse(in)), in)
	}
}

func TestParseLenient(t *testing.T) {
	require.True(t, money.ParseLenient("").IsZero())
	require.True(t, money.ParseLenient("abc").IsZero())
	require.True(t, money.ParseLenient("-4.00").IsZero())
	require.True(t, money.ParseLenient(" $7.50 ").Equal(decimal.RequireFromString("7.5")))
}

func TestParseRejectsGarbage(t *testing.T) {
	_, err := money.Parse("12,50")
	require.ErrorIs(t, err, money.ErrInvalidAmount)
}

func TestMinorUnitsRoundTrip(t *testing.T) {
	require.Equal(t, int64(1999), money.MinorUnits(money.MustParse("19.99")))
	require.Equal(t, int64(1000), money.MinorUnits(money.MustParse("9.995")))
	require.Equal(t, "19.99", money.String(money.FromMinorUnits(1999)))
}
