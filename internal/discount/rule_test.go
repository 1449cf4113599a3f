package discount_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-pos/internal/cart"
	"github.com/noah-isme/backend-pos/internal/catalog"
	"github.com/noah-isme/backend-pos/internal/discount"
	"github.com/noah-isme/backend-pos/internal/money"
)

func line(productID, total string) cart.Line {
	return cart.Line{Product: catalog.Product{ID: productID}, Quantity: 1, LineTotal: money.MustParse(total)}
}

func TestComputePercent(t *testing.T) {
	rule := discount.Rule{Kind: discount.KindPercent, Value: money.MustParse("20")}
	require.Equal(t, "20.00", money.String(discount.Compute(money.MustParse("100"), rule)))
}

func TestComputeClampsFixed(t *testing.T) {
	rule := discount.Rule{Kind: discount.KindFixed, Value: money.MustParse("15")}
	require.Equal(t, "8.00", money.String(discount.Compute(money.MustParse("8"), rule)))
	require.True(t, discount.Compute(money.Zero, rule).IsZero())
}

func TestAmountBelowMinimumSpend(t *testing.T) {
	rule := discount.Rule{Kind: discount.KindFixed, Value: money.MustParse("5"), MinSpend: money.MustParse("25")}
	require.True(t, rule.Amount(money.MustParse("24.99")).IsZero())
	require.Equal(t, "5.00", money.String(rule.Amount(money.MustParse("25"))))
}

func TestEligibleSubtotalScoped(t *testing.T) {
	rule := discount.Rule{Kind: discount.KindPercent, Value: money.MustParse("10"), ProductIDs: []string{"latte"}}
	lines := []cart.Line{line("latte", "9.00"), line("scone", "3.25"), line("latte", "4.50")}
	require.Equal(t, "13.50", money.String(discount.EligibleSubtotal(lines, rule)))

	amount, err := discount.Apply(time.Now(), lines, rule)
	require.NoError(t, err)
	require.True(t, money.MustParse("1.35").Equal(amount))
}

func TestApplyHonoursWindow(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	later := now.Add(time.Hour)
	earlier := now.Add(-time.Hour)
	lines := []cart.Line{line("latte", "9.00")}

	_, err := discount.Apply(now, lines, discount.Rule{Kind: discount.KindFixed, Value: money.MustParse("1"), ValidFrom: &later})
	require.ErrorIs(t, err, discount.ErrInactive)
	_, err = discount.Apply(now, lines, discount.Rule{Kind: discount.KindFixed, Value: money.MustParse("1"), ValidTo: &earlier})
	require.ErrorIs(t, err, discount.ErrExpired)
	_, err = discount.Apply(now, lines, discount.Rule{Kind: discount.KindFixed, Value: money.MustParse("1"), MinSpend: money.MustParse("10")})
	require.ErrorIs(t, err, discount.ErrMinimumSpendUnmet)
	_, err = discount.Apply(now, lines, discount.Rule{Kind: "bogo"})
	require.ErrorIs(t, err, discount.ErrInvalidRule)
}

func TestBookLookup(t *testing.T) {
	book, err := discount.NewBook(discount.Rule{Code: " happyhour ", Kind: discount.KindPercent, Value: money.MustParse("15")})
	require.NoError(t, err)

	rule, err := book.Lookup("HAPPYHOUR")
	require.NoError(t, err)
	require.Equal(t, "HAPPYHOUR", rule.Code)

	_, err = book.Lookup("missing")
	require.ErrorIs(t, err, discount.ErrUnknownCode)

	_, err = discount.NewBook(discount.Rule{Code: "X", Kind: discount.KindPercent, Value: money.MustParse("120")})
	require.ErrorIs(t, err, discount.ErrInvalidRule)
}

func TestParseRules(t *testing.T) {
	rules, err := discount.ParseRules(" welcome=percent:10 ; FIVEOFF=fixed:5:20;")
	require.NoError(t, err)
	require.Len(t, rules, 2)
	require.Equal(t, "WELCOME", rules[0].Code)
	require.Equal(t, discount.KindPercent, rules[0].Kind)
	require.True(t, rules[0].MinSpend.IsZero())
	require.Equal(t, "5", rules[1].Value.String())
	require.Equal(t, "20", rules[1].MinSpend.String())

	empty, err := discount.ParseRules("")
	require.NoError(t, err)
	require.Empty(t, empty)

	for _, bad := range []string{"NOEQUALS", "X=percent", "X=percent:abc", "X=bogus:5", "X=percent:150", "X=fixed:1:two"} {
		_, err := discount.ParseRules(bad)
		require.ErrorIs(t, err, discount.ErrInvalidRule, bad)
	}
}
