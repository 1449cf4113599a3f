package catalog_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-pos/internal/catalog"
	"github.com/noah-isme/backend-pos/internal/money"
)

func TestFromRecordMissingOptions(t *testing.T) {
	var rec catalog.Record
	require.NoError(t, json.Unmarshal([]byte(`{"id":"drip","name":"Drip Coffee","basePrice":"2.50","modifierOptions":null}`), &rec))

	product, err := catalog.FromRecord(rec)
	require.NoError(t, err)
	require.Empty(t, product.ModifierOptions)
	require.Empty(t, product.Sizes())
	require.Equal(t, "2.50", money.String(product.BasePrice))
}

func TestFromRecordDistinguishesSize(t *testing.T) {
	product, err := catalog.FromRecord(catalog.Record{
		ID:        "latte",
		BasePrice: money.MustParse("4.00"),
		ModifierOptions: []catalog.ModifierRecord{
			{ID: "lg", Name: "Large", Category: " Size ", PriceDelta: money.MustParse("0.75")},
			{ID: "oat", Name: "Oat Milk", Category: "milk", PriceDelta: money.MustParse("0.50")},
		},
	})
	require.NoError(t, err)
	require.Len(t, product.Sizes(), 1)
	require.True(t, product.Sizes()[0].IsSize())
	require.Equal(t, catalog.SizeCategory, product.Sizes()[0].Category)
	require.Len(t, product.AddOns(), 1)
	require.Equal(t, catalog.KindAddOn, product.AddOns()[0].Kind)
}

func TestFromRecordRejectsDuplicateModifier(t *testing.T) {
	_, err := catalog.FromRecord(catalog.Record{
		ID: "latte",
		ModifierOptions: []catalog.ModifierRecord{
			{ID: "oat", Category: "milk"},
			{ID: "oat", Category: "milk"},
		},
	})
	require.ErrorIs(t, err, catalog.ErrInvalidRecord)
}

func TestFromRecordRejectsNegativeBase(t *testing.T) {
	_, err := catalog.FromRecord(catalog.Record{ID: "x", BasePrice: money.MustParse("-1")})
	require.ErrorIs(t, err, catalog.ErrInvalidRecord)
}

func TestSnapshotIsDetached(t *testing.T) {
	original := catalog.Product{
		ID:              "latte",
		BasePrice:       money.MustParse("4.00"),
		ModifierOptions: []catalog.Modifier{{ID: "oat", Kind: catalog.KindAddOn, PriceDelta: money.MustParse("0.50")}},
	}
	snap := original.Snapshot()
	original.ModifierOptions[0].PriceDelta = money.MustParse("9.99")
	require.Equal(t, "0.50", money.String(snap.ModifierOptions[0].PriceDelta))
}

func TestPriceLabel(t *testing.T) {
	require.Equal(t, "no charge", catalog.Modifier{PriceDelta: money.Zero}.PriceLabel())
	require.Equal(t, "+0.50", catalog.Modifier{PriceDelta: money.MustParse("0.5")}.PriceLabel())
	require.Equal(t, "-0.25", catalog.Modifier{PriceDelta: money.MustParse("-0.25")}.PriceLabel())
}

func TestDemoSourceIsValid(t *testing.T) {
	src, err := catalog.NewDemoSource()
	require.NoError(t, err)

	latte, err := src.Product(context.Background(), "latte")
	require.NoError(t, err)
	require.Len(t, latte.Sizes(), 3)
	require.NotEmpty(t, latte.AddOns())

	croissant, err := src.Product(context.Background(), "croissant")
	require.NoError(t, err)
	require.False(t, croissant.AllowsModifications)
	require.Empty(t, croissant.ModifierOptions)
}
