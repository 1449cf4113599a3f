package catalog

import "github.com/shopspring/decimal"

// DemoRecords is the catalog served when no database is configured.
func DemoRecords() []Record {
	d := decimal.RequireFromString
	sizes := []ModifierRecord{
		{ID: "size-small", Name: "Small", Category: SizeCategory, PriceDelta: d("0")},
		{ID: "size-medium", Name: "Medium", Category: SizeCategory, PriceDelta: d("0.50")},
		{ID: "size-large", Name: "Large", Category: SizeCategory, PriceDelta: d("1.00")},
	}
	milks := []ModifierRecord{
		{ID: "milk-oat", Name: "Oat milk", Category: "milk", PriceDelta: d("0.60")},
		{ID: "milk-almond", Name: "Almond milk", Category: "milk", PriceDelta: d("0.60")},
	}
	extras := []ModifierRecord{
		{ID: "extra-shot", Name: "Extra shot", Category: "extras", PriceDelta: d("0.75")},
		{ID: "extra-vanilla", Name: "Vanilla syrup", Category: "extras", PriceDelta: d("0.50")},
		{ID: "extra-ice", Name: "Extra ice", Category: "extras", PriceDelta: d("0")},
	}
	withOptions := func(groups ...[]ModifierRecord) []ModifierRecord {
		var out []ModifierRecord
		for _, g := range groups {
			out = append(out, g...)
		}
		return out
	}
	return []Record{
		{ID: "latte", Name: "Caffe Latte", BasePrice: d("4.25"), AllowsModifications: true, ModifierOptions: withOptions(sizes, milks, extras)},
		{ID: "americano", Name: "Americano", BasePrice: d("3.00"), AllowsModifications: true, ModifierOptions: withOptions(sizes, extras)},
		{ID: "cold-brew", Name: "Cold Brew", BasePrice: d("4.50"), AllowsModifications: true, ModifierOptions: withOptions(sizes, milks)},
		{ID: "croissant", Name: "Butter Croissant", BasePrice: d("3.25")},
		{ID: "bagel", Name: "Everything Bagel", BasePrice: d("2.75"), AllowsModifications: true, ModifierOptions: []ModifierRecord{
			{ID: "bagel-cream-cheese", Name: "Cream cheese", Category: "spread", PriceDelta: d("1.00")},
			{ID: "bagel-toasted", Name: "Toasted", Category: "prep", PriceDelta: d("0")},
		}},
	}
}

// NewDemoSource validates DemoRecords into a StaticSource.
func NewDemoSource() (*StaticSource, error) {
	recs := DemoRecords()
	products := make([]Product, 0, len(recs))
	for _, rec := range recs {
		p, err := FromRecord(rec)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return NewStaticSource(products...), nil
}
