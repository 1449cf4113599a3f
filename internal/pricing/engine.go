package pricing

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-pos/internal/catalog"
	"github.com/noah-isme/backend-pos/internal/money"
)

var (
	// ErrInvalidSelection is returned when size/modifier choices do not fit the product.
	ErrInvalidSelection = errors.New("invalid modifier selection")
	// ErrInvalidQuantity is returned for quantities below one.
	ErrInvalidQuantity = errors.New("quantity must be at least 1")
)

// LinePrice holds the derived prices of a single cart line.
type LinePrice struct {
	UnitPrice decimal.Decimal
	LineTotal decimal.Decimal
}

// ComputeLinePrice derives unit and line prices from a product snapshot and the chosen options.
// Deltas are taken from the product's own option list so a stale caller copy cannot drift the price.
func ComputeLinePrice(product catalog.Product, size *catalog.Modifier, modifiers []catalog.Modifier, qty int) (LinePrice, error) {
	if qty < 1 {
		return LinePrice{}, ErrInvalidQuantity
	}
	resolvedSize, resolvedMods, err := resolve(product, size, modifiers)
	if err != nil {
		return LinePrice{}, err
	}
	unit := product.BasePrice
	if resolvedSize != nil {
		unit = unit.Add(resolvedSize.PriceDelta)
	}
	for _, m := range resolvedMods {
		unit = unit.Add(m.PriceDelta)
	}
	if unit.IsNegative() {
		return LinePrice{}, fmt.Errorf("unit price below zero: %w", ErrInvalidSelection)
	}
	return LinePrice{
		UnitPrice: unit,
		LineTotal: unit.Mul(decimal.NewFromInt(int64(qty))),
	}, nil
}

// ValidateSelection checks size and add-on choices against the product's options.
func ValidateSelection(product catalog.Product, size *catalog.Modifier, modifiers []catalog.Modifier) error {
	_, _, err := resolve(product, size, modifiers)
	return err
}

func resolve(product catalog.Product, size *catalog.Modifier, modifiers []catalog.Modifier) (*catalog.Modifier, []catalog.Modifier, error) {
	var resolvedSize *catalog.Modifier
	if size != nil {
		opt, ok := product.Option(size.ID)
		if !ok {
			return nil, nil, fmt.Errorf("size %q not offered for %s: %w", size.ID, product.ID, ErrInvalidSelection)
		}
		if !opt.IsSize() {
			return nil, nil, fmt.Errorf("modifier %q is not a size: %w", size.ID, ErrInvalidSelection)
		}
		resolvedSize = &opt
	}
	if len(modifiers) == 0 {
		return resolvedSize, nil, nil
	}
	if !product.AllowsModifications {
		return nil, nil, fmt.Errorf("%s does not allow modifications: %w", product.ID, ErrInvalidSelection)
	}
	seen := make(map[string]struct{}, len(modifiers))
	resolved := make([]catalog.Modifier, 0, len(modifiers))
	for _, m := range modifiers {
		if _, dup := seen[m.ID]; dup {
			return nil, nil, fmt.Errorf("modifier %q selected twice: %w", m.ID, ErrInvalidSelection)
		}
		seen[m.ID] = struct{}{}
		opt, ok := product.Option(m.ID)
		if !ok {
			return nil, nil, fmt.Errorf("modifier %q not offered for %s: %w", m.ID, product.ID, ErrInvalidSelection)
		}
		if opt.IsSize() {
			return nil, nil, fmt.Errorf("size %q listed as add-on: %w", m.ID, ErrInvalidSelection)
		}
		resolved = append(resolved, opt)
	}
	return resolvedSize, resolved, nil
}

// ToggleModifier removes m from selected when its id is present and appends it otherwise.
// The input slice is never mutated.
func ToggleModifier(selected []catalog.Modifier, m catalog.Modifier) []catalog.Modifier {
	out := make([]catalog.Modifier, 0, len(selected)+1)
	removed := false
	for _, s := range selected {
		if s.ID == m.ID {
			removed = true
			continue
		}
		out = append(out, s)
	}
	if !removed {
		out = append(out, m)
	}
	return out
}

// ToggleSize clears the size when the same option is chosen again and replaces it otherwise.
func ToggleSize(current *catalog.Modifier, m catalog.Modifier) *catalog.Modifier {
	if current != nil && current.ID == m.ID {
		return nil
	}
	return &m
}

// Summary aggregates order totals. Fields are exact until Rounded is called.
type Summary struct {
	Subtotal decimal.Decimal
	Tax      decimal.Decimal
	Discount decimal.Decimal
	Tip      decimal.Decimal
	Total    decimal.Decimal
}

// Compute derives the order total. Negative tax and tip are treated as zero and the discount is
// capped so the total never drops below zero.
func Compute(subtotal, tax, discount, tip decimal.Decimal) Summary {
	tax = money.NonNegative(tax)
	tip = money.NonNegative(tip)
	discount = money.NonNegative(discount)
	gross := subtotal.Add(tax).Add(tip)
	if discount.GreaterThan(gross) {
		discount = gross
	}
	return Summary{
		Subtotal: subtotal,
		Tax:      tax,
		Discount: discount,
		Tip:      tip,
		Total:    gross.Sub(discount),
	}
}

// Rounded returns the summary as displayed or persisted. Total is rounded from the exact sum.
func (s Summary) Rounded() Summary {
	return Summary{
		Subtotal: money.Round(s.Subtotal),
		Tax:      money.Round(s.Tax),
		Discount: money.Round(s.Discount),
		Tip:      money.Round(s.Tip),
		Total:    money.Round(s.Total),
	}
}

// TaxAtRate applies a basis-point rate to the taxable amount.
func TaxAtRate(taxable decimal.Decimal, bps int) decimal.Decimal {
	if bps <= 0 || !taxable.IsPositive() {
		return decimal.Zero
	}
	return taxable.Mul(decimal.NewFromInt(int64(bps))).Div(decimal.NewFromInt(10000))
}
