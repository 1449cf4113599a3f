package tip

import (
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-pos/internal/money"
)

// Calculator holds the tip choice for one checkout. Percentage tips follow the subtotal; custom
// amounts stay fixed until the selection or the custom value changes.
type Calculator struct {
	def         Selection
	selection   Selection
	customInput string
}

// NewCalculator returns a calculator starting at def.
func NewCalculator(def Selection) *Calculator {
	c := &Calculator{def: def}
	c.Reset()
	return c
}

// Reset restores the default selection and clears any custom entry.
func (c *Calculator) Reset() {
	c.selection = c.def
	if c.selection.Kind == KindCustom {
		c.customInput = money.String(money.NonNegative(c.selection.Amount))
	} else {
		c.customInput = ""
	}
}

// Select switches policy. Leaving custom discards the stored amount, so switching back requires re-entry.
func (c *Calculator) Select(sel Selection) {
	if sel.Kind != KindCustom {
		c.customInput = ""
		c.selection = Selection{Kind: sel.Kind, Percent: sel.Percent}
		if sel.Kind != KindPercentage {
			c.selection.Percent = decimal.Zero
		}
		return
	}
	c.selection = Custom(money.NonNegative(sel.Amount))
	c.customInput = ""
	if !c.selection.Amount.IsZero() {
		c.customInput = money.String(c.selection.Amount)
	}
}

// SetCustom records raw custom input and selects custom. Bad input resolves to zero.
func (c *Calculator) SetCustom(input string) {
	c.customInput = input
	c.selection = Custom(money.ParseLenient(input))
}

// Selection returns the current policy.
func (c *Calculator) Selection() Selection {
	return c.selection
}

// CustomInput returns the raw custom value as entered.
func (c *Calculator) CustomInput() string {
	return c.customInput
}

// Amount resolves the current policy against subtotal.
func (c *Calculator) Amount(subtotal decimal.Decimal) decimal.Decimal {
	return Resolve(c.selection, subtotal)
}
