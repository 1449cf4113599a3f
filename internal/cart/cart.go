package cart

import (
	"errors"
	"fmt"
	"sync"

	validator "github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-pos/internal/catalog"
	"github.com/noah-isme/backend-pos/internal/pricing"
)

// MaxInstructionsLength bounds special instructions, counted in characters.
const MaxInstructionsLength = 200

var (
	// ErrLineNotFound indicates the referenced line index does not exist.
	ErrLineNotFound = errors.New("cart line not found")
	// ErrInvalidInput is returned when line options fail validation.
	ErrInvalidInput = errors.New("invalid input")
)

var validate = validator.New()

// LineOptions describes a new line's choices.
type LineOptions struct {
	Quantity            int `validate:"min=1"`
	Size                *catalog.Modifier
	Modifiers           []catalog.Modifier
	SpecialInstructions string `validate:"max=200"`
	// TaxAmount and DiscountAmount are supplied by external policy and only summed here.
	TaxAmount      decimal.Decimal
	DiscountAmount decimal.Decimal
}

// Patch replaces selected attributes of an existing line. Nil fields are left unchanged.
type Patch struct {
	Quantity            *int `validate:"omitempty,min=1"`
	Size                *catalog.Modifier
	ClearSize           bool
	Modifiers           *[]catalog.Modifier
	SpecialInstructions *string `validate:"omitempty,max=200"`
	TaxAmount           *decimal.Decimal
	DiscountAmount      *decimal.Decimal
}

// Line is one priced entry. UnitPrice and LineTotal are derived and never set directly.
type Line struct {
	Product             catalog.Product
	Quantity            int
	SelectedSize        *catalog.Modifier
	SelectedModifiers   []catalog.Modifier
	SpecialInstructions string
	TaxAmount           decimal.Decimal
	DiscountAmount      decimal.Decimal
	UnitPrice           decimal.Decimal
	LineTotal           decimal.Decimal
}

func (l Line) clone() Line {
	cp := l
	cp.Product = l.Product.Snapshot()
	if l.SelectedSize != nil {
		size := *l.SelectedSize
		cp.SelectedSize = &size
	}
	if l.SelectedModifiers != nil {
		cp.SelectedModifiers = append([]catalog.Modifier(nil), l.SelectedModifiers...)
	}
	return cp
}

func (l *Line) reprice() error {
	price, err := pricing.ComputeLinePrice(l.Product, l.SelectedSize, l.SelectedModifiers, l.Quantity)
	if err != nil {
		return err
	}
	l.UnitPrice = price.UnitPrice
	l.LineTotal = price.LineTotal
	return nil
}

// Totals are the cart-level sums before tip.
type Totals struct {
	Subtotal  decimal.Decimal
	Tax       decimal.Decimal
	Discount  decimal.Decimal
	LineCount int
}

// Cart is an ordered collection of lines for a single transaction.
type Cart struct {
	mu            sync.RWMutex
	lines         []Line
	orderTax      decimal.Decimal
	orderDiscount decimal.Decimal
	customerName  string
}

// New returns an empty cart.
func New() *Cart {
	return &Cart{}
}

// AddLine prices and appends a line, returning its index. Identical lines are never merged.
func (c *Cart) AddLine(product catalog.Product, opts LineOptions) (int, error) {
	if err := validate.Struct(opts); err != nil {
		return -1, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	line := Line{
		Product:             product.Snapshot(),
		Quantity:            opts.Quantity,
		SpecialInstructions: opts.SpecialInstructions,
		TaxAmount:           opts.TaxAmount,
		DiscountAmount:      opts.DiscountAmount,
	}
	if opts.Size != nil {
		size := *opts.Size
		line.SelectedSize = &size
	}
	if len(opts.Modifiers) > 0 {
		line.SelectedModifiers = append([]catalog.Modifier(nil), opts.Modifiers...)
	}
	if err := line.reprice(); err != nil {
		return -1, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines = append(c.lines, line)
	return len(c.lines) - 1, nil
}

// UpdateLine applies patch to the line at index and reprices it. The line is untouched on error.
func (c *Cart) UpdateLine(index int, patch Patch) error {
	if err := validate.Struct(patch); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if patch.Quantity != nil && *patch.Quantity < 1 {
		return fmt.Errorf("%w: quantity must be at least 1", ErrInvalidInput)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if index < 0 || index >= len(c.lines) {
		return fmt.Errorf("index %d: %w", index, ErrLineNotFound)
	}
	line := c.lines[index].clone()
	if patch.Quantity != nil {
		line.Quantity = *patch.Quantity
	}
	switch {
	case patch.ClearSize:
		line.SelectedSize = nil
	case patch.Size != nil:
		size := *patch.Size
		line.SelectedSize = &size
	}
	if patch.Modifiers != nil {
		line.SelectedModifiers = append([]catalog.Modifier(nil), (*patch.Modifiers)...)
	}
	if patch.SpecialInstructions != nil {
		line.SpecialInstructions = *patch.SpecialInstructions
	}
	if patch.TaxAmount != nil {
		line.TaxAmount = *patch.TaxAmount
	}
	if patch.DiscountAmount != nil {
		line.DiscountAmount = *patch.DiscountAmount
	}
	if err := line.reprice(); err != nil {
		return err
	}
	c.lines[index] = line
	return nil
}

// RemoveLine deletes the line at index, preserving the order of the rest.
func (c *Cart) RemoveLine(index int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if index < 0 || index >= len(c.lines) {
		return fmt.Errorf("index %d: %w", index, ErrLineNotFound)
	}
	c.lines = append(c.lines[:index], c.lines[index+1:]...)
	return nil
}

// Line returns a copy of the line at index.
func (c *Cart) Line(index int) (Line, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if index < 0 || index >= len(c.lines) {
		return Line{}, fmt.Errorf("index %d: %w", index, ErrLineNotFound)
	}
	return c.lines[index].clone(), nil
}

// Lines returns copies of all lines in insertion order.
func (c *Cart) Lines() []Line {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.linesLocked()
}

func (c *Cart) linesLocked() []Line {
	out := make([]Line, 0, len(c.lines))
	for _, l := range c.lines {
		out = append(out, l.clone())
	}
	return out
}

// Len reports the number of lines.
func (c *Cart) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.lines)
}

// SetOrderTax sets the order-level tax added on top of any per-line tax.
func (c *Cart) SetOrderTax(amount decimal.Decimal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.orderTax = amount
}

// SetOrderDiscount sets the order-level discount added on top of any per-line discount.
func (c *Cart) SetOrderDiscount(amount decimal.Decimal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.orderDiscount = amount
}

// SetCustomerName records the name the order is taken under.
func (c *Cart) SetCustomerName(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.customerName = name
}

// Recompute sums the current lines. An empty cart has a subtotal of exactly zero.
func (c *Cart) Recompute() Totals {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.totalsLocked()
}

func (c *Cart) totalsLocked() Totals {
	t := Totals{
		Subtotal:  decimal.Zero,
		Tax:       c.orderTax,
		Discount:  c.orderDiscount,
		LineCount: len(c.lines),
	}
	for _, l := range c.lines {
		t.Subtotal = t.Subtotal.Add(l.LineTotal)
		t.Tax = t.Tax.Add(l.TaxAmount)
		t.Discount = t.Discount.Add(l.DiscountAmount)
	}
	return t
}

// TipFunc derives a tip from the subtotal.
type TipFunc func(subtotal decimal.Decimal) decimal.Decimal

// Order is a consistent snapshot of the cart with derived totals.
type Order struct {
	Lines          []Line
	Subtotal       decimal.Decimal
	TaxAmount      decimal.Decimal
	DiscountAmount decimal.Decimal
	TipAmount      decimal.Decimal
	Total          decimal.Decimal
	CustomerName   string
}

// Order reads the cart once under lock and derives the order total with the tip produced by tipFn.
func (c *Cart) Order(tipFn TipFunc) Order {
	c.mu.RLock()
	defer c.mu.RUnlock()
	totals := c.totalsLocked()
	tipAmount := decimal.Zero
	if tipFn != nil {
		tipAmount = tipFn(totals.Subtotal)
	}
	summary := pricing.Compute(totals.Subtotal, totals.Tax, totals.Discount, tipAmount)
	return Order{
		Lines:          c.linesLocked(),
		Subtotal:       summary.Subtotal,
		TaxAmount:      summary.Tax,
		DiscountAmount: summary.Discount,
		TipAmount:      summary.Tip,
		Total:          summary.Total,
		CustomerName:   c.customerName,
	}
}

// Summary returns the order totals in pricing form.
func (o Order) Summary() pricing.Summary {
	return pricing.Summary{
		Subtotal: o.Subtotal,
		Tax:      o.TaxAmount,
		Discount: o.DiscountAmount,
		Tip:      o.TipAmount,
		Total:    o.Total,
	}
}

// IsEmpty reports whether the order has no lines.
func (o Order) IsEmpty() bool {
	return len(o.Lines) == 0
}
