package catalog

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-pos/internal/money"
)

// SizeCategory is the reserved category name for mutually exclusive size options.
const SizeCategory = "size"

var (
	// ErrProductNotFound is returned when the catalog has no product for the requested id.
	ErrProductNotFound = errors.New("product not found")
	// ErrInvalidRecord is returned when a catalog record cannot be mapped into a Product.
	ErrInvalidRecord = errors.New("invalid catalog record")
)

// ModifierKind distinguishes size options from additive add-ons.
type ModifierKind string

const (
	KindAddOn ModifierKind = "addon"
	KindSize  ModifierKind = "size"
)

// Modifier is a named price adjustment offered for a product.
type Modifier struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Category   string          `json:"category"`
	Kind       ModifierKind    `json:"kind"`
	PriceDelta decimal.Decimal `json:"priceDelta"`
}

// IsSize reports whether the modifier is a size option.
func (m Modifier) IsSize() bool { return m.Kind == KindSize }

// NoCharge reports whether selecting the modifier leaves the price unchanged.
func (m Modifier) NoCharge() bool { return m.PriceDelta.IsZero() }

// PriceLabel renders the delta for display. Zero deltas read "no charge" rather than "+0.00".
func (m Modifier) PriceLabel() string {
	switch {
	case m.PriceDelta.IsZero():
		return "no charge"
	case m.PriceDelta.IsNegative():
		return "-" + money.String(m.PriceDelta.Neg())
	default:
		return "+" + money.String(m.PriceDelta)
	}
}

// Product is an immutable snapshot of a catalog entry.
type Product struct {
	ID                  string          `json:"id"`
	Name                string          `json:"name"`
	BasePrice           decimal.Decimal `json:"basePrice"`
	ModifierOptions     []Modifier      `json:"modifierOptions"`
	AllowsModifications bool            `json:"allowsModifications"`
}

// Option looks up a modifier offered by the product.
func (p Product) Option(id string) (Modifier, bool) {
	for _, m := range p.ModifierOptions {
		if m.ID == id {
			return m, true
		}
	}
	return Modifier{}, false
}

// Sizes returns the size options in catalog order.
func (p Product) Sizes() []Modifier {
	return p.filter(KindSize)
}

// AddOns returns the additive options in catalog order.
func (p Product) AddOns() []Modifier {
	return p.filter(KindAddOn)
}

func (p Product) filter(kind ModifierKind) []Modifier {
	out := make([]Modifier, 0, len(p.ModifierOptions))
	for _, m := range p.ModifierOptions {
		if m.Kind == kind {
			out = append(out, m)
		}
	}
	return out
}

// Snapshot returns a deep copy detached from the catalog's backing storage.
func (p Product) Snapshot() Product {
	cp := p
	if p.ModifierOptions != nil {
		cp.ModifierOptions = append([]Modifier(nil), p.ModifierOptions...)
	}
	return cp
}

// Record is the loosely typed shape delivered by the catalog service.
type Record struct {
	ID                  string           `json:"id"`
	Name                string           `json:"name"`
	BasePrice           decimal.Decimal  `json:"basePrice"`
	ModifierOptions     []ModifierRecord `json:"modifierOptions"`
	AllowsModifications bool             `json:"allowsModifications"`
}

// ModifierRecord is the catalog's representation of a modifier option.
type ModifierRecord struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Category   string          `json:"category"`
	PriceDelta decimal.Decimal `json:"priceDelta"`
}

// FromRecord validates a catalog record and maps it into a Product. A missing or empty
// modifier list means the product has no options.
func FromRecord(rec Record) (Product, error) {
	id := strings.TrimSpace(rec.ID)
	if id == "" {
		return Product{}, fmt.Errorf("product id is required: %w", ErrInvalidRecord)
	}
	if rec.BasePrice.IsNegative() {
		return Product{}, fmt.Errorf("product %s has negative base price: %w", id, ErrInvalidRecord)
	}
	product := Product{
		ID:                  id,
		Name:                strings.TrimSpace(rec.Name),
		BasePrice:           rec.BasePrice,
		AllowsModifications: rec.AllowsModifications,
	}
	if len(rec.ModifierOptions) == 0 {
		return product, nil
	}
	seen := make(map[string]struct{}, len(rec.ModifierOptions))
	product.ModifierOptions = make([]Modifier, 0, len(rec.ModifierOptions))
	for _, mr := range rec.ModifierOptions {
		mid := strings.TrimSpace(mr.ID)
		if mid == "" {
			return Product{}, fmt.Errorf("product %s has modifier without id: %w", id, ErrInvalidRecord)
		}
		if _, dup := seen[mid]; dup {
			return Product{}, fmt.Errorf("product %s has duplicate modifier %s: %w", id, mid, ErrInvalidRecord)
		}
		seen[mid] = struct{}{}
		category := strings.ToLower(strings.TrimSpace(mr.Category))
		kind := KindAddOn
		if category == SizeCategory {
			kind = KindSize
		}
		product.ModifierOptions = append(product.ModifierOptions, Modifier{
			ID:         mid,
			Name:       strings.TrimSpace(mr.Name),
			Category:   category,
			Kind:       kind,
			PriceDelta: mr.PriceDelta,
		})
	}
	return product, nil
}
