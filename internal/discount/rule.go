package discount

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-pos/internal/cart"
	"github.com/noah-isme/backend-pos/internal/money"
)

var (
	// ErrUnknownCode is returned when no rule matches a discount code.
	ErrUnknownCode = errors.New("discount code not found")
	// ErrInactive is returned when using a rule outside of its active window.
	ErrInactive = errors.New("discount not active")
	// ErrExpired is returned when the rule has already expired.
	ErrExpired = errors.New("discount expired")
	// ErrMinimumSpendUnmet indicates the subtotal did not meet the rule requirement.
	ErrMinimumSpendUnmet = errors.New("discount minimum spend not met")
	// ErrInvalidRule is returned for malformed rules.
	ErrInvalidRule = errors.New("invalid discount rule")
)

// Kind selects how Value is interpreted.
type Kind string

const (
	KindFixed   Kind = "fixed"
	KindPercent Kind = "percent"
)

var hundred = decimal.NewFromInt(100)

// Rule is a discount policy. For KindPercent, Value is a percentage (20 == 20%).
type Rule struct {
	Code       string
	Kind       Kind
	Value      decimal.Decimal
	MinSpend   decimal.Decimal
	ValidFrom  *time.Time
	ValidTo    *time.Time
	ProductIDs []string
}

// Check reports whether the rule is well formed.
func (r Rule) Check() error {
	switch r.Kind {
	case KindFixed, KindPercent:
	default:
		return fmt.Errorf("%w: kind %q", ErrInvalidRule, r.Kind)
	}
	if r.Value.IsNegative() {
		return fmt.Errorf("%w: negative value", ErrInvalidRule)
	}
	if r.Kind == KindPercent && r.Value.GreaterThan(hundred) {
		return fmt.Errorf("%w: percent above 100", ErrInvalidRule)
	}
	return nil
}

// Validate ensures the rule can be applied at now against subtotal.
func (r Rule) Validate(now time.Time, subtotal decimal.Decimal) error {
	if subtotal.LessThan(r.MinSpend) {
		return ErrMinimumSpendUnmet
	}
	if r.ValidFrom != nil && now.Before(*r.ValidFrom) {
		return ErrInactive
	}
	if r.ValidTo != nil && now.After(*r.ValidTo) {
		return ErrExpired
	}
	return nil
}

// EligibleSubtotal sums the lines the rule applies to. Unscoped rules apply to every line.
func EligibleSubtotal(lines []cart.Line, r Rule) decimal.Decimal {
	total := decimal.Zero
	for _, l := range lines {
		if !l.LineTotal.IsPositive() {
			continue
		}
		if r.appliesTo(l.Product.ID) {
			total = total.Add(l.LineTotal)
		}
	}
	return total
}

func (r Rule) appliesTo(productID string) bool {
	if len(r.ProductIDs) == 0 {
		return true
	}
	for _, id := range r.ProductIDs {
		if id == productID {
			return true
		}
	}
	return false
}

// Compute determines the discount for an eligible subtotal, clamped to [0, eligible].
func Compute(eligible decimal.Decimal, r Rule) decimal.Decimal {
	if !eligible.IsPositive() {
		return decimal.Zero
	}
	amount := r.Value
	if r.Kind == KindPercent {
		amount = eligible.Mul(r.Value).Div(hundred)
	}
	if amount.GreaterThan(eligible) {
		amount = eligible
	}
	return money.NonNegative(amount)
}

// Amount applies r to the whole subtotal. Below the minimum spend it yields zero.
func (r Rule) Amount(subtotal decimal.Decimal) decimal.Decimal {
	if subtotal.LessThan(r.MinSpend) {
		return decimal.Zero
	}
	return Compute(subtotal, r)
}

// Apply validates r at now and returns the discount for lines.
func Apply(now time.Time, lines []cart.Line, r Rule) (decimal.Decimal, error) {
	if err := r.Check(); err != nil {
		return decimal.Zero, err
	}
	subtotal := decimal.Zero
	for _, l := range lines {
		subtotal = subtotal.Add(l.LineTotal)
	}
	if err := r.Validate(now, subtotal); err != nil {
		return decimal.Zero, err
	}
	return Compute(EligibleSubtotal(lines, r), r), nil
}

// Book is a set of named rules looked up by code, case-insensitively.
type Book struct {
	mu    sync.RWMutex
	rules map[string]Rule
}

// NewBook returns a book holding rules. Malformed rules are rejected.
func NewBook(rules ...Rule) (*Book, error) {
	b := &Book{rules: map[string]Rule{}}
	for _, r := range rules {
		if err := b.Put(r); err != nil {
			return nil, err
		}
	}
	return b, nil
}

// Put adds or replaces a rule.
func (b *Book) Put(r Rule) error {
	code := normalizeCode(r.Code)
	if code == "" {
		return fmt.Errorf("%w: code is required", ErrInvalidRule)
	}
	if err := r.Check(); err != nil {
		return err
	}
	r.Code = code
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rules[code] = r
	return nil
}

// Lookup returns the rule for code.
func (b *Book) Lookup(code string) (Rule, error) {
	if b == nil {
		return Rule{}, ErrUnknownCode
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	r, ok := b.rules[normalizeCode(code)]
	if !ok {
		return Rule{}, fmt.Errorf("%q: %w", code, ErrUnknownCode)
	}
	return r, nil
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
