package tip

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-pos/internal/money"
)

// Kind names a tip policy.
type Kind string

const (
	KindPercentage Kind = "percentage"
	KindCustom     Kind = "custom"
	KindNone       Kind = "none"
)

// ErrUnknownKind is returned when a selection kind is not recognised.
var ErrUnknownKind = errors.New("unknown tip kind")

var hundred = decimal.NewFromInt(100)

// Selection is a tip policy. Percent is used for KindPercentage, Amount for KindCustom.
type Selection struct {
	Kind    Kind            `json:"kind"`
	Percent decimal.Decimal `json:"percent"`
	Amount  decimal.Decimal `json:"amount"`
}

// Percentage selects value percent of the subtotal.
func Percentage(value decimal.Decimal) Selection {
	return Selection{Kind: KindPercentage, Percent: value}
}

// PercentageOf is Percentage for whole-number presets.
func PercentageOf(value int) Selection {
	return Percentage(decimal.NewFromInt(int64(value)))
}

// Custom selects a fixed amount.
func Custom(amount decimal.Decimal) Selection {
	return Selection{Kind: KindCustom, Amount: amount}
}

// None selects no tip.
func None() Selection {
	return Selection{Kind: KindNone}
}

// Equal reports whether two selections describe the same policy.
func (s Selection) Equal(o Selection) bool {
	return s.Kind == o.Kind && s.Percent.Equal(o.Percent) && s.Amount.Equal(o.Amount)
}

// Label renders the selection for a receipt or button.
func (s Selection) Label() string {
	switch s.Kind {
	case KindPercentage:
		return s.Percent.String() + "%"
	case KindCustom:
		return "custom " + money.String(money.NonNegative(s.Amount))
	default:
		return "no tip"
	}
}

// Resolve derives the tip for subtotal. Negative inputs resolve to zero and the result is never negative.
func Resolve(sel Selection, subtotal decimal.Decimal) decimal.Decimal {
	switch sel.Kind {
	case KindPercentage:
		if sel.Percent.IsNegative() || !subtotal.IsPositive() {
			return decimal.Zero
		}
		return sel.Percent.Mul(subtotal).Div(hundred)
	case KindCustom:
		return money.NonNegative(sel.Amount)
	default:
		return decimal.Zero
	}
}

// ParseSelection builds a selection from loosely typed input. Custom values are parsed leniently.
func ParseSelection(kind, value string) (Selection, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(kind))) {
	case KindPercentage:
		pct, err := decimal.NewFromString(strings.TrimSuffix(strings.TrimSpace(value), "%"))
		if err != nil || pct.IsNegative() {
			return Selection{}, fmt.Errorf("%w: percentage %q", ErrUnknownKind, value)
		}
		return Percentage(pct), nil
	case KindCustom:
		return Custom(money.ParseLenient(value)), nil
	case KindNone, "":
		return None(), nil
	default:
		return Selection{}, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
}

// Presets expands whole-number percentages into selections, in order.
func Presets(percents []int) []Selection {
	out := make([]Selection, 0, len(percents))
	for _, p := range percents {
		if p < 0 {
			continue
		}
		out = append(out, PercentageOf(p))
	}
	return out
}
