package checkout

import (
	"github.com/noah-isme/backend-pos/internal/cart"
	"github.com/noah-isme/backend-pos/internal/catalog"
	"github.com/noah-isme/backend-pos/internal/money"
	"github.com/noah-isme/backend-pos/internal/settlement"
	"github.com/noah-isme/backend-pos/internal/tip"
)

type modifierView struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	PriceLabel string `json:"priceLabel"`
}

type lineView struct {
	Index               int            `json:"index"`
	ProductID           string         `json:"productId"`
	ProductName         string         `json:"productName"`
	Quantity            int            `json:"quantity"`
	Size                *modifierView  `json:"size,omitempty"`
	Modifiers           []modifierView `json:"modifiers"`
	SpecialInstructions string         `json:"specialInstructions,omitempty"`
	UnitPrice           string         `json:"unitPrice"`
	LineTotal           string         `json:"lineTotal"`
}

type totalsView struct {
	Subtotal string `json:"subtotal"`
	Tax      string `json:"tax"`
	Discount string `json:"discount"`
	Tip      string `json:"tip"`
	Total    string `json:"total"`
}

type tipPresetView struct {
	Label     string        `json:"label"`
	Selection tip.Selection `json:"selection"`
	Amount    string        `json:"amount"`
	Selected  bool          `json:"selected"`
}

type discountView struct {
	Code    string `json:"code"`
	Problem string `json:"problem,omitempty"`
}

type terminalView struct {
	ID           string              `json:"id"`
	CustomerName string              `json:"customerName,omitempty"`
	Lines        []lineView          `json:"lines"`
	Totals       totalsView          `json:"totals"`
	TipPresets   []tipPresetView     `json:"tipPresets"`
	Discount     *discountView       `json:"discount,omitempty"`
	ChangeDue    string              `json:"changeDue,omitempty"`
	Session      settlement.Snapshot `json:"session"`
}

type attemptView struct {
	ID            string                 `json:"id"`
	Method        settlement.Method      `json:"method"`
	State         settlement.State       `json:"state"`
	Totals        totalsView             `json:"totals"`
	ChangeDue     string                 `json:"changeDue,omitempty"`
	Reference     string                 `json:"reference,omitempty"`
	FailureKind   settlement.FailureKind `json:"failureKind,omitempty"`
	Reason        string                 `json:"reason,omitempty"`
	Retryable     bool                   `json:"retryable"`
	Recorded      bool                   `json:"recorded"`
	RecordPending bool                   `json:"recordPending,omitempty"`
}

func modView(m catalog.Modifier) modifierView {
	return modifierView{ID: m.ID, Name: m.Name, PriceLabel: m.PriceLabel()}
}

func linesView(lines []cart.Line) []lineView {
	out := make([]lineView, 0, len(lines))
	for i, l := range lines {
		v := lineView{
			Index:               i,
			ProductID:           l.Product.ID,
			ProductName:         l.Product.Name,
			Quantity:            l.Quantity,
			Modifiers:           make([]modifierView, 0, len(l.SelectedModifiers)),
			SpecialInstructions: l.SpecialInstructions,
			UnitPrice:           money.String(l.UnitPrice),
			LineTotal:           money.String(l.LineTotal),
		}
		if l.SelectedSize != nil {
			size := modView(*l.SelectedSize)
			v.Size = &size
		}
		for _, m := range l.SelectedModifiers {
			v.Modifiers = append(v.Modifiers, modView(m))
		}
		out = append(out, v)
	}
	return out
}

func orderTotals(o cart.Order) totalsView {
	r := o.Summary().Rounded()
	return totalsView{
		Subtotal: money.String(r.Subtotal),
		Tax:      money.String(r.Tax),
		Discount: money.String(r.Discount),
		Tip:      money.String(r.Tip),
		Total:    money.String(r.Total),
	}
}

func (s *Service) view(t *Terminal) terminalView {
	order := t.Session.Preview()
	snap := t.Session.Snapshot()
	v := terminalView{
		ID:           t.ID,
		CustomerName: order.CustomerName,
		Lines:        linesView(order.Lines),
		Totals:       orderTotals(order),
		TipPresets:   make([]tipPresetView, 0, len(s.TipPresets)),
		Session:      snap,
	}
	for _, p := range s.TipPresets {
		v.TipPresets = append(v.TipPresets, tipPresetView{
			Label:     p.Label(),
			Selection: p,
			Amount:    money.String(tip.Resolve(p, order.Subtotal)),
			Selected:  p.Equal(snap.Tip),
		})
	}
	if code, problem := t.DiscountState(); code != "" {
		v.Discount = &discountView{Code: code, Problem: problem}
	}
	if snap.Method == settlement.MethodCash && snap.CashReceived != "" && snap.Open {
		v.ChangeDue = money.String(settlement.ChangeDue(snap.CashReceived, order.Total))
	}
	return v
}

func viewAttempt(a settlement.Attempt) attemptView {
	v := attemptView{
		ID:        a.ID,
		Method:    a.Method,
		State:     a.State,
		Reference: a.Reference,
		Recorded:  a.Recorded,
		Totals: totalsView{
			Subtotal: money.String(a.Totals.Subtotal),
			Tax:      money.String(a.Totals.Tax),
			Discount: money.String(a.Totals.Discount),
			Tip:      money.String(a.Totals.Tip),
			Total:    money.String(a.Totals.Total),
		},
	}
	if a.State == settlement.StateSettled {
		v.RecordPending = !a.Recorded && a.RecordQueued
	}
	if a.State == settlement.StateSettled && a.Method == settlement.MethodCash {
		v.ChangeDue = money.String(a.ChangeDue)
	}
	if a.Failure != nil {
		v.FailureKind = a.Failure.Kind
		v.Reason = a.Failure.Reason
		v.Retryable = a.Failure.Retryable()
	}
	return v
}
