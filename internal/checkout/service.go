package checkout

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-pos/internal/cart"
	"github.com/noah-isme/backend-pos/internal/catalog"
	"github.com/noah-isme/backend-pos/internal/discount"
	"github.com/noah-isme/backend-pos/internal/events"
	"github.com/noah-isme/backend-pos/internal/money"
	"github.com/noah-isme/backend-pos/internal/obs"
	"github.com/noah-isme/backend-pos/internal/payment"
	"github.com/noah-isme/backend-pos/internal/pricing"
	"github.com/noah-isme/backend-pos/internal/settlement"
	"github.com/noah-isme/backend-pos/internal/tip"
)

var (
	// ErrTerminalNotFound is returned for unknown or evicted terminal ids.
	ErrTerminalNotFound = errors.New("checkout terminal not found")
	// ErrUnknownOption is returned when a line references an option the product does not offer.
	ErrUnknownOption = errors.New("unknown product option")
	// ErrOrderLocked is returned when the cart is edited while settlement runs or after it completed.
	ErrOrderLocked = errors.New("order is locked for settlement")
)

// Terminal is one open checkout: a cart and the session settling it.
type Terminal struct {
	ID      string
	Session *settlement.Session

	mu           sync.Mutex
	cart         *cart.Cart
	discountCode string
	discountErr  string
	lastSeen     time.Time
}

// Cart returns the order currently being built.
func (t *Terminal) Cart() *cart.Cart {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cart
}

// Service owns the terminals of one process and applies order level policy
// (tax rate, discount codes) on top of the cart.
type Service struct {
	Catalog     catalog.Source
	Processor   payment.Processor
	Recorder    settlement.Recorder
	RecordQueue settlement.RecordQueue
	Events      settlement.Emitter
	Discounts   *discount.Book
	Logger      *zerolog.Logger
	TaxRateBPS  int
	DefaultTip  tip.Selection
	TipPresets  []tip.Selection
	Timeout     time.Duration
	IdleTTL     time.Duration
	Now         func() time.Time

	mu        sync.Mutex
	terminals map[string]*Terminal
}

// LineInput selects a product and its options by id.
type LineInput struct {
	ProductID           string   `json:"productId" validate:"required"`
	Quantity            int      `json:"quantity" validate:"min=1"`
	SizeID              string   `json:"sizeId"`
	ModifierIDs         []string `json:"modifierIds"`
	SpecialInstructions string   `json:"specialInstructions" validate:"max=200"`
}

// LinePatch edits a line. A non-nil empty SizeID clears the size.
type LinePatch struct {
	Quantity            *int      `json:"quantity" validate:"omitempty,min=1"`
	SizeID              *string   `json:"sizeId"`
	ModifierIDs         *[]string `json:"modifierIds"`
	SpecialInstructions *string   `json:"specialInstructions" validate:"omitempty,max=200"`
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Service) logger() zerolog.Logger {
	if s.Logger != nil {
		return *s.Logger
	}
	return zerolog.Nop()
}

// Open creates a terminal with an empty cart and an open session.
func (s *Service) Open(ctx context.Context, customerName string) (*Terminal, error) {
	id := uuid.NewString()
	sess := settlement.NewSession(settlement.Options{
		ID:          id,
		Processor:   s.Processor,
		Recorder:    s.Recorder,
		RecordQueue: s.RecordQueue,
		Events:      s.Events,
		Logger:      s.Logger,
		DefaultTip:  s.DefaultTip,
		Timeout:     s.Timeout,
		Now:         s.Now,
	})
	c := cart.New()
	c.SetCustomerName(customerName)
	if err := sess.Open(c); err != nil {
		return nil, err
	}
	t := &Terminal{ID: id, Session: sess, cart: c, lastSeen: s.now()}

	s.mu.Lock()
	if s.terminals == nil {
		s.terminals = map[string]*Terminal{}
	}
	s.terminals[id] = t
	active := len(s.terminals)
	s.mu.Unlock()

	setActive(active)
	s.emit(ctx, events.TopicCheckoutOpened, id, map[string]any{"customerName": customerName})
	l := s.logger()
	l.Info().Str("session_id", id).Msg("checkout_opened")
	return t, nil
}

// Get returns the terminal and marks it as used.
func (s *Service) Get(id string) (*Terminal, error) {
	s.mu.Lock()
	t, ok := s.terminals[id]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, ErrTerminalNotFound)
	}
	t.mu.Lock()
	t.lastSeen = s.now()
	t.mu.Unlock()
	return t, nil
}

// Reopen starts a fresh order on an existing terminal.
func (s *Service) Reopen(ctx context.Context, id, customerName string) (*Terminal, error) {
	t, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	c := cart.New()
	c.SetCustomerName(customerName)
	if err := t.Session.Open(c); err != nil {
		return nil, err
	}
	t.mu.Lock()
	t.cart = c
	t.discountCode = ""
	t.discountErr = ""
	t.mu.Unlock()
	s.emit(ctx, events.TopicCheckoutOpened, id, map[string]any{"customerName": customerName, "reopened": true})
	return t, nil
}

// Close forgets the terminal. Terminals with an attempt in flight are kept.
func (s *Service) Close(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.terminals[id]
	if !ok || t.Session.Snapshot().State.InFlight() {
		return false
	}
	delete(s.terminals, id)
	setActive(len(s.terminals))
	return true
}

// Sweep evicts terminals idle for longer than IdleTTL and returns how many were removed.
func (s *Service) Sweep(now time.Time) int {
	if s.IdleTTL <= 0 {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, t := range s.terminals {
		t.mu.Lock()
		idle := now.Sub(t.lastSeen)
		t.mu.Unlock()
		if idle < s.IdleTTL || t.Session.Snapshot().State.InFlight() {
			continue
		}
		delete(s.terminals, id)
		removed++
	}
	setActive(len(s.terminals))
	if removed > 0 {
		l := s.logger()
		l.Info().Int("evicted", removed).Msg("checkout_terminals_evicted")
	}
	return removed
}

// RunJanitor sweeps idle terminals every interval until ctx is done.
func (s *Service) RunJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(s.now())
		}
	}
}

// Len reports the number of live terminals.
func (s *Service) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.terminals)
}

func setActive(n int) {
	if obs.CheckoutSessionsActive != nil {
		obs.CheckoutSessionsActive.Set(float64(n))
	}
}

// editable rejects cart edits once settlement has started or finished.
func editable(t *Terminal) error {
	snap := t.Session.Snapshot()
	if snap.State.InFlight() || !snap.Open {
		return ErrOrderLocked
	}
	return nil
}

// AddLine resolves the product and options and appends a line.
func (s *Service) AddLine(ctx context.Context, t *Terminal, in LineInput) (int, error) {
	if err := editable(t); err != nil {
		return -1, err
	}
	product, err := s.product(ctx, in.ProductID)
	if err != nil {
		return -1, err
	}
	size, err := resolveSize(product, in.SizeID)
	if err != nil {
		return -1, err
	}
	mods, err := resolveModifiers(product, in.ModifierIDs)
	if err != nil {
		return -1, err
	}
	c := t.Cart()
	idx, err := c.AddLine(product, cart.LineOptions{
		Quantity:            in.Quantity,
		Size:                size,
		Modifiers:           mods,
		SpecialInstructions: in.SpecialInstructions,
	})
	if err != nil {
		return -1, err
	}
	s.applyPolicy(t)
	return idx, nil
}

// UpdateLine edits the line at index. Options are resolved against the line's own product snapshot.
func (s *Service) UpdateLine(t *Terminal, index int, in LinePatch) error {
	if err := editable(t); err != nil {
		return err
	}
	c := t.Cart()
	line, err := c.Line(index)
	if err != nil {
		return err
	}
	patch := cart.Patch{Quantity: in.Quantity, SpecialInstructions: in.SpecialInstructions}
	if in.SizeID != nil {
		if *in.SizeID == "" {
			patch.ClearSize = true
		} else if patch.Size, err = resolveSize(line.Product, *in.SizeID); err != nil {
			return err
		}
	}
	if in.ModifierIDs != nil {
		mods, err := resolveModifiers(line.Product, *in.ModifierIDs)
		if err != nil {
			return err
		}
		patch.Modifiers = &mods
	}
	if err := c.UpdateLine(index, patch); err != nil {
		return err
	}
	s.applyPolicy(t)
	return nil
}

// RemoveLine deletes the line at index.
func (s *Service) RemoveLine(t *Terminal, index int) error {
	if err := editable(t); err != nil {
		return err
	}
	if err := t.Cart().RemoveLine(index); err != nil {
		return err
	}
	s.applyPolicy(t)
	return nil
}

// ApplyDiscount sets the discount code for the order. An empty code clears it.
func (s *Service) ApplyDiscount(t *Terminal, code string) error {
	if err := editable(t); err != nil {
		return err
	}
	if code != "" {
		rule, err := s.Discounts.Lookup(code)
		if err != nil {
			return err
		}
		if _, err := discount.Apply(s.now(), t.Cart().Lines(), rule); err != nil {
			return err
		}
		code = rule.Code
	}
	t.mu.Lock()
	t.discountCode = code
	t.mu.Unlock()
	s.applyPolicy(t)
	return nil
}

// applyPolicy recomputes the order level discount and tax from the current lines.
// A code that stops qualifying after an edit stays attached but contributes zero.
func (s *Service) applyPolicy(t *Terminal) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c := t.cart
	lines := c.Lines()

	amount := decimal.Zero
	t.discountErr = ""
	if t.discountCode != "" {
		rule, err := s.Discounts.Lookup(t.discountCode)
		if err == nil {
			amount, err = discount.Apply(s.now(), lines, rule)
		}
		if err != nil {
			amount = decimal.Zero
			t.discountErr = err.Error()
		}
	}
	c.SetOrderDiscount(amount)

	subtotal := c.Recompute().Subtotal
	c.SetOrderTax(pricing.TaxAtRate(money.NonNegative(subtotal.Sub(amount)), s.TaxRateBPS))
}

func (s *Service) product(ctx context.Context, id string) (catalog.Product, error) {
	if s.Catalog == nil {
		return catalog.Product{}, fmt.Errorf("%s: %w", id, catalog.ErrProductNotFound)
	}
	return s.Catalog.Product(ctx, id)
}

func resolveSize(p catalog.Product, id string) (*catalog.Modifier, error) {
	if id == "" {
		return nil, nil
	}
	m, ok := p.Option(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownOption, id)
	}
	return &m, nil
}

func resolveModifiers(p catalog.Product, ids []string) ([]catalog.Modifier, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	mods := make([]catalog.Modifier, 0, len(ids))
	for _, id := range ids {
		m, ok := p.Option(id)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownOption, id)
		}
		mods = append(mods, m)
	}
	return mods, nil
}

// DiscountState reports the applied code and, when it no longer qualifies, why.
func (t *Terminal) DiscountState() (code, problem string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.discountCode, t.discountErr
}

func (s *Service) emit(ctx context.Context, topic, id string, payload any) {
	if s.Events == nil {
		return
	}
	if _, err := s.Events.Emit(ctx, topic, id, payload); err != nil {
		l := s.logger()
		l.Warn().Err(err).Str("topic", topic).Str("session_id", id).Msg("event_emit_failed")
	}
}
