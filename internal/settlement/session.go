package settlement

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/backend-pos/internal/cart"
	"github.com/noah-isme/backend-pos/internal/events"
	"github.com/noah-isme/backend-pos/internal/money"
	"github.com/noah-isme/backend-pos/internal/obs"
	"github.com/noah-isme/backend-pos/internal/payment"
	"github.com/noah-isme/backend-pos/internal/tip"
)

// DefaultTimeout bounds the card round trip when Options.Timeout is unset.
const DefaultTimeout = 15 * time.Second

// OrderSource yields a consistent order snapshot. *cart.Cart implements it.
type OrderSource interface {
	Order(tipFn cart.TipFunc) cart.Order
}

// Recorder persists settled payments.
type Recorder interface {
	Record(ctx context.Context, d Descriptor) error
}

// RecordQueue takes over a descriptor the Recorder could not persist.
type RecordQueue interface {
	EnqueueRecord(ctx context.Context, d Descriptor) error
}

// Emitter publishes domain events. *events.Bus implements it.
type Emitter interface {
	Emit(ctx context.Context, topic, aggregateID string, payload any) (events.Event, error)
}

// Options configures a Session.
type Options struct {
	ID          string
	Processor   payment.Processor
	Recorder    Recorder
	RecordQueue RecordQueue
	Events      Emitter
	Logger      *zerolog.Logger
	DefaultTip  tip.Selection
	Timeout     time.Duration
	Now         func() time.Time
}

// SettleInput carries what the terminal collects at settle time.
type SettleInput struct {
	Card        payment.CardDetails
	BillingName string
}

// Snapshot is the operator-facing view of a session.
type Snapshot struct {
	ID           string         `json:"id"`
	Open         bool           `json:"open"`
	State        State          `json:"state"`
	Method       Method         `json:"method"`
	Tip          tip.Selection  `json:"tip"`
	CustomTip    string         `json:"customTip"`
	CashReceived string         `json:"cashReceived"`
	Splits       []PaymentSplit `json:"splits,omitempty"`
	LastError    string         `json:"lastError,omitempty"`
	FailureKind  FailureKind    `json:"failureKind,omitempty"`
	AttemptID    string         `json:"attemptId,omitempty"`
	ChangeDue    string         `json:"changeDue,omitempty"`
	Reference    string         `json:"reference,omitempty"`
}

type flight struct {
	cancel   context.CancelFunc
	intentID string
	attempt  *Attempt
}

// Session drives one checkout terminal through settlement. Every Open starts from a
// clean Idle state and at most one attempt runs at a time.
type Session struct {
	id      string
	opts    Options
	logger  zerolog.Logger
	now     func() time.Time
	timeout time.Duration

	mu         sync.Mutex
	order      OrderSource
	open       bool
	state      State
	method     Method
	tips       *tip.Calculator
	cashInput  string
	splits     []PaymentSplit
	lastFail   *Failure
	last       *Attempt
	generation uint64
	inflight   *flight
}

// NewSession builds a closed session. Call Open before taking input.
func NewSession(opts Options) *Session {
	if opts.ID == "" {
		opts.ID = uuid.NewString()
	}
	if opts.DefaultTip.Kind == "" {
		opts.DefaultTip = tip.PercentageOf(20)
	}
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Session{
		id:      opts.ID,
		opts:    opts,
		logger:  logger.With().Str("session_id", opts.ID).Logger(),
		now:     now,
		timeout: timeout,
		state:   StateIdle,
		method:  MethodCard,
		tips:    tip.NewCalculator(opts.DefaultTip),
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Open resets the session to Idle over order. It fails only while an attempt is in flight.
func (s *Session) Open(order OrderSource) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.InFlight() {
		return ErrSettleInProgress
	}
	s.order = order
	s.open = true
	s.state = StateIdle
	s.method = MethodCard
	s.tips = tip.NewCalculator(s.opts.DefaultTip)
	s.cashInput = ""
	s.splits = nil
	s.lastFail = nil
	s.last = nil
	s.inflight = nil
	s.generation++
	return nil
}

func (s *Session) inputLocked() error {
	if !s.open {
		return ErrSessionClosed
	}
	if s.state.InFlight() {
		return ErrSettleInProgress
	}
	return nil
}

// SelectMethod chooses how the order will be paid. Leaving split drops any allocations.
func (s *Session) SelectMethod(m Method) error {
	method, err := ParseMethod(string(m))
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.inputLocked(); err != nil {
		return err
	}
	s.method = method
	s.state = StateMethodSelected
	s.lastFail = nil
	if method != MethodSplit {
		s.splits = nil
	}
	return nil
}

// SetCashReceived stores the raw amount tendered.
func (s *Session) SetCashReceived(input string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.inputLocked(); err != nil {
		return err
	}
	s.cashInput = input
	return nil
}

// SelectTip switches tip policy.
func (s *Session) SelectTip(sel tip.Selection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.inputLocked(); err != nil {
		return err
	}
	s.tips.Select(sel)
	return nil
}

// SetCustomTip enters a custom tip. Malformed input resolves to zero.
func (s *Session) SetCustomTip(input string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.inputLocked(); err != nil {
		return err
	}
	s.tips.SetCustom(input)
	return nil
}

// SetSplits records split allocations for the split method.
func (s *Session) SetSplits(splits []PaymentSplit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.inputLocked(); err != nil {
		return err
	}
	s.splits = append([]PaymentSplit(nil), splits...)
	return nil
}

// Preview derives the live order with the current tip policy.
func (s *Session) Preview() cart.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.order == nil {
		return cart.Order{}
	}
	return s.order.Order(s.tips.Amount)
}

// Snapshot returns the current operator-facing state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		ID:           s.id,
		Open:         s.open,
		State:        s.state,
		Method:       s.method,
		Tip:          s.tips.Selection(),
		CustomTip:    s.tips.CustomInput(),
		CashReceived: s.cashInput,
	}
	if len(s.splits) > 0 {
		snap.Splits = append([]PaymentSplit(nil), s.splits...)
	}
	if s.lastFail != nil {
		snap.LastError = s.lastFail.Reason
		snap.FailureKind = s.lastFail.Kind
	}
	if s.last != nil {
		snap.AttemptID = s.last.ID
		snap.Reference = s.last.Reference
		if s.last.State == StateSettled && s.last.Method == MethodCash {
			snap.ChangeDue = money.String(s.last.ChangeDue)
		}
	}
	return snap
}

// Last returns a copy of the most recent attempt.
func (s *Session) Last() (Attempt, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return Attempt{}, false
	}
	return *s.last, true
}

// Settle runs one attempt to a terminal state. Payment failures are reported on the
// returned Attempt; only lifecycle conflicts are returned as errors.
func (s *Session) Settle(ctx context.Context, in SettleInput) (Attempt, error) {
	ctx, span := otel.Tracer("settlement.Session").Start(ctx, "Session.Settle")
	defer span.End()

	s.mu.Lock()
	if !s.open {
		s.mu.Unlock()
		return Attempt{}, ErrSessionClosed
	}
	if s.state.InFlight() {
		s.mu.Unlock()
		return Attempt{}, ErrSettleInProgress
	}
	att := &Attempt{
		ID:        uuid.NewString(),
		Method:    s.method,
		State:     StateValidating,
		StartedAt: s.now(),
	}
	s.state = StateValidating
	s.lastFail = nil
	s.last = att
	if s.order != nil {
		att.Order = s.order.Order(s.tips.Amount)
	}
	att.Totals = att.Order.Summary().Rounded()
	gen := s.generation
	span.SetAttributes(
		attribute.String("session.id", s.id),
		attribute.String("settlement.method", string(att.Method)),
		attribute.String("settlement.total", money.String(att.Totals.Total)),
	)

	if f := s.validateLocked(att, in); f != nil {
		s.finishLocked(att, StateFailed, f)
		s.mu.Unlock()
		return s.conclude(ctx, att, span)
	}
	switch att.Method {
	case MethodCash:
		s.settleCashLocked(att)
		s.mu.Unlock()
		return s.conclude(ctx, att, span)
	case MethodSplit:
		s.finishLocked(att, StateFailed, fail(FailureIncompleteFeature, ReasonSplitUnavailable, nil))
		s.mu.Unlock()
		return s.conclude(ctx, att, span)
	}
	if s.opts.Processor == nil {
		s.finishLocked(att, StateFailed, fail(FailureAdapterUnavailable, ReasonCardUnavailable, payment.ErrUnavailable))
		s.mu.Unlock()
		return s.conclude(ctx, att, span)
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	att.State = StateAwaitingConfirmation
	s.state = StateAwaitingConfirmation
	s.inflight = &flight{cancel: cancel, attempt: att}
	s.mu.Unlock()

	return s.settleCard(ctx, callCtx, gen, att, in, span)
}

func (s *Session) validateLocked(att *Attempt, in SettleInput) *Failure {
	if att.Method == "" {
		return fail(FailureValidation, ReasonNoMethod, nil)
	}
	if att.Order.IsEmpty() {
		return fail(FailureValidation, ReasonEmptyOrder, nil)
	}
	if att.Method == MethodCard {
		if !att.Totals.Total.IsPositive() {
			return fail(FailureValidation, ReasonNothingToCharge, nil)
		}
		if err := in.Card.Validate(); err != nil {
			return fail(FailureValidation, ReasonInvalidCard, err)
		}
	}
	return nil
}

func (s *Session) settleCashLocked(att *Attempt) {
	due := att.Totals.Total
	received := money.Round(money.ParseLenient(s.cashInput))
	if received.LessThan(due) {
		s.finishLocked(att, StateFailed, fail(FailureValidation, ReasonInsufficientFunds, nil))
		return
	}
	change := money.NonNegative(received.Sub(due))
	att.ChangeDue = change
	d := s.descriptorLocked(att)
	d.CashReceived = &received
	d.ChangeGiven = &change
	att.Descriptor = d
	s.finishLocked(att, StateSettled, nil)
}

func (s *Session) settleCard(parent, callCtx context.Context, gen uint64, att *Attempt, in SettleInput, span trace.Span) (Attempt, error) {
	proc := s.opts.Processor
	attemptID := att.ID
	intent, err := await(callCtx, func(ctx context.Context) (payment.Intent, error) {
		return proc.CreateIntent(ctx, att.Totals.Total)
	}, func(late payment.Intent, err error) {
		if err == nil && late.ID != "" {
			s.abandonIntent(parent, late.ID)
		}
	})
	if err != nil {
		return s.resolveCard(parent, gen, att, payment.Confirmation{}, classify(err, callCtx, parent), span)
	}

	s.mu.Lock()
	if s.generation != gen {
		s.mu.Unlock()
		s.abandonIntent(parent, intent.ID)
		return s.copyOf(att), nil
	}
	att.IntentID = intent.ID
	if s.inflight != nil {
		s.inflight.intentID = intent.ID
	}
	s.mu.Unlock()

	conf, err := await(callCtx, func(ctx context.Context) (payment.Confirmation, error) {
		return proc.ConfirmCardPayment(ctx, intent.ClientSecret, in.Card, in.BillingName)
	}, func(late payment.Confirmation, err error) {
		if err == nil && late.Succeeded() {
			s.logger.Error().Str("attempt_id", attemptID).Str("intent_id", intent.ID).
				Str("reference", late.Reference).Msg("card confirmed after the attempt ended")
		}
	})
	var f *Failure
	switch {
	case err != nil:
		f = classify(err, callCtx, parent)
	case !conf.Succeeded():
		f = fail(FailurePaymentDeclined, conf.Message(), nil)
	}
	return s.resolveCard(parent, gen, att, conf, f, span)
}

func (s *Session) resolveCard(ctx context.Context, gen uint64, att *Attempt, conf payment.Confirmation, f *Failure, span trace.Span) (Attempt, error) {
	s.mu.Lock()
	if s.generation != gen {
		res := *att
		s.mu.Unlock()
		if f == nil {
			s.logger.Warn().Str("attempt_id", res.ID).Str("intent_id", res.IntentID).Msg("card confirmed after cancellation")
		}
		return res, nil
	}
	abandon := ""
	if f != nil {
		s.finishLocked(att, StateFailed, f)
		abandon = att.IntentID
	} else {
		att.Reference = conf.Reference
		d := s.descriptorLocked(att)
		d.ProcessorReference = conf.Reference
		att.Descriptor = d
		s.finishLocked(att, StateSettled, nil)
	}
	s.mu.Unlock()
	if abandon != "" {
		s.abandonIntent(ctx, abandon)
	}
	return s.conclude(ctx, att, span)
}

type result[T any] struct {
	val T
	err error
}

// await runs fn on its own goroutine and returns once fn finishes or ctx ends, so an
// adapter that ignores ctx cannot hold the attempt open. When ctx ends first, late
// receives fn's eventual result.
func await[T any](ctx context.Context, fn func(context.Context) (T, error), late func(T, error)) (T, error) {
	done := make(chan result[T], 1)
	go func() {
		v, err := fn(ctx)
		done <- result[T]{val: v, err: err}
	}()
	select {
	case res := <-done:
		return res.val, res.err
	case <-ctx.Done():
	}
	select {
	case res := <-done:
		return res.val, res.err
	default:
	}
	if late != nil {
		go func() {
			res := <-done
			late(res.val, res.err)
		}()
	}
	var zero T
	return zero, ctx.Err()
}

func classify(err error, callCtx, parent context.Context) *Failure {
	switch {
	case errors.Is(err, payment.ErrUnavailable):
		return fail(FailureAdapterUnavailable, ReasonCardUnavailable, err)
	case parent.Err() != nil:
		return fail(FailureAdapterUnavailable, ReasonInterrupted, err)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(callCtx.Err(), context.DeadlineExceeded):
		return fail(FailureAdapterUnavailable, ReasonProcessorTimeout, err)
	case errors.Is(err, context.Canceled):
		return fail(FailureAdapterUnavailable, ReasonInterrupted, err)
	}
	if msg, ok := payment.RejectionMessage(err); ok {
		return fail(FailurePaymentDeclined, msg, err)
	}
	return fail(FailurePaymentDeclined, ReasonCardFailed, err)
}

func (s *Session) descriptorLocked(att *Attempt) *Descriptor {
	return &Descriptor{
		AttemptID:    att.ID,
		SessionID:    s.id,
		Method:       att.Method,
		TipAmount:    att.Totals.Tip,
		TotalAmount:  att.Totals.Total,
		CustomerName: att.Order.CustomerName,
		SettledAt:    s.now().UTC(),
	}
}

func (s *Session) finishLocked(att *Attempt, state State, f *Failure) {
	att.State = state
	att.Failure = f
	att.FinishedAt = s.now()
	s.state = state
	s.inflight = nil
	if f != nil {
		s.lastFail = f
	}
	if state == StateSettled {
		s.open = false
	}
}

func (s *Session) copyOf(att *Attempt) Attempt {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *att
}

// conclude runs the side effects of a resolved attempt outside the session lock.
func (s *Session) conclude(ctx context.Context, att *Attempt, span trace.Span) (Attempt, error) {
	res := s.copyOf(att)
	ctx = context.WithoutCancel(ctx)

	if res.State == StateSettled && res.Descriptor != nil && s.opts.Recorder != nil {
		s.record(ctx, att, &res)
	}

	evt := s.logger.Info()
	if res.Failure != nil {
		evt = s.logger.Warn().Str("failure_kind", string(res.Failure.Kind)).Str("reason", res.Failure.Reason)
		if res.Failure.Err != nil {
			evt = evt.AnErr("cause", res.Failure.Err)
		}
		span.SetStatus(codes.Error, res.Failure.Reason)
	}
	evt.Str("attempt_id", res.ID).
		Str("method", string(res.Method)).
		Str("status", string(res.State)).
		Str("total", money.String(res.Totals.Total)).
		Msg("settlement_attempt")
	span.SetAttributes(attribute.String("settlement.state", string(res.State)))
	if obs.SettlementAttemptTotal != nil {
		obs.SettlementAttemptTotal.WithLabelValues(string(res.Method), string(res.State)).Inc()
	}

	switch res.State {
	case StateSettled:
		s.emit(ctx, events.TopicCheckoutSettled, res.Descriptor)
	case StateFailed:
		s.emit(ctx, events.TopicCheckoutFailed, map[string]any{
			"attemptId": res.ID,
			"method":    res.Method,
			"kind":      res.Failure.Kind,
			"reason":    res.Failure.Reason,
			"total":     money.String(res.Totals.Total),
		})
	}
	return res, nil
}

func (s *Session) record(ctx context.Context, att, res *Attempt) {
	err := s.opts.Recorder.Record(ctx, *res.Descriptor)
	queued := false
	if err != nil {
		s.logger.Error().Err(err).Str("attempt_id", res.ID).Msg("settlement_record_failed")
		if s.opts.RecordQueue != nil {
			if qerr := s.opts.RecordQueue.EnqueueRecord(ctx, *res.Descriptor); qerr != nil {
				s.logger.Error().Err(qerr).Str("attempt_id", res.ID).Msg("settlement_record_enqueue_failed")
			} else {
				queued = true
			}
		}
	}
	s.mu.Lock()
	att.Recorded, att.RecordErr, att.RecordQueued = err == nil, err, queued
	s.mu.Unlock()
	res.Recorded, res.RecordErr, res.RecordQueued = err == nil, err, queued
}

// Cancel ends the session before settlement. An in-flight card round trip is cancelled
// and any intent already created is abandoned. No payment is recorded.
func (s *Session) Cancel(ctx context.Context) error {
	s.mu.Lock()
	switch {
	case s.state == StateSettled:
		s.mu.Unlock()
		return ErrAlreadySettled
	case s.state == StateCancelled:
		s.mu.Unlock()
		return nil
	case !s.open:
		s.mu.Unlock()
		return ErrSessionClosed
	}
	fl := s.inflight
	method := s.method
	s.generation++
	s.state = StateCancelled
	s.open = false
	s.inflight = nil
	intentID := ""
	if fl != nil {
		fl.attempt.State = StateCancelled
		fl.attempt.FinishedAt = s.now()
		intentID = fl.intentID
		method = fl.attempt.Method
	}
	s.mu.Unlock()

	if fl != nil {
		fl.cancel()
	}
	if intentID != "" {
		s.abandonIntent(ctx, intentID)
	}
	s.logger.Info().Str("method", string(method)).Str("intent_id", intentID).Bool("in_flight", fl != nil).Msg("checkout_cancelled")
	if obs.SettlementAttemptTotal != nil && fl != nil {
		obs.SettlementAttemptTotal.WithLabelValues(string(method), string(StateCancelled)).Inc()
	}
	s.emit(ctx, events.TopicCheckoutCancelled, map[string]any{
		"method":   method,
		"intentId": intentID,
		"inFlight": fl != nil,
	})
	return nil
}

// abandonIntent cancels intentID at the processor, bounded by the session timeout
// regardless of whether ctx is still live.
func (s *Session) abandonIntent(ctx context.Context, intentID string) {
	canceler, ok := s.opts.Processor.(payment.IntentCanceler)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()
	_, err := await(ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, canceler.CancelIntent(ctx, intentID)
	}, nil)
	if err != nil {
		s.logger.Warn().Err(err).Str("intent_id", intentID).Msg("payment_intent_cancel_failed")
	}
}

func (s *Session) emit(ctx context.Context, topic string, payload any) {
	if s.opts.Events == nil {
		return
	}
	if _, err := s.opts.Events.Emit(ctx, topic, s.id, payload); err != nil {
		s.logger.Warn().Err(err).Str("topic", topic).Msg("event_emit_failed")
	}
}

// ChangeDue is a helper for previews: the change for cashInput against total, floored at zero.
func ChangeDue(cashInput string, total decimal.Decimal) decimal.Decimal {
	return money.NonNegative(money.Round(money.ParseLenient(cashInput)).Sub(money.Round(total)))
}
