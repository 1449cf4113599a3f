package settlement

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-pos/internal/cart"
	"github.com/noah-isme/backend-pos/internal/pricing"
)

// State is a checkout lifecycle position.
type State string

const (
	StateIdle                 State = "idle"
	StateMethodSelected       State = "method_selected"
	StateValidating           State = "validating"
	StateAwaitingConfirmation State = "awaiting_confirmation"
	StateSettled              State = "settled"
	StateFailed               State = "failed"
	StateCancelled            State = "cancelled"
)

// InFlight reports whether an attempt is running.
func (s State) InFlight() bool {
	return s == StateValidating || s == StateAwaitingConfirmation
}

// Terminal reports whether an attempt in this state has resolved.
func (s State) Terminal() bool {
	return s == StateSettled || s == StateFailed || s == StateCancelled
}

// Method is how the order is paid.
type Method string

const (
	MethodCard  Method = "card"
	MethodCash  Method = "cash"
	MethodSplit Method = "split"
)

// ParseMethod normalises a method name.
func ParseMethod(value string) (Method, error) {
	switch m := Method(strings.ToLower(strings.TrimSpace(value))); m {
	case MethodCard, MethodCash, MethodSplit:
		return m, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidMethod, value)
	}
}

// PaymentSplit is one portion of a split payment.
type PaymentSplit struct {
	Method Method          `json:"method"`
	Amount decimal.Decimal `json:"amount"`
}

// Lifecycle errors returned by Session operations. Payment outcomes are never returned as errors.
var (
	ErrSettleInProgress = errors.New("settlement already in progress")
	ErrSessionClosed    = errors.New("checkout session is closed")
	ErrAlreadySettled   = errors.New("checkout already settled")
	ErrInvalidMethod    = errors.New("invalid payment method")
)

// FailureKind classifies why an attempt failed.
type FailureKind string

const (
	FailureValidation         FailureKind = "validation"
	FailureAdapterUnavailable FailureKind = "adapter_unavailable"
	FailurePaymentDeclined    FailureKind = "payment_declined"
	FailureIncompleteFeature  FailureKind = "incomplete_feature"
)

// Human-readable failure reasons.
const (
	ReasonInsufficientFunds = "insufficient funds"
	ReasonNoMethod          = "select a payment method"
	ReasonEmptyOrder        = "order has no items"
	ReasonNothingToCharge   = "order total must be greater than zero for card payments"
	ReasonInvalidCard       = "card details are invalid"
	ReasonSplitUnavailable  = "split payments are not available"
	ReasonCardUnavailable   = "card payments are unavailable"
	ReasonProcessorTimeout  = "payment processor timed out"
	ReasonInterrupted       = "payment confirmation was interrupted"
	ReasonCardFailed        = "card payment failed, please try again"
)

// Failure is the terminal reason of a failed attempt.
type Failure struct {
	Kind   FailureKind
	Reason string
	Err    error
}

func (f *Failure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("%s: %s: %v", f.Kind, f.Reason, f.Err)
	}
	return fmt.Sprintf("%s: %s", f.Kind, f.Reason)
}

func (f *Failure) Unwrap() error { return f.Err }

// Retryable reports whether settling again may succeed without changing the method.
func (f *Failure) Retryable() bool {
	return f.Kind != FailureIncompleteFeature
}

func fail(kind FailureKind, reason string, err error) *Failure {
	return &Failure{Kind: kind, Reason: reason, Err: err}
}

// Descriptor is the finalized payment handed to persistence on Settled. Amounts are rounded.
type Descriptor struct {
	AttemptID          string           `json:"attemptId"`
	SessionID          string           `json:"sessionId"`
	Method             Method           `json:"method"`
	TipAmount          decimal.Decimal  `json:"tipAmount"`
	TotalAmount        decimal.Decimal  `json:"totalAmount"`
	CashReceived       *decimal.Decimal `json:"cashReceived,omitempty"`
	ChangeGiven        *decimal.Decimal `json:"changeGiven,omitempty"`
	ProcessorReference string           `json:"processorReference,omitempty"`
	Splits             []PaymentSplit   `json:"splits,omitempty"`
	CustomerName       string           `json:"customerName,omitempty"`
	SettledAt          time.Time        `json:"settledAt"`
}

// Attempt is one invocation of Settle. Its Order is the snapshot frozen when validation began.
type Attempt struct {
	ID         string
	Method     Method
	State      State
	Order      cart.Order
	Totals     pricing.Summary
	IntentID   string
	ChangeDue  decimal.Decimal
	Reference  string
	Failure    *Failure
	Descriptor *Descriptor
	// Recorded is set once the Recorder accepted the descriptor. When it failed,
	// RecordErr holds the cause and RecordQueued reports whether a retry was queued.
	Recorded     bool
	RecordErr    error
	RecordQueued bool
	StartedAt  time.Time
	FinishedAt time.Time
}
