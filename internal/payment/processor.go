package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"

	validator "github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// Confirmation statuses reported by processors.
const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

var (
	// ErrUnavailable indicates the processor is not configured or not reachable.
	ErrUnavailable = errors.New("payment processor unavailable")
	// ErrInvalidAmount is returned for non-positive intent amounts.
	ErrInvalidAmount = errors.New("payment amount must be positive")
	// ErrInvalidCard is returned when card details fail validation.
	ErrInvalidCard = errors.New("invalid card details")
	// ErrUnknownIntent is returned when a client secret or intent id is not recognised.
	ErrUnknownIntent = errors.New("unknown payment intent")
)

var validate = validator.New()

// Intent is a processor-side payment intent for a fixed amount.
type Intent struct {
	ID           string
	ClientSecret string
	Amount       decimal.Decimal
}

// CardDetails are collected at the terminal and forwarded to the processor untouched.
type CardDetails struct {
	Number   string `json:"number" validate:"required,numeric,min=12,max=19"`
	ExpMonth int    `json:"expMonth" validate:"min=1,max=12"`
	ExpYear  int    `json:"expYear" validate:"min=2000"`
	CVC      string `json:"cvc" validate:"required,numeric,min=3,max=4"`
}

// Validate checks the card shape. It does not contact the processor.
func (c CardDetails) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCard, err)
	}
	return nil
}

// Last4 returns the trailing four digits of the card number.
func (c CardDetails) Last4() string {
	n := strings.TrimSpace(c.Number)
	if len(n) <= 4 {
		return n
	}
	return n[len(n)-4:]
}

// String masks the card so it is safe to log.
func (c CardDetails) String() string {
	return "card ending " + c.Last4()
}

// Confirmation is the processor's verdict for a card payment.
type Confirmation struct {
	Status       string
	Reference    string
	ErrorMessage string
}

// Succeeded is true only for an explicit "succeeded" status. Any other shape is non-success.
func (c Confirmation) Succeeded() bool {
	return c.Status == StatusSucceeded
}

// Message returns a human-readable failure description.
func (c Confirmation) Message() string {
	if msg := strings.TrimSpace(c.ErrorMessage); msg != "" {
		return msg
	}
	if c.Status == "" {
		return "payment was not confirmed"
	}
	return fmt.Sprintf("payment %s", c.Status)
}

// Processor is the external card payment contract.
type Processor interface {
	CreateIntent(ctx context.Context, amount decimal.Decimal) (Intent, error)
	ConfirmCardPayment(ctx context.Context, clientSecret string, card CardDetails, billingName string) (Confirmation, error)
}

// IntentCanceler is implemented by processors that can abandon an intent.
type IntentCanceler interface {
	CancelIntent(ctx context.Context, intentID string) error
}

// Namer lets processors label their metrics and spans.
type Namer interface {
	Name() string
}

// NameOf returns the processor label, defaulting to "unknown".
func NameOf(p Processor) string {
	if n, ok := p.(Namer); ok {
		if name := strings.TrimSpace(strings.ToLower(n.Name())); name != "" {
			return name
		}
	}
	return "unknown"
}

// IntentIDFromSecret extracts the intent id from a "<id>_secret_<token>" client secret.
func IntentIDFromSecret(secret string) (string, bool) {
	id, _, ok := strings.Cut(secret, "_secret_")
	if !ok || id == "" {
		return "", false
	}
	return id, true
}
