package payment

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Sandbox card endings with scripted outcomes.
const (
	SandboxDeclineLast4 = "0000"
	SandboxErrorLast4   = "0119"
)

// ErrSandboxTransport simulates a network failure during confirmation.
var ErrSandboxTransport = errors.New("sandbox: processor connection reset")

type sandboxIntent struct {
	intent    Intent
	status    string
	reference string
}

// Sandbox is a deterministic in-process processor for demos and local runs.
type Sandbox struct {
	mu      sync.Mutex
	intents map[string]*sandboxIntent
}

// NewSandbox returns an empty sandbox processor.
func NewSandbox() *Sandbox {
	return &Sandbox{intents: map[string]*sandboxIntent{}}
}

// Name implements Namer.
func (s *Sandbox) Name() string { return "sandbox" }

// CreateIntent registers a new intent.
func (s *Sandbox) CreateIntent(ctx context.Context, amount decimal.Decimal) (Intent, error) {
	if err := ctx.Err(); err != nil {
		return Intent{}, err
	}
	if !amount.IsPositive() {
		return Intent{}, ErrInvalidAmount
	}
	id := "pi_sbx_" + uuid.NewString()
	intent := Intent{ID: id, ClientSecret: id + "_secret_" + uuid.NewString(), Amount: amount}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.intents[intent.ClientSecret] = &sandboxIntent{intent: intent, status: "requires_confirmation"}
	return intent, nil
}

// ConfirmCardPayment settles the intent unless the card ending selects a scripted failure.
func (s *Sandbox) ConfirmCardPayment(ctx context.Context, clientSecret string, card CardDetails, _ string) (Confirmation, error) {
	if err := ctx.Err(); err != nil {
		return Confirmation{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.intents[clientSecret]
	if !ok {
		return Confirmation{}, ErrUnknownIntent
	}
	switch entry.status {
	case StatusSucceeded:
		return Confirmation{Status: StatusFailed, ErrorMessage: "payment intent already confirmed"}, nil
	case "canceled":
		return Confirmation{Status: StatusFailed, ErrorMessage: "payment intent was canceled"}, nil
	}
	if err := card.Validate(); err != nil {
		return Confirmation{Status: StatusFailed, ErrorMessage: "Your card details are invalid."}, nil
	}
	switch card.Last4() {
	case SandboxErrorLast4:
		return Confirmation{}, ErrSandboxTransport
	case SandboxDeclineLast4:
		entry.status = StatusFailed
		return Confirmation{Status: StatusFailed, ErrorMessage: "Your card was declined."}, nil
	}
	entry.status = StatusSucceeded
	entry.reference = "ch_sbx_" + uuid.NewString()
	return Confirmation{Status: StatusSucceeded, Reference: entry.reference}, nil
}

// CancelIntent abandons an intent. Cancelling a succeeded intent is refused.
func (s *Sandbox) CancelIntent(ctx context.Context, intentID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, entry := range s.intents {
		if entry.intent.ID != intentID {
			continue
		}
		if entry.status == StatusSucceeded {
			return fmt.Errorf("intent %s already captured", intentID)
		}
		entry.status = "canceled"
		return nil
	}
	return ErrUnknownIntent
}

// Status reports an intent's current sandbox status.
func (s *Sandbox) Status(intentID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, entry := range s.intents {
		if entry.intent.ID == intentID {
			return entry.status, true
		}
	}
	return "", false
}
