// Package paymenttest provides a scripted payment.Processor for tests.
package paymenttest

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-pos/internal/payment"
)

// Processor records calls and replays configured outcomes. Zero values succeed.
type Processor struct {
	mu sync.Mutex

	IntentErr    error
	Confirmation payment.Confirmation
	ConfirmErr   error
	CancelErr    error

	// Block, when non-nil, holds ConfirmCardPayment until it is closed or ctx ends.
	Block chan struct{}
	// IgnoreContext makes Block wait for close even after ctx ends.
	IgnoreContext bool
	// HoldIntent, when non-nil, holds CreateIntent until it is closed. ctx is ignored.
	HoldIntent chan struct{}
	// Started receives a value each time ConfirmCardPayment begins.
	Started chan struct{}

	createCalls  int
	confirmCalls int
	amounts      []decimal.Decimal
	billingNames []string
	canceled     []string
}

// New returns a processor whose confirmations succeed with reference "ch_test".
func New() *Processor {
	return &Processor{
		Confirmation: Succeeded("ch_test"),
		Started:      make(chan struct{}, 16),
	}
}

// Succeeded builds a successful confirmation.
func Succeeded(reference string) payment.Confirmation {
	return payment.Confirmation{Status: payment.StatusSucceeded, Reference: reference}
}

// Declined builds a processor-reported decline.
func Declined(message string) payment.Confirmation {
	return payment.Confirmation{Status: payment.StatusFailed, ErrorMessage: message}
}

// Name implements payment.Namer.
func (p *Processor) Name() string { return "fake" }

// CreateIntent implements payment.Processor.
func (p *Processor) CreateIntent(_ context.Context, amount decimal.Decimal) (payment.Intent, error) {
	p.mu.Lock()
	hold := p.HoldIntent
	p.mu.Unlock()
	if hold != nil {
		<-hold
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.createCalls++
	p.amounts = append(p.amounts, amount)
	if p.IntentErr != nil {
		return payment.Intent{}, p.IntentErr
	}
	id := fmt.Sprintf("pi_test_%d", p.createCalls)
	return payment.Intent{ID: id, ClientSecret: id + "_secret_test", Amount: amount}, nil
}

// ConfirmCardPayment implements payment.Processor.
func (p *Processor) ConfirmCardPayment(ctx context.Context, _ string, _ payment.CardDetails, billingName string) (payment.Confirmation, error) {
	p.mu.Lock()
	p.confirmCalls++
	p.billingNames = append(p.billingNames, billingName)
	block, stubborn := p.Block, p.IgnoreContext
	started := p.Started
	conf, err := p.Confirmation, p.ConfirmErr
	p.mu.Unlock()

	if started != nil {
		select {
		case started <- struct{}{}:
		default:
		}
	}
	switch {
	case block == nil:
	case stubborn:
		<-block
	default:
		select {
		case <-block:
		case <-ctx.Done():
			return payment.Confirmation{}, ctx.Err()
		}
	}
	return conf, err
}

// CancelIntent implements payment.IntentCanceler.
func (p *Processor) CancelIntent(_ context.Context, intentID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.canceled = append(p.canceled, intentID)
	return p.CancelErr
}

// CreateCalls returns the number of CreateIntent calls.
func (p *Processor) CreateCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.createCalls
}

// ConfirmCalls returns the number of ConfirmCardPayment calls.
func (p *Processor) ConfirmCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.confirmCalls
}

// Amounts returns the amounts passed to CreateIntent.
func (p *Processor) Amounts() []decimal.Decimal {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]decimal.Decimal(nil), p.amounts...)
}

// BillingNames returns the billing names passed to ConfirmCardPayment.
func (p *Processor) BillingNames() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.billingNames...)
}

// Canceled returns the intent ids passed to CancelIntent.
func (p *Processor) Canceled() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.canceled...)
}

// Script replaces the confirmation outcome under lock.
func (p *Processor) Script(conf payment.Confirmation, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Confirmation = conf
	p.ConfirmErr = err
}
