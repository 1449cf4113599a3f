package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/noah-isme/backend-pos/internal/money"
	"github.com/noah-isme/backend-pos/internal/obs"
	"github.com/noah-isme/backend-pos/internal/resilience"
)

// Guard fronts a Processor with a circuit breaker, metrics and tracing. Declines count as
// healthy calls; only transport failures trip the breaker.
type Guard struct {
	Processor Processor
	Breaker   *resilience.Breaker
	Logger    zerolog.Logger
}

// NewGuard wraps p. A nil p yields a guard that always reports ErrUnavailable.
func NewGuard(p Processor, breaker *resilience.Breaker, logger zerolog.Logger) *Guard {
	return &Guard{Processor: p, Breaker: breaker, Logger: logger}
}

// Name implements Namer with the wrapped processor's label.
func (g *Guard) Name() string {
	if g == nil || g.Processor == nil {
		return "none"
	}
	return NameOf(g.Processor)
}

func (g *Guard) admit(ctx context.Context) error {
	if g == nil || g.Processor == nil {
		return fmt.Errorf("%w: not configured", ErrUnavailable)
	}
	if g.Breaker != nil && !g.Breaker.Allow(ctx) {
		return fmt.Errorf("%w: %v", ErrUnavailable, resilience.ErrOpenCircuit)
	}
	return nil
}

func (g *Guard) report(ctx context.Context, err error) {
	if g.Breaker == nil {
		return
	}
	switch {
	case err == nil:
		g.Breaker.Report(ctx, true)
	case errors.Is(err, context.Canceled), errors.Is(err, ErrInvalidAmount), errors.Is(err, ErrUnknownIntent):
	default:
		g.Breaker.Report(ctx, false)
	}
}

// CreateIntent implements Processor.
func (g *Guard) CreateIntent(ctx context.Context, amount decimal.Decimal) (Intent, error) {
	if err := g.admit(ctx); err != nil {
		return Intent{}, err
	}
	name := g.Name()
	ctx, span := otel.Tracer("payment.Guard").Start(ctx, "Processor.CreateIntent")
	defer span.End()
	span.SetAttributes(
		attribute.String("payment.processor", name),
		attribute.String("payment.amount", money.String(amount)),
	)

	intent, err := g.Processor.CreateIntent(ctx, amount)
	g.report(ctx, err)
	result := "created"
	if err != nil {
		result = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		g.Logger.Warn().Err(err).Str("processor", name).Str("amount", money.String(amount)).Msg("payment_intent_failed")
	} else {
		span.SetAttributes(attribute.String("payment.intent_id", intent.ID))
	}
	if obs.PaymentIntentTotal != nil {
		obs.PaymentIntentTotal.WithLabelValues(name, result).Inc()
	}
	return intent, err
}

// ConfirmCardPayment implements Processor.
func (g *Guard) ConfirmCardPayment(ctx context.Context, clientSecret string, card CardDetails, billingName string) (Confirmation, error) {
	if err := g.admit(ctx); err != nil {
		return Confirmation{}, err
	}
	name := g.Name()
	ctx, span := otel.Tracer("payment.Guard").Start(ctx, "Processor.ConfirmCardPayment")
	defer span.End()
	span.SetAttributes(
		attribute.String("payment.processor", name),
		attribute.String("payment.card_last4", card.Last4()),
	)

	start := time.Now()
	conf, err := g.Processor.ConfirmCardPayment(ctx, clientSecret, card, billingName)
	g.report(ctx, err)
	result := "succeeded"
	switch {
	case err != nil:
		result = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	case !conf.Succeeded():
		result = "declined"
		span.SetAttributes(attribute.String("payment.decline", conf.Message()))
	}
	span.SetAttributes(attribute.String("payment.confirm.result", result))
	if obs.PaymentConfirmDuration != nil {
		obs.PaymentConfirmDuration.WithLabelValues(name, result).Observe(obs.DurationMillis(time.Since(start)))
	}
	return conf, err
}

// CancelIntent forwards to the wrapped processor when it supports cancellation.
func (g *Guard) CancelIntent(ctx context.Context, intentID string) error {
	if g == nil || g.Processor == nil {
		return nil
	}
	canceler, ok := g.Processor.(IntentCanceler)
	if !ok {
		return nil
	}
	ctx, span := otel.Tracer("payment.Guard").Start(ctx, "Processor.CancelIntent")
	defer span.End()
	span.SetAttributes(attribute.String("payment.intent_id", intentID))
	if err := canceler.CancelIntent(ctx, intentID); err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}
