package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/noah-isme/backend-pos/internal/money"
	"github.com/noah-isme/backend-pos/internal/settlement"
)

// ErrNotConfigured is returned when a writer has no database handle.
var ErrNotConfigured = errors.New("store: database not configured")

// Execer is the subset of pgx used to write payment records.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

const insertPayment = `INSERT INTO payments (
    attempt_id, session_id, method, tip_amount, total_amount,
    cash_received, change_given, processor_reference, splits, customer_name, settled_at
) VALUES ($1, $2, $3, $4::numeric, $5::numeric, $6::numeric, $7::numeric, $8, $9, $10, $11)
ON CONFLICT (attempt_id) DO NOTHING`

// PaymentWriter persists settled payment descriptors.
type PaymentWriter struct {
	DB Execer
}

// Record implements settlement.Recorder. Re-recording the same attempt is a no-op.
func (w PaymentWriter) Record(ctx context.Context, d settlement.Descriptor) error {
	if w.DB == nil {
		return ErrNotConfigured
	}
	if d.AttemptID == "" || d.SessionID == "" {
		return fmt.Errorf("store: descriptor is missing identifiers")
	}
	ctx, span := otel.Tracer("store").Start(ctx, "payments.record")
	defer span.End()
	span.SetAttributes(
		attribute.String("payment.method", string(d.Method)),
		attribute.String("payment.total", money.String(d.TotalAmount)),
	)

	var splits []byte
	if len(d.Splits) > 0 {
		encoded, err := json.Marshal(d.Splits)
		if err != nil {
			return fmt.Errorf("encode splits: %w", err)
		}
		splits = encoded
	}

	_, err := w.DB.Exec(ctx, insertPayment,
		d.AttemptID,
		d.SessionID,
		string(d.Method),
		money.String(d.TipAmount),
		money.String(d.TotalAmount),
		optionalAmount(d.CashReceived),
		optionalAmount(d.ChangeGiven),
		optionalText(d.ProcessorReference),
		splits,
		optionalText(d.CustomerName),
		d.SettledAt.UTC(),
	)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

func optionalAmount(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := money.String(*d)
	return &s
}

func optionalText(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
