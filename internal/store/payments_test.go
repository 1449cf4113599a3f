package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-pos/internal/money"
	"github.com/noah-isme/backend-pos/internal/settlement"
	"github.com/noah-isme/backend-pos/internal/store"
)

type execCall struct {
	sql  string
	args []any
}

type fakeExec struct {
	calls []execCall
	err   error
}

func (f *fakeExec) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.calls = append(f.calls, execCall{sql: sql, args: args})
	if f.err != nil {
		return pgconn.CommandTag{}, f.err
	}
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func TestRecordCashPayment(t *testing.T) {
	db := &fakeExec{}
	cash := money.MustParse("20")
	change := money.MustParse("4.5")
	settledAt := time.Date(2026, 3, 1, 10, 0, 0, 0, time.FixedZone("WIB", 7*3600))

	err := store.PaymentWriter{DB: db}.Record(context.Background(), settlement.Descriptor{
		AttemptID:    "att-1",
		SessionID:    "sess-1",
		Method:       settlement.MethodCash,
		TipAmount:    money.MustParse("2.5"),
		TotalAmount:  money.MustParse("15.5"),
		CashReceived: &cash,
		ChangeGiven:  &change,
		SettledAt:    settledAt,
	})
	require.NoError(t, err)
	require.Len(t, db.calls, 1)

	args := db.calls[0].args
	require.Contains(t, db.calls[0].sql, "INSERT INTO payments")
	require.Equal(t, "att-1", args[0])
	require.Equal(t, "cash", args[2])
	require.Equal(t, "2.50", args[3])
	require.Equal(t, "15.50", args[4])
	require.Equal(t, "20.00", *args[5].(*string))
	require.Equal(t, "4.50", *args[6].(*string))
	require.Nil(t, args[7].(*string))
	require.Nil(t, args[8].([]byte))
	require.Equal(t, time.UTC, args[10].(time.Time).Location())
}

func TestRecordCardPaymentWithSplits(t *testing.T) {
	db := &fakeExec{}
	err := store.PaymentWriter{DB: db}.Record(context.Background(), settlement.Descriptor{
		AttemptID:          "att-2",
		SessionID:          "sess-1",
		Method:             settlement.MethodCard,
		TotalAmount:        money.MustParse("12"),
		ProcessorReference: "ch_123",
		Splits: []settlement.PaymentSplit{
			{Method: settlement.MethodCard, Amount: money.MustParse("12")},
		},
		CustomerName: "Ana",
		SettledAt:    time.Now(),
	})
	require.NoError(t, err)

	args := db.calls[0].args
	require.Nil(t, args[5].(*string))
	require.Equal(t, "ch_123", *args[7].(*string))
	require.JSONEq(t, `[{"method":"card","amount":"12"}]`, string(args[8].([]byte)))
	require.Equal(t, "Ana", *args[9].(*string))
}

func TestRecordErrors(t *testing.T) {
	err := store.PaymentWriter{}.Record(context.Background(), settlement.Descriptor{AttemptID: "a", SessionID: "s"})
	require.ErrorIs(t, err, store.ErrNotConfigured)

	db := &fakeExec{}
	err = store.PaymentWriter{DB: db}.Record(context.Background(), settlement.Descriptor{SessionID: "s"})
	require.Error(t, err)
	require.Empty(t, db.calls)

	boom := errors.New("connection reset")
	err = store.PaymentWriter{DB: &fakeExec{err: boom}}.Record(context.Background(), settlement.Descriptor{AttemptID: "a", SessionID: "s"})
	require.ErrorIs(t, err, boom)
}
