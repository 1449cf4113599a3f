package checkout_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-pos/internal/catalog"
	"github.com/noah-isme/backend-pos/internal/checkout"
	"github.com/noah-isme/backend-pos/internal/common"
	"github.com/noah-isme/backend-pos/internal/discount"
	"github.com/noah-isme/backend-pos/internal/events"
	"github.com/noah-isme/backend-pos/internal/money"
	"github.com/noah-isme/backend-pos/internal/payment"
	"github.com/noah-isme/backend-pos/internal/payment/paymenttest"
	"github.com/noah-isme/backend-pos/internal/settlement"
	"github.com/noah-isme/backend-pos/internal/tip"
)

var validCard = map[string]any{"number": "4242424242424242", "expMonth": 12, "expYear": 2030, "cvc": "123"}

func validCardDetails() payment.CardDetails {
	return payment.CardDetails{Number: "4242424242424242", ExpMonth: 12, ExpYear: 2030, CVC: "123"}
}

func latte() catalog.Product {
	p, err := catalog.FromRecord(catalog.Record{
		ID:                  "latte",
		Name:                "Latte",
		BasePrice:           money.MustParse("4.00"),
		AllowsModifications: true,
		ModifierOptions: []catalog.ModifierRecord{
			{ID: "small", Name: "Small", Category: "size", PriceDelta: money.MustParse("0")},
			{ID: "large", Name: "Large", Category: "size", PriceDelta: money.MustParse("1.00")},
			{ID: "oat", Name: "Oat milk", Category: "milk", PriceDelta: money.MustParse("0.50")},
		},
	})
	if err != nil {
		panic(err)
	}
	return p
}

func tenner() catalog.Product {
	return catalog.Product{ID: "tenner", Name: "Platter", BasePrice: money.MustParse("10.00")}
}

type harness struct {
	t      *testing.T
	svc    *checkout.Service
	proc   *paymenttest.Processor
	store  events.RedisStore
	router http.Handler
}

func newEnv(t *testing.T, configure func(*checkout.Service)) *harness {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := events.RedisStore{Client: client}
	proc := paymenttest.New()
	svc := &checkout.Service{
		Catalog:    catalog.NewStaticSource(latte(), tenner()),
		Processor:  proc,
		Events:     &events.Bus{Store: store},
		DefaultTip: tip.PercentageOf(20),
		TipPresets: tip.Presets([]int{15, 20}),
		Timeout:    time.Second,
	}
	if configure != nil {
		configure(svc)
	}
	r := chi.NewRouter()
	h := &checkout.Handler{Svc: svc}
	idem := common.Idem{R: client, TTL: time.Minute}
	h.Mount(r, idem.Middleware)
	return &harness{t: t, svc: svc, proc: proc, store: store, router: r}
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Index *int            `json:"index"`
	Error *struct {
		Code    string          `json:"code"`
		Message string          `json:"message"`
		Details json.RawMessage `json:"details"`
	} `json:"error"`
}

type terminal struct {
	ID    string `json:"id"`
	Lines []struct {
		ProductID string `json:"productId"`
		Quantity  int    `json:"quantity"`
		UnitPrice string `json:"unitPrice"`
		LineTotal string `json:"lineTotal"`
		Size      *struct {
			ID string `json:"id"`
		} `json:"size"`
	} `json:"lines"`
	Totals struct {
		Subtotal string `json:"subtotal"`
		Tax      string `json:"tax"`
		Discount string `json:"discount"`
		Tip      string `json:"tip"`
		Total    string `json:"total"`
	} `json:"totals"`
	TipPresets []struct {
		Label    string `json:"label"`
		Amount   string `json:"amount"`
		Selected bool   `json:"selected"`
	} `json:"tipPresets"`
	Discount *struct {
		Code    string `json:"code"`
		Problem string `json:"problem"`
	} `json:"discount"`
	ChangeDue string `json:"changeDue"`
	Session   struct {
		Open      bool              `json:"open"`
		State     string            `json:"state"`
		Method    string            `json:"method"`
		LastError string            `json:"lastError"`
		Splits    []json.RawMessage `json:"splits"`
	} `json:"session"`
}

type attempt struct {
	State         string `json:"state"`
	Method        string `json:"method"`
	ChangeDue     string `json:"changeDue"`
	Reference     string `json:"reference"`
	FailureKind   string `json:"failureKind"`
	Retryable     bool   `json:"retryable"`
	Recorded      bool   `json:"recorded"`
	RecordPending bool   `json:"recordPending"`
	Totals        struct {
		Total string `json:"total"`
		Tip   string `json:"tip"`
	} `json:"totals"`
}

func (e *harness) do(method, path string, body any, headers ...string) (*httptest.ResponseRecorder, envelope) {
	e.t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if body != nil {
		var buf bytes.Buffer
		require.NoError(e.t, json.NewEncoder(&buf).Encode(body))
		req = httptest.NewRequest(method, path, &buf)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	var env envelope
	if rr.Body.Len() > 0 {
		require.NoError(e.t, json.Unmarshal(rr.Body.Bytes(), &env), rr.Body.String())
	}
	return rr, env
}

func (e *harness) open() string {
	e.t.Helper()
	rr, env := e.do(http.MethodPost, "/checkouts", map[string]string{"customerName": "Ana"})
	require.Equal(e.t, http.StatusCreated, rr.Code)
	var term terminal
	require.NoError(e.t, json.Unmarshal(env.Data, &term))
	require.Equal(e.t, "idle", term.Session.State)
	return term.ID
}

func (e *harness) terminal(id string) terminal {
	e.t.Helper()
	rr, env := e.do(http.MethodGet, "/checkouts/"+id, nil)
	require.Equal(e.t, http.StatusOK, rr.Code)
	var term terminal
	require.NoError(e.t, json.Unmarshal(env.Data, &term))
	return term
}

func decodeAttempt(t *testing.T, raw json.RawMessage) attempt {
	t.Helper()
	var a attempt
	require.NoError(t, json.Unmarshal(raw, &a))
	return a
}

func TestCashCheckoutFlow(t *testing.T) {
	e := newEnv(t, nil)
	id := e.open()

	rr, env := e.do(http.MethodPost, "/checkouts/"+id+"/lines", map[string]any{
		"productId": "latte", "quantity": 2, "sizeId": "large", "modifierIds": []string{"oat"},
	})
	require.Equal(t, http.StatusCreated, rr.Code)
	require.NotNil(t, env.Index)
	require.Equal(t, 0, *env.Index)

	term := e.terminal(id)
	require.Len(t, term.Lines, 1)
	require.Equal(t, "5.50", term.Lines[0].UnitPrice)
	require.Equal(t, "11.00", term.Lines[0].LineTotal)
	require.Equal(t, "2.20", term.Totals.Tip)
	require.Equal(t, "13.20", term.Totals.Total)
	require.Len(t, term.TipPresets, 2)
	require.True(t, term.TipPresets[1].Selected)
	require.Equal(t, "1.65", term.TipPresets[0].Amount)

	rr, _ = e.do(http.MethodPut, "/checkouts/"+id+"/tip", map[string]string{"kind": "none"})
	require.Equal(t, http.StatusOK, rr.Code)
	rr, _ = e.do(http.MethodPut, "/checkouts/"+id+"/payment-method", map[string]string{"method": "cash"})
	require.Equal(t, http.StatusOK, rr.Code)

	rr, env = e.do(http.MethodPut, "/checkouts/"+id+"/cash", map[string]string{"amount": "10"})
	require.Equal(t, http.StatusOK, rr.Code)
	rr, env = e.do(http.MethodPost, "/checkouts/"+id+"/settle", nil)
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	require.Equal(t, "SETTLEMENT_INVALID", env.Error.Code)
	require.Equal(t, "insufficient funds", env.Error.Message)
	require.Equal(t, "validation", decodeAttempt(t, env.Error.Details).FailureKind)

	rr, env = e.do(http.MethodPut, "/checkouts/"+id+"/cash", map[string]string{"amount": "20"})
	require.Equal(t, http.StatusOK, rr.Code)
	var term2 terminal
	require.NoError(t, json.Unmarshal(env.Data, &term2))
	require.Equal(t, "9.00", term2.ChangeDue)

	rr, env = e.do(http.MethodPost, "/checkouts/"+id+"/settle", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	att := decodeAttempt(t, env.Data)
	require.Equal(t, "settled", att.State)
	require.Equal(t, "9.00", att.ChangeDue)
	require.Equal(t, "11.00", att.Totals.Total)
	require.Zero(t, e.proc.CreateCalls())

	// settled orders are locked until a new order is opened
	rr, env = e.do(http.MethodPost, "/checkouts/"+id+"/lines", map[string]any{"productId": "tenner", "quantity": 1})
	require.Equal(t, http.StatusConflict, rr.Code)
	require.Equal(t, "ORDER_LOCKED", env.Error.Code)

	rr, env = e.do(http.MethodPost, "/checkouts/"+id+"/settle", nil)
	require.Equal(t, http.StatusConflict, rr.Code)
	require.Equal(t, "SESSION_CLOSED", env.Error.Code)

	rr, env = e.do(http.MethodPost, "/checkouts/"+id+"/open", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	fresh := e.terminal(id)
	require.Empty(t, fresh.Lines)
	require.Equal(t, "idle", fresh.Session.State)
	require.Equal(t, "card", fresh.Session.Method)
	require.True(t, fresh.Session.Open)

	recent, err := e.store.Recent(context.Background(), 10)
	require.NoError(t, err)
	topics := make([]string, 0, len(recent))
	for _, ev := range recent {
		topics = append(topics, ev.Topic)
	}
	require.Contains(t, topics, events.TopicCheckoutOpened)
	require.Contains(t, topics, events.TopicCheckoutFailed)
	require.Contains(t, topics, events.TopicCheckoutSettled)
}

func TestCardCheckoutIncludesTip(t *testing.T) {
	e := newEnv(t, nil)
	id := e.open()
	rr, _ := e.do(http.MethodPost, "/checkouts/"+id+"/lines", map[string]any{"productId": "tenner", "quantity": 1})
	require.Equal(t, http.StatusCreated, rr.Code)

	rr, env := e.do(http.MethodPost, "/checkouts/"+id+"/settle", map[string]any{"card": validCard, "billingName": "Ana"})
	require.Equal(t, http.StatusOK, rr.Code)
	att := decodeAttempt(t, env.Data)
	require.Equal(t, "settled", att.State)
	require.Equal(t, "ch_test", att.Reference)
	require.Equal(t, "12.00", att.Totals.Total)
	require.Equal(t, "2.00", att.Totals.Tip)
	require.False(t, att.Recorded, "nothing persists without a recorder")
	require.False(t, att.RecordPending)
	require.Len(t, e.proc.Amounts(), 1)
	require.True(t, e.proc.Amounts()[0].Equal(money.MustParse("12")))
	require.Equal(t, []string{"Ana"}, e.proc.BillingNames())
}

type stubRecorder struct {
	mu     sync.Mutex
	err    error
	got    []settlement.Descriptor
	queued []settlement.Descriptor
}

func (r *stubRecorder) Record(_ context.Context, d settlement.Descriptor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.got = append(r.got, d)
	return nil
}

func (r *stubRecorder) EnqueueRecord(_ context.Context, d settlement.Descriptor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queued = append(r.queued, d)
	return nil
}

func TestSettleReportsRecording(t *testing.T) {
	cases := []struct {
		name        string
		err         error
		withQueue   bool
		wantRecord  bool
		wantPending bool
	}{
		{name: "recorded", wantRecord: true},
		{name: "write failed", err: errors.New("db down")},
		{name: "write queued", err: errors.New("db down"), withQueue: true, wantPending: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := &stubRecorder{err: tc.err}
			e := newEnv(t, func(svc *checkout.Service) {
				svc.Recorder = rec
				if tc.withQueue {
					svc.RecordQueue = rec
				}
			})
			id := e.open()
			e.do(http.MethodPost, "/checkouts/"+id+"/lines", map[string]any{"productId": "tenner", "quantity": 1})

			rr, env := e.do(http.MethodPost, "/checkouts/"+id+"/settle", map[string]any{"card": validCard})
			require.Equal(t, http.StatusOK, rr.Code)
			att := decodeAttempt(t, env.Data)
			require.Equal(t, "settled", att.State)
			require.Equal(t, tc.wantRecord, att.Recorded)
			require.Equal(t, tc.wantPending, att.RecordPending)
			rec.mu.Lock()
			defer rec.mu.Unlock()
			if tc.withQueue {
				require.Len(t, rec.queued, 1)
			}
		})
	}
}

func TestCardDeclineIsRetryable(t *testing.T) {
	e := newEnv(t, nil)
	e.proc.Script(paymenttest.Declined("Your card was declined."), nil)
	id := e.open()
	e.do(http.MethodPost, "/checkouts/"+id+"/lines", map[string]any{"productId": "tenner", "quantity": 1})

	rr, env := e.do(http.MethodPost, "/checkouts/"+id+"/settle", map[string]any{"card": validCard})
	require.Equal(t, http.StatusPaymentRequired, rr.Code)
	require.Equal(t, "PAYMENT_DECLINED", env.Error.Code)
	require.Equal(t, "Your card was declined.", env.Error.Message)
	att := decodeAttempt(t, env.Error.Details)
	require.Equal(t, "failed", att.State)
	require.True(t, att.Retryable)

	term := e.terminal(id)
	require.Equal(t, "failed", term.Session.State)
	require.Equal(t, "Your card was declined.", term.Session.LastError)

	e.proc.Script(paymenttest.Succeeded("ch_retry"), nil)
	rr, env = e.do(http.MethodPost, "/checkouts/"+id+"/settle", map[string]any{"card": validCard})
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "ch_retry", decodeAttempt(t, env.Data).Reference)
	require.Equal(t, 2, e.proc.CreateCalls())
}

func TestSplitPaymentNotImplemented(t *testing.T) {
	e := newEnv(t, nil)
	id := e.open()
	e.do(http.MethodPost, "/checkouts/"+id+"/lines", map[string]any{"productId": "tenner", "quantity": 1})

	rr, _ := e.do(http.MethodPut, "/checkouts/"+id+"/payment-method", map[string]any{
		"method": "split",
		"splits": []map[string]string{{"method": "cash", "amount": "5"}, {"method": "card", "amount": "7"}},
	})
	require.Equal(t, http.StatusOK, rr.Code)

	rr, env := e.do(http.MethodPost, "/checkouts/"+id+"/settle", nil)
	require.Equal(t, http.StatusNotImplemented, rr.Code)
	require.Equal(t, "split payments are not available", env.Error.Message)
	require.False(t, decodeAttempt(t, env.Error.Details).Retryable)
	require.Zero(t, e.proc.CreateCalls())
}

func TestLeavingSplitClearsAllocations(t *testing.T) {
	e := newEnv(t, nil)
	id := e.open()

	rr, _ := e.do(http.MethodPut, "/checkouts/"+id+"/payment-method", map[string]any{
		"method": "split",
		"splits": []map[string]string{{"method": "cash", "amount": "5"}},
	})
	require.Equal(t, http.StatusOK, rr.Code)
	require.Len(t, e.terminal(id).Session.Splits, 1)

	rr, _ = e.do(http.MethodPut, "/checkouts/"+id+"/payment-method", map[string]any{
		"method": "card",
		"splits": []map[string]string{{"method": "cash", "amount": "5"}},
	})
	require.Equal(t, http.StatusOK, rr.Code)
	term := e.terminal(id)
	require.Equal(t, "card", term.Session.Method)
	require.Empty(t, term.Session.Splits)
}

func TestCardUnavailableWithoutProcessor(t *testing.T) {
	e := newEnv(t, func(s *checkout.Service) { s.Processor = nil })
	id := e.open()
	e.do(http.MethodPost, "/checkouts/"+id+"/lines", map[string]any{"productId": "tenner", "quantity": 1})

	rr, env := e.do(http.MethodPost, "/checkouts/"+id+"/settle", map[string]any{"card": validCard})
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
	require.Equal(t, "PAYMENT_UNAVAILABLE", env.Error.Code)
}

func TestLineEditing(t *testing.T) {
	e := newEnv(t, nil)
	id := e.open()
	e.do(http.MethodPost, "/checkouts/"+id+"/lines", map[string]any{"productId": "latte", "quantity": 1, "sizeId": "large"})
	e.do(http.MethodPost, "/checkouts/"+id+"/lines", map[string]any{"productId": "latte", "quantity": 1, "sizeId": "large"})
	require.Len(t, e.terminal(id).Lines, 2)

	rr, _ := e.do(http.MethodPatch, "/checkouts/"+id+"/lines/1", map[string]any{"quantity": 3, "sizeId": ""})
	require.Equal(t, http.StatusOK, rr.Code)
	term := e.terminal(id)
	require.Nil(t, term.Lines[1].Size)
	require.Equal(t, "12.00", term.Lines[1].LineTotal)
	require.Equal(t, "17.00", term.Totals.Subtotal)

	rr, env := e.do(http.MethodPatch, "/checkouts/"+id+"/lines/1", map[string]any{"quantity": 0})
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	require.Equal(t, "VALIDATION_FAILED", env.Error.Code)

	rr, _ = e.do(http.MethodDelete, "/checkouts/"+id+"/lines/0", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	term = e.terminal(id)
	require.Len(t, term.Lines, 1)
	require.Equal(t, 3, term.Lines[0].Quantity)

	rr, env = e.do(http.MethodDelete, "/checkouts/"+id+"/lines/5", nil)
	require.Equal(t, http.StatusNotFound, rr.Code)
	require.Equal(t, "LINE_NOT_FOUND", env.Error.Code)

	rr, _ = e.do(http.MethodDelete, "/checkouts/"+id+"/lines/abc", nil)
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestAddLineRejectsBadSelections(t *testing.T) {
	e := newEnv(t, nil)
	id := e.open()

	cases := []struct {
		name string
		body map[string]any
		code int
		err  string
	}{
		{"unknown product", map[string]any{"productId": "nope", "quantity": 1}, http.StatusNotFound, "PRODUCT_NOT_FOUND"},
		{"unknown option", map[string]any{"productId": "latte", "quantity": 1, "modifierIds": []string{"soy"}}, http.StatusUnprocessableEntity, "INVALID_SELECTION"},
		{"size as add-on", map[string]any{"productId": "latte", "quantity": 1, "modifierIds": []string{"large"}}, http.StatusUnprocessableEntity, "INVALID_SELECTION"},
		{"zero quantity", map[string]any{"productId": "latte", "quantity": 0}, http.StatusUnprocessableEntity, "VALIDATION_FAILED"},
		{"missing product", map[string]any{"quantity": 1}, http.StatusUnprocessableEntity, "VALIDATION_FAILED"},
		{"unknown field", map[string]any{"productId": "latte", "quantity": 1, "price": "0.01"}, http.StatusBadRequest, "BAD_REQUEST"},
	}
	for _, tc := range cases {
		rr, env := e.do(http.MethodPost, "/checkouts/"+id+"/lines", tc.body)
		require.Equal(t, tc.code, rr.Code, tc.name)
		require.Equal(t, tc.err, env.Error.Code, tc.name)
	}
	require.Empty(t, e.terminal(id).Lines)
}

func TestDiscountAndTax(t *testing.T) {
	book, err := discount.NewBook(
		discount.Rule{Code: "WELCOME", Kind: discount.KindPercent, Value: money.MustParse("10")},
		discount.Rule{Code: "BIGSPEND", Kind: discount.KindFixed, Value: money.MustParse("5"), MinSpend: money.MustParse("50")},
	)
	require.NoError(t, err)
	e := newEnv(t, func(s *checkout.Service) {
		s.Discounts = book
		s.TaxRateBPS = 1000
		s.DefaultTip = tip.None()
	})
	id := e.open()
	e.do(http.MethodPost, "/checkouts/"+id+"/lines", map[string]any{"productId": "tenner", "quantity": 1})

	rr, env := e.do(http.MethodPut, "/checkouts/"+id+"/discount", map[string]string{"code": "welcome"})
	require.Equal(t, http.StatusOK, rr.Code)
	var term terminal
	require.NoError(t, json.Unmarshal(env.Data, &term))
	require.Equal(t, "WELCOME", term.Discount.Code)
	require.Equal(t, "1.00", term.Totals.Discount)
	require.Equal(t, "0.90", term.Totals.Tax)
	require.Equal(t, "9.90", term.Totals.Total)

	rr, env = e.do(http.MethodPut, "/checkouts/"+id+"/discount", map[string]string{"code": "BIGSPEND"})
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	require.Equal(t, "DISCOUNT_NOT_APPLICABLE", env.Error.Code)

	rr, env = e.do(http.MethodPut, "/checkouts/"+id+"/discount", map[string]string{"code": "NOPE"})
	require.Equal(t, http.StatusNotFound, rr.Code)
	require.Equal(t, "DISCOUNT_NOT_FOUND", env.Error.Code)

	rr, _ = e.do(http.MethodPut, "/checkouts/"+id+"/discount", map[string]string{"code": ""})
	require.Equal(t, http.StatusOK, rr.Code)
	term = e.terminal(id)
	require.Nil(t, term.Discount)
	require.Equal(t, "11.00", term.Totals.Total)
}

func TestCustomTipIsSticky(t *testing.T) {
	e := newEnv(t, nil)
	id := e.open()
	e.do(http.MethodPost, "/checkouts/"+id+"/lines", map[string]any{"productId": "tenner", "quantity": 1})

	rr, _ := e.do(http.MethodPut, "/checkouts/"+id+"/tip", map[string]string{"kind": "custom", "value": "3.5"})
	require.Equal(t, http.StatusOK, rr.Code)
	e.do(http.MethodPost, "/checkouts/"+id+"/lines", map[string]any{"productId": "tenner", "quantity": 1})

	term := e.terminal(id)
	require.Equal(t, "3.50", term.Totals.Tip)
	require.Equal(t, "23.50", term.Totals.Total)

	rr, env := e.do(http.MethodPut, "/checkouts/"+id+"/tip", map[string]string{"kind": "generous"})
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	require.Equal(t, "VALIDATION_FAILED", env.Error.Code)
}

func TestCancelFlow(t *testing.T) {
	e := newEnv(t, nil)
	id := e.open()
	e.do(http.MethodPost, "/checkouts/"+id+"/lines", map[string]any{"productId": "tenner", "quantity": 1})

	rr, env := e.do(http.MethodPost, "/checkouts/"+id+"/cancel", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var term terminal
	require.NoError(t, json.Unmarshal(env.Data, &term))
	require.Equal(t, "cancelled", term.Session.State)

	rr, _ = e.do(http.MethodPost, "/checkouts/"+id+"/cancel", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	rr, env = e.do(http.MethodPost, "/checkouts/"+id+"/settle", map[string]any{"card": validCard})
	require.Equal(t, http.StatusConflict, rr.Code)
	require.Equal(t, "SESSION_CLOSED", env.Error.Code)
	require.Zero(t, e.proc.CreateCalls())
}

func TestSettleIsIdempotent(t *testing.T) {
	e := newEnv(t, nil)
	id := e.open()
	e.do(http.MethodPost, "/checkouts/"+id+"/lines", map[string]any{"productId": "tenner", "quantity": 1})

	body := map[string]any{"card": validCard}
	first, _ := e.do(http.MethodPost, "/checkouts/"+id+"/settle", body, "Idempotency-Key", "tap-1")
	require.Equal(t, http.StatusOK, first.Code)

	second, _ := e.do(http.MethodPost, "/checkouts/"+id+"/settle", body, "Idempotency-Key", "tap-1")
	require.Equal(t, http.StatusOK, second.Code)
	require.Equal(t, "true", second.Header().Get("Idempotent-Replay"))
	require.Equal(t, 1, e.proc.CreateCalls())
}

func TestUnknownTerminal(t *testing.T) {
	e := newEnv(t, nil)
	rr, env := e.do(http.MethodGet, "/checkouts/missing", nil)
	require.Equal(t, http.StatusNotFound, rr.Code)
	require.Equal(t, "CHECKOUT_NOT_FOUND", env.Error.Code)
}
