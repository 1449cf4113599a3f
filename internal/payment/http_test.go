package payment_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-pos/internal/money"
	"github.com/noah-isme/backend-pos/internal/payment"
	"github.com/noah-isme/backend-pos/internal/resilience"
)

type fakeGateway struct {
	created  int32
	canceled int32
}

func (g *fakeGateway) routes(t *testing.T) http.Handler {
	r := chi.NewRouter()
	r.Post("/v1/payment_intents", func(w http.ResponseWriter, req *http.Request) {
		require.Equal(t, "Bearer sk_test", req.Header.Get("Authorization"))
		require.NotEmpty(t, req.Header.Get("Idempotency-Key"))
		var body struct {
			Amount   int64  `json:"amount"`
			Currency string `json:"currency"`
		}
		require.NoError(t, json.NewDecoder(req.Body).Decode(&body))
		atomic.AddInt32(&g.created, 1)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":            "pi_42",
			"client_secret": "pi_42_secret_abc",
			"amount":        body.Amount,
		})
	})
	r.Post("/v1/payment_intents/{id}/confirm", func(w http.ResponseWriter, req *http.Request) {
		var body struct {
			PaymentMethod struct {
				Card struct {
					Number string `json:"number"`
				} `json:"card"`
				BillingDetails struct {
					Name string `json:"name"`
				} `json:"billing_details"`
			} `json:"payment_method"`
		}
		require.NoError(t, json.NewDecoder(req.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")
		if body.PaymentMethod.Card.Number == "4000000000000002" {
			w.WriteHeader(http.StatusPaymentRequired)
			_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]string{"code": "card_declined", "message": "Insufficient funds on card."}})
			return
		}
		if body.PaymentMethod.Card.Number == "4000000000000069" {
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]string{"code": "expired_card", "message": "Your card has expired."}})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":        chi.URLParam(req, "id"),
			"status":    "succeeded",
			"reference": "ch_" + body.PaymentMethod.BillingDetails.Name,
		})
	})
	r.Post("/v1/payment_intents/{id}/cancel", func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&g.canceled, 1)
		w.WriteHeader(http.StatusOK)
	})
	return r
}

func newHTTPProcessor(t *testing.T, gw *fakeGateway) *payment.HTTPProcessor {
	srv := httptest.NewServer(gw.routes(t))
	t.Cleanup(srv.Close)
	return payment.NewHTTPProcessor(srv.URL, "sk_test", "USD", resilience.HTTPClient{
		Client:      srv.Client(),
		MaxAttempts: 2,
		BaseBackoff: time.Millisecond,
	})
}

func TestHTTPProcessorFlow(t *testing.T) {
	gw := &fakeGateway{}
	p := newHTTPProcessor(t, gw)
	ctx := context.Background()

	intent, err := p.CreateIntent(ctx, money.MustParse("18.75"))
	require.NoError(t, err)
	require.Equal(t, "pi_42", intent.ID)
	require.Equal(t, "18.75", money.String(intent.Amount))

	conf, err := p.ConfirmCardPayment(ctx, intent.ClientSecret, card("4242424242424242"), "Rae")
	require.NoError(t, err)
	require.True(t, conf.Succeeded())
	require.Equal(t, "ch_Rae", conf.Reference)

	require.NoError(t, p.CancelIntent(ctx, intent.ID))
	require.EqualValues(t, 1, atomic.LoadInt32(&gw.canceled))
}

func TestHTTPProcessorDecline(t *testing.T) {
	p := newHTTPProcessor(t, &fakeGateway{})
	conf, err := p.ConfirmCardPayment(context.Background(), "pi_42_secret_abc", card("4000000000000002"), "")
	require.NoError(t, err)
	require.False(t, conf.Succeeded())
	require.Equal(t, "Insufficient funds on card.", conf.Message())
}

func TestHTTPProcessorRejectionKeepsMessage(t *testing.T) {
	p := newHTTPProcessor(t, &fakeGateway{})
	_, err := p.ConfirmCardPayment(context.Background(), "pi_42_secret_abc", card("4000000000000069"), "")
	require.ErrorIs(t, err, payment.ErrRejected)

	msg, ok := payment.RejectionMessage(err)
	require.True(t, ok)
	require.Equal(t, "Your card has expired.", msg)

	_, ok = payment.RejectionMessage(errors.New("connection reset by peer"))
	require.False(t, ok)
}

func TestHTTPProcessorUnconfigured(t *testing.T) {
	var p *payment.HTTPProcessor
	_, err := p.CreateIntent(context.Background(), money.MustParse("1"))
	require.ErrorIs(t, err, payment.ErrUnavailable)

	p = payment.NewHTTPProcessor("", "", "", resilience.HTTPClient{})
	_, err = p.CreateIntent(context.Background(), money.MustParse("1"))
	require.ErrorIs(t, err, payment.ErrUnavailable)
}

func TestHTTPProcessorRejectsMalformedSecret(t *testing.T) {
	p := newHTTPProcessor(t, &fakeGateway{})
	_, err := p.ConfirmCardPayment(context.Background(), "nosecret", card("4242424242424242"), "")
	require.ErrorIs(t, err, payment.ErrUnknownIntent)
}

func TestHTTPProcessorRetriesWithSameIdempotencyKey(t *testing.T) {
	var mu sync.Mutex
	var keys []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		mu.Lock()
		keys = append(keys, req.Header.Get("Idempotency-Key"))
		n := len(keys)
		mu.Unlock()
		if n == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"id": "pi_7", "client_secret": "pi_7_secret_z", "amount": 500})
	}))
	t.Cleanup(srv.Close)
	p := payment.NewHTTPProcessor(srv.URL, "sk_test", "USD", resilience.HTTPClient{
		Client:      srv.Client(),
		MaxAttempts: 3,
		BaseBackoff: time.Millisecond,
	})

	intent, err := p.CreateIntent(context.Background(), money.MustParse("5"))
	require.NoError(t, err)
	require.Equal(t, "pi_7", intent.ID)
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, keys, 2)
	require.Equal(t, keys[0], keys[1])
}

func TestHTTPProcessorOverloadedIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Retry-After", "0")
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)
	p := payment.NewHTTPProcessor(srv.URL, "", "USD", resilience.HTTPClient{
		Client:      srv.Client(),
		MaxAttempts: 2,
		BaseBackoff: time.Millisecond,
	})

	_, err := p.CreateIntent(context.Background(), money.MustParse("5"))
	require.ErrorIs(t, err, payment.ErrUnavailable)
}
