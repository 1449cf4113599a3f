package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/noah-isme/backend-pos/internal/money"
	"github.com/noah-isme/backend-pos/internal/resilience"
)

// ErrRejected is returned when the processor refuses a request outright.
var ErrRejected = errors.New("payment processor rejected request")

// HTTPProcessor talks to a card processor over JSON/HTTP. Amounts travel in minor units.
type HTTPProcessor struct {
	BaseURL   string
	SecretKey string
	Currency  string
	Client    resilience.HTTPClient
}

// NewHTTPProcessor builds a processor with an instrumented transport when client has none.
func NewHTTPProcessor(baseURL, secretKey, currency string, client resilience.HTTPClient) *HTTPProcessor {
	if client.Client == nil {
		client.Client = &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   30 * time.Second,
		}
	}
	if strings.TrimSpace(currency) == "" {
		currency = "USD"
	}
	return &HTTPProcessor{
		BaseURL:   strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		SecretKey: secretKey,
		Currency:  strings.ToLower(currency),
		Client:    client,
	}
}

// Name implements Namer.
func (p *HTTPProcessor) Name() string { return "http" }

type intentRequest struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

type intentResponse struct {
	ID           string `json:"id"`
	ClientSecret string `json:"client_secret"`
	Amount       int64  `json:"amount"`
}

type confirmRequest struct {
	ClientSecret  string            `json:"client_secret"`
	PaymentMethod confirmCardMethod `json:"payment_method"`
}

type confirmCardMethod struct {
	Card           confirmCard    `json:"card"`
	BillingDetails billingDetails `json:"billing_details"`
}

type confirmCard struct {
	Number   string `json:"number"`
	ExpMonth int    `json:"exp_month"`
	ExpYear  int    `json:"exp_year"`
	CVC      string `json:"cvc"`
}

type billingDetails struct {
	Name string `json:"name,omitempty"`
}

type confirmResponse struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	Reference    string `json:"reference"`
	ErrorMessage string `json:"error_message"`
}

type errorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// CreateIntent opens an intent for amount.
func (p *HTTPProcessor) CreateIntent(ctx context.Context, amount decimal.Decimal) (Intent, error) {
	if p == nil || p.BaseURL == "" {
		return Intent{}, ErrUnavailable
	}
	if !amount.IsPositive() {
		return Intent{}, ErrInvalidAmount
	}
	var out intentResponse
	if _, err := p.post(ctx, "/v1/payment_intents", intentRequest{Amount: money.MinorUnits(amount), Currency: p.Currency}, &out); err != nil {
		return Intent{}, err
	}
	if out.ID == "" || out.ClientSecret == "" {
		return Intent{}, fmt.Errorf("%w: incomplete intent response", ErrRejected)
	}
	return Intent{ID: out.ID, ClientSecret: out.ClientSecret, Amount: money.FromMinorUnits(out.Amount)}, nil
}

// ConfirmCardPayment confirms the intent behind clientSecret. A 402 response is a decline, not an error.
func (p *HTTPProcessor) ConfirmCardPayment(ctx context.Context, clientSecret string, card CardDetails, billingName string) (Confirmation, error) {
	if p == nil || p.BaseURL == "" {
		return Confirmation{}, ErrUnavailable
	}
	id, ok := IntentIDFromSecret(clientSecret)
	if !ok {
		return Confirmation{}, ErrUnknownIntent
	}
	body := confirmRequest{
		ClientSecret: clientSecret,
		PaymentMethod: confirmCardMethod{
			Card:           confirmCard{Number: card.Number, ExpMonth: card.ExpMonth, ExpYear: card.ExpYear, CVC: card.CVC},
			BillingDetails: billingDetails{Name: strings.TrimSpace(billingName)},
		},
	}
	var out confirmResponse
	status, err := p.post(ctx, "/v1/payment_intents/"+url.PathEscape(id)+"/confirm", body, &out)
	if err != nil {
		var rejected *rejection
		if status == http.StatusPaymentRequired && errors.As(err, &rejected) {
			return Confirmation{Status: StatusFailed, ErrorMessage: rejected.message}, nil
		}
		return Confirmation{}, err
	}
	ref := out.Reference
	if ref == "" {
		ref = out.ID
	}
	return Confirmation{Status: out.Status, Reference: ref, ErrorMessage: out.ErrorMessage}, nil
}

// CancelIntent abandons an intent.
func (p *HTTPProcessor) CancelIntent(ctx context.Context, intentID string) error {
	if p == nil || p.BaseURL == "" {
		return ErrUnavailable
	}
	_, err := p.post(ctx, "/v1/payment_intents/"+url.PathEscape(intentID)+"/cancel", struct{}{}, nil)
	return err
}

type rejection struct {
	status  int
	message string
}

func (r *rejection) Error() string {
	return fmt.Sprintf("status %d: %s", r.status, r.message)
}

func (r *rejection) Unwrap() error { return ErrRejected }

// RejectionMessage returns the message a processor attached to a refused request.
func RejectionMessage(err error) (string, bool) {
	var rejected *rejection
	if !errors.As(err, &rejected) || rejected.message == "" {
		return "", false
	}
	return rejected.message, true
}

func (p *HTTPProcessor) post(ctx context.Context, path string, in any, out any) (int, error) {
	payload, err := json.Marshal(in)
	if err != nil {
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Idempotency-Key", uuid.NewString())
	if key := strings.TrimSpace(p.SecretKey); key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	resp, err := p.Client.Do(ctx, req)
	if err != nil {
		if errors.Is(err, resilience.ErrOpenCircuit) || errors.Is(err, resilience.ErrNotConfigured) {
			return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		var status *resilience.StatusError
		if errors.As(err, &status) && (status.Code == http.StatusServiceUnavailable || status.Code == http.StatusTooManyRequests) {
			return status.Code, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return 0, err
	}
	defer func() { _ = resp.Body.Close() }()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		var env errorEnvelope
		_ = json.Unmarshal(data, &env)
		msg := strings.TrimSpace(env.Error.Message)
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return resp.StatusCode, &rejection{status: resp.StatusCode, message: msg}
	}
	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode processor response: %w", err)
		}
	}
	return resp.StatusCode, nil
}
