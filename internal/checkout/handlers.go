package checkout

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	validator "github.com/go-playground/validator/v10"

	"github.com/noah-isme/backend-pos/internal/cart"
	"github.com/noah-isme/backend-pos/internal/catalog"
	"github.com/noah-isme/backend-pos/internal/common"
	"github.com/noah-isme/backend-pos/internal/discount"
	"github.com/noah-isme/backend-pos/internal/money"
	"github.com/noah-isme/backend-pos/internal/payment"
	"github.com/noah-isme/backend-pos/internal/pricing"
	"github.com/noah-isme/backend-pos/internal/settlement"
	"github.com/noah-isme/backend-pos/internal/tip"
)

var validate = validator.New()

type Handler struct {
	Svc *Service
}

type openRequest struct {
	CustomerName string `json:"customerName" validate:"max=120"`
}

type tipRequest struct {
	Kind  string `json:"kind" validate:"required,oneof=percentage custom none"`
	Value string `json:"value"`
}

type discountRequest struct {
	Code string `json:"code" validate:"max=64"`
}

type splitRequest struct {
	Method string `json:"method" validate:"required"`
	Amount string `json:"amount" validate:"required"`
}

type methodRequest struct {
	Method string         `json:"method" validate:"required"`
	Splits []splitRequest `json:"splits" validate:"dive"`
}

type cashRequest struct {
	Amount string `json:"amount"`
}

type cardRequest struct {
	Number   string `json:"number"`
	ExpMonth int    `json:"expMonth"`
	ExpYear  int    `json:"expYear"`
	CVC      string `json:"cvc"`
}

type settleRequest struct {
	Card        cardRequest `json:"card"`
	BillingName string      `json:"billingName" validate:"max=120"`
}

// Mount registers the checkout routes. settle middleware (idempotency, rate
// limiting) wraps only the settle endpoint.
func (h *Handler) Mount(r chi.Router, settle ...func(http.Handler) http.Handler) {
	r.Route("/checkouts", func(c chi.Router) {
		c.Post("/", h.Create)
		c.Route("/{id}", func(t chi.Router) {
			t.Get("/", h.Get)
			t.Post("/lines", h.AddLine)
			t.Patch("/lines/{index}", h.UpdateLine)
			t.Delete("/lines/{index}", h.RemoveLine)
			t.Put("/tip", h.SetTip)
			t.Put("/discount", h.SetDiscount)
			t.Put("/payment-method", h.SetPaymentMethod)
			t.Put("/cash", h.SetCash)
			t.With(settle...).Post("/settle", h.Settle)
			t.Post("/cancel", h.Cancel)
			t.Post("/open", h.Reopen)
		})
	})
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	var payload openRequest
	if r.ContentLength != 0 && !decode(w, r, &payload) {
		return
	}
	t, err := h.Svc.Open(r.Context(), payload.CustomerName)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.Data(w, http.StatusCreated, h.Svc.view(t))
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	t, ok := h.terminal(w, r)
	if !ok {
		return
	}
	h.respond(w, t)
}

func (h *Handler) AddLine(w http.ResponseWriter, r *http.Request) {
	t, ok := h.terminal(w, r)
	if !ok {
		return
	}
	var payload LineInput
	if !decode(w, r, &payload) {
		return
	}
	idx, err := h.Svc.AddLine(r.Context(), t, payload)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.Data(w, http.StatusCreated, h.Svc.view(t), "index", idx)
}

func (h *Handler) UpdateLine(w http.ResponseWriter, r *http.Request) {
	t, ok := h.terminal(w, r)
	if !ok {
		return
	}
	idx, ok := lineIndex(w, r)
	if !ok {
		return
	}
	var payload LinePatch
	if !decode(w, r, &payload) {
		return
	}
	if err := h.Svc.UpdateLine(t, idx, payload); err != nil {
		h.writeError(w, err)
		return
	}
	h.respond(w, t)
}

func (h *Handler) RemoveLine(w http.ResponseWriter, r *http.Request) {
	t, ok := h.terminal(w, r)
	if !ok {
		return
	}
	idx, ok := lineIndex(w, r)
	if !ok {
		return
	}
	if err := h.Svc.RemoveLine(t, idx); err != nil {
		h.writeError(w, err)
		return
	}
	h.respond(w, t)
}

func (h *Handler) SetTip(w http.ResponseWriter, r *http.Request) {
	t, ok := h.terminal(w, r)
	if !ok {
		return
	}
	var payload tipRequest
	if !decode(w, r, &payload) {
		return
	}
	sel, err := tip.ParseSelection(payload.Kind, payload.Value)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if sel.Kind == tip.KindCustom {
		// raw text is kept so the custom field shows what was typed
		err = t.Session.SetCustomTip(payload.Value)
	} else {
		err = t.Session.SelectTip(sel)
	}
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.respond(w, t)
}

func (h *Handler) SetDiscount(w http.ResponseWriter, r *http.Request) {
	t, ok := h.terminal(w, r)
	if !ok {
		return
	}
	var payload discountRequest
	if !decode(w, r, &payload) {
		return
	}
	if err := h.Svc.ApplyDiscount(t, payload.Code); err != nil {
		h.writeError(w, err)
		return
	}
	h.respond(w, t)
}

func (h *Handler) SetPaymentMethod(w http.ResponseWriter, r *http.Request) {
	t, ok := h.terminal(w, r)
	if !ok {
		return
	}
	var payload methodRequest
	if !decode(w, r, &payload) {
		return
	}
	method, err := settlement.ParseMethod(payload.Method)
	if err != nil {
		h.writeError(w, err)
		return
	}
	splits := make([]settlement.PaymentSplit, 0, len(payload.Splits))
	for _, sp := range payload.Splits {
		m, err := settlement.ParseMethod(sp.Method)
		if err != nil {
			h.writeError(w, err)
			return
		}
		amount, err := money.Parse(sp.Amount)
		if err != nil || amount.IsNegative() {
			common.JSONError(w, http.StatusUnprocessableEntity, "VALIDATION_FAILED", "split amount is invalid", map[string]string{"amount": sp.Amount})
			return
		}
		splits = append(splits, settlement.PaymentSplit{Method: m, Amount: amount})
	}
	if err := t.Session.SelectMethod(method); err != nil {
		h.writeError(w, err)
		return
	}
	if method == settlement.MethodSplit && len(splits) > 0 {
		if err := t.Session.SetSplits(splits); err != nil {
			h.writeError(w, err)
			return
		}
	}
	h.respond(w, t)
}

func (h *Handler) SetCash(w http.ResponseWriter, r *http.Request) {
	t, ok := h.terminal(w, r)
	if !ok {
		return
	}
	var payload cashRequest
	if !decode(w, r, &payload) {
		return
	}
	if err := t.Session.SetCashReceived(payload.Amount); err != nil {
		h.writeError(w, err)
		return
	}
	h.respond(w, t)
}

func (h *Handler) Settle(w http.ResponseWriter, r *http.Request) {
	t, ok := h.terminal(w, r)
	if !ok {
		return
	}
	var payload settleRequest
	if r.ContentLength != 0 && !decode(w, r, &payload) {
		return
	}
	att, err := t.Session.Settle(r.Context(), settlement.SettleInput{
		Card: payment.CardDetails{
			Number:   payload.Card.Number,
			ExpMonth: payload.Card.ExpMonth,
			ExpYear:  payload.Card.ExpYear,
			CVC:      payload.Card.CVC,
		},
		BillingName: payload.BillingName,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	view := viewAttempt(att)
	switch {
	case att.State == settlement.StateSettled:
		common.Data(w, http.StatusOK, view)
	case att.Failure != nil:
		status, code := failureStatus(att.Failure.Kind)
		common.JSONError(w, status, code, att.Failure.Reason, view)
	default:
		// cancelled while the processor was confirming
		common.JSONError(w, http.StatusConflict, "CHECKOUT_CANCELLED", "checkout was cancelled", view)
	}
}

func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	t, ok := h.terminal(w, r)
	if !ok {
		return
	}
	if err := t.Session.Cancel(r.Context()); err != nil {
		h.writeError(w, err)
		return
	}
	h.respond(w, t)
}

func (h *Handler) Reopen(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	var payload openRequest
	if r.ContentLength != 0 && !decode(w, r, &payload) {
		return
	}
	t, err := h.Svc.Reopen(r.Context(), chi.URLParam(r, "id"), payload.CustomerName)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.respond(w, t)
}

func (h *Handler) ready(w http.ResponseWriter) bool {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "checkout service not configured", nil)
		return false
	}
	return true
}

func (h *Handler) terminal(w http.ResponseWriter, r *http.Request) (*Terminal, bool) {
	if !h.ready(w) {
		return nil, false
	}
	t, err := h.Svc.Get(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return nil, false
	}
	return t, true
}

func (h *Handler) respond(w http.ResponseWriter, t *Terminal) {
	common.Data(w, http.StatusOK, h.Svc.view(t))
}

func lineIndex(w http.ResponseWriter, r *http.Request) (int, bool) {
	idx, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil || idx < 0 {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "line index must be a non-negative integer", nil)
		return 0, false
	}
	return idx, true
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return false
	}
	if err := validate.Struct(dst); err != nil {
		common.JSONError(w, http.StatusUnprocessableEntity, "VALIDATION_FAILED", "payload failed validation", validationDetails(err))
		return false
	}
	return true
}

func validationDetails(err error) map[string]string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}
	out := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		out[fe.Field()] = fe.Tag()
	}
	return out
}

func failureStatus(kind settlement.FailureKind) (int, string) {
	switch kind {
	case settlement.FailureValidation:
		return http.StatusUnprocessableEntity, "SETTLEMENT_INVALID"
	case settlement.FailurePaymentDeclined:
		return http.StatusPaymentRequired, "PAYMENT_DECLINED"
	case settlement.FailureAdapterUnavailable:
		return http.StatusServiceUnavailable, "PAYMENT_UNAVAILABLE"
	case settlement.FailureIncompleteFeature:
		return http.StatusNotImplemented, "NOT_IMPLEMENTED"
	default:
		return http.StatusInternalServerError, "INTERNAL"
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	common.WriteError(w, toAppError(err))
}

func toAppError(err error) error {
	var appErr *common.AppError
	switch {
	case errors.As(err, &appErr):
		return err
	case errors.Is(err, ErrTerminalNotFound):
		return common.NotFound("CHECKOUT_NOT_FOUND", "checkout not found", err)
	case errors.Is(err, catalog.ErrProductNotFound):
		return common.NotFound("PRODUCT_NOT_FOUND", "product not found", err)
	case errors.Is(err, cart.ErrLineNotFound):
		return common.NotFound("LINE_NOT_FOUND", "cart line not found", err)
	case errors.Is(err, ErrUnknownOption), errors.Is(err, pricing.ErrInvalidSelection):
		return common.Unprocessable("INVALID_SELECTION", err)
	case errors.Is(err, cart.ErrInvalidInput), errors.Is(err, pricing.ErrInvalidQuantity):
		return common.Unprocessable("VALIDATION_FAILED", err)
	case errors.Is(err, tip.ErrUnknownKind), errors.Is(err, settlement.ErrInvalidMethod):
		return common.Unprocessable("VALIDATION_FAILED", err)
	case errors.Is(err, discount.ErrUnknownCode):
		return common.NotFound("DISCOUNT_NOT_FOUND", "discount code not found", err)
	case errors.Is(err, discount.ErrMinimumSpendUnmet), errors.Is(err, discount.ErrInactive), errors.Is(err, discount.ErrExpired):
		return common.Unprocessable("DISCOUNT_NOT_APPLICABLE", err)
	case errors.Is(err, ErrOrderLocked):
		return common.Conflict("ORDER_LOCKED", err.Error(), err)
	case errors.Is(err, settlement.ErrSettleInProgress):
		return common.Conflict("SETTLE_IN_PROGRESS", "a payment attempt is already in progress", err)
	case errors.Is(err, settlement.ErrSessionClosed):
		return common.Conflict("SESSION_CLOSED", "checkout is closed, open a new order", err)
	case errors.Is(err, settlement.ErrAlreadySettled):
		return common.Conflict("ALREADY_SETTLED", "checkout is already settled", err)
	default:
		return err
	}
}
