package http

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/GolangDeveloperAlmir/order-billing/internal/order/domain"
	ordersvc "github.com/GolangDeveloperAlmir/order-billing/internal/order/service"
	"github.com/GolangDeveloperAlmir/order-billing/internal/platform/idempotency"
	"github.com/GolangDeveloperAlmir/order-billing/internal/platform/log"
	"github.com/GolangDeveloperAlmir/order-billing/pkg/request"
	"github.com/GolangDeveloperAlmir/order-billing/pkg/respond"
	"github.com/go-chi/chi"
)

const (
	readTimeout  = 2 * time.Second
	writeTimeout = 3 * time.Second

	routePay = "POST:/api/v1/orders/{id}/invoices/{invoiceID}/payments"
)

// payRoute scopes an Idempotency-Key to one invoice.
func payRoute(invoiceID int64) string {
	return routePay + "#" + strconv.FormatInt(invoiceID, 10)
}

type Service interface {
	Create(ctx context.Context, in ordersvc.NewOrder) (*domain.Order, error)
	Get(ctx context.Context, id int64) (*domain.Order, error)
	List(ctx context.Context, limit int, cursor string) (*ordersvc.Page, error)
	Validate(ctx context.Context, id int64) error
	PayInvoice(ctx context.Context, orderID, invoiceID int64) (domain.Payment, error)
	GetPayment(ctx context.Context, orderID, paymentID int64) (domain.Payment, error)
	RefundPayment(ctx context.Context, orderID, paymentID int64) (domain.Refund, error)
	Delete(ctx context.Context, id int64) error
}

type IdempotencyStore interface {
	Get(ctx context.Context, key, route string) (*idempotency.Result, error)
	Save(ctx context.Context, key, route string, orderID, resourceID int64, status int) error
}

type Handler struct {
	svc  Service
	log  *log.Logger
	idem IdempotencyStore
}

// NewHandler wires the order endpoints. idem may be nil, which disables Idempotency-Key replay.
func NewHandler(svc Service, logger *log.Logger, idem IdempotencyStore) *Handler {
	if logger == nil {
		logger = log.NewNop()
	}

	return &Handler{svc: svc, log: logger, idem: idem}
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, msg := statusOf(err)
	if status >= http.StatusInternalServerError {
		h.log.Error("request failed",
			log.Str("method", r.Method), log.Str("path", r.URL.Path), log.Str("code", code), log.Err(err))
	}
	respond.Error(w, status, code, msg)
}

func idParam(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}

	return id, true
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var in ordersvc.NewOrder
	if err := request.DecodeJSON(w, r, &in); err != nil {
		h.log.Debug("failed to decode order", log.Err(err))
		respond.Error(w, http.StatusBadRequest, CodeInvalidInput, "invalid json")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), writeTimeout)
	defer cancel()

	o, err := h.svc.Create(ctx, in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respond.JSON(w, http.StatusCreated, o)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r, "id")
	if !ok {
		respond.Error(w, http.StatusBadRequest, CodeInvalidID, "invalid id")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), readTimeout)
	defer cancel()

	o, err := h.svc.Get(ctx, id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, o)
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	cursor := r.URL.Query().Get("cursor")
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}

	ctx, cancel := context.WithTimeout(r.Context(), readTimeout)
	defer cancel()

	page, err := h.svc.List(ctx, limit, cursor)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, page)
}

type validationResp struct {
	Valid bool   `json:"valid"`
	Code  string `json:"code,omitempty"`
	Error string `json:"error,omitempty"`
}

// Validate reports rule violations as data (200); only lookup failures are HTTP errors.
func (h *Handler) Validate(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r, "id")
	if !ok {
		respond.Error(w, http.StatusBadRequest, CodeInvalidID, "invalid id")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), readTimeout)
	defer cancel()

	err := h.svc.Validate(ctx, id)
	switch {
	case err == nil:
		respond.JSON(w, http.StatusOK, validationResp{Valid: true})
	case domain.IsValidation(err):
		respond.JSON(w, http.StatusOK, validationResp{Code: string(domain.KindOf(err)), Error: err.Error()})
	default:
		h.fail(w, r, err)
	}
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r, "id")
	if !ok {
		respond.Error(w, http.StatusBadRequest, CodeInvalidID, "invalid id")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), writeTimeout)
	defer cancel()

	if err := h.svc.Delete(ctx, id); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) PayInvoice(w http.ResponseWriter, r *http.Request) {
	orderID, ok := idParam(r, "id")
	if !ok {
		respond.Error(w, http.StatusBadRequest, CodeInvalidID, "invalid id")
		return
	}
	invoiceID, err := strconv.ParseInt(chi.URLParam(r, "invoiceID"), 10, 64)
	if err != nil {
		respond.Error(w, http.StatusBadRequest, CodeInvalidID, "invalid invoice id")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), writeTimeout)
	defer cancel()

	key, route := r.Header.Get("Idempotency-Key"), payRoute(invoiceID)
	if key != "" && h.idem != nil {
		res, err := h.idem.Get(ctx, key, route)
		if err != nil {
			h.log.Warn("idempotency lookup failed", log.Err(err))
		} else if res.Found && res.OrderID == orderID {
			if p, err := h.svc.GetPayment(ctx, orderID, res.ResourceID); err == nil {
				respond.JSON(w, res.Status, p)
				return
			}
		}
	}

	p, err := h.svc.PayInvoice(ctx, orderID, invoiceID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	// $0 payments are not stored, so there is nothing to replay
	if key != "" && h.idem != nil && !p.Amount.IsZero() {
		if err := h.idem.Save(ctx, key, route, orderID, p.ID, http.StatusCreated); err != nil {
			h.log.Warn("failed to save idempotency key", log.Err(err))
		}
	}
	respond.JSON(w, http.StatusCreated, p)
}

func (h *Handler) GetPayment(w http.ResponseWriter, r *http.Request) {
	orderID, ok := idParam(r, "id")
	if !ok {
		respond.Error(w, http.StatusBadRequest, CodeInvalidID, "invalid id")
		return
	}
	paymentID, ok := idParam(r, "paymentID")
	if !ok {
		respond.Error(w, http.StatusBadRequest, CodeInvalidID, "invalid payment id")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), readTimeout)
	defer cancel()

	p, err := h.svc.GetPayment(ctx, orderID, paymentID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, p)
}

func (h *Handler) RefundPayment(w http.ResponseWriter, r *http.Request) {
	orderID, ok := idParam(r, "id")
	if !ok {
		respond.Error(w, http.StatusBadRequest, CodeInvalidID, "invalid id")
		return
	}
	paymentID, ok := idParam(r, "paymentID")
	if !ok {
		respond.Error(w, http.StatusBadRequest, CodeInvalidID, "invalid payment id")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), writeTimeout)
	defer cancel()

	rf, err := h.svc.RefundPayment(ctx, orderID, paymentID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respond.JSON(w, http.StatusCreated, rf)
}
