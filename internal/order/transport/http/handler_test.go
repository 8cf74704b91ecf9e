package http

import (
	"context"
	"encoding/json"
	"errors"
	stdhttp "net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/GolangDeveloperAlmir/order-billing/internal/order/domain"
	"github.com/GolangDeveloperAlmir/order-billing/internal/order/repository/postgres"
	ordersvc "github.com/GolangDeveloperAlmir/order-billing/internal/order/service"
	"github.com/GolangDeveloperAlmir/order-billing/internal/platform/idempotency"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var created = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type stubService struct {
	createFn     func(ctx context.Context, in ordersvc.NewOrder) (*domain.Order, error)
	getFn        func(ctx context.Context, id int64) (*domain.Order, error)
	listFn       func(ctx context.Context, limit int, cursor string) (*ordersvc.Page, error)
	validateFn   func(ctx context.Context, id int64) error
	payFn        func(ctx context.Context, orderID, invoiceID int64) (domain.Payment, error)
	getPaymentFn func(ctx context.Context, orderID, paymentID int64) (domain.Payment, error)
	refundFn     func(ctx context.Context, orderID, paymentID int64) (domain.Refund, error)
	deleteFn     func(ctx context.Context, id int64) error
}

func (s *stubService) Create(ctx context.Context, in ordersvc.NewOrder) (*domain.Order, error) {
	return s.createFn(ctx, in)
}

func (s *stubService) Get(ctx context.Context, id int64) (*domain.Order, error) {
	return s.getFn(ctx, id)
}

func (s *stubService) List(ctx context.Context, limit int, cursor string) (*ordersvc.Page, error) {
	return s.listFn(ctx, limit, cursor)
}

func (s *stubService) Validate(ctx context.Context, id int64) error {
	return s.validateFn(ctx, id)
}

func (s *stubService) PayInvoice(ctx context.Context, orderID, invoiceID int64) (domain.Payment, error) {
	return s.payFn(ctx, orderID, invoiceID)
}

func (s *stubService) GetPayment(ctx context.Context, orderID, paymentID int64) (domain.Payment, error) {
	return s.getPaymentFn(ctx, orderID, paymentID)
}

func (s *stubService) RefundPayment(ctx context.Context, orderID, paymentID int64) (domain.Refund, error) {
	return s.refundFn(ctx, orderID, paymentID)
}

func (s *stubService) Delete(ctx context.Context, id int64) error {
	return s.deleteFn(ctx, id)
}

type memIdem struct {
	rows map[string]idempotency.Result
}

func (m *memIdem) Get(_ context.Context, key, route string) (*idempotency.Result, error) {
	r, ok := m.rows[key+route]
	if !ok {
		return &idempotency.Result{}, nil
	}
	return &r, nil
}

func (m *memIdem) Save(_ context.Context, key, route string, orderID, resourceID int64, status int) error {
	if _, ok := m.rows[key+route]; ok {
		return nil
	}
	m.rows[key+route] = idempotency.Result{OrderID: orderID, ResourceID: resourceID, Status: status, Found: true}
	return nil
}

func newTestRouter(svc Service, opts ...RouterOpt) stdhttp.Handler {
	opts = append([]RouterOpt{WithoutTracing(), WithRateLimit(1000, 1000)}, opts...)
	return NewRouter(NewHandler(svc, nil, &memIdem{rows: map[string]idempotency.Result{}}), nil, opts...)
}

func do(t *testing.T, h stdhttp.Handler, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var req *stdhttp.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error string `json:"error"`
		Code  string `json:"code"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Code
}

func payment(id int64, amount string) domain.Payment {
	return domain.Payment{
		ID:          id,
		Amount:      decimal.RequireFromString(amount),
		CreatedDate: created,
		InvoiceID:   1,
		OrderID:     domain.ID(123456),
	}
}

func TestCreate(t *testing.T) {
	svc := &stubService{
		createFn: func(_ context.Context, in ordersvc.NewOrder) (*domain.Order, error) {
			if in.CurrencyISOCode != "USD" {
				return nil, ordersvc.ErrInvalidInput
			}
			return &domain.Order{ID: in.ID, Amount: in.Amount, CurrencyISOCode: in.CurrencyISOCode, CreatedDate: created}, nil
		},
	}
	h := newTestRouter(svc)

	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantCode   string
	}{
		{
			name:       "created",
			body:       `{"id":123456,"amount":"100","client_id":200,"client_name":"Bob's FoodMart","booked_date":"2019-01-12T00:00:00Z","currency_iso_code":"USD","adjustments":[{"id":1,"amount":"-20"}]}`,
			wantStatus: stdhttp.StatusCreated,
		},
		{
			name:       "bad currency",
			body:       `{"id":1,"amount":"1","booked_date":"2019-01-12T00:00:00Z","currency_iso_code":"usd"}`,
			wantStatus: stdhttp.StatusBadRequest,
			wantCode:   CodeInvalidInput,
		},
		{
			name:       "unknown field",
			body:       `{"id":1,"colour":"red"}`,
			wantStatus: stdhttp.StatusBadRequest,
			wantCode:   CodeInvalidInput,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := do(t, h, stdhttp.MethodPost, "/api/v1/orders", tc.body)
			require.Equal(t, tc.wantStatus, rec.Code, rec.Body.String())
			if tc.wantCode != "" {
				assert.Equal(t, tc.wantCode, errorCode(t, rec))
			}
		})
	}
}

func TestCreate_Duplicate(t *testing.T) {
	h := newTestRouter(&stubService{
		createFn: func(context.Context, ordersvc.NewOrder) (*domain.Order, error) { return nil, domain.ErrOrderExists },
	})

	rec := do(t, h, stdhttp.MethodPost, "/api/v1/orders", `{"id":1,"amount":"1","booked_date":"2019-01-12T00:00:00Z","currency_iso_code":"USD"}`)
	assert.Equal(t, stdhttp.StatusConflict, rec.Code)
	assert.Equal(t, CodeOrderExists, errorCode(t, rec))
}

func TestGet(t *testing.T) {
	h := newTestRouter(&stubService{
		getFn: func(_ context.Context, id int64) (*domain.Order, error) {
			if id != 123456 {
				return nil, domain.ErrOrderNotFound
			}
			return &domain.Order{ID: id, CurrencyISOCode: "USD"}, nil
		},
	})

	rec := do(t, h, stdhttp.MethodGet, "/api/v1/orders/123456", "")
	require.Equal(t, stdhttp.StatusOK, rec.Code)
	var o domain.Order
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &o))
	assert.Equal(t, int64(123456), o.ID)

	rec = do(t, h, stdhttp.MethodGet, "/api/v1/orders/7", "")
	assert.Equal(t, stdhttp.StatusNotFound, rec.Code)
	assert.Equal(t, CodeOrderNotFound, errorCode(t, rec))

	rec = do(t, h, stdhttp.MethodGet, "/api/v1/orders/abc", "")
	assert.Equal(t, stdhttp.StatusBadRequest, rec.Code)
	assert.Equal(t, CodeInvalidID, errorCode(t, rec))
}

func TestList(t *testing.T) {
	var gotLimit int
	var gotCursor string
	h := newTestRouter(&stubService{
		listFn: func(_ context.Context, limit int, cursor string) (*ordersvc.Page, error) {
			gotLimit, gotCursor = limit, cursor
			if cursor == "bad" {
				return nil, postgres.ErrInvalidCursor
			}
			return &ordersvc.Page{Next: "next"}, nil
		},
	})

	rec := do(t, h, stdhttp.MethodGet, "/api/v1/orders?limit=500&cursor=abc", "")
	require.Equal(t, stdhttp.StatusOK, rec.Code)
	assert.Equal(t, 100, gotLimit)
	assert.Equal(t, "abc", gotCursor)

	rec = do(t, h, stdhttp.MethodGet, "/api/v1/orders?cursor=bad", "")
	assert.Equal(t, stdhttp.StatusBadRequest, rec.Code)
	assert.Equal(t, CodeInvalidCursor, errorCode(t, rec))
	assert.Equal(t, 20, gotLimit)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantBody   string
	}{
		{"valid", nil, stdhttp.StatusOK, `{"valid":true}`},
		{"negative amount", domain.ErrNegativeAmount, stdhttp.StatusOK,
			`{"valid":false,"code":"negative_amount","error":"Order amount cannot be negative"}`},
		{"deleted", domain.ErrOrderDeleted, stdhttp.StatusOK,
			`{"valid":false,"code":"order_deleted","error":"Order has been deleted"}`},
		{"not found", domain.ErrOrderNotFound, stdhttp.StatusNotFound,
			`{"error":"order not found","code":"order_not_found"}`},
		{"store down", errors.New("conn refused"), stdhttp.StatusInternalServerError,
			`{"error":"internal error","code":"internal"}`},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := newTestRouter(&stubService{
				validateFn: func(context.Context, int64) error { return tc.err },
			})
			rec := do(t, h, stdhttp.MethodGet, "/api/v1/orders/123456/validation", "")
			assert.Equal(t, tc.wantStatus, rec.Code)
			assert.JSONEq(t, tc.wantBody, rec.Body.String())
		})
	}
}

func TestPayInvoice(t *testing.T) {
	h := newTestRouter(&stubService{
		payFn: func(_ context.Context, orderID, invoiceID int64) (domain.Payment, error) {
			if invoiceID != 1 {
				return domain.Payment{}, domain.ErrInvoiceNotFound
			}
			return payment(101, "80"), nil
		},
	})

	rec := do(t, h, stdhttp.MethodPost, "/api/v1/orders/123456/invoices/1/payments", "")
	require.Equal(t, stdhttp.StatusCreated, rec.Code)
	var p domain.Payment
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	assert.Equal(t, int64(101), p.ID)
	assert.True(t, decimal.RequireFromString("80").Equal(p.Amount))

	rec = do(t, h, stdhttp.MethodPost, "/api/v1/orders/123456/invoices/9/payments", "")
	assert.Equal(t, stdhttp.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"error":"Invalid InvoiceId","code":"invoice_not_found"}`, rec.Body.String())
}

func TestPayInvoice_IdempotencyKeyReplays(t *testing.T) {
	calls := 0
	h := newTestRouter(&stubService{
		payFn: func(context.Context, int64, int64) (domain.Payment, error) {
			calls++
			return payment(int64(100+calls), "80"), nil
		},
		getPaymentFn: func(_ context.Context, _, paymentID int64) (domain.Payment, error) {
			return payment(paymentID, "80"), nil
		},
	})

	first := do(t, h, stdhttp.MethodPost, "/api/v1/orders/123456/invoices/1/payments", "", "Idempotency-Key", "k-1")
	second := do(t, h, stdhttp.MethodPost, "/api/v1/orders/123456/invoices/1/payments", "", "Idempotency-Key", "k-1")
	third := do(t, h, stdhttp.MethodPost, "/api/v1/orders/123456/invoices/1/payments", "", "Idempotency-Key", "k-2")

	require.Equal(t, stdhttp.StatusCreated, first.Code)
	require.Equal(t, stdhttp.StatusCreated, second.Code)
	assert.JSONEq(t, first.Body.String(), second.Body.String())
	assert.Equal(t, 2, calls)
	assert.NotEqual(t, first.Body.String(), third.Body.String())
}

func TestPayInvoice_IdempotencyKeyIsPerInvoice(t *testing.T) {
	var paid []int64
	h := newTestRouter(&stubService{
		payFn: func(_ context.Context, _, invoiceID int64) (domain.Payment, error) {
			paid = append(paid, invoiceID)
			p := payment(int64(100+len(paid)), "80")
			p.InvoiceID = invoiceID
			return p, nil
		},
		getPaymentFn: func(_ context.Context, _, paymentID int64) (domain.Payment, error) {
			return payment(paymentID, "80"), nil
		},
	})

	first := do(t, h, stdhttp.MethodPost, "/api/v1/orders/123456/invoices/1/payments", "", "Idempotency-Key", "k-1")
	other := do(t, h, stdhttp.MethodPost, "/api/v1/orders/123456/invoices/3/payments", "", "Idempotency-Key", "k-1")

	require.Equal(t, stdhttp.StatusCreated, first.Code)
	require.Equal(t, stdhttp.StatusCreated, other.Code)
	assert.Equal(t, []int64{1, 3}, paid)
	var p domain.Payment
	require.NoError(t, json.Unmarshal(other.Body.Bytes(), &p))
	assert.Equal(t, int64(3), p.InvoiceID)
}

func TestPayInvoice_ZeroPaymentNotRemembered(t *testing.T) {
	calls := 0
	h := newTestRouter(&stubService{
		payFn: func(context.Context, int64, int64) (domain.Payment, error) {
			calls++
			return payment(int64(100+calls), "0"), nil
		},
	})

	do(t, h, stdhttp.MethodPost, "/api/v1/orders/123456/invoices/2/payments", "", "Idempotency-Key", "k-0")
	rec := do(t, h, stdhttp.MethodPost, "/api/v1/orders/123456/invoices/2/payments", "", "Idempotency-Key", "k-0")
	assert.Equal(t, stdhttp.StatusCreated, rec.Code)
	assert.Equal(t, 2, calls)
}

func TestRefundPayment(t *testing.T) {
	h := newTestRouter(&stubService{
		refundFn: func(_ context.Context, orderID, paymentID int64) (domain.Refund, error) {
			switch paymentID {
			case 101:
				return domain.Refund{ID: 102, Amount: decimal.RequireFromString("80"), CreatedDate: created, OrderID: orderID}, nil
			case 5:
				return domain.Refund{}, domain.ErrMissingOrderReference
			default:
				return domain.Refund{}, domain.ErrPaymentNotFound
			}
		},
	})

	rec := do(t, h, stdhttp.MethodPost, "/api/v1/orders/123456/payments/101/refunds", "")
	require.Equal(t, stdhttp.StatusCreated, rec.Code)
	assert.JSONEq(t, `{"id":102,"amount":"80","created_date":"2025-03-01T12:00:00Z","order_id":123456}`, rec.Body.String())

	rec = do(t, h, stdhttp.MethodPost, "/api/v1/orders/123456/payments/5/refunds", "")
	assert.Equal(t, stdhttp.StatusConflict, rec.Code)
	assert.Equal(t, "missing_order_reference", errorCode(t, rec))

	rec = do(t, h, stdhttp.MethodPost, "/api/v1/orders/123456/payments/9/refunds", "")
	assert.Equal(t, stdhttp.StatusNotFound, rec.Code)
	assert.Equal(t, CodePaymentNotFound, errorCode(t, rec))
}

func TestDelete(t *testing.T) {
	var deleted int64
	h := newTestRouter(&stubService{
		deleteFn: func(_ context.Context, id int64) error {
			deleted = id
			return nil
		},
	})

	rec := do(t, h, stdhttp.MethodDelete, "/api/v1/orders/123456", "")
	assert.Equal(t, stdhttp.StatusNoContent, rec.Code)
	assert.Equal(t, int64(123456), deleted)
}

func TestWritesRequireAuth(t *testing.T) {
	deny := func(next stdhttp.Handler) stdhttp.Handler {
		return stdhttp.HandlerFunc(func(w stdhttp.ResponseWriter, r *stdhttp.Request) {
			w.WriteHeader(stdhttp.StatusUnauthorized)
		})
	}
	h := newTestRouter(&stubService{
		getFn: func(_ context.Context, id int64) (*domain.Order, error) { return &domain.Order{ID: id}, nil },
	}, WithAuth(deny))

	assert.Equal(t, stdhttp.StatusOK, do(t, h, stdhttp.MethodGet, "/api/v1/orders/1", "").Code)
	assert.Equal(t, stdhttp.StatusUnauthorized, do(t, h, stdhttp.MethodPost, "/api/v1/orders", `{}`).Code)
	assert.Equal(t, stdhttp.StatusUnauthorized, do(t, h, stdhttp.MethodDelete, "/api/v1/orders/1", "").Code)
	assert.Equal(t, stdhttp.StatusUnauthorized, do(t, h, stdhttp.MethodPost, "/api/v1/orders/1/invoices/1/payments", "").Code)
}

func TestHealthAndReadiness(t *testing.T) {
	ready := errors.New("db down")
	h := newTestRouter(&stubService{}, WithReadiness(func(context.Context) error { return ready }))

	assert.Equal(t, stdhttp.StatusOK, do(t, h, stdhttp.MethodGet, "/healthz", "").Code)
	assert.Equal(t, stdhttp.StatusServiceUnavailable, do(t, h, stdhttp.MethodGet, "/readyz", "").Code)

	ready = nil
	assert.Equal(t, stdhttp.StatusOK, do(t, h, stdhttp.MethodGet, "/readyz", "").Code)
	assert.Equal(t, stdhttp.StatusOK, do(t, h, stdhttp.MethodGet, "/metrics", "").Code)
}

func TestRateLimit(t *testing.T) {
	h := NewRouter(NewHandler(&stubService{}, nil, nil), nil, WithoutTracing(), WithRateLimit(0.001, 1))

	assert.Equal(t, stdhttp.StatusOK, do(t, h, stdhttp.MethodGet, "/healthz", "").Code)
	rec := do(t, h, stdhttp.MethodGet, "/healthz", "")
	assert.Equal(t, stdhttp.StatusTooManyRequests, rec.Code)
}
