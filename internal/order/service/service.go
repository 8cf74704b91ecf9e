package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/GolangDeveloperAlmir/order-billing/internal/order/billing"
	"github.com/GolangDeveloperAlmir/order-billing/internal/order/domain"
	"github.com/GolangDeveloperAlmir/order-billing/internal/order/repository/postgres"
	"github.com/GolangDeveloperAlmir/order-billing/internal/platform/clock"
	"github.com/GolangDeveloperAlmir/order-billing/internal/platform/idgen"
	"github.com/GolangDeveloperAlmir/order-billing/internal/platform/log"
	"github.com/GolangDeveloperAlmir/order-billing/internal/platform/observability"
	"github.com/jackc/pgx/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	EventOrderCreated    = "order.created"
	EventOrderDeleted    = "order.deleted"
	EventPaymentCreated  = "payment.created"
	EventPaymentRefunded = "payment.refunded"
)

var ErrInvalidInput = errors.New("invalid order input")

var currencyRe = regexp.MustCompile("^[A-Z]{3}$")

// moneyScale and maxMoney match the NUMERIC(19, 4) amount columns.
const moneyScale = 4

var maxMoney = decimal.New(1, 19-moneyScale)

type Repo interface {
	CreateInTx(ctx context.Context, tx pgx.Tx, o *domain.Order) error
	LockInTx(ctx context.Context, tx pgx.Tx, id int64) error
	GetInTx(ctx context.Context, tx pgx.Tx, id int64) (*domain.Order, error)
	AddPaymentInTx(ctx context.Context, tx pgx.Tx, orderID int64, p domain.Payment) error
	AddRefundInTx(ctx context.Context, tx pgx.Tx, paymentID int64, r domain.Refund) error
	MarkDeletedInTx(ctx context.Context, tx pgx.Tx, id int64) error
	AddOutboxInTx(ctx context.Context, tx pgx.Tx, aggregateID int64, eventType string, payload any) error

	Get(ctx context.Context, id int64) (*domain.Order, error)
	GetPayment(ctx context.Context, orderID, paymentID int64) (domain.Payment, error)
	List(ctx context.Context, limit int, cursor string) (*Page, error)
}

type Page = postgres.Page

type TxRunner interface {
	InTx(ctx context.Context, fn func(pgx.Tx) error) error
}

// Cache is an optional read-through cache for whole aggregates.
type Cache interface {
	Get(ctx context.Context, id int64) (*domain.Order, error)
	Put(ctx context.Context, o *domain.Order) error
	Invalidate(ctx context.Context, id int64) error
}

type Service struct {
	repo    Repo
	tx      TxRunner
	billing *billing.Service
	clock   clock.Clock
	ids     idgen.Generator
	cache   Cache
	log     *log.Logger
}

type Option func(*Service)

func WithCache(c Cache) Option {
	return func(s *Service) { s.cache = c }
}

func New(repo Repo, tx TxRunner, clk clock.Clock, ids idgen.Generator, logger *log.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = log.NewNop()
	}
	s := &Service{
		repo:    repo,
		tx:      tx,
		billing: billing.New(clk, ids, logger.Named("billing")),
		clock:   clk,
		ids:     ids,
		log:     logger,
	}
	for _, o := range opts {
		o(s)
	}

	return s
}

var (
	ordersCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_created_total",
		Help: "total number of orders created",
	})
	ordersDeleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_deleted_total",
		Help: "total number of orders soft-deleted",
	})
)

type NewAdjustment struct {
	ID     int64           `json:"id"`
	Amount decimal.Decimal `json:"amount"`
}

type NewInvoice struct {
	ID     *int64          `json:"id,omitempty"`
	Amount decimal.Decimal `json:"amount"`
}

type NewOrder struct {
	// ID is generated when zero.
	ID              int64           `json:"id,omitempty"`
	Amount          decimal.Decimal `json:"amount"`
	ClientID        int64           `json:"client_id"`
	ClientName      string          `json:"client_name"`
	BookedDate      time.Time       `json:"booked_date"`
	CurrencyISOCode string          `json:"currency_iso_code"`
	Adjustments     []NewAdjustment `json:"adjustments"`
	Invoices        []NewInvoice    `json:"invoices"`
}

func (in NewOrder) check() error {
	if !currencyRe.MatchString(in.CurrencyISOCode) {
		return fmt.Errorf("%w: currency_iso_code must be a 3-letter ISO code", ErrInvalidInput)
	}
	if in.BookedDate.IsZero() {
		return fmt.Errorf("%w: booked_date is required", ErrInvalidInput)
	}
	if err := checkScale("amount", in.Amount); err != nil {
		return err
	}
	seen := make(map[int64]bool, len(in.Adjustments))
	for _, a := range in.Adjustments {
		if seen[a.ID] {
			return fmt.Errorf("%w: duplicate adjustment id %d", ErrInvalidInput, a.ID)
		}
		seen[a.ID] = true
		if err := checkScale("adjustment amount", a.Amount); err != nil {
			return err
		}
	}
	for _, inv := range in.Invoices {
		if err := checkScale("invoice amount", inv.Amount); err != nil {
			return err
		}
	}

	return nil
}

// checkScale rejects amounts the store would round.
func checkScale(field string, d decimal.Decimal) error {
	if !d.Equal(d.Truncate(moneyScale)) {
		return fmt.Errorf("%w: %s has more than %d decimal places", ErrInvalidInput, field, moneyScale)
	}
	if d.Abs().GreaterThanOrEqual(maxMoney) {
		return fmt.Errorf("%w: %s is out of range", ErrInvalidInput, field)
	}

	return nil
}

// Create stores a new order. Business validity is not enforced here; use Validate.
func (s *Service) Create(ctx context.Context, in NewOrder) (*domain.Order, error) {
	ctx, span := s.start(ctx, "Create")
	defer span.End()

	if err := in.check(); err != nil {
		return nil, err
	}

	id := in.ID
	if id == 0 {
		var err error
		if id, err = s.ids.Generate(); err != nil {
			return nil, fail(span, fmt.Errorf("generate order id: %w", err))
		}
	}
	now := s.clock.Now()
	o := &domain.Order{
		ID:              id,
		Amount:          in.Amount,
		ClientID:        in.ClientID,
		ClientName:      in.ClientName,
		BookedDate:      in.BookedDate.UTC(),
		CreatedDate:     now,
		CurrencyISOCode: in.CurrencyISOCode,
	}
	for _, a := range in.Adjustments {
		o.Adjustments = append(o.Adjustments, domain.Adjustment{
			ID: a.ID, Amount: a.Amount, CreatedDate: now, OrderID: domain.ID(id),
		})
	}
	for _, inv := range in.Invoices {
		o.Invoices = append(o.Invoices, domain.Invoice{
			ID: inv.ID, Amount: inv.Amount, CreatedDate: now, OrderID: domain.ID(id),
		})
	}

	if err := s.tx.InTx(ctx, func(tx pgx.Tx) error {
		if err := s.repo.CreateInTx(ctx, tx, o); err != nil {
			return err
		}

		return s.repo.AddOutboxInTx(ctx, tx, o.ID, EventOrderCreated, o)
	}); err != nil {
		s.log.Error("failed to create order", log.Int64("order_id", id), log.Err(err))
		return nil, fail(span, err)
	}

	ordersCreated.Inc()
	span.SetAttributes(attribute.Int64("order.id", o.ID))

	return o, nil
}

func (s *Service) Get(ctx context.Context, id int64) (*domain.Order, error) {
	ctx, span := s.start(ctx, "Get", attribute.Int64("order.id", id))
	defer span.End()

	if s.cache != nil {
		if o, err := s.cache.Get(ctx, id); err == nil {
			span.SetAttributes(attribute.Bool("cache.hit", true))
			return o, nil
		}
	}

	o, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, fail(span, err)
	}
	if s.cache != nil {
		if err := s.cache.Put(ctx, o); err != nil {
			s.log.Warn("failed to cache order", log.Int64("order_id", id), log.Err(err))
		}
	}

	return o, nil
}

func (s *Service) List(ctx context.Context, limit int, cursor string) (*Page, error) {
	ctx, span := s.start(ctx, "List")
	defer span.End()

	page, err := s.repo.List(ctx, limit, cursor)
	if err != nil {
		return nil, fail(span, err)
	}

	return page, nil
}

// Validate loads the order from the store, skipping the cache, and returns the
// first violated rule, or nil.
func (s *Service) Validate(ctx context.Context, id int64) error {
	ctx, span := s.start(ctx, "Validate", attribute.Int64("order.id", id))
	defer span.End()

	o, err := s.repo.Get(ctx, id)
	if err != nil {
		return fail(span, err)
	}
	if err := s.billing.ValidateOrder(o); err != nil {
		span.SetAttributes(attribute.String("order.invalid", string(domain.KindOf(err))))
		return err
	}

	return nil
}

// PayInvoice pays an invoice under a row lock on the order. Only tracked (non-zero)
// payments are stored and announced.
func (s *Service) PayInvoice(ctx context.Context, orderID, invoiceID int64) (domain.Payment, error) {
	ctx, span := s.start(ctx, "PayInvoice",
		attribute.Int64("order.id", orderID), attribute.Int64("invoice.id", invoiceID))
	defer span.End()

	var p domain.Payment
	err := s.tx.InTx(ctx, func(tx pgx.Tx) error {
		if err := s.repo.LockInTx(ctx, tx, orderID); err != nil {
			return err
		}
		o, err := s.repo.GetInTx(ctx, tx, orderID)
		if err != nil {
			return err
		}

		before := len(o.Payments)
		if p, err = s.billing.PayInvoice(o, invoiceID); err != nil {
			return err
		}
		if len(o.Payments) == before {
			return nil
		}
		if err := s.repo.AddPaymentInTx(ctx, tx, orderID, p); err != nil {
			return err
		}

		return s.repo.AddOutboxInTx(ctx, tx, orderID, EventPaymentCreated, p)
	})
	if err != nil {
		return domain.Payment{}, fail(span, err)
	}
	s.invalidate(ctx, orderID)
	span.SetAttributes(attribute.Int64("payment.id", p.ID))

	return p, nil
}

func (s *Service) GetPayment(ctx context.Context, orderID, paymentID int64) (domain.Payment, error) {
	ctx, span := s.start(ctx, "GetPayment",
		attribute.Int64("order.id", orderID), attribute.Int64("payment.id", paymentID))
	defer span.End()

	p, err := s.repo.GetPayment(ctx, orderID, paymentID)
	if err != nil {
		return domain.Payment{}, fail(span, err)
	}

	return p, nil
}

type refundEvent struct {
	domain.Refund
	PaymentID int64 `json:"payment_id"`
}

// RefundPayment records a full refund of a stored payment. The order's payments stay as they are.
func (s *Service) RefundPayment(ctx context.Context, orderID, paymentID int64) (domain.Refund, error) {
	ctx, span := s.start(ctx, "RefundPayment",
		attribute.Int64("order.id", orderID), attribute.Int64("payment.id", paymentID))
	defer span.End()

	p, err := s.repo.GetPayment(ctx, orderID, paymentID)
	if err != nil {
		return domain.Refund{}, fail(span, err)
	}
	r, err := s.billing.RefundPayment(p)
	if err != nil {
		return domain.Refund{}, fail(span, err)
	}

	if err := s.tx.InTx(ctx, func(tx pgx.Tx) error {
		if err := s.repo.AddRefundInTx(ctx, tx, paymentID, r); err != nil {
			return err
		}

		return s.repo.AddOutboxInTx(ctx, tx, r.OrderID, EventPaymentRefunded, refundEvent{Refund: r, PaymentID: paymentID})
	}); err != nil {
		s.log.Error("failed to store refund", log.Int64("payment_id", paymentID), log.Err(err))
		return domain.Refund{}, fail(span, err)
	}
	span.SetAttributes(attribute.Int64("refund.id", r.ID))

	return r, nil
}

// Delete flags the order as deleted; the row and its children are kept.
func (s *Service) Delete(ctx context.Context, id int64) error {
	ctx, span := s.start(ctx, "Delete", attribute.Int64("order.id", id))
	defer span.End()

	err := s.tx.InTx(ctx, func(tx pgx.Tx) error {
		if err := s.repo.MarkDeletedInTx(ctx, tx, id); err != nil {
			return err
		}

		return s.repo.AddOutboxInTx(ctx, tx, id, EventOrderDeleted, map[string]any{"id": id})
	})
	if err != nil {
		return fail(span, err)
	}
	s.invalidate(ctx, id)
	ordersDeleted.Inc()

	return nil
}

func (s *Service) invalidate(ctx context.Context, id int64) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, id); err != nil {
		s.log.Warn("failed to invalidate cached order", log.Int64("order_id", id), log.Err(err))
	}
}

func (s *Service) start(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return observability.Tracer("order.service").Start(ctx, op, trace.WithAttributes(attrs...))
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	return err
}
