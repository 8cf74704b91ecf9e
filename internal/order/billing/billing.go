// Package billing holds the order validation rules and the payment/refund bookkeeping.
//
// The Service keeps no state of its own: every call works on the Order or Payment it is
// given. Time and identifiers come from the injected clock and generator. Calls that
// mutate the same Order must be serialized by the caller.
package billing

import (
	"fmt"

	"github.com/GolangDeveloperAlmir/order-billing/internal/order/domain"
	"github.com/GolangDeveloperAlmir/order-billing/internal/platform/clock"
	"github.com/GolangDeveloperAlmir/order-billing/internal/platform/idgen"
	"github.com/GolangDeveloperAlmir/order-billing/internal/platform/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	validations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "order_validations_total",
		Help: "order validations by result kind",
	}, []string{"result"})
	paymentsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payments_created_total",
		Help: "payments computed, split by whether they were recorded on the order",
	}, []string{"tracked"})
	refundsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "refunds_created_total",
		Help: "refunds computed",
	})
)

type Service struct {
	clock clock.Clock
	ids   idgen.Generator
	log   *log.Logger
}

func New(clk clock.Clock, ids idgen.Generator, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.NewNop()
	}

	return &Service{clock: clk, ids: ids, log: logger}
}

// ValidateOrder returns the first violated rule, checked in this order: negative amount,
// negative adjusted amount, booked date in the future, deleted.
func (s *Service) ValidateOrder(o *domain.Order) error {
	err := s.validate(o)
	if err != nil {
		validations.WithLabelValues(resultLabel(err)).Inc()
		s.log.Debug("order failed validation", log.Int64("order_id", orderID(o)), log.Err(err))

		return err
	}
	validations.WithLabelValues("valid").Inc()

	return nil
}

func (s *Service) validate(o *domain.Order) error {
	if o == nil {
		return domain.ErrNilOrder
	}
	if o.Amount.IsNegative() {
		return domain.ErrNegativeAmount
	}
	if o.PayableAmount().IsNegative() {
		return domain.ErrNegativeAdjustedAmount
	}
	if o.BookedDate.After(s.clock.Now()) {
		return domain.ErrFutureBookedDate
	}
	if o.IsDeleted {
		return domain.ErrOrderDeleted
	}

	return nil
}

// IsOrderValid reduces ValidateOrder to a boolean. Use ValidateOrder when the reason matters.
func (s *Service) IsOrderValid(o *domain.Order) bool {
	return s.ValidateOrder(o) == nil
}

// PayInvoice pays the invoice identified by invoiceID in full. Non-zero payments are
// appended to o.Payments; $0 payments are returned but not tracked on the order.
func (s *Service) PayInvoice(o *domain.Order, invoiceID int64) (domain.Payment, error) {
	if o == nil {
		return domain.Payment{}, domain.ErrNilOrder
	}
	inv, ok := o.FindInvoice(invoiceID)
	if !ok {
		s.log.Debug("invoice not found", log.Int64("order_id", o.ID), log.Int64("invoice_id", invoiceID))
		return domain.Payment{}, domain.ErrInvoiceNotFound
	}

	id, err := s.ids.Generate()
	if err != nil {
		return domain.Payment{}, fmt.Errorf("generate payment id: %w", err)
	}
	p := domain.Payment{
		ID:          id,
		Amount:      inv.Amount,
		CreatedDate: s.clock.Now(),
		InvoiceID:   invoiceID,
		OrderID:     inv.OrderID,
	}

	tracked := !p.Amount.IsZero()
	if tracked {
		o.Payments = append(o.Payments, p)
	}
	paymentsCreated.WithLabelValues(fmt.Sprint(tracked)).Inc()
	s.log.Info("invoice paid",
		log.Int64("order_id", o.ID),
		log.Int64("invoice_id", invoiceID),
		log.Int64("payment_id", p.ID),
		log.Dec("amount", p.Amount),
		log.Bool("tracked", tracked),
	)

	return p, nil
}

// RefundPayment builds a refund for the full payment amount. Nothing is recorded on the order.
func (s *Service) RefundPayment(p domain.Payment) (domain.Refund, error) {
	if p.OrderID == nil {
		return domain.Refund{}, domain.ErrMissingOrderReference
	}

	id, err := s.ids.Generate()
	if err != nil {
		return domain.Refund{}, fmt.Errorf("generate refund id: %w", err)
	}
	r := domain.Refund{
		ID:          id,
		Amount:      p.Amount,
		CreatedDate: s.clock.Now(),
		OrderID:     *p.OrderID,
	}

	refundsCreated.Inc()
	s.log.Info("payment refunded",
		log.Int64("order_id", r.OrderID),
		log.Int64("payment_id", p.ID),
		log.Int64("refund_id", r.ID),
		log.Dec("amount", r.Amount),
	)

	return r, nil
}

func resultLabel(err error) string {
	if k := domain.KindOf(err); k != "" {
		return string(k)
	}

	return "invalid"
}

func orderID(o *domain.Order) int64 {
	if o == nil {
		return 0
	}

	return o.ID
}
