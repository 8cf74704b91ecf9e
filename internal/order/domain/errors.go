package domain

import "errors"

// Kind classifies a billing rule violation.
type Kind string

const (
	KindNegativeAmount         Kind = "negative_amount"
	KindNegativeAdjustedAmount Kind = "negative_adjusted_amount"
	KindFutureBookedDate       Kind = "future_booked_date"
	KindOrderDeleted           Kind = "order_deleted"
	KindInvoiceNotFound        Kind = "invoice_not_found"
	KindMissingOrderReference  Kind = "missing_order_reference"
)

// Error is a billing rule violation. Two Errors match under errors.Is when their kinds match.
type Error struct {
	Kind Kind
	Msg  string
}

func (e *Error) Error() string { return e.Msg }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

var (
	ErrNegativeAmount         = &Error{Kind: KindNegativeAmount, Msg: "Order amount cannot be negative"}
	ErrNegativeAdjustedAmount = &Error{Kind: KindNegativeAdjustedAmount, Msg: "Order adjustments make total amount negative"}
	ErrFutureBookedDate       = &Error{Kind: KindFutureBookedDate, Msg: "BookedDate cannot be in the future"}
	ErrOrderDeleted           = &Error{Kind: KindOrderDeleted, Msg: "Order has been deleted"}
	ErrInvoiceNotFound        = &Error{Kind: KindInvoiceNotFound, Msg: "Invalid InvoiceId"}
	ErrMissingOrderReference  = &Error{Kind: KindMissingOrderReference, Msg: "Payment has no order reference"}
)

var (
	ErrNilOrder        = errors.New("order is required")
	ErrOrderNotFound   = errors.New("order not found")
	ErrOrderExists     = errors.New("order already exists")
	ErrPaymentNotFound = errors.New("payment not found")
)

// KindOf returns the kind of the first *Error in err's chain, or "" if there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}

	return ""
}

// IsValidation reports whether err is one of the four order validation failures.
func IsValidation(err error) bool {
	switch KindOf(err) {
	case KindNegativeAmount, KindNegativeAdjustedAmount, KindFutureBookedDate, KindOrderDeleted:
		return true
	default:
		return false
	}
}
