package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/GolangDeveloperAlmir/order-billing/internal/order/domain"
	"github.com/GolangDeveloperAlmir/order-billing/internal/order/repository/postgres"
	ordersvc "github.com/GolangDeveloperAlmir/order-billing/internal/order/service"
)

const (
	CodeInvalidInput    = "invalid_input"
	CodeInvalidID       = "invalid_id"
	CodeInvalidCursor   = "invalid_cursor"
	CodeOrderNotFound   = "order_not_found"
	CodePaymentNotFound = "payment_not_found"
	CodeOrderExists     = "order_exists"
	CodeTimeout         = "timeout"
	CodeInternal        = "internal"
)

// statusOf maps service errors to an HTTP status and a stable error code.
func statusOf(err error) (int, string, string) {
	if k := domain.KindOf(err); k != "" {
		switch k {
		case domain.KindInvoiceNotFound:
			return http.StatusNotFound, string(k), err.Error()
		case domain.KindMissingOrderReference:
			return http.StatusConflict, string(k), err.Error()
		default:
			return http.StatusUnprocessableEntity, string(k), err.Error()
		}
	}

	switch {
	case errors.Is(err, ordersvc.ErrInvalidInput):
		return http.StatusBadRequest, CodeInvalidInput, err.Error()
	case errors.Is(err, postgres.ErrInvalidCursor):
		return http.StatusBadRequest, CodeInvalidCursor, err.Error()
	case errors.Is(err, domain.ErrOrderNotFound):
		return http.StatusNotFound, CodeOrderNotFound, err.Error()
	case errors.Is(err, domain.ErrPaymentNotFound):
		return http.StatusNotFound, CodePaymentNotFound, err.Error()
	case errors.Is(err, domain.ErrOrderExists):
		return http.StatusConflict, CodeOrderExists, err.Error()
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, CodeTimeout, "request timed out"
	default:
		return http.StatusInternalServerError, CodeInternal, "internal error"
	}
}
