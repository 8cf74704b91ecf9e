package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Order struct {
	ID              int64           `json:"id"`
	Amount          decimal.Decimal `json:"amount"`
	ClientID        int64           `json:"client_id"`
	ClientName      string          `json:"client_name"`
	BookedDate      time.Time       `json:"booked_date"`
	CreatedDate     time.Time       `json:"created_date"`
	CurrencyISOCode string          `json:"currency_iso_code"`
	IsDeleted       bool            `json:"is_deleted"`
	Adjustments     []Adjustment    `json:"adjustments"`
	Invoices        []Invoice       `json:"invoices"`
	Payments        []Payment       `json:"payments"`
}

// Adjustment is a credit (negative) or debit (positive) applied to an order.
type Adjustment struct {
	ID          int64           `json:"id"`
	Amount      decimal.Decimal `json:"amount"`
	CreatedDate time.Time       `json:"created_date"`
	OrderID     *int64          `json:"order_id,omitempty"`
}

type Invoice struct {
	ID          *int64          `json:"id,omitempty"`
	Amount      decimal.Decimal `json:"amount"`
	CreatedDate time.Time       `json:"created_date"`
	OrderID     *int64          `json:"order_id,omitempty"`
}

type Payment struct {
	ID          int64           `json:"id"`
	Amount      decimal.Decimal `json:"amount"`
	CreatedDate time.Time       `json:"created_date"`
	InvoiceID   int64           `json:"invoice_id"`
	OrderID     *int64          `json:"order_id,omitempty"`
}

type Refund struct {
	ID          int64           `json:"id"`
	Amount      decimal.Decimal `json:"amount"`
	CreatedDate time.Time       `json:"created_date"`
	OrderID     int64           `json:"order_id"`
}

func (o *Order) TotalAdjustments() decimal.Decimal {
	total := decimal.Zero
	for _, a := range o.Adjustments {
		total = total.Add(a.Amount)
	}

	return total
}

func (o *Order) TotalPayments() decimal.Decimal {
	total := decimal.Zero
	for _, p := range o.Payments {
		total = total.Add(p.Amount)
	}

	return total
}

// PayableAmount is Amount plus all adjustments.
func (o *Order) PayableAmount() decimal.Decimal {
	return o.Amount.Add(o.TotalAdjustments())
}

// FindInvoice returns the first invoice carrying id. Invoices without an id never match.
func (o *Order) FindInvoice(id int64) (Invoice, bool) {
	for _, inv := range o.Invoices {
		if inv.ID != nil && *inv.ID == id {
			return inv, true
		}
	}

	return Invoice{}, false
}

// ID returns a pointer to v, for filling optional identifiers.
func ID(v int64) *int64 {
	return &v
}
