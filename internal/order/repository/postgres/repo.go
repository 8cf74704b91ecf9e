package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/GolangDeveloperAlmir/order-billing/internal/order/domain"
	"github.com/GolangDeveloperAlmir/order-billing/internal/platform/log"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrInvalidCursor = errors.New("invalid cursor")

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Repo struct {
	pool *pgxpool.Pool
	log  *log.Logger
}

func New(pool *pgxpool.Pool, logger *log.Logger) *Repo {
	if logger == nil {
		logger = log.NewNop()
	}

	return &Repo{pool: pool, log: logger}
}

func (r *Repo) CreateInTx(ctx context.Context, tx pgx.Tx, o *domain.Order) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO orders (id, amount, client_id, client_name, booked_date, created_date, currency_iso_code, is_deleted)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		o.ID, o.Amount, o.ClientID, o.ClientName, o.BookedDate, o.CreatedDate, o.CurrencyISOCode, o.IsDeleted)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return domain.ErrOrderExists
	}
	if err != nil {
		r.log.Error("failed to insert order", log.Int64("order_id", o.ID), log.Err(err))
		return fmt.Errorf("insert order: %w", err)
	}

	for _, a := range o.Adjustments {
		if _, err := tx.Exec(ctx, `
			INSERT INTO adjustments (order_id, id, amount, created_date) VALUES ($1,$2,$3,$4)`,
			o.ID, a.ID, a.Amount, a.CreatedDate); err != nil {
			r.log.Error("failed to insert adjustment", log.Int64("order_id", o.ID), log.Err(err))
			return fmt.Errorf("insert adjustment: %w", err)
		}
	}
	for _, inv := range o.Invoices {
		if _, err := tx.Exec(ctx, `
			INSERT INTO invoices (order_id, invoice_id, amount, created_date) VALUES ($1,$2,$3,$4)`,
			o.ID, inv.ID, inv.Amount, inv.CreatedDate); err != nil {
			r.log.Error("failed to insert invoice", log.Int64("order_id", o.ID), log.Err(err))
			return fmt.Errorf("insert invoice: %w", err)
		}
	}
	for _, p := range o.Payments {
		if err := r.AddPaymentInTx(ctx, tx, o.ID, p); err != nil {
			return err
		}
	}

	return nil
}

// LockInTx takes a row lock on the order for the rest of the transaction.
func (r *Repo) LockInTx(ctx context.Context, tx pgx.Tx, id int64) error {
	var got int64
	err := tx.QueryRow(ctx, `SELECT id FROM orders WHERE id=$1 FOR UPDATE`, id).Scan(&got)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrOrderNotFound
	}
	if err != nil {
		r.log.Error("failed to lock order", log.Int64("order_id", id), log.Err(err))
		return fmt.Errorf("lock order: %w", err)
	}

	return nil
}

func (r *Repo) Get(ctx context.Context, id int64) (*domain.Order, error) {
	return r.get(ctx, r.pool, id)
}

func (r *Repo) GetInTx(ctx context.Context, tx pgx.Tx, id int64) (*domain.Order, error) {
	return r.get(ctx, tx, id)
}

const orderColumns = `id, amount, client_id, client_name, booked_date, created_date, currency_iso_code, is_deleted`

func scanOrder(row pgx.Row) (*domain.Order, error) {
	var o domain.Order
	if err := row.Scan(&o.ID, &o.Amount, &o.ClientID, &o.ClientName, &o.BookedDate, &o.CreatedDate, &o.CurrencyISOCode, &o.IsDeleted); err != nil {
		return nil, err
	}
	o.BookedDate = o.BookedDate.UTC()
	o.CreatedDate = o.CreatedDate.UTC()

	return &o, nil
}

func (r *Repo) get(ctx context.Context, q querier, id int64) (*domain.Order, error) {
	o, err := scanOrder(q.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrOrderNotFound
	}
	if err != nil {
		r.log.Error("failed to get order", log.Int64("order_id", id), log.Err(err))
		return nil, fmt.Errorf("get order: %w", err)
	}
	if err := r.loadChildren(ctx, q, []*domain.Order{o}); err != nil {
		return nil, err
	}

	return o, nil
}

// loadChildren fills adjustments, invoices and payments for all orders with one query each.
func (r *Repo) loadChildren(ctx context.Context, q querier, orders []*domain.Order) error {
	if len(orders) == 0 {
		return nil
	}
	byID := make(map[int64]*domain.Order, len(orders))
	ids := make([]int64, 0, len(orders))
	for _, o := range orders {
		byID[o.ID] = o
		ids = append(ids, o.ID)
	}

	rows, err := q.Query(ctx, `
		SELECT order_id, id, amount, created_date FROM adjustments
		WHERE order_id = ANY($1) ORDER BY order_id, id`, ids)
	if err != nil {
		r.log.Error("failed to list adjustments", log.Err(err))
		return fmt.Errorf("list adjustments: %w", err)
	}
	for rows.Next() {
		var orderID int64
		var a domain.Adjustment
		if err := rows.Scan(&orderID, &a.ID, &a.Amount, &a.CreatedDate); err != nil {
			rows.Close()
			return fmt.Errorf("scan adjustment: %w", err)
		}
		a.CreatedDate = a.CreatedDate.UTC()
		a.OrderID = domain.ID(orderID)
		byID[orderID].Adjustments = append(byID[orderID].Adjustments, a)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("list adjustments: %w", err)
	}

	rows, err = q.Query(ctx, `
		SELECT order_id, invoice_id, amount, created_date FROM invoices
		WHERE order_id = ANY($1) ORDER BY order_id, row_id`, ids)
	if err != nil {
		r.log.Error("failed to list invoices", log.Err(err))
		return fmt.Errorf("list invoices: %w", err)
	}
	for rows.Next() {
		var orderID int64
		var inv domain.Invoice
		if err := rows.Scan(&orderID, &inv.ID, &inv.Amount, &inv.CreatedDate); err != nil {
			rows.Close()
			return fmt.Errorf("scan invoice: %w", err)
		}
		inv.CreatedDate = inv.CreatedDate.UTC()
		inv.OrderID = domain.ID(orderID)
		byID[orderID].Invoices = append(byID[orderID].Invoices, inv)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("list invoices: %w", err)
	}

	rows, err = q.Query(ctx, `
		SELECT order_id, id, invoice_id, amount, created_date FROM payments
		WHERE order_id = ANY($1) ORDER BY order_id, created_date, id`, ids)
	if err != nil {
		r.log.Error("failed to list payments", log.Err(err))
		return fmt.Errorf("list payments: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		p, orderID, err := scanPayment(rows)
		if err != nil {
			return fmt.Errorf("scan payment: %w", err)
		}
		byID[orderID].Payments = append(byID[orderID].Payments, p)
	}

	return rows.Err()
}

func scanPayment(row pgx.Row) (domain.Payment, int64, error) {
	var orderID int64
	var p domain.Payment
	if err := row.Scan(&orderID, &p.ID, &p.InvoiceID, &p.Amount, &p.CreatedDate); err != nil {
		return domain.Payment{}, 0, err
	}
	p.CreatedDate = p.CreatedDate.UTC()
	p.OrderID = domain.ID(orderID)

	return p, orderID, nil
}

type Page struct {
	Orders []*domain.Order `json:"orders"`
	Next   string          `json:"next,omitempty"`
}

// List pages through orders by (created_date, id). The cursor is opaque to callers.
func (r *Repo) List(ctx context.Context, limit int, cursor string) (*Page, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	var (
		rows pgx.Rows
		err  error
	)
	if cursor == "" {
		rows, err = r.pool.Query(ctx, `
			SELECT `+orderColumns+` FROM orders
			ORDER BY created_date, id
			LIMIT $1`, limit+1)
	} else {
		ts, id, perr := DecodeCursor(cursor)
		if perr != nil {
			return nil, perr
		}
		rows, err = r.pool.Query(ctx, `
			SELECT `+orderColumns+` FROM orders
			WHERE (created_date, id) > ($1, $2)
			ORDER BY created_date, id
			LIMIT $3`, ts, id, limit+1)
	}
	if err != nil {
		r.log.Error("failed to list orders", log.Err(err))
		return nil, fmt.Errorf("list orders: %w", err)
	}

	var page Page
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			rows.Close()
			r.log.Error("failed to scan order", log.Err(err))
			return nil, fmt.Errorf("scan order: %w", err)
		}
		page.Orders = append(page.Orders, o)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		r.log.Error("failed to list orders", log.Err(err))
		return nil, fmt.Errorf("list orders: %w", err)
	}

	if len(page.Orders) > limit {
		last := page.Orders[limit-1]
		page.Orders = page.Orders[:limit]
		page.Next = EncodeCursor(last.CreatedDate, last.ID)
	}
	if err := r.loadChildren(ctx, r.pool, page.Orders); err != nil {
		return nil, err
	}

	return &page, nil
}

func EncodeCursor(ts time.Time, id int64) string {
	return ts.UTC().Format(time.RFC3339Nano) + "|" + strconv.FormatInt(id, 10)
}

func DecodeCursor(cursor string) (time.Time, int64, error) {
	tsStr, idStr, ok := strings.Cut(cursor, "|")
	if !ok {
		return time.Time{}, 0, ErrInvalidCursor
	}
	ts, err := time.Parse(time.RFC3339Nano, tsStr)
	if err != nil {
		return time.Time{}, 0, ErrInvalidCursor
	}
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		return time.Time{}, 0, ErrInvalidCursor
	}

	return ts, id, nil
}

func (r *Repo) AddPaymentInTx(ctx context.Context, tx pgx.Tx, orderID int64, p domain.Payment) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO payments (id, order_id, invoice_id, amount, created_date) VALUES ($1,$2,$3,$4,$5)`,
		p.ID, orderID, p.InvoiceID, p.Amount, p.CreatedDate)
	if err != nil {
		r.log.Error("failed to insert payment", log.Int64("order_id", orderID), log.Int64("payment_id", p.ID), log.Err(err))
		return fmt.Errorf("insert payment: %w", err)
	}

	return nil
}

func (r *Repo) GetPayment(ctx context.Context, orderID, paymentID int64) (domain.Payment, error) {
	p, _, err := scanPayment(r.pool.QueryRow(ctx, `
		SELECT order_id, id, invoice_id, amount, created_date FROM payments
		WHERE order_id=$1 AND id=$2`, orderID, paymentID))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Payment{}, domain.ErrPaymentNotFound
	}
	if err != nil {
		r.log.Error("failed to get payment", log.Int64("payment_id", paymentID), log.Err(err))
		return domain.Payment{}, fmt.Errorf("get payment: %w", err)
	}

	return p, nil
}

func (r *Repo) AddRefundInTx(ctx context.Context, tx pgx.Tx, paymentID int64, rf domain.Refund) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO refunds (id, order_id, payment_id, amount, created_date) VALUES ($1,$2,$3,$4,$5)`,
		rf.ID, rf.OrderID, paymentID, rf.Amount, rf.CreatedDate)
	if err != nil {
		r.log.Error("failed to insert refund", log.Int64("payment_id", paymentID), log.Err(err))
		return fmt.Errorf("insert refund: %w", err)
	}

	return nil
}

func (r *Repo) MarkDeletedInTx(ctx context.Context, tx pgx.Tx, id int64) error {
	ct, err := tx.Exec(ctx, `UPDATE orders SET is_deleted=TRUE WHERE id=$1`, id)
	if err != nil {
		r.log.Error("failed to delete order", log.Int64("order_id", id), log.Err(err))
		return fmt.Errorf("delete order: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return domain.ErrOrderNotFound
	}

	return nil
}

func (r *Repo) AddOutboxInTx(ctx context.Context, tx pgx.Tx, aggregateID int64, eventType string, payload any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		r.log.Error("failed to marshal payload", log.Err(err))
		return fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO outbox (event_id, aggregate_type, aggregate_id, event_type, payload)
		VALUES ($1,'order',$2,$3,$4)`,
		uuid.New(), strconv.FormatInt(aggregateID, 10), eventType, b)
	if err != nil {
		r.log.Error("failed to insert outbox", log.Str("event", eventType), log.Err(err))
		return fmt.Errorf("insert outbox: %w", err)
	}

	return nil
}
