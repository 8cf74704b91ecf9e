//go:build integration

package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/GolangDeveloperAlmir/order-billing/internal/order/domain"
	pgrepo "github.com/GolangDeveloperAlmir/order-billing/internal/order/repository/postgres"
	"github.com/GolangDeveloperAlmir/order-billing/internal/platform/log"
	"github.com/GolangDeveloperAlmir/order-billing/migrations"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func withDB(t *testing.T, fn func(ctx context.Context, pool *pgxpool.Pool)) {
	t.Helper()
	ctx := context.Background()

	pg, err := postgres.Run(ctx, "postgres:16",
		postgres.WithDatabase("orders"),
		postgres.WithUsername("app"),
		postgres.WithPassword("app"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err, "container")
	t.Cleanup(func() { _ = pg.Terminate(ctx) })

	dsn, err := pg.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err, "dsn")

	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err, "pgxpool")
	defer pool.Close()

	require.NoError(t, migrations.Apply(ctx, pool))
	// second run is a no-op
	require.NoError(t, migrations.Apply(ctx, pool))

	fn(ctx, pool)
}

func newOrder(id int64, created time.Time) *domain.Order {
	return &domain.Order{
		ID:              id,
		Amount:          decimal.NewFromInt(100),
		ClientID:        200,
		ClientName:      "Bob's FoodMart",
		BookedDate:      time.Date(2019, 1, 12, 0, 0, 0, 0, time.UTC),
		CreatedDate:     created,
		CurrencyISOCode: "USD",
		Adjustments: []domain.Adjustment{
			{ID: 1, Amount: decimal.NewFromInt(-20), CreatedDate: created},
		},
		Invoices: []domain.Invoice{
			{ID: domain.ID(1), Amount: decimal.NewFromInt(10), CreatedDate: created},
			{Amount: decimal.NewFromInt(5), CreatedDate: created},
		},
	}
}

func TestRepo_Create_Get_List_Pay_Refund_Outbox(t *testing.T) {
	withDB(t, func(ctx context.Context, pool *pgxpool.Pool) {
		r := pgrepo.New(pool, log.NewNop())
		created := time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC)

		tx, err := pool.Begin(ctx)
		require.NoError(t, err)
		for i := int64(1); i <= 3; i++ {
			o := newOrder(123455+i, created.Add(time.Duration(i)*time.Hour))
			require.NoError(t, r.CreateInTx(ctx, tx, o))
			require.NoError(t, r.AddOutboxInTx(ctx, tx, o.ID, "order.created", o))
		}
		require.NoError(t, tx.Commit(ctx))

		got, err := r.Get(ctx, 123456)
		require.NoError(t, err)
		assert.True(t, got.Amount.Equal(decimal.NewFromInt(100)))
		assert.True(t, got.TotalAdjustments().Equal(decimal.NewFromInt(-20)))
		require.Len(t, got.Invoices, 2)
		require.NotNil(t, got.Invoices[0].ID)
		assert.Equal(t, int64(1), *got.Invoices[0].ID)
		assert.Nil(t, got.Invoices[1].ID)
		assert.Empty(t, got.Payments)

		_, err = r.Get(ctx, 1)
		assert.ErrorIs(t, err, domain.ErrOrderNotFound)

		page, err := r.List(ctx, 2, "")
		require.NoError(t, err)
		require.Len(t, page.Orders, 2)
		assert.NotEmpty(t, page.Next)
		assert.Len(t, page.Orders[0].Adjustments, 1)

		rest, err := r.List(ctx, 2, page.Next)
		require.NoError(t, err)
		require.Len(t, rest.Orders, 1)
		assert.Equal(t, int64(123458), rest.Orders[0].ID)
		assert.Empty(t, rest.Next)

		tx2, err := pool.Begin(ctx)
		require.NoError(t, err)
		require.NoError(t, r.LockInTx(ctx, tx2, 123456))
		p := domain.Payment{ID: 9001, Amount: decimal.NewFromInt(10), InvoiceID: 1, CreatedDate: created, OrderID: domain.ID(123456)}
		require.NoError(t, r.AddPaymentInTx(ctx, tx2, 123456, p))
		require.NoError(t, r.AddRefundInTx(ctx, tx2, p.ID, domain.Refund{ID: 9002, Amount: p.Amount, OrderID: 123456, CreatedDate: created}))
		require.NoError(t, r.MarkDeletedInTx(ctx, tx2, 123457))
		assert.ErrorIs(t, r.MarkDeletedInTx(ctx, tx2, 1), domain.ErrOrderNotFound)
		require.NoError(t, tx2.Commit(ctx))

		stored, err := r.GetPayment(ctx, 123456, 9001)
		require.NoError(t, err)
		assert.True(t, stored.Amount.Equal(p.Amount))
		_, err = r.GetPayment(ctx, 123457, 9001)
		assert.ErrorIs(t, err, domain.ErrPaymentNotFound)

		got, err = r.Get(ctx, 123456)
		require.NoError(t, err)
		assert.Len(t, got.Payments, 1)

		deleted, err := r.Get(ctx, 123457)
		require.NoError(t, err)
		assert.True(t, deleted.IsDeleted)

		var cnt int
		require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox`).Scan(&cnt))
		assert.Equal(t, 3, cnt)
	})
}

func TestRepo_AmountsRoundTrip(t *testing.T) {
	withDB(t, func(ctx context.Context, pool *pgxpool.Pool) {
		r := pgrepo.New(pool, log.NewNop())
		created := time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC)

		o := newOrder(42, created)
		o.Amount = decimal.RequireFromString("80.0000")
		o.Adjustments[0].Amount = decimal.RequireFromString("-80.0001")
		o.Invoices[1].Amount = decimal.RequireFromString("0.0004")

		tx, err := pool.Begin(ctx)
		require.NoError(t, err)
		require.NoError(t, r.CreateInTx(ctx, tx, o))
		require.NoError(t, tx.Commit(ctx))

		got, err := r.Get(ctx, 42)
		require.NoError(t, err)
		assert.True(t, o.Amount.Equal(got.Amount), "amount %s", got.Amount)
		assert.True(t, o.TotalAdjustments().Equal(got.TotalAdjustments()), "adjustments %s", got.TotalAdjustments())
		require.Len(t, got.Invoices, 2)
		assert.True(t, o.Invoices[1].Amount.Equal(got.Invoices[1].Amount), "invoice %s", got.Invoices[1].Amount)
		assert.True(t, got.PayableAmount().IsNegative())

		// a fifth decimal place is what the column rounds away
		var rounded string
		require.NoError(t, pool.QueryRow(ctx, `SELECT $1::text::numeric(19, 4)::text`, "0.00004").Scan(&rounded))
		assert.Equal(t, "0.0000", rounded)
	})
}
