package idempotency

import (
	"context"
	"errors"
	"fmt"

	"github.com/GolangDeveloperAlmir/order-billing/internal/platform/log"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type Querier interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...any) pgx.Row
}

// Store remembers which resource a keyed write produced, for 24h.
type Store struct {
	q   Querier
	log *log.Logger
}

func NewStore(q Querier, logger *log.Logger) *Store {
	if logger == nil {
		logger = log.NewNop()
	}

	return &Store{q: q, log: logger}
}

// Save is first-writer-wins: an existing (key, route) row is left as is.
func (s *Store) Save(ctx context.Context, key, route string, orderID, resourceID int64, status int) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO idempotency_keys (key, route, order_id, resource_id, status_code)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (key, route) DO NOTHING`, key, route, orderID, resourceID, status)
	if err != nil {
		s.log.Error("failed to save idempotency key", log.Str("route", route), log.Err(err))
		return fmt.Errorf("save idempotency key: %w", err)
	}

	return nil
}

type Result struct {
	OrderID    int64
	ResourceID int64
	Status     int
	Found      bool
}

func (s *Store) Get(ctx context.Context, key, route string) (*Result, error) {
	var r Result
	err := s.q.QueryRow(ctx, `
		SELECT order_id, resource_id, status_code FROM idempotency_keys
		WHERE key=$1 AND route=$2 AND ttl_at > now()`, key, route).Scan(&r.OrderID, &r.ResourceID, &r.Status)
	if errors.Is(err, pgx.ErrNoRows) {
		return &Result{}, nil
	}
	if err != nil {
		s.log.Error("failed to get idempotency key", log.Str("route", route), log.Err(err))
		return nil, fmt.Errorf("get idempotency key: %w", err)
	}
	r.Found = true

	return &r, nil
}
