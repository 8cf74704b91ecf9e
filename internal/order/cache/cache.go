// Package cache keeps loaded order aggregates in a byte cache as JSON.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/GolangDeveloperAlmir/order-billing/internal/order/domain"
	platformcache "github.com/GolangDeveloperAlmir/order-billing/internal/platform/cache"
)

const (
	keyPrefix  = "order:"
	defaultTTL = 5 * time.Minute
)

type Orders struct {
	cache platformcache.Cache
	ttl   time.Duration
}

func New(c platformcache.Cache, ttl time.Duration) *Orders {
	if ttl <= 0 {
		ttl = defaultTTL
	}

	return &Orders{cache: c, ttl: ttl}
}

func Key(id int64) string {
	return keyPrefix + strconv.FormatInt(id, 10)
}

// Get returns platformcache.ErrCacheMiss when the order is not cached.
func (o *Orders) Get(ctx context.Context, id int64) (*domain.Order, error) {
	b, err := o.cache.Get(ctx, Key(id))
	if err != nil {
		return nil, err
	}
	var ord domain.Order
	if err := json.Unmarshal(b, &ord); err != nil {
		_ = o.cache.Delete(ctx, Key(id))
		return nil, fmt.Errorf("decode cached order %d: %w", id, err)
	}

	return &ord, nil
}

func (o *Orders) Put(ctx context.Context, ord *domain.Order) error {
	b, err := json.Marshal(ord)
	if err != nil {
		return fmt.Errorf("encode order %d: %w", ord.ID, err)
	}

	return o.cache.Set(ctx, Key(ord.ID), b, o.ttl)
}

func (o *Orders) Invalidate(ctx context.Context, id int64) error {
	return o.cache.Delete(ctx, Key(id))
}
