package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/GolangDeveloperAlmir/order-billing/internal/platform/log"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Message is one outbox row ready to be published.
type Message struct {
	Key   string
	Type  string
	Value []byte
}

type Publisher interface {
	Publish(ctx context.Context, msg Message) error
}

// Envelope is the JSON document published for every outbox row.
type Envelope struct {
	ID            uuid.UUID       `json:"id"`
	Type          string          `json:"type"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	Payload       json.RawMessage `json:"payload"`
	CreatedAt     time.Time       `json:"created_at"`
}

var (
	published = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "outbox_events_total", Help: "published outbox events",
	}, []string{"event"})
	publishErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "outbox_publish_errors_total", Help: "outbox publish errors",
	})
	oldestAge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "outbox_oldest_age_seconds", Help: "oldest unpublished event age",
	})
)

type Options struct {
	Interval time.Duration
	Batch    int
}

type Relay struct {
	pool   *pgxpool.Pool
	pub    Publisher
	opts   Options
	logger *log.Logger
}

func New(pool *pgxpool.Pool, pub Publisher, opts Options, logger *log.Logger) *Relay {
	if opts.Interval <= 0 {
		opts.Interval = time.Second
	}
	if opts.Batch <= 0 {
		opts.Batch = 100
	}
	if logger == nil {
		logger = log.NewNop()
	}

	return &Relay{pool: pool, pub: pub, opts: opts, logger: logger}
}

func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.opts.Interval)
	defer ticker.Stop()

	r.logger.Info("outbox relay started", log.Any("interval", r.opts.Interval), log.Int("batch", r.opts.Batch))
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := r.drain(ctx); err != nil && ctx.Err() == nil {
				r.logger.Error("outbox drain error", log.Err(err))
			}
		}
	}
}

func encode(env Envelope) (Message, error) {
	b, err := json.Marshal(env)
	if err != nil {
		return Message{}, fmt.Errorf("marshal envelope %s: %w", env.ID, err)
	}

	return Message{Key: env.AggregateID, Type: env.Type, Value: b}, nil
}

// retryDelay backs off exponentially per failure, capped at one minute.
func retryDelay(failCount int) time.Duration {
	if failCount >= 6 {
		return time.Minute
	}

	return time.Duration(1<<failCount) * time.Second
}

func (r *Relay) drain(ctx context.Context) error {
	var oldest time.Time
	if err := r.pool.QueryRow(ctx,
		`SELECT COALESCE(MIN(created_at), now()) FROM outbox WHERE published_at IS NULL`).Scan(&oldest); err == nil {
		oldestAge.Set(time.Since(oldest).Seconds())
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if committed {
			return
		}
		if err := tx.Rollback(ctx); err != nil {
			r.logger.Error("failed to rollback tx", log.Err(err))
		}
	}()

	rows, err := tx.Query(ctx, `
		SELECT id, event_id, event_type, aggregate_type, aggregate_id, payload, created_at, fail_count
		FROM outbox
		WHERE published_at IS NULL AND available_at <= now()
		ORDER BY id
		LIMIT $1
		FOR UPDATE SKIP LOCKED`, r.opts.Batch)
	if err != nil {
		return fmt.Errorf("list outbox: %w", err)
	}

	type picked struct {
		id        int64
		failCount int
		msg       Message
	}
	var batch []picked

	for rows.Next() {
		var (
			id        int64
			env       Envelope
			payload   []byte
			failCount int
		)
		if err := rows.Scan(&id, &env.ID, &env.Type, &env.AggregateType, &env.AggregateID, &payload, &env.CreatedAt, &failCount); err != nil {
			rows.Close()
			return fmt.Errorf("scan outbox: %w", err)
		}
		env.Payload = payload
		env.CreatedAt = env.CreatedAt.UTC()
		msg, err := encode(env)
		if err != nil {
			rows.Close()
			return err
		}
		batch = append(batch, picked{id: id, failCount: failCount, msg: msg})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("list outbox: %w", err)
	}

	for _, m := range batch {
		if pubErr := r.pub.Publish(ctx, m.msg); pubErr != nil {
			publishErrors.Inc()
			r.logger.Warn("failed to publish outbox event",
				log.Int64("outbox_id", m.id), log.Str("event", m.msg.Type), log.Err(pubErr))
			if _, err := tx.Exec(ctx, `UPDATE outbox
				SET fail_count = fail_count + 1,
				    last_error = $2,
				    available_at = now() + make_interval(secs => $3)
				WHERE id = $1`, m.id, pubErr.Error(), retryDelay(m.failCount).Seconds()); err != nil {
				return fmt.Errorf("mark outbox failure: %w", err)
			}
			continue
		}
		published.WithLabelValues(m.msg.Type).Inc()
		if _, err := tx.Exec(ctx, `UPDATE outbox SET published_at = now() WHERE id=$1`, m.id); err != nil {
			return fmt.Errorf("mark outbox published: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit outbox: %w", err)
	}
	committed = true
	if len(batch) > 0 {
		r.logger.Debug("outbox batch relayed", log.Int("count", len(batch)))
	}

	return nil
}
