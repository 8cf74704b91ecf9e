package http

import (
	"context"
	stdhttp "net/http"
	"time"

	"github.com/GolangDeveloperAlmir/order-billing/internal/platform/log"
	"github.com/GolangDeveloperAlmir/order-billing/internal/platform/observability"
	"github.com/GolangDeveloperAlmir/order-billing/pkg/respond"
	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"
)

type RouterOpt func(*routerConfig)

type routerConfig struct {
	AuthMW    func(stdhttp.Handler) stdhttp.Handler
	Ready     func(context.Context) error
	RPS       float64
	Burst     int
	NoTracing bool
}

// WithAuth guards every write endpoint with mw.
func WithAuth(mw func(stdhttp.Handler) stdhttp.Handler) RouterOpt {
	return func(c *routerConfig) { c.AuthMW = mw }
}

// WithReadiness makes /readyz report 503 while check fails.
func WithReadiness(check func(context.Context) error) RouterOpt {
	return func(c *routerConfig) { c.Ready = check }
}

func WithRateLimit(rps float64, burst int) RouterOpt {
	return func(c *routerConfig) { c.RPS, c.Burst = rps, burst }
}

func WithoutTracing() RouterOpt {
	return func(c *routerConfig) { c.NoTracing = true }
}

func NewRouter(h *Handler, logger *log.Logger, opts ...RouterOpt) stdhttp.Handler {
	cfg := &routerConfig{RPS: 10, Burst: 20}
	for _, o := range opts {
		o(cfg)
	}
	if logger == nil {
		logger = log.NewNop()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(15 * time.Second))
	r.Use(mwZap(logger))
	r.Use(rateLimit(cfg.RPS, cfg.Burst))

	r.Get("/healthz", func(w stdhttp.ResponseWriter, r *stdhttp.Request) { w.WriteHeader(stdhttp.StatusOK) })
	r.Get("/readyz", func(w stdhttp.ResponseWriter, r *stdhttp.Request) {
		if cfg.Ready != nil {
			ctx, cancel := context.WithTimeout(r.Context(), time.Second)
			defer cancel()
			if err := cfg.Ready(ctx); err != nil {
				logger.Warn("readiness check failed", log.Err(err))
				w.WriteHeader(stdhttp.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(stdhttp.StatusOK)
	})
	r.Handle("/metrics", observability.Handler())

	r.Route("/api/v1/orders", func(r chi.Router) {
		r.Get("/", h.List)
		r.Get("/{id}", h.Get)
		r.Get("/{id}/validation", h.Validate)
		r.Get("/{id}/payments/{paymentID}", h.GetPayment)

		r.Group(func(r chi.Router) {
			if cfg.AuthMW != nil {
				r.Use(cfg.AuthMW)
			}
			r.Post("/", h.Create)
			r.Delete("/{id}", h.Delete)
			r.Post("/{id}/invoices/{invoiceID}/payments", h.PayInvoice)
			r.Post("/{id}/payments/{paymentID}/refunds", h.RefundPayment)
		})
	})

	if cfg.NoTracing {
		return r
	}

	return otelhttp.NewHandler(r, "order-billing",
		otelhttp.WithFilter(func(r *stdhttp.Request) bool {
			return r.URL.Path != "/healthz" && r.URL.Path != "/readyz" && r.URL.Path != "/metrics"
		}),
	)
}

func rateLimit(rps float64, burst int) func(stdhttp.Handler) stdhttp.Handler {
	lim := rate.NewLimiter(rate.Limit(rps), burst)
	return func(next stdhttp.Handler) stdhttp.Handler {
		return stdhttp.HandlerFunc(func(w stdhttp.ResponseWriter, r *stdhttp.Request) {
			if !lim.Allow() {
				respond.Error(w, stdhttp.StatusTooManyRequests, "rate_limited", "too many requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
