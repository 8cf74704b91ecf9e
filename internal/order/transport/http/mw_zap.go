package http

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/GolangDeveloperAlmir/order-billing/internal/platform/log"
	"github.com/GolangDeveloperAlmir/order-billing/internal/platform/observability"
	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"go.uber.org/zap"
)

func mwZap(logger *log.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &respWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)

			dur := time.Since(start)
			route := routePattern(r)
			observability.HTTPRequestDuration.
				WithLabelValues(r.Method, route, strconv.Itoa(ww.status)).
				Observe(dur.Seconds())
			logger.Info("http",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("route", route),
				zap.Int("status", ww.status),
				zap.Duration("dur", dur),
				zap.String("req_id", reqIDFromCtx(r.Context())),
			)
		})
	}
}

// routePattern keeps metric cardinality bounded by labelling with the chi pattern, not the raw path.
func routePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}

	return "unmatched"
}

type respWriter struct {
	http.ResponseWriter
	status int
}

func (w *respWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func reqIDFromCtx(ctx context.Context) string {
	if v := ctx.Value(middleware.RequestIDKey); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
