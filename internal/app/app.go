package app

import (
	"context"
	"fmt"
	httpstd "net/http"
	pprof "net/http/pprof"

	"github.com/GolangDeveloperAlmir/order-billing/internal/config"
	ordercache "github.com/GolangDeveloperAlmir/order-billing/internal/order/cache"
	"github.com/GolangDeveloperAlmir/order-billing/internal/order/repository/postgres"
	"github.com/GolangDeveloperAlmir/order-billing/internal/order/service"
	http "github.com/GolangDeveloperAlmir/order-billing/internal/order/transport/http"
	"github.com/GolangDeveloperAlmir/order-billing/internal/platform/auth"
	"github.com/GolangDeveloperAlmir/order-billing/internal/platform/cache"
	"github.com/GolangDeveloperAlmir/order-billing/internal/platform/clock"
	"github.com/GolangDeveloperAlmir/order-billing/internal/platform/db"
	server "github.com/GolangDeveloperAlmir/order-billing/internal/platform/http"
	"github.com/GolangDeveloperAlmir/order-billing/internal/platform/idempotency"
	"github.com/GolangDeveloperAlmir/order-billing/internal/platform/idgen"
	"github.com/GolangDeveloperAlmir/order-billing/internal/platform/kafka"
	"github.com/GolangDeveloperAlmir/order-billing/internal/platform/log"
	"github.com/GolangDeveloperAlmir/order-billing/internal/platform/observability"
	"github.com/GolangDeveloperAlmir/order-billing/internal/platform/outbox"
	"github.com/GolangDeveloperAlmir/order-billing/migrations"
	"golang.org/x/sync/errgroup"
)

const serviceName = "order-billing"

func Run(ctx context.Context, cfg *config.Config, logger *log.Logger) error {
	shutdownTracer, err := observability.InitTracing(ctx, observability.TracingConfig{
		ServiceName:  serviceName,
		Env:          cfg.AppEnv,
		OTLPEndpoint: cfg.OTLPEndpoint,
		Stdout:       cfg.TracingStdout,
	}, logger)
	if err != nil {
		return fmt.Errorf("tracing init: %w", err)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			logger.Error("failed to shutdown tracer", log.Err(err))
		}
	}()

	pool, err := db.NewPostgresPool(ctx, cfg.DatabaseURL, db.DefaultPoolOptions())
	if err != nil {
		return fmt.Errorf("db connect: %w", err)
	}
	defer pool.Close()

	if err := migrations.Apply(ctx, pool); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	clk := clock.NewSystem()
	ids, err := idgen.NewSnowflake(cfg.NodeID, clk)
	if err != nil {
		return fmt.Errorf("id generator: %w", err)
	}

	var opts []service.Option
	if cfg.RedisAddr != "" {
		rc, err := cache.NewRedisCache(ctx, cache.RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			logger.Warn("order cache disabled", log.Str("addr", cfg.RedisAddr), log.Err(err))
		} else {
			defer func() {
				if err := rc.Close(); err != nil {
					logger.Error("failed to close redis", log.Err(err))
				}
			}()
			opts = append(opts, service.WithCache(ordercache.New(rc, cfg.CacheTTL)))
		}
	}

	tx := db.NewTxManager(pool, logger.Named("tx"))
	orderRepo := postgres.New(pool, logger.Named("repo"))
	orderSvc := service.New(orderRepo, tx, clk, ids, logger.Named("service"), opts...)

	idem := idempotency.NewStore(pool, logger.Named("idempotency"))

	prod := kafka.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopicOrders, logger.Named("kafka"))
	defer func() {
		if err := prod.Close(); err != nil {
			logger.Error("failed to close kafka producer", log.Err(err))
		}
	}()
	relay := outbox.New(pool, prod, outbox.Options{
		Interval: cfg.OutboxInterval,
		Batch:    cfg.OutboxBatch,
	}, logger.Named("outbox"))

	routerOpts := []http.RouterOpt{
		http.WithReadiness(pool.Ping),
		http.WithRateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst),
	}
	if cfg.AuthEnabled {
		oidcMW, err := auth.NewOIDC(ctx, auth.OIDCConfig{
			Issuer:        cfg.OIDCIssuer,
			Audiences:     cfg.Audiences(),
			RequiredScope: cfg.OIDCRequiredScope,
			Logger:        logger.Named("auth"),
		})
		if err != nil {
			return fmt.Errorf("oidc init: %w", err)
		}
		routerOpts = append(routerOpts, http.WithAuth(oidcMW.Middleware))
	}

	api := http.NewHandler(orderSvc, logger.Named("http"), idem)
	router := http.NewRouter(api, logger, routerOpts...)

	srv := server.New(router, server.Options{
		Addr:         cfg.HTTPAddr,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
		TLSCert:      cfg.TLSCertFile,
		TLSKey:       cfg.TLSKeyFile,
	}, logger)
	debugSrv := server.New(debugMux(), server.Options{
		Addr:        cfg.DebugAddr,
		ReadTimeout: cfg.ReadTimeout,
		IdleTimeout: cfg.IdleTimeout,
		TLSCert:     cfg.TLSCertFile,
		TLSKey:      cfg.TLSKeyFile,
	}, logger.Named("debug"))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return relay.Run(ctx) })
	g.Go(func() error { return debugSrv.Run(ctx) })
	g.Go(func() error { return srv.Run(ctx) })

	return g.Wait()
}

func debugMux() httpstd.Handler {
	mux := httpstd.NewServeMux()
	mux.Handle("/metrics", observability.Handler())
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	return mux
}
