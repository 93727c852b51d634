// Package main is the entry point for the work-session API server.
// It wires all dependencies together and starts the HTTP server.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/MikeGii/vomm-sub003/internal/catalog"
	"github.com/MikeGii/vomm-sub003/internal/config"
	"github.com/MikeGii/vomm-sub003/internal/idempotency"
	"github.com/MikeGii/vomm-sub003/internal/observability"
	"github.com/MikeGii/vomm-sub003/internal/player"
	"github.com/MikeGii/vomm-sub003/internal/transport"
	"github.com/MikeGii/vomm-sub003/internal/work"
)

// Build-time variables set via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.commit=abc1234"
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return 1
	}

	observability.Version = version
	observability.Commit = commit

	logger, err := observability.NewLogger(cfg.Observability)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		return 1
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	tracingShutdown, err := observability.InitTracing(ctx, cfg.Observability.Tracing, "vomm-work-api", version)
	if err != nil {
		logger.Error("tracing initialization failed", zap.Error(err))
		return 1
	}

	metrics := observability.InitMetrics(prometheus.DefaultRegisterer)

	// Load the activity and event catalogs. The server refuses to start
	// without at least one activity definition.
	cat, err := catalog.Load(cfg.Catalog.Directories)
	if err != nil {
		logger.Error("catalog loading failed", zap.Error(err))
		return 1
	}
	activities, events := cat.Len()
	metrics.SetCatalogLoaded(activities, events)
	logger.Info("catalog loaded",
		zap.Int("activities", activities),
		zap.Int("events", events),
	)

	// Session, player and history persistence.
	stores, storeCloser, err := buildStores(ctx, cfg.Store, logger)
	if err != nil {
		logger.Error("store initialization failed", zap.Error(err))
		return 1
	}

	// Idempotency replay cache for mutating endpoints.
	idemStore, idemCloser := buildIdempotencyStore(cfg.Idempotency, logger)

	engine := work.NewEngine(work.EngineConfig{
		Sessions: stores.sessions,
		Events:   stores.events,
		Players:  stores.players,
		History:  stores.history,
		Catalog:  cat,
		Injector: work.NewInjector(cat, cfg.Work.EventChance, nil),
		Logger:   logger,
		Metrics:  metrics,
		Options: work.Options{
			EventChance:         cfg.Work.EventChance,
			AcceleratedDuration: cfg.Work.AcceleratedDuration,
			MinHealth:           cfg.Work.MinHealth,
			WorkingTrainingCap:  cfg.Work.WorkingTrainingCap,
			RestingTrainingCap:  cfg.Work.RestingTrainingCap,
			GraceWindow:         cfg.Recovery.GraceWindow,
		},
	})

	jwks := transport.NewJWKSClient(cfg.Identity.JWKSURL, cfg.Identity.JWKSCacheTTL, logger)

	readinessChecks := observability.ReadinessChecks{
		CatalogLoaded: func() bool {
			n, _ := cat.Len()
			return n > 0
		},
	}
	if hc, ok := stores.sessions.(observability.HealthChecker); ok {
		readinessChecks.SessionStore = hc
	}
	if hc, ok := idemStore.(observability.HealthChecker); ok {
		readinessChecks.IdempotencyStore = hc
	}

	router := transport.NewRouter(transport.Dependencies{
		Config:       cfg,
		Logger:       logger,
		Engine:       engine,
		Metrics:      metrics,
		Idempotency:  idemStore,
		Ready:        readinessChecks,
		Authenticate: transport.JWTAuthenticator(cfg.Identity, jwks),
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Recovery sweeper: finalizes due, orphaned, and overstayed sessions
	// whose owners never polled.
	bgCtx, bgCancel := context.WithCancel(ctx)
	defer bgCancel()
	go engine.RunSweeper(bgCtx, cfg.Recovery.SweepInterval)

	logger.Info("server started",
		zap.Int("port", cfg.Server.Port),
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("store", cfg.Store.Driver),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown initiated")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		return 1
	}

	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout == 0 {
		shutdownTimeout = 30 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	// Stop accepting new connections and drain in-flight requests.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	// Cancel the sweeper, then close stores.
	bgCancel()
	if idemCloser != nil {
		idemCloser()
	}
	if storeCloser != nil {
		storeCloser()
	}

	if err := tracingShutdown(shutdownCtx); err != nil {
		logger.Error("tracing shutdown error", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return 0
}

// storeSet groups the persistence collaborators the engine needs.
type storeSet struct {
	sessions work.SessionStore
	events   work.PendingEventStore
	players  player.Store
	history  work.HistorySink
}

// buildStores creates the session, event, player, and history stores based
// on config. The returned closer releases the connection pool, if any.
func buildStores(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (storeSet, func(), error) {
	switch cfg.Driver {
	case "memory":
		logger.Info("using in-memory stores")
		return storeSet{
			sessions: work.NewMemorySessionStore(),
			events:   work.NewMemoryEventStore(),
			players:  player.NewMemoryStore(),
			history:  work.NewMemoryHistory(),
		}, nil, nil
	case "postgres", "":
		dsn := os.Getenv(cfg.DSNEnv)
		if dsn == "" {
			return storeSet{}, nil, fmt.Errorf("store: %s environment variable not set", cfg.DSNEnv)
		}

		poolCfg, err := pgxpool.ParseConfig(dsn)
		if err != nil {
			return storeSet{}, nil, fmt.Errorf("store: parse DSN: %w", err)
		}
		poolCfg.MaxConns = int32(cfg.MaxConns)
		poolCfg.MinConns = int32(cfg.MinConns)
		poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime

		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return storeSet{}, nil, fmt.Errorf("store: connect: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return storeSet{}, nil, fmt.Errorf("store: ping: %w", err)
		}

		return storeSet{
			sessions: work.NewPgSessionStore(pool),
			events:   work.NewPgEventStore(pool),
			players:  player.NewPgStore(pool),
			history:  work.NewPgHistory(pool),
		}, pool.Close, nil
	default:
		return storeSet{}, nil, fmt.Errorf("unsupported store driver: %q", cfg.Driver)
	}
}

// buildIdempotencyStore creates the idempotency store based on config.
// Returns nil when the feature is disabled.
func buildIdempotencyStore(cfg config.IdempotencyConfig, logger *zap.Logger) (idempotency.Store, func()) {
	if !cfg.Enabled {
		return nil, nil
	}

	switch cfg.Store.Driver {
	case "redis":
		addr := os.Getenv(cfg.Store.AddrEnv)
		if addr == "" {
			logger.Warn("redis address not configured, using in-memory idempotency store")
			return idempotency.NewMemoryStore(), nil
		}
		client := redis.NewClient(&redis.Options{
			Addr: addr,
			DB:   cfg.Store.DB,
		})
		logger.Info("using redis idempotency store", zap.String("addr", addr))
		return idempotency.NewRedisStore(client), func() { client.Close() }
	default:
		logger.Info("using in-memory idempotency store")
		return idempotency.NewMemoryStore(), nil
	}
}
