// Command medhash serves the abstract-to-proof pipeline: fetch a
// medical abstract, generate audience summaries, commit a hash of the
// chosen summary to a ledger, and verify prior commitments.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/medhash-labs/medhash/pkg/api"
	"github.com/medhash-labs/medhash/pkg/commitment"
	"github.com/medhash-labs/medhash/pkg/config"
	"github.com/medhash-labs/medhash/pkg/document"
	"github.com/medhash-labs/medhash/pkg/ledger"
	"github.com/medhash-labs/medhash/pkg/observability"
	"github.com/medhash-labs/medhash/pkg/proof"
	"github.com/medhash-labs/medhash/pkg/ratelimit"
	"github.com/medhash-labs/medhash/pkg/resiliency"
	"github.com/medhash-labs/medhash/pkg/summary"
	"github.com/medhash-labs/medhash/pkg/validate"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	obs, err := observability.New(ctx, observability.Config{
		Enabled:      cfg.Telemetry.Enabled,
		ServiceName:  cfg.Telemetry.ServiceName,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		Insecure:     cfg.Telemetry.Insecure,
	})
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := obs.Shutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown", "error", err)
		}
	}()

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer func() { _ = redisClient.Close() }()
		logger.Info("redis enabled", "addr", cfg.Redis.Addr)
	}

	retryPolicy := resiliency.RetryPolicy{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseDelay:   cfg.Retry.BaseDelay,
		MaxDelay:    cfg.Retry.MaxDelay,
	}

	var limiterStore ratelimit.Store
	if redisClient != nil {
		limiterStore = ratelimit.NewRedisStore(redisClient)
	} else {
		limiterStore = ratelimit.NewMemoryStore()
	}
	limiter := ratelimit.New(limiterStore, cfg.RateLimit.Limit, cfg.RateLimit.Window)

	var docCache document.Cache
	if redisClient != nil {
		docCache = document.NewRedisCache(redisClient, cfg.Redis.DocCacheTTL, logger)
	}
	retriever := document.NewRetriever(
		cfg.PubMed.BaseURL, cfg.PubMed.UserAgent, cfg.PubMed.Timeout,
		limiter, retryPolicy, docCache, logger,
	)

	generators := []summary.Generator{
		summary.NewChatGenerator("primary", cfg.Summary.PrimaryURL, cfg.Summary.PrimaryAPIKey, cfg.Summary.PrimaryModel),
	}
	if cfg.Summary.FallbackURL != "" {
		generators = append(generators,
			summary.NewChatGenerator("fallback", cfg.Summary.FallbackURL, cfg.Summary.FallbackAPIKey, cfg.Summary.FallbackModel))
	}
	orchestrator := summary.NewOrchestrator(generators, cfg.Summary.Audiences, cfg.Summary.Timeout, logger)

	backend, cleanup, err := openLedger(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	breaker := resiliency.NewCircuitBreaker("ledger", resiliency.BreakerPolicy{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		Window:           cfg.Breaker.Window,
		Cooldown:         cfg.Breaker.Cooldown,
	})
	ledgerClient := ledger.NewClient(backend, breaker, retryPolicy, logger)

	hasher := commitment.Hasher{}
	if cfg.HashKey != "" {
		hasher.Key = []byte(cfg.HashKey)
	}

	coordinator := proof.NewCoordinator(
		validate.New(),
		retriever,
		orchestrator,
		hasher,
		ledgerClient,
		cfg.Summary.DefaultAudience,
		cfg.Ledger.ExplorerTemplate,
		obs,
		logger,
	)

	server := api.NewServer(coordinator, breaker, logger)
	handler := server.Routes(
		api.NewGlobalRateLimiter(20, 40),
		api.NewIdempotencyStore(10*time.Minute),
	)

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", httpServer.Addr, "ledger", cfg.Ledger.Driver)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

// openLedger builds the configured ledger backend and returns it with a
// cleanup function for any held resources.
func openLedger(ctx context.Context, cfg *config.Config, logger *slog.Logger) (ledger.Ledger, func(), error) {
	noop := func() {}
	switch cfg.Ledger.Driver {
	case "sqlite", "postgres":
		dialect := ledger.DialectSQLite
		if cfg.Ledger.Driver == "postgres" {
			dialect = ledger.DialectPostgres
		}
		db, err := ledger.Open(dialect, cfg.Ledger.DSN)
		if err != nil {
			return nil, noop, fmt.Errorf("open ledger database: %w", err)
		}
		store := ledger.NewSQLStore(db, dialect, logger)
		initCtx, cancel := context.WithTimeout(ctx, cfg.Ledger.Timeout)
		defer cancel()
		if err := store.Init(initCtx); err != nil {
			_ = db.Close()
			return nil, noop, fmt.Errorf("init ledger schema: %w", err)
		}
		return store, func() { _ = db.Close() }, nil
	case "remote":
		return ledger.NewRemoteLedger(cfg.Ledger.RemoteURL, cfg.Ledger.Timeout), noop, nil
	default:
		return nil, noop, fmt.Errorf("unknown ledger driver %q", cfg.Ledger.Driver)
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		lvl = slog.LevelDebug
	case "WARN":
		lvl = slog.LevelWarn
	case "ERROR":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
