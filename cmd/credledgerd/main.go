package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"credledger/internal/config"
	"credledger/internal/domain"
	"credledger/internal/infra/blockdb"
	"credledger/internal/infra/crypto"
	"credledger/internal/infra/db"
	"credledger/internal/infra/filestore"
	httpinfra "credledger/internal/infra/http"
	"credledger/internal/infra/keys/soft"
	"credledger/internal/infra/policyopa"
	"credledger/internal/infra/ratelimit"
	"credledger/internal/usecase"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		log.Fatalf("server exited: %v", err)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	deps := usecase.LedgerDeps{
		Crypto: crypto.NewService(),
		Keys:   soft.NewManager(nil),
	}
	if cfg.IssuancePolicyPath != "" {
		engine, err := policyopa.NewEngine(ctx, cfg.IssuancePolicyPath, "issuance")
		if err != nil {
			return fmt.Errorf("load issuance policy: %w", err)
		}
		logger.Info("issuance policy loaded", "path", cfg.IssuancePolicyPath, "bundle_hash", engine.BundleHash())
		deps.Policy = engine
	}
	ledger, err := usecase.NewLedger(deps)
	if err != nil {
		return err
	}

	snapshots, closeSnapshots, err := openSnapshotStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeSnapshots()
	if snapshots != nil {
		if err := restore(ctx, ledger, snapshots, logger); err != nil {
			return err
		}
	}

	var journal usecase.BlockJournal
	if cfg.BlockJournalDSN != "" {
		store, err := blockdb.NewStore(cfg)
		if err != nil {
			return err
		}
		defer store.Close()
		if err := store.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("block journal schema: %w", err)
		}
		j := blockdb.NewJournal(store.Pool)
		written, err := j.Sync(ctx, ledger.Blocks())
		if err != nil {
			return fmt.Errorf("sync block journal: %w", err)
		}
		if written > 0 {
			logger.Info("block journal synced", "blocks_written", written)
		}
		journal = j
	}

	limiter, closeLimiter, err := openRateLimiter(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeLimiter()

	srv, err := httpinfra.NewServer(cfg, httpinfra.ServerDeps{
		Ledger:      ledger,
		Snapshots:   snapshots,
		Journal:     journal,
		RateLimiter: limiter,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.HTTPAddr, "storage", cfg.StorageBackend, "chain_length", ledger.ChainLength())
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		logger.Info("shutting down")
		return httpServer.Shutdown(shutdownCtx)
	}
}

func openSnapshotStore(ctx context.Context, cfg config.Config) (usecase.SnapshotStore, func(), error) {
	noop := func() {}
	switch cfg.StorageBackend {
	case config.StorageFile:
		store := filestore.NewStore(cfg.DataDir)
		if err := store.Init(ctx, false); err != nil && !errors.Is(err, filestore.ErrAlreadyInitialized) {
			return nil, noop, fmt.Errorf("init data dir: %w", err)
		}
		return store, noop, nil
	case config.StoragePostgres:
		store, err := db.NewStore(cfg)
		if err != nil {
			return nil, noop, err
		}
		if err := store.Migrate(ctx); err != nil {
			_ = store.Close()
			return nil, noop, fmt.Errorf("migrate: %w", err)
		}
		return db.NewSnapshotRepository(store.DB), func() { _ = store.Close() }, nil
	default:
		return nil, noop, nil
	}
}

// restore loads the last snapshot and refuses to serve a chain that does not
// validate.
func restore(ctx context.Context, ledger *usecase.Ledger, store usecase.SnapshotStore, logger *slog.Logger) error {
	snap, err := store.Load(ctx)
	if errors.Is(err, domain.ErrNotFound) {
		logger.Info("no snapshot found; starting with an empty ledger")
		return nil
	}
	if err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}
	if err := ledger.Restore(ctx, snap); err != nil {
		return fmt.Errorf("restore snapshot: %w", err)
	}
	if err := ledger.Validate(); err != nil {
		return fmt.Errorf("restored chain is invalid: %w", err)
	}
	logger.Info("ledger restored",
		"issuers", len(snap.Issuers),
		"credentials", len(snap.Credentials),
		"blocks", ledger.ChainLength(),
		"head", ledger.Head().Hex(),
	)
	return nil
}

func openRateLimiter(ctx context.Context, cfg config.Config, logger *slog.Logger) (domain.RateLimiter, func(), error) {
	noop := func() {}
	if cfg.RateLimitRequests <= 0 {
		return nil, noop, nil
	}
	if cfg.RedisAddr != "" {
		limiter, err := ratelimit.NewRedisLimiter(ratelimit.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			return nil, noop, err
		}
		if err := limiter.Ping(ctx); err != nil {
			logger.Warn("redis unreachable; limiter errors follow RATE_LIMIT_FAIL_CLOSED", "addr", cfg.RedisAddr, "error", err)
		}
		return limiter, func() { _ = limiter.Close() }, nil
	}
	return ratelimit.NewMemoryLimiter(ratelimit.MemoryConfig{MaxKeys: cfg.RateLimitMaxKeys}), noop, nil
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
