package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"

	"github.com/gridsplit/gridsplit/pkg/api"
	"github.com/gridsplit/gridsplit/pkg/archive"
	"github.com/gridsplit/gridsplit/pkg/audit"
	"github.com/gridsplit/gridsplit/pkg/auth"
	"github.com/gridsplit/gridsplit/pkg/config"
	"github.com/gridsplit/gridsplit/pkg/observability"
	"github.com/gridsplit/gridsplit/pkg/reconcile"
	"github.com/gridsplit/gridsplit/pkg/service"
	"github.com/gridsplit/gridsplit/pkg/store"

	_ "github.com/lib/pq"  // Postgres driver
	_ "modernc.org/sqlite" // embedded SQLite driver
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the entrypoint, split out for testing.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		return runServer(stderr)
	}
	switch args[1] {
	case "server", "serve":
		return runServer(stderr)
	case "health":
		return runHealth(stdout, stderr)
	case "version":
		_, _ = fmt.Fprintln(stdout, "gridsplit 1.0.0")
		return 0
	default:
		_, _ = fmt.Fprintf(stderr, "Unknown command: %s\nUsage: gridsplit [server|health|version]\n", args[1])
		return 2
	}
}

func runHealth(stdout, stderr io.Writer) int {
	cfg := config.Load()
	resp, err := http.Get("http://localhost:" + cfg.Port + "/health")
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "unreachable: %v\n", err)
		return 1
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		_, _ = fmt.Fprintf(stderr, "unhealthy: status %d\n", resp.StatusCode)
		return 1
	}
	_, _ = fmt.Fprintln(stdout, "ok")
	return 0
}

func openStore(cfg *config.Config) (store.Store, error) {
	switch cfg.StoreBackend {
	case "memory":
		return store.NewMemoryStore(), nil
	case "postgres":
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		return store.NewSQLStore(db, store.DialectPostgres), nil
	case "sqlite":
		db, err := sql.Open("sqlite", cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		// SQLite serializes writers; a single connection avoids
		// SQLITE_BUSY under concurrent transactions.
		db.SetMaxOpenConns(1)
		return store.NewSQLStore(db, store.DialectSQLite), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}

func buildArchiver(ctx context.Context, profile *config.LedgerProfile) (audit.Archiver, error) {
	return archive.New(ctx, archive.Config{
		Backend:  profile.Archive.Backend,
		Dir:      profile.Archive.Dir,
		Bucket:   profile.Archive.Bucket,
		Region:   profile.Archive.Region,
		Endpoint: profile.Archive.Endpoint,
		Prefix:   profile.Archive.Prefix,
	})
}

func runServer(stderr io.Writer) int {
	cfg := config.Load()

	level := slog.LevelInfo
	if cfg.LogLevel == "DEBUG" {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	profile := config.DefaultProfile()
	if cfg.ProfilePath != "" {
		loaded, err := config.LoadProfile(cfg.ProfilePath)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "profile load failed: %v\n", err)
			return 1
		}
		profile = loaded
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	obs, err := observability.Init(ctx, &observability.Config{
		ServiceName:    "gridsplit-ledger",
		ServiceVersion: "1.0.0",
		Environment:    profile.Name,
		OTLPEndpoint:   profile.Telemetry.OTLPEndpoint,
		SampleRate:     profile.Telemetry.SampleRate,
		Enabled:        profile.Telemetry.Enabled,
	})
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "observability init failed: %v\n", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = obs.Shutdown(shutdownCtx)
	}()

	st, err := openStore(cfg)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "store setup failed: %v\n", err)
		return 1
	}
	baseline, err := decimal.NewFromString(cfg.BaselineReading)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "invalid BASELINE_READING: %v\n", err)
		return 1
	}
	if err := st.Init(ctx, baseline); err != nil {
		_, _ = fmt.Fprintf(stderr, "store init failed: %v\n", err)
		return 1
	}

	chain := audit.NewChain()
	chain.AddHandler(func(e audit.Event) {
		obs.RecordAuditEvent(context.Background(), string(e.Action))
		if e.Override {
			obs.RecordOverride(context.Background(), string(e.Action))
		}
		logger.Debug("audit event appended",
			"sequence", e.Sequence, "action", e.Action,
			"entity_type", e.EntityType, "entity_id", e.EntityID)
	})

	archiver, err := buildArchiver(ctx, profile)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "archive setup failed: %v\n", err)
		return 1
	}

	svc := service.New(st, chain,
		service.WithLogger(logger),
		service.WithAdvisor(reconcile.Advisor{
			Lookback:   profile.Advisory.Lookback(),
			HighFactor: decimal.NewFromFloat(profile.Advisory.HighFactor),
			LowFactor:  decimal.NewFromFloat(profile.Advisory.LowFactor),
			MinSamples: profile.Advisory.MinSamples,
		}))

	srv, err := api.NewServer(svc)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "api setup failed: %v\n", err)
		return 1
	}
	srv.WithAuditChain(chain, archiver)

	var idempotency api.IdempotencyStorer
	if cfg.RedisAddr != "" {
		idempotency = api.NewRedisIdempotencyStore(cfg.RedisAddr, 24*time.Hour)
	} else {
		memStore := api.NewIdempotencyStore(24 * time.Hour)
		defer memStore.Close()
		idempotency = memStore
	}

	handler := auth.RequestIDMiddleware(
		obs.Middleware(
			auth.NewMiddleware(auth.NewJWTValidator([]byte(cfg.JWTSecret)))(
				api.IdempotencyMiddleware(idempotency)(srv.Routes()))))

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	logger.Info("gridsplit ledger listening", "port", cfg.Port, "store", cfg.StoreBackend)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		_, _ = fmt.Fprintf(stderr, "server failed: %v\n", err)
		return 1
	}
	return 0
}
