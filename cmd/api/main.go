package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	supabasego "github.com/supabase-community/supabase-go"
	"go.uber.org/zap"

	"quire/api/internal/app"
	"quire/api/internal/config"
	"quire/api/internal/identity"
	"quire/api/internal/logging"
	"quire/api/internal/metrics"
	"quire/api/internal/search"
	"quire/api/internal/session"
	"quire/api/internal/store"
	"quire/api/internal/supabase"
	"quire/api/internal/tracing"
)

func main() {
	if err := newRootCommand().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "quire-api",
		Short:         "Quire document API",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context())
		},
	}
	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context())
		},
	})
	root.AddCommand(newMigrateCommand())
	return root
}

func newMigrateCommand() *cobra.Command {
	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the Postgres schema",
	}
	migrateCmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDatabase(cmd.Context(), func(db *sql.DB) error {
				if err := store.MigrateUp(db); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
				return nil
			})
		},
	})
	migrateCmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show the schema version",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDatabase(cmd.Context(), func(db *sql.DB) error {
				state, err := store.MigrationStatus(db)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "current=%d latest=%d pending=%d dirty=%t\n",
					state.Current, state.Latest, state.Pending(), state.Dirty)
				return nil
			})
		},
	})
	return migrateCmd
}

func withDatabase(ctx context.Context, fn func(*sql.DB) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	return fn(db)
}

func openDatabase(ctx context.Context, cfg config.Config) (*sql.DB, error) {
	ctx, cancel := context.WithTimeout(ctx, cfg.BackendTimeout)
	defer cancel()
	opts := store.DefaultPoolOptions()
	if cfg.DBMaxOpenConns > 0 {
		opts.MaxOpen = cfg.DBMaxOpenConns
	}
	return store.Open(ctx, cfg.DatabaseURL, opts)
}

// sessionBackend is what the service and the local identity provider need
// from the session store.
type sessionBackend interface {
	app.CaptureStore
	identity.Revocations
	Close() error
}

func serve(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	shutdownTracing, err := tracing.Init(ctx, tracing.Config{
		ServiceName: cfg.ServiceName,
		Environment: cfg.Environment,
		Endpoint:    cfg.OTLPEndpoint,
		SampleRate:  cfg.TraceSampleRate,
	})
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn("trace exporter shutdown", zap.Error(err))
		}
	}()

	var collector *metrics.Collector
	if cfg.MetricsEnabled {
		collector = metrics.NewCollector("quire")
	}

	var sessions sessionBackend
	if strings.TrimSpace(cfg.RedisURL) != "" {
		logger.Info("using redis for edit sessions and token revocation")
		redisStore, err := session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("redis connection failed: %w", err)
		}
		sessions = redisStore
	} else {
		logger.Info("using in-process edit sessions; capture throttling is per instance")
		sessions = session.NewMemoryStore()
	}
	defer sessions.Close()

	dataStore, provider, closeBackend, err := openBackend(ctx, cfg, sessions, logger, collector)
	if err != nil {
		return err
	}
	defer closeBackend()

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, logger)

	service := app.New(cfg, dataStore, sessions, provider,
		app.WithLogger(logger),
		app.WithMetrics(collector),
		app.WithSearch(searchService),
	)
	go func() {
		reindexCtx, cancel := context.WithTimeout(context.Background(), cfg.BackendTimeout)
		defer cancel()
		service.Reindex(reindexCtx)
	}()

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin, logger, collector)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("quire api listening", zap.String("addr", cfg.Addr), zap.String("backend", cfg.Backend))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serverErr:
		return fmt.Errorf("server failed: %w", err)
	case sig := <-sigCh:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown error", zap.Error(err))
	}
	return nil
}

// openBackend builds the persistence backend and the identity provider that
// goes with it.
func openBackend(ctx context.Context, cfg config.Config, sessions sessionBackend, logger *zap.Logger, collector *metrics.Collector) (store.Store, identity.Provider, func(), error) {
	switch cfg.Backend {
	case config.BackendMemory:
		logger.Warn("using the in-memory backend; data is lost on restart")
		mem := store.NewMemoryStore()
		return mem, identity.NewLocal(mem, sessions, cfg.JWTSecret, cfg.AccessTTL, logger), func() {}, nil

	case config.BackendPostgres:
		db, err := openDatabase(ctx, cfg)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("database connection failed: %w", err)
		}
		if err := store.MigrateUp(db); err != nil {
			_ = db.Close()
			return nil, nil, nil, fmt.Errorf("migrations failed: %w", err)
		}
		pg := store.NewPostgresStore(db)
		closeDB := func() {
			if err := db.Close(); err != nil {
				logger.Warn("close database", zap.Error(err))
			}
		}
		return pg, identity.NewLocal(pg, sessions, cfg.JWTSecret, cfg.AccessTTL, logger), closeDB, nil

	case config.BackendSupabase:
		client, err := supabasego.NewClient(cfg.SupabaseURL, cfg.SupabaseServiceKey, nil)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("supabase client: %w", err)
		}
		backend := supabase.New(client, supabase.DefaultBreakerConfig("supabase"), logger, collector)
		provider := identity.NewSupabase(client.Auth, cfg.SupabaseJWTSecret, logger)
		return backend, provider, func() {}, nil
	}
	return nil, nil, nil, fmt.Errorf("unknown backend %q", cfg.Backend)
}
