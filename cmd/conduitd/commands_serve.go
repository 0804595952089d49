package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/mdcslabs/conduit/internal/auth"
	"github.com/mdcslabs/conduit/internal/cancel"
	"github.com/mdcslabs/conduit/internal/config"
	"github.com/mdcslabs/conduit/internal/gateway"
	"github.com/mdcslabs/conduit/internal/pipeline"
	"github.com/mdcslabs/conduit/internal/plugins"
	"github.com/mdcslabs/conduit/internal/sandbox"
	"github.com/mdcslabs/conduit/internal/store"
)

func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the conduitd gateway server",
		Long: `Start the conduitd gateway server.

The server will:
1. Load configuration from the specified file (or $CONDUIT_CONFIG).
2. Open the State Store (Postgres/CockroachDB when CONDUIT_DATABASE_URL
   is set, an in-memory store otherwise).
3. Wire the Script Sandbox, Plugin Registry, and Pipeline Orchestrator.
4. Serve the WebSocket chat endpoint and REST connection endpoints.
5. Run a periodic cancellation-registry sweep (when cron.enabled is set).

Graceful shutdown is handled on SIGINT/SIGTERM.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if configPath == "" {
				configPath = defaultConfigPath()
			}
			return runServe(cmd.Context(), configPath, debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file (default $CONDUIT_CONFIG or conduit.yaml)")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	return cmd
}

func runServe(ctx context.Context, configPath string, debug bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("conduitd: load config: %w", err)
	}

	level := slog.LevelInfo
	if debug || cfg.Logging.Level == "debug" {
		level = slog.LevelDebug
	}
	var handler slog.Handler
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}
	logger := slog.New(handler)
	logger.Info("starting conduitd", "version", version, "commit", commit, "config", configPath)

	db, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("conduitd: open store: %w", err)
	}
	if closer, ok := db.(interface{ Close() error }); ok {
		defer closer.Close()
	}

	allowed := make(map[string]bool, len(cfg.Sandbox.AllowedPackages))
	sandboxCfg := sandbox.DefaultConfig()
	for _, pkg := range cfg.Sandbox.AllowedPackages {
		allowed[pkg] = true
	}
	if len(allowed) > 0 {
		sandboxCfg.AllowedPackages = allowed
	}
	if cfg.Sandbox.Timeout > 0 {
		sandboxCfg.Timeout = cfg.Sandbox.Timeout
	}
	sb := sandbox.New(sandboxCfg)

	registry := plugins.NewRegistry(plugins.RegisterBuiltins)
	executor := pipeline.NewExecutor(sb, registry, db)

	sessions := cancel.NewRegistry(cfg.Session.MaxConcurrent)
	bridge := gateway.NewProviderBridge()
	orch := pipeline.NewOrchestrator(sessions, db, db, executor, bridge, logger)

	var bearer *auth.Bearer
	if cfg.Auth.JWTSecret != "" {
		bearer = auth.NewBearer(cfg.Auth.JWTSecret)
	}

	gw := gateway.NewServer(orch, sessions, bearer, logger)

	mux := http.NewServeMux()
	gw.Routes(mux)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.HTTPPort)
	httpServer := &http.Server{Addr: addr, Handler: mux}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.MetricsPort)
	metricsServer := &http.Server{Addr: metricsAddr, Handler: metricsMux}

	sched := cron.New()
	if cfg.Cron.Enabled {
		if _, err := sched.AddFunc(everySpec(cfg.Session.SweepInterval), func() {
			n := sessions.CleanupFinished()
			if n > 0 {
				logger.Info("swept finished sessions", "count", n)
			}
		}); err != nil {
			return fmt.Errorf("conduitd: schedule session sweep: %w", err)
		}
		sched.Start()
		defer sched.Stop()
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 2)
	go func() {
		logger.Info("serving", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
			return
		}
		errCh <- nil
	}()
	go func() {
		logger.Info("serving metrics", "addr", metricsAddr)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("metrics server: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	_ = httpServer.Shutdown(shutdownCtx)
	_ = metricsServer.Shutdown(shutdownCtx)
	sessions.CancelAll()
	return nil
}

// openStore returns a Postgres-backed State Store when
// CONDUIT_DATABASE_URL is set, an in-memory one otherwise — the latter
// is a legitimate deployment mode for single-process/local use, not
// just a test double (spec.md §4.10 never mandates a durable backend).
func openStore(cfg *config.Config) (gatewayStore, error) {
	if dsn := cfg.DatabaseDSN(); dsn != "" {
		pgCfg := store.DefaultConfig()
		return store.NewPostgresStoreFromDSN(dsn, &pgCfg)
	}
	return store.NewMemoryStore(), nil
}

// gatewayStore is the aggregate of every store-shaped interface the
// orchestrator, executor, and plugin registry each need — both
// store.MemoryStore and store.PostgresStore satisfy it structurally
// without declaring so.
type gatewayStore interface {
	pipeline.PersonaStore
	pipeline.ModuleStore
	pipeline.StateStore
	plugins.DBSession
}

// everySpec turns a Go duration into a robfig/cron "@every" spec.
func everySpec(d time.Duration) string {
	if d <= 0 {
		d = time.Minute
	}
	return "@every " + d.String()
}
