package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	cfhttp "github.com/dereadi/thermal-memory/internal/adapter/http"
	cfmcp "github.com/dereadi/thermal-memory/internal/adapter/mcp"
	cfnats "github.com/dereadi/thermal-memory/internal/adapter/nats"
	"github.com/dereadi/thermal-memory/internal/adapter/natskv"
	cfotel "github.com/dereadi/thermal-memory/internal/adapter/otel"
	"github.com/dereadi/thermal-memory/internal/adapter/postgres"
	"github.com/dereadi/thermal-memory/internal/adapter/ristretto"
	"github.com/dereadi/thermal-memory/internal/adapter/tiered"
	"github.com/dereadi/thermal-memory/internal/adapter/ws"
	"github.com/dereadi/thermal-memory/internal/config"
	"github.com/dereadi/thermal-memory/internal/domain/memory"
	"github.com/dereadi/thermal-memory/internal/logger"
	"github.com/dereadi/thermal-memory/internal/middleware"
	"github.com/dereadi/thermal-memory/internal/resilience"
	"github.com/dereadi/thermal-memory/internal/secrets"
	"github.com/dereadi/thermal-memory/internal/service"
)

// version is set at build time via -ldflags.
var version = "dev"

const mcpKeyName = "mcp_api_key"

func main() {
	if len(os.Args) > 1 && os.Args[1] == "admin" {
		if err := runAdmin(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := run(os.Args[1:]); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	flags, err := config.ParseFlags(args)
	if err != nil {
		return err
	}
	cfg, cfgPath, err := config.LoadWithCLI(flags)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, logCloser := logger.New(cfg.Logging)
	defer logCloser.Close()
	slog.SetDefault(log.With("triad", cfg.Federation.Triad))

	slog.Info("config loaded",
		"file", cfgPath,
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"pg_max_conns", cfg.Postgres.MaxConns,
		"version", version,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Observability ---

	providers, err := cfotel.Init(ctx, cfg.OTel, cfg.Federation.Triad)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer shutdownWithTimeout("otel", providers.Shutdown)

	metrics, err := cfotel.NewMetrics()
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	// --- Infrastructure ---

	// PostgreSQL
	if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	slog.Info("migrations applied")

	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	conns := postgres.NewConnManager(pool, cfg.Postgres)
	defer conns.Close()
	slog.Info("postgres connected")

	// NATS
	queue, err := cfnats.Connect(ctx, cfg.NATS, cfg.Federation.Triad)
	if err != nil {
		return fmt.Errorf("nats: %w", err)
	}
	defer func() {
		if err := queue.Drain(); err != nil {
			slog.Warn("nats drain", "error", err)
		}
	}()

	// Record cache: ristretto L1 in front of a shared NATS KV L2.
	l1, err := ristretto.New(cfg.Cache.L1MaxSizeMB)
	if err != nil {
		return fmt.Errorf("l1 cache: %w", err)
	}
	defer l1.Close()
	kv, err := natskv.EnsureBucket(ctx, queue.JetStream(), cfg.Cache.L2Bucket, cfg.Cache.L2TTL)
	if err != nil {
		return fmt.Errorf("l2 cache: %w", err)
	}
	recordCache := tiered.New(l1, natskv.New(kv), cfg.Cache.L1TTL)

	// --- Services ---

	hub := ws.NewHub(originPatterns(cfg.Server.CORSOrigin)...)
	defer hub.Close()

	policy := memory.ThermalPolicy{
		HalfLife:       cfg.Thermal.HalfLife,
		BoostPerAccess: cfg.Thermal.BoostPerAccess,
		BoostWindow:    cfg.Thermal.BoostWindow,
		BoostDiminish:  cfg.Thermal.BoostDiminish,
	}
	store := postgres.NewStore(conns)
	thermalSvc := service.NewThermalService(store, policy, metrics)
	thermalSvc.SetCache(recordCache, cfg.Cache.L2TTL)

	breaker := resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout)
	breaker.OnStateChange(func(from, to resilience.State) {
		slog.Warn("federation breaker state changed", "from", string(from), "to", string(to))
	})
	federator := service.NewFederator(queue, hub, breaker, cfg.Federation, metrics)
	federator.Start()
	defer federator.Stop()
	thermalSvc.SetFederator(federator)

	if cfg.Federation.Subscribe {
		cancelPeers, err := federator.Subscribe(ctx, thermalSvc.HandlePeerEvent)
		if err != nil {
			return fmt.Errorf("federation subscriber: %w", err)
		}
		defer cancelPeers()
	}

	sweeper := service.NewSweeper(store, thermalSvc, cfg.Thermal.SweepInterval, cfg.Thermal.SweepBatch, cfg.Thermal.SweepConcurrency, metrics)
	sweeper.Start(ctx)
	defer sweeper.Stop()

	// --- HTTP ---

	limiter := middleware.NewRateLimiter(cfg.Rate.RequestsPerSecond, cfg.Rate.Burst)
	stopCleanup := limiter.StartCleanup(cfg.Rate.CleanupInterval, cfg.Rate.MaxIdleTime)
	defer stopCleanup()

	handlers := &cfhttp.Handlers{
		Thermal:   thermalSvc,
		Queue:     queue,
		PoolStats: func() any { return conns.Stats() },
	}
	router := cfhttp.NewRouter(cfg, cfhttp.RouterDeps{
		Handlers: handlers,
		Limiter:  limiter,
		WS:       hub.HandleWS,
	})

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// --- MCP ---

	var mcpServer *cfmcp.Server
	if cfg.MCP.Enabled {
		vault, err := secrets.NewVault(secrets.Chain(
			secrets.Static(map[string]string{mcpKeyName: cfg.MCP.APIKey}),
			secrets.FileLoader(mcpKeyName, cfg.MCP.APIKeyFile),
		))
		if err != nil {
			return fmt.Errorf("mcp api key: %w", err)
		}
		stopReload := vault.ReloadOnSignal(ctx, syscall.SIGHUP)
		defer stopReload()

		mcpServer = cfmcp.NewServer(cfmcp.ServerConfig{
			Addr:         cfg.MCP.Addr,
			Name:         "thermal-memory",
			Version:      version,
			APIKey:       vault.Getter(mcpKeyName),
			DefaultTriad: cfg.Federation.Triad,
		}, thermalSvc)
		if err := mcpServer.Start(); err != nil {
			return err
		}
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	}
	slog.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if mcpServer != nil {
		if err := mcpServer.Stop(shutdownCtx); err != nil {
			slog.Warn("mcp shutdown", "error", err)
		}
	}
	return srv.Shutdown(shutdownCtx)
}

// originPatterns turns the CORS origin into the host pattern the WebSocket
// handshake accepts in addition to same-origin requests.
func originPatterns(origin string) []string {
	if origin == "" {
		return nil
	}
	if origin == "*" {
		return []string{"*"}
	}
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return nil
	}
	return []string{u.Host}
}

func shutdownWithTimeout(name string, fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := fn(ctx); err != nil {
		slog.Warn("shutdown failed", "component", name, "error", err)
	}
}
