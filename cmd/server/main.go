package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/me/orchestra/internal/backend"
	"github.com/me/orchestra/internal/cache"
	"github.com/me/orchestra/internal/config"
	"github.com/me/orchestra/internal/dispatch"
	"github.com/me/orchestra/internal/health"
	"github.com/me/orchestra/internal/history"
	"github.com/me/orchestra/internal/logging"
	"github.com/me/orchestra/internal/metrics"
	"github.com/me/orchestra/internal/registry"
	"github.com/me/orchestra/internal/scheduler"
	"github.com/me/orchestra/internal/selection"
	"github.com/me/orchestra/internal/server"
	"github.com/me/orchestra/internal/store"
)

func main() {
	configFile := flag.String("config", "", "Path to YAML config file")
	envFile := flag.String("env-file", ".env", "Optional dotenv file loaded before config")
	addr := flag.String("addr", "", "Listen address (overrides config)")
	dbPath := flag.String("db", "", "Database path (default ~/.orchestra/orchestra.db)")
	debug := flag.Bool("debug", false, "Shorthand for --log-level=debug")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "load %s: %v\n", *envFile, err)
		os.Exit(1)
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}
	if *debug {
		cfg.Server.LogLevel = "debug"
	}

	logger := logging.NewLogger(logging.ParseLevel(cfg.Server.LogLevel), cfg.Server.LogFormat)

	if err := run(cfg, logger); err != nil {
		logger.Error("orchestra exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	path, err := resolveDBPath(cfg.DBPath)
	if err != nil {
		return err
	}
	st, err := store.NewSQLiteStore(path, logger)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer st.Close()
	if err := st.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}
	logger.Info("database ready", "path", path)

	m := metrics.New()

	reg := registry.New(logger)

	catalog, err := registry.NewCatalog(cfg.Tasks...)
	if err != nil {
		return fmt.Errorf("task catalog: %w", err)
	}

	httpService := backend.NewHTTPService(cfg.Ollama.Timeout, logger)
	var (
		ollama   *backend.Ollama
		provider health.Provider
	)
	if cfg.Ollama.URL != "" {
		ollama = backend.NewOllama(backend.OllamaConfig{URL: cfg.Ollama.URL, Timeout: cfg.Ollama.Timeout}, logger)
		provider = ollama
		logger.Info("ollama provider configured", "url", ollama.URL())
	} else {
		logger.Info("no ollama provider configured; only pinned resources are available")
	}
	router := backend.NewRouter(ollama, httpService)

	monOpts := []health.Option{health.WithMetrics(m), health.WithLocalProber(router)}
	histOpts := []history.Option{history.WithSink(st), history.WithQuerier(st)}
	if cfg.Redis.Addr != "" {
		rc, err := cache.NewStore(ctx, cache.Config{
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			Prefix:    cfg.Redis.Prefix,
			StatusTTL: cfg.Redis.StatusTTL,
			MaxLen:    cfg.Redis.MaxLen,
		}, logger)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		defer rc.Close()
		monOpts = append(monOpts, health.WithStatusSink(rc))
		histOpts = append(histOpts, history.WithSink(rc))
		logger.Info("redis mirror enabled", "addr", cfg.Redis.Addr)
	}

	mon := health.NewMonitor(reg, provider, health.Config{
		ProbeInterval:   cfg.Health.ProbeInterval,
		RefreshInterval: cfg.Health.RefreshInterval,
		ProbeTimeout:    cfg.Health.ProbeTimeout,
	}, logger, monOpts...)
	for _, res := range cfg.Resources {
		if err := mon.AddPinned(res); err != nil {
			return fmt.Errorf("register resource: %w", err)
		}
	}

	engine := selection.NewEngine(reg, mon, cfg.Affinity, logger, selection.WithMetrics(m))
	hist := history.New(cfg.History.Capacity, logger, histOpts...)
	defer hist.Close()
	disp := dispatch.New(engine, router, mon, hist, dispatch.Config{
		MaxConcurrent:  cfg.Dispatch.MaxConcurrent,
		QueueSize:      cfg.Dispatch.QueueSize,
		DefaultTimeout: cfg.Dispatch.DefaultTimeout,
	}, logger, dispatch.WithMetrics(m))
	defer disp.Close()

	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	schedCfg := scheduler.DefaultConfig()
	schedCfg.Location = loc
	sched := scheduler.New(catalog, disp, schedCfg, logger, scheduler.WithStore(st), scheduler.WithMetrics(m))
	if err := sched.Load(ctx); err != nil {
		return fmt.Errorf("load schedules: %w", err)
	}
	if cfg.Scheduler.LoadDefaults {
		n, err := sched.LoadDefaults(ctx, cfg.Schedules)
		if err != nil {
			logger.Warn("some seed schedules were rejected", "error", err)
		}
		if n > 0 {
			logger.Info("seed schedules created", "count", n)
		}
	}

	srv := server.New(cfg.Server, server.Deps{
		Scheduler: sched,
		Catalog:   catalog,
		History:   hist,
		Monitor:   mon,
	}, logger, server.WithDispatcher(disp), server.WithStore(st), server.WithMetrics(m))

	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return ignoreCanceled(mon.Start(gctx)) })
	g.Go(func() error { return ignoreCanceled(sched.Start(gctx)) })
	g.Go(func() error {
		logger.Info("server starting", "addr", cfg.Server.Addr, "version", server.Version)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	logger.Info("server stopped")
	return err
}

func resolveDBPath(p string) (string, error) {
	if p != "" {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".orchestra")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create %s: %w", dir, err)
	}
	return filepath.Join(dir, "orchestra.db"), nil
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
