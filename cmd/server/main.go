package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/your-org/repo-governor/pkg/auth"
	"github.com/your-org/repo-governor/pkg/cache"
	"github.com/your-org/repo-governor/pkg/config"
	"github.com/your-org/repo-governor/pkg/executor"
	"github.com/your-org/repo-governor/pkg/facts"
	"github.com/your-org/repo-governor/pkg/metrics"
	"github.com/your-org/repo-governor/pkg/rules"
	"github.com/your-org/repo-governor/pkg/scan"
	"github.com/your-org/repo-governor/pkg/server"
	"github.com/your-org/repo-governor/pkg/store"
)

func main() {
	zapLogger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer zapLogger.Sync()
	logger := zapLogger.Sugar()

	cfg := config.Load()
	if cfg.GitHub.AppID == 0 || cfg.GitHub.InstallationID == 0 {
		logger.Fatal("GITHUB_APP_ID and GITHUB_INSTALLATION_ID are required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry, err := config.LoadRegistry(cfg.RegistryPath)
	if err != nil {
		logger.Fatalw("cannot load workload registry", "error", err)
	}
	logger.Infow("workload registry loaded", "workloads", len(registry.All()))

	ruleRegistry, err := rules.NewRegistry(cfg.RulesDir, logger)
	if err != nil {
		logger.Fatalw("cannot load rule sets", "error", err)
	}
	logger.Infow("rule sets loaded", "profiles", ruleRegistry.Profiles())

	promRegistry := prometheus.NewRegistry()
	m := metrics.New(promRegistry)

	resultStore, err := store.NewPostgresStore(
		cfg.Store.Host, cfg.Store.Port, cfg.Store.User,
		cfg.Store.Password, cfg.Store.Name, cfg.Store.SSLMode, logger)
	if err != nil {
		logger.Fatalw("cannot connect to result store", "error", err)
	}
	defer resultStore.Close()
	if err := resultStore.EnsureSchema(ctx); err != nil {
		logger.Fatalw("cannot migrate result store", "error", err)
	}

	var durable cache.DurableTier
	if cfg.Cache.RedisAddr != "" {
		redisTier, err := cache.NewRedisTier(ctx, cfg.Cache.RedisAddr, cfg.Cache.RedisPassword, cfg.Cache.RedisDB, logger)
		if err != nil {
			logger.Fatalw("cannot connect to redis", "error", err)
		}
		defer redisTier.Close()
		durable = redisTier
	} else {
		logger.Info("redis not configured, running on the in-process cache tier only")
	}

	authority, err := auth.NewTokenAuthority(
		cfg.GitHub.AppID, cfg.GitHub.InstallationID,
		cfg.GitHub.PrivateKeyPath, cfg.GitHub.BaseURL,
		cfg.TokenMargin, logger, m)
	if err != nil {
		logger.Fatalw("cannot initialize token authority", "error", err)
	}

	client, err := auth.NewInstallationClient(authority, cfg.GitHub.BaseURL)
	if err != nil {
		logger.Fatalw("cannot build github client", "error", err)
	}

	exec := executor.New(executor.Config{
		MaxConcurrent:     cfg.Executor.MaxConcurrent,
		RequestsPerSecond: cfg.Executor.RequestsPerSecond,
		MaxAttempts:       cfg.Executor.MaxAttempts,
		CallTimeout:       cfg.Executor.CallTimeout,
		MaxRateLimitWait:  cfg.Executor.MaxRateLimitWait,
		LowWaterMark:      cfg.Executor.LowWaterMark,
		Cooldown:          cfg.Executor.Cooldown,
	}, logger, m)

	tiered := cache.New(durable, cfg.Cache.MemoryTTL, logger, m)
	go tiered.Janitor(ctx, cfg.Cache.MemoryTTL)

	fetcher := facts.NewFetcher(facts.NewAPI(client), exec, tiered, cfg.Cache.DurableTTL, logger)

	orch := scan.NewOrchestrator(fetcher, ruleRegistry, resultStore, cfg.ScanConcurrency, logger, m)

	scheduler := scan.NewScheduler(orch, registry, cfg.ScanInterval, logger)
	go scheduler.Run(ctx)

	go func() {
		if err := config.WatchDir(ctx, cfg.RulesDir, ruleRegistry, logger); err != nil {
			logger.Warnw("rule watcher unavailable", "error", err)
		}
	}()

	srv := server.New(orch, registry, resultStore, cfg.GitHub.WebhookSecret, logger, promRegistry)
	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: srv.Router(),
	}

	go func() {
		logger.Infow("http server listening", "addr", cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorw("http server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Errorw("http shutdown incomplete", "error", err)
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}
