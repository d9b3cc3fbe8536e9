// Command scanner runs one batch scan over the workload registry and
// exits. Intended for cron jobs and CI pipelines; the long-running
// service lives in cmd/server.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/your-org/repo-governor/pkg/auth"
	"github.com/your-org/repo-governor/pkg/cache"
	"github.com/your-org/repo-governor/pkg/config"
	"github.com/your-org/repo-governor/pkg/executor"
	"github.com/your-org/repo-governor/pkg/facts"
	"github.com/your-org/repo-governor/pkg/models"
	"github.com/your-org/repo-governor/pkg/rules"
	"github.com/your-org/repo-governor/pkg/scan"
	"github.com/your-org/repo-governor/pkg/store"
)

func main() {
	var (
		workloadName string
		registryPath string
		rulesDir     string
		concurrency  int
		jsonOutput   bool
	)

	flag.StringVar(&workloadName, "workload", "", "Scan a single workload by name (default: all registered workloads)")
	flag.StringVar(&registryPath, "registry", "", "Path to the workload registry YAML (overrides WORKLOAD_REGISTRY_PATH)")
	flag.StringVar(&rulesDir, "rules", "", "Directory of rule set YAML files (overrides RULES_DIR)")
	flag.IntVar(&concurrency, "concurrency", 0, "Number of concurrent workload scans (overrides SCAN_CONCURRENCY)")
	flag.BoolVar(&jsonOutput, "json", false, "Print the batch report as JSON to stdout")
	flag.Parse()

	zapLogger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer zapLogger.Sync()
	logger := zapLogger.Sugar()

	cfg := config.Load()
	if registryPath != "" {
		cfg.RegistryPath = registryPath
	}
	if rulesDir != "" {
		cfg.RulesDir = rulesDir
	}
	if concurrency > 0 {
		cfg.ScanConcurrency = concurrency
	}
	if cfg.GitHub.AppID == 0 || cfg.GitHub.InstallationID == 0 {
		logger.Fatal("GITHUB_APP_ID and GITHUB_INSTALLATION_ID are required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry, err := config.LoadRegistry(cfg.RegistryPath)
	if err != nil {
		logger.Fatalw("cannot load workload registry", "error", err)
	}

	ruleRegistry, err := rules.NewRegistry(cfg.RulesDir, logger)
	if err != nil {
		logger.Fatalw("cannot load rule sets", "error", err)
	}

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

	authority, err := auth.NewTokenAuthority(
		cfg.GitHub.AppID, cfg.GitHub.InstallationID,
		cfg.GitHub.PrivateKeyPath, cfg.GitHub.BaseURL,
		cfg.TokenMargin, logger, nil)
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
	}, logger, nil)

	// One-shot runs get no Redis tier; the in-process cache still
	// collapses duplicate category fetches within the batch.
	tiered := cache.New(nil, cfg.Cache.MemoryTTL, logger, nil)
	fetcher := facts.NewFetcher(facts.NewAPI(client), exec, tiered, cfg.Cache.DurableTTL, logger)

	orch := scan.NewOrchestrator(fetcher, ruleRegistry, resultStore, cfg.ScanConcurrency, logger, nil)

	workloads := registry.All()
	if workloadName != "" {
		w, ok := registry.Lookup(workloadName)
		if !ok {
			logger.Fatalw("unknown workload", "workload", workloadName)
		}
		workloads = []models.Workload{w}
	}

	report := orch.ScanAll(ctx, workloads)

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			logger.Fatalw("cannot encode report", "error", err)
		}
	}

	if report.FailedCount() > 0 {
		logger.Warnw("batch finished with failures",
			"succeeded", report.SucceededCount(),
			"failed", report.FailedCount())
		os.Exit(1)
	}
	logger.Infow("batch finished", "succeeded", report.SucceededCount())
}
