// Kestrel - Alert-driven automation for physical site monitoring.
// Copyright (c) 2025 sitewatch.io
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sitewatch/kestrel/internal/api"
	"github.com/sitewatch/kestrel/internal/audit"
	"github.com/sitewatch/kestrel/internal/bus"
	"github.com/sitewatch/kestrel/internal/cache"
	"github.com/sitewatch/kestrel/internal/domain"
	"github.com/sitewatch/kestrel/internal/engine"
	"github.com/sitewatch/kestrel/internal/repository"
	"github.com/sitewatch/kestrel/internal/rules"
	"github.com/sitewatch/kestrel/internal/templates"
	"github.com/sitewatch/kestrel/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	// Initialize structured logger
	logLevel := slog.LevelInfo
	if os.Getenv("KESTREL_DEBUG") == "true" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	slog.Info("starting kestrel",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	// Load configuration
	cfg := domain.DefaultConfig()

	// Check for Pro tier via environment
	if os.Getenv("KESTREL_TIER") == "pro" {
		cfg = domain.ProConfig()
		slog.Info("running in Pro tier mode")
	}

	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Initialize Repository
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	// Initialize Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Initialize Template Service
	templateSvc := templates.NewService(repo, cacheImpl, cfg.Automation.TemplateCacheTTL)
	slog.Info("template service initialized", "cache_ttl", cfg.Automation.TemplateCacheTTL)

	// Initialize Filter Engine
	filters, err := rules.NewEngine()
	if err != nil {
		slog.Error("failed to initialize filter engine", "error", err)
		os.Exit(1)
	}
	defer filters.Close()

	// Load filter rules from database (no hardcoded defaults - configure via API)
	if err := loadFilterRules(ctx, repo, filters); err != nil {
		slog.Error("failed to load filter rules", "error", err)
		os.Exit(1)
	}
	slog.Info("filter engine initialized", "rules_count", filters.RulesCount())

	// Initialize Audit Emitter
	emitter := audit.NewEmitter(busImpl, cfg.Automation.AuditTimeout)
	slog.Info("audit emitter initialized")

	// Initialize Automation Engine
	eng := engine.New(repo, templateSvc, filters, cacheImpl, busImpl, emitter, cfg.Automation)
	slog.Info("automation engine initialized", "checklist_due_in", cfg.Automation.ChecklistDueIn)

	// Initialize async Worker (Pro tier)
	var asyncWorker *worker.Worker
	if cfg.Tier == domain.TierPro || os.Getenv("KESTREL_ASYNC_WORKER") == "true" {
		asyncWorker = worker.NewWorker(busImpl, eng)

		tenantIDs := []string{}
		if envTenants := os.Getenv("KESTREL_TENANTS"); envTenants != "" {
			for _, tenant := range strings.Split(envTenants, ",") {
				if tenant = strings.TrimSpace(tenant); tenant != "" {
					tenantIDs = append(tenantIDs, tenant)
				}
			}
		}

		workerCfg := worker.Config{
			TenantIDs: tenantIDs,
		}

		if err := asyncWorker.Start(workerCfg); err != nil {
			slog.Error("failed to start async worker", "error", err)
		} else {
			slog.Info("async worker started", "tenant_count", len(tenantIDs))
		}
	}

	// Initialize Server
	srv := api.NewServer(cfg.Server, repo, cacheImpl, eng, filters, templateSvc, Version)

	// Start Server in goroutine
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("kestrel is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	// Stop async worker first
	if asyncWorker != nil {
		if err := asyncWorker.Stop(); err != nil {
			slog.Error("failed to stop async worker", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("kestrel shutdown complete")
}

// loadFilterRules loads global filter rules from the database into the
// engine. All rules must be configured via POST /filter-rules - no
// hardcoded defaults.
func loadFilterRules(ctx context.Context, repo domain.Repository, filters *rules.Engine) error {
	dbRules, err := repo.ListFilterRules(ctx, domain.GlobalTenant)
	if err != nil {
		slog.Warn("failed to list filter rules from database", "error", err)
		return nil // Start with empty rules - they can be added via API
	}

	if len(dbRules) > 0 {
		slog.Info("loading filter rules from database", "count", len(dbRules))
		return filters.LoadRules(dbRules)
	}

	slog.Info("no filter rules in database - configure via POST /filter-rules")
	return nil
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════╗")
	fmt.Println("  ║               🪶 KESTREL                  ║")
	fmt.Println("  ║      Alert-Driven Automation Engine       ║")
	fmt.Println("  ║     Every detection becomes action.       ║")
	fmt.Println("  ╚═══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /detections          - Ingest a camera detection")
	fmt.Println("    GET  /alerts              - List alerts")
	fmt.Println("    GET  /alerts/{id}         - Get alert by ID")
	fmt.Println("    POST /alerts/{id}/resolve - Resolve an alert")
	fmt.Println("    GET  /stats               - Alert statistics")
	fmt.Println("    GET  /alert-types         - List alert types")
	fmt.Println("    POST /alert-types         - Create an alert type")
	fmt.Println("    GET  /templates           - List checklist templates")
	fmt.Println("    POST /templates           - Create a checklist template")
	fmt.Println("    GET  /filter-rules        - List filter rules")
	fmt.Println("    POST /filter-rules        - Create a filter rule")
	fmt.Println("    POST /filter-rules/reload - Hot-reload filter rules")
	fmt.Println("    POST /properties          - Create a property")
	fmt.Println("    POST /cameras             - Create a camera")
	fmt.Println("    GET  /health              - Health check")
	fmt.Println()
}
