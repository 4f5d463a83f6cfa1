// Package main provides the entry point for the voting engine daemon.
package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"governance-voting/internal/config"
	"governance-voting/internal/logger"
	"governance-voting/internal/oracle"
	"governance-voting/internal/recorder"
	"governance-voting/internal/server"
	"governance-voting/internal/tui"
	"governance-voting/internal/voting"

	dbpkg "governance-voting/internal/db"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const tuiUpdateBufferSize = 256

func main() {
	// Try to load .env from CWD if present; otherwise use environment as-is
	if _, statErr := os.Stat(".env"); statErr == nil {
		_ = godotenv.Load(".env")
	}

	cfg := config.Load()

	// If debug logs are enabled, write them to file to avoid interfering with TUI
	var logWriter io.Writer = os.Stderr
	if cfg.Debug {
		logFile, err := os.OpenFile("votingd.log", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err == nil {
			logWriter = logFile
			fmt.Fprintf(os.Stderr, "Debug logs written to votingd.log\n")
		} else {
			fmt.Fprintf(os.Stderr, "Warning: failed to open log file, logs will go to stderr (may interfere with TUI): %v\n", err)
		}
	}

	log := logger.NewWithWriter(cfg.Debug, logWriter)

	fmt.Printf("Voting engine starting...\n")
	fmt.Printf("Config loaded: %s\n", cfg.DebugString())

	gormDB, err := dbpkg.Open(cfg)
	if err != nil {
		log.Fatalf("failed to connect database: %v", err)
	}
	if gormDB != nil {
		log.Printf("DB connected")

		if err := dbpkg.AutoMigrate(gormDB); err != nil {
			log.Fatalf("failed to run migrations: %v", err)
		}
		log.Printf("Migrations applied")
	} else {
		log.Printf("DATABASE_URL not provided – persistence disabled")
	}

	weights, allocations, err := buildOracles(cfg)
	if err != nil {
		log.Fatalf("failed to configure oracles: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Create channel for TUI updates (TUI is enabled unless debugging)
	tuiUpdateCh := make(chan interface{}, tuiUpdateBufferSize)

	promRegistry := prometheus.NewRegistry()

	rec := recorder.New(gormDB, tuiUpdateCh, log, promRegistry)
	admin := voting.VoterID(cfg.AdminID)
	engine := voting.NewEngine(admin, weights, allocations, rec)
	rec.AttachEngine(engine)

	// Apply configured defaults through the admin surface so they land in
	// the same place a runtime admin call would.
	if err := engine.SetDefaultDurations(admin, cfg.DefaultCommitDuration, cfg.DefaultRevealDuration); err != nil {
		log.Fatalf("failed to set default durations: %v", err)
	}
	if err := engine.SetDefaultCancellationThreshold(admin, cfg.DefaultCancellationThreshold); err != nil {
		log.Fatalf("failed to set default cancellation threshold: %v", err)
	}

	recDone := make(chan struct{})
	go func() {
		defer close(recDone)
		if err := rec.Run(ctx); err != nil {
			log.Printf("recorder stopped: %v", err)
		}
	}()

	// Start TUI in a goroutine unless debugging
	if !cfg.Debug {
		go func() {
			if err := tui.Run(tuiUpdateCh); err != nil {
				log.Printf("TUI error: %v", err)
			}
			// TUI exited, cancel context to trigger shutdown
			cancel()
		}()
	}

	apiServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: server.New(engine, log),
	}
	go func() {
		log.Printf("API listening on %s", cfg.ListenAddr)
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("API server error: %v", err)
			cancel()
		}
	}()

	var metricsServer *http.Server
	if cfg.MetricsAddr != "" {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{}))
		metricsServer = &http.Server{Addr: cfg.MetricsAddr, Handler: metricsMux}
		go func() {
			log.Printf("Metrics listening on %s", cfg.MetricsAddr)
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("metrics server error: %v", err)
			}
		}()
	}

	<-ctx.Done()
	log.Println("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = apiServer.Shutdown(shutdownCtx)
	if metricsServer != nil {
		_ = metricsServer.Shutdown(shutdownCtx)
	}

	// The recorder is the only sender on the TUI channel; wait for its
	// shutdown drain to finish before closing it.
	<-recDone
	close(tuiUpdateCh)
	// Give the TUI a moment to process the close and quit
	time.Sleep(200 * time.Millisecond)

	// Ensure logs flushed in some environments
	_ = os.Stderr.Sync()
	_ = os.Stdout.Sync()
}

// buildOracles selects the HTTP oracle client when a daemon URL is
// configured, otherwise the static table from the environment.
func buildOracles(cfg config.Config) (oracle.WeightOracle, oracle.AllocationOracle, error) {
	if cfg.OracleURL != "" {
		client := oracle.NewClient(cfg.OracleURL)
		return client, client, nil
	}
	static, err := oracle.ParseStaticMembers(cfg.StaticMembers)
	if err != nil {
		return nil, nil, err
	}
	if cfg.StaticAllocations != "" {
		if err := oracle.ParseStaticAllocations(static, cfg.StaticAllocations); err != nil {
			return nil, nil, err
		}
	}
	return static, static, nil
}
