// Command validator runs the RAMQ billing validation engine: a CLI that
// ingests a CSV export, drives it through the queued→parsing→
// validating→persisting→done pipeline, and prints the resulting
// findings.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/montignypatrik/facnet-validator-sub007/internal/bus"
	"github.com/montignypatrik/facnet-validator-sub007/internal/cache"
	"github.com/montignypatrik/facnet-validator-sub007/internal/domain"
	"github.com/montignypatrik/facnet-validator-sub007/internal/engine"
	"github.com/montignypatrik/facnet-validator-sub007/internal/pipeline"
	"github.com/montignypatrik/facnet-validator-sub007/internal/refcache"
	"github.com/montignypatrik/facnet-validator-sub007/internal/repository"
	"github.com/montignypatrik/facnet-validator-sub007/internal/rules"
)

func main() {
	var (
		csvPath = flag.String("csv", "", "path to the billing CSV to validate")
		owner   = flag.String("owner", "cli", "owner recorded on the validation run")
	)
	flag.Parse()

	cfg := domain.DefaultConfig()
	cfg.ApplyEnvOverrides()

	logLevel := slog.LevelInfo
	if cfg.Debug {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))

	if *csvPath == "" {
		slog.Error("missing required -csv flag")
		os.Exit(1)
	}

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     cfg.DBDriver,
		SQLitePath: cfg.DBDSN,
	})
	if err != nil {
		slog.Error("failed to open repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()

	appCache, err := cache.New(domain.CacheConfig{Type: cfg.CacheType, RedisAddr: cfg.RedisAddr})
	if err != nil {
		slog.Error("failed to open cache", "error", err)
		os.Exit(1)
	}
	defer appCache.Close()

	eventBus, err := bus.New(domain.EventBusConfig{Type: cfg.BusType, ChannelBufferSize: 1000, NATSURL: cfg.NATSURL})
	if err != nil {
		slog.Error("failed to open event bus", "error", err)
		os.Exit(1)
	}
	defer eventBus.Close()

	refCache := refcache.New(repo, refcache.Config{
		CodesTTL:          cfg.ReferenceDataCacheTTL,
		RulesTTL:          cfg.RulesCacheTTL,
		ContextsTTL:       cfg.ReferenceDataCacheTTL,
		EstablishmentsTTL: cfg.ReferenceDataCacheTTL,
	})

	eng := engine.New(rules.NewRegistry(), cfg.WorkerConcurrency)

	stagingDir, err := os.MkdirTemp("", "validator-uploads-*")
	if err != nil {
		slog.Error("failed to create staging directory", "error", err)
		os.Exit(1)
	}
	defer os.RemoveAll(stagingDir)

	opener := func(ctx context.Context, runID string) (io.ReadCloser, error) {
		return os.Open(filepath.Join(stagingDir, runID+".csv"))
	}

	worker := pipeline.New(eventBus, repo, refCache, eng, opener, pipeline.Config{
		Concurrency: cfg.WorkerConcurrency,
		RunTimeout:  cfg.RunTimeout,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := worker.Start(ctx); err != nil {
		slog.Error("failed to start pipeline worker", "error", err)
		os.Exit(1)
	}
	defer worker.Stop()

	runID, err := submitRun(ctx, repo, eventBus, stagingDir, *csvPath, *owner)
	if err != nil {
		slog.Error("failed to submit run", "error", err)
		os.Exit(1)
	}

	if err := awaitCompletion(ctx, repo, runID); err != nil {
		slog.Error("run did not complete successfully", "run_id", runID, "error", err)
		os.Exit(1)
	}

	printSummary(ctx, repo, runID)
}

// submitRun stages the CSV under its run id, creates the ValidationRun
// record, and publishes the queued event that the pipeline worker
// subscribes to.
func submitRun(ctx context.Context, repo domain.Repository, eventBus domain.EventBus, stagingDir, csvPath, owner string) (string, error) {
	runID := uuid.New().String()

	src, err := os.Open(csvPath)
	if err != nil {
		return "", fmt.Errorf("open input csv: %w", err)
	}
	defer src.Close()

	dst, err := os.Create(filepath.Join(stagingDir, runID+".csv"))
	if err != nil {
		return "", fmt.Errorf("stage input csv: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return "", fmt.Errorf("stage input csv: %w", err)
	}
	if err := dst.Close(); err != nil {
		return "", fmt.Errorf("stage input csv: %w", err)
	}

	run := domain.ValidationRun{
		ID:        runID,
		Owner:     owner,
		FileName:  filepath.Base(csvPath),
		CreatedAt: time.Now().UTC(),
		Stage:     domain.StageQueued,
	}
	if err := repo.CreateRun(ctx, run); err != nil {
		return "", fmt.Errorf("create run: %w", err)
	}

	payload, err := json.Marshal(struct {
		RunID string `json:"runId"`
	}{RunID: runID})
	if err != nil {
		return "", fmt.Errorf("marshal run job: %w", err)
	}
	if err := eventBus.Publish(ctx, domain.TopicRunQueued, payload); err != nil {
		return "", fmt.Errorf("publish run job: %w", err)
	}

	slog.Info("validation run submitted", "run_id", runID, "file", run.FileName)
	return runID, nil
}

// awaitCompletion polls the store for the run's terminal stage. A CLI
// invocation runs exactly one job so a short poll loop is simpler than
// subscribing to TopicRunDone/TopicRunFailed.
func awaitCompletion(ctx context.Context, repo domain.Repository, runID string) error {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			run, err := repo.GetRun(ctx, runID)
			if err != nil {
				return err
			}
			switch run.Stage {
			case domain.StageDone:
				return nil
			case domain.StageFailed:
				return fmt.Errorf("%s: %s", run.ErrorCode, run.ErrorMessage)
			}
		}
	}
}

func printSummary(ctx context.Context, repo domain.Repository, runID string) {
	run, err := repo.GetRun(ctx, runID)
	if err != nil {
		slog.Error("failed to load completed run", "run_id", runID, "error", err)
		return
	}

	results, err := repo.ListResults(ctx, domain.ResultFilter{ValidationRunID: runID})
	if err != nil {
		slog.Error("failed to load run results", "run_id", runID, "error", err)
		return
	}

	fmt.Printf("run %s: %d records parsed, %d errors, %d optimizations, %d info findings\n",
		run.ID, run.RecordsParsed, run.ErrorCount, run.OptimizationCount, run.InfoCount)
	for _, f := range results {
		fmt.Printf("  [%s] %s: %s\n", f.Severity, f.Category, f.Message)
	}
}
