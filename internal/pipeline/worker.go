// Package pipeline drives a ValidationRun through its stage state
// machine (spec.md §4.4): queued → parsing → validating → persisting →
// done, with failed reachable from any stage.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/montignypatrik/facnet-validator-sub007/internal/domain"
	"github.com/montignypatrik/facnet-validator-sub007/internal/engine"
	"github.com/montignypatrik/facnet-validator-sub007/internal/ingest"
	"github.com/montignypatrik/facnet-validator-sub007/internal/refcache"
)

// backoff is the retry schedule for store/queue boundary calls, grounded
// on the reference's exponential-backoff job-retry shape.
var backoff = []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}

// SourceOpener returns the raw CSV bytes for a queued run. The caller
// (cmd/validator) wires this to wherever an upload was staged.
type SourceOpener func(ctx context.Context, runID string) (io.ReadCloser, error)

// Worker consumes (runID) jobs from domain.EventBus and drives each run
// through its stages, generalized from the reference's
// Worker/processTransaction (subscribe → evaluate → decide → persist →
// publish) from one-transaction-at-a-time to one-run-(many-records)-at-
// a-time.
type Worker struct {
	bus    domain.EventBus
	repo   domain.Repository
	cache  *refcache.Cache
	engine *engine.Engine
	opener SourceOpener

	concurrency int
	runTimeout  time.Duration

	sub domain.Subscription
	wg  sync.WaitGroup

	mu        sync.Mutex
	cancelled map[string]bool
}

// Config configures a Worker.
type Config struct {
	Concurrency int           // VALIDATION_WORKER_CONCURRENCY
	RunTimeout  time.Duration // RUN_TIMEOUT_SECONDS
}

// New creates a Worker. concurrency bounds in-flight runs (spec.md §5's
// backpressure requirement); runTimeout defaults to 10 minutes.
func New(bus domain.EventBus, repo domain.Repository, cache *refcache.Cache, eng *engine.Engine, opener SourceOpener, cfg Config) *Worker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 2
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = 10 * time.Minute
	}
	return &Worker{
		bus:         bus,
		repo:        repo,
		cache:       cache,
		engine:      eng,
		opener:      opener,
		concurrency: cfg.Concurrency,
		runTimeout:  cfg.RunTimeout,
		cancelled:   make(map[string]bool),
	}
}

// runJob is the message payload published to domain.TopicRunQueued.
type runJob struct {
	RunID string `json:"runId"`
}

// Start subscribes to queued runs, processing up to Concurrency at once.
func (w *Worker) Start(ctx context.Context) error {
	sem := make(chan struct{}, w.concurrency)

	sub, err := w.bus.Subscribe(ctx, domain.TopicRunQueued, func(ctx context.Context, msg *domain.Message) error {
		var job runJob
		if err := json.Unmarshal(msg.Payload, &job); err != nil {
			slog.Error("pipeline: malformed run job", "error", err)
			return err
		}

		sem <- struct{}{}
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			defer func() { <-sem }()
			w.processRun(job.RunID)
		}()
		return nil
	})
	if err != nil {
		return fmt.Errorf("pipeline: subscribe to %s: %w", domain.TopicRunQueued, err)
	}
	w.sub = sub

	slog.Info("pipeline worker started", "concurrency", w.concurrency)
	return nil
}

// Stop unsubscribes and waits for in-flight runs to finish.
func (w *Worker) Stop() error {
	if w.sub != nil {
		if err := w.sub.Unsubscribe(); err != nil {
			slog.Error("pipeline: failed to unsubscribe", "error", err)
		}
	}
	w.wg.Wait()
	return nil
}

// Cancel marks runID for cancellation; the worker checks it once parsing
// finishes and again before persistence. A run in its validating stage
// is not interrupted between rules: every enabled rule is evaluated first.
func (w *Worker) Cancel(runID string) {
	w.mu.Lock()
	w.cancelled[runID] = true
	w.mu.Unlock()
}

func (w *Worker) isCancelled(runID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cancelled[runID]
}

func (w *Worker) clearCancelled(runID string) {
	w.mu.Lock()
	delete(w.cancelled, runID)
	w.mu.Unlock()
}

// processRun drives one run through every stage. It loads the run from
// the store with GetRun rather than trusting caller state, and always
// processes it from parsing onward; the stored stage is not used to skip
// or resume stages.
func (w *Worker) processRun(runID string) {
	defer w.clearCancelled(runID)

	ctx, cancel := context.WithTimeout(context.Background(), w.runTimeout)
	defer cancel()

	// A run left mid-flight by a prior process is loaded from the store
	// and processed again from parsing, whatever stage was stored.
	current, err := w.repo.GetRun(ctx, runID)
	if err != nil {
		slog.Error("pipeline: failed to load run", "run_id", runID, "error", err)
		return
	}

	records, parseErr := w.runParsing(ctx, &current)
	if parseErr != nil {
		w.fail(ctx, &current, domain.ErrCodeParseFailure, parseErr.Error())
		return
	}

	if w.isCancelled(runID) {
		w.fail(ctx, &current, domain.ErrCodeCancelled, "run cancelled during parsing")
		return
	}
	if ctx.Err() != nil {
		w.fail(ctx, &current, domain.ErrCodeTimeout, "run exceeded its time budget during parsing")
		return
	}

	findings, validateErr := w.runValidating(ctx, &current, records)
	if validateErr != nil {
		w.fail(ctx, &current, domain.ErrCodeReferenceUnavailable, validateErr.Error())
		return
	}

	if w.isCancelled(runID) {
		w.fail(ctx, &current, domain.ErrCodeCancelled, "run cancelled before persistence")
		return
	}
	if ctx.Err() != nil {
		w.fail(ctx, &current, domain.ErrCodeTimeout, "run exceeded its time budget before persistence")
		return
	}

	if err := w.runPersisting(ctx, &current, records, findings); err != nil {
		w.fail(ctx, &current, domain.ErrCodePersistFailure, err.Error())
		return
	}

	w.complete(ctx, &current, findings)
}

func (w *Worker) runParsing(ctx context.Context, run *domain.ValidationRun) ([]domain.BillingRecord, error) {
	ctx, span := startStageSpan(ctx, run.ID, domain.StageParsing)
	defer span.End()

	w.transition(ctx, run, domain.StageParsing, 0, domain.TopicRunParsing)

	src, err := w.opener(ctx, run.ID)
	if err != nil {
		return nil, fmt.Errorf("open upload: %w", err)
	}
	defer src.Close()

	result, err := ingest.Parse(src)
	if err != nil {
		return nil, err
	}

	for i := range result.Records {
		result.Records[i].ValidationRunID = run.ID
	}

	run.RecordsParsed = len(result.Records)
	w.emitProgress(ctx, run.ID, domain.StageParsing, 100, fmt.Sprintf("%d records, %d row errors", len(result.Records), len(result.Errors)))
	return result.Records, nil
}

func (w *Worker) runValidating(ctx context.Context, run *domain.ValidationRun, records []domain.BillingRecord) ([]domain.Finding, error) {
	ctx, span := startStageSpan(ctx, run.ID, domain.StageValidating)
	defer span.End()

	w.transition(ctx, run, domain.StageValidating, 0, domain.TopicRunValidating)

	snap, err := w.cache.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("load reference snapshot: %w", err)
	}

	var enabled []domain.Rule
	for _, r := range snap.Rules {
		if r.Enabled {
			enabled = append(enabled, r)
		}
	}

	findings, err := w.engine.ValidateRecords(ctx, records, enabled, snap, run.ID)
	if err != nil {
		return nil, err
	}

	for _, f := range findings {
		switch f.Severity {
		case domain.SeverityError:
			run.ErrorCount++
		case domain.SeverityOptimization:
			run.OptimizationCount++
		case domain.SeverityInfo:
			run.InfoCount++
		}
	}

	w.emitProgress(ctx, run.ID, domain.StageValidating, 100, fmt.Sprintf("%d findings across %d rules", len(findings), len(enabled)))
	return findings, nil
}

func (w *Worker) runPersisting(ctx context.Context, run *domain.ValidationRun, records []domain.BillingRecord, findings []domain.Finding) error {
	ctx, span := startStageSpan(ctx, run.ID, domain.StagePersisting)
	defer span.End()

	w.transition(ctx, run, domain.StagePersisting, 0, domain.TopicRunPersisting)

	if err := w.withRetry(ctx, "bulkInsertRecords", func(ctx context.Context) error {
		return w.repo.BulkInsertRecords(ctx, records)
	}); err != nil {
		return fmt.Errorf("persist records: %w", err)
	}

	if err := w.withRetry(ctx, "bulkInsertResults", func(ctx context.Context) error {
		return w.repo.BulkInsertResults(ctx, findings)
	}); err != nil {
		return fmt.Errorf("persist results: %w", err)
	}

	w.emitProgress(ctx, run.ID, domain.StagePersisting, 100, "")
	return nil
}

func (w *Worker) transition(ctx context.Context, run *domain.ValidationRun, stage domain.RunStage, progress int, topic string) {
	run.Stage = stage
	run.Progress = progress
	if err := w.repo.UpdateRun(ctx, *run); err != nil {
		slog.Error("pipeline: failed to persist stage transition", "run_id", run.ID, "stage", stage, "error", err)
	}
	w.publish(ctx, topic, domain.ProgressEvent{Type: "stage", RunID: run.ID, Stage: stage, Progress: progress, At: time.Now().Unix()})
}

func (w *Worker) emitProgress(ctx context.Context, runID string, stage domain.RunStage, progress int, extra string) {
	w.publish(ctx, domain.TopicRunProgress, domain.ProgressEvent{Type: "progress", RunID: runID, Stage: stage, Progress: progress, At: time.Now().Unix(), Extra: extra})
}

func (w *Worker) complete(ctx context.Context, run *domain.ValidationRun, findings []domain.Finding) {
	run.Stage = domain.StageDone
	run.Progress = 100
	if err := w.repo.UpdateRun(ctx, *run); err != nil {
		slog.Error("pipeline: failed to persist completion", "run_id", run.ID, "error", err)
	}
	w.publish(ctx, domain.TopicRunDone, domain.ProgressEvent{Type: "completed", RunID: run.ID, Stage: domain.StageDone, Progress: 100, At: time.Now().Unix()})
}

func (w *Worker) fail(ctx context.Context, run *domain.ValidationRun, errCode, message string) {
	run.Stage = domain.StageFailed
	run.ErrorCode = errCode
	run.ErrorMessage = message
	if err := w.repo.UpdateRun(ctx, *run); err != nil {
		slog.Error("pipeline: failed to persist failure", "run_id", run.ID, "error", err)
	}
	w.publish(ctx, domain.TopicRunFailed, domain.ProgressEvent{Type: "failed", RunID: run.ID, Stage: domain.StageFailed, Progress: run.Progress, At: time.Now().Unix(), Extra: message})
	slog.Error("pipeline: run failed", "run_id", run.ID, "error_code", errCode, "message", message)
}

func (w *Worker) publish(ctx context.Context, topic string, event domain.ProgressEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		slog.Error("pipeline: failed to marshal progress event", "error", err)
		return
	}
	if err := w.bus.Publish(ctx, topic, payload); err != nil {
		slog.Warn("pipeline: failed to publish progress event (best-effort)", "topic", topic, "error", err)
	}
}

// withRetry retries fn with the package's exponential backoff schedule,
// returning the final error after all attempts (including the dead-
// letter attempt) are exhausted.
func (w *Worker) withRetry(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	var lastErr error
	attempts := len(backoff) + 1
	for attempt := 0; attempt < attempts; attempt++ {
		if err := fn(ctx); err != nil {
			lastErr = err
			if attempt < len(backoff) {
				slog.Warn("pipeline: retrying after error", "op", op, "attempt", attempt+1, "error", err)
				select {
				case <-time.After(backoff[attempt]):
				case <-ctx.Done():
					return ctx.Err()
				}
				continue
			}
			slog.Error("pipeline: dead-lettering after exhausting retries", "op", op, "attempts", attempts, "error", err)
			return fmt.Errorf("%s: %w", op, lastErr)
		}
		return nil
	}
	return lastErr
}

// ErrNoSource is returned by a SourceOpener when a run's upload cannot
// be located; callers should treat it as a parsing-stage failure.
var ErrNoSource = errors.New("pipeline: upload source not found")
