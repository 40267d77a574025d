// Package sweep repairs pipeline state that fell through the cracks: queued
// jobs whose dispatch was never confirmed, retryable jobs whose cooldown has
// passed, and documents whose rollup never ran. Each pass is bounded so a
// large backlog drains over several sweeps instead of flooding the pool.
package sweep

import (
	"context"
	"log/slog"
	"time"

	"github.com/evanhollis/eraflow/internal/dispatch"
	"github.com/evanhollis/eraflow/internal/store"
	"github.com/evanhollis/eraflow/internal/worker"
)

// Runner executes one page job synchronously. Unlike the orchestrator's
// fire-and-forget dispatch, the sweeper waits for each outcome so a pass has
// a definite result.
type Runner interface {
	Run(ctx context.Context, task dispatch.Task)
}

// Config tunes the sweeper.
type Config struct {
	// Interval between passes when running as a background loop.
	Interval time.Duration

	// StaleAfter is how long a queued job or open document may sit untouched
	// before the sweeper considers it lost.
	StaleAfter time.Duration

	// Cooldown is the minimum wait before a retryable job runs again.
	Cooldown time.Duration

	// BatchSize bounds each repair category per pass.
	BatchSize int

	// RerunDelay paces re-runs within a pass so a big backlog does not burst
	// against the extraction service.
	RerunDelay time.Duration
}

func (c *Config) applyDefaults() {
	if c.Interval <= 0 {
		c.Interval = time.Minute
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = 5 * time.Minute
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 30 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
}

// Report summarizes one sweep pass.
type Report struct {
	StaleRerun        int `json:"stale_rerun"`
	RetryRequeued     int `json:"retry_requeued"`
	DocumentsRolledUp int `json:"documents_rolled_up"`
	Errors            int `json:"errors"`
}

// Sweeper runs recovery passes over the store.
type Sweeper struct {
	store  *store.Store
	runner Runner
	logger *slog.Logger
	cfg    Config
}

// New creates a sweeper.
func New(st *store.Store, runner Runner, cfg Config, logger *slog.Logger) *Sweeper {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		store:  st,
		runner: runner,
		logger: logger.With("component", "sweep"),
		cfg:    cfg,
	}
}

// Start runs sweep passes on the configured interval until ctx is cancelled.
func (s *Sweeper) Start(ctx context.Context) {
	s.logger.Info("sweeper started", "interval", s.cfg.Interval)
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sweeper stopping")
			return
		case <-ticker.C:
			report, err := s.Sweep(ctx)
			if err != nil {
				s.logger.Error("sweep pass failed", "error", err)
				continue
			}
			if report.StaleRerun+report.RetryRequeued+report.DocumentsRolledUp > 0 {
				s.logger.Info("sweep pass repaired state",
					"stale_rerun", report.StaleRerun,
					"retry_requeued", report.RetryRequeued,
					"documents_rolled_up", report.DocumentsRolledUp,
					"errors", report.Errors)
			}
		}
	}
}

// Sweep runs one bounded recovery pass. Safe to run concurrently with live
// workers: every scan is gated on a staleness window, so it never touches a
// job something else is actively progressing.
func (s *Sweeper) Sweep(ctx context.Context) (*Report, error) {
	report := &Report{}
	now := time.Now().UTC()

	// Queued jobs whose dispatch was lost.
	stale, err := s.store.StaleQueuedJobs(ctx, now.Add(-s.cfg.StaleAfter), s.cfg.BatchSize)
	if err != nil {
		return nil, err
	}
	for _, job := range stale {
		if !s.rerun(ctx, job) {
			return report, ctx.Err()
		}
		report.StaleRerun++
	}

	// Retryable jobs whose cooldown has passed.
	cooled, err := s.store.CooledRetryableJobs(ctx, now.Add(-s.cfg.Cooldown), s.cfg.BatchSize)
	if err != nil {
		return report, err
	}
	for _, job := range cooled {
		requeued, err := s.store.RequeueJob(ctx, job.ID)
		if err != nil {
			s.logger.Error("requeue failed", "job_id", job.ID, "error", err)
			report.Errors++
			continue
		}
		if !requeued {
			// Lost the race against another repair path.
			continue
		}
		if !s.rerun(ctx, job) {
			return report, ctx.Err()
		}
		report.RetryRequeued++
	}

	// Documents whose rollup never ran (crash between job write and rollup).
	stalled, err := s.store.StalledDocuments(ctx, now.Add(-s.cfg.StaleAfter), s.cfg.BatchSize)
	if err != nil {
		return report, err
	}
	for _, doc := range stalled {
		rollup, err := s.store.RollupDocument(ctx, doc.ID)
		if err != nil {
			s.logger.Error("rollup repair failed", "document_id", doc.ID, "error", err)
			report.Errors++
			continue
		}
		if !rollup.Changed {
			continue
		}
		report.DocumentsRolledUp++
		s.logger.Info("stalled document closed out",
			"document_id", doc.ID, "status", rollup.Status, "refunded", rollup.Refunded)
		if err := worker.ReviewDocument(ctx, s.store, doc.ID, rollup); err != nil {
			s.logger.Error("review evaluation failed", "document_id", doc.ID, "error", err)
			report.Errors++
		}
	}

	return report, nil
}

// rerun executes one job synchronously, pacing between runs. Returns false
// only when the context is done.
func (s *Sweeper) rerun(ctx context.Context, job *store.PageJob) bool {
	if s.cfg.RerunDelay > 0 {
		select {
		case <-ctx.Done():
			return false
		case <-time.After(s.cfg.RerunDelay):
		}
	}
	s.runner.Run(ctx, dispatch.Task{
		JobID:      job.ID,
		DocumentID: job.DocumentID,
		PageNumber: job.PageNumber,
	})
	return ctx.Err() == nil
}
