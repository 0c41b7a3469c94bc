// Package worker runs one extraction+load job with retry.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rishansujesh/ads-warehouse/internal/extract"
	"github.com/rishansujesh/ads-warehouse/internal/jobs"
	"github.com/rishansujesh/ads-warehouse/internal/notify"
	"github.com/rishansujesh/ads-warehouse/internal/observability"
	"github.com/rishansujesh/ads-warehouse/internal/warehouse"
)

// Loader writes one dataset batch into a warehouse table.
type Loader interface {
	Load(ctx context.Context, table string, batch warehouse.Batch, opts warehouse.LoadOptions) (warehouse.LoadResult, error)
}

// RunStore persists completed attempts.
type RunStore interface {
	RecordRun(ctx context.Context, run jobs.JobRun, meta jobs.RunMeta) error
}

// Notifier receives terminal failures.
type Notifier interface {
	NotifyJobFailure(ctx context.Context, f notify.JobFailure) error
}

// Runner drives one job through its attempts. Store and Notifier are optional.
type Runner struct {
	Extractors extract.Registry
	Loader     Loader
	Grains     []warehouse.Grain
	Store      RunStore
	Notifier   Notifier
	Logger     *slog.Logger

	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

type attemptStats struct {
	rows   int
	tables []string
}

// Run executes the job. It always returns the last JobRun it produced and
// never panics on extractor or loader errors. force runs disabled jobs.
func (r *Runner) Run(ctx context.Context, job *jobs.Job, force bool) jobs.JobRun {
	cfg := job.Config()
	log := r.logger().With("job", cfg.Name, "source", cfg.Source)

	if !cfg.Enabled && !force {
		now := r.now()
		run := jobs.NewRun(cfg.Name, 0, now).Complete(now, jobs.ErrJobDisabled)
		job.Record(run)
		observability.JobRuns.WithLabelValues(cfg.Name, "disabled").Inc()
		log.Info("job disabled, skipping")
		return run
	}

	ex, err := r.Extractors.Lookup(cfg.Source)
	if err != nil {
		now := r.now()
		window := jobs.WindowFor(now, cfg.LookbackDays)
		run := jobs.NewRun(cfg.Name, 0, now).Complete(now, err)
		r.finish(ctx, job, run, window, log)
		r.fail(ctx, cfg, run, window, log)
		return run
	}

	var run jobs.JobRun
	for attempt := 0; attempt <= cfg.RetryCount; attempt++ {
		run = jobs.NewRun(cfg.Name, attempt, r.now())
		window := jobs.WindowFor(run.StartedAt, cfg.LookbackDays)
		alog := log.With("run_id", run.ID, "attempt", attempt, "window", window.String())
		alog.Info("attempt started", "days", window.Days())

		stats, err := r.attempt(ctx, cfg, ex, window, alog)
		run.RowsExtracted = stats.rows
		run.TablesTouched = stats.tables

		if err == nil {
			run = run.Complete(r.now(), nil)
			r.finish(ctx, job, run, window, alog)
			observability.JobAttempts.WithLabelValues(cfg.Name, cfg.Source, "success").Inc()
			observability.JobRuns.WithLabelValues(cfg.Name, string(jobs.StatusSucceeded)).Inc()
			alog.Info("job succeeded", "rows", stats.rows, "tables", stats.tables)
			return run
		}

		terminal := !jobs.IsRetryable(err) || attempt == cfg.RetryCount
		if terminal {
			if jobs.IsRetryable(err) {
				err = fmt.Errorf("failed after %d attempts: %w", attempt+1, err)
			}
			run = run.Complete(r.now(), err)
			r.finish(ctx, job, run, window, alog)
			observability.JobAttempts.WithLabelValues(cfg.Name, cfg.Source, "failed").Inc()
			r.fail(ctx, cfg, run, window, alog)
			return run
		}

		run = run.Complete(r.now(), err)
		r.finish(ctx, job, run, window, alog)
		observability.JobAttempts.WithLabelValues(cfg.Name, cfg.Source, "retry").Inc()
		alog.Warn("attempt failed, retrying", "delay", cfg.RetryDelay(), "error", err)

		if serr := r.sleep(ctx, cfg.RetryDelay()); serr != nil {
			alog.Warn("retry wait interrupted", "error", serr)
			observability.JobRuns.WithLabelValues(cfg.Name, string(jobs.StatusFailed)).Inc()
			return run
		}
	}
	return run
}

// attempt runs one TestConnection + ExtractAll + load pass under the job
// timeout. Datasets that fail are logged and skipped; the attempt fails
// only when nothing could be loaded and something was attempted.
func (r *Runner) attempt(ctx context.Context, cfg jobs.JobConfig, ex extract.Extractor, w jobs.Window, log *slog.Logger) (attemptStats, error) {
	var stats attemptStats
	stats.tables = []string{}

	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout())
	defer cancel()

	if err := ex.TestConnection(ctx); err != nil {
		return stats, fmt.Errorf("test connection: %w", err)
	}
	res, err := ex.ExtractAll(ctx, w)
	if err != nil {
		return stats, fmt.Errorf("extract: %w", err)
	}

	var loadErrs []error
	for _, ds := range res.Datasets {
		dlog := log.With("dataset", ds.Name)
		if ds.Err != nil {
			observability.DatasetFailures.WithLabelValues(cfg.Source, ds.Name, "extract").Inc()
			dlog.Warn("dataset extraction failed", "error", ds.Err)
			continue
		}
		batch, err := ds.Batch()
		if err != nil {
			observability.DatasetFailures.WithLabelValues(cfg.Source, ds.Name, "load").Inc()
			dlog.Warn("dataset rejected", "error", err)
			loadErrs = append(loadErrs, fmt.Errorf("%s: %w", ds.Name, err))
			continue
		}
		if batch.Len() == 0 {
			dlog.Debug("dataset empty")
			continue
		}

		table := warehouse.TableName(cfg.Source, ds.Name)
		lr, err := r.Loader.Load(ctx, table, batch, r.loadOptions(table))
		if err != nil {
			observability.DatasetFailures.WithLabelValues(cfg.Source, ds.Name, "load").Inc()
			dlog.Warn("dataset load failed", "table", table, "error", err)
			loadErrs = append(loadErrs, fmt.Errorf("%s: %w", ds.Name, err))
			continue
		}
		stats.rows += lr.Rows
		stats.tables = append(stats.tables, lr.Table)
		observability.RowsLoaded.WithLabelValues(cfg.Source, lr.Table).Add(float64(lr.Rows))
	}

	if failed := res.Failed(); len(failed) > 0 {
		names := make([]string, len(failed))
		for i, ds := range failed {
			names[i] = ds.Name
		}
		log.Warn("partial extraction", "failed", names, "datasets", len(res.Datasets))
	}
	if len(stats.tables) == 0 && len(loadErrs) > 0 {
		return stats, fmt.Errorf("load: %w", errors.Join(loadErrs...))
	}
	return stats, nil
}

// loadOptions upserts on the registered grain and replaces unknown tables.
func (r *Runner) loadOptions(table string) warehouse.LoadOptions {
	grains := r.Grains
	if grains == nil {
		grains = warehouse.DefaultGrains()
	}
	if g, ok := warehouse.GrainFor(grains, table); ok {
		return warehouse.LoadOptions{Mode: warehouse.ModeUpsert, Keys: g.Keys}
	}
	return warehouse.LoadOptions{Mode: warehouse.ModeReplace}
}

// finish records a completed attempt in memory, the run store and metrics.
func (r *Runner) finish(ctx context.Context, job *jobs.Job, run jobs.JobRun, w jobs.Window, log *slog.Logger) {
	job.Record(run)
	if d, ok := run.Duration(); ok {
		observability.JobDuration.WithLabelValues(run.JobName).Observe(d.Seconds())
	}
	if r.Store == nil {
		return
	}
	if err := r.Store.RecordRun(ctx, run, jobs.RunMeta{Source: job.Config().Source, Window: w}); err != nil {
		log.Error("persist run failed", "error", err)
	}
}

func (r *Runner) fail(ctx context.Context, cfg jobs.JobConfig, run jobs.JobRun, w jobs.Window, log *slog.Logger) {
	observability.JobRuns.WithLabelValues(cfg.Name, string(jobs.StatusFailed)).Inc()
	log.Error("job failed", "error", run.ErrorText(), "attempts", run.RetryAttempt+1)
	if !cfg.NotifyOnFailure || r.Notifier == nil {
		return
	}
	err := r.Notifier.NotifyJobFailure(ctx, notify.JobFailure{
		RunID:      run.ID,
		JobName:    cfg.Name,
		Source:     cfg.Source,
		Error:      run.ErrorText(),
		Attempts:   run.RetryAttempt + 1,
		Window:     w.String(),
		OccurredAt: r.now(),
	})
	if err != nil {
		log.Warn("failure notification incomplete", "error", err)
	}
}

func (r *Runner) logger() *slog.Logger {
	if r.Logger == nil {
		return slog.Default().With("component", "runner")
	}
	return r.Logger
}

func (r *Runner) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

func (r *Runner) sleep(ctx context.Context, d time.Duration) error {
	if r.Sleep != nil {
		return r.Sleep(ctx, d)
	}
	return SleepContext(ctx, d)
}

// SleepContext blocks for d or until ctx is done.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
