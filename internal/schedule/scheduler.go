// Package schedule owns the job registry and fires jobs on their cron
// schedules.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/rishansujesh/ads-warehouse/internal/jobs"
	"github.com/rishansujesh/ads-warehouse/internal/observability"
)

var (
	ErrJobNotFound     = errors.New("job not found")
	ErrCronUnavailable = errors.New("cron scheduling unavailable; use --run-now or --run-all")
)

// JobRunner executes one job to completion.
type JobRunner interface {
	Run(ctx context.Context, job *jobs.Job, force bool) jobs.JobRun
}

// Leader gates cron triggers in multi-instance deployments.
type Leader interface {
	IsLeader() bool
}

type Options struct {
	Runner   JobRunner
	Logger   *slog.Logger
	Location *time.Location
	// Cron enables the trigger backend. Without it jobs only run manually.
	Cron   bool
	Locker Locker
	Leader Leader
	Now    func() time.Time
}

type entry struct {
	job      *jobs.Job
	sched    cron.Schedule
	entryID  cron.EntryID
	hasEntry bool
}

type Scheduler struct {
	runner JobRunner
	logger *slog.Logger
	loc    *time.Location
	locker Locker
	leader Leader
	now    func() time.Time
	cron   *cron.Cron

	stopped  chan struct{}
	stopOnce sync.Once

	mu      sync.RWMutex
	entries map[string]*entry
	order   []string
}

// JobStatus is a point-in-time view of one registered job.
type JobStatus struct {
	Name      string       `json:"name"`
	Source    string       `json:"source"`
	Schedule  string       `json:"schedule"`
	Enabled   bool         `json:"enabled"`
	Scheduled bool         `json:"scheduled"`
	NextRun   *time.Time   `json:"next_run,omitempty"`
	LastRun   *jobs.JobRun `json:"last_run,omitempty"`
	RunCount  int          `json:"run_count"`
}

func New(opts Options) *Scheduler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "scheduler")
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}
	locker := opts.Locker
	if locker == nil {
		locker = NewLocalLocker()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	s := &Scheduler{
		runner:  opts.Runner,
		logger:  logger,
		loc:     loc,
		locker:  locker,
		leader:  opts.Leader,
		now:     now,
		entries: map[string]*entry{},
		stopped: make(chan struct{}),
	}
	if opts.Cron {
		cl := cronLogger{logger}
		s.cron = cron.New(
			cron.WithLocation(loc),
			cron.WithParser(parser),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl)),
		)
	}
	return s
}

// AddJob registers cfg, replacing a job of the same name. A schedule that
// does not parse is logged and the job stays manual-only.
func (s *Scheduler) AddJob(cfg jobs.JobConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	e := &entry{job: jobs.NewJob(cfg)}
	if cfg.Schedule != "" {
		sched, err := ParseSchedule(cfg.Schedule)
		if err != nil {
			s.logger.Warn("invalid schedule, job is manual-only", "job", cfg.Name, "schedule", cfg.Schedule, "error", err)
		} else {
			e.sched = sched
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.entries[cfg.Name]; ok {
		s.removeTrigger(old)
	} else {
		s.order = append(s.order, cfg.Name)
	}
	if s.cron != nil && e.sched != nil && cfg.Enabled {
		name := cfg.Name
		e.entryID = s.cron.Schedule(e.sched, cron.FuncJob(func() { s.trigger(name) }))
		e.hasEntry = true
	}
	s.entries[cfg.Name] = e
	s.logger.Info("job registered", "job", cfg.Name, "source", cfg.Source, "schedule", cfg.Schedule, "enabled", cfg.Enabled, "scheduled", e.hasEntry)
	return nil
}

func (s *Scheduler) RemoveJob(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[name]
	if !ok {
		return false
	}
	s.removeTrigger(e)
	delete(s.entries, name)
	for i, n := range s.order {
		if n == name {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	s.logger.Info("job removed", "job", name)
	return true
}

func (s *Scheduler) removeTrigger(e *entry) {
	if e.hasEntry && s.cron != nil {
		s.cron.Remove(e.entryID)
		e.hasEntry = false
	}
}

// Job returns the registered job by name.
func (s *Scheduler) Job(name string) (*jobs.Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[name]
	if !ok {
		return nil, false
	}
	return e.job, true
}

// RunJob runs a job now, waiting for a run already in progress to finish.
func (s *Scheduler) RunJob(ctx context.Context, name string, force bool) (jobs.JobRun, error) {
	job, ok := s.Job(name)
	if !ok {
		return jobs.JobRun{}, fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}
	unlock, err := s.locker.Lock(ctx, name)
	if err != nil {
		return jobs.JobRun{}, fmt.Errorf("lock %s: %w", name, err)
	}
	defer unlock()
	return s.runner.Run(ctx, job, force), nil
}

// RunAllJobs runs every job once, one at a time, in registration order
// with prerequisites moved ahead of their dependents. A job whose
// prerequisite did not succeed in this pass is recorded as skipped.
func (s *Scheduler) RunAllJobs(ctx context.Context, force bool) []jobs.JobRun {
	var out []jobs.JobRun
	for _, name := range s.runOrder() {
		job, ok := s.Job(name)
		if !ok {
			continue
		}
		if dep, blocked := s.blockedBy(job); blocked {
			out = append(out, s.skip(job, dep))
			continue
		}
		run, err := s.RunJob(ctx, name, force)
		if err != nil {
			s.logger.Error("run failed to start", "job", name, "error", err)
			continue
		}
		out = append(out, run)
	}
	return out
}

// runOrder is a stable topological sort of the registration order.
func (s *Scheduler) runOrder() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.order))
	state := map[string]int{} // 1 visiting, 2 done
	var visit func(string)
	visit = func(n string) {
		e, ok := s.entries[n]
		if !ok || state[n] != 0 {
			if state[n] == 1 {
				s.logger.Warn("dependency cycle", "job", n)
			}
			return
		}
		state[n] = 1
		for _, d := range e.job.Config().DependsOn {
			visit(d)
		}
		state[n] = 2
		out = append(out, n)
	}
	for _, n := range s.order {
		visit(n)
	}
	return out
}

// blockedBy reports the first registered prerequisite whose latest run
// did not succeed.
func (s *Scheduler) blockedBy(job *jobs.Job) (string, bool) {
	for _, d := range job.Config().DependsOn {
		dj, ok := s.Job(d)
		if !ok {
			continue
		}
		if last, ok := dj.LastRun(); ok && !last.Success {
			return d, true
		}
	}
	return "", false
}

func (s *Scheduler) skip(job *jobs.Job, dep string) jobs.JobRun {
	now := s.now()
	run := jobs.NewRun(job.Name(), 0, now).Complete(now, fmt.Errorf("prerequisite %s did not succeed", dep))
	job.Record(run)
	observability.JobRuns.WithLabelValues(job.Name(), "skipped").Inc()
	s.logger.Warn("job skipped", "job", job.Name(), "prerequisite", dep)
	return run
}

// trigger is the cron callback. Overlapping triggers are dropped.
func (s *Scheduler) trigger(name string) {
	if s.leader != nil && !s.leader.IsLeader() {
		s.logger.Debug("not leader, trigger ignored", "job", name)
		return
	}
	job, ok := s.Job(name)
	if !ok {
		return
	}
	if dep, blocked := s.blockedBy(job); blocked {
		s.skip(job, dep)
		return
	}

	ctx := context.Background()
	unlock, ok, err := s.locker.TryLock(ctx, name)
	if err != nil {
		s.logger.Error("lock failed, trigger dropped", "job", name, "error", err)
		return
	}
	if !ok {
		s.logger.Warn("job still running, trigger skipped", "job", name)
		return
	}
	defer unlock()
	s.runner.Run(ctx, job, false)
}

// Start runs the cron backend and blocks until ctx is cancelled or the
// process gets SIGINT/SIGTERM, then stops gracefully.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.cron == nil {
		return ErrCronUnavailable
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case <-s.stopped:
		return nil
	default:
	}
	s.cron.Start()
	s.logger.Info("scheduler started", "jobs", len(s.JobStatus()), "location", s.loc.String())
	select {
	case <-ctx.Done():
		s.logger.Info("scheduler stopping")
	case <-s.stopped:
	}
	s.Stop()
	// Stop may have run between the check above and cron.Start.
	<-s.cron.Stop().Done()
	return nil
}

// Stop halts triggers, waits for triggered runs in flight and makes a
// running Start return. It is safe to call more than once.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopped)
		if s.cron == nil {
			return
		}
		<-s.cron.Stop().Done()
		s.logger.Info("scheduler stopped")
	})
}

func (s *Scheduler) JobStatus() []JobStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now().In(s.loc)
	out := make([]JobStatus, 0, len(s.order))
	for _, name := range s.order {
		e := s.entries[name]
		cfg := e.job.Config()
		st := JobStatus{
			Name:      cfg.Name,
			Source:    cfg.Source,
			Schedule:  cfg.Schedule,
			Enabled:   cfg.Enabled,
			Scheduled: e.hasEntry,
			RunCount:  e.job.RunCount(),
		}
		if e.sched != nil && cfg.Enabled {
			next := e.sched.Next(now)
			st.NextRun = &next
		}
		if last, ok := e.job.LastRun(); ok {
			st.LastRun = &last
		}
		out = append(out, st)
	}
	return out
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct{ l *slog.Logger }

func (c cronLogger) Info(msg string, kv ...any) { c.l.Debug("cron: "+msg, kv...) }

func (c cronLogger) Error(err error, msg string, kv ...any) {
	c.l.Error("cron: "+msg, append(kv, "error", err)...)
}
