package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rishansujesh/ads-warehouse/internal/config"
	"github.com/rishansujesh/ads-warehouse/internal/extract"
	"github.com/rishansujesh/ads-warehouse/internal/extract/command"
	"github.com/rishansujesh/ads-warehouse/internal/extract/httpjson"
	"github.com/rishansujesh/ads-warehouse/internal/jobs"
	"github.com/rishansujesh/ads-warehouse/internal/notify"
	amqpnotify "github.com/rishansujesh/ads-warehouse/internal/notify/amqp"
	"github.com/rishansujesh/ads-warehouse/internal/notify/slack"
	"github.com/rishansujesh/ads-warehouse/internal/observability"
	redisx "github.com/rishansujesh/ads-warehouse/internal/redis"
	"github.com/rishansujesh/ads-warehouse/internal/schedule"
	"github.com/rishansujesh/ads-warehouse/internal/warehouse"
	"github.com/rishansujesh/ads-warehouse/internal/worker"
)

// app holds everything one process invocation wires together.
type app struct {
	cfg    config.AppConfig
	logger *slog.Logger
	loc    *time.Location

	rdb    *redis.Client
	store  *jobs.Store
	leader *redisx.LeaderElector
	sched  *schedule.Scheduler

	closers []func() error
}

type appOptions struct {
	JobsFile  string
	EnableAll bool
	Cron      bool
}

func newApp(ctx context.Context, cfg config.AppConfig, opts appOptions) (*app, error) {
	logger := observability.NewLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	a := &app{cfg: cfg, logger: logger}
	ok := false
	defer func() {
		if !ok {
			_ = a.Close()
		}
	}()

	loc, err := schedule.LoadLocation(cfg.Scheduler.Timezone)
	if err != nil {
		return nil, err
	}
	a.loc = loc

	configs, err := loadJobConfigs(opts.JobsFile, cfg.Scheduler.JobsFile)
	if err != nil {
		return nil, err
	}

	if cfg.Redis.Enabled() {
		rctx, cancel := context.WithTimeout(ctx, 15*time.Second)
		rdb, err := redisx.NewClientWithBackoff(rctx, redisx.Config{
			Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB,
		})
		cancel()
		if err != nil {
			return nil, fmt.Errorf("redis connect: %w", err)
		}
		a.rdb = rdb
		a.closers = append(a.closers, rdb.Close)
	}

	if cfg.RunStore.Enabled() {
		store, err := jobs.OpenStore(ctx, cfg.RunStore.DSN)
		if err != nil {
			return nil, fmt.Errorf("run store: %w", err)
		}
		a.store = store
		a.closers = append(a.closers, store.Close)
	}

	registry, err := buildRegistry(cfg.Extractors, logger)
	if err != nil {
		return nil, err
	}
	notifier, err := a.buildNotifier()
	if err != nil {
		return nil, err
	}

	runner := &worker.Runner{
		Extractors: registry,
		Loader:     warehouse.NewLoader(cfg.Warehouse.Path, logger),
		Grains:     warehouse.DefaultGrains(),
		Notifier:   notifier,
		Logger:     logger,
	}
	if a.store != nil {
		runner.Store = a.store
	}

	locker, err := a.buildLocker()
	if err != nil {
		return nil, err
	}

	schedOpts := schedule.Options{
		Runner:   runner,
		Logger:   logger,
		Location: loc,
		Cron:     opts.Cron,
		Locker:   locker,
	}
	if opts.Cron && a.rdb != nil {
		a.leader = redisx.NewLeaderElector(a.rdb, cfg.Redis.LeaderKey, cfg.Redis.LeaderTTL, "", logger)
		schedOpts.Leader = a.leader
	}
	a.sched = schedule.New(schedOpts)

	for _, jc := range configs {
		if opts.EnableAll {
			jc = jc.WithEnabled(true)
		}
		if err := a.sched.AddJob(jc); err != nil {
			return nil, err
		}
	}

	ok = true
	return a, nil
}

// loadJobConfigs overlays the jobs file (flag first, then env) on the
// built-in jobs.
func loadJobConfigs(paths ...string) ([]jobs.JobConfig, error) {
	base := jobs.DefaultJobs()
	for _, p := range paths {
		if p == "" {
			continue
		}
		overrides, err := jobs.LoadFile(p)
		if err != nil {
			return nil, err
		}
		return jobs.Merge(base, overrides), nil
	}
	return base, nil
}

// buildRegistry prefers a command extractor for a source and falls back to
// the HTTP export service.
func buildRegistry(cfg config.ExtractorsConfig, logger *slog.Logger) (extract.Registry, error) {
	reg := extract.Registry{}
	for source, cmd := range cfg.Commands {
		ex, err := command.New(command.Config{
			Source:  source,
			Command: cmd,
			Check:   cfg.Checks[source],
			Timeout: cfg.Timeout,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("extractor %s: %w", source, err)
		}
		reg[source] = ex
	}
	for source, base := range cfg.HTTPBases {
		if _, ok := reg[source]; ok {
			continue
		}
		hc := httpjson.Config{
			Source:            source,
			BaseURL:           base,
			Datasets:          extract.DefaultDatasets(source),
			RecordsPath:       cfg.RecordsPath,
			RequestsPerSecond: cfg.RateLimit,
		}
		if cfg.Token != "" {
			hc.Headers = map[string]string{"Authorization": "Bearer " + cfg.Token}
		}
		ex, err := httpjson.New(hc, logger)
		if err != nil {
			return nil, fmt.Errorf("extractor %s: %w", source, err)
		}
		reg[source] = ex
	}
	return reg, nil
}

func (a *app) buildNotifier() (*notify.Notifier, error) {
	n := a.cfg.Notifications
	sinks := []notify.Registration{{Name: "log", Sink: notify.LogSink(a.logger)}}

	if n.SlackWebhookURL != "" {
		c, err := slack.NewClient(slack.Config{
			WebhookURL: n.SlackWebhookURL,
			Channel:    n.SlackChannel,
			Timeout:    n.SlackTimeout,
			RetryLimit: 2,
		})
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, notify.Registration{Name: "slack", Sink: c})
	}
	if n.AMQPURL != "" {
		s, err := amqpnotify.Dial(n.AMQPURL, n.AMQPExchange)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, s.Close)
		sinks = append(sinks, notify.Registration{Name: "amqp", Sink: s})
	}
	if n.FailureStream && a.rdb != nil {
		sinks = append(sinks, notify.Registration{
			Name: "redis-stream",
			Sink: redisx.FailureSink{RDB: a.rdb, Stream: redisx.FailuresStream},
		})
	}
	return notify.New(notify.Options{Logger: a.logger, Sinks: sinks}), nil
}

func (a *app) buildLocker() (schedule.Locker, error) {
	switch a.cfg.Scheduler.LockBackend {
	case "redis":
		if a.rdb == nil {
			return nil, errors.New("redis lock backend needs REDIS_ADDR")
		}
		return redisx.NewLocker(a.rdb, "", a.cfg.Redis.LockTTL), nil
	case "postgres":
		if a.store == nil {
			return nil, errors.New("postgres lock backend needs RUN_STORE_DSN")
		}
		return &schedule.PgLocker{DB: a.store.DB}, nil
	default:
		return schedule.NewLocalLocker(), nil
	}
}

// findJob resolves a job by name, then by source id.
func (a *app) findJob(key string) (string, bool) {
	if _, ok := a.sched.Job(key); ok {
		return key, true
	}
	for _, st := range a.sched.JobStatus() {
		if st.Source == key {
			return st.Name, true
		}
	}
	return "", false
}

func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func exitCode(err error) int {
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}
