// Command scheduler runs the marketing ETL jobs: on their cron schedules,
// on demand, or all at once, and derives insights from the warehouse.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/rishansujesh/ads-warehouse/internal/api/server"
	"github.com/rishansujesh/ads-warehouse/internal/config"
	"github.com/rishansujesh/ads-warehouse/internal/jobs"
	"github.com/rishansujesh/ads-warehouse/internal/schedule"
	"github.com/rishansujesh/ads-warehouse/internal/warehouse"
)

var errRunFailed = errors.New("run failed")

var rootFlags struct {
	start    bool
	runNow   string
	runAll   bool
	listJobs bool
	force    bool
	enable   bool
	jobsFile string
}

var rootCmd = &cobra.Command{
	Use:           "scheduler",
	Short:         "Marketing ETL scheduler",
	Long:          "Runs extraction+load jobs into the warehouse on cron schedules or on demand, with retries and failure notifications.",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runRoot,
}

func init() {
	f := rootCmd.PersistentFlags()
	f.StringVar(&rootFlags.jobsFile, "jobs-file", "", "YAML file overriding the built-in jobs")
	f.BoolVar(&rootFlags.enable, "enable", false, "Enable every job for this process")

	rootCmd.Flags().BoolVar(&rootFlags.start, "start", false, "Start the cron scheduler and status server")
	rootCmd.Flags().StringVar(&rootFlags.runNow, "run-now", "", "Run one job now, by source id or job name")
	rootCmd.Flags().BoolVar(&rootFlags.runAll, "run-all", false, "Run every job now in dependency order")
	rootCmd.Flags().BoolVar(&rootFlags.listJobs, "list-jobs", false, "List registered jobs")
	rootCmd.Flags().BoolVar(&rootFlags.force, "force", false, "Run jobs even when disabled")
	rootCmd.MarkFlagsMutuallyExclusive("start", "run-now", "run-all", "list-jobs")
}

func main() {
	os.Exit(exitCode(rootCmd.Execute()))
}

func runRoot(cmd *cobra.Command, _ []string) error {
	if !rootFlags.start && rootFlags.runNow == "" && !rootFlags.runAll && !rootFlags.listJobs {
		return cmd.Help()
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, appOptions{
		JobsFile:  rootFlags.jobsFile,
		EnableAll: rootFlags.enable,
		Cron:      rootFlags.start,
	})
	if err != nil {
		return err
	}
	defer a.Close()

	out := cmd.OutOrStdout()
	switch {
	case rootFlags.listJobs:
		return printJobs(out, a.sched.JobStatus())
	case rootFlags.runNow != "":
		name, ok := a.findJob(rootFlags.runNow)
		if !ok {
			return fmt.Errorf("%w: %s", schedule.ErrJobNotFound, rootFlags.runNow)
		}
		run, err := a.sched.RunJob(ctx, name, rootFlags.force)
		if err != nil {
			return err
		}
		return reportRuns(out, []jobs.JobRun{run})
	case rootFlags.runAll:
		return reportRuns(out, a.sched.RunAllJobs(ctx, rootFlags.force))
	default:
		return a.serve(ctx)
	}
}

// serve runs cron triggers, leader election and the status server until a
// signal arrives.
func (a *app) serve(ctx context.Context) error {
	if a.leader != nil {
		a.leader.Start(ctx)
		defer a.leader.Stop()
	}

	checks := map[string]server.Check{
		"warehouse": func(ctx context.Context) error {
			db, err := warehouse.Open(ctx, a.cfg.Warehouse.Path)
			if err != nil {
				return err
			}
			return db.Close()
		},
	}
	if a.rdb != nil {
		checks["redis"] = func(ctx context.Context) error { return a.rdb.Ping(ctx).Err() }
	}
	var runs server.RunHistory
	if a.store != nil {
		runs = a.store
		checks["run_store"] = func(ctx context.Context) error { return a.store.DB.PingContext(ctx) }
	}

	srv := server.New(a.sched, runs, checks, a.logger)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Serve(gctx, server.ServeOptions{
			HTTPAddr: a.cfg.Scheduler.HTTPAddr,
			GRPCAddr: a.cfg.Scheduler.GRPCAddr,
		})
	})
	g.Go(func() error { return a.sched.Start(gctx) })
	return g.Wait()
}

func printJobs(w io.Writer, st []schedule.JobStatus) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tSOURCE\tSCHEDULE\tENABLED\tNEXT RUN\tLAST RUN")
	for _, s := range st {
		next, last := "-", "-"
		if s.NextRun != nil {
			next = s.NextRun.Format(time.RFC3339)
		}
		if s.LastRun != nil {
			last = string(s.LastRun.Status())
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%s\t%s\n", s.Name, s.Source, s.Schedule, s.Enabled, next, last)
	}
	return tw.Flush()
}

// reportRuns prints each run as one JSON line and fails when any run did.
func reportRuns(w io.Writer, runs []jobs.JobRun) error {
	enc := json.NewEncoder(w)
	failed := 0
	for _, r := range runs {
		if err := enc.Encode(r); err != nil {
			return err
		}
		if !r.Success {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%w: %d of %d jobs", errRunFailed, failed, len(runs))
	}
	return nil
}
