package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/rishansujesh/ads-warehouse/internal/config"
	"github.com/rishansujesh/ads-warehouse/internal/jobs"
	"github.com/rishansujesh/ads-warehouse/internal/observability"
	"github.com/rishansujesh/ads-warehouse/internal/schedule"
	"github.com/rishansujesh/ads-warehouse/internal/warehouse"
)

var errValidation = errors.New("validation failed")

var validateJSON bool

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check job definitions and warehouse table grains",
	Long:  "Validates every job config and cron expression, then checks that each warehouse table holds at most one row per declared grain key.",
	RunE:  runValidate,
}

func init() {
	validateCmd.Flags().BoolVar(&validateJSON, "json", false, "Print the report as JSON")
	rootCmd.AddCommand(validateCmd)
}

type validateReport struct {
	Jobs   []jobCheck              `json:"jobs"`
	Grains []warehouse.GrainResult `json:"grains"`
	// Unregistered tables have no grain and are replaced on every load.
	Unregistered []string `json:"unregistered_tables,omitempty"`
}

type jobCheck struct {
	Name  string `json:"name"`
	Error string `json:"error,omitempty"`
}

func (r validateReport) failed() int {
	n := 0
	for _, j := range r.Jobs {
		if j.Error != "" {
			n++
		}
	}
	for _, g := range r.Grains {
		if !g.Passed() && !g.Skipped {
			n++
		}
	}
	return n
}

func runValidate(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := observability.NewLogger(cfg.LogLevel)

	configs, err := loadJobConfigs(rootFlags.jobsFile, cfg.Scheduler.JobsFile)
	if err != nil {
		return err
	}
	registry, err := buildRegistry(cfg.Extractors, logger)
	if err != nil {
		return err
	}
	report := validateReport{Jobs: checkJobs(configs, registry.Sources())}

	if _, err := os.Stat(cfg.Warehouse.Path); err == nil {
		v := &warehouse.Validator{Path: cfg.Warehouse.Path, Logger: logger}
		report.Grains, err = v.ValidateAll(cmd.Context())
		if err != nil {
			return err
		}
		report.Unregistered, err = v.Unregistered(cmd.Context())
		if err != nil {
			return err
		}
	}

	out := cmd.OutOrStdout()
	if validateJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return err
		}
	} else {
		printReport(out, report)
	}
	if n := report.failed(); n > 0 {
		return fmt.Errorf("%w: %d problems", errValidation, n)
	}
	return nil
}

// checkJobs validates each config, its cron expression and that its
// dependencies are registered. An enabled job must have an extractor among
// sources.
func checkJobs(configs []jobs.JobConfig, sources []string) []jobCheck {
	known := make(map[string]bool, len(configs))
	for _, c := range configs {
		known[c.Name] = true
	}
	extractors := make(map[string]bool, len(sources))
	for _, s := range sources {
		extractors[s] = true
	}
	out := make([]jobCheck, 0, len(configs))
	for _, c := range configs {
		chk := jobCheck{Name: c.Name}
		err := c.Validate()
		if err == nil && c.Schedule != "" {
			_, err = schedule.ParseSchedule(c.Schedule)
		}
		if err == nil && c.Enabled && !extractors[c.Source] {
			err = fmt.Errorf("%w %q: no extractor configured", jobs.ErrUnknownSource, c.Source)
		}
		if err == nil {
			for _, dep := range c.DependsOn {
				if !known[dep] {
					err = fmt.Errorf("%w: depends on unknown job %q", jobs.ErrConfig, dep)
					break
				}
			}
		}
		if err != nil {
			chk.Error = err.Error()
		}
		out = append(out, chk)
	}
	return out
}

func printReport(w io.Writer, r validateReport) {
	for _, j := range r.Jobs {
		if j.Error != "" {
			fmt.Fprintf(w, "FAIL job %s: %s\n", j.Name, j.Error)
			continue
		}
		fmt.Fprintf(w, "ok   job %s\n", j.Name)
	}
	for _, g := range r.Grains {
		switch {
		case g.Skipped:
			fmt.Fprintf(w, "skip table %s (missing)\n", g.Table)
		case g.Error != "":
			fmt.Fprintf(w, "FAIL table %s: %s\n", g.Table, g.Error)
		case g.DuplicateRows > 0:
			fmt.Fprintf(w, "FAIL table %s: %d duplicate rows on %v\n", g.Table, g.DuplicateRows, g.Keys)
		default:
			fmt.Fprintf(w, "ok   table %s (%d rows)\n", g.Table, g.TotalRows)
		}
	}
	for _, t := range r.Unregistered {
		fmt.Fprintf(w, "warn table %s (no grain registered)\n", t)
	}
}
