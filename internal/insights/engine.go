package insights

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rishansujesh/ads-warehouse/internal/jobs"
	"github.com/rishansujesh/ads-warehouse/internal/observability"
	"github.com/rishansujesh/ads-warehouse/internal/warehouse"
)

const (
	DefaultLookbackDays = 7
	defaultConcurrency  = 4
)

// Engine evaluates Rules against the warehouse at Path. The zero values of
// Rules, Thresholds, Logger, Now and Concurrency fall back to defaults.
type Engine struct {
	Path        string
	Rules       []Rule
	Thresholds  Thresholds
	Logger      *slog.Logger
	Now         func() time.Time
	Concurrency int
}

// Generate evaluates every rule over the trailing lookbackDays (ending
// yesterday) and returns the findings ordered by priority. A missing table
// skips its rules; a failing query drops that source's findings only.
func (e *Engine) Generate(ctx context.Context, lookbackDays int) ([]Insight, error) {
	if lookbackDays < 1 {
		lookbackDays = DefaultLookbackDays
	}
	logger := e.logger()

	db, err := warehouse.OpenReadOnly(ctx, e.Path)
	if errors.Is(err, os.ErrNotExist) {
		logger.InfoContext(ctx, "warehouse not created yet, no insights", "path", e.Path)
		return []Insight{}, nil
	}
	if err != nil {
		return nil, err
	}
	defer db.Close()

	now := e.now()
	groups := groupBySource(e.rules())
	results := make([][]Insight, len(groups))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency())
	for i, grp := range groups {
		g.Go(func() error {
			found, err := e.evaluateSource(gctx, db, grp, now, lookbackDays)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				logger.WarnContext(gctx, "insight source skipped", "source", grp.source, "error", err)
				observability.InsightSourceErrors.WithLabelValues(grp.source).Inc()
				return nil
			}
			results[i] = found
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("generate insights: %w", err)
	}

	out := []Insight{}
	for _, found := range results {
		out = append(out, found...)
	}
	SortByPriority(out)
	for _, in := range out {
		observability.InsightsGenerated.WithLabelValues(in.Source, string(in.Priority)).Inc()
	}
	logger.InfoContext(ctx, "insights generated",
		"count", len(out), "lookback_days", lookbackDays, "sources", len(groups))
	return out, nil
}

func (e *Engine) evaluateSource(ctx context.Context, q warehouse.Querier, grp sourceRules, now time.Time, lookback int) ([]Insight, error) {
	ev := evaluator{
		thresholds: e.Thresholds.orDefault(),
		now:        now,
		end:        jobs.WindowFor(now, 1).End,
	}
	exists := map[string]bool{}
	var out []Insight
	for _, r := range grp.rules {
		ok, seen := exists[r.Table]
		if !seen {
			var err error
			ok, err = warehouse.TableExists(ctx, q, r.Table)
			if err != nil {
				return nil, fmt.Errorf("check table %s: %w", r.Table, err)
			}
			exists[r.Table] = ok
			if !ok {
				e.logger().DebugContext(ctx, "table missing, rules skipped", "source", grp.source, "table", r.Table)
			}
		}
		if !ok {
			continue
		}
		s, err := loadSeries(ctx, q, r, jobs.WindowFor(now, r.spanDays(lookback)))
		if err != nil {
			return nil, err
		}
		out = append(out, ev.evaluate(r, s)...)
	}
	return out, nil
}

type sourceRules struct {
	source string
	rules  []Rule
}

// groupBySource keeps sources in first-seen order and rules in their
// declared order.
func groupBySource(rules []Rule) []sourceRules {
	idx := map[string]int{}
	var out []sourceRules
	for _, r := range rules {
		i, ok := idx[r.Source]
		if !ok {
			i = len(out)
			idx[r.Source] = i
			out = append(out, sourceRules{source: r.Source})
		}
		out[i].rules = append(out[i].rules, r)
	}
	return out
}

func (e *Engine) rules() []Rule {
	if len(e.Rules) == 0 {
		return DefaultRules()
	}
	return e.Rules
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e *Engine) concurrency() int {
	if e.Concurrency < 1 {
		return defaultConcurrency
	}
	return e.Concurrency
}

func (e *Engine) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger.With("component", "insights")
	}
	return slog.Default().With("component", "insights")
}
