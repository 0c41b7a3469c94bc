package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/rishansujesh/ads-warehouse/internal/config"
	"github.com/rishansujesh/ads-warehouse/internal/insights"
	"github.com/rishansujesh/ads-warehouse/internal/observability"
	redisx "github.com/rishansujesh/ads-warehouse/internal/redis"
)

var insightsFlags struct {
	days    int
	publish bool
	recent  int
	json    bool
}

var insightsCmd = &cobra.Command{
	Use:   "insights",
	Short: "Generate insights from the warehouse",
	Long:  "Compares recent daily totals per source and prints ranked findings. --publish also appends them to the Redis insight stream; --recent reads back the newest published ones instead of generating.",
	RunE:  runInsights,
}

func init() {
	insightsCmd.Flags().IntVar(&insightsFlags.days, "days", 0, "Lookback window in days (default from INSIGHTS_LOOKBACK_DAYS)")
	insightsCmd.Flags().BoolVar(&insightsFlags.publish, "publish", false, "Append insights to the Redis stream")
	insightsCmd.Flags().IntVar(&insightsFlags.recent, "recent", 0, "Print the newest N published insights from the Redis stream")
	insightsCmd.MarkFlagsMutuallyExclusive("publish", "recent")
	insightsCmd.Flags().BoolVar(&insightsFlags.json, "json", false, "Print insights as JSON")
	rootCmd.AddCommand(insightsCmd)
}

func runInsights(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	logger := observability.NewLogger(cfg.LogLevel)

	if insightsFlags.recent > 0 {
		found, err := publishedInsights(ctx, &cfg, insightsFlags.recent)
		if err != nil {
			return err
		}
		return writeInsights(cmd.OutOrStdout(), found)
	}

	days := insightsFlags.days
	if days < 1 {
		days = cfg.Insights.LookbackDays
	}
	engine := &insights.Engine{
		Path: cfg.Warehouse.Path,
		Thresholds: insights.Thresholds{
			Significant: cfg.Insights.Significant,
			High:        cfg.Insights.High,
			Critical:    cfg.Insights.Critical,
		},
		Logger:      logger,
		Concurrency: cfg.Insights.Concurrency,
	}
	found, err := engine.Generate(ctx, days)
	if err != nil {
		return err
	}

	if insightsFlags.publish {
		rdb, err := insightRedis(ctx, &cfg, "--publish")
		if err != nil {
			return err
		}
		defer rdb.Close()
		ids, err := redisx.XAddAllJSON(ctx, rdb, cfg.Redis.InsightStream, found)
		if err != nil {
			return fmt.Errorf("publish insights: %w", err)
		}
		logger.Info("insights published", "stream", cfg.Redis.InsightStream, "count", len(ids))
	}

	return writeInsights(cmd.OutOrStdout(), found)
}

func insightRedis(ctx context.Context, cfg *config.AppConfig, flag string) (*redis.Client, error) {
	if !cfg.Redis.Enabled() {
		return nil, fmt.Errorf("%s needs REDIS_ADDR", flag)
	}
	rdb, err := redisx.NewClientWithBackoff(ctx, redisx.Config{
		Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB,
	})
	if err != nil {
		return nil, fmt.Errorf("redis connect: %w", err)
	}
	return rdb, nil
}

// publishedInsights reads the newest n insights from the stream, newest
// first.
func publishedInsights(ctx context.Context, cfg *config.AppConfig, n int) ([]insights.Insight, error) {
	rdb, err := insightRedis(ctx, cfg, "--recent")
	if err != nil {
		return nil, err
	}
	defer rdb.Close()
	found, err := redisx.ReadJSON[insights.Insight](ctx, rdb, cfg.Redis.InsightStream, int64(n))
	if err != nil {
		return nil, fmt.Errorf("read insights: %w", err)
	}
	return found, nil
}

func writeInsights(out io.Writer, found []insights.Insight) error {
	if insightsFlags.json {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(found)
	}
	printInsights(out, found)
	return nil
}

func printInsights(w io.Writer, found []insights.Insight) {
	if len(found) == 0 {
		fmt.Fprintln(w, "No insights.")
		return
	}
	counts := insights.CountByPriority(found)
	fmt.Fprintf(w, "%d insights (critical %d, high %d, medium %d, low %d, info %d)\n\n", len(found),
		counts[insights.PriorityCritical], counts[insights.PriorityHigh], counts[insights.PriorityMedium],
		counts[insights.PriorityLow], counts[insights.PriorityInfo])
	for _, in := range found {
		fmt.Fprintf(w, "[%s] %s\n", strings.ToUpper(string(in.Priority)), in.Title)
		fmt.Fprintf(w, "    %s\n", in.Description)
		if in.Recommendation != nil {
			fmt.Fprintf(w, "    -> %s\n", *in.Recommendation)
		}
	}
}
