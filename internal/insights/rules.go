package insights

import "github.com/rishansujesh/ads-warehouse/internal/jobs"

type Mode string

const (
	ModeDayOverDay Mode = "day_over_day"
	ModeRolling    Mode = "rolling"
	// ModeNone skips the change comparison; anomaly and milestone checks
	// still run.
	ModeNone Mode = "none"
)

type Unit string

const (
	UnitCount    Unit = "count"
	UnitCurrency Unit = "currency"
	UnitRatio    Unit = "ratio"
	UnitPercent  Unit = "percent"
)

// Rule is the policy for one metric of one source. A metric is either a
// summed Column or the ratio Numerator/Denominator of two summed columns.
type Rule struct {
	Source      string
	Table       string
	Metric      string
	Column      string
	Numerator   string
	Denominator string
	DateColumn  string
	Unit        Unit

	Mode Mode
	Days int // window length for ModeRolling
	Type Type

	// Priorities for the significant band; high and critical bands map to
	// high and critical regardless of direction.
	UpPriority   Priority
	DownPriority Priority

	UpRecommendation   string
	DownRecommendation string

	Anomaly    bool
	Milestones []float64
}

func (r Rule) IsRatio() bool { return r.Numerator != "" && r.Denominator != "" }

func (r Rule) dateColumn() string {
	if r.DateColumn == "" {
		return "date"
	}
	return r.DateColumn
}

const (
	anomalyMinPoints = 7
	anomalyZ         = 3.0
)

// spanDays is how many trailing days the rule needs to evaluate.
func (r Rule) spanDays(lookback int) int {
	need := 2
	if r.Mode == ModeRolling {
		need = 2 * max(r.Days, 1)
	}
	if r.Anomaly {
		need = max(need, 2*anomalyMinPoints+1)
	}
	return max(need, lookback)
}

func (r Rule) priorityFor(b Band, change float64) Priority {
	switch b {
	case BandCritical:
		return PriorityCritical
	case BandHigh:
		return PriorityHigh
	}
	p := r.UpPriority
	if change < 0 {
		p = r.DownPriority
	}
	if p == "" {
		return PriorityMedium
	}
	return p
}

func (r Rule) recommendationFor(change float64) string {
	if change < 0 {
		return r.DownRecommendation
	}
	return r.UpRecommendation
}

var sourceLabels = map[string]string{
	jobs.SourceGoogleAds:     "Google Ads",
	jobs.SourceSearchConsole: "Search Console",
	jobs.SourceMeta:          "Meta Ads",
	jobs.SourceAnalytics:     "Google Analytics",
	jobs.SourceTwitter:       "Twitter",
}

func SourceLabel(source string) string {
	if l, ok := sourceLabels[source]; ok {
		return l
	}
	return source
}

// DefaultRules is the built-in metric policy, grouped by source in
// evaluation order.
func DefaultRules() []Rule {
	return []Rule{
		// Google Ads
		{
			Source: jobs.SourceGoogleAds, Table: "gads_daily_summary", Metric: "cost", Column: "cost", Unit: UnitCurrency,
			Mode: ModeDayOverDay, Type: TypePerformanceChange, UpPriority: PriorityMedium, DownPriority: PriorityMedium,
			UpRecommendation:   "Review budgets and bid strategies for campaigns driving the spend increase.",
			DownRecommendation: "Check for paused campaigns, exhausted budgets or disapproved ads.",
			Anomaly:            true,
		},
		{
			Source: jobs.SourceGoogleAds, Table: "gads_daily_summary", Metric: "clicks", Column: "clicks", Unit: UnitCount,
			Mode: ModeDayOverDay, Type: TypePerformanceChange, UpPriority: PriorityLow, DownPriority: PriorityMedium,
			DownRecommendation: "Look for lost impression share or lowered bids on top campaigns.",
		},
		{
			Source: jobs.SourceGoogleAds, Table: "gads_daily_summary", Metric: "conversions", Column: "conversions", Unit: UnitCount,
			Mode: ModeDayOverDay, Type: TypePerformanceChange, UpPriority: PriorityMedium, DownPriority: PriorityHigh,
			UpRecommendation:   "Consider shifting budget toward the campaigns behind the conversion lift.",
			DownRecommendation: "Verify conversion tracking and landing pages before changing bids.",
		},
		{
			Source: jobs.SourceGoogleAds, Table: "gads_daily_summary", Metric: "cost per click", Numerator: "cost", Denominator: "clicks", Unit: UnitCurrency,
			Mode: ModeDayOverDay, Type: TypePerformanceChange, UpPriority: PriorityMedium, DownPriority: PriorityLow,
			UpRecommendation: "Rising CPC: review auction insights and keyword match types.",
		},
		{
			Source: jobs.SourceGoogleAds, Table: "gads_daily_summary", Metric: "cost per conversion", Numerator: "cost", Denominator: "conversions", Unit: UnitCurrency,
			Mode: ModeRolling, Days: 7, Type: TypeTrend, UpPriority: PriorityHigh, DownPriority: PriorityLow,
			UpRecommendation: "Acquisition is getting more expensive; pause the weakest ad groups.",
		},

		// Search Console
		{
			Source: jobs.SourceSearchConsole, Table: "gsc_daily_totals", Metric: "clicks", Column: "clicks", Unit: UnitCount,
			Mode: ModeRolling, Days: 7, Type: TypeTrend, UpPriority: PriorityMedium, DownPriority: PriorityHigh,
			UpRecommendation:   "Organic clicks are growing; find the pages gaining and strengthen internal links to them.",
			DownRecommendation: "Organic clicks are falling; check for ranking losses, indexing issues or seasonality.",
		},
		{
			Source: jobs.SourceSearchConsole, Table: "gsc_daily_totals", Metric: "impressions", Column: "impressions", Unit: UnitCount,
			Mode: ModeRolling, Days: 7, Type: TypeTrend, UpPriority: PriorityLow, DownPriority: PriorityMedium,
		},
		{
			Source: jobs.SourceSearchConsole, Table: "gsc_daily_totals", Metric: "ctr", Numerator: "clicks", Denominator: "impressions", Unit: UnitPercent,
			Mode: ModeRolling, Days: 7, Type: TypeTrend, UpPriority: PriorityLow, DownPriority: PriorityMedium,
			DownRecommendation: "Click-through rate dropped; review titles and meta descriptions of top queries.",
		},

		// Meta
		{
			Source: jobs.SourceMeta, Table: "meta_daily_account", Metric: "spend", Column: "spend", Unit: UnitCurrency,
			Mode: ModeDayOverDay, Type: TypePerformanceChange, UpPriority: PriorityMedium, DownPriority: PriorityMedium,
			UpRecommendation:   "Confirm the spend increase matches planned budget changes.",
			DownRecommendation: "Check ad set delivery and payment status.",
			Anomaly:            true,
		},
		{
			Source: jobs.SourceMeta, Table: "meta_daily_account", Metric: "clicks", Column: "clicks", Unit: UnitCount,
			Mode: ModeDayOverDay, Type: TypePerformanceChange, UpPriority: PriorityLow, DownPriority: PriorityMedium,
		},
		{
			Source: jobs.SourceMeta, Table: "meta_daily_account", Metric: "cost per click", Numerator: "spend", Denominator: "clicks", Unit: UnitCurrency,
			Mode: ModeDayOverDay, Type: TypePerformanceChange, UpPriority: PriorityMedium, DownPriority: PriorityLow,
			UpRecommendation: "Creative fatigue is a common cause of rising CPC; rotate ads.",
		},

		// GA4
		{
			Source: jobs.SourceAnalytics, Table: "ga4_daily_summary", Metric: "sessions", Column: "sessions", Unit: UnitCount,
			Mode: ModeDayOverDay, Type: TypePerformanceChange, UpPriority: PriorityLow, DownPriority: PriorityHigh,
			DownRecommendation: "Compare traffic sources to locate the channel behind the drop.",
			Anomaly:            true,
		},
		{
			Source: jobs.SourceAnalytics, Table: "ga4_daily_summary", Metric: "conversions", Column: "conversions", Unit: UnitCount,
			Mode: ModeDayOverDay, Type: TypePerformanceChange, UpPriority: PriorityMedium, DownPriority: PriorityHigh,
			DownRecommendation: "Verify key events still fire on the conversion pages.",
		},
		{
			Source: jobs.SourceAnalytics, Table: "ga4_daily_summary", Metric: "conversion rate", Numerator: "conversions", Denominator: "sessions", Unit: UnitPercent,
			Mode: ModeRolling, Days: 7, Type: TypeTrend, UpPriority: PriorityMedium, DownPriority: PriorityHigh,
			DownRecommendation: "Conversion rate is slipping; review recent site or checkout changes.",
		},

		// Twitter
		{
			Source: jobs.SourceTwitter, Table: "twitter_daily_metrics", Metric: "impressions", Column: "impressions", Unit: UnitCount,
			Mode: ModeRolling, Days: 7, Type: TypeTrend, UpPriority: PriorityLow, DownPriority: PriorityMedium,
		},
		{
			Source: jobs.SourceTwitter, Table: "twitter_daily_metrics", Metric: "engagements", Column: "engagements", Unit: UnitCount,
			Mode: ModeDayOverDay, Type: TypePerformanceChange, UpPriority: PriorityLow, DownPriority: PriorityLow,
			Anomaly: true,
		},
		{
			Source: jobs.SourceTwitter, Table: "twitter_daily_metrics", Metric: "followers", Column: "followers", Unit: UnitCount,
			Mode: ModeNone, Type: TypeMilestone,
			Milestones: []float64{1000, 5000, 10000, 25000, 50000, 100000},
		},
	}
}
