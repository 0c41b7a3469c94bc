package jobs

// DefaultJobs is one daily job per source at staggered times. All of them
// are disabled so nothing runs against live credentials without opt-in.
func DefaultJobs() []JobConfig {
	return []JobConfig{
		NewJobConfig("gads_daily", SourceGoogleAds, "0 6 * * *"),
		NewJobConfig("gsc_daily", SourceSearchConsole, "15 6 * * *"),
		NewJobConfig("meta_daily", SourceMeta, "30 6 * * *"),
		NewJobConfig("ga4_daily", SourceAnalytics, "45 6 * * *"),
		NewJobConfig("twitter_daily", SourceTwitter, "0 7 * * *"),
	}
}
