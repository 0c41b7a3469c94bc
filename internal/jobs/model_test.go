package jobs

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJobConfig_Defaults(t *testing.T) {
	c := NewJobConfig("gads_daily", SourceGoogleAds, "0 6 * * *")
	assert.False(t, c.Enabled)
	assert.Equal(t, 7, c.LookbackDays)
	assert.Equal(t, 3, c.RetryCount)
	assert.Equal(t, 5*time.Minute, c.RetryDelay())
	assert.Equal(t, 30*time.Minute, c.Timeout())
	assert.True(t, c.NotifyOnFailure)
	require.NoError(t, c.Validate())
}

func TestJobConfig_ValidateRejects(t *testing.T) {
	base := NewJobConfig("j", "gads", "")
	cases := map[string]func(*JobConfig){
		"missing name":   func(c *JobConfig) { c.Name = "" },
		"missing source": func(c *JobConfig) { c.Source = "" },
		"zero lookback":  func(c *JobConfig) { c.LookbackDays = 0 },
		"negative retry": func(c *JobConfig) { c.RetryCount = -1 },
		"zero timeout":   func(c *JobConfig) { c.TimeoutMinutes = 0 },
		"self depend":    func(c *JobConfig) { c.DependsOn = []string{"j"} },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := base.WithEnabled(false)
			mutate(&c)
			err := c.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrConfig))
			assert.False(t, IsRetryable(err))
		})
	}
}

func TestWithEnabled_ReturnsCopy(t *testing.T) {
	c := NewJobConfig("j", "gads", "")
	c.DependsOn = []string{"other"}
	on := c.WithEnabled(true)
	on.DependsOn[0] = "changed"

	assert.False(t, c.Enabled)
	assert.True(t, on.Enabled)
	assert.Equal(t, "other", c.DependsOn[0])
}

func TestJobRun_CompleteOnce(t *testing.T) {
	start := time.Date(2025, 3, 1, 6, 0, 0, 0, time.UTC)
	r := NewRun("j", 0, start)
	assert.Equal(t, StatusRunning, r.Status())
	_, ok := r.Duration()
	assert.False(t, ok)

	done := r.Complete(start.Add(90*time.Second), errors.New("boom"))
	assert.Equal(t, StatusFailed, done.Status())
	assert.Equal(t, "boom", done.ErrorText())
	d, ok := done.Duration()
	require.True(t, ok)
	assert.Equal(t, 90*time.Second, d)

	again := done.Complete(start.Add(time.Hour), nil)
	assert.Equal(t, done.CompletedAt, again.CompletedAt)
	assert.False(t, again.Success)
}

func TestJob_History(t *testing.T) {
	j := NewJob(NewJobConfig("j", "gads", ""))
	_, ok := j.LastRun()
	assert.False(t, ok)

	now := time.Now()
	for i := 0; i < 3; i++ {
		j.Record(NewRun("j", i, now).Complete(now, nil))
	}
	last, ok := j.LastRun()
	require.True(t, ok)
	assert.Equal(t, 2, last.RetryAttempt)
	assert.Equal(t, 3, j.RunCount())
	assert.Len(t, j.History(), 3)
}

func TestJob_HistoryIsBounded(t *testing.T) {
	j := NewJob(NewJobConfig("j", "gads", ""))
	now := time.Now()
	for i := 0; i < maxHistory+10; i++ {
		j.Record(NewRun("j", 0, now))
	}
	assert.Len(t, j.History(), maxHistory)
	assert.Equal(t, maxHistory+10, j.RunCount())
}

func TestDefaultJobs(t *testing.T) {
	defs := DefaultJobs()
	require.Len(t, defs, 5)
	want := map[string]string{
		SourceGoogleAds:     "0 6 * * *",
		SourceSearchConsole: "15 6 * * *",
		SourceMeta:          "30 6 * * *",
		SourceAnalytics:     "45 6 * * *",
		SourceTwitter:       "0 7 * * *",
	}
	for _, c := range defs {
		assert.False(t, c.Enabled, c.Name)
		assert.Equal(t, want[c.Source], c.Schedule, c.Name)
		require.NoError(t, c.Validate())
	}
}
