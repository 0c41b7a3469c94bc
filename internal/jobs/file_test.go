package jobs

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleJobs = `
jobs:
  - name: gads_daily
    source: gads
    enabled: true
    schedule: "0 5 * * *"
  - name: gsc_weekly
    source: gsc
    schedule: "0 8 * * 1"
    lookback_days: 28
    retry_count: 1
    depends_on: [gads_daily]
`

func TestLoadFile_AppliesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobs.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleJobs), 0o600))

	cfgs, err := LoadFile(path)
	require.NoError(t, err)
	require.Len(t, cfgs, 2)

	assert.True(t, cfgs[0].Enabled)
	assert.Equal(t, 7, cfgs[0].LookbackDays)
	assert.Equal(t, 3, cfgs[0].RetryCount)
	assert.True(t, cfgs[0].NotifyOnFailure)

	assert.False(t, cfgs[1].Enabled)
	assert.Equal(t, 28, cfgs[1].LookbackDays)
	assert.Equal(t, 1, cfgs[1].RetryCount)
	assert.Equal(t, []string{"gads_daily"}, cfgs[1].DependsOn)
}

func TestParseFile_Errors(t *testing.T) {
	cases := map[string]string{
		"duplicate":     "jobs:\n  - {name: a, source: gads}\n  - {name: a, source: gsc}\n",
		"unknown field": "jobs:\n  - {name: a, source: gads, retries: 2}\n",
		"invalid":       "jobs:\n  - {name: a, source: gads, lookback_days: 0}\n",
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseFile([]byte(raw))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrConfig))
		})
	}
}

func TestMerge_OverridesByName(t *testing.T) {
	over := []JobConfig{
		NewJobConfig("gsc_daily", SourceSearchConsole, "0 9 * * *").WithEnabled(true),
		NewJobConfig("extra", SourceMeta, ""),
	}
	merged := Merge(DefaultJobs(), over)
	require.Len(t, merged, 6)
	assert.Equal(t, "gsc_daily", merged[1].Name)
	assert.Equal(t, "0 9 * * *", merged[1].Schedule)
	assert.True(t, merged[1].Enabled)
	assert.Equal(t, "extra", merged[5].Name)
}
