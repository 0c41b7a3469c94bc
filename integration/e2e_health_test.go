package integration

import (
	"encoding/json"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func baseURL(t *testing.T) string {
	t.Helper()
	if os.Getenv("E2E") == "" {
		t.Skip("set E2E=1 to run end-to-end tests against a running scheduler --start")
	}
	if u := os.Getenv("E2E_BASE_URL"); u != "" {
		return u
	}
	return "http://localhost:8080"
}

var client = &http.Client{Timeout: 3 * time.Second}

func TestSchedulerHealthz(t *testing.T) {
	base := baseURL(t)
	resp, err := client.Get(base + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSchedulerListsDefaultJobs(t *testing.T) {
	base := baseURL(t)
	resp, err := client.Get(base + "/v1/jobs")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Jobs []struct {
			Name   string `json:"name"`
			Source string `json:"source"`
		} `json:"jobs"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))

	sources := map[string]bool{}
	for _, j := range body.Jobs {
		sources[j.Source] = true
	}
	for _, s := range []string{"gads", "gsc", "meta", "ga4", "twitter"} {
		assert.True(t, sources[s], "missing job for %s", s)
	}
}

func TestSchedulerMetrics(t *testing.T) {
	base := baseURL(t)
	resp, err := client.Get(base + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
