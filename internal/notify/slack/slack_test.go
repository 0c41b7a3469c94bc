package slack

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rishansujesh/ads-warehouse/internal/notify"
)

func TestSendJobFailure_RetriesThenSucceeds(t *testing.T) {
	var hits atomic.Int32
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c, err := NewClient(Config{WebhookURL: srv.URL, Channel: "#etl", RetryLimit: 2})
	require.NoError(t, err)

	err = c.SendJobFailure(context.Background(), notify.JobFailure{
		JobName:    "meta_daily",
		Source:     "meta",
		Error:      "failed after 4 attempts: token expired",
		Attempts:   4,
		OccurredAt: time.Date(2025, 3, 10, 6, 30, 0, 0, time.UTC),
		Metadata:   map[string]string{"host": "etl-1"},
	})
	require.NoError(t, err)
	assert.Equal(t, int32(2), hits.Load())
	assert.Equal(t, "#etl", got["channel"])
	text := got["text"].(string)
	assert.Contains(t, text, "meta_daily")
	assert.Contains(t, text, "token expired")
	assert.Contains(t, text, "host: etl-1")
	assert.Contains(t, text, "2025-03-10T06:30:00Z")
}

func TestSendJobFailure_GivesUp(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	c, err := NewClient(Config{WebhookURL: srv.URL})
	require.NoError(t, err)
	err = c.SendJobFailure(context.Background(), notify.JobFailure{JobName: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
}

func TestNewClient_RequiresURL(t *testing.T) {
	_, err := NewClient(Config{WebhookURL: "  "})
	require.Error(t, err)
}
