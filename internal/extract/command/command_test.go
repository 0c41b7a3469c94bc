package command

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rishansujesh/ads-warehouse/internal/jobs"
)

func testWindow() jobs.Window {
	return jobs.WindowFor(time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC), 2)
}

func TestNew_MissingCommand(t *testing.T) {
	_, err := New(Config{Source: "gads"}, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, jobs.ErrConfig))
}

func TestExtractAll_PassesWindowAndDecodes(t *testing.T) {
	script := `printf '{"campaigns":[{"date":"%s","campaign_id":"c1","clicks":10}],"keywords":{"error":"quota"}}' "$START_DATE"`
	e, err := New(Config{Source: "gads", Command: script, Timeout: 5 * time.Second}, nil)
	require.NoError(t, err)

	res, err := e.ExtractAll(context.Background(), testWindow())
	require.NoError(t, err)
	require.Len(t, res.Datasets, 2)

	camp := res.Datasets[0]
	assert.Equal(t, "campaigns", camp.Name)
	require.NoError(t, camp.Err)
	require.Len(t, camp.Records, 1)
	assert.Equal(t, "2025-03-08", camp.Records[0]["date"])
	assert.Equal(t, json.Number("10"), camp.Records[0]["clicks"])

	kw := res.Datasets[1]
	assert.Equal(t, "keywords", kw.Name)
	assert.EqualError(t, kw.Err, "quota")
}

func TestExtractAll_NonZeroExit(t *testing.T) {
	e, err := New(Config{Source: "gads", Command: "echo bad creds >&2; exit 3"}, nil)
	require.NoError(t, err)
	_, err = e.ExtractAll(context.Background(), testWindow())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad creds")
	assert.True(t, jobs.IsRetryable(err))
}

func TestExtractAll_Timeout(t *testing.T) {
	e, err := New(Config{Source: "gads", Command: "sleep 2", Timeout: 50 * time.Millisecond}, nil)
	require.NoError(t, err)
	_, err = e.ExtractAll(context.Background(), testWindow())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timeout")
}

func TestTestConnection(t *testing.T) {
	ok, err := New(Config{Source: "gads", Command: "true", Check: "true"}, nil)
	require.NoError(t, err)
	require.NoError(t, ok.TestConnection(context.Background()))

	bad, err := New(Config{Source: "gads", Command: "true", Check: "exit 1"}, nil)
	require.NoError(t, err)
	require.Error(t, bad.TestConnection(context.Background()))
}

func TestDecode_BadPayload(t *testing.T) {
	_, err := Decode([]byte("not json"))
	require.Error(t, err)

	_, err = Decode([]byte(`{"pages": 3}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "schema")

	_, err = Decode([]byte(`{"pages": [1, 2]}`))
	require.Error(t, err)
}
