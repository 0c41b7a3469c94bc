package warehouse

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tempWarehouse(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "warehouse.db")
}

func mustBatch(t *testing.T, records []map[string]any) Batch {
	t.Helper()
	b, err := NewBatch(records)
	require.NoError(t, err)
	return b
}

type clickRow struct {
	Date       string
	CampaignID string
	Clicks     int64
}

func readClicks(t *testing.T, path, table string) []clickRow {
	t.Helper()
	ctx := context.Background()
	db, err := Open(ctx, path)
	require.NoError(t, err)
	defer db.Close()

	rows, err := db.QueryContext(ctx, `SELECT date, campaign_id, clicks FROM `+QuoteIdent(table)+` ORDER BY date, campaign_id`)
	require.NoError(t, err)
	defer rows.Close()

	var out []clickRow
	for rows.Next() {
		var r clickRow
		require.NoError(t, rows.Scan(&r.Date, &r.CampaignID, &r.Clicks))
		out = append(out, r)
	}
	require.NoError(t, rows.Err())
	return out
}

func campaignRecords() []map[string]any {
	return []map[string]any{
		{"date": "2025-01-01", "campaign_id": "c1", "clicks": 10},
		{"date": "2025-01-01", "campaign_id": "c2", "clicks": 20},
		{"date": "2025-01-02", "campaign_id": "c1", "clicks": 30},
	}
}

func TestSanitize(t *testing.T) {
	tests := map[string]string{
		"clicks":        "clicks",
		"cost-micros":   "cost_micros",
		"metrics.cost":  "metrics_cost",
		"7day_users":    "_7day_users",
		"  spaced out ": "spaced_out",
		"":              "_",
		"naïve":         "na_ve",
	}
	for in, want := range tests {
		assert.Equal(t, want, Sanitize(in), "Sanitize(%q)", in)
	}
	assert.Equal(t, "meta_daily_account", TableName("meta", "daily_account"))
}

func TestNewBatch_RaggedRecord(t *testing.T) {
	_, err := NewBatch([]map[string]any{
		{"date": "2025-01-01", "clicks": 1},
		{"date": "2025-01-02"},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRaggedRecord))

	_, err = NewBatch([]map[string]any{
		{"date": "2025-01-01", "clicks": 1},
		{"date": "2025-01-02", "impressions": 5},
	})
	assert.ErrorIs(t, err, ErrRaggedRecord)
}

func TestLoad_EmptyBatchIsNoop(t *testing.T) {
	path := tempWarehouse(t)
	l := NewLoader(path, nil)

	res, err := l.Load(context.Background(), "gads_campaigns", Batch{}, LoadOptions{Mode: ModeReplace})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Rows)

	db, err := Open(context.Background(), path)
	require.NoError(t, err)
	defer db.Close()
	exists, err := TableExists(context.Background(), db, "gads_campaigns")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestLoad_UpsertIsIdempotent(t *testing.T) {
	path := tempWarehouse(t)
	l := NewLoader(path, nil)
	ctx := context.Background()
	opts := LoadOptions{Mode: ModeUpsert, Keys: []string{"date", "campaign_id"}}

	res, err := l.Load(ctx, "gads_campaigns", mustBatch(t, campaignRecords()), opts)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Rows)
	assert.True(t, res.Created)
	first := readClicks(t, path, "gads_campaigns")

	res, err = l.Load(ctx, "gads_campaigns", mustBatch(t, campaignRecords()), opts)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Rows)
	assert.False(t, res.Created)

	assert.Equal(t, first, readClicks(t, path, "gads_campaigns"))
}

func TestLoad_UpsertReplacesOnlyMatchingKeys(t *testing.T) {
	path := tempWarehouse(t)
	l := NewLoader(path, nil)
	ctx := context.Background()
	opts := LoadOptions{Mode: ModeUpsert, Keys: []string{"date", "campaign_id"}}

	_, err := l.Load(ctx, "gads_campaigns", mustBatch(t, campaignRecords()), opts)
	require.NoError(t, err)

	_, err = l.Load(ctx, "gads_campaigns", mustBatch(t, []map[string]any{
		{"date": "2025-01-02", "campaign_id": "c1", "clicks": 99},
		{"date": "2025-01-03", "campaign_id": "c1", "clicks": 5},
	}), opts)
	require.NoError(t, err)

	assert.Equal(t, []clickRow{
		{"2025-01-01", "c1", 10},
		{"2025-01-01", "c2", 20},
		{"2025-01-02", "c1", 99},
		{"2025-01-03", "c1", 5},
	}, readClicks(t, path, "gads_campaigns"))
}

func TestLoad_ReplaceDropsPreviousRows(t *testing.T) {
	path := tempWarehouse(t)
	l := NewLoader(path, nil)
	ctx := context.Background()

	_, err := l.Load(ctx, "gads_campaigns", mustBatch(t, campaignRecords()), LoadOptions{Mode: ModeReplace})
	require.NoError(t, err)
	_, err = l.Load(ctx, "gads_campaigns", mustBatch(t, []map[string]any{
		{"date": "2025-02-01", "campaign_id": "c9", "clicks": 1},
	}), LoadOptions{Mode: ModeReplace})
	require.NoError(t, err)

	assert.Equal(t, []clickRow{{"2025-02-01", "c9", 1}}, readClicks(t, path, "gads_campaigns"))
}

func TestLoad_SchemaMismatchFailsWholeBatch(t *testing.T) {
	path := tempWarehouse(t)
	l := NewLoader(path, nil)
	ctx := context.Background()
	opts := LoadOptions{Mode: ModeUpsert, Keys: []string{"date", "campaign_id"}}

	_, err := l.Load(ctx, "gads_campaigns", mustBatch(t, campaignRecords()), opts)
	require.NoError(t, err)

	bad := mustBatch(t, []map[string]any{
		{"date": "2025-01-01", "campaign_id": "c1", "clicks": 500},
		{"date": "2025-01-05", "campaign_id": "c1", "clicks": "lots"},
	})
	res, err := l.Load(ctx, "gads_campaigns", bad, opts)
	require.ErrorIs(t, err, ErrSchemaMismatch)
	assert.Equal(t, 0, res.Rows)

	ragged := Batch{Columns: []string{"date", "campaign_id", "clicks"}, Rows: [][]any{{"2025-01-01", "c1"}}}
	_, err = l.Load(ctx, "gads_campaigns", ragged, opts)
	require.ErrorIs(t, err, ErrRaggedRecord)

	assert.Equal(t, []clickRow{
		{"2025-01-01", "c1", 10},
		{"2025-01-01", "c2", 20},
		{"2025-01-02", "c1", 30},
	}, readClicks(t, path, "gads_campaigns"))
}

func TestLoad_UpsertRequiresKeysInBatch(t *testing.T) {
	l := NewLoader(tempWarehouse(t), nil)
	_, err := l.Load(context.Background(), "gads_campaigns", mustBatch(t, campaignRecords()),
		LoadOptions{Mode: ModeUpsert, Keys: []string{"date", "ad_group_id"}})
	assert.ErrorIs(t, err, ErrMissingKey)

	_, err = l.Load(context.Background(), "gads_campaigns", mustBatch(t, campaignRecords()),
		LoadOptions{Mode: ModeUpsert})
	assert.ErrorIs(t, err, ErrMissingKey)
}

func TestLoad_SanitizesAndAddsColumns(t *testing.T) {
	path := tempWarehouse(t)
	l := NewLoader(path, nil)
	ctx := context.Background()
	opts := LoadOptions{Mode: ModeUpsert, Keys: []string{"date"}}

	_, err := l.Load(ctx, "meta_daily_account", mustBatch(t, []map[string]any{
		{"date": time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), "spend": 12.5},
	}), opts)
	require.NoError(t, err)
	_, err = l.Load(ctx, "meta_daily_account", mustBatch(t, []map[string]any{
		{"date": "2025-01-02", "spend": 3, "app-installs": 4},
	}), opts)
	require.NoError(t, err)

	db, err := Open(ctx, path)
	require.NoError(t, err)
	defer db.Close()

	cols, err := tableColumns(ctx, db, "meta_daily_account")
	require.NoError(t, err)
	assert.Contains(t, cols, "app_installs")
	assert.Equal(t, "REAL", cols["spend"])

	var date string
	var installs *int64
	require.NoError(t, db.QueryRowContext(ctx, `SELECT date, app_installs FROM meta_daily_account ORDER BY date LIMIT 1`).Scan(&date, &installs))
	assert.Equal(t, "2025-01-01", date)
	assert.Nil(t, installs)
}

func TestBatchValidate_RejectsUnsignedOverflow(t *testing.T) {
	ok := mustBatch(t, []map[string]any{{"impressions": uint64(math.MaxInt64)}})
	assert.NoError(t, ok.Validate())

	b := mustBatch(t, []map[string]any{{"impressions": uint64(math.MaxInt64) + 1}})
	assert.ErrorIs(t, b.Validate(), ErrSchemaMismatch)

	path := tempWarehouse(t)
	_, err := NewLoader(path, nil).Load(context.Background(), "gads_campaigns", b, LoadOptions{Mode: ModeReplace})
	assert.ErrorIs(t, err, ErrSchemaMismatch)
}
