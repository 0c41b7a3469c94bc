package warehouse

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateGrain_CountsDuplicates(t *testing.T) {
	path := tempWarehouse(t)
	ctx := context.Background()
	l := NewLoader(path, nil)

	// 5 rows, 3 distinct (date, campaign_id) tuples.
	_, err := l.Load(ctx, "gads_campaigns", mustBatch(t, []map[string]any{
		{"date": "2025-01-01", "campaign_id": "c1", "clicks": 1},
		{"date": "2025-01-01", "campaign_id": "c1", "clicks": 2},
		{"date": "2025-01-01", "campaign_id": "c1", "clicks": 3},
		{"date": "2025-01-01", "campaign_id": "c2", "clicks": 4},
		{"date": "2025-01-02", "campaign_id": "c1", "clicks": 5},
	}), LoadOptions{Mode: ModeReplace})
	require.NoError(t, err)

	db, err := Open(ctx, path)
	require.NoError(t, err)
	defer db.Close()

	res, err := ValidateGrain(ctx, db, "gads_campaigns", []string{"date", "campaign_id"})
	require.NoError(t, err)
	assert.EqualValues(t, 5, res.TotalRows)
	assert.EqualValues(t, 3, res.DistinctKeys)
	assert.EqualValues(t, 2, res.DuplicateRows)
	require.NotNil(t, res.Violation)
	assert.Equal(t, "gads_campaigns", res.Violation.Table)
	require.Len(t, res.Violation.Samples, 1)
	assert.Equal(t, []any{"2025-01-01", "c1"}, res.Violation.Samples[0].Values)
	assert.EqualValues(t, 3, res.Violation.Samples[0].Count)
	assert.False(t, res.Passed())

	var n int
	require.NoError(t, db.QueryRowContext(ctx, `SELECT COUNT(*) FROM gads_campaigns`).Scan(&n))
	assert.Equal(t, 5, n, "validation must not touch the table")
}

func TestValidateGrain_NoViolation(t *testing.T) {
	path := tempWarehouse(t)
	ctx := context.Background()
	_, err := NewLoader(path, nil).Load(ctx, "gads_campaigns", mustBatch(t, campaignRecords()), LoadOptions{Mode: ModeReplace})
	require.NoError(t, err)

	db, err := Open(ctx, path)
	require.NoError(t, err)
	defer db.Close()

	res, err := ValidateGrain(ctx, db, "gads_campaigns", []string{"date", "campaign_id"})
	require.NoError(t, err)
	assert.EqualValues(t, 3, res.TotalRows)
	assert.EqualValues(t, 0, res.DuplicateRows)
	assert.Nil(t, res.Violation)
	assert.True(t, res.Passed())
}

func TestValidator_ValidateAllSkipsMissingTables(t *testing.T) {
	path := tempWarehouse(t)
	ctx := context.Background()
	l := NewLoader(path, nil)

	_, err := l.Load(ctx, "gads_campaigns", mustBatch(t, []map[string]any{
		{"date": "2025-01-01", "campaign_id": "c1"},
		{"date": "2025-01-01", "campaign_id": "c1"},
	}), LoadOptions{Mode: ModeReplace})
	require.NoError(t, err)
	_, err = l.Load(ctx, "gsc_daily_totals", mustBatch(t, []map[string]any{
		{"date": "2025-01-01", "clicks": 3},
	}), LoadOptions{Mode: ModeReplace})
	require.NoError(t, err)

	v := &Validator{Path: path, Grains: []Grain{
		{Table: "gads_campaigns", Keys: []string{"date", "campaign_id"}},
		{Table: "meta_ads", Keys: []string{"date", "ad_id"}},
		{Table: "gsc_daily_totals", Keys: []string{"date"}},
	}}
	results, err := v.ValidateAll(ctx)
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.False(t, results[0].Passed())
	assert.EqualValues(t, 1, results[0].DuplicateRows)
	assert.True(t, results[1].Skipped)
	assert.True(t, results[2].Passed())
}

func TestGrainFor(t *testing.T) {
	g, ok := GrainFor(DefaultGrains(), "gads_campaigns")
	require.True(t, ok)
	assert.Equal(t, []string{"date", "campaign_id"}, g.Keys)

	_, ok = GrainFor(DefaultGrains(), "nope_table")
	assert.False(t, ok)
}

func TestValidateGrain_MissingKeyColumnIsAnError(t *testing.T) {
	path := tempWarehouse(t)
	ctx := context.Background()
	_, err := NewLoader(path, nil).Load(ctx, "gads_campaigns", mustBatch(t, []map[string]any{
		{"date": "2025-01-01", "clicks": 1},
		{"date": "2025-01-02", "clicks": 2},
		{"date": "2025-01-03", "clicks": 3},
	}), LoadOptions{Mode: ModeReplace})
	require.NoError(t, err)

	db, err := Open(ctx, path)
	require.NoError(t, err)
	defer db.Close()

	res, err := ValidateGrain(ctx, db, "gads_campaigns", []string{"campaign_id"})
	require.ErrorIs(t, err, ErrMissingKey)
	assert.Nil(t, res.Violation)
	assert.Zero(t, res.DuplicateRows)

	// an unknown backticked column must fail the query, not become a literal
	var n int
	err = db.QueryRowContext(ctx, `SELECT COUNT(DISTINCT `+QuoteIdent("campaign_id")+`) FROM gads_campaigns`).Scan(&n)
	assert.Error(t, err)
}

func TestValidator_ReportsMissingKeyColumn(t *testing.T) {
	path := tempWarehouse(t)
	ctx := context.Background()
	_, err := NewLoader(path, nil).Load(ctx, "gads_campaigns", mustBatch(t, []map[string]any{
		{"date": "2025-01-01", "clicks": 1},
		{"date": "2025-01-01", "clicks": 2},
	}), LoadOptions{Mode: ModeReplace})
	require.NoError(t, err)

	v := &Validator{Path: path, Grains: []Grain{{Table: "gads_campaigns", Keys: []string{"date", "campaign_id"}}}}
	results, err := v.ValidateAll(ctx)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Contains(t, results[0].Error, "campaign_id")
	assert.False(t, results[0].Passed())
	assert.Nil(t, results[0].Violation)
}

func TestValidator_Unregistered(t *testing.T) {
	path := tempWarehouse(t)
	ctx := context.Background()
	l := NewLoader(path, nil)
	_, err := l.Load(ctx, "gads_campaigns", mustBatch(t, campaignRecords()), LoadOptions{Mode: ModeReplace})
	require.NoError(t, err)
	_, err = l.Load(ctx, "gads_search_terms", mustBatch(t, []map[string]any{
		{"date": "2025-01-01", "term": "shoes"},
	}), LoadOptions{Mode: ModeReplace})
	require.NoError(t, err)

	v := &Validator{Path: path}
	got, err := v.Unregistered(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"gads_search_terms"}, got)

	v.Grains = []Grain{}
	got, err = v.Unregistered(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"gads_campaigns", "gads_search_terms"}, got)
}
