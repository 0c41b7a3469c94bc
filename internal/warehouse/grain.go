package warehouse

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/rishansujesh/ads-warehouse/internal/observability"
)

const sampleLimit = 5

// Grain declares the columns that must identify one row of Table.
type Grain struct {
	Table string   `json:"table"`
	Keys  []string `json:"keys"`
}

// DefaultGrains is the registry of known warehouse tables. Adding a table
// means adding one entry here.
func DefaultGrains() []Grain {
	return []Grain{
		{Table: "gads_campaigns", Keys: []string{"date", "campaign_id"}},
		{Table: "gads_ad_groups", Keys: []string{"date", "campaign_id", "ad_group_id"}},
		{Table: "gads_keywords", Keys: []string{"date", "ad_group_id", "keyword_id"}},
		{Table: "gads_daily_summary", Keys: []string{"date"}},
		{Table: "gsc_queries", Keys: []string{"date", "query", "page", "device", "country"}},
		{Table: "gsc_pages", Keys: []string{"date", "page"}},
		{Table: "gsc_daily_totals", Keys: []string{"date"}},
		{Table: "meta_campaigns", Keys: []string{"date", "campaign_id"}},
		{Table: "meta_ads", Keys: []string{"date", "ad_id"}},
		{Table: "meta_daily_account", Keys: []string{"date"}},
		{Table: "ga4_daily_summary", Keys: []string{"date"}},
		{Table: "ga4_traffic_sources", Keys: []string{"date", "source", "medium"}},
		{Table: "ga4_pages", Keys: []string{"date", "page_path"}},
		{Table: "twitter_tweets", Keys: []string{"tweet_id"}},
		{Table: "twitter_daily_metrics", Keys: []string{"date"}},
	}
}

// GrainFor looks a table up in a registry.
func GrainFor(grains []Grain, table string) (Grain, bool) {
	want := strings.ToLower(Sanitize(table))
	for _, g := range grains {
		if strings.ToLower(Sanitize(g.Table)) == want {
			return g, true
		}
	}
	return Grain{}, false
}

type DuplicateKey struct {
	Values []any `json:"values"`
	Count  int64 `json:"count"`
}

type Violation struct {
	Table         string         `json:"table"`
	DuplicateRows int64          `json:"duplicate_rows"`
	Keys          []string       `json:"keys"`
	Samples       []DuplicateKey `json:"samples"`
}

type GrainResult struct {
	Table         string     `json:"table"`
	Keys          []string   `json:"keys"`
	TotalRows     int64      `json:"total_rows"`
	DistinctKeys  int64      `json:"distinct_keys"`
	DuplicateRows int64      `json:"duplicate_rows"`
	Skipped       bool       `json:"skipped,omitempty"`
	Violation     *Violation `json:"violation,omitempty"`
	Error         string     `json:"error,omitempty"`
}

func (r GrainResult) Passed() bool {
	return !r.Skipped && r.Error == "" && r.DuplicateRows == 0
}

// ValidateGrain counts rows and distinct key tuples of table. It only reads.
func ValidateGrain(ctx context.Context, q Querier, table string, keys []string) (GrainResult, error) {
	name := Sanitize(table)
	res := GrainResult{Table: name, Keys: keys}
	if len(keys) == 0 {
		return res, fmt.Errorf("grain for %s has no keys: %w", name, ErrMissingKey)
	}
	have, err := tableColumns(ctx, q, name)
	if err != nil {
		return res, err
	}
	cols := make([]string, len(keys))
	for i, k := range keys {
		col := Sanitize(k)
		if _, ok := have[strings.ToLower(col)]; !ok {
			return res, fmt.Errorf("%s.%s: %w", name, col, ErrMissingKey)
		}
		cols[i] = QuoteIdent(col)
	}
	keyList := strings.Join(cols, ", ")
	qt := QuoteIdent(name)

	if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+qt).Scan(&res.TotalRows); err != nil {
		return res, fmt.Errorf("count %s: %w", name, err)
	}
	distinct := fmt.Sprintf(`SELECT COUNT(*) FROM (SELECT DISTINCT %s FROM %s)`, keyList, qt)
	if err := q.QueryRowContext(ctx, distinct).Scan(&res.DistinctKeys); err != nil {
		return res, fmt.Errorf("distinct %s: %w", name, err)
	}
	res.DuplicateRows = res.TotalRows - res.DistinctKeys
	if res.DuplicateRows == 0 {
		return res, nil
	}

	samples, err := duplicateSamples(ctx, q, qt, keyList, len(keys))
	if err != nil {
		return res, fmt.Errorf("sample %s: %w", name, err)
	}
	res.Violation = &Violation{
		Table:         name,
		DuplicateRows: res.DuplicateRows,
		Keys:          keys,
		Samples:       samples,
	}
	return res, nil
}

func duplicateSamples(ctx context.Context, q Querier, table, keyList string, n int) ([]DuplicateKey, error) {
	query := fmt.Sprintf(
		`SELECT %s, COUNT(*) AS n FROM %s GROUP BY %s HAVING COUNT(*) > 1 ORDER BY n DESC LIMIT %d`,
		keyList, table, keyList, sampleLimit)
	rows, err := q.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DuplicateKey
	for rows.Next() {
		vals := make([]any, n)
		dest := make([]any, n+1)
		for i := range vals {
			dest[i] = &vals[i]
		}
		var count int64
		dest[n] = &count
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		for i, v := range vals {
			if b, ok := v.([]byte); ok {
				vals[i] = string(b)
			}
		}
		out = append(out, DuplicateKey{Values: vals, Count: count})
	}
	return out, rows.Err()
}

// Validator checks every registered grain against the warehouse at Path.
type Validator struct {
	Path   string
	Grains []Grain
	Logger *slog.Logger
}

// ValidateAll checks each registered table that exists. Missing tables are
// reported as skipped and a failing table never stops the others. The error
// is only set when the warehouse itself cannot be opened.
func (v *Validator) ValidateAll(ctx context.Context) ([]GrainResult, error) {
	logger := v.Logger
	if logger == nil {
		logger = slog.Default()
	}
	grains := v.grains()

	db, err := Open(ctx, v.Path)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	out := make([]GrainResult, 0, len(grains))
	for _, g := range grains {
		exists, err := TableExists(ctx, db, g.Table)
		if err != nil {
			out = append(out, GrainResult{Table: Sanitize(g.Table), Keys: g.Keys, Error: err.Error()})
			continue
		}
		if !exists {
			out = append(out, GrainResult{Table: Sanitize(g.Table), Keys: g.Keys, Skipped: true})
			continue
		}

		res, err := ValidateGrain(ctx, db, g.Table, g.Keys)
		if err != nil {
			logger.Warn("grain check failed", "table", g.Table, "error", err)
			res.Error = err.Error()
		}
		observability.GrainDuplicateRows.WithLabelValues(res.Table).Set(float64(res.DuplicateRows))
		if res.Violation != nil {
			logger.Warn("grain violation", "table", res.Table, "keys", g.Keys, "duplicate_rows", res.DuplicateRows)
		}
		out = append(out, res)
	}
	return out, nil
}

// Unregistered lists warehouse tables with no grain in the registry. The
// loader replaces such tables wholesale on every run.
func (v *Validator) Unregistered(ctx context.Context) ([]string, error) {
	db, err := OpenReadOnly(ctx, v.Path)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	tables, err := ListTables(ctx, db)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, t := range tables {
		if _, ok := GrainFor(v.grains(), t); !ok {
			out = append(out, t)
		}
	}
	return out, nil
}

func (v *Validator) grains() []Grain {
	if v.Grains == nil {
		return DefaultGrains()
	}
	return v.Grains
}
