package insights

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rishansujesh/ads-warehouse/internal/jobs"
	"github.com/rishansujesh/ads-warehouse/internal/warehouse"
)

// point is one day of a metric. Den is zero for plain column rules.
type point struct {
	Day time.Time
	Num float64
	Den float64
}

type series []point

func (s series) sum(from, to time.Time) (num, den float64, n int) {
	for _, p := range s {
		if p.Day.Before(from) || p.Day.After(to) {
			continue
		}
		num += p.Num
		den += p.Den
		n++
	}
	return num, den, n
}

// values returns the per-day metric, dropping days whose ratio is undefined.
func (s series) values(ratio bool) []float64 {
	out := make([]float64, 0, len(s))
	for _, p := range s {
		if ratio {
			if p.Den == 0 {
				continue
			}
			out = append(out, p.Num/p.Den)
			continue
		}
		out = append(out, p.Num)
	}
	return out
}

// loadSeries reads daily totals for the rule across w, oldest first. Days
// whose aggregate is NULL are dropped.
func loadSeries(ctx context.Context, q warehouse.Querier, r Rule, w jobs.Window) (series, error) {
	day := fmt.Sprintf("substr(%s, 1, 10)", warehouse.QuoteIdent(r.dateColumn()))
	var cols string
	if r.IsRatio() {
		cols = fmt.Sprintf("SUM(%s), SUM(%s)", warehouse.QuoteIdent(r.Numerator), warehouse.QuoteIdent(r.Denominator))
	} else {
		cols = fmt.Sprintf("SUM(%s), NULL", warehouse.QuoteIdent(r.Column))
	}
	query := fmt.Sprintf(
		`SELECT %[1]s AS day, %[2]s FROM %[3]s WHERE %[1]s BETWEEN ? AND ? GROUP BY day ORDER BY day`,
		day, cols, warehouse.QuoteIdent(warehouse.Sanitize(r.Table)),
	)

	rows, err := q.QueryContext(ctx, query, w.StartDate(), w.EndDate())
	if err != nil {
		return nil, fmt.Errorf("query %s.%s: %w", r.Table, r.Metric, err)
	}
	defer rows.Close()

	var out series
	for rows.Next() {
		var (
			raw      string
			num, den sql.NullFloat64
		)
		if err := rows.Scan(&raw, &num, &den); err != nil {
			return nil, fmt.Errorf("scan %s.%s: %w", r.Table, r.Metric, err)
		}
		if !num.Valid || (r.IsRatio() && !den.Valid) {
			continue
		}
		d, err := time.ParseInLocation(time.DateOnly, raw, w.End.Location())
		if err != nil {
			continue
		}
		out = append(out, point{Day: d, Num: num.Float64, Den: den.Float64})
	}
	return out, rows.Err()
}
