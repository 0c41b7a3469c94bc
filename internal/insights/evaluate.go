package insights

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rishansujesh/ads-warehouse/internal/jobs"
)

// comparison is one resolved previous/current pair for a rule.
type comparison struct {
	Previous, Current           float64
	PreviousLabel, CurrentLabel string
}

func (c comparison) change() (float64, bool) {
	if c.Previous == 0 {
		return 0, false
	}
	ch := (c.Current - c.Previous) / c.Previous
	if math.IsNaN(ch) || math.IsInf(ch, 0) {
		return 0, false
	}
	return ch, true
}

// dayOverDay compares the latest available day with the one before it.
func dayOverDay(s series, ratio bool) (comparison, bool) {
	if len(s) < 2 {
		return comparison{}, false
	}
	prev, cur := s[len(s)-2], s[len(s)-1]
	pv, ok := pointValue(prev, ratio)
	if !ok {
		return comparison{}, false
	}
	cv, ok := pointValue(cur, ratio)
	if !ok {
		return comparison{}, false
	}
	return comparison{
		Previous: pv, Current: cv,
		PreviousLabel: prev.Day.Format(time.DateOnly),
		CurrentLabel:  cur.Day.Format(time.DateOnly),
	}, true
}

// rolling compares the trailing n days ending at end with the n days
// before them. Both periods need at least one row.
func rolling(s series, ratio bool, end time.Time, n int) (comparison, bool) {
	if n < 1 {
		n = 1
	}
	curFrom := end.AddDate(0, 0, -(n - 1))
	prevTo := curFrom.AddDate(0, 0, -1)
	prevFrom := prevTo.AddDate(0, 0, -(n - 1))

	cn, cd, ccount := s.sum(curFrom, end)
	pn, pd, pcount := s.sum(prevFrom, prevTo)
	if ccount == 0 || pcount == 0 {
		return comparison{}, false
	}
	cv, pv := cn, pn
	if ratio {
		if cd == 0 || pd == 0 {
			return comparison{}, false
		}
		cv, pv = cn/cd, pn/pd
	}
	return comparison{
		Previous: pv, Current: cv,
		PreviousLabel: jobs.Window{Start: prevFrom, End: prevTo}.String(),
		CurrentLabel:  jobs.Window{Start: curFrom, End: end}.String(),
	}, true
}

func pointValue(p point, ratio bool) (float64, bool) {
	if !ratio {
		return p.Num, true
	}
	if p.Den == 0 {
		return 0, false
	}
	return p.Num / p.Den, true
}

// evaluator turns one rule's series into insights.
type evaluator struct {
	thresholds Thresholds
	now        time.Time
	end        time.Time
}

func (e evaluator) evaluate(r Rule, s series) []Insight {
	var out []Insight
	if in, ok := e.change(r, s); ok {
		out = append(out, in)
	}
	if r.Anomaly {
		if in, ok := e.anomaly(r, s); ok {
			out = append(out, in)
		}
	}
	if len(r.Milestones) > 0 {
		if in, ok := e.milestone(r, s); ok {
			out = append(out, in)
		}
	}
	return out
}

func (e evaluator) change(r Rule, s series) (Insight, bool) {
	var (
		c  comparison
		ok bool
	)
	switch r.Mode {
	case ModeDayOverDay, "":
		c, ok = dayOverDay(s, r.IsRatio())
	case ModeRolling:
		c, ok = rolling(s, r.IsRatio(), e.end, r.Days)
	default:
		return Insight{}, false
	}
	if !ok {
		return Insight{}, false
	}
	ch, ok := c.change()
	if !ok {
		return Insight{}, false
	}
	band := e.thresholds.Classify(ch)
	if band == BandNone {
		return Insight{}, false
	}

	direction, verb := "up", "increased"
	if ch < 0 {
		direction, verb = "down", "decreased"
	}
	title := fmt.Sprintf("%s %s %s %s", SourceLabel(r.Source), r.Metric, verb, formatPercent(math.Abs(ch)))
	period := "day over day"
	if r.Mode == ModeRolling {
		if r.Days == 7 {
			period = "week over week"
		} else {
			period = fmt.Sprintf("over the last %d days", r.Days)
		}
		title += " " + period
	}

	in := e.newInsight(r, r.Type, r.priorityFor(band, ch), title,
		fmt.Sprintf("%s moved from %s (%s) to %s (%s), %s %s.",
			r.Metric, formatValue(r.Unit, c.Previous), c.PreviousLabel,
			formatValue(r.Unit, c.Current), c.CurrentLabel, direction, period))
	in.Value = ptr(c.Current)
	in.Change = ptr(ch)
	if rec := r.recommendationFor(ch); rec != "" {
		in.Recommendation = ptr(rec)
	}
	in.Data = map[string]any{
		"direction":       direction,
		"previous":        c.Previous,
		"current":         c.Current,
		"previous_period": c.PreviousLabel,
		"current_period":  c.CurrentLabel,
		"band":            band.String(),
		"mode":            string(r.modeOrDefault()),
		"table":           r.Table,
	}
	return in, true
}

// anomaly flags the latest day when it sits at least anomalyZ standard
// deviations from the days before it.
func (e evaluator) anomaly(r Rule, s series) (Insight, bool) {
	vals := s.values(r.IsRatio())
	if len(vals) < anomalyMinPoints+1 {
		return Insight{}, false
	}
	latest, prior := vals[len(vals)-1], vals[:len(vals)-1]
	mean, sd := meanStd(prior)
	if sd == 0 {
		return Insight{}, false
	}
	z := (latest - mean) / sd
	if math.Abs(z) < anomalyZ {
		return Insight{}, false
	}
	direction := "spike"
	if z < 0 {
		direction = "drop"
	}
	in := e.newInsight(r, TypeAnomaly, PriorityHigh,
		fmt.Sprintf("Unusual %s in %s %s", direction, SourceLabel(r.Source), r.Metric),
		fmt.Sprintf("Latest %s of %s is %.1f standard deviations from the %d-day mean of %s.",
			r.Metric, formatValue(r.Unit, latest), math.Abs(z), len(prior), formatValue(r.Unit, mean)))
	in.Value = ptr(latest)
	if mean != 0 {
		in.Change = ptr((latest - mean) / mean)
	}
	in.Data = map[string]any{
		"direction": direction,
		"z_score":   z,
		"mean":      mean,
		"stddev":    sd,
		"points":    len(prior),
		"table":     r.Table,
	}
	return in, true
}

// milestone reports the highest threshold crossed between the previous and
// latest day.
func (e evaluator) milestone(r Rule, s series) (Insight, bool) {
	c, ok := dayOverDay(s, r.IsRatio())
	if !ok {
		return Insight{}, false
	}
	var hit float64
	found := false
	for _, m := range r.Milestones {
		if c.Previous < m && m <= c.Current && (!found || m > hit) {
			hit, found = m, true
		}
	}
	if !found {
		return Insight{}, false
	}
	in := e.newInsight(r, TypeMilestone, PriorityInfo,
		fmt.Sprintf("%s %s passed %s", SourceLabel(r.Source), r.Metric, formatValue(r.Unit, hit)),
		fmt.Sprintf("%s reached %s on %s, up from %s.",
			r.Metric, formatValue(r.Unit, c.Current), c.CurrentLabel, formatValue(r.Unit, c.Previous)))
	in.Value = ptr(c.Current)
	in.Data = map[string]any{
		"milestone": hit,
		"previous":  c.Previous,
		"current":   c.Current,
		"table":     r.Table,
	}
	return in, true
}

func (e evaluator) newInsight(r Rule, t Type, p Priority, title, desc string) Insight {
	if t == "" {
		t = TypePerformanceChange
	}
	return Insight{
		ID:          uuid.NewString(),
		Type:        t,
		Priority:    p,
		Title:       title,
		Description: desc,
		Source:      r.Source,
		Metric:      ptr(r.Metric),
		CreatedAt:   e.now,
	}
}

func (r Rule) modeOrDefault() Mode {
	if r.Mode == "" {
		return ModeDayOverDay
	}
	return r.Mode
}

func meanStd(xs []float64) (mean, sd float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))
	var ss float64
	for _, x := range xs {
		d := x - mean
		ss += d * d
	}
	return mean, math.Sqrt(ss / float64(len(xs)))
}

func formatPercent(frac float64) string {
	return strconv.FormatFloat(math.Round(frac*1000)/10, 'f', -1, 64) + "%"
}

func formatValue(u Unit, v float64) string {
	switch u {
	case UnitCurrency:
		return strconv.FormatFloat(v, 'f', 2, 64)
	case UnitPercent:
		return strconv.FormatFloat(v*100, 'f', 2, 64) + "%"
	case UnitRatio:
		return strconv.FormatFloat(v, 'f', 3, 64)
	default:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
}

func ptr[T any](v T) *T { return &v }
