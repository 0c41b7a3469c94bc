package insights

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(s string) time.Time {
	d, err := time.Parse(time.DateOnly, s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestDayOverDayNeedsTwoPoints(t *testing.T) {
	_, ok := dayOverDay(series{{Day: day("2024-03-14"), Num: 10}}, false)
	assert.False(t, ok)
}

func TestRatioComputedPerPeriod(t *testing.T) {
	s := series{
		{Day: day("2024-03-13"), Num: 100, Den: 10},
		{Day: day("2024-03-14"), Num: 300, Den: 50},
	}
	c, ok := dayOverDay(s, true)
	require.True(t, ok)
	assert.InDelta(t, 10, c.Previous, 1e-9)
	assert.InDelta(t, 6, c.Current, 1e-9)

	ch, ok := c.change()
	require.True(t, ok)
	assert.InDelta(t, -0.4, ch, 1e-9)
}

func TestZeroDenominatorSkipsRatio(t *testing.T) {
	s := series{
		{Day: day("2024-03-13"), Num: 100, Den: 0},
		{Day: day("2024-03-14"), Num: 300, Den: 50},
	}
	_, ok := dayOverDay(s, true)
	assert.False(t, ok)

	_, ok = rolling(s, true, day("2024-03-14"), 1)
	assert.False(t, ok)
}

func TestZeroPreviousProducesNoChange(t *testing.T) {
	c := comparison{Previous: 0, Current: 50}
	_, ok := c.change()
	assert.False(t, ok)

	ev := evaluator{thresholds: DefaultThresholds(), end: day("2024-03-14")}
	got := ev.evaluate(Rule{Source: "gads", Metric: "cost", Column: "cost", Mode: ModeDayOverDay}, series{
		{Day: day("2024-03-13"), Num: 0},
		{Day: day("2024-03-14"), Num: 50},
	})
	assert.Empty(t, got)
}

func TestRollingNeedsBothPeriods(t *testing.T) {
	end := day("2024-03-14")
	s := series{
		{Day: day("2024-03-10"), Num: 5},
		{Day: day("2024-03-14"), Num: 5},
	}
	_, ok := rolling(s, false, end, 7)
	assert.False(t, ok)

	s = append(series{{Day: day("2024-03-02"), Num: 20}}, s...)
	c, ok := rolling(s, false, end, 7)
	require.True(t, ok)
	assert.InDelta(t, 20, c.Previous, 1e-9)
	assert.InDelta(t, 10, c.Current, 1e-9)
	assert.Equal(t, "2024-03-01..2024-03-07", c.PreviousLabel)
	assert.Equal(t, "2024-03-08..2024-03-14", c.CurrentLabel)
}

func TestAnomalyNeedsHistoryAndSpread(t *testing.T) {
	ev := evaluator{thresholds: DefaultThresholds(), end: day("2024-03-14")}
	r := Rule{Source: "meta", Metric: "spend", Column: "spend", Mode: ModeNone, Anomaly: true}

	flat := series{}
	for i := 0; i < 8; i++ {
		flat = append(flat, point{Day: day("2024-03-01").AddDate(0, 0, i), Num: 100})
	}
	flat = append(flat, point{Day: day("2024-03-09"), Num: 500})
	assert.Empty(t, ev.evaluate(r, flat), "zero spread")

	short := series{
		{Day: day("2024-03-12"), Num: 100},
		{Day: day("2024-03-13"), Num: 101},
		{Day: day("2024-03-14"), Num: 500},
	}
	assert.Empty(t, ev.evaluate(r, short), "too few points")
}

func TestMilestonePicksHighestCrossed(t *testing.T) {
	ev := evaluator{thresholds: DefaultThresholds(), end: day("2024-03-14")}
	r := Rule{Source: "twitter", Metric: "followers", Column: "followers", Mode: ModeNone,
		Milestones: []float64{1000, 5000, 10000}}

	got := ev.evaluate(r, series{
		{Day: day("2024-03-13"), Num: 900},
		{Day: day("2024-03-14"), Num: 5200},
	})
	require.Len(t, got, 1)
	assert.Equal(t, TypeMilestone, got[0].Type)
	assert.Equal(t, PriorityInfo, got[0].Priority)
	assert.Equal(t, 5000.0, got[0].Data["milestone"])

	assert.Empty(t, ev.evaluate(r, series{
		{Day: day("2024-03-13"), Num: 1000},
		{Day: day("2024-03-14"), Num: 1200},
	}))
}

func TestFormatPercent(t *testing.T) {
	assert.Equal(t, "150%", formatPercent(1.5))
	assert.Equal(t, "20%", formatPercent(0.2))
	assert.Equal(t, "12.5%", formatPercent(0.125))
}
