// Package insights derives ranked findings from the daily aggregates in the
// warehouse.
package insights

import (
	"sort"
	"time"
)

type Type string

const (
	TypePerformanceChange Type = "performance_change"
	TypeTrend             Type = "trend"
	TypeAnomaly           Type = "anomaly"
	TypeComparison        Type = "comparison"
	TypeRecommendation    Type = "recommendation"
	TypeMilestone         Type = "milestone"
)

type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
	PriorityInfo     Priority = "info"
)

// Rank orders priorities, critical first. Unknown priorities sort last.
func (p Priority) Rank() int {
	switch p {
	case PriorityCritical:
		return 0
	case PriorityHigh:
		return 1
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 3
	case PriorityInfo:
		return 4
	default:
		return 5
	}
}

// Insight is one finding. Change is a signed fraction: -0.2 is a 20% drop.
type Insight struct {
	ID             string         `json:"id"`
	Type           Type           `json:"type"`
	Priority       Priority       `json:"priority"`
	Title          string         `json:"title"`
	Description    string         `json:"description"`
	Source         string         `json:"source"`
	Metric         *string        `json:"metric,omitempty"`
	Value          *float64       `json:"value,omitempty"`
	Change         *float64       `json:"change,omitempty"`
	Recommendation *string        `json:"recommendation,omitempty"`
	Data           map[string]any `json:"data,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// SortByPriority orders in place by priority tier, keeping generation order
// within a tier.
func SortByPriority(in []Insight) {
	sort.SliceStable(in, func(i, j int) bool {
		return in[i].Priority.Rank() < in[j].Priority.Rank()
	})
}

// CountByPriority tallies insights per tier.
func CountByPriority(in []Insight) map[Priority]int {
	out := map[Priority]int{}
	for _, it := range in {
		out[it.Priority]++
	}
	return out
}
