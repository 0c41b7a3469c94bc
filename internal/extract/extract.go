// Package extract defines the contract between the job runner and the
// per-platform extractors.
package extract

import (
	"context"
	"fmt"
	"sort"

	"github.com/rishansujesh/ads-warehouse/internal/jobs"
	"github.com/rishansujesh/ads-warehouse/internal/warehouse"
)

// Extractor pulls one source's datasets for a date window.
type Extractor interface {
	// TestConnection verifies credentials and reachability before extraction.
	TestConnection(ctx context.Context) error
	// ExtractAll returns one Dataset per logical dataset. A dataset that
	// failed carries Err; the error return is for failures of the whole call.
	ExtractAll(ctx context.Context, w jobs.Window) (Result, error)
}

// Dataset is one named table of records, e.g. "campaigns".
type Dataset struct {
	Name    string
	Records []map[string]any
	Err     error
}

func (d Dataset) Batch() (warehouse.Batch, error) {
	return warehouse.NewBatch(d.Records)
}

type Result struct {
	Datasets []Dataset
}

// Failed returns the datasets that reported an error.
func (r Result) Failed() []Dataset {
	var out []Dataset
	for _, d := range r.Datasets {
		if d.Err != nil {
			out = append(out, d)
		}
	}
	return out
}

// Registry maps a source id to its extractor.
type Registry map[string]Extractor

func (r Registry) Lookup(source string) (Extractor, error) {
	ex, ok := r[source]
	if !ok || ex == nil {
		return nil, fmt.Errorf("%w %q", jobs.ErrUnknownSource, source)
	}
	return ex, nil
}

func (r Registry) Sources() []string {
	out := make([]string, 0, len(r))
	for s := range r {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

var defaultDatasets = map[string][]string{
	jobs.SourceGoogleAds:     {"campaigns", "ad_groups", "keywords", "daily_summary"},
	jobs.SourceSearchConsole: {"queries", "pages", "daily_totals"},
	jobs.SourceMeta:          {"campaigns", "ads", "daily_account"},
	jobs.SourceAnalytics:     {"daily_summary", "traffic_sources", "pages"},
	jobs.SourceTwitter:       {"tweets", "daily_metrics"},
}

// DefaultDatasets lists the datasets a source is expected to produce.
func DefaultDatasets(source string) []string {
	return append([]string(nil), defaultDatasets[source]...)
}
