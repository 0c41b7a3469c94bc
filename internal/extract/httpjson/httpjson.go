// Package httpjson extracts datasets from an HTTP export service that
// serves GET {base}/{dataset}?start=YYYY-MM-DD&end=YYYY-MM-DD as a JSON
// array of records.
package httpjson

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	jmespath "github.com/jmespath-community/go-jmespath"
	"golang.org/x/time/rate"

	"github.com/rishansujesh/ads-warehouse/internal/extract"
	"github.com/rishansujesh/ads-warehouse/internal/jobs"
)

const defaultTimeout = 30 * time.Second

type Config struct {
	Source       string
	BaseURL      string
	Datasets     []string
	Headers      map[string]string
	Timeout      time.Duration // per request
	RetryOnCodes []int         // statuses that fail the whole attempt so it is retried
	HealthPath   string
	// RecordsPath is a JMESPath expression selecting the record array in
	// the response body, e.g. "data.rows". Empty accepts a bare array or
	// {"records": [...]}.
	RecordsPath string
	// RequestsPerSecond throttles calls to the export service; 0 is unlimited.
	RequestsPerSecond float64
	Client            *http.Client
}

type Extractor struct {
	cfg     Config
	base    *url.URL
	client  *http.Client
	limiter *rate.Limiter
	search  func(data any) (any, error)
	logger  *slog.Logger
}

var _ extract.Extractor = (*Extractor)(nil)

func New(cfg Config, logger *slog.Logger) (*Extractor, error) {
	if cfg.BaseURL == "" {
		return nil, jobs.ConfigError("http extractor for %q: base url required", cfg.Source)
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, jobs.ConfigError("http extractor for %q: %v", cfg.Source, err)
	}
	if len(cfg.Datasets) == 0 {
		cfg.Datasets = extract.DefaultDatasets(cfg.Source)
	}
	if len(cfg.Datasets) == 0 {
		return nil, jobs.ConfigError("http extractor for %q: no datasets", cfg.Source)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.HealthPath == "" {
		cfg.HealthPath = "healthz"
	}
	if len(cfg.RetryOnCodes) == 0 {
		cfg.RetryOnCodes = []int{http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout}
	}
	var search func(any) (any, error)
	if strings.TrimSpace(cfg.RecordsPath) != "" {
		compiled, err := jmespath.Compile(cfg.RecordsPath)
		if err != nil {
			return nil, jobs.ConfigError("http extractor for %q: records path: %v", cfg.Source, err)
		}
		search = compiled.Search
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{
		cfg:     cfg,
		base:    base,
		client:  client,
		limiter: limiter,
		search:  search,
		logger:  logger.With("component", "extract.httpjson", "source", cfg.Source),
	}, nil
}

func (e *Extractor) TestConnection(ctx context.Context) error {
	status, _, err := e.get(ctx, e.cfg.HealthPath, nil)
	if err != nil {
		return err
	}
	if status < 200 || status >= 300 {
		return fmt.Errorf("http: health status %d", status)
	}
	return nil
}

func (e *Extractor) ExtractAll(ctx context.Context, w jobs.Window) (extract.Result, error) {
	q := url.Values{"start": {w.StartDate()}, "end": {w.EndDate()}}
	var res extract.Result
	for _, name := range e.cfg.Datasets {
		status, body, err := e.get(ctx, name, q)
		if err != nil {
			return extract.Result{}, fmt.Errorf("dataset %s: %w", name, err)
		}
		if slices.Contains(e.cfg.RetryOnCodes, status) {
			return extract.Result{}, fmt.Errorf("dataset %s: http status %d", name, status)
		}
		ds := extract.Dataset{Name: name}
		if status < 200 || status >= 300 {
			ds.Err = fmt.Errorf("http status %d: %s", status, truncate(body, 200))
		} else {
			ds.Records, ds.Err = e.decodeRecords(body)
		}
		if ds.Err != nil {
			e.logger.Warn("dataset failed", "dataset", name, "error", ds.Err)
		}
		res.Datasets = append(res.Datasets, ds)
	}
	return res, nil
}

func (e *Extractor) get(ctx context.Context, path string, q url.Values) (int, []byte, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return 0, nil, fmt.Errorf("http: rate limit wait: %w", err)
	}
	cctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	u := e.base.JoinPath(path)
	u.RawQuery = q.Encode()
	req, err := http.NewRequestWithContext(cctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return 0, nil, fmt.Errorf("http: new request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range e.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("http: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("http: read body: %w", err)
	}
	return resp.StatusCode, body, nil
}

func (e *Extractor) decodeRecords(body []byte) ([]map[string]any, error) {
	if e.search == nil {
		return decodeRecords(body)
	}
	var doc any
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	found, err := e.search(doc)
	if err != nil {
		return nil, fmt.Errorf("records path: %w", err)
	}
	items, ok := found.([]any)
	if !ok {
		return nil, fmt.Errorf("records path %q: got %T, want array", e.cfg.RecordsPath, found)
	}
	recs := make([]map[string]any, 0, len(items))
	for i, it := range items {
		m, ok := it.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("records path %q: item %d is %T", e.cfg.RecordsPath, i, it)
		}
		recs = append(recs, m)
	}
	return recs, nil
}

// decodeRecords accepts a bare array or {"records": [...]}.
func decodeRecords(body []byte) ([]map[string]any, error) {
	body = bytes.TrimSpace(body)
	if len(body) > 0 && body[0] == '{' {
		var env struct {
			Records json.RawMessage `json:"records"`
		}
		if err := json.Unmarshal(body, &env); err != nil {
			return nil, fmt.Errorf("decode: %w", err)
		}
		body = env.Records
	}
	var recs []map[string]any
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&recs); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	return recs, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n])
}
