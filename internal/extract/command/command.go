// Package command runs an external exporter process as an extractor.
//
// The process gets SOURCE, START_DATE and END_DATE in its environment and
// writes one JSON object to stdout keyed by dataset:
//
//	{"campaigns": [{"date": "2025-01-01", "campaign_id": "1", "clicks": 10}],
//	 "keywords": {"error": "quota exceeded"}}
package command

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/xeipuuv/gojsonschema"

	"github.com/rishansujesh/ads-warehouse/internal/extract"
	"github.com/rishansujesh/ads-warehouse/internal/jobs"
)

const (
	defaultTimeout = 10 * time.Minute
	stderrTail     = 512
)

type Config struct {
	Source  string
	Command string // run through /bin/sh -c
	Check   string // optional; run by TestConnection
	Timeout time.Duration
	Env     []string
}

type Extractor struct {
	cfg    Config
	logger *slog.Logger
}

var _ extract.Extractor = (*Extractor)(nil)

func New(cfg Config, logger *slog.Logger) (*Extractor, error) {
	if strings.TrimSpace(cfg.Command) == "" {
		return nil, jobs.ConfigError("command extractor for %q: command required", cfg.Source)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{cfg: cfg, logger: logger.With("component", "extract.command", "source", cfg.Source)}, nil
}

func (e *Extractor) TestConnection(ctx context.Context) error {
	if e.cfg.Check == "" {
		return nil
	}
	_, err := e.run(ctx, e.cfg.Check, nil)
	if err != nil {
		return fmt.Errorf("connection check: %w", err)
	}
	return nil
}

func (e *Extractor) ExtractAll(ctx context.Context, w jobs.Window) (extract.Result, error) {
	env := []string{
		"SOURCE=" + e.cfg.Source,
		"START_DATE=" + w.StartDate(),
		"END_DATE=" + w.EndDate(),
	}
	out, err := e.run(ctx, e.cfg.Command, env)
	if err != nil {
		return extract.Result{}, err
	}
	res, err := Decode(out)
	if err != nil {
		return extract.Result{}, err
	}
	e.logger.Debug("exporter finished", "datasets", len(res.Datasets), "window", w.String())
	return res, nil
}

func (e *Extractor) run(ctx context.Context, command string, env []string) ([]byte, error) {
	cctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	cmd := exec.CommandContext(cctx, "/bin/sh", "-c", command)
	cmd.Env = append(append(os.Environ(), e.cfg.Env...), env...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if errors.Is(cctx.Err(), context.DeadlineExceeded) {
		return nil, fmt.Errorf("command: timeout after %v", e.cfg.Timeout)
	}
	if err != nil {
		return nil, fmt.Errorf("command: %w; stderr=%q", err, tail(stderr.String(), stderrTail))
	}
	return stdout.Bytes(), nil
}

// outputSchema: an object whose values are record arrays or {"error": "..."}.
const outputSchema = `{
  "type": "object",
  "additionalProperties": {
    "oneOf": [
      {"type": "array", "items": {"type": "object"}},
      {"type": "object", "required": ["error"], "properties": {"error": {"type": "string"}}}
    ]
  }
}`

var loadSchema = sync.OnceValues(func() (*gojsonschema.Schema, error) {
	return gojsonschema.NewSchema(gojsonschema.NewStringLoader(outputSchema))
})

func validateOutput(raw []byte) error {
	schema, err := loadSchema()
	if err != nil {
		return fmt.Errorf("command: output schema: %w", err)
	}
	res, err := schema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return fmt.Errorf("command: decode output: %w", err)
	}
	if res.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(res.Errors()))
	for _, e := range res.Errors() {
		msgs = append(msgs, e.String())
	}
	return fmt.Errorf("command: output does not match schema: %s", strings.Join(msgs, "; "))
}

type datasetError struct {
	Error string `json:"error"`
}

// Decode validates and parses exporter output. Datasets come back sorted by name.
func Decode(raw []byte) (extract.Result, error) {
	if err := validateOutput(raw); err != nil {
		return extract.Result{}, err
	}
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(raw, &doc); err != nil {
		return extract.Result{}, fmt.Errorf("command: decode output: %w", err)
	}
	names := make([]string, 0, len(doc))
	for n := range doc {
		names = append(names, n)
	}
	sort.Strings(names)

	var res extract.Result
	for _, n := range names {
		body := bytes.TrimSpace(doc[n])
		ds := extract.Dataset{Name: n}
		switch {
		case len(body) > 0 && body[0] == '[':
			dec := json.NewDecoder(bytes.NewReader(body))
			dec.UseNumber()
			if err := dec.Decode(&ds.Records); err != nil {
				ds.Err = fmt.Errorf("decode records: %w", err)
			}
		default:
			var de datasetError
			_ = json.Unmarshal(body, &de)
			ds.Err = errors.New(de.Error)
		}
		res.Datasets = append(res.Datasets, ds)
	}
	return res, nil
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
