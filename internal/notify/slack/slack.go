// Package slack posts job failures to an incoming webhook.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/rishansujesh/ads-warehouse/internal/notify"
)

type Config struct {
	WebhookURL string
	Channel    string
	Username   string
	Timeout    time.Duration
	RetryLimit int
	Client     *http.Client
}

type Client struct {
	cfg    Config
	client *http.Client
}

var _ notify.Sink = (*Client)(nil)

func NewClient(cfg Config) (*Client, error) {
	cfg.WebhookURL = strings.TrimSpace(cfg.WebhookURL)
	if cfg.WebhookURL == "" {
		return nil, errors.New("slack webhook url is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.RetryLimit < 0 {
		cfg.RetryLimit = 0
	}
	if cfg.Username == "" {
		cfg.Username = "ads-warehouse"
	}
	hc := cfg.Client
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{cfg: cfg, client: hc}, nil
}

func (c *Client) SendJobFailure(ctx context.Context, f notify.JobFailure) error {
	body, err := json.Marshal(c.message(f))
	if err != nil {
		return fmt.Errorf("encode slack payload: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.cfg.RetryLimit; attempt++ {
		if lastErr = c.post(ctx, body); lastErr == nil {
			return nil
		}
		if attempt == c.cfg.RetryLimit {
			break
		}
		t := time.NewTimer(time.Duration(attempt+1) * 200 * time.Millisecond)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
	return lastErr
}

func (c *Client) message(f notify.JobFailure) map[string]any {
	var b strings.Builder
	fmt.Fprintf(&b, ":rotating_light: *ETL job failed*: `%s` (%s)\n", f.JobName, f.Source)
	fmt.Fprintf(&b, "*Attempts:* %d\n", f.Attempts)
	if f.Window != "" {
		fmt.Fprintf(&b, "*Window:* %s\n", f.Window)
	}
	fmt.Fprintf(&b, "*Error:* ```%s```\n", f.Error)

	keys := make([]string, 0, len(f.Metadata))
	for k := range f.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "• %s: %s\n", k, f.Metadata[k])
	}

	ts := f.OccurredAt
	if ts.IsZero() {
		ts = time.Now()
	}
	fmt.Fprintf(&b, "_%s_", ts.UTC().Format(time.RFC3339))

	msg := map[string]any{"text": b.String(), "username": c.cfg.Username}
	if c.cfg.Channel != "" {
		msg["channel"] = c.cfg.Channel
	}
	return msg
}

func (c *Client) post(ctx context.Context, body []byte) (err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("slack request failed: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			err = errors.Join(err, fmt.Errorf("close slack response: %w", cerr))
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("slack webhook status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
