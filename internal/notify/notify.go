// Package notify delivers terminal job failures to alert sinks.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// JobFailure is the payload every sink receives.
type JobFailure struct {
	RunID      string            `json:"run_id"`
	JobName    string            `json:"job_name"`
	Source     string            `json:"source"`
	Error      string            `json:"error"`
	Attempts   int               `json:"attempts"`
	Window     string            `json:"window,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

type Sink interface {
	SendJobFailure(ctx context.Context, f JobFailure) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, f JobFailure) error

func (fn SinkFunc) SendJobFailure(ctx context.Context, f JobFailure) error {
	if fn == nil {
		return nil
	}
	return fn(ctx, f)
}

type Registration struct {
	Name string
	Sink Sink
}

type Options struct {
	Logger *slog.Logger
	Sinks  []Registration
}

// Notifier fans a failure out to every registered sink concurrently.
type Notifier struct {
	logger *slog.Logger
	sinks  []Registration
}

func New(opts Options) *Notifier {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	n := &Notifier{logger: logger.With("component", "notifier")}
	for i, r := range opts.Sinks {
		if r.Sink == nil {
			continue
		}
		if r.Name == "" {
			r.Name = fmt.Sprintf("sink-%d", i)
		}
		n.sinks = append(n.sinks, r)
	}
	return n
}

func (n *Notifier) Enabled() bool { return n != nil && len(n.sinks) > 0 }

// NotifyJobFailure waits for all sinks and joins their errors.
func (n *Notifier) NotifyJobFailure(ctx context.Context, f JobFailure) error {
	if !n.Enabled() {
		return nil
	}
	if f.OccurredAt.IsZero() {
		f.OccurredAt = time.Now().UTC()
	}

	errs := make([]error, len(n.sinks))
	var wg sync.WaitGroup
	for i, r := range n.sinks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := r.Sink.SendJobFailure(ctx, f); err != nil {
				n.logger.Error("failure notification not delivered", "sink", r.Name, "job", f.JobName, "error", err)
				errs[i] = fmt.Errorf("%s: %w", r.Name, err)
			}
		}()
	}
	wg.Wait()
	return errors.Join(errs...)
}

// LogSink writes failures to a logger. Registered by default so a failure
// is never silent.
func LogSink(logger *slog.Logger) Sink {
	if logger == nil {
		logger = slog.Default()
	}
	return SinkFunc(func(ctx context.Context, f JobFailure) error {
		logger.ErrorContext(ctx, "job failed",
			"job", f.JobName,
			"source", f.Source,
			"run_id", f.RunID,
			"attempts", f.Attempts,
			"window", f.Window,
			"error", f.Error,
		)
		return nil
	})
}
