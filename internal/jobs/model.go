package jobs

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// Source identifiers of the supported platforms.
const (
	SourceGoogleAds     = "gads"
	SourceSearchConsole = "gsc"
	SourceMeta          = "meta"
	SourceAnalytics     = "ga4"
	SourceTwitter       = "twitter"
)

const (
	defaultLookbackDays      = 7
	defaultRetryCount        = 3
	defaultRetryDelayMinutes = 5
	defaultTimeoutMinutes    = 30
	maxHistory               = 500
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// JobConfig describes one extraction+load job. It is a value: replace it,
// don't mutate it.
type JobConfig struct {
	Name              string   `json:"name"                yaml:"name"                validate:"required,max=64"`
	Source            string   `json:"source"              yaml:"source"              validate:"required,max=32"`
	Enabled           bool     `json:"enabled"             yaml:"enabled"`
	Schedule          string   `json:"schedule"            yaml:"schedule"`
	LookbackDays      int      `json:"lookback_days"       yaml:"lookback_days"       validate:"gte=1,lte=540"`
	RetryCount        int      `json:"retry_count"         yaml:"retry_count"         validate:"gte=0,lte=20"`
	RetryDelayMinutes int      `json:"retry_delay_minutes" yaml:"retry_delay_minutes" validate:"gte=0,lte=1440"`
	TimeoutMinutes    int      `json:"timeout_minutes"     yaml:"timeout_minutes"     validate:"gte=1,lte=1440"`
	NotifyOnFailure   bool     `json:"notify_on_failure"   yaml:"notify_on_failure"`
	DependsOn         []string `json:"depends_on,omitempty" yaml:"depends_on"         validate:"dive,required"`
}

// NewJobConfig returns a disabled config with the default retry policy.
func NewJobConfig(name, source, schedule string) JobConfig {
	return JobConfig{
		Name:              name,
		Source:            source,
		Schedule:          schedule,
		LookbackDays:      defaultLookbackDays,
		RetryCount:        defaultRetryCount,
		RetryDelayMinutes: defaultRetryDelayMinutes,
		TimeoutMinutes:    defaultTimeoutMinutes,
		NotifyOnFailure:   true,
	}
}

func (c JobConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: job %q: %v", ErrConfig, c.Name, err)
	}
	if slices.Contains(c.DependsOn, c.Name) {
		return fmt.Errorf("%w: job %q depends on itself", ErrConfig, c.Name)
	}
	return nil
}

// WithEnabled returns a copy of c with Enabled set.
func (c JobConfig) WithEnabled(enabled bool) JobConfig {
	c.DependsOn = slices.Clone(c.DependsOn)
	c.Enabled = enabled
	return c
}

func (c JobConfig) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelayMinutes) * time.Minute
}

func (c JobConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMinutes) * time.Minute
}

type RunStatus string

const (
	StatusRunning   RunStatus = "running"
	StatusSucceeded RunStatus = "succeeded"
	StatusFailed    RunStatus = "failed"
)

// JobRun records one attempt. CompletedAt is nil while the attempt runs.
type JobRun struct {
	ID            string     `json:"id"`
	JobName       string     `json:"job_name"`
	StartedAt     time.Time  `json:"started_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	Success       bool       `json:"success"`
	RowsExtracted int        `json:"rows_extracted"`
	TablesTouched []string   `json:"tables_touched"`
	Error         *string    `json:"error,omitempty"`
	RetryAttempt  int        `json:"retry_attempt"`
}

func NewRun(jobName string, attempt int, startedAt time.Time) JobRun {
	return JobRun{
		ID:            uuid.NewString(),
		JobName:       jobName,
		StartedAt:     startedAt,
		TablesTouched: []string{},
		RetryAttempt:  attempt,
	}
}

// Complete stamps the completion time and outcome. A run that is already
// complete is returned unchanged.
func (r JobRun) Complete(at time.Time, err error) JobRun {
	if r.CompletedAt != nil {
		return r
	}
	r.CompletedAt = &at
	r.Success = err == nil
	if err != nil {
		msg := err.Error()
		r.Error = &msg
	}
	r.TablesTouched = slices.Clone(r.TablesTouched)
	return r
}

// Duration is CompletedAt - StartedAt; ok is false while running.
func (r JobRun) Duration() (time.Duration, bool) {
	if r.CompletedAt == nil {
		return 0, false
	}
	return r.CompletedAt.Sub(r.StartedAt), true
}

func (r JobRun) Status() RunStatus {
	switch {
	case r.CompletedAt == nil:
		return StatusRunning
	case r.Success:
		return StatusSucceeded
	default:
		return StatusFailed
	}
}

func (r JobRun) ErrorText() string {
	if r.Error == nil {
		return ""
	}
	return *r.Error
}

// Job is a registered config plus its run history.
type Job struct {
	config JobConfig

	mu      sync.RWMutex
	history []JobRun
	total   int
}

func NewJob(cfg JobConfig) *Job {
	return &Job{config: cfg.WithEnabled(cfg.Enabled)}
}

func (j *Job) Config() JobConfig { return j.config.WithEnabled(j.config.Enabled) }

func (j *Job) Name() string { return j.config.Name }

// Record appends a run to the history. The oldest entries are dropped past
// maxHistory; RunCount keeps counting.
func (j *Job) Record(run JobRun) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.history = append(j.history, run)
	if len(j.history) > maxHistory {
		j.history = slices.Clone(j.history[len(j.history)-maxHistory:])
	}
	j.total++
}

func (j *Job) LastRun() (JobRun, bool) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if len(j.history) == 0 {
		return JobRun{}, false
	}
	return j.history[len(j.history)-1], true
}

func (j *Job) History() []JobRun {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return slices.Clone(j.history)
}

func (j *Job) RunCount() int {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.total
}
