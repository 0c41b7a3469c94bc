package worker

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/rishansujesh/ads-warehouse/internal/extract"
	"github.com/rishansujesh/ads-warehouse/internal/jobs"
	"github.com/rishansujesh/ads-warehouse/internal/mocks"
	"github.com/rishansujesh/ads-warehouse/internal/notify"
	"github.com/rishansujesh/ads-warehouse/internal/warehouse"
)

var fixedNow = time.Date(2025, 3, 10, 6, 0, 0, 0, time.UTC)

type sleepRecorder struct{ waits []time.Duration }

func (s *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	s.waits = append(s.waits, d)
	return nil
}

func enabledJob(source string, retries int) *jobs.Job {
	cfg := jobs.NewJobConfig(source+"_daily", source, "0 6 * * *").WithEnabled(true)
	cfg.RetryCount = retries
	return jobs.NewJob(cfg)
}

func newRunner(ex extract.Extractor, loader Loader, s *sleepRecorder) *Runner {
	return &Runner{
		Extractors: extract.Registry{jobs.SourceGoogleAds: ex},
		Loader:     loader,
		Now:        func() time.Time { return fixedNow },
		Sleep:      s.sleep,
	}
}

func TestRun_DisabledShortCircuits(t *testing.T) {
	ctrl := gomock.NewController(t)
	ex := mocks.NewMockExtractor(ctrl)
	loader := mocks.NewMockLoader(ctrl)
	store := &memStore{}

	r := newRunner(ex, loader, &sleepRecorder{})
	r.Store = store
	job := jobs.NewJob(jobs.NewJobConfig("gads_daily", jobs.SourceGoogleAds, "0 6 * * *"))

	run := r.Run(context.Background(), job, false)

	assert.False(t, run.Success)
	assert.Equal(t, "job disabled", run.ErrorText())
	assert.Equal(t, 1, job.RunCount())
	assert.Empty(t, store.runs)
}

func TestRun_RetryBound(t *testing.T) {
	ctrl := gomock.NewController(t)
	ex := mocks.NewMockExtractor(ctrl)
	sink := mocks.NewMockSink(ctrl)

	ex.EXPECT().TestConnection(gomock.Any()).Return(errors.New("connection refused")).Times(4)
	sink.EXPECT().SendJobFailure(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, f notify.JobFailure) error {
		assert.Equal(t, "gads_daily", f.JobName)
		assert.Equal(t, 4, f.Attempts)
		return nil
	}).Times(1)

	sleeps := &sleepRecorder{}
	store := &memStore{}
	r := newRunner(ex, mocks.NewMockLoader(ctrl), sleeps)
	r.Store = store
	r.Notifier = notify.New(notify.Options{Sinks: []notify.Registration{{Name: "mock", Sink: sink}}})
	job := enabledJob(jobs.SourceGoogleAds, 3)

	run := r.Run(context.Background(), job, false)

	assert.False(t, run.Success)
	assert.Equal(t, 3, run.RetryAttempt)
	assert.Contains(t, run.ErrorText(), "failed after 4 attempts")
	assert.Contains(t, run.ErrorText(), "connection refused")
	assert.Equal(t, 4, job.RunCount())
	assert.Len(t, store.runs, 4)
	assert.Equal(t, []time.Duration{5 * time.Minute, 5 * time.Minute, 5 * time.Minute}, sleeps.waits)
}

func TestRun_ConfigErrorIsNotRetried(t *testing.T) {
	ctrl := gomock.NewController(t)
	ex := mocks.NewMockExtractor(ctrl)
	ex.EXPECT().TestConnection(gomock.Any()).Return(jobs.ConfigError("missing developer token")).Times(1)

	sleeps := &sleepRecorder{}
	r := newRunner(ex, mocks.NewMockLoader(ctrl), sleeps)
	job := enabledJob(jobs.SourceGoogleAds, 3)

	run := r.Run(context.Background(), job, false)

	assert.False(t, run.Success)
	assert.Equal(t, 0, run.RetryAttempt)
	assert.Contains(t, run.ErrorText(), "missing developer token")
	assert.NotContains(t, run.ErrorText(), "failed after")
	assert.Empty(t, sleeps.waits)
}

func TestRun_UnknownSource(t *testing.T) {
	ctrl := gomock.NewController(t)
	r := newRunner(mocks.NewMockExtractor(ctrl), mocks.NewMockLoader(ctrl), &sleepRecorder{})
	job := enabledJob("tiktok", 3)

	run := r.Run(context.Background(), job, false)

	assert.False(t, run.Success)
	assert.Contains(t, run.ErrorText(), "unknown source")
	assert.Equal(t, 1, job.RunCount())
}

func TestRun_ForceRunsDisabledJob(t *testing.T) {
	ctrl := gomock.NewController(t)
	ex := mocks.NewMockExtractor(ctrl)
	ex.EXPECT().TestConnection(gomock.Any()).Return(nil)
	ex.EXPECT().ExtractAll(gomock.Any(), jobs.WindowFor(fixedNow, 7)).Return(extract.Result{}, nil)

	r := newRunner(ex, mocks.NewMockLoader(ctrl), &sleepRecorder{})
	job := jobs.NewJob(jobs.NewJobConfig("gads_daily", jobs.SourceGoogleAds, ""))

	run := r.Run(context.Background(), job, true)
	assert.True(t, run.Success)
	assert.Equal(t, 0, run.RowsExtracted)
}

func TestRun_PartialDatasetFailureStillSucceeds(t *testing.T) {
	ctrl := gomock.NewController(t)
	ex := mocks.NewMockExtractor(ctrl)
	ex.EXPECT().TestConnection(gomock.Any()).Return(nil)
	ex.EXPECT().ExtractAll(gomock.Any(), gomock.Any()).Return(extract.Result{Datasets: []extract.Dataset{
		{Name: "campaigns", Records: []map[string]any{
			{"date": "2025-03-09", "campaign_id": "c1", "clicks": 10, "cost": 12.5},
			{"date": "2025-03-09", "campaign_id": "c2", "clicks": 4, "cost": 3.0},
		}},
		{Name: "keywords", Err: errors.New("quota exceeded")},
	}}, nil)

	path := filepath.Join(t.TempDir(), "wh.db")
	var logs bytes.Buffer
	r := newRunner(ex, warehouse.NewLoader(path, nil), &sleepRecorder{})
	r.Logger = slog.New(slog.NewJSONHandler(&logs, nil))
	job := enabledJob(jobs.SourceGoogleAds, 3)

	run := r.Run(context.Background(), job, false)

	require.True(t, run.Success, run.ErrorText())
	assert.Equal(t, 2, run.RowsExtracted)
	assert.Equal(t, []string{"gads_campaigns"}, run.TablesTouched)
	assert.Contains(t, logs.String(), `"msg":"partial extraction"`)
	assert.Contains(t, logs.String(), `"failed":["keywords"]`)
	assert.Contains(t, logs.String(), `"days":7`)

	db, err := warehouse.Open(context.Background(), path)
	require.NoError(t, err)
	defer db.Close()
	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM gads_campaigns`).Scan(&n))
	assert.Equal(t, 2, n)
}

func TestRun_LoadFailureRetriesThenSucceeds(t *testing.T) {
	ctrl := gomock.NewController(t)
	ex := mocks.NewMockExtractor(ctrl)
	loader := mocks.NewMockLoader(ctrl)

	ds := extract.Result{Datasets: []extract.Dataset{
		{Name: "daily_summary", Records: []map[string]any{{"date": "2025-03-09", "cost": 100.0}}},
	}}
	ex.EXPECT().TestConnection(gomock.Any()).Return(nil).Times(2)
	ex.EXPECT().ExtractAll(gomock.Any(), gomock.Any()).Return(ds, nil).Times(2)

	upsert := warehouse.LoadOptions{Mode: warehouse.ModeUpsert, Keys: []string{"date"}}
	gomock.InOrder(
		loader.EXPECT().Load(gomock.Any(), "gads_daily_summary", gomock.Any(), upsert).
			Return(warehouse.LoadResult{}, errors.New("database is locked")),
		loader.EXPECT().Load(gomock.Any(), "gads_daily_summary", gomock.Any(), upsert).
			Return(warehouse.LoadResult{Table: "gads_daily_summary", Rows: 1}, nil),
	)

	sleeps := &sleepRecorder{}
	r := newRunner(ex, loader, sleeps)
	job := enabledJob(jobs.SourceGoogleAds, 2)

	run := r.Run(context.Background(), job, false)

	require.True(t, run.Success)
	assert.Equal(t, 1, run.RetryAttempt)
	assert.Equal(t, 1, run.RowsExtracted)
	assert.Len(t, sleeps.waits, 1)

	hist := job.History()
	require.Len(t, hist, 2)
	assert.False(t, hist[0].Success)
	assert.Contains(t, hist[0].ErrorText(), "database is locked")
}

func TestRun_UnregisteredTableIsReplaced(t *testing.T) {
	r := &Runner{}
	assert.Equal(t, warehouse.ModeReplace, r.loadOptions("gads_audiences").Mode)
	opts := r.loadOptions("twitter_tweets")
	assert.Equal(t, warehouse.ModeUpsert, opts.Mode)
	assert.Equal(t, []string{"tweet_id"}, opts.Keys)
}

func TestSleepContext_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := SleepContext(ctx, time.Hour)
	assert.ErrorIs(t, err, context.Canceled)
}

type memStore struct{ runs []jobs.JobRun }

func (m *memStore) RecordRun(_ context.Context, run jobs.JobRun, _ jobs.RunMeta) error {
	m.runs = append(m.runs, run)
	return nil
}
