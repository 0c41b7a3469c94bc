package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// Store persists run history in Postgres. The in-memory Job history is the
// source of truth for a running process; the store outlives it.
type Store struct {
	DB        *sql.DB
	DefaultTO time.Duration // default timeout per query
}

func NewStore(db *sql.DB) *Store {
	return &Store{DB: db, DefaultTO: 5 * time.Second}
}

// OpenStore connects through the pgx database/sql driver and pings once.
func OpenStore(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open run store: %w", err)
	}
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping run store: %w", err)
	}
	return NewStore(db), nil
}

func (s *Store) Close() error { return s.DB.Close() }

// RunMeta is what a JobRun does not carry itself.
type RunMeta struct {
	Source string
	Window Window
}

// StoredRun is a JobRun as read back from the store.
type StoredRun struct {
	JobRun
	Source    string `json:"source"`
	WindowKey string `json:"window_key"`
	Window    Window `json:"window"`
}

func (s *Store) RecordRun(ctx context.Context, run JobRun, meta RunMeta) error {
	ctx, cancel := context.WithTimeout(ctx, s.DefaultTO)
	defer cancel()

	tables, _ := json.Marshal(run.TablesTouched)
	q := `
INSERT INTO etl_job_runs (run_id, job_name, source, window_key, window_start, window_end,
  started_at, completed_at, success, rows_extracted, tables_touched, error_text, retry_attempt)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11::jsonb, $12, $13);
`
	_, err := s.DB.ExecContext(ctx, q,
		run.ID, run.JobName, meta.Source, WindowKey(run.JobName, meta.Window),
		meta.Window.StartDate(), meta.Window.EndDate(),
		run.StartedAt, run.CompletedAt, run.Success, run.RowsExtracted, string(tables),
		run.Error, run.RetryAttempt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return fmt.Errorf("%w: %s", ErrDuplicateRun, run.ID)
		}
		return err
	}
	return nil
}

const runColumns = `run_id, job_name, source, window_key, window_start, window_end,
  started_at, completed_at, success, rows_extracted, tables_touched, error_text, retry_attempt`

func (s *Store) ListRunsForJob(ctx context.Context, jobName string, limit int) ([]StoredRun, error) {
	ctx, cancel := context.WithTimeout(ctx, s.DefaultTO)
	defer cancel()
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	q := `
SELECT ` + runColumns + `
FROM etl_job_runs
WHERE job_name = $1
ORDER BY started_at DESC
LIMIT $2;
`
	rows, err := s.DB.QueryContext(ctx, q, jobName, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []StoredRun
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// LastSuccess returns the newest successful run of a job or ErrNotFound.
func (s *Store) LastSuccess(ctx context.Context, jobName string) (*StoredRun, error) {
	ctx, cancel := context.WithTimeout(ctx, s.DefaultTO)
	defer cancel()
	q := `
SELECT ` + runColumns + `
FROM etl_job_runs
WHERE job_name = $1 AND success
ORDER BY started_at DESC
LIMIT 1;
`
	r, err := scanRun(s.DB.QueryRowContext(ctx, q, jobName))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &r, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (StoredRun, error) {
	var r StoredRun
	var tablesRaw []byte
	if err := row.Scan(&r.ID, &r.JobName, &r.Source, &r.WindowKey, &r.Window.Start, &r.Window.End,
		&r.StartedAt, &r.CompletedAt, &r.Success, &r.RowsExtracted, &tablesRaw, &r.Error, &r.RetryAttempt); err != nil {
		return StoredRun{}, err
	}
	_ = json.Unmarshal(tablesRaw, &r.TablesTouched)
	return r, nil
}
