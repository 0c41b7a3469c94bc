// Package warehouse persists extracted marketing records into the embedded
// analytical database file and checks declared table grains.
package warehouse

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

var (
	ErrNoPath         = errors.New("warehouse path required")
	ErrRaggedRecord   = errors.New("ragged record")
	ErrSchemaMismatch = errors.New("schema mismatch")
	ErrMissingKey     = errors.New("key column missing from batch")
)

// Querier is the read surface shared by *sql.DB, *sql.Tx and *DB.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type execer interface {
	Querier
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// DB is one open handle on the warehouse file. Callers open it per logical
// operation (one load, one validation pass) and close it right after.
type DB struct {
	*sql.DB
	Path string
}

func Open(ctx context.Context, path string) (*DB, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, ErrNoPath
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	db, err := sql.Open("sqlite3", path+sep+"_journal_mode=WAL&_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open warehouse: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping warehouse: %w", err)
	}
	return &DB{DB: db, Path: path}, nil
}

// OpenReadOnly opens an existing warehouse file for reading. Unlike Open it
// never creates the file.
func OpenReadOnly(ctx context.Context, path string) (*DB, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, ErrNoPath
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("open warehouse: %w", err)
	}
	db, err := sql.Open("sqlite3", "file:"+path+"?mode=ro&_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open warehouse: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping warehouse: %w", err)
	}
	return &DB{DB: db, Path: path}, nil
}

// WithTx runs fn inside one transaction; nothing is committed if fn fails.
func (d *DB) WithTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := d.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func TableExists(ctx context.Context, q Querier, table string) (bool, error) {
	var n int
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type IN ('table', 'view') AND name = ?`,
		Sanitize(table)).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("lookup table %s: %w", table, err)
	}
	return n > 0, nil
}

func ListTables(ctx context.Context, q Querier) ([]string, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

// TableName returns the physical table for a dataset, e.g. gads + campaigns
// gives gads_campaigns.
func TableName(source, dataset string) string {
	return Sanitize(strings.ToLower(source) + "_" + strings.ToLower(dataset))
}

// Sanitize maps a column or table name onto [A-Za-z0-9_]. Anything else
// becomes an underscore and a leading digit gets an underscore prefix.
func Sanitize(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "_"
	}
	var b strings.Builder
	b.Grow(len(name) + 1)
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	s := b.String()
	if s[0] >= '0' && s[0] <= '9' {
		s = "_" + s
	}
	return s
}

// QuoteIdent quotes an identifier with backticks. SQLite reads an unknown
// double-quoted name as a string literal; a backticked one is always an
// identifier, so a missing column is an error rather than a constant.
func QuoteIdent(s string) string {
	return "`" + strings.ReplaceAll(s, "`", "``") + "`"
}

func tableColumns(ctx context.Context, q Querier, table string) (map[string]string, error) {
	rows, err := q.QueryContext(ctx, fmt.Sprintf(`PRAGMA table_info(%s)`, QuoteIdent(table)))
	if err != nil {
		return nil, fmt.Errorf("table info %s: %w", table, err)
	}
	defer rows.Close()

	out := map[string]string{}
	for rows.Next() {
		var (
			cid     int
			name    string
			ctype   string
			notnull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return nil, err
		}
		out[strings.ToLower(name)] = ctype
	}
	return out, rows.Err()
}
