package warehouse

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
)

// Mode selects how a batch replaces existing rows.
type Mode int

const (
	// ModeReplace drops and recreates the table from the batch (full refresh).
	ModeReplace Mode = iota
	// ModeUpsert deletes rows whose key tuple appears in the batch, then inserts the batch.
	ModeUpsert
)

func (m Mode) String() string {
	switch m {
	case ModeReplace:
		return "replace"
	case ModeUpsert:
		return "upsert"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

type LoadOptions struct {
	Mode Mode
	Keys []string // required for ModeUpsert
}

type LoadResult struct {
	Table   string
	Rows    int
	Created bool
}

// Loader writes batches into the warehouse file at Path.
type Loader struct {
	Path   string
	Logger *slog.Logger
}

func NewLoader(path string, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{Path: path, Logger: logger.With("component", "loader")}
}

// Load persists batch into table. An empty batch is a successful no-op. The
// whole batch commits or nothing does.
func (l *Loader) Load(ctx context.Context, table string, batch Batch, opts LoadOptions) (LoadResult, error) {
	name := Sanitize(table)
	res := LoadResult{Table: name}
	if batch.Len() == 0 {
		return res, nil
	}

	p, err := batch.prepare()
	if err != nil {
		return res, fmt.Errorf("load %s: %w", name, err)
	}
	var keyIdx []int
	if opts.Mode == ModeUpsert {
		if len(opts.Keys) == 0 {
			return res, fmt.Errorf("load %s: upsert without keys: %w", name, ErrMissingKey)
		}
		for _, k := range opts.Keys {
			i := p.index(k)
			if i < 0 {
				return res, fmt.Errorf("load %s: key %q: %w", name, k, ErrMissingKey)
			}
			keyIdx = append(keyIdx, i)
		}
	}

	db, err := Open(ctx, l.Path)
	if err != nil {
		return res, err
	}
	defer db.Close()

	err = db.WithTx(ctx, func(tx *sql.Tx) error {
		switch opts.Mode {
		case ModeReplace:
			return replaceTable(ctx, tx, name, p)
		case ModeUpsert:
			created, err := upsertTable(ctx, tx, name, p, keyIdx)
			res.Created = created
			return err
		default:
			return fmt.Errorf("unknown load mode %s", opts.Mode)
		}
	})
	if err != nil {
		return LoadResult{Table: name}, fmt.Errorf("load %s: %w", name, err)
	}

	res.Rows = len(p.rows)
	l.logger().Info("batch loaded", "table", name, "mode", opts.Mode.String(), "rows", res.Rows, "created", res.Created)
	return res, nil
}

func (l *Loader) logger() *slog.Logger {
	if l.Logger == nil {
		return slog.Default()
	}
	return l.Logger
}

func replaceTable(ctx context.Context, tx execer, table string, p prepared) error {
	if _, err := tx.ExecContext(ctx, `DROP TABLE IF EXISTS `+QuoteIdent(table)); err != nil {
		return fmt.Errorf("drop: %w", err)
	}
	if err := createTable(ctx, tx, table, p.columns); err != nil {
		return err
	}
	return insertRows(ctx, tx, table, p)
}

func upsertTable(ctx context.Context, tx execer, table string, p prepared, keyIdx []int) (bool, error) {
	exists, err := TableExists(ctx, tx, table)
	if err != nil {
		return false, err
	}
	if !exists {
		if err := createTable(ctx, tx, table, p.columns); err != nil {
			return false, err
		}
		return true, insertRows(ctx, tx, table, p)
	}

	if err := addMissingColumns(ctx, tx, table, p.columns); err != nil {
		return false, err
	}
	if err := deleteKeys(ctx, tx, table, p, keyIdx); err != nil {
		return false, err
	}
	return false, insertRows(ctx, tx, table, p)
}

func createTable(ctx context.Context, tx execer, table string, cols []column) error {
	defs := make([]string, len(cols))
	for i, c := range cols {
		defs[i] = QuoteIdent(c.name) + " " + string(c.typ)
	}
	q := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (%s)`, QuoteIdent(table), strings.Join(defs, ", "))
	if _, err := tx.ExecContext(ctx, q); err != nil {
		return fmt.Errorf("create: %w", err)
	}
	return nil
}

func addMissingColumns(ctx context.Context, tx execer, table string, cols []column) error {
	have, err := tableColumns(ctx, tx, table)
	if err != nil {
		return err
	}
	for _, c := range cols {
		if _, ok := have[strings.ToLower(c.name)]; ok {
			continue
		}
		q := fmt.Sprintf(`ALTER TABLE %s ADD COLUMN %s %s`, QuoteIdent(table), QuoteIdent(c.name), c.typ)
		if _, err := tx.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("add column %s: %w", c.name, err)
		}
	}
	return nil
}

// deleteKeys removes every existing row whose key tuple occurs in the batch.
// IS keeps NULL keys comparable.
func deleteKeys(ctx context.Context, tx execer, table string, p prepared, keyIdx []int) error {
	conds := make([]string, len(keyIdx))
	for i, k := range keyIdx {
		conds[i] = QuoteIdent(p.columns[k].name) + " IS ?"
	}
	q := fmt.Sprintf(`DELETE FROM %s WHERE %s`, QuoteIdent(table), strings.Join(conds, " AND "))

	seen := make(map[string]struct{}, len(p.rows))
	args := make([]any, len(keyIdx))
	for _, row := range p.rows {
		for i, k := range keyIdx {
			args[i] = row[k]
		}
		key := fmt.Sprintf("%#v", args)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		if _, err := tx.ExecContext(ctx, q, args...); err != nil {
			return fmt.Errorf("delete existing keys: %w", err)
		}
	}
	return nil
}

func insertRows(ctx context.Context, tx execer, table string, p prepared) error {
	names := make([]string, len(p.columns))
	marks := make([]string, len(p.columns))
	for i, c := range p.columns {
		names[i] = QuoteIdent(c.name)
		marks[i] = "?"
	}
	q := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s)`, QuoteIdent(table), strings.Join(names, ", "), strings.Join(marks, ", "))
	for i, row := range p.rows {
		if _, err := tx.ExecContext(ctx, q, row...); err != nil {
			return fmt.Errorf("insert row %d: %w", i, err)
		}
	}
	return nil
}
