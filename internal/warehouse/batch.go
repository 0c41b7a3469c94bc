package warehouse

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
)

type ColumnType string

const (
	TypeInteger ColumnType = "INTEGER"
	TypeReal    ColumnType = "REAL"
	TypeText    ColumnType = "TEXT"
)

// Batch is the flat record contract at the loader boundary: one ordered
// column list and rows of scalars (nil, bool, ints, floats, string,
// time.Time, json.Number) in that column order.
type Batch struct {
	Columns []string
	Rows    [][]any
}

// NewBatch converts mapping-shaped records into a Batch. Columns are sorted
// so the result does not depend on map order. Every record must carry
// exactly the columns of the first one.
func NewBatch(records []map[string]any) (Batch, error) {
	if len(records) == 0 {
		return Batch{}, nil
	}
	cols := make([]string, 0, len(records[0]))
	for k := range records[0] {
		cols = append(cols, k)
	}
	sort.Strings(cols)

	rows := make([][]any, 0, len(records))
	for i, rec := range records {
		if len(rec) != len(cols) {
			return Batch{}, fmt.Errorf("record %d has %d columns, want %d: %w", i, len(rec), len(cols), ErrRaggedRecord)
		}
		row := make([]any, len(cols))
		for j, c := range cols {
			v, ok := rec[c]
			if !ok {
				return Batch{}, fmt.Errorf("record %d missing column %q: %w", i, c, ErrRaggedRecord)
			}
			row[j] = v
		}
		rows = append(rows, row)
	}
	return Batch{Columns: cols, Rows: rows}, nil
}

func (b Batch) Len() int { return len(b.Rows) }

// Validate checks the batch against the loader contract without touching
// the warehouse.
func (b Batch) Validate() error {
	_, err := b.prepare()
	return err
}

type column struct {
	name string
	typ  ColumnType
}

// prepared is a batch with sanitized names, inferred types and values
// normalised for the driver.
type prepared struct {
	columns []column
	rows    [][]any
}

func (b Batch) prepare() (prepared, error) {
	if len(b.Columns) == 0 {
		return prepared{}, fmt.Errorf("batch has rows but no columns: %w", ErrSchemaMismatch)
	}
	seen := make(map[string]string, len(b.Columns))
	cols := make([]column, len(b.Columns))
	for j, c := range b.Columns {
		name := Sanitize(c)
		lower := strings.ToLower(name)
		if prev, dup := seen[lower]; dup {
			return prepared{}, fmt.Errorf("columns %q and %q both map to %q: %w", prev, c, name, ErrSchemaMismatch)
		}
		seen[lower] = c
		cols[j] = column{name: name}
	}

	rows := make([][]any, len(b.Rows))
	for i, row := range b.Rows {
		if len(row) != len(cols) {
			return prepared{}, fmt.Errorf("row %d has %d values, want %d: %w", i, len(row), len(cols), ErrRaggedRecord)
		}
		out := make([]any, len(row))
		for j, v := range row {
			nv, typ, err := normalize(v)
			if err != nil {
				return prepared{}, fmt.Errorf("row %d column %q: %w", i, b.Columns[j], err)
			}
			merged, err := mergeType(cols[j].typ, typ)
			if err != nil {
				return prepared{}, fmt.Errorf("column %q: %w", b.Columns[j], err)
			}
			cols[j].typ = merged
			out[j] = nv
		}
		rows[i] = out
	}
	for j := range cols {
		if cols[j].typ == "" {
			cols[j].typ = TypeText
		}
	}
	return prepared{columns: cols, rows: rows}, nil
}

func (p prepared) index(name string) int {
	want := strings.ToLower(Sanitize(name))
	for i, c := range p.columns {
		if strings.ToLower(c.name) == want {
			return i
		}
	}
	return -1
}

func normalize(v any) (any, ColumnType, error) {
	switch t := v.(type) {
	case nil:
		return nil, "", nil
	case string:
		return t, TypeText, nil
	case bool:
		if t {
			return int64(1), TypeInteger, nil
		}
		return int64(0), TypeInteger, nil
	case int:
		return int64(t), TypeInteger, nil
	case int8:
		return int64(t), TypeInteger, nil
	case int16:
		return int64(t), TypeInteger, nil
	case int32:
		return int64(t), TypeInteger, nil
	case int64:
		return t, TypeInteger, nil
	case uint:
		return fromUint(uint64(t))
	case uint8:
		return int64(t), TypeInteger, nil
	case uint16:
		return int64(t), TypeInteger, nil
	case uint32:
		return int64(t), TypeInteger, nil
	case uint64:
		return fromUint(t)
	case float32:
		return float64(t), TypeReal, nil
	case float64:
		return t, TypeReal, nil
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return n, TypeInteger, nil
		}
		f, err := t.Float64()
		if err != nil {
			return nil, "", fmt.Errorf("bad number %q: %w", t.String(), ErrSchemaMismatch)
		}
		return f, TypeReal, nil
	case time.Time:
		return formatTime(t), TypeText, nil
	default:
		return nil, "", fmt.Errorf("unsupported value type %T: %w", v, ErrSchemaMismatch)
	}
}

// fromUint rejects values SQLite's signed INTEGER cannot hold.
func fromUint(u uint64) (any, ColumnType, error) {
	if u > math.MaxInt64 {
		return nil, "", fmt.Errorf("integer %d overflows int64: %w", u, ErrSchemaMismatch)
	}
	return int64(u), TypeInteger, nil
}

// formatTime keeps calendar dates sortable as YYYY-MM-DD text.
func formatTime(t time.Time) string {
	u := t.UTC()
	if u.Hour() == 0 && u.Minute() == 0 && u.Second() == 0 && u.Nanosecond() == 0 {
		return u.Format(time.DateOnly)
	}
	return u.Format(time.RFC3339)
}

func mergeType(have, got ColumnType) (ColumnType, error) {
	switch {
	case got == "" || have == got:
		if have == "" {
			return got, nil
		}
		return have, nil
	case have == "":
		return got, nil
	case (have == TypeInteger && got == TypeReal) || (have == TypeReal && got == TypeInteger):
		return TypeReal, nil
	default:
		return "", fmt.Errorf("mixed %s and %s values: %w", have, got, ErrSchemaMismatch)
	}
}
