// Package store gives scoped, read-only access to the prepared analytical store.
//
// A handle is opened per tool invocation and closed on every exit path of that
// invocation; nothing in this package keeps a connection alive between calls.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	internal "github.com/ZanzyTHEbar/srag-analyst/srag"

	_ "github.com/tursodatabase/go-libsql"
)

// ErrUnavailable marks a store that is missing, unreadable or empty.
var ErrUnavailable = errors.New("store unavailable")

const dateLayout = "2006-01-02"

// DependencyContext is created per run and carries the store location.
type DependencyContext struct {
	Path  string
	Table string
}

// NewDependencyContext creates a run-scoped dependency context.
func NewDependencyContext(path, table string) *DependencyContext {
	if table == "" {
		table = internal.DefaultTable
	}
	return &DependencyContext{Path: path, Table: table}
}

// Handle is a single read-only connection valid for the duration of one WithHandle callback.
type Handle struct {
	conn  *sql.Conn
	table string
}

// Result is a materialised query result. Total counts every row the statement
// produced, Rows holds at most the number requested by the caller.
type Result struct {
	Columns []string
	Rows    [][]any
	Total   int
}

// WithHandle opens a read-only handle, runs fn and releases the handle whether fn
// succeeds or not. Failures to open are reported as ErrUnavailable.
func (d *DependencyContext) WithHandle(ctx context.Context, fn func(ctx context.Context, h *Handle) error) error {
	if _, err := os.Stat(d.Path); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrUnavailable, d.Path, err)
	}

	db, err := sql.Open("libsql", "file:"+d.Path)
	if err != nil {
		return fmt.Errorf("%w: failed to open libsql connection: %v", ErrUnavailable, err)
	}
	defer db.Close()
	db.SetMaxOpenConns(1)

	conn, err := db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("%w: failed to acquire connection: %v", ErrUnavailable, err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "PRAGMA query_only = ON"); err != nil {
		return fmt.Errorf("%w: failed to enforce read-only mode: %v", ErrUnavailable, err)
	}

	return fn(ctx, &Handle{conn: conn, table: d.Table})
}

// Verify checks the table exists and holds at least one row.
func (d *DependencyContext) Verify(ctx context.Context) error {
	return d.WithHandle(ctx, func(ctx context.Context, h *Handle) error {
		var n int
		err := h.conn.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?", h.table).Scan(&n)
		if err != nil {
			return fmt.Errorf("%w: failed to inspect schema: %v", ErrUnavailable, err)
		}
		if n == 0 {
			return fmt.Errorf("%w: table %s does not exist", ErrUnavailable, h.table)
		}

		var hasRows int
		if err := h.conn.QueryRowContext(ctx,
			fmt.Sprintf("SELECT EXISTS (SELECT 1 FROM %s LIMIT 1)", h.QuotedTable())).Scan(&hasRows); err != nil {
			return fmt.Errorf("%w: failed to read %s: %v", ErrUnavailable, h.table, err)
		}
		if hasRows == 0 {
			return fmt.Errorf("%w: table %s is empty", ErrUnavailable, h.table)
		}
		return nil
	})
}

// Table returns the analytical table name.
func (h *Handle) Table() string { return h.table }

// QuotedTable returns the table name quoted as an SQL identifier.
func (h *Handle) QuotedTable() string { return quoteIdent(h.table) }

// Query runs a statement and keeps at most keep rows (keep < 0 keeps all).
func (h *Handle) Query(ctx context.Context, query string, keep int, args ...any) (*Result, error) {
	rows, err := h.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	res := &Result{Columns: cols}
	for rows.Next() {
		res.Total++
		if keep >= 0 && len(res.Rows) >= keep {
			continue
		}

		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		for i, v := range vals {
			vals[i] = normalizeValue(v)
		}
		res.Rows = append(res.Rows, vals)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return res, nil
}

// MaxTimestamp returns the latest notification date in the store. The dataset is a
// static snapshot, so every relative window is anchored here rather than on the clock.
func (h *Handle) MaxTimestamp(ctx context.Context) (time.Time, error) {
	var raw sql.NullString
	q := fmt.Sprintf("SELECT MAX(%s) FROM %s", internal.DefaultTimestampColumn, h.QuotedTable())
	if err := h.conn.QueryRowContext(ctx, q).Scan(&raw); err != nil {
		return time.Time{}, fmt.Errorf("%w: failed to read max timestamp: %v", ErrUnavailable, err)
	}
	if !raw.Valid || raw.String == "" {
		return time.Time{}, fmt.Errorf("%w: table %s is empty", ErrUnavailable, h.table)
	}
	return ParseDate(raw.String)
}

// normalizeValue turns driver-specific values into plain text. The driver decodes
// date-like TEXT into time.Time; those are rendered back in their stored form.
func normalizeValue(v any) any {
	switch x := v.(type) {
	case []byte:
		return string(x)
	case time.Time:
		if x.Hour() == 0 && x.Minute() == 0 && x.Second() == 0 && x.Nanosecond() == 0 {
			return FormatDate(x)
		}
		return x.Format(time.RFC3339)
	default:
		return v
	}
}

// ParseDate parses the YYYY-MM-DD prefix of a stored timestamp.
func ParseDate(s string) (time.Time, error) {
	if len(s) > len(dateLayout) {
		s = s[:len(dateLayout)]
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return t, nil
}

// FormatDate renders a date the way it is stored.
func FormatDate(t time.Time) string {
	return t.Format(dateLayout)
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
