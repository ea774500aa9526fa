package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	internal "github.com/ZanzyTHEbar/srag-analyst/srag"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

// Migrate applies the embedded schema migrations to an open database.
func Migrate(ctx context.Context, db *sql.DB) error {
	fsys, err := fs.Sub(embeddedMigrations, "migrations")
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectTurso, db, fsys)
	if err != nil {
		return fmt.Errorf("failed to create goose provider: %w", err)
	}

	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("failed to run goose migrations: %w", err)
	}
	return nil
}

// Prepare builds or refreshes the analytical store at path from a CSV export whose
// header names a subset of the documented columns. Existing rows are replaced.
// It returns the number of rows loaded.
func Prepare(ctx context.Context, path string, data io.Reader) (int, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, fmt.Errorf("failed to create store directory: %w", err)
	}

	db, err := sql.Open("libsql", "file:"+path)
	if err != nil {
		return 0, fmt.Errorf("failed to open libsql connection: %w", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(1)

	if err := Migrate(ctx, db); err != nil {
		return 0, err
	}

	r := csv.NewReader(data)
	r.TrimLeadingSpace = true
	header, err := r.Read()
	if err != nil {
		return 0, fmt.Errorf("failed to read csv header: %w", err)
	}
	if err := validateHeader(header); err != nil {
		return 0, err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	table := quoteIdent(internal.DefaultTable)
	if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
		return 0, fmt.Errorf("failed to clear %s: %w", internal.DefaultTable, err)
	}

	cols := make([]string, len(header))
	marks := make([]string, len(header))
	for i, h := range header {
		cols[i] = quoteIdent(h)
		marks[i] = "?"
	}
	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		table, strings.Join(cols, ", "), strings.Join(marks, ", ")))
	if err != nil {
		return 0, fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	n := 0
	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return n, fmt.Errorf("failed to read csv line %d: %w", n+2, err)
		}

		args := make([]any, len(record))
		for i, v := range record {
			if v == "" {
				args[i] = nil
				continue
			}
			args[i] = v
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return n, fmt.Errorf("failed to insert csv line %d: %w", n+2, err)
		}
		n++
	}

	if err := tx.Commit(); err != nil {
		return n, fmt.Errorf("failed to commit: %w", err)
	}
	return n, nil
}

func validateHeader(header []string) error {
	known := make(map[string]bool, len(Columns))
	for _, c := range Columns {
		known[c.Name] = true
	}

	hasTimestamp := false
	for i, h := range header {
		h = strings.TrimSpace(h)
		header[i] = h
		if !known[h] {
			return fmt.Errorf("unknown column %q in csv header", h)
		}
		if h == internal.DefaultTimestampColumn {
			hasTimestamp = true
		}
	}
	if !hasTimestamp {
		return fmt.Errorf("csv header must include %s", internal.DefaultTimestampColumn)
	}
	return nil
}
