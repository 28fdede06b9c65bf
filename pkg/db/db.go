package db

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
)

var (
	//go:embed schema_sqlite.sql
	sqliteSchema string
	//go:embed schema_postgres.sql
	postgresSchema string
)

// Open opens a database handle for driver ("sqlite3" or "pgx") and returns
// the matching dialect.
func Open(driver, dsn string) (*sql.DB, Dialect, error) {
	d, err := DialectFor(driver)
	if err != nil {
		return nil, nil, err
	}
	conn, err := sql.Open(d.DriverName(), dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s database: %w", d.Name(), err)
	}
	// Each connection to an in-memory SQLite database sees its own database.
	if d.Name() == "sqlite" && strings.Contains(dsn, ":memory:") {
		conn.SetMaxOpenConns(1)
	}
	return conn, d, nil
}

// InitDB runs the embedded schema for the dialect on the given connection.
func InitDB(ctx context.Context, db DBExecutor, d Dialect) error {
	stmts := strings.Split(d.Schema(), ";")
	for _, s := range stmts {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

// Truncate removes all rows from every table, children first, so a rebuild
// starts from a clean state.
func Truncate(ctx context.Context, db DBExecutor, d Dialect) error {
	tables := make([]Table, len(LoadOrder))
	for i, t := range LoadOrder {
		tables[len(LoadOrder)-1-i] = t
	}
	for _, stmt := range d.Truncate(tables) {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("truncate: %w", err)
		}
	}
	return nil
}

// Count returns the number of rows in a table.
func Count(ctx context.Context, db DBExecutor, t Table) (int, error) {
	var n int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+t.Name).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", t.Name, err)
	}
	return n, nil
}
