package db

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
)

// Dialect captures the SQL differences between the supported stores.
type Dialect interface {
	Name() string
	DriverName() string
	Schema() string
	// InsertIgnore returns an insert statement for t that silently skips
	// rows colliding with an existing key.
	InsertIgnore(t Table) string
	// Integrity returns the statement that switches foreign key enforcement
	// for the current session.
	Integrity(enabled bool) string
	Truncate(tables []Table) []string
	IsConstraintViolation(err error) bool
}

// DialectFor maps a database/sql driver name to its dialect.
func DialectFor(driver string) (Dialect, error) {
	switch strings.ToLower(driver) {
	case "sqlite3", "sqlite":
		return sqliteDialect{}, nil
	case "pgx", "postgres", "postgresql":
		return postgresDialect{}, nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}

type sqliteDialect struct{}

func (sqliteDialect) Name() string       { return "sqlite" }
func (sqliteDialect) DriverName() string { return "sqlite3" }
func (sqliteDialect) Schema() string     { return sqliteSchema }

// InsertIgnore skips key conflicts only; NOT NULL and CHECK violations
// still fail the statement.
func (sqliteDialect) InsertIgnore(t Table) string {
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT DO NOTHING",
		t.Name, strings.Join(t.Columns, ", "), placeholders(len(t.Columns), func(int) string { return "?" }))
}

func (sqliteDialect) Integrity(enabled bool) string {
	if enabled {
		return "PRAGMA foreign_keys = ON"
	}
	return "PRAGMA foreign_keys = OFF"
}

func (sqliteDialect) Truncate(tables []Table) []string {
	stmts := make([]string, 0, len(tables))
	for _, t := range tables {
		stmts = append(stmts, "DELETE FROM "+t.Name)
	}
	return stmts
}

func (sqliteDialect) IsConstraintViolation(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.Code == sqlite3.ErrConstraint
	}
	return isUniqueConstraintErr(err)
}

type postgresDialect struct{}

func (postgresDialect) Name() string       { return "postgres" }
func (postgresDialect) DriverName() string { return "pgx" }
func (postgresDialect) Schema() string     { return postgresSchema }

func (postgresDialect) InsertIgnore(t Table) string {
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT DO NOTHING",
		t.Name, strings.Join(t.Columns, ", "), placeholders(len(t.Columns), func(i int) string { return fmt.Sprintf("$%d", i+1) }))
}

// Integrity toggles trigger-based foreign key checks; this requires a role
// allowed to set session_replication_role.
func (postgresDialect) Integrity(enabled bool) string {
	if enabled {
		return "SET session_replication_role = origin"
	}
	return "SET session_replication_role = replica"
}

func (postgresDialect) Truncate(tables []Table) []string {
	names := make([]string, len(tables))
	for i, t := range tables {
		names[i] = t.Name
	}
	return []string{"TRUNCATE TABLE " + strings.Join(names, ", ") + " CASCADE"}
}

// IsConstraintViolation reports SQLSTATE class 23 (integrity constraint
// violation).
func (postgresDialect) IsConstraintViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return strings.HasPrefix(pgErr.Code, "23")
	}
	return isUniqueConstraintErr(err)
}

func placeholders(n int, f func(i int) string) string {
	ps := make([]string, n)
	for i := range ps {
		ps[i] = f(i)
	}
	return strings.Join(ps, ", ")
}
