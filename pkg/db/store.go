package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// DBExecutor is an interface that allows functions to accept *sql.DB,
// *sql.Conn or *sql.Tx.
type DBExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// isUniqueConstraintErr returns true when the error text indicates a
// unique/constraint violation. Used when the driver error type is unknown.
func isUniqueConstraintErr(err error) bool {
	if err == nil {
		return false
	}
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "unique") || strings.Contains(s, "constraint failed") || strings.Contains(s, "violates")
}

// RejectedRow is a row of a batch the store declined without failing the
// batch.
type RejectedRow struct {
	Row    int
	Reason string
}

// BatchResult is the outcome of one InsertBatch call.
type BatchResult struct {
	Table    string
	Index    int
	Rows     int
	Accepted int
	Rejected []RejectedRow
	// Err is set when the whole batch was rolled back. A *ConstraintError
	// means the data was at fault; anything else means the store is unusable.
	Err error
}

// ConstraintError reports a batch that violated a constraint the store could
// not skip row by row, such as a foreign key with enforcement on.
type ConstraintError struct {
	Table string
	Batch int
	Row   int
	Err   error
}

func (e *ConstraintError) Error() string {
	return fmt.Sprintf("%s batch %d row %d: constraint violation: %v", e.Table, e.Batch, e.Row, e.Err)
}

func (e *ConstraintError) Unwrap() error { return e.Err }

// Sink is the relational store the loader writes to.
type Sink interface {
	InsertBatch(ctx context.Context, t Table, index int, rows []Row) BatchResult
	SetIntegrity(ctx context.Context, enabled bool) error
}

// SQLSink writes batches through database/sql. It pins a single connection
// so session settings such as foreign key enforcement apply to every batch.
type SQLSink struct {
	conn    *sql.Conn
	dialect Dialect
}

// NewSQLSink reserves a connection from db. Close releases it.
func NewSQLSink(ctx context.Context, db *sql.DB, d Dialect) (*SQLSink, error) {
	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("reserve connection: %w", err)
	}
	return &SQLSink{conn: conn, dialect: d}, nil
}

func (s *SQLSink) Close() error {
	return s.conn.Close()
}

// SetIntegrity switches foreign key enforcement for the pinned session.
func (s *SQLSink) SetIntegrity(ctx context.Context, enabled bool) error {
	if _, err := s.conn.ExecContext(ctx, s.dialect.Integrity(enabled)); err != nil {
		return fmt.Errorf("set integrity %v: %w", enabled, err)
	}
	return nil
}

// InsertBatch inserts rows in one transaction. Rows colliding with an
// existing key are skipped and reported in Rejected; any other failure rolls
// back the whole batch.
func (s *SQLSink) InsertBatch(ctx context.Context, t Table, index int, rows []Row) BatchResult {
	res := BatchResult{Table: t.Name, Index: index, Rows: len(rows)}
	if len(rows) == 0 {
		return res
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		res.Err = fmt.Errorf("begin %s batch %d: %w", t.Name, index, err)
		return res
	}
	defer func() {
		_ = tx.Rollback() // ignored if committed
	}()

	stmt, err := tx.PrepareContext(ctx, s.dialect.InsertIgnore(t))
	if err != nil {
		res.Err = fmt.Errorf("prepare %s insert: %w", t.Name, err)
		return res
	}
	defer stmt.Close()

	for i, row := range rows {
		r, err := stmt.ExecContext(ctx, row.Values()...)
		if err != nil {
			return s.failed(res, i, err)
		}
		n, err := r.RowsAffected()
		if err == nil && n == 0 {
			res.Rejected = append(res.Rejected, RejectedRow{Row: i, Reason: "duplicate key"})
			continue
		}
		res.Accepted++
	}

	if err := tx.Commit(); err != nil {
		return s.failed(res, -1, err)
	}
	return res
}

func (s *SQLSink) failed(res BatchResult, row int, err error) BatchResult {
	res.Accepted = 0
	res.Rejected = nil
	if s.dialect.IsConstraintViolation(err) {
		res.Err = &ConstraintError{Table: res.Table, Batch: res.Index, Row: row, Err: err}
		return res
	}
	res.Err = fmt.Errorf("%s batch %d: %w", res.Table, res.Index, err)
	return res
}
