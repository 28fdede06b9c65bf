package ingest

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/schenql/dbbuilder/pkg/db"
)

// fakeSink records every batch and fails the ones fail returns an error for.
type fakeSink struct {
	mu        sync.Mutex
	batches   map[string][][]db.Row
	integrity []bool
	fail      func(table string, index int) error
	block     chan struct{}
}

func newFakeSink() *fakeSink {
	return &fakeSink{batches: make(map[string][][]db.Row)}
}

func (f *fakeSink) InsertBatch(ctx context.Context, t db.Table, index int, rows []db.Row) db.BatchResult {
	if f.block != nil {
		<-f.block
	}
	res := db.BatchResult{Table: t.Name, Index: index, Rows: len(rows)}
	if f.fail != nil {
		if err := f.fail(t.Name, index); err != nil {
			res.Err = err
			return res
		}
	}
	f.mu.Lock()
	f.batches[t.Name] = append(f.batches[t.Name], rows)
	f.mu.Unlock()
	res.Accepted = len(rows)
	return res
}

func (f *fakeSink) SetIntegrity(ctx context.Context, enabled bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.integrity = append(f.integrity, enabled)
	return nil
}

func (f *fakeSink) rows(table string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, b := range f.batches[table] {
		n += len(b)
	}
	return n
}

// setupDB opens a file-backed SQLite database with the schema applied. A
// file is used because the sink pins one connection while the test queries
// through another.
func setupDB(t testing.TB) (*sql.DB, db.Dialect) {
	t.Helper()
	conn, d, err := db.Open("sqlite3", filepath.Join(t.TempDir(), "schenql.db"))
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := db.InitDB(context.Background(), conn, d); err != nil {
		t.Fatalf("failed to init db: %v", err)
	}
	return conn, d
}

func newSQLSink(t testing.TB, conn *sql.DB, d db.Dialect) *db.SQLSink {
	t.Helper()
	s, err := db.NewSQLSink(context.Background(), conn, d)
	if err != nil {
		t.Fatalf("failed to create sink: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func count(t testing.TB, conn *sql.DB, table db.Table) int {
	t.Helper()
	n, err := db.Count(context.Background(), conn, table)
	if err != nil {
		t.Fatalf("count %s: %v", table.Name, err)
	}
	return n
}

func personRows(n int) []db.Row {
	rows := make([]db.Row, n)
	for i := range rows {
		rows[i] = db.Person{Key: fmt.Sprintf("homepages/%d", i)}
	}
	return rows
}
