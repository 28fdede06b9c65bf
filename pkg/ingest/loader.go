package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/schenql/dbbuilder/pkg/db"
	"github.com/schenql/dbbuilder/pkg/metrics"
	"github.com/schenql/dbbuilder/pkg/resolve"
)

// TableStats summarizes the load of one table.
type TableStats struct {
	Table         string `json:"table"`
	Rows          int    `json:"rows"`
	Batches       int    `json:"batches"`
	Loaded        int    `json:"loaded"`
	Rejected      int    `json:"rejected"`
	FailedBatches int    `json:"failed_batches"`
	// Pruned counts associations dropped before writing because an end
	// was missing from the graph.
	Pruned int `json:"pruned,omitempty"`
}

// FailedBatch identifies a batch rolled back for a constraint violation.
type FailedBatch struct {
	Table string `json:"table"`
	Index int    `json:"index"`
	Rows  int    `json:"rows"`
	Err   string `json:"error"`
}

// LoadResult is the outcome of Loader.Load.
type LoadResult struct {
	Tables        []TableStats  `json:"tables"`
	FailedBatches []FailedBatch `json:"failed_batches,omitempty"`
}

// Loaded returns the loaded row count of table.
func (r *LoadResult) Loaded(table string) int {
	for _, t := range r.Tables {
		if t.Table == table {
			return t.Loaded
		}
	}
	return 0
}

// Loader writes a resolved graph to a sink, parents before children.
type Loader struct {
	Sink      db.Sink
	BatchSize int
	Logger    *zap.Logger
	Metrics   *metrics.Metrics
}

// NewLoader creates a loader with a no-op logger and fresh metrics.
func NewLoader(sink db.Sink, batchSize int) *Loader {
	return &Loader{
		Sink:      sink,
		BatchSize: batchSize,
		Logger:    zap.NewNop(),
		Metrics:   metrics.New(),
	}
}

type tableLoad struct {
	table  db.Table
	rows   []db.Row
	pruned int
}

// Load writes every collection of g in dependency order. Foreign key
// enforcement is switched off for the duration and restored afterwards.
// Associations whose ends are missing from g are dropped and counted.
//
// A batch failing on a constraint is logged and skipped; only a failing sink
// aborts the load.
func (l *Loader) Load(ctx context.Context, g *resolve.Graph) (res *LoadResult, err error) {
	res = &LoadResult{}

	if ierr := l.Sink.SetIntegrity(ctx, false); ierr != nil {
		l.Logger.Warn("could not relax integrity checks, loading with enforcement on", zap.Error(ierr))
	} else {
		defer func() {
			// Restore even when ctx is already cancelled.
			rerr := l.Sink.SetIntegrity(context.WithoutCancel(ctx), true)
			if rerr != nil && err == nil {
				err = fmt.Errorf("restore integrity checks: %w", rerr)
			}
		}()
	}

	for _, step := range plan(g) {
		stats, werr := l.writeTable(ctx, step, res)
		res.Tables = append(res.Tables, stats)
		if werr != nil {
			return res, werr
		}
	}
	return res, nil
}

func (l *Loader) writeTable(ctx context.Context, step tableLoad, res *LoadResult) (TableStats, error) {
	name := step.table.Name
	stats := TableStats{Table: name, Rows: len(step.rows), Pruned: step.pruned}
	if step.pruned > 0 {
		l.Metrics.AssociationsDropped.WithLabelValues("dangling_" + name).Add(float64(step.pruned))
	}
	start := time.Now()

	bw := NewBatchWriter(ctx, l.Sink, step.table, l.BatchSize)
	bw.OnResult = func(r db.BatchResult) {
		stats.Batches++
		stats.Loaded += r.Accepted
		stats.Rejected += len(r.Rejected)
		l.Metrics.RowsLoaded.WithLabelValues(name).Add(float64(r.Accepted))
		l.Metrics.RowsRejected.WithLabelValues(name).Add(float64(len(r.Rejected)))

		var ce *db.ConstraintError
		if errors.As(r.Err, &ce) {
			stats.FailedBatches++
			l.Metrics.BatchesFailed.WithLabelValues(name).Inc()
			res.FailedBatches = append(res.FailedBatches, FailedBatch{Table: name, Index: r.Index, Rows: r.Rows, Err: ce.Err.Error()})
			l.Logger.Warn("batch rejected",
				zap.String("table", name),
				zap.Int("batch", r.Index),
				zap.Int("row", ce.Row),
				zap.Int("rows", r.Rows),
				zap.Error(ce.Err))
		}
	}

	for _, row := range step.rows {
		if err := bw.Submit(row); err != nil {
			_ = bw.Close()
			return stats, fmt.Errorf("load %s: %w", name, err)
		}
	}
	// OnResult runs on the committer goroutine; stats is safe to read once
	// Close has returned.
	if err := bw.Close(); err != nil {
		return stats, fmt.Errorf("load %s: %w", name, err)
	}

	l.Logger.Info("table loaded",
		zap.String("table", name),
		zap.Int("rows", stats.Rows),
		zap.Int("loaded", stats.Loaded),
		zap.Int("rejected", stats.Rejected),
		zap.Int("failed_batches", stats.FailedBatches),
		zap.Int("pruned", stats.Pruned),
		zap.Duration("elapsed", time.Since(start)))
	return stats, nil
}

// plan lists the tables of g in db.LoadOrder with dangling associations
// removed.
func plan(g *resolve.Graph) []tableLoad {
	pubs := keySet(g.Publications, func(p db.Publication) string { return p.Key })
	persons := keySet(g.Persons, func(p db.Person) string { return p.Key })
	insts := keySet(g.Institutions, func(i db.Institution) string { return i.Key })
	kws := keySet(g.Keywords, func(k db.Keyword) string { return k.Text })

	authors, prunedAuthors := keep(g.Authorships, func(a db.Authorship) bool { return persons[a.PersonKey] && pubs[a.PublicationKey] })
	editors, prunedEditors := keep(g.Editorships, func(e db.Editorship) bool { return persons[e.PersonKey] && pubs[e.PublicationKey] })
	affs, prunedAffs := keep(g.Affiliations, func(a db.Affiliation) bool { return persons[a.PersonKey] && insts[a.InstitutionKey] })
	pubKws, prunedPubKws := keep(g.PublicationKeywords, func(k db.PublicationKeyword) bool { return pubs[k.PublicationKey] && kws[k.Keyword] })
	cites, prunedCites := keep(g.Citations, func(c db.Citation) bool { return pubs[c.PublicationKey] && pubs[c.CitedKey] })

	return []tableLoad{
		{table: db.InstitutionTable, rows: db.Rows(g.Institutions)},
		{table: db.InstitutionNameTable, rows: db.Rows(g.InstitutionNames)},
		{table: db.PersonTable, rows: db.Rows(g.Persons)},
		{table: db.PersonNameTable, rows: db.Rows(g.PersonNames)},
		{table: db.JournalTable, rows: db.Rows(g.Journals)},
		{table: db.JournalNameTable, rows: db.Rows(g.JournalNames)},
		{table: db.ConferenceTable, rows: db.Rows(g.Conferences)},
		{table: db.PublicationTable, rows: db.Rows(g.Publications)},
		{table: db.AuthorshipTable, rows: db.Rows(authors), pruned: prunedAuthors},
		{table: db.EditorshipTable, rows: db.Rows(editors), pruned: prunedEditors},
		{table: db.AffiliationTable, rows: db.Rows(affs), pruned: prunedAffs},
		{table: db.KeywordTable, rows: db.Rows(g.Keywords)},
		{table: db.PublicationKeywordTable, rows: db.Rows(pubKws), pruned: prunedPubKws},
		{table: db.CitationTable, rows: db.Rows(cites), pruned: prunedCites},
	}
}

func keySet[T any](xs []T, key func(T) string) map[string]bool {
	m := make(map[string]bool, len(xs))
	for _, x := range xs {
		m[key(x)] = true
	}
	return m
}

func keep[T any](xs []T, ok func(T) bool) ([]T, int) {
	out := make([]T, 0, len(xs))
	for _, x := range xs {
		if ok(x) {
			out = append(out, x)
		}
	}
	return out, len(xs) - len(out)
}
