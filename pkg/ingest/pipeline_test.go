package ingest

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/segmentio/encoding/json"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/schenql/dbbuilder/pkg/db"
)

const testCorpus = `<?xml version="1.0" encoding="ISO-8859-1"?>
<!DOCTYPE dblp SYSTEM "dblp.dtd">
<dblp>
<article key="journals/foo/1" mdate="2020-01-01">
  <author>A. Smith</author>
  <title>Bar</title>
  <year>2020</year>
  <journal>Foo Journal</journal>
</article>
<inproceedings key="conf/x/1">
  <author>Alice Smith</author>
  <author>Unknown Person</author>
  <title>Citing Things</title>
  <year>2019</year>
  <booktitle>X</booktitle>
  <url>db/conf/x/x2019.html#1</url>
</inproceedings>
<inproceedings key="conf/y/2">
  <author>Bob Jones</author>
  <title>Cited Thing</title>
  <year>2018</year>
  <url>db/conf/y/y2018.html#2</url>
</inproceedings>
<www key="homepages/123">
  <author>A. Smith</author>
  <author>Alice Smith</author>
  <title>Home Page</title>
  <note type="affiliation">Ulm University</note>
</www>
<www key="homepages/456">
  <author>Bob Jones</author>
  <note type="affiliation">Nowhere Institute of Nothing</note>
</www>
<www key="www/links">
  <title>Links</title>
</www>
</dblp>
`

const testInstitutions = `<institutions>
  <institution key="inst/ulm"><name>Ulm University</name><location><country>Germany</country><city>Ulm</city></location></institution>
</institutions>`

const testConferences = `<conferences>
  <conference><acronym>x</acronym><title>The X Conference</title></conference>
</conferences>`

const testSatellite = `<publication>
  <abstract>We cite.</abstract>
  <citations><citation>conf/y/2</citation><citation>conf/y/2</citation></citations>
  <keywords><keyword>etl</keyword></keywords>
</publication>`

type fixture struct {
	dir    string
	inputs Inputs
}

func write(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	dir := t.TempDir()
	f := fixture{
		dir: dir,
		inputs: Inputs{
			Corpus:          filepath.Join(dir, "dblp.xml"),
			Institutions:    filepath.Join(dir, "institutions.xml"),
			ConferenceNames: filepath.Join(dir, "conferences.xml"),
			SatelliteDir:    filepath.Join(dir, "satellites"),
		},
	}
	write(t, f.inputs.Corpus, testCorpus)
	write(t, f.inputs.Institutions, testInstitutions)
	write(t, f.inputs.ConferenceNames, testConferences)
	write(t, filepath.Join(f.inputs.SatelliteDir, "conf", "x", "1.xml"), testSatellite)
	return f
}

func runPipeline(t *testing.T, in Inputs) (*sql.DB, *Report, error) {
	t.Helper()
	conn, d := setupDB(t)
	sink := newSQLSink(t, conn, d)
	p := NewPipeline(in, sink)
	p.BatchSize = 2
	p.Logger = zaptest.NewLogger(t)
	rep, err := p.Run(context.Background())
	if cerr := sink.Close(); cerr != nil {
		t.Fatalf("close sink: %v", cerr)
	}
	return conn, rep, err
}

func queryPairs(t *testing.T, conn *sql.DB, query string) [][2]string {
	t.Helper()
	rows, err := conn.Query(query)
	if err != nil {
		t.Fatalf("query %q: %v", query, err)
	}
	defer rows.Close()
	var out [][2]string
	for rows.Next() {
		var a, b sql.NullString
		if err := rows.Scan(&a, &b); err != nil {
			t.Fatalf("scan: %v", err)
		}
		out = append(out, [2]string{a.String, b.String})
	}
	if err := rows.Err(); err != nil {
		t.Fatalf("rows: %v", err)
	}
	return out
}

func TestPipelineEndToEnd(t *testing.T) {
	f := newFixture(t)
	conn, rep, err := runPipeline(t, f.inputs)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	// Journal key derived from the record identifier.
	pubs := queryPairs(t, conn, `SELECT dblp_key, journal_key FROM publication WHERE type = 'article'`)
	if diff := cmp.Diff([][2]string{{"journals/foo/1", "journals/foo"}}, pubs); diff != "" {
		t.Fatalf("articles (-want +got):\n%s", diff)
	}
	journals := queryPairs(t, conn, `SELECT dblp_key, acronym FROM journal`)
	if diff := cmp.Diff([][2]string{{"journals/foo", "foo"}}, journals); diff != "" {
		t.Fatalf("journals (-want +got):\n%s", diff)
	}
	var title string
	var year int
	if err := conn.QueryRow(`SELECT title, year FROM publication WHERE dblp_key = 'journals/foo/1'`).Scan(&title, &year); err != nil {
		t.Fatalf("query publication: %v", err)
	}
	if title != "Bar" || year != 2020 {
		t.Fatalf("unexpected publication %q %d", title, year)
	}

	// Conference keys come from the URL and pick up the title by acronym.
	confs := queryPairs(t, conn, `SELECT dblp_key, name FROM conference ORDER BY dblp_key`)
	want := [][2]string{{"conf/x", "The X Conference"}, {"conf/y", ""}}
	if diff := cmp.Diff(want, confs); diff != "" {
		t.Fatalf("conferences (-want +got):\n%s", diff)
	}

	// Both name variants resolve to one person.
	names := queryPairs(t, conn, `SELECT name, person_key FROM person_name WHERE person_key = 'homepages/123' ORDER BY name`)
	if diff := cmp.Diff([][2]string{{"A. Smith", "homepages/123"}, {"Alice Smith", "homepages/123"}}, names); diff != "" {
		t.Fatalf("person names (-want +got):\n%s", diff)
	}
	auth := queryPairs(t, conn, `SELECT person_key, publication_key FROM person_authored_publication ORDER BY publication_key`)
	wantAuth := [][2]string{
		{"homepages/123", "conf/x/1"},
		{"homepages/456", "conf/y/2"},
		{"homepages/123", "journals/foo/1"},
	}
	if diff := cmp.Diff(wantAuth, auth); diff != "" {
		t.Fatalf("authorships (-want +got):\n%s", diff)
	}
	if rep.Drops.UnresolvedAuthors != 1 {
		t.Fatalf("expected 1 unresolved author, got %+v", rep.Drops)
	}

	// The duplicated citation collapses to one row.
	cites := queryPairs(t, conn, `SELECT publication_key, cited_key FROM publication_references`)
	if diff := cmp.Diff([][2]string{{"conf/x/1", "conf/y/2"}}, cites); diff != "" {
		t.Fatalf("citations (-want +got):\n%s", diff)
	}
	var abstract string
	if err := conn.QueryRow(`SELECT abstract FROM publication WHERE dblp_key = 'conf/x/1'`).Scan(&abstract); err != nil {
		t.Fatalf("query abstract: %v", err)
	}
	if abstract != "We cite." {
		t.Fatalf("unexpected abstract %q", abstract)
	}

	// Only the matching affiliation survives; the other is counted.
	affs := queryPairs(t, conn, `SELECT person_key, institution_key FROM person_works_for_institution`)
	if diff := cmp.Diff([][2]string{{"homepages/123", "inst/ulm"}}, affs); diff != "" {
		t.Fatalf("affiliations (-want +got):\n%s", diff)
	}
	if rep.Drops.UnmatchedAffiliations != 1 {
		t.Fatalf("expected 1 unmatched affiliation, got %+v", rep.Drops)
	}

	if rep.RecordsParsed["www"] != 3 || rep.RecordsParsed["inproceedings"] != 2 {
		t.Fatalf("unexpected record counts %v", rep.RecordsParsed)
	}
	if rep.Institutions != 1 || rep.ConferenceNames != 1 || rep.SatelliteFiles != 1 {
		t.Fatalf("unexpected auxiliary counts %+v", rep)
	}
	if rep.Load.Loaded("publication") != 3 {
		t.Fatalf("expected 3 loaded publications, got %d", rep.Load.Loaded("publication"))
	}
	for _, stage := range []string{StageAuxiliary, StageCorpus, StageResolve, StageLoad} {
		if _, ok := rep.StageSeconds[stage]; !ok {
			t.Fatalf("no timing for stage %s", stage)
		}
	}
}

func TestPipelineUnmatchedAffiliationOnly(t *testing.T) {
	dir := t.TempDir()
	corpusPath := filepath.Join(dir, "dblp.xml")
	write(t, corpusPath, `<dblp><www key="homepages/1"><author>Carol</author><note type="affiliation">Atlantis University</note></www></dblp>`)

	conn, rep, err := runPipeline(t, Inputs{Corpus: corpusPath})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if n := count(t, conn, db.AffiliationTable); n != 0 {
		t.Fatalf("expected no affiliations, got %d", n)
	}
	if n := count(t, conn, db.PersonTable); n != 1 {
		t.Fatalf("expected 1 person, got %d", n)
	}
	if rep.Drops.UnmatchedAffiliations != 1 {
		t.Fatalf("unexpected drops %+v", rep.Drops)
	}
}

func TestPipelineSkipsMissingAuxiliaryInputs(t *testing.T) {
	f := newFixture(t)
	in := f.inputs
	in.Institutions = filepath.Join(f.dir, "absent.xml")
	in.ConferenceNames = ""
	in.SatelliteDir = filepath.Join(f.dir, "no-such-dir")

	conn, rep, err := runPipeline(t, in)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.Institutions != 0 || rep.ConferenceNames != 0 || rep.SatelliteFiles != 0 {
		t.Fatalf("unexpected auxiliary counts %+v", rep)
	}
	if n := count(t, conn, db.CitationTable); n != 0 {
		t.Fatalf("expected no citations, got %d", n)
	}
	if n := count(t, conn, db.PublicationTable); n != 3 {
		t.Fatalf("expected 3 publications, got %d", n)
	}
}

func TestPipelineSkipsCorruptSatellite(t *testing.T) {
	f := newFixture(t)
	write(t, filepath.Join(f.inputs.SatelliteDir, "conf", "y", "2.xml"), `<publication><abstract>broken`)

	conn, rep, err := runPipeline(t, f.inputs)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.SatelliteFiles != 2 || rep.SatelliteErrors != 1 {
		t.Fatalf("expected 1 of 2 satellite files to fail, got %d of %d", rep.SatelliteErrors, rep.SatelliteFiles)
	}
	if n := count(t, conn, db.CitationTable); n != 1 {
		t.Fatalf("the valid satellite should still load, got %d citations", n)
	}
}

func TestPipelineLogsSkippedSatelliteWithRunID(t *testing.T) {
	for name, factory := range map[string]func(workers, queue int) WorkerPoolInterface{
		"default pool": nil,
		"injected pool": func(workers, queue int) WorkerPoolInterface {
			return NewWorkerPool(workers, queue)
		},
	} {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			bad := filepath.Join(f.inputs.SatelliteDir, "conf", "y", "2.xml")
			write(t, bad, `<publication><abstract>broken`)

			conn, d := setupDB(t)
			sink := newSQLSink(t, conn, d)
			core, logs := observer.New(zapcore.WarnLevel)
			p := NewPipeline(f.inputs, sink)
			p.Logger = zap.New(core)
			p.PoolFactory = factory

			rep, err := p.Run(context.Background())
			if err != nil {
				t.Fatalf("Run: %v", err)
			}
			skipped := logs.FilterMessage("skipping satellite file").All()
			if len(skipped) != 1 {
				t.Fatalf("expected 1 skipped satellite log line, got %d", len(skipped))
			}
			fields := skipped[0].ContextMap()
			if fields["run_id"] != rep.RunID {
				t.Fatalf("log line should carry run_id %q, got %v", rep.RunID, fields)
			}
			if fields["path"] != bad {
				t.Fatalf("log line should name the file, got %v", fields)
			}
		})
	}
}

func TestPipelineFailsOnUnreadableCorpus(t *testing.T) {
	f := newFixture(t)
	in := f.inputs
	in.Corpus = filepath.Join(f.dir, "missing.xml.gz")

	conn, rep, err := runPipeline(t, in)
	var se *StageError
	if !errors.As(err, &se) || se.Stage != StageCorpus {
		t.Fatalf("expected corpus stage error, got %v", err)
	}
	if rep.FailedStage != StageCorpus {
		t.Fatalf("report should name the failed stage, got %q", rep.FailedStage)
	}
	if rep.Institutions != 1 {
		t.Fatalf("report should keep completed stages, got %+v", rep)
	}
	if n := count(t, conn, db.PublicationTable); n != 0 {
		t.Fatalf("nothing may be loaded, got %d publications", n)
	}
}

func TestPipelineFailsOnTruncatedCorpus(t *testing.T) {
	f := newFixture(t)
	write(t, f.inputs.Corpus, `<dblp><article key="journals/foo/1"><title>Bar`)

	_, _, err := runPipeline(t, f.inputs)
	var se *StageError
	if !errors.As(err, &se) || se.Stage != StageCorpus {
		t.Fatalf("expected corpus stage error, got %v", err)
	}
}

// failingPool rejects every submission.
type failingPool struct{}

func (failingPool) Start(ctx context.Context)                      {}
func (failingPool) Submit(Job) error                               { return errors.New("pool broken") }
func (failingPool) SubmitCtx(ctx context.Context, job Job) error { return errors.New("pool broken") }
func (failingPool) Close()                                         {}

func TestPipelineSubmitErrorFailsAuxiliaryStage(t *testing.T) {
	f := newFixture(t)
	conn, d := setupDB(t)
	sink := newSQLSink(t, conn, d)
	p := NewPipeline(f.inputs, sink)
	p.Logger = zaptest.NewLogger(t)
	p.PoolFactory = func(workers, queue int) WorkerPoolInterface { return failingPool{} }

	_, err := p.Run(context.Background())
	var se *StageError
	if !errors.As(err, &se) || se.Stage != StageAuxiliary {
		t.Fatalf("expected auxiliary stage error, got %v", err)
	}
	if !strings.Contains(err.Error(), "pool broken") {
		t.Fatalf("expected submit error to propagate, got %v", err)
	}
}

func TestPipelineHonoursCancellation(t *testing.T) {
	f := newFixture(t)
	conn, d := setupDB(t)
	sink := newSQLSink(t, conn, d)
	p := NewPipeline(f.inputs, sink)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestReportJSON(t *testing.T) {
	f := newFixture(t)
	_, rep, err := runPipeline(t, f.inputs)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	var buf bytes.Buffer
	if err := rep.WriteJSON(&buf); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("report is not valid JSON: %v", err)
	}
	for _, field := range []string{"run_id", "stage_seconds", "records_parsed", "drops", "load"} {
		if _, ok := decoded[field]; !ok {
			t.Fatalf("report misses %q: %s", field, buf.String())
		}
	}
	if rep.TotalLoaded() == 0 {
		t.Fatal("expected rows to be loaded")
	}
}
