package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/schenql/dbbuilder/pkg/auxdata"
	"github.com/schenql/dbbuilder/pkg/corpus"
	"github.com/schenql/dbbuilder/pkg/db"
	"github.com/schenql/dbbuilder/pkg/metrics"
	"github.com/schenql/dbbuilder/pkg/resolve"
)

// Inputs names the data sources of a run. Corpus is required; the others
// are skipped with a warning when empty or absent.
type Inputs struct {
	Corpus          string
	Institutions    string
	ConferenceNames string
	SatelliteDir    string
}

// Pipeline rebuilds the database from the DBLP dump and its auxiliary
// datasets: auxiliary → corpus → resolve → load.
type Pipeline struct {
	Inputs    Inputs
	Sink      db.Sink
	BatchSize int
	Workers   int
	// Objects serves s3:// inputs. nil when no object store is configured.
	Objects corpus.ObjectGetter
	Logger  *zap.Logger
	Metrics *metrics.Metrics

	// PoolFactory allows tests to inject custom worker pool implementations.
	PoolFactory func(workers, queue int) WorkerPoolInterface
}

// NewPipeline creates a pipeline with the default batch size and worker count.
func NewPipeline(in Inputs, sink db.Sink) *Pipeline {
	return &Pipeline{
		Inputs:    in,
		Sink:      sink,
		BatchSize: 10000,
		Workers:   4,
		Logger:    zap.NewNop(),
		Metrics:   metrics.New(),
	}
}

// auxResult is what the auxiliary stage gathers before anything touches the
// index.
type auxResult struct {
	institutions    []auxdata.Institution
	conferenceNames []auxdata.ConferenceName
	satellites      []auxdata.Satellite
	satelliteFiles  int
	satelliteErrors int
}

// Run executes all stages. On failure the returned error is a *StageError
// and the report covers the stages completed so far.
func (p *Pipeline) Run(ctx context.Context) (*Report, error) {
	rep := &Report{
		RunID:         uuid.NewString(),
		StartedAt:     time.Now().UTC(),
		StageSeconds:  make(map[string]float64),
		RecordsParsed: make(map[string]int64),
		ContainerKeys: make(map[string]int),
	}
	logger := p.Logger.With(zap.String("run_id", rep.RunID))
	ix := resolve.New()

	stage := func(name string, fn func() error) error {
		logger.Info("stage started", zap.String("stage", name))
		start := time.Now()
		err := fn()
		elapsed := time.Since(start)
		rep.StageSeconds[name] = elapsed.Seconds()
		p.Metrics.StageDuration.WithLabelValues(name).Set(elapsed.Seconds())
		if err != nil {
			rep.FailedStage = name
			logger.Error("stage failed", zap.String("stage", name), zap.Duration("elapsed", elapsed), zap.Error(err))
			return &StageError{Stage: name, Err: err}
		}
		logger.Info("stage finished", zap.String("stage", name), zap.Duration("elapsed", elapsed))
		return nil
	}

	if err := stage(StageAuxiliary, func() error {
		aux, err := p.parseAuxiliary(ctx, logger)
		if err != nil {
			return err
		}
		for _, inst := range aux.institutions {
			ix.AddInstitution(inst.Institution, inst.Names)
		}
		for _, c := range aux.conferenceNames {
			ix.AddConferenceTitle(c.Acronym, c.Title)
		}
		for _, s := range aux.satellites {
			ix.AddSatellite(s.Key, s.Abstract, s.Cited, s.Keywords)
		}
		rep.Institutions = len(aux.institutions)
		rep.ConferenceNames = len(aux.conferenceNames)
		rep.SatelliteFiles = aux.satelliteFiles
		rep.SatelliteErrors = aux.satelliteErrors
		return nil
	}); err != nil {
		return rep, err
	}

	if err := stage(StageCorpus, func() error {
		return p.parseCorpus(ctx, logger, ix, rep)
	}); err != nil {
		return rep, err
	}

	var graph *resolve.Graph
	if err := stage(StageResolve, func() error {
		g, drops, err := ix.Resolve()
		if err != nil {
			return err
		}
		graph = g
		rep.Drops = drops
		for reason, n := range drops.ByReason() {
			p.Metrics.AssociationsDropped.WithLabelValues(reason).Add(float64(n))
		}
		logger.Info("references resolved",
			zap.Int("authorships", len(g.Authorships)),
			zap.Int("editorships", len(g.Editorships)),
			zap.Int("affiliations", len(g.Affiliations)),
			zap.Int("unresolved_authors", drops.UnresolvedAuthors),
			zap.Int("unresolved_editors", drops.UnresolvedEditors),
			zap.Int("unmatched_affiliations", drops.UnmatchedAffiliations),
			zap.Int("name_collisions", drops.NameCollisions))
		return nil
	}); err != nil {
		return rep, err
	}

	if err := stage(StageLoad, func() error {
		l := &Loader{Sink: p.Sink, BatchSize: p.BatchSize, Logger: logger, Metrics: p.Metrics}
		res, err := l.Load(ctx, graph)
		rep.Load = res
		return err
	}); err != nil {
		return rep, err
	}

	logger.Info("run finished",
		zap.Int("rows_loaded", rep.TotalLoaded()),
		zap.Int("failed_batches", len(rep.Load.FailedBatches)))
	return rep, nil
}

// parseAuxiliary reads the three auxiliary sources concurrently. Nothing is
// shared between the goroutines; each fills its own field of the result.
func (p *Pipeline) parseAuxiliary(ctx context.Context, logger *zap.Logger) (*auxResult, error) {
	var res auxResult
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		rc, ok, err := p.openOptional(gctx, logger, "institutions", p.Inputs.Institutions)
		if !ok || err != nil {
			return err
		}
		defer rc.Close()
		res.institutions, err = auxdata.ParseInstitutions(rc)
		return err
	})
	g.Go(func() error {
		rc, ok, err := p.openOptional(gctx, logger, "conference names", p.Inputs.ConferenceNames)
		if !ok || err != nil {
			return err
		}
		defer rc.Close()
		res.conferenceNames, err = auxdata.ParseConferenceNames(rc)
		return err
	})
	g.Go(func() error {
		dir := p.Inputs.SatelliteDir
		if dir == "" {
			logger.Warn("no satellite directory configured, skipping abstracts, citations and keywords")
			return nil
		}
		if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
			logger.Warn("satellite directory not found, skipping", zap.String("path", dir))
			return nil
		}
		files, err := auxdata.FindSatellites(dir)
		if err != nil {
			return err
		}
		res.satelliteFiles = len(files)
		res.satellites, res.satelliteErrors, err = p.parseSatellites(gctx, logger, files)
		return err
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	logger.Info("auxiliary data parsed",
		zap.Int("institutions", len(res.institutions)),
		zap.Int("conference_names", len(res.conferenceNames)),
		zap.Int("satellite_files", res.satelliteFiles),
		zap.Int("satellite_errors", res.satelliteErrors))
	return &res, nil
}

// openOptional opens an auxiliary document. ok is false when the input is
// not configured or does not exist.
func (p *Pipeline) openOptional(ctx context.Context, logger *zap.Logger, what, location string) (io.ReadCloser, bool, error) {
	if location == "" {
		logger.Warn("no "+what+" file configured, skipping", zap.String("input", what))
		return nil, false, nil
	}
	rc, err := corpus.Open(ctx, location, p.Objects)
	if errors.Is(err, fs.ErrNotExist) {
		logger.Warn(what+" file not found, skipping", zap.String("path", location))
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("open %s: %w", what, err)
	}
	return rc, true, nil
}

const progressEvery = 1_000_000

func (p *Pipeline) parseCorpus(ctx context.Context, logger *zap.Logger, ix *resolve.Index, rep *Report) error {
	rc, err := corpus.Open(ctx, p.Inputs.Corpus, p.Objects)
	if err != nil {
		return fmt.Errorf("open corpus: %w", err)
	}
	defer rc.Close()

	ex := newExtractor(ix, logger, p.Metrics)
	s := corpus.NewScanner(rc, CorpusTags()...)
	for s.Scan() {
		rec := s.Record()
		ex.add(rec)
		rec.Release()

		if n := s.Count(); n%progressEvery == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
			logger.Info("corpus progress", zap.Int64("records", n))
		}
	}
	if err := s.Err(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	for tag, n := range ex.parsed {
		rep.RecordsParsed[tag] = n
	}
	for k, n := range ex.derivations {
		rep.ContainerKeys[k] = n
	}
	rep.RecordsSkipped = ex.skipped

	counts := ix.Counts()
	logger.Info("corpus parsed",
		zap.Int64("records", s.Count()),
		zap.Int("publications", counts[db.PublicationTable.Name]),
		zap.Int("persons", counts[db.PersonTable.Name]),
		zap.Int("journals", counts[db.JournalTable.Name]),
		zap.Int("conferences", counts[db.ConferenceTable.Name]),
		zap.Int("references", counts["references"]))
	return nil
}
