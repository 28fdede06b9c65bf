package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"go.uber.org/zap"

	"github.com/schenql/dbbuilder/pkg/config"
	"github.com/schenql/dbbuilder/pkg/corpus"
	"github.com/schenql/dbbuilder/pkg/db"
	"github.com/schenql/dbbuilder/pkg/ingest"
)

func main() {
	// Setup context for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "schenql-builder: %v\n", err)
		os.Exit(1)
	}
}

// run builds the database. Flags override the SCHENQL_* environment.
func run(ctx context.Context, args []string, stdout io.Writer) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	fs := flag.NewFlagSet("schenql-builder", flag.ContinueOnError)
	fs.StringVar(&cfg.DBDriver, "driver", cfg.DBDriver, "database driver (sqlite3 or pgx)")
	fs.StringVar(&cfg.DBDSN, "db", cfg.DBDSN, "database DSN or SQLite path")
	fs.StringVar(&cfg.DataDir, "data", cfg.DataDir, "directory relative input paths are resolved against")
	fs.StringVar(&cfg.CorpusFile, "corpus", cfg.CorpusFile, "DBLP dump (plain, .gz or .zst; local path or s3://bucket/key)")
	fs.StringVar(&cfg.InstitutionsFile, "institutions", cfg.InstitutionsFile, "institution dataset")
	fs.StringVar(&cfg.ConferenceNamesFile, "conferences", cfg.ConferenceNamesFile, "conference name dataset")
	fs.StringVar(&cfg.SatelliteDir, "satellites", cfg.SatelliteDir, "directory of per-publication satellite files")
	fs.IntVar(&cfg.BatchSize, "batch", cfg.BatchSize, "rows per insert batch")
	fs.IntVar(&cfg.Workers, "workers", cfg.Workers, "satellite parser goroutines")
	fs.BoolVar(&cfg.Truncate, "truncate", cfg.Truncate, "empty all tables before loading")
	fs.StringVar(&cfg.ReportFile, "report", cfg.ReportFile, "write the JSON run report here instead of stdout")
	fs.StringVar(&cfg.MetricsTextfile, "metrics", cfg.MetricsTextfile, "write Prometheus metrics in textfile format here")
	download := fs.Bool("download", false, "download the corpus from the configured URL if it is missing")
	force := fs.Bool("force-download", false, "download the corpus even if it exists")
	verbose := fs.Bool("v", false, "development logging")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := cfg.Finalize(); err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel, *verbose)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	in := ingest.Inputs{
		Corpus:          cfg.Path(cfg.CorpusFile),
		Institutions:    cfg.Path(cfg.InstitutionsFile),
		ConferenceNames: cfg.Path(cfg.ConferenceNamesFile),
		SatelliteDir:    cfg.Path(cfg.SatelliteDir),
	}

	if *download || *force {
		if corpus.IsRemote(in.Corpus) {
			return fmt.Errorf("cannot download into remote location %s", in.Corpus)
		}
		if _, err := corpus.NewDownloader(logger).EnsureCorpus(ctx, cfg.CorpusURL, in.Corpus, *force); err != nil {
			return err
		}
	}

	var objects corpus.ObjectGetter
	if cfg.HasS3() {
		client, err := corpus.NewS3Client(ctx, corpus.S3Config{
			Endpoint:  cfg.S3Endpoint,
			Region:    cfg.S3Region,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
		})
		if err != nil {
			return err
		}
		objects = client
	}

	dialect, err := db.DialectFor(cfg.DBDriver)
	if err != nil {
		return err
	}
	if dialect.Name() == "sqlite" {
		if err := os.MkdirAll(filepath.Dir(cfg.DBDSN), 0o755); err != nil {
			return err
		}
	}
	conn, dialect, err := db.Open(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer conn.Close()

	if err := db.InitDB(ctx, conn, dialect); err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	if cfg.Truncate {
		if err := db.Truncate(ctx, conn, dialect); err != nil {
			return fmt.Errorf("truncate database: %w", err)
		}
	}
	logger.Info("database ready", zap.String("dialect", dialect.Name()), zap.Bool("truncated", cfg.Truncate))

	sink, err := db.NewSQLSink(ctx, conn, dialect)
	if err != nil {
		return err
	}

	p := ingest.NewPipeline(in, sink)
	p.BatchSize = cfg.BatchSize
	p.Workers = cfg.Workers
	p.Objects = objects
	p.Logger = logger

	rep, runErr := p.Run(ctx)
	if err := sink.Close(); err != nil && runErr == nil {
		runErr = err
	}

	if rep != nil {
		if err := writeReport(rep, cfg.ReportFile, stdout); err != nil {
			logger.Error("failed to write report", zap.Error(err))
		}
	}
	if cfg.MetricsTextfile != "" {
		if err := p.Metrics.WriteTextfile(cfg.MetricsTextfile); err != nil {
			logger.Error("failed to write metrics", zap.String("path", cfg.MetricsTextfile), zap.Error(err))
		}
	}
	return runErr
}

func newLogger(level string, development bool) (*zap.Logger, error) {
	if development {
		return zap.NewDevelopment()
	}
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	zc := zap.NewProductionConfig()
	zc.Level = lvl
	return zc.Build()
}

func writeReport(rep *ingest.Report, path string, stdout io.Writer) error {
	if path == "" {
		return rep.WriteJSON(stdout)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := rep.WriteJSON(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
