// Package config loads the builder settings from the environment.
package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/adrg/xdg"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/schenql/dbbuilder/pkg/db"
)

// Prefix is prepended to every environment variable, e.g. SCHENQL_DB_DSN.
const Prefix = "schenql"

// Config holds all settings of a build run.
type Config struct {
	DBDriver string `envconfig:"DB_DRIVER" default:"sqlite3"`
	DBDSN    string `envconfig:"DB_DSN"`

	// DataDir is the base for every relative input path below.
	DataDir string `envconfig:"DATA_DIR"`

	CorpusFile          string `envconfig:"CORPUS_FILE" default:"dblp.xml.gz"`
	CorpusURL           string `envconfig:"CORPUS_URL" default:"https://dblp.uni-trier.de/xml/dblp.xml.gz"`
	InstitutionsFile    string `envconfig:"INSTITUTIONS_FILE" default:"institutions.xml"`
	ConferenceNamesFile string `envconfig:"CONFERENCE_NAMES_FILE" default:"conferences.xml"`
	SatelliteDir        string `envconfig:"SATELLITE_DIR" default:"satellites"`

	BatchSize int  `envconfig:"BATCH_SIZE" default:"10000"`
	Workers   int  `envconfig:"WORKERS" default:"4"`
	Truncate  bool `envconfig:"TRUNCATE" default:"true"`

	ReportFile      string `envconfig:"REPORT_FILE"`
	MetricsTextfile string `envconfig:"METRICS_TEXTFILE"`

	S3Endpoint  string `envconfig:"S3_ENDPOINT"`
	S3Region    string `envconfig:"S3_REGION" default:"us-east-1"`
	S3AccessKey string `envconfig:"S3_ACCESS_KEY"`
	S3SecretKey string `envconfig:"S3_SECRET_KEY"`

	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
}

// Load reads an optional .env file and then the SCHENQL_* environment.
// Callers apply their own overrides and then call Finalize.
func Load() (*Config, error) {
	_ = godotenv.Load()
	var c Config
	if err := envconfig.Process(Prefix, &c); err != nil {
		return nil, err
	}
	if c.DataDir == "" {
		c.DataDir = filepath.Join(xdg.DataHome, "schenql")
	}
	return &c, nil
}

// Finalize fills in the settings derived from others, such as the SQLite
// database path under DataDir, and validates the result.
func (c *Config) Finalize() error {
	d, err := db.DialectFor(c.DBDriver)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.DBDSN == "" && d.Name() == "sqlite" {
		c.DBDSN = filepath.Join(c.DataDir, "schenql.db")
	}
	return c.Validate()
}

// Validate checks the settings that have no usable default.
func (c *Config) Validate() error {
	if c.DBDSN == "" {
		return fmt.Errorf("config: %s_DB_DSN is required for driver %q", strings.ToUpper(Prefix), c.DBDriver)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("config: batch size must be positive, got %d", c.BatchSize)
	}
	if c.Workers <= 0 {
		return fmt.Errorf("config: workers must be positive, got %d", c.Workers)
	}
	return nil
}

// Path resolves name against DataDir. Absolute paths, s3:// locations and
// the empty string are returned unchanged.
func (c *Config) Path(name string) string {
	if name == "" || filepath.IsAbs(name) || strings.HasPrefix(name, "s3://") {
		return name
	}
	return filepath.Join(c.DataDir, name)
}

// HasS3 reports whether an object store is configured.
func (c *Config) HasS3() bool {
	return c.S3Endpoint != "" || c.S3AccessKey != ""
}
