package mainboilerplate

import (
	_ "github.com/lib/pq"           // Linked for database.PostgresDialect.
	_ "github.com/mattn/go-sqlite3" // Linked for database.SQLiteDialect.
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"go.gazette.dev/docdb/blobstore"
	"go.gazette.dev/docdb/codecs"
	"go.gazette.dev/docdb/database"
	"go.gazette.dev/docdb/design"
	"go.gazette.dev/docdb/metrics"
)

// DatabaseConfig configures a database.Database of an application.
type DatabaseConfig struct {
	Dialect     string `long:"dialect" env:"DIALECT" default:"sqlite" choice:"sqlite" choice:"postgres" description:"SQL dialect of the physical store"`
	DSN         string `long:"dsn" env:"DSN" default:"docdb.sqlite" description:"Data source name of the physical store"`
	BlobDir     string `long:"blob-dir" env:"BLOB_DIR" default:"docdb-blobs" description:"Directory of document body blobs. If empty, blobs are held in memory"`
	Compression string `long:"compression" env:"COMPRESSION" default:"snappy" choice:"none" choice:"gzip" choice:"snappy" choice:"zstandard" description:"Compression codec of document body blobs"`
	FilterCache int    `long:"filter-cache" env:"FILTER_CACHE" default:"64" description:"Number of compiled filters to cache"`
}

// Open the Database described by the DatabaseConfig. Views and filters are
// compiled by the given design.Registry.
func (cfg DatabaseConfig) Open(registry *design.Registry) (*database.Database, error) {
	dialect, err := database.DialectNamed(cfg.Dialect)
	if err != nil {
		return nil, err
	}
	codec, err := codecs.ParseCompressionCodec(cfg.Compression)
	if err != nil {
		return nil, err
	}

	var fs afero.Fs
	if cfg.BlobDir == "" {
		fs = afero.NewMemMapFs()
	} else {
		fs = afero.NewBasePathFs(afero.NewOsFs(), cfg.BlobDir)
	}
	blobs, err := blobstore.NewStore(fs, "/", codec)
	if err != nil {
		return nil, errors.WithMessage(err, "opening blob store")
	}

	db, err := database.OpenSQL(dialect, cfg.DSN, database.Config{
		Blobs:           blobs,
		Indexer:         registry,
		FilterCacheSize: cfg.FilterCache,
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "opening %s database %q", cfg.Dialect, cfg.DSN)
	}

	log.WithFields(log.Fields{
		"dialect":     cfg.Dialect,
		"dsn":         cfg.DSN,
		"blobDir":     cfg.BlobDir,
		"compression": codec,
	}).Info("opened database")

	return db, nil
}

// MustOpen is Open, which panics on error.
func (cfg DatabaseConfig) MustOpen(registry *design.Registry) *database.Database {
	var db, err = cfg.Open(registry)
	Must(err, "failed to open database", "dsn", cfg.DSN)
	return db
}

// RegisterMetrics registers database collectors with |reg|. Collectors are
// process-global, and may be registered only once with a given Registerer.
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(metrics.DocDBCollectors()...)
}
