package database

import (
	"database/sql"
	"strconv"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"go.gazette.dev/docdb/blobstore"
	"go.gazette.dev/docdb/codecs"
	"go.gazette.dev/docdb/design"
	"go.gazette.dev/docdb/revision"
)

// Config of a Database.
type Config struct {
	// Store is the PhysicalStore of the Database. Required.
	Store PhysicalStore
	// Blobs stores document bodies. If nil, bodies are held by an
	// in-memory blobstore.Store.
	Blobs BlobStore
	// Codec of document bodies. If nil, JSONCodec is used.
	Codec BodyCodec
	// Indexer compiles and runs views. If nil, a new design.Registry is used.
	Indexer design.Indexer
	// FilterCompiler compiles filters of design documents. If nil, the
	// Indexer is used if it's also a FilterCompiler.
	FilterCompiler design.FilterCompiler
	// FilterCacheSize is the number of compiled filters to cache.
	// If zero, DefaultFilterCacheSize is used.
	FilterCacheSize int
}

// DefaultFilterCacheSize is the default size of the compiled filter cache.
const DefaultFilterCacheSize = 64

// Database is an embedded document database. It maintains revision trees of
// documents, nested transactions over its PhysicalStore, a change feed of
// committed revisions, and lazily-updated views.
//
// Database is not safe for concurrent use: all methods must be called from
// its owning context, by way of Database.Do. A method called from outside
// of Do panics.
type Database struct {
	store          PhysicalStore
	blobs          BlobStore
	codec          BodyCodec
	indexer        design.Indexer
	filterCompiler design.FilterCompiler
	exec           *executor

	// TransactionManager state.
	level        int                 // Transaction nesting level.
	rollbackOnly bool                // A nested transaction requested rollback.
	touched      map[string]struct{} // Documents inserted into by the transaction.

	// RevisionStore state.
	lastSequence    int64 // High-water mark of assigned sequences.
	durableSequence int64 // High-water mark known to be recorded by the store.

	// ChangeFeed state.
	pending        []revision.Change
	listeners      []listenerEntry
	nextListenerID ListenerID
	filters        map[string]design.Filter // Registered native filters.
	filterCache    *lru.Cache               // Compiled design document filters.

	// ViewIndexRegistry state.
	views map[string]*View // Open views.
}

// Info keys of database UUIDs and of the sequence high-water mark.
const (
	privateUUIDKey  = "privateUUID"
	publicUUIDKey   = "publicUUID"
	lastSequenceKey = "lastSequence"
)

// Open a Database with the Config.
func Open(cfg Config) (*Database, error) {
	if cfg.Store == nil {
		return nil, errors.New("expected Config.Store")
	}
	if cfg.Blobs == nil {
		var bs, err = blobstore.NewStore(afero.NewMemMapFs(), "/blobs", codecs.NONE)
		if err != nil {
			return nil, err
		}
		cfg.Blobs = bs
	}
	if cfg.Codec == nil {
		cfg.Codec = JSONCodec{}
	}
	if cfg.Indexer == nil {
		cfg.Indexer = design.NewRegistry()
	}
	if cfg.FilterCompiler == nil {
		cfg.FilterCompiler, _ = cfg.Indexer.(design.FilterCompiler)
	}
	if cfg.FilterCacheSize == 0 {
		cfg.FilterCacheSize = DefaultFilterCacheSize
	}
	var cache, err = lru.New(cfg.FilterCacheSize)
	if err != nil {
		return nil, errors.WithMessage(err, "building filter cache")
	}

	var db = &Database{
		store:          cfg.Store,
		blobs:          cfg.Blobs,
		codec:          cfg.Codec,
		indexer:        cfg.Indexer,
		filterCompiler: cfg.FilterCompiler,
		filters:        make(map[string]design.Filter),
		filterCache:    cache,
		views:          make(map[string]*View),
	}

	if err = db.loadLastSequence(); err != nil {
		return nil, err
	} else if err = db.purgeAnonymousViews(); err != nil {
		return nil, err
	}
	for _, key := range []string{privateUUIDKey, publicUUIDKey} {
		if err = db.initUUID(key); err != nil {
			return nil, err
		}
	}
	db.exec = newExecutor()

	log.WithFields(log.Fields{
		"lastSequence": db.lastSequence,
	}).Debug("opened database")

	return db, nil
}

// OpenSQL opens a SQLStore of the Dialect and |dsn|, and a Database of it.
// Other fields of |cfg| are used as provided.
func OpenSQL(dialect Dialect, dsn string, cfg Config) (*Database, error) {
	var store, err = OpenSQLStore(dialect, dsn)
	if err != nil {
		return nil, err
	}
	cfg.Store = store

	db, err := Open(cfg)
	if err != nil {
		_ = store.Destroy()
		return nil, err
	}
	return db, nil
}

func (db *Database) initUUID(key string) error {
	var val string
	var err = db.store.QueryRow(`SELECT val FROM info WHERE name = $1;`, key).Scan(&val)

	if err == sql.ErrNoRows {
		_, err = db.store.Exec(`INSERT INTO info (name, val) VALUES ($1, $2);`, key, uuid.New().String())
	}
	if err != nil {
		return errors.WithMessagef(err, "initializing %s", key)
	}
	return nil
}

// loadLastSequence seeds the sequence high-water mark from the greatest of
// committed revisions, indexed views, and the recorded mark. Sequences of
// rolled-back transactions appear only in the latter.
func (db *Database) loadLastSequence() error {
	var revs, views int64
	var mark string

	if err := db.store.QueryRow(`SELECT COALESCE(MAX(sequence), 0) FROM revs;`).Scan(&revs); err != nil {
		return errors.WithMessage(err, "querying last sequence of revs")
	}
	if err := db.store.QueryRow(`SELECT COALESCE(MAX(last_sequence), 0) FROM views;`).Scan(&views); err != nil {
		return errors.WithMessage(err, "querying last sequence of views")
	}
	var err = db.store.QueryRow(`SELECT val FROM info WHERE name = $1;`, lastSequenceKey).Scan(&mark)
	if err == sql.ErrNoRows {
		mark, err = "0", nil
	}
	if err != nil {
		return errors.WithMessage(err, "querying recorded last sequence")
	}
	recorded, err := strconv.ParseInt(mark, 10, 64)
	if err != nil {
		return errors.WithMessagef(err, "parsing recorded last sequence %q", mark)
	}

	db.lastSequence = max(revs, views, recorded)
	db.durableSequence = db.lastSequence
	return nil
}

// writeSequenceMark records the current sequence high-water mark, within
// the open physical transaction if there is one.
func (db *Database) writeSequenceMark() error {
	if _, err := db.store.Exec(`INSERT INTO info (name, val) VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE SET val = excluded.val;`,
		lastSequenceKey, strconv.FormatInt(db.lastSequence, 10)); err != nil {
		return errors.WithMessage(err, "recording last sequence")
	}
	return nil
}

// Do runs |fn| within the owning context of the Database, and returns its
// error. All other Database methods must be called within |fn|, and |fn|
// must not itself call Do.
func (db *Database) Do(fn func() error) error { return db.exec.do(fn) }

// Close the Database and its PhysicalStore. Close fails if a transaction
// is open. It must be called outside of Do.
func (db *Database) Close() error {
	var err = db.exec.do(func() error {
		if db.level != 0 {
			return errors.WithMessagef(ErrTransaction,
				"cannot close with open transactions (level %d)", db.level)
		}
		if err := db.purgeAnonymousViews(); err != nil {
			log.WithField("err", err).Warn("failed to purge anonymous views on close")
		}
		db.views = make(map[string]*View)
		db.listeners = nil

		if d, ok := db.store.(interface{ Destroy() error }); ok {
			return d.Destroy()
		}
		return nil
	})
	if err == nil {
		db.exec.halt()
	}
	return err
}

// PrivateUUID returns the private UUID of the Database, which is never shared.
func (db *Database) PrivateUUID() (string, error) { return db.info(privateUUIDKey) }

// PublicUUID returns the public UUID of the Database, which identifies it
// to peers.
func (db *Database) PublicUUID() (string, error) { return db.info(publicUUIDKey) }

func (db *Database) info(key string) (string, error) {
	db.exec.assertOwned()

	var val string
	if err := db.store.QueryRow(`SELECT val FROM info WHERE name = $1;`, key).Scan(&val); err != nil {
		return "", errors.WithMessagef(err, "querying %s", key)
	}
	return val, nil
}

// LastSequence returns the greatest sequence assigned to a revision.
func (db *Database) LastSequence() int64 {
	db.exec.assertOwned()
	return db.lastSequence
}

// DocumentCount returns the number of documents having a current,
// non-deleted revision.
func (db *Database) DocumentCount() (int64, error) {
	db.exec.assertOwned()

	var n int64
	if err := db.store.QueryRow(`SELECT COUNT(DISTINCT doc_id) FROM revs
		WHERE is_current = TRUE AND is_deleted = FALSE;`).Scan(&n); err != nil {
		return 0, errors.WithMessage(err, "counting documents")
	}
	return n, nil
}
