package database

import (
	"github.com/pkg/errors"
)

// Dialect describes a "database/sql" driver and the schema created within it.
//
// The logical schema is:
//   - docs maps each document ID to a stable numeric doc_id.
//   - revs holds every revision, keyed by (doc_id, generation, digest), with
//     its parent digest, sequence, current & deleted flags, and body blob key
//     (NULL once compacted).
//   - views holds each persisted view's name, source, staleness and the
//     sequence through which it's indexed; view_rows holds its index rows.
//   - info holds database-wide key/value properties, such as UUIDs.
type Dialect struct {
	// Name of the Dialect.
	Name string
	// Driver name, as registered with "database/sql".
	Driver string
	// SingleConnection limits the *sql.DB to one open connection.
	SingleConnection bool
	// Schema statements, executed in order by SQLStore.Bootstrap.
	Schema []string
}

// SQLiteDialect uses github.com/mattn/go-sqlite3, which must be linked into
// the binary (eg, with `import _ "github.com/mattn/go-sqlite3"`).
var SQLiteDialect = Dialect{
	Name:             "sqlite",
	Driver:           "sqlite3",
	SingleConnection: true,
	Schema: []string{
		`PRAGMA foreign_keys = ON;`,
		`CREATE TABLE IF NOT EXISTS docs (
			doc_id INTEGER PRIMARY KEY,
			docid  TEXT UNIQUE NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS revs (
			sequence      INTEGER PRIMARY KEY,
			doc_id        INTEGER NOT NULL REFERENCES docs(doc_id),
			generation    INTEGER NOT NULL,
			digest        TEXT    NOT NULL,
			parent_digest TEXT,
			is_current    BOOLEAN NOT NULL,
			is_deleted    BOOLEAN NOT NULL,
			body_ref      TEXT,
			UNIQUE (doc_id, generation, digest)
		);`,
		`CREATE INDEX IF NOT EXISTS revs_by_current ON revs (doc_id, is_current);`,
		`CREATE TABLE IF NOT EXISTS views (
			view_id       INTEGER PRIMARY KEY,
			name          TEXT UNIQUE NOT NULL,
			source        TEXT,
			stale         BOOLEAN NOT NULL,
			last_sequence INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS view_rows (
			view_id   INTEGER NOT NULL REFERENCES views(view_id),
			sequence  INTEGER NOT NULL,
			docid     TEXT    NOT NULL,
			row_key   BLOB    NOT NULL,
			row_value BLOB
		);`,
		`CREATE INDEX IF NOT EXISTS view_rows_by_key ON view_rows (view_id, row_key);`,
		`CREATE INDEX IF NOT EXISTS view_rows_by_doc ON view_rows (view_id, docid);`,
		`CREATE TABLE IF NOT EXISTS info (
			name TEXT PRIMARY KEY NOT NULL,
			val  TEXT NOT NULL
		);`,
	},
}

// PostgresDialect uses github.com/lib/pq, which must be linked into
// the binary (eg, with `import _ "github.com/lib/pq"`).
var PostgresDialect = Dialect{
	Name:   "postgres",
	Driver: "postgres",
	Schema: []string{
		`CREATE TABLE IF NOT EXISTS docs (
			doc_id BIGINT GENERATED BY DEFAULT AS IDENTITY PRIMARY KEY,
			docid  TEXT UNIQUE NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS revs (
			sequence      BIGINT  PRIMARY KEY,
			doc_id        BIGINT  NOT NULL REFERENCES docs(doc_id),
			generation    INTEGER NOT NULL,
			digest        TEXT    NOT NULL,
			parent_digest TEXT,
			is_current    BOOLEAN NOT NULL,
			is_deleted    BOOLEAN NOT NULL,
			body_ref      TEXT,
			UNIQUE (doc_id, generation, digest)
		);`,
		`CREATE INDEX IF NOT EXISTS revs_by_current ON revs (doc_id, is_current);`,
		`CREATE TABLE IF NOT EXISTS views (
			view_id       BIGINT GENERATED BY DEFAULT AS IDENTITY PRIMARY KEY,
			name          TEXT UNIQUE NOT NULL,
			source        TEXT,
			stale         BOOLEAN NOT NULL,
			last_sequence BIGINT  NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS view_rows (
			view_id   BIGINT NOT NULL REFERENCES views(view_id),
			sequence  BIGINT NOT NULL,
			docid     TEXT   NOT NULL,
			row_key   BYTEA  NOT NULL,
			row_value BYTEA
		);`,
		`CREATE INDEX IF NOT EXISTS view_rows_by_key ON view_rows (view_id, row_key);`,
		`CREATE INDEX IF NOT EXISTS view_rows_by_doc ON view_rows (view_id, docid);`,
		`CREATE TABLE IF NOT EXISTS info (
			name TEXT PRIMARY KEY NOT NULL,
			val  TEXT NOT NULL
		);`,
	},
}

// DialectNamed returns the Dialect having |name|.
func DialectNamed(name string) (Dialect, error) {
	switch name {
	case SQLiteDialect.Name:
		return SQLiteDialect, nil
	case PostgresDialect.Name:
		return PostgresDialect, nil
	default:
		return Dialect{}, errors.Errorf("unknown dialect %q", name)
	}
}
