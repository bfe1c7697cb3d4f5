package database

import (
	"database/sql"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// PhysicalStore is the underlying transactional store of a Database. It
// manages at most one physical transaction at a time: while a transaction
// is open, all statements are issued through it.
type PhysicalStore interface {
	// Begin a physical transaction. It's an error if one is already open.
	Begin() error
	// Commit the open physical transaction.
	Commit() error
	// Rollback the open physical transaction.
	Rollback() error
	// Exec a statement which returns no rows.
	Exec(query string, args ...interface{}) (sql.Result, error)
	// Query for rows.
	Query(query string, args ...interface{}) (*sql.Rows, error)
	// QueryRow queries for a single row.
	QueryRow(query string, args ...interface{}) *sql.Row
}

// SQLStore is a PhysicalStore implementation which utilizes a database having
// a "database/sql" compatible driver. Its schema is determined by its Dialect,
// and is created if it doesn't yet exist by Bootstrap.
//
// Statements are written with "$N" placeholders, which both SQLite and
// PostgreSQL accept. Placeholders must appear in ascending order.
type SQLStore struct {
	DB      *sql.DB
	Dialect Dialect

	txn *sql.Tx // Current physical transaction.
}

// NewSQLStore returns a new SQLStore using the *DB.
func NewSQLStore(db *sql.DB, dialect Dialect) *SQLStore {
	return &SQLStore{
		DB:      db,
		Dialect: dialect,
	}
}

// OpenSQLStore opens a *sql.DB of the Dialect's driver and |dsn|,
// and bootstraps its schema.
func OpenSQLStore(dialect Dialect, dsn string) (*SQLStore, error) {
	var db, err = sql.Open(dialect.Driver, dsn)
	if err != nil {
		return nil, errors.WithMessagef(err, "opening %s database", dialect.Driver)
	}
	if dialect.SingleConnection {
		// Statements are serialized by the Database anyway, and a single
		// connection is required for in-memory SQLite databases.
		db.SetMaxOpenConns(1)
	}
	var s = NewSQLStore(db, dialect)

	if err = s.Bootstrap(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Bootstrap creates tables and indexes of the Dialect's schema, if they don't exist.
func (s *SQLStore) Bootstrap() error {
	for _, stmt := range s.Dialect.Schema {
		if _, err := s.DB.Exec(stmt); err != nil {
			return errors.WithMessagef(err, "bootstrapping schema (%s)", stmt)
		}
	}
	return nil
}

// Begin a physical transaction.
func (s *SQLStore) Begin() (err error) {
	if s.txn != nil {
		return errors.New("a physical transaction is already open")
	}
	s.txn, err = s.DB.Begin()
	return err
}

// Commit the current physical transaction. The transaction is closed even
// if Commit fails.
func (s *SQLStore) Commit() error {
	if s.txn == nil {
		return errors.New("no physical transaction is open")
	}
	var txn = s.txn
	s.txn = nil
	return txn.Commit()
}

// Rollback the current physical transaction.
func (s *SQLStore) Rollback() error {
	if s.txn == nil {
		return errors.New("no physical transaction is open")
	}
	var txn = s.txn
	s.txn = nil
	return txn.Rollback()
}

// InTransaction returns true if a physical transaction is open.
func (s *SQLStore) InTransaction() bool { return s.txn != nil }

// Exec a statement, within the current transaction if one is open.
func (s *SQLStore) Exec(query string, args ...interface{}) (sql.Result, error) {
	if s.txn != nil {
		return s.txn.Exec(query, args...)
	}
	return s.DB.Exec(query, args...)
}

// Query for rows, within the current transaction if one is open.
func (s *SQLStore) Query(query string, args ...interface{}) (*sql.Rows, error) {
	if s.txn != nil {
		return s.txn.Query(query, args...)
	}
	return s.DB.Query(query, args...)
}

// QueryRow queries a single row, within the current transaction if one is open.
func (s *SQLStore) QueryRow(query string, args ...interface{}) *sql.Row {
	if s.txn != nil {
		return s.txn.QueryRow(query, args...)
	}
	return s.DB.QueryRow(query, args...)
}

// Destroy rolls back an existing transaction, and closes the *DB.
func (s *SQLStore) Destroy() error {
	if s.txn != nil {
		if err := s.txn.Rollback(); err != nil {
			log.WithField("err", err).Warn("failed to roll back transaction of destroyed store")
		}
		s.txn = nil
	}
	return s.DB.Close()
}
