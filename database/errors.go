package database

import (
	"net/http"

	"github.com/pkg/errors"
	"go.gazette.dev/docdb/revision"
)

// Errors returned by Database operations. Returned errors often wrap these
// with additional context: test for them with errors.Is.
var (
	// ErrNotFound is returned when a document, revision, view, filter, or
	// body is absent (or, for bodies, was compacted away).
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when an insert references a parent revision
	// which is not a current leaf of its document.
	ErrConflict = errors.New("conflict")
	// ErrInvalidRevisionID is returned for malformed "<generation>-<digest>" IDs.
	ErrInvalidRevisionID = revision.ErrInvalidID
	// ErrCompile is returned when a view or filter source can't be compiled,
	// or its design document or property is absent.
	ErrCompile = errors.New("compile error")
	// ErrInconsistent is returned when a revision's parent chain is broken.
	ErrInconsistent = errors.New("inconsistent revision history")
	// ErrTransaction is returned when the PhysicalStore fails to begin,
	// commit, or roll back a transaction.
	ErrTransaction = errors.New("transaction error")
	// ErrNotInTransaction is returned by operations which require an open
	// transaction. It is also an ErrTransaction.
	ErrNotInTransaction = errors.WithMessage(ErrTransaction, "not in a transaction")
	// ErrAborted is returned when an InTransaction block panics, or when a
	// nested transaction requested rollback of a transaction being committed.
	ErrAborted = errors.New("aborted")
	// ErrClosed is returned by Database.Do after the Database is closed.
	ErrClosed = errors.New("database is closed")
)

// StatusCode maps an error returned by a Database operation to an HTTP-like
// status code: 200 if nil, 404 for ErrNotFound, 409 for ErrConflict, 400 for
// ErrInvalidRevisionID and ErrCompile, and 500 otherwise.
func StatusCode(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidRevisionID), errors.Is(err, ErrCompile):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
