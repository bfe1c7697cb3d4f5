package database

import (
	"database/sql"

	"github.com/pkg/errors"
	"go.gazette.dev/docdb/blobstore"
	"go.gazette.dev/docdb/metrics"
	"go.gazette.dev/docdb/revision"
)

// Columns of revs scanned by scanRevisions.
const revColumns = `r.sequence, r.generation, r.digest, r.parent_digest, r.is_current, r.is_deleted`

// scanRevisions scans and closes |rows| of revColumns, returning Revisions
// of |docID| having unloaded bodies.
func scanRevisions(rows *sql.Rows, docID string) (revision.List, error) {
	defer rows.Close()

	var out revision.List
	for rows.Next() {
		var rev, err = scanRevision(rows, docID)
		if err != nil {
			return nil, err
		}
		out = append(out, rev)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRevision(s scanner, docID string, extra ...interface{}) (*revision.Revision, error) {
	var (
		rev    = &revision.Revision{DocID: docID, Missing: true}
		gen    int
		digest string
		parent sql.NullString
	)
	var dest = append([]interface{}{&rev.Sequence, &gen, &digest, &parent, &rev.Current, &rev.Deleted}, extra...)
	if err := s.Scan(dest...); err != nil {
		return nil, err
	}
	rev.RevID = revision.MakeID(gen, digest)
	if parent.Valid {
		rev.ParentRevID = revision.MakeID(gen-1, parent.String)
	}
	return rev, nil
}

// GetDocNumericID returns the internal numeric ID of |docID|.
func (db *Database) GetDocNumericID(docID string) (int64, error) {
	db.exec.assertOwned()
	return db.docNumericID(docID)
}

func (db *Database) docNumericID(docID string) (int64, error) {
	var id int64
	var err = db.store.QueryRow(`SELECT doc_id FROM docs WHERE docid = $1;`, docID).Scan(&id)

	if err == sql.ErrNoRows {
		return 0, errors.WithMessagef(ErrNotFound, "document %q", docID)
	} else if err != nil {
		return 0, errors.WithMessagef(err, "querying document %q", docID)
	}
	return id, nil
}

func (db *Database) createDocNumericID(docID string) (int64, error) {
	var id int64
	if err := db.store.QueryRow(`INSERT INTO docs (docid) VALUES ($1) RETURNING doc_id;`,
		docID).Scan(&id); err != nil {
		return 0, errors.WithMessagef(err, "creating document %q", docID)
	}
	return id, nil
}

// GetSequence returns the sequence of revision |revID| of the document
// having |numericID|. If |onlyCurrent|, the revision must be a current leaf.
func (db *Database) GetSequence(numericID int64, revID revision.ID, onlyCurrent bool) (int64, error) {
	db.exec.assertOwned()

	var seq int64
	var current bool
	var err = db.store.QueryRow(`SELECT sequence, is_current FROM revs
		WHERE doc_id = $1 AND generation = $2 AND digest = $3;`,
		numericID, revID.Generation(), revID.Digest()).Scan(&seq, &current)

	if err == sql.ErrNoRows || (err == nil && onlyCurrent && !current) {
		return 0, errors.WithMessagef(ErrNotFound, "revision %s", revID)
	} else if err != nil {
		return 0, errors.WithMessagef(err, "querying revision %s", revID)
	}
	return seq, nil
}

// GetDocument returns revision |revID| of |docID|, or its current winning
// revision if |revID| is empty. The body is loaded unless |opts| has
// revision.NoBody, or the body was compacted away (in which case the
// returned Revision is Missing its body). GetDocument fails with ErrNotFound
// if the document or revision doesn't exist, or if |revID| is empty and
// the winning revision is deleted.
func (db *Database) GetDocument(docID string, revID revision.ID, opts revision.ContentOptions) (*revision.Revision, error) {
	db.exec.assertOwned()

	var nid, err = db.docNumericID(docID)
	if err != nil {
		return nil, err
	}
	if revID == "" {
		var deleted bool
		if revID, deleted, _, err = db.ComputeWinningRevision(nid); err != nil {
			return nil, err
		} else if deleted {
			return nil, errors.WithMessagef(ErrNotFound, "document %q is deleted", docID)
		}
	} else if err = revID.Validate(); err != nil {
		return nil, err
	}

	rev, err := db.loadRevision(nid, docID, revID)
	if err != nil {
		return nil, err
	}
	if !opts.Has(revision.NoBody) {
		if err = db.LoadBody(rev, opts); err != nil && !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}
	return rev, nil
}

func (db *Database) loadRevision(nid int64, docID string, revID revision.ID) (*revision.Revision, error) {
	var rev, err = scanRevision(db.store.QueryRow(`SELECT `+revColumns+` FROM revs r
		WHERE r.doc_id = $1 AND r.generation = $2 AND r.digest = $3;`,
		nid, revID.Generation(), revID.Digest()), docID)

	if err == sql.ErrNoRows {
		return nil, errors.WithMessagef(ErrNotFound, "revision %s of %q", revID, docID)
	} else if err != nil {
		return nil, errors.WithMessagef(err, "querying revision %s of %q", revID, docID)
	}
	return rev, nil
}

// ExistsRevision returns true if revision |revID| of |docID| exists.
func (db *Database) ExistsRevision(docID string, revID revision.ID) bool {
	db.exec.assertOwned()

	var n int
	var err = db.store.QueryRow(`SELECT COUNT(*) FROM revs r JOIN docs d ON r.doc_id = d.doc_id
		WHERE d.docid = $1 AND r.generation = $2 AND r.digest = $3;`,
		docID, revID.Generation(), revID.Digest()).Scan(&n)

	return err == nil && n != 0
}

// LoadBody loads the body of |rev|, if it's Missing. It fails with
// ErrNotFound if the body was compacted away. If |opts| has revision.NoBody,
// LoadBody does nothing.
func (db *Database) LoadBody(rev *revision.Revision, opts revision.ContentOptions) error {
	db.exec.assertOwned()

	if !rev.Missing || opts.Has(revision.NoBody) {
		return nil
	}
	var ref sql.NullString
	var err = db.store.QueryRow(`SELECT r.body_ref FROM revs r JOIN docs d ON r.doc_id = d.doc_id
		WHERE d.docid = $1 AND r.generation = $2 AND r.digest = $3;`,
		rev.DocID, rev.RevID.Generation(), rev.RevID.Digest()).Scan(&ref)

	if err == sql.ErrNoRows {
		return errors.WithMessagef(ErrNotFound, "revision %s of %q", rev.RevID, rev.DocID)
	} else if err != nil {
		return errors.WithMessagef(err, "querying body of %s", rev.RevID)
	} else if !ref.Valid {
		return errors.WithMessagef(ErrNotFound, "body of %s of %q was compacted", rev.RevID, rev.DocID)
	}

	body, err := db.blobs.Get(blobstore.Key(ref.String))
	if errors.Is(err, blobstore.ErrNotFound) {
		return errors.WithMessagef(ErrNotFound, "body of %s of %q: %s", rev.RevID, rev.DocID, err)
	} else if err != nil {
		return errors.WithMessagef(err, "fetching body of %s", rev.RevID)
	}
	rev.Body, rev.Missing = body, false
	return nil
}

// GetAllRevisions returns all revisions of |docID| (or only its current
// leaves, if |onlyCurrent|) ordered on descending sequence. Bodies are not
// loaded.
func (db *Database) GetAllRevisions(docID string, onlyCurrent bool) (revision.List, error) {
	db.exec.assertOwned()

	var nid, err = db.docNumericID(docID)
	if err != nil {
		return nil, err
	}
	return db.getAllRevisions(nid, docID, onlyCurrent)
}

func (db *Database) getAllRevisions(nid int64, docID string, onlyCurrent bool) (revision.List, error) {
	var query = `SELECT ` + revColumns + ` FROM revs r WHERE r.doc_id = $1`
	if onlyCurrent {
		query += ` AND r.is_current = TRUE`
	}
	rows, err := db.store.Query(query+` ORDER BY r.sequence DESC;`, nid)
	if err != nil {
		return nil, errors.WithMessagef(err, "querying revisions of %q", docID)
	}
	return scanRevisions(rows, docID)
}

// InsertRevision inserts a new revision of |docID| which is a child of
// |parentRevID|, or is a root revision if |parentRevID| is empty. The
// revision ID is derived from the parent, deletion, and body (see
// revision.Digest). A root insert into a document having only deleted
// leaves instead extends its winning deleted leaf.
//
// It fails with ErrConflict if |parentRevID| isn't a current leaf of the
// document. InsertRevision must be called within a transaction.
func (db *Database) InsertRevision(docID string, parentRevID revision.ID, deleted bool, body []byte) (*revision.Revision, error) {
	db.exec.assertOwned()

	if db.level == 0 {
		return nil, ErrNotInTransaction
	}
	if parentRevID == "" {
		if nid, err := db.docNumericID(docID); err == nil {
			var winner, winnerDeleted, _, err = db.ComputeWinningRevision(nid)
			if err == nil && winnerDeleted {
				parentRevID = winner
			}
		}
	} else if err := parentRevID.Validate(); err != nil {
		return nil, err
	} else if nid, err := db.docNumericID(docID); err == nil {
		if _, err = db.GetSequence(nid, parentRevID, true); errors.Is(err, ErrNotFound) {
			return nil, errors.WithMessagef(ErrConflict,
				"parent %s of %q is not a current revision", parentRevID, docID)
		} else if err != nil {
			return nil, err
		}
	}

	var revID = revision.MakeID(parentRevID.Generation()+1, revision.Digest(parentRevID, deleted, body))
	return db.InsertRevisionWithID(docID, revID, parentRevID, deleted, body)
}

// InsertRevisionWithID inserts revision |revID| of |docID| as a child of
// |parentRevID|, or as a root revision if |parentRevID| is empty. The
// generation of |revID| must be one greater than that of its parent (or
// one, for root revisions). It's used to insert revisions created by
// other peers, and must be called within a transaction.
//
// Unlike InsertRevision, the parent may be any existing revision of the
// document, and a parent which is not a leaf begins a conflicting branch.
// It fails with ErrConflict if the parent doesn't exist, if a root revision
// is inserted into a document having a non-deleted leaf, or if |revID|
// already exists. It fails with
// ErrNotFound if |parentRevID| is given and the document doesn't exist.
func (db *Database) InsertRevisionWithID(docID string, revID, parentRevID revision.ID, deleted bool, body []byte) (*revision.Revision, error) {
	db.exec.assertOwned()

	if db.level == 0 {
		return nil, ErrNotInTransaction
	}
	var rev = &revision.Revision{
		DocID:       docID,
		RevID:       revID,
		ParentRevID: parentRevID,
		Deleted:     deleted,
		Current:     true,
		Body:        body,
	}
	if err := rev.Validate(); err != nil {
		if errors.Is(err, revision.ErrInvalidID) {
			return nil, err
		}
		return nil, errors.WithMessage(ErrInvalidRevisionID, err.Error())
	}

	var nid, err = db.docNumericID(docID)
	if errors.Is(err, ErrNotFound) && parentRevID == "" {
		nid, err = db.createDocNumericID(docID)
	}
	if err != nil {
		return nil, err
	}

	if _, err = db.GetSequence(nid, revID, false); err == nil {
		return nil, errors.WithMessagef(ErrConflict, "revision %s of %q already exists", revID, docID)
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	if parentRevID != "" {
		if _, err = db.GetSequence(nid, parentRevID, false); errors.Is(err, ErrNotFound) {
			return nil, errors.WithMessagef(ErrConflict,
				"parent %s of %q doesn't exist", parentRevID, docID)
		} else if err != nil {
			return nil, err
		}
	} else {
		var live int
		if err = db.store.QueryRow(`SELECT COUNT(*) FROM revs
			WHERE doc_id = $1 AND is_current = TRUE AND is_deleted = FALSE;`, nid).Scan(&live); err != nil {
			return nil, errors.WithMessagef(err, "querying leaves of %q", docID)
		} else if live != 0 {
			return nil, errors.WithMessagef(ErrConflict,
				"root revision %s of %q, which has a current revision", revID, docID)
		}
	}

	if body == nil {
		body = []byte{}
	}
	bodyRef, err := db.blobs.Put(body)
	if err != nil {
		return nil, errors.WithMessagef(err, "storing body of %s", revID)
	}

	var parentDigest sql.NullString
	if parentRevID != "" {
		parentDigest = sql.NullString{String: parentRevID.Digest(), Valid: true}
	}
	var seq = db.lastSequence + 1

	if _, err = db.store.Exec(`INSERT INTO revs
		(sequence, doc_id, generation, digest, parent_digest, is_current, is_deleted, body_ref)
		VALUES ($1, $2, $3, $4, $5, TRUE, $6, $7);`,
		seq, nid, revID.Generation(), revID.Digest(), parentDigest, deleted, string(bodyRef)); err != nil {
		return nil, errors.WithMessagef(err, "inserting revision %s of %q", revID, docID)
	}
	db.lastSequence = seq

	if parentRevID != "" {
		if _, err = db.store.Exec(`UPDATE revs SET is_current = FALSE
			WHERE doc_id = $1 AND generation = $2 AND digest = $3;`,
			nid, parentRevID.Generation(), parentRevID.Digest()); err != nil {
			return nil, errors.WithMessagef(err, "updating parent %s of %q", parentRevID, docID)
		}
	}
	db.touched[docID] = struct{}{}
	metrics.DocDBRevisionsInsertedTotal.Inc()

	rev.Sequence = seq
	rev.Body = body
	return rev, nil
}

// PutRevision inserts a new revision of |docID| within its own (possibly
// nested) transaction, and notifies listeners of the change upon commit.
// |source| identifies the origin of the change, and is empty for local edits.
func (db *Database) PutRevision(docID string, parentRevID revision.ID, deleted bool, body []byte, source string) (*revision.Revision, error) {
	var rev *revision.Revision

	var err = db.InTransaction(func() error {
		var prior revision.ID
		if nid, err := db.docNumericID(docID); err == nil {
			prior, _, _, _ = db.ComputeWinningRevision(nid)
		}

		var err error
		if rev, err = db.InsertRevision(docID, parentRevID, deleted, body); err != nil {
			return err
		}
		var change = revision.Change{Revision: rev, Source: source}

		nid, err := db.docNumericID(docID)
		if err != nil {
			return err
		}
		winner, _, _, err := db.ComputeWinningRevision(nid)
		if err != nil {
			return err
		}
		if winner == rev.RevID {
			change.Winner = rev
		} else if winner != prior {
			if change.Winner, err = db.loadRevision(nid, docID, winner); err != nil {
				return err
			}
		}
		return db.NotifyChange(change)
	})
	if err != nil {
		return nil, err
	}
	return rev, nil
}
