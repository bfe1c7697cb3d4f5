package database

import (
	"github.com/pkg/errors"
	"go.gazette.dev/docdb/revision"
)

// ComputeWinningRevision returns the current winning revision of the
// document having |numericID|, whether it's deleted, and whether the
// document is in conflict.
//
// If the document has non-deleted leaves, deleted leaves are disregarded.
// The winner is the remaining leaf having the greatest generation, with ties
// broken by the greatest digest. The document is in conflict if it has more
// than one non-deleted leaf, or if more than one remaining leaf has the
// greatest generation.
func (db *Database) ComputeWinningRevision(numericID int64) (winner revision.ID, deleted, conflict bool, err error) {
	db.exec.assertOwned()

	rows, err := db.store.Query(`SELECT generation, digest, is_deleted FROM revs
		WHERE doc_id = $1 AND is_current = TRUE;`, numericID)
	if err != nil {
		return "", false, false, errors.WithMessage(err, "querying current revisions")
	}
	defer rows.Close()

	var leaves []leaf
	for rows.Next() {
		var gen int
		var digest string
		var l leaf

		if err = rows.Scan(&gen, &digest, &l.deleted); err != nil {
			return "", false, false, err
		}
		l.id = revision.MakeID(gen, digest)
		leaves = append(leaves, l)
	}
	if err = rows.Err(); err != nil {
		return "", false, false, err
	} else if len(leaves) == 0 {
		return "", false, false, errors.WithMessagef(ErrNotFound, "document %d has no revisions", numericID)
	}

	var w leaf
	w, conflict = pickWinner(leaves)
	return w.id, w.deleted, conflict, nil
}

type leaf struct {
	id      revision.ID
	deleted bool
	seq     int64
}

// pickWinner returns the winner of non-empty |leaves|, and whether they conflict.
func pickWinner(leaves []leaf) (winner leaf, conflict bool) {
	var live int
	for _, l := range leaves {
		if !l.deleted {
			live++
		}
	}

	var maxGen, tied int
	for _, l := range leaves {
		if live != 0 && l.deleted {
			continue
		}
		var gen = l.id.Generation()

		switch {
		case winner.id == "" || gen > maxGen:
			winner, maxGen, tied = l, gen, 1
		case gen == maxGen:
			tied++
			if revision.Compare(l.id, winner.id) > 0 {
				winner = l
			}
		}
	}
	return winner, live > 1 || tied > 1
}
