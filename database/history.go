package database

import (
	"sort"

	"github.com/pkg/errors"
	"go.gazette.dev/docdb/revision"
)

// GetRevisionHistory returns |rev| and each of its ancestors, ordered from
// |rev| to its root. If an ancestor is missing, the history through the
// missing ancestor's child is returned with ErrInconsistent.
func (db *Database) GetRevisionHistory(rev *revision.Revision) (revision.List, error) {
	db.exec.assertOwned()

	var nid, err = db.docNumericID(rev.DocID)
	if err != nil {
		return nil, err
	}
	all, err := db.getAllRevisions(nid, rev.DocID, false)
	if err != nil {
		return nil, err
	}
	var index = make(map[revision.ID]*revision.Revision, len(all))
	for _, r := range all {
		index[r.RevID] = r
	}

	var cur, ok = index[rev.RevID]
	if !ok {
		return nil, errors.WithMessagef(ErrNotFound, "revision %s of %q", rev.RevID, rev.DocID)
	}
	var out revision.List

	for {
		out = append(out, cur)

		if cur.ParentRevID == "" {
			return out, nil
		} else if parent, ok := index[cur.ParentRevID]; !ok {
			return out, errors.WithMessagef(ErrInconsistent, "parent %s of %s of %q is missing",
				cur.ParentRevID, cur.RevID, rev.DocID)
		} else {
			cur = parent
		}
	}
}

// GetRevisionHistoryDict returns the history of |rev| as a HistoryDict.
// As with GetRevisionHistory, a broken history is returned with ErrInconsistent.
func (db *Database) GetRevisionHistoryDict(rev *revision.Revision) (revision.HistoryDict, error) {
	var history, err = db.GetRevisionHistory(rev)
	if history == nil {
		return revision.HistoryDict{}, err
	}
	var dict = revision.HistoryDict{Start: rev.RevID.Generation()}
	for _, r := range history {
		dict.IDs = append(dict.IDs, r.RevID.Digest())
	}
	return dict, err
}

// GetPossibleAncestorRevisionIDs returns IDs of revisions of |rev|'s document
// having a lesser generation, which are not deleted and have available
// bodies. IDs are ordered on descending generation. Within a generation,
// an actual ancestor of |rev| comes first, followed by other revisions in
// order of descending sequence. |rev| needn't itself be stored, in which
// case its ancestry is that of its ParentRevID. If |limit| is non-zero,
// at most |limit| IDs are returned.
func (db *Database) GetPossibleAncestorRevisionIDs(rev *revision.Revision, limit int) ([]revision.ID, error) {
	db.exec.assertOwned()

	var nid, err = db.docNumericID(rev.DocID)
	if err != nil {
		return nil, err
	}
	rows, err := db.store.Query(`SELECT `+revColumns+`, r.body_ref IS NOT NULL
		FROM revs r WHERE r.doc_id = $1 ORDER BY r.sequence DESC;`, nid)
	if err != nil {
		return nil, errors.WithMessagef(err, "querying ancestors of %s", rev.RevID)
	}
	defer rows.Close()

	var index = make(map[revision.ID]*revision.Revision)
	var candidates revision.List

	for rows.Next() {
		var available bool
		var r, err = scanRevision(rows, rev.DocID, &available)
		if err != nil {
			return nil, err
		}
		index[r.RevID] = r

		if r.RevID.Generation() < rev.RevID.Generation() && !r.Deleted && available {
			candidates = append(candidates, r)
		}
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}

	var ancestors = make(map[revision.ID]bool)
	var next = rev.ParentRevID
	if r, ok := index[rev.RevID]; ok {
		next = r.ParentRevID
	}
	for next != "" && !ancestors[next] {
		ancestors[next] = true
		if r, ok := index[next]; ok {
			next = r.ParentRevID
		} else {
			break
		}
	}

	// Candidates are already ordered on descending sequence.
	sort.SliceStable(candidates, func(i, j int) bool {
		var gi, gj = candidates[i].RevID.Generation(), candidates[j].RevID.Generation()
		if gi != gj {
			return gi > gj
		}
		return ancestors[candidates[i].RevID] && !ancestors[candidates[j].RevID]
	})

	var out []revision.ID
	for _, r := range candidates {
		if limit != 0 && len(out) == limit {
			break
		}
		out = append(out, r.RevID)
	}
	return out, nil
}

// FindCommonAncestorOf returns the nearest ancestor of |rev| (or |rev|
// itself) which is included in |revIDs|, or "" if there is none.
func (db *Database) FindCommonAncestorOf(rev *revision.Revision, revIDs []revision.ID) (revision.ID, error) {
	var history, err = db.GetRevisionHistory(rev)
	if err != nil && !errors.Is(err, ErrInconsistent) {
		return "", err
	}
	var set = make(map[revision.ID]struct{}, len(revIDs))
	for _, id := range revIDs {
		set[id] = struct{}{}
	}
	for _, r := range history {
		if _, ok := set[r.RevID]; ok {
			return r.RevID, nil
		}
	}
	return "", nil
}
