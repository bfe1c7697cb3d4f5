package database

import (
	"go.gazette.dev/docdb/revision"
)

// DocumentProperties returns the properties of |rev|'s body, loading it if
// required, together with special properties:
//   - "_id", "_rev", and "_deleted" (if deleted), always.
//   - "_local_seq" with revision.IncludeLocalSeq.
//   - "_revisions" with revision.IncludeRevs, as a HistoryDict.
//   - "_revs_info" with revision.IncludeRevsInfo.
//   - "_conflicts" with revision.IncludeConflicts, listing other non-deleted
//     current revisions (if any).
//
// Body properties are omitted with revision.NoBody.
func (db *Database) DocumentProperties(rev *revision.Revision, opts revision.ContentOptions) (map[string]interface{}, error) {
	db.exec.assertOwned()

	var props = make(map[string]interface{})

	if !opts.Has(revision.NoBody) {
		if err := db.LoadBody(rev, opts); err != nil {
			return nil, err
		}
		var err error
		if props, err = db.codec.Parse(rev.Body); err != nil {
			return nil, err
		}
	}
	props["_id"] = rev.DocID
	props["_rev"] = rev.RevID.String()
	if rev.Deleted {
		props["_deleted"] = true
	}
	if opts.Has(revision.IncludeLocalSeq) {
		props["_local_seq"] = rev.Sequence
	}

	if opts.Has(revision.IncludeRevs) || opts.Has(revision.IncludeRevsInfo) {
		var history, err = db.GetRevisionHistory(rev)
		if err != nil {
			return nil, err
		}
		if opts.Has(revision.IncludeRevs) {
			var dict = revision.HistoryDict{Start: rev.RevID.Generation()}
			for _, r := range history {
				dict.IDs = append(dict.IDs, r.RevID.Digest())
			}
			props["_revisions"] = map[string]interface{}{"start": dict.Start, "ids": dict.IDs}
		}
		if opts.Has(revision.IncludeRevsInfo) {
			props["_revs_info"], err = db.revsInfo(history)
			if err != nil {
				return nil, err
			}
		}
	}

	if opts.Has(revision.IncludeConflicts) {
		var leaves, err = db.GetAllRevisions(rev.DocID, true)
		if err != nil {
			return nil, err
		}
		var conflicts []string
		for _, l := range leaves {
			if l.RevID != rev.RevID && !l.Deleted {
				conflicts = append(conflicts, l.RevID.String())
			}
		}
		if len(conflicts) != 0 {
			props["_conflicts"] = conflicts
		}
	}
	return props, nil
}

func (db *Database) revsInfo(history revision.List) ([]map[string]interface{}, error) {
	var out []map[string]interface{}

	for _, r := range history {
		var status = "available"
		if r.Deleted {
			status = "deleted"
		} else if ok, err := db.hasBody(r); err != nil {
			return nil, err
		} else if !ok {
			status = "missing"
		}
		out = append(out, map[string]interface{}{"rev": r.RevID.String(), "status": status})
	}
	return out, nil
}

func (db *Database) hasBody(rev *revision.Revision) (bool, error) {
	var n int
	var err = db.store.QueryRow(`SELECT COUNT(*) FROM revs r JOIN docs d ON r.doc_id = d.doc_id
		WHERE d.docid = $1 AND r.generation = $2 AND r.digest = $3 AND r.body_ref IS NOT NULL;`,
		rev.DocID, rev.RevID.Generation(), rev.RevID.Digest()).Scan(&n)
	return n != 0, err
}
