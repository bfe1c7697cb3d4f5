package database

import (
	"github.com/pkg/errors"
	"go.gazette.dev/docdb/collate"
	"go.gazette.dev/docdb/revision"
)

// GetAllDocs scans the primary index of documents, ordered on document ID.
// Each row has the document ID as its key and a value of {"rev": <winning
// revision ID>}. Deleted documents are included only with IncludeDeleted,
// and have an additional {"deleted": true} value property.
func (db *Database) GetAllDocs(opts QueryOptions) ([]QueryRow, error) {
	db.exec.assertOwned()

	rows, err := db.store.Query(`SELECT d.docid, r.generation, r.digest, r.is_deleted, r.sequence
		FROM revs r JOIN docs d ON r.doc_id = d.doc_id
		WHERE r.is_current = TRUE ORDER BY d.docid;`)
	if err != nil {
		return nil, errors.WithMessage(err, "querying documents")
	}
	defer rows.Close()

	var leaves = make(map[string][]leaf)
	var order []string

	for rows.Next() {
		var (
			docID  string
			gen    int
			digest string
			l      leaf
		)
		if err = rows.Scan(&docID, &gen, &digest, &l.deleted, &l.seq); err != nil {
			return nil, err
		}
		l.id = revision.MakeID(gen, digest)

		if _, ok := leaves[docID]; !ok {
			order = append(order, docID)
		}
		leaves[docID] = append(leaves[docID], l)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	var index []indexRow
	for _, docID := range order {
		var w, _ = pickWinner(leaves[docID])
		if w.deleted && !opts.IncludeDeleted {
			continue
		}
		var value = map[string]interface{}{"rev": w.id.String()}
		if w.deleted {
			value["deleted"] = true
		}
		key, err := collate.Encode(nil, docID)
		if err != nil {
			return nil, err
		}
		index = append(index, indexRow{
			key: key,
			QueryRow: QueryRow{
				DocID:    docID,
				Sequence: w.seq,
				Key:      docID,
				Value:    value,
			},
		})
	}
	sortRows(index)

	if index, err = selectRows(index, opts); err != nil {
		return nil, err
	}
	var out = toQueryRows(pageRows(index, opts))

	if opts.IncludeDocs {
		if err = db.includeDocs(out, opts); err != nil {
			return nil, err
		}
	}
	return out, nil
}
