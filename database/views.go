package database

import (
	"database/sql"
	"encoding/json"
	"sort"
	"strings"
	"time"

	petname "github.com/dustinkirkland/golang-petname"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.gazette.dev/docdb/collate"
	"go.gazette.dev/docdb/design"
	"go.gazette.dev/docdb/metrics"
)

// View is an open, compiled view of a Database. Its persisted index is
// updated lazily, when queried after documents have changed.
type View struct {
	// Name of the View, as "<designDoc>/<view>".
	Name string
	// Source of the View's functions.
	Source design.Source

	db           *Database
	id           int64
	compiled     design.CompiledView
	stale        bool
	lastSequence int64 // Sequence through which the index is updated.
}

// Stale returns true if documents may have changed since the View's index
// was last updated.
func (v *View) Stale() bool {
	v.db.exec.assertOwned()
	return v.stale || v.lastSequence < v.db.lastSequence
}

// LastSequence returns the sequence through which the View's index is updated.
func (v *View) LastSequence() int64 {
	v.db.exec.assertOwned()
	return v.lastSequence
}

// AllViews returns the sorted names of all persisted and open views.
func (db *Database) AllViews() ([]string, error) {
	db.exec.assertOwned()

	rows, err := db.store.Query(`SELECT name FROM views;`)
	if err != nil {
		return nil, errors.WithMessage(err, "querying views")
	}
	defer rows.Close()

	var set = make(map[string]struct{})
	for rows.Next() {
		var name string
		if err = rows.Scan(&name); err != nil {
			return nil, err
		}
		set[name] = struct{}{}
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	for name := range db.views {
		set[name] = struct{}{}
	}

	var out = make([]string, 0, len(set))
	for name := range set {
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

// DeleteViewNamed closes the view |name| and deletes its persisted index.
// It fails with ErrNotFound if there is no such view.
func (db *Database) DeleteViewNamed(name string) error {
	db.exec.assertOwned()

	var _, open = db.views[name]
	delete(db.views, name)

	return db.InTransaction(func() error {
		var id, err = db.viewID(name)
		if errors.Is(err, ErrNotFound) && open {
			return nil
		} else if err != nil {
			return err
		}
		if _, err = db.store.Exec(`DELETE FROM view_rows WHERE view_id = $1;`, id); err != nil {
			return errors.WithMessagef(err, "deleting rows of view %q", name)
		}
		if _, err = db.store.Exec(`DELETE FROM views WHERE view_id = $1;`, id); err != nil {
			return errors.WithMessagef(err, "deleting view %q", name)
		}
		return nil
	})
}

func (db *Database) viewID(name string) (int64, error) {
	var id int64
	var err = db.store.QueryRow(`SELECT view_id FROM views WHERE name = $1;`, name).Scan(&id)

	if err == sql.ErrNoRows {
		return 0, errors.WithMessagef(ErrNotFound, "view %q", name)
	} else if err != nil {
		return 0, errors.WithMessagef(err, "querying view %q", name)
	}
	return id, nil
}

// CompileViewNamed returns the open View |name|. If it's not open, |name|
// must be of the form "<designDoc>/<view>": the view's source is loaded from
// the "views" property of the current revision of "_design/<designDoc>",
// and is compiled by the Indexer. CompileViewNamed fails with ErrCompile if
// the design document or view is absent, or the source can't be compiled.
func (db *Database) CompileViewNamed(name string) (*View, error) {
	db.exec.assertOwned()

	if v, ok := db.views[name]; ok {
		return v, nil
	}
	var ddocName, viewName, ok = design.SplitName(name)
	if !ok {
		return nil, errors.WithMessagef(ErrNotFound, "view %q", name)
	}

	var ddoc, err = db.designDocument(ddocName)
	if errors.Is(err, ErrNotFound) {
		return nil, errors.WithMessagef(ErrCompile, "view %q: %s", name, err)
	} else if err != nil {
		return nil, err
	}
	src, ok := ddoc.Views[viewName]
	if !ok {
		return nil, errors.WithMessagef(ErrCompile, "view %q: not defined by design document", name)
	}
	return db.openView(name, src)
}

// anonymousPrefix prefixes the generated names of anonymous views.
const anonymousPrefix = "_temp/"

// MakeAnonymousView compiles a temporary View of |src| having a generated
// name. It's removed by DeleteViewNamed, and otherwise when the Database
// is closed or next opened.
func (db *Database) MakeAnonymousView(src design.Source) (*View, error) {
	db.exec.assertOwned()

	var name string
	for name == "" || db.views[name] != nil {
		name = anonymousPrefix + petname.Generate(3, "-")
	}
	return db.openView(name, src)
}

// purgeAnonymousViews deletes anonymous views and their index rows.
// It must be called with no transaction open.
func (db *Database) purgeAnonymousViews() error {
	for _, stmt := range []string{
		`DELETE FROM view_rows WHERE view_id IN
			(SELECT view_id FROM views WHERE substr(name, 1, $1) = $2);`,
		`DELETE FROM views WHERE substr(name, 1, $1) = $2;`,
	} {
		if _, err := db.store.Exec(stmt, len(anonymousPrefix), anonymousPrefix); err != nil {
			return errors.WithMessage(err, "purging anonymous views")
		}
	}
	for name := range db.views {
		if strings.HasPrefix(name, anonymousPrefix) {
			delete(db.views, name)
		}
	}
	return nil
}

// metricsLabel of the view |name|. Anonymous views share a label.
func metricsLabel(name string) string {
	if strings.HasPrefix(name, anonymousPrefix) {
		return strings.TrimSuffix(anonymousPrefix, "/")
	}
	return name
}

func (db *Database) openView(name string, src design.Source) (*View, error) {
	var compiled, err = db.indexer.Compile(src)
	if err != nil {
		return nil, errors.WithMessagef(ErrCompile, "view %q: %s", name, err)
	}
	var v = &View{
		Name:     name,
		Source:   src,
		db:       db,
		compiled: compiled,
	}
	srcJSON, err := json.Marshal(src)
	if err != nil {
		return nil, errors.WithMessage(err, "encoding view source")
	}

	if err = db.InTransaction(func() error {
		var prior sql.NullString
		var err = db.store.QueryRow(`SELECT view_id, source, stale, last_sequence FROM views WHERE name = $1;`,
			name).Scan(&v.id, &prior, &v.stale, &v.lastSequence)

		if err == sql.ErrNoRows {
			v.stale = true
			return db.store.QueryRow(`INSERT INTO views (name, source, stale, last_sequence)
				VALUES ($1, $2, TRUE, 0) RETURNING view_id;`, name, string(srcJSON)).Scan(&v.id)
		} else if err != nil {
			return err
		} else if prior.String == string(srcJSON) {
			return nil
		}

		// The view's source changed: its index must be rebuilt.
		log.WithFields(log.Fields{"view": name}).Info("view source changed; resetting index")
		v.stale, v.lastSequence = true, 0

		if _, err = db.store.Exec(`DELETE FROM view_rows WHERE view_id = $1;`, v.id); err != nil {
			return err
		}
		_, err = db.store.Exec(`UPDATE views SET source = $1, stale = TRUE, last_sequence = 0
			WHERE view_id = $2;`, string(srcJSON), v.id)
		return err
	}); err != nil {
		return nil, errors.WithMessagef(err, "opening view %q", name)
	}

	db.views[name] = v
	return v, nil
}

// invalidateViews marks open views as stale following a commit which
// changed |docIDs|. Views and cached filters of changed design documents
// are dropped, to be recompiled on next use.
func (db *Database) invalidateViews(docIDs map[string]struct{}) {
	for _, v := range db.views {
		v.stale = true
	}
	for docID := range docIDs {
		if !design.IsDesignDocID(docID) {
			continue
		}
		var ddoc = strings.TrimPrefix(docID, design.IDPrefix)

		for name := range db.views {
			if strings.HasPrefix(name, ddoc+"/") {
				delete(db.views, name)
				metrics.DocDBViewsInvalidatedTotal.Inc()
			}
		}
		db.purgeFilters(ddoc)
	}
}

// dropOpenViews closes all open views, whose in-memory state may reflect a
// rolled-back transaction.
func (db *Database) dropOpenViews() {
	db.views = make(map[string]*View)
}

// UpdateIndex brings the View's index up to date with the current revisions
// of documents changed since it was last updated. Deleted documents and
// design documents are not indexed.
func (v *View) UpdateIndex() error {
	var db = v.db
	db.exec.assertOwned()

	if !v.Stale() {
		return nil
	}
	var start = time.Now()
	var through = db.lastSequence
	var emitted int

	var err = db.InTransaction(func() error {
		rows, err := db.store.Query(`SELECT DISTINCT d.doc_id, d.docid
			FROM revs r JOIN docs d ON r.doc_id = d.doc_id WHERE r.sequence > $1;`, v.lastSequence)
		if err != nil {
			return errors.WithMessage(err, "querying changed documents")
		}
		type changedDoc struct {
			nid   int64
			docID string
		}
		var changed []changedDoc

		for rows.Next() {
			var c changedDoc
			if err = rows.Scan(&c.nid, &c.docID); err != nil {
				rows.Close()
				return err
			}
			changed = append(changed, c)
		}
		if err = rows.Err(); err != nil {
			rows.Close()
			return err
		}
		rows.Close()

		var docs []design.Doc
		for _, c := range changed {
			if _, err = db.store.Exec(`DELETE FROM view_rows WHERE view_id = $1 AND docid = $2;`,
				v.id, c.docID); err != nil {
				return errors.WithMessagef(err, "deleting rows of %q", c.docID)
			}
			if design.IsDesignDocID(c.docID) {
				continue
			}
			winner, deleted, _, err := db.ComputeWinningRevision(c.nid)
			if err != nil {
				return err
			} else if deleted {
				continue
			}
			rev, err := db.loadRevision(c.nid, c.docID, winner)
			if err != nil {
				return err
			}
			props, err := db.DocumentProperties(rev, 0)
			if err != nil {
				return err
			}
			docs = append(docs, design.Doc{Revision: rev, Properties: props})
		}

		out, err := db.indexer.Run(v.compiled, docs)
		if err != nil {
			return errors.WithMessagef(err, "indexing view %q", v.Name)
		}
		for _, row := range out {
			key, err := collate.Encode(nil, row.Key)
			if err != nil {
				return errors.WithMessagef(err, "encoding key of %q", row.DocID)
			}
			value, err := json.Marshal(row.Value)
			if err != nil {
				return errors.WithMessagef(err, "encoding value of %q", row.DocID)
			}
			if _, err = db.store.Exec(`INSERT INTO view_rows (view_id, sequence, docid, row_key, row_value)
				VALUES ($1, $2, $3, $4, $5);`, v.id, row.Sequence, row.DocID, key, value); err != nil {
				return errors.WithMessagef(err, "inserting row of %q", row.DocID)
			}
		}
		emitted = len(out)

		_, err = db.store.Exec(`UPDATE views SET stale = FALSE, last_sequence = $1 WHERE view_id = $2;`,
			through, v.id)
		return err
	})
	if err != nil {
		return err
	}

	v.stale, v.lastSequence = false, through
	metrics.DocDBViewRowsIndexedTotal.WithLabelValues(metricsLabel(v.Name)).Add(float64(emitted))
	metrics.DocDBViewUpdateDuration.Observe(time.Since(start).Seconds())

	log.WithFields(log.Fields{
		"view":    v.Name,
		"through": through,
		"rows":    emitted,
	}).Debug("updated view index")

	return nil
}

// QueryView queries the view |name|, first compiling it and updating its
// index as required. Rows are ordered on collated key, and then document ID.
// With Reduce, the selected rows of a view having a reduce function are
// reduced to a single row with a nil key.
func (db *Database) QueryView(name string, opts QueryOptions) ([]QueryRow, error) {
	db.exec.assertOwned()

	var v, err = db.CompileViewNamed(name)
	if err != nil {
		return nil, err
	} else if err = v.UpdateIndex(); err != nil {
		return nil, err
	}

	rows, err := db.store.Query(`SELECT docid, sequence, row_key, row_value FROM view_rows
		WHERE view_id = $1;`, v.id)
	if err != nil {
		return nil, errors.WithMessagef(err, "querying rows of view %q", name)
	}
	defer rows.Close()

	var index []indexRow
	for rows.Next() {
		var r indexRow
		var value []byte

		if err = rows.Scan(&r.DocID, &r.Sequence, &r.key, &value); err != nil {
			return nil, err
		}
		if _, r.Key, err = collate.Decode(r.key); err != nil {
			return nil, errors.WithMessagef(err, "decoding key of %q", r.DocID)
		}
		if len(value) != 0 {
			if err = json.Unmarshal(value, &r.Value); err != nil {
				return nil, errors.WithMessagef(err, "decoding value of %q", r.DocID)
			}
		}
		index = append(index, r)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	sortRows(index)
	if index, err = selectRows(index, opts); err != nil {
		return nil, err
	}

	if reducer, ok := db.indexer.(design.Reducer); ok && opts.Reduce && reducer.HasReduce(v.compiled) {
		var keys, values = make([]interface{}, len(index)), make([]interface{}, len(index))
		for i, r := range index {
			keys[i], values[i] = r.Key, r.Value
		}
		reduced, err := reducer.Reduce(v.compiled, keys, values)
		if err != nil {
			return nil, errors.WithMessagef(err, "reducing view %q", name)
		}
		index = []indexRow{{QueryRow: QueryRow{Value: reduced}}}
		return toQueryRows(pageRows(index, opts)), nil
	}

	var out = toQueryRows(pageRows(index, opts))
	if opts.IncludeDocs {
		if err = db.includeDocs(out, opts); err != nil {
			return nil, err
		}
	}
	return out, nil
}
