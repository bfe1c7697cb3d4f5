package database

import (
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.gazette.dev/docdb/design"
	"go.gazette.dev/docdb/metrics"
	"go.gazette.dev/docdb/revision"
)

// ListenerID identifies a Listener added to a Database.
type ListenerID int

type listenerEntry struct {
	id ListenerID
	l  Listener
}

// NotifyChange queues |change| for delivery to Listeners when the outermost
// transaction commits. Queued changes are discarded if it rolls back.
func (db *Database) NotifyChange(change revision.Change) error {
	db.exec.assertOwned()

	if db.level == 0 {
		return ErrNotInTransaction
	}
	db.pending = append(db.pending, change)
	return nil
}

// AddListener adds a Listener of committed changes, returning its ListenerID.
// Listeners are notified in the order in which they were added.
func (db *Database) AddListener(l Listener) ListenerID {
	db.exec.assertOwned()

	var id = db.nextListenerID
	db.nextListenerID++
	db.listeners = append(db.listeners, listenerEntry{id: id, l: l})
	return id
}

// RemoveListener removes the Listener having |id|. It returns false if
// there is no such Listener.
func (db *Database) RemoveListener(id ListenerID) bool {
	db.exec.assertOwned()

	for i, e := range db.listeners {
		if e.id == id {
			db.listeners = append(db.listeners[:i:i], db.listeners[i+1:]...)
			return true
		}
	}
	return false
}

// deliver a batch of committed |changes| to each Listener. The changes are
// already durable: a Listener which panics is logged, and delivery
// continues with the next.
func (db *Database) deliver(changes []revision.Change) {
	// Listeners may add or remove listeners.
	var listeners = append([]listenerEntry(nil), db.listeners...)

	for _, e := range listeners {
		if notify(e, changes) {
			metrics.DocDBChangesDeliveredTotal.Add(float64(len(changes)))
		}
	}
}

func notify(e listenerEntry, changes []revision.Change) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			log.WithFields(log.Fields{
				"listener": e.id,
				"changes":  len(changes),
				"panic":    r,
			}).Warn("listener panicked on committed changes")
			metrics.DocDBListenerFaultsTotal.Inc()
		}
	}()

	e.l.OnChanges(changes)
	return true
}

// ChangesSinceSequence returns current revisions having a sequence greater
// than |lastSequence|. Unless |opts| IncludeConflicts, only the winning
// revision of each document is returned. If |filter| is non-nil, only
// revisions matched by the filter (see RunFilter) are returned. Limit of
// |opts| bounds the number of returned revisions, after filtering.
//
// Revisions are ordered on ascending sequence, or descending if |opts|
// SortBySequence. Bodies are loaded only if |opts| IncludeDocs.
func (db *Database) ChangesSinceSequence(lastSequence int64, opts revision.ChangesOptions,
	filter design.Filter, params map[string]interface{}) (revision.List, error) {
	db.exec.assertOwned()

	var order = "ASC"
	if opts.SortBySequence {
		order = "DESC"
	}
	rows, err := db.store.Query(`SELECT `+revColumns+`, d.doc_id, d.docid
		FROM revs r JOIN docs d ON r.doc_id = d.doc_id
		WHERE r.sequence > $1 AND r.is_current = TRUE
		ORDER BY r.sequence `+order+`;`, lastSequence)
	if err != nil {
		return nil, errors.WithMessage(err, "querying changes")
	}

	type candidate struct {
		rev *revision.Revision
		nid int64
	}
	var candidates []candidate

	for rows.Next() {
		var c candidate
		var docID string

		if c.rev, err = scanRevision(rows, "", &c.nid, &docID); err != nil {
			rows.Close()
			return nil, err
		}
		c.rev.DocID = docID
		candidates = append(candidates, c)
	}
	if err = rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	var out revision.List
	var winners = make(map[int64]revision.ID)

	for _, c := range candidates {
		if opts.Limit != 0 && uint(len(out)) == opts.Limit {
			break
		}
		if !opts.IncludeConflicts {
			var winner, ok = winners[c.nid]
			if !ok {
				if winner, _, _, err = db.ComputeWinningRevision(c.nid); err != nil {
					return nil, err
				}
				winners[c.nid] = winner
			}
			if winner != c.rev.RevID {
				continue
			}
		}
		if filter != nil && !db.RunFilter(filter, params, c.rev) {
			continue
		}
		if opts.IncludeDocs {
			if err = db.LoadBody(c.rev, opts.ContentOptions); err != nil && !errors.Is(err, ErrNotFound) {
				return nil, err
			}
		} else {
			c.rev.Body, c.rev.Missing = nil, true
		}
		out = append(out, c.rev)
	}
	return out, nil
}

// RunFilter returns true if |filter| matches |rev| given |params|. If the
// filter panics, or the properties of |rev| can't be loaded, RunFilter
// logs a warning and returns false.
func (db *Database) RunFilter(filter design.Filter, params map[string]interface{}, rev *revision.Revision) (matched bool) {
	db.exec.assertOwned()

	defer func() {
		if r := recover(); r != nil {
			log.WithFields(log.Fields{
				"docID": rev.DocID,
				"revID": rev.RevID,
				"panic": r,
			}).Warn("filter panicked; treating as non-matching")
			metrics.DocDBFilterFaultsTotal.Inc()
			matched = false
		}
	}()

	var props, err = db.DocumentProperties(rev, 0)
	if err != nil {
		log.WithFields(log.Fields{
			"docID": rev.DocID,
			"revID": rev.RevID,
			"err":   err,
		}).Warn("failed to load properties for filter; treating as non-matching")
		metrics.DocDBFilterFaultsTotal.Inc()
		return false
	}
	return filter.Match(design.Doc{Revision: rev, Properties: props}, params)
}
