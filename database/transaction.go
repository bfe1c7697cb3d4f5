package database

import (
	"fmt"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.gazette.dev/docdb/metrics"
	"go.gazette.dev/docdb/revision"
)

// BeginTransaction begins a transaction, which may be nested within an open
// one. Only the outermost transaction opens a physical transaction of the
// PhysicalStore: nested transactions are logical markers.
func (db *Database) BeginTransaction() error {
	db.exec.assertOwned()

	if db.level == 0 {
		if err := db.store.Begin(); err != nil {
			return errors.WithMessagef(ErrTransaction, "begin: %s", err)
		}
		db.rollbackOnly = false
		db.pending = nil
		db.touched = make(map[string]struct{})
	}
	db.level++
	return nil
}

// EndTransaction ends the current transaction. Ending a nested transaction
// has no physical effect, but a nested request to roll back is recorded and
// the outermost transaction will roll back regardless of its own |commit|.
// In that case EndTransaction of the outermost transaction returns ErrAborted.
//
// If the physical commit fails, the nesting level is reset to zero, no
// changes are durable, and ErrTransaction is returned.
func (db *Database) EndTransaction(commit bool) error {
	db.exec.assertOwned()

	if db.level == 0 {
		return ErrNotInTransaction
	}
	if !commit {
		db.rollbackOnly = true
	}
	if db.level--; db.level != 0 {
		return nil
	}

	if commit && db.rollbackOnly {
		if err := db.rollback(); err != nil {
			return err
		}
		return errors.WithMessage(ErrAborted, "a nested transaction was rolled back")
	} else if !commit {
		return db.rollback()
	}
	return db.commit()
}

func (db *Database) commit() error {
	var changes, touched = db.pending, db.touched
	db.pending, db.touched = nil, nil
	db.rollbackOnly = false

	if len(touched) != 0 {
		// Persisted views are stale as of this transaction. Open views are
		// marked upon successful commit.
		if _, err := db.store.Exec(`UPDATE views SET stale = TRUE;`); err != nil {
			db.abandon(changes)
			return errors.WithMessagef(ErrTransaction, "marking views stale: %s", err)
		}
	}
	var marked = db.lastSequence
	if marked != db.durableSequence {
		if err := db.writeSequenceMark(); err != nil {
			db.abandon(changes)
			return errors.WithMessagef(ErrTransaction, "%s", err)
		}
	}
	if err := db.store.Commit(); err != nil {
		db.abandon(changes)
		return errors.WithMessagef(ErrTransaction, "commit: %s", err)
	}
	db.durableSequence = marked
	metrics.DocDBTransactionsTotal.WithLabelValues(metrics.Committed).Inc()

	if len(touched) != 0 {
		log.WithFields(log.Fields{
			"docs":         len(touched),
			"changes":      len(changes),
			"lastSequence": db.lastSequence,
		}).Debug("committed transaction")

		db.invalidateViews(touched)
	}
	if len(changes) != 0 {
		db.deliver(changes)
	}
	return nil
}

// abandon a failed commit. The physical transaction is rolled back, if the
// store hasn't already closed it, and |changes| are dropped.
func (db *Database) abandon(changes []revision.Change) {
	if err := db.store.Rollback(); err != nil {
		log.WithField("err", err).Debug("rollback of failed commit")
	}
	db.dropOpenViews()
	db.retainSequenceMark()

	metrics.DocDBTransactionsTotal.WithLabelValues(metrics.Fail).Inc()
	metrics.DocDBChangesDiscardedTotal.Add(float64(len(changes)))
}

func (db *Database) rollback() error {
	var discarded = len(db.pending)
	db.pending, db.touched = nil, nil
	db.rollbackOnly = false
	db.dropOpenViews()

	metrics.DocDBTransactionsTotal.WithLabelValues(metrics.RolledBack).Inc()
	metrics.DocDBChangesDiscardedTotal.Add(float64(discarded))

	if err := db.store.Rollback(); err != nil {
		log.WithField("err", err).Warn("failed to roll back transaction")
		return errors.WithMessagef(ErrTransaction, "rollback: %s", err)
	}
	db.retainSequenceMark()
	return nil
}

// retainSequenceMark records sequences assigned by a transaction which was
// rolled back, so they're not reissued after the Database is re-opened.
// It must be called with no physical transaction open.
func (db *Database) retainSequenceMark() {
	if db.lastSequence == db.durableSequence {
		return
	}
	if err := db.writeSequenceMark(); err != nil {
		log.WithFields(log.Fields{
			"err":          err,
			"lastSequence": db.lastSequence,
		}).Warn("failed to record sequences of rolled-back transaction")
		return
	}
	db.durableSequence = db.lastSequence
}

// InTransaction runs |block| within a transaction, which commits if |block|
// returns nil and rolls back otherwise. If |block| panics, the transaction
// is rolled back and ErrAborted is returned.
func (db *Database) InTransaction(block func() error) (err error) {
	if err = db.BeginTransaction(); err != nil {
		return err
	}

	var panicked = true
	defer func() {
		if !panicked {
			return
		}
		var r = recover()
		log.WithField("panic", r).Warn("transaction block panicked; rolling back")
		metrics.DocDBTransactionsTotal.WithLabelValues(metrics.Aborted).Inc()

		if endErr := db.EndTransaction(false); endErr != nil {
			log.WithField("err", endErr).Warn("failed to end aborted transaction")
		}
		err = errors.WithMessage(ErrAborted, fmt.Sprint(r))
	}()

	var blockErr = block()
	panicked = false

	if err = db.EndTransaction(blockErr == nil); blockErr != nil {
		if err != nil {
			log.WithField("err", err).Warn("failed to end transaction of failed block")
		}
		return blockErr
	}
	return err
}

// TransactionLevel returns the current transaction nesting level.
func (db *Database) TransactionLevel() int {
	db.exec.assertOwned()
	return db.level
}
