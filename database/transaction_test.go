package database

import (
	"fmt"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.gazette.dev/docdb/metrics"
	"go.gazette.dev/docdb/revision"
)

func TestNestedCommitsAreRolledBackByOuterRollback(t *testing.T) {
	var db, _ = newTestDB(t)
	var notified int

	do(t, db, func() {
		db.AddListener(ListenerFunc(func(changes []revision.Change) { notified += len(changes) }))

		var _, err = db.PutRevision("existing", "", false, []byte(`{}`), "")
		assert.NoError(t, err)
		notified = 0

		var before = snapshot(t, db)

		for _, n := range []int{1, 2, 5} {
			for i := 0; i != n; i++ {
				assert.NoError(t, db.BeginTransaction())
				_, err = db.PutRevision(fmt.Sprintf("doc-%d-%d", n, i), "", false, []byte(`{}`), "")
				assert.NoError(t, err)
			}
			assert.Equal(t, n, db.TransactionLevel())

			for i := 0; i != n-1; i++ {
				assert.NoError(t, db.EndTransaction(true))
			}
			assert.NoError(t, db.EndTransaction(false))
			assert.Equal(t, 0, db.TransactionLevel())

			assert.Equal(t, before, snapshot(t, db))
			assert.Equal(t, 0, notified)
		}
	})
}

func TestNestedRollbackPoisonsOuterCommit(t *testing.T) {
	var db, _ = newTestDB(t)

	do(t, db, func() {
		var before = snapshot(t, db)

		assert.NoError(t, db.BeginTransaction())
		_, _ = db.PutRevision("a", "", false, []byte(`{}`), "")
		assert.NoError(t, db.BeginTransaction())
		_, _ = db.PutRevision("b", "", false, []byte(`{}`), "")
		assert.NoError(t, db.EndTransaction(false)) // Inner rollback request.
		assert.NoError(t, db.BeginTransaction())
		_, _ = db.PutRevision("c", "", false, []byte(`{}`), "")
		assert.NoError(t, db.EndTransaction(true)) // Later inner commit.

		var err = db.EndTransaction(true)
		assert.True(t, errors.Is(err, ErrAborted))
		assert.Equal(t, 0, db.TransactionLevel())
		assert.Equal(t, before, snapshot(t, db))

		// A subsequent transaction isn't poisoned.
		assert.NoError(t, db.InTransaction(func() error {
			var _, err = db.InsertRevision("d", "", false, []byte(`{}`))
			return err
		}))
		assert.True(t, db.ExistsRevision("d", revision.MakeID(1, revision.Digest("", false, []byte(`{}`)))))
	})
}

func TestInTransactionOutcomes(t *testing.T) {
	var db, _ = newTestDB(t)

	do(t, db, func() {
		var before = snapshot(t, db)

		// A panicking block is aborted.
		var err = db.InTransaction(func() error {
			var _, err = db.InsertRevision("a", "", false, []byte(`{}`))
			assert.NoError(t, err)
			panic("whoops")
		})
		assert.True(t, errors.Is(err, ErrAborted))
		assert.Contains(t, err.Error(), "whoops")
		assert.Equal(t, 0, db.TransactionLevel())
		assert.Equal(t, before, snapshot(t, db))

		// A panic within a nested block aborts the outer one as well.
		err = db.InTransaction(func() error {
			var _, err = db.InsertRevision("a", "", false, []byte(`{}`))
			assert.NoError(t, err)

			err = db.InTransaction(func() error { panic("nested") })
			assert.True(t, errors.Is(err, ErrAborted))
			return nil
		})
		assert.True(t, errors.Is(err, ErrAborted))
		assert.Equal(t, before, snapshot(t, db))

		// A failing block returns its error.
		var blockErr = errors.New("block failed")
		err = db.InTransaction(func() error {
			var _, err = db.InsertRevision("a", "", false, []byte(`{}`))
			assert.NoError(t, err)
			return blockErr
		})
		assert.Equal(t, blockErr, err)
		assert.Equal(t, before, snapshot(t, db))

		// Ending a transaction which wasn't begun fails.
		assert.True(t, errors.Is(db.EndTransaction(true), ErrNotInTransaction))
	})
}

func TestSequencesAreNotReissuedAfterRollback(t *testing.T) {
	var db, _ = newTestDB(t)

	do(t, db, func() {
		var r1, _ = db.PutRevision("a", "", false, []byte(`{}`), "")

		_ = db.InTransaction(func() error {
			var _, err = db.InsertRevision("b", "", false, []byte(`{}`))
			assert.NoError(t, err)
			return errors.New("roll back")
		})
		var r3, err = db.PutRevision("c", "", false, []byte(`{}`), "")
		assert.NoError(t, err)

		assert.Equal(t, int64(1), r1.Sequence)
		assert.Equal(t, int64(3), r3.Sequence) // Sequence 2 is a gap.
	})
}

func TestSequencesAreNotReusedAfterReopen(t *testing.T) {
	var f = newFileDB(t)
	var db = f.open(t)
	var seen []int64
	var lastSequence int64

	do(t, db, func() {
		var _, err = db.PutRevision("_design/app", "", false,
			[]byte(`{"views": {"by_type": {"map": "byType"}}}`), "")
		assert.NoError(t, err)
		a, err := db.PutRevision("a", "", false, []byte(`{"type": "x"}`), "")
		assert.NoError(t, err)
		seen = append(seen, a.Sequence)

		rows, err := db.QueryView("app/by_type", QueryOptions{})
		assert.NoError(t, err)
		assert.Equal(t, []string{"a:x"}, rowStrings(rows))

		// Sequences are assigned to, and then lost by, a rolled-back transaction.
		assert.Error(t, db.InTransaction(func() error {
			for _, docID := range []string{"r1", "r2"} {
				var rev, err = db.InsertRevision(docID, "", false, []byte(`{"type": "x"}`))
				assert.NoError(t, err)
				seen = append(seen, rev.Sequence)
			}
			return errors.New("roll back")
		}))

		// Re-indexing following the rollback covers its sequences.
		rows, err = db.QueryView("app/by_type", QueryOptions{})
		assert.NoError(t, err)
		assert.Equal(t, []string{"a:x"}, rowStrings(rows))

		lastSequence = db.LastSequence()
		assert.Equal(t, seen[len(seen)-1], lastSequence)
	})
	require.NoError(t, db.Close())

	db = f.open(t)
	defer func() { assert.NoError(t, db.Close()) }()

	do(t, db, func() {
		assert.Equal(t, lastSequence, db.LastSequence())

		var b, err = db.PutRevision("b", "", false, []byte(`{"type": "x"}`), "")
		assert.NoError(t, err)

		for _, seq := range seen {
			assert.Greater(t, b.Sequence, seq)
		}
		assert.Greater(t, b.Sequence, lastSequence)

		// The change is observed by readers which checkpointed the prior sequence.
		changes, err := db.ChangesSinceSequence(lastSequence, revision.DefaultChangesOptions, nil, nil)
		assert.NoError(t, err)
		assert.Equal(t, []string{"b"}, docIDs(changes))

		rows, err := db.QueryView("app/by_type", QueryOptions{})
		assert.NoError(t, err)
		assert.Equal(t, []string{"a:x", "b:x"}, rowStrings(rows))
	})
}

func TestFailedCommitResetsTransaction(t *testing.T) {
	var sqlStore, err = OpenSQLStore(SQLiteDialect, ":memory:")
	require.NoError(t, err)
	var store = &failingStore{SQLStore: sqlStore}

	db, err := Open(Config{Store: store})
	require.NoError(t, err)
	defer func() { assert.NoError(t, db.Close()) }()

	var notified []revision.Change

	do(t, db, func() {
		db.AddListener(ListenerFunc(func(changes []revision.Change) { notified = append(notified, changes...) }))
		var before = snapshot(t, db)

		store.failCommit = true
		assert.NoError(t, db.BeginTransaction())
		assert.NoError(t, db.BeginTransaction())
		var _, err = db.PutRevision("a", "", false, []byte(`{}`), "")
		assert.NoError(t, err)
		assert.NoError(t, db.EndTransaction(true))

		err = db.EndTransaction(true)
		assert.True(t, errors.Is(err, ErrTransaction))
		assert.Equal(t, 0, db.TransactionLevel())
		assert.Empty(t, notified)
		assert.Equal(t, before, snapshot(t, db))

		// The Database remains usable.
		store.failCommit = false
		_, err = db.PutRevision("b", "", false, []byte(`{}`), "")
		assert.NoError(t, err)
		assert.Len(t, notified, 1)
		assert.Equal(t, "b", notified[0].Revision.DocID)
	})
}

func TestFailedBeginDoesNotIncrementLevel(t *testing.T) {
	var sqlStore, err = OpenSQLStore(SQLiteDialect, ":memory:")
	require.NoError(t, err)
	var store = &failingStore{SQLStore: sqlStore, failBegin: true}

	db, err := Open(Config{Store: store})
	require.NoError(t, err)
	defer func() { assert.NoError(t, db.Close()) }()

	do(t, db, func() {
		var err = db.BeginTransaction()
		assert.True(t, errors.Is(err, ErrTransaction))
		assert.Equal(t, 0, db.TransactionLevel())
	})
}

func TestOwningContextIsEnforced(t *testing.T) {
	var sqlStore, err = OpenSQLStore(SQLiteDialect, ":memory:")
	require.NoError(t, err)
	db, err := Open(Config{Store: sqlStore})
	require.NoError(t, err)

	assert.Panics(t, func() { db.TransactionLevel() })
	assert.Panics(t, func() { _ = db.BeginTransaction() })

	// Panics within Do are re-raised to the caller.
	assert.PanicsWithValue(t, "boom", func() { _ = db.Do(func() error { panic("boom") }) })

	// Close fails while a transaction is open.
	do(t, db, func() { assert.NoError(t, db.BeginTransaction()) })
	assert.True(t, errors.Is(db.Close(), ErrTransaction))
	do(t, db, func() { assert.NoError(t, db.EndTransaction(false)) })

	assert.NoError(t, db.Close())
	assert.Equal(t, ErrClosed, db.Do(func() error { return nil }))
}

type failingStore struct {
	*SQLStore
	failBegin, failCommit bool
}

func (s *failingStore) Begin() error {
	if s.failBegin {
		return errors.New("injected begin failure")
	}
	return s.SQLStore.Begin()
}

func (s *failingStore) Commit() error {
	if s.failCommit {
		_ = s.SQLStore.Rollback()
		return errors.New("injected commit failure")
	}
	return s.SQLStore.Commit()
}

// snapshot returns the persisted content of revision and document tables.
// It's called from the owning context, and uses assert rather than require.
func snapshot(t *testing.T, db *Database) string {
	var b strings.Builder

	for _, query := range []string{
		`SELECT doc_id, docid FROM docs ORDER BY doc_id;`,
		`SELECT sequence, doc_id, generation, digest, COALESCE(parent_digest, ''),
			is_current, is_deleted, COALESCE(body_ref, '') FROM revs ORDER BY sequence;`,
	} {
		var rows, err = db.store.Query(query)
		if !assert.NoError(t, err) {
			return ""
		}
		cols, _ := rows.Columns()

		for rows.Next() {
			var vals = make([]interface{}, len(cols))
			var ptrs = make([]interface{}, len(cols))
			for i := range vals {
				ptrs[i] = &vals[i]
			}
			assert.NoError(t, rows.Scan(ptrs...))
			fmt.Fprintln(&b, vals...)
		}
		assert.NoError(t, rows.Err())
		assert.NoError(t, rows.Close())
	}
	return b.String()
}

func TestTransactionOutcomesAreCounted(t *testing.T) {
	var db, _ = newTestDB(t)

	var count = func(status string) float64 {
		return testutil.ToFloat64(metrics.DocDBTransactionsTotal.WithLabelValues(status))
	}
	var committed, rolledBack, aborted = count(metrics.Committed), count(metrics.RolledBack), count(metrics.Aborted)

	do(t, db, func() {
		assert.NoError(t, db.InTransaction(func() error { return nil }))
		assert.Error(t, db.InTransaction(func() error { return errors.New("whoops") }))
		assert.Error(t, db.InTransaction(func() error { panic("whoops") }))
	})

	assert.Equal(t, committed+1, count(metrics.Committed))
	// The aborted transaction is also rolled back.
	assert.Equal(t, rolledBack+2, count(metrics.RolledBack))
	assert.Equal(t, aborted+1, count(metrics.Aborted))
}
