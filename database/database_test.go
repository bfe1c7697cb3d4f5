package database

import (
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.gazette.dev/docdb/blobstore"
	"go.gazette.dev/docdb/codecs"
	"go.gazette.dev/docdb/design"
	"go.gazette.dev/docdb/revision"
)

func TestEndToEndConflictScenario(t *testing.T) {
	var db, _ = newTestDB(t)

	do(t, db, func() {
		insertWithID(t, db, "foo", "1-aaa", "", false, `{"n": 1}`)
		insertWithID(t, db, "foo", "2-bbb", "1-aaa", false, `{"n": 2}`)
		insertWithID(t, db, "foo", "2-ccc", "1-aaa", false, `{"n": 3}`)

		var nid, err = db.GetDocNumericID("foo")
		assert.NoError(t, err)

		winner, deleted, conflict, err := db.ComputeWinningRevision(nid)
		assert.NoError(t, err)
		assert.Equal(t, revision.ID("2-ccc"), winner)
		assert.False(t, deleted)
		assert.True(t, conflict)

		leaves, err := db.GetAllRevisions("foo", true)
		assert.NoError(t, err)
		assert.ElementsMatch(t, []revision.ID{"2-bbb", "2-ccc"}, leaves.IDs())

		// Delete "2-ccc" by inserting a tombstone child.
		insertWithID(t, db, "foo", "3-ddd", "2-ccc", true, ``)

		winner, deleted, conflict, err = db.ComputeWinningRevision(nid)
		assert.NoError(t, err)
		assert.Equal(t, revision.ID("2-bbb"), winner)
		assert.False(t, deleted)
		assert.False(t, conflict)

		rev, err := db.GetDocument("foo", "", 0)
		assert.NoError(t, err)
		assert.Equal(t, revision.ID("2-bbb"), rev.RevID)
		assert.Equal(t, `{"n": 2}`, string(rev.Body))

		all, err := db.GetAllRevisions("foo", false)
		assert.NoError(t, err)
		assert.Equal(t, []revision.ID{"3-ddd", "2-ccc", "2-bbb", "1-aaa"}, all.IDs())
	})
}

func TestPickWinner(t *testing.T) {
	var cases = []struct {
		leaves   []leaf
		winner   revision.ID
		conflict bool
	}{
		{[]leaf{{id: "1-a"}}, "1-a", false},
		{[]leaf{{id: "2-a"}, {id: "2-b"}}, "2-b", true},
		{[]leaf{{id: "3-a"}, {id: "2-z"}}, "3-a", true},
		// Deleted leaves are disregarded when any leaf is live.
		{[]leaf{{id: "5-z", deleted: true}, {id: "2-a"}}, "2-a", false},
		// If all are deleted, they're all considered.
		{[]leaf{{id: "3-a", deleted: true}, {id: "4-b", deleted: true}}, "4-b", false},
		{[]leaf{{id: "4-a", deleted: true}, {id: "4-b", deleted: true}}, "4-b", true},
		// Digests compare bytewise.
		{[]leaf{{id: "2-B"}, {id: "2-a"}}, "2-a", true},
	}
	for _, tc := range cases {
		var w, conflict = pickWinner(tc.leaves)
		assert.Equal(t, tc.winner, w.id, "%v", tc.leaves)
		assert.Equal(t, tc.conflict, conflict, "%v", tc.leaves)

		// Order of leaves doesn't matter.
		var reversed = make([]leaf, len(tc.leaves))
		for i, l := range tc.leaves {
			reversed[len(reversed)-1-i] = l
		}
		w, conflict = pickWinner(reversed)
		assert.Equal(t, tc.winner, w.id)
		assert.Equal(t, tc.conflict, conflict)
	}
}

func TestWinnerIsInvariantToInsertionOrder(t *testing.T) {
	type ins struct{ id, parent revision.ID }
	var tree = []ins{
		{"1-a", ""}, {"2-b", "1-a"}, {"2-c", "1-a"}, {"3-d", "2-b"}, {"3-e", "2-c"}, {"3-f", "2-c"},
	}
	// Valid orderings of the tree, each inserting parents before children.
	var orders = [][]int{
		{0, 1, 2, 3, 4, 5},
		{0, 2, 5, 4, 1, 3},
		{0, 2, 1, 4, 3, 5},
	}
	var winners []revision.ID

	for _, order := range orders {
		var db, _ = newTestDB(t)

		do(t, db, func() {
			assert.NoError(t, db.InTransaction(func() error {
				for _, i := range order {
					var _, err = db.InsertRevisionWithID("doc", tree[i].id, tree[i].parent, false, []byte(`{}`))
					if err != nil {
						return err
					}
				}
				return nil
			}))
			var nid, _ = db.GetDocNumericID("doc")
			var w, _, conflict, err = db.ComputeWinningRevision(nid)
			assert.NoError(t, err)
			assert.True(t, conflict)
			winners = append(winners, w)
		})
	}
	assert.Equal(t, []revision.ID{"3-f", "3-f", "3-f"}, winners)
}

func TestInsertRevisionValidation(t *testing.T) {
	var db, _ = newTestDB(t)

	do(t, db, func() {
		// Inserts require a transaction.
		var _, err = db.InsertRevision("doc", "", false, []byte(`{}`))
		assert.True(t, errors.Is(err, ErrNotInTransaction))
		assert.True(t, errors.Is(err, ErrTransaction))

		insertWithID(t, db, "doc", "1-a", "", false, `{}`)
		insertWithID(t, db, "doc", "2-b", "1-a", false, `{}`)

		for _, tc := range []struct {
			docID, id, parent string
			expect            error
		}{
			{"doc", "3-c", "2-zz", ErrConflict},         // Parent doesn't exist.
			{"doc", "1-c", "", ErrConflict},             // Root of a live document.
			{"doc", "2-b", "1-a", ErrConflict},          // Duplicate.
			{"doc", "4-c", "2-b", ErrInvalidRevisionID}, // Skipped generation.
			{"doc", "2-c", "", ErrInvalidRevisionID},    // Root must be generation 1.
			{"doc", "x-c", "2-b", ErrInvalidRevisionID}, // Malformed.
			{"missing", "2-c", "1-a", ErrNotFound},      // Document doesn't exist.
		} {
			err = db.InTransaction(func() error {
				var _, err = db.InsertRevisionWithID(tc.docID, revision.ID(tc.id), revision.ID(tc.parent), false, nil)
				return err
			})
			assert.True(t, errors.Is(err, tc.expect), "%v: %v", tc, err)
		}

		// Local edits must extend a current leaf.
		err = db.InTransaction(func() error {
			var _, err = db.InsertRevision("doc", "1-a", false, []byte(`{}`))
			return err
		})
		assert.True(t, errors.Is(err, ErrConflict), err)

		var leaves, err2 = db.GetAllRevisions("doc", true)
		assert.NoError(t, err2)
		assert.Equal(t, []revision.ID{"2-b"}, leaves.IDs())

		// Explicit IDs may branch from a non-leaf, creating a conflict.
		insertWithID(t, db, "doc", "2-c", "1-a", false, `{}`)
		leaves, err2 = db.GetAllRevisions("doc", true)
		assert.NoError(t, err2)
		assert.Equal(t, []revision.ID{"2-c", "2-b"}, leaves.IDs())
		assert.False(t, db.ExistsRevision("missing", "1-a"))
	})
}

func TestInsertRevisionGeneratesIDs(t *testing.T) {
	var db, _ = newTestDB(t)

	do(t, db, func() {
		var r1, err = db.PutRevision("doc", "", false, []byte(`{"v": 1}`), "")
		assert.NoError(t, err)
		assert.Equal(t, revision.MakeID(1, revision.Digest("", false, []byte(`{"v": 1}`))), r1.RevID)
		assert.Equal(t, int64(1), r1.Sequence)

		r2, err := db.PutRevision("doc", r1.RevID, false, []byte(`{"v": 2}`), "")
		assert.NoError(t, err)
		assert.Equal(t, 2, r2.Generation())
		assert.Equal(t, r1.RevID, r2.ParentRevID)

		// Delete, and then re-create the document with a root insert, which
		// extends the deleted branch.
		r3, err := db.PutRevision("doc", r2.RevID, true, nil, "")
		assert.NoError(t, err)
		assert.True(t, r3.Deleted)

		_, err = db.GetDocument("doc", "", 0)
		assert.True(t, errors.Is(err, ErrNotFound))

		r4, err := db.PutRevision("doc", "", false, []byte(`{"v": 4}`), "")
		assert.NoError(t, err)
		assert.Equal(t, r3.RevID, r4.ParentRevID)
		assert.Equal(t, 4, r4.Generation())

		count, err := db.DocumentCount()
		assert.NoError(t, err)
		assert.Equal(t, int64(1), count)
		assert.Equal(t, int64(4), db.LastSequence())

		seq, err := db.GetSequence(mustNumericID(t, db, "doc"), r2.RevID, false)
		assert.NoError(t, err)
		assert.Equal(t, int64(2), seq)
		_, err = db.GetSequence(mustNumericID(t, db, "doc"), r2.RevID, true)
		assert.True(t, errors.Is(err, ErrNotFound))
	})
}

func TestGetDocumentAndLoadBody(t *testing.T) {
	var db, _ = newTestDB(t)

	do(t, db, func() {
		insertWithID(t, db, "doc", "1-a", "", false, `{"v": 1}`)
		insertWithID(t, db, "doc", "2-b", "1-a", false, `{"v": 2}`)

		var rev, err = db.GetDocument("doc", "1-a", 0)
		assert.NoError(t, err)
		assert.False(t, rev.Missing)
		assert.False(t, rev.Current)
		assert.Equal(t, `{"v": 1}`, string(rev.Body))

		rev, err = db.GetDocument("doc", "2-b", revision.NoBody)
		assert.NoError(t, err)
		assert.True(t, rev.Missing)
		assert.True(t, rev.Current)
		assert.Nil(t, rev.Body)

		assert.NoError(t, db.LoadBody(rev, 0))
		assert.Equal(t, `{"v": 2}`, string(rev.Body))

		_, err = db.GetDocument("doc", "3-c", 0)
		assert.True(t, errors.Is(err, ErrNotFound))
		_, err = db.GetDocument("other", "", 0)
		assert.True(t, errors.Is(err, ErrNotFound))
		_, err = db.GetDocument("doc", "bad", 0)
		assert.True(t, errors.Is(err, ErrInvalidRevisionID))

		assert.True(t, db.ExistsRevision("doc", "1-a"))
		assert.False(t, db.ExistsRevision("doc", "1-z"))

		// Compaction makes bodies of non-current revisions unavailable.
		n, err := db.Compact()
		assert.NoError(t, err)
		assert.Equal(t, 1, n)

		rev, err = db.GetDocument("doc", "1-a", 0)
		assert.NoError(t, err)
		assert.True(t, rev.Missing)
		assert.True(t, errors.Is(db.LoadBody(rev, 0), ErrNotFound))

		rev, err = db.GetDocument("doc", "2-b", 0)
		assert.NoError(t, err)
		assert.Equal(t, `{"v": 2}`, string(rev.Body))
	})
}

func TestCompactWithinTransactionFails(t *testing.T) {
	var db, _ = newTestDB(t)

	do(t, db, func() {
		assert.NoError(t, db.BeginTransaction())
		var _, err = db.Compact()
		assert.True(t, errors.Is(err, ErrTransaction))
		assert.NoError(t, db.EndTransaction(true))
	})
}

func TestDocumentProperties(t *testing.T) {
	var db, _ = newTestDB(t)

	do(t, db, func() {
		insertWithID(t, db, "doc", "1-a", "", false, `{"v": 1}`)
		insertWithID(t, db, "doc", "2-b", "1-a", false, `{"v": 2}`)
		insertWithID(t, db, "doc", "2-c", "1-a", false, `{"v": 3}`)

		var rev, err = db.GetDocument("doc", "", 0)
		assert.NoError(t, err)

		props, err := db.DocumentProperties(rev, revision.IncludeRevs|revision.IncludeConflicts|
			revision.IncludeLocalSeq|revision.IncludeRevsInfo)
		assert.NoError(t, err)
		assert.Equal(t, map[string]interface{}{
			"_id":        "doc",
			"_rev":       "2-c",
			"v":          3.0,
			"_local_seq": int64(3),
			"_revisions": map[string]interface{}{"start": 2, "ids": []string{"c", "a"}},
			"_revs_info": []map[string]interface{}{
				{"rev": "2-c", "status": "available"},
				{"rev": "1-a", "status": "available"},
			},
			"_conflicts": []string{"2-b"},
		}, props)

		props, err = db.DocumentProperties(rev, revision.NoBody)
		assert.NoError(t, err)
		assert.Equal(t, map[string]interface{}{"_id": "doc", "_rev": "2-c"}, props)
	})
}

func TestDatabaseUUIDsArePersistent(t *testing.T) {
	var db, _ = newTestDB(t)

	do(t, db, func() {
		var private, err = db.PrivateUUID()
		assert.NoError(t, err)
		public, err := db.PublicUUID()
		assert.NoError(t, err)

		assert.Len(t, private, 36)
		assert.Len(t, public, 36)
		assert.NotEqual(t, private, public)

		again, err := db.PublicUUID()
		assert.NoError(t, err)
		assert.Equal(t, public, again)
	})
}

func TestStatusCode(t *testing.T) {
	assert.Equal(t, 200, StatusCode(nil))
	assert.Equal(t, 404, StatusCode(errors.WithMessage(ErrNotFound, "doc")))
	assert.Equal(t, 409, StatusCode(ErrConflict))
	assert.Equal(t, 400, StatusCode(ErrInvalidRevisionID))
	assert.Equal(t, 400, StatusCode(errors.WithMessage(ErrCompile, "view")))
	assert.Equal(t, 500, StatusCode(ErrNotInTransaction))
	assert.Equal(t, 500, StatusCode(ErrAborted))
}

func newTestDB(t *testing.T) (*Database, *design.Registry) {
	var registry = design.NewRegistry()
	var db, err = OpenSQL(SQLiteDialect, ":memory:", Config{Indexer: registry})
	require.NoError(t, err)

	t.Cleanup(func() { assert.NoError(t, db.Close()) })
	return db, registry
}

// fileDB opens Databases of a SQLite file and a blob store which persist
// across Close.
type fileDB struct {
	path     string
	blobs    *blobstore.Store
	registry *design.Registry
}

func newFileDB(t *testing.T) *fileDB {
	var blobs, err = blobstore.NewStore(afero.NewMemMapFs(), "/blobs", codecs.NONE)
	require.NoError(t, err)

	var registry = design.NewRegistry()
	registerTestFunctions(registry)

	return &fileDB{
		path:     filepath.Join(t.TempDir(), "docdb.sqlite"),
		blobs:    blobs,
		registry: registry,
	}
}

func (f *fileDB) open(t *testing.T) *Database {
	var db, err = OpenSQL(SQLiteDialect, f.path, Config{Blobs: f.blobs, Indexer: f.registry})
	require.NoError(t, err)
	return db
}

// do runs |fn| in the owning context of |db|.
func do(t *testing.T, db *Database, fn func()) {
	require.NoError(t, db.Do(func() error { fn(); return nil }))
}

func insertWithID(t *testing.T, db *Database, docID string, id, parent revision.ID, deleted bool, body string) {
	assert.NoError(t, db.InTransaction(func() error {
		var _, err = db.InsertRevisionWithID(docID, id, parent, deleted, []byte(body))
		return err
	}))
}

func mustNumericID(t *testing.T, db *Database, docID string) int64 {
	var nid, err = db.GetDocNumericID(docID)
	assert.NoError(t, err)
	return nid
}

func TestJSONCodec(t *testing.T) {
	var codec JSONCodec

	var props, err = codec.Parse([]byte("  "))
	require.NoError(t, err)
	assert.Empty(t, props)

	props, err = codec.Parse([]byte(`{"a": [1, "two"], "b": {"c": null}}`))
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{
		"a": []interface{}{1.0, "two"},
		"b": map[string]interface{}{"c": nil},
	}, props)

	_, err = codec.Parse([]byte(`[1, 2]`))
	assert.Error(t, err)

	b, err := codec.Serialize(map[string]interface{}{"b": 1, "a": true})
	require.NoError(t, err)
	assert.Equal(t, `{"a":true,"b":1}`, string(b))

	_, err = codec.Serialize(map[string]interface{}{"ch": make(chan int)})
	assert.Error(t, err)
}
