// Package database is an embedded document database engine. A Database
// keeps a tree of revisions for each document, under multi-version
// concurrency control, within a PhysicalStore such as a SQLStore.
//
// Mutations happen within transactions, which nest. Only the outermost
// transaction is physical: inner transactions are logical markers, and a
// rollback requested at any level rolls back the whole.
//
// Committed mutations are delivered to Listeners in commit order, and may be
// queried with ChangesSinceSequence. Views are secondary indexes defined by
// design documents. They're marked stale by committed writes and updated
// lazily on their next query.
//
// A Database has a single owning context, entered through Database.Do:
//
//	var db, _ = database.OpenSQL(database.SQLiteDialect, ":memory:", database.Config{})
//
//	_ = db.Do(func() error {
//		var rev, err = db.PutRevision("doc", "", false, []byte(`{"hello": "world"}`), "")
//		...
//	})
package database
