package database

import (
	"os"
	"testing"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLStoreTransactions(t *testing.T) {
	var store, err = OpenSQLStore(SQLiteDialect, ":memory:")
	require.NoError(t, err)
	defer func() { assert.NoError(t, store.Destroy()) }()

	assert.EqualError(t, store.Commit(), "no physical transaction is open")
	assert.EqualError(t, store.Rollback(), "no physical transaction is open")

	require.NoError(t, store.Begin())
	assert.True(t, store.InTransaction())
	assert.EqualError(t, store.Begin(), "a physical transaction is already open")

	_, err = store.Exec(`INSERT INTO info (name, val) VALUES ($1, $2);`, "key", "one")
	require.NoError(t, err)
	require.NoError(t, store.Rollback())
	assert.False(t, store.InTransaction())

	var n int
	require.NoError(t, store.QueryRow(`SELECT COUNT(*) FROM info;`).Scan(&n))
	assert.Equal(t, 0, n)

	require.NoError(t, store.Begin())
	_, err = store.Exec(`INSERT INTO info (name, val) VALUES ($1, $2);`, "key", "two")
	require.NoError(t, err)
	require.NoError(t, store.Commit())

	var val string
	require.NoError(t, store.QueryRow(`SELECT val FROM info WHERE name = $1;`, "key").Scan(&val))
	assert.Equal(t, "two", val)

	// Bootstrap is idempotent.
	assert.NoError(t, store.Bootstrap())
}

func TestDialectNamed(t *testing.T) {
	var d, err = DialectNamed("sqlite")
	assert.NoError(t, err)
	assert.Equal(t, "sqlite3", d.Driver)

	d, err = DialectNamed("postgres")
	assert.NoError(t, err)
	assert.Equal(t, "postgres", d.Driver)

	_, err = DialectNamed("oracle")
	assert.EqualError(t, err, `unknown dialect "oracle"`)
}

// TestPostgresDialect runs against a PostgreSQL database named by
// $DOCDB_TEST_POSTGRES_DSN, and is skipped if it's not set.
func TestPostgresDialect(t *testing.T) {
	var dsn = os.Getenv("DOCDB_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("DOCDB_TEST_POSTGRES_DSN not set")
	}
	var db, err = OpenSQL(PostgresDialect, dsn, Config{})
	require.NoError(t, err)
	defer func() { assert.NoError(t, db.Close()) }()

	do(t, db, func() {
		var docID = "pg-" + uuid.New().String()
		var rev, err = db.PutRevision(docID, "", false, []byte(`{"pg": true}`), "")
		assert.NoError(t, err)

		got, err := db.GetDocument(docID, "", 0)
		assert.NoError(t, err)
		assert.Equal(t, rev.RevID, got.RevID)
		assert.Equal(t, `{"pg": true}`, string(got.Body))
	})
}
