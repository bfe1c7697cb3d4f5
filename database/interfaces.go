package database

import (
	"go.gazette.dev/docdb/blobstore"
	"go.gazette.dev/docdb/design"
	"go.gazette.dev/docdb/revision"
)

// Reader is the public, read-mostly surface of a Database.
type Reader interface {
	// GetDocument returns the revision |revID| of |docID|, or its current
	// winning revision if |revID| is empty.
	GetDocument(docID string, revID revision.ID, opts revision.ContentOptions) (*revision.Revision, error)
	// ExistsRevision returns true if revision |revID| of |docID| exists.
	ExistsRevision(docID string, revID revision.ID) bool
	// LoadBody loads the body of a revision returned without one.
	LoadBody(rev *revision.Revision, opts revision.ContentOptions) error
	// GetAllRevisions returns all revisions of |docID|, or only current ones.
	GetAllRevisions(docID string, onlyCurrent bool) (revision.List, error)
	// GetRevisionHistory returns |rev| and its ancestors, leaf to root.
	GetRevisionHistory(rev *revision.Revision) (revision.List, error)
	// ChangesSinceSequence returns revisions changed after |lastSequence|.
	ChangesSinceSequence(lastSequence int64, opts revision.ChangesOptions,
		filter design.Filter, params map[string]interface{}) (revision.List, error)
	// GetAllDocs queries the primary index of all documents.
	GetAllDocs(opts QueryOptions) ([]QueryRow, error)
	// QueryView queries the named view, updating its index if stale.
	QueryView(name string, opts QueryOptions) ([]QueryRow, error)
	// AllViews returns the names of all persisted and open views.
	AllViews() ([]string, error)
}

// Writer is the internal, mutating surface of a Database.
type Writer interface {
	Reader

	// BeginTransaction begins a (possibly nested) transaction.
	BeginTransaction() error
	// EndTransaction ends the current transaction, committing or rolling back.
	EndTransaction(commit bool) error
	// InTransaction runs |block| within a transaction, committing iff it succeeds.
	InTransaction(block func() error) error
	// InsertRevision inserts a new revision of |docID| as a child of |parentRevID|.
	InsertRevision(docID string, parentRevID revision.ID, deleted bool, body []byte) (*revision.Revision, error)
	// NotifyChange queues a Change for delivery to Listeners upon commit.
	NotifyChange(change revision.Change) error
	// DeleteViewNamed deletes the persisted index of a view.
	DeleteViewNamed(name string) error
	// CompileViewNamed returns the open view |name|, compiling it if required.
	CompileViewNamed(name string) (*View, error)
}

var (
	_ Writer = (*Database)(nil) // Database is-a Writer.
	_ Reader = (*Database)(nil) // And is-a Reader.
)

// Listener is notified of committed Changes.
type Listener interface {
	// OnChanges is called with all Changes of a transaction, in the order
	// in which they were notified, after the transaction commits. It's
	// called from the Database's owning context, and may read the Database.
	OnChanges(changes []revision.Change)
}

// ListenerFunc adapts a function to a Listener.
type ListenerFunc func(changes []revision.Change)

// OnChanges calls the function.
func (fn ListenerFunc) OnChanges(changes []revision.Change) { fn(changes) }

// BlobStore stores document bodies by content Key.
type BlobStore interface {
	// Put |content|, returning its Key.
	Put(content []byte) (blobstore.Key, error)
	// Get the content of |key|, or an error matching blobstore.ErrNotFound.
	Get(key blobstore.Key) ([]byte, error)
	// GarbageCollect deletes all blobs not in |keep|.
	GarbageCollect(keep map[blobstore.Key]struct{}) (int, error)
}

var _ BlobStore = (*blobstore.Store)(nil) // blobstore.Store is-a BlobStore.

// BodyCodec parses and serializes document bodies.
type BodyCodec interface {
	// Parse a document body into its properties.
	Parse(body []byte) (map[string]interface{}, error)
	// Serialize document properties into a body.
	Serialize(props map[string]interface{}) ([]byte, error)
}
