package revision

import (
	"sort"
)

// Revision is a single revision of a document.
type Revision struct {
	// DocID is the unique ID of the document.
	DocID string
	// RevID of this revision.
	RevID ID
	// ParentRevID is the RevID of this revision's parent, or empty if this is
	// a root revision.
	ParentRevID ID
	// Deleted marks a tombstone revision.
	Deleted bool
	// Sequence is the database-wide sequence number assigned when the
	// revision was inserted. Zero if not yet inserted.
	Sequence int64
	// Current is true if the revision is a leaf of its document's revision tree.
	Current bool
	// Body of the revision, if loaded.
	Body []byte
	// Missing is true if Body has not been loaded (see Database.LoadBody).
	Missing bool
}

// Generation of the Revision's RevID.
func (r *Revision) Generation() int { return r.RevID.Generation() }

// Validate returns an error if the Revision is not well-formed.
func (r *Revision) Validate() error {
	if r.DocID == "" {
		return NewValidationError("expected DocID")
	} else if err := r.RevID.Validate(); err != nil {
		return ExtendContext(err, "RevID")
	} else if r.ParentRevID == "" {
		if g := r.RevID.Generation(); g != 1 {
			return NewValidationError("root revision must have generation 1 (%d)", g)
		}
	} else if err = r.ParentRevID.Validate(); err != nil {
		return ExtendContext(err, "ParentRevID")
	} else if pg, g := r.ParentRevID.Generation(), r.RevID.Generation(); g != pg+1 {
		return NewValidationError("generation must be parent generation + 1 (%d vs %d)", g, pg)
	}
	return nil
}

// Copy returns a shallow copy of the Revision, sharing its Body.
func (r *Revision) Copy() *Revision {
	var out = *r
	return &out
}

// List is an ordered list of Revisions.
type List []*Revision

// IDs returns the RevIDs of the List, in order.
func (l List) IDs() []ID {
	var out = make([]ID, len(l))
	for i, r := range l {
		out[i] = r.RevID
	}
	return out
}

// SortBySequence orders the List by ascending (or descending) Sequence.
func (l List) SortBySequence(descending bool) {
	sort.SliceStable(l, func(i, j int) bool {
		if descending {
			return l[i].Sequence > l[j].Sequence
		}
		return l[i].Sequence < l[j].Sequence
	})
}

// SortByRevID orders the List by descending RevID (see Compare).
func (l List) SortByRevID() {
	sort.SliceStable(l, func(i, j int) bool { return Compare(l[i].RevID, l[j].RevID) > 0 })
}

// RevWithID returns the Revision of the List having |id|, or nil.
func (l List) RevWithID(id ID) *Revision {
	for _, r := range l {
		if r.RevID == id {
			return r
		}
	}
	return nil
}

// Change describes a single committed mutation of a document.
type Change struct {
	// Revision which was added.
	Revision *Revision
	// Source of the change, such as a replication endpoint. Empty if local.
	Source string
	// Winner is the new winning revision of the document if it changed as a
	// result of this mutation (often the same as Revision). Nil otherwise.
	Winner *Revision
}

// HistoryDict is a compact encoding of a revision history: the history's
// revision IDs are Start-0, Start-1, ... paired with the respective IDs.
type HistoryDict struct {
	Start int      `json:"start"`
	IDs   []string `json:"ids"`
}

// Expand returns the revision IDs represented by the HistoryDict.
func (d HistoryDict) Expand() []ID {
	var out = make([]ID, len(d.IDs))
	for i, digest := range d.IDs {
		out[i] = MakeID(d.Start-i, digest)
	}
	return out
}
