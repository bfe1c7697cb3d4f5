package revision

// ContentOptions is a bitmask of metadata to include with document bodies.
type ContentOptions uint

const (
	// IncludeAttachments adds inline bodies of attachments.
	IncludeAttachments ContentOptions = 1 << iota
	// IncludeConflicts adds a "_conflicts" property, if relevant.
	IncludeConflicts
	// IncludeRevs adds a "_revisions" property.
	IncludeRevs
	// IncludeRevsInfo adds a "_revs_info" property.
	IncludeRevsInfo
	// IncludeLocalSeq adds a "_local_seq" property.
	IncludeLocalSeq
	// LeaveAttachmentsEncoded doesn't decode attachments.
	LeaveAttachmentsEncoded
	// BigAttachmentsFollow adds a "follows" key instead of data for big attachments.
	BigAttachmentsFollow
	// NoBody omits regular document body properties.
	NoBody
)

// Has returns true if all bits of |o| are set.
func (c ContentOptions) Has(o ContentOptions) bool { return c&o == o }

// ChangesOptions are options of a change feed query.
type ChangesOptions struct {
	// Limit of returned changes, after filtering. Zero is unbounded.
	Limit uint
	// ContentOptions applied to loaded revision bodies.
	ContentOptions ContentOptions
	// IncludeDocs loads the body of each returned revision.
	IncludeDocs bool
	// IncludeConflicts returns all current leaf revisions of each changed
	// document, rather than only its winning revision.
	IncludeConflicts bool
	// SortBySequence, if true, returns changes in descending sequence order.
	// By default changes are returned in ascending sequence order.
	SortBySequence bool
}

// DefaultChangesOptions are the zero-valued ChangesOptions.
var DefaultChangesOptions = ChangesOptions{}
