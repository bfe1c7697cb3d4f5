package database

import (
	"bytes"
	"encoding/json"
	"net/url"
	"sort"

	"github.com/gorilla/schema"
	"github.com/pkg/errors"
	"go.gazette.dev/docdb/collate"
	"go.gazette.dev/docdb/revision"
)

// QueryOptions are options of GetAllDocs and QueryView queries.
type QueryOptions struct {
	// StartKey and EndKey bound the range of returned keys. A nil key is
	// unbounded. With Descending, StartKey is the upper bound.
	StartKey, EndKey interface{}
	// Keys, if non-nil, selects exactly the rows having these keys, in order.
	// Range bounds and Descending are ignored.
	Keys []interface{}
	// Skip this many rows.
	Skip uint
	// Limit the number of rows returned. Zero is unbounded.
	Limit uint
	// Descending returns rows in descending key order.
	Descending bool
	// ExclusiveEnd omits rows having EndKey.
	ExclusiveEnd bool
	// IncludeDocs adds the properties of each row's document.
	IncludeDocs bool
	// IncludeDeleted includes deleted documents (GetAllDocs only).
	IncludeDeleted bool
	// Reduce the selected rows of a view having a reduce function.
	Reduce bool
	// ContentOptions of included documents.
	ContentOptions revision.ContentOptions
}

// QueryRow is a row returned by a query.
type QueryRow struct {
	DocID    string
	Sequence int64
	Key      interface{}
	Value    interface{}
	// Doc holds the properties of the row's document, with IncludeDocs.
	Doc map[string]interface{} `json:",omitempty"`
}

// queryArgs are QueryOptions as URL query parameters. Keys are JSON-encoded.
type queryArgs struct {
	StartKey       string `schema:"startkey"`
	EndKey         string `schema:"endkey"`
	Key            string `schema:"key"`
	Keys           string `schema:"keys"`
	Skip           uint   `schema:"skip"`
	Limit          uint   `schema:"limit"`
	Descending     bool   `schema:"descending"`
	InclusiveEnd   *bool  `schema:"inclusive_end"`
	IncludeDocs    bool   `schema:"include_docs"`
	IncludeDeleted bool   `schema:"include_deleted"`
	Reduce         bool   `schema:"reduce"`
	LocalSeq       bool   `schema:"local_seq"`
	Conflicts      bool   `schema:"conflicts"`
	Revs           bool   `schema:"revs"`
}

// ParseQueryOptions parses QueryOptions from URL query values, such as
// "startkey=%22a%22&limit=10&descending=true". Keys are JSON values.
func ParseQueryOptions(values url.Values) (QueryOptions, error) {
	var decoder = schema.NewDecoder()
	decoder.IgnoreUnknownKeys(false)

	var args queryArgs
	if err := decoder.Decode(&args, values); err != nil {
		return QueryOptions{}, errors.WithMessage(err, "parsing query options")
	}

	var opts = QueryOptions{
		Skip:           args.Skip,
		Limit:          args.Limit,
		Descending:     args.Descending,
		ExclusiveEnd:   args.InclusiveEnd != nil && !*args.InclusiveEnd,
		IncludeDocs:    args.IncludeDocs,
		IncludeDeleted: args.IncludeDeleted,
		Reduce:         args.Reduce,
	}
	for _, kv := range []struct {
		arg  string
		name string
		out  interface{}
	}{
		{args.StartKey, "startkey", &opts.StartKey},
		{args.EndKey, "endkey", &opts.EndKey},
		{args.Keys, "keys", &opts.Keys},
	} {
		if kv.arg == "" {
			continue
		} else if err := json.Unmarshal([]byte(kv.arg), kv.out); err != nil {
			return QueryOptions{}, errors.WithMessagef(err, "parsing %s", kv.name)
		}
	}
	if args.Key != "" {
		var key interface{}
		if err := json.Unmarshal([]byte(args.Key), &key); err != nil {
			return QueryOptions{}, errors.WithMessage(err, "parsing key")
		}
		opts.Keys = []interface{}{key}
	}

	if args.LocalSeq {
		opts.ContentOptions |= revision.IncludeLocalSeq
	}
	if args.Conflicts {
		opts.ContentOptions |= revision.IncludeConflicts
	}
	if args.Revs {
		opts.ContentOptions |= revision.IncludeRevs
	}
	return opts, nil
}

// indexRow is a QueryRow with its collation-encoded key.
type indexRow struct {
	key []byte
	QueryRow
}

// sortRows orders |rows| on ascending key, and then document ID.
func sortRows(rows []indexRow) {
	sort.SliceStable(rows, func(i, j int) bool {
		if c := bytes.Compare(rows[i].key, rows[j].key); c != 0 {
			return c < 0
		}
		return rows[i].DocID < rows[j].DocID
	})
}

// selectRows applies the Keys, key range, and Descending options to sorted |rows|.
func selectRows(rows []indexRow, opts QueryOptions) ([]indexRow, error) {
	if opts.Keys != nil {
		var out []indexRow
		for _, key := range opts.Keys {
			var enc, err = collate.Encode(nil, key)
			if err != nil {
				return nil, errors.WithMessage(err, "encoding key")
			}
			var i = sort.Search(len(rows), func(i int) bool { return bytes.Compare(rows[i].key, enc) >= 0 })
			for ; i != len(rows) && bytes.Equal(rows[i].key, enc); i++ {
				out = append(out, rows[i])
			}
		}
		return out, nil
	}

	var lower, upper = opts.StartKey, opts.EndKey
	var lowerInclusive, upperInclusive = true, !opts.ExclusiveEnd
	if opts.Descending {
		lower, upper = upper, lower
		lowerInclusive, upperInclusive = upperInclusive, lowerInclusive
	}

	var begin, end = 0, len(rows)
	if lower != nil {
		var enc, err = collate.Encode(nil, lower)
		if err != nil {
			return nil, errors.WithMessage(err, "encoding key")
		}
		begin = sort.Search(len(rows), func(i int) bool {
			var c = bytes.Compare(rows[i].key, enc)
			return c > 0 || (c == 0 && lowerInclusive)
		})
	}
	if upper != nil {
		var enc, err = collate.Encode(nil, upper)
		if err != nil {
			return nil, errors.WithMessage(err, "encoding key")
		}
		end = sort.Search(len(rows), func(i int) bool {
			var c = bytes.Compare(rows[i].key, enc)
			return c > 0 || (c == 0 && !upperInclusive)
		})
	}
	if begin >= end {
		return nil, nil
	}

	var out = append([]indexRow(nil), rows[begin:end]...)
	if opts.Descending {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	return out, nil
}

// pageRows applies the Skip and Limit options.
func pageRows(rows []indexRow, opts QueryOptions) []indexRow {
	if uint(len(rows)) <= opts.Skip {
		return nil
	}
	rows = rows[opts.Skip:]

	if opts.Limit != 0 && uint(len(rows)) > opts.Limit {
		rows = rows[:opts.Limit]
	}
	return rows
}

// includeDocs adds properties of each row's current document revision.
func (db *Database) includeDocs(rows []QueryRow, opts QueryOptions) error {
	for i := range rows {
		var rev, err = db.GetDocument(rows[i].DocID, "", opts.ContentOptions)
		if errors.Is(err, ErrNotFound) {
			continue // Deleted.
		} else if err != nil {
			return err
		}
		if rows[i].Doc, err = db.DocumentProperties(rev, opts.ContentOptions); err != nil {
			return err
		}
	}
	return nil
}

func toQueryRows(rows []indexRow) []QueryRow {
	var out = make([]QueryRow, len(rows))
	for i := range rows {
		out[i] = rows[i].QueryRow
	}
	return out
}
