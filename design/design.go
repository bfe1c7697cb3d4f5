// Package design defines design documents and the contracts of the engines
// which compile and run their functions: views (map/reduce) and change
// filters. A Registry of native Go functions implements these contracts.
//
// A design document has ID "_design/<name>" and properties like:
//
//	{
//	  "language": "go",
//	  "views": {
//	    "by_type": {"map": "byType", "reduce": "_count"}
//	  },
//	  "filters": {
//	    "typed": "ofType"
//	  }
//	}
//
// Function sources are opaque to the database, and are interpreted by the
// engine of the document's language.
package design

import (
	"strings"

	"github.com/pkg/errors"
	"go.gazette.dev/docdb/revision"
)

// IDPrefix prefixes the document IDs of design documents.
const IDPrefix = "_design/"

// DefaultLanguage is the language of design documents which don't specify one.
const DefaultLanguage = "go"

// Source is the source of a view's functions.
type Source struct {
	Language string `json:"language,omitempty"`
	Map      string `json:"map"`
	Reduce   string `json:"reduce,omitempty"`
}

// Document is a design document's parsed functions.
type Document struct {
	Language string
	Views    map[string]Source
	Filters  map[string]string
}

// IsDesignDocID returns true if |docID| is the ID of a design document.
func IsDesignDocID(docID string) bool { return strings.HasPrefix(docID, IDPrefix) }

// SplitName splits a "<designDoc>/<name>" function name into its parts.
// It returns false if |name| isn't of that form.
func SplitName(name string) (designDoc, fn string, ok bool) {
	var ind = strings.IndexByte(name, '/')
	if ind <= 0 || ind == len(name)-1 || strings.IndexByte(name[ind+1:], '/') != -1 {
		return "", "", false
	}
	return name[:ind], name[ind+1:], true
}

// Parse the properties of a design document.
func Parse(props map[string]interface{}) (*Document, error) {
	var doc = &Document{
		Language: DefaultLanguage,
		Views:    make(map[string]Source),
		Filters:  make(map[string]string),
	}
	if l, ok := props["language"]; ok {
		if doc.Language, ok = l.(string); !ok || doc.Language == "" {
			return nil, errors.Errorf("language must be a non-empty string (%v)", l)
		}
	}

	if v, ok := props["views"]; ok {
		var views, ok = v.(map[string]interface{})
		if !ok {
			return nil, errors.Errorf("views must be an object (%T)", v)
		}
		for name, vv := range views {
			var view, ok = vv.(map[string]interface{})
			if !ok {
				return nil, errors.Errorf("view %q must be an object (%T)", name, vv)
			}
			var src = Source{Language: doc.Language}
			if src.Map, ok = view["map"].(string); !ok || src.Map == "" {
				return nil, errors.Errorf("view %q must have a map function", name)
			}
			if r, present := view["reduce"]; present {
				if src.Reduce, ok = r.(string); !ok {
					return nil, errors.Errorf("view %q reduce must be a string (%T)", name, r)
				}
			}
			doc.Views[name] = src
		}
	}

	if f, ok := props["filters"]; ok {
		var filters, ok = f.(map[string]interface{})
		if !ok {
			return nil, errors.Errorf("filters must be an object (%T)", f)
		}
		for name, ff := range filters {
			var src, ok = ff.(string)
			if !ok || src == "" {
				return nil, errors.Errorf("filter %q must be a non-empty string", name)
			}
			doc.Filters[name] = src
		}
	}
	return doc, nil
}

// Doc is a document presented to view and filter functions.
type Doc struct {
	// Revision of the document. Its Body may have been released.
	Revision *revision.Revision
	// Properties of the document's body.
	Properties map[string]interface{}
}

// Row is an index row emitted by a view's map function.
type Row struct {
	DocID    string
	Sequence int64
	Key      interface{}
	Value    interface{}
}

// CompiledView is a compiled view, opaque to the database.
type CompiledView interface{}

// Indexer compiles views and runs them over documents.
type Indexer interface {
	// Compile a view Source.
	Compile(src Source) (CompiledView, error)
	// Run a compiled view's map function over |docs|, returning emitted Rows.
	Run(view CompiledView, docs []Doc) ([]Row, error)
}

// Reducer is optionally implemented by an Indexer which reduces rows.
type Reducer interface {
	// HasReduce returns true if the view has a reduce function.
	HasReduce(view CompiledView) bool
	// Reduce the |keys| and |values| of mapped rows into a single value.
	Reduce(view CompiledView, keys, values []interface{}) (interface{}, error)
}

// Filter is a predicate over changed documents.
type Filter interface {
	// Match returns true if the document passes the filter. Match may panic:
	// callers must treat a panic as "no match".
	Match(doc Doc, params map[string]interface{}) bool
}

// FilterFunc adapts a function to a Filter.
type FilterFunc func(doc Doc, params map[string]interface{}) bool

// Match calls the function.
func (fn FilterFunc) Match(doc Doc, params map[string]interface{}) bool { return fn(doc, params) }

// FilterCompiler compiles filter sources.
type FilterCompiler interface {
	// CompileFilter compiles a filter |source| of |language|.
	CompileFilter(source, language string) (Filter, error)
}
