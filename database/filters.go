package database

import (
	"strings"

	"github.com/pkg/errors"
	"go.gazette.dev/docdb/design"
	"go.gazette.dev/docdb/metrics"
)

// RegisterFilter registers a native Filter under |name|, which takes
// precedence over filters of design documents. A nil Filter removes the
// registration.
func (db *Database) RegisterFilter(name string, filter design.Filter) {
	db.exec.assertOwned()

	if filter == nil {
		delete(db.filters, name)
	} else {
		db.filters[name] = filter
	}
	db.filterCache.Remove(name)
}

// CompileFilterNamed returns the Filter of |name|. Native filters are
// consulted first. Otherwise |name| must be of the form "<designDoc>/<filter>",
// and the filter source is taken from the "filters" property of the current
// revision of document "_design/<designDoc>". Compiled filters are cached
// until their design document changes.
func (db *Database) CompileFilterNamed(name string) (design.Filter, error) {
	db.exec.assertOwned()

	if f, ok := db.filters[name]; ok {
		return f, nil
	}
	if f, ok := db.filterCache.Get(name); ok {
		metrics.DocDBFilterCacheLookupsTotal.WithLabelValues("hit").Inc()
		return f.(design.Filter), nil
	}
	metrics.DocDBFilterCacheLookupsTotal.WithLabelValues("miss").Inc()

	var ddocName, fn, ok = design.SplitName(name)
	if !ok {
		return nil, errors.WithMessagef(ErrNotFound, "filter %q", name)
	}
	var ddoc, err = db.designDocument(ddocName)
	if err != nil {
		return nil, err
	}
	source, ok := ddoc.Filters[fn]
	if !ok {
		return nil, errors.WithMessagef(ErrNotFound, "filter %q", name)
	} else if db.filterCompiler == nil {
		return nil, errors.WithMessagef(ErrCompile, "filter %q: no filter compiler", name)
	}

	filter, err := db.filterCompiler.CompileFilter(source, ddoc.Language)
	if err != nil {
		return nil, errors.WithMessagef(ErrCompile, "filter %q: %s", name, err)
	}
	db.filterCache.Add(name, filter)
	return filter, nil
}

// designDocument loads and parses the current revision of "_design/<name>".
func (db *Database) designDocument(name string) (*design.Document, error) {
	var rev, err = db.GetDocument(design.IDPrefix+name, "", 0)
	if err != nil {
		return nil, err
	}
	props, err := db.DocumentProperties(rev, 0)
	if err != nil {
		return nil, err
	}
	ddoc, err := design.Parse(props)
	if err != nil {
		return nil, errors.WithMessagef(ErrCompile, "design document %q: %s", name, err)
	}
	return ddoc, nil
}

// purgeFilters drops cached filters of design document |name|.
func (db *Database) purgeFilters(name string) {
	for _, key := range db.filterCache.Keys() {
		if strings.HasPrefix(key.(string), name+"/") {
			db.filterCache.Remove(key)
		}
	}
}
