package design

import (
	"sort"
	"sync"

	"github.com/pkg/errors"
)

// MapFunc maps a Doc to index rows by calling |emit|.
type MapFunc func(doc Doc, emit func(key, value interface{}))

// ReduceFunc reduces the keys and values of mapped rows. If |rereduce|, the
// values are themselves outputs of the ReduceFunc.
type ReduceFunc func(keys, values []interface{}, rereduce bool) (interface{}, error)

// Registry of native Go map, reduce, and filter functions, addressed by name
// from the sources of "go" language design documents. Registry implements
// Indexer, Reducer, and FilterCompiler.
type Registry struct {
	mu      sync.RWMutex
	maps    map[string]MapFunc
	reduces map[string]ReduceFunc
	filters map[string]Filter
}

// ErrUnknownFunction is returned when a source names an unregistered function.
var ErrUnknownFunction = errors.New("unknown function")

// ErrUnsupportedLanguage is returned for sources of a language other than "go".
var ErrUnsupportedLanguage = errors.New("unsupported language")

// NewRegistry returns a Registry having built-in "_count" and "_sum" reducers.
func NewRegistry() *Registry {
	var r = &Registry{
		maps:    make(map[string]MapFunc),
		reduces: make(map[string]ReduceFunc),
		filters: make(map[string]Filter),
	}
	r.reduces["_count"] = reduceCount
	r.reduces["_sum"] = reduceSum
	return r
}

// RegisterMap registers a MapFunc under |name|, replacing any previous one.
func (r *Registry) RegisterMap(name string, fn MapFunc) {
	r.mu.Lock()
	r.maps[name] = fn
	r.mu.Unlock()
}

// RegisterReduce registers a ReduceFunc under |name|.
func (r *Registry) RegisterReduce(name string, fn ReduceFunc) {
	r.mu.Lock()
	r.reduces[name] = fn
	r.mu.Unlock()
}

// RegisterFilter registers a Filter under |name|.
func (r *Registry) RegisterFilter(name string, fn Filter) {
	r.mu.Lock()
	r.filters[name] = fn
	r.mu.Unlock()
}

// Names returns the sorted names of registered map functions.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []string
	for n := range r.maps {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

type compiledView struct {
	src    Source
	mapFn  MapFunc
	reduce ReduceFunc
}

// Compile the Source, resolving its map and reduce functions.
func (r *Registry) Compile(src Source) (CompiledView, error) {
	if err := checkLanguage(src.Language); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	var cv = &compiledView{src: src}
	var ok bool

	if cv.mapFn, ok = r.maps[src.Map]; !ok {
		return nil, errors.WithMessagef(ErrUnknownFunction, "map %q", src.Map)
	}
	if src.Reduce != "" {
		if cv.reduce, ok = r.reduces[src.Reduce]; !ok {
			return nil, errors.WithMessagef(ErrUnknownFunction, "reduce %q", src.Reduce)
		}
	}
	return cv, nil
}

// Run the map function of |view| over each of |docs|. A panic of the map
// function fails the Run.
func (r *Registry) Run(view CompiledView, docs []Doc) (rows []Row, err error) {
	var cv, ok = view.(*compiledView)
	if !ok {
		return nil, errors.Errorf("not a compiled native view (%T)", view)
	}
	for _, doc := range docs {
		if err = runMap(cv, doc, &rows); err != nil {
			return nil, err
		}
	}
	return rows, nil
}

func runMap(cv *compiledView, doc Doc, rows *[]Row) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("map %q panicked on %q: %v", cv.src.Map, doc.Revision.DocID, r)
		}
	}()
	cv.mapFn(doc, func(key, value interface{}) {
		*rows = append(*rows, Row{
			DocID:    doc.Revision.DocID,
			Sequence: doc.Revision.Sequence,
			Key:      key,
			Value:    value,
		})
	})
	return nil
}

// HasReduce returns true if the view has a reduce function.
func (r *Registry) HasReduce(view CompiledView) bool {
	var cv, ok = view.(*compiledView)
	return ok && cv.reduce != nil
}

// Reduce |keys| and |values| with the view's reduce function.
func (r *Registry) Reduce(view CompiledView, keys, values []interface{}) (interface{}, error) {
	var cv, ok = view.(*compiledView)
	if !ok || cv.reduce == nil {
		return nil, errors.Errorf("view has no reduce function")
	}
	return cv.reduce(keys, values, false)
}

// CompileFilter resolves the registered Filter named by |source|.
func (r *Registry) CompileFilter(source, language string) (Filter, error) {
	if err := checkLanguage(language); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	if f, ok := r.filters[source]; ok {
		return f, nil
	}
	return nil, errors.WithMessagef(ErrUnknownFunction, "filter %q", source)
}

func checkLanguage(l string) error {
	if l != "" && l != DefaultLanguage {
		return errors.WithMessagef(ErrUnsupportedLanguage, "%q", l)
	}
	return nil
}

func reduceCount(_, values []interface{}, rereduce bool) (interface{}, error) {
	if !rereduce {
		return float64(len(values)), nil
	}
	return reduceSum(nil, values, false)
}

func reduceSum(_, values []interface{}, _ bool) (interface{}, error) {
	var sum float64
	for _, v := range values {
		switch vv := v.(type) {
		case float64:
			sum += vv
		case int:
			sum += float64(vv)
		case int64:
			sum += float64(vv)
		default:
			return nil, errors.Errorf("_sum of non-numeric value %v (%T)", v, v)
		}
	}
	return sum, nil
}

var (
	_ Indexer        = (*Registry)(nil)
	_ Reducer        = (*Registry)(nil)
	_ FilterCompiler = (*Registry)(nil)
)
