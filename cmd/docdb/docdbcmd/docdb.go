package docdbcmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/pkg/errors"
	"go.gazette.dev/docdb/database"
	"go.gazette.dev/docdb/design"
	mbp "go.gazette.dev/docdb/mainboilerplate"
	"go.gazette.dev/docdb/revision"
)

var (
	// Config is the top-level configuration of docdb.
	Config = new(struct {
		Log      mbp.LogConfig      `group:"Logging" namespace:"log" env-namespace:"LOG"`
		Database mbp.DatabaseConfig `group:"Database" namespace:"db" env-namespace:"DOCDB"`
		Fields   []string           `long:"field" env:"DOCDB_FIELDS" env-delim:"," description:"Document fields having native 'field:<name>' map functions"`
	})
	// CommandRegistry of docdb sub-commands.
	CommandRegistry = mbp.NewCommandRegistry()
)

// Output is the destination of command output.
var Output io.Writer = os.Stdout

func startup() {
	mbp.InitLog(Config.Log)
}

// newRegistry returns a design.Registry having native functions usable from
// the design documents of a docdb database:
//
//   - Map "field:<name>" emits the value of document property <name> as key,
//     and the revision ID as value, for each configured --field.
//   - Map "_id" emits the document ID as key.
//   - Filter "field" matches documents having property params["field"]
//     equal to params["value"]. It's also registered as a native filter of
//     the Database (see withDatabase).
func newRegistry(fields []string) *design.Registry {
	var reg = design.NewRegistry()

	for _, field := range fields {
		reg.RegisterMap("field:"+field, func(doc design.Doc, emit func(key, value interface{})) {
			if v, ok := doc.Properties[field]; ok {
				emit(v, string(doc.Revision.RevID))
			}
		})
	}
	reg.RegisterMap("_id", func(doc design.Doc, emit func(key, value interface{})) {
		emit(doc.Revision.DocID, nil)
	})
	reg.RegisterFilter("field", design.FilterFunc(matchField))

	return reg
}

func matchField(doc design.Doc, params map[string]interface{}) bool {
	var field, ok = params["field"].(string)
	if !ok {
		return false
	}
	var v, found = doc.Properties[field]
	if !found {
		return false
	}
	return fmt.Sprint(v) == fmt.Sprint(params["value"])
}

// withDatabase opens the configured Database, invokes |fn| from its owning
// context, and closes the Database.
func withDatabase(fn func(db *database.Database) error) error {
	var db, err = Config.Database.Open(newRegistry(Config.Fields))
	if err != nil {
		return err
	}
	err = db.Do(func() error {
		db.RegisterFilter("field", design.FilterFunc(matchField))
		return fn(db)
	})

	if closeErr := db.Close(); err == nil {
		err = closeErr
	}
	return err
}

// readBody returns |body| as a JSON document body, reading it from stdin
// if |body| is "-". An empty |body| is an empty document.
func readBody(body string) ([]byte, error) {
	var b []byte
	switch body {
	case "":
		return []byte("{}"), nil
	case "-":
		var err error
		if b, err = io.ReadAll(os.Stdin); err != nil {
			return nil, errors.WithMessage(err, "reading stdin")
		}
	default:
		b = []byte(body)
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, errors.WithMessage(err, "body must be a JSON object")
	}
	return b, nil
}

// parseParams parses "key=value" pairs. A value which is valid JSON is
// decoded; otherwise it's used as a string.
func parseParams(pairs []string) (map[string]interface{}, error) {
	var out = make(map[string]interface{}, len(pairs))
	for _, pair := range pairs {
		var ind = strings.IndexByte(pair, '=')
		if ind <= 0 {
			return nil, errors.Errorf("invalid parameter %q (expected key=value)", pair)
		}
		var key, raw = pair[:ind], pair[ind+1:]

		var v interface{}
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			v = raw
		}
		out[key] = v
	}
	return out, nil
}

func newTable(headers ...interface{}) *tablewriter.Table {
	var table = tablewriter.NewWriter(Output)
	table.Header(headers...)
	return table
}

func flagsOf(rev *revision.Revision) string {
	var f []string
	if rev.Current {
		f = append(f, "current")
	}
	if rev.Deleted {
		f = append(f, "deleted")
	}
	return strings.Join(f, ",")
}

func encodeJSON(v interface{}) string {
	var b, err = json.Marshal(v)
	mbp.Must(err, "failed to encode JSON")
	return string(b)
}

func writeJSON(v interface{}) error {
	var enc = json.NewEncoder(Output)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
