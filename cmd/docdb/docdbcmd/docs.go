package docdbcmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.gazette.dev/docdb/database"
	mbp "go.gazette.dev/docdb/mainboilerplate"
	"go.gazette.dev/docdb/revision"
	"gopkg.in/yaml.v2"
)

type cmdPut struct {
	ID      string `long:"id" required:"true" description:"ID of the document"`
	Parent  string `long:"parent" description:"Parent revision ID. Omit to create a document"`
	Rev     string `long:"rev" description:"Explicit revision ID to insert, as a replicator would"`
	Deleted bool   `long:"deleted" description:"Insert a deletion tombstone"`
	Body    string `long:"body" default:"-" description:"JSON body of the revision. Use '-' for stdin"`
}

type cmdGet struct {
	ID        string `long:"id" required:"true" description:"ID of the document"`
	Rev       string `long:"rev" description:"Revision ID to get. Omit for the winning revision"`
	Revs      bool   `long:"revs" description:"Include the revision history (_revisions)"`
	RevsInfo  bool   `long:"revs-info" description:"Include revision availability (_revs_info)"`
	Conflicts bool   `long:"conflicts" description:"Include conflicting revisions (_conflicts)"`
	LocalSeq  bool   `long:"local-seq" description:"Include the revision sequence (_local_seq)"`
}

type cmdRevs struct {
	ID          string `long:"id" required:"true" description:"ID of the document"`
	CurrentOnly bool   `long:"current" description:"List only current (leaf) revisions"`
}

type cmdLoad struct {
	Path   string `long:"fixtures" default:"-" description:"YAML fixtures path to load. Use '-' for stdin"`
	Source string `long:"source" default:"load" description:"Source of loaded changes"`
}

// fixture is a revision to insert, as decoded from YAML.
type fixture struct {
	ID      string      `yaml:"id"`
	Rev     string      `yaml:"rev"`
	Parent  string      `yaml:"parent"`
	Deleted bool        `yaml:"deleted"`
	Body    interface{} `yaml:"body"`
}

func init() {
	CommandRegistry.AddCommand("", "put", "Insert a document revision", `
Insert a revision of a document.

Create a document:
>    docdb put --id my-doc --body '{"type": "widget"}'

Update it by naming the current revision as parent:
>    docdb put --id my-doc --parent 1-0123abcd --body '{"type": "gadget"}'

Delete it by inserting a tombstone:
>    docdb put --id my-doc --parent 2-4567cdef --deleted --body '{}'

A revision having an explicit --rev is inserted as-is (its generation must be
one greater than its parent's), which may create conflicting branches.
`, &cmdPut{})

	CommandRegistry.AddCommand("", "get", "Get a document revision", `
Print properties of the winning revision of a document, or of --rev.
`, &cmdGet{})

	CommandRegistry.AddCommand("", "revs", "List revisions of a document", `
List all revisions of a document, by descending sequence.
`, &cmdRevs{})

	CommandRegistry.AddCommand("", "load", "Load YAML fixtures of revisions", `
Load revisions described by a YAML fixtures file in a single transaction.
If any revision fails to insert, no revisions are loaded. Example:

  - id: my-doc
    body: {type: widget, count: 3}
  - id: my-doc
    rev: 2-aaaa
    parent: 1-bbbb
    body: {type: widget, count: 4}
`, &cmdLoad{})
}

func (cmd *cmdPut) Execute([]string) error {
	startup()

	var body, err = readBody(cmd.Body)
	if err != nil {
		return err
	}
	return withDatabase(func(db *database.Database) error {
		var rev *revision.Revision

		var err = db.InTransaction(func() (err error) {
			rev, err = insert(db, cmd.ID, revision.ID(cmd.Rev), revision.ID(cmd.Parent), cmd.Deleted, body, "")
			return err
		})
		if err != nil {
			return err
		}
		log.WithFields(log.Fields{"id": rev.DocID, "rev": rev.RevID, "seq": rev.Sequence}).Info("inserted revision")
		return writeJSON(map[string]interface{}{"id": rev.DocID, "rev": rev.RevID, "sequence": rev.Sequence})
	})
}

// insert a revision, generating its ID if |revID| is empty.
func insert(db *database.Database, docID string, revID, parentRevID revision.ID,
	deleted bool, body []byte, source string) (*revision.Revision, error) {
	if revID == "" {
		return db.PutRevision(docID, parentRevID, deleted, body, source)
	}
	var rev, err = db.InsertRevisionWithID(docID, revID, parentRevID, deleted, body)
	if err != nil {
		return nil, err
	}
	return rev, db.NotifyChange(revision.Change{Revision: rev, Source: source})
}

func (cmd *cmdGet) Execute([]string) error {
	startup()

	var opts revision.ContentOptions
	if cmd.Revs {
		opts |= revision.IncludeRevs
	}
	if cmd.RevsInfo {
		opts |= revision.IncludeRevsInfo
	}
	if cmd.Conflicts {
		opts |= revision.IncludeConflicts
	}
	if cmd.LocalSeq {
		opts |= revision.IncludeLocalSeq
	}

	return withDatabase(func(db *database.Database) error {
		var rev, err = db.GetDocument(cmd.ID, revision.ID(cmd.Rev), opts)
		if err != nil {
			return errors.WithMessagef(err, "getting %q", cmd.ID)
		}
		props, err := db.DocumentProperties(rev, opts)
		if err != nil {
			return err
		}
		return writeJSON(props)
	})
}

func (cmd *cmdRevs) Execute([]string) error {
	startup()

	return withDatabase(func(db *database.Database) error {
		var revs, err = db.GetAllRevisions(cmd.ID, cmd.CurrentOnly)
		if err != nil {
			return err
		} else if len(revs) == 0 {
			return errors.WithMessagef(database.ErrNotFound, "document %q", cmd.ID)
		}
		winner, _, conflict, err := winnerOf(db, cmd.ID)
		if err != nil {
			return err
		}

		var table = newTable("Seq", "Rev", "Parent", "Flags", "Body")
		for _, rev := range revs {
			var flags = flagsOf(rev)
			if rev.RevID == winner {
				flags = appendFlag(flags, "winner")
			}
			var size = "compacted"
			if err = db.LoadBody(rev, 0); err == nil {
				size = humanize.Bytes(uint64(len(rev.Body)))
			} else if !errors.Is(err, database.ErrNotFound) {
				return err
			}
			table.Append([]string{
				strconv.FormatInt(rev.Sequence, 10),
				string(rev.RevID),
				string(rev.ParentRevID),
				flags,
				size,
			})
		}
		table.Render()

		if conflict {
			log.WithField("id", cmd.ID).Warn("document is in conflict")
		}
		return nil
	})
}

func winnerOf(db *database.Database, docID string) (revision.ID, bool, bool, error) {
	var numericID, err = db.GetDocNumericID(docID)
	if err != nil {
		return "", false, false, err
	}
	return db.ComputeWinningRevision(numericID)
}

func appendFlag(flags, flag string) string {
	if flags == "" {
		return flag
	}
	return flags + "," + flag
}

func (cmd *cmdLoad) Execute([]string) error {
	startup()

	var fixtures []fixture
	if err := decodeFixtures(cmd.Path, &fixtures); err != nil {
		return err
	}

	return withDatabase(func(db *database.Database) error {
		return db.InTransaction(func() error {
			for i, f := range fixtures {
				var body, err = json.Marshal(jsonCompatible(f.Body))
				if err != nil {
					return errors.WithMessagef(err, "fixture %d body", i)
				} else if f.Body == nil {
					body = []byte("{}")
				}
				rev, err := insert(db, f.ID, revision.ID(f.Rev), revision.ID(f.Parent), f.Deleted, body, cmd.Source)
				if err != nil {
					return errors.WithMessagef(err, "fixture %d (%s)", i, f.ID)
				}
				log.WithFields(log.Fields{"id": rev.DocID, "rev": rev.RevID}).Debug("loaded revision")
			}
			log.WithField("revisions", len(fixtures)).Info("loaded fixtures")
			return nil
		})
	})
}

func decodeFixtures(path string, into interface{}) error {
	var buffer []byte
	var err error

	if path == "-" {
		buffer, err = io.ReadAll(os.Stdin)
	} else {
		buffer, err = os.ReadFile(path)
	}
	mbp.Must(err, "failed to read YAML input")

	if err = yaml.UnmarshalStrict(buffer, into); err != nil {
		// `yaml` produces nicely formatted error messages that are best printed as-is.
		_, _ = os.Stderr.WriteString(err.Error() + "\n")
		return errors.New("YAML decode failed")
	}
	return nil
}

// jsonCompatible converts the map[interface{}]interface{} values produced by
// YAML decoding into map[string]interface{}.
func jsonCompatible(v interface{}) interface{} {
	switch vv := v.(type) {
	case map[interface{}]interface{}:
		var out = make(map[string]interface{}, len(vv))
		for k, v := range vv {
			out[fmt.Sprint(k)] = jsonCompatible(v)
		}
		return out
	case []interface{}:
		var out = make([]interface{}, len(vv))
		for i, v := range vv {
			out[i] = jsonCompatible(v)
		}
		return out
	default:
		return v
	}
}
