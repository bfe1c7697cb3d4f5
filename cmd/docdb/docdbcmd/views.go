package docdbcmd

import (
	"net/url"
	"strconv"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.gazette.dev/docdb/database"
)

type cmdViews struct{}

type cmdViewsList struct{}

type cmdViewsDelete struct {
	Name string `long:"name" required:"true" description:"Name of the view, as '<design-doc>/<view>'"`
}

type cmdViewsQuery struct {
	Name   string `long:"name" required:"true" description:"Name of the view, as '<design-doc>/<view>'"`
	Query  string `long:"query" short:"q" description:"Query options as URL query parameters, eg 'startkey=\"a\"&limit=10'"`
	Format string `long:"format" short:"o" choice:"table" choice:"json" default:"table" description:"Output format"`
}

type cmdAllDocs struct {
	Query  string `long:"query" short:"q" description:"Query options as URL query parameters, eg 'include_deleted=true'"`
	Format string `long:"format" short:"o" choice:"table" choice:"json" default:"table" description:"Output format"`
}

func init() {
	CommandRegistry.AddCommand("", "views", "Interact with views", "", &cmdViews{})

	CommandRegistry.AddCommand("views", "list", "List views", `
List views which have been compiled, and whether they're stale.
`, &cmdViewsList{})

	CommandRegistry.AddCommand("views", "delete", "Delete a view index", `
Delete the index of a view. The view is re-indexed from scratch when next queried.
`, &cmdViewsDelete{})

	CommandRegistry.AddCommand("views", "query", "Query a view", `
Query a view of a design document, first bringing its index up to date.

Views are defined by design documents (having ID prefix "_design/") with
language "go", which name native map functions:

>    docdb put --id _design/app --body '{"language": "go", "views": {"by_type": {"map": "field:type", "reduce": "_count"}}}'
>    docdb --field type views query --name app/by_type -q 'startkey="a"&endkey="m"&limit=10'

Supported query parameters are startkey, endkey, key, keys, skip, limit,
descending, inclusive_end, include_docs, reduce, local_seq, conflicts, and revs.
Keys are JSON-encoded.
`, &cmdViewsQuery{})

	CommandRegistry.AddCommand("", "all-docs", "List all documents", `
List all documents and their winning revisions, ordered by document ID.
Accepts the query parameters of "views query".
`, &cmdAllDocs{})
}

func (cmd *cmdViews) Execute([]string) error { return errors.New("specify a views sub-command") }

func (cmd *cmdViewsList) Execute([]string) error {
	startup()

	return withDatabase(func(db *database.Database) error {
		var names, err = db.AllViews()
		if err != nil {
			return err
		}
		var table = newTable("Name", "Map", "Reduce", "Indexed Through", "Stale")
		for _, name := range names {
			var view, err = db.CompileViewNamed(name)
			if errors.Is(err, database.ErrCompile) || errors.Is(err, database.ErrNotFound) {
				log.WithFields(log.Fields{"view": name, "err": err}).Warn("failed to compile view")
				table.Append([]string{name, "", "", "", "error"})
				continue
			} else if err != nil {
				return err
			}
			table.Append([]string{
				name,
				view.Source.Map,
				view.Source.Reduce,
				strconv.FormatInt(view.LastSequence(), 10),
				strconv.FormatBool(view.Stale()),
			})
		}
		table.Render()
		return nil
	})
}

func (cmd *cmdViewsDelete) Execute([]string) error {
	startup()

	return withDatabase(func(db *database.Database) error {
		return db.DeleteViewNamed(cmd.Name)
	})
}

func (cmd *cmdViewsQuery) Execute([]string) error {
	startup()

	var opts, err = parseQuery(cmd.Query)
	if err != nil {
		return err
	}
	return withDatabase(func(db *database.Database) error {
		var rows, err = db.QueryView(cmd.Name, opts)
		if err != nil {
			return err
		}
		return outputRows(rows, cmd.Format)
	})
}

func (cmd *cmdAllDocs) Execute([]string) error {
	startup()

	var opts, err = parseQuery(cmd.Query)
	if err != nil {
		return err
	}
	return withDatabase(func(db *database.Database) error {
		var rows, err = db.GetAllDocs(opts)
		if err != nil {
			return err
		}
		return outputRows(rows, cmd.Format)
	})
}

func parseQuery(query string) (database.QueryOptions, error) {
	var values, err = url.ParseQuery(query)
	if err != nil {
		return database.QueryOptions{}, errors.WithMessage(err, "parsing --query")
	}
	return database.ParseQueryOptions(values)
}

func outputRows(rows []database.QueryRow, format string) error {
	if format == "json" {
		return writeJSON(rows)
	}
	var table = newTable("ID", "Key", "Value", "Doc")
	for _, row := range rows {
		var doc string
		if row.Doc != nil {
			doc = encodeJSON(row.Doc)
		}
		table.Append([]string{row.DocID, encodeJSON(row.Key), encodeJSON(row.Value), doc})
	}
	table.Render()
	return nil
}
