package docdbcmd

import (
	"strconv"

	"go.gazette.dev/docdb/database"
	"go.gazette.dev/docdb/design"
	"go.gazette.dev/docdb/revision"
)

type cmdChanges struct {
	Since       int64    `long:"since" default:"0" description:"Return changes having sequence greater than this"`
	Limit       uint     `long:"limit" description:"Maximum number of changes to return"`
	Descending  bool     `long:"descending" description:"Return changes by descending sequence"`
	Conflicts   bool     `long:"conflicts" description:"Return all current revisions of changed documents, not only winners"`
	IncludeDocs bool     `long:"include-docs" description:"Include document bodies"`
	Filter      string   `long:"filter" description:"Filter to apply, either native (eg 'field') or as '<design-doc>/<filter>'"`
	Params      []string `long:"param" short:"p" description:"Filter parameter as key=value, eg -p field=type -p value=widget"`
}

func init() {
	CommandRegistry.AddCommand("", "changes", "List changes since a sequence", `
List revisions which changed since --since, by sequence.

By default only the winning revision of each changed document is listed.
Changes may be filtered by a native filter, or by a filter of a design
document. List changes of documents having "type" of "widget":

>    docdb changes --filter field -p field=type -p value=widget
`, &cmdChanges{})
}

func (cmd *cmdChanges) Execute([]string) error {
	startup()

	var params, err = parseParams(cmd.Params)
	if err != nil {
		return err
	}
	var opts = revision.ChangesOptions{
		Limit:            cmd.Limit,
		IncludeDocs:      cmd.IncludeDocs,
		IncludeConflicts: cmd.Conflicts,
		SortBySequence:   cmd.Descending,
	}

	return withDatabase(func(db *database.Database) error {
		var filter design.Filter
		if cmd.Filter != "" {
			if filter, err = db.CompileFilterNamed(cmd.Filter); err != nil {
				return err
			}
		}
		revs, err := db.ChangesSinceSequence(cmd.Since, opts, filter, params)
		if err != nil {
			return err
		}

		var headers = []interface{}{"Seq", "ID", "Rev", "Flags"}
		if cmd.IncludeDocs {
			headers = append(headers, "Doc")
		}
		var table = newTable(headers...)

		for _, rev := range revs {
			var row = []string{
				strconv.FormatInt(rev.Sequence, 10),
				rev.DocID,
				string(rev.RevID),
				flagsOf(rev),
			}
			if cmd.IncludeDocs {
				row = append(row, string(rev.Body))
			}
			table.Append(row)
		}
		table.Render()
		return nil
	})
}
