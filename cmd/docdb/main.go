package main

import (
	"github.com/jessevdk/go-flags"

	"go.gazette.dev/docdb/cmd/docdb/docdbcmd"
	mbp "go.gazette.dev/docdb/mainboilerplate"
)

const iniFilename = "docdb.ini"

func main() {
	var parser = flags.NewParser(docdbcmd.Config, flags.Default)

	mbp.AddPrintConfigCmd(parser, iniFilename)
	parser.LongDescription = `docdb is a tool for inspecting and modifying an embedded document database.

	See --help pages of each sub-command for documentation and usage examples.
	Optionally configure docdb with a '` + iniFilename + `' file in the current working directory,
	or with '~/.config/docdb/` + iniFilename + `'. Use the 'print-config' sub-command to inspect
	the tool's current configuration.
	`

	// Add all registered commands to the root parser.Command
	mbp.Must(docdbcmd.CommandRegistry.AddCommands("", parser.Command, true), "could not add subcommand")

	// Parse config and start app
	mbp.MustParseConfig(parser, iniFilename)
}
