package mainboilerplate

import "github.com/jessevdk/go-flags"

// AddCommandFunc adds a sub-command to a parent flags.Command.
type AddCommandFunc func(*flags.Command) error

// CommandRegistry collects AddCommandFuncs keyed on the dotted path of their
// parent command, allowing sub-commands to register themselves from init()
// before the parser which hosts them exists. The root command has path "".
type CommandRegistry map[string][]AddCommandFunc

// NewCommandRegistry returns an empty CommandRegistry.
func NewCommandRegistry() CommandRegistry { return make(CommandRegistry) }

// AddCommand registers a command |name| under the |parent| path, eg
//
//	AddCommand("", "views", ...)
//	AddCommand("views", "query", ...)
func (cr CommandRegistry) AddCommand(parent, name, short, long string, data interface{}) {
	cr[parent] = append(cr[parent], func(cmd *flags.Command) error {
		_, err := cmd.AddCommand(name, short, long, data)
		return err
	})
}

// AddCommands adds commands registered under |path| to |cmd|. If |recursive|,
// commands registered under each added command are then added as well.
func (cr CommandRegistry) AddCommands(path string, cmd *flags.Command, recursive bool) error {
	for _, fn := range cr[path] {
		if err := fn(cmd); err != nil {
			return err
		}
	}
	if !recursive {
		return nil
	}
	for _, sub := range cmd.Commands() {
		var subPath = sub.Name
		if path != "" {
			subPath = path + "." + subPath
		}
		if err := cr.AddCommands(subPath, sub, recursive); err != nil {
			return err
		}
	}
	return nil
}
