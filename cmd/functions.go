package cmd

import (
	"github.com/coder/serpent"
)

func (r *Root) FunctionsCmd() *serpent.Command {
	var (
		input    = new(inputOptions)
		pruner   = new(pruneOptions)
		selector string
	)
	cmd := &serpent.Command{
		Use:        "functions [file]",
		Short:      "List the functions left in the graph after pruning.",
		Middleware: serpent.RequireRangeArgs(0, 1),
		Options: serpent.OptionSet{
			serpent.Option{
				Name:        "select",
				Description: "Glob over function names. Prefix with % to print every measurement of the matches.",
				Flag:        "select",
				Default:     "*",
				Value:       serpent.StringOf(&selector),
			},
		},
		Handler: func(i *serpent.Invocation) error {
			logger := r.Logger(i)

			p, err := input.load(i, logger)
			if err != nil {
				return err
			}
			if err := pruner.prune(p); err != nil {
				return err
			}
			return p.ListFunctions(i.Stdout, selector)
		},
	}

	input.Attach(cmd)
	pruner.Attach(cmd)
	return cmd
}
