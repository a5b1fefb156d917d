package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/coder/serpent"
	"github.com/rs/zerolog"

	"github.com/Emyrk/profgraph/profile"
	"github.com/Emyrk/profgraph/profile/formats"
)

// inputOptions are shared by every command that reads a profile.
type inputOptions struct {
	format string
	total  string
}

func (o *inputOptions) Attach(cmd *serpent.Command) {
	cmd.Options = append(cmd.Options,
		serpent.Option{
			Name:          "format",
			Description:   "Profile format.",
			Flag:          "format",
			FlagShorthand: "f",
			Env:           "PROFGRAPH_FORMAT",
			Default:       formats.Default,
			Value:         serpent.EnumOf(&o.format, formats.Names()...),
		},
		serpent.Option{
			Name:        "total",
			Description: "Method for computing inclusive times. callstacks is only honored by formats that record stacks.",
			Flag:        "total",
			Env:         "PROFGRAPH_TOTAL",
			Default:     string(profile.CallRatios),
			Value:       serpent.EnumOf(&o.total, profile.TotalMethods...),
		},
	)
}

// load reads and derives the profile named by the first argument, or stdin
// when there is none or it is "-".
func (o *inputOptions) load(inv *serpent.Invocation, logger zerolog.Logger) (*profile.Profile, error) {
	method, err := profile.ParseTotalMethod(o.total)
	if err != nil {
		return nil, err
	}

	var r io.Reader = inv.Stdin
	if len(inv.Args) > 0 && inv.Args[0] != "-" {
		file, err := os.Open(inv.Args[0])
		if err != nil {
			return nil, fmt.Errorf("open profile: %w", err)
		}
		defer file.Close()
		r = file
	}

	p, err := formats.Load(o.format, r, formats.Options{
		Total:  method,
		Logger: logger,
	})
	if err != nil {
		return nil, fmt.Errorf("load profile: %w", err)
	}
	return p, nil
}
