package cmd

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/coder/serpent"

	"github.com/Emyrk/profgraph/profile/eluded"
	"github.com/Emyrk/profgraph/profile/formats"
)

// ConvertCmd rewrites an eluded dump as a pprof profile.
func (r *Root) ConvertCmd() *serpent.Command {
	var (
		output  string
		minSelf time.Duration
	)
	return &serpent.Command{
		Use:        "convert [file]",
		Short:      "Convert an eluded call tree dump into a pprof profile.",
		Middleware: serpent.RequireRangeArgs(0, 1),
		Options: serpent.OptionSet{
			serpent.Option{
				Name:          "output",
				Description:   "Write the profile to this file instead of stdout.",
				Flag:          "output",
				FlagShorthand: "o",
				Value:         serpent.StringOf(&output),
			},
			serpent.Option{
				Name:        "min-self",
				Description: "Drop calls whose self cost is below this.",
				Flag:        "min-self",
				Default:     "0s",
				Value:       serpent.DurationOf(&minSelf),
			},
		},
		Handler: func(i *serpent.Invocation) error {
			logger := r.Logger(i)

			var in io.Reader = i.Stdin
			if len(i.Args) > 0 && i.Args[0] != "-" {
				file, err := os.Open(i.Args[0])
				if err != nil {
					return fmt.Errorf("open dump: %w", err)
				}
				defer file.Close()
				in = file
			}

			dec, closeDec, err := formats.Decompress(in)
			if err != nil {
				return err
			}
			defer closeDec()

			ticks, err := eluded.Decode(formats.Text(dec))
			if err != nil {
				return fmt.Errorf("decode dump: %w", err)
			}

			conv := eluded.NewPprofConverter()
			conv.MinSelf = minSelf
			prof := conv.Convert(ticks)
			if err := prof.CheckValid(); err != nil {
				return fmt.Errorf("converted profile: %w", err)
			}

			var out io.Writer = i.Stdout
			if output != "" {
				file, err := os.Create(output)
				if err != nil {
					return fmt.Errorf("create output: %w", err)
				}
				defer file.Close()
				out = file
			}

			if err := prof.Write(out); err != nil {
				return fmt.Errorf("write profile: %w", err)
			}
			logger.Debug().
				Int("ticks", len(ticks)).
				Int("samples", len(prof.Sample)).
				Msg("converted dump")
			return nil
		},
	}
}
