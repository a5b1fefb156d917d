package cmd

import (
	"bytes"
	"fmt"
	"runtime/pprof"

	"github.com/coder/serpent"

	"github.com/Emyrk/profgraph/cmd/workdemo"
)

func (r *Root) pprofDemo() *serpent.Command {
	var amount int64
	return &serpent.Command{
		Use:   "pprofdemo",
		Short: "Write a CPU profile of a demo workload to stdout.",
		Options: serpent.OptionSet{
			serpent.Option{
				Name:        "amount",
				Description: "Loop iterations per stage of the workload.",
				Flag:        "amount",
				Default:     fmt.Sprint(workdemo.DefaultAmount),
				Value:       serpent.Int64Of(&amount),
			},
		},
		Handler: func(i *serpent.Invocation) error {
			logger := r.Logger(i)

			var buf bytes.Buffer
			err := pprof.StartCPUProfile(&buf)
			if err != nil {
				return fmt.Errorf("start cpu profile: %w", err)
			}

			// Do some work
			result := workdemo.Root(int(amount))

			// Stop profile
			pprof.StopCPUProfile()
			logger.Debug().Int("result", result).Int("profile_bytes", buf.Len()).Msg("demo workload done")

			// Write the profile to output
			_, err = buf.WriteTo(i.Stdout)
			return err
		},
	}
}
