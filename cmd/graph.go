package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/coder/serpent"

	"github.com/Emyrk/profgraph/profile/measure"
	"github.com/Emyrk/profgraph/render/dot"
)

var (
	GroupRender = &serpent.Group{
		Name:        "Rendering",
		YAML:        "render",
		Description: "Options that control the dot output.",
	}
)

type graphOptions struct {
	colormap    string
	skew        float64
	strip       bool
	wrap        bool
	showSamples bool
	timeFormat  string
	nodeLabels  []string
	output      string
}

func (r *Root) GraphCmd() *serpent.Command {
	var (
		input  = new(inputOptions)
		pruner = new(pruneOptions)
		opts   graphOptions
	)
	cmd := &serpent.Command{
		Use:        "graph [file]",
		Short:      "Render a profile as a dot call graph.",
		Middleware: serpent.RequireRangeArgs(0, 1),
		Options: serpent.OptionSet{
			{
				Name:          "colormap",
				Description:   "Color theme.",
				Flag:          "colormap",
				FlagShorthand: "c",
				Default:       dot.DefaultTheme,
				Value:         serpent.EnumOf(&opts.colormap, dot.ThemeNames()...),
				Group:         GroupRender,
			},
			{
				Name:        "skew",
				Description: "Skew the colorization curve. Values below 1.0 give more variety to lower percentages.",
				Flag:        "skew",
				Default:     "1.0",
				Value:       serpent.Float64Of(&opts.skew),
				Group:       GroupRender,
			},
			{
				Name:          "strip",
				Description:   "Strip function parameters, template parameters and const modifiers from names.",
				Flag:          "strip",
				FlagShorthand: "s",
				Value:         serpent.BoolOf(&opts.strip),
				Group:         GroupRender,
			},
			{
				Name:          "wrap",
				Description:   "Wrap function names.",
				Flag:          "wrap",
				FlagShorthand: "w",
				Value:         serpent.BoolOf(&opts.wrap),
				Group:         GroupRender,
			},
			{
				Name:        "show-samples",
				Description: "Show the function sample counts in node labels.",
				Flag:        "show-samples",
				Value:       serpent.BoolOf(&opts.showSamples),
				Group:       GroupRender,
			},
			{
				Name:        "time-format",
				Description: "Format applied to times.",
				Flag:        "time-format",
				Default:     measure.DefaultFormatter.TimeFormat,
				Value:       serpent.StringOf(&opts.timeFormat),
				Group:       GroupRender,
			},
			{
				Name:        "node-label",
				Description: "Measurements shown on nodes, one of " + strings.Join(measure.LabelNames(), ", ") + ". Defaults to " + strings.Join(measure.DefaultLabels, ", ") + ".",
				Flag:        "node-label",
				Value:       serpent.StringArrayOf(&opts.nodeLabels),
				Group:       GroupRender,
			},
			{
				Name:          "output",
				Description:   "Write the graph to this file instead of stdout.",
				Flag:          "output",
				FlagShorthand: "o",
				Value:         serpent.StringOf(&opts.output),
			},
		},
		Handler: func(i *serpent.Invocation) error {
			logger := r.Logger(i)

			p, err := input.load(i, logger)
			if err != nil {
				return err
			}

			p.Dump()
			if err := pruner.prune(p); err != nil {
				return err
			}

			dotOpts, err := opts.dotOptions()
			if err != nil {
				return err
			}

			var out io.Writer = i.Stdout
			if opts.output != "" {
				file, err := os.Create(opts.output)
				if err != nil {
					return fmt.Errorf("create output: %w", err)
				}
				defer file.Close()
				out = file
			}

			if err := dot.NewWriter(dotOpts, logger).Write(out, p); err != nil {
				return err
			}
			logger.Debug().Int("functions", p.Len()).Msg("graph written")
			return nil
		},
	}

	input.Attach(cmd)
	pruner.Attach(cmd)
	return cmd
}

func (o graphOptions) dotOptions() (dot.Options, error) {
	theme, err := dot.LookupTheme(o.colormap, o.skew)
	if err != nil {
		return dot.Options{}, err
	}

	labels := o.nodeLabels
	if len(labels) == 0 {
		labels = measure.DefaultLabels
	}
	kinds, err := measure.ParseLabels(labels)
	if err != nil {
		return dot.Options{}, err
	}
	if o.showSamples {
		kinds = append(kinds, measure.Samples)
	}

	opts := dot.DefaultOptions()
	opts.Theme = theme
	opts.Strip = o.strip
	opts.Wrap = o.wrap
	opts.NodeKinds = kinds
	opts.Formatter = measure.Formatter{TimeFormat: o.timeFormat}
	return opts, nil
}
