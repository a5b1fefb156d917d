package cmd

import (
	"fmt"

	"github.com/coder/serpent"

	"github.com/Emyrk/profgraph/profile"
)

var GroupPrune = &serpent.Group{
	Name:        "Pruning",
	YAML:        "prune",
	Description: "Options that remove functions and calls from the graph.",
}

// pruneOptions are shared by the commands that print a pruned graph.
type pruneOptions struct {
	nodeThres       float64
	edgeThres       float64
	paths           []string
	colorBySelfTime bool
	root            string
	leaf            string
	depth           int64
}

func (o *pruneOptions) Attach(cmd *serpent.Command) {
	cmd.Options = append(cmd.Options, serpent.OptionSet{
		{
			Name:          "node-thres",
			Description:   "Eliminate nodes below this threshold, in percent.",
			Flag:          "node-thres",
			FlagShorthand: "n",
			Default:       "0.5",
			Value:         serpent.Float64Of(&o.nodeThres),
			Group:         GroupPrune,
		},
		{
			Name:          "edge-thres",
			Description:   "Eliminate edges below this threshold, in percent.",
			Flag:          "edge-thres",
			FlagShorthand: "e",
			Default:       "0.1",
			Value:         serpent.Float64Of(&o.edgeThres),
			Group:         GroupPrune,
		},
		{
			Name:        "path",
			Description: "Only keep functions whose file starts with, or whose module contains, one of these.",
			Flag:        "path",
			Value:       serpent.StringArrayOf(&o.paths),
			Group:       GroupPrune,
		},
		{
			Name:          "root",
			Description:   "Prune the graph to the functions reachable from functions matching this glob.",
			Flag:          "root",
			FlagShorthand: "z",
			Value:         serpent.StringOf(&o.root),
			Group:         GroupPrune,
		},
		{
			Name:          "leaf",
			Description:   "Prune the graph to the functions that reach functions matching this glob.",
			Flag:          "leaf",
			FlagShorthand: "l",
			Value:         serpent.StringOf(&o.leaf),
			Group:         GroupPrune,
		},
		{
			Name:        "depth",
			Description: "Maximum number of calls followed from --root or towards --leaf. Negative is unbounded.",
			Flag:        "depth",
			Default:     "-1",
			Value:       serpent.Int64Of(&o.depth),
			Group:       GroupPrune,
		},
		{
			Name:        "color-nodes-by-selftime",
			Description: "Color nodes by self time instead of total time.",
			Flag:        "color-nodes-by-selftime",
			Value:       serpent.BoolOf(&o.colorBySelfTime),
			Group:       GroupPrune,
		},
	}...)
}

// prune applies the thresholds, then narrows the graph to --root and --leaf.
func (o *pruneOptions) prune(p *profile.Profile) error {
	p.Prune(profile.PruneOptions{
		NodeThreshold:        o.nodeThres / 100,
		EdgeThreshold:        o.edgeThres / 100,
		Paths:                o.paths,
		ColorNodesBySelfTime: o.colorBySelfTime,
	})

	if o.root != "" {
		ids, err := p.Select(o.root)
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			return fmt.Errorf("root node %q not found (might already be pruned, try --edge-thres=0 --node-thres=0)", o.root)
		}
		p.PruneToRoots(ids, int(o.depth))
	}

	if o.leaf != "" {
		ids, err := p.Select(o.leaf)
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			return fmt.Errorf("leaf node %q not found (might already be pruned, try --edge-thres=0 --node-thres=0)", o.leaf)
		}
		p.PruneToLeaves(ids, int(o.depth))
	}
	return nil
}
