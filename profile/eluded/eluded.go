// Package eluded ingests call tree dumps from the screeps "eluded" in-game
// profiler. A dump is a JSON list of ticks; every node of a tick's tree
// carries the cpu milliseconds spent in it, children included.
package eluded

import (
	"encoding/json"
	"fmt"
	"io"
)

// Tick is one node of a profiled call tree. The root node of a dump entry
// covers a whole game tick.
type Tick struct {
	Key       string  `json:"key"`
	Start     float64 `json:"start"`
	CPU       float64 `json:"cpu"`
	Children  []Tick  `json:"children"`
	UnixMilli int64   `json:"um,omitempty"`
}

// CPUNano converts the node's inclusive cpu from milliseconds.
func (t Tick) CPUNano() int64 {
	return int64(t.CPU * 1e6)
}

// SelfCPU is the cpu spent in the node itself, in milliseconds. Rounding in
// the game's clock can leave it slightly negative; it is clamped at zero.
func (t Tick) SelfCPU() float64 {
	self := t.CPU
	for _, child := range t.Children {
		self -= child.CPU
	}
	return max(self, 0)
}

func (t Tick) SelfCostNano() int64 {
	return int64(t.SelfCPU() * 1e6)
}

// Decode reads a dump.
func Decode(r io.Reader) ([]Tick, error) {
	var ticks []Tick
	if err := json.NewDecoder(r).Decode(&ticks); err != nil {
		return nil, fmt.Errorf("decode eluded dump: %w", err)
	}
	return ticks, nil
}
