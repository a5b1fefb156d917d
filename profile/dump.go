package profile

import (
	"github.com/rs/zerolog"

	"github.com/Emyrk/profgraph/profile/measure"
)

// Dump logs the whole graph at debug level.
func (p *Profile) Dump() {
	if p.logger.GetLevel() > zerolog.DebugLevel {
		return
	}
	for _, f := range p.Functions() {
		p.logger.Debug().
			Str("function", f.Name).
			Dict("events", eventsDict(&f.Values)).
			Msg("function")
		for _, call := range f.Calls() {
			callee, ok := p.functions[call.CalleeID]
			name := string(call.CalleeID)
			if ok {
				name = callee.Name
			}
			p.logger.Debug().
				Str("function", f.Name).
				Str("callee", name).
				Dict("events", eventsDict(&call.Values)).
				Msg("call")
		}
	}
	for _, c := range p.cycles {
		names := make([]string, 0, c.Len())
		for _, id := range c.members {
			if f, ok := p.functions[id]; ok {
				names = append(names, f.Name)
			}
		}
		p.logger.Debug().
			Int("cycle", int(c.ID)).
			Strs("functions", names).
			Dict("events", eventsDict(&c.Values)).
			Msg("cycle")
	}
}

func eventsDict(v *measure.Values) *zerolog.Event {
	d := zerolog.Dict()
	for _, k := range v.Defined() {
		val, _ := v.Get(k)
		d = d.Str(k.Key(), k.Format(val))
	}
	return d
}
