package graphcollector

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/Emyrk/profgraph/profile"
	"github.com/Emyrk/profgraph/profile/measure"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

var _ prometheus.Collector = (*Collector)(nil)

// functionLabels are the variable labels on every per-function metric.
var functionLabels = []string{"function", "module"}

type functionMetric struct {
	name   string
	module string
	values measure.Values
	called uint64
	// hasCalled is false when the format does not record call counts.
	hasCalled bool
}

type snapshot struct {
	functions []functionMetric
	cycles    int
	calls     int
}

// Collector exposes the functions of the last derived profile graph.
type Collector struct {
	logger      zerolog.Logger
	namespace   string
	constLabels prometheus.Labels

	lastUpdated prometheus.Gauge
	graph       atomic.Pointer[snapshot]
}

// New
// labels are the label constants on all metrics.
func New(logger zerolog.Logger, namespace string, labels prometheus.Labels) *Collector {
	return &Collector{
		logger:      logger,
		namespace:   namespace,
		constLabels: labels,
		lastUpdated: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "watcher",
			Name:        "last_updated_unix_s",
			Help:        "Timestamp in unix seconds of the last profile update.",
			ConstLabels: labels,
		}),
	}
}

func (c *Collector) Describe(descs chan<- *prometheus.Desc) {
	prometheus.DescribeByCollect(c, descs)
}

func (c *Collector) desc(name, help string, variable []string) *prometheus.Desc {
	return prometheus.NewDesc(
		fmt.Sprintf("%s_%s", c.namespace, name),
		help,
		variable,
		c.constLabels,
	)
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	graph := c.graph.Load()
	if graph == nil {
		return
	}

	perKind := map[measure.Kind]*prometheus.Desc{
		measure.TotalTimeRatio: c.desc("function_total_time_ratio", "Inclusive time of the function as a fraction of the profile.", functionLabels),
		measure.TimeRatio:      c.desc("function_self_time_ratio", "Exclusive time of the function as a fraction of the profile.", functionLabels),
		measure.Samples:        c.desc("function_samples", "Exclusive samples of the function.", functionLabels),
		measure.Time:           c.desc("function_self_time", "Exclusive time of the function in profile units.", functionLabels),
	}
	called := c.desc("function_called", "Number of times the function was called.", functionLabels)

	for _, fm := range graph.functions {
		for k, desc := range perKind {
			v, ok := fm.values.Get(k)
			if !ok {
				continue
			}
			c.send(ch, desc, v, fm.name, fm.module)
		}
		if fm.hasCalled {
			c.send(ch, called, float64(fm.called), fm.name, fm.module)
		}
	}

	c.send(ch, c.desc("profile_functions", "Functions kept in the graph after pruning.", nil), float64(len(graph.functions)))
	c.send(ch, c.desc("profile_calls", "Calls kept in the graph after pruning.", nil), float64(graph.calls))
	c.send(ch, c.desc("profile_cycles", "Recursion cycles found in the profile.", nil), float64(graph.cycles))

	ch <- c.lastUpdated
}

func (c *Collector) send(ch chan<- prometheus.Metric, desc *prometheus.Desc, v float64, labelValues ...string) {
	pm, err := prometheus.NewConstMetric(desc, prometheus.GaugeValue, v, labelValues...)
	if err != nil {
		c.logger.Warn().
			Str("metric", desc.String()).
			Strs("labels", labelValues).
			Err(err).
			Msg("failed to create metric")
		return
	}
	ch <- pm
}

// SetProfile replaces the exposed graph with the functions of p. It returns
// the number of functions exposed.
func (c *Collector) SetProfile(p *profile.Profile) int {
	graph := &snapshot{
		cycles: len(p.Cycles()),
	}
	seen := make(map[[2]string]bool, p.Len())
	for _, f := range p.Functions() {
		name := f.Name
		// Distinct ids can share a display name, such as a symbol in two
		// modules with the same base name. Keep the first.
		key := [2]string{name, f.Module}
		if seen[key] {
			c.logger.Debug().Str("function", name).Str("module", f.Module).Msg("duplicate function series")
			continue
		}
		seen[key] = true

		fm := functionMetric{name: name, module: f.Module, values: f.Values}
		fm.called, fm.hasCalled = f.Called()
		graph.functions = append(graph.functions, fm)
		graph.calls += f.NumCalls()
	}

	c.lastUpdated.Set(float64(time.Now().Unix()))
	c.graph.Store(graph)
	return len(graph.functions)
}
