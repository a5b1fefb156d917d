package watch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/Emyrk/profgraph/profile"
	"github.com/Emyrk/profgraph/profile/formats"
	"github.com/Emyrk/profgraph/watch/auth"
	"github.com/Emyrk/profgraph/watch/graphcollector"
)

var _ prometheus.Collector = (*Watcher)(nil)

const (
	// Namespace prefixes every exported metric.
	Namespace = "profgraph"

	DefaultNodeThreshold = 0.5
	DefaultEdgeThreshold = 0.1
)

// ProfileTarget is a profile file, or a url serving one, that is re-read on
// an interval.
type ProfileTarget struct {
	Name   string `yaml:"name"`
	Path   string `yaml:"path"`
	URL    string `yaml:"url"`
	Format string `yaml:"format"`
	// Credentials for URL.
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Token    string `yaml:"token"`

	// Total is the method used for inclusive times, see profile.TotalMethod.
	Total string `yaml:"total"`
	// Thresholds are percentages. Nil uses the defaults.
	NodeThreshold *float64          `yaml:"node_threshold"`
	EdgeThreshold *float64          `yaml:"edge_threshold"`
	Interval      time.Duration     `yaml:"interval"`
	ConstLabels   prometheus.Labels `yaml:"constant_labels"`
}

// Watcher re-ingests a single profile and exposes its graph as metrics.
type Watcher struct {
	Name string
	Path string
	URL  *url.URL

	auth auth.Method
	cli  *http.Client

	format   formats.Format
	total    profile.TotalMethod
	prune    profile.PruneOptions
	interval time.Duration

	logger    zerolog.Logger
	reg       *prometheus.Registry
	collector *graphcollector.Collector
	scrapes   *prometheus.CounterVec

	// Identity of the last ingested file, to skip unchanged files.
	modTime time.Time
	size    int64
	etag    string

	// For backing off rate limits
	rateLimitUntil time.Time
}

// ScrapeResult is the outcome of a single scrape.
type ScrapeResult string

const (
	ScrapeUpdated   ScrapeResult = "updated"
	ScrapeUnchanged ScrapeResult = "unchanged"
	ScrapeFailed    ScrapeResult = "failed"
	// ScrapeRateLimited means the profile server asked us to back off.
	ScrapeRateLimited ScrapeResult = "rate_limited"
)

func threshold(v *float64, def float64) (float64, error) {
	if v == nil {
		return def / 100, nil
	}
	if *v < 0 || *v > 100 {
		return 0, fmt.Errorf("threshold %v outside [0, 100]", *v)
	}
	return *v / 100, nil
}

func New(opts ProfileTarget, logger zerolog.Logger) (*Watcher, error) {
	if opts.Name == "" {
		return nil, fmt.Errorf("missing name field for profile")
	}

	if (opts.Path == "") == (opts.URL == "") {
		return nil, fmt.Errorf("profile %q needs exactly one of the path and url fields", opts.Name)
	}

	var u *url.URL
	if opts.URL != "" {
		var err error
		u, err = url.Parse(opts.URL)
		if err != nil {
			return nil, fmt.Errorf("profile %q url: %w", opts.Name, err)
		}
	}

	authMethod, err := auth.FromOptions(opts.Username, opts.Password, opts.Token)
	if err != nil {
		return nil, fmt.Errorf("profile %q: %w", opts.Name, err)
	}

	if opts.Format == "" {
		opts.Format = formats.Default
	}
	format, err := formats.Lookup(opts.Format)
	if err != nil {
		return nil, fmt.Errorf("profile %q: %w", opts.Name, err)
	}

	total, err := profile.ParseTotalMethod(opts.Total)
	if err != nil {
		return nil, fmt.Errorf("profile %q: %w", opts.Name, err)
	}

	nodeThres, err := threshold(opts.NodeThreshold, DefaultNodeThreshold)
	if err != nil {
		return nil, fmt.Errorf("profile %q node threshold: %w", opts.Name, err)
	}
	edgeThres, err := threshold(opts.EdgeThreshold, DefaultEdgeThreshold)
	if err != nil {
		return nil, fmt.Errorf("profile %q edge threshold: %w", opts.Name, err)
	}

	if opts.Interval == 0 {
		opts.Interval = time.Minute
	}

	constantLabels := prometheus.Labels{
		"profile": opts.Name,
	}
	for k, v := range opts.ConstLabels {
		constantLabels[k] = v
	}

	source := opts.Path
	if u != nil {
		source = u.Redacted()
	}
	logger = logger.With().
		Str("profile", opts.Name).
		Str("source", source).
		Logger()

	reg := prometheus.NewRegistry()
	collector := graphcollector.New(logger, Namespace, constantLabels)
	if err := reg.Register(collector); err != nil {
		return nil, fmt.Errorf("register collector profile=%q: %w", opts.Name, err)
	}

	scrapes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   Namespace,
		Subsystem:   "watcher",
		Name:        "scrapes_total",
		Help:        "Profile scrapes by result.",
		ConstLabels: constantLabels,
	}, []string{"result"})
	if err := reg.Register(scrapes); err != nil {
		return nil, fmt.Errorf("register scrapes profile=%q: %w", opts.Name, err)
	}

	return &Watcher{
		Name:   opts.Name,
		Path:   opts.Path,
		URL:    u,
		auth:   authMethod,
		cli:    http.DefaultClient,
		format: format,
		total:  total,
		prune: profile.PruneOptions{
			NodeThreshold: nodeThres,
			EdgeThreshold: edgeThres,
		},
		interval:  opts.Interval,
		logger:    logger,
		reg:       reg,
		collector: collector,
		scrapes:   scrapes,
	}, nil
}

func (w *Watcher) Describe(descs chan<- *prometheus.Desc) {
	w.reg.Describe(descs)
}

func (w *Watcher) Collect(metrics chan<- prometheus.Metric) {
	w.reg.Collect(metrics)
}

// Watch scrapes the profile until ctx is done.
func (w *Watcher) Watch(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		result, count, err := w.Scrape(ctx)
		if err != nil {
			w.logger.Error().Err(err).Msg("failed to scrape profile")
		} else {
			w.logger.Info().
				Str("result", string(result)).
				Int("function_count", count).
				Msg("scrape profile complete")
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil
		}
	}
}

// Scrape ingests the profile file if it changed since the last scrape. It
// returns the number of functions exposed.
func (w *Watcher) Scrape(ctx context.Context) (ScrapeResult, int, error) {
	result, count, err := w.scrape(ctx)
	w.scrapes.WithLabelValues(string(result)).Inc()
	return result, count, err
}

func (w *Watcher) scrape(ctx context.Context) (ScrapeResult, int, error) {
	if err := ctx.Err(); err != nil {
		return ScrapeFailed, 0, err
	}
	if w.URL != nil {
		return w.scrapeURL(ctx)
	}

	info, err := os.Stat(w.Path)
	if err != nil {
		return ScrapeFailed, 0, fmt.Errorf("stat profile: %w", err)
	}
	if info.ModTime().Equal(w.modTime) && info.Size() == w.size {
		return ScrapeUnchanged, 0, nil
	}

	file, err := os.Open(w.Path)
	if err != nil {
		return ScrapeFailed, 0, fmt.Errorf("open profile: %w", err)
	}
	defer file.Close()

	count, err := w.load(file)
	if err != nil {
		return ScrapeFailed, 0, err
	}
	w.modTime = info.ModTime()
	w.size = info.Size()
	return ScrapeUpdated, count, nil
}

func (w *Watcher) scrapeURL(ctx context.Context) (ScrapeResult, int, error) {
	body, etag, err := w.fetch(ctx)
	switch {
	case errors.Is(err, errNotModified):
		return ScrapeUnchanged, 0, nil
	case errors.Is(err, ErrRateLimited):
		return ScrapeRateLimited, 0, err
	case err != nil:
		return ScrapeFailed, 0, fmt.Errorf("fetch profile: %w", err)
	}
	defer body.Close()

	count, err := w.load(body)
	if err != nil {
		return ScrapeFailed, 0, err
	}
	w.etag = etag
	return ScrapeUpdated, count, nil
}

// load derives and prunes the profile in r and exposes it.
func (w *Watcher) load(r io.Reader) (int, error) {
	p, err := formats.Load(w.format.Name, r, formats.Options{
		Total:  w.total,
		Logger: w.logger,
	})
	if err != nil {
		return 0, fmt.Errorf("load profile: %w", err)
	}
	p.Prune(w.prune)
	return w.collector.SetProfile(p), nil
}
