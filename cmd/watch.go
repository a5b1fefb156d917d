package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/coder/serpent"

	"github.com/Emyrk/profgraph/watch"
)

type WatchConfig struct {
	Profiles []watch.ProfileTarget `yaml:"profiles"`
}

func (r *Root) WatchCmd() *serpent.Command {
	var (
		configPath string
		listen     string
	)
	return &serpent.Command{
		Use:   "watch",
		Short: "Re-read profile files on an interval and export their graphs as prometheus metrics.",
		Options: serpent.OptionSet{
			serpent.Option{
				Name:          "config",
				Description:   "YAML config file to use.",
				Required:      false,
				Flag:          "config",
				FlagShorthand: "c",
				Env:           "PROFGRAPH_CONFIG",
				Default:       "watch.yaml",
				Value:         serpent.StringOf(&configPath),
			},
			serpent.Option{
				Name:        "listen",
				Description: "Address the metrics endpoint listens on.",
				Flag:        "listen",
				Env:         "PROFGRAPH_LISTEN",
				Default:     ":2112",
				Value:       serpent.StringOf(&listen),
			},
		},
		Handler: func(i *serpent.Invocation) error {
			logger := r.Logger(i)

			yamlData, err := os.ReadFile(configPath)
			if err != nil {
				logger.Error().Err(err).Str("config", configPath).Msg("read config")
				return fmt.Errorf("read config: %w", err)
			}

			var config WatchConfig
			err = yaml.Unmarshal(yamlData, &config)
			if err != nil {
				logger.Error().Err(err).Str("config", configPath).Msg("unmarshal config")
				return fmt.Errorf("unmarshal config: %w", err)
			}
			if len(config.Profiles) == 0 {
				return fmt.Errorf("no profiles configured in %q", configPath)
			}

			watchers := make([]*watch.Watcher, 0, len(config.Profiles))
			for _, target := range config.Profiles {
				watcher, err := watch.New(target, logger.With().Str("service", "watcher").Logger())
				if err != nil {
					logger.Error().Err(err).Str("profile", target.Name).Msg("new watcher")
					return fmt.Errorf("new watcher: %w", err)
				}
				watchers = append(watchers, watcher)
			}

			reg := prometheus.NewRegistry()
			for _, watcher := range watchers {
				err := reg.Register(watcher)
				if err != nil {
					logger.Error().Err(err).Str("profile", watcher.Name).Msg("register watcher")
					return fmt.Errorf("register watcher: %w", err)
				}
			}

			logger.Info().
				Int("num_watchers", len(watchers)).
				Str("listen", listen).
				Msg("watching")

			handler := promhttp.HandlerFor(reg, promhttp.HandlerOpts{
				Registry: reg,
			})
			srv := &http.Server{
				Addr:              listen,
				Handler:           handler,
				ReadHeaderTimeout: 10 * time.Second,
			}

			eg, ctx := errgroup.WithContext(i.Context())
			for _, watcher := range watchers {
				watcher := watcher
				eg.Go(func() error {
					return watcher.Watch(ctx)
				})
			}
			eg.Go(func() error {
				err := srv.ListenAndServe()
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			})
			eg.Go(func() error {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			})
			return eg.Wait()
		},
	}
}
