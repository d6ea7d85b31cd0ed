package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/rendis/copilot/internal/app"
	"github.com/rendis/copilot/internal/httpapi"
	"github.com/rendis/copilot/internal/logging"
)

const (
	shutdownTimeout = 10 * time.Second
	reloadDebounce  = 250 * time.Millisecond
)

func newServeCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Long: `Serves the HTTP API on http.listen_addr.

The settings file and the docs directory are watched: log_level and
http.metrics changes apply immediately, markdown changes reindex the corpus,
and any other setting change is reported as needing a restart.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.serve(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&c.flags.listen, "listen", "", "listen address (overrides http.listen_addr)")
	return cmd
}

func (c *cli) serve(ctx context.Context) error {
	a, err := c.open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	swapper := newHandlerSwapper(apiHandler(a, c.cfg.HTTP.Metrics))
	srv := &http.Server{
		Addr:              c.cfg.HTTP.ListenAddr,
		Handler:           swapper,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		c.logger.Info("http api listening", "addr", srv.Addr, "metrics", c.cfg.HTTP.Metrics)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		return c.watch(gctx, a, swapper)
	})
	return g.Wait()
}

// apiHandler builds the routed API. Optional collaborators are only set when
// present so that the handlers see a nil interface, not a nil pointer.
func apiHandler(a *app.App, withMetrics bool) http.Handler {
	deps := httpapi.Deps{
		Engine:    a.Engine,
		Validator: a.Validator,
		Graph:     a.Graph,
		Searcher:  a.Index,
		Schema:    a.Warehouse,
		Hub:       a.Hub,
		Logger:    a.Logger,
	}
	if a.Store != nil {
		deps.Runs = a.Store
		deps.Traces = a.Events
	}
	if withMetrics {
		deps.Metrics = a.Metrics
	}
	return httpapi.NewServer(deps).Handler()
}

// watch follows the settings file and the docs directory until ctx ends.
func (c *cli) watch(ctx context.Context, a *app.App, swapper *handlerSwapper) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()

	// Editors replace files on save, so the parent directory is watched.
	settingsDir := filepath.Dir(c.configPath)
	if err := w.Add(settingsDir); err != nil {
		c.logger.Warn("settings directory not watched", "dir", settingsDir, "error", err)
	}
	if err := w.Add(c.cfg.DocsDir); err != nil {
		c.logger.Warn("docs directory not watched", "dir", c.cfg.DocsDir, "error", err)
	}

	var (
		reloadConfig <-chan time.Time
		reindex      <-chan time.Time
	)
	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			switch {
			case filepath.Clean(ev.Name) == filepath.Clean(c.configPath):
				reloadConfig = time.After(reloadDebounce)
			case strings.EqualFold(filepath.Ext(ev.Name), ".md"):
				reindex = time.After(reloadDebounce)
			}

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			c.logger.Warn("watcher error", "error", err)

		case <-reloadConfig:
			reloadConfig = nil
			c.reload(a, swapper)

		case <-reindex:
			reindex = nil
			if err := a.Reindex(ctx); err != nil {
				c.logger.Error("reindex failed", "error", err)
			}
		}
	}
}

// reload re-reads the settings file and applies what can change live.
func (c *cli) reload(a *app.App, swapper *handlerSwapper) {
	next, err := loadConfig(c.configPath)
	if err != nil {
		c.logger.Error("config reload failed", "error", err)
		return
	}
	c.applyFlags(&next)
	if err := next.Validate(); err != nil {
		c.logger.Error("reloaded config is invalid, keeping current", "error", err)
		return
	}

	d := diffConfigs(c.cfg, next)
	if d.LogLevelChanged {
		c.level.Set(logging.ParseLevel(next.LogLevel))
		c.logger.Info("log level changed", "level", next.LogLevel)
		c.cfg.LogLevel = next.LogLevel
	}
	if d.MetricsChanged {
		swapper.Swap(apiHandler(a, next.HTTP.Metrics))
		c.logger.Info("metrics route toggled", "enabled", next.HTTP.Metrics)
		c.cfg.HTTP.Metrics = next.HTTP.Metrics
	}
	if len(d.RestartNeeded) > 0 {
		c.logger.Warn("config changes need a restart", slog.Any("fields", d.RestartNeeded))
	}
}
