// Command copilot answers retail analytics questions over the Northwind
// database and the markdown document corpus.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rendis/copilot/internal/app"
	"github.com/rendis/copilot/internal/logging"
)

// cli is the state shared by every subcommand, filled in by the root
// command before any of them runs.
type cli struct {
	configPath string
	flags      flagOverrides
	cmd        *cobra.Command

	cfg    app.Config
	level  *slog.LevelVar
	logger *slog.Logger
}

// flagOverrides are the persistent flags that take precedence over the
// settings file and the environment.
type flagOverrides struct {
	logLevel string
	dbPath   string
	docsDir  string
	store    string
	provider string
	model    string
	baseURL  string
	listen   string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	c := &cli{level: new(slog.LevelVar)}

	root := &cobra.Command{
		Use:           "copilot",
		Short:         "Retail analytics copilot: documents plus SQL, with cited answers",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.setup(cmd)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&c.configPath, "config", settingsPath(), "settings file (YAML or JSON)")
	pf.StringVar(&c.flags.logLevel, "log-level", "", "log level: debug, info, warn, error")
	pf.StringVar(&c.flags.dbPath, "db", "", "retail SQLite database")
	pf.StringVar(&c.flags.docsDir, "docs", "", "markdown corpus directory")
	pf.StringVar(&c.flags.store, "store", "", "run store database (empty disables it)")
	pf.StringVar(&c.flags.provider, "provider", "", "model provider: ollama, openai")
	pf.StringVar(&c.flags.model, "model", "", "model name")
	pf.StringVar(&c.flags.baseURL, "base-url", "", "model server URL")

	root.AddCommand(
		newRunCmd(c),
		newAskCmd(c),
		newServeCmd(c),
		newMCPCmd(c),
		newDiagramCmd(c),
		newSchemaCmd(c),
		newSQLCmd(c),
		newEvalCmd(c),
		newRunsCmd(c),
		newInitCmd(c),
		newVersionCmd(),
	)
	return root
}

// setup resolves the configuration and installs the process logger.
func (c *cli) setup(cmd *cobra.Command) error {
	cfg, err := loadConfig(c.configPath)
	if err != nil {
		return err
	}
	c.cmd = cmd
	c.applyFlags(&cfg)
	c.cfg = cfg

	c.level.Set(logging.ParseLevel(cfg.LogLevel))
	c.logger = slog.New(logging.NewHandler(os.Stderr, c.level))
	slog.SetDefault(c.logger)
	return nil
}

// applyFlags overlays the flags set on the invoked command. Flags a command
// does not define are never reported as changed.
func (c *cli) applyFlags(cfg *app.Config) {
	pf := c.cmd.Flags()
	set := func(name, value string, dst *string) {
		if pf.Changed(name) {
			*dst = value
		}
	}
	set("log-level", c.flags.logLevel, &cfg.LogLevel)
	set("db", c.flags.dbPath, &cfg.DBPath)
	set("docs", c.flags.docsDir, &cfg.DocsDir)
	set("store", c.flags.store, &cfg.StorePath)
	set("provider", c.flags.provider, &cfg.LLM.Provider)
	set("model", c.flags.model, &cfg.LLM.Model)
	set("base-url", c.flags.baseURL, &cfg.LLM.BaseURL)
	set("listen", c.flags.listen, &cfg.HTTP.ListenAddr)
}

// open wires the full application from the resolved configuration.
func (c *cli) open(ctx context.Context) (*app.App, error) {
	return app.New(ctx, c.cfg, c.logger)
}
