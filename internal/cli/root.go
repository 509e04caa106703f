// Package cli implements the modwatch command line.
package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/ibeckermayer/modwatch/internal/app"
	"github.com/ibeckermayer/modwatch/internal/config"
	"github.com/ibeckermayer/modwatch/internal/logging"
)

// env carries global flags and the state PersistentPreRunE prepares.
type env struct {
	configPath string
	verbose    bool
	version    string

	// logOut receives log output; nil means stderr
	logOut io.Writer

	cfg    *config.Config
	logger *slog.Logger
}

// Execute runs the root command
func Execute(version string) error {
	return NewRootCommand(version).Execute()
}

// NewRootCommand builds the command tree
func NewRootCommand(version string) *cobra.Command {
	return newRootCommand(&env{version: version})
}

func newRootCommand(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "modwatch",
		Short: "Monitor comment moderation on social media content",
		Long: `modwatch submits posts and channels to a scraping and classification
service, follows the job until it finishes and summarises how many
comments were labeled as hate, per platform.

Example usage:
  modwatch scrape --days 7 https://www.youtube.com/watch?v=abc
  modwatch scrape --channel https://www.youtube.com/@somechannel
  modwatch dashboard
  modwatch results --platform youtube
  modwatch report --open`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return e.init()
		},
	}

	cmd.PersistentFlags().StringVar(&e.configPath, "config", "", "config file (default is the user config dir)")
	cmd.PersistentFlags().BoolVarP(&e.verbose, "verbose", "v", false, "verbose output")

	cmd.AddCommand(
		newScrapeCommand(e),
		newWatchCommand(e),
		newStatusCommand(e),
		newDashboardCommand(e),
		newResultsCommand(e),
		newTasksCommand(e),
		newExportCommand(e),
		newReportCommand(e),
		newServeCommand(e),
		newOpenCommand(e),
		newVersionCommand(e),
	)

	return cmd
}

// init loads configuration and sets up logging
func (e *env) init() error {
	cfg, err := e.loadConfig()
	if err != nil {
		return err
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	e.cfg = cfg

	level := cfg.Log.Level
	if e.verbose {
		level = "debug"
	}
	out := e.logOut
	if out == nil {
		out = os.Stderr
	}
	e.logger = logging.New(level, out)
	slog.SetDefault(e.logger)

	e.logger.Debug("configuration loaded", "service", cfg.Service.BaseURL, "archive", cfg.Archive.Enabled)
	return nil
}

func (e *env) loadConfig() (*config.Config, error) {
	if e.configPath != "" {
		cfg, err := config.LoadFrom(e.configPath)
		if err != nil {
			return nil, fmt.Errorf("loading config: %w", err)
		}
		return cfg, nil
	}

	cfg, err := config.Load()
	if err == nil {
		return cfg, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	// First run - create default config
	cfg = config.Default()
	if err := cfg.Save(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not save default config: %v\n", err)
	} else if path, err := config.ConfigPath(); err == nil {
		fmt.Fprintf(os.Stderr, "Created default config at: %s\n", path)
	}
	return cfg, nil
}

// newApp creates the session object for a command
func (e *env) newApp() (*app.App, error) {
	return app.New(e.cfg, app.WithLogger(e.logger))
}
