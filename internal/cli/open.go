package cli

import (
	"fmt"
	"os"

	"github.com/pkg/browser"
	"github.com/spf13/cobra"

	"github.com/ibeckermayer/modwatch/internal/config"
)

func newOpenCommand(e *env) *cobra.Command {
	return &cobra.Command{
		Use:       "open config|cache",
		Short:     "Open the config file or cache directory",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"config", "cache"},
		RunE: func(cmd *cobra.Command, args []string) error {
			var path string
			var err error

			switch args[0] {
			case "config":
				path = e.configPath
				if path == "" {
					path, err = config.ConfigPath()
				}
			case "cache":
				path, err = config.CacheDir()
				if err == nil {
					err = os.MkdirAll(path, 0755)
				}
			}
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Opening %s\n", path)
			return browser.OpenFile(path)
		},
	}
}

func newVersionCommand(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "modwatch %s\n", e.version)
			return nil
		},
	}
}
