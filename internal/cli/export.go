package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/browser"
	"github.com/spf13/cobra"

	"github.com/ibeckermayer/modwatch/internal/config"
)

func newExportCommand(e *env) *cobra.Command {
	var (
		out  string
		open bool
	)

	cmd := &cobra.Command{
		Use:   "export [TASK_ID]",
		Short: "Download the CSV export of a completed task",
		Long: `Download the CSV export of a task from the service. Without TASK_ID the
most recent completed results are exported.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := e.newApp()
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			taskID := ""
			if len(args) == 1 {
				taskID = args[0]
			} else if _, err := a.Bootstrap(cmd.Context()); err != nil {
				return err
			}

			if out == "" {
				id := taskID
				if id == "" {
					id = a.Monitor().Task().TaskID
				}
				out = fmt.Sprintf("%s_results.csv", id)
			}

			n, err := a.Export(cmd.Context(), taskID, out)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d bytes to %s\n", n, out)

			if open {
				return browser.OpenFile(out)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (default <task>_results.csv)")
	cmd.Flags().BoolVar(&open, "open", false, "open the file when done")
	return cmd
}

func newReportCommand(e *env) *cobra.Command {
	var (
		out  string
		open bool
		send bool
	)

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Render a moderation report for the latest results",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := e.loadSession(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			r, err := a.BuildReport()
			if err != nil {
				return err
			}

			if out == "" {
				dir, err := config.CacheDir()
				if err != nil {
					return err
				}
				out = filepath.Join(dir, "reports", "report-"+time.Now().Format("2006-01-02T15-04-05")+".html")
			}
			if err := os.MkdirAll(filepath.Dir(out), 0755); err != nil {
				return fmt.Errorf("failed to create report dir: %w", err)
			}
			if err := os.WriteFile(out, []byte(r.HTMLBody), 0644); err != nil {
				return fmt.Errorf("failed to write report: %w", err)
			}

			w := cmd.OutOrStdout()
			fmt.Fprint(w, r.PlainBody)
			fmt.Fprintf(w, "\nReport saved to: %s\n", out)

			if send {
				if err := a.SendReport(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintf(w, "Report sent to %s\n", e.cfg.Email.ToAddr)
			}
			if open {
				return browser.OpenFile(out)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&out, "out", "o", "", "HTML output file (default in the cache dir)")
	cmd.Flags().BoolVar(&open, "open", false, "open the report in a browser")
	cmd.Flags().BoolVar(&send, "send", false, "also email the report")
	return cmd
}
