package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ibeckermayer/modwatch/internal/app"
	"github.com/ibeckermayer/modwatch/internal/monitor"
	"github.com/ibeckermayer/modwatch/internal/remote"
	"github.com/ibeckermayer/modwatch/internal/types"
)

// progressInterval is how often a waiting command prints progress
var progressInterval = 500 * time.Millisecond

func newScrapeCommand(e *env) *cobra.Command {
	var (
		days    int
		channel bool
		noWait  bool
	)

	cmd := &cobra.Command{
		Use:   "scrape URL...",
		Short: "Submit posts or a channel for scraping and classification",
		Long: `Submit one or more post URLs, or a YouTube channel with --channel, and
follow the job until it completes. Press Ctrl-C to stop following; the job
keeps running on the service and can be resumed with "modwatch watch".`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := e.newApp()
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			spec := monitor.JobSpec{Kind: remote.KindPosts, URLs: args, Days: days}
			if channel {
				spec.Kind = remote.KindChannel
			}

			taskID, err := a.StartScrape(cmd.Context(), spec)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Task %s submitted\n", taskID)
			if noWait {
				a.Cancel()
				return nil
			}

			return followTask(cmd, a)
		},
	}

	cmd.Flags().IntVar(&days, "days", 0, "only scrape content from the last N days (default from config)")
	cmd.Flags().BoolVar(&channel, "channel", false, "treat the URL as a YouTube channel")
	cmd.Flags().BoolVar(&noWait, "no-wait", false, "print the task id and exit without polling")

	return cmd
}

func newWatchCommand(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "watch TASK_ID",
		Short: "Follow a previously submitted task until it finishes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := e.newApp()
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			if err := a.Watch(cmd.Context(), args[0]); err != nil {
				return err
			}
			return followTask(cmd, a)
		},
	}
}

func newStatusCommand(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "status TASK_ID",
		Short: "Show the service's current status for a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := remote.New(e.cfg.Service.BaseURL, remote.WithTimeout(e.cfg.RequestTimeout()))
			e.logger.Debug("checking task status", "task_id", args[0], "service", client.BaseURL())
			resp, err := client.Status(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Task:    %s\n", resp.TaskID)
			fmt.Fprintf(w, "Status:  %s\n", resp.Status)
			fmt.Fprintf(w, "Results: %d items\n", len(resp.Results))
			if resp.Error != "" {
				fmt.Fprintf(w, "Error:   %s\n", resp.Error)
			}
			for _, line := range resp.Progress {
				fmt.Fprintf(w, "  %s\n", line)
			}
			return nil
		},
	}
}

// followTask waits for the current task while printing progress, then renders
// the dashboard. Ctrl-C stops polling without touching the remote task.
func followTask(cmd *cobra.Command, a *app.App) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	task, err := waitWithProgress(ctx, a, cmd.ErrOrStderr())
	if ctx.Err() != nil && cmd.Context().Err() == nil {
		a.Cancel()
		fmt.Fprintf(cmd.OutOrStdout(), "Stopped following task %s\n", task.TaskID)
		return nil
	}

	var failure *monitor.RemoteFailure
	if errors.As(err, &failure) {
		fmt.Fprintf(cmd.OutOrStdout(), "Task %s failed: %s\n", failure.TaskID, failure.Message)
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Task %s %s\n\n", task.TaskID, task.Phase)
	renderDashboard(cmd.OutOrStdout(), a.Dashboard())
	return nil
}

func waitWithProgress(ctx context.Context, a *app.App, w io.Writer) (types.TaskState, error) {
	g, gctx := errgroup.WithContext(ctx)
	done := make(chan struct{})

	var task types.TaskState
	g.Go(func() error {
		defer close(done)
		var err error
		task, err = a.Wait(gctx)
		return err
	})
	g.Go(func() error {
		ticker := time.NewTicker(progressInterval)
		defer ticker.Stop()

		last := ""
		for {
			select {
			case <-done:
				return nil
			case <-gctx.Done():
				return nil
			case <-ticker.C:
			}
			if line := progressLine(a.Dashboard()); line != last {
				fmt.Fprintln(w, line)
				last = line
			}
		}
	})

	err := g.Wait()
	return task, err
}

func progressLine(d app.Dashboard) string {
	line := fmt.Sprintf("[%s] %s: %d items, %d comments, %d hate",
		d.State, d.Task.Phase, d.Summary.TotalItems, d.Summary.TotalComments, d.Summary.HateCount)
	if n := len(d.Task.Progress); n > 0 {
		line += " - " + strings.TrimSpace(d.Task.Progress[n-1])
	}
	return line
}
