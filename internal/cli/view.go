package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ibeckermayer/modwatch/internal/app"
	"github.com/ibeckermayer/modwatch/internal/platform"
	"github.com/ibeckermayer/modwatch/internal/stats"
)

var errNoData = errors.New("no results yet: run \"modwatch scrape\" first")

// loadSession creates an App and fills it from the service or the archive.
func (e *env) loadSession(ctx context.Context) (*app.App, error) {
	a, err := e.newApp()
	if err != nil {
		return nil, err
	}

	src, err := a.Bootstrap(ctx)
	if err == nil && src == app.SourceNone {
		err = errNoData
	}
	if err != nil {
		a.Close(context.Background())
		return nil, err
	}

	e.logger.Debug("loaded results", "source", src, "task_id", a.Monitor().Task().TaskID)
	return a, nil
}

func newDashboardCommand(e *env) *cobra.Command {
	var cached bool

	cmd := &cobra.Command{
		Use:   "dashboard",
		Short: "Show moderation totals and the per-platform breakdown",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cached {
				a, err := e.newApp()
				if err != nil {
					return err
				}
				defer a.Close(context.Background())

				d, path, err := a.CachedDashboard()
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Cached %s from %s\n", d.UpdatedAt.Local().Format("2006-01-02 15:04"), path)
				renderDashboard(cmd.OutOrStdout(), d)
				return nil
			}

			a, err := e.loadSession(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			renderDashboard(cmd.OutOrStdout(), a.Dashboard())
			return nil
		},
	}

	cmd.Flags().BoolVar(&cached, "cached", false, "show the dashboard saved after the last completed task")
	return cmd
}

func newResultsCommand(e *env) *cobra.Command {
	var (
		platformName string
		flagged      bool
		limit        int
	)

	cmd := &cobra.Command{
		Use:   "results",
		Short: "List scraped content with per-item comment counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tag, err := parsePlatform(e, platformName)
			if err != nil {
				return err
			}

			a, err := e.loadSession(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			if flagged {
				if limit == 0 {
					limit = e.cfg.Moderation.MaxFlagged
				}
				renderFlagged(cmd.OutOrStdout(), filterFlagged(a.Flagged(0), tag, limit))
				return nil
			}

			renderItems(cmd.OutOrStdout(), a.ItemStats(tag))
			return nil
		},
	}

	cmd.Flags().StringVar(&platformName, "platform", "", "only show one platform (linkedin, youtube, instagram, facebook)")
	cmd.Flags().BoolVar(&flagged, "flagged", false, "list hate-labeled comments instead of items")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum flagged comments to list (default from config)")
	return cmd
}

func filterFlagged(flagged []stats.FlaggedComment, tag platform.Tag, limit int) []stats.FlaggedComment {
	var out []stats.FlaggedComment
	for _, f := range flagged {
		if tag != "" && f.Platform != tag {
			continue
		}
		out = append(out, f)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// parsePlatform accepts a catalog tag or display name, case-insensitively.
func parsePlatform(e *env, name string) (platform.Tag, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", nil
	}
	for _, entry := range e.cfg.Catalog() {
		if strings.EqualFold(string(entry.Tag), name) || strings.EqualFold(entry.Name, name) {
			return entry.Tag, nil
		}
	}
	return "", fmt.Errorf("unknown platform %q", name)
}

func newTasksCommand(e *env) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "List archived tasks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := e.newApp()
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			records, err := a.Tasks(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(records) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No archived tasks")
				return nil
			}
			renderTasks(cmd.OutOrStdout(), records)
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum tasks to list")
	return cmd
}
