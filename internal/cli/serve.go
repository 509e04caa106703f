package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ibeckermayer/modwatch/internal/app"
	"github.com/ibeckermayer/modwatch/internal/config"
	"github.com/ibeckermayer/modwatch/internal/scheduler"
)

func newServeCommand(e *env) *cobra.Command {
	var reportNow bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Keep the dashboard fresh and send the daily report",
		Long: `Load the latest results, then refresh them every dashboard.refresh_minutes
and, when email is enabled, send a report daily at dashboard.report_time.
SIGHUP reloads the config file and reschedules both jobs. Runs until
interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := e.newApp()
			if err != nil {
				return err
			}

			src, err := a.Bootstrap(cmd.Context())
			if err != nil {
				e.logger.Warn("initial load failed", "error", err)
			} else {
				e.logger.Info("initial load", "source", src)
			}

			sched, err := newScheduler(e, a)
			if err != nil {
				a.Close(context.Background())
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if reportNow {
				if err := sched.RunNow(scheduler.JobReport, a.SendReport); err != nil {
					e.logger.Warn("report failed", "error", err)
				}
			}

			sched.Start()
			for _, job := range sched.ListJobs() {
				fmt.Fprintf(cmd.OutOrStdout(), "%-8s next run %s\n", job.Name, job.NextRun.Local().Format("2006-01-02 15:04"))
			}

			hup := make(chan os.Signal, 1)
			signal.Notify(hup, syscall.SIGHUP)
			defer signal.Stop(hup)

		loop:
			for {
				select {
				case <-ctx.Done():
					break loop
				case <-hup:
					if err := reloadServe(e, sched, a); err != nil {
						e.logger.Error("config reload failed, keeping current settings", "error", err)
					}
				}
			}
			e.logger.Info("shutting down")

			<-sched.Stop().Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return a.Close(shutdownCtx)
		},
	}

	cmd.Flags().BoolVar(&reportNow, "report-now", false, "send the report once before starting the schedule")
	return cmd
}

func newScheduler(e *env, a *app.App) (*scheduler.Scheduler, error) {
	sched, err := scheduler.New(e.cfg.Dashboard.Timezone, e.logger)
	if err != nil {
		return nil, err
	}
	if err := scheduleJobs(sched, e.cfg, a); err != nil {
		return nil, err
	}
	return sched, nil
}

// scheduleJobs (re)registers the refresh and report jobs for cfg.
func scheduleJobs(sched *scheduler.Scheduler, cfg *config.Config, a *app.App) error {
	sched.RemoveJob(scheduler.JobRefresh)
	sched.RemoveJob(scheduler.JobReport)

	if err := sched.AddRefreshJob(cfg.Dashboard.RefreshMinutes, a.Refresh); err != nil {
		return err
	}

	if cfg.Email.Enabled && cfg.Dashboard.ReportTime != "" {
		err := sched.AddReportJob(cfg.Dashboard.ReportTime, func(ctx context.Context) error {
			err := a.SendReport(ctx)
			if errors.Is(err, app.ErrEmailDisabled) {
				return nil
			}
			return err
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// reloadServe applies the config file to the running app and its schedule.
// The scheduler keeps the timezone it was started with.
func reloadServe(e *env, sched *scheduler.Scheduler, a *app.App) error {
	if err := a.ReloadConfig(e.configPath); err != nil {
		return err
	}
	e.cfg = a.Config()
	return scheduleJobs(sched, e.cfg, a)
}
