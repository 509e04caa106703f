package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ibeckermayer/modwatch/internal/config"
	"github.com/ibeckermayer/modwatch/internal/logging"
	"github.com/ibeckermayer/modwatch/internal/monitor"
	"github.com/ibeckermayer/modwatch/internal/notifier"
	"github.com/ibeckermayer/modwatch/internal/platform"
	"github.com/ibeckermayer/modwatch/internal/remote"
	"github.com/ibeckermayer/modwatch/internal/report"
	"github.com/ibeckermayer/modwatch/internal/stats"
	"github.com/ibeckermayer/modwatch/internal/store"
	"github.com/ibeckermayer/modwatch/internal/types"
)

var (
	// ErrNoTask is returned when an operation needs a task and none exists
	ErrNoTask = errors.New("no task in this session")
	// ErrNotCompleted is returned when the current task has not completed
	ErrNotCompleted = errors.New("task has not completed")
	// ErrNoArchive is returned when the archive is disabled
	ErrNoArchive = errors.New("archive is disabled")
	// ErrEmailDisabled is returned when a report is sent without email configured
	ErrEmailDisabled = errors.New("email is disabled")
)

// finishTimeout bounds the archive, snapshot and email work done on completion.
const finishTimeout = time.Minute

// Source says where Bootstrap found data
type Source string

const (
	SourceNone    Source = ""
	SourceService Source = "service"
	SourceArchive Source = "archive"
)

// App holds the application state for one session.
type App struct {
	mu sync.RWMutex

	// Immutable after creation.
	monitor   *monitor.Monitor
	archive   *store.Archive
	logger    *slog.Logger
	sessionID string
	cacheDir  string
	httpCl    *http.Client
	sender    notifier.Sender

	// Mutable fields - use getSnapshot() for concurrent access.
	config     *config.Config
	client     *remote.Client
	aggregator *stats.Aggregator
	reports    *report.Builder
	notifier   *notifier.Notifier

	stateMu   sync.Mutex
	lastState monitor.State
}

// snapshot holds fields that may be replaced by ReloadConfig.
// Use getSnapshot() to obtain a consistent, point-in-time copy.
type snapshot struct {
	config     *config.Config
	client     *remote.Client
	aggregator *stats.Aggregator
	reports    *report.Builder
	notifier   *notifier.Notifier
}

// getSnapshot returns a snapshot of mutable fields under read lock.
func (a *App) getSnapshot() snapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return snapshot{
		config:     a.config,
		client:     a.client,
		aggregator: a.aggregator,
		reports:    a.reports,
		notifier:   a.notifier,
	}
}

// Option configures an App
type Option func(*App)

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(a *App) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithCacheDir overrides where snapshots are written
func WithCacheDir(dir string) Option {
	return func(a *App) { a.cacheDir = dir }
}

// WithHTTPClient sets the http.Client used to reach the service
func WithHTTPClient(hc *http.Client) Option {
	return func(a *App) { a.httpCl = hc }
}

// WithSender replaces the configured email transport. Email must still be
// enabled in the config for reports to be sent.
func WithSender(s notifier.Sender) Option {
	return func(a *App) { a.sender = s }
}

// New creates an App from cfg. The archive is opened when enabled.
func New(cfg *config.Config, opts ...Option) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	a := &App{
		logger:    logging.Discard(),
		sessionID: uuid.NewString(),
		lastState: monitor.StateIdle,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.With("session", a.sessionID[:8])

	if a.cacheDir == "" {
		dir, err := config.CacheDir()
		if err != nil {
			return nil, err
		}
		a.cacheDir = dir
	}

	s, err := a.build(cfg)
	if err != nil {
		return nil, err
	}
	a.apply(s)

	if cfg.Archive.Enabled {
		path, err := cfg.ArchivePath()
		if err != nil {
			return nil, err
		}
		archive, err := store.OpenArchive(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open archive: %w", err)
		}
		a.archive = archive
	}

	a.monitor = monitor.New(service{a},
		monitor.WithInterval(cfg.PollInterval()),
		monitor.WithResync(cfg.Polling.ResyncAttempts, cfg.ResyncBackoff()),
		monitor.WithLogger(a.logger),
		monitor.WithObserver(a.onUpdate),
	)

	return a, nil
}

// build creates the config-dependent components
func (a *App) build(cfg *config.Config) (snapshot, error) {
	clientOpts := []remote.Option{}
	if a.httpCl != nil {
		clientOpts = append(clientOpts, remote.WithHTTPClient(a.httpCl))
	} else {
		clientOpts = append(clientOpts, remote.WithTimeout(cfg.RequestTimeout()))
	}

	aggregator := stats.NewAggregator(platform.URLClassifier{}, cfg.Catalog(), stats.NewLabelSet(cfg.Moderation.HateLabels...))
	reports, err := report.New(aggregator, cfg.Moderation.MaxFlagged)
	if err != nil {
		return snapshot{}, err
	}

	var n *notifier.Notifier
	if a.sender != nil {
		if cfg.Email.Enabled {
			n = notifier.New(a.sender, cfg.Email.ToAddr, a.logger)
		}
	} else {
		n, err = notifier.NewFromConfig(cfg.Email, a.logger)
		if err != nil {
			return snapshot{}, err
		}
	}

	return snapshot{
		config:     cfg,
		client:     remote.New(cfg.Service.BaseURL, clientOpts...),
		aggregator: aggregator,
		reports:    reports,
		notifier:   n,
	}, nil
}

func (a *App) apply(s snapshot) {
	a.mu.Lock()
	a.config = s.config
	a.client = s.client
	a.aggregator = s.aggregator
	a.reports = s.reports
	a.notifier = s.notifier
	a.mu.Unlock()
}

// SessionID identifies this session in logs and archive rows
func (a *App) SessionID() string { return a.sessionID }

// Config returns the active configuration
func (a *App) Config() *config.Config { return a.getSnapshot().config }

// Monitor exposes the task monitor
func (a *App) Monitor() *monitor.Monitor { return a.monitor }

// StartScrape submits a job. A zero Days uses the configured default.
func (a *App) StartScrape(ctx context.Context, spec monitor.JobSpec) (string, error) {
	if spec.Days == 0 {
		spec.Days = a.getSnapshot().config.Scraping.DefaultDays
	}
	return a.monitor.Submit(ctx, spec)
}

// Watch starts polling an already submitted task
func (a *App) Watch(ctx context.Context, taskID string) error {
	return a.monitor.Attach(ctx, taskID)
}

// Cancel stops polling the current task
func (a *App) Cancel() {
	a.monitor.Cancel()
}

// Wait blocks until the current task stops polling
func (a *App) Wait(ctx context.Context) (types.TaskState, error) {
	return a.monitor.Wait(ctx)
}

// Bootstrap loads existing results from the service, falling back to the
// newest archived task when the service has none or cannot be reached.
func (a *App) Bootstrap(ctx context.Context) (Source, error) {
	ok, err := a.monitor.Bootstrap(ctx)
	if err == nil && ok {
		return SourceService, nil
	}
	if errors.Is(err, monitor.ErrBusy) || a.archive == nil {
		return SourceNone, err
	}

	task, items, aerr := a.archive.LatestTask(ctx)
	if errors.Is(aerr, store.ErrNoArchivedTask) {
		return SourceNone, err
	}
	if aerr != nil {
		return SourceNone, errors.Join(err, aerr)
	}
	if err != nil {
		a.logger.Warn("service unavailable, loading archived results", "error", err)
	}

	if err := a.monitor.Hydrate(task, items); err != nil {
		return SourceNone, err
	}
	a.logger.Info("loaded archived results", "task_id", task.TaskID, "items", len(items))
	return SourceArchive, nil
}

// Refresh re-syncs the dashboard unless a task is being polled
func (a *App) Refresh(ctx context.Context) error {
	switch a.monitor.State() {
	case monitor.StateSubmitting, monitor.StatePolling:
		a.logger.Debug("skipping refresh while a task is running")
		return nil
	}
	src, err := a.Bootstrap(ctx)
	if err != nil {
		return err
	}
	a.logger.Debug("dashboard refreshed", "source", src)
	return nil
}

// Dashboard is a point-in-time view of the session
type Dashboard struct {
	SessionID string          `json:"session_id"`
	State     monitor.State   `json:"state"`
	Task      types.TaskState `json:"task"`
	Summary   stats.Summary   `json:"summary"`
	SafeCount int             `json:"safe_count"`
	Breakdown stats.Breakdown `json:"breakdown"`
	Polls     int             `json:"polls"`
	LastError string          `json:"last_error,omitempty"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Dashboard computes the dashboard for the current session
func (a *App) Dashboard() Dashboard {
	s := a.getSnapshot()
	items := a.monitor.Results().Snapshot()
	d := a.dashboard(s, a.monitor.Task(), a.monitor.State(), items)
	ms := a.monitor.Stats()
	d.Polls = ms.Polls
	d.LastError = ms.LastError
	return d
}

func (a *App) dashboard(s snapshot, task types.TaskState, state monitor.State, items []types.ContentItem) Dashboard {
	summary := s.aggregator.Aggregate(items)
	return Dashboard{
		SessionID: a.sessionID,
		State:     state,
		Task:      task,
		Summary:   summary,
		SafeCount: summary.SafeCount(),
		Breakdown: s.aggregator.AggregateByPlatform(items),
		UpdatedAt: time.Now(),
	}
}

// CachedDashboard returns the dashboard saved when the last task completed
func (a *App) CachedDashboard() (Dashboard, string, error) {
	return store.LoadLatestSnapshot[Dashboard](a.cacheDir, store.KindDashboard)
}

// Items returns the current results, filtered to tag when it is not empty
func (a *App) Items(tag platform.Tag) []types.ContentItem {
	return a.getSnapshot().aggregator.Filter(a.monitor.Results().Snapshot(), tag)
}

// ItemStats returns per-item counters, filtered to tag when it is not empty
func (a *App) ItemStats(tag platform.Tag) []stats.ItemStat {
	s := a.getSnapshot()
	return s.aggregator.Items(s.aggregator.Filter(a.monitor.Results().Snapshot(), tag))
}

// Flagged returns hate-labeled comments in the current results
func (a *App) Flagged(limit int) []stats.FlaggedComment {
	return a.getSnapshot().aggregator.Flagged(a.monitor.Results().Snapshot(), limit)
}

// Export downloads the CSV for taskID to path. An empty taskID means the
// current task, which must have completed.
func (a *App) Export(ctx context.Context, taskID, path string) (int64, error) {
	if taskID == "" {
		task := a.monitor.Task()
		if task.TaskID == "" {
			return 0, ErrNoTask
		}
		if a.monitor.State() != monitor.StateCompleted {
			return 0, fmt.Errorf("%w: %s is %s", ErrNotCompleted, task.TaskID, a.monitor.State())
		}
		taskID = task.TaskID
	}

	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("failed to create export file: %w", err)
	}

	n, err := a.getSnapshot().client.Export(ctx, taskID, f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return 0, err
	}

	a.logger.Info("exported results", "task_id", taskID, "path", path, "bytes", n)
	return n, nil
}

// BuildReport renders a moderation report for the current results
func (a *App) BuildReport() (*report.Report, error) {
	items := a.monitor.Results().Snapshot()
	return a.getSnapshot().reports.Build(a.monitor.Task(), items)
}

// SendReport builds and emails a report for the current results
func (a *App) SendReport(ctx context.Context) error {
	n := a.getSnapshot().notifier
	if n == nil {
		return ErrEmailDisabled
	}
	r, err := a.BuildReport()
	if err != nil {
		return err
	}
	return n.SendReport(r)
}

// Tasks lists archived tasks, newest first
func (a *App) Tasks(ctx context.Context, limit int) ([]store.TaskRecord, error) {
	if a.archive == nil {
		return nil, ErrNoArchive
	}
	return a.archive.ListTasks(ctx, limit)
}

// ReloadConfig reloads the configuration from path, or the default path when
// empty. Polling settings apply to the next App.
func (a *App) ReloadConfig(path string) error {
	var cfg *config.Config
	var err error
	if path == "" {
		cfg, err = config.Load()
	} else {
		cfg, err = config.LoadFrom(path)
	}
	if err != nil {
		return err
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	s, err := a.build(cfg)
	if err != nil {
		return err
	}
	a.apply(s)

	a.logger.Info("configuration reloaded", "service", cfg.Service.BaseURL)
	return nil
}

// Close stops polling and closes the archive
func (a *App) Close(ctx context.Context) error {
	a.monitor.Cancel()
	select {
	case <-a.monitor.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	if a.archive != nil {
		return a.archive.Close()
	}
	return nil
}

// onUpdate runs the completion work once a task known to the service reaches
// a terminal state: either a polled task finishing, or a task the service
// rejected as failed in its submit response. Hydrated data never gets here.
func (a *App) onUpdate(u monitor.Update) {
	a.stateMu.Lock()
	prev := a.lastState
	a.lastState = u.State
	a.stateMu.Unlock()

	switch {
	case prev == monitor.StatePolling && (u.State == monitor.StateCompleted || u.State == monitor.StateFailed):
		a.finish(u.State, u.Task)
	case prev == monitor.StateSubmitting && u.State == monitor.StateFailed && u.Task.TaskID != "":
		a.finish(u.State, u.Task)
	}
}

func (a *App) finish(state monitor.State, task types.TaskState) {
	s := a.getSnapshot()
	items := a.monitor.Results().Snapshot()

	ctx, cancel := context.WithTimeout(context.Background(), finishTimeout)
	defer cancel()

	var g errgroup.Group
	if a.archive != nil {
		g.Go(func() error {
			return a.archive.SaveTask(ctx, a.sessionID, task, items)
		})
	}
	if state == monitor.StateCompleted {
		g.Go(func() error {
			_, err := store.SaveSnapshot(a.cacheDir, store.KindResults, items)
			return err
		})
		g.Go(func() error {
			path, err := store.SaveSnapshot(a.cacheDir, store.KindDashboard, a.dashboard(s, task, state, items))
			if err == nil {
				a.logger.Debug("saved dashboard snapshot", "path", path)
			}
			return err
		})
		if s.notifier != nil {
			g.Go(func() error {
				r, err := s.reports.Build(task, items)
				if errors.Is(err, report.ErrEmpty) {
					return nil
				}
				if err != nil {
					return err
				}
				return s.notifier.SendReport(r)
			})
		}
	}

	if err := g.Wait(); err != nil {
		a.logger.Error("completion handling failed", "task_id", task.TaskID, "error", err)
	}
}

// service routes monitor calls through the current client so a config reload
// takes effect for the running session.
type service struct{ a *App }

func (s service) Submit(ctx context.Context, kind remote.JobKind, req remote.ScrapeRequest) (*remote.StatusResponse, error) {
	return s.a.getSnapshot().client.Submit(ctx, kind, req)
}

func (s service) Status(ctx context.Context, taskID string) (*remote.StatusResponse, error) {
	return s.a.getSnapshot().client.Status(ctx, taskID)
}

func (s service) LoadExisting(ctx context.Context) (*remote.StatusResponse, error) {
	return s.a.getSnapshot().client.LoadExisting(ctx)
}
