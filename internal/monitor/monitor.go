// Package monitor drives a remote scraping task from submission to a terminal
// state, merging each poll's partial results into a store.Results.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/ibeckermayer/modwatch/internal/logging"
	"github.com/ibeckermayer/modwatch/internal/remote"
	"github.com/ibeckermayer/modwatch/internal/store"
	"github.com/ibeckermayer/modwatch/internal/types"
)

const (
	// DefaultInterval is the delay between status checks
	DefaultInterval = 2 * time.Second
	// ExistingTaskID names the virtual task created by Bootstrap
	ExistingTaskID = "existing_data"

	defaultResyncAttempts = 3
	defaultResyncBackoff  = 500 * time.Millisecond
)

// State is the monitor's lifecycle position
type State string

const (
	StateIdle       State = "idle"
	StateSubmitting State = "submitting"
	StatePolling    State = "polling"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
	StateCancelled  State = "cancelled"
)

// Terminal reports whether the state ends a session
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// Service is the part of the scraping service the monitor needs.
// *remote.Client implements it.
type Service interface {
	Submit(ctx context.Context, kind remote.JobKind, req remote.ScrapeRequest) (*remote.StatusResponse, error)
	Status(ctx context.Context, taskID string) (*remote.StatusResponse, error)
	LoadExisting(ctx context.Context) (*remote.StatusResponse, error)
}

// JobSpec describes a job to submit
type JobSpec struct {
	Kind remote.JobKind
	URLs []string
	Days int
}

// normalize trims URLs, drops blank entries and validates the result.
func (s JobSpec) normalize() (JobSpec, error) {
	switch s.Kind {
	case "":
		s.Kind = remote.KindPosts
	case remote.KindPosts, remote.KindChannel:
	default:
		return s, &ValidationError{Field: "kind", Reason: fmt.Sprintf("%q is not supported", s.Kind)}
	}

	urls := make([]string, 0, len(s.URLs))
	for _, u := range s.URLs {
		if u = strings.TrimSpace(u); u != "" {
			urls = append(urls, u)
		}
	}
	if len(urls) == 0 {
		return s, &ValidationError{Field: "urls", Reason: "must contain at least one URL"}
	}
	if s.Days <= 0 {
		return s, &ValidationError{Field: "days", Reason: "must be positive"}
	}
	s.URLs = urls
	return s, nil
}

// Update is passed to observers after every change
type Update struct {
	State State
	Task  types.TaskState
	Items int
}

// Stats counts poll activity for the current session
type Stats struct {
	Polls           int
	TransientErrors int
	LastError       string
	LastPoll        time.Time
}

// Monitor owns the lifecycle of one remote task at a time
type Monitor struct {
	svc            Service
	logger         *slog.Logger
	interval       time.Duration
	resyncAttempts uint64
	resyncBackoff  time.Duration
	observer       func(Update)

	// submitMu serialises Submit, Bootstrap and Hydrate.
	submitMu sync.Mutex

	mu      sync.Mutex
	state   State
	task    types.TaskState
	results *store.Results
	stats   Stats
	loop    *pollLoop
	gen     uint64
}

// pollLoop is one running poll goroutine. stopped is guarded by Monitor.mu and
// is checked before every mutation the goroutine makes.
type pollLoop struct {
	cancel  context.CancelFunc
	done    chan struct{}
	stopped bool
}

// Option configures a Monitor
type Option func(*Monitor)

// WithInterval sets the delay between status checks.
func WithInterval(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.interval = d
		}
	}
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(m *Monitor) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithObserver registers fn to be called after every state change. It runs on
// the goroutine that made the change, outside the monitor's lock, and must not
// call Submit, Bootstrap or Hydrate.
func WithObserver(fn func(Update)) Option {
	return func(m *Monitor) { m.observer = fn }
}

// WithResync sets how many times the final full fetch is attempted and the
// pause between attempts.
func WithResync(attempts int, backoff time.Duration) Option {
	return func(m *Monitor) {
		if attempts > 0 {
			m.resyncAttempts = uint64(attempts)
		}
		if backoff > 0 {
			m.resyncBackoff = backoff
		}
	}
}

// New creates an idle monitor
func New(svc Service, opts ...Option) *Monitor {
	m := &Monitor{
		svc:            svc,
		logger:         logging.Discard(),
		interval:       DefaultInterval,
		resyncAttempts: defaultResyncAttempts,
		resyncBackoff:  defaultResyncBackoff,
		state:          StateIdle,
		results:        store.NewResults(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("component", "monitor")
	return m
}

// Submit validates spec, stops any running loop and starts a new task.
// Validation and submission errors are returned synchronously; once the task
// is accepted, polling continues in the background.
func (m *Monitor) Submit(ctx context.Context, spec JobSpec) (string, error) {
	spec, err := spec.normalize()
	if err != nil {
		return "", err
	}

	m.submitMu.Lock()
	defer m.submitMu.Unlock()

	m.stopLoop()

	m.mu.Lock()
	m.gen++
	gen := m.gen
	m.state = StateSubmitting
	m.task = types.TaskState{}
	m.results = store.NewResults()
	m.stats = Stats{}
	m.mu.Unlock()
	m.notify()

	m.logger.Info("submitting job", "kind", spec.Kind, "urls", len(spec.URLs), "days", spec.Days)
	resp, err := m.svc.Submit(ctx, spec.Kind, remote.ScrapeRequest{URLs: spec.URLs, Days: spec.Days})

	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		if resp != nil {
			return resp.TaskID, ErrCancelled
		}
		return "", ErrCancelled
	}
	if err != nil {
		m.state = StateFailed
		m.task.Phase = types.PhaseFailed
		m.task.ErrorMessage = err.Error()
		m.mu.Unlock()
		m.notify()
		m.logger.Error("job submission failed", "error", err)
		return "", &SubmissionError{Err: err}
	}

	phase := resp.Status
	if !phase.Valid() {
		phase = types.PhasePending
	}
	m.task = types.TaskState{
		TaskID:       resp.TaskID,
		Phase:        phase,
		Progress:     cloneStrings(resp.Progress),
		ErrorMessage: resp.Error,
	}
	m.results.Merge(resp.Results)

	if phase == types.PhaseFailed {
		m.state = StateFailed
		m.task.ErrorMessage = failureMessage(resp.Error)
		failure := &RemoteFailure{TaskID: resp.TaskID, Message: m.task.ErrorMessage}
		m.mu.Unlock()
		m.notify()
		m.logger.Error("task failed on submission", "task_id", resp.TaskID, "error", failure.Message)
		return resp.TaskID, failure
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	l := &pollLoop{cancel: cancel, done: make(chan struct{})}
	m.loop = l
	m.state = StatePolling
	m.mu.Unlock()

	m.notify()
	go m.run(loopCtx, l, resp.TaskID)
	m.logger.Info("job accepted", "task_id", resp.TaskID, "status", phase)
	return resp.TaskID, nil
}

// Attach starts polling a task that was submitted earlier, for example by
// another process. The session starts with an empty store.
func (m *Monitor) Attach(ctx context.Context, taskID string) error {
	taskID = strings.TrimSpace(taskID)
	if taskID == "" {
		return &ValidationError{Field: "task_id", Reason: "must not be empty"}
	}

	m.submitMu.Lock()
	defer m.submitMu.Unlock()

	m.stopLoop()

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	l := &pollLoop{cancel: cancel, done: make(chan struct{})}

	m.mu.Lock()
	m.gen++
	m.state = StatePolling
	m.task = types.TaskState{TaskID: taskID, Phase: types.PhasePending}
	m.results = store.NewResults()
	m.stats = Stats{}
	m.loop = l
	m.mu.Unlock()

	m.notify()
	go m.run(loopCtx, l, taskID)
	m.logger.Info("attached to task", "task_id", taskID)
	return nil
}

// Cancel stops the poll loop. It is idempotent and safe when nothing runs.
// Once it returns, the current session's task and results no longer change.
func (m *Monitor) Cancel() {
	m.mu.Lock()
	m.gen++
	if l := m.loop; l != nil && !l.stopped {
		l.stopped = true
		l.cancel()
	}
	changed := false
	if m.state == StateSubmitting || m.state == StatePolling {
		m.state = StateCancelled
		changed = true
	}
	taskID := m.task.TaskID
	m.mu.Unlock()

	if changed {
		m.logger.Info("task cancelled", "task_id", taskID)
		m.notify()
	}
}

// Bootstrap hydrates the monitor from the service's persisted result set as a
// completed task without polling. It reports false when the service has no data.
func (m *Monitor) Bootstrap(ctx context.Context) (bool, error) {
	m.submitMu.Lock()
	defer m.submitMu.Unlock()

	if m.active() {
		return false, ErrBusy
	}

	resp, err := m.svc.LoadExisting(ctx)
	if errors.Is(err, remote.ErrNotFound) {
		m.logger.Info("no existing results to load")
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to load existing results: %w", err)
	}

	taskID := resp.TaskID
	if taskID == "" {
		taskID = ExistingTaskID
	}
	if err := m.hydrate(types.TaskState{TaskID: taskID, Progress: resp.Progress}, resp.Results); err != nil {
		return false, err
	}
	m.logger.Info("loaded existing results", "task_id", taskID, "items", len(resp.Results))
	return true, nil
}

// Hydrate installs a previously completed task and its items without polling.
func (m *Monitor) Hydrate(task types.TaskState, items []types.ContentItem) error {
	m.submitMu.Lock()
	defer m.submitMu.Unlock()
	return m.hydrate(task, items)
}

func (m *Monitor) hydrate(task types.TaskState, items []types.ContentItem) error {
	m.mu.Lock()
	if m.state == StateSubmitting || m.state == StatePolling {
		m.mu.Unlock()
		return ErrBusy
	}
	m.gen++
	results := store.NewResults()
	results.Merge(items)
	task = task.Clone()
	task.Phase = types.PhaseCompleted
	m.task = task
	m.results = results
	m.stats = Stats{}
	m.state = StateCompleted
	m.mu.Unlock()

	m.notify()
	return nil
}

// State returns the lifecycle state
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Task returns a copy of the current task
func (m *Monitor) Task() types.TaskState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.task.Clone()
}

// Results returns the store for the current session. A new Submit or
// Bootstrap replaces it; the old one stops changing.
func (m *Monitor) Results() *store.Results {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.results
}

// Stats returns poll counters for the current session
func (m *Monitor) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

// Done is closed when the current poll loop exits. It is already closed when
// no loop was started.
func (m *Monitor) Done() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loop == nil {
		return closedChan
	}
	return m.loop.done
}

var closedChan = func() chan struct{} {
	c := make(chan struct{})
	close(c)
	return c
}()

// Wait blocks until the current task leaves the polling state or ctx ends.
// It returns the final task together with the reason it stopped, if any.
func (m *Monitor) Wait(ctx context.Context) (types.TaskState, error) {
	select {
	case <-m.Done():
	case <-ctx.Done():
		return m.Task(), ctx.Err()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	task := m.task.Clone()
	switch m.state {
	case StateFailed:
		if task.TaskID == "" {
			return task, &SubmissionError{Err: errors.New(task.ErrorMessage)}
		}
		return task, &RemoteFailure{TaskID: task.TaskID, Message: task.ErrorMessage}
	case StateCancelled:
		return task, ErrCancelled
	}
	return task, nil
}

func (m *Monitor) active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == StateSubmitting || m.state == StatePolling
}

// stopLoop stops the current loop and waits for its goroutine to exit.
func (m *Monitor) stopLoop() {
	m.mu.Lock()
	l := m.loop
	if l != nil && !l.stopped {
		l.stopped = true
		l.cancel()
	}
	m.mu.Unlock()

	if l != nil {
		<-l.done
	}
}

func (m *Monitor) run(ctx context.Context, l *pollLoop, taskID string) {
	defer close(l.done)
	defer l.cancel()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if m.tick(ctx, l, taskID) {
			return
		}
	}
}

// tick performs one status check and applies it. It reports whether the loop
// should stop.
func (m *Monitor) tick(ctx context.Context, l *pollLoop, taskID string) bool {
	resp, err := m.fetch(ctx, taskID)
	if err != nil {
		if ctx.Err() != nil {
			return true
		}
		perr := &TransientPollError{TaskID: taskID, Err: err}
		m.mu.Lock()
		if l.stopped {
			m.mu.Unlock()
			return true
		}
		m.stats.Polls++
		m.stats.TransientErrors++
		m.stats.LastError = perr.Error()
		m.stats.LastPoll = time.Now()
		m.mu.Unlock()
		m.logger.Warn("status check failed, retrying on next tick", "task_id", taskID, "error", err)
		return false
	}

	var final *remote.StatusResponse
	if resp.Status == types.PhaseCompleted {
		final = m.resync(ctx, taskID)
	}

	m.mu.Lock()
	if l.stopped {
		m.mu.Unlock()
		return true
	}
	m.stats.Polls++
	m.stats.LastPoll = time.Now()

	added, updated := m.results.Merge(resp.Results)
	progress := resp.Progress
	if final != nil {
		a, u := m.results.Merge(final.Results)
		added, updated = added+a, updated+u
		if final.Progress != nil {
			progress = final.Progress
		}
	}
	if progress != nil {
		m.task.Progress = cloneStrings(progress)
	}

	unknown := !resp.Status.Valid()
	if !unknown {
		m.task.Phase = resp.Status
	}

	stop := resp.Status.Terminal()
	switch resp.Status {
	case types.PhaseCompleted:
		m.state = StateCompleted
	case types.PhaseFailed:
		m.task.ErrorMessage = failureMessage(resp.Error)
		m.state = StateFailed
	}
	if stop {
		l.stopped = true
	}
	items := m.results.Len()
	errMsg := m.task.ErrorMessage
	m.mu.Unlock()

	m.notify()

	log := m.logger.With("task_id", taskID)
	switch {
	case unknown:
		log.Warn("ignoring unknown task status", "status", resp.Status)
	case resp.Status == types.PhaseCompleted:
		log.Info("task completed", "items", items)
	case resp.Status == types.PhaseFailed:
		log.Error("task failed", "error", errMsg)
	default:
		log.Debug("polled task", "status", resp.Status, "added", added, "updated", updated, "items", items)
	}
	return stop
}

// fetch wraps a status call so a misbehaving Service cannot take the loop down.
func (m *Monitor) fetch(ctx context.Context, taskID string) (resp *remote.StatusResponse, err error) {
	defer func() {
		if r := recover(); r != nil {
			resp, err = nil, fmt.Errorf("status check panicked: %v", r)
		}
	}()
	return m.svc.Status(ctx, taskID)
}

// resync re-fetches the full result set of a completed task. It returns nil
// when every attempt fails, in which case the polled batches stand.
func (m *Monitor) resync(ctx context.Context, taskID string) *remote.StatusResponse {
	var out *remote.StatusResponse
	backoff := retry.WithMaxRetries(m.resyncAttempts-1, retry.NewConstant(m.resyncBackoff))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		resp, err := m.fetch(ctx, taskID)
		if err != nil {
			return retry.RetryableError(err)
		}
		out = resp
		return nil
	})
	if err != nil {
		m.logger.Warn("final resync failed, keeping polled results", "task_id", taskID, "error", err)
		return nil
	}
	return out
}

func (m *Monitor) notify() {
	if m.observer == nil {
		return
	}
	m.mu.Lock()
	u := Update{State: m.state, Task: m.task.Clone(), Items: m.results.Len()}
	m.mu.Unlock()
	m.observer(u)
}

func failureMessage(msg string) string {
	if msg == "" {
		return "task failed without an error message"
	}
	return msg
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	out := make([]string, len(s))
	copy(out, s)
	return out
}
