package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ibeckermayer/modwatch/internal/config"
	"github.com/ibeckermayer/modwatch/internal/logging"
	"github.com/ibeckermayer/modwatch/internal/monitor"
	"github.com/ibeckermayer/modwatch/internal/platform"
	"github.com/ibeckermayer/modwatch/internal/types"
)

const waitFor = 3 * time.Second

var (
	ytItem = types.ContentItem{
		URL:          "https://www.youtube.com/watch?v=abc",
		CommentCount: 2,
		Comments: []types.Comment{
			{AuthorName: "ann", Text: "awful", Label: "hate"},
			{AuthorName: "bob", Text: "nice", Label: "neutral"},
		},
	}
	liItem = types.ContentItem{
		URL:          "https://www.linkedin.com/posts/xyz",
		CommentCount: 1,
		Comments:     []types.Comment{{AuthorName: "cat", Text: "go away", Label: "toxic"}},
	}
)

// fakeScraper is an httptest stand-in for the scraping service. The first
// status check reports processing with one item, later checks report completion.
type fakeScraper struct {
	statusCalls atomic.Int32
	existing    []types.ContentItem
}

func (f *fakeScraper) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /scrape", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"task_id": "t-1", "status": "pending", "progress": []string{}})
	})
	mux.HandleFunc("GET /status/{id}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") != "t-1" {
			http.NotFound(w, r)
			return
		}
		if f.statusCalls.Add(1) == 1 {
			writeJSON(w, map[string]any{"task_id": "t-1", "status": "processing", "progress": []string{"scraping"}, "results": []types.ContentItem{ytItem}})
			return
		}
		writeJSON(w, map[string]any{"task_id": "t-1", "status": "completed", "progress": []string{"done"}, "results": []types.ContentItem{ytItem, liItem}})
	})
	mux.HandleFunc("GET /load-existing", func(w http.ResponseWriter, r *http.Request) {
		if f.existing == nil {
			http.Error(w, `{"detail":"no data"}`, http.StatusNotFound)
			return
		}
		writeJSON(w, map[string]any{"task_id": "existing_data", "status": "completed", "progress": []string{}, "results": f.existing})
	})
	mux.HandleFunc("GET /export/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/csv")
		fmt.Fprintf(w, "post_url,comment,label\n%s,awful,hate\n", ytItem.URL)
	})
	return mux
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

type fakeSender struct {
	mu    sync.Mutex
	sent  []string
	plain string
}

func (f *fakeSender) Send(to, subject, htmlBody, plainBody string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, to)
	f.plain = plainBody
	return nil
}

func testConfig(t *testing.T, baseURL, archivePath string) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Service.BaseURL = baseURL
	cfg.Polling.IntervalMillis = 5
	cfg.Polling.ResyncAttempts = 2
	cfg.Polling.ResyncBackoffMillis = 1
	cfg.Archive.Path = archivePath
	return cfg
}

func newTestApp(t *testing.T, cfg *config.Config, opts ...Option) *App {
	t.Helper()
	opts = append([]Option{WithLogger(logging.Discard()), WithCacheDir(t.TempDir())}, opts...)
	a, err := New(cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close(context.Background()) })
	return a
}

func runToCompletion(t *testing.T, a *App) types.TaskState {
	t.Helper()
	id, err := a.StartScrape(context.Background(), monitor.JobSpec{URLs: []string{ytItem.URL, liItem.URL}})
	require.NoError(t, err)
	require.Equal(t, "t-1", id)

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	task, err := a.Wait(ctx)
	require.NoError(t, err)
	return task
}

func TestApp_ScrapeToCompletion(t *testing.T) {
	srv := httptest.NewServer((&fakeScraper{}).handler())
	defer srv.Close()

	cfg := testConfig(t, srv.URL, filepath.Join(t.TempDir(), "archive.db"))
	cfg.Email.Enabled = true
	cfg.Email.SMTPHost = "smtp.test"
	cfg.Email.ToAddr = "mod@example.com"
	sender := &fakeSender{}
	a := newTestApp(t, cfg, WithSender(sender))

	task := runToCompletion(t, a)
	assert.Equal(t, types.PhaseCompleted, task.Phase)

	d := a.Dashboard()
	assert.Equal(t, monitor.StateCompleted, d.State)
	assert.Equal(t, 2, d.Summary.TotalItems)
	assert.Equal(t, 3, d.Summary.TotalComments)
	assert.Equal(t, 2, d.Summary.HateCount)
	assert.Equal(t, 1, d.SafeCount)
	assert.Equal(t, 2, d.Breakdown.ActivePlatformCount)
	assert.Equal(t, a.SessionID(), d.SessionID)

	// completion work runs before Wait returns
	records, err := a.Tasks(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "t-1", records[0].TaskID)
	assert.Equal(t, a.SessionID(), records[0].SessionID)
	assert.Equal(t, 2, records[0].Items)

	cached, _, err := a.CachedDashboard()
	require.NoError(t, err)
	assert.Equal(t, d.Summary, cached.Summary)
	assert.Equal(t, "t-1", cached.Task.TaskID)

	sender.mu.Lock()
	defer sender.mu.Unlock()
	assert.Equal(t, []string{"mod@example.com"}, sender.sent)
	assert.Contains(t, sender.plain, "Hate comments:      2")
}

func TestApp_DefaultDays(t *testing.T) {
	type request struct {
		URLs []string `json:"urls"`
		Days int      `json:"days"`
	}
	got := make(chan request, 1)
	mux := http.NewServeMux()
	mux.HandleFunc("POST /scrape", func(w http.ResponseWriter, r *http.Request) {
		var req request
		json.NewDecoder(r.Body).Decode(&req)
		got <- req
		writeJSON(w, map[string]any{"task_id": "t-9", "status": "pending"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	cfg := testConfig(t, srv.URL, "")
	cfg.Archive.Enabled = false
	cfg.Scraping.DefaultDays = 14
	a := newTestApp(t, cfg)

	_, err := a.StartScrape(context.Background(), monitor.JobSpec{URLs: []string{"https://youtu.be/x"}})
	require.NoError(t, err)
	a.Cancel()

	req := <-got
	assert.Equal(t, 14, req.Days)
	assert.Equal(t, []string{"https://youtu.be/x"}, req.URLs)
}

func TestApp_BootstrapFromService(t *testing.T) {
	srv := httptest.NewServer((&fakeScraper{existing: []types.ContentItem{liItem}}).handler())
	defer srv.Close()

	a := newTestApp(t, testConfig(t, srv.URL, filepath.Join(t.TempDir(), "archive.db")))

	src, err := a.Bootstrap(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SourceService, src)
	assert.Equal(t, monitor.StateCompleted, a.Monitor().State())
	assert.Equal(t, "existing_data", a.Monitor().Task().TaskID)
	assert.Len(t, a.Items(""), 1)

	// hydrated data is not archived again
	records, err := a.Tasks(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestApp_BootstrapFallsBackToArchive(t *testing.T) {
	srv := httptest.NewServer((&fakeScraper{}).handler())
	defer srv.Close()
	archivePath := filepath.Join(t.TempDir(), "archive.db")

	first, err := New(testConfig(t, srv.URL, archivePath), WithLogger(logging.Discard()), WithCacheDir(t.TempDir()))
	require.NoError(t, err)
	runToCompletion(t, first)
	require.NoError(t, first.Close(context.Background()))

	second := newTestApp(t, testConfig(t, srv.URL, archivePath))
	src, err := second.Bootstrap(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SourceArchive, src)
	assert.Equal(t, "t-1", second.Monitor().Task().TaskID)
	assert.Equal(t, 2, second.Dashboard().Summary.HateCount)
}

func TestApp_BootstrapServiceDownUsesArchive(t *testing.T) {
	srv := httptest.NewServer((&fakeScraper{}).handler())
	archivePath := filepath.Join(t.TempDir(), "archive.db")

	first, err := New(testConfig(t, srv.URL, archivePath), WithLogger(logging.Discard()), WithCacheDir(t.TempDir()))
	require.NoError(t, err)
	runToCompletion(t, first)
	require.NoError(t, first.Close(context.Background()))

	url := srv.URL
	srv.Close()

	second := newTestApp(t, testConfig(t, url, archivePath))
	src, err := second.Bootstrap(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SourceArchive, src)
}

func TestApp_BootstrapNothing(t *testing.T) {
	srv := httptest.NewServer((&fakeScraper{}).handler())
	defer srv.Close()

	a := newTestApp(t, testConfig(t, srv.URL, filepath.Join(t.TempDir(), "archive.db")))
	src, err := a.Bootstrap(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SourceNone, src)
	assert.Equal(t, monitor.StateIdle, a.Monitor().State())
}

func TestApp_Export(t *testing.T) {
	srv := httptest.NewServer((&fakeScraper{}).handler())
	defer srv.Close()

	a := newTestApp(t, testConfig(t, srv.URL, filepath.Join(t.TempDir(), "archive.db")))
	out := filepath.Join(t.TempDir(), "results.csv")

	_, err := a.Export(context.Background(), "", out)
	assert.ErrorIs(t, err, ErrNoTask)

	runToCompletion(t, a)
	n, err := a.Export(context.Background(), "", out)
	require.NoError(t, err)
	assert.Positive(t, n)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(data), "post_url,comment,label")
}

func TestApp_ExportBeforeCompletion(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /scrape", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"task_id": "t-2", "status": "pending"})
	})
	mux.HandleFunc("GET /status/{id}", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"task_id": "t-2", "status": "processing"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	cfg := testConfig(t, srv.URL, "")
	cfg.Archive.Enabled = false
	a := newTestApp(t, cfg)

	_, err := a.StartScrape(context.Background(), monitor.JobSpec{URLs: []string{"https://youtu.be/x"}, Days: 1})
	require.NoError(t, err)

	_, err = a.Export(context.Background(), "", filepath.Join(t.TempDir(), "x.csv"))
	assert.ErrorIs(t, err, ErrNotCompleted)

	_, err = a.Tasks(context.Background(), 5)
	assert.ErrorIs(t, err, ErrNoArchive)
	assert.ErrorIs(t, a.SendReport(context.Background()), ErrEmailDisabled)
}

func TestApp_ItemsAndFlagged(t *testing.T) {
	srv := httptest.NewServer((&fakeScraper{}).handler())
	defer srv.Close()

	a := newTestApp(t, testConfig(t, srv.URL, filepath.Join(t.TempDir(), "archive.db")))
	runToCompletion(t, a)

	yt := a.Items(platform.YouTube)
	require.Len(t, yt, 1)
	assert.Equal(t, ytItem.URL, yt[0].URL)

	stats := a.ItemStats(platform.LinkedIn)
	require.Len(t, stats, 1)
	assert.Equal(t, 1, stats[0].HateCount)
	assert.Equal(t, 0, stats[0].SafeCount)

	flagged := a.Flagged(0)
	require.Len(t, flagged, 2)
	assert.Equal(t, "ann", flagged[0].Comment.AuthorName)
	assert.Equal(t, platform.LinkedIn, flagged[1].Platform)

	r, err := a.BuildReport()
	require.NoError(t, err)
	assert.Equal(t, "t-1", r.TaskID)
}

func TestApp_ReloadConfig(t *testing.T) {
	srv := httptest.NewServer((&fakeScraper{existing: []types.ContentItem{ytItem}}).handler())
	defer srv.Close()

	cfg := testConfig(t, "http://127.0.0.1:1", "")
	cfg.Archive.Enabled = false
	a := newTestApp(t, cfg)

	_, err := a.Bootstrap(context.Background())
	require.Error(t, err)

	reloaded := testConfig(t, srv.URL, "")
	reloaded.Archive.Enabled = false
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, reloaded.SaveTo(path))

	t.Chdir(t.TempDir())
	t.Setenv("MODWATCH_API_URL", "")
	require.NoError(t, a.ReloadConfig(path))
	assert.Equal(t, srv.URL, a.Config().Service.BaseURL)

	src, err := a.Bootstrap(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SourceService, src)
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Service.BaseURL = "nope"
	_, err := New(cfg)
	assert.ErrorContains(t, err, "invalid config")
}

func TestApp_ArchivesTaskFailedOnSubmit(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /scrape", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"task_id": "t-9", "status": "failed", "error": "quota exceeded"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	a := newTestApp(t, testConfig(t, srv.URL, filepath.Join(t.TempDir(), "archive.db")))

	id, err := a.StartScrape(context.Background(), monitor.JobSpec{URLs: []string{"https://youtu.be/x"}, Days: 1})
	var failure *monitor.RemoteFailure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, "t-9", id)

	records, err := a.Tasks(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "t-9", records[0].TaskID)
	assert.Equal(t, types.PhaseFailed, records[0].Phase)
	assert.Equal(t, "quota exceeded", records[0].Error)
}

func TestApp_SubmissionErrorIsNotArchived(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /scrape", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	a := newTestApp(t, testConfig(t, srv.URL, filepath.Join(t.TempDir(), "archive.db")))

	_, err := a.StartScrape(context.Background(), monitor.JobSpec{URLs: []string{"https://youtu.be/x"}, Days: 1})
	var subErr *monitor.SubmissionError
	require.ErrorAs(t, err, &subErr)

	records, err := a.Tasks(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, records)
}
