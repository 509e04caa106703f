// Package remote talks to the scraping and classification service.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ibeckermayer/modwatch/internal/types"
)

// ErrNotFound is returned when the service answers 404
var ErrNotFound = errors.New("not found")

// maxErrorBody bounds how much of an error response is kept
const maxErrorBody = 4 << 10

// JobKind selects the submission endpoint
type JobKind string

const (
	// KindPosts scrapes individual posts or pages
	KindPosts JobKind = "posts"
	// KindChannel scrapes a YouTube channel; only the first URL is used by the service
	KindChannel JobKind = "channel"
)

func (k JobKind) path() (string, error) {
	switch k {
	case KindPosts, "":
		return "/scrape", nil
	case KindChannel:
		return "/scrape/youtube", nil
	default:
		return "", fmt.Errorf("unknown job kind %q", k)
	}
}

// ScrapeRequest is the body of a submission
type ScrapeRequest struct {
	URLs []string `json:"urls"`
	Days int      `json:"days"`
}

// StatusResponse is what the service returns for submissions, status checks and
// the existing-data endpoint.
type StatusResponse struct {
	TaskID   string              `json:"task_id"`
	Status   types.Phase         `json:"status"`
	Progress []string            `json:"progress"`
	Error    string              `json:"error,omitempty"`
	Results  []types.ContentItem `json:"results,omitempty"`
}

// StatusError is a non-2xx answer from the service.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s returned status %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// Is lets errors.Is(err, ErrNotFound) match 404 responses
func (e *StatusError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

// Client is an HTTP client for the scraping service
type Client struct {
	baseURL string
	client  *http.Client
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.client = hc }
}

// WithTimeout sets the per-request timeout
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.client.Timeout = d }
}

// New creates a client for the service at baseURL
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the service root the client talks to
func (c *Client) BaseURL() string { return c.baseURL }

// Submit starts a scraping job.
func (c *Client) Submit(ctx context.Context, kind JobKind, req ScrapeRequest) (*StatusResponse, error) {
	path, err := kind.path()
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var out StatusResponse
	if err := c.doJSON(ctx, http.MethodPost, path, bytes.NewReader(body), &out); err != nil {
		return nil, err
	}
	if out.TaskID == "" {
		return nil, fmt.Errorf("POST %s: response carried no task_id", path)
	}
	return &out, nil
}

// Status fetches the current state of a task
func (c *Client) Status(ctx context.Context, taskID string) (*StatusResponse, error) {
	var out StatusResponse
	if err := c.doJSON(ctx, http.MethodGet, "/status/"+url.PathEscape(taskID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// LoadExisting fetches the previously persisted result set.
// It returns ErrNotFound when the service has nothing stored.
func (c *Client) LoadExisting(ctx context.Context) (*StatusResponse, error) {
	var out StatusResponse
	if err := c.doJSON(ctx, http.MethodGet, "/load-existing", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Export streams the CSV export of a completed task into w
func (c *Client) Export(ctx context.Context, taskID string, w io.Writer) (int64, error) {
	path := "/export/" + url.PathEscape(taskID)
	resp, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, fmt.Errorf("failed to read export: %w", err)
	}
	return n, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, body io.Reader, out any) error {
	resp, err := c.do(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s %s response: %w", method, path, err)
	}
	return nil
}

// do executes a request and returns the response only for 2xx answers
func (c *Client) do(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call %s %s: %w", method, path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &StatusError{
			Method:     method,
			Path:       path,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(respBody)),
		}
	}
	return resp, nil
}
