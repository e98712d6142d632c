// Package client talks to the DeskPilot daemon's HTTP API. It is shared
// by the CLI and the terminal monitor.
package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/fentz26/deskpilot/internal/auth"
	"github.com/fentz26/deskpilot/internal/controlplane"
	"github.com/fentz26/deskpilot/internal/models"
)

// DefaultClientTimeout is the default timeout for API requests.
const DefaultClientTimeout = 10 * time.Second

// APIError is a non-2xx answer from the daemon.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
}

// IsStatus reports whether err is an APIError with the given status.
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == status
}

// Client wraps HTTP calls to the DeskPilot API.
type Client struct {
	baseURL     string
	credentials *auth.Credentials
	httpClient  *http.Client
	// stream has no timeout; event streams are long-lived.
	stream *http.Client
}

// New creates an API client. creds may be nil.
func New(baseURL string, creds *auth.Credentials) *Client {
	return &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		credentials: creds,
		httpClient:  &http.Client{Timeout: DefaultClientTimeout},
		stream:      &http.Client{},
	}
}

// BaseURL returns the daemon address.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Health checks the daemon. The parsed body is returned alongside the
// error on a non-200 answer.
func (c *Client) Health(ctx context.Context) (*controlplane.HealthResponse, error) {
	var health controlplane.HealthResponse
	err := c.do(ctx, http.MethodGet, "/health", nil, &health)
	if err != nil {
		if IsStatus(err, http.StatusServiceUnavailable) {
			return &health, err
		}
		return nil, err
	}
	return &health, nil
}

// --- Sessions ---

// EnableSession enables the agent for a session. An empty sessionID lets
// the daemon pick one.
func (c *Client) EnableSession(ctx context.Context, sessionID string) (*controlplane.SessionView, error) {
	var view controlplane.SessionView
	body := map[string]string{"session_id": sessionID}
	if err := c.do(ctx, http.MethodPost, "/sessions", body, &view); err != nil {
		return nil, err
	}
	return &view, nil
}

// DisableSession disables the agent for a session.
func (c *Client) DisableSession(ctx context.Context, sessionID string) error {
	return c.do(ctx, http.MethodDelete, sessionPath(sessionID, ""), nil, nil)
}

// Session fetches one session.
func (c *Client) Session(ctx context.Context, sessionID string) (*controlplane.SessionView, error) {
	var view controlplane.SessionView
	if err := c.do(ctx, http.MethodGet, sessionPath(sessionID, ""), nil, &view); err != nil {
		return nil, err
	}
	return &view, nil
}

// Sessions lists the caller's sessions.
func (c *Client) Sessions(ctx context.Context) ([]controlplane.SessionView, error) {
	var views []controlplane.SessionView
	if err := c.do(ctx, http.MethodGet, "/sessions", nil, &views); err != nil {
		return nil, err
	}
	return views, nil
}

// Submit sends a natural-language request to the session.
func (c *Client) Submit(ctx context.Context, sessionID, request string) error {
	return c.do(ctx, http.MethodPost, sessionPath(sessionID, "requests"), map[string]string{"request": request}, nil)
}

// Approve approves the pending action. actionID may be empty.
func (c *Client) Approve(ctx context.Context, sessionID, actionID string) error {
	return c.control(ctx, sessionID, "approve", actionID)
}

// Reject rejects the pending action. actionID may be empty.
func (c *Client) Reject(ctx context.Context, sessionID, actionID string) error {
	return c.control(ctx, sessionID, "reject", actionID)
}

// Pause pauses the session's task.
func (c *Client) Pause(ctx context.Context, sessionID string) error {
	return c.control(ctx, sessionID, "pause", "")
}

// Resume resumes the session's paused task.
func (c *Client) Resume(ctx context.Context, sessionID string) error {
	return c.control(ctx, sessionID, "resume", "")
}

// Cancel cancels the session's task.
func (c *Client) Cancel(ctx context.Context, sessionID string) error {
	return c.control(ctx, sessionID, "cancel", "")
}

func (c *Client) control(ctx context.Context, sessionID, op, actionID string) error {
	var body any
	if actionID != "" {
		body = map[string]string{"action_id": actionID}
	}
	return c.do(ctx, http.MethodPost, sessionPath(sessionID, op), body, nil)
}

// --- History ---

// Tasks returns the session's finished tasks, newest first.
func (c *Client) Tasks(ctx context.Context, sessionID string, limit int) ([]models.Task, error) {
	path := sessionPath(sessionID, "tasks")
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var tasks []models.Task
	if err := c.do(ctx, http.MethodGet, path, nil, &tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

// Task returns one finished task.
func (c *Client) Task(ctx context.Context, sessionID, taskID string) (*models.Task, error) {
	var task models.Task
	if err := c.do(ctx, http.MethodGet, sessionPath(sessionID, "tasks/"+url.PathEscape(taskID)), nil, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// Actions returns the session's action history, optionally for one task.
func (c *Client) Actions(ctx context.Context, sessionID, taskID string) ([]models.HistoryEntry, error) {
	var entries []models.HistoryEntry
	if err := c.do(ctx, http.MethodGet, withTask(sessionPath(sessionID, "actions"), taskID), nil, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// Decisions returns the session's decision records, optionally for one
// task.
func (c *Client) Decisions(ctx context.Context, sessionID, taskID string) ([]models.PDREntry, error) {
	var entries []models.PDREntry
	if err := c.do(ctx, http.MethodGet, withTask(sessionPath(sessionID, "decisions"), taskID), nil, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// --- Events ---

// Events streams the session's events to fn until ctx is done, the
// stream ends or fn returns an error.
func (c *Client) Events(ctx context.Context, sessionID string, fn func(models.Event) error) error {
	return c.Follow(ctx, sessionID, nil, fn)
}

// Follow is Events with a callback run once the daemon has accepted the
// subscription. Events emitted after opened returns are delivered.
func (c *Client) Follow(ctx context.Context, sessionID string, opened func(), fn func(models.Event) error) error {
	req, err := c.newRequest(ctx, http.MethodGet, sessionPath(sessionID, "events"), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.stream.Do(req)
	if err != nil {
		return fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return readError(resp)
	}
	if opened != nil {
		opened()
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4<<20)
	var data strings.Builder
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if data.Len() == 0 {
				continue
			}
			var ev models.Event
			if err := json.Unmarshal([]byte(data.String()), &ev); err != nil {
				return fmt.Errorf("decode event: %w", err)
			}
			data.Reset()
			if err := fn(ev); err != nil {
				return err
			}
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return err
	}
	return ctx.Err()
}

// --- Helpers ---

func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.credentials.Apply(req)
	return req, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := readError(resp)
		// /health answers 503 with a normal body.
		if out != nil && resp.StatusCode == http.StatusServiceUnavailable {
			_ = json.Unmarshal([]byte(apiErr.Message), out)
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func readError(resp *http.Response) *APIError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	var e controlplane.ErrorResponse
	if json.Unmarshal(body, &e) == nil && e.Error != "" {
		return &APIError{StatusCode: resp.StatusCode, Message: e.Error}
	}
	return &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
}

func sessionPath(sessionID, suffix string) string {
	path := "/sessions/" + url.PathEscape(sessionID)
	if suffix != "" {
		path += "/" + suffix
	}
	return path
}

func withTask(path, taskID string) string {
	if taskID == "" {
		return path
	}
	return path + "?task=" + url.QueryEscape(taskID)
}
