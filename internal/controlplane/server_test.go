package controlplane

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fentz26/deskpilot/internal/agent"
	"github.com/fentz26/deskpilot/internal/audit"
	"github.com/fentz26/deskpilot/internal/auth"
	"github.com/fentz26/deskpilot/internal/events"
	"github.com/fentz26/deskpilot/internal/models"
	"github.com/fentz26/deskpilot/internal/safety"
	"github.com/fentz26/deskpilot/internal/store"
)

type stubVision struct{}

func (stubVision) CaptureScreen(ctx context.Context) (*models.Screenshot, error) {
	return &models.Screenshot{Image: []byte("\x89PNG"), Format: "png", Width: 1280, Height: 800, WindowTitle: "Editor"}, nil
}

type stubPlanner struct {
	plan models.ActionPlan
}

func (p stubPlanner) AnalyzeScreen(ctx context.Context, shot *models.Screenshot, intent string) (*models.Analysis, error) {
	return &models.Analysis{RelevantToIntent: true, Description: "an editor"}, nil
}

func (p stubPlanner) PlanActions(ctx context.Context, analysis *models.Analysis, intent string) (*models.ActionPlan, error) {
	plan := p.plan
	return &plan, nil
}

func (p stubPlanner) VerifyResult(ctx context.Context, before, after *models.Screenshot, expected string) (*models.Verification, error) {
	return &models.Verification{Success: true, Confidence: 0.9}, nil
}

func (p stubPlanner) GenerateClarification(ctx context.Context, intent, ambiguity string) (string, error) {
	return "Which window?", nil
}

type stubExecutor struct {
	mu    sync.Mutex
	steps []models.Step
}

func (e *stubExecutor) ExecuteAction(ctx context.Context, step models.Step) (*models.ExecResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.steps = append(e.steps, step)
	return &models.ExecResult{Success: true}, nil
}

func (e *stubExecutor) Wait(ctx context.Context, d time.Duration) error { return nil }

func (e *stubExecutor) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.steps)
}

type testEnv struct {
	server   *Server
	handler  http.Handler
	store    *store.Store
	executor *stubExecutor
}

func newTestEnv(t *testing.T, tokens map[string]string) *testEnv {
	t.Helper()

	st, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)

	guard, err := safety.New(safety.DefaultConfig())
	require.NoError(t, err)

	broker := events.NewBroker(0, nil)
	executor := &stubExecutor{}
	cfg := agent.DefaultConfig()
	cfg.SettleDelay = 0
	o, err := agent.New(agent.Deps{
		Vision: stubVision{},
		Planner: stubPlanner{plan: models.ActionPlan{
			Steps:            []models.Step{{Type: models.ActionClick, Description: "focus the editor", X: 40, Y: 60, Button: "left"}},
			Reasoning:        "click into the editor",
			RequiresApproval: true,
		}},
		Executor: executor,
		Guard:    guard,
		Events:   broker,
		Recorder: audit.NewRecorder(st, nil),
	}, cfg)
	require.NoError(t, err)

	service := NewService(o, st, broker, nil)
	server := NewServer(service, "127.0.0.1:0",
		WithAuthenticator(auth.NewAuthenticator(tokens)),
		WithMetrics(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { io.WriteString(w, "# metrics\n") })),
		WithVersion("test"),
		WithHeartbeat(50*time.Millisecond),
	)

	t.Cleanup(func() {
		o.Close(context.Background())
		service.Close()
		broker.Close()
		st.Close()
	})
	return &testEnv{server: server, handler: server.Handler(), store: st, executor: executor}
}

func (e *testEnv) do(t *testing.T, method, path, user string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if user != "" {
		req.Header.Set(auth.UserHeader, user)
	}
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(w.Body).Decode(&v), w.Body.String())
	return v
}

func TestHealthEndpoint_OK(t *testing.T) {
	env := newTestEnv(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	env.server.handleHealth(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	var health HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if !health.OK {
		t.Error("Expected health.OK to be true")
	}
	if health.DB != "ok" {
		t.Errorf("Expected DB status 'ok', got '%s'", health.DB)
	}
	if health.Version != "test" {
		t.Errorf("Expected version 'test', got '%s'", health.Version)
	}
	if health.Time == "" {
		t.Error("Expected time to be set")
	}
}

func TestHealthEndpoint_MethodNotAllowed(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, http.MethodPost, "/health", "", nil)
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected status 405, got %d", w.Code)
	}
}

func TestHealthEndpoint_DBError(t *testing.T) {
	env := newTestEnv(t, nil)

	// Close the store to simulate DB error
	env.store.Close()

	w := env.do(t, http.MethodGet, "/health", "", nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected status 503, got %d", w.Code)
	}

	health := decode[HealthResponse](t, w)
	if health.OK {
		t.Error("Expected health.OK to be false when DB is down")
	}
	if health.DB == "ok" {
		t.Error("Expected DB status to indicate error")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "# metrics")
}

func TestSessionLifecycle(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, http.MethodPost, "/sessions", "alice", createSessionRequest{SessionID: "s1"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decode[SessionView](t, w)
	assert.Equal(t, "alice", created.UserID)
	assert.Equal(t, models.StatusIdle, created.Status)

	w = env.do(t, http.MethodPost, "/sessions", "alice", createSessionRequest{SessionID: "s1"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = env.do(t, http.MethodGet, "/sessions", "alice", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]SessionView](t, w), 1)

	w = env.do(t, http.MethodGet, "/sessions", "bob", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode[[]SessionView](t, w))

	w = env.do(t, http.MethodGet, "/sessions/s1", "bob", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = env.do(t, http.MethodDelete, "/sessions/s1", "alice", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodGet, "/sessions/s1", "alice", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCreateSession_OtherUserRejected(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, http.MethodPost, "/sessions", "alice", createSessionRequest{UserID: "bob", SessionID: "s1"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = env.do(t, http.MethodPost, "/sessions", "alice", nil)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.NotEmpty(t, decode[SessionView](t, w).ID)
}

func TestRequestApproveAndHistory(t *testing.T) {
	env := newTestEnv(t, nil)

	require.Equal(t, http.StatusCreated, env.do(t, http.MethodPost, "/sessions", "alice", createSessionRequest{SessionID: "s1"}).Code)

	w := env.do(t, http.MethodPost, "/sessions/s1/requests", "alice", submitRequest{Request: "  "})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPost, "/sessions/s1/requests", "alice", submitRequest{Request: "focus the editor"})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	var pending *agent.PendingApproval
	require.Eventually(t, func() bool {
		w := env.do(t, http.MethodGet, "/sessions/s1", "alice", nil)
		view := decode[SessionView](t, w)
		pending = view.PendingApproval
		return view.Status == models.StatusAwaitingApproval && pending != nil
	}, 2*time.Second, 5*time.Millisecond)
	assert.True(t, pending.WholePlan)

	w = env.do(t, http.MethodPost, "/sessions/s1/requests", "alice", submitRequest{Request: "another"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = env.do(t, http.MethodPost, "/sessions/s1/pause", "alice", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = env.do(t, http.MethodPost, "/sessions/s1/approve", "alice", controlRequest{ActionID: "wrong"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = env.do(t, http.MethodPost, "/sessions/s1/approve", "alice", controlRequest{ActionID: pending.ActionID})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	require.Eventually(t, func() bool {
		w := env.do(t, http.MethodGet, "/sessions/s1/tasks", "alice", nil)
		return len(decode[[]models.Task](t, w)) == 1
	}, 2*time.Second, 5*time.Millisecond)

	w = env.do(t, http.MethodGet, "/sessions/s1/tasks?limit=5", "alice", nil)
	tasks := decode[[]models.Task](t, w)
	require.Len(t, tasks, 1)
	assert.Equal(t, models.TaskStatusCompleted, tasks[0].Status)
	assert.Equal(t, "focus the editor", tasks[0].UserIntent)

	w = env.do(t, http.MethodGet, "/sessions/s1/tasks/"+tasks[0].ID, "alice", nil)
	require.Equal(t, http.StatusOK, w.Code)
	task := decode[models.Task](t, w)
	require.NotEmpty(t, task.Screenshots)

	w = env.do(t, http.MethodGet, "/sessions/s1/tasks/"+task.ID+"/screenshots/"+task.Screenshots[0].ID, "alice", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	assert.Equal(t, "\x89PNG", w.Body.String())

	w = env.do(t, http.MethodGet, "/sessions/s1/tasks/missing", "alice", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, http.MethodGet, "/sessions/s1/tasks?limit=abc", "alice", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodGet, "/sessions/s1/decisions?task="+task.ID, "alice", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, decode[[]models.PDREntry](t, w))

	assert.Equal(t, 1, env.executor.count())
}

func TestRejectWithoutPendingIsNoop(t *testing.T) {
	env := newTestEnv(t, nil)
	require.Equal(t, http.StatusCreated, env.do(t, http.MethodPost, "/sessions", "alice", createSessionRequest{SessionID: "s1"}).Code)

	w := env.do(t, http.MethodPost, "/sessions/s1/reject", "alice", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodPost, "/sessions/s1/cancel", "alice", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodPost, "/sessions/s1/pause", "alice", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestBearerTokens(t *testing.T) {
	env := newTestEnv(t, map[string]string{"s3cret": "alice"})

	w := env.do(t, http.MethodGet, "/sessions", "alice", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.NotEmpty(t, w.Header().Get("WWW-Authenticate"))

	req := httptest.NewRequest(http.MethodPost, "/sessions", strings.NewReader(`{"session_id":"s1"}`))
	req.Header.Set("Authorization", "Bearer s3cret")
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "alice", decode[SessionView](t, rec).UserID)

	// Health stays open.
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/health", "", nil).Code)
}

func TestEventStream(t *testing.T) {
	env := newTestEnv(t, nil)
	require.Equal(t, http.StatusCreated, env.do(t, http.MethodPost, "/sessions", "alice", createSessionRequest{SessionID: "s1"}).Code)

	ts := httptest.NewServer(env.handler)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/sessions/s1/events", nil)
	require.NoError(t, err)
	req.Header.Set(auth.UserHeader, "alice")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, ": connected\n", line)

	w := env.do(t, http.MethodPost, "/sessions/s1/requests", "alice", submitRequest{Request: "focus the editor"})
	require.Equal(t, http.StatusAccepted, w.Code)

	var kinds []string
	for !contains(kinds, string(models.EventActionRequiresApproval)) {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		if kind, ok := strings.CutPrefix(strings.TrimSpace(line), "event: "); ok {
			kinds = append(kinds, kind)
			data, err := reader.ReadString('\n')
			require.NoError(t, err)
			payload, ok := strings.CutPrefix(strings.TrimSpace(data), "data: ")
			require.True(t, ok)
			var ev models.Event
			require.NoError(t, json.Unmarshal([]byte(payload), &ev))
			assert.Equal(t, "s1", ev.SessionID)
			if ev.Screenshot != nil {
				assert.Empty(t, ev.Screenshot.Image)
			}
		}
	}
	assert.Contains(t, kinds, string(models.EventScreenshot))
	assert.Contains(t, kinds, string(models.EventActionPlanned))

	w = env.do(t, http.MethodGet, "/sessions/s1/events", "bob", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
