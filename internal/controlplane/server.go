package controlplane

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/fentz26/deskpilot/internal/auth"
	"github.com/fentz26/deskpilot/internal/models"
)

// DefaultHeartbeat is how often an idle event stream sends a keep-alive
// comment.
const DefaultHeartbeat = 15 * time.Second

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	OK      bool   `json:"ok"`
	DB      string `json:"db"`
	Version string `json:"version"`
	Time    string `json:"time"`
}

// Server provides the HTTP API for DeskPilot.
type Server struct {
	service   *Service
	auth      *auth.Authenticator
	metrics   http.Handler
	logger    *slog.Logger
	version   string
	heartbeat time.Duration
	addr      string
	server    *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithAuthenticator sets how callers are identified. The default runs in
// local mode.
func WithAuthenticator(a *auth.Authenticator) Option {
	return func(s *Server) { s.auth = a }
}

// WithMetrics serves h on /metrics.
func WithMetrics(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// WithLogger sets the request logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithVersion sets the version reported by /health.
func WithVersion(v string) Option {
	return func(s *Server) { s.version = v }
}

// WithHeartbeat sets the event stream keep-alive interval.
func WithHeartbeat(d time.Duration) Option {
	return func(s *Server) { s.heartbeat = d }
}

// NewServer creates a new HTTP server.
func NewServer(service *Service, addr string, opts ...Option) *Server {
	s := &Server{
		service:   service,
		addr:      addr,
		version:   "dev",
		heartbeat: DefaultHeartbeat,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.auth == nil {
		s.auth = auth.NewAuthenticator(nil)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// Handler returns the API routes.
func (s *Server) Handler() http.Handler {
	router := mux.NewRouter()
	router.Use(s.logRequests)

	router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	if s.metrics != nil {
		router.Handle("/metrics", s.metrics).Methods(http.MethodGet)
	}

	api := router.PathPrefix("/sessions").Subrouter()
	api.Use(s.authenticate)

	// Session endpoints
	api.HandleFunc("", s.createSession).Methods(http.MethodPost)
	api.HandleFunc("", s.listSessions).Methods(http.MethodGet)
	api.HandleFunc("/{id}", s.getSession).Methods(http.MethodGet)
	api.HandleFunc("/{id}", s.deleteSession).Methods(http.MethodDelete)

	// Control endpoints
	api.HandleFunc("/{id}/requests", s.submitRequest).Methods(http.MethodPost)
	api.HandleFunc("/{id}/approve", s.control(s.approve)).Methods(http.MethodPost)
	api.HandleFunc("/{id}/reject", s.control(s.reject)).Methods(http.MethodPost)
	api.HandleFunc("/{id}/pause", s.control(s.pause)).Methods(http.MethodPost)
	api.HandleFunc("/{id}/resume", s.control(s.resume)).Methods(http.MethodPost)
	api.HandleFunc("/{id}/cancel", s.control(s.cancel)).Methods(http.MethodPost)
	api.HandleFunc("/{id}/events", s.streamEvents).Methods(http.MethodGet)

	// History endpoints
	api.HandleFunc("/{id}/tasks", s.listTasks).Methods(http.MethodGet)
	api.HandleFunc("/{id}/tasks/{task}", s.getTask).Methods(http.MethodGet)
	api.HandleFunc("/{id}/tasks/{task}/screenshots/{shot}", s.getScreenshot).Methods(http.MethodGet)
	api.HandleFunc("/{id}/actions", s.listActions).Methods(http.MethodGet)
	api.HandleFunc("/{id}/decisions", s.listDecisions).Methods(http.MethodGet)

	return router
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.addr, err)
	}
	return s.Serve(ln)
}

// Serve serves the API on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	// No write timeout: event streams stay open.
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	s.logger.Info("starting deskpilot daemon", "addr", ln.Addr().String(), "local_mode", s.auth.LocalMode())
	return s.server.Serve(ln)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// --- Middleware ---

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := s.auth.Authenticate(r)
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="deskpilot"`)
			writeError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithUser(r.Context(), user)))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		level := slog.LevelDebug
		if rec.status >= http.StatusInternalServerError {
			level = slog.LevelWarn
		}
		s.logger.Log(r.Context(), level, "http request",
			"method", r.Method, "path", r.URL.Path, "status", rec.status, "duration", time.Since(start))
	})
}

// --- Health ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	resp := HealthResponse{
		OK:      true,
		DB:      "ok",
		Version: s.version,
		Time:    time.Now().UTC().Format(time.RFC3339),
	}
	status := http.StatusOK
	if err := s.service.Health(r.Context()); err != nil {
		resp.OK = false
		resp.DB = err.Error()
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

// --- Session Handlers ---

type createSessionRequest struct {
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
}

func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	user := auth.UserFromContext(r.Context())
	if req.UserID != "" && req.UserID != user {
		writeError(w, fmt.Errorf("%w: cannot enable a session for %s", ErrNotOwner, req.UserID))
		return
	}
	if req.SessionID == "" {
		req.SessionID = uuid.New().String()
	}

	view, err := s.service.Enable(r.Context(), user, req.SessionID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, view)
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	views := s.service.Sessions(auth.UserFromContext(r.Context()))
	if views == nil {
		views = []SessionView{}
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	view, err := s.service.Session(auth.UserFromContext(r.Context()), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) deleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.service.Disable(r.Context(), auth.UserFromContext(r.Context()), mux.Vars(r)["id"]); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
}

// --- Control Handlers ---

type submitRequest struct {
	Request string `json:"request"`
}

func (s *Server) submitRequest(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	sessionID := mux.Vars(r)["id"]
	if err := s.service.Submit(auth.UserFromContext(r.Context()), sessionID, req.Request); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted", "session_id": sessionID})
}

type controlRequest struct {
	ActionID string `json:"action_id"`
}

type controlFunc func(ctx context.Context, user, sessionID, actionID string) (string, error)

// control adapts a session control operation to a handler answering with
// the session's resulting status.
func (s *Server) control(fn controlFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req controlRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, err)
			return
		}

		user := auth.UserFromContext(r.Context())
		sessionID := mux.Vars(r)["id"]
		result, err := fn(r.Context(), user, sessionID, req.ActionID)
		if err != nil {
			writeError(w, err)
			return
		}
		view, err := s.service.Session(user, sessionID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"result": result, "session": view})
	}
}

func (s *Server) approve(ctx context.Context, user, sessionID, actionID string) (string, error) {
	return "approved", s.service.Approve(ctx, user, sessionID, actionID)
}

func (s *Server) reject(ctx context.Context, user, sessionID, actionID string) (string, error) {
	return "rejected", s.service.Reject(ctx, user, sessionID, actionID)
}

func (s *Server) pause(ctx context.Context, user, sessionID, _ string) (string, error) {
	return "paused", s.service.Pause(ctx, user, sessionID)
}

func (s *Server) resume(ctx context.Context, user, sessionID, _ string) (string, error) {
	return "resumed", s.service.Resume(ctx, user, sessionID)
}

func (s *Server) cancel(ctx context.Context, user, sessionID, _ string) (string, error) {
	return "cancelled", s.service.Cancel(ctx, user, sessionID)
}

// streamEvents serves the session's events as Server-Sent Events until
// the client goes away or the session's stream ends.
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, errors.New("streaming unsupported"))
		return
	}

	ch, unsubscribe, err := s.service.Subscribe(auth.UserFromContext(r.Context()), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if err := writeEvent(w, ev); err != nil {
				s.logger.Warn("write event", "session", ev.SessionID, "error", err)
				return
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w io.Writer, ev models.Event) error {
	if ev.Screenshot != nil {
		// Image bytes stay out of the stream; clients fetch them by id.
		shot := *ev.Screenshot
		shot.Image = nil
		ev.Screenshot = &shot
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Kind, data)
	return err
}

// --- History Handlers ---

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, fmt.Errorf("%w: invalid limit %q", ErrBadRequest, raw))
			return
		}
		limit = n
	}

	tasks, err := s.service.Tasks(r.Context(), auth.UserFromContext(r.Context()), mux.Vars(r)["id"], limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if tasks == nil {
		tasks = []models.Task{}
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	task, err := s.service.Task(r.Context(), auth.UserFromContext(r.Context()), vars["id"], vars["task"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) getScreenshot(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	shot, err := s.service.Screenshot(r.Context(), auth.UserFromContext(r.Context()), vars["id"], vars["task"], vars["shot"])
	if err != nil {
		writeError(w, err)
		return
	}
	format := shot.Format
	if format == "" {
		format = "png"
	}
	w.Header().Set("Content-Type", "image/"+format)
	w.Header().Set("Content-Length", strconv.Itoa(len(shot.Image)))
	w.WriteHeader(http.StatusOK)
	w.Write(shot.Image)
}

func (s *Server) listActions(w http.ResponseWriter, r *http.Request) {
	entries, err := s.service.Actions(r.Context(), auth.UserFromContext(r.Context()), mux.Vars(r)["id"], r.URL.Query().Get("task"))
	if err != nil {
		writeError(w, err)
		return
	}
	if entries == nil {
		entries = []models.HistoryEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) listDecisions(w http.ResponseWriter, r *http.Request) {
	entries, err := s.service.Decisions(r.Context(), auth.UserFromContext(r.Context()), mux.Vars(r)["id"], r.URL.Query().Get("task"))
	if err != nil {
		writeError(w, err)
		return
	}
	if entries == nil {
		entries = []models.PDREntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// --- Helpers ---

// decodeJSON decodes the request body into v. An empty body leaves v
// untouched.
func decodeJSON(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return fmt.Errorf("%w: invalid json: %v", ErrBadRequest, err)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), ErrorResponse{Error: err.Error()})
}
