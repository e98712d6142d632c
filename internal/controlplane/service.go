// Package controlplane provides the HTTP API and service layer for the
// DeskPilot daemon.
package controlplane

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/fentz26/deskpilot/internal/agent"
	"github.com/fentz26/deskpilot/internal/events"
	"github.com/fentz26/deskpilot/internal/models"
	"github.com/fentz26/deskpilot/internal/store"
)

// DefaultHistoryLimit caps task history responses when the caller sets
// no limit.
const DefaultHistoryLimit = 50

// SessionView is a session as returned by the API.
type SessionView struct {
	*models.Session
	PendingApproval *agent.PendingApproval `json:"pending_approval,omitempty"`
}

// Service provides the control plane business logic on top of the
// orchestrator, the history store and the event broker.
type Service struct {
	agent  *agent.Orchestrator
	store  *store.Store
	broker *events.Broker
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewService creates a new control plane service.
func NewService(o *agent.Orchestrator, st *store.Store, broker *events.Broker, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		agent:  o,
		store:  st,
		broker: broker,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// --- Session Operations ---

// Enable starts an agent session owned by userID.
func (s *Service) Enable(ctx context.Context, userID, sessionID string) (*SessionView, error) {
	session, err := s.agent.EnableAgent(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	return &SessionView{Session: session}, nil
}

// Disable stops the session and cancels its task.
func (s *Service) Disable(ctx context.Context, userID, sessionID string) error {
	if _, err := s.owned(userID, sessionID); err != nil {
		return err
	}
	return s.agent.DisableAgent(ctx, sessionID)
}

// Session returns the session with its pending approval, if any.
func (s *Service) Session(userID, sessionID string) (*SessionView, error) {
	session, err := s.owned(userID, sessionID)
	if err != nil {
		return nil, err
	}
	view := &SessionView{Session: session}
	if pending, ok := s.agent.GetPendingApproval(sessionID); ok {
		view.PendingApproval = pending
	}
	return view, nil
}

// Sessions lists userID's sessions ordered by creation time.
func (s *Service) Sessions(userID string) []SessionView {
	var out []SessionView
	for _, session := range s.agent.ListSessions() {
		if session.UserID != userID {
			continue
		}
		view := SessionView{Session: session}
		if pending, ok := s.agent.GetPendingApproval(session.ID); ok {
			view.PendingApproval = pending
		}
		out = append(out, view)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Submit hands a natural-language request to the session. Planning runs
// in the background; progress and failures arrive as session events.
func (s *Service) Submit(userID, sessionID, request string) error {
	if strings.TrimSpace(request) == "" {
		return fmt.Errorf("%w: request is empty", ErrBadRequest)
	}
	session, err := s.owned(userID, sessionID)
	if err != nil {
		return err
	}
	if session.Status != models.StatusIdle && session.Status != models.StatusError {
		return fmt.Errorf("%w: session is %s", agent.ErrTaskActive, session.Status)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		task, err := s.agent.ProcessUserRequest(s.ctx, sessionID, request)
		switch {
		case err != nil:
			s.logger.Warn("request failed", "session", sessionID, "error", err, "kind", agent.KindOf(err))
		case task == nil:
			s.logger.Info("request needs clarification", "session", sessionID)
		default:
			s.logger.Info("request accepted", "session", sessionID, "task", task.ID)
		}
	}()
	return nil
}

// Approve clears the pending approval.
func (s *Service) Approve(ctx context.Context, userID, sessionID, actionID string) error {
	if _, err := s.owned(userID, sessionID); err != nil {
		return err
	}
	return s.agent.ApproveAction(ctx, actionID, sessionID)
}

// Reject refuses the pending approval, cancelling the task.
func (s *Service) Reject(ctx context.Context, userID, sessionID, actionID string) error {
	if _, err := s.owned(userID, sessionID); err != nil {
		return err
	}
	return s.agent.RejectAction(ctx, actionID, sessionID)
}

// Pause suspends the running task at its next step boundary.
func (s *Service) Pause(ctx context.Context, userID, sessionID string) error {
	if _, err := s.owned(userID, sessionID); err != nil {
		return err
	}
	return s.agent.PauseExecution(ctx, sessionID)
}

// Resume continues a paused task.
func (s *Service) Resume(ctx context.Context, userID, sessionID string) error {
	if _, err := s.owned(userID, sessionID); err != nil {
		return err
	}
	return s.agent.ResumeExecution(ctx, sessionID)
}

// Cancel cancels the session's current task.
func (s *Service) Cancel(ctx context.Context, userID, sessionID string) error {
	if _, err := s.owned(userID, sessionID); err != nil {
		return err
	}
	return s.agent.CancelTask(ctx, sessionID)
}

// Subscribe streams the session's events until the returned function is
// called.
func (s *Service) Subscribe(userID, sessionID string) (<-chan models.Event, func(), error) {
	if _, err := s.owned(userID, sessionID); err != nil {
		return nil, nil, err
	}
	ch, cancel := s.broker.Subscribe(sessionID)
	return ch, cancel, nil
}

// --- History Operations ---

// Tasks returns the session's finished tasks, newest first.
func (s *Service) Tasks(ctx context.Context, userID, sessionID string, limit int) ([]models.Task, error) {
	if _, err := s.owned(userID, sessionID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return s.store.ListTasks(ctx, sessionID, limit)
}

// Task returns one finished task of the session.
func (s *Service) Task(ctx context.Context, userID, sessionID, taskID string) (*models.Task, error) {
	if _, err := s.owned(userID, sessionID); err != nil {
		return nil, err
	}
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task == nil || task.SessionID != sessionID {
		return nil, fmt.Errorf("%w: task %s", ErrNotFound, taskID)
	}
	return task, nil
}

// Actions returns the session's recorded action history.
func (s *Service) Actions(ctx context.Context, userID, sessionID, taskID string) ([]models.HistoryEntry, error) {
	if _, err := s.owned(userID, sessionID); err != nil {
		return nil, err
	}
	return s.store.ListActions(ctx, sessionID, taskID)
}

// Decisions returns the session's decision records.
func (s *Service) Decisions(ctx context.Context, userID, sessionID, taskID string) ([]models.PDREntry, error) {
	if _, err := s.owned(userID, sessionID); err != nil {
		return nil, err
	}
	return s.store.ListPDR(ctx, sessionID, taskID)
}

// Screenshot loads a stored screenshot that belongs to one of the
// session's tasks.
func (s *Service) Screenshot(ctx context.Context, userID, sessionID, taskID, screenshotID string) (*models.Screenshot, error) {
	task, err := s.Task(ctx, userID, sessionID, taskID)
	if err != nil {
		return nil, err
	}
	shots := task.Screenshots
	if task.Result != nil && task.Result.FinalScreenshot != nil {
		shots = append(shots, *task.Result.FinalScreenshot)
	}
	found := false
	for _, shot := range shots {
		if shot.ID == screenshotID {
			found = true
			break
		}
	}
	if !found {
		return nil, fmt.Errorf("%w: screenshot %s", ErrNotFound, screenshotID)
	}
	shot, err := s.store.LoadScreenshot(ctx, screenshotID)
	if err != nil {
		return nil, err
	}
	if shot == nil {
		return nil, fmt.Errorf("%w: screenshot %s", ErrNotFound, screenshotID)
	}
	return shot, nil
}

// Health checks the history store.
func (s *Service) Health(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Close stops background request processing and waits for it.
func (s *Service) Close() {
	s.cancel()
	s.wg.Wait()
}

// owned returns the session if userID owns it.
func (s *Service) owned(userID, sessionID string) (*models.Session, error) {
	session, ok := s.agent.GetSession(sessionID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", agent.ErrSessionNotFound, sessionID)
	}
	if session.UserID != userID {
		return nil, fmt.Errorf("%w: %s", ErrNotOwner, sessionID)
	}
	return session, nil
}
