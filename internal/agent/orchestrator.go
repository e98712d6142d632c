// Package agent runs the desktop agent control loop. An Orchestrator owns
// every enabled session and drives each session's task through
// observe, plan, approve, act and verify, consulting the safety guard
// before every step.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/fentz26/deskpilot/internal/clock"
	"github.com/fentz26/deskpilot/internal/models"
)

// Deps are the collaborators an Orchestrator is built from. Vision,
// Planner, Executor and Guard are required.
type Deps struct {
	Vision   Vision
	Planner  Planner
	Executor Executor
	Guard    Guard

	Events   EventSink
	Recorder Recorder
	Metrics  Metrics
	Runner   Runner
	Clock    clock.Clock
	Logger   *slog.Logger
}

// PendingApproval describes what a session in awaiting_approval is
// waiting on. ActionID is the task ID for whole-plan approvals and the
// step ID otherwise.
type PendingApproval struct {
	ActionID  string       `json:"action_id"`
	TaskID    string       `json:"task_id"`
	StepIndex int          `json:"step_index"`
	WholePlan bool         `json:"whole_plan"`
	Step      *models.Step `json:"step,omitempty"`
	Reason    string       `json:"reason,omitempty"`
}

type sessionState struct {
	session *models.Session
	// runner is the task whose loop goroutine is alive, if any.
	runner  *models.Task
	pending *PendingApproval
	// approved is the step index the user cleared; -1 when none.
	approved int
	blocked  int
	timer    *clock.Timer
}

func (st *sessionState) owns(task *models.Task) bool {
	return st.session.CurrentTask == task
}

// Orchestrator coordinates sessions and their tasks.
type Orchestrator struct {
	cfg      Config
	vision   Vision
	planner  Planner
	executor Executor
	guard    Guard
	events   EventSink
	recorder Recorder
	metrics  Metrics
	runner   Runner
	clock    clock.Clock
	logger   *slog.Logger

	mu       sync.Mutex
	sessions map[string]*sessionState
	closed   bool
}

// New creates an Orchestrator.
func New(deps Deps, cfg Config) (*Orchestrator, error) {
	if deps.Vision == nil || deps.Planner == nil || deps.Executor == nil || deps.Guard == nil {
		return nil, fmt.Errorf("%w: vision, planner, executor and guard are required", ErrInvalidInput)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid agent config: %w", err)
	}

	o := &Orchestrator{
		cfg:      cfg,
		vision:   deps.Vision,
		planner:  deps.Planner,
		executor: deps.Executor,
		guard:    deps.Guard,
		events:   deps.Events,
		recorder: deps.Recorder,
		metrics:  deps.Metrics,
		runner:   deps.Runner,
		clock:    deps.Clock,
		logger:   deps.Logger,
		sessions: make(map[string]*sessionState),
	}
	if o.events == nil {
		o.events = nopSink{}
	}
	if o.recorder == nil {
		o.recorder = nopRecorder{}
	}
	if o.metrics == nil {
		o.metrics = nopMetrics{}
	}
	if o.runner == nil {
		o.runner = goRunner{}
	}
	if o.clock == nil {
		o.clock = clock.Real()
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	return o, nil
}

// Config returns the loop settings.
func (o *Orchestrator) Config() Config {
	return o.cfg
}

// EnableAgent registers a new idle session for userID.
func (o *Orchestrator) EnableAgent(ctx context.Context, userID, sessionID string) (*models.Session, error) {
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(sessionID) == "" {
		return nil, fmt.Errorf("%w: user id and session id are required", ErrInvalidInput)
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return nil, ErrClosed
	}
	if _, ok := o.sessions[sessionID]; ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionExists, sessionID)
	}

	now := o.clock.Now()
	st := &sessionState{
		session: &models.Session{
			ID:             sessionID,
			UserID:         userID,
			Status:         models.StatusDisabled,
			CreatedAt:      now,
			LastActivityAt: now,
		},
		approved: -1,
	}
	o.sessions[sessionID] = st
	o.setStatusLocked(st, models.StatusIdle)

	o.logger.Info("agent enabled", "session", sessionID, "user", userID)
	return copySession(st.session), nil
}

// DisableAgent cancels any active task and forgets the session. Disabling
// an unknown session is a no-op.
func (o *Orchestrator) DisableAgent(ctx context.Context, sessionID string) error {
	o.mu.Lock()
	st, ok := o.sessions[sessionID]
	if !ok {
		o.mu.Unlock()
		return nil
	}
	var cancelled *models.Task
	if task := st.session.CurrentTask; task != nil {
		cancelled = o.cancelTaskLocked(st, task, "session disabled")
	}
	delete(o.sessions, sessionID)
	o.setStatusLocked(st, models.StatusDisabled)
	o.mu.Unlock()

	o.guard.ClearSession(sessionID)
	if r, ok := o.vision.(SessionReleaser); ok {
		if err := r.ReleaseSession(ctx, sessionID); err != nil {
			o.logger.Warn("release vision resources", "session", sessionID, "error", err)
		}
	}
	if cancelled != nil {
		o.finishRecorded(ctx, cancelled)
	}

	o.logger.Info("agent disabled", "session", sessionID)
	return nil
}

// ProcessUserRequest observes the screen, analyses it against request and
// either asks a clarifying question (returning a nil task) or creates a
// task from the planned steps. Execution continues in the background;
// the returned task is a snapshot.
func (o *Orchestrator) ProcessUserRequest(ctx context.Context, sessionID, request string) (*models.Task, error) {
	request = strings.TrimSpace(request)
	if request == "" {
		return nil, fmt.Errorf("%w: request is empty", ErrInvalidInput)
	}
	ctx = ContextWithSession(ctx, sessionID)

	o.mu.Lock()
	st, ok := o.sessions[sessionID]
	if !ok {
		o.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	if s := st.session.Status; s != models.StatusIdle && s != models.StatusError {
		o.mu.Unlock()
		return nil, fmt.Errorf("%w: session is %s", ErrTaskActive, s)
	}
	o.converseLocked(st, "user", request)
	o.setStatusLocked(st, models.StatusObserving)
	o.mu.Unlock()

	shot, err := o.vision.CaptureScreen(ctx)
	if err != nil {
		return nil, o.abortRequest(st, capabilityError(KindVision, "capture screen", err))
	}

	o.mu.Lock()
	if !o.registeredLocked(st) {
		o.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	o.stampLocked(shot, nil)
	o.emitLocked(st, models.Event{Kind: models.EventScreenshot, Screenshot: shot})
	o.mu.Unlock()

	analysis, err := o.planner.AnalyzeScreen(ctx, shot, request)
	if err != nil {
		return nil, o.abortRequest(st, capabilityError(KindPlanning, "analyze screen", err))
	}

	if !analysis.RelevantToIntent {
		question, err := o.planner.GenerateClarification(ctx, request, analysis.Description)
		if err != nil {
			return nil, o.abortRequest(st, capabilityError(KindPlanning, "generate clarification", err))
		}
		o.mu.Lock()
		if o.registeredLocked(st) {
			o.converseLocked(st, "agent", question)
			o.emitLocked(st, models.Event{Kind: models.EventClarification, Message: question})
			o.setStatusLocked(st, models.StatusIdle)
		}
		o.mu.Unlock()
		return nil, nil
	}

	o.mu.Lock()
	if !o.registeredLocked(st) {
		o.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	o.setStatusLocked(st, models.StatusPlanning)
	o.mu.Unlock()

	plan, err := o.planner.PlanActions(ctx, analysis, request)
	if err != nil {
		return nil, o.abortRequest(st, capabilityError(KindPlanning, "plan actions", err))
	}

	task := &models.Task{
		ID:          uuid.New().String(),
		SessionID:   sessionID,
		UserIntent:  request,
		Status:      models.TaskStatusInProgress,
		Plan:        normalizePlan(plan),
		Screenshots: []models.Screenshot{*shot},
	}

	o.mu.Lock()
	if !o.registeredLocked(st) {
		o.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	task.StartedAt = o.clock.Now()
	st.session.CurrentTask = task
	st.pending = nil
	st.approved = -1
	st.blocked = 0
	st.timer = o.clock.AfterFunc(o.cfg.TaskTimeout, func() { o.expireTask(st, task) })
	o.guard.ResetTask(sessionID)

	if task.Plan.Reasoning != "" {
		o.converseLocked(st, "agent", task.Plan.Reasoning)
	}
	plannedCopy := task.Plan
	o.emitLocked(st, models.Event{Kind: models.EventActionPlanned, TaskID: task.ID, Plan: &plannedCopy})

	outcome := "executing"
	if task.Plan.RequiresApproval {
		outcome = "awaiting_approval"
		task.Status = models.TaskStatusPending
		st.pending = &PendingApproval{ActionID: task.ID, TaskID: task.ID, WholePlan: true, Reason: "plan requires approval"}
		o.setStatusLocked(st, models.StatusAwaitingApproval)
		o.emitLocked(st, models.Event{
			Kind:   models.EventActionRequiresApproval,
			TaskID: task.ID,
			Plan:   &plannedCopy,
			Reason: st.pending.Reason,
		})
	} else {
		o.setStatusLocked(st, models.StatusActing)
		o.startLoopLocked(st, task)
	}
	snapshot := copyTask(task)
	o.mu.Unlock()

	o.decide(ctx, sessionID, task.ID, "task.plan", snapshot.Plan, outcome,
		fmt.Sprintf("%d steps for %q", len(snapshot.Plan.Steps), request))
	o.logger.Info("task planned", "session", sessionID, "task", task.ID, "steps", len(snapshot.Plan.Steps), "outcome", outcome)
	return snapshot, nil
}

// ApproveAction resumes a task suspended for approval. actionID may be
// empty; otherwise it must name the pending approval.
func (o *Orchestrator) ApproveAction(ctx context.Context, actionID, sessionID string) error {
	o.mu.Lock()
	st, ok := o.sessions[sessionID]
	if !ok {
		o.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	task := st.session.CurrentTask
	if task == nil || st.pending == nil || st.session.Status != models.StatusAwaitingApproval {
		o.mu.Unlock()
		return ErrNoPendingTask
	}
	p := st.pending
	if actionID != "" && actionID != p.ActionID {
		o.mu.Unlock()
		return fmt.Errorf("%w: pending %s", ErrActionMismatch, p.ActionID)
	}
	st.pending = nil
	if !p.WholePlan {
		st.approved = p.StepIndex
	}
	task.Status = models.TaskStatusInProgress
	o.setStatusLocked(st, models.StatusActing)
	if st.runner != task {
		o.startLoopLocked(st, task)
	}
	o.mu.Unlock()

	o.metrics.Approval("approved")
	o.decide(ctx, sessionID, task.ID, "action.approve", p, "approved", p.ActionID)
	return nil
}

// RejectAction cancels a task suspended for approval. It is a no-op when
// nothing is awaiting approval.
func (o *Orchestrator) RejectAction(ctx context.Context, actionID, sessionID string) error {
	o.mu.Lock()
	st, ok := o.sessions[sessionID]
	if !ok {
		o.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	task := st.session.CurrentTask
	if task == nil || st.pending == nil || st.session.Status != models.StatusAwaitingApproval {
		o.mu.Unlock()
		return nil
	}
	p := st.pending
	if actionID != "" && actionID != p.ActionID {
		o.mu.Unlock()
		return fmt.Errorf("%w: pending %s", ErrActionMismatch, p.ActionID)
	}
	cancelled := o.cancelTaskLocked(st, task, "action rejected by user")
	o.mu.Unlock()

	o.metrics.Approval("rejected")
	o.decide(ctx, sessionID, task.ID, "action.reject", p, "rejected", p.ActionID)
	o.finishRecorded(ctx, cancelled)
	return nil
}

// PauseExecution suspends a running task at the next step boundary. The
// step in flight finishes first.
func (o *Orchestrator) PauseExecution(ctx context.Context, sessionID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	st, ok := o.sessions[sessionID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	if st.session.CurrentTask == nil {
		return ErrNoActiveTask
	}
	switch st.session.Status {
	case models.StatusPaused:
		return nil
	case models.StatusActing, models.StatusVerifying:
		o.setStatusLocked(st, models.StatusPaused)
		return nil
	default:
		return fmt.Errorf("%w: cannot pause while %s", ErrInvalidState, st.session.Status)
	}
}

// ResumeExecution continues a paused task from the step it stopped at. It
// is a no-op unless the session is paused.
func (o *Orchestrator) ResumeExecution(ctx context.Context, sessionID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	st, ok := o.sessions[sessionID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	task := st.session.CurrentTask
	if task == nil || st.session.Status != models.StatusPaused {
		return nil
	}
	o.setStatusLocked(st, models.StatusActing)
	if st.runner != task {
		o.startLoopLocked(st, task)
	}
	return nil
}

// CancelTask cancels the session's current task wherever it is. An
// action already handed to the executor is allowed to finish.
func (o *Orchestrator) CancelTask(ctx context.Context, sessionID string) error {
	o.mu.Lock()
	st, ok := o.sessions[sessionID]
	if !ok {
		o.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	task := st.session.CurrentTask
	if task == nil {
		o.mu.Unlock()
		return nil
	}
	cancelled := o.cancelTaskLocked(st, task, "task cancelled by user")
	o.mu.Unlock()

	o.finishRecorded(ctx, cancelled)
	return nil
}

// GetAgentStatus returns the session's status, or StatusUnknown for an
// unknown session.
func (o *Orchestrator) GetAgentStatus(sessionID string) models.AgentStatus {
	o.mu.Lock()
	defer o.mu.Unlock()

	st, ok := o.sessions[sessionID]
	if !ok {
		return models.StatusUnknown
	}
	return st.session.Status
}

// GetCurrentTask returns a snapshot of the session's current task.
func (o *Orchestrator) GetCurrentTask(sessionID string) *models.Task {
	o.mu.Lock()
	defer o.mu.Unlock()

	st, ok := o.sessions[sessionID]
	if !ok {
		return nil
	}
	return copyTask(st.session.CurrentTask)
}

// GetSession returns a snapshot of the session.
func (o *Orchestrator) GetSession(sessionID string) (*models.Session, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	st, ok := o.sessions[sessionID]
	if !ok {
		return nil, false
	}
	return copySession(st.session), true
}

// ListSessions returns snapshots of every enabled session.
func (o *Orchestrator) ListSessions() []*models.Session {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make([]*models.Session, 0, len(o.sessions))
	for _, st := range o.sessions {
		out = append(out, copySession(st.session))
	}
	return out
}

// GetPendingApproval reports what the session is waiting on, if anything.
func (o *Orchestrator) GetPendingApproval(sessionID string) (*PendingApproval, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	st, ok := o.sessions[sessionID]
	if !ok || st.pending == nil {
		return nil, false
	}
	p := *st.pending
	return &p, true
}

// Close cancels every active task and refuses new sessions. Loops that
// are mid-step stop at their next boundary.
func (o *Orchestrator) Close(ctx context.Context) error {
	o.mu.Lock()
	o.closed = true
	var cancelled []*models.Task
	for _, st := range o.sessions {
		if task := st.session.CurrentTask; task != nil {
			cancelled = append(cancelled, o.cancelTaskLocked(st, task, "agent shutting down"))
		}
	}
	o.mu.Unlock()

	for _, t := range cancelled {
		o.finishRecorded(ctx, t)
	}
	return nil
}

func (o *Orchestrator) registeredLocked(st *sessionState) bool {
	return o.sessions[st.session.ID] == st
}

// abortRequest fails a request that never produced a task.
func (o *Orchestrator) abortRequest(st *sessionState, err error) error {
	o.mu.Lock()
	if o.registeredLocked(st) {
		o.converseLocked(st, "agent", err.Error())
		o.emitLocked(st, models.Event{Kind: models.EventError, Message: err.Error()})
		o.setStatusLocked(st, models.StatusError)
	}
	o.mu.Unlock()

	o.logger.Error("request failed", "session", st.session.ID, "kind", KindOf(err), "error", err)
	return err
}

func (o *Orchestrator) setStatusLocked(st *sessionState, to models.AgentStatus) {
	prev := st.session.Status
	if prev == to {
		return
	}
	st.session.Status = to
	st.session.LastActivityAt = o.clock.Now()
	o.emitLocked(st, models.Event{Kind: models.EventStatusChanged, Status: to, PreviousStatus: prev})
}

func (o *Orchestrator) emitLocked(st *sessionState, ev models.Event) {
	ev.SessionID = st.session.ID
	ev.Timestamp = o.clock.Now()
	o.events.Emit(ev)
}

func (o *Orchestrator) converseLocked(st *sessionState, role, content string) {
	st.session.ConversationHistory = appendBounded(st.session.ConversationHistory, models.ConversationEntry{
		Role:      role,
		Content:   content,
		Timestamp: o.clock.Now(),
	}, o.cfg.ConversationLimit)
}

// stampLocked fills in a missing ID and timestamp and keeps a task's
// screenshots strictly ordered by capture time.
func (o *Orchestrator) stampLocked(shot *models.Screenshot, task *models.Task) {
	if shot.ID == "" {
		shot.ID = uuid.New().String()
	}
	if shot.Timestamp.IsZero() {
		shot.Timestamp = o.clock.Now()
	}
	if task != nil && len(task.Screenshots) > 0 {
		last := task.Screenshots[len(task.Screenshots)-1].Timestamp
		if !shot.Timestamp.After(last) {
			shot.Timestamp = last.Add(1)
		}
	}
}

func (o *Orchestrator) decide(ctx context.Context, sessionID, taskID, action string, inputs any, outcome, details string) {
	if err := o.recorder.RecordDecision(ctx, sessionID, taskID, action, inputs, outcome, details); err != nil {
		o.logger.Warn("record decision", "session", sessionID, "action", action, "error", err)
	}
}

// finishRecorded persists a terminal task and counts it.
func (o *Orchestrator) finishRecorded(ctx context.Context, task *models.Task) {
	if task == nil {
		return
	}
	o.metrics.TaskFinished(task.Status)
	if err := o.recorder.RecordTask(ctx, task); err != nil {
		o.logger.Warn("record task", "session", task.SessionID, "task", task.ID, "error", err)
	}
}

func normalizePlan(plan *models.ActionPlan) models.ActionPlan {
	if plan == nil {
		return models.ActionPlan{}
	}
	out := *plan
	out.Steps = append([]models.Step(nil), plan.Steps...)
	for i := range out.Steps {
		if out.Steps[i].ID == "" {
			out.Steps[i].ID = uuid.New().String()
		}
	}
	return out
}
