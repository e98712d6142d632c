package agent

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fentz26/deskpilot/internal/clock"
	"github.com/fentz26/deskpilot/internal/models"
	"github.com/fentz26/deskpilot/internal/safety"
)

var epoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type fakeVision struct {
	mu       sync.Mutex
	captures int
	err      error
	title    string
	released []string
}

func (v *fakeVision) CaptureScreen(ctx context.Context) (*models.Screenshot, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.err != nil {
		return nil, v.err
	}
	v.captures++
	return &models.Screenshot{
		Image:       []byte("png"),
		Format:      "png",
		Width:       1920,
		Height:      1080,
		WindowTitle: v.title,
		Timestamp:   epoch.Add(time.Duration(v.captures) * time.Second),
	}, nil
}

func (v *fakeVision) ReleaseSession(ctx context.Context, sessionID string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.released = append(v.released, sessionID)
	return nil
}

func (v *fakeVision) setErr(err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.err = err
}

type fakePlanner struct {
	mu            sync.Mutex
	relevant      bool
	plan          models.ActionPlan
	analyzeErr    error
	planErr       error
	clarification string
	// verify returns the outcome of the n-th verification (0-based).
	verify      func(n int) *models.Verification
	verifyCalls int
}

func (p *fakePlanner) AnalyzeScreen(ctx context.Context, shot *models.Screenshot, intent string) (*models.Analysis, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.analyzeErr != nil {
		return nil, p.analyzeErr
	}
	return &models.Analysis{RelevantToIntent: p.relevant, Description: "a text editor is open"}, nil
}

func (p *fakePlanner) PlanActions(ctx context.Context, analysis *models.Analysis, intent string) (*models.ActionPlan, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.planErr != nil {
		return nil, p.planErr
	}
	plan := p.plan
	plan.Steps = append([]models.Step(nil), p.plan.Steps...)
	return &plan, nil
}

func (p *fakePlanner) VerifyResult(ctx context.Context, before, after *models.Screenshot, expected string) (*models.Verification, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := p.verifyCalls
	p.verifyCalls++
	if p.verify != nil {
		return p.verify(n), nil
	}
	return &models.Verification{Success: true, Confidence: 0.95}, nil
}

func (p *fakePlanner) GenerateClarification(ctx context.Context, intent, ambiguity string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.clarification == "" {
		return "Which window do you mean?", nil
	}
	return p.clarification, nil
}

type fakeExecutor struct {
	mu       sync.Mutex
	executed []models.Step
	started  chan models.Step
	gate     chan struct{}
	err      error
	waits    []time.Duration
}

func (e *fakeExecutor) ExecuteAction(ctx context.Context, step models.Step) (*models.ExecResult, error) {
	e.mu.Lock()
	started, gate := e.started, e.gate
	e.mu.Unlock()

	if started != nil {
		started <- step
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return nil, e.err
	}
	e.executed = append(e.executed, step)
	return &models.ExecResult{Success: true}, nil
}

func (e *fakeExecutor) Wait(ctx context.Context, d time.Duration) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.waits = append(e.waits, d)
	return nil
}

func (e *fakeExecutor) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.executed)
}

func (e *fakeExecutor) steps() []models.Step {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]models.Step(nil), e.executed...)
}

// block makes ExecuteAction wait for a release and report each start.
func (e *fakeExecutor) block() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.started = make(chan models.Step, 32)
	e.gate = make(chan struct{})
}

func (e *fakeExecutor) release() { e.gate <- struct{}{} }

func (e *fakeExecutor) releaseAll() { close(e.gate) }

type recordingSink struct {
	mu     sync.Mutex
	events []models.Event
}

func (s *recordingSink) Emit(ev models.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *recordingSink) ofKind(kind models.EventKind) []models.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Event
	for _, ev := range s.events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

func (s *recordingSink) statuses(sessionID string) []models.AgentStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.AgentStatus
	for _, ev := range s.events {
		if ev.Kind == models.EventStatusChanged && ev.SessionID == sessionID {
			out = append(out, ev.Status)
		}
	}
	return out
}

type recordingRecorder struct {
	mu        sync.Mutex
	tasks     []*models.Task
	actions   []models.HistoryEntry
	decisions []string
}

func (r *recordingRecorder) RecordTask(ctx context.Context, task *models.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks = append(r.tasks, task)
	return nil
}

func (r *recordingRecorder) RecordAction(ctx context.Context, entry models.HistoryEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions = append(r.actions, entry)
	return nil
}

func (r *recordingRecorder) RecordDecision(ctx context.Context, sessionID, taskID, action string, inputs any, outcome, details string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.decisions = append(r.decisions, action+":"+outcome)
	return errors.New("audit store offline")
}

func (r *recordingRecorder) taskCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tasks)
}

// testingT is satisfied by both *testing.T and *rapid.T.
type testingT interface {
	require.TestingT
	Helper()
}

type harness struct {
	o        *Orchestrator
	vision   *fakeVision
	planner  *fakePlanner
	executor *fakeExecutor
	guard    *safety.Guard
	sink     *recordingSink
	recorder *recordingRecorder
	clock    *clock.FakeClock
}

func newHarness(t testingT, configure func(*Config)) *harness {
	t.Helper()

	clk := clock.Fake(epoch)
	guard, err := safety.New(safety.DefaultConfig(), safety.WithClock(clk))
	require.NoError(t, err)

	h := &harness{
		vision:   &fakeVision{title: "notes.txt - Editor"},
		planner:  &fakePlanner{relevant: true},
		executor: &fakeExecutor{},
		guard:    guard,
		sink:     &recordingSink{},
		recorder: &recordingRecorder{},
		clock:    clk,
	}
	cfg := DefaultConfig()
	if configure != nil {
		configure(&cfg)
	}
	h.o, err = New(Deps{
		Vision:   h.vision,
		Planner:  h.planner,
		Executor: h.executor,
		Guard:    guard,
		Events:   h.sink,
		Recorder: h.recorder,
		Clock:    clk,
	}, cfg)
	require.NoError(t, err)
	return h
}

func (h *harness) enable(t testingT, sessionID string) {
	t.Helper()
	_, err := h.o.EnableAgent(context.Background(), "user-1", sessionID)
	require.NoError(t, err)
}

func (h *harness) waitStatus(t require.TestingT, sessionID string, want models.AgentStatus) {
	require.Eventually(t, func() bool {
		return h.o.GetAgentStatus(sessionID) == want
	}, 2*time.Second, time.Millisecond, "session never reached %s", want)
}

func clickStep(desc string, x, y int) models.Step {
	return models.Step{Type: models.ActionClick, Description: desc, X: x, Y: y, Button: "left"}
}

func typeStep(desc, text string) models.Step {
	return models.Step{Type: models.ActionTypeText, Description: desc, Text: text}
}
