package agent

import (
	"context"
	"time"

	"github.com/fentz26/deskpilot/internal/models"
)

// Vision captures the remote display.
type Vision interface {
	CaptureScreen(ctx context.Context) (*models.Screenshot, error)
}

// SessionReleaser is implemented by capabilities that hold per-session
// resources (capture streams, remote connections) to be released when a
// session is disabled.
type SessionReleaser interface {
	ReleaseSession(ctx context.Context, sessionID string) error
}

// Planner is the LLM-backed reasoning capability.
type Planner interface {
	AnalyzeScreen(ctx context.Context, shot *models.Screenshot, intent string) (*models.Analysis, error)
	PlanActions(ctx context.Context, analysis *models.Analysis, intent string) (*models.ActionPlan, error)
	VerifyResult(ctx context.Context, before, after *models.Screenshot, expectedOutcome string) (*models.Verification, error)
	GenerateClarification(ctx context.Context, intent, ambiguity string) (string, error)
}

// Executor performs validated steps against the target environment.
type Executor interface {
	ExecuteAction(ctx context.Context, step models.Step) (*models.ExecResult, error)
	Wait(ctx context.Context, d time.Duration) error
}

// Guard is the policy layer consulted before every step.
type Guard interface {
	ValidateAction(step models.Step, sessionID string, vctx models.ValidationContext) models.ValidationResult
	LogAction(step models.Step, result models.ExecResult, sessionID string)
	ResetTask(sessionID string)
	ClearSession(sessionID string)
}

// EventSink receives lifecycle events. Emit is called with the
// orchestrator's lock held: implementations must not block and must not
// call back into the orchestrator.
type EventSink interface {
	Emit(event models.Event)
}

// Recorder persists what the orchestrator decides and does. Failures
// are logged and never affect the control loop.
type Recorder interface {
	RecordTask(ctx context.Context, task *models.Task) error
	RecordAction(ctx context.Context, entry models.HistoryEntry) error
	RecordDecision(ctx context.Context, sessionID, taskID, action string, inputs any, outcome, details string) error
}

// Metrics observes task and step outcomes.
type Metrics interface {
	TaskFinished(status models.TaskStatus)
	StepFinished(outcome string, d time.Duration)
	Approval(decision string)
}

// Runner starts a task loop in the background. Go must not block; key
// identifies the session the loop belongs to.
type Runner interface {
	Go(key string, fn func(ctx context.Context)) error
}

type nopSink struct{}

func (nopSink) Emit(models.Event) {}

type nopRecorder struct{}

func (nopRecorder) RecordTask(context.Context, *models.Task) error { return nil }
func (nopRecorder) RecordAction(context.Context, models.HistoryEntry) error { return nil }
func (nopRecorder) RecordDecision(context.Context, string, string, string, any, string, string) error {
	return nil
}

type nopMetrics struct{}

func (nopMetrics) TaskFinished(models.TaskStatus) {}
func (nopMetrics) StepFinished(string, time.Duration) {}
func (nopMetrics) Approval(string) {}

// goRunner runs every loop on a plain goroutine.
type goRunner struct{}

func (goRunner) Go(_ string, fn func(ctx context.Context)) error {
	go fn(context.Background())
	return nil
}
