package agent

import (
	"context"
	"fmt"

	"github.com/fentz26/deskpilot/internal/models"
)

// Step outcomes reported to Metrics.
const (
	stepSucceeded = "succeeded"
	stepRetried   = "retried"
	stepFailed    = "failed"
	stepBlocked   = "blocked"
	stepApproval  = "approval"
)

func (o *Orchestrator) startLoopLocked(st *sessionState, task *models.Task) {
	st.runner = task
	err := o.runner.Go(st.session.ID, func(ctx context.Context) {
		o.runLoop(ctx, st, task)
	})
	if err != nil {
		st.runner = nil
		failed := o.failTaskLocked(st, task, "could not start task", err)
		go o.finishRecorded(context.Background(), failed)
	}
}

// exitLocked marks the loop for task as gone.
func (o *Orchestrator) exitLocked(st *sessionState, task *models.Task) {
	if st.runner == task {
		st.runner = nil
	}
}

// loopStatusLocked moves the session to a loop-driven status. A paused
// session stays paused until the user resumes it.
func (o *Orchestrator) loopStatusLocked(st *sessionState, to models.AgentStatus) {
	if st.session.Status == models.StatusPaused {
		return
	}
	o.setStatusLocked(st, to)
}

// runLoop executes task's steps from CurrentStepIndex until the plan is
// done, the task suspends for approval or pause, or it leaves the
// session. Control operations take effect at step boundaries.
func (o *Orchestrator) runLoop(ctx context.Context, st *sessionState, task *models.Task) {
	sessionID := st.session.ID
	ctx = ContextWithSession(ctx, sessionID)

	for {
		o.mu.Lock()
		if !st.owns(task) || st.session.Status == models.StatusPaused {
			o.exitLocked(st, task)
			o.mu.Unlock()
			return
		}
		index := task.CurrentStepIndex
		total := len(task.Plan.Steps)
		if index >= total {
			completed := o.completeTaskLocked(st, task)
			o.exitLocked(st, task)
			o.mu.Unlock()
			o.finishRecorded(ctx, completed)
			return
		}
		step := task.Plan.Steps[index]
		// An approval covers one attempt; a retry asks again.
		approved := st.approved == index
		st.approved = -1
		o.loopStatusLocked(st, models.StatusActing)
		o.emitLocked(st, models.Event{
			Kind:       models.EventTaskProgress,
			TaskID:     task.ID,
			StepIndex:  index,
			TotalSteps: total,
			Message:    step.Description,
		})
		vctx := models.ValidationContext{}
		if n := len(task.Screenshots); n > 0 {
			vctx.WindowTitle = task.Screenshots[n-1].WindowTitle
		}
		o.mu.Unlock()

		if !approved || o.cfg.RevalidateOnResume {
			verdict := o.guard.ValidateAction(step, sessionID, vctx)
			if !verdict.Allowed {
				if !o.blockStep(ctx, st, task, index, step, verdict) {
					return
				}
				continue
			}
			if verdict.RequiresApproval && !approved {
				o.suspendForApproval(ctx, st, task, index, step, verdict)
				return
			}
		}

		if !o.executeStep(ctx, st, task, index, step) {
			return
		}
	}
}

// blockStep skips a step the guard refused. It reports whether the loop
// should continue.
func (o *Orchestrator) blockStep(ctx context.Context, st *sessionState, task *models.Task, index int, step models.Step, verdict models.ValidationResult) bool {
	o.mu.Lock()
	if !st.owns(task) {
		o.exitLocked(st, task)
		o.mu.Unlock()
		return false
	}
	st.blocked++
	task.CurrentStepIndex = index + 1
	o.emitLocked(st, models.Event{
		Kind:      models.EventActionBlocked,
		TaskID:    task.ID,
		StepIndex: index,
		Step:      &step,
		Reason:    verdict.Reason,
		Message:   verdict.Suggestion,
	})
	o.mu.Unlock()

	o.metrics.StepFinished(stepBlocked, 0)
	o.decide(ctx, st.session.ID, task.ID, "action.block", step, "blocked", verdict.Reason)
	o.logger.Warn("step blocked", "session", st.session.ID, "task", task.ID, "step", index, "reason", verdict.Reason)
	return true
}

func (o *Orchestrator) suspendForApproval(ctx context.Context, st *sessionState, task *models.Task, index int, step models.Step, verdict models.ValidationResult) {
	o.mu.Lock()
	if !st.owns(task) {
		o.exitLocked(st, task)
		o.mu.Unlock()
		return
	}
	o.exitLocked(st, task)
	if st.session.Status == models.StatusPaused {
		// Resume re-validates this step and asks again.
		o.mu.Unlock()
		return
	}
	stepCopy := step
	st.pending = &PendingApproval{
		ActionID:  step.ID,
		TaskID:    task.ID,
		StepIndex: index,
		Step:      &stepCopy,
		Reason:    verdict.Reason,
	}
	task.Status = models.TaskStatusPending
	o.setStatusLocked(st, models.StatusAwaitingApproval)
	o.emitLocked(st, models.Event{
		Kind:      models.EventActionRequiresApproval,
		TaskID:    task.ID,
		StepIndex: index,
		Step:      &stepCopy,
		Reason:    verdict.Reason,
	})
	o.mu.Unlock()

	o.metrics.StepFinished(stepApproval, 0)
	o.decide(ctx, st.session.ID, task.ID, "action.request_approval", step, "awaiting_approval", verdict.Reason)
}

// executeStep runs, settles and verifies one step. It reports whether the
// loop should continue.
func (o *Orchestrator) executeStep(ctx context.Context, st *sessionState, task *models.Task, index int, step models.Step) bool {
	sessionID := st.session.ID
	started := o.clock.Now()

	before, err := o.vision.CaptureScreen(ctx)
	if err != nil {
		o.failTask(ctx, st, task, "capture before step", capabilityError(KindVision, "capture screen", err))
		return false
	}

	o.mu.Lock()
	if !st.owns(task) {
		o.exitLocked(st, task)
		o.mu.Unlock()
		return false
	}
	o.emitLocked(st, models.Event{Kind: models.EventActionExecuting, TaskID: task.ID, StepIndex: index, Step: &step})
	o.mu.Unlock()

	result, err := o.executor.ExecuteAction(ctx, step)
	if err != nil {
		o.failTask(ctx, st, task, fmt.Sprintf("step %d could not be executed", index+1), capabilityError(KindExecution, "execute "+string(step.Type), err))
		return false
	}
	o.guard.LogAction(step, *result, sessionID)

	entry := models.HistoryEntry{
		SessionID: sessionID,
		TaskID:    task.ID,
		Action:    step,
		Result:    *result,
		Timestamp: o.clock.Now(),
	}
	o.mu.Lock()
	st.session.ActionHistory = appendBounded(st.session.ActionHistory, entry, o.cfg.HistoryLimit)
	owned := st.owns(task)
	if owned {
		resultCopy := *result
		o.emitLocked(st, models.Event{Kind: models.EventActionCompleted, TaskID: task.ID, StepIndex: index, Step: &step, Result: &resultCopy})
	} else {
		o.exitLocked(st, task)
	}
	o.mu.Unlock()

	if err := o.recorder.RecordAction(ctx, entry); err != nil {
		o.logger.Warn("record action", "session", sessionID, "task", task.ID, "error", err)
	}
	if !owned {
		return false
	}

	if err := o.executor.Wait(ctx, o.cfg.SettleDelay); err != nil {
		o.failTask(ctx, st, task, "settle wait interrupted", capabilityError(KindExecution, "wait", err))
		return false
	}

	after, err := o.vision.CaptureScreen(ctx)
	if err != nil {
		o.failTask(ctx, st, task, "capture after step", capabilityError(KindVision, "capture screen", err))
		return false
	}

	o.mu.Lock()
	if !st.owns(task) {
		o.exitLocked(st, task)
		o.mu.Unlock()
		return false
	}
	o.stampLocked(after, task)
	task.Screenshots = append(task.Screenshots, *after)
	o.emitLocked(st, models.Event{Kind: models.EventScreenshot, TaskID: task.ID, Screenshot: after})
	o.loopStatusLocked(st, models.StatusVerifying)
	o.mu.Unlock()

	verification, err := o.planner.VerifyResult(ctx, before, after, step.Description)
	if err != nil {
		o.failTask(ctx, st, task, "verification unavailable", capabilityError(KindVerification, "verify result", err))
		return false
	}

	o.mu.Lock()
	if !st.owns(task) {
		o.exitLocked(st, task)
		o.mu.Unlock()
		return false
	}
	elapsed := o.clock.Now().Sub(started)
	if !verification.Success && verification.Confidence > o.cfg.VerifyConfidenceThreshold {
		if task.RetryCount < o.cfg.MaxRetryAttempts {
			task.RetryCount++
			o.emitLocked(st, models.Event{
				Kind:       models.EventTaskProgress,
				TaskID:     task.ID,
				StepIndex:  index,
				TotalSteps: len(task.Plan.Steps),
				Message:    fmt.Sprintf("retrying step %d (attempt %d of %d): %s", index+1, task.RetryCount, o.cfg.MaxRetryAttempts, verification.Observation),
			})
			o.mu.Unlock()
			o.metrics.StepFinished(stepRetried, elapsed)
			return true
		}
		msg := fmt.Sprintf("step %d failed verification after %d attempts: max retries reached", index+1, task.RetryCount)
		failed := o.failTaskLocked(st, task, msg, capabilityError(KindVerification, "verify result", fmt.Errorf("%s", verification.Observation)))
		o.exitLocked(st, task)
		o.mu.Unlock()
		o.metrics.StepFinished(stepFailed, elapsed)
		o.finishRecorded(ctx, failed)
		return false
	}
	task.CurrentStepIndex = index + 1
	o.mu.Unlock()

	o.metrics.StepFinished(stepSucceeded, elapsed)
	return true
}

// failTask fails task if it still belongs to the session.
func (o *Orchestrator) failTask(ctx context.Context, st *sessionState, task *models.Task, msg string, err error) {
	o.mu.Lock()
	if !st.owns(task) {
		o.exitLocked(st, task)
		o.mu.Unlock()
		return
	}
	failed := o.failTaskLocked(st, task, msg, err)
	o.exitLocked(st, task)
	o.mu.Unlock()

	o.logger.Error("task failed", "session", st.session.ID, "task", task.ID, "kind", KindOf(err), "error", err)
	o.finishRecorded(ctx, failed)
}

// expireTask fails task once its wall-clock budget is spent.
func (o *Orchestrator) expireTask(st *sessionState, task *models.Task) {
	o.mu.Lock()
	if !st.owns(task) {
		o.mu.Unlock()
		return
	}
	msg := fmt.Sprintf("task timed out after %s", o.cfg.TaskTimeout)
	failed := o.failTaskLocked(st, task, msg, capabilityError(KindTimeout, "run task", fmt.Errorf("exceeded %s", o.cfg.TaskTimeout)))
	o.mu.Unlock()

	o.logger.Warn("task timed out", "session", st.session.ID, "task", task.ID, "timeout", o.cfg.TaskTimeout)
	o.finishRecorded(context.Background(), failed)
}

// endTaskLocked moves task to a terminal status, detaches it from the
// session and returns a snapshot.
func (o *Orchestrator) endTaskLocked(st *sessionState, task *models.Task, status models.TaskStatus, result models.TaskResult) *models.Task {
	now := o.clock.Now()
	task.Status = status
	task.CompletedAt = &now
	result.TotalSteps = len(task.Plan.Steps)
	result.StepsBlocked = st.blocked
	if n := len(task.Screenshots); n > 0 {
		final := task.Screenshots[n-1]
		result.FinalScreenshot = &final
	}
	task.Result = &result

	if st.timer != nil {
		st.timer.Stop()
		st.timer = nil
	}
	st.pending = nil
	st.approved = -1
	st.session.CurrentTask = nil
	return copyTask(task)
}

func (o *Orchestrator) completeTaskLocked(st *sessionState, task *models.Task) *models.Task {
	total := len(task.Plan.Steps)
	executed := total - st.blocked
	msg := fmt.Sprintf("completed %d of %d steps", executed, total)
	if st.blocked > 0 {
		msg += fmt.Sprintf(" (%d blocked)", st.blocked)
	}
	done := o.endTaskLocked(st, task, models.TaskStatusCompleted, models.TaskResult{
		Message:        msg,
		StepsCompleted: executed,
	})
	o.converseLocked(st, "agent", msg)
	o.emitLocked(st, models.Event{Kind: models.EventTaskCompleted, TaskID: task.ID, TaskResult: done.Result})
	o.setStatusLocked(st, models.StatusIdle)
	o.logger.Info("task completed", "session", st.session.ID, "task", task.ID, "steps", total, "blocked", st.blocked)
	return done
}

func (o *Orchestrator) failTaskLocked(st *sessionState, task *models.Task, msg string, err error) *models.Task {
	result := models.TaskResult{Message: msg, StepsCompleted: task.CurrentStepIndex - st.blocked}
	if err != nil {
		result.Error = err.Error()
	}
	failed := o.endTaskLocked(st, task, models.TaskStatusFailed, result)
	o.converseLocked(st, "agent", msg)
	o.emitLocked(st, models.Event{Kind: models.EventError, TaskID: task.ID, Message: msg, TaskResult: failed.Result})
	o.setStatusLocked(st, models.StatusError)
	return failed
}

func (o *Orchestrator) cancelTaskLocked(st *sessionState, task *models.Task, reason string) *models.Task {
	cancelled := o.endTaskLocked(st, task, models.TaskStatusCancelled, models.TaskResult{
		Message:        reason,
		StepsCompleted: task.CurrentStepIndex - st.blocked,
	})
	o.converseLocked(st, "agent", reason)
	o.emitLocked(st, models.Event{Kind: models.EventTaskCancelled, TaskID: task.ID, TaskResult: cancelled.Result})
	o.setStatusLocked(st, models.StatusIdle)
	o.logger.Info("task cancelled", "session", st.session.ID, "task", task.ID, "reason", reason)
	return cancelled
}
