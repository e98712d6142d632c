package models

import "time"

// EventKind identifies what an Event reports.
type EventKind string

const (
	EventStatusChanged          EventKind = "status_changed"
	EventScreenshot             EventKind = "screenshot"
	EventActionPlanned          EventKind = "action_planned"
	EventClarification          EventKind = "clarification"
	EventActionRequiresApproval EventKind = "action_requires_approval"
	EventActionBlocked          EventKind = "action_blocked"
	EventActionExecuting        EventKind = "action_executing"
	EventActionCompleted        EventKind = "action_completed"
	EventTaskProgress           EventKind = "task_progress"
	EventTaskCompleted          EventKind = "task_completed"
	EventTaskCancelled          EventKind = "task_cancelled"
	EventError                  EventKind = "error"
)

// Event is a lifecycle notification for one session. Which of the
// optional fields are populated depends on Kind:
//
//	status_changed            Status, PreviousStatus
//	screenshot                Screenshot
//	action_planned            TaskID, Plan
//	clarification             Message
//	action_requires_approval  TaskID, StepIndex, Step, Reason (Plan for whole-plan approval)
//	action_blocked            TaskID, StepIndex, Step, Reason
//	action_executing          TaskID, StepIndex, Step
//	action_completed          TaskID, StepIndex, Step, Result
//	task_progress             TaskID, StepIndex, TotalSteps, Message
//	task_completed            TaskID, TaskResult
//	task_cancelled            TaskID, TaskResult
//	error                     TaskID, Message, TaskResult
type Event struct {
	Kind      EventKind `json:"kind"`
	SessionID string    `json:"session_id"`
	Timestamp time.Time `json:"timestamp"`

	TaskID         string      `json:"task_id,omitempty"`
	Status         AgentStatus `json:"status,omitempty"`
	PreviousStatus AgentStatus `json:"previous_status,omitempty"`
	StepIndex      int         `json:"step_index,omitempty"`
	TotalSteps     int         `json:"total_steps,omitempty"`
	Step           *Step       `json:"step,omitempty"`
	Plan           *ActionPlan `json:"plan,omitempty"`
	Screenshot     *Screenshot `json:"screenshot,omitempty"`
	Result         *ExecResult `json:"result,omitempty"`
	TaskResult     *TaskResult `json:"task_result,omitempty"`
	Message        string      `json:"message,omitempty"`
	Reason         string      `json:"reason,omitempty"`
}
