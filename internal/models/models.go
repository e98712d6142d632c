// Package models defines the shared data model for the desktop agent:
// sessions, tasks, steps and the values exchanged with the vision,
// planning and execution capabilities.
package models

import "time"

// AgentStatus is the state of a session's control loop.
type AgentStatus string

const (
	StatusIdle             AgentStatus = "idle"
	StatusObserving        AgentStatus = "observing"
	StatusPlanning         AgentStatus = "planning"
	StatusAwaitingApproval AgentStatus = "awaiting_approval"
	StatusActing           AgentStatus = "acting"
	StatusVerifying        AgentStatus = "verifying"
	StatusPaused           AgentStatus = "paused"
	StatusError            AgentStatus = "error"
	StatusDisabled         AgentStatus = "disabled"
	// StatusUnknown is reported for sessions that are not registered.
	StatusUnknown AgentStatus = "unknown"
)

// HasTask reports whether a session in this state owns a current task.
func (s AgentStatus) HasTask() bool {
	switch s {
	case StatusObserving, StatusPlanning, StatusAwaitingApproval,
		StatusActing, StatusVerifying, StatusPaused:
		return true
	}
	return false
}

// TaskStatus represents the lifecycle state of a task.
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
	TaskStatusCancelled  TaskStatus = "cancelled"
)

// Terminal reports whether the status is final.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed || s == TaskStatusCancelled
}

// ActionType is the kind of desktop operation a Step performs.
type ActionType string

const (
	ActionClick    ActionType = "click"
	ActionTypeText ActionType = "type"
	ActionScroll   ActionType = "scroll"
	ActionDrag     ActionType = "drag"
	ActionHotkey   ActionType = "hotkey"
	ActionWait     ActionType = "wait"
)

// ActionTypes lists every supported action kind.
var ActionTypes = []ActionType{ActionClick, ActionTypeText, ActionScroll, ActionDrag, ActionHotkey, ActionWait}

// Valid reports whether t is one of the known action kinds.
func (t ActionType) Valid() bool {
	for _, known := range ActionTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Step is one atomic desktop operation. Only the parameters relevant to
// Type are set; the rest stay at their zero values.
type Step struct {
	ID               string     `json:"id,omitempty"`
	Type             ActionType `json:"type"`
	Description      string     `json:"description"`
	RequiresApproval bool       `json:"requires_approval,omitempty"`

	// click, drag (start point), scroll (pointer position)
	X      int    `json:"x,omitempty"`
	Y      int    `json:"y,omitempty"`
	Button string `json:"button,omitempty"` // left, right, middle
	Double bool   `json:"double,omitempty"`

	// drag
	ToX int `json:"to_x,omitempty"`
	ToY int `json:"to_y,omitempty"`

	// type
	Text string `json:"text,omitempty"`

	// scroll
	Direction string `json:"direction,omitempty"` // up, down, left, right
	Amount    int    `json:"amount,omitempty"`

	// hotkey
	Modifiers []string `json:"modifiers,omitempty"`
	Key       string   `json:"key,omitempty"`

	// wait
	DurationMs int `json:"duration_ms,omitempty"`
}

// ValidationResult is the Safety Guard's verdict on a single step.
type ValidationResult struct {
	Allowed          bool   `json:"allowed"`
	RequiresApproval bool   `json:"requires_approval"`
	Reason           string `json:"reason,omitempty"`
	Suggestion       string `json:"suggestion,omitempty"`
}

// ValidationContext carries what the guard knows about the screen the
// step will act on.
type ValidationContext struct {
	WindowTitle string `json:"window_title,omitempty"`
}

// Rect is a screen-space rectangle in pixels.
type Rect struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// TextElement is a piece of OCR'd text found on screen.
type TextElement struct {
	Text       string  `json:"text"`
	Bounds     Rect    `json:"bounds"`
	Confidence float64 `json:"confidence,omitempty"`
}

// UIElement is an accessibility-tree element found on screen.
type UIElement struct {
	Role   string `json:"role"`
	Name   string `json:"name,omitempty"`
	Bounds Rect   `json:"bounds"`
}

// Screenshot is an immutable capture of the remote display.
type Screenshot struct {
	ID           string        `json:"id,omitempty"`
	Image        []byte        `json:"image"`
	Format       string        `json:"format,omitempty"` // png, jpeg
	Width        int           `json:"width,omitempty"`
	Height       int           `json:"height,omitempty"`
	WindowTitle  string        `json:"window_title,omitempty"`
	Timestamp    time.Time     `json:"timestamp"`
	TextElements []TextElement `json:"text_elements,omitempty"`
	UIElements   []UIElement   `json:"ui_elements,omitempty"`
}

// Analysis is the planner's reading of a screenshot against an intent.
type Analysis struct {
	RelevantToIntent bool        `json:"relevant_to_intent"`
	Description      string      `json:"description"`
	DetectedElements []UIElement `json:"detected_elements,omitempty"`
	SuggestedActions []string    `json:"suggested_actions,omitempty"`
}

// ActionPlan is the ordered list of steps that fulfils an intent.
type ActionPlan struct {
	Steps            []Step `json:"steps"`
	Reasoning        string `json:"reasoning,omitempty"`
	RequiresApproval bool   `json:"requires_approval"`
}

// Verification is the planner's judgement of a before/after pair.
type Verification struct {
	Success     bool    `json:"success"`
	Confidence  float64 `json:"confidence"`
	Observation string  `json:"observation,omitempty"`
	NextAction  string  `json:"next_action,omitempty"`
}

// ExecResult is what the action executor reports for one step.
type ExecResult struct {
	Success bool           `json:"success"`
	Data    map[string]any `json:"data,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// HistoryEntry records one executed step.
type HistoryEntry struct {
	SessionID string     `json:"session_id"`
	TaskID    string     `json:"task_id"`
	Action    Step       `json:"action"`
	Result    ExecResult `json:"result"`
	Timestamp time.Time  `json:"timestamp"`
}

// ConversationEntry is one turn of the user/agent exchange.
type ConversationEntry struct {
	Role      string    `json:"role"` // user, agent
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// TaskResult is attached to every task once it reaches a terminal state.
// StepsCompleted counts executed steps; blocked steps are only in
// StepsBlocked.
type TaskResult struct {
	Message         string      `json:"message"`
	StepsCompleted  int         `json:"steps_completed"`
	TotalSteps      int         `json:"total_steps"`
	StepsBlocked    int         `json:"steps_blocked,omitempty"`
	Error           string      `json:"error,omitempty"`
	FinalScreenshot *Screenshot `json:"final_screenshot,omitempty"`
}

// Task is one fulfilment attempt of a single user intent.
type Task struct {
	ID               string       `json:"id"`
	SessionID        string       `json:"session_id"`
	UserIntent       string       `json:"user_intent"`
	Status           TaskStatus   `json:"status"`
	Plan             ActionPlan   `json:"action_plan"`
	CurrentStepIndex int          `json:"current_step_index"`
	Screenshots      []Screenshot `json:"screenshots,omitempty"`
	RetryCount       int          `json:"retry_count"`
	StartedAt        time.Time    `json:"started_at"`
	CompletedAt      *time.Time   `json:"completed_at,omitempty"`
	Result           *TaskResult  `json:"result,omitempty"`
}

// Session is one user's agent-control context.
type Session struct {
	ID                  string              `json:"id"`
	UserID              string              `json:"user_id"`
	Status              AgentStatus         `json:"status"`
	CurrentTask         *Task               `json:"current_task,omitempty"`
	ConversationHistory []ConversationEntry `json:"conversation_history,omitempty"`
	ActionHistory       []HistoryEntry      `json:"action_history,omitempty"`
	CreatedAt           time.Time           `json:"created_at"`
	LastActivityAt      time.Time           `json:"last_activity_at"`
}

// PDREntry is a Process Decision Record for the audit trail.
type PDREntry struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"session_id,omitempty"`
	TaskID     string    `json:"task_id,omitempty"`
	Action     string    `json:"action"`
	InputsHash string    `json:"inputs_hash"`
	Outcome    string    `json:"outcome"`
	Details    string    `json:"details,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}
