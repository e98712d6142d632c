// Package tui provides the interactive terminal monitor for a DeskPilot
// session.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/fentz26/deskpilot/internal/controlplane"
	"github.com/fentz26/deskpilot/internal/models"
)

const (
	// maxEvents bounds the event log kept in memory.
	maxEvents = 500
	// reconnectDelay is waited before reopening a dropped event stream.
	reconnectDelay = 2 * time.Second
	// refreshInterval polls the session in case events were dropped.
	refreshInterval = 5 * time.Second
	requestTimeout  = 10 * time.Second
)

// App is the session monitor model.
type App struct {
	api       API
	sessionID string

	ctx    context.Context
	cancel context.CancelFunc
	events chan models.Event

	session   *controlplane.SessionView
	plan      *models.ActionPlan
	taskID    string
	stepIndex int
	log       []models.Event

	input       textinput.Model
	viewport    viewport.Model
	suggestions *Suggestions
	width       int
	height      int
	message     string
	isError     bool
	connected   bool
}

// New creates a monitor for sessionID.
func New(api API, sessionID string) *App {
	ti := textinput.New()
	ti.Placeholder = "Describe a task, or /approve /reject /pause /resume /cancel"
	ti.CharLimit = 512
	ti.Width = 80

	ctx, cancel := context.WithCancel(context.Background())
	return &App{
		api:         api,
		sessionID:   sessionID,
		ctx:         ctx,
		cancel:      cancel,
		events:      make(chan models.Event, 64),
		stepIndex:   -1,
		input:       ti,
		viewport:    viewport.New(80, 20),
		suggestions: NewSuggestions(),
	}
}

// Run starts the TUI application.
func (a *App) Run() error {
	defer a.cancel()
	p := tea.NewProgram(a, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// Init implements tea.Model
func (a *App) Init() tea.Cmd {
	return tea.Batch(
		textinput.Blink,
		a.fetchSession(),
		a.openStream(),
		a.waitForEvent(),
		a.tickCmd(),
	)
}

// Update implements tea.Model
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if cmd, handled := a.handleKey(msg); handled {
			return a, cmd
		}

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.input.Width = max(msg.Width-6, 10)
		a.viewport.Width = msg.Width
		a.viewport.Height = max(msg.Height-a.chromeHeight(), 3)
		a.refreshLog()

	case sessionLoadedMsg:
		if msg.err != nil {
			a.setError(msg.err)
			break
		}
		a.applySession(msg.session)

	case eventMsg:
		a.connected = true
		a.applyEvent(msg.event)
		cmds = append(cmds, a.waitForEvent())
		if msg.event.Kind == models.EventStatusChanged || msg.event.Kind == models.EventActionRequiresApproval {
			cmds = append(cmds, a.fetchSession())
		}

	case streamClosedMsg:
		a.connected = false
		if a.ctx.Err() != nil {
			return a, nil
		}
		if msg.err != nil {
			a.setError(fmt.Errorf("event stream: %w", msg.err))
		}
		cmds = append(cmds, tea.Tick(reconnectDelay, func(time.Time) tea.Msg { return reconnectMsg{} }))

	case reconnectMsg:
		cmds = append(cmds, a.openStream(), a.fetchSession())

	case tickMsg:
		cmds = append(cmds, a.fetchSession(), a.tickCmd())

	case commandResultMsg:
		if msg.err != nil {
			a.setError(msg.err)
		} else {
			a.message = msg.message
			a.isError = false
		}
		cmds = append(cmds, a.fetchSession())
	}

	var cmd tea.Cmd
	a.input, cmd = a.input.Update(msg)
	cmds = append(cmds, cmd)
	if a.input.Focused() {
		a.suggestions.Update(a.input.Value())
	}
	a.viewport, cmd = a.viewport.Update(msg)
	cmds = append(cmds, cmd)

	return a, tea.Batch(cmds...)
}

// handleKey processes keys that drive the monitor rather than the input.
func (a *App) handleKey(msg tea.KeyMsg) (tea.Cmd, bool) {
	key := msg.String()
	if key == "ctrl+c" {
		a.cancel()
		return tea.Quit, true
	}

	if a.input.Focused() {
		switch key {
		case "esc":
			a.input.Blur()
			a.input.SetValue("")
			a.suggestions.Update("")
			return nil, true
		case "tab":
			if selected := a.suggestions.Selected(); selected != nil {
				a.input.SetValue(selected.Text)
				a.input.CursorEnd()
				a.suggestions.Update("")
			}
			return nil, true
		case "up":
			if a.suggestions.IsVisible() {
				a.suggestions.Prev()
				return nil, true
			}
		case "down":
			if a.suggestions.IsVisible() {
				a.suggestions.Next()
				return nil, true
			}
		case "enter":
			value := strings.TrimSpace(a.input.Value())
			a.input.SetValue("")
			a.input.Blur()
			a.suggestions.Update("")
			if value == "" {
				return nil, true
			}
			return a.executeCommand(value), true
		}
		return nil, false
	}

	switch key {
	case "q":
		a.cancel()
		return tea.Quit, true
	case "i", "enter":
		return a.input.Focus(), true
	case "/":
		a.input.SetValue("/")
		a.input.CursorEnd()
		a.suggestions.Update("/")
		return a.input.Focus(), true
	case "a":
		return a.executeCommand("/approve"), true
	case "r":
		return a.executeCommand("/reject"), true
	case "p":
		return a.executeCommand("/pause"), true
	case "u":
		return a.executeCommand("/resume"), true
	case "c":
		return a.executeCommand("/cancel"), true
	}
	return nil, false
}

// executeCommand runs a slash command or submits value as a request.
func (a *App) executeCommand(value string) tea.Cmd {
	if !strings.HasPrefix(value, "/") {
		return a.call("request submitted", func(ctx context.Context) error {
			return a.api.Submit(ctx, a.sessionID, value)
		})
	}

	name := strings.Fields(strings.TrimPrefix(value, "/"))
	if len(name) == 0 {
		return nil
	}
	actionID := ""
	if a.session != nil && a.session.PendingApproval != nil {
		actionID = a.session.PendingApproval.ActionID
	}

	switch name[0] {
	case "approve":
		return a.call("approved", func(ctx context.Context) error {
			return a.api.Approve(ctx, a.sessionID, actionID)
		})
	case "reject":
		return a.call("rejected", func(ctx context.Context) error {
			return a.api.Reject(ctx, a.sessionID, actionID)
		})
	case "pause":
		return a.call("pausing after the current step", func(ctx context.Context) error {
			return a.api.Pause(ctx, a.sessionID)
		})
	case "resume":
		return a.call("resumed", func(ctx context.Context) error {
			return a.api.Resume(ctx, a.sessionID)
		})
	case "cancel":
		return a.call("cancelled", func(ctx context.Context) error {
			return a.api.Cancel(ctx, a.sessionID)
		})
	case "refresh":
		return a.fetchSession()
	case "quit":
		a.cancel()
		return tea.Quit
	default:
		a.setError(fmt.Errorf("unknown command /%s", name[0]))
		return nil
	}
}

func (a *App) call(success string, fn func(ctx context.Context) error) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(a.ctx, requestTimeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			return commandResultMsg{err: err}
		}
		return commandResultMsg{message: success}
	}
}

func (a *App) applySession(view *controlplane.SessionView) {
	a.session = view
	if view == nil || view.Session == nil {
		return
	}
	a.suggestions.SetStatus(view.Status)
	if task := view.CurrentTask; task != nil {
		plan := task.Plan
		a.plan = &plan
		a.taskID = task.ID
		a.stepIndex = task.CurrentStepIndex
	}
}

func (a *App) applyEvent(ev models.Event) {
	a.log = append(a.log, ev)
	if len(a.log) > maxEvents {
		a.log = a.log[len(a.log)-maxEvents:]
	}

	switch ev.Kind {
	case models.EventStatusChanged:
		if a.session != nil && a.session.Session != nil {
			a.session.Status = ev.Status
		}
		a.suggestions.SetStatus(ev.Status)
	case models.EventActionPlanned:
		a.plan = ev.Plan
		a.taskID = ev.TaskID
		a.stepIndex = 0
	case models.EventActionExecuting, models.EventTaskProgress:
		a.stepIndex = ev.StepIndex
	case models.EventTaskCompleted, models.EventTaskCancelled:
		if ev.TaskResult != nil {
			a.stepIndex = ev.TaskResult.StepsCompleted
		}
	case models.EventClarification:
		a.message = "Agent asks: " + ev.Message
		a.isError = false
	case models.EventError:
		a.message = "Error: " + ev.Message
		a.isError = true
	}
	a.refreshLog()
}

func (a *App) refreshLog() {
	atBottom := a.viewport.AtBottom()
	a.viewport.SetContent(renderEventLog(a.log))
	if atBottom {
		a.viewport.GotoBottom()
	}
}

func (a *App) setError(err error) {
	a.message = "Error: " + err.Error()
	a.isError = true
}

// chromeHeight is the number of lines used by everything but the log.
func (a *App) chromeHeight() int {
	steps := 0
	if a.plan != nil {
		steps = min(len(a.plan.Steps), maxPlanLines)
	}
	return 10 + steps
}

func (a *App) fetchSession() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(a.ctx, requestTimeout)
		defer cancel()
		view, err := a.api.Session(ctx, a.sessionID)
		return sessionLoadedMsg{session: view, err: err}
	}
}

// openStream follows the session's events until the stream ends.
func (a *App) openStream() tea.Cmd {
	return func() tea.Msg {
		err := a.api.Events(a.ctx, a.sessionID, func(ev models.Event) error {
			select {
			case a.events <- ev:
				return nil
			case <-a.ctx.Done():
				return a.ctx.Err()
			}
		})
		return streamClosedMsg{err: err}
	}
}

func (a *App) waitForEvent() tea.Cmd {
	return func() tea.Msg {
		select {
		case ev := <-a.events:
			return eventMsg{event: ev}
		case <-a.ctx.Done():
			return nil
		}
	}
}

func (a *App) tickCmd() tea.Cmd {
	return tea.Tick(refreshInterval, func(time.Time) tea.Msg {
		return tickMsg{}
	})
}
