package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/fentz26/deskpilot/internal/models"
)

// maxPlanLines bounds how many plan steps are drawn.
const maxPlanLines = 8

var (
	// Colors
	primaryColor = lipgloss.Color("#7C3AED")
	successColor = lipgloss.Color("#10B981")
	warningColor = lipgloss.Color("#F59E0B")
	errorColor   = lipgloss.Color("#EF4444")
	mutedColor   = lipgloss.Color("#6B7280")
	fgColor      = lipgloss.Color("#F9FAFB")
	cyanColor    = lipgloss.Color("#06B6D4")

	// Styles
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			Padding(0, 1)

	statusBarStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("#374151")).
			Foreground(fgColor).
			Padding(0, 1)

	inputBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(primaryColor).
			Padding(0, 1)

	approvalStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(warningColor).
			Foreground(warningColor).
			Padding(0, 1)

	currentStepStyle = lipgloss.NewStyle().
				Foreground(fgColor).
				Background(primaryColor).
				Bold(true)

	mutedStyle = lipgloss.NewStyle().Foreground(mutedColor)
)

// View implements tea.Model
func (a *App) View() string {
	var b strings.Builder

	link := lipgloss.NewStyle().Foreground(successColor).Render("● LIVE")
	if !a.connected {
		link = lipgloss.NewStyle().Foreground(errorColor).Render("○ OFFLINE")
	}
	status := models.StatusUnknown
	if a.session != nil && a.session.Session != nil {
		status = a.session.Status
	}
	header := titleStyle.Render("DeskPilot") +
		"  " + lipgloss.NewStyle().Foreground(cyanColor).Render("session "+a.sessionID) +
		"  " + formatStatus(status) +
		"  " + link
	b.WriteString(header + "\n")
	b.WriteString(strings.Repeat("─", max(a.width, 20)) + "\n")

	b.WriteString(renderPlan(a.plan, a.stepIndex))

	if a.session != nil && a.session.PendingApproval != nil {
		b.WriteString(approvalStyle.Render(describePending(a.session.PendingApproval.Reason, a.session.PendingApproval.Step)))
		b.WriteString("\n")
	}

	b.WriteString(a.viewport.View())
	b.WriteString("\n")

	if a.message != "" {
		msgStyle := lipgloss.NewStyle().Foreground(successColor)
		if a.isError {
			msgStyle = lipgloss.NewStyle().Foreground(errorColor)
		}
		b.WriteString(msgStyle.Render(a.message))
	}
	b.WriteString("\n")

	b.WriteString(inputBoxStyle.Render(a.input.View()))
	if a.suggestions.IsVisible() {
		b.WriteString("\n")
		b.WriteString(a.suggestions.Render(max(a.width, 40)))
	}
	b.WriteString("\n")

	help := " i:request | a:approve | r:reject | p:pause | u:resume | c:cancel | /:commands | q:quit"
	if a.input.Focused() {
		help = " Enter:send | Tab:complete | Esc:back | Ctrl+C:quit"
	}
	b.WriteString(statusBarStyle.Width(max(a.width, 20)).Render(help))

	return b.String()
}

// renderPlan draws the plan with the current step highlighted.
func renderPlan(plan *models.ActionPlan, current int) string {
	if plan == nil || len(plan.Steps) == 0 {
		return mutedStyle.Render("  No active plan.") + "\n"
	}

	var b strings.Builder
	b.WriteString(lipgloss.NewStyle().Bold(true).Render(fmt.Sprintf("  Plan (%d steps)", len(plan.Steps))))
	if plan.RequiresApproval {
		b.WriteString(lipgloss.NewStyle().Foreground(warningColor).Render("  needs approval"))
	}
	b.WriteString("\n")

	start := 0
	if current >= maxPlanLines {
		start = current - maxPlanLines + 1
	}
	for i := start; i < len(plan.Steps) && i < start+maxPlanLines; i++ {
		step := plan.Steps[i]
		marker := "○"
		switch {
		case i < current:
			marker = "●"
		case i == current:
			marker = "▶"
		}
		line := fmt.Sprintf("  %s %d. %s", marker, i+1, describeStep(step))
		if i == current {
			line = currentStepStyle.Render(line)
		} else if i < current {
			line = mutedStyle.Render(line)
		}
		b.WriteString(line + "\n")
	}
	return b.String()
}

// renderEventLog formats the event log, oldest first.
func renderEventLog(events []models.Event) string {
	var b strings.Builder
	for _, ev := range events {
		ts := ""
		if !ev.Timestamp.IsZero() {
			ts = ev.Timestamp.Local().Format("15:04:05") + " "
		}
		b.WriteString(mutedStyle.Render(ts))
		b.WriteString(describeEvent(ev))
		b.WriteString("\n")
	}
	return b.String()
}

// describeEvent renders one event as a single line.
func describeEvent(ev models.Event) string {
	switch ev.Kind {
	case models.EventStatusChanged:
		return fmt.Sprintf("status %s → %s", ev.PreviousStatus, ev.Status)
	case models.EventScreenshot:
		if ev.Screenshot != nil && ev.Screenshot.WindowTitle != "" {
			return fmt.Sprintf("captured screen (%s)", ev.Screenshot.WindowTitle)
		}
		return "captured screen"
	case models.EventActionPlanned:
		n := 0
		if ev.Plan != nil {
			n = len(ev.Plan.Steps)
		}
		return fmt.Sprintf("planned %d steps", n)
	case models.EventClarification:
		return "agent asks: " + ev.Message
	case models.EventActionRequiresApproval:
		return lipgloss.NewStyle().Foreground(warningColor).Render("approval needed: " + firstNonEmpty(ev.Reason, "review the plan"))
	case models.EventActionBlocked:
		return lipgloss.NewStyle().Foreground(errorColor).Render(fmt.Sprintf("step %d blocked: %s", ev.StepIndex+1, ev.Reason))
	case models.EventActionExecuting:
		if ev.Step != nil {
			return fmt.Sprintf("step %d: %s", ev.StepIndex+1, describeStep(*ev.Step))
		}
		return fmt.Sprintf("step %d executing", ev.StepIndex+1)
	case models.EventActionCompleted:
		if ev.Result != nil && !ev.Result.Success {
			return lipgloss.NewStyle().Foreground(errorColor).Render(fmt.Sprintf("step %d failed: %s", ev.StepIndex+1, ev.Result.Error))
		}
		return fmt.Sprintf("step %d done", ev.StepIndex+1)
	case models.EventTaskProgress:
		return fmt.Sprintf("progress %d/%d", ev.StepIndex, ev.TotalSteps)
	case models.EventTaskCompleted:
		msg := "task finished"
		if ev.TaskResult != nil {
			msg = fmt.Sprintf("task finished: %s (%d/%d steps)", ev.TaskResult.Message, ev.TaskResult.StepsCompleted, ev.TaskResult.TotalSteps)
		}
		return lipgloss.NewStyle().Foreground(successColor).Render(msg)
	case models.EventTaskCancelled:
		return lipgloss.NewStyle().Foreground(warningColor).Render("task cancelled: " + firstNonEmpty(ev.Reason, ev.Message))
	case models.EventError:
		return lipgloss.NewStyle().Foreground(errorColor).Render("error: " + ev.Message)
	default:
		return string(ev.Kind)
	}
}

func describeStep(step models.Step) string {
	if step.Description != "" {
		return fmt.Sprintf("%s: %s", step.Type, step.Description)
	}
	switch step.Type {
	case models.ActionClick:
		return fmt.Sprintf("click (%d, %d)", step.X, step.Y)
	case models.ActionTypeText:
		return fmt.Sprintf("type %q", step.Text)
	case models.ActionHotkey:
		return "hotkey " + strings.Join(append(append([]string(nil), step.Modifiers...), step.Key), "+")
	default:
		return string(step.Type)
	}
}

func describePending(reason string, step *models.Step) string {
	var b strings.Builder
	b.WriteString("Approval needed")
	if reason != "" {
		b.WriteString(": " + reason)
	}
	if step != nil {
		b.WriteString("\n" + describeStep(*step))
	}
	b.WriteString("\na: approve   r: reject")
	return b.String()
}

func formatStatus(status models.AgentStatus) string {
	switch status {
	case models.StatusIdle:
		return lipgloss.NewStyle().Foreground(successColor).Render("● IDLE")
	case models.StatusObserving, models.StatusPlanning:
		return lipgloss.NewStyle().Foreground(cyanColor).Render("◐ " + strings.ToUpper(string(status)))
	case models.StatusActing, models.StatusVerifying:
		return lipgloss.NewStyle().Foreground(primaryColor).Render("◑ " + strings.ToUpper(string(status)))
	case models.StatusAwaitingApproval:
		return lipgloss.NewStyle().Foreground(warningColor).Render("◌ AWAITING APPROVAL")
	case models.StatusPaused:
		return lipgloss.NewStyle().Foreground(warningColor).Render("‖ PAUSED")
	case models.StatusError:
		return lipgloss.NewStyle().Foreground(errorColor).Render("✗ ERROR")
	default:
		return mutedStyle.Render(string(status))
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
