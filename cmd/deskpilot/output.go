package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/fentz26/deskpilot/internal/models"
)

var (
	okText    = color.New(color.FgGreen).SprintFunc()
	warnText  = color.New(color.FgYellow).SprintFunc()
	errorText = color.New(color.FgRed).SprintFunc()
	infoText  = color.New(color.FgCyan).SprintFunc()
	boldText  = color.New(color.Bold).SprintFunc()
)

// jsonOutput switches list and show commands to raw JSON.
var jsonOutput bool

func newTable(w io.Writer, header ...interface{}) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row(header))
	return t
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func agentStatus(s models.AgentStatus) string {
	label := string(s)
	switch s {
	case models.StatusIdle:
		return okText(label)
	case models.StatusAwaitingApproval, models.StatusPaused:
		return warnText(label)
	case models.StatusError, models.StatusDisabled:
		return errorText(label)
	default:
		return infoText(label)
	}
}

func taskStatus(s models.TaskStatus) string {
	label := string(s)
	switch s {
	case models.TaskStatusCompleted:
		return okText(label)
	case models.TaskStatusCancelled:
		return warnText(label)
	case models.TaskStatusFailed:
		return errorText(label)
	default:
		return infoText(label)
	}
}

func describeStep(step models.Step) string {
	if step.Description != "" {
		return fmt.Sprintf("%s: %s", step.Type, step.Description)
	}
	switch step.Type {
	case models.ActionClick, models.ActionDrag:
		return fmt.Sprintf("%s (%d, %d)", step.Type, step.X, step.Y)
	case models.ActionTypeText:
		return fmt.Sprintf("type %q", step.Text)
	case models.ActionHotkey:
		return "hotkey " + strings.Join(append(append([]string(nil), step.Modifiers...), step.Key), "+")
	default:
		return string(step.Type)
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}
