// Package connectors defines the contract shared by desktop adapters.
package connectors

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fentz26/deskpilot/internal/agent"
	"github.com/fentz26/deskpilot/internal/clock"
	"github.com/fentz26/deskpilot/internal/models"
)

// Connector drives one kind of desktop: it captures the screen and
// injects input.
type Connector interface {
	// Name returns the connector identifier.
	Name() string

	// CaptureScreen takes a screenshot of the session's display.
	CaptureScreen(ctx context.Context) (*models.Screenshot, error)

	// ExecuteAction performs one step.
	ExecuteAction(ctx context.Context, step models.Step) (*models.ExecResult, error)

	// Wait blocks for d or until ctx is done.
	Wait(ctx context.Context, d time.Duration) error
}

var (
	_ agent.Vision   = Connector(nil)
	_ agent.Executor = Connector(nil)
)

// Sleep waits d on clk, returning early with ctx's error.
func Sleep(ctx context.Context, clk clock.Clock, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-clk.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// StepDuration is the wait a wait step asks for.
func StepDuration(step models.Step) time.Duration {
	return time.Duration(step.DurationMs) * time.Millisecond
}

// KeyChord renders a hotkey step as "ctrl+shift+q". A step without a
// key renders its modifiers alone.
func KeyChord(step models.Step) string {
	parts := make([]string, 0, len(step.Modifiers)+1)
	for _, m := range step.Modifiers {
		parts = append(parts, strings.ToLower(strings.TrimSpace(m)))
	}
	if step.Key != "" {
		parts = append(parts, step.Key)
	}
	return strings.Join(parts, "+")
}

// Button returns the step's mouse button, defaulting to left.
func Button(step models.Step) string {
	if step.Button == "" {
		return "left"
	}
	return strings.ToLower(step.Button)
}

// CheckParams rejects steps missing the parameters their type needs.
func CheckParams(step models.Step) error {
	switch step.Type {
	case models.ActionClick, models.ActionWait:
		return nil
	case models.ActionTypeText:
		if step.Text == "" {
			return fmt.Errorf("type step has no text")
		}
	case models.ActionScroll:
		switch step.Direction {
		case "up", "down", "left", "right":
		default:
			return fmt.Errorf("invalid scroll direction %q", step.Direction)
		}
		if step.Amount <= 0 {
			return fmt.Errorf("scroll amount %d is not positive", step.Amount)
		}
	case models.ActionDrag:
		return nil
	case models.ActionHotkey:
		// A missing key is a plain modifier press.
		return nil
	default:
		return fmt.Errorf("unsupported action type %q", step.Type)
	}
	return nil
}
