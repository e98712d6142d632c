package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/fentz26/deskpilot/internal/client"
	"github.com/fentz26/deskpilot/internal/config"
	"github.com/fentz26/deskpilot/internal/models"
	"github.com/fentz26/deskpilot/internal/tui"
)

var watchCmd = &cobra.Command{
	Use:   "watch [session-id]",
	Short: "Monitor and steer a session interactively",
	Long: `Opens the terminal monitor for a session: the plan, live events and
approval prompts. With --plain the events are printed line by line instead.`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

var (
	watchPlain  bool
	startDaemon bool
)

// errStopFollow ends an event stream without reporting an error.
var errStopFollow = errors.New("stop following")

func init() {
	watchCmd.Flags().BoolVar(&watchPlain, "plain", false, "Print events instead of opening the monitor")
	watchCmd.Flags().BoolVar(&startDaemon, "start", true, "Start the daemon in the background if it is not running")
}

func runWatch(cmd *cobra.Command, args []string) error {
	c, err := newClient(cmd)
	if err != nil {
		return err
	}
	sessionID := args[0]

	if !isDaemonRunning(cmd.Context(), c) {
		if !startDaemon {
			return fmt.Errorf("daemon not reachable at %s", c.BaseURL())
		}
		fmt.Println(infoText("DeskPilot daemon not running. Starting background service..."))
		if err := spawnDaemon(cmd.Context(), c); err != nil {
			return fmt.Errorf("failed to start daemon: %w", err)
		}
	}

	// Make sure the session exists before opening a stream on it.
	if _, err := c.Session(cmd.Context(), sessionID); err != nil {
		if !client.IsStatus(err, http.StatusNotFound) {
			return err
		}
		if _, err := c.EnableSession(cmd.Context(), sessionID); err != nil {
			return err
		}
	}

	if watchPlain {
		return followEvents(cmd.Context(), c, sessionID, nil, nil)
	}

	app := tui.New(c, sessionID)
	if err := app.Run(); err != nil {
		return fmt.Errorf("TUI error: %w", err)
	}
	return nil
}

// followEvents prints a session's events. ready, when set, is closed
// once the subscription is live. stop, when set, ends the stream after
// the first event it accepts.
func followEvents(ctx context.Context, c *client.Client, sessionID string, ready chan struct{}, stop func(models.Event) bool) error {
	var opened func()
	if ready != nil {
		opened = func() { close(ready) }
	}
	err := c.Follow(ctx, sessionID, opened, func(ev models.Event) error {
		fmt.Println(eventLine(ev))
		if stop != nil && stop(ev) {
			return errStopFollow
		}
		return nil
	})
	if errors.Is(err, errStopFollow) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// stopOnSettled stops once the task needs the user or has ended.
func stopOnSettled(ev models.Event) bool {
	switch ev.Kind {
	case models.EventTaskCompleted, models.EventTaskCancelled,
		models.EventClarification, models.EventActionRequiresApproval:
		return true
	case models.EventStatusChanged:
		return ev.Status == models.StatusError
	}
	return false
}

func eventLine(ev models.Event) string {
	ts := ev.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	prefix := ts.Local().Format("15:04:05") + " "

	switch ev.Kind {
	case models.EventStatusChanged:
		return prefix + fmt.Sprintf("status %s -> %s", ev.PreviousStatus, agentStatus(ev.Status))
	case models.EventScreenshot:
		if ev.Screenshot != nil && ev.Screenshot.WindowTitle != "" {
			return prefix + fmt.Sprintf("captured screen (%s)", ev.Screenshot.WindowTitle)
		}
		return prefix + "captured screen"
	case models.EventActionPlanned:
		if ev.Plan == nil {
			return prefix + "planned"
		}
		line := prefix + fmt.Sprintf("planned %d steps", len(ev.Plan.Steps))
		for i, step := range ev.Plan.Steps {
			line += fmt.Sprintf("\n         %d. %s", i+1, describeStep(step))
		}
		return line
	case models.EventClarification:
		return prefix + infoText("agent asks: "+ev.Message)
	case models.EventActionRequiresApproval:
		reason := ev.Reason
		if reason == "" {
			reason = "review the plan"
		}
		return prefix + warnText(fmt.Sprintf("approval needed: %s (deskpilot approve %s)", reason, ev.SessionID))
	case models.EventActionBlocked:
		return prefix + errorText(fmt.Sprintf("step %d blocked: %s", ev.StepIndex+1, ev.Reason))
	case models.EventActionExecuting:
		if ev.Step != nil {
			return prefix + fmt.Sprintf("step %d: %s", ev.StepIndex+1, describeStep(*ev.Step))
		}
		return prefix + fmt.Sprintf("step %d executing", ev.StepIndex+1)
	case models.EventActionCompleted:
		if ev.Result != nil && !ev.Result.Success {
			return prefix + errorText(fmt.Sprintf("step %d failed: %s", ev.StepIndex+1, ev.Result.Error))
		}
		return prefix + fmt.Sprintf("step %d done", ev.StepIndex+1)
	case models.EventTaskProgress:
		return prefix + fmt.Sprintf("progress %d/%d", ev.StepIndex, ev.TotalSteps)
	case models.EventTaskCompleted:
		if ev.TaskResult != nil {
			return prefix + okText(fmt.Sprintf("task finished: %s (%d/%d steps)",
				ev.TaskResult.Message, ev.TaskResult.StepsCompleted, ev.TaskResult.TotalSteps))
		}
		return prefix + okText("task finished")
	case models.EventTaskCancelled:
		reason := ev.Reason
		if reason == "" {
			reason = ev.Message
		}
		return prefix + warnText("task cancelled: "+reason)
	case models.EventError:
		return prefix + errorText("error: "+ev.Message)
	default:
		return prefix + string(ev.Kind)
	}
}

func isDaemonRunning(ctx context.Context, c *client.Client) bool {
	ctx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()
	_, err := c.Health(ctx)
	return err == nil
}

// spawnDaemon starts "deskpilot serve" detached from this terminal and
// waits for it to answer health checks. Its output goes to daemon.log
// in the config directory.
func spawnDaemon(ctx context.Context, c *client.Client) error {
	exe, err := os.Executable()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(config.Dir(), 0o755); err != nil {
		return err
	}
	logFile, err := os.OpenFile(filepath.Join(config.Dir(), "daemon.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer logFile.Close()

	cmd := exec.Command(exe, "serve", "--config", configPath)
	detach(cmd)
	cmd.Stdin = nil
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	if err := cmd.Start(); err != nil {
		return err
	}
	// The daemon outlives this process.
	_ = cmd.Process.Release()

	fmt.Print("   Waiting for daemon...")
	for i := 0; i < 20; i++ {
		if isDaemonRunning(ctx, c) {
			fmt.Println(" Done.")
			return nil
		}
		time.Sleep(250 * time.Millisecond)
		fmt.Print(".")
	}
	fmt.Println(" Timeout!")
	return fmt.Errorf("daemon started but API not reachable at %s", c.BaseURL())
}
