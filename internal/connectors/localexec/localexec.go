// Package localexec drives a local X11 display through an allowlisted
// set of commands (xdotool for input, ImageMagick import for capture).
package localexec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/png" // register the PNG decoder for DecodeConfig
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/fentz26/deskpilot/internal/agent"
	"github.com/fentz26/deskpilot/internal/clock"
	"github.com/fentz26/deskpilot/internal/connectors"
	"github.com/fentz26/deskpilot/internal/models"
)

// allowedCommands defines the strict allowlist of executable commands.
var allowedCommands = map[string][]string{
	"xdotool": {"mousemove", "click", "mousedown", "mouseup", "type", "key", "getactivewindow"},
	"import":  {"-window"},
}

// DefaultCaptureTimeout bounds a single screen capture.
const DefaultCaptureTimeout = 10 * time.Second

// Runner runs an external command and returns its stdout. A non-zero
// exit is reported as *exec.ExitError.
type Runner func(ctx context.Context, env []string, name string, args ...string) (stdout []byte, err error)

// Desktop implements connectors.Connector for a local display.
type Desktop struct {
	display        string
	run            Runner
	clock          clock.Clock
	logger         *slog.Logger
	captureTimeout time.Duration
}

var _ connectors.Connector = (*Desktop)(nil)

// Option configures a Desktop.
type Option func(*Desktop)

// WithRunner replaces the command runner.
func WithRunner(r Runner) Option { return func(d *Desktop) { d.run = r } }

// WithClock sets the clock used for waits and screenshot timestamps.
func WithClock(c clock.Clock) Option { return func(d *Desktop) { d.clock = c } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(d *Desktop) { d.logger = l } }

// WithCaptureTimeout bounds each screen capture.
func WithCaptureTimeout(t time.Duration) Option { return func(d *Desktop) { d.captureTimeout = t } }

// New creates a Desktop for display (e.g. ":0"). An empty display falls
// back to $DISPLAY.
func New(display string, opts ...Option) *Desktop {
	d := &Desktop{
		display:        display,
		run:            runCommand,
		clock:          clock.Real(),
		logger:         slog.Default(),
		captureTimeout: DefaultCaptureTimeout,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.display == "" {
		d.display = os.Getenv("DISPLAY")
	}
	return d
}

// Name returns the connector identifier.
func (d *Desktop) Name() string {
	return "localexec"
}

// IsAllowed checks if a command is in the allowlist.
func (d *Desktop) IsAllowed(cmd string, args []string) bool {
	allowedSubcmds, ok := allowedCommands[cmd]
	if !ok {
		return false
	}

	if len(args) == 0 {
		return false
	}

	// Check if the first arg (subcommand) is allowed
	subcmd := args[0]
	for _, allowed := range allowedSubcmds {
		if subcmd == allowed {
			return true
		}
	}
	return false
}

// CaptureScreen grabs the root window as PNG.
func (d *Desktop) CaptureScreen(ctx context.Context) (*models.Screenshot, error) {
	ctx, cancel := context.WithTimeout(ctx, d.captureTimeout)
	defer cancel()

	out, err := d.exec(ctx, "import", "-window", "root", "png:-")
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w after %s", agent.ErrCaptureTimeout, d.captureTimeout)
		}
		return nil, err
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(out))
	if err != nil {
		return nil, fmt.Errorf("decoding capture: %w", err)
	}

	shot := &models.Screenshot{
		Image:     out,
		Format:    "png",
		Width:     cfg.Width,
		Height:    cfg.Height,
		Timestamp: d.clock.Now(),
	}
	if title, err := d.exec(ctx, "xdotool", "getactivewindow", "getwindowname"); err == nil {
		shot.WindowTitle = strings.TrimSpace(string(title))
	} else {
		d.logger.Debug("reading active window title", "error", err)
	}
	return shot, nil
}

// ExecuteAction translates step into xdotool invocations.
func (d *Desktop) ExecuteAction(ctx context.Context, step models.Step) (*models.ExecResult, error) {
	if err := connectors.CheckParams(step); err != nil {
		return nil, err
	}
	if step.Type == models.ActionWait {
		if err := d.Wait(ctx, connectors.StepDuration(step)); err != nil {
			return nil, err
		}
		return &models.ExecResult{Success: true}, nil
	}

	for _, argv := range commandsFor(step) {
		if _, err := d.exec(ctx, "xdotool", argv...); err != nil {
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				return &models.ExecResult{
					Success: false,
					Error:   strings.TrimSpace(string(exitErr.Stderr)),
					Data:    map[string]any{"exit_code": exitErr.ExitCode(), "command": strings.Join(argv, " ")},
				}, nil
			}
			return nil, err
		}
	}
	return &models.ExecResult{Success: true}, nil
}

// Wait blocks for dur on the desktop's clock.
func (d *Desktop) Wait(ctx context.Context, dur time.Duration) error {
	return connectors.Sleep(ctx, d.clock, dur)
}

func (d *Desktop) exec(ctx context.Context, cmd string, args ...string) ([]byte, error) {
	if !d.IsAllowed(cmd, args) {
		return nil, fmt.Errorf("command not allowed: %s %s", cmd, strings.Join(args, " "))
	}
	if d.display == "" {
		return nil, agent.ErrDisplayUnavailable
	}
	d.logger.Debug("exec", "command", cmd, "args", args, "display", d.display)
	return d.run(ctx, []string{"DISPLAY=" + d.display}, cmd, args...)
}

var buttons = map[string]string{"left": "1", "middle": "2", "right": "3"}

// scrollButtons are the X11 wheel buttons per direction.
var scrollButtons = map[string]string{"up": "4", "down": "5", "left": "6", "right": "7"}

// keyNames maps common key spellings onto X keysyms.
var keyNames = map[string]string{
	"enter":     "Return",
	"return":    "Return",
	"esc":       "Escape",
	"escape":    "Escape",
	"tab":       "Tab",
	"backspace": "BackSpace",
	"delete":    "Delete",
	"del":       "Delete",
	"space":     "space",
	"up":        "Up",
	"down":      "Down",
	"left":      "Left",
	"right":     "Right",
	"home":      "Home",
	"end":       "End",
	"pageup":    "Prior",
	"pagedown":  "Next",
	"cmd":       "super",
	"win":       "super",
	"meta":      "super",
	"control":   "ctrl",
	"option":    "alt",
}

func keysym(k string) string {
	if mapped, ok := keyNames[strings.ToLower(k)]; ok {
		return mapped
	}
	return k
}

// commandsFor returns the xdotool argument lists that perform step.
func commandsFor(step models.Step) [][]string {
	x, y := strconv.Itoa(step.X), strconv.Itoa(step.Y)
	switch step.Type {
	case models.ActionClick:
		args := []string{"mousemove", x, y, "click"}
		if step.Double {
			args = append(args, "--repeat", "2")
		}
		return [][]string{append(args, buttons[connectors.Button(step)])}
	case models.ActionTypeText:
		return [][]string{{"type", "--delay", "12", "--", step.Text}}
	case models.ActionScroll:
		return [][]string{{"mousemove", x, y, "click", "--repeat", strconv.Itoa(step.Amount), scrollButtons[step.Direction]}}
	case models.ActionDrag:
		return [][]string{
			{"mousemove", x, y},
			{"mousedown", "1"},
			{"mousemove", strconv.Itoa(step.ToX), strconv.Itoa(step.ToY)},
			{"mouseup", "1"},
		}
	case models.ActionHotkey:
		mods := make([]string, 0, len(step.Modifiers))
		for _, m := range step.Modifiers {
			mods = append(mods, keysym(strings.TrimSpace(m)))
		}
		chord := connectors.KeyChord(models.Step{Modifiers: mods, Key: keysym(step.Key)})
		if chord == "" {
			return nil
		}
		return [][]string{{"key", "--clearmodifiers", chord}}
	}
	return nil
}

func runCommand(ctx context.Context, env []string, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = append(os.Environ(), env...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitErr.Stderr = stderr.Bytes()
			return nil, exitErr
		}
		return nil, fmt.Errorf("exec error: %w", err)
	}
	return stdout.Bytes(), nil
}
