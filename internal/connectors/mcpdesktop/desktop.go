// Package mcpdesktop captures and drives remote desktops through the
// tools their MCP hosts expose.
package mcpdesktop

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg" // register decoders for DecodeConfig
	_ "image/png"
	"log/slog"
	"strings"
	"time"

	"github.com/fentz26/deskpilot/internal/agent"
	"github.com/fentz26/deskpilot/internal/clock"
	"github.com/fentz26/deskpilot/internal/connectors"
	"github.com/fentz26/deskpilot/internal/mcp"
	"github.com/fentz26/deskpilot/internal/models"
)

// ErrNoImage is returned when a screenshot tool answers without an image.
var ErrNoImage = errors.New("screenshot tool returned no image")

// Desktop implements connectors.Connector over MCP tool calls. Each call
// is routed to a host by the session carried in the context.
type Desktop struct {
	pool        *mcp.Pool
	router      *mcp.Router
	clock       clock.Clock
	logger      *slog.Logger
	callTimeout time.Duration
}

var (
	_ connectors.Connector  = (*Desktop)(nil)
	_ agent.SessionReleaser = (*Desktop)(nil)
)

// Option configures a Desktop.
type Option func(*Desktop)

// WithClock sets the clock used for waits and screenshot timestamps.
func WithClock(c clock.Clock) Option { return func(d *Desktop) { d.clock = c } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(d *Desktop) { d.logger = l } }

// WithCallTimeout bounds each tool call. Zero means no bound.
func WithCallTimeout(t time.Duration) Option { return func(d *Desktop) { d.callTimeout = t } }

// New creates a Desktop.
func New(pool *mcp.Pool, router *mcp.Router, opts ...Option) *Desktop {
	d := &Desktop{
		pool:   pool,
		router: router,
		clock:  clock.Real(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Name returns the connector identifier.
func (d *Desktop) Name() string {
	return "mcpdesktop"
}

// screenMeta is the optional JSON text a screenshot tool may return
// next to the image.
type screenMeta struct {
	WindowTitle  string               `json:"window_title"`
	Width        int                  `json:"width"`
	Height       int                  `json:"height"`
	TextElements []models.TextElement `json:"text_elements"`
	UIElements   []models.UIElement   `json:"ui_elements"`
}

// CaptureScreen calls the host's screenshot tool.
func (d *Desktop) CaptureScreen(ctx context.Context) (*models.Screenshot, error) {
	host, err := d.host(ctx)
	if err != nil {
		return nil, err
	}

	res, err := d.call(ctx, host, host.Tools.Screenshot, nil)
	if err != nil {
		return nil, err
	}
	if res.IsError {
		return nil, fmt.Errorf("%s on host %q: %s", host.Tools.Screenshot, host.Name, res.Text)
	}
	if len(res.Images) == 0 {
		return nil, ErrNoImage
	}

	img := res.Images[0]
	shot := &models.Screenshot{
		Image:     img.Data,
		Format:    strings.TrimPrefix(img.MIMEType, "image/"),
		Timestamp: d.clock.Now(),
	}
	if cfg, _, err := image.DecodeConfig(bytes.NewReader(img.Data)); err == nil {
		shot.Width, shot.Height = cfg.Width, cfg.Height
	}

	var meta screenMeta
	if res.Text != "" && json.Unmarshal([]byte(res.Text), &meta) == nil {
		shot.WindowTitle = meta.WindowTitle
		shot.TextElements = meta.TextElements
		shot.UIElements = meta.UIElements
		if shot.Width == 0 {
			shot.Width, shot.Height = meta.Width, meta.Height
		}
	}

	if shot.WindowTitle == "" && host.Tools.ActiveWindow != "" {
		if res, err := d.call(ctx, host, host.Tools.ActiveWindow, nil); err == nil && !res.IsError {
			shot.WindowTitle = strings.TrimSpace(res.Text)
		} else if err != nil {
			d.logger.Debug("reading active window", "host", host.Name, "error", err)
		}
	}
	return shot, nil
}

// ExecuteAction maps step onto the matching tool. Tool-level errors
// become unsuccessful results; transport errors are returned.
func (d *Desktop) ExecuteAction(ctx context.Context, step models.Step) (*models.ExecResult, error) {
	if err := connectors.CheckParams(step); err != nil {
		return nil, err
	}
	if step.Type == models.ActionHotkey && connectors.KeyChord(step) == "" {
		return &models.ExecResult{Success: true}, nil
	}
	host, err := d.host(ctx)
	if err != nil {
		return nil, err
	}

	tool, args := toolCall(host.Tools, step)
	res, err := d.call(ctx, host, tool, args)
	if err != nil {
		return nil, err
	}
	if res.IsError {
		return &models.ExecResult{Success: false, Error: res.Text, Data: map[string]any{"host": host.Name, "tool": tool}}, nil
	}
	out := &models.ExecResult{Success: true, Data: map[string]any{"host": host.Name, "tool": tool}}
	if res.Text != "" {
		out.Data["output"] = res.Text
	}
	return out, nil
}

// Wait blocks for dur on the desktop's clock.
func (d *Desktop) Wait(ctx context.Context, dur time.Duration) error {
	return connectors.Sleep(ctx, d.clock, dur)
}

// ReleaseSession drops any host pin held for sessionID.
func (d *Desktop) ReleaseSession(ctx context.Context, sessionID string) error {
	d.router.Unpin(sessionID)
	return nil
}

func (d *Desktop) host(ctx context.Context) (*mcp.Host, error) {
	sessionID, _ := agent.SessionFromContext(ctx)
	route, err := d.router.Route(sessionID)
	if err != nil {
		return nil, err
	}
	host := route.Host
	return &host, nil
}

func (d *Desktop) call(ctx context.Context, host *mcp.Host, tool string, args map[string]any) (*mcp.ToolResult, error) {
	caller, err := d.pool.Get(ctx, host.Name)
	if err != nil {
		return nil, err
	}
	if d.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.callTimeout)
		defer cancel()
	}

	res, err := caller.CallTool(ctx, tool, args)
	if err != nil {
		// The connection may be dead; redial on the next call.
		d.pool.Evict(host.Name)
		return nil, fmt.Errorf("host %q: %w", host.Name, err)
	}
	return res, nil
}

// toolCall returns the tool name and arguments that perform step.
func toolCall(tools mcp.ToolNames, step models.Step) (string, map[string]any) {
	switch step.Type {
	case models.ActionClick:
		return tools.Click, map[string]any{"x": step.X, "y": step.Y, "button": connectors.Button(step), "double": step.Double}
	case models.ActionTypeText:
		return tools.TypeText, map[string]any{"text": step.Text}
	case models.ActionScroll:
		return tools.Scroll, map[string]any{"x": step.X, "y": step.Y, "direction": step.Direction, "amount": step.Amount}
	case models.ActionDrag:
		return tools.Drag, map[string]any{"from_x": step.X, "from_y": step.Y, "to_x": step.ToX, "to_y": step.ToY}
	case models.ActionHotkey:
		return tools.KeyPress, map[string]any{"keys": connectors.KeyChord(step)}
	default:
		return tools.Wait, map[string]any{"duration_ms": step.DurationMs}
	}
}
