// Package mcp connects the agent to desktop hosts: machines that expose
// screen capture and input injection as tools over the Model Context
// Protocol.
package mcp

import "context"

// Transports a host can be reached over.
const (
	TransportStdio = "stdio"
	TransportHTTP  = "http"
)

// ToolNames maps desktop operations onto the tool names a host exposes.
// Empty names fall back to DefaultToolNames.
type ToolNames struct {
	Screenshot   string `yaml:"screenshot,omitempty" json:"screenshot,omitempty"`
	Click        string `yaml:"click,omitempty" json:"click,omitempty"`
	TypeText     string `yaml:"type_text,omitempty" json:"type_text,omitempty"`
	Scroll       string `yaml:"scroll,omitempty" json:"scroll,omitempty"`
	Drag         string `yaml:"drag,omitempty" json:"drag,omitempty"`
	KeyPress     string `yaml:"key_press,omitempty" json:"key_press,omitempty"`
	Wait         string `yaml:"wait,omitempty" json:"wait,omitempty"`
	ActiveWindow string `yaml:"active_window,omitempty" json:"active_window,omitempty"`
}

// DefaultToolNames returns the tool names used by common desktop MCP servers.
func DefaultToolNames() ToolNames {
	return ToolNames{
		Screenshot: "screenshot",
		Click:      "click",
		TypeText:   "type_text",
		Scroll:     "scroll",
		Drag:       "drag",
		KeyPress:   "key_press",
		Wait:       "wait",
	}
}

// Names lists the tool names a host is expected to offer, defaults
// applied.
func (t ToolNames) Names() []string {
	t = t.withDefaults()
	names := []string{t.Screenshot, t.Click, t.TypeText, t.Scroll, t.Drag, t.KeyPress, t.Wait}
	if t.ActiveWindow != "" {
		names = append(names, t.ActiveWindow)
	}
	return names
}

// withDefaults fills empty names from DefaultToolNames. ActiveWindow has
// no default; hosts that lack it report the title with the screenshot.
func (t ToolNames) withDefaults() ToolNames {
	d := DefaultToolNames()
	if t.Screenshot == "" {
		t.Screenshot = d.Screenshot
	}
	if t.Click == "" {
		t.Click = d.Click
	}
	if t.TypeText == "" {
		t.TypeText = d.TypeText
	}
	if t.Scroll == "" {
		t.Scroll = d.Scroll
	}
	if t.Drag == "" {
		t.Drag = d.Drag
	}
	if t.KeyPress == "" {
		t.KeyPress = d.KeyPress
	}
	if t.Wait == "" {
		t.Wait = d.Wait
	}
	return t
}

// Host is a registered desktop host.
type Host struct {
	Name      string            `yaml:"name" json:"name"`
	Transport string            `yaml:"transport" json:"transport"`
	Command   string            `yaml:"command,omitempty" json:"command,omitempty"`
	Args      []string          `yaml:"args,omitempty" json:"args,omitempty"`
	Env       []string          `yaml:"env,omitempty" json:"env,omitempty"`
	URL       string            `yaml:"url,omitempty" json:"url,omitempty"`
	Headers   map[string]string `yaml:"headers,omitempty" json:"-"`
	Tools     ToolNames         `yaml:"tools,omitempty" json:"tools"`
	Priority  int               `yaml:"priority,omitempty" json:"priority"`
	Enabled   bool              `yaml:"enabled" json:"enabled"`
}

// Image is image content returned by a tool.
type Image struct {
	Data     []byte
	MIMEType string
}

// ToolResult is the flattened content of a tool call.
type ToolResult struct {
	Text    string
	Images  []Image
	IsError bool
}

// ToolCaller is a live connection to one host.
type ToolCaller interface {
	CallTool(ctx context.Context, name string, args map[string]any) (*ToolResult, error)
	ListTools(ctx context.Context) ([]string, error)
	Close() error
}

// Dialer opens a connection to host.
type Dialer func(ctx context.Context, host Host) (ToolCaller, error)
