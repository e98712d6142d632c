// Package doctor checks that the machine running the daemon has what the
// configured connector and planner providers need.
package doctor

import (
	"os"
	"os/exec"
	"strings"

	"github.com/fentz26/deskpilot/internal/config"
	"github.com/fentz26/deskpilot/internal/mcp"
)

// Check statuses.
const (
	StatusOK      = "ok"
	StatusMissing = "missing"
	StatusWarn    = "warn"
	StatusSkipped = "skipped"
)

// Check is the outcome of one probe.
type Check struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Status  string `json:"status"`
	Path    string `json:"path,omitempty"`
	Version string `json:"version,omitempty"`
	Detail  string `json:"detail,omitempty"`
}

// Detector probes the local environment.
type Detector struct {
	lookPath func(file string) (string, error)
	getenv   func(key string) string
	version  func(cmd string, flag string) string
}

// NewDetector creates a detector for the current process environment.
func NewDetector() *Detector {
	return &Detector{
		lookPath: exec.LookPath,
		getenv:   os.Getenv,
		version:  getCommandVersion,
	}
}

// Scan runs every probe relevant to cfg.
func (d *Detector) Scan(cfg *config.Config) []Check {
	var checks []Check

	if cfg.Desktop.Connector == config.ConnectorLocal {
		checks = append(checks,
			d.detectDisplay(cfg.Desktop.Display),
			d.detectTool("xdotool", "xdotool", "--version"),
			d.detectTool("import", "ImageMagick import", "-version"),
		)
	} else if cfg.Hosts != nil {
		for _, h := range cfg.Hosts.Hosts {
			checks = append(checks, d.detectHost(h))
		}
	}

	for _, p := range cfg.Planner.Providers {
		checks = append(checks, d.detectKey(p.Name, p.APIKeyEnv))
	}
	return checks
}

// Healthy reports whether no check is missing.
func Healthy(checks []Check) bool {
	for _, c := range checks {
		if c.Status == StatusMissing {
			return false
		}
	}
	return true
}

func (d *Detector) detectDisplay(configured string) Check {
	c := Check{ID: "display", Name: "X display"}
	display := configured
	if display == "" {
		display = d.getenv("DISPLAY")
	}
	switch {
	case display != "":
		c.Status = StatusOK
		c.Detail = display
	case d.getenv("WAYLAND_DISPLAY") != "":
		c.Status = StatusWarn
		c.Detail = "Wayland session without DISPLAY; xdotool needs XWayland"
	default:
		c.Status = StatusMissing
		c.Detail = "set desktop.display or DISPLAY"
	}
	return c
}

func (d *Detector) detectTool(bin, name, versionFlag string) Check {
	c := Check{ID: bin, Name: name}
	path, err := d.lookPath(bin)
	if err != nil {
		c.Status = StatusMissing
		c.Detail = bin + " not found in PATH"
		return c
	}
	c.Status = StatusOK
	c.Path = path
	c.Version = d.version(path, versionFlag)
	return c
}

func (d *Detector) detectHost(h mcp.Host) Check {
	c := Check{ID: "host:" + h.Name, Name: "MCP host " + h.Name}
	if !h.Enabled {
		c.Status = StatusSkipped
		c.Detail = "disabled"
		return c
	}
	switch h.Transport {
	case mcp.TransportHTTP:
		c.Status = StatusOK
		c.Detail = h.URL
	default:
		path, err := d.lookPath(h.Command)
		if err != nil {
			c.Status = StatusMissing
			c.Detail = h.Command + " not found in PATH"
			return c
		}
		c.Status = StatusOK
		c.Path = path
	}
	return c
}

func (d *Detector) detectKey(provider, env string) Check {
	c := Check{ID: "provider:" + provider, Name: "planner provider " + provider}
	switch {
	case env == "":
		c.Status = StatusWarn
		c.Detail = "no api_key_env configured"
	case d.getenv(env) == "":
		c.Status = StatusMissing
		c.Detail = env + " is not set"
	default:
		c.Status = StatusOK
		c.Detail = env + " is set"
	}
	return c
}

func getCommandVersion(cmd string, flag string) string {
	out, err := exec.Command(cmd, flag).Output()
	if err != nil {
		return ""
	}
	version := strings.TrimSpace(string(out))
	// Take first line only
	if idx := strings.Index(version, "\n"); idx > 0 {
		version = version[:idx]
	}
	if len(version) > 40 {
		version = version[:40]
	}
	return version
}
