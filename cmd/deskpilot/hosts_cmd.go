package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fentz26/deskpilot/internal/client"
	"github.com/fentz26/deskpilot/internal/config"
	"github.com/fentz26/deskpilot/internal/mcp"
)

var hostsCmd = &cobra.Command{
	Use:   "hosts",
	Short: "Manage the MCP desktop hosts",
	Long:  `Lists, toggles and probes the MCP servers that capture and drive desktops.`,
}

var hostsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured hosts",
	RunE:  runHostsList,
}

var hostsEnableCmd = &cobra.Command{
	Use:   "enable <host>",
	Short: "Enable a host",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setHostEnabled(args[0], true)
	},
}

var hostsDisableCmd = &cobra.Command{
	Use:   "disable <host>",
	Short: "Disable a host",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setHostEnabled(args[0], false)
	},
}

var hostsRouteCmd = &cobra.Command{
	Use:   "route <session-id>",
	Short: "Preview which host would serve a session",
	Args:  cobra.ExactArgs(1),
	RunE:  runHostsRoute,
}

var hostsToolsCmd = &cobra.Command{
	Use:   "tools <host>",
	Short: "Connect to a host and list the tools it offers",
	Args:  cobra.ExactArgs(1),
	RunE:  runHostsTools,
}

func init() {
	hostsCmd.AddCommand(hostsListCmd, hostsEnableCmd, hostsDisableCmd, hostsRouteCmd, hostsToolsCmd)
	rootCmd.AddCommand(hostsCmd)
}

func loadRouter() (*config.Config, *mcp.Router, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	reg, err := mcp.NewRegistryFromConfig(cfg.Hosts)
	if err != nil {
		return nil, nil, err
	}
	router, err := mcp.NewRouter(cfg.Hosts, reg)
	if err != nil {
		return nil, nil, err
	}
	return cfg, router, nil
}

func runHostsList(cmd *cobra.Command, args []string) error {
	cfg, router, err := loadRouter()
	if err != nil {
		return err
	}
	hosts := router.GetRegistry().List()
	if len(hosts) == 0 {
		fmt.Println("No hosts configured.")
		return nil
	}

	t := newTable(os.Stdout, "NAME", "TRANSPORT", "TARGET", "PRIORITY", "ENABLED")
	for _, h := range hosts {
		target := h.URL
		if h.Transport != mcp.TransportHTTP {
			target = strings.TrimSpace(h.Command + " " + strings.Join(h.Args, " "))
		}
		enabled := okText("✓")
		if !h.Enabled {
			enabled = errorText("✗")
		}
		name := h.Name
		if name == cfg.Hosts.Default {
			name += " (default)"
		}
		t.AppendRow([]interface{}{name, h.Transport, truncate(target, 50), h.Priority, enabled})
	}
	t.Render()

	fmt.Printf("\nTotal: %d hosts, %d enabled\n", router.GetRegistry().Count(), len(router.GetRegistry().GetEnabled()))
	return nil
}

func setHostEnabled(name string, enabled bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	found := false
	for i := range cfg.Hosts.Hosts {
		if cfg.Hosts.Hosts[i].Name == name {
			cfg.Hosts.Hosts[i].Enabled = enabled
			found = true
		}
	}
	if !found {
		return fmt.Errorf("host %q not found", name)
	}
	if err := config.SaveConfig(configPath, cfg); err != nil {
		return fmt.Errorf("saving config: %w", err)
	}

	if enabled {
		fmt.Printf("%s host %s\n", okText("Enabled"), name)
	} else {
		fmt.Printf("%s host %s\n", warnText("Disabled"), name)
	}
	fmt.Println("Restart the daemon to apply.")
	return nil
}

func runHostsRoute(cmd *cobra.Command, args []string) error {
	_, router, err := loadRouter()
	if err != nil {
		return err
	}
	result, err := router.Route(args[0])
	if err != nil {
		return err
	}
	fmt.Printf("Session %s -> %s (rule: %s)\n", boldText(result.SessionID), okText(result.Host.Name), result.MatchedRule)
	return nil
}

func runHostsTools(cmd *cobra.Command, args []string) error {
	_, router, err := loadRouter()
	if err != nil {
		return err
	}
	host, ok := router.GetRegistry().Get(args[0])
	if !ok {
		return fmt.Errorf("host %q not found", args[0])
	}

	timeout := router.GetConfig().CallTimeout
	if timeout <= 0 {
		timeout = client.DefaultClientTimeout
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()
	caller, err := mcp.Dial(ctx, *host)
	if err != nil {
		return err
	}
	defer caller.Close()

	tools, err := caller.ListTools(ctx)
	if err != nil {
		return err
	}
	want := map[string]bool{}
	for _, name := range host.Tools.Names() {
		want[name] = true
	}
	for _, name := range tools {
		marker := " "
		if want[name] {
			marker = okText("*")
			delete(want, name)
		}
		fmt.Printf("%s %s\n", marker, name)
	}
	for name := range want {
		fmt.Printf("%s %s\n", errorText("!"), name+" (expected, not offered)")
	}
	return nil
}
