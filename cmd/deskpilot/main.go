package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fentz26/deskpilot/internal/auth"
	"github.com/fentz26/deskpilot/internal/client"
	"github.com/fentz26/deskpilot/internal/config"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

const defaultAPI = "http://127.0.0.1:7466"

var rootCmd = &cobra.Command{
	Use:   "deskpilot",
	Short: "DeskPilot - AI desktop agent",
	Long: `DeskPilot drives a desktop on a user's behalf: it looks at the screen,
plans the steps for a request, asks for approval when needed, and then acts.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	// No RunE - defaults to showing help when no subcommand is provided
}

var (
	apiAddr    string
	configPath string
	logLevel   string
	logFormat  string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&apiAddr, "api", defaultAPI, "API server address")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultPath(), "Path to the daemon config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override the configured log level")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Override the configured log format (text, json)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(sessionCmd)
	rootCmd.AddCommand(requestCmd, approveCmd, rejectCmd, pauseCmd, resumeCmd, cancelCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(tasksCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(doctorCmd)
	rootCmd.AddCommand(loginCmd, logoutCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the DeskPilot version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version)
	},
}

// newClient builds an API client from the stored credentials. An
// explicit --api flag wins over the address saved at login.
func newClient(cmd *cobra.Command) (*client.Client, error) {
	mgr, err := auth.NewManager(config.Dir())
	if err != nil {
		return nil, err
	}
	creds := mgr.Credentials()
	addr := apiAddr
	if creds != nil && creds.API != "" && !cmd.Flags().Changed("api") {
		addr = creds.API
	}
	return client.New(addr, creds), nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errorText(err.Error()))
		os.Exit(1)
	}
}
