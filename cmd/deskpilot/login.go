package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/fentz26/deskpilot/internal/auth"
	"github.com/fentz26/deskpilot/internal/client"
	"github.com/fentz26/deskpilot/internal/config"
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Store the daemon address and credentials for later commands",
	Long: `Stores the API address plus a bearer token (for daemons configured with
server.tokens) or a user ID (for daemons in local mode).`,
	RunE: runLogin,
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Remove stored credentials",
	RunE:  runLogout,
}

var (
	loginToken string
	loginUser  string
)

func init() {
	loginCmd.Flags().StringVar(&loginToken, "token", "", "Bearer token issued in the daemon config")
	loginCmd.Flags().StringVar(&loginUser, "user", "", "User ID to present in local mode")
}

func runLogin(cmd *cobra.Command, args []string) error {
	mgr, err := auth.NewManager(config.Dir())
	if err != nil {
		return err
	}

	creds := &auth.Credentials{Token: loginToken, User: loginUser}
	ctx, cancel := context.WithTimeout(cmd.Context(), client.DefaultClientTimeout)
	defer cancel()
	// Listing sessions exercises authentication.
	if _, err := client.New(apiAddr, creds).Sessions(ctx); err != nil {
		return fmt.Errorf("login check against %s failed: %w", apiAddr, err)
	}

	if err := mgr.Login(apiAddr, loginToken, loginUser, time.Now()); err != nil {
		return err
	}
	fmt.Printf("%s to %s\n", okText("Logged in"), apiAddr)
	return nil
}

func runLogout(cmd *cobra.Command, args []string) error {
	mgr, err := auth.NewManager(config.Dir())
	if err != nil {
		return err
	}
	if mgr.Credentials() == nil {
		fmt.Println("Not logged in")
		return nil
	}
	if err := mgr.Logout(); err != nil {
		return err
	}
	fmt.Println("Logged out")
	return nil
}
