package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fentz26/deskpilot/internal/client"
)

var requestCmd = &cobra.Command{
	Use:   "request [session-id] [request...]",
	Short: "Ask the agent to do something",
	Long: `Submits a natural-language request. The daemon plans it in the background;
use --follow or "deskpilot watch" to see what happens.`,
	Args: cobra.MinimumNArgs(2),
	RunE: runRequest,
}

var approveCmd = &cobra.Command{
	Use:   "approve [session-id]",
	Short: "Approve the plan or step awaiting approval",
	Args:  cobra.ExactArgs(1),
	RunE:  runApprove,
}

var rejectCmd = &cobra.Command{
	Use:   "reject [session-id]",
	Short: "Reject the plan or step awaiting approval",
	Args:  cobra.ExactArgs(1),
	RunE:  runReject,
}

var pauseCmd = &cobra.Command{
	Use:   "pause [session-id]",
	Short: "Pause the running task after its current step",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runControl(cmd, args[0], "Pause requested", (*client.Client).Pause)
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume [session-id]",
	Short: "Resume a paused task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runControl(cmd, args[0], "Resumed", (*client.Client).Resume)
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel [session-id]",
	Short: "Cancel the current task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runControl(cmd, args[0], "Cancelled", (*client.Client).Cancel)
	},
}

var (
	actionID      string
	followRequest bool
)

func init() {
	requestCmd.Flags().BoolVarP(&followRequest, "follow", "f", false, "Stream events until the task finishes or needs approval")
	approveCmd.Flags().StringVar(&actionID, "action", "", "Action ID to approve (defaults to the pending one)")
	rejectCmd.Flags().StringVar(&actionID, "action", "", "Action ID to reject (defaults to the pending one)")
}

func runRequest(cmd *cobra.Command, args []string) error {
	c, err := newClient(cmd)
	if err != nil {
		return err
	}
	sessionID := args[0]
	request := strings.Join(args[1:], " ")

	if !followRequest {
		if err := c.Submit(cmd.Context(), sessionID, request); err != nil {
			return err
		}
		fmt.Printf("Request submitted to session %s\n", boldText(sessionID))
		return nil
	}

	// Subscribe first so the planning events are not missed.
	ready := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- followEvents(cmd.Context(), c, sessionID, ready, stopOnSettled)
	}()
	select {
	case <-ready:
	case err := <-done:
		return err
	}
	if err := c.Submit(cmd.Context(), sessionID, request); err != nil {
		return err
	}
	return <-done
}

func runApprove(cmd *cobra.Command, args []string) error {
	return runDecision(cmd, args[0], true)
}

func runReject(cmd *cobra.Command, args []string) error {
	return runDecision(cmd, args[0], false)
}

func runDecision(cmd *cobra.Command, sessionID string, approve bool) error {
	c, err := newClient(cmd)
	if err != nil {
		return err
	}
	id := actionID
	if id == "" {
		view, err := c.Session(cmd.Context(), sessionID)
		if err != nil {
			return err
		}
		if view.PendingApproval == nil {
			if !approve {
				fmt.Println("Nothing awaiting approval")
				return nil
			}
			return errors.New("nothing is awaiting approval")
		}
		id = view.PendingApproval.ActionID
	}

	if approve {
		if err := c.Approve(cmd.Context(), sessionID, id); err != nil {
			return err
		}
		fmt.Printf("%s %s\n", okText("Approved"), id)
		return nil
	}
	if err := c.Reject(cmd.Context(), sessionID, id); err != nil {
		return err
	}
	fmt.Printf("%s %s\n", warnText("Rejected"), id)
	return nil
}

func runControl(cmd *cobra.Command, sessionID, done string, op func(*client.Client, context.Context, string) error) error {
	c, err := newClient(cmd)
	if err != nil {
		return err
	}
	if err := op(c, cmd.Context(), sessionID); err != nil {
		return err
	}
	fmt.Printf("%s (session %s)\n", done, sessionID)
	return nil
}
