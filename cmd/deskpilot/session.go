package main

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/fentz26/deskpilot/internal/controlplane"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage agent sessions",
}

var sessionEnableCmd = &cobra.Command{
	Use:   "enable [session-id]",
	Short: "Enable the agent for a session",
	Long:  `Enables the agent for a session. A session ID is generated when none is given.`,
	Args:  cobra.MaximumNArgs(1),
	RunE:  runSessionEnable,
}

var sessionDisableCmd = &cobra.Command{
	Use:   "disable [session-id]",
	Short: "Disable the agent and drop the session",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionDisable,
}

var sessionStatusCmd = &cobra.Command{
	Use:   "status [session-id]",
	Short: "Show a session's status and current task",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionStatus,
}

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List your sessions",
	RunE:  runSessionList,
}

func init() {
	sessionCmd.AddCommand(sessionEnableCmd, sessionDisableCmd, sessionStatusCmd, sessionListCmd)
	sessionStatusCmd.Flags().BoolVar(&jsonOutput, "json", false, "Print raw JSON")
	sessionListCmd.Flags().BoolVar(&jsonOutput, "json", false, "Print raw JSON")
}

func runSessionEnable(cmd *cobra.Command, args []string) error {
	c, err := newClient(cmd)
	if err != nil {
		return err
	}
	id := uuid.NewString()
	if len(args) == 1 {
		id = args[0]
	}
	view, err := c.EnableSession(cmd.Context(), id)
	if err != nil {
		return err
	}
	fmt.Printf("Agent enabled for session %s (%s)\n", boldText(view.ID), agentStatus(view.Status))
	return nil
}

func runSessionDisable(cmd *cobra.Command, args []string) error {
	c, err := newClient(cmd)
	if err != nil {
		return err
	}
	if err := c.DisableSession(cmd.Context(), args[0]); err != nil {
		return err
	}
	fmt.Printf("Agent disabled for session %s\n", args[0])
	return nil
}

func runSessionStatus(cmd *cobra.Command, args []string) error {
	c, err := newClient(cmd)
	if err != nil {
		return err
	}
	view, err := c.Session(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(view)
	}
	printSession(view)
	return nil
}

func printSession(view *controlplane.SessionView) {
	fmt.Printf("Session:  %s\n", boldText(view.ID))
	fmt.Printf("User:     %s\n", view.UserID)
	fmt.Printf("Status:   %s\n", agentStatus(view.Status))
	fmt.Printf("Active:   %s\n", formatTime(view.LastActivityAt))

	if task := view.CurrentTask; task != nil {
		fmt.Println()
		fmt.Printf("Task:     %s (%s)\n", task.ID, taskStatus(task.Status))
		fmt.Printf("Request:  %s\n", task.UserIntent)
		fmt.Printf("Progress: %d/%d steps\n", task.CurrentStepIndex, len(task.Plan.Steps))
		for i, step := range task.Plan.Steps {
			marker := " "
			if i == task.CurrentStepIndex {
				marker = ">"
			}
			fmt.Printf("  %s %d. %s\n", marker, i+1, describeStep(step))
		}
	}

	if p := view.PendingApproval; p != nil {
		fmt.Println()
		what := "the whole plan"
		if !p.WholePlan && p.Step != nil {
			what = fmt.Sprintf("step %d: %s", p.StepIndex+1, describeStep(*p.Step))
		}
		fmt.Println(warnText("Approval needed for " + what))
		if p.Reason != "" {
			fmt.Printf("Reason:   %s\n", p.Reason)
		}
		fmt.Printf("Run: deskpilot approve %s   or   deskpilot reject %s\n", view.ID, view.ID)
	}
}

func runSessionList(cmd *cobra.Command, args []string) error {
	c, err := newClient(cmd)
	if err != nil {
		return err
	}
	views, err := c.Sessions(cmd.Context())
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(views)
	}
	if len(views) == 0 {
		fmt.Println("No sessions.")
		return nil
	}

	t := newTable(os.Stdout, "SESSION", "STATUS", "TASK", "CREATED", "LAST ACTIVITY")
	for _, v := range views {
		task := "-"
		if v.CurrentTask != nil {
			task = truncate(v.CurrentTask.UserIntent, 40)
		}
		t.AppendRow([]interface{}{v.ID, agentStatus(v.Status), task, formatTime(v.CreatedAt), formatTime(v.LastActivityAt)})
	}
	t.Render()
	return nil
}
