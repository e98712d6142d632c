package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/fentz26/deskpilot/internal/models"
)

var tasksCmd = &cobra.Command{
	Use:   "tasks [session-id]",
	Short: "List a session's task history",
	Args:  cobra.ExactArgs(1),
	RunE:  runTasks,
}

var taskShowCmd = &cobra.Command{
	Use:   "show [session-id] [task-id]",
	Short: "Show a task's plan, executed steps and decisions",
	Args:  cobra.ExactArgs(2),
	RunE:  runTaskShow,
}

var tasksLimit int

func init() {
	tasksCmd.AddCommand(taskShowCmd)
	tasksCmd.Flags().IntVar(&tasksLimit, "limit", 20, "Maximum number of tasks to list")
	tasksCmd.Flags().BoolVar(&jsonOutput, "json", false, "Print raw JSON")
	taskShowCmd.Flags().BoolVar(&jsonOutput, "json", false, "Print raw JSON")
}

func runTasks(cmd *cobra.Command, args []string) error {
	c, err := newClient(cmd)
	if err != nil {
		return err
	}
	tasks, err := c.Tasks(cmd.Context(), args[0], tasksLimit)
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(tasks)
	}
	if len(tasks) == 0 {
		fmt.Println("No tasks found.")
		return nil
	}

	t := newTable(os.Stdout, "TASK", "STATUS", "STEPS", "REQUEST", "STARTED")
	for _, task := range tasks {
		t.AppendRow([]interface{}{task.ID, taskStatus(task.Status), stepsDone(task), truncate(task.UserIntent, 48), formatTime(task.StartedAt)})
	}
	t.Render()
	return nil
}

func stepsDone(task models.Task) string {
	done := task.CurrentStepIndex
	if task.Result != nil {
		done = task.Result.StepsCompleted
	}
	return strconv.Itoa(done) + "/" + strconv.Itoa(len(task.Plan.Steps))
}

func runTaskShow(cmd *cobra.Command, args []string) error {
	c, err := newClient(cmd)
	if err != nil {
		return err
	}
	sessionID, taskID := args[0], args[1]
	task, err := c.Task(cmd.Context(), sessionID, taskID)
	if err != nil {
		return err
	}
	actions, err := c.Actions(cmd.Context(), sessionID, taskID)
	if err != nil {
		return err
	}
	decisions, err := c.Decisions(cmd.Context(), sessionID, taskID)
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(map[string]any{"task": task, "actions": actions, "decisions": decisions})
	}

	fmt.Printf("Task:     %s\n", boldText(task.ID))
	fmt.Printf("Status:   %s\n", taskStatus(task.Status))
	fmt.Printf("Request:  %s\n", task.UserIntent)
	fmt.Printf("Started:  %s\n", formatTime(task.StartedAt))
	if task.CompletedAt != nil {
		fmt.Printf("Finished: %s\n", formatTime(*task.CompletedAt))
	}
	if task.RetryCount > 0 {
		fmt.Printf("Retries:  %d\n", task.RetryCount)
	}
	if r := task.Result; r != nil {
		fmt.Printf("Result:   %s (%d/%d steps", r.Message, r.StepsCompleted, r.TotalSteps)
		if r.StepsBlocked > 0 {
			fmt.Printf(", %d blocked", r.StepsBlocked)
		}
		fmt.Println(")")
		if r.Error != "" {
			fmt.Printf("Error:    %s\n", errorText(r.Error))
		}
	}

	if len(task.Plan.Steps) > 0 {
		fmt.Println()
		fmt.Println(boldText("Plan"))
		for i, step := range task.Plan.Steps {
			fmt.Printf("  %d. %s\n", i+1, describeStep(step))
		}
	}

	if len(actions) > 0 {
		fmt.Println()
		t := newTable(os.Stdout, "TIME", "ACTION", "RESULT")
		for _, a := range actions {
			result := okText("ok")
			if !a.Result.Success {
				result = errorText(firstLine(a.Result.Error))
			}
			t.AppendRow([]interface{}{formatTime(a.Timestamp), describeStep(a.Action), result})
		}
		t.Render()
	}

	if len(decisions) > 0 {
		fmt.Println()
		t := newTable(os.Stdout, "TIME", "DECISION", "OUTCOME", "DETAILS")
		for _, d := range decisions {
			t.AppendRow([]interface{}{formatTime(d.Timestamp), d.Action, d.Outcome, truncate(d.Details, 60)})
		}
		t.Render()
	}
	return nil
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i]
		}
	}
	return s
}
