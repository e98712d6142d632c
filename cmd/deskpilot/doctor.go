package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fentz26/deskpilot/internal/doctor"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check that this machine can run the configured agent",
	RunE:  runDoctor,
}

func init() {
	doctorCmd.Flags().BoolVar(&jsonOutput, "json", false, "Print raw JSON")
}

func runDoctor(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	checks := doctor.NewDetector().Scan(cfg)
	if jsonOutput {
		if err := printJSON(checks); err != nil {
			return err
		}
	} else {
		t := newTable(os.Stdout, "CHECK", "STATUS", "PATH", "DETAIL")
		for _, c := range checks {
			detail := c.Detail
			if c.Version != "" {
				detail = c.Version
			}
			t.AppendRow([]interface{}{c.Name, checkStatus(c.Status), c.Path, detail})
		}
		t.Render()
	}
	if !doctor.Healthy(checks) {
		return errors.New("some required dependencies are missing")
	}
	if !jsonOutput {
		fmt.Println(okText("All required dependencies found."))
	}
	return nil
}

func checkStatus(s string) string {
	switch s {
	case doctor.StatusOK:
		return okText(s)
	case doctor.StatusWarn, doctor.StatusSkipped:
		return warnText(s)
	default:
		return errorText(s)
	}
}
