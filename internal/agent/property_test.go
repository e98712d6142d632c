package agent

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/fentz26/deskpilot/internal/models"
)

// expectedRun replays the retry rule over a verification script and
// returns the executions, final retry count and whether the task fails.
func expectedRun(steps int, script []models.Verification, cfg Config) (executions, retries int, failed bool) {
	n := 0
	next := func() models.Verification {
		defer func() { n++ }()
		if n < len(script) {
			return script[n]
		}
		return models.Verification{Success: true, Confidence: 1}
	}
	for i := 0; i < steps; {
		executions++
		v := next()
		if !v.Success && v.Confidence > cfg.VerifyConfidenceThreshold {
			if retries < cfg.MaxRetryAttempts {
				retries++
				continue
			}
			return executions, retries, true
		}
		i++
	}
	return executions, retries, false
}

func TestProperty_LoopFollowsRetryRule(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		steps := rapid.IntRange(0, 5).Draw(rt, "steps")
		maxRetries := rapid.IntRange(0, 3).Draw(rt, "maxRetries")
		script := rapid.SliceOfN(rapid.Custom(func(t *rapid.T) models.Verification {
			return models.Verification{
				Success:    rapid.Bool().Draw(t, "success"),
				Confidence: float64(rapid.IntRange(0, 10).Draw(t, "confidence")) / 10,
			}
		}), 0, 12).Draw(rt, "script")

		h := newHarness(rt, func(c *Config) { c.MaxRetryAttempts = maxRetries })
		plan := models.ActionPlan{}
		for i := 0; i < steps; i++ {
			plan.Steps = append(plan.Steps, clickStep(fmt.Sprintf("step %d", i), 10*i, 10*i))
		}
		h.planner.plan = plan
		h.planner.verify = func(n int) *models.Verification {
			if n < len(script) {
				v := script[n]
				return &v
			}
			return &models.Verification{Success: true, Confidence: 1}
		}
		h.enable(rt, "s1")

		_, err := h.o.ProcessUserRequest(context.Background(), "s1", "click around")
		require.NoError(rt, err)
		require.Eventually(rt, func() bool { return h.recorder.taskCount() == 1 }, 2*time.Second, time.Millisecond)

		wantExec, wantRetries, wantFailed := expectedRun(steps, script, h.o.Config())
		final := h.recorder.tasks[0]

		require.Equal(rt, wantExec, h.executor.count())
		require.Equal(rt, wantRetries, final.RetryCount)
		require.LessOrEqual(rt, final.RetryCount, maxRetries)
		require.GreaterOrEqual(rt, final.CurrentStepIndex, 0)
		require.LessOrEqual(rt, final.CurrentStepIndex, steps)
		require.True(rt, final.Status.Terminal())
		require.NotNil(rt, final.Result)

		status := h.o.GetAgentStatus("s1")
		if wantFailed {
			require.Equal(rt, models.TaskStatusFailed, final.Status)
			require.Equal(rt, models.StatusError, status)
		} else {
			require.Equal(rt, models.TaskStatusCompleted, final.Status)
			require.Equal(rt, steps, final.CurrentStepIndex)
			require.Equal(rt, models.StatusIdle, status)
		}
		require.Nil(rt, h.o.GetCurrentTask("s1"))

		// Screenshots: the initial capture plus one per execution, in order.
		require.Len(rt, final.Screenshots, wantExec+1)
		for i := 1; i < len(final.Screenshots); i++ {
			require.True(rt, final.Screenshots[i].Timestamp.After(final.Screenshots[i-1].Timestamp))
		}
	})
}

func TestProperty_AppendBounded(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		limit := rapid.IntRange(1, 8).Draw(rt, "limit")
		values := rapid.SliceOf(rapid.Int()).Draw(rt, "values")

		var got []int
		for _, v := range values {
			got = appendBounded(got, v, limit)
			require.LessOrEqual(rt, len(got), limit)
		}

		start := len(values) - limit
		if start < 0 {
			start = 0
		}
		require.Len(rt, got, len(values)-start)
		for i := range got {
			require.Equal(rt, values[start+i], got[i])
		}
	})
}
