package localexec

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fentz26/deskpilot/internal/agent"
	"github.com/fentz26/deskpilot/internal/models"
	"github.com/fentz26/deskpilot/internal/safety"
)

// scriptedPlanner returns a fixed plan and accepts every result.
type scriptedPlanner struct {
	plan models.ActionPlan
}

func (p scriptedPlanner) AnalyzeScreen(ctx context.Context, shot *models.Screenshot, intent string) (*models.Analysis, error) {
	return &models.Analysis{RelevantToIntent: true}, nil
}

func (p scriptedPlanner) PlanActions(ctx context.Context, analysis *models.Analysis, intent string) (*models.ActionPlan, error) {
	plan := p.plan
	return &plan, nil
}

func (p scriptedPlanner) VerifyResult(ctx context.Context, before, after *models.Screenshot, expected string) (*models.Verification, error) {
	return &models.Verification{Success: true, Confidence: 1}, nil
}

func (p scriptedPlanner) GenerateClarification(ctx context.Context, intent, ambiguity string) (string, error) {
	return "", nil
}

type resultSink chan *models.TaskResult

func (s resultSink) Emit(ev models.Event) {
	switch ev.Kind {
	case models.EventTaskCompleted, models.EventError, models.EventTaskCancelled:
		s <- ev.TaskResult
	}
}

func TestOrchestrator_ModifierOnlyHotkey(t *testing.T) {
	r := &fakeRunner{out: map[string][]byte{
		"import -window root":                   pngBytes(t, 64, 48),
		"xdotool getactivewindow getwindowname": []byte("Editor\n"),
	}}
	d := New(":0", WithRunner(r.run))

	guard, err := safety.New(safety.DefaultConfig())
	require.NoError(t, err)

	cfg := agent.DefaultConfig()
	cfg.SettleDelay = 0
	sink := make(resultSink, 1)
	o, err := agent.New(agent.Deps{
		Vision:   d,
		Executor: d,
		Guard:    guard,
		Events:   sink,
		Planner: scriptedPlanner{plan: models.ActionPlan{Steps: []models.Step{
			{Type: models.ActionHotkey, Description: "hold shift", Modifiers: []string{"Shift"}},
		}}},
	}, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = o.Close(context.Background()) })

	ctx := context.Background()
	_, err = o.EnableAgent(ctx, "user-1", "s1")
	require.NoError(t, err)
	_, err = o.ProcessUserRequest(ctx, "s1", "press shift")
	require.NoError(t, err)

	var result *models.TaskResult
	select {
	case result = <-sink:
	case <-time.After(2 * time.Second):
		t.Fatal("task never finished")
	}
	require.NotNil(t, result)
	assert.Empty(t, result.Error)
	assert.Equal(t, 1, result.StepsCompleted)
	require.Eventually(t, func() bool { return o.GetAgentStatus("s1") == models.StatusIdle }, time.Second, time.Millisecond)

	r.mu.Lock()
	defer r.mu.Unlock()
	assert.Contains(t, r.calls, "xdotool key --clearmodifiers shift")
}
