package audit

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fentz26/deskpilot/internal/models"
	"github.com/fentz26/deskpilot/internal/store"
)

func newRecorder(t *testing.T) (*Recorder, *store.Store) {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return NewRecorder(s, nil), s
}

func TestHashInputs(t *testing.T) {
	step := models.Step{Type: models.ActionClick, X: 1, Y: 2}
	assert.Equal(t, hashInputs(step), hashInputs(step))
	assert.Len(t, hashInputs(step), 64)
	assert.NotEqual(t, hashInputs(step), hashInputs(models.Step{Type: models.ActionClick, X: 1, Y: 3}))
	assert.Equal(t, "hash_error", hashInputs(make(chan int)))
}

func TestRecorder_RecordDecision(t *testing.T) {
	r, s := newRecorder(t)
	ctx := context.Background()

	step := models.Step{Type: models.ActionHotkey, Modifiers: []string{"ctrl"}, Key: "q"}
	require.NoError(t, r.RecordDecision(ctx, "s1", "t1", "action.request_approval", step, "awaiting_approval", "potentially destructive action"))
	require.NoError(t, r.RecordDecision(ctx, "s1", "t1", "action.approve", step, "approved", "t1"))
	require.NoError(t, r.RecordDecision(ctx, "s2", "t2", "task.plan", nil, "planned", ""))

	entries, err := s.ListPDR(ctx, "", "t1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "action.request_approval", entries[0].Action)
	assert.Equal(t, "approved", entries[1].Outcome)
	assert.Equal(t, hashInputs(step), entries[0].InputsHash)
	assert.Equal(t, "s1", entries[0].SessionID)

	entries, err = s.ListPDR(ctx, "s2", "")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "task.plan", entries[0].Action)
}

func TestRecorder_RecordTaskAndActions(t *testing.T) {
	r, s := newRecorder(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	entry := models.HistoryEntry{
		SessionID: "s1",
		TaskID:    "t1",
		Action:    models.Step{Type: models.ActionTypeText, Text: "hello"},
		Result:    models.ExecResult{Success: true},
		Timestamp: now,
	}
	require.NoError(t, r.RecordAction(ctx, entry))

	done := now.Add(time.Second)
	task := &models.Task{
		ID:          "t1",
		SessionID:   "s1",
		UserIntent:  "write hello",
		Status:      models.TaskStatusCompleted,
		StartedAt:   now,
		CompletedAt: &done,
		Result:      &models.TaskResult{Message: "completed 1 of 1 steps", StepsCompleted: 1, TotalSteps: 1},
	}
	require.NoError(t, r.RecordTask(ctx, task))

	got, err := s.GetTask(ctx, "t1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, models.TaskStatusCompleted, got.Status)

	actions, err := s.ListActions(ctx, "s1", "t1")
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, "hello", actions[0].Action.Text)
}
