package store

import (
	"bytes"
	"context"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fentz26/deskpilot/internal/models"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func TestNew(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "nested", "test.db")

	s, err := New(dbPath)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer s.Close()

	// Verify file was created
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("Database file was not created")
	}
}

func testTask() *models.Task {
	done := t0.Add(5 * time.Second)
	return &models.Task{
		ID:         "task-1",
		SessionID:  "s1",
		UserIntent: "save the document",
		Status:     models.TaskStatusCompleted,
		Plan: models.ActionPlan{
			Steps: []models.Step{
				{ID: "step-1", Type: models.ActionClick, Description: "focus", X: 10, Y: 20},
				{ID: "step-2", Type: models.ActionHotkey, Description: "save", Modifiers: []string{"ctrl"}, Key: "s"},
			},
			Reasoning: "click then save",
		},
		CurrentStepIndex: 2,
		RetryCount:       1,
		Screenshots: []models.Screenshot{
			{ID: "shot-1", Image: bytes.Repeat([]byte{0x10}, 4096), Format: "png", Width: 64, Height: 64, WindowTitle: "Editor", Timestamp: t0},
			{ID: "shot-2", Image: []byte("after"), Format: "png", Timestamp: t0.Add(time.Second),
				UIElements: []models.UIElement{{Role: "dialog", Name: "Saved"}}},
		},
		StartedAt:   t0,
		CompletedAt: &done,
		Result: &models.TaskResult{
			Message:         "completed 2 of 2 steps",
			StepsCompleted:  2,
			TotalSteps:      2,
			FinalScreenshot: &models.Screenshot{ID: "shot-2", Image: []byte("after"), Format: "png", Timestamp: t0.Add(time.Second)},
		},
	}
}

func TestTaskRoundTrip(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()
	ctx := context.Background()

	if err := s.SaveTask(ctx, testTask()); err != nil {
		t.Fatalf("SaveTask failed: %v", err)
	}

	got, err := s.GetTask(ctx, "task-1")
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	if got == nil {
		t.Fatal("Expected task, got nil")
	}
	if got.Status != models.TaskStatusCompleted || got.RetryCount != 1 || got.CurrentStepIndex != 2 {
		t.Errorf("Unexpected task fields: %+v", got)
	}
	if len(got.Plan.Steps) != 2 || got.Plan.Steps[1].Key != "s" {
		t.Errorf("Plan not restored: %+v", got.Plan)
	}
	if got.CompletedAt == nil || !got.CompletedAt.Equal(t0.Add(5*time.Second)) {
		t.Errorf("Expected completed_at to round-trip, got %v", got.CompletedAt)
	}
	if len(got.Screenshots) != 2 {
		t.Fatalf("Expected 2 screenshots, got %d", len(got.Screenshots))
	}
	if got.Screenshots[0].Image != nil {
		t.Error("GetTask should not load image bytes")
	}
	if got.Screenshots[1].UIElements[0].Name != "Saved" {
		t.Errorf("UI elements not restored: %+v", got.Screenshots[1].UIElements)
	}
	if got.Result == nil || got.Result.FinalScreenshot == nil || got.Result.FinalScreenshot.ID != "shot-2" {
		t.Errorf("Final screenshot not restored: %+v", got.Result)
	}

	// Saving again replaces rather than duplicates.
	task := testTask()
	task.Screenshots = task.Screenshots[:1]
	if err := s.SaveTask(ctx, task); err != nil {
		t.Fatalf("second SaveTask failed: %v", err)
	}
	got, _ = s.GetTask(ctx, "task-1")
	if len(got.Screenshots) != 1 {
		t.Errorf("Expected 1 screenshot after resave, got %d", len(got.Screenshots))
	}
}

func TestGetTask_NotFound(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()

	got, err := s.GetTask(context.Background(), "missing")
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	if got != nil {
		t.Errorf("Expected nil task, got %+v", got)
	}
}

func TestListTasks(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		task := &models.Task{
			ID:         fmt.Sprintf("task-%d", i),
			SessionID:  "s1",
			UserIntent: fmt.Sprintf("request %d", i),
			Status:     models.TaskStatusCancelled,
			StartedAt:  t0.Add(time.Duration(i) * time.Minute),
		}
		if err := s.SaveTask(ctx, task); err != nil {
			t.Fatalf("SaveTask failed: %v", err)
		}
	}
	other := &models.Task{ID: "other", SessionID: "s2", UserIntent: "x", Status: models.TaskStatusFailed, StartedAt: t0}
	if err := s.SaveTask(ctx, other); err != nil {
		t.Fatalf("SaveTask failed: %v", err)
	}

	tasks, err := s.ListTasks(ctx, "s1", 0)
	if err != nil {
		t.Fatalf("ListTasks failed: %v", err)
	}
	if len(tasks) != 3 {
		t.Fatalf("Expected 3 tasks, got %d", len(tasks))
	}
	if tasks[0].ID != "task-2" {
		t.Errorf("Expected newest first, got %s", tasks[0].ID)
	}

	tasks, _ = s.ListTasks(ctx, "s1", 2)
	if len(tasks) != 2 {
		t.Errorf("Expected limit to apply, got %d", len(tasks))
	}
}

func TestScreenshotCompression(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()
	ctx := context.Background()

	noise := make([]byte, 8192)
	rand.New(rand.NewSource(1)).Read(noise)

	tests := []struct {
		name  string
		image []byte
	}{
		{"compressible", bytes.Repeat([]byte("RGBA"), 4096)},
		{"random", noise},
		{"empty", nil},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			shot := &models.Screenshot{ID: fmt.Sprintf("shot-%d", i), Image: tt.image, Format: "bmp", Timestamp: t0}
			if err := s.SaveScreenshot(ctx, "task-x", i, shot); err != nil {
				t.Fatalf("SaveScreenshot failed: %v", err)
			}
			got, err := s.LoadScreenshot(ctx, shot.ID)
			if err != nil {
				t.Fatalf("LoadScreenshot failed: %v", err)
			}
			if !bytes.Equal(got.Image, tt.image) {
				t.Errorf("Image did not round-trip: got %d bytes, want %d", len(got.Image), len(tt.image))
			}
		})
	}

	missing, err := s.LoadScreenshot(ctx, "nope")
	if err != nil || missing != nil {
		t.Errorf("Expected nil, nil for a missing screenshot, got %v, %v", missing, err)
	}
}

func TestCompressImage_PicksCodec(t *testing.T) {
	codec, out := compressImage(bytes.Repeat([]byte{0}, 10000))
	if codec != CompressionZstd {
		t.Errorf("Expected zstd for zeros, got %s", codec)
	}
	if len(out) >= 10000 {
		t.Errorf("Expected compressed output, got %d bytes", len(out))
	}

	noise := make([]byte, 4096)
	rand.New(rand.NewSource(2)).Read(noise)
	if codec, _ := compressImage(noise); codec != CompressionNone {
		t.Errorf("Expected none for random data, got %s", codec)
	}

	if _, err := decompressImage("brotli", nil, 0); err == nil {
		t.Error("Expected error for unknown codec")
	}
}

func TestActions(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()
	ctx := context.Background()

	for i, sid := range []string{"s1", "s1", "s2"} {
		entry := models.HistoryEntry{
			SessionID: sid,
			TaskID:    "task-" + sid,
			Action:    models.Step{Type: models.ActionClick, X: i, Y: i},
			Result:    models.ExecResult{Success: i != 1, Error: "boom"},
			Timestamp: t0.Add(time.Duration(i) * time.Second),
		}
		if err := s.AppendAction(ctx, entry); err != nil {
			t.Fatalf("AppendAction failed: %v", err)
		}
	}

	entries, err := s.ListActions(ctx, "s1", "")
	if err != nil {
		t.Fatalf("ListActions failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("Expected 2 actions, got %d", len(entries))
	}
	if entries[1].Action.X != 1 || entries[1].Result.Success {
		t.Errorf("Unexpected second action: %+v", entries[1])
	}

	entries, _ = s.ListActions(ctx, "s2", "task-s2")
	if len(entries) != 1 {
		t.Errorf("Expected 1 action for s2, got %d", len(entries))
	}
}

func TestWritePDR(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()
	ctx := context.Background()

	pdr, err := s.WritePDR(ctx, "s1", "task.cancel", "abc123", "cancelled", "task-1", "task cancelled by user")
	if err != nil {
		t.Fatalf("WritePDR failed: %v", err)
	}
	if pdr.ID == "" {
		t.Error("PDR ID should not be empty")
	}

	entries, err := s.ListPDR(ctx, "s1", "")
	if err != nil {
		t.Fatalf("ListPDR failed: %v", err)
	}
	if len(entries) != 1 || entries[0].Details != "task cancelled by user" {
		t.Errorf("Unexpected PDR entries: %+v", entries)
	}
}

func TestPing(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := s.Ping(ctx)
	if err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func newTestStore(t *testing.T) *Store {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	s, err := New(dbPath)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	return s
}
