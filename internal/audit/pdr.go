// Package audit persists what the agent decided and did: process
// decision records, executed actions and finished tasks.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"

	"github.com/fentz26/deskpilot/internal/agent"
	"github.com/fentz26/deskpilot/internal/models"
	"github.com/fentz26/deskpilot/internal/store"
)

// PDRWriter writes Process Decision Records for audit trails.
type PDRWriter struct {
	store *store.Store
}

// NewPDRWriter creates a new PDR writer.
func NewPDRWriter(s *store.Store) *PDRWriter {
	return &PDRWriter{store: s}
}

// Record writes a PDR entry for a state-mutating decision.
func (w *PDRWriter) Record(ctx context.Context, sessionID, action string, inputs any, outcome, taskID, details string) (*models.PDREntry, error) {
	inputsHash := hashInputs(inputs)
	return w.store.WritePDR(ctx, sessionID, action, inputsHash, outcome, taskID, details)
}

// hashInputs creates a SHA256 hash of the inputs for reproducibility.
func hashInputs(inputs any) string {
	data, err := json.Marshal(inputs)
	if err != nil {
		return "hash_error"
	}
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}

// Recorder implements agent.Recorder on a Store.
type Recorder struct {
	store  *store.Store
	pdr    *PDRWriter
	logger *slog.Logger
}

var _ agent.Recorder = (*Recorder)(nil)

// NewRecorder creates a Recorder backed by s.
func NewRecorder(s *store.Store, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{store: s, pdr: NewPDRWriter(s), logger: logger}
}

// RecordTask saves a finished task and its screenshots.
func (r *Recorder) RecordTask(ctx context.Context, task *models.Task) error {
	if err := r.store.SaveTask(ctx, task); err != nil {
		return err
	}
	r.logger.Debug("task recorded", "session_id", task.SessionID, "task_id", task.ID, "status", task.Status, "screenshots", len(task.Screenshots))
	return nil
}

// RecordAction appends an executed step to the action log.
func (r *Recorder) RecordAction(ctx context.Context, entry models.HistoryEntry) error {
	return r.store.AppendAction(ctx, entry)
}

// RecordDecision writes a PDR whose inputs are hashed, not stored.
func (r *Recorder) RecordDecision(ctx context.Context, sessionID, taskID, action string, inputs any, outcome, details string) error {
	_, err := r.pdr.Record(ctx, sessionID, action, inputs, outcome, taskID, details)
	return err
}
