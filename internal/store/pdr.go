package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/fentz26/deskpilot/internal/models"
	"github.com/google/uuid"
)

// WritePDR writes a Process Decision Record.
func (s *Store) WritePDR(ctx context.Context, sessionID, action, inputsHash, outcome, taskID, details string) (*models.PDREntry, error) {
	now := time.Now().UTC()
	pdr := &models.PDREntry{
		ID:         uuid.New().String(),
		SessionID:  sessionID,
		Action:     action,
		InputsHash: inputsHash,
		Outcome:    outcome,
		TaskID:     taskID,
		Details:    details,
		Timestamp:  now,
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO pdr (id, session_id, action, inputs_hash, outcome, task_id, details, timestamp) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		pdr.ID, pdr.SessionID, pdr.Action, pdr.InputsHash, pdr.Outcome, pdr.TaskID, pdr.Details, pdr.Timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("insert pdr: %w", err)
	}
	return pdr, nil
}

// ListPDR returns decision records, oldest first, filtered by task when
// taskID is set and otherwise by session.
func (s *Store) ListPDR(ctx context.Context, sessionID, taskID string) ([]models.PDREntry, error) {
	query := `SELECT id, session_id, action, inputs_hash, outcome, task_id, details, timestamp FROM pdr`
	var args []any
	switch {
	case taskID != "":
		query += ` WHERE task_id = ?`
		args = append(args, taskID)
	case sessionID != "":
		query += ` WHERE session_id = ?`
		args = append(args, sessionID)
	}
	query += ` ORDER BY timestamp, rowid`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query pdr: %w", err)
	}
	defer rows.Close()

	var entries []models.PDREntry
	for rows.Next() {
		var e models.PDREntry
		var sessionID, taskID, details sql.NullString
		if err := rows.Scan(&e.ID, &sessionID, &e.Action, &e.InputsHash, &e.Outcome, &taskID, &details, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan pdr: %w", err)
		}
		e.SessionID, e.TaskID, e.Details = sessionID.String, taskID.String, details.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
