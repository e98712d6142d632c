package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fentz26/deskpilot/internal/models"
)

// AppendAction records one executed step.
func (s *Store) AppendAction(ctx context.Context, entry models.HistoryEntry) error {
	actionJSON, err := json.Marshal(entry.Action)
	if err != nil {
		return fmt.Errorf("encode action: %w", err)
	}
	resultJSON, err := json.Marshal(entry.Result)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO actions (session_id, task_id, action, result, timestamp) VALUES (?, ?, ?, ?, ?)`,
		entry.SessionID, entry.TaskID, string(actionJSON), string(resultJSON), entry.Timestamp.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert action: %w", err)
	}
	return nil
}

// ListActions returns the executed steps of a task in execution order.
// An empty taskID lists the whole session instead.
func (s *Store) ListActions(ctx context.Context, sessionID, taskID string) ([]models.HistoryEntry, error) {
	query := `SELECT session_id, task_id, action, result, timestamp FROM actions WHERE session_id = ?`
	args := []any{sessionID}
	if taskID != "" {
		query += ` AND task_id = ?`
		args = append(args, taskID)
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query actions: %w", err)
	}
	defer rows.Close()

	var entries []models.HistoryEntry
	for rows.Next() {
		var entry models.HistoryEntry
		var actionJSON, resultJSON string
		if err := rows.Scan(&entry.SessionID, &entry.TaskID, &actionJSON, &resultJSON, &entry.Timestamp); err != nil {
			return nil, fmt.Errorf("scan action: %w", err)
		}
		if err := json.Unmarshal([]byte(actionJSON), &entry.Action); err != nil {
			return nil, fmt.Errorf("decode action: %w", err)
		}
		if err := json.Unmarshal([]byte(resultJSON), &entry.Result); err != nil {
			return nil, fmt.Errorf("decode result: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
