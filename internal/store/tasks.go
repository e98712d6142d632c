package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/fentz26/deskpilot/internal/models"
)

// finalSeq is the screenshots.seq of a task's final capture.
const finalSeq = -1

// SaveTask inserts or replaces a task snapshot together with its
// screenshots.
func (s *Store) SaveTask(ctx context.Context, task *models.Task) error {
	planJSON, err := json.Marshal(task.Plan)
	if err != nil {
		return fmt.Errorf("encode plan: %w", err)
	}

	var resultJSON sql.NullString
	var final *models.Screenshot
	if task.Result != nil {
		result := *task.Result
		final = result.FinalScreenshot
		result.FinalScreenshot = nil
		b, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("encode result: %w", err)
		}
		resultJSON = sql.NullString{String: string(b), Valid: true}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO tasks (id, session_id, user_intent, status, plan, current_step_index, retry_count, result, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			plan = excluded.plan,
			current_step_index = excluded.current_step_index,
			retry_count = excluded.retry_count,
			result = excluded.result,
			completed_at = excluded.completed_at`,
		task.ID, task.SessionID, task.UserIntent, task.Status, string(planJSON),
		task.CurrentStepIndex, task.RetryCount, resultJSON, task.StartedAt.UTC(), nullTime(task.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert task: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM screenshots WHERE task_id = ?`, task.ID); err != nil {
		return fmt.Errorf("clear screenshots: %w", err)
	}
	for i := range task.Screenshots {
		if err := insertScreenshot(ctx, tx, task.ID, i, &task.Screenshots[i]); err != nil {
			return err
		}
	}
	if final != nil {
		if err := insertScreenshot(ctx, tx, task.ID, finalSeq, final); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// GetTask retrieves a task by ID. Screenshots carry metadata only; load
// the image bytes with LoadScreenshot. It returns nil if the task does
// not exist.
func (s *Store) GetTask(ctx context.Context, id string) (*models.Task, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, session_id, user_intent, status, plan, current_step_index, retry_count, result, started_at, completed_at FROM tasks WHERE id = ?`,
		id,
	)
	task, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query task: %w", err)
	}

	shots, err := s.listScreenshots(ctx, id)
	if err != nil {
		return nil, err
	}
	for _, shot := range shots {
		if shot.seq == finalSeq {
			if task.Result != nil {
				final := shot.Screenshot
				task.Result.FinalScreenshot = &final
			}
			continue
		}
		task.Screenshots = append(task.Screenshots, shot.Screenshot)
	}
	return task, nil
}

// ListTasks returns a session's tasks, newest first. limit <= 0 means no
// limit.
func (s *Store) ListTasks(ctx context.Context, sessionID string, limit int) ([]models.Task, error) {
	query := `SELECT id, session_id, user_intent, status, plan, current_step_index, retry_count, result, started_at, completed_at FROM tasks WHERE session_id = ? ORDER BY started_at DESC`
	args := []any{sessionID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	var tasks []models.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, *task)
	}
	return tasks, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTask(row scanner) (*models.Task, error) {
	var (
		task        models.Task
		planJSON    string
		resultJSON  sql.NullString
		completedAt sql.NullTime
	)
	err := row.Scan(&task.ID, &task.SessionID, &task.UserIntent, &task.Status, &planJSON,
		&task.CurrentStepIndex, &task.RetryCount, &resultJSON, &task.StartedAt, &completedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(planJSON), &task.Plan); err != nil {
		return nil, fmt.Errorf("decode plan: %w", err)
	}
	if resultJSON.Valid {
		task.Result = &models.TaskResult{}
		if err := json.Unmarshal([]byte(resultJSON.String), task.Result); err != nil {
			return nil, fmt.Errorf("decode result: %w", err)
		}
	}
	if completedAt.Valid {
		task.CompletedAt = &completedAt.Time
	}
	return &task, nil
}
