package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fentz26/deskpilot/internal/models"
)

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type elements struct {
	Text []models.TextElement `json:"text,omitempty"`
	UI   []models.UIElement   `json:"ui,omitempty"`
}

// storedScreenshot is a screenshot row without its image bytes.
type storedScreenshot struct {
	models.Screenshot
	seq int
}

// SaveScreenshot stores shot as capture seq of taskID, replacing any
// capture already at that position.
func (s *Store) SaveScreenshot(ctx context.Context, taskID string, seq int, shot *models.Screenshot) error {
	return insertScreenshot(ctx, s.db, taskID, seq, shot)
}

func insertScreenshot(ctx context.Context, db execer, taskID string, seq int, shot *models.Screenshot) error {
	var elementsJSON sql.NullString
	if len(shot.TextElements) > 0 || len(shot.UIElements) > 0 {
		b, err := json.Marshal(elements{Text: shot.TextElements, UI: shot.UIElements})
		if err != nil {
			return fmt.Errorf("encode elements: %w", err)
		}
		elementsJSON = sql.NullString{String: string(b), Valid: true}
	}

	codec, data := compressImage(shot.Image)
	_, err := db.ExecContext(ctx,
		`INSERT OR REPLACE INTO screenshots (task_id, seq, id, format, width, height, window_title, elements, compression, size, data, taken_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		taskID, seq, shot.ID, shot.Format, shot.Width, shot.Height, shot.WindowTitle, elementsJSON,
		codec, len(shot.Image), data, shot.Timestamp.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert screenshot: %w", err)
	}
	return nil
}

// LoadScreenshot returns the screenshot with id, image included. It
// returns nil if no such screenshot is stored.
func (s *Store) LoadScreenshot(ctx context.Context, id string) (*models.Screenshot, error) {
	var (
		shot         models.Screenshot
		format       sql.NullString
		title        sql.NullString
		elementsJSON sql.NullString
		codec        string
		size         int
		data         []byte
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, format, width, height, window_title, elements, compression, size, data, taken_at FROM screenshots WHERE id = ? LIMIT 1`,
		id,
	).Scan(&shot.ID, &format, &shot.Width, &shot.Height, &title, &elementsJSON, &codec, &size, &data, &shot.Timestamp)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query screenshot: %w", err)
	}

	shot.Format, shot.WindowTitle = format.String, title.String
	if err := decodeElements(elementsJSON, &shot); err != nil {
		return nil, err
	}
	shot.Image, err = decompressImage(codec, data, size)
	if err != nil {
		return nil, fmt.Errorf("screenshot %s: %w", id, err)
	}
	return &shot, nil
}

// listScreenshots returns the metadata of a task's captures in order,
// the final capture last.
func (s *Store) listScreenshots(ctx context.Context, taskID string) ([]storedScreenshot, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, id, format, width, height, window_title, elements, taken_at FROM screenshots WHERE task_id = ?
		ORDER BY CASE WHEN seq < 0 THEN 1 ELSE 0 END, seq`,
		taskID,
	)
	if err != nil {
		return nil, fmt.Errorf("query screenshots: %w", err)
	}
	defer rows.Close()

	var shots []storedScreenshot
	for rows.Next() {
		var (
			shot         storedScreenshot
			format       sql.NullString
			title        sql.NullString
			elementsJSON sql.NullString
			takenAt      time.Time
		)
		if err := rows.Scan(&shot.seq, &shot.ID, &format, &shot.Width, &shot.Height, &title, &elementsJSON, &takenAt); err != nil {
			return nil, fmt.Errorf("scan screenshot: %w", err)
		}
		shot.Format, shot.WindowTitle, shot.Timestamp = format.String, title.String, takenAt
		if err := decodeElements(elementsJSON, &shot.Screenshot); err != nil {
			return nil, err
		}
		shots = append(shots, shot)
	}
	return shots, rows.Err()
}

func decodeElements(raw sql.NullString, shot *models.Screenshot) error {
	if !raw.Valid {
		return nil
	}
	var el elements
	if err := json.Unmarshal([]byte(raw.String), &el); err != nil {
		return fmt.Errorf("decode elements: %w", err)
	}
	shot.TextElements, shot.UIElements = el.Text, el.UI
	return nil
}
