package agent

import "github.com/fentz26/deskpilot/internal/models"

// appendBounded appends v and drops the oldest entries beyond limit.
func appendBounded[T any](s []T, v T, limit int) []T {
	s = append(s, v)
	if over := len(s) - limit; over > 0 {
		s = append(s[:0], s[over:]...)
	}
	return s
}

func copyTask(t *models.Task) *models.Task {
	if t == nil {
		return nil
	}
	c := *t
	c.Plan.Steps = append([]models.Step(nil), t.Plan.Steps...)
	c.Screenshots = append([]models.Screenshot(nil), t.Screenshots...)
	if t.CompletedAt != nil {
		at := *t.CompletedAt
		c.CompletedAt = &at
	}
	if t.Result != nil {
		r := *t.Result
		c.Result = &r
	}
	return &c
}

func copySession(s *models.Session) *models.Session {
	c := *s
	c.CurrentTask = copyTask(s.CurrentTask)
	c.ConversationHistory = append([]models.ConversationEntry(nil), s.ConversationHistory...)
	c.ActionHistory = append([]models.HistoryEntry(nil), s.ActionHistory...)
	return &c
}
