package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/fentz26/deskpilot/internal/models"
)

// maxSuggestions is how many completions are drawn at once.
const maxSuggestions = 5

// SuggestionItem is one slash command offered for completion.
type SuggestionItem struct {
	Text        string
	Description string
	// when lists the session statuses the command applies to. Empty
	// means always.
	when []models.AgentStatus
}

func (item SuggestionItem) appliesTo(status models.AgentStatus) bool {
	if len(item.when) == 0 {
		return true
	}
	for _, s := range item.when {
		if s == status {
			return true
		}
	}
	return false
}

var taskStatuses = []models.AgentStatus{
	models.StatusObserving, models.StatusPlanning, models.StatusAwaitingApproval,
	models.StatusActing, models.StatusVerifying, models.StatusPaused,
}

var commandSuggestions = []SuggestionItem{
	{Text: "/approve", Description: "Approve the pending action", when: []models.AgentStatus{models.StatusAwaitingApproval}},
	{Text: "/reject", Description: "Reject the pending action and cancel the task", when: []models.AgentStatus{models.StatusAwaitingApproval}},
	{Text: "/pause", Description: "Pause after the current step", when: []models.AgentStatus{models.StatusActing, models.StatusVerifying}},
	{Text: "/resume", Description: "Resume a paused task", when: []models.AgentStatus{models.StatusPaused}},
	{Text: "/cancel", Description: "Cancel the current task", when: taskStatuses},
	{Text: "/refresh", Description: "Reload the session"},
	{Text: "/quit", Description: "Leave the monitor"},
}

// Suggestions completes slash commands, offering only those that make
// sense for the session's current status.
type Suggestions struct {
	status   models.AgentStatus
	filtered []SuggestionItem
	selected int
	visible  bool
}

// NewSuggestions creates an empty completer.
func NewSuggestions() *Suggestions {
	return &Suggestions{status: models.StatusUnknown}
}

// SetStatus records the session status used to filter commands.
func (s *Suggestions) SetStatus(status models.AgentStatus) {
	s.status = status
}

// Update recomputes the completions for input. Anything but a bare
// slash command hides them.
func (s *Suggestions) Update(input string) {
	s.selected = 0
	s.filtered = nil
	s.visible = strings.HasPrefix(input, "/") && !strings.Contains(input, " ")
	if !s.visible {
		return
	}
	query := strings.ToLower(input)
	for _, item := range commandSuggestions {
		if strings.HasPrefix(item.Text, query) && (s.status == models.StatusUnknown || item.appliesTo(s.status)) {
			s.filtered = append(s.filtered, item)
		}
	}
}

// Next moves the selection down, wrapping around.
func (s *Suggestions) Next() {
	if n := len(s.filtered); n > 0 {
		s.selected = (s.selected + 1) % n
	}
}

// Prev moves the selection up, wrapping around.
func (s *Suggestions) Prev() {
	if n := len(s.filtered); n > 0 {
		s.selected = (s.selected - 1 + n) % n
	}
}

// Selected returns the highlighted completion, or nil.
func (s *Suggestions) Selected() *SuggestionItem {
	if !s.IsVisible() || s.selected >= len(s.filtered) {
		return nil
	}
	return &s.filtered[s.selected]
}

// IsVisible reports whether there is anything to show.
func (s *Suggestions) IsVisible() bool {
	return s.visible && len(s.filtered) > 0
}

var (
	suggestionBoxStyle = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(cyanColor).
				Padding(0, 1)
	suggestionSelectedStyle = lipgloss.NewStyle().
				Background(primaryColor).
				Foreground(fgColor).
				Bold(true)
	suggestionDescStyle = mutedStyle.Italic(true)
)

// Render draws the completion box, scrolled so the selection is shown.
func (s *Suggestions) Render(width int) string {
	if !s.IsVisible() {
		return ""
	}

	start := 0
	if s.selected >= maxSuggestions {
		start = s.selected - maxSuggestions + 1
	}
	end := min(start+maxSuggestions, len(s.filtered))

	var b strings.Builder
	for i := start; i < end; i++ {
		item := s.filtered[i]
		if i == s.selected {
			b.WriteString(suggestionSelectedStyle.Render("▶ " + item.Text + "  " + item.Description))
		} else {
			b.WriteString("  " + item.Text + "  " + suggestionDescStyle.Render(item.Description))
		}
		if i < end-1 {
			b.WriteString("\n")
		}
	}
	if hidden := len(s.filtered) - (end - start); hidden > 0 {
		b.WriteString("\n" + suggestionDescStyle.Render(fmt.Sprintf("  %d more, use ↑/↓", hidden)))
	}
	return suggestionBoxStyle.Width(width - 4).Render(b.String())
}
