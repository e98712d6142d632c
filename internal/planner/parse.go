package planner

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/fentz26/deskpilot/internal/models"
)

// ErrNoJSON is returned when a reply contains no JSON object.
var ErrNoJSON = errors.New("reply contains no JSON object")

// extractJSON returns the first JSON object in reply, looking inside a
// fenced code block first.
func extractJSON(reply string) (string, error) {
	s := reply
	if i := strings.Index(s, "```"); i >= 0 {
		body := s[i+3:]
		if nl := strings.IndexByte(body, '\n'); nl >= 0 {
			body = body[nl+1:]
		}
		if end := strings.Index(body, "```"); end >= 0 {
			body = body[:end]
		}
		s = body
	}

	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", ErrNoJSON
	}
	depth, inString, escaped := 0, false, false
	for i := start; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case inString && c == '\\':
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return s[start : i+1], nil
			}
		}
	}
	return "", ErrNoJSON
}

func decodeReply(reply string, v any) error {
	raw, err := extractJSON(reply)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return fmt.Errorf("decoding reply: %w", err)
	}
	return nil
}

// actionAliases maps spellings models commonly use onto action types.
var actionAliases = map[string]models.ActionType{
	"type_text":    models.ActionTypeText,
	"typing":       models.ActionTypeText,
	"key":          models.ActionHotkey,
	"key_press":    models.ActionHotkey,
	"keypress":     models.ActionHotkey,
	"double_click": models.ActionClick,
	"right_click":  models.ActionClick,
	"sleep":        models.ActionWait,
}

type wireStep struct {
	models.Step
	Keys string `json:"keys,omitempty"`
}

type wirePlan struct {
	Steps            []wireStep `json:"steps"`
	Reasoning        string     `json:"reasoning"`
	RequiresApproval bool       `json:"requires_approval"`
}

// parsePlan decodes an action plan, normalising action aliases and
// "ctrl+s" style key chords.
func parsePlan(reply string) (*models.ActionPlan, error) {
	var wp wirePlan
	if err := decodeReply(reply, &wp); err != nil {
		return nil, err
	}

	plan := &models.ActionPlan{
		Reasoning:        wp.Reasoning,
		RequiresApproval: wp.RequiresApproval,
		Steps:            make([]models.Step, 0, len(wp.Steps)),
	}
	for i, ws := range wp.Steps {
		step := ws.Step
		raw := strings.ToLower(strings.TrimSpace(string(step.Type)))
		if alias, ok := actionAliases[raw]; ok {
			switch raw {
			case "double_click":
				step.Double = true
			case "right_click":
				step.Button = "right"
			}
			step.Type = alias
		} else {
			step.Type = models.ActionType(raw)
		}
		if !step.Type.Valid() {
			return nil, fmt.Errorf("step %d: unknown action type %q", i+1, ws.Type)
		}
		if step.Type == models.ActionHotkey {
			chord := ws.Keys
			if chord == "" && len(step.Modifiers) == 0 && len(step.Key) > 1 && strings.Contains(step.Key, "+") {
				chord = step.Key
			}
			if chord != "" {
				parts := strings.Split(chord, "+")
				step.Key = strings.TrimSpace(parts[len(parts)-1])
				step.Modifiers = nil
				for _, m := range parts[:len(parts)-1] {
					step.Modifiers = append(step.Modifiers, strings.ToLower(strings.TrimSpace(m)))
				}
			}
		}
		plan.Steps = append(plan.Steps, step)
	}
	return plan, nil
}

func parseAnalysis(reply string) (*models.Analysis, error) {
	var a models.Analysis
	if err := decodeReply(reply, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func parseVerification(reply string) (*models.Verification, error) {
	var v models.Verification
	if err := decodeReply(reply, &v); err != nil {
		return nil, err
	}
	v.Confidence = min(max(v.Confidence, 0), 1)
	return &v, nil
}
