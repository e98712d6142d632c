package planner

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/fentz26/deskpilot/internal/agent"
	"github.com/fentz26/deskpilot/internal/models"
)

// LLM implements agent.Planner on top of a Completer.
type LLM struct {
	completer Completer
	maxTokens int
	timeout   time.Duration
	logger    *slog.Logger
}

var _ agent.Planner = (*LLM)(nil)

// Option configures an LLM.
type Option func(*LLM)

// WithMaxTokens caps each reply.
func WithMaxTokens(n int) Option { return func(l *LLM) { l.maxTokens = n } }

// WithTimeout bounds each model call. Zero means no bound.
func WithTimeout(d time.Duration) Option { return func(l *LLM) { l.timeout = d } }

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option { return func(l *LLM) { l.logger = logger } }

// New creates a planner backed by c.
func New(c Completer, opts ...Option) *LLM {
	l := &LLM{completer: c, maxTokens: DefaultMaxTokens, logger: slog.Default()}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// AnalyzeScreen asks the model what the screenshot shows in light of
// intent.
func (l *LLM) AnalyzeScreen(ctx context.Context, shot *models.Screenshot, intent string) (*models.Analysis, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "User request: %s\n", intent)
	describeScreen(&b, shot)

	reply, err := l.complete(ctx, "analyze", Prompt{
		System: analyzeSystem,
		User:   b.String(),
		Images: []Image{screenImage(shot)},
	})
	if err != nil {
		return nil, err
	}
	analysis, err := parseAnalysis(reply)
	if err != nil {
		return nil, fmt.Errorf("analyze: %w", err)
	}
	return analysis, nil
}

// PlanActions asks the model for the steps that fulfil intent.
func (l *LLM) PlanActions(ctx context.Context, analysis *models.Analysis, intent string) (*models.ActionPlan, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "User request: %s\n", intent)
	fmt.Fprintf(&b, "Screen: %s\n", analysis.Description)
	if len(analysis.DetectedElements) > 0 {
		b.WriteString("Elements:\n")
		for _, el := range analysis.DetectedElements {
			fmt.Fprintf(&b, "- %s %q at (%d,%d) size %dx%d\n", el.Role, el.Name, el.Bounds.X, el.Bounds.Y, el.Bounds.Width, el.Bounds.Height)
		}
	}
	if len(analysis.SuggestedActions) > 0 {
		fmt.Fprintf(&b, "Suggested: %s\n", strings.Join(analysis.SuggestedActions, "; "))
	}

	reply, err := l.complete(ctx, "plan", Prompt{System: planSystem, User: b.String()})
	if err != nil {
		return nil, err
	}
	plan, err := parsePlan(reply)
	if err != nil {
		return nil, fmt.Errorf("plan: %w", err)
	}
	return plan, nil
}

// VerifyResult compares before and after against the expected effect.
func (l *LLM) VerifyResult(ctx context.Context, before, after *models.Screenshot, expected string) (*models.Verification, error) {
	user := fmt.Sprintf("Expected outcome: %s\nThe first image is before the action, the second after.\n", expected)
	if before.WindowTitle != after.WindowTitle {
		user += fmt.Sprintf("Active window changed from %q to %q.\n", before.WindowTitle, after.WindowTitle)
	}

	reply, err := l.complete(ctx, "verify", Prompt{
		System: verifySystem,
		User:   user,
		Images: []Image{screenImage(before), screenImage(after)},
	})
	if err != nil {
		return nil, err
	}
	v, err := parseVerification(reply)
	if err != nil {
		return nil, fmt.Errorf("verify: %w", err)
	}
	return v, nil
}

// GenerateClarification asks the model for a question to put to the user.
func (l *LLM) GenerateClarification(ctx context.Context, intent, ambiguity string) (string, error) {
	reply, err := l.complete(ctx, "clarify", Prompt{
		System: clarifySystem,
		User:   fmt.Sprintf("User request: %s\nProblem: %s", intent, ambiguity),
	})
	if err != nil {
		return "", err
	}
	question := strings.Trim(strings.TrimSpace(reply), `"`)
	if question == "" {
		return "Could you describe in more detail what you want me to do?", nil
	}
	return question, nil
}

func (l *LLM) complete(ctx context.Context, op string, p Prompt) (string, error) {
	p.MaxTokens = l.maxTokens
	if l.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}
	reply, err := l.completer.Complete(ctx, p)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	sessionID, _ := agent.SessionFromContext(ctx)
	l.logger.Debug("model replied", "op", op, "provider", l.completer.Name(), "session_id", sessionID, "bytes", len(reply))
	return reply, nil
}

func describeScreen(b *strings.Builder, shot *models.Screenshot) {
	if shot.Width > 0 {
		fmt.Fprintf(b, "Screen size: %dx%d\n", shot.Width, shot.Height)
	}
	if shot.WindowTitle != "" {
		fmt.Fprintf(b, "Active window: %s\n", shot.WindowTitle)
	}
	for _, t := range shot.TextElements {
		fmt.Fprintf(b, "Text %q at (%d,%d)\n", t.Text, t.Bounds.X, t.Bounds.Y)
	}
	for _, el := range shot.UIElements {
		fmt.Fprintf(b, "%s %q at (%d,%d) size %dx%d\n", el.Role, el.Name, el.Bounds.X, el.Bounds.Y, el.Bounds.Width, el.Bounds.Height)
	}
}

func screenImage(shot *models.Screenshot) Image {
	format := shot.Format
	if format == "" {
		format = "png"
	}
	return Image{Data: shot.Image, MIMEType: "image/" + format}
}
