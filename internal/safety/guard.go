// Package safety implements the policy layer that gates every desktop
// action before it reaches an executor: action-kind checks, per-session
// rate limits, destructive text and hotkey detection, sensitive window
// heuristics and coordinate bounds.
package safety

import (
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fentz26/deskpilot/internal/clock"
	"github.com/fentz26/deskpilot/internal/models"
)

// Reasons reported in ValidationResult.Reason.
const (
	ReasonInvalidType       = "invalid action type"
	ReasonRateLimited       = "rate limit exceeded"
	ReasonDestructive       = "potentially destructive action"
	ReasonSensitiveWindow   = "sensitive window in focus"
	ReasonOutOfBounds       = "coordinates outside screen bounds"
	ReasonBlockedPattern    = "text matches a blocked pattern"
	ReasonInvalidParameters = "invalid action parameters"
)

// rateWindow is how long validation timestamps are retained.
const rateWindow = time.Hour

// AuditEntry is one executed action as seen by the guard.
type AuditEntry struct {
	SessionID string            `json:"session_id"`
	Action    models.Step       `json:"action"`
	Result    models.ExecResult `json:"result"`
	Timestamp time.Time         `json:"timestamp"`
}

// RateLimitStatus is the outcome of CheckRateLimit.
type RateLimitStatus struct {
	Allowed            bool   `json:"allowed"`
	Message            string `json:"message,omitempty"`
	RemainingPerMinute int    `json:"remaining_per_minute"`
	RemainingPerHour   int    `json:"remaining_per_hour"`
}

// SessionStats summarises the guard's counters for one session.
type SessionStats struct {
	Since          time.Time `json:"since"`
	TaskActions    int       `json:"task_actions"`
	TotalActions   int       `json:"total_actions"`
	RecentRequests int       `json:"recent_requests"`
}

type sessionCounters struct {
	start        time.Time
	requests     []time.Time
	taskActions  int
	totalActions int
}

// Guard validates steps. It holds no per-call state beyond the audit log
// and per-session counters, both keyed by session id.
type Guard struct {
	mu       sync.Mutex
	cfg      *Config
	blocked  []*regexp.Regexp
	keywords []*regexp.Regexp
	sessions map[string]*sessionCounters
	audit    []AuditEntry
	clock    clock.Clock
	logger   *slog.Logger
}

// Option configures a Guard.
type Option func(*Guard)

// WithClock injects the time source used for rate limiting.
func WithClock(c clock.Clock) Option {
	return func(g *Guard) { g.clock = c }
}

// WithLogger sets the guard's logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Guard) { g.logger = l }
}

// New creates a guard for cfg. A nil cfg uses DefaultConfig.
func New(cfg *Config, opts ...Option) (*Guard, error) {
	g := &Guard{
		sessions: make(map[string]*sessionCounters),
		clock:    clock.Real(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := g.UpdateConfig(cfg); err != nil {
		return nil, err
	}
	return g, nil
}

// UpdateConfig swaps the active policy. Counters and the audit log are
// kept.
func (g *Guard) UpdateConfig(cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	blocked, err := cfg.compilePatterns()
	if err != nil {
		return err
	}
	keywords := make([]*regexp.Regexp, 0, len(cfg.DestructiveKeywords))
	for _, kw := range cfg.DestructiveKeywords {
		keywords = append(keywords, keywordPattern(kw))
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.cfg = cfg
	g.blocked = blocked
	g.keywords = keywords
	if len(g.audit) > cfg.AuditLogLimit {
		g.audit = append([]AuditEntry(nil), g.audit[len(g.audit)-cfg.AuditLogLimit:]...)
	}
	return nil
}

// Config returns a copy of the active policy.
func (g *Guard) Config() Config {
	g.mu.Lock()
	defer g.mu.Unlock()
	return *g.cfg
}

// ValidateAction checks step against the policy. A refused step comes
// back with Allowed=false; a step that may run only after a human
// confirms it comes back with RequiresApproval=true.
func (g *Guard) ValidateAction(step models.Step, sessionID string, vctx models.ValidationContext) models.ValidationResult {
	if !step.Type.Valid() {
		return models.ValidationResult{
			Allowed:    false,
			Reason:     ReasonInvalidType,
			Suggestion: fmt.Sprintf("use one of %v", models.ActionTypes),
		}
	}

	if rl := g.CheckRateLimit(sessionID); !rl.Allowed {
		g.logger.Warn("rate limit exceeded", "session_id", sessionID, "detail", rl.Message)
		return models.ValidationResult{
			Allowed:    false,
			Reason:     ReasonRateLimited + ": " + rl.Message,
			Suggestion: "wait before issuing more actions",
		}
	}

	g.mu.Lock()
	cfg := g.cfg
	blocked := g.blocked
	keywords := g.keywords
	g.mu.Unlock()

	result := models.ValidationResult{Allowed: true}
	var reasons []string

	if !cfg.AllowDestructive && isDestructive(step, keywords, cfg.DestructiveHotkeys) {
		result.RequiresApproval = true
		reasons = append(reasons, ReasonDestructive)
	}

	if title := strings.ToLower(vctx.WindowTitle); title != "" {
		for _, kw := range cfg.SensitiveWindowKeywords {
			if strings.Contains(title, strings.ToLower(kw)) {
				result.RequiresApproval = true
				reasons = append(reasons, fmt.Sprintf("%s (%q)", ReasonSensitiveWindow, vctx.WindowTitle))
				break
			}
		}
	}

	if reason, suggestion := checkStructure(step, cfg, blocked); reason != "" {
		return models.ValidationResult{Allowed: false, Reason: reason, Suggestion: suggestion}
	}

	if len(reasons) > 0 {
		result.Reason = strings.Join(reasons, "; ")
		result.Suggestion = "confirm the action before it runs"
	}
	return result
}

// checkStructure applies the type-specific parameter checks. It returns
// an empty reason when the step is well formed.
func checkStructure(step models.Step, cfg *Config, blocked []*regexp.Regexp) (reason, suggestion string) {
	inBounds := func(x, y int) bool {
		return x >= 0 && y >= 0 && x < cfg.ScreenWidth && y < cfg.ScreenHeight
	}
	boundsHint := fmt.Sprintf("use coordinates within %dx%d", cfg.ScreenWidth, cfg.ScreenHeight)

	switch step.Type {
	case models.ActionClick:
		if !inBounds(step.X, step.Y) {
			return fmt.Sprintf("%s: (%d, %d)", ReasonOutOfBounds, step.X, step.Y), boundsHint
		}
	case models.ActionDrag:
		if !inBounds(step.X, step.Y) || !inBounds(step.ToX, step.ToY) {
			return fmt.Sprintf("%s: (%d, %d) -> (%d, %d)", ReasonOutOfBounds, step.X, step.Y, step.ToX, step.ToY), boundsHint
		}
	case models.ActionTypeText:
		if cfg.MaxTextLength > 0 && len(step.Text) > cfg.MaxTextLength {
			return fmt.Sprintf("%s: text longer than %d characters", ReasonInvalidParameters, cfg.MaxTextLength), "split the text into smaller steps"
		}
		for _, re := range blocked {
			if re.MatchString(step.Text) {
				return ReasonBlockedPattern, "this command is never allowed"
			}
		}
	case models.ActionScroll:
		if step.Amount <= 0 {
			return fmt.Sprintf("%s: scroll amount %d", ReasonInvalidParameters, step.Amount), "set a positive scroll amount; direction gives the sign"
		}
	case models.ActionWait:
		if step.DurationMs <= 0 || (cfg.MaxWaitMs > 0 && step.DurationMs > cfg.MaxWaitMs) {
			return fmt.Sprintf("%s: wait of %dms", ReasonInvalidParameters, step.DurationMs), fmt.Sprintf("wait between 1 and %dms", cfg.MaxWaitMs)
		}
	case models.ActionHotkey:
		// A hotkey without a key is a plain modifier press.
	}
	return "", ""
}

func isDestructive(step models.Step, keywords []*regexp.Regexp, hotkeys []Hotkey) bool {
	switch step.Type {
	case models.ActionTypeText:
		for _, re := range keywords {
			if re.MatchString(step.Text) {
				return true
			}
		}
	case models.ActionHotkey:
		if step.Key == "" {
			return false
		}
		for _, hk := range hotkeys {
			if MatchHotkey(hk, step.Modifiers, step.Key) {
				return true
			}
		}
	}
	return false
}

// MatchHotkey reports whether modifiers+key is the same combination as
// hk. Modifier order and letter case are ignored, and common aliases
// (control/ctrl, cmd/meta/super/win, option/alt) are folded.
func MatchHotkey(hk Hotkey, modifiers []string, key string) bool {
	if !strings.EqualFold(strings.TrimSpace(hk.Key), strings.TrimSpace(key)) {
		return false
	}
	return equalSets(normalizeModifiers(hk.Modifiers), normalizeModifiers(modifiers))
}

var modifierAliases = map[string]string{
	"control": "ctrl",
	"ctl":     "ctrl",
	"option":  "alt",
	"opt":     "alt",
	"cmd":     "meta",
	"command": "meta",
	"super":   "meta",
	"win":     "meta",
	"windows": "meta",
}

func normalizeModifiers(mods []string) []string {
	seen := make(map[string]bool, len(mods))
	out := make([]string, 0, len(mods))
	for _, m := range mods {
		m = strings.ToLower(strings.TrimSpace(m))
		if alias, ok := modifierAliases[m]; ok {
			m = alias
		}
		if m == "" || seen[m] {
			continue
		}
		seen[m] = true
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

func equalSets(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// keywordPattern matches kw case-insensitively on word boundaries, so
// "format" does not fire on "information".
func keywordPattern(kw string) *regexp.Regexp {
	quoted := regexp.QuoteMeta(strings.TrimSpace(kw))
	prefix, suffix := `(?i)`, ``
	if kw != "" && isWordByte(kw[0]) {
		prefix += `\b`
	}
	if kw != "" && isWordByte(kw[len(kw)-1]) {
		suffix = `\b`
	}
	return regexp.MustCompile(prefix + quoted + suffix)
}

func isWordByte(b byte) bool {
	return b == '_' || ('0' <= b && b <= '9') || ('a' <= b && b <= 'z') || ('A' <= b && b <= 'Z')
}

// CheckRateLimit records a request for sessionID and reports whether it
// stays within the policy. Tracking starts lazily on the first call;
// requests older than an hour are forgotten.
func (g *Guard) CheckRateLimit(sessionID string) RateLimitStatus {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.clock.Now()
	sc := g.countersLocked(sessionID, now)

	cutoff := now.Add(-rateWindow)
	kept := sc.requests[:0]
	for _, ts := range sc.requests {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	sc.requests = kept

	if sc.taskActions >= g.cfg.MaxActionsPerTask {
		return RateLimitStatus{
			Allowed: false,
			Message: fmt.Sprintf("%d actions already executed for this task (max %d)", sc.taskActions, g.cfg.MaxActionsPerTask),
		}
	}

	windowStart := sc.start
	if windowStart.Before(cutoff) {
		windowStart = cutoff
	}
	elapsedMinutes := now.Sub(windowStart).Minutes()
	if elapsedMinutes < 1 {
		elapsedMinutes = 1
	}
	count := len(sc.requests) + 1
	if float64(count)/elapsedMinutes > float64(g.cfg.MaxActionsPerMinute) {
		return RateLimitStatus{
			Allowed: false,
			Message: fmt.Sprintf("%.1f actions per minute (max %d)", float64(count)/elapsedMinutes, g.cfg.MaxActionsPerMinute),
		}
	}
	sc.requests = append(sc.requests, now)

	lastMinute := 0
	for _, ts := range sc.requests {
		if ts.After(now.Add(-time.Minute)) {
			lastMinute++
		}
	}
	return RateLimitStatus{
		Allowed:            true,
		RemainingPerMinute: max(g.cfg.MaxActionsPerMinute-lastMinute, 0),
		RemainingPerHour:   max(g.cfg.MaxActionsPerMinute*60-len(sc.requests), 0),
	}
}

// LogAction appends an audit entry and counts the action against the
// session's task budget. Only logged actions consume that budget.
func (g *Guard) LogAction(step models.Step, result models.ExecResult, sessionID string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.clock.Now()
	g.audit = append(g.audit, AuditEntry{SessionID: sessionID, Action: step, Result: result, Timestamp: now})
	if over := len(g.audit) - g.cfg.AuditLogLimit; over > 0 {
		g.audit = append(g.audit[:0], g.audit[over:]...)
	}

	sc := g.countersLocked(sessionID, now)
	sc.taskActions++
	sc.totalActions++
}

// ResetTask zeroes the per-task action budget of a session. The
// orchestrator calls it whenever a new task starts.
func (g *Guard) ResetTask(sessionID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if sc, ok := g.sessions[sessionID]; ok {
		sc.taskActions = 0
	}
}

// ClearSession drops all rate-limit and counter state for sessionID.
func (g *Guard) ClearSession(sessionID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.sessions, sessionID)
}

// Stats returns the counters for sessionID and whether any exist.
func (g *Guard) Stats(sessionID string) (SessionStats, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	sc, ok := g.sessions[sessionID]
	if !ok {
		return SessionStats{}, false
	}
	return SessionStats{
		Since:          sc.start,
		TaskActions:    sc.taskActions,
		TotalActions:   sc.totalActions,
		RecentRequests: len(sc.requests),
	}, true
}

// AuditLog returns the retained audit entries for sessionID, oldest
// first. An empty sessionID returns every entry.
func (g *Guard) AuditLog(sessionID string) []AuditEntry {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []AuditEntry
	for _, e := range g.audit {
		if sessionID == "" || e.SessionID == sessionID {
			out = append(out, e)
		}
	}
	return out
}

func (g *Guard) countersLocked(sessionID string, now time.Time) *sessionCounters {
	sc, ok := g.sessions[sessionID]
	if !ok {
		sc = &sessionCounters{start: now}
		g.sessions[sessionID] = sc
	}
	return sc
}
