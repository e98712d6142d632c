package agent

import "context"

type sessionKey struct{}

// ContextWithSession returns a context carrying sessionID. The
// orchestrator attaches it to every capability call so adapters that
// serve several desktops can tell sessions apart.
func ContextWithSession(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionKey{}, sessionID)
}

// SessionFromContext returns the session ID attached by
// ContextWithSession.
func SessionFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(sessionKey{}).(string)
	return id, ok && id != ""
}
