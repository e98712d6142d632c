package tui

import (
	"context"

	"github.com/fentz26/deskpilot/internal/controlplane"
	"github.com/fentz26/deskpilot/internal/models"
)

// API is the part of the daemon client the monitor uses.
type API interface {
	Session(ctx context.Context, sessionID string) (*controlplane.SessionView, error)
	Submit(ctx context.Context, sessionID, request string) error
	Approve(ctx context.Context, sessionID, actionID string) error
	Reject(ctx context.Context, sessionID, actionID string) error
	Pause(ctx context.Context, sessionID string) error
	Resume(ctx context.Context, sessionID string) error
	Cancel(ctx context.Context, sessionID string) error
	Events(ctx context.Context, sessionID string, fn func(models.Event) error) error
}

type sessionLoadedMsg struct {
	session *controlplane.SessionView
	err     error
}

type eventMsg struct {
	event models.Event
}

type streamClosedMsg struct {
	err error
}

type commandResultMsg struct {
	message string
	err     error
}

type reconnectMsg struct{}

type tickMsg struct{}
