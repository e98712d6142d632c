package controlplane

import (
	"errors"
	"net/http"

	"github.com/fentz26/deskpilot/internal/agent"
	"github.com/fentz26/deskpilot/internal/auth"
)

var (
	ErrNotFound   = errors.New("resource not found")
	ErrNotOwner   = errors.New("session belongs to another user")
	ErrBadRequest = errors.New("bad request")
)

// statusFor maps service errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, auth.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrNotOwner):
		return http.StatusForbidden
	case errors.Is(err, ErrNotFound), errors.Is(err, agent.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrBadRequest), errors.Is(err, agent.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, agent.ErrSessionExists),
		errors.Is(err, agent.ErrTaskActive),
		errors.Is(err, agent.ErrNoPendingTask),
		errors.Is(err, agent.ErrActionMismatch),
		errors.Is(err, agent.ErrNoActiveTask),
		errors.Is(err, agent.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, agent.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
