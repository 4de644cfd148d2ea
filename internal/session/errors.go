package session

import (
	"errors"

	"github.com/DoyleJ11/lobby-sync/internal/config"
	"github.com/DoyleJ11/lobby-sync/internal/transport"
)

const ReasonNoRooms = "no rooms available"

var (
	ErrInvalidConfig    = config.ErrInvalidConfig
	ErrNoSession        = errors.New("not in a session")
	ErrAlreadyInSession = errors.New("already in a session")
	ErrNotAuthority     = errors.New("not the session authority")
	ErrAlreadyStarting  = errors.New("match already starting")
	ErrNoRooms          = errors.New(ReasonNoRooms)
)

// JoinError is a setup failure with a short reason fit to show a player.
type JoinError struct {
	Reason string
	Err    error
}

func (e *JoinError) Error() string { return e.Reason }
func (e *JoinError) Unwrap() error { return e.Err }

func joinError(err error) *JoinError {
	reason := err.Error()
	switch {
	case errors.Is(err, transport.ErrSessionNotFound):
		reason = transport.ReasonNotFound
	case errors.Is(err, transport.ErrSessionFull):
		reason = transport.ReasonFull
	case errors.Is(err, transport.ErrSessionClosed):
		reason = transport.ReasonClosed
	case errors.Is(err, transport.ErrSessionExists):
		reason = transport.ReasonExists
	case errors.Is(err, ErrNoRooms):
		reason = ReasonNoRooms
	}
	return &JoinError{Reason: reason, Err: err}
}
