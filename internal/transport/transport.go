// Package transport defines the session primitive the lobby protocol is
// layered on: point-to-point sends delivered once per key, membership
// callbacks, and an authority holder per session.
package transport

import (
	"context"
	"errors"

	"github.com/DoyleJ11/lobby-sync/internal/types"
)

// Stable failure reasons surfaced to players.
const (
	ReasonNotFound = "room does not exist"
	ReasonFull     = "room is full"
	ReasonExists   = "room already exists"
	ReasonClosed   = "room is closed"
)

var (
	ErrSessionNotFound = errors.New(ReasonNotFound)
	ErrSessionFull     = errors.New(ReasonFull)
	ErrSessionExists   = errors.New(ReasonExists)
	ErrSessionClosed   = errors.New(ReasonClosed)
	ErrLinkClosed      = errors.New("link closed")
	ErrUnknownPeer     = errors.New("unknown peer")
)

// ErrorFromReason maps a relay reason string back to its sentinel so that
// errors.Is works across the websocket boundary.
func ErrorFromReason(reason string) error {
	switch reason {
	case ReasonNotFound:
		return ErrSessionNotFound
	case ReasonFull:
		return ErrSessionFull
	case ReasonExists:
		return ErrSessionExists
	case ReasonClosed:
		return ErrSessionClosed
	default:
		return errors.New(reason)
	}
}

type EventKind int

const (
	PeerJoined EventKind = iota + 1
	PeerLeft
	Message
	Closed
)

func (k EventKind) String() string {
	switch k {
	case PeerJoined:
		return "peer_joined"
	case PeerLeft:
		return "peer_left"
	case Message:
		return "message"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Event is a membership change or an inbound message. Membership state
// (Peers, Authority) on the Link is already updated when the event is read,
// so for messages Authority holds the authority as of delivery.
type Event struct {
	Kind      EventKind
	Peer      types.PeerID
	From      types.PeerID
	Authority types.PeerID
	Key       uint64
	Payload   []byte
	Reason    string
}

// Network is the lobby-level view of the transport.
type Network interface {
	ListSessions(ctx context.Context) ([]types.SessionInfo, error)
	Open(ctx context.Context, req types.OpenRequest) (Link, error)
}

// Link is a live membership in one session.
type Link interface {
	Self() types.PeerID
	Session() types.SessionInfo
	Peers() []types.PeerID
	Authority() types.PeerID
	IsAuthority(p types.PeerID) bool
	Send(ctx context.Context, to types.PeerID, key uint64, payload []byte) error
	EnsureAuthorityMarker(ctx context.Context) error
	SetOpen(ctx context.Context, open bool) error
	Events() <-chan Event
	Close(ctx context.Context) error
}
