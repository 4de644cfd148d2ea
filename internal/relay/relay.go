// Package relay is an in-process transport.Network backed by a hub. Peers
// in the same process share one hub; used by tests and single-binary demos.
package relay

import (
	"context"
	"sync"

	"github.com/DoyleJ11/lobby-sync/internal/hub"
	"github.com/DoyleJ11/lobby-sync/internal/lobby"
	"github.com/DoyleJ11/lobby-sync/internal/transport"
	"github.com/DoyleJ11/lobby-sync/internal/types"
)

type Network struct {
	hub *hub.Hub
}

func New(h *hub.Hub) *Network { return &Network{hub: h} }

func (n *Network) ListSessions(ctx context.Context) ([]types.SessionInfo, error) {
	return n.hub.List(ctx)
}

func (n *Network) Open(ctx context.Context, req types.OpenRequest) (transport.Link, error) {
	out := make(chan types.ServerMessage, 256)
	lb, _, err := n.hub.Open(ctx, req, out)
	if err != nil {
		return nil, err
	}
	opened, ok := <-out
	if !ok {
		return nil, transport.ErrSessionNotFound
	}
	l := &Link{Mirror: transport.NewMirror(opened), lobby: lb}
	go l.pump(out)
	return l, nil
}

type Link struct {
	*transport.Mirror
	lobby *lobby.Lobby
	once  sync.Once
}

func (l *Link) pump(out <-chan types.ServerMessage) {
	for msg := range out {
		l.Apply(msg)
	}
	l.Finish("session closed")
}

func (l *Link) post(ctx context.Context, msg lobby.Msg) error {
	if l.Finished() {
		return transport.ErrLinkClosed
	}
	if !l.lobby.Post(ctx, msg) {
		return transport.ErrLinkClosed
	}
	return nil
}

func (l *Link) Send(ctx context.Context, to types.PeerID, key uint64, payload []byte) error {
	if !l.HasPeer(to) {
		return transport.ErrUnknownPeer
	}
	return l.post(ctx, lobby.Relay{From: l.Self(), To: to, Key: key, Payload: payload})
}

func (l *Link) EnsureAuthorityMarker(ctx context.Context) error {
	return l.post(ctx, lobby.SpawnMarker{From: l.Self()})
}

func (l *Link) SetOpen(ctx context.Context, open bool) error {
	if err := l.post(ctx, lobby.SetOpen{From: l.Self(), Open: open}); err != nil {
		return err
	}
	l.Mirror.SetOpen(open)
	return nil
}

// Close leaves the session. The event stream ends once the lobby has
// released this member.
func (l *Link) Close(ctx context.Context) error {
	var err error
	l.once.Do(func() {
		if !l.lobby.Post(ctx, lobby.Leave{Peer: l.Self()}) && !l.Finished() {
			err = transport.ErrLinkClosed
		}
	})
	return err
}
