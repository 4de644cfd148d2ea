// Package ws carries the relay protocol over websockets: Handler serves
// peers from a hub, and Network is the matching client transport.
package ws

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/DoyleJ11/lobby-sync/internal/hub"
	"github.com/DoyleJ11/lobby-sync/internal/lobby"
	"github.com/DoyleJ11/lobby-sync/internal/types"
)

const (
	openTimeout  = 10 * time.Second
	writeTimeout = 3 * time.Second
	outboxSize   = 256
)

var errLobbyGone = errors.New("lobby gone")

// Handler upgrades the request and admits the peer into the session named
// by its first frame. Every later frame is relayed to the lobby actor.
// Cross-origin upgrades are refused unless the origin matches one of
// originPatterns.
func Handler(h *hub.Hub, originPatterns []string, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: originPatterns,
		})
		if err != nil {
			log.Debug("websocket accept", zap.Error(err))
			return
		}
		defer conn.CloseNow()

		ctx := r.Context()
		openCtx, cancel := context.WithTimeout(ctx, openTimeout)
		var first types.ClientMessage
		err = wsjson.Read(openCtx, conn, &first)
		cancel()
		if err != nil {
			return
		}
		if first.Type != types.MsgOpen || first.Open == nil {
			writeError(ctx, conn, "expected open")
			conn.Close(websocket.StatusPolicyViolation, "expected open")
			return
		}

		out := make(chan types.ServerMessage, outboxSize)
		lb, self, err := h.Open(ctx, *first.Open, out)
		if err != nil {
			writeError(ctx, conn, err.Error())
			conn.Close(websocket.StatusNormalClosure, "rejected")
			return
		}
		log := log.With(zap.String("session", first.Open.Name), zap.Stringer("peer", self))
		defer lb.Post(context.Background(), lobby.Leave{Peer: self})

		g, gctx := errgroup.WithContext(ctx)

		// Writer: the lobby closes out when this member is removed.
		g.Go(func() error {
			for {
				select {
				case msg, ok := <-out:
					if !ok {
						conn.Close(websocket.StatusNormalClosure, "session closed")
						return nil
					}
					wctx, cancel := context.WithTimeout(gctx, writeTimeout)
					err := wsjson.Write(wctx, conn, msg)
					cancel()
					if err != nil {
						return err
					}
				case <-gctx.Done():
					return gctx.Err()
				}
			}
		})

		// Reader
		g.Go(func() error {
			for {
				var cm types.ClientMessage
				if err := wsjson.Read(gctx, conn, &cm); err != nil {
					return err
				}
				msg, ok := toLobbyMsg(self, cm)
				if !ok {
					writeError(gctx, conn, "unknown type")
					continue
				}
				if !lb.Post(gctx, msg) {
					return errLobbyGone
				}
			}
		})

		err = g.Wait()
		switch websocket.CloseStatus(err) {
		case websocket.StatusNormalClosure, websocket.StatusGoingAway:
			log.Debug("peer disconnected")
		default:
			log.Debug("peer connection ended", zap.Error(err))
		}
	}
}

func toLobbyMsg(self types.PeerID, m types.ClientMessage) (lobby.Msg, bool) {
	switch m.Type {
	case types.MsgSend:
		return lobby.Relay{From: self, To: m.To, Key: m.Key, Payload: m.Payload}, true
	case types.MsgMarker:
		return lobby.SpawnMarker{From: self}, true
	case types.MsgSetOpen:
		return lobby.SetOpen{From: self, Open: m.IsOpen}, true
	default:
		return nil, false
	}
}

func writeError(ctx context.Context, conn *websocket.Conn, reason string) {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	_ = wsjson.Write(ctx, conn, types.ServerMessage{Type: types.MsgError, Error: reason})
}
