package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/DoyleJ11/lobby-sync/internal/transport"
	"github.com/DoyleJ11/lobby-sync/internal/types"
)

var ErrSendQueueFull = errors.New("send queue full")

// Network is a transport.Network that talks to a relay server.
type Network struct {
	wsURL   string
	httpURL string
	client  *http.Client
	log     *zap.Logger
}

// NewNetwork accepts a ws://, wss://, http:// or https:// base URL.
func NewNetwork(serverURL string, client *http.Client, log *zap.Logger) (*Network, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	base := strings.TrimSuffix(u.Host+u.Path, "/")
	n := &Network{client: client, log: log}
	switch u.Scheme {
	case "ws", "http":
		n.wsURL, n.httpURL = "ws://"+base, "http://"+base
	case "wss", "https":
		n.wsURL, n.httpURL = "wss://"+base, "https://"+base
	default:
		return nil, fmt.Errorf("server url scheme %q", u.Scheme)
	}
	if n.client == nil {
		n.client = http.DefaultClient
	}
	return n, nil
}

func (n *Network) ListSessions(ctx context.Context) ([]types.SessionInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.httpURL+"/sessions", nil)
	if err != nil {
		return nil, err
	}
	resp, err := n.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("list sessions: status %d", resp.StatusCode)
	}
	var out []types.SessionInfo
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode sessions: %w", err)
	}
	return out, nil
}

func (n *Network) Open(ctx context.Context, req types.OpenRequest) (transport.Link, error) {
	conn, _, err := websocket.Dial(ctx, n.wsURL+"/ws", &websocket.DialOptions{HTTPClient: n.client})
	if err != nil {
		return nil, fmt.Errorf("dial relay: %w", err)
	}
	if err := wsjson.Write(ctx, conn, types.ClientMessage{Type: types.MsgOpen, Open: &req}); err != nil {
		conn.CloseNow()
		return nil, fmt.Errorf("send open: %w", err)
	}
	var first types.ServerMessage
	if err := wsjson.Read(ctx, conn, &first); err != nil {
		conn.CloseNow()
		return nil, fmt.Errorf("read open reply: %w", err)
	}
	switch first.Type {
	case types.MsgOpened:
	case types.MsgError:
		conn.CloseNow()
		return nil, transport.ErrorFromReason(first.Error)
	default:
		conn.CloseNow()
		return nil, fmt.Errorf("unexpected %q frame", first.Type)
	}

	lctx, cancel := context.WithCancel(context.Background())
	l := &Link{
		Mirror: transport.NewMirror(first),
		conn:   conn,
		out:    make(chan types.ClientMessage, outboxSize),
		ctx:    lctx,
		cancel: cancel,
		log:    n.log.With(zap.String("session", req.Name), zap.Stringer("self", first.Self)),
	}
	l.start()
	return l, nil
}

// Link is one websocket membership. Sends are queued and never block.
type Link struct {
	*transport.Mirror
	conn   *websocket.Conn
	out    chan types.ClientMessage
	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
	log    *zap.Logger
}

func (l *Link) start() {
	g, gctx := errgroup.WithContext(l.ctx)
	g.Go(func() error {
		for {
			var msg types.ServerMessage
			if err := wsjson.Read(gctx, l.conn, &msg); err != nil {
				return err
			}
			l.Apply(msg)
		}
	})
	g.Go(func() error {
		for {
			select {
			case msg := <-l.out:
				if err := wsjson.Write(gctx, l.conn, msg); err != nil {
					return err
				}
			case <-gctx.Done():
				return gctx.Err()
			}
		}
	})
	go func() {
		err := g.Wait()
		l.cancel()
		l.conn.CloseNow()
		reason := "session closed"
		if s := websocket.CloseStatus(err); s == -1 && !errors.Is(err, context.Canceled) {
			reason = err.Error()
			l.log.Debug("relay connection lost", zap.Error(err))
		}
		l.Finish(reason)
	}()
}

func (l *Link) enqueue(msg types.ClientMessage) error {
	if l.Finished() || l.ctx.Err() != nil {
		return transport.ErrLinkClosed
	}
	select {
	case l.out <- msg:
		return nil
	default:
		return ErrSendQueueFull
	}
}

func (l *Link) Send(_ context.Context, to types.PeerID, key uint64, payload []byte) error {
	if !l.HasPeer(to) {
		return transport.ErrUnknownPeer
	}
	return l.enqueue(types.ClientMessage{Type: types.MsgSend, To: to, Key: key, Payload: payload})
}

func (l *Link) EnsureAuthorityMarker(context.Context) error {
	return l.enqueue(types.ClientMessage{Type: types.MsgMarker})
}

func (l *Link) SetOpen(_ context.Context, open bool) error {
	if err := l.enqueue(types.ClientMessage{Type: types.MsgSetOpen, IsOpen: open}); err != nil {
		return err
	}
	l.Mirror.SetOpen(open)
	return nil
}

// Close leaves the session. Sends still queued are dropped.
func (l *Link) Close(context.Context) error {
	var err error
	l.once.Do(func() {
		err = l.conn.Close(websocket.StatusNormalClosure, "leave")
		l.cancel()
		if l.Finished() {
			err = nil
		}
	})
	return err
}
