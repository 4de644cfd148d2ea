package hub

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/DoyleJ11/lobby-sync/internal/lobby"
	"github.com/DoyleJ11/lobby-sync/internal/store"
	"github.com/DoyleJ11/lobby-sync/internal/telemetry"
	"github.com/DoyleJ11/lobby-sync/internal/transport"
	"github.com/DoyleJ11/lobby-sync/internal/types"
)

var ErrInvalidRequest = errors.New("invalid open request")

// MaxCapacity bounds the member count of a single session.
const MaxCapacity = 64

type HubMsg interface{ isHubMsg() }

type LobbyResult struct {
	Lobby *lobby.Lobby
	Err   error
}

// CreateLobby fails with ErrSessionExists when the name is taken.
type CreateLobby struct {
	Info  types.SessionInfo
	Reply chan LobbyResult
}

type GetLobby struct {
	Code  string
	Reply chan *lobby.Lobby
}

// EnsureLobby returns the live lobby for Info.Name, creating it if absent.
type EnsureLobby struct {
	Info  types.SessionInfo // only used if creation happens
	Reply chan LobbyResult
}

type RemoveLobby struct {
	Code  string
	Lobby *lobby.Lobby
	Peak  int
}

type ListLobbies struct {
	Reply chan []types.SessionInfo
}

type ShutdownHub struct{}

type Hub struct {
	inbox    chan HubMsg
	lobbies  map[string]*lobby.Lobby
	recorder store.Recorder
	log      *zap.Logger
	ctx      context.Context
	cancel   context.CancelFunc
}

func (CreateLobby) isHubMsg() {}
func (GetLobby) isHubMsg()    {}
func (EnsureLobby) isHubMsg() {}
func (RemoveLobby) isHubMsg() {}
func (ListLobbies) isHubMsg() {}
func (ShutdownHub) isHubMsg() {}

func NewHub(parent context.Context, recorder store.Recorder, log *zap.Logger) *Hub {
	ctx, cancel := context.WithCancel(parent)
	if recorder == nil {
		recorder = store.Nop{}
	}
	h := &Hub{
		inbox:    make(chan HubMsg, 64),
		lobbies:  make(map[string]*lobby.Lobby),
		recorder: recorder,
		log:      log,
		ctx:      ctx,
		cancel:   cancel,
	}
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- HubMsg { return h.inbox }

func (h *Hub) loop() {
	for {
		select {
		case <-h.ctx.Done():
			for _, lb := range h.lobbies {
				lb.Post(context.Background(), lobby.Shutdown{})
			}
			clear(h.lobbies)
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case CreateLobby:
				if lb := h.lobbies[msg.Info.Name]; lb != nil {
					msg.Reply <- LobbyResult{Err: transport.ErrSessionExists}
					break
				}
				msg.Reply <- LobbyResult{Lobby: h.create(msg.Info)}

			case GetLobby:
				msg.Reply <- h.lobbies[msg.Code] // May be nil

			case EnsureLobby:
				if lb := h.lobbies[msg.Info.Name]; lb != nil {
					msg.Reply <- LobbyResult{Lobby: lb}
					break
				}
				msg.Reply <- LobbyResult{Lobby: h.create(msg.Info)}

			case RemoveLobby:
				// a newer lobby may already own the name
				if h.lobbies[msg.Code] != msg.Lobby {
					break
				}
				delete(h.lobbies, msg.Code)
				msg.Lobby.Post(h.ctx, lobby.Shutdown{})
				h.log.Info("session closed", zap.String("session", msg.Code), zap.Int("peak", msg.Peak))
				h.record(func(ctx context.Context) error { return h.recorder.SessionClosed(ctx, msg.Code, msg.Peak) })

			case ListLobbies:
				out := make([]types.SessionInfo, 0, len(h.lobbies))
				for _, lb := range h.lobbies {
					if info := lb.Info(); info.Visible {
						out = append(out, info)
					}
				}
				sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
				msg.Reply <- out

			case ShutdownHub:
				for _, lb := range h.lobbies {
					lb.Post(context.Background(), lobby.Shutdown{})
				}
				clear(h.lobbies)
				h.cancel()
			}
		}
	}
}

func (h *Hub) create(info types.SessionInfo) *lobby.Lobby {
	info.Open = true
	info.Visible = true
	lb := lobby.NewLobby(h.ctx, info, h.onEmpty, h.log)
	h.lobbies[info.Name] = lb
	h.log.Info("session opened", zap.String("session", info.Name), zap.Int("capacity", info.Capacity))
	h.record(func(ctx context.Context) error { return h.recorder.SessionOpened(ctx, info) })
	return lb
}

// onEmpty runs on the lobby's goroutine, so it must not block on the hub.
func (h *Hub) onEmpty(e lobby.Emptied) {
	go func() {
		select {
		case h.inbox <- RemoveLobby{Code: e.Name, Lobby: e.Lobby, Peak: e.Peak}:
		case <-h.ctx.Done():
		}
	}()
}

func (h *Hub) record(fn func(ctx context.Context) error) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := fn(ctx); err != nil {
			h.log.Warn("session log write failed", zap.Error(err))
		}
	}()
}

func (h *Hub) ask(ctx context.Context, msg HubMsg) error {
	select {
	case h.inbox <- msg:
		return nil
	case <-h.ctx.Done():
		return transport.ErrLinkClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// List returns the visible sessions, sorted by name.
func (h *Hub) List(ctx context.Context) ([]types.SessionInfo, error) {
	reply := make(chan []types.SessionInfo, 1)
	if err := h.ask(ctx, ListLobbies{Reply: reply}); err != nil {
		return nil, err
	}
	select {
	case out := <-reply:
		return out, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Get returns a live lobby's state.
func (h *Hub) Get(ctx context.Context, code string) (lobby.View, error) {
	reply := make(chan *lobby.Lobby, 1)
	if err := h.ask(ctx, GetLobby{Code: code, Reply: reply}); err != nil {
		return lobby.View{}, err
	}
	var lb *lobby.Lobby
	select {
	case lb = <-reply:
	case <-ctx.Done():
		return lobby.View{}, ctx.Err()
	}
	if lb == nil {
		return lobby.View{}, transport.ErrSessionNotFound
	}
	views := make(chan lobby.View, 1)
	if !lb.Post(ctx, lobby.GetState{Reply: views}) {
		return lobby.View{}, transport.ErrSessionNotFound
	}
	select {
	case v := <-views:
		return v, nil
	case <-lb.Done():
		return lobby.View{}, transport.ErrSessionNotFound
	case <-ctx.Done():
		return lobby.View{}, ctx.Err()
	}
}

// Open resolves req to a lobby and admits a new member whose frames will be
// written to outbox. outbox must be buffered.
func (h *Hub) Open(ctx context.Context, req types.OpenRequest, outbox chan types.ServerMessage) (*lobby.Lobby, types.PeerID, error) {
	connID := uuid.NewString()
	ctx, span := telemetry.Tracer().Start(ctx, "hub.Open")
	defer span.End()
	span.SetAttributes(
		attribute.String("session", req.Name),
		attribute.String("mode", string(req.Mode)),
		attribute.String("conn", connID),
	)

	lb, self, err := h.open(ctx, req, connID, outbox)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, types.NoPeer, err
	}
	span.SetAttributes(attribute.Int("peer", int(self)))
	return lb, self, nil
}

func (h *Hub) open(ctx context.Context, req types.OpenRequest, connID string, outbox chan types.ServerMessage) (*lobby.Lobby, types.PeerID, error) {
	if req.Name == "" {
		return nil, types.NoPeer, fmt.Errorf("%w: empty session name", ErrInvalidRequest)
	}
	info := types.SessionInfo{Name: req.Name, Capacity: req.Capacity, Props: req.Props}

	var lb *lobby.Lobby
	switch req.Mode {
	case types.OpenCreate, types.OpenCreateOrJoin:
		if req.Capacity <= 0 || req.Capacity > MaxCapacity {
			return nil, types.NoPeer, fmt.Errorf("%w: capacity %d", ErrInvalidRequest, req.Capacity)
		}
		reply := make(chan LobbyResult, 1)
		var msg HubMsg = CreateLobby{Info: info, Reply: reply}
		if req.Mode == types.OpenCreateOrJoin {
			msg = EnsureLobby{Info: info, Reply: reply}
		}
		if err := h.ask(ctx, msg); err != nil {
			return nil, types.NoPeer, err
		}
		res := <-reply
		if res.Err != nil {
			return nil, types.NoPeer, res.Err
		}
		lb = res.Lobby

	case types.OpenJoin:
		reply := make(chan *lobby.Lobby, 1)
		if err := h.ask(ctx, GetLobby{Code: req.Name, Reply: reply}); err != nil {
			return nil, types.NoPeer, err
		}
		if lb = <-reply; lb == nil {
			return nil, types.NoPeer, transport.ErrSessionNotFound
		}

	default:
		return nil, types.NoPeer, fmt.Errorf("%w: mode %q", ErrInvalidRequest, req.Mode)
	}

	joined := make(chan lobby.JoinResult, 1)
	if !lb.Post(ctx, lobby.Join{ConnID: connID, Outbox: outbox, Reply: joined}) {
		return nil, types.NoPeer, transport.ErrSessionNotFound
	}
	select {
	case res := <-joined:
		return lb, res.Self, res.Err
	case <-lb.Done():
		return nil, types.NoPeer, transport.ErrSessionNotFound
	case <-ctx.Done():
		return nil, types.NoPeer, ctx.Err()
	}
}

// Shutdown stops every lobby and the hub itself.
func (h *Hub) Shutdown() {
	select {
	case h.inbox <- ShutdownHub{}:
	case <-h.ctx.Done():
	}
}
