package lobby

import (
	"context"
	"slices"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/DoyleJ11/lobby-sync/internal/transport"
	"github.com/DoyleJ11/lobby-sync/internal/types"
)

type Msg interface{ isLobbyMsg() }

// Join admits a connection. On success the opened frame is the first thing
// written to Outbox; the result is always written to Reply.
type Join struct {
	ConnID string
	Outbox chan types.ServerMessage
	Reply  chan JoinResult
}

type JoinResult struct {
	Self types.PeerID
	Err  error
}

type Leave struct{ Peer types.PeerID }

// Relay forwards an opaque payload to exactly one member.
type Relay struct {
	From    types.PeerID
	To      types.PeerID
	Key     uint64
	Payload []byte
}

type SpawnMarker struct{ From types.PeerID }

type SetOpen struct {
	From types.PeerID
	Open bool
}

type Shutdown struct{}

type GetState struct {
	Reply chan View
}

func (Join) isLobbyMsg()        {}
func (Leave) isLobbyMsg()       {}
func (Relay) isLobbyMsg()       {}
func (SpawnMarker) isLobbyMsg() {}
func (SetOpen) isLobbyMsg()     {}
func (Shutdown) isLobbyMsg()    {}
func (GetState) isLobbyMsg()    {}

type View struct {
	Info      types.SessionInfo
	Peers     []types.PeerID
	Authority types.PeerID
	Marker    bool
	Peak      int
}

// Emptied is reported once the last member leaves.
type Emptied struct {
	Name  string
	Lobby *Lobby
	Peak  int
}

type member struct {
	connID string
	outbox chan types.ServerMessage
}

// Lobby is the relay-side actor for one session: it owns membership, the
// authority holder, and point-to-point delivery between members.
type Lobby struct {
	inbox     chan Msg
	info      types.SessionInfo
	members   map[types.PeerID]*member
	nextPeer  types.PeerID
	authority types.PeerID
	marker    bool
	peak      int
	dead      bool

	published atomic.Pointer[types.SessionInfo]
	onEmpty   func(Emptied)
	log       *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

func NewLobby(parent context.Context, info types.SessionInfo, onEmpty func(Emptied), log *zap.Logger) *Lobby {
	ctx, cancel := context.WithCancel(parent)

	info.Props = info.Props.Clone()
	info.PlayerCount = 0
	l := &Lobby{
		inbox:   make(chan Msg, 64),
		info:    info,
		members: make(map[types.PeerID]*member),
		onEmpty: onEmpty,
		log:     log.With(zap.String("session", info.Name)),
		ctx:     ctx,
		cancel:  cancel,
	}
	l.publish()

	go l.loop()
	return l
}

func (l *Lobby) loop() {
	for {
		select {
		case <-l.ctx.Done():
			l.shutdown()
			return

		case m := <-l.inbox:
			switch msg := m.(type) {
			case Join:
				l.join(msg)

			case Leave:
				l.remove(msg.Peer)

			case Relay:
				dst, ok := l.members[msg.To]
				if _, from := l.members[msg.From]; !ok || !from {
					l.log.Debug("dropping relay for unknown peer",
						zap.Stringer("from", msg.From), zap.Stringer("to", msg.To))
					break
				}
				l.deliver(msg.To, dst, types.ServerMessage{
					Type: types.MsgMessage, From: msg.From, Key: msg.Key, Payload: msg.Payload,
				})

			case SpawnMarker:
				if msg.From == l.authority && !l.marker {
					l.marker = true
					l.log.Debug("authority marker spawned", zap.Stringer("owner", msg.From))
				}

			case SetOpen:
				if msg.From != l.authority {
					break
				}
				l.info.Open = msg.Open
				l.publish()

			case GetState:
				msg.Reply <- l.view()

			case Shutdown:
				l.shutdown()
				return
			}
		}
	}
}

func (l *Lobby) join(msg Join) {
	switch {
	case l.dead:
		msg.Reply <- JoinResult{Err: transport.ErrSessionNotFound}
		return
	case !l.info.Open:
		msg.Reply <- JoinResult{Err: transport.ErrSessionClosed}
		return
	case len(l.members) >= l.info.Capacity:
		msg.Reply <- JoinResult{Err: transport.ErrSessionFull}
		return
	}

	l.nextPeer++
	self := l.nextPeer
	l.members[self] = &member{connID: msg.ConnID, outbox: msg.Outbox}
	if l.authority == types.NoPeer {
		l.authority = self
	}
	l.peak = max(l.peak, len(l.members))
	l.publish()

	info := l.info
	peers := l.peerList()
	msg.Outbox <- types.ServerMessage{
		Type: types.MsgOpened, Session: &info, Self: self, Peers: peers, Authority: l.authority,
	}
	msg.Reply <- JoinResult{Self: self}
	l.log.Info("peer joined", zap.Stringer("peer", self), zap.String("conn", msg.ConnID),
		zap.Int("count", len(peers)))

	l.broadcast(types.ServerMessage{
		Type: types.MsgJoined, Peer: self, Peers: peers, Authority: l.authority,
	}, self)
}

// remove drops a member, reassigning authority to the lowest remaining id
// before anyone is told about the departure.
func (l *Lobby) remove(p types.PeerID) {
	m, ok := l.members[p]
	if !ok {
		return
	}
	close(m.outbox)
	delete(l.members, p)

	if p == l.authority {
		l.authority = types.NoPeer
		l.marker = false
		if peers := l.peerList(); len(peers) > 0 {
			l.authority = peers[0]
		}
		l.log.Info("authority reassigned", zap.Stringer("from", p), zap.Stringer("to", l.authority))
	}
	l.publish()
	l.log.Info("peer left", zap.Stringer("peer", p), zap.Int("count", len(l.members)))

	if len(l.members) == 0 {
		l.dead = true
		if l.onEmpty != nil {
			l.onEmpty(Emptied{Name: l.info.Name, Lobby: l, Peak: l.peak})
		}
		return
	}
	l.broadcast(types.ServerMessage{
		Type: types.MsgLeft, Peer: p, Peers: l.peerList(), Authority: l.authority,
	}, types.NoPeer)
}

func (l *Lobby) broadcast(msg types.ServerMessage, skip types.PeerID) {
	for _, id := range l.peerList() {
		if id == skip {
			continue
		}
		l.deliver(id, l.members[id], msg)
	}
}

// deliver never blocks the actor: a member whose outbox is full is dropped
// and treated as having left.
func (l *Lobby) deliver(id types.PeerID, m *member, msg types.ServerMessage) {
	if m == nil {
		return
	}
	select {
	case m.outbox <- msg:
	default:
		l.log.Warn("dropping slow member", zap.Stringer("peer", id))
		l.remove(id)
	}
}

func (l *Lobby) peerList() []types.PeerID {
	out := make([]types.PeerID, 0, len(l.members))
	for id := range l.members {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

func (l *Lobby) view() View {
	info := l.info
	info.Props = l.info.Props.Clone()
	info.PlayerCount = len(l.members)
	return View{
		Info:      info,
		Peers:     l.peerList(),
		Authority: l.authority,
		Marker:    l.marker,
		Peak:      l.peak,
	}
}

func (l *Lobby) publish() {
	info := l.info
	info.Props = l.info.Props.Clone()
	info.PlayerCount = len(l.members)
	l.published.Store(&info)
}

func (l *Lobby) shutdown() {
	l.cancel()
	for id, m := range l.members {
		close(m.outbox) // Tell member no more frames
		delete(l.members, id)
	}
	l.dead = true
	l.publish()
}

// Info returns the latest published directory entry without messaging the actor.
func (l *Lobby) Info() types.SessionInfo { return *l.published.Load() }

// Expose the inbox so the hub and connection handlers can send messages.
func (l *Lobby) Inbox() chan<- Msg { return l.inbox }

// Post delivers msg unless the lobby has already stopped.
func (l *Lobby) Post(ctx context.Context, msg Msg) bool {
	if l.ctx.Err() != nil {
		return false
	}
	select {
	case l.inbox <- msg:
		return true
	case <-l.ctx.Done():
		return false
	case <-ctx.Done():
		return false
	}
}

func (l *Lobby) Done() <-chan struct{} { return l.ctx.Done() }
