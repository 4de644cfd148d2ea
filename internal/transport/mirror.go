package transport

import (
	"slices"
	"sync"

	"github.com/DoyleJ11/lobby-sync/internal/types"
)

// Mirror is the client-side copy of a session's membership, built from relay
// frames. Apply and Finish must be called from a single pump goroutine; the
// accessors are safe from any goroutine.
type Mirror struct {
	events chan Event

	mu        sync.RWMutex
	self      types.PeerID
	session   types.SessionInfo
	peers     []types.PeerID
	authority types.PeerID
	finished  bool

	// deliver-once per (sender, key)
	seen map[types.PeerID]map[uint64]struct{}
}

const eventBuffer = 256

func NewMirror(opened types.ServerMessage) *Mirror {
	m := &Mirror{
		// the initial joins are queued before any reader exists
		events:    make(chan Event, len(opened.Peers)+eventBuffer),
		self:      opened.Self,
		peers:     sortedCopy(opened.Peers),
		authority: opened.Authority,
		seen:      make(map[types.PeerID]map[uint64]struct{}),
	}
	if opened.Session != nil {
		m.session = *opened.Session
		m.session.Props = opened.Session.Props.Clone()
	}
	m.session.PlayerCount = len(m.peers)
	for _, p := range m.peers {
		m.events <- Event{Kind: PeerJoined, Peer: p}
	}
	return m
}

func (m *Mirror) Events() <-chan Event { return m.events }

func (m *Mirror) Self() types.PeerID { return m.self }

func (m *Mirror) Session() types.SessionInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := m.session
	s.Props = m.session.Props.Clone()
	return s
}

func (m *Mirror) Peers() []types.PeerID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.peers)
}

func (m *Mirror) Authority() types.PeerID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.authority
}

func (m *Mirror) IsAuthority(p types.PeerID) bool {
	return p != types.NoPeer && m.Authority() == p
}

func (m *Mirror) HasPeer(p types.PeerID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := slices.BinarySearch(m.peers, p)
	return ok
}

// SetOpen records a local change of the session's open flag.
func (m *Mirror) SetOpen(open bool) {
	m.mu.Lock()
	m.session.Open = open
	m.mu.Unlock()
}

// Apply folds one relay frame into the mirror and emits the matching event.
func (m *Mirror) Apply(msg types.ServerMessage) {
	switch msg.Type {
	case types.MsgJoined, types.MsgLeft:
		m.mu.Lock()
		if m.finished {
			m.mu.Unlock()
			return
		}
		m.peers = sortedCopy(msg.Peers)
		m.authority = msg.Authority
		m.session.PlayerCount = len(m.peers)
		if msg.Type == types.MsgLeft {
			delete(m.seen, msg.Peer)
		}
		m.mu.Unlock()

		kind := PeerJoined
		if msg.Type == types.MsgLeft {
			kind = PeerLeft
		}
		m.events <- Event{Kind: kind, Peer: msg.Peer}

	case types.MsgMessage:
		m.mu.Lock()
		if m.finished {
			m.mu.Unlock()
			return
		}
		keys := m.seen[msg.From]
		if keys == nil {
			keys = make(map[uint64]struct{})
			m.seen[msg.From] = keys
		}
		_, dup := keys[msg.Key]
		keys[msg.Key] = struct{}{}
		auth := m.authority
		m.mu.Unlock()
		if dup {
			return
		}
		m.events <- Event{Kind: Message, From: msg.From, Authority: auth, Key: msg.Key, Payload: msg.Payload}

	case types.MsgError:
		m.Finish(msg.Error)
	}
}

// Finish emits Closed and closes the event stream. Later calls are no-ops.
func (m *Mirror) Finish(reason string) {
	m.mu.Lock()
	if m.finished {
		m.mu.Unlock()
		return
	}
	m.finished = true
	m.mu.Unlock()
	m.events <- Event{Kind: Closed, Reason: reason}
	close(m.events)
}

func (m *Mirror) Finished() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.finished
}

func sortedCopy(peers []types.PeerID) []types.PeerID {
	out := slices.Clone(peers)
	slices.Sort(out)
	return out
}
