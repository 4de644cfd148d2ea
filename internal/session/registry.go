package session

import (
	"maps"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/lobby-sync/internal/types"
	"github.com/DoyleJ11/lobby-sync/internal/wire"
)

// Registry maps every participant to its display record. The authority's
// copy is canonical; everyone else converges on it through snapshots.
type Registry struct {
	sc      *SessionContext
	records map[types.PeerID]types.PlayerRecord
}

func newRegistry(sc *SessionContext) *Registry {
	return &Registry{sc: sc, records: make(map[types.PeerID]types.PlayerRecord)}
}

// OnPeerJoined inserts a stub for a remote peer, or the local record for
// the local peer, which is then reported to the authority.
func (r *Registry) OnPeerJoined(p types.PeerID) {
	if p != r.sc.self {
		if _, ok := r.records[p]; !ok {
			r.records[p] = types.PlayerRecord{}
		}
		return
	}
	r.records[p] = r.sc.collab.Identity.LocalDisplayIdentity()
	if auth := r.sc.link.Authority(); auth != types.NoPeer && auth != r.sc.self {
		r.SendLocalTo(auth)
	}
}

func (r *Registry) OnPeerLeft(p types.PeerID) {
	delete(r.records, p)
}

// SendLocalTo sends the local record point-to-point.
func (r *Registry) SendLocalTo(p types.PeerID) {
	rec, ok := r.records[r.sc.self]
	if !ok {
		return
	}
	_ = r.sc.send(p, wire.PlayerInfo{Peer: r.sc.self, Record: rec})
}

// Apply stores a received record, replacing any previous one for that peer.
// Records for departed peers and for the local peer are ignored. On the
// authority every accepted record triggers a full rebroadcast.
func (r *Registry) Apply(from types.PeerID, msg wire.PlayerInfo) {
	if msg.Peer == r.sc.self || !r.sc.isActive(msg.Peer) {
		return
	}
	r.records[msg.Peer] = msg.Record
	r.sc.log.Debug("player info", zap.Stringer("peer", msg.Peer), zap.Stringer("from", from), zap.String("name", msg.Record.DisplayName))
	if r.sc.isAuthority() {
		r.BroadcastSnapshot()
	}
}

// BroadcastSnapshot sends every known record to every other peer.
func (r *Registry) BroadcastSnapshot() {
	others := r.sc.others()
	for _, p := range others {
		for _, id := range slices.Sorted(maps.Keys(r.records)) {
			rec := r.records[id]
			if !rec.HasInfo() {
				continue
			}
			_ = r.sc.send(p, wire.PlayerInfo{Peer: id, Record: rec})
		}
	}
}

func (r *Registry) Snapshot() map[types.PeerID]types.PlayerRecord {
	return maps.Clone(r.records)
}

func (r *Registry) Record(p types.PeerID) (types.PlayerRecord, bool) {
	rec, ok := r.records[p]
	return rec, ok
}

// Missing returns the active peers whose record is still a stub.
func (r *Registry) Missing() []types.PeerID {
	var out []types.PeerID
	for _, p := range r.sc.link.Peers() {
		if !r.records[p].HasInfo() {
			out = append(out, p)
		}
	}
	return out
}

// WaitForAllPlayerInfo polls until every active peer has a record or the
// timeout elapses. It reports whether the registry is complete; an
// incomplete registry is not an error for the caller.
func (r *Registry) WaitForAllPlayerInfo(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		missing := r.Missing()
		if len(missing) == 0 {
			return true
		}
		left := time.Until(deadline)
		if left <= 0 {
			r.sc.log.Warn("player info incomplete, continuing",
				zap.String("phase", "player_info"), zap.Any("missing", missing), zap.Duration("waited", timeout))
			r.sc.metrics.BarrierTimeout(r.sc.ctx, "player_info")
			return false
		}
		if !r.sc.sleep(min(r.sc.timing.Tick, left)) {
			return false
		}
	}
}

func (r *Registry) Shutdown() error {
	clear(r.records)
	return nil
}
