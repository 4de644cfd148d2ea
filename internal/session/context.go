package session

import (
	"context"
	"fmt"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/lobby-sync/internal/config"
	"github.com/DoyleJ11/lobby-sync/internal/telemetry"
	"github.com/DoyleJ11/lobby-sync/internal/transport"
	"github.com/DoyleJ11/lobby-sync/internal/types"
	"github.com/DoyleJ11/lobby-sync/internal/wire"
)

// EntryKind records how the local peer came to be in the session.
type EntryKind string

const (
	EntryCreate      EntryKind = "create"
	EntryJoin        EntryKind = "join"
	EntryMatchmaking EntryKind = "matchmaking"
)

// Service is a session-scoped component torn down on leave.
type Service interface {
	Shutdown() error
}

// SessionContext owns everything that lives exactly as long as one session
// membership. It is only touched on the strand, and is discarded on leave;
// coroutines check Valid after every suspension point.
type SessionContext struct {
	ctx    context.Context
	cancel context.CancelFunc

	strand  *Strand
	link    transport.Link
	self    types.PeerID
	kind    EntryKind
	timing  config.Timing
	collab  Collaborators
	metrics *telemetry.Metrics
	log     *zap.Logger

	scene    int32 // -1 when the session map is unknown locally
	teams    int
	capacity int

	seq       uint64
	lastJoin  time.Time
	lastCount int

	registry  *Registry
	authority *AuthorityTracker
	barrier   *Barrier
	services  []Service
}

type contextParams struct {
	strand  *Strand
	link    transport.Link
	kind    EntryKind
	timing  config.Timing
	collab  Collaborators
	metrics *telemetry.Metrics
	log     *zap.Logger
	scene   int32
	teams   int
}

func newSessionContext(p contextParams) *SessionContext {
	ctx, cancel := context.WithCancel(context.Background())
	info := p.link.Session()
	sc := &SessionContext{
		ctx:      ctx,
		cancel:   cancel,
		strand:   p.strand,
		link:     p.link,
		self:     p.link.Self(),
		kind:     p.kind,
		timing:   p.timing,
		collab:   p.collab,
		metrics:  p.metrics,
		scene:    p.scene,
		teams:    p.teams,
		capacity: info.Capacity,
		lastJoin: time.Now(),
		log: p.log.With(
			zap.String("session", info.Name),
			zap.Stringer("self", p.link.Self()),
		),
	}
	sc.registry = newRegistry(sc)
	sc.authority = newAuthorityTracker(sc)
	sc.barrier = newBarrier(sc)
	// shutdown order: stop the barrier before the state it reads
	sc.services = []Service{sc.barrier, sc.authority, sc.registry}
	return sc
}

// Valid reports whether the session this context belongs to is still the
// live one.
func (sc *SessionContext) Valid() bool { return sc.ctx.Err() == nil }

func (sc *SessionContext) sleep(d time.Duration) bool {
	if d <= 0 {
		return sc.Valid()
	}
	return sc.strand.Sleep(sc.ctx, d) == nil && sc.Valid()
}

func (sc *SessionContext) nextKey() uint64 {
	sc.seq++
	return sc.seq
}

// others returns the active peers other than self, ascending.
func (sc *SessionContext) others() []types.PeerID {
	peers := sc.link.Peers()
	return slices.DeleteFunc(peers, func(p types.PeerID) bool { return p == sc.self })
}

func (sc *SessionContext) isActive(p types.PeerID) bool {
	return slices.Contains(sc.link.Peers(), p)
}

func (sc *SessionContext) isAuthority() bool { return sc.link.IsAuthority(sc.self) }

// send delivers m to one peer under a fresh dedup key.
func (sc *SessionContext) send(to types.PeerID, m wire.Message) error {
	frame, err := wire.Encode(m)
	if err != nil {
		return fmt.Errorf("encode %s: %w", m.Tag(), err)
	}
	if err := sc.link.Send(sc.ctx, to, sc.nextKey(), frame); err != nil {
		sc.log.Debug("send failed", zap.Stringer("to", to), zap.Stringer("msg", m.Tag()), zap.Error(err))
		return err
	}
	return nil
}

// notifyCount reports the player count when it differs from the last one
// reported.
func (sc *SessionContext) notifyCount() {
	n := len(sc.link.Peers())
	if n == sc.lastCount {
		return
	}
	sc.lastCount = n
	sc.collab.Notifier.OnPlayerCountChanged(n, sc.capacity)
}
