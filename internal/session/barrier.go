package session

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/lobby-sync/internal/team"
	"github.com/DoyleJ11/lobby-sync/internal/types"
	"github.com/DoyleJ11/lobby-sync/internal/wire"
)

type MatchState int

const (
	StateIdle MatchState = iota
	StateWaitingForStart
	StateWaitingPlayerInfo
	StateStarting
	StateAwaitingAcks
	StateLoadingScene
	StateAwaitingSceneReady
	StateRunning
)

func (s MatchState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateWaitingForStart:
		return "waiting_for_start"
	case StateWaitingPlayerInfo:
		return "waiting_player_info"
	case StateStarting:
		return "starting"
	case StateAwaitingAcks:
		return "awaiting_acks"
	case StateLoadingScene:
		return "loading_scene"
	case StateAwaitingSceneReady:
		return "awaiting_scene_ready"
	case StateRunning:
		return "running"
	default:
		return fmt.Sprintf("MatchState(%d)", int(s))
	}
}

// AckSet is a set of peers; adding a member twice is a no-op.
type AckSet map[types.PeerID]struct{}

// Add reports whether p was newly added.
func (s AckSet) Add(p types.PeerID) bool {
	if _, ok := s[p]; ok {
		return false
	}
	s[p] = struct{}{}
	return true
}

func (s AckSet) Has(p types.PeerID) bool {
	_, ok := s[p]
	return ok
}

// Pending returns the members of want not yet in s.
func (s AckSet) Pending(want []types.PeerID) []types.PeerID {
	var out []types.PeerID
	for _, p := range want {
		if !s.Has(p) {
			out = append(out, p)
		}
	}
	return out
}

// Barrier runs the match-start handshake. The authority drives
// WaitingPlayerInfo → Starting → AwaitingAcks → LoadingScene →
// AwaitingSceneReady → Running; other peers go from WaitingForStart straight
// to LoadingScene on MatchStart. Every wait is bounded and a timeout
// proceeds with whoever has answered.
type Barrier struct {
	sc     *SessionContext
	state  MatchState
	run    int
	target int32
	acks   AckSet
	ready  AckSet
}

func newBarrier(sc *SessionContext) *Barrier {
	b := &Barrier{sc: sc, acks: AckSet{}, ready: AckSet{}}
	if !sc.isAuthority() {
		b.state = StateWaitingForStart
	}
	return b
}

func (b *Barrier) State() MatchState { return b.state }

func (b *Barrier) idle() bool {
	return b.state == StateIdle || b.state == StateWaitingForStart
}

// current reports whether run is still the live barrier run.
func (b *Barrier) current(run int) bool {
	return b.sc.Valid() && b.run == run
}

func (b *Barrier) setState(s MatchState) {
	if b.state == s {
		return
	}
	b.sc.log.Debug("match state", zap.Stringer("from", b.state), zap.Stringer("to", s))
	b.state = s
}

// RequestStart begins a barrier run. Only the authority may start, and only
// from an idle state.
func (b *Barrier) RequestStart() error {
	if !b.sc.isAuthority() {
		return ErrNotAuthority
	}
	if !b.idle() {
		return ErrAlreadyStarting
	}
	if b.sc.scene < 0 {
		return fmt.Errorf("%w: session map has no scene", ErrInvalidConfig)
	}
	b.run++
	clear(b.acks)
	clear(b.ready)
	b.target = b.sc.scene
	b.setState(StateWaitingPlayerInfo)
	run := b.run
	b.sc.strand.Go(func() { b.runAuthority(run) })
	return nil
}

func (b *Barrier) runAuthority(run int) {
	sc := b.sc
	if !b.current(run) {
		return
	}
	for {
		wait := sc.timing.StartGuard - time.Since(sc.lastJoin)
		if wait <= 0 {
			break
		}
		if !sc.sleep(wait) || !b.current(run) {
			return
		}
	}

	sc.registry.WaitForAllPlayerInfo(sc.timing.PlayerInfoTimeout)
	if !b.current(run) {
		return
	}

	b.setState(StateStarting)
	if err := sc.link.SetOpen(sc.ctx, false); err != nil {
		sc.log.Warn("close session to joins", zap.Error(err))
	}
	recipients := sc.others()
	for _, p := range recipients {
		_ = sc.send(p, wire.MatchStart{SceneIndex: b.target})
	}
	sc.log.Info("match start sent", zap.Int32("scene", b.target), zap.Int("peers", len(recipients)))

	b.setState(StateAwaitingAcks)
	if !b.waitAcks(run, recipients) {
		return
	}
	b.setState(StateLoadingScene)
	b.enterScene(run)
}

// waitAcks polls until every recipient still present has acked or the ack
// timeout passes. It returns false only if the run was abandoned.
func (b *Barrier) waitAcks(run int, recipients []types.PeerID) bool {
	sc := b.sc
	deadline := time.Now().Add(sc.timing.AckTimeout)
	for {
		pending := b.acks.Pending(recipients)
		pending = filterActive(sc, pending)
		if len(pending) == 0 {
			return true
		}
		left := time.Until(deadline)
		if left <= 0 {
			sc.log.Warn("match start acks incomplete, continuing",
				zap.String("phase", "ack"), zap.Any("missing", pending), zap.Duration("waited", sc.timing.AckTimeout))
			sc.metrics.BarrierTimeout(sc.ctx, "ack")
			return true
		}
		if !sc.sleep(min(sc.timing.Tick, left)) || !b.current(run) {
			return false
		}
	}
}

// enterScene loads the target scene and finishes the local side of the
// barrier. The loading indicator is closed on every exit path.
func (b *Barrier) enterScene(run int) {
	sc := b.sc
	if !b.current(run) {
		return
	}
	sc.collab.Loading.OnLoadingBegin(sc.timing.LoadingEstimate)
	defer sc.collab.Loading.OnLoadingEnd()

	deadline := time.Now().Add(sc.timing.SceneTimeout)
	var err error
	sc.strand.Await(func() {
		ctx, cancel := context.WithDeadline(sc.ctx, deadline)
		defer cancel()
		err = sc.collab.Scenes.LoadScene(ctx, b.target)
	})
	if !b.current(run) {
		return
	}
	if err != nil {
		sc.log.Warn("scene load failed", zap.Int32("scene", b.target), zap.Error(err))
	}

	b.setState(StateAwaitingSceneReady)
	for sc.collab.Scenes.ActiveScene() != b.target {
		left := time.Until(deadline)
		if left <= 0 {
			sc.log.Warn("scene not active before timeout",
				zap.String("phase", "scene"), zap.Int32("scene", b.target), zap.Duration("waited", sc.timing.SceneTimeout))
			sc.metrics.BarrierTimeout(sc.ctx, "scene")
			b.setState(StateRunning)
			return
		}
		if !sc.sleep(min(sc.timing.Tick, left)) || !b.current(run) {
			return
		}
	}
	b.sceneActive()
}

func (b *Barrier) sceneActive() {
	sc := b.sc
	sc.collab.Spawner.SpawnStaging(sc.self)
	if sc.isAuthority() {
		b.ready.Add(sc.self)
		b.assignTeams()
	} else if auth := sc.link.Authority(); auth != types.NoPeer {
		_ = sc.send(auth, wire.SceneReady{})
	}
	b.setState(StateRunning)
	if sc.isAuthority() {
		ready, total := b.readyCount()
		sc.log.Info("match running", zap.Int32("scene", b.target), zap.Int("ready", ready), zap.Int("players", total))
		return
	}
	sc.log.Info("match running", zap.Int32("scene", b.target))
}

func (b *Barrier) assignTeams() {
	peers := b.sc.link.Peers()
	teams := team.Assign(peers, b.sc.teams)
	for _, p := range team.Order(peers) {
		b.place(p, teams[p])
	}
}

func (b *Barrier) place(p types.PeerID, idx int) {
	b.sc.collab.Spawner.PlaceAtTeamSpawn(p, idx)
	b.sc.collab.Notifier.OnTeamAssigned(p, idx)
}

// OnMatchStart handles the authority's start order. authority is the holder
// when the message was delivered; a handoff queued behind the order does not
// void it. The ack is sent for every delivery; only the first one starts
// loading.
func (b *Barrier) OnMatchStart(from, authority types.PeerID, scene int32) {
	sc := b.sc
	if from != authority {
		sc.log.Debug("match start from non-authority ignored", zap.Stringer("from", from))
		return
	}
	_ = sc.send(from, wire.MatchStartAck{})
	if !b.idle() {
		return
	}
	b.run++
	b.target = scene
	b.setState(StateLoadingScene)
	run := b.run
	sc.strand.Go(func() { b.enterScene(run) })
}

func (b *Barrier) OnMatchStartAck(from types.PeerID) {
	if !b.sc.isAuthority() {
		return
	}
	if b.acks.Add(from) {
		b.sc.log.Debug("match start ack", zap.Stringer("from", from))
	}
}

// OnSceneReady records a peer's scene readiness on the authority.
func (b *Barrier) OnSceneReady(from types.PeerID) {
	sc := b.sc
	if !sc.isAuthority() || !b.ready.Add(from) {
		return
	}
	ready, total := b.readyCount()
	sc.log.Debug("scene ready", zap.Stringer("from", from), zap.Int("ready", ready), zap.Int("total", total))
	if ready == total {
		sc.log.Info("all peers in scene", zap.Int32("scene", b.target), zap.Int("players", total))
	}
}

// readyCount reports how many present peers have the scene active.
func (b *Barrier) readyCount() (ready, total int) {
	for _, p := range b.sc.link.Peers() {
		total++
		if b.Ready(p) {
			ready++
		}
	}
	return ready, total
}

// Ready reports whether p has reported its scene ready this run.
func (b *Barrier) Ready(p types.PeerID) bool { return b.ready.Has(p) }

// OnPromoted lets a newly promoted authority start a match.
func (b *Barrier) OnPromoted() {
	if b.state == StateWaitingForStart {
		b.setState(StateIdle)
	}
}

func (b *Barrier) Shutdown() error {
	b.run++
	clear(b.acks)
	clear(b.ready)
	b.state = StateIdle
	return nil
}

func filterActive(sc *SessionContext, peers []types.PeerID) []types.PeerID {
	out := peers[:0]
	for _, p := range peers {
		if sc.isActive(p) {
			out = append(out, p)
		}
	}
	return out
}
