// Package session coordinates a peer's membership in a multiplayer lobby:
// creating, joining and matchmaking into sessions, keeping the player
// registry converged on the authority's copy, and running the match-start
// barrier.
//
// All session state lives on one Strand. Transport events and API calls
// enter it in turn; long-running steps are coroutines that yield only while
// sleeping or awaiting I/O, and re-check SessionContext.Valid on resume.
package session

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/DoyleJ11/lobby-sync/internal/config"
	"github.com/DoyleJ11/lobby-sync/internal/telemetry"
	"github.com/DoyleJ11/lobby-sync/internal/transport"
	"github.com/DoyleJ11/lobby-sync/internal/types"
	"github.com/DoyleJ11/lobby-sync/internal/wire"
)

const maxCodeAttempts = 8

type Option func(*Coordinator)

func WithMetrics(m *telemetry.Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// WithRandom replaces the source used to draw session codes.
func WithRandom(r io.Reader) Option {
	return func(c *Coordinator) { c.rand = r }
}

type Coordinator struct {
	net     transport.Network
	dir     *Directory
	cfg     config.Config
	collab  Collaborators
	log     *zap.Logger
	metrics *telemetry.Metrics
	rand    io.Reader
	solo    bool

	strand Strand
	sc     *SessionContext
	busy   bool
}

func New(net transport.Network, cfg config.Config, collab Collaborators, log *zap.Logger, opts ...Option) (*Coordinator, error) {
	if collab.Identity == nil || collab.Scenes == nil {
		return nil, fmt.Errorf("%w: identity and scenes are required", ErrInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := &Coordinator{
		net:    net,
		dir:    NewDirectory(net, cfg.Timing.ListTimeout),
		cfg:    cfg,
		collab: collab.withDefaults(),
		log:    log,
		rand:   rand.Reader,
		solo:   cfg.DebugSolo && soloAllowed,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.metrics == nil {
		c.metrics = telemetry.NewMetrics()
	}
	return c, nil
}

// begin claims the coordinator for a session setup.
func (c *Coordinator) begin() error {
	if c.sc != nil || c.busy {
		return ErrAlreadyInSession
	}
	c.busy = true
	return nil
}

func (c *Coordinator) end() { c.busy = false }

func (c *Coordinator) open(ctx context.Context, req types.OpenRequest) (link transport.Link, err error) {
	c.strand.Await(func() { link, err = c.net.Open(ctx, req) })
	return link, err
}

func (c *Coordinator) failed(err error) error {
	je := joinError(err)
	c.log.Warn("session setup failed", zap.String("reason", je.Reason), zap.Error(err))
	c.collab.Notifier.OnJoinFailed(je.Reason)
	return je
}

// sceneFor resolves a map name, returning -1 when it is unknown locally.
func (c *Coordinator) sceneFor(mapID string) int32 {
	if mapID == "" {
		return -1
	}
	idx, ok := c.collab.Scenes.ResolveSceneIndexByName(mapID)
	if !ok {
		return -1
	}
	return idx
}

// CreateSession opens a co-op session under a fresh code and returns it.
func (c *Coordinator) CreateSession(ctx context.Context, mapID string) (code string, err error) {
	c.strand.Do(func() {
		if err = c.begin(); err != nil {
			return
		}
		defer c.end()

		scene := c.sceneFor(mapID)
		if scene < 0 {
			err = fmt.Errorf("%w: unknown map %q", ErrInvalidConfig, mapID)
			return
		}
		props := types.Properties{types.PropMap: types.StringValue(mapID)}

		var link transport.Link
		for range maxCodeAttempts {
			if code, err = GenerateCode(c.rand); err != nil {
				return
			}
			link, err = c.open(ctx, types.OpenRequest{
				Mode:     types.OpenCreate,
				Name:     code,
				Capacity: c.cfg.DefaultCapacity,
				Props:    props,
			})
			if !errors.Is(err, transport.ErrSessionExists) {
				break
			}
			c.log.Debug("session code taken", zap.String("code", code))
		}
		if err != nil {
			code, err = "", c.failed(err)
			return
		}
		c.enter(link, EntryCreate, scene, 0)
	})
	return code, err
}

// JoinSession joins the session named by a player-typed code.
func (c *Coordinator) JoinSession(ctx context.Context, code string) (err error) {
	code = NormalizeCode(code)
	c.strand.Do(func() {
		if code == "" {
			err = fmt.Errorf("%w: empty session code", ErrInvalidConfig)
			return
		}
		if err = c.begin(); err != nil {
			return
		}
		defer c.end()

		link, oerr := c.open(ctx, types.OpenRequest{Mode: types.OpenJoin, Name: code})
		if oerr != nil {
			err = c.failed(oerr)
			return
		}
		c.enterJoined(link, EntryJoin)
	})
	return err
}

// AutoJoin joins the first open co-op session matching f and returns its
// code.
func (c *Coordinator) AutoJoin(ctx context.Context, f Filter) (code string, err error) {
	c.strand.Do(func() {
		if err = c.begin(); err != nil {
			return
		}
		defer c.end()

		var (
			found types.SessionInfo
			ok    bool
		)
		c.strand.Await(func() { found, ok, err = c.dir.FindOpenSession(ctx, f) })
		if err != nil {
			err = c.failed(err)
			return
		}
		if !ok {
			err = c.failed(ErrNoRooms)
			return
		}
		link, oerr := c.open(ctx, types.OpenRequest{Mode: types.OpenJoin, Name: found.Name})
		if oerr != nil {
			err = c.failed(oerr)
			return
		}
		code = found.Name
		c.enterJoined(link, EntryJoin)
	})
	return code, err
}

// StartMatchmaking joins a matchmaking session for mode and capacity, or
// opens the shared queue session for mode, capacity and map. The match
// starts automatically once the session is full.
func (c *Coordinator) StartMatchmaking(ctx context.Context, mode string, capacity int, mapID string) (code string, err error) {
	c.strand.Do(func() {
		if mode == "" || capacity <= 0 {
			err = fmt.Errorf("%w: mode %q capacity %d", ErrInvalidConfig, mode, capacity)
			return
		}
		if c.sceneFor(mapID) < 0 {
			err = fmt.Errorf("%w: unknown map %q", ErrInvalidConfig, mapID)
			return
		}
		if err = c.begin(); err != nil {
			return
		}
		defer c.end()

		var (
			found types.SessionInfo
			ok    bool
			lerr  error
		)
		c.strand.Await(func() { found, ok, lerr = c.dir.FindMatchmakingSession(ctx, mode, capacity) })
		if lerr != nil {
			c.log.Warn("matchmaking lookup failed, creating", zap.Error(lerr))
		}

		var link transport.Link
		if ok {
			if link, err = c.open(ctx, types.OpenRequest{Mode: types.OpenJoin, Name: found.Name}); err != nil {
				c.log.Info("matchmaking session unavailable", zap.String("session", found.Name), zap.Error(err))
				link = nil
			}
		}
		if link == nil {
			name := QueueName(mode, capacity, mapID)
			link, err = c.open(ctx, types.OpenRequest{
				Mode:     types.OpenCreate,
				Name:     name,
				Capacity: capacity,
				Props: types.Properties{
					types.PropPvP:  types.IntValue(1),
					types.PropMode: types.StringValue(mode),
					types.PropCap:  types.IntValue(capacity),
					types.PropMap:  types.StringValue(mapID),
				},
			})
			if errors.Is(err, transport.ErrSessionExists) {
				link, err = c.open(ctx, types.OpenRequest{Mode: types.OpenJoin, Name: name})
			}
		}
		if err != nil {
			err = c.failed(err)
			return
		}
		code = link.Session().Name
		sc := c.enterJoined(link, EntryMatchmaking)
		c.strand.Go(func() { c.watchAutoStart(sc) })
	})
	return code, err
}

// enterJoined enters a session whose map and mode come from its properties.
func (c *Coordinator) enterJoined(link transport.Link, kind EntryKind) *SessionContext {
	props := link.Session().Props
	mapID, _ := props.String(types.PropMap)
	mode, _ := props.String(types.PropMode)
	return c.enter(link, kind, c.sceneFor(mapID), c.cfg.TeamsFor(mode))
}

func (c *Coordinator) enter(link transport.Link, kind EntryKind, scene int32, teams int) *SessionContext {
	sc := newSessionContext(contextParams{
		strand:  &c.strand,
		link:    link,
		kind:    kind,
		timing:  c.cfg.Timing,
		collab:  c.collab,
		metrics: c.metrics,
		log:     c.log,
		scene:   scene,
		teams:   teams,
	})
	c.sc = sc
	sc.authority.Refresh()
	c.metrics.SessionEntered(sc.ctx, string(kind))
	sc.log.Info("entered session",
		zap.String("kind", string(kind)),
		zap.Stringer("authority", sc.authority.Current()),
		zap.Int("peers", len(link.Peers())),
	)
	c.collab.Notifier.OnJoinedOrCreated(link.Session().Name)
	go c.pump(sc)
	return sc
}

func (c *Coordinator) pump(sc *SessionContext) {
	for ev := range sc.link.Events() {
		c.strand.Do(func() {
			if c.sc != sc {
				return
			}
			c.handle(sc, ev)
		})
	}
}

func (c *Coordinator) handle(sc *SessionContext, ev transport.Event) {
	switch ev.Kind {
	case transport.PeerJoined:
		sc.lastJoin = time.Now()
		sc.registry.OnPeerJoined(ev.Peer)
		sc.authority.Refresh()
		sc.notifyCount()

	case transport.PeerLeft:
		sc.registry.OnPeerLeft(ev.Peer)
		sc.authority.Refresh()
		sc.notifyCount()

	case transport.Message:
		msg, err := wire.Decode(ev.Payload)
		if err != nil {
			sc.log.Warn("bad frame", zap.Stringer("from", ev.From), zap.Error(err))
			return
		}
		switch m := msg.(type) {
		case wire.PlayerInfo:
			sc.registry.Apply(ev.From, m)
		case wire.MatchStart:
			sc.barrier.OnMatchStart(ev.From, ev.Authority, m.SceneIndex)
		case wire.MatchStartAck:
			sc.barrier.OnMatchStartAck(ev.From)
		case wire.SceneReady:
			sc.barrier.OnSceneReady(ev.From)
		}

	case transport.Closed:
		sc.log.Warn("session ended by transport", zap.String("reason", ev.Reason))
		c.teardown(context.Background(), sc)
	}
}

// watchAutoStart starts the match once the session is full, or after a
// grace period with any players when solo starts are enabled.
func (c *Coordinator) watchAutoStart(sc *SessionContext) {
	entered := time.Now()
	for sc.Valid() && sc.barrier.idle() {
		if sc.authority.IsSelf() {
			n := len(sc.link.Peers())
			solo := c.solo && n >= 1 && time.Since(entered) >= c.cfg.Timing.SoloGrace
			if n >= sc.capacity || solo {
				if err := sc.barrier.RequestStart(); err != nil {
					sc.log.Warn("auto start", zap.Error(err))
				}
				return
			}
		}
		if !sc.sleep(c.cfg.Timing.AutoStartTick) {
			return
		}
	}
}

// RequestStart begins the match-start barrier. Authority only.
func (c *Coordinator) RequestStart() (err error) {
	c.strand.Do(func() {
		if c.sc == nil {
			err = ErrNoSession
			return
		}
		err = c.sc.barrier.RequestStart()
	})
	return err
}

// LeaveSession tears the current session down. It always succeeds for the
// caller; teardown failures are logged.
func (c *Coordinator) LeaveSession(ctx context.Context) {
	c.strand.Do(func() {
		if c.sc != nil {
			c.teardown(ctx, c.sc)
		}
	})
}

func (c *Coordinator) teardown(ctx context.Context, sc *SessionContext) {
	c.sc = nil
	sc.cancel()

	var errs error
	for _, s := range sc.services {
		errs = multierr.Append(errs, safely(s.Shutdown))
	}
	c.busy = true
	c.strand.Await(func() {
		errs = multierr.Append(errs, safely(func() error { return sc.link.Close(ctx) }))
	})
	c.busy = false

	if errs != nil {
		sc.log.Warn("session teardown", zap.Error(errs))
		return
	}
	sc.log.Info("left session")
}

func safely(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}

// State returns the local match state; StateIdle outside a session.
func (c *Coordinator) State() (s MatchState) {
	c.strand.Do(func() {
		if c.sc != nil {
			s = c.sc.barrier.State()
		}
	})
	return s
}

func (c *Coordinator) Session() (info types.SessionInfo, ok bool) {
	c.strand.Do(func() {
		if c.sc != nil {
			info, ok = c.sc.link.Session(), true
		}
	})
	return info, ok
}

func (c *Coordinator) Self() (p types.PeerID) {
	c.strand.Do(func() {
		if c.sc != nil {
			p = c.sc.self
		}
	})
	return p
}

func (c *Coordinator) Authority() (p types.PeerID) {
	c.strand.Do(func() {
		if c.sc != nil {
			p = c.sc.authority.Current()
		}
	})
	return p
}

// Players returns a copy of the local registry.
func (c *Coordinator) Players() (out map[types.PeerID]types.PlayerRecord) {
	c.strand.Do(func() {
		if c.sc != nil {
			out = c.sc.registry.Snapshot()
		}
	})
	return out
}
