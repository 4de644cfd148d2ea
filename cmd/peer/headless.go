package main

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/lobby-sync/internal/config"
	"github.com/DoyleJ11/lobby-sync/internal/types"
)

// headless stands in for a game client: scenes "load" after a short delay
// and every notification is logged.
type headless struct {
	name   string
	scenes map[string]int32
	delay  time.Duration
	active atomic.Int32
	log    *zap.Logger
}

func newHeadless(cfg config.Config, maps []string, log *zap.Logger) *headless {
	h := &headless{
		name:   cfg.DisplayName,
		scenes: make(map[string]int32, len(maps)),
		delay:  cfg.Timing.LoadingEstimate / 10,
		log:    log,
	}
	for i, m := range maps {
		if m = strings.TrimSpace(m); m != "" {
			h.scenes[m] = int32(i + 1)
		}
	}
	return h
}

func (h *headless) LocalDisplayIdentity() types.PlayerRecord {
	return types.PlayerRecord{DisplayName: h.name}
}

func (h *headless) ResolveSceneIndexByName(name string) (int32, bool) {
	idx, ok := h.scenes[name]
	return idx, ok
}

func (h *headless) LoadScene(ctx context.Context, index int32) error {
	select {
	case <-time.After(h.delay):
	case <-ctx.Done():
		return ctx.Err()
	}
	h.active.Store(index)
	return nil
}

func (h *headless) ActiveScene() int32 { return h.active.Load() }

func (h *headless) OnLoadingBegin(estimate time.Duration) {
	h.log.Info("loading", zap.Duration("estimate", estimate))
}

func (h *headless) OnLoadingEnd() { h.log.Info("loading done") }

func (h *headless) SpawnStaging(p types.PeerID) {
	h.log.Info("spawned at staging", zap.Stringer("peer", p))
}

func (h *headless) PlaceAtTeamSpawn(p types.PeerID, team int) {
	h.log.Info("placed at team spawn", zap.Stringer("peer", p), zap.Int("team", team))
}

func (h *headless) OnPlayerCountChanged(count, capacity int) {
	h.log.Info("players", zap.Int("count", count), zap.Int("capacity", capacity))
}

func (h *headless) OnJoinedOrCreated(code string) {
	h.log.Info("joined", zap.String("code", code))
}

func (h *headless) OnJoinFailed(reason string) {
	h.log.Warn("join failed", zap.String("reason", reason))
}

func (h *headless) OnTeamAssigned(p types.PeerID, team int) {
	h.log.Info("team assigned", zap.Stringer("peer", p), zap.Int("team", team))
}
