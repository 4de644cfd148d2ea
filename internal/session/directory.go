package session

import (
	"context"
	"fmt"
	"time"

	"github.com/DoyleJ11/lobby-sync/internal/transport"
	"github.com/DoyleJ11/lobby-sync/internal/types"
)

// Filter narrows co-op auto-join. An empty Map matches any map.
type Filter struct {
	Map string
}

// Directory queries the transport's session list with a bounded wait.
type Directory struct {
	net     transport.Network
	timeout time.Duration
}

func NewDirectory(net transport.Network, timeout time.Duration) *Directory {
	return &Directory{net: net, timeout: timeout}
}

func (d *Directory) list(ctx context.Context) ([]types.SessionInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	sessions, err := d.net.ListSessions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return sessions, nil
}

// FindOpenSession returns the first joinable co-op session for f.
// Matchmaking sessions (pvp == 1) are never returned.
func (d *Directory) FindOpenSession(ctx context.Context, f Filter) (types.SessionInfo, bool, error) {
	sessions, err := d.list(ctx)
	if err != nil {
		return types.SessionInfo{}, false, err
	}
	for _, s := range sessions {
		if pvp, _ := s.Props.Int(types.PropPvP); pvp == 1 {
			continue
		}
		if f.Map != "" {
			if m, _ := s.Props.String(types.PropMap); m != f.Map {
				continue
			}
		}
		if s.HasRoom() {
			return s, true, nil
		}
	}
	return types.SessionInfo{}, false, nil
}

// FindMatchmakingSession returns the first joinable matchmaking session for
// mode and capacity.
func (d *Directory) FindMatchmakingSession(ctx context.Context, mode string, capacity int) (types.SessionInfo, bool, error) {
	sessions, err := d.list(ctx)
	if err != nil {
		return types.SessionInfo{}, false, err
	}
	for _, s := range sessions {
		pvp, _ := s.Props.Int(types.PropPvP)
		m, _ := s.Props.String(types.PropMode)
		c, _ := s.Props.Int(types.PropCap)
		if pvp == 1 && m == mode && c == capacity && s.HasRoom() {
			return s, true, nil
		}
	}
	return types.SessionInfo{}, false, nil
}
