package session

import (
	"go.uber.org/zap"

	"github.com/DoyleJ11/lobby-sync/internal/types"
)

// AuthorityTracker follows the transport's authority designation and runs
// promotion when it moves to the local peer.
type AuthorityTracker struct {
	sc      *SessionContext
	current types.PeerID
}

func newAuthorityTracker(sc *SessionContext) *AuthorityTracker {
	return &AuthorityTracker{sc: sc}
}

func (a *AuthorityTracker) Current() types.PeerID { return a.current }

func (a *AuthorityTracker) IsSelf() bool {
	return a.current != types.NoPeer && a.current == a.sc.self
}

// Refresh re-reads the authority after a membership change.
func (a *AuthorityTracker) Refresh() {
	prev := a.current
	a.current = a.sc.link.Authority()
	if a.current == prev {
		return
	}
	a.sc.log.Info("authority changed", zap.Stringer("from", prev), zap.Stringer("to", a.current))
	if a.IsSelf() {
		a.Promote()
		return
	}
	// the previous holder may have left before relaying our record
	if prev != types.NoPeer && a.current != types.NoPeer {
		a.sc.registry.SendLocalTo(a.current)
	}
}

// Promote makes the local peer act as authority: it ensures the marker
// object exists and rebroadcasts the registry. Safe to repeat.
func (a *AuthorityTracker) Promote() {
	if err := a.sc.link.EnsureAuthorityMarker(a.sc.ctx); err != nil {
		a.sc.log.Warn("ensure authority marker", zap.Error(err))
	}
	a.sc.barrier.OnPromoted()
	a.sc.registry.BroadcastSnapshot()
}

func (a *AuthorityTracker) Shutdown() error {
	a.current = types.NoPeer
	return nil
}
