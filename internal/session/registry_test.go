package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/lobby-sync/internal/types"
	"github.com/DoyleJ11/lobby-sync/internal/wire"
)

// One member never sends its record: the wait still returns on time.
func TestRegistry_WaitForAllPlayerInfoIsBounded(t *testing.T) {
	ctx := context.Background()
	net := newRelay(t)
	p1 := newPeer(t, net, "Ann", testConfig())

	code, err := p1.CreateSession(ctx, "Arena1")
	require.NoError(t, err)
	silent, err := net.Open(ctx, types.OpenRequest{Mode: types.OpenJoin, Name: code})
	require.NoError(t, err)
	t.Cleanup(func() { _ = silent.Close(ctx) })
	require.Eventually(t, func() bool { return p1.rec.lastCount().count == 2 }, waitFor, 5*time.Millisecond)

	const timeout = 150 * time.Millisecond
	var (
		complete bool
		missing  []types.PeerID
		took     time.Duration
	)
	p1.strand.Do(func() {
		start := time.Now()
		complete = p1.sc.registry.WaitForAllPlayerInfo(timeout)
		took = time.Since(start)
		missing = p1.sc.registry.Missing()
	})
	assert.False(t, complete)
	assert.Equal(t, []types.PeerID{silent.Self()}, missing)
	assert.GreaterOrEqual(t, took, timeout)
	assert.Less(t, took, timeout+100*time.Millisecond)
}

func TestRegistry_ApplyReplacesAndIgnoresStrangers(t *testing.T) {
	ctx := context.Background()
	net := newRelay(t)
	p1 := newPeer(t, net, "Ann", testConfig())

	code, err := p1.CreateSession(ctx, "Arena1")
	require.NoError(t, err)
	other, err := net.Open(ctx, types.OpenRequest{Mode: types.OpenJoin, Name: code})
	require.NoError(t, err)
	t.Cleanup(func() { _ = other.Close(ctx) })
	require.Eventually(t, func() bool { return p1.rec.lastCount().count == 2 }, waitFor, 5*time.Millisecond)

	p1.strand.Do(func() {
		r := p1.sc.registry
		r.Apply(other.Self(), wire.PlayerInfo{Peer: other.Self(), Record: types.PlayerRecord{DisplayName: "Old", SkinIndex: 1}})
		r.Apply(other.Self(), wire.PlayerInfo{Peer: other.Self(), Record: types.PlayerRecord{DisplayName: "New"}})
		r.Apply(other.Self(), wire.PlayerInfo{Peer: 99, Record: types.PlayerRecord{DisplayName: "Ghost"}})
		r.Apply(other.Self(), wire.PlayerInfo{Peer: p1.sc.self, Record: types.PlayerRecord{DisplayName: "Impostor"}})

		got, ok := r.Record(other.Self())
		require.True(t, ok)
		assert.Equal(t, types.PlayerRecord{DisplayName: "New"}, got)
		_, ok = r.Record(99)
		assert.False(t, ok)
		self, _ := r.Record(p1.sc.self)
		assert.Equal(t, "Ann", self.DisplayName)
	})

	// the authority rebroadcast reaches the other member
	deadline := time.After(waitFor)
	for {
		select {
		case ev := <-other.Events():
			if len(ev.Payload) == 0 {
				continue
			}
			msg, err := wire.Decode(ev.Payload)
			require.NoError(t, err)
			if pi, ok := msg.(wire.PlayerInfo); ok && pi.Peer == p1.Self() {
				assert.Equal(t, "Ann", pi.Record.DisplayName)
				return
			}
		case <-deadline:
			t.Fatal("no snapshot from authority")
		}
	}
}
