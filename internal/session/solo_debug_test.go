//go:build lobbydebug

package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStartMatchmaking_SoloStartsAfterGrace(t *testing.T) {
	cfg := testConfig()
	cfg.DebugSolo = true
	p1 := newPeer(t, newRelay(t), "Ann", cfg)

	_, err := p1.StartMatchmaking(context.Background(), "duel", 2, "Arena1")
	require.NoError(t, err)
	p1.waitState(t, StateRunning)
}
