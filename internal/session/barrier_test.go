package session

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/DoyleJ11/lobby-sync/internal/types"
)

func TestAckSet_Idempotent(t *testing.T) {
	s := AckSet{}
	assert.True(t, s.Add(2))
	assert.False(t, s.Add(2))
	assert.True(t, s.Has(2))
	assert.Len(t, s, 1)
	assert.Equal(t, []types.PeerID{3, 4}, s.Pending([]types.PeerID{2, 3, 4}))
	assert.Empty(t, s.Pending([]types.PeerID{2}))
}

func TestMatchState_String(t *testing.T) {
	assert.Equal(t, "awaiting_acks", StateAwaitingAcks.String())
	assert.Equal(t, "MatchState(42)", MatchState(42).String())
}
