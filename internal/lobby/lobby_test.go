package lobby

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/DoyleJ11/lobby-sync/internal/transport"
	"github.com/DoyleJ11/lobby-sync/internal/types"
)

// helper: receive one frame with a timeout so tests never hang
func recvFrame(t *testing.T, ch <-chan types.ServerMessage, within time.Duration) types.ServerMessage {
	t.Helper()
	select {
	case msg, ok := <-ch:
		if !ok {
			t.Fatalf("member outbox closed unexpectedly")
		}
		return msg
	case <-time.After(within):
		t.Fatalf("timed out waiting for frame")
		return types.ServerMessage{} // unreachable
	}
}

func recvNoFrame(t *testing.T, ch <-chan types.ServerMessage, within time.Duration) {
	t.Helper()
	select {
	case msg, ok := <-ch:
		if !ok {
			return
		}
		t.Fatalf("expected no frame within %v, but got: %+v", within, msg)
	case <-time.After(within):
	}
}

func recvView(t *testing.T, l *Lobby) View {
	t.Helper()
	reply := make(chan View, 1)
	l.Inbox() <- GetState{Reply: reply}
	select {
	case v := <-reply:
		return v
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for view")
		return View{}
	}
}

func newTestLobby(t *testing.T, capacity int, onEmpty func(Emptied)) *Lobby {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	info := types.SessionInfo{
		Name: "ABC234", Capacity: capacity, Open: true, Visible: true,
		Props: types.Properties{types.PropMap: types.StringValue("Arena1")},
	}
	return NewLobby(ctx, info, onEmpty, zaptest.NewLogger(t))
}

func join(t *testing.T, l *Lobby) (types.PeerID, chan types.ServerMessage) {
	t.Helper()
	out := make(chan types.ServerMessage, 16)
	reply := make(chan JoinResult, 1)
	l.Inbox() <- Join{ConnID: "conn", Outbox: out, Reply: reply}
	res := <-reply
	require.NoError(t, res.Err)
	opened := recvFrame(t, out, 100*time.Millisecond)
	require.Equal(t, types.MsgOpened, opened.Type)
	require.Equal(t, res.Self, opened.Self)
	return res.Self, out
}

func TestLobby_JoinAssignsIdsAndAuthority(t *testing.T) {
	l := newTestLobby(t, 4, nil)

	p1, out1 := join(t, l)
	p2, _ := join(t, l)
	assert.Equal(t, types.PeerID(1), p1)
	assert.Equal(t, types.PeerID(2), p2)

	joined := recvFrame(t, out1, 100*time.Millisecond)
	assert.Equal(t, types.MsgJoined, joined.Type)
	assert.Equal(t, p2, joined.Peer)
	assert.Equal(t, []types.PeerID{1, 2}, joined.Peers)
	assert.Equal(t, p1, joined.Authority)

	assert.Equal(t, 2, l.Info().PlayerCount)
}

func TestLobby_RejectsWhenFullOrClosed(t *testing.T) {
	l := newTestLobby(t, 1, nil)
	p1, _ := join(t, l)

	reply := make(chan JoinResult, 1)
	l.Inbox() <- Join{Outbox: make(chan types.ServerMessage, 4), Reply: reply}
	assert.ErrorIs(t, (<-reply).Err, transport.ErrSessionFull)

	l.Inbox() <- SetOpen{From: p1, Open: false}
	l.Inbox() <- Leave{Peer: 99}
	l.Inbox() <- Join{Outbox: make(chan types.ServerMessage, 4), Reply: reply}
	assert.ErrorIs(t, (<-reply).Err, transport.ErrSessionClosed)
}

func TestLobby_AuthorityLeavesLowestRemainingTakesOver(t *testing.T) {
	l := newTestLobby(t, 4, nil)
	p1, _ := join(t, l)
	_, out2 := join(t, l)
	_, out3 := join(t, l)
	recvFrame(t, out2, 100*time.Millisecond) // p3 joined

	l.Inbox() <- SpawnMarker{From: p1}
	l.Inbox() <- Leave{Peer: p1}

	left := recvFrame(t, out2, 100*time.Millisecond)
	assert.Equal(t, types.MsgLeft, left.Type)
	assert.Equal(t, types.PeerID(2), left.Authority)
	assert.Equal(t, []types.PeerID{2, 3}, left.Peers)
	assert.Equal(t, types.PeerID(2), recvFrame(t, out3, 100*time.Millisecond).Authority)

	v := recvView(t, l)
	assert.False(t, v.Marker, "marker leaves with its owner")
	assert.Equal(t, types.PeerID(2), v.Authority)
}

func TestLobby_RelayIsPointToPoint(t *testing.T) {
	l := newTestLobby(t, 4, nil)
	p1, out1 := join(t, l)
	p2, out2 := join(t, l)
	_, out3 := join(t, l)
	recvFrame(t, out1, 100*time.Millisecond) // p2 joined
	recvFrame(t, out1, 100*time.Millisecond) // p3 joined
	recvFrame(t, out2, 100*time.Millisecond) // p3 joined

	l.Inbox() <- Relay{From: p1, To: p2, Key: 1, Payload: []byte{3}}

	msg := recvFrame(t, out2, 100*time.Millisecond)
	assert.Equal(t, types.MsgMessage, msg.Type)
	assert.Equal(t, p1, msg.From)
	assert.Equal(t, []byte{3}, msg.Payload)
	recvNoFrame(t, out3, 50*time.Millisecond)
}

func TestLobby_DropSlowMember(t *testing.T) {
	l := newTestLobby(t, 4, nil)
	p1, _ := join(t, l)

	slow := make(chan types.ServerMessage, 1)
	reply := make(chan JoinResult, 1)
	l.Inbox() <- Join{Outbox: slow, Reply: reply}
	p2 := (<-reply).Self

	// outbox already holds the opened frame, so the next delivery overflows
	l.Inbox() <- Relay{From: p1, To: p2, Key: 1}

	v := recvView(t, l)
	assert.Equal(t, []types.PeerID{p1}, v.Peers)
}

func TestLobby_EmptyReportsAndRejectsLateJoins(t *testing.T) {
	emptied := make(chan Emptied, 1)
	l := newTestLobby(t, 4, func(e Emptied) { emptied <- e })
	p1, _ := join(t, l)
	join(t, l)
	l.Inbox() <- Leave{Peer: 2}
	l.Inbox() <- Leave{Peer: p1}

	select {
	case e := <-emptied:
		assert.Equal(t, "ABC234", e.Name)
		assert.Equal(t, 2, e.Peak)
		assert.Same(t, l, e.Lobby)
	case <-time.After(time.Second):
		t.Fatal("lobby never reported empty")
	}

	reply := make(chan JoinResult, 1)
	l.Inbox() <- Join{Outbox: make(chan types.ServerMessage, 4), Reply: reply}
	assert.ErrorIs(t, (<-reply).Err, transport.ErrSessionNotFound)
}

func TestLobby_Shutdown_ClosesOutboxes(t *testing.T) {
	l := newTestLobby(t, 4, nil)
	_, out := join(t, l)

	l.Inbox() <- Shutdown{}

	select {
	case _, ok := <-out:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("outbox not closed on shutdown")
	}
	assert.False(t, l.Post(context.Background(), Leave{Peer: 1}))
}
