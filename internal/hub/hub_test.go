package hub

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/DoyleJ11/lobby-sync/internal/lobby"
	"github.com/DoyleJ11/lobby-sync/internal/store"
	"github.com/DoyleJ11/lobby-sync/internal/transport"
	"github.com/DoyleJ11/lobby-sync/internal/types"
)

type fakeRecorder struct {
	mu     sync.Mutex
	opened []string
	closed map[string]int
}

func (f *fakeRecorder) SessionOpened(_ context.Context, info types.SessionInfo) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opened = append(f.opened, info.Name)
	return nil
}

func (f *fakeRecorder) SessionClosed(_ context.Context, name string, peak int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed == nil {
		f.closed = map[string]int{}
	}
	f.closed[name] = peak
	return nil
}

func (f *fakeRecorder) closedPeak(name string) (int, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.closed[name]
	return p, ok
}

func newTestHub(t *testing.T, rec store.Recorder) *Hub {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return NewHub(ctx, rec, zaptest.NewLogger(t))
}

func outbox() chan types.ServerMessage { return make(chan types.ServerMessage, 32) }

func TestHub_Create_Get_SamePointer(t *testing.T) {
	h := newTestHub(t, nil)
	reply := make(chan LobbyResult, 1)

	h.Inbox() <- CreateLobby{Info: types.SessionInfo{Name: "ZED123", Capacity: 2}, Reply: reply}
	lb1 := (<-reply).Lobby

	get := make(chan *lobby.Lobby, 1)
	h.Inbox() <- GetLobby{Code: "ZED123", Reply: get}
	lb2 := <-get

	if lb1 == nil || lb2 == nil || lb1 != lb2 {
		t.Fatalf("expected same lobby pointer")
	}
}

func TestHub_OpenModes(t *testing.T) {
	ctx := context.Background()
	h := newTestHub(t, nil)
	req := types.OpenRequest{Name: "ROOM22", Capacity: 2}

	req.Mode = types.OpenJoin
	_, _, err := h.Open(ctx, req, outbox())
	require.ErrorIs(t, err, transport.ErrSessionNotFound)

	req.Mode = types.OpenCreate
	_, self, err := h.Open(ctx, req, outbox())
	require.NoError(t, err)
	assert.Equal(t, types.PeerID(1), self)

	_, _, err = h.Open(ctx, req, outbox())
	require.ErrorIs(t, err, transport.ErrSessionExists)

	req.Mode = types.OpenCreateOrJoin
	_, self, err = h.Open(ctx, req, outbox())
	require.NoError(t, err)
	assert.Equal(t, types.PeerID(2), self)

	req.Mode = types.OpenJoin
	_, _, err = h.Open(ctx, req, outbox())
	require.ErrorIs(t, err, transport.ErrSessionFull)
}

func TestHub_OpenRejectsInvalidRequests(t *testing.T) {
	h := newTestHub(t, nil)
	cases := []types.OpenRequest{
		{Mode: types.OpenCreate, Name: "", Capacity: 2},
		{Mode: types.OpenCreate, Name: "A", Capacity: 0},
		{Mode: types.OpenCreateOrJoin, Name: "A", Capacity: MaxCapacity + 1},
		{Mode: "bogus", Name: "A", Capacity: 2},
	}
	for _, req := range cases {
		_, _, err := h.Open(context.Background(), req, outbox())
		assert.ErrorIs(t, err, ErrInvalidRequest)
	}
}

func TestHub_ListReportsPlayerCounts(t *testing.T) {
	ctx := context.Background()
	h := newTestHub(t, nil)

	props := types.Properties{types.PropMap: types.StringValue("Arena1")}
	_, _, err := h.Open(ctx, types.OpenRequest{Mode: types.OpenCreate, Name: "BBB222", Capacity: 4, Props: props}, outbox())
	require.NoError(t, err)
	_, _, err = h.Open(ctx, types.OpenRequest{Mode: types.OpenCreate, Name: "AAA222", Capacity: 2}, outbox())
	require.NoError(t, err)
	_, _, err = h.Open(ctx, types.OpenRequest{Mode: types.OpenJoin, Name: "BBB222"}, outbox())
	require.NoError(t, err)

	list, err := h.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "AAA222", list[0].Name)
	assert.Equal(t, 1, list[0].PlayerCount)
	assert.Equal(t, 2, list[1].PlayerCount)
	got, _ := list[1].Props.String(types.PropMap)
	assert.Equal(t, "Arena1", got)
}

func TestHub_EmptyLobbyIsRemovedAndRecorded(t *testing.T) {
	ctx := context.Background()
	rec := &fakeRecorder{}
	h := newTestHub(t, rec)

	lb, self, err := h.Open(ctx, types.OpenRequest{Mode: types.OpenCreate, Name: "GONE22", Capacity: 2}, outbox())
	require.NoError(t, err)
	require.True(t, lb.Post(ctx, lobby.Leave{Peer: self}))

	require.Eventually(t, func() bool {
		_, err := h.Get(ctx, "GONE22")
		return err != nil
	}, time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		peak, ok := rec.closedPeak("GONE22")
		return ok && peak == 1
	}, time.Second, 10*time.Millisecond)

	// the name is free again
	_, _, err = h.Open(ctx, types.OpenRequest{Mode: types.OpenCreate, Name: "GONE22", Capacity: 2}, outbox())
	require.NoError(t, err)
}
