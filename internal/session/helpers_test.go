package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/DoyleJ11/lobby-sync/internal/config"
	"github.com/DoyleJ11/lobby-sync/internal/hub"
	"github.com/DoyleJ11/lobby-sync/internal/relay"
	"github.com/DoyleJ11/lobby-sync/internal/transport"
	"github.com/DoyleJ11/lobby-sync/internal/types"
)

const waitFor = 2 * time.Second

func fastTiming() config.Timing {
	return config.Timing{
		Tick:              5 * time.Millisecond,
		StartGuard:        20 * time.Millisecond,
		PlayerInfoTimeout: 200 * time.Millisecond,
		AckTimeout:        300 * time.Millisecond,
		SceneTimeout:      400 * time.Millisecond,
		LoadingEstimate:   time.Second,
		AutoStartTick:     10 * time.Millisecond,
		SoloGrace:         50 * time.Millisecond,
		ListTimeout:       500 * time.Millisecond,
	}
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Timing = fastTiming()
	return cfg
}

func newRelay(t *testing.T) *relay.Network {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return relay.New(hub.NewHub(ctx, nil, zaptest.NewLogger(t)))
}

type fakeIdentity struct{ rec types.PlayerRecord }

func (f fakeIdentity) LocalDisplayIdentity() types.PlayerRecord { return f.rec }

// fakeScenes knows two maps. behavior controls LoadScene: "" activates the
// scene, "block" waits for ctx, "never" returns without activating.
type fakeScenes struct {
	mu       sync.Mutex
	active   int32
	behavior string
}

func (f *fakeScenes) ResolveSceneIndexByName(name string) (int32, bool) {
	switch name {
	case "Arena1":
		return 3, true
	case "Arena2":
		return 4, true
	}
	return 0, false
}

func (f *fakeScenes) LoadScene(ctx context.Context, index int32) error {
	switch f.behavior {
	case "block":
		<-ctx.Done()
		return ctx.Err()
	case "never":
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active = index
	return nil
}

func (f *fakeScenes) ActiveScene() int32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active
}

type countEvent struct{ count, capacity int }

type recorder struct {
	mu     sync.Mutex
	counts []countEvent
	joined []string
	failed []string
	teams  map[types.PeerID]int
	staged []types.PeerID
	placed map[types.PeerID]int
	begins int
	ends   int
}

func newRecorder() *recorder {
	return &recorder{teams: map[types.PeerID]int{}, placed: map[types.PeerID]int{}}
}

func (r *recorder) OnPlayerCountChanged(count, capacity int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counts = append(r.counts, countEvent{count, capacity})
}

func (r *recorder) OnJoinedOrCreated(code string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.joined = append(r.joined, code)
}

func (r *recorder) OnJoinFailed(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed = append(r.failed, reason)
}

func (r *recorder) OnTeamAssigned(p types.PeerID, team int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.teams[p] = team
}

func (r *recorder) SpawnStaging(p types.PeerID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.staged = append(r.staged, p)
}

func (r *recorder) PlaceAtTeamSpawn(p types.PeerID, team int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.placed[p] = team
}

func (r *recorder) OnLoadingBegin(time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.begins++
}

func (r *recorder) OnLoadingEnd() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ends++
}

func (r *recorder) lastCount() countEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.counts) == 0 {
		return countEvent{}
	}
	return r.counts[len(r.counts)-1]
}

func (r *recorder) loading() (begins, ends int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.begins, r.ends
}

func (r *recorder) teamsCopy() map[types.PeerID]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[types.PeerID]int, len(r.teams))
	for k, v := range r.teams {
		out[k] = v
	}
	return out
}

func (r *recorder) stagedCopy() []types.PeerID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]types.PeerID(nil), r.staged...)
}

func (r *recorder) failures() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.failed...)
}

type peer struct {
	*Coordinator
	rec    *recorder
	scenes *fakeScenes
}

func newPeer(t *testing.T, net transport.Network, name string, cfg config.Config, opts ...Option) *peer {
	t.Helper()
	rec := newRecorder()
	scenes := &fakeScenes{active: -1}
	c, err := New(net, cfg, Collaborators{
		Identity: fakeIdentity{types.PlayerRecord{DisplayName: name, FrameID: "frame-" + name, CharacterID: 7}},
		Scenes:   scenes,
		Loading:  rec,
		Spawner:  rec,
		Notifier: rec,
	}, zaptest.NewLogger(t), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { c.LeaveSession(context.Background()) })
	return &peer{Coordinator: c, rec: rec, scenes: scenes}
}

func (p *peer) names() map[string]bool {
	out := map[string]bool{}
	for _, rec := range p.Players() {
		if rec.HasInfo() {
			out[rec.DisplayName] = true
		}
	}
	return out
}

func (p *peer) waitState(t *testing.T, want MatchState) {
	t.Helper()
	require.Eventually(t, func() bool { return p.State() == want }, waitFor, 5*time.Millisecond,
		"state %s, want %s", p.State(), want)
}

// closeFailNet hands out links whose Close is replaced by close.
type closeFailNet struct {
	transport.Network
	close func() error
}

func (n closeFailNet) Open(ctx context.Context, req types.OpenRequest) (transport.Link, error) {
	l, err := n.Network.Open(ctx, req)
	if err != nil {
		return nil, err
	}
	return closeFailLink{Link: l, close: n.close}, nil
}

type closeFailLink struct {
	transport.Link
	close func() error
}

func (l closeFailLink) Close(context.Context) error { return l.close() }

// hold parks p's strand until the returned func is called. The release also
// runs at cleanup so a failed assertion cannot wedge LeaveSession.
func (p *peer) hold(t *testing.T) (release func()) {
	t.Helper()
	held, done := make(chan struct{}), make(chan struct{})
	var once sync.Once
	release = func() { once.Do(func() { close(done) }) }
	t.Cleanup(release)
	go p.strand.Do(func() {
		close(held)
		<-done
	})
	<-held
	return release
}

// authorityAgreed reports whether every peer sees the same authority, that
// authority is one of them, and each peer sees every other.
func authorityAgreed(peers map[string]*peer) bool {
	var auth types.PeerID
	self := 0
	for _, p := range peers {
		a := p.Authority()
		if a == types.NoPeer || (auth != types.NoPeer && a != auth) {
			return false
		}
		auth = a
		if a == p.Self() {
			self++
		}
		if p.rec.lastCount().count != len(peers) {
			return false
		}
	}
	return self == 1
}
