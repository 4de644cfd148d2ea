package session

import (
	"context"
	"time"

	"github.com/DoyleJ11/lobby-sync/internal/types"
)

// Identity supplies the local player's display record.
type Identity interface {
	LocalDisplayIdentity() types.PlayerRecord
}

// Scenes resolves, loads and reports scenes by index.
type Scenes interface {
	ResolveSceneIndexByName(name string) (int32, bool)
	LoadScene(ctx context.Context, index int32) error
	ActiveScene() int32
}

type Loading interface {
	OnLoadingBegin(estimate time.Duration)
	OnLoadingEnd()
}

// Spawner places participants once the match scene is active.
type Spawner interface {
	SpawnStaging(p types.PeerID)
	PlaceAtTeamSpawn(p types.PeerID, team int)
}

// Notifier receives lobby notifications. Calls arrive on the strand and must
// not call back into the Coordinator synchronously.
type Notifier interface {
	OnPlayerCountChanged(count, capacity int)
	OnJoinedOrCreated(code string)
	OnJoinFailed(reason string)
	OnTeamAssigned(p types.PeerID, team int)
}

type Collaborators struct {
	Identity Identity
	Scenes   Scenes
	Loading  Loading
	Spawner  Spawner
	Notifier Notifier
}

type nopLoading struct{}

func (nopLoading) OnLoadingBegin(time.Duration) {}
func (nopLoading) OnLoadingEnd()                {}

type nopSpawner struct{}

func (nopSpawner) SpawnStaging(types.PeerID)          {}
func (nopSpawner) PlaceAtTeamSpawn(types.PeerID, int) {}

type nopNotifier struct{}

func (nopNotifier) OnPlayerCountChanged(int, int)     {}
func (nopNotifier) OnJoinedOrCreated(string)          {}
func (nopNotifier) OnJoinFailed(string)               {}
func (nopNotifier) OnTeamAssigned(types.PeerID, int) {}

func (c Collaborators) withDefaults() Collaborators {
	if c.Loading == nil {
		c.Loading = nopLoading{}
	}
	if c.Spawner == nil {
		c.Spawner = nopSpawner{}
	}
	if c.Notifier == nil {
		c.Notifier = nopNotifier{}
	}
	return c
}
