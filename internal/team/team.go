package team

import (
	"slices"

	"github.com/DoyleJ11/lobby-sync/internal/types"
)

// Compute returns the team index of peer among ordered, which must be sorted
// ascending by peer id. A teamCount of one or less puts every player on their
// own team. Returns -1 when peer is not in ordered.
func Compute(peer types.PeerID, ordered []types.PeerID, teamCount int) int {
	idx := slices.Index(ordered, peer)
	if idx < 0 {
		return -1
	}
	effective := teamCount
	if teamCount <= 1 {
		effective = len(ordered)
	}
	return idx % effective
}

// Order returns a sorted copy of peers.
func Order(peers []types.PeerID) []types.PeerID {
	out := slices.Clone(peers)
	slices.Sort(out)
	return out
}

// Assign computes the team of every peer in one pass.
func Assign(peers []types.PeerID, teamCount int) map[types.PeerID]int {
	ordered := Order(peers)
	out := make(map[types.PeerID]int, len(ordered))
	for _, p := range ordered {
		out[p] = Compute(p, ordered, teamCount)
	}
	return out
}
