package pathfinder

import (
	"errors"

	"github.com/google/uuid"

	"go.shisen.dev/unten/topology"
)

// ErrNoChain is returned when two blocks are not directly adjacent
// (connected through zero or more turnouts but no intervening block).
var ErrNoChain = errors.New("pathfinder: blocks are not directly adjacent")

// ChainBetweenBlocks finds the turnout passes connecting fromBlock
// (departing in dir) to toBlock, along with the final transition
// leading into toBlock, used by package reservation to learn exactly
// which turnouts and transitions a single route step locks. It does
// not consider reservation state; the caller decides what to do with
// conflicts.
func ChainBetweenBlocks(y *topology.Layout, fromBlock uuid.UUID, dir topology.Direction, toBlock uuid.UUID) ([]TurnoutPass, *topology.Transition, error) {
	from := topology.Endpoint{ElementID: fromBlock, Socket: topology.ExitSocket(dir)}
	for _, cand := range candidatesFrom(y, from, maxTurnoutHops) {
		if cand.endpoint.ElementID == toBlock {
			return cand.passes, cand.transition, nil
		}
	}
	return nil, nil, ErrNoChain
}
