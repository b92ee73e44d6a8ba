// Package pathfinder implements a depth-first, backtracking search over
// a topology.Layout, used both to plan full automatic routes and (via
// ChainBetweenBlocks) to resolve the turnout chain a single reservation
// step must lock.
package pathfinder

import (
	"errors"
	"fmt"
	"math/rand"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"go.shisen.dev/unten/topology"
)

// ErrOverflow is returned when a candidate path exceeds Settings.OverflowLimit.
var ErrOverflow = errors.New("pathfinder: overflow")

// ErrNotFound is returned when no path satisfying the constraints exists.
var ErrNotFound = errors.New("pathfinder: no path found")

// ReservedBlockBehaviorKind selects how a reserved-by-another-train
// block is treated during search.
type ReservedBlockBehaviorKind int

const (
	AvoidReserved ReservedBlockBehaviorKind = iota
	AvoidReservedUntil
	IgnoreReserved
)

type ReservedBlockBehavior struct {
	Kind  ReservedBlockBehaviorKind
	Until int
}

func AvoidReservedUntilN(n int) ReservedBlockBehavior {
	return ReservedBlockBehavior{Kind: AvoidReservedUntil, Until: n}
}

var (
	AvoidReservedAlways  = ReservedBlockBehavior{Kind: AvoidReserved}
	IgnoreReservedAlways = ReservedBlockBehavior{Kind: IgnoreReserved}
)

// Constraints narrows the search to what a specific train is allowed to
// do.
type Constraints struct {
	TrainID                  uuid.UUID
	ReservedBlockBehavior    ReservedBlockBehavior
	StopAtFirstStation       bool // only meaningful when Destination is nil
	AllowEitherBodyDirection bool
}

// Settings tunes the search itself rather than what is a legal step.
type Settings struct {
	OverflowLimit  int
	RandomizeOrder bool
	Verbose        bool
	Rand           *rand.Rand // required when RandomizeOrder is true; seeded externally for tests
	Log            *zap.SugaredLogger
}

// Destination optionally pins the search to end at a specific block,
// and optionally a specific arrival direction.
type Destination struct {
	BlockID         uuid.UUID
	Direction       topology.Direction
	DirectionFilled bool
}

// TurnoutPass records one (entry, exit) traversal of a turnout between
// two consecutive block steps. Transition is the transition entered
// just before this turnout (the link a reservation must also lock
// alongside the turnout itself).
type TurnoutPass struct {
	TurnoutID   uuid.UUID
	Entry, Exit topology.SocketID
	Transition  *topology.Transition
}

// candidate is a block reachable from the current position, plus the
// turnout passes needed to reach it and the final transition leading
// into the candidate block.
type candidate struct {
	endpoint   topology.Endpoint // entry socket on the candidate block
	passes     []TurnoutPass
	transition *topology.Transition
}

const maxTurnoutHops = 64

// Find searches for a route from (startBlock, startDir) honoring c and
// s. If dest is nil, the search succeeds at the first station block
// reached (that is not the start block) when c.StopAtFirstStation is
// set; without it a nil dest never succeeds. If dest is set and
// s.RandomizeOrder, up to ten candidate paths are drawn and the
// shortest returned (spec §4.2's multi-sample shortest); otherwise the
// first path found is returned.
func Find(y *topology.Layout, startBlock uuid.UUID, startDir topology.Direction, dest *Destination, c Constraints, s Settings) ([]topology.Step, error) {
	tryDirs := []topology.Direction{startDir}
	if c.AllowEitherBodyDirection {
		tryDirs = append(tryDirs, startDir.Reverse())
	}

	var lastErr error
	for _, dir := range tryDirs {
		steps, err := findWithDirection(y, startBlock, dir, dest, c, s)
		if err == nil {
			return steps, nil
		}
		lastErr = err
		if errors.Is(err, ErrOverflow) {
			return nil, err
		}
	}
	return nil, lastErr
}

func findWithDirection(y *topology.Layout, startBlock uuid.UUID, dir topology.Direction, dest *Destination, c Constraints, s Settings) ([]topology.Step, error) {
	if dest != nil && s.RandomizeOrder {
		var best []topology.Step
		var bestErr error = ErrNotFound
		for i := 0; i < 10; i++ {
			steps, err := findOnce(y, startBlock, dir, dest, c, s)
			if err != nil {
				if errors.Is(err, ErrOverflow) {
					return nil, err
				}
				if bestErr == ErrNotFound {
					bestErr = err
				}
				continue
			}
			if best == nil || len(steps) < len(best) {
				best = steps
			}
		}
		if best == nil {
			return nil, bestErr
		}
		return best, nil
	}
	return findOnce(y, startBlock, dir, dest, c, s)
}

func findOnce(y *topology.Layout, startBlock uuid.UUID, dir topology.Direction, dest *Destination, c Constraints, s Settings) ([]topology.Step, error) {
	visited := map[uuid.UUID]bool{startBlock: true}
	path := []topology.Step{{BlockID: startBlock, Direction: dir}}
	found, err := search(y, path, visited, dest, c, s)
	if err != nil {
		return nil, err
	}
	return found, nil
}

// search extends path by one more block step at a time, backtracking on
// dead ends, and returns the first (or, per findWithDirection, a
// sampled) completion.
func search(y *topology.Layout, path []topology.Step, visited map[uuid.UUID]bool, dest *Destination, c Constraints, s Settings) ([]topology.Step, error) {
	if len(path) > s.OverflowLimit {
		return nil, fmt.Errorf("%w: path length %d exceeds limit %d", ErrOverflow, len(path), s.OverflowLimit)
	}
	last := path[len(path)-1]
	from := topology.Endpoint{ElementID: last.BlockID, Socket: topology.ExitSocket(last.Direction)}
	candidates := candidatesFrom(y, from, maxTurnoutHops)
	if s.RandomizeOrder && s.Rand != nil {
		s.Rand.Shuffle(len(candidates), func(i, j int) { candidates[i], candidates[j] = candidates[j], candidates[i] })
	}

	for _, cand := range candidates {
		block, ok := y.Block(cand.endpoint.ElementID)
		if !ok {
			continue
		}
		if !block.Enabled {
			if s.Verbose && s.Log != nil {
				s.Log.Debugf("pathfinder: reject %s: disabled", block.Name)
			}
			continue
		}
		if visited[block.ID] {
			if s.Verbose && s.Log != nil {
				s.Log.Debugf("pathfinder: reject %s: already visited", block.Name)
			}
			continue
		}
		if block.Occupant != nil && block.Occupant.TrainID != c.TrainID {
			if s.Verbose && s.Log != nil {
				s.Log.Debugf("pathfinder: reject %s: occupied by another train", block.Name)
			}
			continue
		}
		if blockedByReservation(block, c, len(path)) {
			if s.Verbose && s.Log != nil {
				s.Log.Debugf("pathfinder: reject %s: reserved by another train", block.Name)
			}
			continue
		}

		dir := topology.DirectionOfEntry(cand.endpoint.Socket)
		nextPath := append(append([]topology.Step{}, path...), topology.Step{BlockID: block.ID, Direction: dir})

		if isSuccess(block, dir, dest, c) {
			return nextPath, nil
		}

		visited[block.ID] = true
		result, err := search(y, nextPath, visited, dest, c, s)
		delete(visited, block.ID)
		if err == nil {
			return result, nil
		}
		if errors.Is(err, ErrOverflow) {
			return nil, err
		}
		// otherwise: dead end down this branch, try next candidate
	}
	return nil, ErrNotFound
}

func blockedByReservation(block *topology.Block, c Constraints, pathLen int) bool {
	if block.Reservation == nil || block.Reservation.TrainID == c.TrainID {
		return false
	}
	switch c.ReservedBlockBehavior.Kind {
	case IgnoreReserved:
		return false
	case AvoidReservedUntil:
		return pathLen <= c.ReservedBlockBehavior.Until
	default: // AvoidReserved
		return true
	}
}

func isSuccess(block *topology.Block, dir topology.Direction, dest *Destination, c Constraints) bool {
	if dest != nil {
		if block.ID != dest.BlockID {
			return false
		}
		if dest.DirectionFilled && dir != dest.Direction {
			return false
		}
		return true
	}
	if !c.StopAtFirstStation {
		return false
	}
	return block.Category == topology.BlockStation
}

// NextBlocks returns every block directly reachable (through zero or
// more turnouts) from (blockID, dir), in topology declaration order,
// ignoring reservation and occupancy entirely. Used by manual-mode
// train control, which has no pre-planned route to follow and instead
// asks the layout what's legally next.
func NextBlocks(y *topology.Layout, blockID uuid.UUID, dir topology.Direction) []topology.Step {
	from := topology.Endpoint{ElementID: blockID, Socket: topology.ExitSocket(dir)}
	cands := candidatesFrom(y, from, maxTurnoutHops)
	out := make([]topology.Step, 0, len(cands))
	for _, c := range cands {
		out = append(out, topology.Step{BlockID: c.endpoint.ElementID, Direction: topology.DirectionOfEntry(c.endpoint.Socket)})
	}
	return out
}

// candidatesFrom walks forward from endpoint e, branching over every
// legal turnout exit, until it reaches block entry sockets.
func candidatesFrom(y *topology.Layout, e topology.Endpoint, hopsLeft int) []candidate {
	if hopsLeft <= 0 {
		return nil
	}
	out := make([]candidate, 0, 2)
	for _, hop := range y.NeighborHops(e) {
		n := hop.To
		kind, ok := y.ElementKind(n.ElementID)
		if !ok {
			continue
		}
		if kind == topology.ElementBlock {
			out = append(out, candidate{endpoint: n, transition: hop.Transition})
			continue
		}
		turnout, ok := y.Turnout(n.ElementID)
		if !ok {
			continue
		}
		for _, exit := range turnout.Category.Sockets(n.Socket) {
			pass := TurnoutPass{TurnoutID: turnout.ID, Entry: n.Socket, Exit: exit, Transition: hop.Transition}
			nested := candidatesFrom(y, topology.Endpoint{ElementID: turnout.ID, Socket: exit}, hopsLeft-1)
			for _, nc := range nested {
				out = append(out, candidate{
					endpoint:   nc.endpoint,
					passes:     append([]TurnoutPass{pass}, nc.passes...),
					transition: nc.transition,
				})
			}
		}
	}
	return out
}
