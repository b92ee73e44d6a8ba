// Package reservation implements atomic block/turnout locking for
// routes in progress: the all-or-nothing chain reservation a train
// takes before it may enter a block, the leading-window extension
// automatic trains keep ahead of themselves, and the trailing-window
// release behind them.
package reservation

import (
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"go.shisen.dev/unten/controlbus"
	"go.shisen.dev/unten/pathfinder"
	"go.shisen.dev/unten/topology"
)

// Engine applies reservation mutations against a topology.Layout and
// issues the turnout-state commands those mutations require.
type Engine struct {
	Layout *topology.Layout
	Bus    controlbus.CommandInterface
	Log    *zap.SugaredLogger
}

func New(y *topology.Layout, bus controlbus.CommandInterface, log *zap.SugaredLogger) *Engine {
	return &Engine{Layout: y, Bus: bus, Log: log}
}

// plannedMutation is staged, not applied, until an entire chain is
// confirmed conflict-free.
type plannedMutation struct {
	block       *topology.Block
	turnouts    []turnoutLock
	transitions []*topology.Transition
	reserve     *topology.Reservation
	leading     bool
}

type turnoutLock struct {
	turnout *topology.Turnout
	state   topology.TurnoutState
}

// Reserve locks the chain of blocks named by steps[from:to] (inclusive)
// for trainID, plus every turnout between them, setting turnout state
// as required. It is atomic: if any block or turnout in the chain is
// already reserved by a different train, no mutation is applied and ok
// is false with a nil error — "could not reserve" is an ordinary,
// expected outcome the caller's policy decides what to do with, not a
// failure. A non-nil error means the request itself was malformed
// (unknown block, broken turnout chain, no legal turnout state) and the
// layout is left unmodified either way.
func (e *Engine) Reserve(trainID uuid.UUID, steps []topology.Step, from, to int, leading bool) (ok bool, err error) {
	if from < 0 || to >= len(steps) || from > to {
		return false, fmt.Errorf("reservation: invalid range [%d:%d] for %d steps", from, to, len(steps))
	}

	muts := make([]plannedMutation, 0, to-from+1)
	for i := from; i <= to; i++ {
		step := steps[i]
		block, ok := e.Layout.Block(step.BlockID)
		if !ok {
			return false, fmt.Errorf("reservation: unknown block %s", step.BlockID)
		}
		if block.Reservation != nil && block.Reservation.TrainID != trainID {
			return false, nil
		}
		if block.Occupant != nil && block.Occupant.TrainID != trainID {
			return false, nil
		}

		var locks []turnoutLock
		var transitions []*topology.Transition
		if i > 0 {
			prev := steps[i-1]
			passes, transition, perr := pathfinder.ChainBetweenBlocks(e.Layout, prev.BlockID, prev.Direction, step.BlockID)
			if perr != nil {
				return false, fmt.Errorf("reservation: resolving turnout chain into %s: %w", block.Name, perr)
			}
			for _, p := range passes {
				turnout, ok := e.Layout.Turnout(p.TurnoutID)
				if !ok {
					return false, fmt.Errorf("reservation: unknown turnout %s", p.TurnoutID)
				}
				if turnout.Reservation != nil && *turnout.Reservation != trainID {
					return false, nil
				}
				state, ok := turnout.Category.StateFor(p.Entry, p.Exit)
				if !ok {
					return false, fmt.Errorf("reservation: turnout %s has no state for (%d,%d)", turnout.Name, p.Entry, p.Exit)
				}
				locks = append(locks, turnoutLock{turnout: turnout, state: state})
				if p.Transition != nil {
					transitions = append(transitions, p.Transition)
				}
			}
			if transition != nil {
				transitions = append(transitions, transition)
			}
			for _, tr := range transitions {
				if tr.Reservation != nil && *tr.Reservation != trainID {
					return false, nil
				}
			}
		}

		muts = append(muts, plannedMutation{
			block:       block,
			turnouts:    locks,
			transitions: transitions,
			reserve:     &topology.Reservation{TrainID: trainID, Direction: step.Direction, Leading: leading},
			leading:     leading,
		})
	}

	for _, m := range muts {
		m.block.Reservation = m.reserve
		for _, l := range m.turnouts {
			id := trainID
			l.turnout.Reservation = &id
			if l.turnout.State != l.state {
				l.turnout.State = l.state
				if e.Bus != nil {
					if err := e.Bus.Execute(controlbus.SetTurnoutState(l.turnout.Addresses, l.state)); err != nil {
						if e.Log != nil {
							e.Log.Errorw("turnout set-state command failed", "turnout", l.turnout.Name, "err", err)
						}
					}
				}
			}
		}
		for _, tr := range m.transitions {
			id := trainID
			tr.Reservation = &id
		}
	}
	if e.Log != nil {
		e.Log.Debugw("reserved chain", "train", trainID, "from", from, "to", to, "leading", leading)
	}
	return true, nil
}

// ReserveLeading extends the train's reservation window forward by up
// to n additional steps beyond the last currently-reserved step,
// stopping early (without error) if the chain runs into a conflict or
// the end of the route.
func (e *Engine) ReserveLeading(trainID uuid.UUID, steps []topology.Step, lastReservedIndex, n int) (newLastIndex int, err error) {
	newLastIndex = lastReservedIndex
	for i := 0; i < n; i++ {
		next := newLastIndex + 1
		if next >= len(steps) {
			break
		}
		ok, rerr := e.Reserve(trainID, steps, next, next, true)
		if rerr != nil {
			return newLastIndex, rerr
		}
		if !ok {
			break
		}
		newLastIndex = next
	}
	return newLastIndex, nil
}

// FreeTrailing releases the blocks that are more than keep steps
// behind the train's current step index, oldest first, returning the
// steps it released so the caller can prune its TrailingSteps
// bookkeeping. Only block reservations are released: turnouts and
// transitions reserved along those steps stay reserved until Free.
func (e *Engine) FreeTrailing(trailing []topology.Step, keep int) []topology.Step {
	if len(trailing) <= keep {
		return nil
	}
	release := trailing[:len(trailing)-keep]
	for _, step := range release {
		e.unreserveBlock(step.BlockID)
	}
	return release
}

// Free unconditionally releases every step's block (and, best-effort,
// the turnouts reserved for this train), regardless of trailing-window
// bookkeeping. Used when a train is deleted or forcibly stopped.
func (e *Engine) Free(trainID uuid.UUID, steps []topology.Step) {
	for _, step := range steps {
		e.unreserveBlock(step.BlockID)
	}
	for _, t := range e.Layout.Turnouts {
		if t.Reservation != nil && *t.Reservation == trainID {
			t.Reservation = nil
		}
	}
	for _, tr := range e.Layout.Transitions {
		if tr.Reservation != nil && *tr.Reservation == trainID {
			tr.Reservation = nil
		}
	}
}

// FreeBetween releases every block from steps[from] to steps[to],
// inclusive of both endpoints (clamped to the slice). Turnout and
// transition reservations are not released. Used when
// a route is replanned mid-flight and the old tail must be discarded.
func (e *Engine) FreeBetween(steps []topology.Step, from, to int) {
	if from < 0 {
		from = 0
	}
	if to >= len(steps) {
		to = len(steps) - 1
	}
	for i := from; i <= to; i++ {
		e.unreserveBlock(steps[i].BlockID)
	}
}

func (e *Engine) unreserveBlock(blockID uuid.UUID) {
	block, ok := e.Layout.Block(blockID)
	if !ok {
		return
	}
	block.Reservation = nil
}
