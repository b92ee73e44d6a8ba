package topology

import (
	"fmt"

	"github.com/google/uuid"
)

// ElementKind distinguishes the two kinds of thing a transition can
// attach to.
type ElementKind int

const (
	ElementBlock ElementKind = iota
	ElementTurnout
)

// Layout is the immutable-by-default topology graph: blocks, turnouts,
// feedbacks, and the transitions linking their sockets. Element slices
// are kept in declaration order, which the path finder relies on for
// deterministic tie-breaking (spec §4.2).
type Layout struct {
	Blocks      []*Block
	Turnouts    []*Turnout
	Feedbacks   []*Feedback
	Transitions []*Transition

	blockIndex      map[uuid.UUID]int
	turnoutIndex    map[uuid.UUID]int
	feedbackIndex   map[uuid.UUID]int
	transitionIndex map[uuid.UUID]int
}

// NewLayout builds a Layout from already-constructed elements. The
// caller owns id uniqueness; use diagnostics.Run to check for
// duplicates after loading untrusted data.
func NewLayout(blocks []*Block, turnouts []*Turnout, feedbacks []*Feedback, transitions []*Transition) *Layout {
	y := &Layout{
		Blocks:          blocks,
		Turnouts:        turnouts,
		Feedbacks:       feedbacks,
		Transitions:     transitions,
		blockIndex:      make(map[uuid.UUID]int, len(blocks)),
		turnoutIndex:    make(map[uuid.UUID]int, len(turnouts)),
		feedbackIndex:   make(map[uuid.UUID]int, len(feedbacks)),
		transitionIndex: make(map[uuid.UUID]int, len(transitions)),
	}
	for i, b := range blocks {
		y.blockIndex[b.ID] = i
	}
	for i, t := range turnouts {
		y.turnoutIndex[t.ID] = i
	}
	for i, f := range feedbacks {
		y.feedbackIndex[f.ID] = i
	}
	for i, tr := range transitions {
		y.transitionIndex[tr.ID] = i
	}
	return y
}

func (y *Layout) Block(id uuid.UUID) (*Block, bool) {
	i, ok := y.blockIndex[id]
	if !ok {
		return nil, false
	}
	return y.Blocks[i], true
}

func (y *Layout) MustBlock(id uuid.UUID) *Block {
	b, ok := y.Block(id)
	if !ok {
		panic(fmt.Sprintf("block %s not found", id))
	}
	return b
}

func (y *Layout) Turnout(id uuid.UUID) (*Turnout, bool) {
	i, ok := y.turnoutIndex[id]
	if !ok {
		return nil, false
	}
	return y.Turnouts[i], true
}

func (y *Layout) Feedback(id uuid.UUID) (*Feedback, bool) {
	i, ok := y.feedbackIndex[id]
	if !ok {
		return nil, false
	}
	return y.Feedbacks[i], true
}

func (y *Layout) Transition(id uuid.UUID) (*Transition, bool) {
	i, ok := y.transitionIndex[id]
	if !ok {
		return nil, false
	}
	return y.Transitions[i], true
}

// ElementKind reports whether id names a block or a turnout.
func (y *Layout) ElementKind(id uuid.UUID) (ElementKind, bool) {
	if _, ok := y.blockIndex[id]; ok {
		return ElementBlock, true
	}
	if _, ok := y.turnoutIndex[id]; ok {
		return ElementTurnout, true
	}
	return 0, false
}

// TransitionsFrom returns, in declaration order, every transition
// attached to the given socket.
func (y *Layout) TransitionsFrom(e Endpoint) []*Transition {
	out := make([]*Transition, 0, 1)
	for _, t := range y.Transitions {
		if t.A == e || t.B == e {
			out = append(out, t)
		}
	}
	return out
}

// NeighborsFrom returns every socket directly reachable from e via a
// single transition.
func (y *Layout) NeighborsFrom(e Endpoint) []Endpoint {
	out := make([]Endpoint, 0, 1)
	for _, t := range y.TransitionsFrom(e) {
		other, ok := t.Other(e)
		if ok {
			out = append(out, other)
		}
	}
	return out
}

// Hop is one step of a NeighborHops walk: the transition traversed and
// the socket it leads to.
type Hop struct {
	Transition *Transition
	To         Endpoint
}

// NeighborHops is NeighborsFrom, but keeps the *Transition traversed to
// reach each neighbor instead of discarding it. The pathfinder walks
// this instead of NeighborsFrom so the transitions a path crosses are
// known to callers that reserve them (reservation.Engine, through
// pathfinder.ChainBetweenBlocks).
func (y *Layout) NeighborHops(e Endpoint) []Hop {
	out := make([]Hop, 0, 1)
	for _, t := range y.TransitionsFrom(e) {
		other, ok := t.Other(e)
		if ok {
			out = append(out, Hop{Transition: t, To: other})
		}
	}
	return out
}

// TransitionBetween returns the transition (if any) directly linking
// endpoints a and b.
func (y *Layout) TransitionBetween(a, b Endpoint) (*Transition, bool) {
	for _, t := range y.Transitions {
		if (t.A == a && t.B == b) || (t.A == b && t.B == a) {
			return t, true
		}
	}
	return nil, false
}

// ExitSocket returns the socket a train travelling dir departs a block
// from.
func ExitSocket(dir Direction) SocketID {
	if dir == Next {
		return SocketNext
	}
	return SocketPrevious
}

// EntrySocket returns the socket a train travelling dir enters a block
// through.
func EntrySocket(dir Direction) SocketID {
	if dir == Next {
		return SocketPrevious
	}
	return SocketNext
}

// DirectionOfEntry returns the direction of travel implied by entering
// a block through entrySocket.
func DirectionOfEntry(entry SocketID) Direction {
	if entry == SocketPrevious {
		return Next
	}
	return Previous
}

// SocketPredicate compares either a specific socket id or any socket on
// a given element.
type SocketPredicate struct {
	ElementID uuid.UUID
	Socket    SocketID
	AnySocket bool
}

func AnySocketOf(elementID uuid.UUID) SocketPredicate {
	return SocketPredicate{ElementID: elementID, AnySocket: true}
}

func ExactSocket(e Endpoint) SocketPredicate {
	return SocketPredicate{ElementID: e.ElementID, Socket: e.Socket}
}

func (p SocketPredicate) Matches(e Endpoint) bool {
	if p.ElementID != e.ElementID {
		return false
	}
	return p.AnySocket || p.Socket == e.Socket
}

// OrphanSockets returns every socket that exists (per category/block
// shape) but has no transition attached, used by package diagnostics.
func (y *Layout) OrphanSockets() []Endpoint {
	out := make([]Endpoint, 0)
	for _, b := range y.Blocks {
		for _, s := range []SocketID{SocketPrevious, SocketNext} {
			if b.IsSiding() {
				if b.Category == BlockSidingPrevious && s == SocketNext {
					continue
				}
				if b.Category == BlockSidingNext && s == SocketPrevious {
					continue
				}
			}
			e := Endpoint{ElementID: b.ID, Socket: s}
			if len(y.TransitionsFrom(e)) == 0 {
				out = append(out, e)
			}
		}
	}
	for _, t := range y.Turnouts {
		for _, s := range t.Category.AllSockets() {
			e := Endpoint{ElementID: t.ID, Socket: s}
			if len(y.TransitionsFrom(e)) == 0 {
				out = append(out, e)
			}
		}
	}
	return out
}
