package topology

import "fmt"

// pairSpec is one legal (entry, exit) route through a turnout, along
// with the state the turnout must hold for that route. Declared
// bidirectionally: a train may enter from either side of the pair.
type pairSpec struct {
	a, b  SocketID
	state TurnoutState
}

const (
	stateStraight TurnoutState = 0
	stateBranch   TurnoutState = 1
	stateLeft     TurnoutState = 1
	stateRight    TurnoutState = 2
)

// geometry maps a turnout category to its fixed socket set and legal
// pairs. This reproduces spec §4.1 exactly: singleLeft/Right have
// sockets {0,1,2} with a straight pair and a branching pair; threeWay
// has sockets {0,1,2,3}; doubleSlip and doubleSlip2 each have 4 sockets
// with two non-overlapping straight pairs and two crossing pairs.
var geometry = map[TurnoutCategory]struct {
	sockets []SocketID
	pairs   []pairSpec
}{
	SingleLeft: {
		sockets: []SocketID{0, 1, 2},
		pairs: []pairSpec{
			{0, 1, stateStraight},
			{0, 2, stateBranch},
		},
	},
	SingleRight: {
		sockets: []SocketID{0, 1, 2},
		pairs: []pairSpec{
			{0, 1, stateStraight},
			{0, 2, stateBranch},
		},
	},
	ThreeWay: {
		sockets: []SocketID{0, 1, 2, 3},
		pairs: []pairSpec{
			{0, 1, stateStraight},
			{0, 2, stateLeft},
			{0, 3, stateRight},
		},
	},
	// Double slip: ports 0,1 form one straight-through line; ports 2,3
	// form the other. The two diagonals (0,3) and (2,1) are the
	// crossing routes. doubleSlip2 carries the same connectivity under
	// a distinct category label/state numbering, matching hardware that
	// reports the two variants with different state codes for the same
	// physical shape (spec §4.1 distinguishes them by category only).
	DoubleSlip: {
		sockets: []SocketID{0, 1, 2, 3},
		pairs: []pairSpec{
			{0, 1, 0}, // straight
			{2, 3, 0}, // straight
			{0, 3, 1}, // crossing
			{2, 1, 2}, // crossing
		},
	},
	DoubleSlip2: {
		sockets: []SocketID{0, 1, 2, 3},
		pairs: []pairSpec{
			{0, 1, 0}, // straight
			{2, 3, 1}, // straight
			{0, 3, 2}, // crossing
			{2, 1, 3}, // crossing
		},
	},
}

// Sockets returns the exit sockets reachable from entrySocket for this
// turnout category, in pair-declaration order.
func (cat TurnoutCategory) Sockets(entry SocketID) []SocketID {
	geo, ok := geometry[cat]
	if !ok {
		panic(fmt.Sprintf("unknown turnout category %d", cat))
	}
	out := make([]SocketID, 0, 2)
	for _, p := range geo.pairs {
		if p.a == entry {
			out = append(out, p.b)
		} else if p.b == entry {
			out = append(out, p.a)
		}
	}
	return out
}

// AllSockets returns every socket id this category exposes.
func (cat TurnoutCategory) AllSockets() []SocketID {
	geo, ok := geometry[cat]
	if !ok {
		panic(fmt.Sprintf("unknown turnout category %d", cat))
	}
	return geo.sockets
}

// StateFor returns the state the turnout must hold for the given
// (entrySocket, exitSocket) pair, or ok=false ("invalid") if the pair is
// illegal for this category.
func (cat TurnoutCategory) StateFor(entry, exit SocketID) (TurnoutState, bool) {
	geo, ok := geometry[cat]
	if !ok {
		panic(fmt.Sprintf("unknown turnout category %d", cat))
	}
	for _, p := range geo.pairs {
		if (p.a == entry && p.b == exit) || (p.b == entry && p.a == exit) {
			return p.state, true
		}
	}
	return 0, false
}

func (cat TurnoutCategory) String() string {
	switch cat {
	case SingleLeft:
		return "singleLeft"
	case SingleRight:
		return "singleRight"
	case ThreeWay:
		return "threeWay"
	case DoubleSlip:
		return "doubleSlip"
	case DoubleSlip2:
		return "doubleSlip2"
	default:
		return fmt.Sprintf("turnoutCategory(%d)", int(cat))
	}
}
