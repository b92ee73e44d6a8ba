// Package topology implements the layout graph model: blocks, turnouts,
// feedback sensors, and the transitions linking their sockets into a
// directed graph.
package topology

import (
	"time"

	"github.com/google/uuid"
)

// Direction is orientation relative to a block's natural axis
// (previous → next).
type Direction int

const (
	Previous Direction = iota
	Next
)

func (d Direction) Reverse() Direction {
	if d == Next {
		return Previous
	}
	return Next
}

func (d Direction) String() string {
	if d == Next {
		return "next"
	}
	return "previous"
}

// SocketID is an endpoint of a block or turnout at which transitions
// attach. Blocks: 0 = previous, 1 = next. Turnouts: category-dependent.
type SocketID int

const (
	SocketPrevious SocketID = 0
	SocketNext     SocketID = 1
)

// BlockCategory is the role a block plays in automatic routing.
type BlockCategory int

const (
	BlockFree BlockCategory = iota
	BlockStation
	BlockSidingPrevious
	BlockSidingNext
)

// Reservation is a claim of a block by a train, optionally marking it as
// a leading (ahead) reservation rather than the train's occupied block.
type Reservation struct {
	TrainID   uuid.UUID
	Direction Direction
	Leading   bool
}

// TrainInstance marks physical presence of a train inside a block,
// independent of (but constrained against) reservation.
type TrainInstance struct {
	TrainID   uuid.UUID
	Direction Direction
}

// Block is a segment of track, the unit of reservation.
type Block struct {
	ID       uuid.UUID
	Name     string
	Category BlockCategory
	Enabled  bool

	// Feedbacks are ordered 0..n-1 along the block's natural direction
	// (socket previous → socket next).
	Feedbacks []uuid.UUID

	// Length and FeedbackDistances are optional; FeedbackDistances, when
	// present, has the same length as Feedbacks.
	Length            *int64
	FeedbackDistances []int64

	// BrakeFeedback and StopFeedback select, per direction of travel, the
	// feedback index that triggers braking/stopping. -1 means unset.
	BrakeFeedback [2]int
	StopFeedback  [2]int

	// WaitingTime is the station default dwell; nil means "use the
	// runtime default" (see traincontrol.restartDelay).
	WaitingTime *time.Duration

	Reservation *Reservation
	Occupant    *TrainInstance
}

func (b *Block) BrakeFeedbackFor(dir Direction) int { return b.BrakeFeedback[dir] }
func (b *Block) StopFeedbackFor(dir Direction) int  { return b.StopFeedback[dir] }

// IsSiding reports whether the block exposes only one open side.
func (b *Block) IsSiding() bool {
	return b.Category == BlockSidingPrevious || b.Category == BlockSidingNext
}

// TurnoutCategory determines a turnout's fixed socket set and the legal
// (entrySocket, exitSocket) pairs.
type TurnoutCategory int

const (
	SingleLeft TurnoutCategory = iota
	SingleRight
	ThreeWay
	DoubleSlip
	DoubleSlip2
)

// TurnoutState is a category-specific state value. The zero value is
// always a valid "first" state for the category.
type TurnoutState int

// Turnout is a routable junction.
type Turnout struct {
	ID            uuid.UUID
	Name          string
	Category      TurnoutCategory
	Addresses     []int
	State         TurnoutState
	Length        *int64
	Reservation   *uuid.UUID
	SpeedLimitKPH int // 0 = no limit
}

// Feedback is an occupancy sensor.
type Feedback struct {
	ID        uuid.UUID
	DeviceID  string
	ContactID string
	Detected  bool
}

// Endpoint names a socket on a block or turnout.
type Endpoint struct {
	ElementID uuid.UUID
	Socket    SocketID
}

// Transition is a directed linkage between two sockets. Equality treats
// (A,B) and (B,A) as the same physical link.
type Transition struct {
	ID          uuid.UUID
	A, B        Endpoint
	Reservation *uuid.UUID
}

// Other returns the endpoint on the far side of e, or the zero Endpoint
// and false if e does not match either side.
func (t *Transition) Other(e Endpoint) (Endpoint, bool) {
	switch {
	case t.A == e:
		return t.B, true
	case t.B == e:
		return t.A, true
	default:
		return Endpoint{}, false
	}
}

// Step is one entry in a Route: a block travelled in a direction.
type Step struct {
	BlockID   uuid.UUID
	Direction Direction
}

// RouteMode controls whether and how a route is regenerated at runtime.
type RouteMode int

const (
	RouteFixed RouteMode = iota
	RouteAutomaticOnce
	RouteAutomatic
)

// Route is an ordered list of steps a train follows.
type Route struct {
	ID   uuid.UUID
	Mode RouteMode

	Steps []Step

	// Destination is meaningful only for RouteAutomaticOnce.
	Destination *Step

	// StepWaitingTime, parallel to Steps, overrides a station block's
	// default dwell for that specific step. Nil entries mean "no
	// override for this step".
	StepWaitingTime []*time.Duration

	Enabled bool
}

func (r *Route) WaitingTimeFor(stepIndex int) *time.Duration {
	if stepIndex < 0 || stepIndex >= len(r.StepWaitingTime) {
		return nil
	}
	return r.StepWaitingTime[stepIndex]
}

// SchedulingMode is the operator-controlled run mode of a train.
type SchedulingMode int

const (
	SchedulingManual SchedulingMode = iota
	SchedulingAutomaticRunning
	SchedulingAutomaticFinishing
	SchedulingStopped
)

// TrainState is the physical motion state of a train.
type TrainState int

const (
	TrainStopped TrainState = iota
	TrainRunning
	TrainBraking
	TrainStopping
)

// StopTriggerKind enumerates the ways a pending stop can resolve.
type StopTriggerKind int

const (
	StopNone StopTriggerKind = iota
	StopCompletely
	StopAndRestart
	StopTemporarily
)

// StopTrigger is the pending-stop state of a train.
type StopTrigger struct {
	Kind  StopTriggerKind
	Delay time.Duration // meaningful only for StopAndRestart
}

// Formation describes a train's physical length, used only to size its
// trailing reservation window. Car-level consist tracking is out of
// scope.
type Formation struct {
	ID     uuid.UUID
	Name   string
	Length int64 // µm
}

// Train is the runtime state of one locomotive (plus whatever it pulls).
type Train struct {
	ID                 uuid.UUID
	Name               string
	LocomotiveAddress  int
	DecoderFamily      string
	BodyDirectionBack  bool // true = locomotive body is running backward
	FormationID        uuid.UUID

	BlockID  *uuid.UUID
	Position int // 0 <= Position <= len(Feedbacks) of BlockID

	RouteID        uuid.UUID
	RouteStepIndex int
	StartRouteIndex int

	Scheduling SchedulingMode
	State      TrainState

	StopTrigger StopTrigger

	MaxLeadingReservedBlocks int
	TrailingReservedSteps    int
	// TrailingSteps remembers the chain of steps still reserved behind
	// the train, oldest first, so FreeTrailing knows what to release.
	TrailingSteps []Step

	SpeedCurrentKPH   int
	SpeedRequestedKPH int
	SpeedMaxKPH       int

	// StrictFeedbackMode selects the MoveWithinBlock position-advance
	// rule (see traincontrol.NewPosition).
	StrictFeedbackMode bool

	// RestartTimerActive mirrors whether the layout controller's
	// restart-timer registry currently holds a pending timer for this
	// train (used by the Start handler's precondition).
	RestartTimerActive bool

	// PushingWagons marks a locomotive running in reverse with an
	// unknown consist ahead, for the StopPushingWagons interlock.
	PushingWagons bool
}
