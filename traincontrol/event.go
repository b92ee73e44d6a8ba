package traincontrol

import "github.com/google/uuid"

// EventKind enumerates everything a train controller reacts to. This
// mirrors the teacher's conn.ValCurrent-triggers-guide.single() shape
// (sakayukari/tal/main.go) generalized from "one current-sense
// channel" to an explicit, typed event set spanning every way a
// train's situation can change.
type EventKind int

const (
	FeedbackTriggered EventKind = iota
	MovedInsideBlock
	MovedToNextBlock
	RestartTimerFired
	SchedulingChanged
	StateChanged
	StopRequested
)

func (k EventKind) String() string {
	switch k {
	case FeedbackTriggered:
		return "feedbackTriggered"
	case MovedInsideBlock:
		return "movedInsideBlock"
	case MovedToNextBlock:
		return "movedToNextBlock"
	case RestartTimerFired:
		return "restartTimerFired"
	case SchedulingChanged:
		return "schedulingChanged"
	case StateChanged:
		return "stateChanged"
	case StopRequested:
		return "stopRequested"
	default:
		return "event(?)"
	}
}

// Event is one occurrence queued against a single train's controller.
// FeedbackID/FeedbackRawIdx are meaningful only for
// FeedbackTriggered.
type Event struct {
	Kind           EventKind
	TrainID        uuid.UUID
	FeedbackID     uuid.UUID
	FeedbackRawIdx int
}
