package traincontrol

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"go.shisen.dev/unten/pathfinder"
	"go.shisen.dev/unten/topology"
)

// temporaryRetryDelay is how long a train sits after braking for a
// StopTemporarily trigger (a reservation conflict that regeneration
// couldn't route around) before Start is retried via the same
// RestartTimerFired path StopAndRestart uses.
const temporaryRetryDelay = 2 * time.Second

// directionOf infers a train's current direction of travel: the
// current route step's direction when a route exists, else the body
// orientation (a manual train with no route is assumed to move however
// its locomotive body currently faces).
func directionOf(rt *Runtime, t *topology.Train) topology.Direction {
	if route, ok := rt.route(t); ok && t.RouteStepIndex < len(route.Steps) {
		return route.Steps[t.RouteStepIndex].Direction
	}
	if t.BodyDirectionBack {
		return topology.Previous
	}
	return topology.Next
}

func handleMoveWithinBlock(rt *Runtime, t *topology.Train, ev Event) ([]Event, error) {
	block, err := rt.currentBlock(t)
	if err != nil {
		return nil, err
	}
	raw := indexOfFeedback(block.Feedbacks, ev.FeedbackID)
	if raw < 0 {
		return nil, nil
	}
	if fb, ok := rt.Layout.Feedback(ev.FeedbackID); !ok || !fb.Detected {
		return nil, nil
	}
	dir := directionOf(rt, t)
	newPos, changed := NewPosition(t.Position, raw, dir, t.StrictFeedbackMode, len(block.Feedbacks))
	if !changed {
		return nil, nil
	}
	t.Position = newPos
	return []Event{{Kind: MovedInsideBlock, TrainID: t.ID}}, nil
}

func handleMoveToNextBlock(rt *Runtime, t *topology.Train, ev Event) ([]Event, error) {
	route, ok := rt.route(t)
	if !ok || t.RouteStepIndex+1 >= len(route.Steps) {
		return nil, nil
	}
	nextStep := route.Steps[t.RouteStepIndex+1]
	nextBlock, ok := rt.Layout.Block(nextStep.BlockID)
	if !ok {
		return nil, fmt.Errorf("route step %d names unknown block %s", t.RouteStepIndex+1, nextStep.BlockID)
	}
	if len(nextBlock.Feedbacks) == 0 {
		return nil, nil
	}
	entryRaw := EntryFeedbackRawIndex(nextStep.Direction, len(nextBlock.Feedbacks))
	if nextBlock.Feedbacks[entryRaw] != ev.FeedbackID {
		return nil, nil
	}
	fb, ok := rt.Layout.Feedback(ev.FeedbackID)
	if !ok || !fb.Detected {
		return nil, nil
	}

	if t.BlockID != nil {
		if prevBlock, ok := rt.Layout.Block(*t.BlockID); ok {
			prevBlock.Occupant = nil
		}
	}
	newBlockID := nextStep.BlockID
	t.BlockID = &newBlockID
	t.Position, _ = NewPosition(0, entryRaw, nextStep.Direction, false, len(nextBlock.Feedbacks))
	t.RouteStepIndex++
	nextBlock.Occupant = &topology.TrainInstance{TrainID: t.ID, Direction: nextStep.Direction}

	t.TrailingSteps = append(t.TrailingSteps, nextStep)
	if rt.Reservation != nil {
		// keep the current block plus TrailingReservedSteps behind it;
		// everything older than that is released.
		released := rt.Reservation.FreeTrailing(t.TrailingSteps, t.TrailingReservedSteps+1)
		if len(released) > 0 {
			t.TrailingSteps = t.TrailingSteps[len(released):]
		}
	}
	return []Event{{Kind: MovedToNextBlock, TrainID: t.ID}}, nil
}

func handleDetectStop(rt *Runtime, t *topology.Train, ev Event) ([]Event, error) {
	route, ok := rt.route(t)
	if !ok {
		return nil, nil
	}
	block, err := rt.currentBlock(t)
	if err != nil {
		return nil, err
	}
	lastStep := len(route.Steps) - 1

	switch route.Mode {
	case topology.RouteAutomaticOnce:
		if t.RouteStepIndex != lastStep {
			return nil, nil
		}
		dest := route.Destination
		curDir := route.Steps[t.RouteStepIndex].Direction
		if dest == nil || block.ID != dest.BlockID || curDir != dest.Direction {
			return nil, fmt.Errorf("train %s reached end of route but block %s does not match destination", t.Name, block.Name)
		}
		t.StopTrigger = topology.StopTrigger{Kind: topology.StopCompletely}
		return []Event{{Kind: StopRequested, TrainID: t.ID}}, nil

	case topology.RouteFixed:
		if t.RouteStepIndex == lastStep {
			t.StopTrigger = topology.StopTrigger{Kind: topology.StopCompletely}
			return []Event{{Kind: StopRequested, TrainID: t.ID}}, nil
		}
		if block.Category == topology.BlockStation && t.RouteStepIndex != t.StartRouteIndex {
			t.StopTrigger = topology.StopTrigger{Kind: topology.StopAndRestart, Delay: restartDelay(route, t.RouteStepIndex, block)}
			return []Event{{Kind: StopRequested, TrainID: t.ID}}, nil
		}

	case topology.RouteAutomatic:
		if block.Category == topology.BlockStation && t.RouteStepIndex != t.StartRouteIndex {
			if t.Scheduling == topology.SchedulingAutomaticFinishing {
				t.StopTrigger = topology.StopTrigger{Kind: topology.StopCompletely}
			} else {
				t.StopTrigger = topology.StopTrigger{Kind: topology.StopAndRestart, Delay: restartDelay(route, t.RouteStepIndex, block)}
			}
			return []Event{{Kind: StopRequested, TrainID: t.ID}}, nil
		}
	}
	return nil, nil
}

func handleExecuteStopInBlock(rt *Runtime, t *topology.Train, ev Event) ([]Event, error) {
	if t.StopTrigger.Kind == topology.StopNone {
		return nil, nil
	}
	block, err := rt.currentBlock(t)
	if err != nil {
		return nil, err
	}
	dir := directionOf(rt, t)

	switch t.State {
	case topology.TrainRunning:
		idx := block.BrakeFeedbackFor(dir)
		if idx < 0 || idx >= len(block.Feedbacks) || block.Feedbacks[idx] != ev.FeedbackID {
			return nil, nil
		}
		fb, ok := rt.Layout.Feedback(ev.FeedbackID)
		if !ok || !fb.Detected {
			return nil, nil
		}
		t.SpeedRequestedKPH = brakingSpeedKPH(t)
		rt.commandSpeed(t)
		t.State = topology.TrainBraking
		return []Event{{Kind: StateChanged, TrainID: t.ID}}, nil

	case topology.TrainBraking:
		idx := block.StopFeedbackFor(dir)
		if idx < 0 || idx >= len(block.Feedbacks) || block.Feedbacks[idx] != ev.FeedbackID {
			return nil, nil
		}
		fb, ok := rt.Layout.Feedback(ev.FeedbackID)
		if !ok || !fb.Detected {
			return nil, nil
		}
		t.SpeedRequestedKPH = 0
		rt.commandSpeed(t)
		t.State = topology.TrainStopped
		switch t.StopTrigger.Kind {
		case topology.StopAndRestart:
			t.RestartTimerActive = true
			if rt.Timers != nil {
				rt.Timers.Arm(t.ID, t.StopTrigger.Delay.Seconds())
			}
		case topology.StopTemporarily:
			t.RestartTimerActive = true
			if rt.Timers != nil {
				rt.Timers.Arm(t.ID, temporaryRetryDelay.Seconds())
			}
		case topology.StopCompletely:
			t.Scheduling = topology.SchedulingManual
		}
		t.StopTrigger = topology.StopTrigger{Kind: topology.StopNone}
		return []Event{{Kind: StateChanged, TrainID: t.ID}}, nil
	}
	return nil, nil
}

func brakingSpeedKPH(t *topology.Train) int {
	half := t.SpeedMaxKPH / 2
	if half < 1 {
		half = 1
	}
	return half
}

// handleReserveLeadingBlocks extends a running train's leading
// reservation window. When the next step is held by another train, an
// automatic route (anything but RouteFixed) is replanned in place and
// the reservation retried immediately against the new steps, per the
// regeneration rule in handleStart; a fixed route, or a regenerated
// route that still can't reserve its next step, falls back to stopping
// the train until the conflict clears.
func handleReserveLeadingBlocks(rt *Runtime, t *topology.Train, ev Event) ([]Event, error) {
	if t.StopTrigger.Kind != topology.StopNone || t.State == topology.TrainStopped {
		return nil, nil
	}
	route, ok := rt.route(t)
	if !ok || rt.Reservation == nil {
		return nil, nil
	}
	lastIdx := lastReservedIndex(rt, t, route)

	if lastIdx+1 < len(route.Steps) {
		ok2, err := rt.Reservation.Reserve(t.ID, route.Steps, lastIdx+1, lastIdx+1, true)
		if err != nil {
			return nil, err
		}
		if !ok2 && route.Mode != topology.RouteFixed {
			if rerr := rt.regenerateRoute(t, route); rerr != nil {
				return nil, rerr
			}
			lastIdx = lastReservedIndex(rt, t, route)
			if lastIdx+1 < len(route.Steps) {
				ok2, err = rt.Reservation.Reserve(t.ID, route.Steps, lastIdx+1, lastIdx+1, true)
				if err != nil {
					return nil, err
				}
			}
		}
		if !ok2 {
			t.StopTrigger = topology.StopTrigger{Kind: topology.StopTemporarily}
			return []Event{{Kind: StopRequested, TrainID: t.ID}}, nil
		}
		lastIdx++
	}
	if n := t.MaxLeadingReservedBlocks - 1; n > 0 {
		if _, err := rt.Reservation.ReserveLeading(t.ID, route.Steps, lastIdx, n); err != nil {
			return nil, err
		}
	}
	return nil, nil
}

// lastReservedIndex walks forward from the train's current step while
// the following step's block is already reserved for it.
func lastReservedIndex(rt *Runtime, t *topology.Train, route *topology.Route) int {
	idx := t.RouteStepIndex
	for idx+1 < len(route.Steps) {
		nb, ok := rt.Layout.Block(route.Steps[idx+1].BlockID)
		if !ok || nb.Reservation == nil || nb.Reservation.TrainID != t.ID {
			break
		}
		idx++
	}
	return idx
}

func handleSpeedLimitEvent(rt *Runtime, t *topology.Train, ev Event) ([]Event, error) {
	if t.State != topology.TrainRunning {
		return nil, nil
	}
	route, ok := rt.route(t)
	if !ok || t.RouteStepIndex == 0 {
		return nil, nil
	}
	limit := t.SpeedMaxKPH
	prev := route.Steps[t.RouteStepIndex-1]
	cur := route.Steps[t.RouteStepIndex]
	passes, _, err := pathfinder.ChainBetweenBlocks(rt.Layout, prev.BlockID, prev.Direction, cur.BlockID)
	if err == nil {
		for _, p := range passes {
			to, ok := rt.Layout.Turnout(p.TurnoutID)
			if ok && to.SpeedLimitKPH > 0 && to.SpeedLimitKPH < limit {
				limit = to.SpeedLimitKPH
			}
		}
	}
	if limit < t.SpeedRequestedKPH {
		t.SpeedRequestedKPH = limit
		rt.commandSpeed(t)
	}
	return nil, nil
}

func handleStopPushingWagons(rt *Runtime, t *topology.Train, ev Event) ([]Event, error) {
	if !t.PushingWagons {
		return nil, nil
	}
	route, ok := rt.route(t)
	if !ok || t.RouteStepIndex+1 < len(route.Steps) {
		return nil, nil
	}
	if t.StopTrigger.Kind != topology.StopNone {
		return nil, nil
	}
	t.StopTrigger = topology.StopTrigger{Kind: topology.StopCompletely}
	return []Event{{Kind: StopRequested, TrainID: t.ID}}, nil
}

func handleStart(rt *Runtime, t *topology.Train, ev Event) ([]Event, error) {
	if ev.Kind == RestartTimerFired {
		t.RestartTimerActive = false
		t.StopTrigger = topology.StopTrigger{Kind: topology.StopNone}
	}
	if t.Scheduling != topology.SchedulingAutomaticRunning && t.Scheduling != topology.SchedulingAutomaticFinishing {
		return nil, nil
	}
	if t.SpeedCurrentKPH != 0 || t.BlockID == nil || t.RestartTimerActive {
		return nil, nil
	}
	route, ok := rt.route(t)
	if !ok {
		return nil, fmt.Errorf("train %s has no route %s", t.Name, t.RouteID)
	}

	if t.RouteStepIndex+1 >= len(route.Steps) && route.Mode == topology.RouteAutomatic {
		if err := rt.regenerateRoute(t, route); err != nil {
			return nil, err
		}
	}
	if t.RouteStepIndex+1 >= len(route.Steps) {
		return nil, nil
	}
	if rt.Reservation == nil {
		return nil, fmt.Errorf("runtime has no reservation engine")
	}
	ok2, err := rt.Reservation.Reserve(t.ID, route.Steps, t.RouteStepIndex+1, t.RouteStepIndex+1, true)
	if err != nil {
		return nil, err
	}
	if !ok2 {
		// Still can't reserve the next block (e.g. the train ahead hasn't
		// cleared it yet even after regeneration): retry after a short
		// delay instead of leaving the train stopped with nothing left to
		// ever wake it.
		t.RestartTimerActive = true
		if rt.Timers != nil {
			rt.Timers.Arm(t.ID, temporaryRetryDelay.Seconds())
		}
		return nil, nil
	}
	t.StartRouteIndex = t.RouteStepIndex
	t.SpeedRequestedKPH = t.SpeedMaxKPH
	rt.commandSpeed(t)
	t.State = topology.TrainRunning
	return []Event{{Kind: StateChanged, TrainID: t.ID}}, nil
}

func (rt *Runtime) regenerateRoute(t *topology.Train, route *topology.Route) error {
	dir := directionOf(rt, t)
	var dest *pathfinder.Destination
	if route.Destination != nil {
		dest = &pathfinder.Destination{BlockID: route.Destination.BlockID, Direction: route.Destination.Direction, DirectionFilled: true}
	}
	steps, err := pathfinder.Find(rt.Layout, *t.BlockID, dir, dest, pathfinder.Constraints{
		TrainID:               t.ID,
		ReservedBlockBehavior: pathfinder.AvoidReservedAlways,
		StopAtFirstStation:    dest == nil,
	}, rt.pathSettings())
	if err != nil {
		return fmt.Errorf("regenerate route for %s: %w", t.Name, err)
	}
	route.Steps = steps
	t.RouteStepIndex = 0
	t.StartRouteIndex = 0
	return nil
}

func handleManualMoveToNextBlock(rt *Runtime, t *topology.Train, ev Event) ([]Event, error) {
	block, err := rt.currentBlock(t)
	if err != nil {
		return nil, err
	}
	dir := directionOf(rt, t)
	for _, cand := range pathfinder.NextBlocks(rt.Layout, block.ID, dir) {
		nb, ok := rt.Layout.Block(cand.BlockID)
		if !ok || len(nb.Feedbacks) == 0 {
			continue
		}
		entryRaw := EntryFeedbackRawIndex(cand.Direction, len(nb.Feedbacks))
		if nb.Feedbacks[entryRaw] != ev.FeedbackID {
			continue
		}
		fb, ok := rt.Layout.Feedback(ev.FeedbackID)
		if !ok || !fb.Detected {
			continue
		}
		block.Occupant = nil
		nb.Occupant = &topology.TrainInstance{TrainID: t.ID, Direction: cand.Direction}
		newBlockID := cand.BlockID
		t.BlockID = &newBlockID
		t.Position, _ = NewPosition(0, entryRaw, cand.Direction, false, len(nb.Feedbacks))
		return []Event{{Kind: MovedToNextBlock, TrainID: t.ID}}, nil
	}
	return nil, nil
}

func handleStopTriggerDetection(rt *Runtime, t *topology.Train, ev Event) ([]Event, error) {
	block, err := rt.currentBlock(t)
	if err != nil {
		return nil, err
	}
	dir := directionOf(rt, t)
	if len(pathfinder.NextBlocks(rt.Layout, block.ID, dir)) > 0 {
		return nil, nil
	}
	if t.State == topology.TrainStopped {
		return nil, nil
	}
	t.SpeedRequestedKPH = 0
	rt.commandSpeed(t)
	t.State = topology.TrainStopped
	return []Event{{Kind: StateChanged, TrainID: t.ID}}, nil
}

func indexOfFeedback(feedbacks []uuid.UUID, id uuid.UUID) int {
	for i, f := range feedbacks {
		if f == id {
			return i
		}
	}
	return -1
}
