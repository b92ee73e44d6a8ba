package traincontrol_test

import (
	"testing"

	"github.com/google/uuid"

	"go.shisen.dev/unten/fixtures"
	"go.shisen.dev/unten/reservation"
	"go.shisen.dev/unten/topology"
	"go.shisen.dev/unten/traincontrol"
)

func fixedRoute(tri fixtures.Named) *topology.Route {
	return &topology.Route{
		ID:   uuid.New(),
		Mode: topology.RouteFixed,
		Steps: []topology.Step{
			{BlockID: tri.S1, Direction: topology.Next},
			{BlockID: tri.B1, Direction: topology.Next},
			{BlockID: tri.B2, Direction: topology.Next},
			{BlockID: tri.B3, Direction: topology.Next},
			{BlockID: tri.S2, Direction: topology.Next},
		},
	}
}

func newTrainAt(blockID uuid.UUID, routeID uuid.UUID) *topology.Train {
	id := blockID
	return &topology.Train{
		ID:                       uuid.New(),
		Name:                     "test-train",
		RouteID:                  routeID,
		BlockID:                  &id,
		Scheduling:               topology.SchedulingAutomaticRunning,
		SpeedMaxKPH:              50,
		MaxLeadingReservedBlocks: 2,
	}
}

func newRuntime(tri fixtures.Named, route *topology.Route) *traincontrol.Runtime {
	return &traincontrol.Runtime{
		Layout:      tri.Layout,
		Reservation: reservation.New(tri.Layout, nil, nil),
		Routes:      map[uuid.UUID]*topology.Route{route.ID: route},
	}
}

func TestDispatchStartReservesAndRunsTrain(t *testing.T) {
	tri := fixtures.Triangle()
	route := fixedRoute(tri)
	train := newTrainAt(tri.S1, route.ID)
	rt := newRuntime(tri, route)

	rt.Dispatch(train, traincontrol.Event{Kind: traincontrol.SchedulingChanged, TrainID: train.ID})

	if train.State != topology.TrainRunning {
		t.Fatalf("expected train running, got state=%v", train.State)
	}
	if train.SpeedRequestedKPH != train.SpeedMaxKPH {
		t.Fatalf("expected requested speed %d, got %d", train.SpeedMaxKPH, train.SpeedRequestedKPH)
	}
	b1, _ := tri.Layout.Block(tri.B1)
	if b1.Reservation == nil || b1.Reservation.TrainID != train.ID {
		t.Fatalf("expected b1 reserved for the starting train")
	}
}

func TestDispatchStartDoesNothingWhenAlreadyMoving(t *testing.T) {
	tri := fixtures.Triangle()
	route := fixedRoute(tri)
	train := newTrainAt(tri.S1, route.ID)
	train.SpeedCurrentKPH = 10
	rt := newRuntime(tri, route)

	rt.Dispatch(train, traincontrol.Event{Kind: traincontrol.SchedulingChanged, TrainID: train.ID})

	if train.State == topology.TrainRunning {
		t.Fatalf("expected Start to no-op while the train is already moving")
	}
}

func TestDispatchMoveWithinBlockAdvancesPositionLeniently(t *testing.T) {
	tri := fixtures.Triangle()
	route := fixedRoute(tri)
	train := newTrainAt(tri.S1, route.ID)
	rt := newRuntime(tri, route)

	s1, _ := tri.Layout.Block(tri.S1)
	mid := s1.Feedbacks[1]
	fb, _ := tri.Layout.Feedback(mid)
	fb.Detected = true

	rt.Dispatch(train, traincontrol.Event{Kind: traincontrol.FeedbackTriggered, TrainID: train.ID, FeedbackID: mid})

	if train.Position != 2 {
		t.Fatalf("expected position 2 after lenient jump past raw index 1, got %d", train.Position)
	}
}

func TestDispatchMoveToNextBlockReassignsBlockAndFreesTrailing(t *testing.T) {
	tri := fixtures.Triangle()
	route := fixedRoute(tri)
	train := newTrainAt(tri.S1, route.ID)
	train.TrailingReservedSteps = 0
	rt := newRuntime(tri, route)

	if ok, err := rt.Reservation.Reserve(train.ID, route.Steps, 0, 1, false); err != nil || !ok {
		t.Fatalf("seed reservation: ok=%v err=%v", ok, err)
	}
	train.TrailingSteps = []topology.Step{route.Steps[0]}

	b1, _ := tri.Layout.Block(tri.B1)
	entryFeedback := b1.Feedbacks[0]
	fb, _ := tri.Layout.Feedback(entryFeedback)
	fb.Detected = true

	rt.Dispatch(train, traincontrol.Event{Kind: traincontrol.FeedbackTriggered, TrainID: train.ID, FeedbackID: entryFeedback})

	if train.BlockID == nil || *train.BlockID != tri.B1 {
		t.Fatalf("expected train moved to b1, got %#v", train.BlockID)
	}
	if train.RouteStepIndex != 1 {
		t.Fatalf("expected route step index 1, got %d", train.RouteStepIndex)
	}
	s1, _ := tri.Layout.Block(tri.S1)
	if s1.Reservation != nil {
		t.Fatalf("expected s1 released as the train left it behind")
	}
}

func TestDispatchDetectStopAtFixedRouteEnd(t *testing.T) {
	tri := fixtures.Triangle()
	route := fixedRoute(tri)
	train := newTrainAt(tri.S2, route.ID)
	train.RouteStepIndex = len(route.Steps) - 1
	rt := newRuntime(tri, route)

	rt.Dispatch(train, traincontrol.Event{Kind: traincontrol.MovedToNextBlock, TrainID: train.ID})

	if train.StopTrigger.Kind != topology.StopCompletely {
		t.Fatalf("expected StopCompletely at the end of a fixed route, got %v", train.StopTrigger.Kind)
	}
}

func TestDispatchExecuteStopInBlockBrakesThenStops(t *testing.T) {
	tri := fixtures.Triangle()
	route := fixedRoute(tri)
	train := newTrainAt(tri.S2, route.ID)
	train.RouteStepIndex = len(route.Steps) - 1
	train.State = topology.TrainRunning
	train.StopTrigger = topology.StopTrigger{Kind: topology.StopCompletely}
	rt := newRuntime(tri, route)

	s2, _ := tri.Layout.Block(tri.S2)
	brakeFB := s2.Feedbacks[s2.BrakeFeedbackFor(topology.Next)]
	fb, _ := tri.Layout.Feedback(brakeFB)
	fb.Detected = true

	rt.Dispatch(train, traincontrol.Event{Kind: traincontrol.FeedbackTriggered, TrainID: train.ID, FeedbackID: brakeFB})
	if train.State != topology.TrainBraking {
		t.Fatalf("expected braking after the brake feedback, got %v", train.State)
	}

	stopFB := s2.Feedbacks[s2.StopFeedbackFor(topology.Next)]
	fb2, _ := tri.Layout.Feedback(stopFB)
	fb2.Detected = true

	rt.Dispatch(train, traincontrol.Event{Kind: traincontrol.FeedbackTriggered, TrainID: train.ID, FeedbackID: stopFB})
	if train.State != topology.TrainStopped {
		t.Fatalf("expected stopped after the stop feedback, got %v", train.State)
	}
	if train.Scheduling != topology.SchedulingManual {
		t.Fatalf("expected scheduling to drop to manual after a StopCompletely, got %v", train.Scheduling)
	}
}

// TestReserveLeadingBlocksRegeneratesAroundReservedBlock exercises seed
// scenario S2: a train running an automatic route meets a reservation
// conflict on the block immediately ahead, and the leading-reservation
// handler must replan around it (via b5, the bypass fixtures.Triangle
// wires around b2) and resume without ever needing to stop.
func TestReserveLeadingBlocksRegeneratesAroundReservedBlock(t *testing.T) {
	tri := fixtures.Triangle()
	route := &topology.Route{
		ID:   uuid.New(),
		Mode: topology.RouteAutomatic,
		Steps: []topology.Step{
			{BlockID: tri.S1, Direction: topology.Next},
			{BlockID: tri.B1, Direction: topology.Next},
			{BlockID: tri.B2, Direction: topology.Next},
			{BlockID: tri.B3, Direction: topology.Next},
			{BlockID: tri.S2, Direction: topology.Next},
		},
	}
	train := newTrainAt(tri.B1, route.ID)
	train.RouteStepIndex = 1
	train.State = topology.TrainRunning
	rt := newRuntime(tri, route)

	if ok, err := rt.Reservation.Reserve(train.ID, route.Steps, 1, 1, false); err != nil || !ok {
		t.Fatalf("seed reservation of b1: ok=%v err=%v", ok, err)
	}

	other := uuid.New()
	b2, _ := tri.Layout.Block(tri.B2)
	b2.Reservation = &topology.Reservation{TrainID: other}

	rt.Dispatch(train, traincontrol.Event{Kind: traincontrol.MovedToNextBlock, TrainID: train.ID})

	if train.StopTrigger.Kind != topology.StopNone {
		t.Fatalf("expected the train to reroute instead of stopping, got StopTrigger=%v", train.StopTrigger.Kind)
	}
	if len(route.Steps) < 2 || route.Steps[1].BlockID != tri.B5 {
		t.Fatalf("expected the regenerated route to route through b5 around b2, got %#v", route.Steps)
	}
	b5, _ := tri.Layout.Block(tri.B5)
	if b5.Reservation == nil || b5.Reservation.TrainID != train.ID {
		t.Fatalf("expected b5 reserved for the train after regeneration, got %#v", b5.Reservation)
	}
}

func TestDispatchManualModeUsesNextBlocksNotRoute(t *testing.T) {
	tri := fixtures.Triangle()
	route := fixedRoute(tri)
	train := newTrainAt(tri.S1, route.ID)
	train.Scheduling = topology.SchedulingManual
	rt := newRuntime(tri, route)

	b1, _ := tri.Layout.Block(tri.B1)
	entryFeedback := b1.Feedbacks[0]
	fb, _ := tri.Layout.Feedback(entryFeedback)
	fb.Detected = true

	rt.Dispatch(train, traincontrol.Event{Kind: traincontrol.FeedbackTriggered, TrainID: train.ID, FeedbackID: entryFeedback})

	if train.BlockID == nil || *train.BlockID != tri.B1 {
		t.Fatalf("expected manual train to move to b1 via NextBlocks, got %#v", train.BlockID)
	}
}
