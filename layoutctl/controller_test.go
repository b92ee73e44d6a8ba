package layoutctl_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"go.shisen.dev/unten/controlbus"
	"go.shisen.dev/unten/fixtures"
	"go.shisen.dev/unten/layoutctl"
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

func TestControllerStartReservesAndRunsTrain(t *testing.T) {
	tri := fixtures.Triangle()
	route := fixedRoute(tri)
	rt := &traincontrol.Runtime{
		Layout:      tri.Layout,
		Reservation: reservation.New(tri.Layout, nil, nil),
		Routes:      map[uuid.UUID]*topology.Route{route.ID: route},
	}
	ctl := layoutctl.NewController(tri.Layout, rt, nil, nil)

	train := &topology.Train{ID: uuid.New(), Name: "t1", RouteID: route.ID, BlockID: &tri.S1, SpeedMaxKPH: 40, MaxLeadingReservedBlocks: 2}
	ctl.AddTrain(train)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go ctl.Run(ctx)

	if err := ctl.Start(train.ID); err != nil {
		t.Fatalf("Start: %v", err)
	}

	deadline := time.After(time.Second)
	for train.State != topology.TrainRunning {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for train to start running")
		default:
			time.Sleep(time.Millisecond)
		}
	}
}

func TestControllerFeedbackEventDrivesMoveWithinBlock(t *testing.T) {
	tri := fixtures.Triangle()
	route := fixedRoute(tri)
	rt := &traincontrol.Runtime{
		Layout:      tri.Layout,
		Reservation: reservation.New(tri.Layout, nil, nil),
		Routes:      map[uuid.UUID]*topology.Route{route.ID: route},
	}
	ctl := layoutctl.NewController(tri.Layout, rt, nil, nil)

	s1, _ := tri.Layout.Block(tri.S1)
	train := &topology.Train{ID: uuid.New(), Name: "t1", RouteID: route.ID, BlockID: &tri.S1}
	s1.Occupant = &topology.TrainInstance{TrainID: train.ID, Direction: topology.Next}
	ctl.AddTrain(train)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go ctl.Run(ctx)

	mid := s1.Feedbacks[1]
	fb, _ := tri.Layout.Feedback(mid)

	doneCh := make(chan struct{})
	go func() {
		for train.Position == 0 {
			time.Sleep(time.Millisecond)
		}
		close(doneCh)
	}()

	// drives the same path a real Bus's reader goroutine would, via
	// Register -> InjectBusEvent.
	ctl.InjectBusEvent(controlbus.Event{FeedbackDeviceID: fb.DeviceID, FeedbackContact: fb.ContactID, Detected: true})

	select {
	case <-doneCh:
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for position advance")
	}
}
