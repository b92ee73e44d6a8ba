// Package traincontrol implements the per-train event-driven state
// machine: the automatic (route-driven) and manual (operator-driven)
// handler sets, the position-advance rule, and automatic route
// regeneration via package pathfinder.
package traincontrol

import (
	"fmt"
	"math/rand"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"go.shisen.dev/unten/controlbus"
	"go.shisen.dev/unten/pathfinder"
	"go.shisen.dev/unten/reservation"
	"go.shisen.dev/unten/topology"
)

// RestartTimers is how a handler arms or cancels a station-restart
// timer without owning the timer machinery itself — layoutctl.Controller
// implements this.
type RestartTimers interface {
	Arm(trainID uuid.UUID, delaySeconds float64)
	Cancel(trainID uuid.UUID)
}

// Runtime holds everything a handler needs to act: the layout, the
// reservation engine, the bus, route storage, and the restart-timer
// registry. One Runtime serves every train; handlers are plain
// functions of (Runtime, *topology.Train, Event) that update the train
// and the layout in place.
type Runtime struct {
	Layout      *topology.Layout
	Reservation *reservation.Engine
	Bus         controlbus.CommandInterface
	Log         *zap.SugaredLogger
	Timers      RestartTimers

	Routes map[uuid.UUID]*topology.Route

	PathOverflowLimit int
	Rand              *rand.Rand
}

func (rt *Runtime) route(t *topology.Train) (*topology.Route, bool) {
	r, ok := rt.Routes[t.RouteID]
	return r, ok
}

// RouteOf exposes a train's route to package layoutctl, which needs it
// to decide which trains a feedback transition is relevant to.
func (rt *Runtime) RouteOf(t *topology.Train) (*topology.Route, bool) {
	return rt.route(t)
}

func (rt *Runtime) logf(format string, args ...interface{}) {
	if rt.Log != nil {
		rt.Log.Debugf(format, args...)
	}
}

type handlerFunc func(rt *Runtime, t *topology.Train, ev Event) ([]Event, error)

type handler struct {
	name   string
	events map[EventKind]bool
	run    handlerFunc
}

func on(kinds ...EventKind) map[EventKind]bool {
	m := make(map[EventKind]bool, len(kinds))
	for _, k := range kinds {
		m[k] = true
	}
	return m
}

var automaticHandlers = []handler{
	{"Start", on(SchedulingChanged, RestartTimerFired), handleStart},
	{"MoveWithinBlock", on(FeedbackTriggered), handleMoveWithinBlock},
	{"MoveToNextBlock", on(FeedbackTriggered), handleMoveToNextBlock},
	{"DetectStop", on(MovedToNextBlock), handleDetectStop},
	{"ExecuteStopInBlock", on(FeedbackTriggered), handleExecuteStopInBlock},
	{"ReserveLeadingBlocks", on(MovedToNextBlock, MovedInsideBlock), handleReserveLeadingBlocks},
	{"SpeedLimitEvent", on(StateChanged), handleSpeedLimitEvent},
	{"StopPushingWagons", on(MovedToNextBlock, MovedInsideBlock), handleStopPushingWagons},
}

var manualHandlers = []handler{
	{"MoveWithinBlock", on(FeedbackTriggered), handleMoveWithinBlock},
	{"ManualMoveToNextBlock", on(FeedbackTriggered), handleManualMoveToNextBlock},
	{"StopTriggerDetection", on(FeedbackTriggered, MovedToNextBlock), handleStopTriggerDetection},
}

// Dispatch runs ev and every event it produces against t's handler set
// until the queue drains. Fan-out for one externally-supplied event
// runs to completion before Dispatch returns, matching the spec's
// single-dequeued-message-runs-to-completion rule (the caller, package
// layoutctl, is responsible for not calling Dispatch again concurrently
// for the same train).
//
// A handler error stops this train (scheduling set to manual, state to
// stopped) and aborts the remaining queue; it never propagates to other
// trains.
func (rt *Runtime) Dispatch(t *topology.Train, ev Event) {
	handlers := automaticHandlers
	if t.Scheduling == topology.SchedulingManual {
		handlers = manualHandlers
	}

	queue := []Event{ev}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, h := range handlers {
			if !h.events[cur.Kind] {
				continue
			}
			produced, err := h.run(rt, t, cur)
			if err != nil {
				rt.fault(t, h.name, err)
				return
			}
			queue = append(queue, produced...)
		}
	}
}

func (rt *Runtime) fault(t *topology.Train, handlerName string, err error) {
	if rt.Log != nil {
		rt.Log.Errorw("train controller handler failed, stopping train", "train", t.Name, "handler", handlerName, "err", err)
	}
	t.Scheduling = topology.SchedulingManual
	t.State = topology.TrainStopped
	t.SpeedRequestedKPH = 0
	rt.commandSpeed(t)
}

func (rt *Runtime) commandSpeed(t *topology.Train) {
	if rt.Bus == nil {
		return
	}
	if err := rt.Bus.Execute(controlbus.SetSpeed(t.LocomotiveAddress, t.SpeedRequestedKPH)); err != nil {
		rt.logf("set-speed command failed for %s: %v", t.Name, err)
	}
}

func (rt *Runtime) pathSettings() pathfinder.Settings {
	limit := rt.PathOverflowLimit
	if limit == 0 {
		limit = 256
	}
	return pathfinder.Settings{OverflowLimit: limit, Log: rt.Log}
}

func (rt *Runtime) currentBlock(t *topology.Train) (*topology.Block, error) {
	if t.BlockID == nil {
		return nil, fmt.Errorf("train %s has no current block", t.Name)
	}
	b, ok := rt.Layout.Block(*t.BlockID)
	if !ok {
		return nil, fmt.Errorf("train %s's block %s does not exist", t.Name, *t.BlockID)
	}
	return b, nil
}
