// Package layoutctl implements the outer runtime loop: the single
// goroutine that drains feedback from the control bus, station-restart
// timer firings, and operator commands, and fans each one out to
// package traincontrol. Grounded in sakayukari/tal/main.go's
// guide.loop()/guide.single() shape (range over one input channel,
// one goroutine, no locking needed on the layout or train state while
// a message is being handled) generalized from one hardwired guide to
// an explicit message-kind switch, and sakayukari/runtime/main.go's
// Instance.Diffuse for the "external inputs enqueue, a single consumer
// drains" discipline.
package layoutctl

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"go.shisen.dev/unten/controlbus"
	"go.shisen.dev/unten/notify"
	"go.shisen.dev/unten/topology"
	"go.shisen.dev/unten/traincontrol"
)

// Snapshot is the lightweight change notification pushed to
// subscribers (webapi's SSE stream, console's TUI) after every
// processed message. It names what to re-read rather than carrying
// the full layout, since both consumers already hold a *topology.Layout
// reference.
type Snapshot struct {
	Reason  string
	TrainID uuid.UUID
}

type message struct {
	kind        messageKind
	busEvent    controlbus.Event
	trainID     uuid.UUID
	scheduling  topology.SchedulingMode
	stopTrigger topology.StopTriggerKind
}

type messageKind int

const (
	msgBusEvent messageKind = iota
	msgRestartTimerFired
	msgSetScheduling
	msgRequestStop
)

// Controller owns every mutable train in the layout and is the only
// goroutine that touches them or the layout's reservation/occupancy
// fields while running.
type Controller struct {
	Layout  *topology.Layout
	Runtime *traincontrol.Runtime
	Bus     controlbus.CommandInterface
	Log     *zap.SugaredLogger
	Changes *notify.Multiplexer[Snapshot]

	Trains map[uuid.UUID]*topology.Train

	inbound chan message
	timers  map[uuid.UUID]*time.Timer
}

func NewController(y *topology.Layout, rt *traincontrol.Runtime, bus controlbus.CommandInterface, log *zap.SugaredLogger) *Controller {
	c := &Controller{
		Layout:  y,
		Runtime: rt,
		Bus:     bus,
		Log:     log,
		Changes: notify.NewMultiplexer[Snapshot]("layoutctl", log),
		Trains:  make(map[uuid.UUID]*topology.Train),
		inbound: make(chan message, 64),
		timers:  make(map[uuid.UUID]*time.Timer),
	}
	rt.Timers = c
	return c
}

// AddTrain registers t with the controller and the runtime's route
// table entry must already exist in rt.Routes under t.RouteID.
func (c *Controller) AddTrain(t *topology.Train) {
	c.Trains[t.ID] = t
}

// Run drains inbound messages until ctx is cancelled. It registers
// itself against Bus so control-bus feedback becomes inbound messages;
// the bus's own reader goroutine only ever enqueues, never mutates
// layout state directly.
func (c *Controller) Run(ctx context.Context) error {
	if c.Bus != nil {
		c.Bus.Register(func(ev controlbus.Event) { c.InjectBusEvent(ev) })
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-c.inbound:
			c.handle(msg)
		}
	}
}

// InjectBusEvent enqueues a control-bus feedback event for processing
// by Run's goroutine. This is what a real Bus's reader goroutine calls
// through Register, and what a simulator (in place of a real Bus)
// calls directly to drive the same feedback path without any hardware.
func (c *Controller) InjectBusEvent(ev controlbus.Event) {
	c.inbound <- message{kind: msgBusEvent, busEvent: ev}
}

func (c *Controller) handle(msg message) {
	switch msg.kind {
	case msgBusEvent:
		c.handleBusEvent(msg.busEvent)
	case msgRestartTimerFired:
		delete(c.timers, msg.trainID)
		if t, ok := c.Trains[msg.trainID]; ok {
			c.Runtime.Dispatch(t, traincontrol.Event{Kind: traincontrol.RestartTimerFired, TrainID: t.ID})
			c.Changes.Send(Snapshot{Reason: "restartTimerFired", TrainID: t.ID})
		}
	case msgSetScheduling:
		if t, ok := c.Trains[msg.trainID]; ok {
			t.Scheduling = msg.scheduling
			c.Runtime.Dispatch(t, traincontrol.Event{Kind: traincontrol.SchedulingChanged, TrainID: t.ID})
			c.Changes.Send(Snapshot{Reason: "schedulingChanged", TrainID: t.ID})
		}
	case msgRequestStop:
		if t, ok := c.Trains[msg.trainID]; ok {
			t.StopTrigger = topology.StopTrigger{Kind: msg.stopTrigger}
			if msg.stopTrigger == topology.StopCompletely {
				c.Cancel(t.ID)
				t.RestartTimerActive = false
			}
			c.Changes.Send(Snapshot{Reason: "stopRequested", TrainID: t.ID})
		}
	}
}

// handleBusEvent maps a raw device/contact feedback transition onto
// the feedback it belongs to and dispatches FeedbackTriggered to every
// train it's relevant to: the train occupying the owning block, any
// train whose planned next step names that block, and any manual-mode
// train that has a BlockID and no next route step.
func (c *Controller) handleBusEvent(ev controlbus.Event) {
	fb := c.findFeedback(ev.FeedbackDeviceID, ev.FeedbackContact)
	if fb == nil {
		if c.Log != nil {
			c.Log.Warnw("feedback event for unknown device/contact", "device", ev.FeedbackDeviceID, "contact", ev.FeedbackContact)
		}
		return
	}
	fb.Detected = ev.Detected
	if !ev.Detected {
		return // only rising edges drive the state machine
	}

	block := c.blockOwning(fb.ID)
	if block == nil {
		return
	}
	for _, t := range c.relevantTrains(block) {
		c.Runtime.Dispatch(t, traincontrol.Event{Kind: traincontrol.FeedbackTriggered, TrainID: t.ID, FeedbackID: fb.ID})
	}
	c.Changes.Send(Snapshot{Reason: "feedbackTriggered"})
}

func (c *Controller) findFeedback(deviceID, contactID string) *topology.Feedback {
	for _, fb := range c.Layout.Feedbacks {
		if fb.DeviceID == deviceID && fb.ContactID == contactID {
			return fb
		}
	}
	return nil
}

func (c *Controller) blockOwning(feedbackID uuid.UUID) *topology.Block {
	for _, b := range c.Layout.Blocks {
		for _, f := range b.Feedbacks {
			if f == feedbackID {
				return b
			}
		}
	}
	return nil
}

func (c *Controller) relevantTrains(block *topology.Block) []*topology.Train {
	out := make([]*topology.Train, 0, 2)
	if block.Occupant != nil {
		if t, ok := c.Trains[block.Occupant.TrainID]; ok {
			out = append(out, t)
		}
	}
	for _, t := range c.Trains {
		if block.Occupant != nil && t.ID == block.Occupant.TrainID {
			continue
		}
		if route, ok := c.Runtime.RouteOf(t); ok && t.RouteStepIndex+1 < len(route.Steps) {
			if route.Steps[t.RouteStepIndex+1].BlockID == block.ID {
				out = append(out, t)
			}
		} else if t.Scheduling == topology.SchedulingManual && t.BlockID != nil {
			out = append(out, t) // ManualMoveToNextBlock decides relevance itself
		}
	}
	return out
}

// Arm implements traincontrol.RestartTimers.
func (c *Controller) Arm(trainID uuid.UUID, delaySeconds float64) {
	c.Cancel(trainID)
	c.timers[trainID] = time.AfterFunc(time.Duration(delaySeconds*float64(time.Second)), func() {
		c.inbound <- message{kind: msgRestartTimerFired, trainID: trainID}
	})
}

// Cancel implements traincontrol.RestartTimers.
func (c *Controller) Cancel(trainID uuid.UUID) {
	if timer, ok := c.timers[trainID]; ok {
		timer.Stop()
		delete(c.timers, trainID)
	}
}

// Start, Stop, and Finish are the operator-facing commands webapi and
// console issue. They enqueue rather than mutate directly, so they're
// safe to call from any goroutine.

func (c *Controller) Start(trainID uuid.UUID) error {
	if _, ok := c.Trains[trainID]; !ok {
		return fmt.Errorf("layoutctl: unknown train %s", trainID)
	}
	c.inbound <- message{kind: msgSetScheduling, trainID: trainID, scheduling: topology.SchedulingAutomaticRunning}
	return nil
}

func (c *Controller) Finish(trainID uuid.UUID) error {
	if _, ok := c.Trains[trainID]; !ok {
		return fmt.Errorf("layoutctl: unknown train %s", trainID)
	}
	c.inbound <- message{kind: msgSetScheduling, trainID: trainID, scheduling: topology.SchedulingAutomaticFinishing}
	return nil
}

func (c *Controller) Stop(trainID uuid.UUID) error {
	if _, ok := c.Trains[trainID]; !ok {
		return fmt.Errorf("layoutctl: unknown train %s", trainID)
	}
	c.inbound <- message{kind: msgRequestStop, trainID: trainID, stopTrigger: topology.StopCompletely}
	return nil
}
