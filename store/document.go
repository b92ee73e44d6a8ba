// Package store implements the JSON document shape and its buntdb-backed
// persistence. Grounded in sakayukari/config/main.go's Config JSON shape
// (Lines, RFIDs, Cars) generalized into Document (blocks, turnouts,
// feedbacks, transitions, trains, routes, geometry, scripts), and
// sakayukari/tal/model2.go's readDB/writeDB-over-buntdb shape,
// generalized from per-formation calibration blobs to the whole
// document plus a small "train last seen at block" index.
package store

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"go.shisen.dev/unten/topology"
)

// Document is the complete, lossless JSON representation of a layout:
// everything ImportLayout/ExportLayout round-trips. Positions and
// reservations are part of the round trip (so an operator can inspect
// what was running when the document was last saved) but the runtime
// never trusts them at startup — see Store.Load's doc comment.
type Document struct {
	Blocks      []BlockDoc      `json:"blocks"`
	Turnouts    []TurnoutDoc    `json:"turnouts"`
	Feedbacks   []FeedbackDoc   `json:"feedbacks"`
	Transitions []TransitionDoc `json:"transitions"`
	Trains      []TrainDoc      `json:"trains"`
	Routes      []RouteDoc      `json:"routes"`
	Formations  []FormationDoc  `json:"formations"`

	// Geometry is display-only (switchboard editor layout), out of
	// scope to interpret but carried losslessly.
	Geometry []GeometryDoc `json:"geometry,omitempty"`

	// Scripts is the script-driven-automation collection. Execution is
	// out of scope; entries are kept as opaque JSON so a document that
	// has them survives a load/save cycle unchanged.
	Scripts []json.RawMessage `json:"scripts,omitempty"`
}

type BlockDoc struct {
	ID                uuid.UUID    `json:"id"`
	Name              string       `json:"name"`
	Category          string       `json:"category"`
	Enabled           bool         `json:"enabled"`
	Feedbacks         []uuid.UUID  `json:"feedbacks"`
	Length            *int64       `json:"length,omitempty"`
	FeedbackDistances []int64      `json:"feedback_distances,omitempty"`
	BrakeFeedback     [2]int       `json:"brake_feedback"`
	StopFeedback      [2]int       `json:"stop_feedback"`
	WaitingTimeMillis *int64       `json:"waiting_time_ms,omitempty"`
	Reservation       *Reservation `json:"reservation,omitempty"`
	Occupant          *Occupant    `json:"occupant,omitempty"`
}

type Reservation struct {
	TrainID   uuid.UUID `json:"train_id"`
	Direction string    `json:"direction"`
	Leading   bool      `json:"leading"`
}

type Occupant struct {
	TrainID   uuid.UUID `json:"train_id"`
	Direction string    `json:"direction"`
}

type TurnoutDoc struct {
	ID            uuid.UUID  `json:"id"`
	Name          string     `json:"name"`
	Category      string     `json:"category"`
	Addresses     []int      `json:"addresses"`
	State         int        `json:"state"`
	Length        *int64     `json:"length,omitempty"`
	Reservation   *uuid.UUID `json:"reservation,omitempty"`
	SpeedLimitKPH int        `json:"speed_limit_kph,omitempty"`
}

type FeedbackDoc struct {
	ID        uuid.UUID `json:"id"`
	DeviceID  string    `json:"device_id"`
	ContactID string    `json:"contact_id"`
	Detected  bool      `json:"detected"`
}

type EndpointDoc struct {
	ElementID uuid.UUID `json:"element_id"`
	Socket    int       `json:"socket"`
}

type TransitionDoc struct {
	ID          uuid.UUID   `json:"id"`
	A           EndpointDoc `json:"a"`
	B           EndpointDoc `json:"b"`
	Reservation *uuid.UUID  `json:"reservation,omitempty"`
}

type StepDoc struct {
	BlockID   uuid.UUID `json:"block_id"`
	Direction string    `json:"direction"`
}

type RouteDoc struct {
	ID              uuid.UUID  `json:"id"`
	Mode            string     `json:"mode"`
	Steps           []StepDoc  `json:"steps"`
	Destination     *StepDoc   `json:"destination,omitempty"`
	StepWaitingMS   []*int64   `json:"step_waiting_ms,omitempty"`
	Enabled         bool       `json:"enabled"`
}

type TrainDoc struct {
	ID                       uuid.UUID  `json:"id"`
	Name                     string     `json:"name"`
	LocomotiveAddress        int        `json:"locomotive_address"`
	DecoderFamily            string     `json:"decoder_family"`
	BodyDirectionBack        bool       `json:"body_direction_back"`
	FormationID              uuid.UUID  `json:"formation_id"`
	BlockID                  *uuid.UUID `json:"block_id,omitempty"`
	Position                 int        `json:"position"`
	RouteID                  uuid.UUID  `json:"route_id"`
	RouteStepIndex           int        `json:"route_step_index"`
	StartRouteIndex          int        `json:"start_route_index"`
	Scheduling               string     `json:"scheduling"`
	State                    string     `json:"state"`
	StopTriggerKind          string     `json:"stop_trigger_kind"`
	StopTriggerDelayMS       int64      `json:"stop_trigger_delay_ms,omitempty"`
	MaxLeadingReservedBlocks int        `json:"max_leading_reserved_blocks"`
	TrailingReservedSteps    int        `json:"trailing_reserved_steps"`
	TrailingSteps            []StepDoc  `json:"trailing_steps,omitempty"`
	SpeedCurrentKPH          int        `json:"speed_current_kph"`
	SpeedRequestedKPH        int        `json:"speed_requested_kph"`
	SpeedMaxKPH              int        `json:"speed_max_kph"`
	StrictFeedbackMode       bool       `json:"strict_feedback_mode"`
	RestartTimerActive       bool       `json:"restart_timer_active"`
	PushingWagons            bool       `json:"pushing_wagons"`
}

type FormationDoc struct {
	ID     uuid.UUID `json:"id"`
	Name   string    `json:"name"`
	Length int64     `json:"length_um"`
}

// GeometryDoc is one element's display position on the (out-of-scope)
// switchboard editor canvas; carried opaquely beyond X/Y/Rotation since
// we never render it ourselves.
type GeometryDoc struct {
	ElementID uuid.UUID       `json:"element_id"`
	X         float64         `json:"x"`
	Y         float64         `json:"y"`
	Rotation  float64         `json:"rotation,omitempty"`
	Extra     json.RawMessage `json:"extra,omitempty"`
}

func durationPtr(ms *int64) *time.Duration {
	if ms == nil {
		return nil
	}
	d := time.Duration(*ms) * time.Millisecond
	return &d
}

func msPtr(d *time.Duration) *int64 {
	if d == nil {
		return nil
	}
	ms := int64(*d / time.Millisecond)
	return &ms
}

func directionString(d topology.Direction) string {
	if d == topology.Next {
		return "next"
	}
	return "previous"
}

func parseDirection(s string) topology.Direction {
	if s == "next" {
		return topology.Next
	}
	return topology.Previous
}

var blockCategoryNames = map[topology.BlockCategory]string{
	topology.BlockFree:          "free",
	topology.BlockStation:       "station",
	topology.BlockSidingPrevious: "siding_previous",
	topology.BlockSidingNext:    "siding_next",
}

var blockCategoryValues = map[string]topology.BlockCategory{
	"free":            topology.BlockFree,
	"station":         topology.BlockStation,
	"siding_previous": topology.BlockSidingPrevious,
	"siding_next":     topology.BlockSidingNext,
}

var turnoutCategoryNames = map[topology.TurnoutCategory]string{
	topology.SingleLeft:   "single_left",
	topology.SingleRight:  "single_right",
	topology.ThreeWay:     "three_way",
	topology.DoubleSlip:   "double_slip",
	topology.DoubleSlip2:  "double_slip_2",
}

var turnoutCategoryValues = map[string]topology.TurnoutCategory{
	"single_left":   topology.SingleLeft,
	"single_right":  topology.SingleRight,
	"three_way":     topology.ThreeWay,
	"double_slip":   topology.DoubleSlip,
	"double_slip_2": topology.DoubleSlip2,
}

var routeModeNames = map[topology.RouteMode]string{
	topology.RouteFixed:         "fixed",
	topology.RouteAutomaticOnce: "automatic_once",
	topology.RouteAutomatic:     "automatic",
}

var routeModeValues = map[string]topology.RouteMode{
	"fixed":          topology.RouteFixed,
	"automatic_once": topology.RouteAutomaticOnce,
	"automatic":      topology.RouteAutomatic,
}

var schedulingNames = map[topology.SchedulingMode]string{
	topology.SchedulingManual:            "manual",
	topology.SchedulingAutomaticRunning:  "automatic_running",
	topology.SchedulingAutomaticFinishing: "automatic_finishing",
	topology.SchedulingStopped:           "stopped",
}

var schedulingValues = map[string]topology.SchedulingMode{
	"manual":              topology.SchedulingManual,
	"automatic_running":   topology.SchedulingAutomaticRunning,
	"automatic_finishing": topology.SchedulingAutomaticFinishing,
	"stopped":             topology.SchedulingStopped,
}

var trainStateNames = map[topology.TrainState]string{
	topology.TrainStopped:  "stopped",
	topology.TrainRunning:  "running",
	topology.TrainBraking:  "braking",
	topology.TrainStopping: "stopping",
}

var trainStateValues = map[string]topology.TrainState{
	"stopped":  topology.TrainStopped,
	"running":  topology.TrainRunning,
	"braking":  topology.TrainBraking,
	"stopping": topology.TrainStopping,
}

var stopTriggerNames = map[topology.StopTriggerKind]string{
	topology.StopNone:        "none",
	topology.StopCompletely:  "completely",
	topology.StopAndRestart:  "and_restart",
	topology.StopTemporarily: "temporarily",
}

var stopTriggerValues = map[string]topology.StopTriggerKind{
	"none":        topology.StopNone,
	"completely":  topology.StopCompletely,
	"and_restart": topology.StopAndRestart,
	"temporarily": topology.StopTemporarily,
}

func stepToDoc(s topology.Step) StepDoc {
	return StepDoc{BlockID: s.BlockID, Direction: directionString(s.Direction)}
}

func stepFromDoc(d StepDoc) topology.Step {
	return topology.Step{BlockID: d.BlockID, Direction: parseDirection(d.Direction)}
}

// ExportLayout converts the live layout plus train/route/formation
// tables into a Document. Positions, occupants, and reservations are
// included for operator inspection; ImportLayout restores them as-is,
// and Store.Load clears them after import (see buntdb.go).
func ExportLayout(y *topology.Layout, trains map[uuid.UUID]*topology.Train, routes map[uuid.UUID]*topology.Route, formations map[uuid.UUID]*topology.Formation) *Document {
	doc := &Document{}

	for _, b := range y.Blocks {
		bd := BlockDoc{
			ID:                b.ID,
			Name:              b.Name,
			Category:          blockCategoryNames[b.Category],
			Enabled:           b.Enabled,
			Feedbacks:         b.Feedbacks,
			Length:            b.Length,
			FeedbackDistances: b.FeedbackDistances,
			BrakeFeedback:     b.BrakeFeedback,
			StopFeedback:      b.StopFeedback,
			WaitingTimeMillis: msPtr(b.WaitingTime),
		}
		if b.Reservation != nil {
			bd.Reservation = &Reservation{TrainID: b.Reservation.TrainID, Direction: directionString(b.Reservation.Direction), Leading: b.Reservation.Leading}
		}
		if b.Occupant != nil {
			bd.Occupant = &Occupant{TrainID: b.Occupant.TrainID, Direction: directionString(b.Occupant.Direction)}
		}
		doc.Blocks = append(doc.Blocks, bd)
	}

	for _, to := range y.Turnouts {
		doc.Turnouts = append(doc.Turnouts, TurnoutDoc{
			ID:            to.ID,
			Name:          to.Name,
			Category:      turnoutCategoryNames[to.Category],
			Addresses:     to.Addresses,
			State:         int(to.State),
			Length:        to.Length,
			Reservation:   to.Reservation,
			SpeedLimitKPH: to.SpeedLimitKPH,
		})
	}

	for _, fb := range y.Feedbacks {
		doc.Feedbacks = append(doc.Feedbacks, FeedbackDoc{ID: fb.ID, DeviceID: fb.DeviceID, ContactID: fb.ContactID, Detected: fb.Detected})
	}

	for _, tr := range y.Transitions {
		doc.Transitions = append(doc.Transitions, TransitionDoc{
			ID:          tr.ID,
			A:           EndpointDoc{ElementID: tr.A.ElementID, Socket: int(tr.A.Socket)},
			B:           EndpointDoc{ElementID: tr.B.ElementID, Socket: int(tr.B.Socket)},
			Reservation: tr.Reservation,
		})
	}

	for _, f := range formations {
		doc.Formations = append(doc.Formations, FormationDoc{ID: f.ID, Name: f.Name, Length: f.Length})
	}

	for _, r := range routes {
		rd := RouteDoc{ID: r.ID, Mode: routeModeNames[r.Mode], Enabled: r.Enabled}
		for _, s := range r.Steps {
			rd.Steps = append(rd.Steps, stepToDoc(s))
		}
		if r.Destination != nil {
			dest := stepToDoc(*r.Destination)
			rd.Destination = &dest
		}
		for _, w := range r.StepWaitingTime {
			rd.StepWaitingMS = append(rd.StepWaitingMS, msPtr(w))
		}
		doc.Routes = append(doc.Routes, rd)
	}

	for _, t := range trains {
		td := TrainDoc{
			ID:                       t.ID,
			Name:                     t.Name,
			LocomotiveAddress:        t.LocomotiveAddress,
			DecoderFamily:            t.DecoderFamily,
			BodyDirectionBack:        t.BodyDirectionBack,
			FormationID:              t.FormationID,
			BlockID:                  t.BlockID,
			Position:                 t.Position,
			RouteID:                  t.RouteID,
			RouteStepIndex:           t.RouteStepIndex,
			StartRouteIndex:          t.StartRouteIndex,
			Scheduling:               schedulingNames[t.Scheduling],
			State:                    trainStateNames[t.State],
			StopTriggerKind:          stopTriggerNames[t.StopTrigger.Kind],
			StopTriggerDelayMS:       int64(t.StopTrigger.Delay / time.Millisecond),
			MaxLeadingReservedBlocks: t.MaxLeadingReservedBlocks,
			TrailingReservedSteps:    t.TrailingReservedSteps,
			SpeedCurrentKPH:          t.SpeedCurrentKPH,
			SpeedRequestedKPH:        t.SpeedRequestedKPH,
			SpeedMaxKPH:              t.SpeedMaxKPH,
			StrictFeedbackMode:       t.StrictFeedbackMode,
			RestartTimerActive:       t.RestartTimerActive,
			PushingWagons:            t.PushingWagons,
		}
		for _, s := range t.TrailingSteps {
			td.TrailingSteps = append(td.TrailingSteps, stepToDoc(s))
		}
		doc.Trains = append(doc.Trains, td)
	}

	return doc
}

// ImportLayout rebuilds a *topology.Layout plus train/route/formation
// tables from doc. Re-exporting the result reproduces doc's blocks,
// turnouts, feedbacks, transitions, trains, routes and formations;
// doc.Geometry and doc.Scripts are not read here and ExportLayout
// leaves them empty. It does NOT clear positions/reservations itself; callers needing the
// startup untrust policy use Store.Load, which calls this and then
// strips the fields the operator must reconfirm.
func ImportLayout(doc *Document) (*topology.Layout, map[uuid.UUID]*topology.Train, map[uuid.UUID]*topology.Route, map[uuid.UUID]*topology.Formation) {
	var blocks []*topology.Block
	var turnouts []*topology.Turnout
	var feedbacks []*topology.Feedback
	var transitions []*topology.Transition

	for _, bd := range doc.Blocks {
		b := &topology.Block{
			ID:                bd.ID,
			Name:              bd.Name,
			Category:          blockCategoryValues[bd.Category],
			Enabled:           bd.Enabled,
			Feedbacks:         bd.Feedbacks,
			Length:            bd.Length,
			FeedbackDistances: bd.FeedbackDistances,
			BrakeFeedback:     bd.BrakeFeedback,
			StopFeedback:      bd.StopFeedback,
			WaitingTime:       durationPtr(bd.WaitingTimeMillis),
		}
		if bd.Reservation != nil {
			b.Reservation = &topology.Reservation{TrainID: bd.Reservation.TrainID, Direction: parseDirection(bd.Reservation.Direction), Leading: bd.Reservation.Leading}
		}
		if bd.Occupant != nil {
			b.Occupant = &topology.TrainInstance{TrainID: bd.Occupant.TrainID, Direction: parseDirection(bd.Occupant.Direction)}
		}
		blocks = append(blocks, b)
	}

	for _, td := range doc.Turnouts {
		turnouts = append(turnouts, &topology.Turnout{
			ID:            td.ID,
			Name:          td.Name,
			Category:      turnoutCategoryValues[td.Category],
			Addresses:     td.Addresses,
			State:         topology.TurnoutState(td.State),
			Length:        td.Length,
			Reservation:   td.Reservation,
			SpeedLimitKPH: td.SpeedLimitKPH,
		})
	}

	for _, fd := range doc.Feedbacks {
		feedbacks = append(feedbacks, &topology.Feedback{ID: fd.ID, DeviceID: fd.DeviceID, ContactID: fd.ContactID, Detected: fd.Detected})
	}

	for _, trd := range doc.Transitions {
		transitions = append(transitions, &topology.Transition{
			ID:          trd.ID,
			A:           topology.Endpoint{ElementID: trd.A.ElementID, Socket: topology.SocketID(trd.A.Socket)},
			B:           topology.Endpoint{ElementID: trd.B.ElementID, Socket: topology.SocketID(trd.B.Socket)},
			Reservation: trd.Reservation,
		})
	}

	y := topology.NewLayout(blocks, turnouts, feedbacks, transitions)

	formations := make(map[uuid.UUID]*topology.Formation)
	for _, fd := range doc.Formations {
		formations[fd.ID] = &topology.Formation{ID: fd.ID, Name: fd.Name, Length: fd.Length}
	}

	routes := make(map[uuid.UUID]*topology.Route)
	for _, rd := range doc.Routes {
		r := &topology.Route{ID: rd.ID, Mode: routeModeValues[rd.Mode], Enabled: rd.Enabled}
		for _, sd := range rd.Steps {
			r.Steps = append(r.Steps, stepFromDoc(sd))
		}
		if rd.Destination != nil {
			dest := stepFromDoc(*rd.Destination)
			r.Destination = &dest
		}
		for _, ms := range rd.StepWaitingMS {
			r.StepWaitingTime = append(r.StepWaitingTime, durationPtr(ms))
		}
		routes[r.ID] = r
	}

	trains := make(map[uuid.UUID]*topology.Train)
	for _, td := range doc.Trains {
		t := &topology.Train{
			ID:                       td.ID,
			Name:                     td.Name,
			LocomotiveAddress:        td.LocomotiveAddress,
			DecoderFamily:            td.DecoderFamily,
			BodyDirectionBack:        td.BodyDirectionBack,
			FormationID:              td.FormationID,
			BlockID:                  td.BlockID,
			Position:                 td.Position,
			RouteID:                  td.RouteID,
			RouteStepIndex:           td.RouteStepIndex,
			StartRouteIndex:          td.StartRouteIndex,
			Scheduling:               schedulingValues[td.Scheduling],
			State:                    trainStateValues[td.State],
			StopTrigger:              topology.StopTrigger{Kind: stopTriggerValues[td.StopTriggerKind], Delay: time.Duration(td.StopTriggerDelayMS) * time.Millisecond},
			MaxLeadingReservedBlocks: td.MaxLeadingReservedBlocks,
			TrailingReservedSteps:    td.TrailingReservedSteps,
			SpeedCurrentKPH:          td.SpeedCurrentKPH,
			SpeedRequestedKPH:        td.SpeedRequestedKPH,
			SpeedMaxKPH:              td.SpeedMaxKPH,
			StrictFeedbackMode:       td.StrictFeedbackMode,
			RestartTimerActive:       td.RestartTimerActive,
			PushingWagons:            td.PushingWagons,
		}
		for _, sd := range td.TrailingSteps {
			t.TrailingSteps = append(t.TrailingSteps, stepFromDoc(sd))
		}
		trains[t.ID] = t
	}

	return y, trains, routes, formations
}
