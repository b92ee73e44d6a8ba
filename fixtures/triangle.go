// Package fixtures builds small, hand-wired topology.Layout instances
// for use by package tests, the same way the teacher's
// tal/layout/hardcode.go ships InitTestbenchN helpers consumed from
// test files and cmd/ programs.
package fixtures

import (
	"github.com/google/uuid"

	"go.shisen.dev/unten/topology"
)

// Triangle builds the five-block loop used by the seed scenarios (spec
// §8 S1-S4): stations s1 and s2 joined by free blocks b1, b2, b3, with
// eight turnouts. Two of the turnouts (t5, t6) let an automatic route
// loop from s2 back around to s1 without reversing, and the other four
// (t1-t4) sit between the intermediate blocks so SpeedLimitEvent and
// reservation tests have something to exercise. T7 and t8 branch off
// the b1-b2 and b2-b3 legs into b5, a bypass block that lets a route
// reach b3 from b1 without ever reserving b2 (seed scenario S2).
type Named struct {
	Layout *topology.Layout
	S1, B1, B2, B3, B5, S2 uuid.UUID
	T1, T2, T3, T4, T5, T6, T7, T8 uuid.UUID
}

func Triangle() Named {
	s1 := uuid.New()
	b1 := uuid.New()
	b2 := uuid.New()
	b3 := uuid.New()
	b5 := uuid.New()
	s2 := uuid.New()
	t1 := uuid.New()
	t2 := uuid.New()
	t3 := uuid.New()
	t4 := uuid.New()
	t5 := uuid.New()
	t6 := uuid.New()
	t7 := uuid.New()
	t8 := uuid.New()

	mkBlock := func(id uuid.UUID, name string, cat topology.BlockCategory, nFeedbacks int) *topology.Block {
		fbs := make([]uuid.UUID, nFeedbacks)
		for i := range fbs {
			fbs[i] = uuid.New()
		}
		return &topology.Block{
			ID:        id,
			Name:      name,
			Category:  cat,
			Enabled:   true,
			Feedbacks: fbs,
			BrakeFeedback: [2]int{1, maxInt(nFeedbacks-2, 0)},
			StopFeedback:  [2]int{0, maxInt(nFeedbacks-1, 0)},
		}
	}
	mkTurnout := func(id uuid.UUID, name string, cat topology.TurnoutCategory) *topology.Turnout {
		return &topology.Turnout{ID: id, Name: name, Category: cat}
	}

	blocks := []*topology.Block{
		mkBlock(s1, "s1", topology.BlockStation, 3),
		mkBlock(b1, "b1", topology.BlockFree, 2),
		mkBlock(b2, "b2", topology.BlockFree, 2),
		mkBlock(b3, "b3", topology.BlockFree, 2),
		mkBlock(b5, "b5", topology.BlockFree, 2),
		mkBlock(s2, "s2", topology.BlockStation, 3),
	}
	feedbacks := make([]*topology.Feedback, 0, 12)
	for _, b := range blocks {
		for _, fid := range b.Feedbacks {
			feedbacks = append(feedbacks, &topology.Feedback{ID: fid, DeviceID: "fixture", ContactID: fid.String()})
		}
	}
	turnouts := []*topology.Turnout{
		mkTurnout(t1, "t1", topology.SingleRight),
		mkTurnout(t2, "t2", topology.SingleRight),
		mkTurnout(t3, "t3", topology.SingleRight),
		mkTurnout(t4, "t4", topology.SingleRight),
		mkTurnout(t5, "t5", topology.SingleRight),
		mkTurnout(t6, "t6", topology.SingleRight),
		mkTurnout(t7, "t7", topology.SingleRight),
		mkTurnout(t8, "t8", topology.SingleRight),
	}

	link := func(id uuid.UUID, a, b topology.Endpoint) *topology.Transition {
		return &topology.Transition{ID: id, A: a, B: b}
	}
	ep := func(elem uuid.UUID, socket topology.SocketID) topology.Endpoint {
		return topology.Endpoint{ElementID: elem, Socket: socket}
	}

	transitions := []*topology.Transition{
		// s1 -> t1 -> b1 -> t7 -> t2 -> b2 -> t3 -> t8 -> b3 -> t4 -> s2
		link(uuid.New(), ep(s1, topology.SocketNext), ep(t1, 0)),
		link(uuid.New(), ep(t1, 1), ep(b1, topology.SocketPrevious)),
		link(uuid.New(), ep(b1, topology.SocketNext), ep(t7, 0)),
		link(uuid.New(), ep(t7, 1), ep(t2, 0)),
		link(uuid.New(), ep(t2, 1), ep(b2, topology.SocketPrevious)),
		link(uuid.New(), ep(b2, topology.SocketNext), ep(t3, 0)),
		link(uuid.New(), ep(t3, 1), ep(t8, 1)),
		link(uuid.New(), ep(t8, 0), ep(b3, topology.SocketPrevious)),
		link(uuid.New(), ep(b3, topology.SocketNext), ep(t4, 0)),
		link(uuid.New(), ep(t4, 1), ep(s2, topology.SocketPrevious)),
		// loop back: s2 -> t5 -> t6 -> s1 (lets automatic routes continue)
		link(uuid.New(), ep(s2, topology.SocketNext), ep(t5, 0)),
		link(uuid.New(), ep(t5, 1), ep(t6, 0)),
		link(uuid.New(), ep(t6, 1), ep(s1, topology.SocketPrevious)),
		// branch sidings off t1/t4 so avoidReserved tests have an
		// alternative route around b1/b3.
		link(uuid.New(), ep(t1, 2), ep(t2, 2)),
		link(uuid.New(), ep(t3, 2), ep(t4, 2)),
		// b5 bypasses b2 entirely: b1 -> t7(branch) -> b5 -> t8(branch) -> b3.
		link(uuid.New(), ep(t7, 2), ep(b5, topology.SocketPrevious)),
		link(uuid.New(), ep(b5, topology.SocketNext), ep(t8, 2)),
	}

	y := topology.NewLayout(blocks, turnouts, feedbacks, transitions)
	return Named{
		Layout: y,
		S1: s1, B1: b1, B2: b2, B3: b3, B5: b5, S2: s2,
		T1: t1, T2: t2, T3: t3, T4: t4, T5: t5, T6: t6, T7: t7, T8: t8,
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
