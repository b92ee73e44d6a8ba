package reservation_test

import (
	"testing"

	"github.com/google/uuid"

	"go.shisen.dev/unten/fixtures"
	"go.shisen.dev/unten/reservation"
	"go.shisen.dev/unten/topology"
)

func stepsS1ToS2(tri fixtures.Named) []topology.Step {
	return []topology.Step{
		{BlockID: tri.S1, Direction: topology.Next},
		{BlockID: tri.B1, Direction: topology.Next},
		{BlockID: tri.B2, Direction: topology.Next},
		{BlockID: tri.B3, Direction: topology.Next},
		{BlockID: tri.S2, Direction: topology.Next},
	}
}

func TestReserveLocksBlocksAndTurnouts(t *testing.T) {
	tri := fixtures.Triangle()
	eng := reservation.New(tri.Layout, nil, nil)
	train := uuid.New()
	steps := stepsS1ToS2(tri)

	ok, err := eng.Reserve(train, steps, 0, len(steps)-1, false)
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if !ok {
		t.Fatalf("expected Reserve to succeed on a clear layout")
	}
	for _, id := range []uuid.UUID{tri.S1, tri.B1, tri.B2, tri.B3, tri.S2} {
		b, _ := tri.Layout.Block(id)
		if b.Reservation == nil || b.Reservation.TrainID != train {
			t.Fatalf("block %s not reserved for train", b.Name)
		}
	}
	for _, id := range []uuid.UUID{tri.T1, tri.T2, tri.T3, tri.T4, tri.T7, tri.T8} {
		to, _ := tri.Layout.Turnout(id)
		if to.Reservation == nil || *to.Reservation != train {
			t.Fatalf("turnout %s not reserved for train", to.Name)
		}
	}
	reservedTransitions := 0
	for _, tr := range tri.Layout.Transitions {
		if tr.Reservation == nil {
			continue
		}
		if *tr.Reservation != train {
			t.Fatalf("transition %s reserved for unexpected train %s", tr.ID, *tr.Reservation)
		}
		reservedTransitions++
	}
	if reservedTransitions == 0 {
		t.Fatalf("expected Reserve to also set Transition.Reservation along the chain")
	}
}

func TestReserveConflictLeavesStateUnchanged(t *testing.T) {
	tri := fixtures.Triangle()
	eng := reservation.New(tri.Layout, nil, nil)
	trainA := uuid.New()
	trainB := uuid.New()
	steps := stepsS1ToS2(tri)

	b2, _ := tri.Layout.Block(tri.B2)
	b2.Reservation = &topology.Reservation{TrainID: trainB}

	ok, err := eng.Reserve(trainA, steps, 0, len(steps)-1, false)
	if err != nil {
		t.Fatalf("Reserve: unexpected error %v", err)
	}
	if ok {
		t.Fatalf("expected Reserve to report failure (not an error) when b2 is held by another train")
	}
	s1, _ := tri.Layout.Block(tri.S1)
	if s1.Reservation != nil {
		t.Fatalf("expected s1 to remain unreserved after a failed atomic chain, got %#v", s1.Reservation)
	}
	b1, _ := tri.Layout.Block(tri.B1)
	if b1.Reservation != nil {
		t.Fatalf("expected b1 to remain unreserved after a failed atomic chain, got %#v", b1.Reservation)
	}
	t1, _ := tri.Layout.Turnout(tri.T1)
	if t1.Reservation != nil {
		t.Fatalf("expected t1 to remain unreserved after a failed atomic chain, got %#v", t1.Reservation)
	}
}

func TestReserveLeadingStopsAtConflict(t *testing.T) {
	tri := fixtures.Triangle()
	eng := reservation.New(tri.Layout, nil, nil)
	trainA := uuid.New()
	trainB := uuid.New()
	steps := stepsS1ToS2(tri)

	if ok, err := eng.Reserve(trainA, steps, 0, 0, false); err != nil || !ok {
		t.Fatalf("Reserve s1: ok=%v err=%v", ok, err)
	}
	b2, _ := tri.Layout.Block(tri.B2)
	b2.Reservation = &topology.Reservation{TrainID: trainB}

	last, err := eng.ReserveLeading(trainA, steps, 0, 3)
	if err != nil {
		t.Fatalf("ReserveLeading: %v", err)
	}
	if last != 1 {
		t.Fatalf("expected ReserveLeading to stop at index 1 (b1), got %d", last)
	}
}

func TestFreeTrailingReleasesOldestFirst(t *testing.T) {
	tri := fixtures.Triangle()
	eng := reservation.New(tri.Layout, nil, nil)
	train := uuid.New()
	steps := stepsS1ToS2(tri)
	if ok, err := eng.Reserve(train, steps, 0, len(steps)-1, false); err != nil || !ok {
		t.Fatalf("Reserve: ok=%v err=%v", ok, err)
	}

	released := eng.FreeTrailing(steps[:3], 1)
	if len(released) != 2 || released[0].BlockID != tri.S1 || released[1].BlockID != tri.B1 {
		t.Fatalf("expected s1,b1 released, got %#v", released)
	}
	s1, _ := tri.Layout.Block(tri.S1)
	if s1.Reservation != nil {
		t.Fatalf("expected s1 reservation cleared")
	}
	b2, _ := tri.Layout.Block(tri.B2)
	if b2.Reservation == nil {
		t.Fatalf("expected b2 (kept) to remain reserved")
	}
}

func TestFreeReleasesEverything(t *testing.T) {
	tri := fixtures.Triangle()
	eng := reservation.New(tri.Layout, nil, nil)
	train := uuid.New()
	steps := stepsS1ToS2(tri)
	if ok, err := eng.Reserve(train, steps, 0, len(steps)-1, false); err != nil || !ok {
		t.Fatalf("Reserve: ok=%v err=%v", ok, err)
	}

	eng.Free(train, steps)
	for _, id := range []uuid.UUID{tri.S1, tri.B1, tri.B2, tri.B3, tri.S2} {
		b, _ := tri.Layout.Block(id)
		if b.Reservation != nil {
			t.Fatalf("block %s still reserved after Free", b.Name)
		}
	}
	for _, id := range []uuid.UUID{tri.T1, tri.T2, tri.T3, tri.T4, tri.T7, tri.T8} {
		to, _ := tri.Layout.Turnout(id)
		if to.Reservation != nil {
			t.Fatalf("turnout %s still reserved after Free", to.Name)
		}
	}
	for _, tr := range tri.Layout.Transitions {
		if tr.Reservation != nil {
			t.Fatalf("transition %s still reserved after Free", tr.ID)
		}
	}
}
