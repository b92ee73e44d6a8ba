package topology

import "testing"

func TestSingleLeftSockets(t *testing.T) {
	got := SingleLeft.Sockets(0)
	if len(got) != 2 {
		t.Fatalf("expected 2 exits from socket 0, got %#v", got)
	}
	if _, ok := SingleLeft.StateFor(0, 1); !ok {
		t.Fatalf("expected (0,1) to be legal")
	}
	if _, ok := SingleLeft.StateFor(1, 2); ok {
		t.Fatalf("expected (1,2) to be illegal (must pass through common socket)")
	}
}

func TestThreeWaySockets(t *testing.T) {
	got := ThreeWay.Sockets(0)
	want := map[SocketID]bool{1: true, 2: true, 3: true}
	if len(got) != 3 {
		t.Fatalf("expected 3 exits, got %#v", got)
	}
	for _, s := range got {
		if !want[s] {
			t.Fatalf("unexpected exit socket %d", s)
		}
	}
	if _, ok := ThreeWay.StateFor(1, 2); ok {
		t.Fatalf("expected branch-to-branch to be illegal")
	}
}

func TestDoubleSlipCrossing(t *testing.T) {
	if _, ok := DoubleSlip.StateFor(0, 1); !ok {
		t.Fatalf("expected straight pair (0,1) legal")
	}
	if _, ok := DoubleSlip.StateFor(0, 3); !ok {
		t.Fatalf("expected crossing pair (0,3) legal")
	}
	if _, ok := DoubleSlip.StateFor(0, 2); ok {
		t.Fatalf("expected (0,2) illegal: not a declared pair")
	}
	s01, _ := DoubleSlip.StateFor(0, 1)
	s03, _ := DoubleSlip.StateFor(0, 3)
	if s01 == s03 {
		t.Fatalf("straight and crossing routes must require different states")
	}
}

func TestReverseDirection(t *testing.T) {
	if Next.Reverse() != Previous || Previous.Reverse() != Next {
		t.Fatalf("Direction.Reverse is not an involution")
	}
}
