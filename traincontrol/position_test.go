package traincontrol_test

import (
	"testing"

	"go.shisen.dev/unten/topology"
	"go.shisen.dev/unten/traincontrol"
)

func TestNewPositionStrictAdvancesOneAtATime(t *testing.T) {
	pos, changed := traincontrol.NewPosition(0, 0, topology.Next, true, 3)
	if !changed || pos != 1 {
		t.Fatalf("expected advance to 1, got pos=%d changed=%v", pos, changed)
	}
	pos, changed = traincontrol.NewPosition(0, 1, topology.Next, true, 3)
	if changed {
		t.Fatalf("expected strict mode to ignore a non-adjacent feedback, got pos=%d changed=%v", pos, changed)
	}
}

func TestNewPositionLenientJumpsAhead(t *testing.T) {
	pos, changed := traincontrol.NewPosition(0, 2, topology.Next, false, 3)
	if !changed || pos != 3 {
		t.Fatalf("expected lenient jump to 3, got pos=%d changed=%v", pos, changed)
	}
	pos, changed = traincontrol.NewPosition(3, 0, topology.Next, false, 3)
	if changed {
		t.Fatalf("expected a feedback behind position to be ignored, got pos=%d changed=%v", pos, changed)
	}
}

func TestNewPositionReverseDirection(t *testing.T) {
	// travelling Previous through a 3-feedback block, raw index 2 is the
	// one closest to the entry side, so it should be "ahead" of 0.
	pos, changed := traincontrol.NewPosition(0, 2, topology.Previous, false, 3)
	if !changed || pos != 1 {
		t.Fatalf("expected lenient jump to 1, got pos=%d changed=%v", pos, changed)
	}
}

func TestEntryFeedbackRawIndex(t *testing.T) {
	if got := traincontrol.EntryFeedbackRawIndex(topology.Next, 3); got != 0 {
		t.Fatalf("expected 0, got %d", got)
	}
	if got := traincontrol.EntryFeedbackRawIndex(topology.Previous, 3); got != 2 {
		t.Fatalf("expected 2, got %d", got)
	}
}
