package diagnostics_test

import (
	"testing"

	"github.com/google/uuid"

	"go.shisen.dev/unten/diagnostics"
	"go.shisen.dev/unten/fixtures"
	"go.shisen.dev/unten/topology"
)

func TestRunFlagsMissingLength(t *testing.T) {
	tri := fixtures.Triangle()
	findings := diagnostics.Run(tri.Layout, nil, nil)
	found := false
	for _, f := range findings {
		if f.Kind == "missing-length" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected missing-length findings for a fixture with no block lengths set, got %#v", findings)
	}
}

func TestRunFlagsDuplicateAddress(t *testing.T) {
	tri := fixtures.Triangle()
	t1, _ := tri.Layout.Turnout(tri.T1)
	t2, _ := tri.Layout.Turnout(tri.T2)
	t1.Addresses = []int{5}
	t2.Addresses = []int{5}

	findings := diagnostics.Run(tri.Layout, nil, nil)
	found := false
	for _, f := range findings {
		if f.Kind == "duplicate-address" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a duplicate-address finding, got %#v", findings)
	}
}

func TestRunFlagsMissingTrainLength(t *testing.T) {
	train := &topology.Train{ID: uuid.New(), Name: "t1"}
	trains := map[uuid.UUID]*topology.Train{train.ID: train}
	findings := diagnostics.Run(nil, trains, map[uuid.UUID]*topology.Formation{})
	found := false
	for _, f := range findings {
		if f.Kind == "missing-train-length" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a missing-train-length finding, got %#v", findings)
	}
}

func TestRepairDropsSelfLoopAndDanglingReferences(t *testing.T) {
	tri := fixtures.Triangle()
	s1, _ := tri.Layout.Block(tri.S1)
	s1.Occupant = &topology.TrainInstance{TrainID: uuid.New()}

	selfLoop := &topology.Transition{
		ID: uuid.New(),
		A:  topology.Endpoint{ElementID: tri.T1, Socket: 0},
		B:  topology.Endpoint{ElementID: tri.T1, Socket: 0},
	}
	before := len(tri.Layout.Transitions)
	tri.Layout.Transitions = append(tri.Layout.Transitions, selfLoop)

	findings := diagnostics.Repair(tri.Layout, map[uuid.UUID]*topology.Train{})

	if len(tri.Layout.Transitions) != before {
		t.Fatalf("expected the self-loop transition to be dropped, got %d transitions (started at %d)", len(tri.Layout.Transitions), before)
	}
	if s1.Occupant != nil {
		t.Fatalf("expected s1's dangling occupant to be cleared")
	}
	if len(findings) < 2 {
		t.Fatalf("expected at least 2 repair findings, got %#v", findings)
	}
}
