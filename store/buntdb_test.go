package store_test

import (
	"testing"

	"github.com/google/uuid"

	"go.shisen.dev/unten/fixtures"
	"go.shisen.dev/unten/store"
	"go.shisen.dev/unten/topology"
)

func openMemStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(":memory:", nil)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveLoadRoundTrip(t *testing.T) {
	tri := fixtures.Triangle()
	train := &topology.Train{ID: uuid.New(), Name: "t1", BlockID: &tri.B1, SpeedMaxKPH: 50}
	trains := map[uuid.UUID]*topology.Train{train.ID: train}

	doc := store.ExportLayout(tri.Layout, trains, nil, nil)

	s := openMemStore(t)
	if err := s.Save(doc, trains); err != nil {
		t.Fatalf("Save: %v", err)
	}

	result, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(result.Layout.Blocks) != len(tri.Layout.Blocks) {
		t.Fatalf("expected %d blocks after load, got %d", len(tri.Layout.Blocks), len(result.Layout.Blocks))
	}
}

func TestLoadDoesNotTrustPositionsOrReservations(t *testing.T) {
	tri := fixtures.Triangle()
	b1, _ := tri.Layout.Block(tri.B1)
	trainID := uuid.New()
	b1.Occupant = &topology.TrainInstance{TrainID: trainID, Direction: topology.Next}

	train := &topology.Train{
		ID: trainID, Name: "t1", BlockID: &tri.B1, Position: 1, RouteStepIndex: 2,
		Scheduling: topology.SchedulingAutomaticRunning, State: topology.TrainRunning,
	}
	trains := map[uuid.UUID]*topology.Train{train.ID: train}

	doc := store.ExportLayout(tri.Layout, trains, nil, nil)

	s := openMemStore(t)
	if err := s.Save(doc, trains); err != nil {
		t.Fatalf("Save: %v", err)
	}

	result, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	loadedB1, ok := result.Layout.Block(tri.B1)
	if !ok {
		t.Fatalf("b1 missing after load")
	}
	if loadedB1.Occupant != nil {
		t.Fatalf("expected occupant to be cleared on load, not trusted until reconfirmed")
	}

	loadedTrain, ok := result.Trains[trainID]
	if !ok {
		t.Fatalf("train missing after load")
	}
	if loadedTrain.BlockID != nil || loadedTrain.Scheduling != topology.SchedulingManual || loadedTrain.State != topology.TrainStopped {
		t.Fatalf("expected position/scheduling/state to be reset pending reconfirmation, got %#v", loadedTrain)
	}

	if len(result.NeedsReconfirmation) != 1 || result.NeedsReconfirmation[0].TrainID != trainID {
		t.Fatalf("expected exactly one reconfirmation entry for the train, got %#v", result.NeedsReconfirmation)
	}
	if *result.NeedsReconfirmation[0].BlockID != tri.B1 {
		t.Fatalf("expected reconfirmation to name b1 as last known location")
	}
}

func TestConfirmPositionSetsOccupancy(t *testing.T) {
	tri := fixtures.Triangle()
	train := &topology.Train{ID: uuid.New(), Name: "t1"}

	if err := store.ConfirmPosition(tri.Layout, train, tri.S1, topology.Next); err != nil {
		t.Fatalf("ConfirmPosition: %v", err)
	}
	if train.BlockID == nil || *train.BlockID != tri.S1 {
		t.Fatalf("expected train's BlockID to be set to s1")
	}
	s1, _ := tri.Layout.Block(tri.S1)
	if s1.Occupant == nil || s1.Occupant.TrainID != train.ID {
		t.Fatalf("expected s1 to be occupied by the confirmed train")
	}
}
