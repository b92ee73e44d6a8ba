package store

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/tidwall/buntdb"
	"go.uber.org/zap"

	"go.shisen.dev/unten/topology"
)

// Store persists a single Document under one buntdb key, generalized
// from tal/model2.go's Model2 (which keeps one JSON blob per
// "form:<id>:data" key). A layout document isn't naturally sharded by
// id the way per-formation calibration data is, so Store uses one key
// for the whole thing plus a small secondary index of "train last seen
// at block" entries, written on every Save. Load does not read that
// index; it derives NeedsReconfirmation from the document itself.
type Store struct {
	dbPath string
	log    *zap.SugaredLogger

	mu sync.Mutex
	db *buntdb.DB
}

const documentKey = "document"

func lastSeenKey(trainID uuid.UUID) string {
	return fmt.Sprintf("lastseen:%s", trainID)
}

// LastSeen is what the operator is shown when asked to reconfirm a
// train's position: where it was the moment the document was last
// saved, never applied automatically.
type LastSeen struct {
	TrainID uuid.UUID  `json:"train_id"`
	BlockID *uuid.UUID `json:"block_id,omitempty"`
}

func Open(dbPath string, log *zap.SugaredLogger) (*Store, error) {
	db, err := buntdb.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", dbPath, err)
	}
	return &Store{dbPath: dbPath, log: log, db: db}, nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// Save writes doc and a last-seen index derived from trains atomically.
func (s *Store) Save(doc *Document, trains map[uuid.UUID]*topology.Train) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("store: marshal document: %w", err)
	}

	return s.db.Update(func(tx *buntdb.Tx) error {
		if _, _, err := tx.Set(documentKey, string(data), nil); err != nil {
			return err
		}
		for id, t := range trains {
			seen := LastSeen{TrainID: id, BlockID: t.BlockID}
			raw, err := json.Marshal(seen)
			if err != nil {
				return err
			}
			if _, _, err := tx.Set(lastSeenKey(id), string(raw), nil); err != nil {
				return err
			}
		}
		return nil
	})
}

// LoadResult is what Load hands back: a usable layout plus the set of
// trains whose position/reservation state needs an operator's
// reconfirmation before the runtime will trust it again.
type LoadResult struct {
	Layout     *topology.Layout
	Trains     map[uuid.UUID]*topology.Train
	Routes     map[uuid.UUID]*topology.Route
	Formations map[uuid.UUID]*topology.Formation
	Scripts    []json.RawMessage

	// NeedsReconfirmation lists, for every train that occupied a block
	// or had a non-nil BlockID in the saved document, where it was last
	// seen; reservations alone do not add an entry. The runtime must not act on any of these
	// until the operator confirms or corrects them.
	NeedsReconfirmation []LastSeen
}

// Load reads the persisted document and rebuilds the layout, but never
// trusts positions and reservations at startup (spec's persistence
// policy): every block's Occupant/Reservation and every turnout's
// Reservation is cleared, and every train's BlockID/Position/route
// progress is reset pending operator reconfirmation. The saved
// last-seen data is surfaced via LoadResult.NeedsReconfirmation so an
// operator-facing UI can ask "train X was last at block Y, still
// there?" without the runtime acting on the answer until it's given.
func (s *Store) Load() (*LoadResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var raw string
	err := s.db.View(func(tx *buntdb.Tx) error {
		v, err := tx.Get(documentKey)
		if err != nil {
			return err
		}
		raw = v
		return nil
	})
	if err == buntdb.ErrNotFound {
		return &LoadResult{
			Layout:     topology.NewLayout(nil, nil, nil, nil),
			Trains:     make(map[uuid.UUID]*topology.Train),
			Routes:     make(map[uuid.UUID]*topology.Route),
			Formations: make(map[uuid.UUID]*topology.Formation),
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: read document: %w", err)
	}

	var doc Document
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("store: unmarshal document: %w", err)
	}

	y, trains, routes, formations := ImportLayout(&doc)

	result := &LoadResult{
		Layout:     y,
		Trains:     trains,
		Routes:     routes,
		Formations: formations,
		Scripts:    doc.Scripts,
	}

	for _, b := range y.Blocks {
		if b.Occupant != nil {
			result.NeedsReconfirmation = append(result.NeedsReconfirmation, LastSeen{TrainID: b.Occupant.TrainID, BlockID: &b.ID})
		}
		b.Occupant = nil
		b.Reservation = nil
	}
	for _, to := range y.Turnouts {
		to.Reservation = nil
	}
	for _, tr := range y.Transitions {
		tr.Reservation = nil
	}
	for _, t := range trains {
		if t.BlockID != nil {
			found := false
			for _, ls := range result.NeedsReconfirmation {
				if ls.TrainID == t.ID {
					found = true
					break
				}
			}
			if !found {
				result.NeedsReconfirmation = append(result.NeedsReconfirmation, LastSeen{TrainID: t.ID, BlockID: t.BlockID})
			}
		}
		t.BlockID = nil
		t.Position = 0
		t.RouteStepIndex = 0
		t.StartRouteIndex = 0
		t.TrailingSteps = nil
		t.Scheduling = topology.SchedulingManual
		t.State = topology.TrainStopped
		t.StopTrigger = topology.StopTrigger{}
		t.RestartTimerActive = false
		if s.log != nil {
			s.log.Infow("train position not trusted at startup, awaiting reconfirmation", "train", t.Name)
		}
	}

	return result, nil
}

// ConfirmPosition is how an operator answers a reconfirmation prompt:
// it's the only path by which a train's BlockID is set without having
// gone through the normal MoveToNextBlock/MoveWithinBlock handlers.
func ConfirmPosition(y *topology.Layout, t *topology.Train, blockID uuid.UUID, dir topology.Direction) error {
	b, ok := y.Block(blockID)
	if !ok {
		return fmt.Errorf("store: confirm position: unknown block %s", blockID)
	}
	if b.Occupant != nil {
		return fmt.Errorf("store: confirm position: block %s already has occupant %s", blockID, b.Occupant.TrainID)
	}
	t.BlockID = &blockID
	t.Position = 0
	b.Occupant = &topology.TrainInstance{TrainID: t.ID, Direction: dir}
	return nil
}
