// Package webapi serves the operator-facing HTTP surface: a live
// dashboard, an SSE snapshot stream, and JSON command endpoints.
// Grounded on sakayukari/kujo/main.go (sse.Server fed off a
// notify-style multiplexer) and sakayukari/sakuragi/main.go (a
// html/template dashboard with sprig funcs, rendered from the latest
// snapshot held in memory rather than re-walked per request).
package webapi

import (
	"embed"
	"encoding/json"
	"html/template"
	"net/http"
	"strings"
	"time"

	"github.com/Masterminds/sprig/v3"
	"github.com/google/uuid"
	"github.com/r3labs/sse/v2"
	"go.uber.org/zap"

	"go.shisen.dev/unten/diagnostics"
	"go.shisen.dev/unten/layoutctl"
	"go.shisen.dev/unten/topology"
)

//go:embed templates/*.html
var templates embed.FS

// BlockSnapshot and TrainSnapshot are what the dashboard and the SSE
// feed see; they deliberately don't carry the full topology.Block /
// topology.Train (pointers, reservation internals) since those are
// layoutctl's to mutate, not webapi's to serialize racily.
type BlockSnapshot struct {
	ID               uuid.UUID  `json:"id"`
	Name             string     `json:"name"`
	OccupantTrainID  *uuid.UUID `json:"occupant_train_id,omitempty"`
	ReservedTrainID  *uuid.UUID `json:"reserved_train_id,omitempty"`
}

type TrainSnapshot struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	BlockName   string    `json:"block_name,omitempty"`
	State       string    `json:"state"`
	Scheduling  string    `json:"scheduling"`
	SpeedKPH    int       `json:"speed_kph"`
}

// LayoutSnapshot is the document published on the "snapshot" SSE
// stream and rendered by the dashboard template.
type LayoutSnapshot struct {
	GeneratedAt string          `json:"generated_at"`
	Blocks      []BlockSnapshot `json:"blocks"`
	Trains      []TrainSnapshot `json:"trains"`
}

var trainStateNames = map[topology.TrainState]string{
	topology.TrainStopped:  "stopped",
	topology.TrainRunning:  "running",
	topology.TrainBraking:  "braking",
	topology.TrainStopping: "stopping",
}

var schedulingNames = map[topology.SchedulingMode]string{
	topology.SchedulingManual:             "manual",
	topology.SchedulingAutomaticRunning:   "automatic-running",
	topology.SchedulingAutomaticFinishing: "automatic-finishing",
	topology.SchedulingStopped:            "stopped",
}

// Server wraps a layoutctl.Controller with the HTTP surface operators
// and displays use to watch and steer it.
type Server struct {
	ctl *layoutctl.Controller
	log *zap.SugaredLogger

	mux *http.ServeMux
	sse *sse.Server
	tpl *template.Template

	latest LayoutSnapshot
}

func NewServer(ctl *layoutctl.Controller, log *zap.SugaredLogger) *Server {
	s := &Server{
		ctl: ctl,
		log: log,
		mux: http.NewServeMux(),
		sse: sse.New(),
	}
	s.tpl = template.Must(template.New("index").Funcs(sprig.FuncMap()).ParseFS(templates, "templates/*.html"))
	s.sse.CreateStream("snapshot")
	s.setup()
	go s.forward()
	return s
}

func (s *Server) setup() {
	s.mux.HandleFunc("/", s.handleIndex)
	s.mux.HandleFunc("/snapshot", s.sse.ServeHTTP)
	s.mux.HandleFunc("/trains/", s.handleTrainCommand)
	s.mux.HandleFunc("/diagnostics", s.handleDiagnostics)
	s.mux.HandleFunc("/diagnostics/repair", s.handleRepair)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// forward rebuilds the snapshot on every layoutctl change notification
// and republishes it on the SSE stream, the same shape kujo forwards
// tal.GuideSnapshot values through.
func (s *Server) forward() {
	ch := make(chan layoutctl.Snapshot, 8)
	s.ctl.Changes.Subscribe("webapi", ch)
	defer s.ctl.Changes.Unsubscribe(ch)
	for range ch {
		snap := s.buildSnapshot()
		s.latest = snap
		data, err := json.Marshal(snap)
		if err != nil {
			if s.log != nil {
				s.log.Errorw("webapi: marshal snapshot", "error", err)
			}
			continue
		}
		s.sse.TryPublish("snapshot", &sse.Event{Data: data})
	}
}

func (s *Server) buildSnapshot() LayoutSnapshot {
	snap := LayoutSnapshot{GeneratedAt: time.Now().UTC().Format(time.RFC3339)}
	for _, b := range s.ctl.Layout.Blocks {
		bs := BlockSnapshot{ID: b.ID, Name: b.Name}
		if b.Occupant != nil {
			id := b.Occupant.TrainID
			bs.OccupantTrainID = &id
		}
		if b.Reservation != nil {
			id := b.Reservation.TrainID
			bs.ReservedTrainID = &id
		}
		snap.Blocks = append(snap.Blocks, bs)
	}
	for _, t := range s.ctl.Trains {
		ts := TrainSnapshot{
			ID:         t.ID,
			Name:       t.Name,
			State:      trainStateNames[t.State],
			Scheduling: schedulingNames[t.Scheduling],
			SpeedKPH:   t.SpeedCurrentKPH,
		}
		if t.BlockID != nil {
			if b, ok := s.ctl.Layout.Block(*t.BlockID); ok {
				ts.BlockName = b.Name
			}
		}
		snap.Trains = append(snap.Trains, ts)
	}
	return snap
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	snap := s.buildSnapshot()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.tpl.ExecuteTemplate(w, "index", map[string]any{"snapshot": snap, "now": time.Now().Format("15:04:05")}); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// handleTrainCommand handles POST /trains/<id>/start|stop|finish.
func (s *Server) handleTrainCommand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/trains/")
	idRaw, action, ok := strings.Cut(rest, "/")
	if !ok {
		http.Error(w, "bad path", http.StatusBadRequest)
		return
	}
	id, err := uuid.Parse(idRaw)
	if err != nil {
		http.Error(w, "bad train id", http.StatusBadRequest)
		return
	}

	switch action {
	case "start":
		err = s.ctl.Start(id)
	case "stop":
		err = s.ctl.Stop(id)
	case "finish":
		err = s.ctl.Finish(id)
	default:
		http.Error(w, "unknown action", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleDiagnostics(w http.ResponseWriter, r *http.Request) {
	findings := diagnostics.Run(s.ctl.Layout, s.ctl.Trains, nil)
	writeJSON(w, findings)
}

func (s *Server) handleRepair(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	findings := diagnostics.Repair(s.ctl.Layout, s.ctl.Trains)
	writeJSON(w, findings)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
