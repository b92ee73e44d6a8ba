package webapi_test

import (
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"

	"go.shisen.dev/unten/fixtures"
	"go.shisen.dev/unten/layoutctl"
	"go.shisen.dev/unten/reservation"
	"go.shisen.dev/unten/topology"
	"go.shisen.dev/unten/traincontrol"
	"go.shisen.dev/unten/webapi"
)

func newTestServer(t *testing.T) (*webapi.Server, *layoutctl.Controller, fixtures.Named) {
	t.Helper()
	tri := fixtures.Triangle()
	route := &topology.Route{
		ID:   uuid.New(),
		Mode: topology.RouteFixed,
		Steps: []topology.Step{
			{BlockID: tri.S1, Direction: topology.Next},
			{BlockID: tri.B1, Direction: topology.Next},
		},
	}
	rt := &traincontrol.Runtime{
		Layout:      tri.Layout,
		Reservation: reservation.New(tri.Layout, nil, nil),
		Routes:      map[uuid.UUID]*topology.Route{route.ID: route},
	}
	ctl := layoutctl.NewController(tri.Layout, rt, nil, nil)
	train := &topology.Train{ID: uuid.New(), Name: "t1", RouteID: route.ID, BlockID: &tri.S1, SpeedMaxKPH: 40}
	ctl.AddTrain(train)

	s := webapi.NewServer(ctl, nil)
	return s, ctl, tri
}

func TestIndexServesHTML(t *testing.T) {
	s, _, _ := newTestServer(t)
	req := httptest.NewRequest("GET", "/", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	if rec.Code != 200 {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Body.Len() == 0 {
		t.Fatalf("expected non-empty body")
	}
}

func TestDiagnosticsEndpointReturnsJSON(t *testing.T) {
	s, _, _ := newTestServer(t)
	req := httptest.NewRequest("GET", "/diagnostics", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	if rec.Code != 200 {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("expected JSON content type, got %q", ct)
	}
}

func TestTrainStartEndpointRejectsUnknownTrain(t *testing.T) {
	s, _, _ := newTestServer(t)
	req := httptest.NewRequest("POST", "/trains/"+uuid.New().String()+"/start", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	if rec.Code != 400 {
		t.Fatalf("expected 400 for unknown train, got %d", rec.Code)
	}
}
