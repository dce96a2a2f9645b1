package controllers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"

	"resonance-engine/core"
)

func newTestSession(t *testing.T) *core.Session {
	t.Helper()
	defs := map[string]core.ParameterDefinition{
		"brightness": {ID: "brightness", Default: 0.5, Min: 0, Max: 1, AudienceControllable: true},
	}
	s, err := core.NewSession(core.SessionConfig{
		SessionID:          "s1",
		Parameters:         defs,
		Venue:              core.VenueGeometry{Width: 10, Height: 10},
		Weighting:          core.WeightingConfig{SpatialAlpha: 0.3, TemporalBeta: 0.5, ConsensusGamma: 0.2, SmoothingFactor: 0.3, OutlierThreshold: 2.5},
		TickPeriodMs:       50,
		BatchPeriodMs:      20,
		MaxInputsPerClient: 1000,
	}, clock.New(), nil, logrus.NewEntry(logrus.New()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(func() { s.End() })
	return s
}

func TestControllerHealthReportsSessionIdentity(t *testing.T) {
	session := newTestSession(t)
	if err := session.Start(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	c := New(session)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	c.Health(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp healthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.SessionID != "s1" || resp.Status != string(core.SessionRunning) {
		t.Fatalf("unexpected health response %+v", resp)
	}
}

func TestControllerSessionReportsConfigAndValues(t *testing.T) {
	session := newTestSession(t)
	c := New(session)

	req := httptest.NewRequest(http.MethodGet, "/session", nil)
	rec := httptest.NewRecorder()
	c.Session(rec, req)

	var resp sessionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.SessionID != "s1" {
		t.Fatalf("unexpected session id %q", resp.SessionID)
	}
	if _, ok := resp.Parameters["brightness"]; !ok {
		t.Fatalf("expected brightness parameter in response, got %+v", resp.Parameters)
	}
	if _, ok := resp.Values["brightness"]; !ok {
		t.Fatalf("expected brightness value in response, got %+v", resp.Values)
	}
}

func TestControllerValuesReportsOnlyValues(t *testing.T) {
	session := newTestSession(t)
	c := New(session)

	req := httptest.NewRequest(http.MethodGet, "/values", nil)
	rec := httptest.NewRecorder()
	c.Values(rec, req)

	var values map[string]float64
	if err := json.Unmarshal(rec.Body.Bytes(), &values); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := values["brightness"]; !ok {
		t.Fatalf("expected brightness value, got %+v", values)
	}
}

func TestControllerResponsesAreJSON(t *testing.T) {
	session := newTestSession(t)
	c := New(session)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	c.Health(rec, req)

	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("expected application/json content type, got %q", ct)
	}
}
