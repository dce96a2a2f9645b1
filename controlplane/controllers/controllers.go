// Package controllers implements the control plane's read-only diagnostic
// handlers: GET /health, GET /session, GET /values. No write
// endpoints are exposed.
package controllers

import (
	"encoding/json"
	"net/http"

	"resonance-engine/core"
)

// Controller serves diagnostics for a single running session.
type Controller struct {
	session *core.Session
}

// New constructs a Controller bound to session.
func New(session *core.Session) *Controller {
	return &Controller{session: session}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// healthResponse is GET /health's payload.
type healthResponse struct {
	SessionID          string `json:"session_id"`
	Status             string `json:"status"`
	UptimeMs           int64  `json:"uptime_ms"`
	TotalParticipants  int    `json:"total_participants"`
	ActiveParticipants int    `json:"active_participants"`
}

// Health reports session identity, uptime, and participant counts.
func (c *Controller) Health(w http.ResponseWriter, r *http.Request) {
	nowMs := c.session.Clock().NowMs()
	snap := c.session.Aggregator().Snapshot(c.session.ID(), nowMs)
	writeJSON(w, healthResponse{
		SessionID:          c.session.ID(),
		Status:             string(c.session.State()),
		UptimeMs:           nowMs - c.session.StartedAt(),
		TotalParticipants:  snap.TotalParticipants,
		ActiveParticipants: snap.ActiveParticipants,
	})
}

// sessionResponse is GET /session's payload: full session configuration
// plus current values.
type sessionResponse struct {
	SessionID  string                     `json:"session_id"`
	Status     string                     `json:"status"`
	Parameters map[string]core.ParameterDefinition `json:"parameters"`
	Venue      core.VenueGeometry         `json:"venue"`
	Weighting  core.WeightingConfig       `json:"weighting"`
	Values     map[string]float64         `json:"values"`
}

// Session reports the session's full configuration and current values.
func (c *Controller) Session(w http.ResponseWriter, r *http.Request) {
	cfg := c.session.Config()
	nowMs := c.session.Clock().NowMs()
	snap := c.session.Aggregator().Snapshot(c.session.ID(), nowMs)
	writeJSON(w, sessionResponse{
		SessionID:  c.session.ID(),
		Status:     string(c.session.State()),
		Parameters: cfg.Parameters,
		Venue:      cfg.Venue,
		Weighting:  cfg.Weighting,
		Values:     snap.Values(),
	})
}

// Values reports only the current consensus values.
func (c *Controller) Values(w http.ResponseWriter, r *http.Request) {
	nowMs := c.session.Clock().NowMs()
	snap := c.session.Aggregator().Snapshot(c.session.ID(), nowMs)
	writeJSON(w, snap.Values())
}
