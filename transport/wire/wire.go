// Package wire is the closed JSON event dialect shared by the audience and
// performer channels: every message is {type, data}, numeric
// values are float64, timestamps are integer milliseconds.
package wire

import (
	"encoding/json"
	"fmt"

	"resonance-engine/core"
)

// Envelope is the self-describing wrapper every message is sent in.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Encode marshals data into an Envelope of the given type.
func Encode(msgType string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("wire: encode %s: %w", msgType, err)
	}
	return json.Marshal(Envelope{Type: msgType, Data: raw})
}

// Decode unwraps an Envelope and returns its type plus the raw data for the
// caller to unmarshal against the type-specific struct below.
func Decode(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("wire: decode envelope: %w", err)
	}
	return env, nil
}

// Client -> server message kinds.
const (
	TypeInput          = "input"
	TypeLocation       = "location"
	TypeAuth           = "auth"
	TypeOverride       = "override"
	TypeOverrideClear  = "override:clear"
	TypeSessionStart   = "session:start"
	TypeSessionPause   = "session:pause"
	TypeSessionResume  = "session:resume"
	TypeSessionEnd     = "session:end"
)

// Server -> client message kinds.
const (
	TypeSessionState        = "session:state"
	TypeValues               = "values"
	TypeSnapshot             = "snapshot"
	TypeInputRejected        = "input:rejected"
	TypeError                = "error"
	TypeAuthSuccess          = "auth:success"
	TypeAuthFailed           = "auth:failed"
	TypeOverrideSuccess      = "override:success"
	TypeOverrideClearedByOther = "override:cleared-by-other"
)

// SessionStatus is the closed set of statuses reported in session:state.
type SessionStatus string

const (
	StatusPending SessionStatus = "pending"
	StatusActive  SessionStatus = "active"
	StatusPaused  SessionStatus = "paused"
	StatusEnded   SessionStatus = "ended"
)

// InputData is the audience client->server `input` payload.
type InputData struct {
	Parameter string  `json:"parameter"`
	Value     float64 `json:"value"`
}

// LocationData is the audience client->server `location` payload.
type LocationData struct {
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
	Zone string  `json:"zone,omitempty"`
}

// SessionStateData is the audience server->client `session:state` payload
// sent once on connect.
type SessionStateData struct {
	SessionID  string                          `json:"sessionId"`
	Status     SessionStatus                   `json:"status"`
	Parameters []core.ParameterDefinition       `json:"parameters"`
	Values     map[string]float64              `json:"values"`
}

// ValuesData is the audience server->client `values` payload, sent once per
// tick.
type ValuesData map[string]float64

// InputRejectedData is the audience server->client `input:rejected` payload.
type InputRejectedData struct {
	Reason core.RejectReason `json:"reason"`
}

// ErrorData is the generic server->client `error` payload.
type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// AuthData is the performer client->server `auth` payload.
type AuthData struct {
	Secret      string `json:"secret"`
	PerformerID string `json:"performerId"`
	DisplayName string `json:"displayName,omitempty"`
}

// OverrideData is the performer client->server `override` payload.
type OverrideData struct {
	Parameter   string  `json:"parameter"`
	Value       float64 `json:"value"`
	Mode        string  `json:"mode"`
	BlendFactor float64 `json:"blendFactor,omitempty"`
	DurationMs  int64   `json:"durationMs,omitempty"`
	Reason      string  `json:"reason,omitempty"`
}

// OverrideClearData is the performer client->server `override:clear`
// payload.
type OverrideClearData struct {
	Parameter string `json:"parameter"`
}

// AuthSuccessData is the performer server->client `auth:success` payload.
type AuthSuccessData struct {
	PerformerID string `json:"performerId"`
}

// AuthFailedData is the performer server->client `auth:failed` payload.
type AuthFailedData struct {
	Reason string `json:"reason"`
}

// OverrideSuccessData is the performer server->client `override:success`
// payload.
type OverrideSuccessData struct {
	Override core.PerformerOverride `json:"override"`
}

// SnapshotData is the performer server->client `snapshot` payload.
type SnapshotData struct {
	core.Snapshot
}

// OverrideClearedByOtherData notifies a displaced override holder that
// another performer has taken over the parameter.
type OverrideClearedByOtherData struct {
	Parameter string `json:"parameter"`
}
