// Package core implements the parameter pipeline of the audience-participatory
// performance engine: the weighting kernel, the per-parameter aggregator, the
// typed parameter bus, audience input ingress, the performer override
// registry, the fixed-cadence tick loop, the telemetry collector, the OSC
// sink, and the session-state store contract. Wire transports live in the
// sibling transport/ package tree; this package owns only the pipeline.
package core

import "math"

// Location is a position within the venue's coordinate space, optionally
// tagged with a named zone.
type Location struct {
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
	Zone string  `json:"zone,omitempty"`
}

// BoundingBox is an axis-aligned rectangle within the venue, used both for
// zone boundaries and for overall venue bounds validation.
type BoundingBox struct {
	MinX float64 `json:"min_x" yaml:"min_x"`
	MinY float64 `json:"min_y" yaml:"min_y"`
	MaxX float64 `json:"max_x" yaml:"max_x"`
	MaxY float64 `json:"max_y" yaml:"max_y"`
}

// Contains reports whether (x, y) lies within the box, bounds inclusive.
func (b BoundingBox) Contains(x, y float64) bool {
	return x >= b.MinX && x <= b.MaxX && y >= b.MinY && y <= b.MaxY
}

// Zone is a named region of the venue with its own base spatial multiplier.
type Zone struct {
	Name              string      `json:"name" yaml:"name"`
	Bounds            BoundingBox `json:"bounds" yaml:"bounds"`
	SpatialMultiplier float64     `json:"spatial_multiplier" yaml:"spatial_multiplier"`
}

// VenueGeometry is defined at session start and immutable thereafter.
type VenueGeometry struct {
	Width       float64 `json:"width" yaml:"width"`
	Height      float64 `json:"height" yaml:"height"`
	StageX      float64 `json:"stage_x" yaml:"stage_x"`
	StageY      float64 `json:"stage_y" yaml:"stage_y"`
	Zones       []Zone  `json:"zones" yaml:"zones"`
	MaxCapacity int     `json:"max_capacity" yaml:"max_capacity"`
}

// Diagonal returns the venue's bounding diagonal length, used to normalize
// spatial-weight distance attenuation.
func (v VenueGeometry) Diagonal() float64 {
	return hypot(v.Width, v.Height)
}

// ZoneFor returns the first zone whose bounds contain (x, y), and whether one
// was found.
func (v VenueGeometry) ZoneFor(x, y float64) (Zone, bool) {
	for _, z := range v.Zones {
		if z.Bounds.Contains(x, y) {
			return z, true
		}
	}
	return Zone{}, false
}

// Contains reports whether (x, y) lies within the venue's outer bounds.
func (v VenueGeometry) Contains(x, y float64) bool {
	return x >= 0 && x <= v.Width && y >= 0 && y <= v.Height
}

// ParameterDefinition is defined at session start and immutable for the
// session's duration.
type ParameterDefinition struct {
	ID                    string  `json:"id" yaml:"id"`
	Category              string  `json:"category" yaml:"category"`
	Default               float64 `json:"default" yaml:"default"`
	Min                   float64 `json:"min" yaml:"min"`
	Max                   float64 `json:"max" yaml:"max"`
	AudienceControllable  bool    `json:"audience_controllable" yaml:"audience_controllable"`
	PerformerControllable bool    `json:"performer_controllable" yaml:"performer_controllable"`
	SmoothingEnabled      bool    `json:"smoothing_enabled" yaml:"smoothing_enabled"`
	ExternalSinkAddress   string  `json:"external_sink_address,omitempty" yaml:"external_sink_address,omitempty"`
}

// WeightingConfig holds the aggregator's weighting coefficients.
// Aggregator.UpdateConfig swaps it between ticks; no session or transport
// command exposes that call.
type WeightingConfig struct {
	SpatialAlpha      float64 `json:"spatial_alpha"`
	SpatialDecayRate  float64 `json:"spatial_decay_rate"`
	TemporalBeta      float64 `json:"temporal_beta"`
	TemporalWindowMs  int64   `json:"temporal_window_ms"`
	TemporalDecayRate float64 `json:"temporal_decay_rate"`
	ConsensusGamma    float64 `json:"consensus_gamma"`
	ClusterThreshold  float64 `json:"cluster_threshold"`
	SmoothingFactor   float64 `json:"smoothing_factor"`
	OutlierThreshold  float64 `json:"outlier_threshold"`
}

// AudienceInput is a single accepted parameter submission.
type AudienceInput struct {
	ID            string    `json:"id"`
	ClientID      string    `json:"client_id"`
	SessionID     string    `json:"session_id"`
	TimestampMs   int64     `json:"timestamp_ms"`
	Parameter     string    `json:"parameter"`
	Value         float64   `json:"value"`
	HasLocation   bool      `json:"-"`
	Location      Location  `json:"location,omitempty"`
}

// ConsensusMode names how a parameter's value was derived this tick.
type ConsensusMode string

const (
	ModeConsensus ConsensusMode = "consensus"
	ModeOverride  ConsensusMode = "override"
	ModeDefault   ConsensusMode = "default"
)

// ConsensusResult is produced per tick per parameter.
type ConsensusResult struct {
	Parameter          string        `json:"parameter"`
	Value              float64       `json:"value"`
	Confidence         float64       `json:"confidence"`
	InputCount         int           `json:"input_count"`
	TimestampMs        int64         `json:"timestamp_ms"`
	Mode               ConsensusMode `json:"mode"`
	RawMean            float64       `json:"raw_mean"`
	WeightedMean       float64       `json:"weighted_mean"`
	StdDev             float64       `json:"stddev"`
	ParticipationRate  float64       `json:"participation_rate"`
	Cluster            *ClusterAnalysis `json:"cluster,omitempty"`
}

// OverrideMode is the closed set of performer-override application modes.
type OverrideMode string

const (
	OverrideAbsolute OverrideMode = "absolute"
	OverrideBlend    OverrideMode = "blend"
	OverrideLock     OverrideMode = "lock"
)

// PerformerOverride is a performer-applied displacement of one parameter's
// consensus output.
type PerformerOverride struct {
	PerformerID string       `json:"performer_id"`
	Parameter   string       `json:"parameter"`
	Value       float64      `json:"value"`
	Mode        OverrideMode `json:"mode"`
	BlendFactor float64      `json:"blend_factor,omitempty"`
	ExpiresAtMs int64        `json:"expires_at_ms,omitempty"`
	Reason      string       `json:"reason,omitempty"`
}

// HasExpiry reports whether the override carries a non-zero expiry.
func (o PerformerOverride) HasExpiry() bool { return o.ExpiresAtMs > 0 }

// Expired reports whether the override has lapsed as of nowMs.
func (o PerformerOverride) Expired(nowMs int64) bool {
	return o.HasExpiry() && nowMs > o.ExpiresAtMs
}

// ClientState is ingress's per-client bookkeeping.
type ClientState struct {
	ClientID      string   `json:"client_id"`
	LastInputMs   int64    `json:"last_input_ms"`
	InputCount    int      `json:"input_count"`
	LastLocation  Location `json:"last_location,omitempty"`
	HasLocation   bool     `json:"-"`
	Blocked       bool     `json:"blocked"`
	BlockedUntilMs int64   `json:"blocked_until_ms,omitempty"`
}

// PerformerPermissions gates what an authenticated performer may do.
type PerformerPermissions struct {
	CanOverride      bool     `json:"can_override"`
	CanPause         bool     `json:"can_pause"`
	CanEnd           bool     `json:"can_end"`
	CanModifyConfig  bool     `json:"can_modify_config"`
	AllowedParameters []string `json:"allowed_parameters,omitempty"` // nil/empty means "all"
}

// Allows reports whether the permission set allows overriding parameter.
func (p PerformerPermissions) Allows(parameter string) bool {
	if len(p.AllowedParameters) == 0 {
		return true
	}
	for _, p2 := range p.AllowedParameters {
		if p2 == parameter {
			return true
		}
	}
	return false
}

// PerformerSession is the transport-owned authenticated performer record.
// The core package only needs its permission-checking shape;
// transport/performer owns the full connection lifecycle.
type PerformerSession struct {
	PerformerID     string
	DisplayName     string
	IsAuthenticated bool
	Permissions     PerformerPermissions
}

// Snapshot is the per-tick aggregation of all parameters plus participant
// metadata, produced for the performer channel.
type Snapshot struct {
	SessionID          string                     `json:"session_id"`
	TimestampMs        int64                      `json:"timestamp_ms"`
	Results            map[string]ConsensusResult `json:"results"`
	TotalParticipants  int                        `json:"total_participants"`
	ActiveParticipants int                        `json:"active_participants"`
}

// Values extracts the reduced parameter->value map audience clients receive.
func (s Snapshot) Values() map[string]float64 {
	out := make(map[string]float64, len(s.Results))
	for p, r := range s.Results {
		out[p] = r.Value
	}
	return out
}

func hypot(w, h float64) float64 {
	return math.Sqrt(w*w + h*h)
}
