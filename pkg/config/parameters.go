package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"resonance-engine/core"
)

// parametersFile is the on-disk shape of a venue/parameter declaration file.
// It is intentionally separate from Config, whose weighting/ingress/tick
// fields may be merged from multiple
// environment files; the parameter catalogue and venue geometry for a
// performance are authored once, together, by whoever configures the venue.
type parametersFile struct {
	Parameters []core.ParameterDefinition `yaml:"parameters"`
	Venue      core.VenueGeometry         `yaml:"venue"`
}

// LoadParameters reads path and returns the declared parameters indexed by
// ID, plus the venue geometry declared alongside them.
func LoadParameters(path string) (map[string]core.ParameterDefinition, core.VenueGeometry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, core.VenueGeometry{}, fmt.Errorf("read parameters file: %w", err)
	}

	var pf parametersFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, core.VenueGeometry{}, fmt.Errorf("parse parameters file: %w", err)
	}

	defs := make(map[string]core.ParameterDefinition, len(pf.Parameters))
	for _, p := range pf.Parameters {
		if p.ID == "" {
			return nil, core.VenueGeometry{}, fmt.Errorf("parameters file %s: parameter missing id", path)
		}
		defs[p.ID] = p
	}
	return defs, pf.Venue, nil
}

// ResolveWeighting builds a core.WeightingConfig from the loaded Config,
// resolving a genre preset over the explicit weighting fields when one is
// set.
func (c Config) ResolveWeighting() core.WeightingConfig {
	w := core.WeightingConfig{
		SpatialAlpha:      c.Weighting.SpatialAlpha,
		SpatialDecayRate:  c.Weighting.SpatialDecayRate,
		TemporalBeta:      c.Weighting.TemporalBeta,
		TemporalWindowMs:  int64(c.Weighting.TemporalWindowMs),
		TemporalDecayRate: c.Weighting.TemporalDecayRate,
		ConsensusGamma:    c.Weighting.ConsensusGamma,
		ClusterThreshold:  c.Weighting.ClusterThreshold,
		SmoothingFactor:   c.Weighting.SmoothingFactor,
		OutlierThreshold:  c.Weighting.OutlierThreshold,
	}
	if alpha, beta, gamma, ok := GenreWeights(c.Weighting.GenrePreset); ok {
		w.SpatialAlpha = alpha
		w.TemporalBeta = beta
		w.ConsensusGamma = gamma
	}
	return w
}
