// Package config provides a reusable loader for performance-engine session
// configuration files and environment variables. It is versioned so that
// applications can depend on a stable API contract.
//
// Version: v0.2.0
package config

import (
	"fmt"

	"github.com/spf13/viper"

	"resonance-engine/core"
	"resonance-engine/pkg/utils"
)

// Version is the semantic version of this configuration package.
const Version = "v0.2.0"

// GenrePreset names one of the closed set of weighting-coefficient presets
// recognised at session init.
type GenrePreset string

const (
	GenreNone         GenrePreset = ""
	GenreElectronic   GenrePreset = "electronic_music"
	GenreBallet       GenrePreset = "ballet"
	GenreOpera        GenrePreset = "opera"
	GenreInstallation GenrePreset = "installation"
	GenreTheatre      GenrePreset = "theatre"
)

// Config is the unified session configuration. Field names mirror the
// engine's recognised tuning options; mapstructure/json tags allow it to be
// loaded from YAML, merged with environment overrides, and printed as JSON
// by `engine config show`.
type Config struct {
	Session struct {
		Name            string `mapstructure:"name" json:"name"`
		MaxParticipants int    `mapstructure:"max_participants" json:"max_participants"`
	} `mapstructure:"session" json:"session"`

	Features struct {
		AllowAudienceInput   bool `mapstructure:"allow_audience_input" json:"allow_audience_input"`
		AllowPerformerOverride bool `mapstructure:"allow_performer_override" json:"allow_performer_override"`
	} `mapstructure:"features" json:"features"`

	Ingress struct {
		RateLimitMs     int `mapstructure:"rate_limit_ms" json:"rate_limit_ms"`
		MaxInputsPerClient int `mapstructure:"max_inputs_per_client" json:"max_inputs_per_client"`
	} `mapstructure:"ingress" json:"ingress"`

	Tick struct {
		ConsensusIntervalMs int `mapstructure:"consensus_interval_ms" json:"consensus_interval_ms"`
		BatchIntervalMs     int `mapstructure:"batch_interval_ms" json:"batch_interval_ms"`
	} `mapstructure:"tick" json:"tick"`

	Weighting struct {
		TemporalWindowMs  int     `mapstructure:"temporal_window_ms" json:"temporal_window_ms"`
		TemporalDecayRate float64 `mapstructure:"temporal_decay_rate" json:"temporal_decay_rate"`
		SpatialAlpha      float64 `mapstructure:"spatial_alpha" json:"spatial_alpha"`
		SpatialDecayRate  float64 `mapstructure:"spatial_decay_rate" json:"spatial_decay_rate"`
		TemporalBeta      float64 `mapstructure:"temporal_beta" json:"temporal_beta"`
		ConsensusGamma    float64 `mapstructure:"consensus_gamma" json:"consensus_gamma"`
		ClusterThreshold  float64 `mapstructure:"cluster_threshold" json:"cluster_threshold"`
		SmoothingFactor   float64 `mapstructure:"smoothing_factor" json:"smoothing_factor"`
		OutlierThreshold  float64 `mapstructure:"outlier_threshold" json:"outlier_threshold"`
		GenrePreset       string  `mapstructure:"genre_preset" json:"genre_preset"`
	} `mapstructure:"weighting" json:"weighting"`

	OSC struct {
		Enabled bool   `mapstructure:"enabled" json:"enabled"`
		Host    string `mapstructure:"host" json:"host"`
		Port    int    `mapstructure:"port" json:"port"`
	} `mapstructure:"osc" json:"osc"`

	Performer struct {
		AuthTimeoutMs int    `mapstructure:"auth_timeout_ms" json:"auth_timeout_ms"`
		Secret        string `mapstructure:"secret" json:"-"`
	} `mapstructure:"performer" json:"performer"`

	Logging struct {
		Level string `mapstructure:"level" json:"level"`
		File  string `mapstructure:"file" json:"file"`
	} `mapstructure:"logging" json:"logging"`
}

// setDefaults installs baseline configuration values onto v before any file
// or environment overrides are applied.
func setDefaults(v *viper.Viper) {
	v.SetDefault("session.name", "untitled-session")
	v.SetDefault("session.max_participants", 1000)

	v.SetDefault("features.allow_audience_input", true)
	v.SetDefault("features.allow_performer_override", true)

	v.SetDefault("ingress.rate_limit_ms", 100)
	v.SetDefault("ingress.max_inputs_per_client", 600)

	v.SetDefault("tick.consensus_interval_ms", 50)
	v.SetDefault("tick.batch_interval_ms", 50)

	v.SetDefault("weighting.temporal_window_ms", 5000)
	v.SetDefault("weighting.temporal_decay_rate", 0.5)
	v.SetDefault("weighting.spatial_alpha", 0.3)
	v.SetDefault("weighting.spatial_decay_rate", 0.5)
	v.SetDefault("weighting.temporal_beta", 0.5)
	v.SetDefault("weighting.consensus_gamma", 0.2)
	v.SetDefault("weighting.cluster_threshold", 0.1)
	v.SetDefault("weighting.smoothing_factor", 0.3)
	v.SetDefault("weighting.outlier_threshold", 2.5)
	v.SetDefault("weighting.genre_preset", "")

	v.SetDefault("osc.enabled", true)
	v.SetDefault("osc.host", "127.0.0.1")
	v.SetDefault("osc.port", 57120)

	v.SetDefault("performer.auth_timeout_ms", 5000)
	v.SetDefault("performer.secret", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.file", "")
}

// GenreWeights maps the closed genre preset enumeration to its fixed
// {alpha, beta, gamma} triple. The zero value (ok=false)
// signals "no preset selected" so callers fall back to the explicit
// weighting.* fields. The enumeration itself lives in core.LookupGenre; this
// is a thin wrapper returning the triple as plain floats.
func GenreWeights(preset string) (alpha, beta, gamma float64, ok bool) {
	g, ok := core.LookupGenre(preset)
	if !ok {
		return 0, 0, 0, false
	}
	return g.Alpha, g.Beta, g.Gamma, true
}

// AppConfig holds the configuration loaded via Load or LoadFromEnv.
var AppConfig Config

// Load reads a session configuration file (if present) and merges any
// environment-specific overrides, storing the result in AppConfig.
//
// The function uses the provided environment name to merge an additional
// config file (e.g. "dev" reads config/dev.yaml over config/default.yaml).
// If env is empty, only the default configuration (or built-in defaults, if
// no file exists) is used.
func Load(env string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("default")
	v.AddConfigPath("cmd/config")
	v.AddConfigPath("config")
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return nil, utils.Wrap(err, "load config")
		}
	}

	if env != "" {
		v.SetConfigName(env)
		if err := v.MergeInConfig(); err != nil {
			return nil, utils.Wrap(err, fmt.Sprintf("merge %s config", env))
		}
	}

	v.SetEnvPrefix("ENGINE")
	v.AutomaticEnv()

	if err := v.Unmarshal(&AppConfig); err != nil {
		return nil, utils.Wrap(err, "unmarshal config")
	}
	return &AppConfig, nil
}

// LoadFromEnv loads configuration using the ENGINE_ENV environment variable.
func LoadFromEnv() (*Config, error) {
	return Load(utils.EnvOrDefault("ENGINE_ENV", ""))
}
