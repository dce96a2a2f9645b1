// Package config loads the control plane's own listen configuration,
// separate from the session configuration it reports on.
package config

import (
	"github.com/joho/godotenv"

	"resonance-engine/pkg/utils"
)

// ServerConfig is the control plane's own listen address.
type ServerConfig struct {
	Port string
}

// AppConfig holds the configuration loaded via Load.
var AppConfig ServerConfig

// Load reads an optional .env for local development and resolves the
// control plane's listen port from ENGINE_CONTROLPLANE_PORT (default 8090).
func Load() error {
	_ = godotenv.Load(".env")
	AppConfig = ServerConfig{Port: utils.EnvOrDefault("ENGINE_CONTROLPLANE_PORT", "8090")}
	return nil
}
