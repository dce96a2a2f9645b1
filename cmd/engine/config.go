package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"resonance-engine/core"
	"resonance-engine/pkg/config"
)

var configCmd = &cobra.Command{Use: "config", Short: "inspect session configuration"}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "print the resolved session configuration as JSON",
	RunE:  configShow,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "load the session configuration and parameter file and report any errors",
	RunE:  configValidate,
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)
}

func loadAll(cmd *cobra.Command) (*config.Config, map[string]core.ParameterDefinition, core.VenueGeometry, error) {
	env, _ := cmd.Flags().GetString("env")
	paramsPath, _ := cmd.Flags().GetString("parameters")

	cfg, err := config.Load(env)
	if err != nil {
		return nil, nil, core.VenueGeometry{}, fmt.Errorf("load config: %w", err)
	}
	defs, venue, err := config.LoadParameters(paramsPath)
	if err != nil {
		return nil, nil, core.VenueGeometry{}, fmt.Errorf("load parameters: %w", err)
	}
	return cfg, defs, venue, nil
}

func configShow(cmd *cobra.Command, _ []string) error {
	cfg, defs, venue, err := loadAll(cmd)
	if err != nil {
		return err
	}
	out := struct {
		Session    *config.Config                      `json:"session"`
		Parameters map[string]core.ParameterDefinition  `json:"parameters"`
		Venue      core.VenueGeometry                   `json:"venue"`
	}{Session: cfg, Parameters: defs, Venue: venue}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func configValidate(cmd *cobra.Command, _ []string) error {
	cfg, defs, venue, err := loadAll(cmd)
	if err != nil {
		return err
	}
	if len(defs) == 0 {
		return fmt.Errorf("parameters file declares no parameters")
	}
	if venue.Width <= 0 || venue.Height <= 0 {
		return fmt.Errorf("venue geometry must have positive width and height")
	}
	for id, def := range defs {
		if def.Min >= def.Max {
			return fmt.Errorf("parameter %s: min must be less than max", id)
		}
		if def.Default < def.Min || def.Default > def.Max {
			return fmt.Errorf("parameter %s: default out of [min, max]", id)
		}
	}
	fmt.Fprintf(cmd.OutOrStdout(), "config ok: session %q, %d parameters, weighting genre %q\n",
		cfg.Session.Name, len(defs), cfg.Weighting.GenrePreset)
	return nil
}
