// Command engine runs the audience-participatory performance engine: it
// loads a session configuration, starts the consensus pipeline, and serves
// the audience/performer websocket channels and the control plane's
// diagnostics surface until told to end the session.
package main

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var log = logrus.New()

var rootCmd = &cobra.Command{
	Use:   "engine",
	Short: "audience-participatory performance engine",
}

func init() {
	rootCmd.PersistentFlags().String("env", "", "environment overlay to merge over config/default.yaml (e.g. theatre)")
	rootCmd.PersistentFlags().String("parameters", "config/parameters.yaml", "path to the parameter/venue declaration file")
	rootCmd.AddCommand(sessionCmd)
	rootCmd.AddCommand(configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
