package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "tendril",
	Short: "Tendril turns pipeline run events into distributed traces",
	Long: `Tendril listens to the lifecycle events of a pipeline run and builds an
OpenTelemetry trace that mirrors its stage and step structure.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	// Persistent flags (available to all commands)
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error); empty disables logging")
}
