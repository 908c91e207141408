// cmd/brickbridge/root.go
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	logLevel  string
	logFormat string
)

// rootCmd is the base command for brickbridge.
var rootCmd = &cobra.Command{
	Use:   "brickbridge",
	Short: "Bridge programmable bricks to Modbus memory and NATS",
	Long: `brickbridge keeps bricks connected over Bluetooth serial, USB or IP,
polls their telemetry buffers and forwards decoded records and connection
health to the configured sinks.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "override log format: text, json")

	rootCmd.AddCommand(runCmd, discoverCmd, infoCmd)
}
