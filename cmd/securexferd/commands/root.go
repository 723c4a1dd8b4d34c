// Package commands implements securexferd's CLI surface.
package commands

import (
	"github.com/spf13/cobra"
)

var (
	// Version information injected at build time via ldflags.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"

	cfgFile string
)

var rootCmd = &cobra.Command{
	Use:   "securexferd",
	Short: "securexferd - encrypted file-transfer server",
	Long: `securexferd accepts length-prefixed binary requests over TCP, registers
clients, wraps per-client AES session keys under their submitted RSA public
keys, and reassembles AES-CBC encrypted file uploads sent in packets.

Use "securexferd [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. Called once from main.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to config file (default: built-in settings)")
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// GetConfigFile returns the config file path from the global --config flag.
func GetConfigFile() string {
	return cfgFile
}
