// Package cli implements the subsweep command tree.
package cli

import (
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "subsweep",
	Short: "Subtitle translation with multi-account API key rotation",
	Long: `subsweep translates subtitle files through the Gemini API, sweeping
across a fleet of account/project API keys so no single free-tier quota
throttles the batch. Rate-limited keys cool down, exhausted keys sit out
until the daily reset, and the whole fleet falls back to a lighter model
tier when every key is spent.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path (default: user config dir)")
}
