package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/minhvu-dev/subsweep/internal/buildinfo"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(c *cobra.Command, args []string) {
		fmt.Printf("subsweep %s (%s)\n", buildinfo.Version, buildinfo.Commit)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
