package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/minhvu-dev/subsweep/internal/gemini"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List models available to the fleet",
	Long: `Query the provider's model list using the next available credential.
The request does not count against rotation bookkeeping.`,
	RunE: func(c *cobra.Command, args []string) error {
		fleet, err := openFleet()
		if err != nil {
			return err
		}

		keys := fleet.Scheduler.AllAvailable()
		if len(keys) == 0 {
			return fmt.Errorf("no available credential to query with")
		}

		models, err := gemini.ListModels(context.Background(), keys[0].APIKey)
		if err != nil {
			return err
		}
		for _, m := range models {
			fmt.Printf("%s\t%s\n", m.Name, m.DisplayName)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(modelsCmd)
}
