package cli

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/minhvu-dev/subsweep/internal/bootstrap"
	"github.com/minhvu-dev/subsweep/internal/keystore"
)

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Inspect and manage the credential fleet",
}

var keysStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show per-credential status and the rotation cursor",
	RunE: func(c *cobra.Command, args []string) error {
		fleet, err := openFleet()
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ACCOUNT\tPROJECT\tSTATUS\tTODAY\tERRORS\tLAST ERROR")
		fleet.Store.View(func(cfg *keystore.Config) {
			for _, acc := range cfg.Accounts {
				for _, cred := range acc.Projects {
					lastErr := cred.Stats.LastErrorMessage
					if len(lastErr) > 48 {
						lastErr = lastErr[:45] + "..."
					}
					fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\n",
						acc.AccountID, cred.ProjectName, cred.Status,
						cred.Stats.RequestsToday, cred.Stats.ErrorCount, lastErr)
				}
			}
		})
		_ = w.Flush()

		stats := fleet.Scheduler.Stats()
		fmt.Printf("\n%d/%d credentials available, cursor at account %d project %d, round %d, %d requests sent\n",
			stats.Available, stats.TotalProjects,
			stats.CurrentAccountIndex, stats.CurrentProjectIndex,
			stats.RotationRound, stats.TotalRequestsSent)
		return nil
	},
}

var keysResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Revive rate-limited and exhausted credentials",
	Long: `Clear rate-limit cooldowns and daily-exhaustion flags so every
credential except disabled and errored ones becomes available again.
Use after switching model tiers manually or when cooldowns are known
to be stale.`,
	RunE: func(c *cobra.Command, args []string) error {
		fleet, err := openFleet()
		if err != nil {
			return err
		}
		n := fleet.Scheduler.ResetAllExceptDisabled()
		fmt.Printf("Reset %d credential(s)\n", n)
		return nil
	},
}

var keysResetRotationCmd = &cobra.Command{
	Use:   "reset-rotation",
	Short: "Rewind the sweep cursor to the first account and project",
	RunE: func(c *cobra.Command, args []string) error {
		fleet, err := openFleet()
		if err != nil {
			return err
		}
		fleet.Scheduler.ResetCursor()
		fmt.Println("Rotation cursor reset")
		return nil
	},
}

func openFleet() (*bootstrap.Fleet, error) {
	res, err := bootstrap.Bootstrap(cfgFile)
	if err != nil {
		return nil, err
	}
	return bootstrap.OpenFleet(context.Background(), res.Config)
}

func init() {
	keysCmd.AddCommand(keysStatusCmd)
	keysCmd.AddCommand(keysResetCmd)
	keysCmd.AddCommand(keysResetRotationCmd)
	rootCmd.AddCommand(keysCmd)
}
