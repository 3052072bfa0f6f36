package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/fieldwise/fieldwise/internal/daemon"
)

func init() {
	rootCmd.AddCommand(streakCmd)
}

var streakCmd = &cobra.Command{
	Use:   "streak USER",
	Short: "Show a user's daily streak and badges",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDaemon(func(ctx context.Context, d *daemon.Daemon) error {
			out := cmd.OutOrStdout()
			st, err := d.Streaks.Status(ctx, args[0], time.Now())
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Streak:   %d days (longest %d)\n", st.Current, st.Longest)
			fmt.Fprintf(out, "State:    %s\n", st.State)
			fmt.Fprintf(out, "Freezes:  %d\n", st.FreezeTokens)
			if st.LastDay != "" {
				fmt.Fprintf(out, "Last day: %s\n", st.LastDay)
			}
			if st.CanSave {
				fmt.Fprintln(out, "A freeze token can save this streak today.")
			}

			badges, _, err := d.Resolver.Badges(ctx, args[0])
			if err != nil {
				return err
			}
			for _, b := range badges {
				tier := b.Tier
				if tier == "" {
					tier = "-"
				}
				fmt.Fprintf(out, "Badge:    %-18s %-8s %d", b.Badge, tier, b.Count)
				if b.NextTarget > 0 {
					fmt.Fprintf(out, " (next at %d)", b.NextTarget)
				}
				fmt.Fprintln(out)
			}
			return nil
		})
	},
}
