package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/fieldwise/fieldwise/internal/daemon"
)

func init() {
	expireCmd.Flags().StringVar(&expireAt, "at", "", "Run as of this RFC 3339 time instead of now")
	rootCmd.AddCommand(expireCmd)
}

var expireAt string

var expireCmd = &cobra.Command{
	Use:   "expire",
	Short: "Expire ended challenge windows and fail overdue missions",
	Long:  `Run the maintenance job once. 'fieldwise serve' runs it on a schedule.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		now := time.Now()
		if expireAt != "" {
			t, err := time.Parse(time.RFC3339, expireAt)
			if err != nil {
				return fmt.Errorf("--at: %w", err)
			}
			now = t
		}
		return withDaemon(func(ctx context.Context, d *daemon.Daemon) error {
			rep, err := d.RunMaintenance(ctx, now)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Expired %d challenge windows, failed %d overdue missions.\n",
				rep.ExpiredChallenges, rep.FailedMissions)
			return nil
		})
	},
}
