package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/fieldwise/fieldwise/internal/daemon"
	"github.com/fieldwise/fieldwise/internal/domain"
)

func init() {
	scoreCmd.Flags().BoolVar(&scoreSave, "save", false, "Store the result as the user's score snapshot")
	rootCmd.AddCommand(scoreCmd)
}

var scoreSave bool

var scoreCmd = &cobra.Command{
	Use:   "score USER",
	Short: "Compute a user's farmer trust score",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDaemon(func(ctx context.Context, d *daemon.Daemon) error {
			var (
				score domain.FarmerScore
				err   error
			)
			if scoreSave {
				score, err = d.Trust.Recompute(ctx, args[0], time.Now())
			} else {
				score, err = d.Trust.Score(ctx, args[0], time.Now())
			}
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Learning:    %5.2f / 25\n", score.Learning)
			fmt.Fprintf(out, "Missions:    %5.2f / 25\n", score.Missions)
			fmt.Fprintf(out, "Engagement:  %5.2f / 25\n", score.Engagement)
			fmt.Fprintf(out, "Reliability: %5.2f / 25\n", score.Reliability)
			fmt.Fprintf(out, "Total:       %5.2f  %s\n", score.Total, score.Tier)
			return nil
		})
	},
}
