package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fieldwise/fieldwise/internal/daemon"
)

func init() {
	referralCmd.Flags().BoolVar(&referralClaim, "claim", false, "Claim any referral milestones reached")
	rootCmd.AddCommand(referralCmd)
}

var referralClaim bool

var referralCmd = &cobra.Command{
	Use:   "referral USER",
	Short: "Show a user's referral code, counts and milestones",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDaemon(func(ctx context.Context, d *daemon.Daemon) error {
			out := cmd.OutOrStdout()
			user := args[0]

			if _, err := d.Referrals.Code(ctx, user); err != nil {
				return err
			}
			if referralClaim {
				res, err := d.Referrals.CheckMilestones(ctx, user)
				if err != nil {
					return err
				}
				for _, c := range res.Claimed {
					fmt.Fprintf(out, "Claimed milestone %d: +%d points\n", c.Threshold, c.Points)
				}
			}

			st, err := d.Referrals.Stats(ctx, user)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Code:      %s\n", st.Code)
			fmt.Fprintf(out, "Referrals: %d (%d activated)\n", st.Total, st.Activated)
			fmt.Fprintf(out, "Tier:      %s\n", st.Tier)
			for _, m := range st.Milestones {
				mark := " "
				if m.Claimed {
					mark = "x"
				}
				fmt.Fprintf(out, "  [%s] %3d referrals  %5d points  %s\n", mark, m.Threshold, m.Points, m.Tier)
			}
			return nil
		})
	},
}
