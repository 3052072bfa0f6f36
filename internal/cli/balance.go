package cli

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/fieldwise/fieldwise/internal/daemon"
	"github.com/fieldwise/fieldwise/internal/domain"
)

func init() {
	balanceCmd.Flags().IntVarP(&balanceHistory, "history", "n", 0, "Show the last N ledger entries")
	balanceCmd.Flags().BoolVar(&balanceVerify, "verify", false, "Check the balance against the ledger entries")
	rootCmd.AddCommand(balanceCmd)
}

var (
	balanceHistory int
	balanceVerify  bool
)

var balanceCmd = &cobra.Command{
	Use:   "balance USER",
	Short: "Show a user's points balance and level",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDaemon(func(ctx context.Context, d *daemon.Daemon) error {
			return runBalance(ctx, cmd, d, args[0])
		})
	},
}

func runBalance(ctx context.Context, cmd *cobra.Command, d *daemon.Daemon, user string) error {
	out := cmd.OutOrStdout()
	subject := domain.Individual(user)

	b, err := d.Ledger.Balance(ctx, subject)
	if err != nil {
		return err
	}
	ul, err := d.Ledger.Level(ctx, subject)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "User:      %s\n", user)
	fmt.Fprintf(out, "Balance:   %d points\n", b.Balance)
	fmt.Fprintf(out, "Lifetime:  +%d / -%d\n", b.LifetimeEarned, b.LifetimeSpent)
	fmt.Fprintf(out, "Level:     %d (%d XP, %d to next)\n", ul.Level, ul.TotalXP, ul.XPToNext)
	fmt.Fprintf(out, "           %s\n", bar(ul.ProgressPct))

	if balanceVerify {
		if err := d.Ledger.Verify(ctx, subject); err != nil {
			return err
		}
		fmt.Fprintln(out, "Ledger:    consistent")
	}

	if balanceHistory > 0 {
		entries, err := d.Ledger.History(ctx, subject, balanceHistory)
		if err != nil {
			return err
		}
		fmt.Fprintln(out)
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "WHEN\tKIND\tAMOUNT\tSOURCE\tBALANCE")
		for _, e := range entries {
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%d\n",
				e.CreatedAt.Local().Format("2006-01-02 15:04"), e.Kind, e.Amount, e.Source, e.BalanceAfter)
		}
		return w.Flush()
	}
	return nil
}
