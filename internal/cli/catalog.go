package cli

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/fieldwise/fieldwise/internal/daemon"
	"github.com/fieldwise/fieldwise/internal/domain"
)

func init() {
	rootCmd.AddCommand(catalogCmd)
}

var catalogCmd = &cobra.Command{
	Use:       "catalog [missions|challenges|shop]",
	Short:     "List the seeded mission, challenge and shop catalogs",
	Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"missions", "challenges", "shop"},
	RunE: func(cmd *cobra.Command, args []string) error {
		which := ""
		if len(args) == 1 {
			which = args[0]
		}
		return withDaemon(func(ctx context.Context, d *daemon.Daemon) error {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			for _, section := range []struct {
				name string
				list func(context.Context, *daemon.Daemon, io.Writer) error
			}{
				{"missions", listMissions},
				{"challenges", listChallenges},
				{"shop", listShop},
			} {
				if which != "" && which != section.name {
					continue
				}
				if err := section.list(ctx, d, w); err != nil {
					return err
				}
				fmt.Fprintln(w)
			}
			return w.Flush()
		})
	},
}

func listMissions(ctx context.Context, d *daemon.Daemon, w io.Writer) error {
	missions, err := d.Missions.Catalog(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, "MISSION\tCATEGORY\tSTEPS\tPOINTS\tXP")
	for _, m := range missions {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\n", m.ID, m.Category, len(m.Steps), m.CompletionPoints, m.CompletionXP)
	}
	return nil
}

func listChallenges(ctx context.Context, d *daemon.Daemon, w io.Writer) error {
	now := time.Now()
	fmt.Fprintln(w, "CHALLENGE\tFOR\tACTION\tTARGET\tPOINTS\tRECURS\tOPEN")
	for _, subject := range []domain.Subject{domain.Individual(""), domain.Team("")} {
		templates, err := d.Challenges.Templates(ctx, subject)
		if err != nil {
			return err
		}
		for _, c := range templates {
			open := "no"
			if c.Contains(now) {
				open = "yes"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\t%s\n", c.ID, c.SubjectKind, c.ActionKey, c.Target, c.RewardPoints, c.Recurrence, open)
		}
	}
	return nil
}

func listShop(ctx context.Context, d *daemon.Daemon, w io.Writer) error {
	items, err := d.Shop.Catalog(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, "ITEM\tCOST\tSTOCK")
	for _, it := range items {
		stock := fmt.Sprint(it.Stock)
		if it.Stock == domain.UnlimitedStock {
			stock = "unlimited"
		}
		fmt.Fprintf(w, "%s\t%d\t%s\n", it.ID, it.PointsCost, stock)
	}
	return nil
}
