package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fieldwise/fieldwise/internal/daemon"
	"github.com/fieldwise/fieldwise/internal/domain"
)

func init() {
	challengesCmd.Flags().StringVar(&challengesTeam, "team", "", "Show a team's progress instead of a user's")
	rootCmd.AddCommand(challengesCmd)
}

var challengesTeam string

var challengesCmd = &cobra.Command{
	Use:   "challenges [USER]",
	Short: "Show challenge progress for a user or a team",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var subject domain.Subject
		switch {
		case challengesTeam != "":
			subject = domain.Team(challengesTeam)
		case len(args) == 1:
			subject = domain.Individual(args[0])
		default:
			return fmt.Errorf("a USER or --team is required")
		}
		return withDaemon(func(ctx context.Context, d *daemon.Daemon) error {
			return runChallenges(ctx, cmd, d, subject)
		})
	},
}

func runChallenges(ctx context.Context, cmd *cobra.Command, d *daemon.Daemon, subject domain.Subject) error {
	out := cmd.OutOrStdout()
	rows, err := d.Challenges.ListProgress(ctx, subject)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		fmt.Fprintf(out, "No challenge progress for %s.\n", subject.Key())
		return nil
	}
	for _, p := range rows {
		title := p.Title
		if title == "" {
			title = p.TemplateID
		}
		fmt.Fprintf(out, "%-34s %-9s %s  %d/%d\n", title, p.Status, bar(p.ProgressPct()), p.Progress, p.Target)
	}
	return nil
}
