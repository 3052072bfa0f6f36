// Package cli implements the Fieldwise command-line interface using Cobra.
// serve runs the API daemon; the other commands inspect and maintain the
// local progress store directly.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "fieldwise",
	Short: "Fieldwise: gamification and progress engine",
	Long: `Fieldwise tracks farmer engagement: points, XP and levels, daily
streaks, challenges, guided missions, referrals, the farmer trust score
and the reward shop.

Run 'fieldwise serve' to start the API, or inspect a user directly.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. Called from main.go.
func Execute(version string) {
	rootCmd.Version = version

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
