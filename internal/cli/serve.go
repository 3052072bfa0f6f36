package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/fieldwise/fieldwise/internal/daemon"
)

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Host to listen on (overrides config)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Port to listen on (overrides config)")
	serveCmd.Flags().BoolVar(&serveNoJobs, "no-jobs", false, "Disable the maintenance scheduler")
	rootCmd.AddCommand(serveCmd)
}

var (
	serveHost   string
	servePort   int
	serveNoJobs bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Fieldwise API server",
	Long:  `Start the progress engine JSON API at localhost:8420 with the maintenance scheduler.`,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	d, err := daemon.New()
	if err != nil {
		return err
	}
	defer d.Close()

	// Override config from flags
	if serveHost != "" {
		d.Config.Server.Host = serveHost
	}
	if servePort > 0 {
		d.Config.Server.Port = servePort
	}
	if serveNoJobs {
		d.Config.Jobs.Enabled = false
	}

	return d.Serve(context.Background())
}
