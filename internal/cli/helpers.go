package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/fieldwise/fieldwise/internal/daemon"
)

// ─── Progress Bar ───────────────────────────────────────────────────────────
// Level and challenge progress render as [████████░░░░░░░░░░░░]  42%.

const barWidth = 20 // Characters for the progress bar

// bar renders pct (0..100) as a fixed-width bar.
func bar(pct float64) string {
	switch {
	case pct < 0:
		pct = 0
	case pct > 100:
		pct = 100
	}
	filled := int(pct / 100 * barWidth)
	return fmt.Sprintf("[%s%s] %3.0f%%",
		strings.Repeat("█", filled), strings.Repeat("░", barWidth-filled), pct)
}

// withDaemon opens the local store, runs fn, and closes it.
func withDaemon(fn func(ctx context.Context, d *daemon.Daemon) error) error {
	d, err := daemon.New()
	if err != nil {
		return err
	}
	defer d.Close()
	return fn(context.Background(), d)
}
