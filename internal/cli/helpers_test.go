package cli

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"

	"github.com/fieldwise/fieldwise/internal/daemon"
	"github.com/fieldwise/fieldwise/internal/domain"
)

func TestBar(t *testing.T) {
	tests := []struct {
		pct    float64
		filled int
		label  string
	}{
		{0, 0, "  0%"},
		{42, 8, " 42%"},
		{100, 20, "100%"},
		{150, 20, "100%"},
		{-5, 0, "  0%"},
	}
	for _, tt := range tests {
		got := bar(tt.pct)
		if n := strings.Count(got, "█"); n != tt.filled {
			t.Errorf("bar(%v) filled = %d, want %d (%q)", tt.pct, n, tt.filled, got)
		}
		if n := strings.Count(got, "█") + strings.Count(got, "░"); n != barWidth {
			t.Errorf("bar(%v) width = %d, want %d", tt.pct, n, barWidth)
		}
		if !strings.HasSuffix(got, tt.label) {
			t.Errorf("bar(%v) = %q, want suffix %q", tt.pct, got, tt.label)
		}
	}
}

func TestCommandsRegistered(t *testing.T) {
	want := []string{"serve", "balance", "streak", "challenges", "score", "referral", "catalog", "expire"}
	have := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		have[c.Name()] = true
	}
	for _, name := range want {
		if !have[name] {
			t.Errorf("command %q not registered", name)
		}
	}
}

// ─── Command Output ─────────────────────────────────────────────────────────

func testDaemon(t *testing.T, dir string) *daemon.Daemon {
	t.Helper()
	d, err := daemon.NewInDir(daemon.DefaultConfig(), dir)
	if err != nil {
		t.Fatalf("NewInDir: %v", err)
	}
	return d
}

func TestRunBalance(t *testing.T) {
	d := testDaemon(t, t.TempDir())
	defer d.Close()
	ctx := context.Background()

	if _, err := d.Engine.Track(ctx, domain.ActionEvent{UserID: "u1", ActionType: "price_check", At: time.Now()}); err != nil {
		t.Fatalf("track: %v", err)
	}

	balanceVerify, balanceHistory = true, 5
	t.Cleanup(func() { balanceVerify, balanceHistory = false, 0 })

	var buf bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&buf)
	if err := runBalance(ctx, cmd, d, "u1"); err != nil {
		t.Fatalf("runBalance: %v", err)
	}

	out := buf.String()
	for _, want := range []string{"User:      u1", "Balance:   5 points", "Ledger:    consistent", "price_check"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestRunChallenges(t *testing.T) {
	d := testDaemon(t, t.TempDir())
	defer d.Close()
	ctx := context.Background()

	var buf bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&buf)
	if err := runChallenges(ctx, cmd, d, domain.Individual("u1")); err != nil {
		t.Fatalf("runChallenges: %v", err)
	}
	if !strings.Contains(buf.String(), "No challenge progress for user:u1") {
		t.Errorf("empty output = %q", buf.String())
	}

	d.Engine.Track(ctx, domain.ActionEvent{UserID: "u1", ActionType: "price_check", At: time.Now()})
	buf.Reset()
	if err := runChallenges(ctx, cmd, d, domain.Individual("u1")); err != nil {
		t.Fatalf("runChallenges: %v", err)
	}
	if out := buf.String(); !strings.Contains(out, "1/10") || !strings.Contains(out, " 10%") {
		t.Errorf("output = %q, want 1/10 at 10%%", out)
	}
}

func TestExpireCommand(t *testing.T) {
	home := t.TempDir()
	t.Setenv("FIELDWISE_HOME", home)
	t.Setenv("FIELDWISE_PORT", "")
	t.Setenv("FIELDWISE_JWT_SECRET", "")

	d := testDaemon(t, home)
	if _, err := d.Missions.Start(context.Background(), "u1", "drip-irrigation-setup", "f1"); err != nil {
		t.Fatalf("start mission: %v", err)
	}
	d.Close()

	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetArgs([]string{"expire", "--at", time.Now().AddDate(0, 0, 30).Format(time.RFC3339)})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
		expireAt = ""
	})

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("expire: %v", err)
	}
	if !strings.Contains(buf.String(), "failed 1 overdue missions") {
		t.Errorf("output = %q", buf.String())
	}
}
