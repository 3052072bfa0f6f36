package daemon

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/fieldwise/fieldwise/internal/domain"
)

func newTestDaemon(t *testing.T, cfg Config) *Daemon {
	t.Helper()
	d, err := NewInDir(cfg, t.TempDir())
	if err != nil {
		t.Fatalf("NewInDir: %v", err)
	}
	t.Cleanup(d.Close)
	return d
}

func TestNewInDir_SeedsCatalogs(t *testing.T) {
	d := newTestDaemon(t, DefaultConfig())
	ctx := context.Background()

	missions, err := d.Missions.Catalog(ctx)
	if err != nil {
		t.Fatalf("mission catalog: %v", err)
	}
	if len(missions) != len(d.Config.Rules.Missions.Catalog) {
		t.Errorf("missions = %d, want %d", len(missions), len(d.Config.Rules.Missions.Catalog))
	}
	items, err := d.Shop.Catalog(ctx)
	if err != nil {
		t.Fatalf("shop catalog: %v", err)
	}
	if len(items) != len(d.Config.Rules.Shop) {
		t.Errorf("shop items = %d, want %d", len(items), len(d.Config.Rules.Shop))
	}
	if d.Server == nil {
		t.Error("API server not wired")
	}
}

func TestNewInDir_ReopenIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	for i := 0; i < 2; i++ {
		d, err := NewInDir(DefaultConfig(), dir)
		if err != nil {
			t.Fatalf("open %d: %v", i, err)
		}
		d.Close()
	}
}

func TestRunMaintenance(t *testing.T) {
	d := newTestDaemon(t, DefaultConfig())
	ctx := context.Background()
	now := time.Now()

	if _, err := d.Engine.Track(ctx, domain.ActionEvent{UserID: "u1", ActionType: "price_check", At: now}); err != nil {
		t.Fatalf("track: %v", err)
	}
	if _, err := d.Missions.Start(ctx, "u1", "drip-irrigation-setup", "f1"); err != nil {
		t.Fatalf("start mission: %v", err)
	}

	rep, err := d.RunMaintenance(ctx, now)
	if err != nil {
		t.Fatalf("maintenance: %v", err)
	}
	if rep.ExpiredChallenges != 0 || rep.FailedMissions != 0 {
		t.Errorf("fresh state report = %+v, want nothing to do", rep)
	}

	rep, err = d.RunMaintenance(ctx, now.AddDate(0, 0, 30))
	if err != nil {
		t.Fatalf("maintenance: %v", err)
	}
	if rep.ExpiredChallenges == 0 {
		t.Error("expected the weekly challenge window to expire")
	}
	if rep.FailedMissions != 1 {
		t.Errorf("failed missions = %d, want 1", rep.FailedMissions)
	}

	list, err := d.Missions.List(ctx, "u1", domain.MissionFailed)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("failed missions listed = %d, want 1", len(list))
	}
}

func TestSetupLogging_File(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Logging.File = filepath.Join(t.TempDir(), "logs", "fieldwise.log")
	d := newTestDaemon(t, cfg)

	if d.logFile == nil {
		t.Fatal("log file not opened")
	}
}
