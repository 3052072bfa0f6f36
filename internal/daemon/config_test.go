package daemon

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// isolate points the data dir at a temp dir and clears env overrides.
func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("FIELDWISE_HOME", home)
	t.Setenv("FIELDWISE_PORT", "")
	t.Setenv("FIELDWISE_JWT_SECRET", "")
	return home
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("Server.Host = %q, want %q", cfg.Server.Host, "127.0.0.1")
	}
	if cfg.Server.Port != 8420 {
		t.Errorf("Server.Port = %d, want %d", cfg.Server.Port, 8420)
	}
	if !cfg.Jobs.Enabled || cfg.Jobs.Interval != "15m" {
		t.Errorf("Jobs = %+v", cfg.Jobs)
	}
	if cfg.Rules.Version == "" || len(cfg.Rules.Actions) == 0 {
		t.Errorf("default rules missing: %+v", cfg.Rules)
	}
}

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	isolate(t)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Server.Port != 8420 {
		t.Errorf("Server.Port = %d, want default", cfg.Server.Port)
	}
	if len(cfg.Rules.Missions.Catalog) == 0 {
		t.Error("default mission catalog missing")
	}
}

func TestLoadConfig_PartialRules(t *testing.T) {
	home := isolate(t)
	writeFile(t, filepath.Join(home, "config.toml"), `
[server]
port = 9000
metrics = true

[rules]
version = "2025.2"

[rules.actions.price_check]
points = 7
xp = 1
daily_limit = 2

[[rules.missions.catalog]]
name = "Mulch Beds"
completion_points = 10
completion_xp = 20

  [[rules.missions.catalog.steps]]
  name = "Spread mulch"
  offset_days = 0
`)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Server.Port != 9000 || !cfg.Server.Metrics {
		t.Errorf("Server = %+v", cfg.Server)
	}
	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("Server.Host = %q, want default kept", cfg.Server.Host)
	}
	if cfg.Rules.Version != "2025.2" {
		t.Errorf("Rules.Version = %q", cfg.Rules.Version)
	}
	if len(cfg.Rules.Actions) != 1 || cfg.Rules.Actions["price_check"].Points != 7 {
		t.Errorf("Actions = %+v, want only the configured rule", cfg.Rules.Actions)
	}
	if got := cfg.Rules.Missions.Catalog; len(got) != 1 || got[0].ID != "mulch-beds" {
		t.Errorf("mission catalog = %+v, want one slugged mission", got)
	}
	// Sections left out of the file fall back to the shipped tables.
	if cfg.Rules.Referral.CodePrefix != "FARM" {
		t.Errorf("Referral = %+v, want defaults", cfg.Rules.Referral)
	}
	if len(cfg.Rules.Shop) == 0 || cfg.Rules.Shop[0].ID == "" {
		t.Errorf("Shop = %+v, want defaults with ids", cfg.Rules.Shop)
	}
}

func TestLoadConfig_InvalidTOML(t *testing.T) {
	home := isolate(t)
	writeFile(t, filepath.Join(home, "config.toml"), "[server\nport = ")

	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	isolate(t)
	t.Setenv("FIELDWISE_PORT", "9100")
	t.Setenv("FIELDWISE_JWT_SECRET", "from-env")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Server.Port != 9100 {
		t.Errorf("Server.Port = %d, want 9100", cfg.Server.Port)
	}
	if cfg.Auth.JWTSecret != "from-env" {
		t.Errorf("JWTSecret = %q", cfg.Auth.JWTSecret)
	}
}

func TestLoadConfig_InvalidPort(t *testing.T) {
	isolate(t)
	t.Setenv("FIELDWISE_PORT", "http")

	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected error for invalid FIELDWISE_PORT")
	}
}

func TestLoadConfig_DotEnv(t *testing.T) {
	home := isolate(t)
	os.Unsetenv("FIELDWISE_JWT_SECRET")
	t.Cleanup(func() { os.Unsetenv("FIELDWISE_JWT_SECRET") })
	writeFile(t, filepath.Join(home, ".env"), "FIELDWISE_JWT_SECRET=dotenv-secret\n")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Auth.JWTSecret != "dotenv-secret" {
		t.Errorf("JWTSecret = %q, want value from .env", cfg.Auth.JWTSecret)
	}
}

func TestSaveConfig_RoundTrip(t *testing.T) {
	isolate(t)
	cfg := DefaultConfig()
	cfg.Server.Port = 9200

	if err := SaveConfig(cfg); err != nil {
		t.Fatalf("SaveConfig: %v", err)
	}
	got, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if got.Server.Port != 9200 {
		t.Errorf("Server.Port = %d, want 9200", got.Server.Port)
	}
	if len(got.Rules.Actions) != len(cfg.Rules.Actions) {
		t.Errorf("actions = %d, want %d", len(got.Rules.Actions), len(cfg.Rules.Actions))
	}
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"5m", "5m0s"},
		{"", "15m0s"},
		{"soon", "15m0s"},
		{"-1m", "15m0s"},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := parseDuration(tt.input, parseDuration("15m", 0)).String(); got != tt.want {
				t.Errorf("parseDuration(%q) = %s, want %s", tt.input, got, tt.want)
			}
		})
	}
}
