// Package daemon manages the Fieldwise daemon lifecycle and configuration.
package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"github.com/fieldwise/fieldwise/internal/domain"
)

// Config holds all daemon configuration.
type Config struct {
	Server  ServerConfig  `toml:"server"`
	Auth    AuthConfig    `toml:"auth"`
	Jobs    JobsConfig    `toml:"jobs"`
	Logging LoggingConfig `toml:"logging"`
	Rules   domain.Rules  `toml:"rules"`
}

// ServerConfig controls the HTTP API server.
type ServerConfig struct {
	Host    string `toml:"host"`
	Port    int    `toml:"port"`
	Metrics bool   `toml:"metrics"`
}

// AuthConfig controls how the API resolves callers.
// An empty JWTSecret means identity comes from trusted proxy headers.
type AuthConfig struct {
	JWTSecret string `toml:"jwt_secret"`
}

// JobsConfig controls the maintenance scheduler.
type JobsConfig struct {
	Enabled  bool   `toml:"enabled"`
	Interval string `toml:"interval"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level string `toml:"level"`
	File  string `toml:"file"`
}

// DefaultConfig returns the shipped configuration.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 8420,
		},
		Jobs: JobsConfig{
			Enabled:  true,
			Interval: "15m",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Rules: domain.DefaultRules(),
	}
}

// LoadConfig reads config from ~/.fieldwise/config.toml, falling back to
// defaults, then applies environment overrides.
func LoadConfig() (Config, error) {
	return LoadConfigFrom(filepath.Join(fieldwiseHome(), "config.toml"))
}

// LoadConfigFrom reads config from path. A missing file is not an error.
func LoadConfigFrom(path string) (Config, error) {
	loadDotEnv()

	cfg := DefaultConfig()
	if _, err := os.Stat(path); err == nil {
		// Tables present in the file replace the shipped ones wholesale.
		cfg.Rules = domain.Rules{}
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
		cfg.Rules = mergeRules(cfg.Rules, domain.DefaultRules())
	}
	cfg.Rules.Normalize()

	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// mergeRules fills the sections a config file left out from def.
func mergeRules(r, def domain.Rules) domain.Rules {
	if r.Version == "" {
		r.Version = def.Version
	}
	if len(r.Actions) == 0 {
		r.Actions = def.Actions
	}
	if len(r.Badges) == 0 {
		r.Badges = def.Badges
	}
	if r.Streak.MaxFreezeTokens == 0 && len(r.Streak.Milestones) == 0 {
		r.Streak = def.Streak
	}
	if len(r.Missions.Catalog) == 0 && r.Missions.StepXP == 0 {
		r.Missions = def.Missions
	}
	if len(r.Challenges) == 0 {
		r.Challenges = def.Challenges
	}
	if r.Referral.CodePrefix == "" {
		r.Referral = def.Referral
	}
	if len(r.Trust.ArticleActions)+len(r.Trust.VideoActions)+len(r.Trust.PhotoActions) == 0 {
		r.Trust = def.Trust
	}
	if len(r.Shop) == 0 {
		r.Shop = def.Shop
	}
	return r
}

// loadDotEnv loads .env from the working directory and the data dir.
// Variables already set in the environment win.
func loadDotEnv() {
	for _, p := range []string{".env", filepath.Join(fieldwiseHome(), ".env")} {
		if _, err := os.Stat(p); err == nil {
			_ = godotenv.Load(p)
		}
	}
}

func applyEnv(cfg *Config) error {
	if v := os.Getenv("FIELDWISE_JWT_SECRET"); v != "" {
		cfg.Auth.JWTSecret = v
	}
	if v := os.Getenv("FIELDWISE_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil || port <= 0 || port > 65535 {
			return fmt.Errorf("FIELDWISE_PORT: invalid port %q", v)
		}
		cfg.Server.Port = port
	}
	return nil
}

// SaveConfig writes the config to ~/.fieldwise/config.toml.
func SaveConfig(cfg Config) error {
	path := filepath.Join(fieldwiseHome(), "config.toml")
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	encoder := toml.NewEncoder(f)
	return encoder.Encode(cfg)
}

// fieldwiseHome returns the Fieldwise data directory.
func fieldwiseHome() string {
	if env := os.Getenv("FIELDWISE_HOME"); env != "" {
		return env
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".fieldwise")
}

// Home is exported for use by other packages.
func Home() string {
	return fieldwiseHome()
}
