package daemon

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/fieldwise/fieldwise/internal/api"
	"github.com/fieldwise/fieldwise/internal/app/engagement"
	"github.com/fieldwise/fieldwise/internal/app/ledger"
	"github.com/fieldwise/fieldwise/internal/app/mission"
	"github.com/fieldwise/fieldwise/internal/app/referral"
	"github.com/fieldwise/fieldwise/internal/app/shop"
	"github.com/fieldwise/fieldwise/internal/app/trust"
	"github.com/fieldwise/fieldwise/internal/health"
	_ "github.com/fieldwise/fieldwise/internal/infra/metrics" // Register Prometheus metrics
	"github.com/fieldwise/fieldwise/internal/infra/sqlite"
)

// Daemon is the core Fieldwise runtime. It wires together all services.
type Daemon struct {
	Config Config
	DB     *sqlite.DB
	Server *api.Server

	Ledger     *ledger.Service
	Resolver   *engagement.Resolver
	Streaks    *engagement.StreakService
	Challenges *engagement.ChallengeTracker
	Engine     *engagement.Engine
	Missions   *mission.Service
	Referrals  *referral.Service
	Trust      *trust.Calculator
	Shop       *shop.Service
	Health     *health.Checker

	sched   gocron.Scheduler
	logFile *os.File
	cancel  context.CancelFunc
}

// New creates and initializes a Daemon with all services wired.
func New() (*Daemon, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	return NewWithConfig(cfg)
}

// NewWithConfig creates a Daemon with the given configuration, storing data
// under the Fieldwise home directory.
func NewWithConfig(cfg Config) (*Daemon, error) {
	return NewInDir(cfg, fieldwiseHome())
}

// NewInDir creates a Daemon whose database lives in dir.
func NewInDir(cfg Config, dir string) (*Daemon, error) {
	d := &Daemon{Config: cfg}
	if err := d.setupLogging(); err != nil {
		return nil, err
	}

	db, err := sqlite.Open(dir)
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("open database: %w", err)
	}
	d.DB = db

	rules := cfg.Rules
	d.Ledger = ledger.NewService(db)
	d.Resolver = engagement.NewResolver(db, d.Ledger, rules)
	d.Resolver.SetDebug(cfg.Logging.Level == "debug")
	d.Streaks = engagement.NewStreakService(db, d.Ledger, rules.Streak)
	d.Challenges = engagement.NewChallengeTracker(db, d.Ledger)
	d.Engine = engagement.NewEngine(db, d.Resolver, d.Streaks, d.Challenges)
	d.Trust = trust.NewCalculator(db, rules.Trust)
	d.Missions = mission.NewService(db, d.Ledger, d.Trust, rules.Missions)
	d.Referrals = referral.NewService(db, d.Ledger, rules.Referral)
	d.Shop = shop.NewService(db, d.Ledger, d.Streaks)

	if err := d.seed(context.Background()); err != nil {
		d.Close()
		return nil, err
	}

	d.Server = api.NewServer(db, api.Services{
		Ledger:     d.Ledger,
		Engine:     d.Engine,
		Resolver:   d.Resolver,
		Streaks:    d.Streaks,
		Challenges: d.Challenges,
		Missions:   d.Missions,
		Referrals:  d.Referrals,
		Trust:      d.Trust,
		Shop:       d.Shop,
	})
	d.Health = health.NewChecker(db, dir)
	d.Server.SetHealth(d.Health)
	d.Server.SetJWTSecret(cfg.Auth.JWTSecret)
	if cfg.Server.Metrics {
		d.Server.EnableMetrics()
	}
	return d, nil
}

// seed loads the configured catalogs. Seeding is idempotent.
func (d *Daemon) seed(ctx context.Context) error {
	rules := d.Config.Rules
	if err := d.Missions.SeedCatalog(ctx, rules.Missions.Catalog); err != nil {
		return fmt.Errorf("seed missions: %w", err)
	}
	if err := d.Challenges.SeedTemplates(ctx, rules.Challenges); err != nil {
		return fmt.Errorf("seed challenges: %w", err)
	}
	if err := d.Shop.SeedCatalog(ctx, rules.Shop); err != nil {
		return fmt.Errorf("seed shop: %w", err)
	}
	log.Printf("[daemon] rules %s: %d actions, %d missions, %d challenges, %d shop items",
		rules.Version, len(rules.Actions), len(rules.Missions.Catalog), len(rules.Challenges), len(rules.Shop))
	return nil
}

func (d *Daemon) setupLogging() error {
	if d.Config.Logging.File == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(d.Config.Logging.File), 0700); err != nil {
		return fmt.Errorf("log dir: %w", err)
	}
	f, err := os.OpenFile(d.Config.Logging.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	log.SetOutput(f)
	d.logFile = f
	return nil
}

// ─── Maintenance ────────────────────────────────────────────────────────────

// MaintenanceReport summarizes one maintenance run.
type MaintenanceReport struct {
	ExpiredChallenges int64
	FailedMissions    int
}

// RunMaintenance expires challenge windows that have ended and fails
// missions overdue past the grace period.
func (d *Daemon) RunMaintenance(ctx context.Context, now time.Time) (MaintenanceReport, error) {
	var rep MaintenanceReport
	n, err := d.Challenges.ExpireStale(ctx, now)
	if err != nil {
		return rep, fmt.Errorf("expire challenges: %w", err)
	}
	rep.ExpiredChallenges = n

	failed, err := d.Missions.FailOverdue(ctx, now, d.Missions.Grace())
	if err != nil {
		return rep, fmt.Errorf("fail overdue missions: %w", err)
	}
	rep.FailedMissions = failed
	return rep, nil
}

// startJobs schedules RunMaintenance on the configured interval.
func (d *Daemon) startJobs(ctx context.Context) error {
	interval := parseDuration(d.Config.Jobs.Interval, 15*time.Minute)

	sched, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("create scheduler: %w", err)
	}
	_, err = sched.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			rep, err := d.RunMaintenance(ctx, time.Now())
			if err != nil {
				log.Printf("[jobs] maintenance: %v", err)
				return
			}
			if rep.ExpiredChallenges > 0 || rep.FailedMissions > 0 {
				log.Printf("[jobs] expired %d challenges, failed %d missions", rep.ExpiredChallenges, rep.FailedMissions)
			}
		}),
		gocron.WithName("maintenance"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = sched.Shutdown()
		return fmt.Errorf("schedule maintenance: %w", err)
	}
	sched.Start()
	d.sched = sched
	log.Printf("[jobs] maintenance every %s", interval)
	return nil
}

// ─── Serving ────────────────────────────────────────────────────────────────

// Serve starts the HTTP server and blocks until shutdown.
func (d *Daemon) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	defer cancel()

	// Health checker (always runs)
	go d.Health.Run(ctx)

	if d.Config.Jobs.Enabled {
		if err := d.startJobs(ctx); err != nil {
			return err
		}
	}

	addr := fmt.Sprintf("%s:%d", d.Config.Server.Host, d.Config.Server.Port)

	httpServer := &http.Server{
		Addr:         addr,
		Handler:      d.Server.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  2 * time.Minute,
	}

	// Graceful shutdown on signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go func() {
		select {
		case <-sigCh:
		case <-ctx.Done():
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		_ = httpServer.Shutdown(shutdownCtx)
	}()

	fmt.Printf("Fieldwise serving on http://%s\n", addr)
	if d.Config.Auth.JWTSecret == "" {
		fmt.Printf("  Identity: trusted X-User-ID headers\n")
	}
	if d.Config.Server.Metrics {
		fmt.Printf("  Metrics: http://%s/metrics\n", addr)
	}

	err := httpServer.ListenAndServe()
	if d.sched != nil {
		_ = d.sched.Shutdown()
		d.sched = nil
	}
	if err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Close shuts down all daemon resources.
func (d *Daemon) Close() {
	if d.cancel != nil {
		d.cancel()
	}
	if d.sched != nil {
		_ = d.sched.Shutdown()
		d.sched = nil
	}
	if d.DB != nil {
		_ = d.DB.Close()
		d.DB = nil
	}
	if d.logFile != nil {
		log.SetOutput(os.Stderr)
		_ = d.logFile.Close()
		d.logFile = nil
	}
}

// parseDuration parses a duration string, returning a fallback on error.
func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
