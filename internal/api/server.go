// Package api provides the HTTP server for Fieldwise.
// It exposes the progress engine's queries and commands as a JSON API
// under /api/v1, plus /health and Prometheus /metrics.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fieldwise/fieldwise/internal/app/engagement"
	"github.com/fieldwise/fieldwise/internal/app/ledger"
	"github.com/fieldwise/fieldwise/internal/app/mission"
	"github.com/fieldwise/fieldwise/internal/app/referral"
	"github.com/fieldwise/fieldwise/internal/app/shop"
	"github.com/fieldwise/fieldwise/internal/app/trust"
	"github.com/fieldwise/fieldwise/internal/domain"
	"github.com/fieldwise/fieldwise/internal/health"
	"github.com/fieldwise/fieldwise/internal/infra/sqlite"
)

// Services bundles the engine components the API serves.
type Services struct {
	Ledger     *ledger.Service
	Engine     *engagement.Engine
	Resolver   *engagement.Resolver
	Streaks    *engagement.StreakService
	Challenges *engagement.ChallengeTracker
	Missions   *mission.Service
	Referrals  *referral.Service
	Trust      *trust.Calculator
	Shop       *shop.Service
}

// Server is the Fieldwise HTTP API server.
type Server struct {
	db             *sqlite.DB
	svc            Services
	health         *health.Checker
	jwtSecret      []byte
	metricsEnabled bool
	now            func() time.Time
}

// NewServer creates a new API server.
func NewServer(db *sqlite.DB, svc Services) *Server {
	return &Server{db: db, svc: svc, now: time.Now}
}

// EnableMetrics enables the /metrics Prometheus endpoint.
func (s *Server) EnableMetrics() { s.metricsEnabled = true }

// SetJWTSecret switches identity from trusted headers to HS256 bearer
// tokens signed with secret.
func (s *Server) SetJWTSecret(secret string) {
	if secret != "" {
		s.jwtSecret = []byte(secret)
	}
}

// SetHealth reports the checker's latest results on /health.
func (s *Server) SetHealth(c *health.Checker) { s.health = c }

// SetClock overrides the time source. Used by tests.
func (s *Server) SetClock(now func() time.Time) { s.now = now }

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(corsMiddleware)

	r.Get("/health", s.handleHealth)

	if s.metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.identity)

		r.Post("/actions", s.handleTrack)

		// Ledger
		r.Get("/me/balance", s.handleBalance)
		r.Get("/me/ledger", s.handleLedger)
		r.Get("/me/level", s.handleLevel)
		r.Get("/me/xp", s.handleXP)
		r.Post("/ledger/earn", s.handleEarn)
		r.Post("/ledger/redeem", s.handleLedgerRedeem)

		// Streaks, badges, challenges
		r.Get("/me/streak", s.handleStreak)
		r.Post("/me/streak/save", s.handleSaveStreak)
		r.Get("/me/badges", s.handleBadges)
		r.Get("/me/challenges", s.handleMyChallenges)
		r.Route("/teams/{teamID}", func(r chi.Router) {
			r.Get("/challenges", s.handleTeamChallenges)
			r.Post("/challenges", s.handleCreateTeamChallenge)
			r.Post("/progress", s.handleTeamProgress)
		})

		// Missions
		r.Get("/missions", s.handleMissionCatalog)
		r.Get("/me/missions", s.handleMyMissions)
		r.Post("/me/missions", s.handleStartMission)
		r.Get("/me/missions/{id}", s.handleGetMission)
		r.Post("/me/missions/{id}/steps/{idx}/complete", s.handleCompleteStep)
		r.Post("/me/missions/{id}/steps/{idx}/skip", s.handleSkipStep)
		r.Post("/me/missions/{id}/abandon", s.handleAbandonMission)

		// Referrals
		r.Get("/me/referral", s.handleReferral)
		r.Post("/referrals", s.handleCreateReferral)
		r.Post("/me/referral/activate", s.handleActivateReferral)
		r.Post("/me/referral/milestones", s.handleCheckMilestones)

		// Score and shop
		r.Get("/me/score", s.handleScore)
		r.Get("/shop", s.handleShopCatalog)
		r.Post("/shop/redeem", s.handleShopRedeem)
		r.Get("/me/redemptions", s.handleRedemptions)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.db.Ping(); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "degraded", "db": err.Error()})
		return
	}
	if s.health == nil {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
		return
	}
	status, code := "ok", http.StatusOK
	if !s.health.IsHealthy() {
		status, code = "degraded", http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{"status": status, "checks": s.health.Statuses()})
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, kind, code, msg string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    kind,
			"code":    code,
		},
	})
}

// writeDomainError maps an error onto an HTTP status by its kind.
// Errors without a kind are infrastructure failures and are logged.
func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var de *domain.Error
	if !errors.As(err, &de) {
		log.Printf("[api] %s %s: %v", r.Method, r.URL.Path, err)
		writeError(w, http.StatusInternalServerError, "internal", "internal", "internal error")
		return
	}
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrNotTeamAdmin):
		status = http.StatusForbidden
	case de.Kind == domain.KindValidation:
		status = http.StatusBadRequest
	case de.Kind == domain.KindNotFound:
		status = http.StatusNotFound
	case de.Kind == domain.KindConflict:
		status = http.StatusConflict
	case de.Kind == domain.KindInsufficient:
		status = http.StatusUnprocessableEntity
	}
	writeError(w, status, string(de.Kind), de.Code, err.Error())
}

// decode reads a JSON body into v. An empty body leaves v untouched.
func decode(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err != nil {
		return domain.Validationf("invalid JSON body: %v", err)
	}
	return nil
}

// queryInt parses an optional integer query parameter.
func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, domain.Validationf("%s must be an integer", name)
	}
	return n, nil
}

// corsMiddleware adds CORS headers for browser clients.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-User-ID, X-Team-Roles")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
