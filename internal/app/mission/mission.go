// Package mission implements guided multi-step farm missions.
//
// A mission template is an ordered list of steps with due offsets. Starting
// a mission creates one instance per (user, mission, field) with one step
// row per template step. Steps complete strictly in index order; finishing
// the last step completes the instance exactly once, pays the completion
// reward and refreshes the user's trust score, all in one transaction.
package mission

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gosimple/slug"

	"github.com/fieldwise/fieldwise/internal/app/ledger"
	"github.com/fieldwise/fieldwise/internal/app/trust"
	"github.com/fieldwise/fieldwise/internal/domain"
	"github.com/fieldwise/fieldwise/internal/infra/metrics"
	"github.com/fieldwise/fieldwise/internal/infra/sqlite"
)

// Service runs the mission state machine.
type Service struct {
	db     *sqlite.DB
	ledger *ledger.Service
	trust  *trust.Calculator
	rules  domain.MissionRules
	now    func() time.Time
}

// NewService creates a mission service.
func NewService(db *sqlite.DB, l *ledger.Service, tc *trust.Calculator, rules domain.MissionRules) *Service {
	return &Service{db: db, ledger: l, trust: tc, rules: rules, now: time.Now}
}

// SetClock overrides the time source. Used by tests.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// ─── Catalog ────────────────────────────────────────────────────────────────

// SeedCatalog upserts templates. Templates without an id get a slug of
// their name.
func (s *Service) SeedCatalog(ctx context.Context, templates []domain.MissionTemplate) error {
	return s.db.WithTx(ctx, func(tx *sqlite.Tx) error {
		for _, m := range templates {
			if m.ID == "" {
				m.ID = slug.Make(m.Name)
			}
			if strings.TrimSpace(m.Name) == "" {
				return domain.Validationf("mission name is required")
			}
			if len(m.Steps) == 0 {
				return fmt.Errorf("mission %q: %w", m.ID, domain.ErrMissionHasNoSteps)
			}
			if m.CompletionPoints < 0 || m.CompletionXP < 0 {
				return fmt.Errorf("mission %q: %w", m.ID, domain.ErrInvalidAmount)
			}
			if err := tx.UpsertMissionTemplate(m); err != nil {
				return err
			}
		}
		return nil
	})
}

// Catalog lists every mission template.
func (s *Service) Catalog(ctx context.Context) ([]domain.MissionTemplate, error) {
	var out []domain.MissionTemplate
	err := s.db.View(ctx, func(tx *sqlite.Tx) (err error) {
		out, err = tx.ListMissionTemplates()
		return err
	})
	return out, err
}

// ─── Lifecycle ──────────────────────────────────────────────────────────────

// Start creates a mission instance for a user, optionally tied to a field.
func (s *Service) Start(ctx context.Context, userID, missionID, fieldID string) (domain.UserMission, error) {
	if userID == "" {
		return domain.UserMission{}, domain.ErrMissingSubject
	}
	now := s.now().UTC().Truncate(time.Second)

	var um domain.UserMission
	err := s.db.WithTx(ctx, func(tx *sqlite.Tx) error {
		tmpl, found, err := tx.GetMissionTemplate(missionID)
		if err != nil {
			return err
		}
		if !found {
			return domain.ErrUnknownMission
		}
		if len(tmpl.Steps) == 0 {
			return domain.ErrMissionHasNoSteps
		}
		active, err := tx.ActiveMissionExists(userID, missionID, fieldID)
		if err != nil {
			return err
		}
		if active {
			return domain.ErrMissionActive
		}

		um = domain.UserMission{
			ID:         uuid.New().String(),
			UserID:     userID,
			MissionID:  missionID,
			FieldID:    fieldID,
			Status:     domain.MissionActive,
			TotalSteps: len(tmpl.Steps),
			StartedAt:  now,
			UpdatedAt:  now,
		}
		for i, st := range tmpl.Steps {
			status := domain.StepPending
			if i == 0 {
				status = domain.StepInProgress
			}
			um.Steps = append(um.Steps, domain.StepProgress{
				Index:  i,
				Name:   st.Name,
				Status: status,
				DueAt:  now.AddDate(0, 0, st.OffsetDays),
			})
		}
		if err := tx.InsertUserMission(um); err != nil {
			if errors.Is(err, sqlite.ErrActiveMissionExists) {
				return domain.ErrMissionActive
			}
			return err
		}
		tx.AfterCommit(func() {
			log.Printf("[mission] %s started %s (%s)", userID, missionID, um.ID)
		})
		return nil
	})
	return um, err
}

// CompleteStep marks step idx completed. Completing an already completed
// step is a no-op that reports AlreadyCompleted and pays nothing.
func (s *Service) CompleteStep(ctx context.Context, userID, userMissionID string, idx int, evidence, notes string) (domain.StepResult, error) {
	var res domain.StepResult
	err := s.db.WithTx(ctx, func(tx *sqlite.Tx) (err error) {
		res, err = s.finishStepTx(tx, userID, userMissionID, idx, domain.StepCompleted, evidence, notes, s.now())
		return err
	})
	return res, err
}

// SkipStep marks an optional step skipped. Skipped steps earn no XP but
// unblock later steps and count towards completion.
func (s *Service) SkipStep(ctx context.Context, userID, userMissionID string, idx int) (domain.StepResult, error) {
	var res domain.StepResult
	err := s.db.WithTx(ctx, func(tx *sqlite.Tx) (err error) {
		res, err = s.finishStepTx(tx, userID, userMissionID, idx, domain.StepSkipped, "", "", s.now())
		return err
	})
	return res, err
}

// finishStepTx runs the step pipeline: step CAS, step XP, advance next,
// progress, then mission CAS, completion reward and trust score when the
// last step is done.
func (s *Service) finishStepTx(tx *sqlite.Tx, userID, id string, idx int, to domain.StepStatus, evidence, notes string, now time.Time) (domain.StepResult, error) {
	um, err := s.owned(tx, userID, id)
	if err != nil {
		return domain.StepResult{}, err
	}
	if idx < 0 || idx >= len(um.Steps) {
		return domain.StepResult{}, domain.ErrUnknownStep
	}
	res := domain.StepResult{Mission: um}
	if um.Steps[idx].Status.Done() {
		res.AlreadyCompleted = true
		return res, nil
	}
	if um.Status != domain.MissionActive {
		return res, domain.ErrMissionNotActive
	}
	for _, prev := range um.Steps[:idx] {
		if !prev.Status.Done() {
			return res, domain.ErrStepOutOfOrder
		}
	}

	tmpl, found, err := tx.GetMissionTemplate(um.MissionID)
	if err != nil {
		return res, err
	}
	if !found {
		return res, domain.ErrUnknownMission
	}
	if to == domain.StepSkipped && (idx >= len(tmpl.Steps) || !tmpl.Steps[idx].Optional) {
		return res, domain.ErrStepNotSkippable
	}

	ok, err := tx.SetStepStatus(id, idx, domain.StepInProgress, to, evidence, notes, now)
	if err != nil {
		return res, fmt.Errorf("set step status: %w", err)
	}
	if !ok {
		res.AlreadyCompleted = true
		return res, nil
	}
	um.Steps[idx].Status = to

	var xp int64
	if to == domain.StepCompleted {
		xp = s.rules.StepXP
		if evidence != "" {
			xp += s.rules.EvidenceBonusXP
		}
	}
	if xp > 0 {
		meta := map[string]string{"mission": um.MissionID, "user_mission": id, "step": strconv.Itoa(idx)}
		if _, err := s.ledger.GrantXPTx(tx, domain.Individual(userID), domain.XPMissionStep, xp, meta, now); err != nil {
			return res, err
		}
	}
	res.XPAwarded = xp

	if next := idx + 1; next < len(um.Steps) && um.Steps[next].Status == domain.StepPending {
		if _, err := tx.SetStepStatus(id, next, domain.StepPending, domain.StepInProgress, "", "", now); err != nil {
			return res, fmt.Errorf("advance step: %w", err)
		}
		um.Steps[next].Status = domain.StepInProgress
	}

	done, current := progress(um.Steps)
	pct := math.Round(float64(done)*10000/float64(um.TotalSteps)) / 100
	finished := done == um.TotalSteps

	addPoints, addXP := int64(0), xp
	if finished {
		addPoints, addXP = tmpl.CompletionPoints, xp+tmpl.CompletionXP
	}
	if _, err := tx.UpdateMissionProgress(id, current, pct, addPoints, addXP, now); err != nil {
		return res, fmt.Errorf("update progress: %w", err)
	}

	if finished {
		if err := s.completeTx(tx, um, tmpl, now, &res); err != nil {
			return res, err
		}
	}

	if res.Mission, _, err = tx.GetUserMission(id); err != nil {
		return res, err
	}
	return res, nil
}

// completeTx flips the instance to completed and pays the mission reward.
func (s *Service) completeTx(tx *sqlite.Tx, um domain.UserMission, tmpl domain.MissionTemplate, now time.Time, res *domain.StepResult) error {
	flipped, err := tx.TransitionMission(um.ID, domain.MissionCompleted, now)
	if err != nil {
		return fmt.Errorf("complete mission: %w", err)
	}
	if !flipped {
		return domain.ErrMissionNotActive
	}

	subject := domain.Individual(um.UserID)
	if tmpl.CompletionPoints > 0 {
		if _, err := s.ledger.EarnTx(tx, domain.PointsMove{
			Subject: subject,
			Amount:  tmpl.CompletionPoints,
			Source:  "mission",
			RefID:   um.ID,
			Note:    tmpl.Name,
		}, now); err != nil {
			return err
		}
	}
	if tmpl.CompletionXP > 0 {
		meta := map[string]string{"mission": um.MissionID, "user_mission": um.ID}
		if _, err := s.ledger.GrantXPTx(tx, subject, domain.XPMissionComplete, tmpl.CompletionXP, meta, now); err != nil {
			return err
		}
	}
	res.MissionCompleted = true
	res.CompletionPoints = tmpl.CompletionPoints
	res.CompletionXP = tmpl.CompletionXP

	if s.trust != nil {
		score, err := s.trust.RecomputeTx(tx, um.UserID, now)
		if err != nil {
			return fmt.Errorf("trust score: %w", err)
		}
		res.Score = &score
	}

	tx.AfterCommit(func() {
		metrics.MissionsCompleted.Inc()
		log.Printf("[mission] %s completed %s (%s) +%d points", um.UserID, um.MissionID, um.ID, tmpl.CompletionPoints)
	})
	return nil
}

// progress counts done steps and returns the index of the first step that
// is not done, or len(steps) when all are.
func progress(steps []domain.StepProgress) (done, current int) {
	current = len(steps)
	for i, st := range steps {
		if st.Status.Done() {
			done++
		} else if current == len(steps) {
			current = i
		}
	}
	return done, current
}

// Abandon stops an active mission. It earns nothing further.
func (s *Service) Abandon(ctx context.Context, userID, userMissionID string) (domain.UserMission, error) {
	var um domain.UserMission
	err := s.db.WithTx(ctx, func(tx *sqlite.Tx) error {
		if _, err := s.owned(tx, userID, userMissionID); err != nil {
			return err
		}
		flipped, err := tx.TransitionMission(userMissionID, domain.MissionAbandoned, s.now())
		if err != nil {
			return err
		}
		if !flipped {
			return domain.ErrMissionNotActive
		}
		um, _, err = tx.GetUserMission(userMissionID)
		return err
	})
	return um, err
}

// FailOverdue fails every active mission whose last step was due more than
// grace ago.
func (s *Service) FailOverdue(ctx context.Context, now time.Time, grace time.Duration) (int, error) {
	var failed int
	err := s.db.WithTx(ctx, func(tx *sqlite.Tx) error {
		ids, err := tx.OverdueMissions(now.Add(-grace))
		if err != nil {
			return err
		}
		for _, id := range ids {
			flipped, err := tx.TransitionMission(id, domain.MissionFailed, now)
			if err != nil {
				return fmt.Errorf("fail mission %s: %w", id, err)
			}
			if flipped {
				failed++
			}
		}
		return nil
	})
	if err == nil && failed > 0 {
		log.Printf("[mission] failed %d overdue missions", failed)
	}
	return failed, err
}

// Grace returns the configured overdue grace period.
func (s *Service) Grace() time.Duration {
	return time.Duration(s.rules.OverdueGraceDays) * 24 * time.Hour
}

// ─── Queries ────────────────────────────────────────────────────────────────

// List returns a user's missions. An empty status lists all.
func (s *Service) List(ctx context.Context, userID string, status domain.MissionStatus) ([]domain.UserMission, error) {
	if userID == "" {
		return nil, domain.ErrMissingSubject
	}
	var out []domain.UserMission
	err := s.db.View(ctx, func(tx *sqlite.Tx) (err error) {
		out, err = tx.ListUserMissions(userID, status)
		return err
	})
	return out, err
}

// Get returns one of the user's missions.
func (s *Service) Get(ctx context.Context, userID, userMissionID string) (domain.UserMission, error) {
	var um domain.UserMission
	err := s.db.View(ctx, func(tx *sqlite.Tx) (err error) {
		um, err = s.owned(tx, userID, userMissionID)
		return err
	})
	return um, err
}

// owned loads an instance and checks it belongs to userID. Another user's
// mission reads as not found.
func (s *Service) owned(tx *sqlite.Tx, userID, id string) (domain.UserMission, error) {
	if userID == "" {
		return domain.UserMission{}, domain.ErrMissingSubject
	}
	um, found, err := tx.GetUserMission(id)
	if err != nil {
		return um, err
	}
	if !found || um.UserID != userID {
		return domain.UserMission{}, domain.ErrUnknownMission
	}
	return um, nil
}
