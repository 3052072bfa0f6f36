package engagement

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/gosimple/slug"

	"github.com/fieldwise/fieldwise/internal/app/ledger"
	"github.com/fieldwise/fieldwise/internal/domain"
	"github.com/fieldwise/fieldwise/internal/infra/metrics"
	"github.com/fieldwise/fieldwise/internal/infra/sqlite"
)

// ChallengeTracker tracks progress on time-windowed target-count goals.
// One implementation serves both subjects: Individual(user) and Team(team).
// Weekly templates are split into Monday-aligned window instances, each
// with its own progress row, so a new week never inherits old progress.
type ChallengeTracker struct {
	db     *sqlite.DB
	ledger *ledger.Service
	now    func() time.Time
}

// NewChallengeTracker creates a challenge tracker.
func NewChallengeTracker(db *sqlite.DB, l *ledger.Service) *ChallengeTracker {
	return &ChallengeTracker{db: db, ledger: l, now: time.Now}
}

// SetClock overrides the time source. Used by tests.
func (c *ChallengeTracker) SetClock(now func() time.Time) { c.now = now }

// SeedTemplates upserts the configured templates.
func (c *ChallengeTracker) SeedTemplates(ctx context.Context, templates []domain.ChallengeTemplate) error {
	return c.db.WithTx(ctx, func(tx *sqlite.Tx) error {
		for _, t := range templates {
			if err := validateTemplate(t); err != nil {
				return fmt.Errorf("challenge %q: %w", t.ID, err)
			}
			if err := tx.UpsertChallengeTemplate(t); err != nil {
				return err
			}
		}
		return nil
	})
}

// UpdateProgress advances every matching challenge of subject by inc.
func (c *ChallengeTracker) UpdateProgress(ctx context.Context, subject domain.Subject, actionKey string, inc int) ([]domain.ChallengeUpdate, error) {
	var updates []domain.ChallengeUpdate
	err := c.db.WithTx(ctx, func(tx *sqlite.Tx) (err error) {
		updates, err = c.UpdateProgressTx(tx, subject, actionKey, inc, c.now())
		return err
	})
	return updates, err
}

// UpdateProgressTx is UpdateProgress inside a caller-owned transaction.
// Completion is a compare-and-set on the row status, so the reward is paid
// by exactly one caller no matter how increments interleave.
func (c *ChallengeTracker) UpdateProgressTx(tx *sqlite.Tx, subject domain.Subject, actionKey string, inc int, now time.Time) ([]domain.ChallengeUpdate, error) {
	if !subject.Valid() {
		return nil, domain.ErrMissingSubject
	}
	if inc <= 0 {
		return nil, fmt.Errorf("increment must be positive, got %d: %w", inc, domain.ErrInvalidAmount)
	}

	teamID := ""
	if subject.Kind == domain.SubjectTeam {
		teamID = subject.ID
	}
	templates, err := tx.MatchingChallenges(subject.Kind, actionKey, teamID, now)
	if err != nil {
		return nil, err
	}

	var updates []domain.ChallengeUpdate
	for _, t := range templates {
		start, end := t.Window(now)
		id, err := tx.EnsureChallengeProgress(subject, t.ID, start, end, t.Target, now)
		if err != nil {
			return nil, err
		}
		p, advanced, err := tx.IncrementChallengeProgress(id, inc)
		if err != nil {
			return nil, err
		}
		if !advanced {
			continue
		}

		u := domain.ChallengeUpdate{Progress: p}
		if p.Progress >= p.Target {
			flipped, err := tx.CompleteChallengeProgress(id, now)
			if err != nil {
				return nil, err
			}
			if flipped {
				if err := c.payTx(tx, subject, t, id, now); err != nil {
					return nil, err
				}
				u.Completed = true
				u.PointsAwarded = t.RewardPoints
				u.XPAwarded = t.RewardXP
				if u.Progress, err = tx.GetChallengeProgress(id); err != nil {
					return nil, err
				}
			}
		}
		updates = append(updates, u)
	}
	return updates, nil
}

// payTx credits the template reward to the subject's own account.
func (c *ChallengeTracker) payTx(tx *sqlite.Tx, subject domain.Subject, t domain.ChallengeTemplate, progressID int64, now time.Time) error {
	ref := strconv.FormatInt(progressID, 10)
	if t.RewardPoints > 0 {
		if _, err := c.ledger.EarnTx(tx, domain.PointsMove{
			Subject: subject,
			Amount:  t.RewardPoints,
			Source:  "challenge",
			RefID:   ref,
			Note:    t.Title,
		}, now); err != nil {
			return err
		}
	}
	if t.RewardXP > 0 {
		meta := map[string]string{"challenge": t.ID, "progress_id": ref}
		if _, err := c.ledger.GrantXPTx(tx, subject, domain.XPChallengeComplete, t.RewardXP, meta, now); err != nil {
			return err
		}
	}
	tx.AfterCommit(func() {
		metrics.ChallengeCompletions.WithLabelValues(string(subject.Kind)).Inc()
		log.Printf("[challenge] %s completed %s", subject.Key(), t.ID)
	})
	return nil
}

// ListProgress returns a subject's progress rows. Active rows whose window
// has ended are flipped to expired first.
func (c *ChallengeTracker) ListProgress(ctx context.Context, subject domain.Subject) ([]domain.ChallengeProgress, error) {
	if !subject.Valid() {
		return nil, domain.ErrMissingSubject
	}
	var rows []domain.ChallengeProgress
	err := c.db.WithTx(ctx, func(tx *sqlite.Tx) error {
		if _, err := tx.ExpireChallengeProgress(subject.Key(), c.now()); err != nil {
			return err
		}
		var err error
		rows, err = tx.ListChallengeProgress(subject)
		return err
	})
	return rows, err
}

// ExpireStale flips every ended active window to expired.
func (c *ChallengeTracker) ExpireStale(ctx context.Context, now time.Time) (int64, error) {
	var n int64
	err := c.db.WithTx(ctx, func(tx *sqlite.Tx) (err error) {
		n, err = tx.ExpireChallengeProgress("", now)
		return err
	})
	return n, err
}

// Templates returns the active templates visible to subject.
func (c *ChallengeTracker) Templates(ctx context.Context, subject domain.Subject) ([]domain.ChallengeTemplate, error) {
	teamID := ""
	if subject.Kind == domain.SubjectTeam {
		teamID = subject.ID
	}
	var out []domain.ChallengeTemplate
	err := c.db.View(ctx, func(tx *sqlite.Tx) (err error) {
		out, err = tx.ListChallengeTemplates(subject.Kind, teamID)
		return err
	})
	return out, err
}

// ─── Team Challenges ────────────────────────────────────────────────────────

// Team roles allowed to manage team challenges.
const (
	RoleOwner  = "owner"
	RoleAdmin  = "admin"
	RoleMember = "member"
)

// TeamChallengeID derives the id of a team-created challenge. Slugs never
// contain ':', so the last colon always separates team from title.
func TeamChallengeID(teamID, title string) string {
	return "team:" + teamID + ":" + slug.Make(title)
}

// CreateTeamChallenge defines a challenge scoped to one team. The role is
// the caller's role in that team as resolved by the identity layer.
// Any client-supplied id is ignored, and existing templates are never
// overwritten.
func (c *ChallengeTracker) CreateTeamChallenge(ctx context.Context, teamID, role string, t domain.ChallengeTemplate) (domain.ChallengeTemplate, error) {
	if strings.TrimSpace(teamID) == "" {
		return t, domain.ErrMissingSubject
	}
	if role != RoleOwner && role != RoleAdmin {
		return t, domain.ErrNotTeamAdmin
	}

	t.SubjectKind = domain.SubjectTeam
	t.TeamID = teamID
	t.IsActive = true
	if t.Recurrence == "" {
		t.Recurrence = domain.RecurNone
	}
	if t.StartsAt.IsZero() {
		t.StartsAt = c.now().UTC().Truncate(time.Second)
	}
	t.ID = TeamChallengeID(teamID, t.Title)
	if err := validateTemplate(t); err != nil {
		return t, err
	}

	err := c.db.WithTx(ctx, func(tx *sqlite.Tx) error {
		if _, exists, err := tx.GetChallengeTemplate(t.ID); err != nil {
			return err
		} else if exists {
			return domain.ErrChallengeExists
		}
		return tx.InsertChallengeTemplate(t)
	})
	if err != nil {
		return t, err
	}
	log.Printf("[challenge] team %s created %s (%s x%d)", teamID, t.ID, t.ActionKey, t.Target)
	return t, nil
}

func validateTemplate(t domain.ChallengeTemplate) error {
	switch {
	case strings.TrimSpace(t.Title) == "":
		return domain.Validationf("challenge title is required")
	case strings.TrimSpace(t.ActionKey) == "":
		return domain.Validationf("challenge action key is required")
	case t.Target <= 0:
		return domain.Validationf("challenge target must be positive, got %d", t.Target)
	case t.RewardPoints < 0 || t.RewardXP < 0:
		return domain.ErrInvalidAmount
	case !t.EndsAt.IsZero() && !t.EndsAt.After(t.StartsAt):
		return domain.ErrInvalidWindow
	}
	return nil
}
