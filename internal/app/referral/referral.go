// Package referral implements the referral pipeline: per-user codes,
// pending → activated referrals that pay both parties, and a one-time
// milestone ladder on the referrer's activated count.
//
// Activated is the terminal per-referral state. Milestone claims are
// separate rows keyed by (referrer, threshold).
package referral

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fieldwise/fieldwise/internal/app/ledger"
	"github.com/fieldwise/fieldwise/internal/domain"
	"github.com/fieldwise/fieldwise/internal/infra/metrics"
	"github.com/fieldwise/fieldwise/internal/infra/sqlite"
)

// codeAttempts bounds retries on generated-code collisions.
const codeAttempts = 5

// Service runs the referral pipeline.
type Service struct {
	db     *sqlite.DB
	ledger *ledger.Service
	rules  domain.ReferralRules
	now    func() time.Time
}

// NewService creates a referral service.
func NewService(db *sqlite.DB, l *ledger.Service, rules domain.ReferralRules) *Service {
	rules.Milestones = append([]domain.ReferralMilestone(nil), rules.Milestones...)
	sort.Slice(rules.Milestones, func(i, j int) bool {
		return rules.Milestones[i].Threshold < rules.Milestones[j].Threshold
	})
	return &Service{db: db, ledger: l, rules: rules, now: time.Now}
}

// SetClock overrides the time source. Used by tests.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// Code returns the user's referral code, creating it on first use.
// Codes are immutable once created.
func (s *Service) Code(ctx context.Context, userID string) (string, error) {
	if userID == "" {
		return "", domain.ErrMissingSubject
	}
	var code string
	err := s.db.WithTx(ctx, func(tx *sqlite.Tx) error {
		existing, found, err := tx.GetReferralCode(userID)
		if err != nil {
			return err
		}
		if found {
			code = existing
			return nil
		}
		for i := 0; i < codeAttempts; i++ {
			candidate := s.newCode()
			err := tx.InsertReferralCode(userID, candidate, s.now())
			if errors.Is(err, sqlite.ErrCodeTaken) {
				continue
			}
			if err != nil {
				return fmt.Errorf("insert referral code: %w", err)
			}
			code = candidate
			return nil
		}
		return fmt.Errorf("referral code for %s: %d collisions", userID, codeAttempts)
	})
	return code, err
}

func (s *Service) newCode() string {
	hex := strings.ReplaceAll(uuid.New().String(), "-", "")
	return s.rules.CodePrefix + strings.ToUpper(hex[:8])
}

// Create records that newUserID signed up with code.
func (s *Service) Create(ctx context.Context, code, newUserID string) (domain.Referral, error) {
	if newUserID == "" {
		return domain.Referral{}, domain.ErrMissingSubject
	}
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return domain.Referral{}, domain.ErrInvalidCode
	}
	now := s.now().UTC().Truncate(time.Second)

	var r domain.Referral
	err := s.db.WithTx(ctx, func(tx *sqlite.Tx) error {
		referrer, found, err := tx.ReferralCodeOwner(code)
		if err != nil {
			return err
		}
		if !found {
			return domain.ErrInvalidCode
		}
		if referrer == newUserID {
			return domain.ErrSelfReferral
		}
		if _, exists, err := tx.ReferralFor(newUserID); err != nil {
			return err
		} else if exists {
			return domain.ErrAlreadyReferred
		}

		r = domain.Referral{
			ID:         uuid.New().String(),
			ReferrerID: referrer,
			ReferredID: newUserID,
			Code:       code,
			Status:     domain.ReferralPending,
			CreatedAt:  now,
		}
		if err := tx.InsertReferral(r); err != nil {
			if errors.Is(err, sqlite.ErrDuplicateReferral) {
				return domain.ErrAlreadyReferred
			}
			return err
		}
		_, err = tx.BumpReferralCounters(referrer, 1, 0, s.rules.BaseTier, now)
		return err
	})
	return r, err
}

// Activate pays both parties of the user's pending referral once the
// referred user performs their first qualifying action.
func (s *Service) Activate(ctx context.Context, userID, action string) (domain.ActivationResult, error) {
	if userID == "" {
		return domain.ActivationResult{}, domain.ErrMissingSubject
	}
	now := s.now().UTC().Truncate(time.Second)

	var res domain.ActivationResult
	err := s.db.WithTx(ctx, func(tx *sqlite.Tx) error {
		r, found, err := tx.ReferralFor(userID)
		if err != nil {
			return err
		}
		if !found || r.Status != domain.ReferralPending {
			return domain.ErrNoPendingReferral
		}

		r.ActivationAction = action
		r.ReferrerPoints, r.ReferrerXP = s.rules.ReferrerPoints, s.rules.ReferrerXP
		r.ReferredPoints, r.ReferredXP = s.rules.ReferredPoints, s.rules.ReferredXP
		flipped, err := tx.ActivateReferral(r, now)
		if err != nil {
			return fmt.Errorf("activate referral: %w", err)
		}
		if !flipped {
			return domain.ErrNoPendingReferral
		}

		if err := s.payTx(tx, r.ReferrerID, r.ReferrerPoints, r.ReferrerXP, "referral", r.ID, "referred "+r.ReferredID, now); err != nil {
			return err
		}
		if err := s.payTx(tx, r.ReferredID, r.ReferredPoints, r.ReferredXP, "referral_welcome", r.ID, "", now); err != nil {
			return err
		}
		if _, err := tx.BumpReferralCounters(r.ReferrerID, 0, 1, s.rules.BaseTier, now); err != nil {
			return err
		}

		r.Status = domain.ReferralActivated
		r.ActivatedAt = &now
		res.Referral = r
		tx.AfterCommit(func() {
			metrics.ReferralActivations.Inc()
			log.Printf("[referral] %s activated referral from %s via %s", r.ReferredID, r.ReferrerID, action)
		})
		return nil
	})
	return res, err
}

func (s *Service) payTx(tx *sqlite.Tx, userID string, points, xp int64, source, refID, note string, now time.Time) error {
	subject := domain.Individual(userID)
	if points > 0 {
		if _, err := s.ledger.EarnTx(tx, domain.PointsMove{
			Subject: subject, Amount: points, Source: source, RefID: refID, Note: note,
		}, now); err != nil {
			return err
		}
	}
	if xp > 0 {
		meta := map[string]string{"referral": refID, "source": source}
		if _, err := s.ledger.GrantXPTx(tx, subject, domain.XPReferral, xp, meta, now); err != nil {
			return err
		}
	}
	return nil
}

// CheckMilestones claims every reached, unclaimed milestone in ascending
// order. Each threshold pays at most once; calling again is a no-op.
func (s *Service) CheckMilestones(ctx context.Context, userID string) (domain.MilestoneResult, error) {
	if userID == "" {
		return domain.MilestoneResult{}, domain.ErrMissingSubject
	}
	now := s.now().UTC().Truncate(time.Second)

	var res domain.MilestoneResult
	err := s.db.WithTx(ctx, func(tx *sqlite.Tx) error {
		c, err := tx.GetReferralCounters(userID, s.rules.BaseTier)
		if err != nil {
			return err
		}
		res.Tier = c.Tier
		for _, m := range s.rules.Milestones {
			if c.Activated < m.Threshold {
				break
			}
			claimed, err := tx.ClaimReferralMilestone(userID, m.Threshold, m.Points, now)
			if err != nil {
				return fmt.Errorf("claim milestone %d: %w", m.Threshold, err)
			}
			if !claimed {
				continue
			}
			if m.Points > 0 {
				if _, err := s.ledger.EarnTx(tx, domain.PointsMove{
					Subject: domain.Individual(userID),
					Amount:  m.Points,
					Source:  "referral_milestone",
					RefID:   strconv.Itoa(m.Threshold),
				}, now); err != nil {
					return err
				}
			}
			if m.Tier != "" && m.Tier != res.Tier {
				if err := tx.SetReferralTier(userID, m.Tier, now); err != nil {
					return err
				}
				res.Tier = m.Tier
				res.TierUpgraded = true
			}
			claimedAt := now
			res.Claimed = append(res.Claimed, domain.MilestoneClaim{
				Threshold: m.Threshold, Points: m.Points, Tier: m.Tier, Claimed: true, ClaimedAt: &claimedAt,
			})
			res.PointsPaid += m.Points
		}
		if len(res.Claimed) > 0 {
			tx.AfterCommit(func() {
				log.Printf("[referral] %s claimed %d milestones (+%d points, tier %s)", userID, len(res.Claimed), res.PointsPaid, res.Tier)
			})
		}
		return nil
	})
	return res, err
}

// Stats returns the referrer read model. It never creates a code.
func (s *Service) Stats(ctx context.Context, userID string) (domain.ReferralStats, error) {
	if userID == "" {
		return domain.ReferralStats{}, domain.ErrMissingSubject
	}
	st := domain.ReferralStats{UserID: userID}
	err := s.db.View(ctx, func(tx *sqlite.Tx) error {
		code, _, err := tx.GetReferralCode(userID)
		if err != nil {
			return err
		}
		st.Code = code
		c, err := tx.GetReferralCounters(userID, s.rules.BaseTier)
		if err != nil {
			return err
		}
		st.Total, st.Activated, st.Tier = c.Total, c.Activated, c.Tier

		claims, err := tx.ReferralMilestoneClaims(userID)
		if err != nil {
			return err
		}
		for _, m := range s.rules.Milestones {
			mc := domain.MilestoneClaim{Threshold: m.Threshold, Points: m.Points, Tier: m.Tier}
			if at, ok := claims[m.Threshold]; ok {
				mc.Claimed = true
				mc.ClaimedAt = &at
			}
			st.Milestones = append(st.Milestones, mc)
		}
		return nil
	})
	return st, err
}

// Referrals lists the referrals a user has made.
func (s *Service) Referrals(ctx context.Context, userID string) ([]domain.Referral, error) {
	var out []domain.Referral
	err := s.db.View(ctx, func(tx *sqlite.Tx) (err error) {
		out, err = tx.ReferralsBy(userID)
		return err
	})
	return out, err
}
