// Package engagement implements the Fieldwise engagement engine.
// Action rewards with daily caps, badges, streaks, and recurring
// individual/team challenges, plus the pipeline that runs them in order
// for every tracked action.
package engagement

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/fieldwise/fieldwise/internal/app/ledger"
	"github.com/fieldwise/fieldwise/internal/domain"
	"github.com/fieldwise/fieldwise/internal/infra/metrics"
	"github.com/fieldwise/fieldwise/internal/infra/sqlite"
)

// Resolver turns a raw action into a reward decision.
// Reward amounts and daily caps come from the rule table; an action type
// without a rule earns nothing.
type Resolver struct {
	db     *sqlite.DB
	ledger *ledger.Service
	rules  domain.Rules
	debug  bool
}

// NewResolver creates an action reward resolver.
func NewResolver(db *sqlite.DB, l *ledger.Service, rules domain.Rules) *Resolver {
	return &Resolver{db: db, ledger: l, rules: rules}
}

// SetDebug logs every paid reward when on.
func (r *Resolver) SetDebug(on bool) { r.debug = on }

// Rule returns the reward rule for an action type.
func (r *Resolver) Rule(actionType string) (domain.ActionRule, bool) {
	rule, ok := r.rules.Actions[actionType]
	return rule, ok
}

// Resolve decides whether this occurrence of an action earns a reward and
// pays it. Hitting the daily cap is a normal outcome, not an error: the
// decision carries rewarded=false and nothing is written.
func (r *Resolver) Resolve(ctx context.Context, ev domain.ActionEvent) (domain.RewardDecision, error) {
	if err := validateEvent(&ev); err != nil {
		return domain.RewardDecision{}, err
	}
	var dec domain.RewardDecision
	err := r.db.WithTx(ctx, func(tx *sqlite.Tx) (err error) {
		dec, err = r.ResolveTx(tx, ev)
		return err
	})
	return dec, err
}

// ResolveTx is Resolve inside a caller-owned transaction.
func (r *Resolver) ResolveTx(tx *sqlite.Tx, ev domain.ActionEvent) (domain.RewardDecision, error) {
	dec, rule, err := r.rewardTx(tx, ev)
	if err != nil || !dec.Rewarded {
		return dec, err
	}
	dec.Badge, err = r.badgeTx(tx, ev.UserID, rule, ev.At)
	return dec, err
}

// rewardTx applies the daily cap and pays points and XP.
func (r *Resolver) rewardTx(tx *sqlite.Tx, ev domain.ActionEvent) (domain.RewardDecision, domain.ActionRule, error) {
	rule, ok := r.Rule(ev.ActionType)
	if !ok {
		suppressed(tx, domain.ReasonNoRule)
		return domain.RewardDecision{Reason: domain.ReasonNoRule}, rule, nil
	}

	subject := domain.Individual(ev.UserID)
	count, ok, err := tx.IncrementDailyCounter(subject.Key(), ev.ActionType, domain.DayOf(ev.At), rule.DailyLimit)
	if err != nil {
		return domain.RewardDecision{}, rule, err
	}
	dec := domain.RewardDecision{DailyCount: count, DailyLimit: rule.DailyLimit}
	if !ok {
		dec.Reason = domain.ReasonDailyLimit
		suppressed(tx, domain.ReasonDailyLimit)
		return dec, rule, nil
	}

	points := rule.Points
	if count == 1 {
		points += rule.FirstDailyBonus
	}
	if points > 0 {
		if _, err := r.ledger.EarnTx(tx, domain.PointsMove{
			Subject: subject,
			Amount:  points,
			Source:  ev.ActionType,
			RefID:   ev.Context["ref_id"],
		}, ev.At); err != nil {
			return dec, rule, err
		}
	}
	if rule.XP > 0 {
		res, err := r.ledger.GrantXPTx(tx, subject, ev.ActionType, rule.XP, ev.Context, ev.At)
		if err != nil {
			return dec, rule, err
		}
		dec.LeveledUp = res.LeveledUp
	}
	if err := tx.IncrementActionTotal(subject.Key(), ev.ActionType); err != nil {
		return dec, rule, fmt.Errorf("action total: %w", err)
	}

	dec.Rewarded = true
	dec.PointsAwarded = points
	dec.XPAwarded = rule.XP
	if r.debug {
		tx.AfterCommit(func() {
			log.Printf("[reward] %s %s: +%d points +%d xp (%d today)", ev.UserID, ev.ActionType, points, rule.XP, count)
		})
	}
	return dec, rule, nil
}

func suppressed(tx *sqlite.Tx, reason string) {
	tx.AfterCommit(func() { metrics.RewardsSuppressed.WithLabelValues(reason).Inc() })
}

func validateEvent(ev *domain.ActionEvent) error {
	if ev.UserID == "" {
		return domain.ErrMissingSubject
	}
	if ev.ActionType == "" {
		return domain.Validationf("action type is required")
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	return nil
}

// ─── Badges ─────────────────────────────────────────────────────────────────
// A badge is a generic counter with ascending tier thresholds. The counter
// only grows and each tier unlock is recorded once.

// badgeTx advances the badge the rule points at, if any.
func (r *Resolver) badgeTx(tx *sqlite.Tx, userID string, rule domain.ActionRule, now time.Time) (*domain.BadgeProgress, error) {
	if rule.Badge == "" {
		return nil, nil
	}
	br, ok := r.rules.Badge(rule.Badge)
	if !ok {
		return nil, nil
	}

	account := domain.Individual(userID).Key()
	count, err := tx.IncrementBadge(account, br.Key)
	if err != nil {
		return nil, err
	}
	bp := badgeProgress(br, count)
	for i, th := range br.Thresholds {
		if i >= len(domain.BadgeTiers) || count < th {
			break
		}
		isNew, err := tx.UnlockBadge(account, br.Key, domain.BadgeTiers[i], now)
		if err != nil {
			return nil, fmt.Errorf("unlock badge: %w", err)
		}
		if isNew {
			bp.Unlocked = domain.BadgeTiers[i]
		}
	}
	return &bp, nil
}

func badgeProgress(br domain.BadgeRule, count int) domain.BadgeProgress {
	tier, next, target := br.TierFor(count)
	return domain.BadgeProgress{Badge: br.Key, Count: count, Tier: tier, NextTier: next, NextTarget: target}
}

// Badges returns progress on every configured badge and the tier unlocks
// recorded so far.
func (r *Resolver) Badges(ctx context.Context, userID string) ([]domain.BadgeProgress, []domain.BadgeUnlock, error) {
	if userID == "" {
		return nil, nil, domain.ErrMissingSubject
	}
	var (
		progress []domain.BadgeProgress
		unlocks  []domain.BadgeUnlock
	)
	err := r.db.View(ctx, func(tx *sqlite.Tx) error {
		account := domain.Individual(userID).Key()
		counts, err := tx.BadgeCounts(account)
		if err != nil {
			return err
		}
		for _, br := range r.rules.Badges {
			progress = append(progress, badgeProgress(br, counts[br.Key]))
		}
		unlocks, err = tx.BadgeUnlocks(account)
		return err
	})
	return progress, unlocks, err
}
