// Package trust derives the farmer trust score from aggregated engagement
// counters. The score is recomputed from scratch on every call; no prior
// score value feeds the next one.
package trust

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fieldwise/fieldwise/internal/app/engagement"
	"github.com/fieldwise/fieldwise/internal/domain"
	"github.com/fieldwise/fieldwise/internal/infra/sqlite"
)

// Sub-scores are each clamped to [0, SubScoreMax]; the total is their sum.
const SubScoreMax = 25

// Tier thresholds on the total score.
const (
	silverFrom   = 41
	goldFrom     = 71
	championFrom = 91
)

var (
	zero   = decimal.Zero
	subMax = decimal.NewFromInt(SubScoreMax)
)

// Compute is the pure score function.
//
//	learning    = min(25, (articles + videos*1.5) / 50 * 25)
//	missions    = min(25, completedMissions / 10 * 25)
//	engagement  = min(25, min(streak,30)/30*15 + min(dailyActions,5)/5*10)
//	reliability = min(25, 10 + min(photos,10)/10*5 + 5)
func Compute(in domain.ScoreInputs) domain.FarmerScore {
	learning := clamp(ratio(
		decimal.NewFromInt(int64(in.ArticlesCompleted)).Add(decimal.NewFromInt(int64(in.VideosCompleted)).Mul(decimal.NewFromFloat(1.5))),
		50, SubScoreMax))
	missions := clamp(ratio(decimal.NewFromInt(int64(in.CompletedMissions)), 10, SubScoreMax))
	engaged := clamp(
		ratio(decimal.NewFromInt(int64(min(in.CurrentStreak, 30))), 30, 15).
			Add(ratio(decimal.NewFromInt(int64(min(in.DailyActions, 5))), 5, 10)))
	reliability := clamp(decimal.NewFromInt(10).
		Add(ratio(decimal.NewFromInt(int64(min(in.PhotoUploads, 10))), 10, 5)).
		Add(decimal.NewFromInt(5)))

	total := learning.Add(missions).Add(engaged).Add(reliability)
	return domain.FarmerScore{
		Learning:    learning.InexactFloat64(),
		Missions:    missions.InexactFloat64(),
		Engagement:  engaged.InexactFloat64(),
		Reliability: reliability.InexactFloat64(),
		Total:       total.InexactFloat64(),
		Tier:        TierFor(total),
		Inputs:      in,
	}
}

// TierFor maps a total score onto its tier.
func TierFor(total decimal.Decimal) domain.ScoreTier {
	switch {
	case total.LessThan(decimal.NewFromInt(silverFrom)):
		return domain.TierBronze
	case total.LessThan(decimal.NewFromInt(goldFrom)):
		return domain.TierSilver
	case total.LessThan(decimal.NewFromInt(championFrom)):
		return domain.TierGold
	default:
		return domain.TierChampion
	}
}

// ratio returns n / denom * scale.
func ratio(n decimal.Decimal, denom, scale int64) decimal.Decimal {
	return n.Div(decimal.NewFromInt(denom)).Mul(decimal.NewFromInt(scale))
}

func clamp(d decimal.Decimal) decimal.Decimal {
	return decimal.Max(zero, decimal.Min(subMax, d)).Round(2)
}

// ─── Service ────────────────────────────────────────────────────────────────

// Calculator gathers score inputs from the store.
type Calculator struct {
	db    *sqlite.DB
	rules domain.TrustRules
}

// NewCalculator creates a trust score calculator.
func NewCalculator(db *sqlite.DB, rules domain.TrustRules) *Calculator {
	return &Calculator{db: db, rules: rules}
}

// Score computes the current score without writing anything.
func (c *Calculator) Score(ctx context.Context, userID string, now time.Time) (domain.FarmerScore, error) {
	if userID == "" {
		return domain.FarmerScore{}, domain.ErrMissingSubject
	}
	var s domain.FarmerScore
	err := c.db.View(ctx, func(tx *sqlite.Tx) (err error) {
		s, err = c.scoreTx(tx, userID, now)
		return err
	})
	return s, err
}

// Recompute computes the score and stores it as the user's snapshot.
func (c *Calculator) Recompute(ctx context.Context, userID string, now time.Time) (domain.FarmerScore, error) {
	if userID == "" {
		return domain.FarmerScore{}, domain.ErrMissingSubject
	}
	var s domain.FarmerScore
	err := c.db.WithTx(ctx, func(tx *sqlite.Tx) (err error) {
		s, err = c.RecomputeTx(tx, userID, now)
		return err
	})
	return s, err
}

// RecomputeTx is Recompute inside a caller-owned transaction.
func (c *Calculator) RecomputeTx(tx *sqlite.Tx, userID string, now time.Time) (domain.FarmerScore, error) {
	s, err := c.scoreTx(tx, userID, now)
	if err != nil {
		return s, err
	}
	if err := tx.SaveFarmerScore(s); err != nil {
		return s, fmt.Errorf("save score: %w", err)
	}
	tx.AfterCommit(func() {
		log.Printf("[trust] %s scored %.2f (%s)", userID, s.Total, s.Tier)
	})
	return s, nil
}

// Snapshot returns the last stored score, if any.
func (c *Calculator) Snapshot(ctx context.Context, userID string) (domain.FarmerScore, bool, error) {
	var (
		s     domain.FarmerScore
		found bool
	)
	err := c.db.View(ctx, func(tx *sqlite.Tx) (err error) {
		s, found, err = tx.GetFarmerScore(userID)
		return err
	})
	return s, found, err
}

func (c *Calculator) scoreTx(tx *sqlite.Tx, userID string, now time.Time) (domain.FarmerScore, error) {
	in, err := c.inputsTx(tx, userID, now)
	if err != nil {
		return domain.FarmerScore{}, err
	}
	s := Compute(in)
	s.UserID = userID
	s.ComputedAt = now.UTC().Truncate(time.Second)
	return s, nil
}

func (c *Calculator) inputsTx(tx *sqlite.Tx, userID string, now time.Time) (domain.ScoreInputs, error) {
	var in domain.ScoreInputs
	account := domain.Individual(userID).Key()

	var err error
	if in.ArticlesCompleted, err = tx.ActionTotal(account, c.rules.ArticleActions...); err != nil {
		return in, fmt.Errorf("article total: %w", err)
	}
	if in.VideosCompleted, err = tx.ActionTotal(account, c.rules.VideoActions...); err != nil {
		return in, fmt.Errorf("video total: %w", err)
	}
	if in.PhotoUploads, err = tx.ActionTotal(account, c.rules.PhotoActions...); err != nil {
		return in, fmt.Errorf("photo total: %w", err)
	}
	if in.CompletedMissions, err = tx.CountMissions(userID, domain.MissionCompleted); err != nil {
		return in, fmt.Errorf("mission count: %w", err)
	}
	if in.DailyActions, err = tx.DailyTotal(account, domain.DayOf(now)); err != nil {
		return in, fmt.Errorf("daily total: %w", err)
	}

	rec, _, found, err := tx.GetStreak(userID)
	if err != nil {
		return in, err
	}
	if found {
		st, err := engagement.EvaluateStreak(rec, now)
		if err != nil {
			return in, err
		}
		in.CurrentStreak = st.Current
	}
	return in, nil
}
