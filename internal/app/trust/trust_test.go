package trust_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fieldwise/fieldwise/internal/app/engagement"
	"github.com/fieldwise/fieldwise/internal/app/ledger"
	"github.com/fieldwise/fieldwise/internal/app/trust"
	"github.com/fieldwise/fieldwise/internal/domain"
	"github.com/fieldwise/fieldwise/internal/infra/sqlite"
)

func testDB(t *testing.T) *sqlite.DB {
	t.Helper()
	db, err := sqlite.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

var now = time.Date(2024, 6, 12, 9, 30, 0, 0, time.UTC)

// ─── Compute ────────────────────────────────────────────────────────────────

func TestCompute_Baseline(t *testing.T) {
	s := trust.Compute(domain.ScoreInputs{})
	if s.Learning != 0 || s.Missions != 0 || s.Engagement != 0 || s.Reliability != 15 {
		t.Errorf("sub-scores = %+v", s)
	}
	if s.Total != 15 || s.Tier != domain.TierBronze {
		t.Errorf("total = %v tier = %s, want 15 bronze", s.Total, s.Tier)
	}
}

func TestCompute_LearningAndMissionsMaxed(t *testing.T) {
	s := trust.Compute(domain.ScoreInputs{ArticlesCompleted: 50, CompletedMissions: 10})
	if s.Learning != 25 || s.Missions != 25 {
		t.Errorf("learning = %v missions = %v, want 25 each", s.Learning, s.Missions)
	}
	if s.Total != 65 || s.Tier != domain.TierSilver {
		t.Errorf("total = %v tier = %s, want 65 silver", s.Total, s.Tier)
	}
}

func TestCompute_Clamps(t *testing.T) {
	s := trust.Compute(domain.ScoreInputs{
		ArticlesCompleted: 500, VideosCompleted: 500, CompletedMissions: 99,
		CurrentStreak: 365, DailyActions: 40, PhotoUploads: 1000,
	})
	if s.Learning != 25 || s.Missions != 25 || s.Engagement != 25 || s.Reliability != 20 {
		t.Errorf("sub-scores = %+v", s)
	}
	if s.Total != 95 || s.Tier != domain.TierChampion {
		t.Errorf("total = %v tier = %s", s.Total, s.Tier)
	}
}

func TestCompute_Fractions(t *testing.T) {
	// (1 + 1*1.5)/50*25 = 1.25; 7/30*15 = 3.5; 2/5*10 = 4
	s := trust.Compute(domain.ScoreInputs{ArticlesCompleted: 1, VideosCompleted: 1, CurrentStreak: 7, DailyActions: 2})
	if s.Learning != 1.25 {
		t.Errorf("learning = %v, want 1.25", s.Learning)
	}
	if s.Engagement != 7.5 {
		t.Errorf("engagement = %v, want 7.5", s.Engagement)
	}
}

func TestCompute_Deterministic(t *testing.T) {
	in := domain.ScoreInputs{ArticlesCompleted: 3, VideosCompleted: 2, CompletedMissions: 1, CurrentStreak: 4, DailyActions: 3, PhotoUploads: 3}
	a, b := trust.Compute(in), trust.Compute(in)
	if a != b {
		t.Errorf("same inputs gave %+v and %+v", a, b)
	}
}

func TestTierFor(t *testing.T) {
	tests := []struct {
		total string
		want  domain.ScoreTier
	}{
		{"0", domain.TierBronze},
		{"40.99", domain.TierBronze},
		{"41", domain.TierSilver},
		{"70.99", domain.TierSilver},
		{"71", domain.TierGold},
		{"90.99", domain.TierGold},
		{"91", domain.TierChampion},
		{"100", domain.TierChampion},
	}
	for _, tt := range tests {
		if got := trust.TierFor(decimal.RequireFromString(tt.total)); got != tt.want {
			t.Errorf("TierFor(%s) = %s, want %s", tt.total, got, tt.want)
		}
	}
}

// ─── Calculator ─────────────────────────────────────────────────────────────

func TestCalculator_ScoreFromActivity(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	rules := domain.DefaultRules()
	l := ledger.NewService(db)
	r := engagement.NewResolver(db, l, rules)
	s := engagement.NewStreakService(db, l, rules.Streak)
	engine := engagement.NewEngine(db, r, s, engagement.NewChallengeTracker(db, l))

	for d := 0; d < 3; d++ {
		at := now.AddDate(0, 0, d-2)
		for _, typ := range []string{"article_completed", "video_completed", "photo_upload"} {
			if _, err := engine.Track(ctx, domain.ActionEvent{UserID: "u1", ActionType: typ, At: at}); err != nil {
				t.Fatalf("track %s: %v", typ, err)
			}
		}
	}

	calc := trust.NewCalculator(db, rules.Trust)
	score, err := calc.Score(ctx, "u1", now)
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	want := domain.ScoreInputs{ArticlesCompleted: 3, VideosCompleted: 3, CurrentStreak: 3, DailyActions: 3, PhotoUploads: 3}
	if score.Inputs != want {
		t.Errorf("inputs = %+v, want %+v", score.Inputs, want)
	}
	if score.UserID != "u1" || score.Total <= 15 {
		t.Errorf("score = %+v", score)
	}

	if _, found, _ := calc.Snapshot(ctx, "u1"); found {
		t.Error("Score must not store a snapshot")
	}
	if _, err := calc.Recompute(ctx, "u1", now); err != nil {
		t.Fatalf("recompute: %v", err)
	}
	snap, found, err := calc.Snapshot(ctx, "u1")
	if err != nil || !found {
		t.Fatalf("snapshot: found=%v err=%v", found, err)
	}
	if snap.Total != score.Total || snap.Inputs != score.Inputs {
		t.Errorf("snapshot = %+v, want %+v", snap, score)
	}
}

func TestCalculator_BrokenStreakCountsZero(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	rules := domain.DefaultRules()
	s := engagement.NewStreakService(db, ledger.NewService(db), rules.Streak)
	// The gap before day -17 spends the only freeze token
	for _, d := range []int{-20, -19, -17} {
		s.RecordActivity(ctx, "u1", "price_check", now.AddDate(0, 0, d))
	}

	score, err := trust.NewCalculator(db, rules.Trust).Score(ctx, "u1", now)
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if score.Inputs.CurrentStreak != 0 {
		t.Errorf("current streak = %d, want 0", score.Inputs.CurrentStreak)
	}
}
