package engagement_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/fieldwise/fieldwise/internal/app/engagement"
	"github.com/fieldwise/fieldwise/internal/app/ledger"
	"github.com/fieldwise/fieldwise/internal/domain"
	"github.com/fieldwise/fieldwise/internal/infra/sqlite"
)

// testDB creates a temporary SQLite database for testing.
func testDB(t *testing.T) *sqlite.DB {
	t.Helper()
	dir := t.TempDir()
	db, err := sqlite.Open(dir)
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// monday is 2024-06-10, a Monday.
var monday = time.Date(2024, 6, 10, 9, 0, 0, 0, time.UTC)

func day(n int) time.Time { return monday.AddDate(0, 0, n) }

type fixture struct {
	db         *sqlite.DB
	ledger     *ledger.Service
	resolver   *engagement.Resolver
	streaks    *engagement.StreakService
	challenges *engagement.ChallengeTracker
	engine     *engagement.Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testDB(t)
	rules := domain.DefaultRules()
	l := ledger.NewService(db)
	f := &fixture{
		db:         db,
		ledger:     l,
		resolver:   engagement.NewResolver(db, l, rules),
		streaks:    engagement.NewStreakService(db, l, rules.Streak),
		challenges: engagement.NewChallengeTracker(db, l),
	}
	f.challenges.SetClock(func() time.Time { return monday })
	f.engine = engagement.NewEngine(db, f.resolver, f.streaks, f.challenges)
	return f
}

func (f *fixture) balance(t *testing.T, s domain.Subject) int64 {
	t.Helper()
	b, err := f.ledger.Balance(context.Background(), s)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	return b.Balance
}

func (f *fixture) xp(t *testing.T, s domain.Subject) int64 {
	t.Helper()
	ul, err := f.ledger.Level(context.Background(), s)
	if err != nil {
		t.Fatalf("level: %v", err)
	}
	return ul.TotalXP
}

func action(user, typ string, at time.Time) domain.ActionEvent {
	return domain.ActionEvent{UserID: user, ActionType: typ, At: at}
}

// ═══════════════════════════════════════════════════════════════════════════
// Resolver Tests
// ═══════════════════════════════════════════════════════════════════════════

func TestResolve_FirstDailyBonus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	dec, err := f.resolver.Resolve(ctx, action("u1", "price_check", day(0)))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	// 2 points + 3 first-of-day bonus
	if !dec.Rewarded || dec.PointsAwarded != 5 || dec.XPAwarded != 5 || dec.DailyCount != 1 || dec.DailyLimit != 5 {
		t.Errorf("first decision = %+v", dec)
	}

	dec, _ = f.resolver.Resolve(ctx, action("u1", "price_check", day(0)))
	if dec.PointsAwarded != 2 || dec.DailyCount != 2 {
		t.Errorf("second decision = %+v, want 2 points", dec)
	}
	if got := f.balance(t, domain.Individual("u1")); got != 7 {
		t.Errorf("balance = %d, want 7", got)
	}
}

func TestResolve_DailyLimitIsNoOp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if dec, _ := f.resolver.Resolve(ctx, action("u1", "price_check", day(0))); !dec.Rewarded {
			t.Fatalf("occurrence %d not rewarded: %+v", i+1, dec)
		}
	}
	before := f.balance(t, domain.Individual("u1"))
	beforeXP := f.xp(t, domain.Individual("u1"))

	dec, err := f.resolver.Resolve(ctx, action("u1", "price_check", day(0)))
	if err != nil {
		t.Fatalf("capped resolve returned error: %v", err)
	}
	if dec.Rewarded || dec.Reason != domain.ReasonDailyLimit || dec.DailyCount != 5 {
		t.Errorf("capped decision = %+v", dec)
	}
	if f.balance(t, domain.Individual("u1")) != before || f.xp(t, domain.Individual("u1")) != beforeXP {
		t.Error("capped resolve must not change balance or XP")
	}

	// The cap is per calendar day
	if dec, _ := f.resolver.Resolve(ctx, action("u1", "price_check", day(1))); !dec.Rewarded {
		t.Errorf("next day decision = %+v, want rewarded", dec)
	}
}

func TestResolve_UnknownAction(t *testing.T) {
	f := newFixture(t)
	dec, err := f.resolver.Resolve(context.Background(), action("u1", "rain_dance", day(0)))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if dec.Rewarded || dec.Reason != domain.ReasonNoRule {
		t.Errorf("decision = %+v, want no rule", dec)
	}
}

func TestResolve_Validation(t *testing.T) {
	f := newFixture(t)
	_, err := f.resolver.Resolve(context.Background(), action("", "price_check", day(0)))
	if !errors.Is(err, domain.ErrMissingSubject) {
		t.Errorf("error = %v, want ErrMissingSubject", err)
	}
}

func TestResolve_BadgeTierUnlockedOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// market_watcher bronze at 10 price checks; 5 per day
	var unlocked []string
	for d := 0; d < 3; d++ {
		for i := 0; i < 5; i++ {
			dec, err := f.resolver.Resolve(ctx, action("u1", "price_check", day(d)))
			if err != nil {
				t.Fatalf("resolve: %v", err)
			}
			if dec.Badge != nil && dec.Badge.Unlocked != "" {
				unlocked = append(unlocked, dec.Badge.Unlocked)
			}
		}
	}
	if len(unlocked) != 1 || unlocked[0] != "bronze" {
		t.Errorf("unlocked = %v, want [bronze]", unlocked)
	}

	progress, unlocks, err := f.resolver.Badges(ctx, "u1")
	if err != nil {
		t.Fatalf("badges: %v", err)
	}
	if len(unlocks) != 1 {
		t.Errorf("unlocks = %+v", unlocks)
	}
	for _, p := range progress {
		if p.Badge == "market_watcher" && (p.Count != 15 || p.Tier != "bronze" || p.NextTier != "silver" || p.NextTarget != 50) {
			t.Errorf("market_watcher progress = %+v", p)
		}
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Streak Tests
// ═══════════════════════════════════════════════════════════════════════════

func TestStreak_FirstActivity(t *testing.T) {
	f := newFixture(t)
	res, err := f.streaks.RecordActivity(context.Background(), "u1", "price_check", day(0))
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if res.Streak.Current != 1 || res.Streak.Longest != 1 || res.Streak.FreezeTokens != 1 {
		t.Errorf("streak = %+v", res.Streak)
	}
}

func TestStreak_SameDayIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.streaks.RecordActivity(ctx, "u1", "price_check", day(0))
	res, _ := f.streaks.RecordActivity(ctx, "u1", "price_check", day(0).Add(6*time.Hour))
	if res.Changed || res.Streak.Current != 1 {
		t.Errorf("second record same day = %+v, want unchanged 1", res)
	}
}

func TestStreak_ConsecutiveDays(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var res domain.StreakResult
	for d := 0; d < 10; d++ {
		res, _ = f.streaks.RecordActivity(ctx, "u1", "price_check", day(d))
	}
	if res.Streak.Current != 10 || res.Streak.Longest < 10 {
		t.Errorf("streak = %+v, want 10", res.Streak)
	}
}

func TestStreak_FreezeSavesGap(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.streaks.RecordActivity(ctx, "u1", "price_check", day(0))
	f.streaks.RecordActivity(ctx, "u1", "price_check", day(1))
	res, _ := f.streaks.RecordActivity(ctx, "u1", "price_check", day(4))
	if !res.FreezeUsed || res.Streak.Current != 3 || res.Streak.FreezeTokens != 0 {
		t.Errorf("after gap with freeze = %+v", res)
	}

	// No freeze left: restart at 1, never 0
	res, _ = f.streaks.RecordActivity(ctx, "u1", "price_check", day(8))
	if !res.Reset || res.Streak.Current != 1 || res.Streak.Longest != 3 {
		t.Errorf("after gap without freeze = %+v", res)
	}
}

func TestStreak_MilestoneOncePerRun(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := domain.Individual("u1")

	for d := 0; d < 4; d++ {
		f.streaks.RecordActivity(ctx, "u1", "price_check", day(d))
	}
	// 3-day milestone pays 25 XP once
	if got := f.xp(t, u); got != 25 {
		t.Fatalf("xp after 4 days = %d, want 25", got)
	}

	// Spend the freeze token, then break the run
	f.streaks.RecordActivity(ctx, "u1", "price_check", day(6))
	res, _ := f.streaks.RecordActivity(ctx, "u1", "price_check", day(10))
	if !res.Reset {
		t.Fatalf("expected reset, got %+v", res)
	}
	for d := 11; d < 13; d++ {
		res, _ = f.streaks.RecordActivity(ctx, "u1", "price_check", day(d))
	}
	// A new run re-arms the milestone
	if len(res.Milestones) != 1 || res.Milestones[0].Days != 3 {
		t.Errorf("milestones on new run = %+v", res.Milestones)
	}
	if got := f.xp(t, u); got != 50 {
		t.Errorf("xp after second run = %d, want 50", got)
	}
}

func TestStreak_StatusStates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	st, _ := f.streaks.Status(ctx, "u1", day(0))
	if st.State != domain.StreakCold || st.CanSave {
		t.Errorf("new user status = %+v", st)
	}

	f.streaks.RecordActivity(ctx, "u1", "price_check", day(0))
	if st, _ = f.streaks.Status(ctx, "u1", day(0)); st.State != domain.StreakWarm {
		t.Errorf("same day state = %s, want warm", st.State)
	}
	if st, _ = f.streaks.Status(ctx, "u1", day(1)); st.State != domain.StreakAtRisk || !st.CanSave {
		t.Errorf("next day status = %+v, want at_risk and savable", st)
	}
	if st, _ = f.streaks.Status(ctx, "u1", day(3)); st.State != domain.StreakAtRisk || st.Current != 1 {
		t.Errorf("gap with freeze status = %+v", st)
	}
}

func TestStreak_CanSave(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.streaks.RecordActivity(ctx, "u1", "price_check", day(0))
	if ok, err := f.streaks.CanSave(ctx, "u1", day(0)); err != nil || ok {
		t.Errorf("CanSave while warm = %v, %v; want false", ok, err)
	}
	if ok, err := f.streaks.CanSave(ctx, "u1", day(1)); err != nil || !ok {
		t.Errorf("CanSave at risk with token = %v, %v; want true", ok, err)
	}

	// Spend the only token bridging a gap, then fall at risk again
	f.streaks.RecordActivity(ctx, "u1", "price_check", day(1))
	res, _ := f.streaks.RecordActivity(ctx, "u1", "price_check", day(4))
	if !res.FreezeUsed || res.Streak.FreezeTokens != 0 {
		t.Fatalf("freeze not spent: %+v", res)
	}
	st, _ := f.streaks.Status(ctx, "u1", day(5))
	if st.State != domain.StreakAtRisk {
		t.Fatalf("state = %s, want at_risk", st.State)
	}
	if ok, err := f.streaks.CanSave(ctx, "u1", day(5)); err != nil || ok {
		t.Errorf("CanSave at risk without token = %v, %v; want false", ok, err)
	}

	if _, err := f.streaks.CanSave(ctx, "", day(0)); !errors.Is(err, domain.ErrMissingSubject) {
		t.Errorf("empty user error = %v, want ErrMissingSubject", err)
	}
}

func TestEvaluateStreak_Broken(t *testing.T) {
	rec := domain.StreakRecord{UserID: "u1", Current: 5, Longest: 5, LastDay: "2024-06-10"}
	st, err := engagement.EvaluateStreak(rec, day(3))
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if st.State != domain.StreakBroken || st.Current != 0 || st.Longest != 5 || st.CanSave {
		t.Errorf("status = %+v, want broken with current 0", st)
	}
}

func TestSaveStreak(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.streaks.RecordActivity(ctx, "u1", "price_check", day(0))
	f.streaks.RecordActivity(ctx, "u1", "price_check", day(1))

	if _, err := f.streaks.SaveStreak(ctx, "u1", "community_post", day(3)); !errors.Is(err, domain.ErrNotRecoveryAction) {
		t.Errorf("non-recovery save error = %v", err)
	}
	if _, err := f.streaks.SaveStreak(ctx, "u1", "photo_upload", day(1)); !errors.Is(err, domain.ErrCannotSave) {
		t.Errorf("save while warm error = %v, want ErrCannotSave", err)
	}

	res, err := f.streaks.SaveStreak(ctx, "u1", "photo_upload", day(3))
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if !res.FreezeUsed || res.Streak.Current != 3 {
		t.Errorf("saved streak = %+v", res)
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Challenge Tests
// ═══════════════════════════════════════════════════════════════════════════

func seedChallenge(t *testing.T, f *fixture, c domain.ChallengeTemplate) {
	t.Helper()
	if err := f.challenges.SeedTemplates(context.Background(), []domain.ChallengeTemplate{c}); err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func weekly(id, key string, target int) domain.ChallengeTemplate {
	return domain.ChallengeTemplate{
		ID: id, Title: id, SubjectKind: domain.SubjectUser, ActionKey: key, Target: target,
		RewardPoints: 30, RewardXP: 60, Recurrence: domain.RecurWeekly, IsActive: true,
	}
}

func TestChallenge_CompletesExactlyOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seedChallenge(t, f, weekly("lessons", "article_completed", 3))
	u := domain.Individual("u1")

	completions := 0
	for i := 0; i < 5; i++ {
		updates, err := f.challenges.UpdateProgress(ctx, u, "article_completed", 1)
		if err != nil {
			t.Fatalf("update: %v", err)
		}
		for _, up := range updates {
			if up.Completed {
				completions++
			}
			if up.Progress.Progress > up.Progress.Target {
				t.Errorf("progress %d exceeds target %d", up.Progress.Progress, up.Progress.Target)
			}
		}
	}
	if completions != 1 {
		t.Errorf("completions = %d, want 1", completions)
	}
	if got := f.balance(t, u); got != 30 {
		t.Errorf("balance = %d, want 30", got)
	}

	rows, _ := f.challenges.ListProgress(ctx, u)
	if len(rows) != 1 || rows[0].Status != domain.ChallengeCompleted || rows[0].CompletedAt == nil {
		t.Errorf("rows = %+v", rows)
	}
}

func TestChallenge_NewWeekStartsFresh(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seedChallenge(t, f, weekly("prices", "price_check", 10))
	u := domain.Individual("u1")

	for i := 0; i < 4; i++ {
		f.challenges.UpdateProgress(ctx, u, "price_check", 1)
	}
	f.challenges.SetClock(func() time.Time { return day(7) })
	updates, _ := f.challenges.UpdateProgress(ctx, u, "price_check", 1)
	if len(updates) != 1 || updates[0].Progress.Progress != 1 {
		t.Fatalf("next week updates = %+v, want progress 1", updates)
	}

	rows, _ := f.challenges.ListProgress(ctx, u)
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2 windows", len(rows))
	}
	if rows[1].Status != domain.ChallengeExpired || rows[1].Progress != 4 {
		t.Errorf("previous window = %+v, want expired at 4", rows[1])
	}
}

func TestChallenge_ConcurrentIncrementsPayOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seedChallenge(t, f, weekly("prices", "price_check", 5))

	var wg sync.WaitGroup
	for _, user := range []string{"u1", "u2"} {
		for i := 0; i < 12; i++ {
			wg.Add(1)
			go func(user string) {
				defer wg.Done()
				if _, err := f.challenges.UpdateProgress(ctx, domain.Individual(user), "price_check", 1); err != nil {
					t.Errorf("update: %v", err)
				}
			}(user)
		}
	}
	wg.Wait()

	for _, user := range []string{"u1", "u2"} {
		if got := f.balance(t, domain.Individual(user)); got != 30 {
			t.Errorf("%s balance = %d, want reward paid exactly once", user, got)
		}
	}
}

func TestChallenge_TeamRequiresAdmin(t *testing.T) {
	f := newFixture(t)
	tmpl := domain.ChallengeTemplate{Title: "Harvest photos", ActionKey: "photo_upload", Target: 2, RewardPoints: 100}

	_, err := f.challenges.CreateTeamChallenge(context.Background(), "coop-7", engagement.RoleMember, tmpl)
	if !errors.Is(err, domain.ErrNotTeamAdmin) {
		t.Errorf("member create error = %v, want ErrNotTeamAdmin", err)
	}

	created, err := f.challenges.CreateTeamChallenge(context.Background(), "coop-7", engagement.RoleAdmin, tmpl)
	if err != nil {
		t.Fatalf("admin create: %v", err)
	}
	if created.ID != "team:coop-7:harvest-photos" || created.SubjectKind != domain.SubjectTeam {
		t.Errorf("created = %+v", created)
	}
}

func TestChallenge_TeamCannotOverwriteOtherTemplates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if err := f.challenges.SeedTemplates(ctx, domain.DefaultRules().Challenges); err != nil {
		t.Fatalf("seed: %v", err)
	}

	// Client-supplied ids naming seeded templates are ignored
	for _, id := range []string{"weekly-price-watch", "team-field-reports"} {
		hijack := domain.ChallengeTemplate{ID: id, Title: "Mine now", ActionKey: "photo_upload", Target: 1, RewardPoints: 1}
		created, err := f.challenges.CreateTeamChallenge(ctx, "evil", engagement.RoleAdmin, hijack)
		if err == nil && created.ID == id {
			t.Fatalf("create with id %q took over the seeded template", id)
		}
	}

	individual, err := f.challenges.Templates(ctx, domain.Individual("u1"))
	if err != nil {
		t.Fatalf("templates: %v", err)
	}
	if len(individual) != 2 {
		t.Errorf("individual templates = %d, want both seeded ones", len(individual))
	}
	other, err := f.challenges.Templates(ctx, domain.Team("other"))
	if err != nil {
		t.Fatalf("templates: %v", err)
	}
	if len(other) != 1 || other[0].ID != "team-field-reports" {
		t.Errorf("team other templates = %+v, want the shared one only", other)
	}

	updates, err := f.challenges.UpdateProgress(ctx, domain.Individual("u1"), "price_check", 1)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if len(updates) != 1 || updates[0].Progress.TemplateID != "weekly-price-watch" {
		t.Errorf("updates = %+v, want weekly-price-watch advanced", updates)
	}
}

func TestChallenge_TeamIDsAreScoped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tmpl := domain.ChallengeTemplate{Title: "Field reports", ActionKey: "photo_upload", Target: 3, RewardPoints: 10}

	a, err := f.challenges.CreateTeamChallenge(ctx, "coop-a", engagement.RoleOwner, tmpl)
	if err != nil {
		t.Fatalf("create a: %v", err)
	}
	b, err := f.challenges.CreateTeamChallenge(ctx, "coop-b", engagement.RoleOwner, tmpl)
	if err != nil {
		t.Fatalf("create b: %v", err)
	}
	if a.ID == b.ID {
		t.Fatalf("teams share challenge id %q", a.ID)
	}

	// Recreating keeps the original definition
	tmpl.Target = 1
	if _, err := f.challenges.CreateTeamChallenge(ctx, "coop-a", engagement.RoleAdmin, tmpl); !errors.Is(err, domain.ErrChallengeExists) {
		t.Errorf("duplicate create error = %v, want ErrChallengeExists", err)
	}
	list, err := f.challenges.Templates(ctx, domain.Team("coop-a"))
	if err != nil {
		t.Fatalf("templates: %v", err)
	}
	if len(list) != 1 || list[0].Target != 3 || list[0].TeamID != "coop-a" {
		t.Errorf("coop-a templates = %+v", list)
	}
}

func TestChallenge_InvalidTemplate(t *testing.T) {
	f := newFixture(t)
	bad := domain.ChallengeTemplate{Title: "x", ActionKey: "a", Target: 1, StartsAt: day(2), EndsAt: day(1)}
	if _, err := f.challenges.CreateTeamChallenge(context.Background(), "t", engagement.RoleOwner, bad); !errors.Is(err, domain.ErrInvalidWindow) {
		t.Errorf("error = %v, want ErrInvalidWindow", err)
	}
	bad = domain.ChallengeTemplate{Title: "x", ActionKey: "a"}
	if _, err := f.challenges.CreateTeamChallenge(context.Background(), "t", engagement.RoleOwner, bad); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("error = %v, want a validation error", err)
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Pipeline Tests
// ═══════════════════════════════════════════════════════════════════════════

func TestTrack_FullPipeline(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	team := domain.ChallengeTemplate{Title: "Reports", ActionKey: "photo_upload", Target: 2, RewardPoints: 100, RewardXP: 10}
	if _, err := f.challenges.CreateTeamChallenge(ctx, "coop-7", engagement.RoleOwner, team); err != nil {
		t.Fatalf("create team challenge: %v", err)
	}

	ev := domain.ActionEvent{UserID: "u1", ActionType: "photo_upload", At: day(0), TeamIDs: []string{"coop-7"}}
	out, err := f.engine.Track(ctx, ev)
	if err != nil {
		t.Fatalf("track: %v", err)
	}
	if !out.Reward.Rewarded || out.Streak == nil || out.Streak.Streak.Current != 1 {
		t.Errorf("outcome = %+v", out)
	}
	if out.Reward.Badge == nil || out.Reward.Badge.Badge != "field_reporter" || out.Reward.Badge.Count != 1 {
		t.Errorf("badge = %+v", out.Reward.Badge)
	}

	ev.UserID = "u2"
	out, _ = f.engine.Track(ctx, ev)
	completed := false
	for _, c := range out.Challenges {
		if c.Completed && c.Progress.Subject == domain.Team("coop-7") {
			completed = true
		}
	}
	if !completed {
		t.Errorf("team challenge not completed: %+v", out.Challenges)
	}
	if got := f.balance(t, domain.Team("coop-7")); got != 100 {
		t.Errorf("team balance = %d, want 100", got)
	}
	// Team rewards go to the team account, not the member
	if got := f.balance(t, domain.Individual("u2")); got != 5 {
		t.Errorf("u2 balance = %d, want 5 (photo_upload only)", got)
	}
}

func TestTrack_CappedActionStillCountsForStreak(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seedChallenge(t, f, weekly("logins", "daily_login", 5))

	f.engine.Track(ctx, action("u1", "daily_login", day(0)))
	out, err := f.engine.Track(ctx, action("u1", "daily_login", day(0)))
	if err != nil {
		t.Fatalf("track: %v", err)
	}
	if out.Reward.Rewarded || out.Reward.Reason != domain.ReasonDailyLimit {
		t.Errorf("second login = %+v, want capped", out.Reward)
	}
	if out.Streak == nil || out.Streak.Streak.Current != 1 {
		t.Errorf("streak = %+v", out.Streak)
	}
	if len(out.Challenges) != 0 {
		t.Errorf("capped action advanced challenges: %+v", out.Challenges)
	}

	rows, _ := f.challenges.ListProgress(ctx, domain.Individual("u1"))
	if len(rows) != 1 || rows[0].Progress != 1 {
		t.Errorf("challenge rows = %+v, want progress 1", rows)
	}
}

func TestTrack_NonStreakAction(t *testing.T) {
	f := newFixture(t)
	out, err := f.engine.Track(context.Background(), action("u1", "community_post", day(0)))
	if err != nil {
		t.Fatalf("track: %v", err)
	}
	if out.Streak != nil {
		t.Errorf("community_post should not touch the streak: %+v", out.Streak)
	}
}
