package shop_test

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/fieldwise/fieldwise/internal/app/engagement"
	"github.com/fieldwise/fieldwise/internal/app/ledger"
	"github.com/fieldwise/fieldwise/internal/app/shop"
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

type fixture struct {
	shop    *shop.Service
	ledger  *ledger.Service
	streaks *engagement.StreakService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testDB(t)
	rules := domain.DefaultRules()
	l := ledger.NewService(db)
	streaks := engagement.NewStreakService(db, l, rules.Streak)
	svc := shop.NewService(db, l, streaks)
	svc.SetClock(func() time.Time { return now })

	items := []domain.ShopItem{
		{ID: "seeds", Name: "Seed voucher", PointsCost: 200, Stock: 2, Active: true},
		{ID: "call", Name: "Expert call", PointsCost: 300, Stock: domain.UnlimitedStock, Active: true},
		{ID: "freeze", Name: "Streak freeze", PointsCost: 100, Stock: domain.UnlimitedStock, FreezeTokens: 1, Active: true},
		{ID: "retired", Name: "Old hat", PointsCost: 10, Stock: 5, Active: false},
	}
	if err := svc.SeedCatalog(context.Background(), items); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return &fixture{shop: svc, ledger: l, streaks: streaks}
}

func (f *fixture) fund(t *testing.T, user string, amount int64) {
	t.Helper()
	_, err := f.ledger.Earn(context.Background(), domain.PointsMove{
		Subject: domain.Individual(user), Amount: amount, Source: "test",
	})
	if err != nil {
		t.Fatalf("fund: %v", err)
	}
}

func (f *fixture) balance(t *testing.T, user string) int64 {
	t.Helper()
	b, err := f.ledger.Balance(context.Background(), domain.Individual(user))
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	return b.Balance
}

func stockOf(t *testing.T, f *fixture, id string) int {
	t.Helper()
	items, err := f.shop.Catalog(context.Background())
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	for _, it := range items {
		if it.ID == id {
			return it.Stock
		}
	}
	t.Fatalf("item %s not in catalog", id)
	return 0
}

func TestRedeem_Success(t *testing.T) {
	f := newFixture(t)
	f.fund(t, "u1", 500)

	r, err := f.shop.Redeem(context.Background(), "u1", "seeds", 2)
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if !regexp.MustCompile(`^RDM-[0-9A-F]{10}$`).MatchString(r.Code) {
		t.Errorf("code = %q", r.Code)
	}
	if r.PointsSpent != 400 || r.Quantity != 2 {
		t.Errorf("redemption = %+v", r)
	}
	if got := f.balance(t, "u1"); got != 100 {
		t.Errorf("balance = %d, want 100", got)
	}
	if got := stockOf(t, f, "seeds"); got != 0 {
		t.Errorf("stock = %d, want 0", got)
	}

	list, _ := f.shop.Redemptions(context.Background(), "u1", 10)
	if len(list) != 1 || list[0].Code != r.Code {
		t.Errorf("redemptions = %+v", list)
	}
}

func TestRedeem_InsufficientPoints(t *testing.T) {
	f := newFixture(t)
	f.fund(t, "u1", 300)

	_, err := f.shop.Redeem(context.Background(), "u1", "seeds", 2)
	if !errors.Is(err, domain.ErrInsufficientPoints) {
		t.Fatalf("error = %v, want ErrInsufficientPoints", err)
	}
	if got := f.balance(t, "u1"); got != 300 {
		t.Errorf("balance = %d, want unchanged 300", got)
	}
	if got := stockOf(t, f, "seeds"); got != 2 {
		t.Errorf("stock = %d, want unchanged 2", got)
	}
}

func TestRedeem_OutOfStockRefunds(t *testing.T) {
	f := newFixture(t)
	f.fund(t, "u1", 1000)

	_, err := f.shop.Redeem(context.Background(), "u1", "seeds", 3)
	if !errors.Is(err, domain.ErrOutOfStock) {
		t.Fatalf("error = %v, want ErrOutOfStock", err)
	}
	if got := f.balance(t, "u1"); got != 1000 {
		t.Errorf("balance = %d, want the debit rolled back", got)
	}
	if list, _ := f.shop.Redemptions(context.Background(), "u1", 10); len(list) != 0 {
		t.Errorf("redemptions = %+v, want none", list)
	}
}

func TestRedeem_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, "u1", 1000)

	if _, err := f.shop.Redeem(ctx, "u1", "seeds", 0); !errors.Is(err, domain.ErrInvalidAmount) {
		t.Errorf("zero qty error = %v", err)
	}
	if _, err := f.shop.Redeem(ctx, "u1", "nope", 1); !errors.Is(err, domain.ErrUnknownItem) {
		t.Errorf("unknown item error = %v", err)
	}
	if _, err := f.shop.Redeem(ctx, "u1", "retired", 1); !errors.Is(err, domain.ErrUnknownItem) {
		t.Errorf("inactive item error = %v", err)
	}
	if got := f.balance(t, "u1"); got != 1000 {
		t.Errorf("balance = %d", got)
	}
}

func TestRedeem_FreezeToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, "u1", 500)

	if _, err := f.shop.Redeem(ctx, "u1", "freeze", 5); err != nil {
		t.Fatalf("redeem: %v", err)
	}
	st, err := f.streaks.Status(ctx, "u1", now)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	// Initial token plus purchases, capped at the maximum
	if st.FreezeTokens != 3 {
		t.Errorf("freeze tokens = %d, want 3", st.FreezeTokens)
	}
}

func TestRedeem_ConcurrentLastUnit(t *testing.T) {
	f := newFixture(t)
	for _, u := range []string{"a", "b", "c", "d"} {
		f.fund(t, u, 200)
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		ok, oos int
	)
	for _, u := range []string{"a", "b", "c", "d"} {
		wg.Add(1)
		go func(user string) {
			defer wg.Done()
			_, err := f.shop.Redeem(context.Background(), user, "seeds", 1)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, domain.ErrOutOfStock):
				oos++
			default:
				t.Errorf("redeem %s: %v", user, err)
			}
		}(u)
	}
	wg.Wait()

	if ok != 2 || oos != 2 {
		t.Errorf("ok = %d out of stock = %d, want 2 and 2", ok, oos)
	}
	if got := stockOf(t, f, "seeds"); got != 0 {
		t.Errorf("stock = %d, want 0", got)
	}
}
