// Package shop spends points against the reward catalog.
package shop

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gosimple/slug"

	"github.com/fieldwise/fieldwise/internal/app/ledger"
	"github.com/fieldwise/fieldwise/internal/domain"
	"github.com/fieldwise/fieldwise/internal/infra/metrics"
	"github.com/fieldwise/fieldwise/internal/infra/sqlite"
)

// MaxQuantity bounds a single redemption.
const MaxQuantity = 100

// FreezeGranter adds streak freeze tokens inside a transaction.
type FreezeGranter interface {
	GrantFreezeTokensTx(tx *sqlite.Tx, userID string, n int, now time.Time) (int, error)
}

// Service redeems catalog items.
type Service struct {
	db      *sqlite.DB
	ledger  *ledger.Service
	freezes FreezeGranter
	now     func() time.Time
}

// NewService creates a shop service. freezes may be nil when no catalog
// item grants streak freezes.
func NewService(db *sqlite.DB, l *ledger.Service, freezes FreezeGranter) *Service {
	return &Service{db: db, ledger: l, freezes: freezes, now: time.Now}
}

// SetClock overrides the time source. Used by tests.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// SeedCatalog upserts catalog items. Existing items keep their stock.
func (s *Service) SeedCatalog(ctx context.Context, items []domain.ShopItem) error {
	return s.db.WithTx(ctx, func(tx *sqlite.Tx) error {
		for _, it := range items {
			if it.ID == "" {
				it.ID = slug.Make(it.Name)
			}
			switch {
			case strings.TrimSpace(it.Name) == "":
				return domain.Validationf("shop item name is required")
			case it.PointsCost <= 0:
				return fmt.Errorf("shop item %q: %w", it.ID, domain.ErrInvalidAmount)
			case it.Stock < domain.UnlimitedStock:
				return domain.Validationf("shop item %q: stock must be -1 or more, got %d", it.ID, it.Stock)
			}
			if err := tx.SeedShopItem(it); err != nil {
				return err
			}
		}
		return nil
	})
}

// Catalog lists active items, cheapest first.
func (s *Service) Catalog(ctx context.Context) ([]domain.ShopItem, error) {
	var out []domain.ShopItem
	err := s.db.View(ctx, func(tx *sqlite.Tx) (err error) {
		out, err = tx.ListShopItems()
		return err
	})
	return out, err
}

// Redeem buys qty units of an item. The debit and the stock decrement
// commit together or not at all.
func (s *Service) Redeem(ctx context.Context, userID, itemID string, qty int) (domain.Redemption, error) {
	defer metrics.ObserveSince("redeem", time.Now())

	if userID == "" {
		return domain.Redemption{}, domain.ErrMissingSubject
	}
	if qty <= 0 || qty > MaxQuantity {
		return domain.Redemption{}, fmt.Errorf("quantity %d out of range 1..%d: %w", qty, MaxQuantity, domain.ErrInvalidAmount)
	}
	now := s.now().UTC().Truncate(time.Second)

	var r domain.Redemption
	err := s.db.WithTx(ctx, func(tx *sqlite.Tx) error {
		it, found, err := tx.GetShopItem(itemID)
		if err != nil {
			return err
		}
		if !found || !it.Active {
			return domain.ErrUnknownItem
		}

		r = domain.Redemption{
			ID:          uuid.New().String(),
			UserID:      userID,
			ItemID:      it.ID,
			Quantity:    qty,
			PointsSpent: it.PointsCost * int64(qty),
			Code:        redemptionCode(),
			CreatedAt:   now,
		}
		_, err = s.ledger.RedeemTx(tx, domain.PointsMove{
			Subject: domain.Individual(userID),
			Amount:  r.PointsSpent,
			Source:  "shop",
			RefID:   r.ID,
			Note:    fmt.Sprintf("%dx %s", qty, it.Name),
		}, now)
		if errors.Is(err, domain.ErrInsufficientBalance) {
			return domain.ErrInsufficientPoints
		}
		if err != nil {
			return err
		}

		taken, err := tx.TakeStock(it.ID, qty)
		if err != nil {
			return fmt.Errorf("take stock: %w", err)
		}
		if !taken {
			return domain.ErrOutOfStock
		}

		if it.FreezeTokens > 0 && s.freezes != nil {
			if _, err := s.freezes.GrantFreezeTokensTx(tx, userID, it.FreezeTokens*qty, now); err != nil {
				return fmt.Errorf("grant freeze tokens: %w", err)
			}
		}
		return tx.InsertRedemption(r)
	})
	if err != nil {
		metrics.Redemptions.WithLabelValues(result(err)).Inc()
		return domain.Redemption{}, err
	}
	metrics.Redemptions.WithLabelValues("ok").Inc()
	log.Printf("[shop] %s redeemed %dx %s for %d points (%s)", userID, qty, itemID, r.PointsSpent, r.Code)
	return r, nil
}

// Redemptions lists a user's redemptions, newest first.
func (s *Service) Redemptions(ctx context.Context, userID string, limit int) ([]domain.Redemption, error) {
	if userID == "" {
		return nil, domain.ErrMissingSubject
	}
	var out []domain.Redemption
	err := s.db.View(ctx, func(tx *sqlite.Tx) (err error) {
		out, err = tx.ListRedemptions(userID, limit)
		return err
	})
	return out, err
}

// redemptionCode returns RDM- followed by 10 uppercase hex digits.
func redemptionCode() string {
	hex := strings.ReplaceAll(uuid.New().String(), "-", "")
	return "RDM-" + strings.ToUpper(hex[:10])
}

func result(err error) string {
	var de *domain.Error
	if errors.As(err, &de) {
		return de.Code
	}
	return "error"
}
