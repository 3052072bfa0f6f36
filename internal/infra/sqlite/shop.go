package sqlite

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/fieldwise/fieldwise/internal/domain"
)

// ═══════════════════════════════════════════════════════════════════════════
// Shop Catalog
// ═══════════════════════════════════════════════════════════════════════════

const shopItemCols = `id, name, description, points_cost, stock, freeze_tokens, active`

// SeedShopItem inserts a catalog item. Existing rows keep their stock so a
// restart does not refill sold-out items.
func (t *Tx) SeedShopItem(it domain.ShopItem) error {
	_, err := t.exec(`
		INSERT INTO shop_items (`+shopItemCols+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name          = excluded.name,
			description   = excluded.description,
			points_cost   = excluded.points_cost,
			freeze_tokens = excluded.freeze_tokens,
			active        = excluded.active`,
		it.ID, it.Name, it.Description, it.PointsCost, it.Stock, it.FreezeTokens, it.Active,
	)
	if err != nil {
		return fmt.Errorf("seed shop item %s: %w", it.ID, err)
	}
	return nil
}

// GetShopItem returns one catalog item.
func (t *Tx) GetShopItem(id string) (domain.ShopItem, bool, error) {
	it, err := scanShopItem(t.queryRow(`SELECT `+shopItemCols+` FROM shop_items WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return it, false, nil
	}
	return it, err == nil, err
}

// ListShopItems returns active items ordered by cost.
func (t *Tx) ListShopItems() ([]domain.ShopItem, error) {
	rows, err := t.query(`SELECT ` + shopItemCols + ` FROM shop_items WHERE active = 1 ORDER BY points_cost, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ShopItem
	for rows.Next() {
		it, err := scanShopItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

// TakeStock decrements finite stock by qty if enough remains.
// Unlimited items always succeed.
func (t *Tx) TakeStock(id string, qty int) (bool, error) {
	return t.execCAS(`
		UPDATE shop_items SET stock = CASE WHEN stock = -1 THEN -1 ELSE stock - ? END
		WHERE id = ? AND (stock = -1 OR stock >= ?)`, qty, id, qty)
}

func scanShopItem(s scanner) (domain.ShopItem, error) {
	var it domain.ShopItem
	err := s.Scan(&it.ID, &it.Name, &it.Description, &it.PointsCost, &it.Stock, &it.FreezeTokens, &it.Active)
	return it, err
}

// ═══════════════════════════════════════════════════════════════════════════
// Redemptions
// ═══════════════════════════════════════════════════════════════════════════

// InsertRedemption records a completed purchase.
func (t *Tx) InsertRedemption(r domain.Redemption) error {
	_, err := t.exec(`
		INSERT INTO redemptions (id, user_id, item_id, quantity, points_spent, code, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.UserID, r.ItemID, r.Quantity, r.PointsSpent, r.Code, r.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("insert redemption: %w", err)
	}
	return nil
}

// ListRedemptions returns a user's redemptions, newest first.
func (t *Tx) ListRedemptions(userID string, limit int) ([]domain.Redemption, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := t.query(`
		SELECT id, user_id, item_id, quantity, points_spent, code, created_at
		FROM redemptions WHERE user_id = ?
		ORDER BY created_at DESC, id LIMIT ?`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Redemption
	for rows.Next() {
		var (
			r       domain.Redemption
			created int64
		)
		if err := rows.Scan(&r.ID, &r.UserID, &r.ItemID, &r.Quantity, &r.PointsSpent, &r.Code, &created); err != nil {
			return nil, err
		}
		r.CreatedAt = fromUnix(created)
		out = append(out, r)
	}
	return out, rows.Err()
}
