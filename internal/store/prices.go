package store

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/erazemk/scanfleet/internal/db"
	"github.com/erazemk/scanfleet/internal/model"
)

// InsertPrices records one scan of an item. Rouble flea market offers go to
// price_data; everything else is a trader offer. It returns how many rows
// of each kind were written.
func InsertPrices(ctx context.Context, d *db.DB, itemID string, scannerID int64, prices []model.Price, at time.Time) (player, trader int, err error) {
	at = at.UTC()

	tx, err := d.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("beginning price insert: %w", err)
	}
	defer tx.Rollback()

	for _, p := range prices {
		value := int64(math.Round(p.Price))
		if p.IsPlayerOffer() {
			_, err = tx.ExecContext(ctx, d.Rebind(
				`INSERT INTO price_data (item_id, price, scanner_id, timestamp) VALUES (?, ?, ?, ?)`),
				itemID, value, scannerID, at)
			if err != nil {
				return 0, 0, fmt.Errorf("inserting player price for %s: %w", itemID, err)
			}
			player++
			continue
		}
		_, err = tx.ExecContext(ctx, d.Rebind(
			`INSERT INTO trader_price_data (item_id, trader_name, currency, price, min_level, quest, scanner_id, timestamp)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
			itemID, p.Seller, p.Currency, value, p.MinLevel, p.Quest, scannerID, at)
		if err != nil {
			return 0, 0, fmt.Errorf("inserting trader price for %s: %w", itemID, err)
		}
		trader++
	}

	if player > 0 {
		_, err = tx.ExecContext(ctx, d.Rebind(
			`UPDATE work_items SET last_offer_count = ? WHERE id = ?`), player, itemID)
		if err != nil {
			return 0, 0, fmt.Errorf("updating offer count for %s: %w", itemID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("committing price insert: %w", err)
	}
	return player, trader, nil
}

// CountPrices returns the number of stored player and trader prices for an
// item.
func CountPrices(ctx context.Context, d *db.DB, itemID string) (player, trader int, err error) {
	if err := d.QueryRowContext(ctx, d.Rebind(
		`SELECT COUNT(*) FROM price_data WHERE item_id = ?`), itemID).Scan(&player); err != nil {
		return 0, 0, fmt.Errorf("counting player prices: %w", err)
	}
	if err := d.QueryRowContext(ctx, d.Rebind(
		`SELECT COUNT(*) FROM trader_price_data WHERE item_id = ?`), itemID).Scan(&trader); err != nil {
		return 0, 0, fmt.Errorf("counting trader prices: %w", err)
	}
	return player, trader, nil
}
