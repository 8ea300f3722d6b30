package store

import (
	"context"
	"database/sql"
	"fmt"
)

// MarketWatch is one watched item with its alert thresholds.
type MarketWatch struct {
	ItemID        int64
	BuyThreshold  sql.NullFloat64
	SellThreshold sql.NullFloat64
	LastSeenPrice sql.NullFloat64
}

// UpsertMarketWatch registers or updates thresholds for an item. A
// non-positive threshold disables that side of the watch. The last seen
// price is preserved across updates.
func (s *Store) UpsertMarketWatch(ctx context.Context, itemID int64, buyThreshold, sellThreshold float64) error {
	buy := sql.NullFloat64{Float64: buyThreshold, Valid: buyThreshold > 0}
	sell := sql.NullFloat64{Float64: sellThreshold, Valid: sellThreshold > 0}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO market_watch (item_id, buy_threshold, sell_threshold, last_seen_price)
		VALUES (?, ?, ?, NULL)
		ON CONFLICT(item_id) DO UPDATE SET
			buy_threshold = excluded.buy_threshold,
			sell_threshold = excluded.sell_threshold
	`, itemID, buy, sell)
	if err != nil {
		return fmt.Errorf("failed to upsert market watch: %w", err)
	}
	return nil
}

// UpdateMarketLastPrice records the latest observed price for an item.
func (s *Store) UpdateMarketLastPrice(ctx context.Context, itemID int64, price float64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE market_watch SET last_seen_price = ? WHERE item_id = ?
	`, price, itemID)
	if err != nil {
		return fmt.Errorf("failed to update last price: %w", err)
	}
	return nil
}

// MarketWatchAll returns every watched item.
func (s *Store) MarketWatchAll(ctx context.Context) ([]MarketWatch, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT item_id, buy_threshold, sell_threshold, last_seen_price FROM market_watch
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query market watch: %w", err)
	}
	defer rows.Close()

	var items []MarketWatch
	for rows.Next() {
		var w MarketWatch
		if err := rows.Scan(&w.ItemID, &w.BuyThreshold, &w.SellThreshold, &w.LastSeenPrice); err != nil {
			return nil, fmt.Errorf("failed to scan market watch: %w", err)
		}
		items = append(items, w)
	}
	return items, rows.Err()
}
