package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/erazemk/scanfleet/internal/db"
	"github.com/erazemk/scanfleet/internal/model"
)

const workItemColumns = `id, name, short_name, disabled, is_preset, no_flea, only_flea,
        last_scan, trader_last_scan, player_holder, trader_holder`

// UpsertWorkItem inserts an item or refreshes its names and eligibility
// flags. Scan timestamps and lease holders are left untouched.
func UpsertWorkItem(ctx context.Context, d *db.DB, it model.WorkItem) error {
	_, err := d.ExecContext(ctx, d.Rebind(
		`INSERT INTO work_items (id, name, short_name, disabled, is_preset, no_flea, only_flea)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		     name = excluded.name,
		     short_name = excluded.short_name,
		     disabled = excluded.disabled,
		     is_preset = excluded.is_preset,
		     no_flea = excluded.no_flea,
		     only_flea = excluded.only_flea`),
		it.ID, it.Name, it.ShortName,
		boolInt(it.Disabled), boolInt(it.IsPreset), boolInt(it.NoFlea), boolInt(it.OnlyFlea),
	)
	if err != nil {
		return fmt.Errorf("upserting work item %s: %w", it.ID, err)
	}
	return nil
}

// ImportWorkItems upserts a batch of items in one transaction.
func ImportWorkItems(ctx context.Context, d *db.DB, items []model.WorkItem) error {
	tx, err := d.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, d.Rebind(
		`INSERT INTO work_items (id, name, short_name, disabled, is_preset, no_flea, only_flea)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		     name = excluded.name,
		     short_name = excluded.short_name,
		     disabled = excluded.disabled,
		     is_preset = excluded.is_preset,
		     no_flea = excluded.no_flea,
		     only_flea = excluded.only_flea`))
	if err != nil {
		return fmt.Errorf("preparing import: %w", err)
	}
	defer stmt.Close()

	for _, it := range items {
		if _, err := stmt.ExecContext(ctx, it.ID, it.Name, it.ShortName,
			boolInt(it.Disabled), boolInt(it.IsPreset), boolInt(it.NoFlea), boolInt(it.OnlyFlea)); err != nil {
			return fmt.Errorf("importing work item %s: %w", it.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing import: %w", err)
	}
	return nil
}

// GetWorkItem returns a work item by ID, or nil if none exists.
func GetWorkItem(ctx context.Context, d *db.DB, id string) (*model.WorkItem, error) {
	rows, err := d.QueryContext(ctx, d.Rebind(
		`SELECT `+workItemColumns+` FROM work_items WHERE id = ?`), id)
	if err != nil {
		return nil, fmt.Errorf("getting work item: %w", err)
	}
	defer rows.Close()

	items, err := scanWorkItems(rows)
	if err != nil || len(items) == 0 {
		return nil, err
	}
	return &items[0], nil
}

// ListHeldItems returns the items a scanner holds in a domain, by ID.
func ListHeldItems(ctx context.Context, d *db.DB, domain model.Domain, holder int64) ([]model.WorkItem, error) {
	cols := columnsFor(domain)
	rows, err := d.QueryContext(ctx, d.Rebind(
		`SELECT `+workItemColumns+` FROM work_items WHERE `+cols.holder+` = ? ORDER BY id`), holder)
	if err != nil {
		return nil, fmt.Errorf("listing held items: %w", err)
	}
	defer rows.Close()
	return scanWorkItems(rows)
}

// CountHeldItems returns the number of leased items per domain.
func CountHeldItems(ctx context.Context, d *db.DB) (map[model.Domain]int, error) {
	counts := make(map[model.Domain]int, len(model.Domains))
	for _, dom := range model.Domains {
		var n int
		err := d.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM work_items WHERE `+columnsFor(dom).holder+` IS NOT NULL`,
		).Scan(&n)
		if err != nil {
			return nil, fmt.Errorf("counting held %s items: %w", dom, err)
		}
		counts[dom] = n
	}
	return counts, nil
}

func scanWorkItems(rows *sql.Rows) ([]model.WorkItem, error) {
	var items []model.WorkItem
	for rows.Next() {
		var (
			it                   model.WorkItem
			lastScan, traderScan sql.NullTime
			player, trader       sql.NullInt64
		)
		if err := rows.Scan(&it.ID, &it.Name, &it.ShortName, &it.Disabled, &it.IsPreset, &it.NoFlea, &it.OnlyFlea,
			&lastScan, &traderScan, &player, &trader); err != nil {
			return nil, fmt.Errorf("scanning work item: %w", err)
		}
		it.LastScan = nullTime(lastScan)
		it.TraderLastScan = nullTime(traderScan)
		if player.Valid {
			it.PlayerHolder = &player.Int64
		}
		if trader.Valid {
			it.TraderHolder = &trader.Int64
		}
		items = append(items, it)
	}
	return items, rows.Err()
}
