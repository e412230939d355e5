package store

import (
	"context"
	"fmt"
	"time"

	"github.com/erazemk/scanfleet/internal/db"
	"github.com/erazemk/scanfleet/internal/model"
)

// domainColumns names the per-domain columns of work_items and scanners.
type domainColumns struct {
	holder string
	scan   string
}

func columnsFor(d model.Domain) domainColumns {
	if d == model.DomainTrader {
		return domainColumns{holder: "trader_holder", scan: "trader_last_scan"}
	}
	return domainColumns{holder: "player_holder", scan: "last_scan"}
}

// ClaimFilter narrows the eligible pool of a claim beyond the base rules
// (not disabled, not a preset, unheld or held by the claimant).
type ClaimFilter struct {
	// ExcludeNoFlea drops items that cannot be sold on the flea market.
	ExcludeNoFlea bool
	// ExcludeOnlyFlea drops items that traders never sell.
	ExcludeOnlyFlea bool
	// ScannedBefore, when set, keeps only items whose domain freshness is
	// unset or not newer than this instant.
	ScannedBefore *time.Time
}

// ClaimBatch leases up to limit eligible items in a domain to holder and
// returns every item the holder now holds in that domain, oldest-scanned
// first. Items already held by holder stay eligible so a reconnecting
// scanner gets its batch back.
//
// The conditional update and the re-select run in one transaction. SQLite
// opens it with BEGIN IMMEDIATE; Postgres skips rows locked by a
// concurrent claimant and rechecks the holder predicate on update.
func ClaimBatch(ctx context.Context, d *db.DB, domain model.Domain, holder int64, limit int, f ClaimFilter) ([]model.WorkItem, error) {
	cols := columnsFor(domain)

	where := `(` + cols.holder + ` IS NULL OR ` + cols.holder + ` = ?) AND disabled = 0 AND is_preset = 0`
	args := []any{holder}
	if f.ExcludeNoFlea {
		where += ` AND no_flea = 0`
	}
	if f.ExcludeOnlyFlea {
		where += ` AND only_flea = 0`
	}
	if f.ScannedBefore != nil {
		where += ` AND (` + cols.scan + ` IS NULL OR ` + cols.scan + ` <= ?)`
		args = append(args, f.ScannedBefore.UTC())
	}

	claim := `UPDATE work_items SET ` + cols.holder + ` = ?
	 WHERE id IN (
	     SELECT id FROM work_items
	     WHERE ` + where + `
	     ORDER BY ` + cols.scan + ` IS NOT NULL, ` + cols.scan + `, id
	     LIMIT ?` + d.LockRowsClause() + `
	 ) AND (` + cols.holder + ` IS NULL OR ` + cols.holder + ` = ?)`

	claimArgs := append([]any{holder}, args...)
	claimArgs = append(claimArgs, limit, holder)

	tx, err := d.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning claim: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, d.Rebind(claim), claimArgs...); err != nil {
		return nil, fmt.Errorf("claiming %s items: %w", domain, err)
	}

	rows, err := tx.QueryContext(ctx, d.Rebind(
		`SELECT `+workItemColumns+` FROM work_items
		 WHERE `+cols.holder+` = ?
		 ORDER BY `+cols.scan+` IS NOT NULL, `+cols.scan+`, id`), holder)
	if err != nil {
		return nil, fmt.Errorf("selecting claimed %s items: %w", domain, err)
	}
	items, err := scanWorkItems(rows)
	rows.Close()
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing claim: %w", err)
	}
	return items, nil
}

// ReleaseItem clears holder's lease on one item. It is a no-op when the
// item is held by someone else or by no one. With markScanned the item's
// domain freshness and the scanner's last scan are stamped with now.
func ReleaseItem(ctx context.Context, d *db.DB, domain model.Domain, holder int64, itemID string, markScanned bool, now time.Time) (int64, error) {
	cols := columnsFor(domain)
	now = now.UTC()

	tx, err := d.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning release: %w", err)
	}
	defer tx.Rollback()

	set := cols.holder + ` = NULL`
	args := []any{}
	if markScanned {
		set += `, ` + cols.scan + ` = ?`
		args = append(args, now)
	}
	args = append(args, itemID, holder)

	res, err := tx.ExecContext(ctx, d.Rebind(
		`UPDATE work_items SET `+set+` WHERE id = ? AND `+cols.holder+` = ?`), args...)
	if err != nil {
		return 0, fmt.Errorf("releasing %s item %s: %w", domain, itemID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting released items: %w", err)
	}

	if markScanned && n > 0 {
		if _, err := tx.ExecContext(ctx, d.Rebind(
			`UPDATE scanners SET `+cols.scan+` = ? WHERE id = ?`), now, holder); err != nil {
			return 0, fmt.Errorf("stamping scanner %s scan: %w", domain, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing release: %w", err)
	}
	return n, nil
}

// ReleaseAll clears every lease holder has in a domain and returns how many
// items were released. Freshness is never stamped.
func ReleaseAll(ctx context.Context, d *db.DB, domain model.Domain, holder int64) (int64, error) {
	cols := columnsFor(domain)
	res, err := d.ExecContext(ctx, d.Rebind(
		`UPDATE work_items SET `+cols.holder+` = NULL WHERE `+cols.holder+` = ?`), holder)
	if err != nil {
		return 0, fmt.Errorf("releasing all %s items: %w", domain, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting released items: %w", err)
	}
	return n, nil
}

// ReleaseUserLeases clears every lease held by any scanner of a scanner
// user, in both domains, and returns how many were released.
func ReleaseUserLeases(ctx context.Context, d *db.DB, userID int64) (int64, error) {
	tx, err := d.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning user release: %w", err)
	}
	defer tx.Rollback()

	var total int64
	for _, domain := range model.Domains {
		cols := columnsFor(domain)
		res, err := tx.ExecContext(ctx, d.Rebind(
			`UPDATE work_items SET `+cols.holder+` = NULL
			 WHERE `+cols.holder+` IN (SELECT id FROM scanners WHERE scanner_user_id = ?)`), userID)
		if err != nil {
			return 0, fmt.Errorf("releasing %s items of user %d: %w", domain, userID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("counting released items: %w", err)
		}
		total += n
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing user release: %w", err)
	}
	return total, nil
}
