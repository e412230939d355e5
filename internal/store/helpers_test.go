package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/erazemk/scanfleet/internal/db"
	"github.com/erazemk/scanfleet/internal/model"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// seedItems inserts n eligible items named item-000.. whose player and
// trader freshness increase with the index, so item-000 is the oldest.
func seedItems(t *testing.T, d *db.DB, n int) []string {
	t.Helper()
	ctx := context.Background()
	ids := make([]string, n)
	for i := range n {
		ids[i] = fmt.Sprintf("item-%03d", i)
		require.NoError(t, UpsertWorkItem(ctx, d, model.WorkItem{ID: ids[i], Name: ids[i]}))
		scanned := epoch.Add(time.Duration(i) * time.Minute)
		_, err := d.ExecContext(ctx, d.Rebind(
			`UPDATE work_items SET last_scan = ?, trader_last_scan = ? WHERE id = ?`), scanned, scanned, ids[i])
		require.NoError(t, err)
	}
	return ids
}

func seedScanner(t *testing.T, d *db.DB, user *model.ScannerUser, name string) *model.Scanner {
	t.Helper()
	s, err := CreateScanner(context.Background(), d, user.ID, name, epoch)
	require.NoError(t, err)
	return s
}

func seedUser(t *testing.T, d *db.DB, name string) *model.ScannerUser {
	t.Helper()
	u, err := CreateScannerUser(context.Background(), d, name, "hash",
		model.UserCapabilities{InsertPlayerPrices: true, InsertTraderPrices: true}, 5)
	require.NoError(t, err)
	return u
}

func itemIDs(items []model.WorkItem) []string {
	ids := make([]string, len(items))
	for i, it := range items {
		ids[i] = it.ID
	}
	return ids
}
