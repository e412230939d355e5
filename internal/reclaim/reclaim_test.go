package reclaim

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erazemk/scanfleet/internal/clock"
	"github.com/erazemk/scanfleet/internal/db"
	"github.com/erazemk/scanfleet/internal/model"
	"github.com/erazemk/scanfleet/internal/store"
)

var now = time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)

type env struct {
	db    *db.DB
	clock *clock.Fake
	user  *model.ScannerUser
}

func newEnv(t *testing.T) *env {
	t.Helper()
	d := db.NewTestDB(t)
	u, err := store.CreateScannerUser(context.Background(), d, "bot", "hash",
		model.UserCapabilities{InsertPlayerPrices: true, InsertTraderPrices: true}, 10)
	require.NoError(t, err)
	for i := range 6 {
		id := fmt.Sprintf("i%d", i)
		require.NoError(t, store.UpsertWorkItem(context.Background(), d, model.WorkItem{ID: id, Name: id}))
	}
	return &env{db: d, clock: clock.NewFake(now), user: u}
}

// scanner creates a scanner that holds n items in both domains and whose
// last scans are the given ages before now (negative means never).
func (e *env) scanner(t *testing.T, name string, n int, playerAge, traderAge time.Duration) *model.Scanner {
	t.Helper()
	ctx := context.Background()
	s, err := store.CreateScanner(ctx, e.db, e.user.ID, name, now.Add(-time.Hour))
	require.NoError(t, err)

	stamp := func(col string, age time.Duration) {
		if age < 0 {
			return
		}
		_, err := e.db.ExecContext(ctx, e.db.Rebind(`UPDATE scanners SET `+col+` = ? WHERE id = ?`), now.Add(-age), s.ID)
		require.NoError(t, err)
	}
	stamp("last_scan", playerAge)
	stamp("trader_last_scan", traderAge)

	for _, d := range model.Domains {
		_, err := store.ClaimBatch(ctx, e.db, d, s.ID, n, store.ClaimFilter{})
		require.NoError(t, err)
	}
	return s
}

func (e *env) held(t *testing.T, d model.Domain, s *model.Scanner) int {
	t.Helper()
	items, err := store.ListHeldItems(context.Background(), e.db, d, s.ID)
	require.NoError(t, err)
	return len(items)
}

func TestSweepReleasesStaleDomainsOnly(t *testing.T) {
	e := newEnv(t)
	// Player side is stale, trader side scanned a minute ago.
	s := e.scanner(t, "stale-player", 2, 20*time.Minute, time.Minute)

	rep := NewSweeper(DBStore{e.db}, e.clock, 0, 0, nil).Sweep(context.Background())
	assert.Equal(t, 1, rep.Checked)
	assert.EqualValues(t, 2, rep.Released[model.DomainPlayer])
	assert.Zero(t, rep.Released[model.DomainTrader])
	assert.Zero(t, rep.Failures)

	assert.Zero(t, e.held(t, model.DomainPlayer, s))
	assert.Equal(t, 2, e.held(t, model.DomainTrader, s))
}

func TestSweepNeverScannedUsesCreation(t *testing.T) {
	e := newEnv(t)
	s := e.scanner(t, "silent", 2, -1, -1)

	rep := NewSweeper(DBStore{e.db}, e.clock, 0, 0, nil).Sweep(context.Background())
	assert.EqualValues(t, 2, rep.Released[model.DomainPlayer])
	assert.EqualValues(t, 2, rep.Released[model.DomainTrader])
	assert.Zero(t, e.held(t, model.DomainPlayer, s))
}

func TestSweepLeavesExemptScanners(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	ignored := e.scanner(t, "ignored", 2, time.Hour, time.Hour)
	require.NoError(t, store.SetScannerFlags(ctx, e.db, ignored.ID, model.ScannerFlags{IgnoreMissingScans: true}))
	fresh := e.scanner(t, "fresh", 2, time.Minute, time.Minute)

	rep := NewSweeper(DBStore{e.db}, e.clock, 0, 0, nil).Sweep(ctx)
	assert.Equal(t, 1, rep.Skipped)
	assert.Equal(t, 1, rep.Checked)
	assert.Zero(t, rep.Released[model.DomainPlayer])

	assert.Equal(t, 2, e.held(t, model.DomainPlayer, ignored))
	assert.Equal(t, 2, e.held(t, model.DomainTrader, ignored))
	assert.Equal(t, 2, e.held(t, model.DomainPlayer, fresh))
}

func TestSweepReclaimsDisabledUsers(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	s := e.scanner(t, "orphan", 3, time.Hour, time.Hour)
	require.NoError(t, store.SetScannerUserDisabled(ctx, e.db, e.user.ID, true))

	rep := NewSweeper(DBStore{e.db}, e.clock, 0, 0, nil).Sweep(ctx)
	assert.Equal(t, 1, rep.Checked)
	assert.Zero(t, rep.Skipped)
	assert.EqualValues(t, 3, rep.Released[model.DomainPlayer])
	assert.EqualValues(t, 3, rep.Released[model.DomainTrader])

	assert.Zero(t, e.held(t, model.DomainPlayer, s))
	assert.Zero(t, e.held(t, model.DomainTrader, s))
}

// flakyStore fails ReleaseAll for one scanner.
type flakyStore struct {
	DBStore
	failFor int64
}

func (f flakyStore) ReleaseAll(ctx context.Context, d model.Domain, holder int64) (int64, error) {
	if holder == f.failFor {
		return 0, errors.New("connection reset")
	}
	return f.DBStore.ReleaseAll(ctx, d, holder)
}

func TestSweepIsolatesFailures(t *testing.T) {
	e := newEnv(t)
	bad := e.scanner(t, "bad", 2, time.Hour, time.Hour)
	good := e.scanner(t, "good", 2, time.Hour, time.Hour)

	st := flakyStore{DBStore: DBStore{e.db}, failFor: bad.ID}
	rep := NewSweeper(st, e.clock, 0, 0, nil).Sweep(context.Background())
	assert.Equal(t, 2, rep.Failures)
	assert.EqualValues(t, 2, rep.Released[model.DomainPlayer])
	assert.EqualValues(t, 2, rep.Released[model.DomainTrader])

	assert.Equal(t, 2, e.held(t, model.DomainPlayer, bad))
	assert.Zero(t, e.held(t, model.DomainPlayer, good))
}

func TestRunSweepsOnTick(t *testing.T) {
	e := newEnv(t)
	s := e.scanner(t, "stale", 1, time.Hour, time.Hour)
	w := NewSweeper(DBStore{e.db}, e.clock, time.Minute, 0, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)
	e.clock.BlockUntilTickers(1)

	e.clock.Advance(time.Minute)
	assert.Eventually(t, func() bool { return e.held(t, model.DomainPlayer, s) == 0 },
		2*time.Second, 10*time.Millisecond)
}
