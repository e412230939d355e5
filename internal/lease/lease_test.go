package lease

import (
	"context"
	"database/sql"
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

var start = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	db    *db.DB
	clock *clock.Fake
	mgr   *Manager
	user  *model.ScannerUser
}

func newFixture(t *testing.T, caps model.UserCapabilities) *fixture {
	t.Helper()
	d := db.NewTestDB(t)
	clk := clock.NewFake(start)
	u, err := store.CreateScannerUser(context.Background(), d, "bot", "hash", caps, 5)
	require.NoError(t, err)
	return &fixture{db: d, clock: clk, mgr: NewManager(d, clk, Config{}, nil), user: u}
}

func (f *fixture) scanner(t *testing.T, name string) *model.Scanner {
	t.Helper()
	s, err := store.CreateScanner(context.Background(), f.db, f.user.ID, name, start)
	require.NoError(t, err)
	return s
}

// items seeds n items scanned in both domains, oldest first, ending 48h
// before start so the trader cooldown never hides them.
func (f *fixture) items(t *testing.T, n int, mutate func(i int, it *model.WorkItem)) []string {
	t.Helper()
	ctx := context.Background()
	ids := make([]string, n)
	for i := range n {
		it := model.WorkItem{ID: fmt.Sprintf("w%03d", i), Name: fmt.Sprintf("Item %d", i)}
		if mutate != nil {
			mutate(i, &it)
		}
		ids[i] = it.ID
		require.NoError(t, store.UpsertWorkItem(ctx, f.db, it))
		at := start.Add(-48 * time.Hour).Add(-time.Duration(n-i) * time.Minute)
		_, err := f.db.ExecContext(ctx, f.db.Rebind(
			`UPDATE work_items SET last_scan = ?, trader_last_scan = ? WHERE id = ?`), at, at, it.ID)
		require.NoError(t, err)
	}
	return ids
}

var allCaps = model.UserCapabilities{InsertPlayerPrices: true, InsertTraderPrices: true}

func ids(items []model.WorkItem) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.ID
	}
	return out
}

func TestPlanDefaults(t *testing.T) {
	f := newFixture(t, allCaps)

	p := f.mgr.plan(Options{FleaMarketAvailable: true})
	assert.Equal(t, 50, p.BatchSize)
	assert.Equal(t, OffersPlayers, p.OffersFrom)
	assert.Equal(t, model.DomainPlayer, p.Domain)
	assert.True(t, p.Filter.ExcludeNoFlea)

	p = f.mgr.plan(Options{BatchSize: 1000})
	assert.Equal(t, 200, p.BatchSize)
	assert.Equal(t, OffersTraders, p.OffersFrom)
	assert.Equal(t, model.DomainTrader, p.Domain)
	assert.True(t, p.Filter.ExcludeOnlyFlea)
	require.NotNil(t, p.Filter.ScannedBefore)
	assert.Equal(t, start.Add(-24*time.Hour), *p.Filter.ScannedBefore)

	off := false
	p = f.mgr.plan(Options{OffersFrom: OffersTraders, LimitTraderScan: &off})
	assert.Nil(t, p.Filter.ScannedBefore)

	p = f.mgr.plan(Options{OffersFrom: OffersAny})
	assert.Equal(t, model.DomainPlayer, p.Domain)
	assert.False(t, p.Filter.ExcludeNoFlea)
}

func TestOffersFromJSON(t *testing.T) {
	for in, want := range map[string]OffersFrom{
		`"players"`: OffersPlayers,
		`"Traders"`: OffersTraders,
		`0`:         OffersAny,
		`1`:         OffersTraders,
		`2`:         OffersPlayers,
		`null`:      OffersUnset,
	} {
		var o OffersFrom
		require.NoError(t, o.UnmarshalJSON([]byte(in)), in)
		assert.Equal(t, want, o, in)
	}

	var o OffersFrom
	assert.Error(t, o.UnmarshalJSON([]byte(`"everyone"`)))
	assert.Error(t, o.UnmarshalJSON([]byte(`7`)))
}

func TestCheckoutRequiresCapability(t *testing.T) {
	f := newFixture(t, model.UserCapabilities{InsertTraderPrices: true})
	s := f.scanner(t, "s1")
	f.items(t, 3, nil)

	_, err := f.mgr.Checkout(context.Background(), s, Options{OffersFrom: OffersPlayers})
	assert.ErrorIs(t, err, ErrForbidden)

	b, err := f.mgr.Checkout(context.Background(), s, Options{OffersFrom: OffersTraders})
	require.NoError(t, err)
	assert.Len(t, b.Items, 3)
	assert.Equal(t, model.DomainTrader, b.Domain)
}

func TestCheckoutTraderFallsBackToPlayers(t *testing.T) {
	f := newFixture(t, allCaps)
	s := f.scanner(t, "s1")
	f.items(t, 2, func(i int, it *model.WorkItem) { it.OnlyFlea = true })

	b, err := f.mgr.Checkout(context.Background(), s, Options{OffersFrom: OffersTraders, FleaMarketAvailable: true})
	require.NoError(t, err)
	assert.Equal(t, model.DomainPlayer, b.Domain)
	assert.Equal(t, OffersPlayers, b.OffersFrom)
	assert.Len(t, b.Items, 2)
}

func TestCheckoutSkipPriceInsertHoldsNothing(t *testing.T) {
	f := newFixture(t, allCaps)
	s := f.scanner(t, "dry")
	require.NoError(t, store.SetScannerFlags(context.Background(), f.db, s.ID, model.ScannerFlags{SkipPriceInsert: true}))
	s, err := store.GetScanner(context.Background(), f.db, s.ID)
	require.NoError(t, err)
	f.items(t, 4, nil)

	b, err := f.mgr.Checkout(context.Background(), s, Options{OffersFrom: OffersAny, BatchSize: 2})
	require.NoError(t, err)
	assert.Len(t, b.Items, 2)

	held, err := store.ListHeldItems(context.Background(), f.db, model.DomainPlayer, s.ID)
	require.NoError(t, err)
	assert.Empty(t, held)
}

func TestReleaseSingleAndAll(t *testing.T) {
	f := newFixture(t, allCaps)
	ctx := context.Background()
	s := f.scanner(t, "s1")
	all := f.items(t, 5, nil)

	_, err := f.mgr.ClaimBatch(ctx, s.ID, model.DomainPlayer, 5, store.ClaimFilter{})
	require.NoError(t, err)

	n, err := f.mgr.Release(ctx, s.ID, model.DomainPlayer, all[0], true)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	it, err := store.GetWorkItem(ctx, f.db, all[0])
	require.NoError(t, err)
	assert.True(t, it.LastScan.Equal(start))

	// markScanned is ignored when releasing everything.
	n, err = f.mgr.Release(ctx, s.ID, model.DomainPlayer, "", true)
	require.NoError(t, err)
	assert.EqualValues(t, 4, n)
	it, err = store.GetWorkItem(ctx, f.db, all[1])
	require.NoError(t, err)
	assert.True(t, it.LastScan.Before(start))

	n, err = f.mgr.Release(ctx, s.ID, model.DomainPlayer, "", false)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestStoreFailureIsTransient(t *testing.T) {
	f := newFixture(t, allCaps)
	s := f.scanner(t, "s1")
	require.NoError(t, f.db.Close())

	_, err := f.mgr.ClaimBatch(context.Background(), s.ID, model.DomainPlayer, 5, store.ClaimFilter{})
	assert.True(t, errors.Is(err, ErrTransient))

	_, err = f.mgr.Release(context.Background(), s.ID, model.DomainPlayer, "", false)
	assert.ErrorIs(t, err, ErrTransient)
}

func TestClaimEmptyPoolIsNotAnError(t *testing.T) {
	f := newFixture(t, allCaps)
	s := f.scanner(t, "s1")

	items, err := f.mgr.ClaimBatch(context.Background(), s.ID, model.DomainTrader, 10, store.ClaimFilter{})
	require.NoError(t, err)
	assert.NotNil(t, items)
	assert.Empty(t, items)
}

func TestSubmitPrices(t *testing.T) {
	f := newFixture(t, allCaps)
	ctx := context.Background()
	s := f.scanner(t, "s1")
	all := f.items(t, 2, nil)

	_, err := f.mgr.ClaimBatch(ctx, s.ID, model.DomainPlayer, 1, store.ClaimFilter{})
	require.NoError(t, err)

	res, err := f.mgr.SubmitPrices(ctx, s, Submission{ItemID: all[0], Prices: []model.Price{
		{Seller: model.PlayerSeller, Currency: "RUB", Price: 100},
		{Seller: "Therapist", Currency: "RUB", Price: 90},
	}})
	require.NoError(t, err)
	assert.Empty(t, res.Errors)
	assert.Empty(t, res.Warnings)
	assert.Equal(t, 1, res.PlayerPrices)
	assert.Equal(t, 1, res.TraderPrices)
	assert.EqualValues(t, 1, res.Released)

	it, err := store.GetWorkItem(ctx, f.db, all[0])
	require.NoError(t, err)
	assert.Nil(t, it.PlayerHolder)
	assert.True(t, it.LastScan.Equal(start))

	// An item the scanner never claimed is stored with a warning.
	res, err = f.mgr.SubmitPrices(ctx, s, Submission{ItemID: all[1], Prices: []model.Price{
		{Seller: model.PlayerSeller, Currency: "RUB", Price: 5},
	}})
	require.NoError(t, err)
	assert.Len(t, res.Warnings, 1)
	assert.Equal(t, 1, res.PlayerPrices)
	assert.Zero(t, res.Released)
}

func TestSubmitPricesValidation(t *testing.T) {
	f := newFixture(t, model.UserCapabilities{InsertTraderPrices: true})
	ctx := context.Background()
	s := f.scanner(t, "s1")
	all := f.items(t, 1, nil)

	res, err := f.mgr.SubmitPrices(ctx, s, Submission{})
	require.NoError(t, err)
	assert.Len(t, res.Errors, 2)

	res, err = f.mgr.SubmitPrices(ctx, s, Submission{ItemID: "missing", Prices: []model.Price{{Seller: "Prapor", Currency: "RUB", Price: 1}}})
	require.NoError(t, err)
	assert.Contains(t, res.Errors, "unknown item missing")

	res, err = f.mgr.SubmitPrices(ctx, s, Submission{ItemID: all[0], Prices: []model.Price{
		{Seller: model.PlayerSeller, Currency: "RUB", Price: 1},
		{Seller: "Prapor", Currency: "RUB", Price: 2},
	}})
	require.NoError(t, err)
	assert.Contains(t, res.Errors, "user not authorized to insert player prices")
	assert.Zero(t, res.PlayerPrices)
	assert.Equal(t, 1, res.TraderPrices)
	assert.Zero(t, res.Released)
}

func TestSubmitPricesTraderUnlocks(t *testing.T) {
	level := 2
	quest := "5936d90786f7742b1420ba5b"
	offer := []model.Price{{Seller: "Prapor", Currency: "RUB", Price: 10, MinLevel: &level, Quest: &quest}}

	stored := func(t *testing.T, f *fixture, itemID string) (sql.NullInt64, sql.NullString) {
		t.Helper()
		var lvl sql.NullInt64
		var q sql.NullString
		require.NoError(t, f.db.QueryRowContext(context.Background(), f.db.Rebind(
			`SELECT min_level, quest FROM trader_price_data WHERE item_id = ?`), itemID).Scan(&lvl, &q))
		return lvl, q
	}

	t.Run("trusted", func(t *testing.T) {
		f := newFixture(t, model.UserCapabilities{InsertTraderPrices: true, TrustTraderUnlocks: true})
		s := f.scanner(t, "s1")
		all := f.items(t, 1, nil)

		res, err := f.mgr.SubmitPrices(context.Background(), s, Submission{
			ItemID: all[0], Prices: offer, OffersFrom: OffersTraders, TrustTraderUnlocks: true,
		})
		require.NoError(t, err)
		assert.Equal(t, 1, res.TraderPrices)

		lvl, q := stored(t, f, all[0])
		assert.EqualValues(t, 2, lvl.Int64)
		assert.Equal(t, quest, q.String)
	})

	t.Run("not requested", func(t *testing.T) {
		f := newFixture(t, model.UserCapabilities{InsertTraderPrices: true, TrustTraderUnlocks: true})
		s := f.scanner(t, "s1")
		all := f.items(t, 1, nil)

		_, err := f.mgr.SubmitPrices(context.Background(), s, Submission{ItemID: all[0], Prices: offer, OffersFrom: OffersTraders})
		require.NoError(t, err)

		lvl, q := stored(t, f, all[0])
		assert.False(t, lvl.Valid)
		assert.False(t, q.Valid)
	})

	t.Run("user not trusted", func(t *testing.T) {
		f := newFixture(t, model.UserCapabilities{InsertTraderPrices: true})
		s := f.scanner(t, "s1")
		all := f.items(t, 1, nil)

		_, err := f.mgr.SubmitPrices(context.Background(), s, Submission{
			ItemID: all[0], Prices: offer, OffersFrom: OffersTraders, TrustTraderUnlocks: true,
		})
		require.NoError(t, err)

		lvl, _ := stored(t, f, all[0])
		assert.False(t, lvl.Valid)
		assert.NotNil(t, offer[0].MinLevel)
	})
}
