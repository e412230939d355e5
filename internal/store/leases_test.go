package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erazemk/scanfleet/internal/db"
	"github.com/erazemk/scanfleet/internal/model"
)

func TestClaimBatchOldestFirst(t *testing.T) {
	d := db.NewTestDB(t)
	ctx := context.Background()
	ids := seedItems(t, d, 10)
	u := seedUser(t, d, "u")
	s := seedScanner(t, d, u, "s1")

	items, err := ClaimBatch(ctx, d, model.DomainPlayer, s.ID, 3, ClaimFilter{})
	require.NoError(t, err)
	assert.Equal(t, ids[:3], itemIDs(items))
	for _, it := range items {
		require.NotNil(t, it.PlayerHolder)
		assert.Equal(t, s.ID, *it.PlayerHolder)
		assert.Nil(t, it.TraderHolder)
	}
}

func TestClaimBatchNeverScannedFirst(t *testing.T) {
	d := db.NewTestDB(t)
	ctx := context.Background()
	seedItems(t, d, 3)
	require.NoError(t, UpsertWorkItem(ctx, d, model.WorkItem{ID: "zzz-new", Name: "new"}))
	s := seedScanner(t, d, seedUser(t, d, "u"), "s1")

	items, err := ClaimBatch(ctx, d, model.DomainPlayer, s.ID, 1, ClaimFilter{})
	require.NoError(t, err)
	assert.Equal(t, []string{"zzz-new"}, itemIDs(items))
}

func TestClaimBatchIdempotent(t *testing.T) {
	d := db.NewTestDB(t)
	ctx := context.Background()
	seedItems(t, d, 10)
	s := seedScanner(t, d, seedUser(t, d, "u"), "s1")

	first, err := ClaimBatch(ctx, d, model.DomainPlayer, s.ID, 4, ClaimFilter{})
	require.NoError(t, err)
	second, err := ClaimBatch(ctx, d, model.DomainPlayer, s.ID, 4, ClaimFilter{})
	require.NoError(t, err)
	assert.Equal(t, itemIDs(first), itemIDs(second))
}

func TestClaimBatchSkipsIneligible(t *testing.T) {
	d := db.NewTestDB(t)
	ctx := context.Background()
	for _, it := range []model.WorkItem{
		{ID: "a", Name: "a", Disabled: true},
		{ID: "b", Name: "b", IsPreset: true},
		{ID: "c", Name: "c", NoFlea: true},
		{ID: "d", Name: "d", OnlyFlea: true},
		{ID: "e", Name: "e"},
	} {
		require.NoError(t, UpsertWorkItem(ctx, d, it))
	}
	u := seedUser(t, d, "u")
	s1 := seedScanner(t, d, u, "s1")
	s2 := seedScanner(t, d, u, "s2")
	s3 := seedScanner(t, d, u, "s3")

	players, err := ClaimBatch(ctx, d, model.DomainPlayer, s1.ID, 10, ClaimFilter{ExcludeNoFlea: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"d", "e"}, itemIDs(players))

	anyOffers, err := ClaimBatch(ctx, d, model.DomainPlayer, s2.ID, 10, ClaimFilter{})
	require.NoError(t, err)
	assert.Equal(t, []string{"c"}, itemIDs(anyOffers))

	traders, err := ClaimBatch(ctx, d, model.DomainTrader, s3.ID, 10, ClaimFilter{ExcludeOnlyFlea: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "e"}, itemIDs(traders))
}

func TestClaimBatchTraderCooldown(t *testing.T) {
	d := db.NewTestDB(t)
	ctx := context.Background()
	ids := seedItems(t, d, 5)
	s := seedScanner(t, d, seedUser(t, d, "u"), "s1")

	// Only items scanned at or before epoch+2m are old enough.
	before := epoch.Add(2 * time.Minute)
	items, err := ClaimBatch(ctx, d, model.DomainTrader, s.ID, 10, ClaimFilter{ScannedBefore: &before})
	require.NoError(t, err)
	assert.Equal(t, ids[:3], itemIDs(items))
}

func TestClaimBatchEmptyPool(t *testing.T) {
	d := db.NewTestDB(t)
	s := seedScanner(t, d, seedUser(t, d, "u"), "s1")

	items, err := ClaimBatch(context.Background(), d, model.DomainPlayer, s.ID, 50, ClaimFilter{})
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestClaimBatchConcurrentDisjoint(t *testing.T) {
	d := db.NewTestDB(t)
	ctx := context.Background()
	seedItems(t, d, 60)
	u := seedUser(t, d, "u")

	const claimants = 4
	scanners := make([]*model.Scanner, claimants)
	for i := range scanners {
		scanners[i] = seedScanner(t, d, u, "s"+string(rune('a'+i)))
	}

	results := make([][]model.WorkItem, claimants)
	var wg sync.WaitGroup
	for i := range claimants {
		wg.Add(1)
		go func() {
			defer wg.Done()
			items, err := ClaimBatch(ctx, d, model.DomainPlayer, scanners[i].ID, 20, ClaimFilter{})
			assert.NoError(t, err)
			results[i] = items
		}()
	}
	wg.Wait()

	seen := map[string]int64{}
	total := 0
	for i, items := range results {
		for _, it := range items {
			prev, dup := seen[it.ID]
			assert.False(t, dup, "item %s claimed by %d and %d", it.ID, prev, scanners[i].ID)
			seen[it.ID] = scanners[i].ID
			total++
		}
	}
	assert.Equal(t, 60, total)
}

func TestDomainsAreIndependent(t *testing.T) {
	d := db.NewTestDB(t)
	ctx := context.Background()
	seedItems(t, d, 5)
	u := seedUser(t, d, "u")
	s1 := seedScanner(t, d, u, "s1")
	s2 := seedScanner(t, d, u, "s2")

	players, err := ClaimBatch(ctx, d, model.DomainPlayer, s1.ID, 5, ClaimFilter{})
	require.NoError(t, err)
	traders, err := ClaimBatch(ctx, d, model.DomainTrader, s2.ID, 5, ClaimFilter{})
	require.NoError(t, err)
	assert.Equal(t, itemIDs(players), itemIDs(traders))

	own, err := ClaimBatch(ctx, d, model.DomainTrader, s1.ID, 5, ClaimFilter{})
	require.NoError(t, err)
	assert.Empty(t, own)

	// s1 takes trader leases on fresh items, then drops its player leases.
	require.NoError(t, UpsertWorkItem(ctx, d, model.WorkItem{ID: "t1", Name: "t1"}))
	mine, err := ClaimBatch(ctx, d, model.DomainTrader, s1.ID, 5, ClaimFilter{})
	require.NoError(t, err)
	assert.Equal(t, []string{"t1"}, itemIDs(mine))

	n, err := ReleaseAll(ctx, d, model.DomainPlayer, s1.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 5, n)

	held, err := ListHeldItems(ctx, d, model.DomainTrader, s1.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"t1"}, itemIDs(held))
}

func TestReleaseItem(t *testing.T) {
	d := db.NewTestDB(t)
	ctx := context.Background()
	ids := seedItems(t, d, 3)
	u := seedUser(t, d, "u")
	s1 := seedScanner(t, d, u, "s1")
	s2 := seedScanner(t, d, u, "s2")

	_, err := ClaimBatch(ctx, d, model.DomainPlayer, s1.ID, 3, ClaimFilter{})
	require.NoError(t, err)

	// Someone else's lease is left alone.
	n, err := ReleaseItem(ctx, d, model.DomainPlayer, s2.ID, ids[0], true, epoch)
	require.NoError(t, err)
	assert.Zero(t, n)

	now := epoch.Add(48 * time.Hour)
	n, err = ReleaseItem(ctx, d, model.DomainPlayer, s1.ID, ids[0], true, now)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	it, err := GetWorkItem(ctx, d, ids[0])
	require.NoError(t, err)
	assert.Nil(t, it.PlayerHolder)
	require.NotNil(t, it.LastScan)
	assert.True(t, it.LastScan.Equal(now))

	sc, err := GetScanner(ctx, d, s1.ID)
	require.NoError(t, err)
	require.NotNil(t, sc.LastScan)
	assert.True(t, sc.LastScan.Equal(now))
	assert.Nil(t, sc.TraderLastScan)

	// Without markScanned the freshness is untouched.
	n, err = ReleaseItem(ctx, d, model.DomainPlayer, s1.ID, ids[1], false, now)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	it, err = GetWorkItem(ctx, d, ids[1])
	require.NoError(t, err)
	assert.True(t, it.LastScan.Equal(epoch.Add(time.Minute)))

	// Releasing twice is a no-op.
	n, err = ReleaseItem(ctx, d, model.DomainPlayer, s1.ID, ids[1], false, now)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestReleaseAllNothingHeld(t *testing.T) {
	d := db.NewTestDB(t)
	s := seedScanner(t, d, seedUser(t, d, "u"), "s1")

	n, err := ReleaseAll(context.Background(), d, model.DomainTrader, s.ID)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestReleaseUserLeases(t *testing.T) {
	d := db.NewTestDB(t)
	ctx := context.Background()
	seedItems(t, d, 6)
	owner := seedUser(t, d, "owner")
	other := seedUser(t, d, "other")
	s1 := seedScanner(t, d, owner, "s1")
	s2 := seedScanner(t, d, owner, "s2")
	s3 := seedScanner(t, d, other, "s3")

	_, err := ClaimBatch(ctx, d, model.DomainPlayer, s1.ID, 2, ClaimFilter{})
	require.NoError(t, err)
	_, err = ClaimBatch(ctx, d, model.DomainTrader, s2.ID, 2, ClaimFilter{})
	require.NoError(t, err)
	_, err = ClaimBatch(ctx, d, model.DomainPlayer, s3.ID, 2, ClaimFilter{})
	require.NoError(t, err)

	n, err := ReleaseUserLeases(ctx, d, owner.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 4, n)

	held, err := ListHeldItems(ctx, d, model.DomainPlayer, s3.ID)
	require.NoError(t, err)
	assert.Len(t, held, 2)
	held, err = ListHeldItems(ctx, d, model.DomainTrader, s2.ID)
	require.NoError(t, err)
	assert.Empty(t, held)
}

func TestClaimScenarioFreshReleasesComeLast(t *testing.T) {
	d := db.NewTestDB(t)
	ctx := context.Background()
	ids := seedItems(t, d, 120)
	u := seedUser(t, d, "u")
	s1 := seedScanner(t, d, u, "s1")
	s2 := seedScanner(t, d, u, "s2")
	s3 := seedScanner(t, d, u, "s3")

	b1, err := ClaimBatch(ctx, d, model.DomainPlayer, s1.ID, 50, ClaimFilter{})
	require.NoError(t, err)
	b2, err := ClaimBatch(ctx, d, model.DomainPlayer, s2.ID, 50, ClaimFilter{})
	require.NoError(t, err)
	b3, err := ClaimBatch(ctx, d, model.DomainPlayer, s3.ID, 50, ClaimFilter{})
	require.NoError(t, err)
	assert.Equal(t, ids[:50], itemIDs(b1))
	assert.Equal(t, ids[50:100], itemIDs(b2))
	assert.Equal(t, ids[100:], itemIDs(b3))

	now := epoch.Add(24 * time.Hour)
	for _, id := range ids[:50] {
		_, err := ReleaseItem(ctx, d, model.DomainPlayer, s1.ID, id, true, now)
		require.NoError(t, err)
	}

	next, err := ClaimBatch(ctx, d, model.DomainPlayer, s2.ID, 100, ClaimFilter{})
	require.NoError(t, err)
	require.Len(t, next, 100)
	assert.Equal(t, ids[50:100], itemIDs(next[:50]))
	assert.ElementsMatch(t, ids[:50], itemIDs(next[50:]))
}
