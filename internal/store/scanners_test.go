package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erazemk/scanfleet/internal/db"
	"github.com/erazemk/scanfleet/internal/model"
)

func TestScannerUserRoundTrip(t *testing.T) {
	d := db.NewTestDB(t)
	ctx := context.Background()

	caps := model.UserCapabilities{InsertTraderPrices: true, SkipPriceInsert: true}
	u, err := CreateScannerUser(ctx, d, "bot", "hash", caps, 3)
	require.NoError(t, err)
	assert.Equal(t, caps, u.Capabilities)
	assert.Equal(t, 3, u.MaxScanners)
	assert.False(t, u.Disabled)

	got, err := GetScannerUserByUsername(ctx, d, "bot")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, u.ID, got.ID)

	missing, err := GetScannerUserByUsername(ctx, d, "nobody")
	require.NoError(t, err)
	assert.Nil(t, missing)

	require.NoError(t, SetScannerUserDisabled(ctx, d, u.ID, true))
	users, err := ListScannerUsers(ctx, d)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.True(t, users[0].Disabled)
}

func TestScannerJoinsOwner(t *testing.T) {
	d := db.NewTestDB(t)
	ctx := context.Background()
	u := seedUser(t, d, "owner")

	s := seedScanner(t, d, u, "scanner-1")
	assert.Equal(t, "owner", s.Username)
	assert.True(t, s.UserCapabilities.InsertPlayerPrices)
	assert.Nil(t, s.LastScan)
	assert.True(t, s.CreatedAt.Equal(epoch))

	require.NoError(t, SetScannerFlags(ctx, d, s.ID, model.ScannerFlags{IgnoreMissingScans: true}))
	got, err := GetScannerByName(ctx, d, "scanner-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.Flags.IgnoreMissingScans)
	assert.False(t, got.Flags.SkipPriceInsert)

	none, err := GetScannerByName(ctx, d, "ghost")
	require.NoError(t, err)
	assert.Nil(t, none)

	seedScanner(t, d, u, "scanner-2")
	n, err := CountScanners(ctx, d, u.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	all, err := ListScanners(ctx, d)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestCreateScannerDuplicateName(t *testing.T) {
	d := db.NewTestDB(t)
	u := seedUser(t, d, "owner")
	seedScanner(t, d, u, "dup")

	_, err := CreateScanner(context.Background(), d, u.ID, "dup", epoch)
	assert.Error(t, err)
}
