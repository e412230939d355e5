package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erazemk/scanfleet/internal/db"
	"github.com/erazemk/scanfleet/internal/model"
	"github.com/erazemk/scanfleet/internal/store"
)

func newUser(t *testing.T, d *db.DB, name, password string, caps model.UserCapabilities, max int) *model.ScannerUser {
	t.Helper()
	hash, err := HashPassword(password)
	require.NoError(t, err)
	u, err := store.CreateScannerUser(context.Background(), d, name, hash, caps, max)
	require.NoError(t, err)
	return u
}

func TestAuthenticateScannerUser(t *testing.T) {
	d := db.NewTestDB(t)
	ctx := context.Background()
	newUser(t, d, "bot", "hunter22", model.UserCapabilities{InsertPlayerPrices: true}, 1)
	newUser(t, d, "idle", "hunter22", model.UserCapabilities{}, 1)

	u, err := AuthenticateScannerUser(ctx, d, "bot", "hunter22")
	require.NoError(t, err)
	assert.Equal(t, "bot", u.Username)

	_, err = AuthenticateScannerUser(ctx, d, "bot", "wrong")
	assert.ErrorIs(t, err, ErrBadCredentials)
	_, err = AuthenticateScannerUser(ctx, d, "nobody", "hunter22")
	assert.ErrorIs(t, err, ErrBadCredentials)
	_, err = AuthenticateScannerUser(ctx, d, "idle", "hunter22")
	assert.ErrorIs(t, err, ErrDisabled)

	require.NoError(t, store.SetScannerUserDisabled(ctx, d, u.ID, true))
	_, err = AuthenticateScannerUser(ctx, d, "bot", "hunter22")
	assert.ErrorIs(t, err, ErrDisabled)
}

func TestResolveScanner(t *testing.T) {
	d := db.NewTestDB(t)
	ctx := context.Background()
	caps := model.UserCapabilities{InsertPlayerPrices: true}
	a := newUser(t, d, "a", "password1", caps, 1)
	b := newUser(t, d, "b", "password1", caps, 1)
	now := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	s, err := ResolveScanner(ctx, d, a, "a-1", now)
	require.NoError(t, err)
	assert.Equal(t, a.ID, s.UserID)

	again, err := ResolveScanner(ctx, d, a, "a-1", now)
	require.NoError(t, err)
	assert.Equal(t, s.ID, again.ID)

	_, err = ResolveScanner(ctx, d, a, "a-2", now)
	assert.ErrorIs(t, err, ErrScannerDenied, "over the allowance")

	_, err = ResolveScanner(ctx, d, b, "a-1", now)
	assert.ErrorIs(t, err, ErrScannerDenied, "owned by someone else")

	_, err = ResolveScanner(ctx, d, b, "bad name!", now)
	assert.ErrorIs(t, err, ErrScannerDenied)
}

func TestCheckSharedSecret(t *testing.T) {
	assert.True(t, CheckSharedSecret("s3cret", "s3cret"))
	assert.False(t, CheckSharedSecret("s3cret", "guess"))
	assert.False(t, CheckSharedSecret("", ""))
}
