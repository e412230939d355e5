package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erazemk/scanfleet/internal/db"
	"github.com/erazemk/scanfleet/internal/model"
)

func TestCreateAndGetOperator(t *testing.T) {
	d := db.NewTestDB(t)
	ctx := context.Background()

	op, err := CreateOperator(ctx, d, "night-shift", "hash123", model.RoleViewer)
	require.NoError(t, err)
	assert.Equal(t, "night-shift", op.Username)
	assert.Equal(t, model.RoleViewer, op.Role)

	got, err := GetOperator(ctx, d, op.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "night-shift", got.Username)

	_, err = CreateOperator(ctx, d, "night-shift", "hash", model.RoleAdmin)
	assert.Error(t, err, "usernames are unique")
}

func TestGetOperatorByUsername(t *testing.T) {
	d := db.NewTestDB(t)
	ctx := context.Background()

	_, err := CreateOperator(ctx, d, "alice", "hash", model.RoleAdmin)
	require.NoError(t, err)

	op, err := GetOperatorByUsername(ctx, d, "alice")
	require.NoError(t, err)
	assert.NotNil(t, op)

	missing, err := GetOperatorByUsername(ctx, d, "bob")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestDeleteOperator(t *testing.T) {
	d := db.NewTestDB(t)
	ctx := context.Background()

	op, err := CreateOperator(ctx, d, "deleteme", "hash", model.RoleViewer)
	require.NoError(t, err)
	_, err = CreateOperator(ctx, d, "keeper", "hash", model.RoleAdmin)
	require.NoError(t, err)
	require.NoError(t, DeleteOperator(ctx, d, op.ID))

	ops, err := ListOperators(ctx, d)
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, "keeper", ops[0].Username)

	gone, err := GetOperatorByUsername(ctx, d, "deleteme")
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestUpdateOperatorPassword(t *testing.T) {
	d := db.NewTestDB(t)
	ctx := context.Background()

	op, err := CreateOperator(ctx, d, "pwop", "oldhash", model.RoleViewer)
	require.NoError(t, err)
	require.NoError(t, UpdateOperatorPassword(ctx, d, op.ID, "newhash"))

	got, err := GetOperator(ctx, d, op.ID)
	require.NoError(t, err)
	assert.Equal(t, "newhash", got.PasswordHash)
}
