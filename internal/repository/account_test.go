package repository

import (
	"context"
	"testing"

	"marketplace/internal/models"
	"marketplace/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccountRepository(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := NewAccountRepository(db)
	ctx := context.Background()

	acct := &models.Account{UID: "uid-1", Email: "t@example.com", PasswordHash: "hash"}
	require.NoError(t, repo.Create(ctx, acct))

	dup := &models.Account{UID: "uid-2", Email: "t@example.com", PasswordHash: "hash"}
	assert.Equal(t, models.CodeConflict, models.ErrorCode(repo.Create(ctx, dup)))

	require.NoError(t, repo.MarkVerified(ctx, "uid-1"))
	require.NoError(t, repo.BumpSessionEpoch(ctx, "uid-1"))
	require.NoError(t, repo.UpdatePassword(ctx, "uid-1", "new-hash"))

	got, err := repo.GetByEmail(ctx, "t@example.com")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.EmailVerified)
	assert.Equal(t, 1, got.SessionEpoch)
	assert.Equal(t, "new-hash", got.PasswordHash)

	missing, err := repo.GetByUID(ctx, "uid-9")
	assert.NoError(t, err)
	assert.Nil(t, missing)

	assert.Equal(t, models.CodeNotFound, models.ErrorCode(repo.MarkVerified(ctx, "uid-9")))
}
