package repository

import (
	"context"
	"fmt"
	"testing"

	"marketplace/internal/models"
	"marketplace/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedProducts(t *testing.T, repo ProductRepository, n int, category string) []*models.Product {
	t.Helper()
	out := make([]*models.Product, 0, n)
	for i := 0; i < n; i++ {
		p := &models.Product{
			Title:       fmt.Sprintf("Item %d", i),
			Description: "plain",
			Price:       int64(1000 * i),
			Category:    category,
			SellerID:    "seller",
			CreatedAt:   int64(i + 1),
		}
		require.NoError(t, repo.Create(context.Background(), p))
		out = append(out, p)
	}
	return out
}

func TestProductRepository_List(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := NewProductRepository(db)
	ctx := context.Background()

	seedProducts(t, repo, 25, "digital")
	plants := seedProducts(t, repo, 3, "plants")

	all, err := repo.List(ctx, models.CategoryAll)
	require.NoError(t, err)
	assert.Len(t, all, LatestLimit)
	for i := 1; i < len(all); i++ {
		assert.GreaterOrEqual(t, all[i-1].CreatedAt, all[i].CreatedAt)
	}

	filtered, err := repo.List(ctx, "plants")
	require.NoError(t, err)
	require.Len(t, filtered, 3)
	assert.Equal(t, plants[2].ID, filtered[0].ID)

	digital, err := repo.List(ctx, "digital")
	require.NoError(t, err)
	assert.Len(t, digital, 25)
}

func TestProductRepository_SearchAndViews(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := NewProductRepository(db)
	ctx := context.Background()

	desk := &models.Product{Title: "Oak Desk", Description: "solid wood", Category: "furniture", SellerID: "s1", CreatedAt: 10}
	lamp := &models.Product{Title: "Lamp", Description: "fits any DESK", Category: "furniture", SellerID: "s2", CreatedAt: 20}
	phone := &models.Product{Title: "Phone", Description: "unlocked", Category: "digital", SellerID: "s1", CreatedAt: 30, Images: models.StringList{"/a.jpg"}}
	for _, p := range []*models.Product{desk, lamp, phone} {
		require.NoError(t, repo.Create(ctx, p))
	}

	found, err := repo.Search(ctx, "desk")
	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.Equal(t, lamp.ID, found[0].ID)

	everything, err := repo.Search(ctx, "   ")
	require.NoError(t, err)
	assert.Len(t, everything, 3)

	require.NoError(t, repo.IncrementView(ctx, phone.ID))
	require.NoError(t, repo.IncrementView(ctx, phone.ID))
	got, err := repo.Get(ctx, phone.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Views)
	assert.Equal(t, models.StringList{"/a.jpg"}, got.Images)

	err = repo.IncrementView(ctx, "missing")
	assert.Equal(t, models.CodeNotFound, models.ErrorCode(err))

	mine, err := repo.ListBySeller(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, phone.ID, mine[0].ID)

	byID, err := repo.GetMany(ctx, []string{desk.ID, "missing"})
	require.NoError(t, err)
	assert.Len(t, byID, 1)
	assert.Equal(t, "Oak Desk", byID[desk.ID].Title)

	missing, err := repo.Get(ctx, "missing")
	assert.NoError(t, err)
	assert.Nil(t, missing)
}
