package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vkoskela/listing-autofill/internal/analysis"
)

func TestUpsertAndListCategories(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.UpsertCategory(analysis.Category{
		ID: 1, Name: "Phones", Keywords: []string{"phone", "smartphone"},
	}))
	require.NoError(t, store.UpsertCategory(analysis.Category{
		ID: 2, Name: "Furniture", Keywords: []string{"chair", "table"},
	}))

	categories, err := store.Categories()
	require.NoError(t, err)
	require.Len(t, categories, 2)
	assert.Equal(t, "Phones", categories[0].Name)
	assert.Equal(t, []string{"phone", "smartphone"}, categories[0].Keywords)

	// Upsert replaces in place.
	require.NoError(t, store.UpsertCategory(analysis.Category{
		ID: 1, Name: "Mobile Phones", Keywords: []string{"phone"},
	}))
	categories, err = store.Categories()
	require.NoError(t, err)
	require.Len(t, categories, 2)
	assert.Equal(t, "Mobile Phones", categories[0].Name)
}

func TestPriceStatsRoundTrip(t *testing.T) {
	store := newTestStore(t)

	stats := analysis.PriceStats{Avg: 120, Min: 40, Max: 300, SampleSize: 25}
	require.NoError(t, store.UpsertPriceStats(1, analysis.ConditionGood, stats))

	got, err := store.PriceStats(1, analysis.ConditionGood)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.InDelta(t, 120, got.Avg, 0.001)
	assert.Equal(t, 25, got.SampleSize)

	// Different condition for the same category is a separate row.
	got, err = store.PriceStats(1, analysis.ConditionFair)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSaveWeightAndLoadWeights(t *testing.T) {
	store := newTestStore(t)

	weights, err := store.LoadWeights()
	require.NoError(t, err)
	assert.Empty(t, weights)

	require.NoError(t, store.SaveWeight(analysis.SuggestionTitle, 1.1))
	require.NoError(t, store.SaveWeight(analysis.SuggestionTitle, 1.15))
	require.NoError(t, store.SaveWeight(analysis.SuggestionPrice, 0.9))

	weights, err = store.LoadWeights()
	require.NoError(t, err)
	require.Len(t, weights, 2)
	assert.InDelta(t, 1.15, weights[analysis.SuggestionTitle], 0.001)
	assert.InDelta(t, 0.9, weights[analysis.SuggestionPrice], 0.001)
}

func TestImageRoundTrip(t *testing.T) {
	store := newTestStore(t)

	img := Image{
		ID:          "img-1",
		ArticleID:   "article-1",
		Filename:    "phone.jpg",
		ContentHash: "hash-a",
		Data:        []byte{1, 2, 3},
	}
	require.NoError(t, store.SaveImage(img))

	got, err := store.GetImage("img-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "article-1", got.ArticleID)
	assert.Equal(t, "phone.jpg", got.Filename)
	assert.Equal(t, []byte{1, 2, 3}, got.Data)
	assert.False(t, got.CreatedAt.IsZero())

	missing, err := store.GetImage("nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestImagesByArticleUploadOrder(t *testing.T) {
	store := newTestStore(t)

	for i, id := range []string{"img-a", "img-b", "img-c"} {
		require.NoError(t, store.SaveImage(Image{
			ID:          id,
			ArticleID:   "article-1",
			ContentHash: "hash",
			Data:        []byte{byte(i)},
		}))
	}
	require.NoError(t, store.SaveImage(Image{
		ID: "other", ArticleID: "article-2", ContentHash: "hash", Data: []byte{9},
	}))

	images, err := store.ImagesByArticle("article-1")
	require.NoError(t, err)
	require.Len(t, images, 3)
	assert.Equal(t, "img-a", images[0].ID)
	assert.Equal(t, "img-c", images[2].ID)
}

func TestImageIDsByHashExcludesSelf(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.SaveImage(Image{ID: "img-1", ArticleID: "a", ContentHash: "same", Data: []byte{1}}))
	require.NoError(t, store.SaveImage(Image{ID: "img-2", ArticleID: "b", ContentHash: "same", Data: []byte{1}}))
	require.NoError(t, store.SaveImage(Image{ID: "img-3", ArticleID: "c", ContentHash: "other", Data: []byte{2}}))

	ids, err := store.ImageIDsByHash("same", "img-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"img-2"}, ids)

	ids, err = store.ImageIDsByHash("unknown", "img-1")
	require.NoError(t, err)
	assert.Empty(t, ids)
}
