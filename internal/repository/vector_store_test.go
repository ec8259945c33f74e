//go:build integration

package repository

import (
	"context"
	"testing"
	"time"

	"github.com/cloo-solutions/docpipe/internal/domain"
	"github.com/cloo-solutions/docpipe/internal/service"
	"github.com/cloo-solutions/docpipe/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testCollection = "doc_vectors_test_model_3"

func makePoint(documentID int64, chunkIndex, totalChunks int, vector []float32) *domain.VectorPoint {
	return &domain.VectorPoint{
		ID:      domain.PointID(documentID, chunkIndex),
		Vector:  vector,
		Content: "chunk content",
		Metadata: domain.ChunkMetadata{
			DocumentID:      documentID,
			KnowledgeBaseID: 1,
			UserID:          1,
			ChunkIndex:      chunkIndex,
			TotalChunks:     totalChunks,
			OriginalContent: "chunk content",
		},
		CreatedAt: time.Now().UTC(),
	}
}

func TestVectorStore_EnsureCollectionIdempotent(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	store := NewVectorStore(pool)

	require.NoError(t, store.EnsureCollection(ctx, testCollection, 3, service.DistanceCosine))
	require.NoError(t, store.EnsureCollection(ctx, testCollection, 3, service.DistanceCosine))
}

func TestVectorStore_EnsureCollection_RejectsBadInput(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	store := NewVectorStore(pool)

	assert.Error(t, store.EnsureCollection(ctx, "Bad Name; DROP TABLE", 3, service.DistanceCosine))
	assert.Error(t, store.EnsureCollection(ctx, testCollection, 0, service.DistanceCosine))
	assert.Error(t, store.EnsureCollection(ctx, testCollection, 3, service.DistanceMetric("bogus")))
}

func TestVectorStore_UpsertAndSearch(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	store := NewVectorStore(pool)
	require.NoError(t, store.EnsureCollection(ctx, testCollection, 3, service.DistanceCosine))

	points := []*domain.VectorPoint{
		makePoint(1, 0, 2, []float32{1, 0, 0}),
		makePoint(1, 1, 2, []float32{0.9, 0.1, 0}),
	}
	require.NoError(t, store.Upsert(ctx, testCollection, points))

	matches, err := store.Search(ctx, testCollection, []float32{1, 0, 0},
		service.SearchFilter{UserID: 1, KnowledgeBaseID: 1}, 10, 0.5)
	require.NoError(t, err)
	require.Len(t, matches, 2)

	// Exact match ranks first with score 1.
	assert.Equal(t, domain.PointID(1, 0), matches[0].ID)
	assert.InDelta(t, 1.0, float64(matches[0].Score), 1e-4)
	assert.GreaterOrEqual(t, matches[0].Score, matches[1].Score)
}

func TestVectorStore_Search_FiltersScope(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	store := NewVectorStore(pool)
	require.NoError(t, store.EnsureCollection(ctx, testCollection, 3, service.DistanceCosine))

	mine := makePoint(1, 0, 1, []float32{1, 0, 0})
	other := makePoint(2, 0, 1, []float32{1, 0, 0})
	other.Metadata.UserID = 99
	require.NoError(t, store.Upsert(ctx, testCollection, []*domain.VectorPoint{mine, other}))

	matches, err := store.Search(ctx, testCollection, []float32{1, 0, 0},
		service.SearchFilter{UserID: 1, KnowledgeBaseID: 1}, 10, 0)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, int64(1), matches[0].Metadata.DocumentID)

	docID := int64(2)
	matches, err = store.Search(ctx, testCollection, []float32{1, 0, 0},
		service.SearchFilter{UserID: 99, KnowledgeBaseID: 1, DocumentID: &docID}, 10, 0)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, int64(2), matches[0].Metadata.DocumentID)
}

func TestVectorStore_Search_MissingCollectionReturnsEmpty(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	store := NewVectorStore(pool)

	matches, err := store.Search(ctx, "doc_vectors_never_created_3", []float32{1, 0, 0},
		service.SearchFilter{UserID: 1, KnowledgeBaseID: 1}, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestVectorStore_UpsertReplacesSameID(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	store := NewVectorStore(pool)
	require.NoError(t, store.EnsureCollection(ctx, testCollection, 3, service.DistanceCosine))

	original := makePoint(1, 0, 1, []float32{1, 0, 0})
	require.NoError(t, store.Upsert(ctx, testCollection, []*domain.VectorPoint{original}))

	replacement := makePoint(1, 0, 1, []float32{0, 1, 0})
	replacement.Content = "replaced"
	require.NoError(t, store.Upsert(ctx, testCollection, []*domain.VectorPoint{replacement}))

	count, err := store.CountByDocument(ctx, testCollection, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	matches, err := store.Search(ctx, testCollection, []float32{0, 1, 0},
		service.SearchFilter{UserID: 1, KnowledgeBaseID: 1}, 10, 0.9)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "replaced", matches[0].Content)
}

func TestVectorStore_DeleteByDocument(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	store := NewVectorStore(pool)
	require.NoError(t, store.EnsureCollection(ctx, testCollection, 3, service.DistanceCosine))

	require.NoError(t, store.Upsert(ctx, testCollection, []*domain.VectorPoint{
		makePoint(1, 0, 2, []float32{1, 0, 0}),
		makePoint(1, 1, 2, []float32{0, 1, 0}),
		makePoint(2, 0, 1, []float32{0, 0, 1}),
	}))

	removed, err := store.DeleteByDocument(ctx, testCollection, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)

	count, err := store.CountByDocument(ctx, testCollection, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)

	// The other document's vectors survive.
	count, err = store.CountByDocument(ctx, testCollection, 2, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestVectorStore_DeleteByDocument_MissingCollection(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	store := NewVectorStore(pool)

	removed, err := store.DeleteByDocument(ctx, "doc_vectors_never_created_3", 1, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(0), removed)
}

func TestCollectionName(t *testing.T) {
	assert.Equal(t, "doc_vectors_text_embedding_3_small_1024", CollectionName("text-embedding-3-small", 1024))
	assert.Equal(t, "doc_vectors_my_model_512", CollectionName("My.Model!", 512))
}
