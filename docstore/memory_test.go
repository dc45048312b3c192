package docstore

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusTransitions(t *testing.T) {
	cases := []struct {
		from Status
		to   Status
		ok   bool
	}{
		{StatusPending, StatusParsing, true},
		{StatusPending, StatusEmbedding, true},
		{StatusParsing, StatusEmbedding, true},
		{StatusEmbedding, StatusCompleted, true},
		{StatusPending, StatusFailed, true},
		{StatusCompleted, StatusFailed, true},
		{StatusParsing, StatusPending, false},
		{StatusCompleted, StatusParsing, false},
		{StatusFailed, StatusPending, false},
		{StatusFailed, StatusFailed, false},
		{StatusPending, StatusPending, false},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.ok, tc.from.CanTransition(tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func seedDocument(t *testing.T, store *MemoryStore, name, owner string, vectors [][]float32) *Document {
	t.Helper()

	doc := &Document{Name: name, MimeType: "text/plain", OwnerID: owner}
	require.NoError(t, store.CreateDocument(context.Background(), doc))

	chunks := make([]Chunk, len(vectors))
	for i := range vectors {
		chunks[i] = Chunk{Index: i, Content: name + " chunk"}
	}
	require.NoError(t, store.PersistChunks(context.Background(), doc.ID, chunks, vectors))
	return doc
}

func TestCreateDocumentStartsPending(t *testing.T) {
	store := NewMemoryStore()

	doc := &Document{Name: "notes.md"}
	require.NoError(t, store.CreateDocument(context.Background(), doc))

	loaded, err := store.GetDocument(context.Background(), doc.ID)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, StatusPending, loaded.Status)
	assert.False(t, loaded.CreatedAt.IsZero())
}

func TestGetDocumentUnknownID(t *testing.T) {
	store := NewMemoryStore()

	doc, err := store.GetDocument(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Nil(t, doc)
}

func TestUpdateStatusRejectsBackwardTransition(t *testing.T) {
	store := NewMemoryStore()
	doc := &Document{Name: "notes.md"}
	require.NoError(t, store.CreateDocument(context.Background(), doc))

	require.NoError(t, store.UpdateStatus(context.Background(), doc.ID, StatusParsing))
	err := store.UpdateStatus(context.Background(), doc.ID, StatusPending)
	require.Error(t, err)

	require.NoError(t, store.UpdateStatus(context.Background(), doc.ID, StatusFailed))
	err = store.UpdateStatus(context.Background(), doc.ID, StatusEmbedding)
	require.Error(t, err)
}

func TestPersistChunksRequiresMatchingVectors(t *testing.T) {
	store := NewMemoryStore()
	doc := &Document{Name: "notes.md"}
	require.NoError(t, store.CreateDocument(context.Background(), doc))

	err := store.PersistChunks(context.Background(), doc.ID, []Chunk{{Index: 0, Content: "x"}}, nil)
	require.Error(t, err)
}

func TestSearchFiltersByThreshold(t *testing.T) {
	store := NewMemoryStore()
	seedDocument(t, store, "aligned", "", [][]float32{{1, 0}})
	seedDocument(t, store, "orthogonal", "", [][]float32{{0, 1}})
	seedDocument(t, store, "close", "", [][]float32{{0.95, 0.05}})

	results, err := store.Search(context.Background(), []float32{1, 0}, SearchOptions{Threshold: 0.9})
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, "aligned", results[0].DocumentName)
	assert.Equal(t, "close", results[1].DocumentName)
	for _, result := range results {
		assert.GreaterOrEqual(t, result.Similarity, 0.9)
	}
}

func TestSearchEmptyResultIsNotAnError(t *testing.T) {
	store := NewMemoryStore()
	seedDocument(t, store, "orthogonal", "", [][]float32{{0, 1}})

	results, err := store.Search(context.Background(), []float32{1, 0}, SearchOptions{Threshold: 0.9})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearchOrdersBySimilarityAndLimits(t *testing.T) {
	store := NewMemoryStore()
	vectors := [][]float32{
		{1, 0},
		{0.9, 0.1},
		{0.8, 0.2},
		{0.7, 0.3},
		{0.6, 0.4},
		{0.5, 0.5},
		{0.4, 0.6},
	}
	seedDocument(t, store, "spread", "", vectors)

	results, err := store.Search(context.Background(), []float32{1, 0}, SearchOptions{})
	require.NoError(t, err)
	require.Len(t, results, 5)
	for i := 1; i < len(results); i++ {
		assert.GreaterOrEqual(t, results[i-1].Similarity, results[i].Similarity)
	}
}

func TestSearchRespectsOwnerFilter(t *testing.T) {
	store := NewMemoryStore()
	seedDocument(t, store, "mine", "user-1", [][]float32{{1, 0}})
	seedDocument(t, store, "theirs", "user-2", [][]float32{{1, 0}})

	results, err := store.Search(context.Background(), []float32{1, 0}, SearchOptions{OwnerID: "user-1"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "mine", results[0].DocumentName)
}

func TestSearchRejectsEmptyQueryVector(t *testing.T) {
	store := NewMemoryStore()

	_, err := store.Search(context.Background(), nil, SearchOptions{})
	require.Error(t, err)
}

func TestDeleteDocumentRemovesChunksAndIsIdempotent(t *testing.T) {
	store := NewMemoryStore()
	doc := seedDocument(t, store, "notes", "", [][]float32{{1, 0}, {0, 1}})
	require.Equal(t, 2, store.ChunkCount(doc.ID))

	require.NoError(t, store.DeleteDocument(context.Background(), doc.ID))
	assert.Zero(t, store.ChunkCount(doc.ID))
	assert.Zero(t, store.DocumentCount())

	require.NoError(t, store.DeleteDocument(context.Background(), doc.ID))
}

func TestListDocumentsFiltersByOwner(t *testing.T) {
	store := NewMemoryStore()
	seedDocument(t, store, "mine", "user-1", [][]float32{{1, 0}})
	seedDocument(t, store, "theirs", "user-2", [][]float32{{1, 0}})

	docs, err := store.ListDocuments(context.Background(), "user-1", 0)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "mine", docs[0].Name)

	all, err := store.ListDocuments(context.Background(), "", 0)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
