package docstore

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quillworks/kbchat/kberr"
)

// MemoryStore is an in-process Store used by tests and local runs without
// postgres. Similarity is cosine over the stored vectors.
type MemoryStore struct {
	mu      sync.RWMutex
	docs    map[uuid.UUID]*Document
	chunks  map[uuid.UUID][]memoryChunk
	nowFunc func() time.Time
}

type memoryChunk struct {
	chunk  Chunk
	vector []float32
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs:    make(map[uuid.UUID]*Document),
		chunks:  make(map[uuid.UUID][]memoryChunk),
		nowFunc: time.Now,
	}
}

func (s *MemoryStore) CreateDocument(_ context.Context, doc *Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if doc.ID == uuid.Nil {
		doc.ID = uuid.New()
	}
	doc.Status = StatusPending
	now := s.nowFunc()
	doc.CreatedAt = now
	doc.UpdatedAt = now

	copied := *doc
	s.docs[doc.ID] = &copied
	return nil
}

func (s *MemoryStore) GetDocument(_ context.Context, id uuid.UUID) (*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.docs[id]
	if !ok {
		return nil, nil
	}
	copied := *doc
	return &copied, nil
}

func (s *MemoryStore) ListDocuments(_ context.Context, ownerID string, limit int) ([]Document, error) {
	if limit <= 0 {
		limit = 50
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	docs := make([]Document, 0, len(s.docs))
	for _, doc := range s.docs {
		if ownerID != "" && doc.OwnerID != ownerID {
			continue
		}
		docs = append(docs, *doc)
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].UpdatedAt.After(docs[j].UpdatedAt) })
	if len(docs) > limit {
		docs = docs[:limit]
	}
	return docs, nil
}

func (s *MemoryStore) UpdateStatus(_ context.Context, id uuid.UUID, status Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.docs[id]
	if !ok {
		return kberr.New(kberr.KindStorage, "document %s not found", id)
	}
	if !doc.Status.CanTransition(status) {
		return kberr.New(kberr.KindStorage, "invalid status transition %s -> %s for document %s", doc.Status, status, id)
	}
	doc.Status = status
	doc.UpdatedAt = s.nowFunc()
	return nil
}

func (s *MemoryStore) SetCounts(_ context.Context, id uuid.UUID, chunks, vectors int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.docs[id]
	if !ok {
		return kberr.New(kberr.KindStorage, "document %s not found", id)
	}
	doc.ChunkCount = chunks
	doc.VectorCount = vectors
	doc.UpdatedAt = s.nowFunc()
	return nil
}

func (s *MemoryStore) PersistChunks(_ context.Context, documentID uuid.UUID, chunks []Chunk, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return kberr.New(kberr.KindStorage, "chunk/vector count mismatch: %d chunks, %d vectors", len(chunks), len(vectors))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.docs[documentID]; !ok {
		return kberr.New(kberr.KindStorage, "document %s not found", documentID)
	}

	stored := make([]memoryChunk, 0, len(chunks))
	for i := range chunks {
		chunk := chunks[i]
		if chunk.ID == uuid.Nil {
			chunk.ID = uuid.New()
		}
		chunk.DocumentID = documentID
		stored = append(stored, memoryChunk{chunk: chunk, vector: vectors[i]})
	}
	s.chunks[documentID] = append(s.chunks[documentID], stored...)
	return nil
}

func (s *MemoryStore) DeleteChunks(_ context.Context, documentID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.chunks, documentID)
	return nil
}

func (s *MemoryStore) DeleteDocument(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.chunks, id)
	delete(s.docs, id)
	return nil
}

func (s *MemoryStore) Search(_ context.Context, queryVector []float32, opts SearchOptions) ([]SearchResult, error) {
	if len(queryVector) == 0 {
		return nil, kberr.New(kberr.KindRetrieval, "query vector is empty")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	results := make([]SearchResult, 0)
	for docID, stored := range s.chunks {
		doc, ok := s.docs[docID]
		if !ok {
			continue
		}
		if opts.OwnerID != "" && doc.OwnerID != opts.OwnerID {
			continue
		}
		for _, mc := range stored {
			similarity := cosineSimilarity(queryVector, mc.vector)
			if similarity < opts.Threshold {
				continue
			}
			results = append(results, SearchResult{
				ChunkID:      mc.chunk.ID,
				DocumentID:   docID,
				DocumentName: doc.Name,
				Content:      mc.chunk.Content,
				Similarity:   similarity,
				Metadata:     mc.chunk.Metadata,
			})
		}
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Similarity > results[j].Similarity })
	if len(results) > opts.limit() {
		results = results[:opts.limit()]
	}
	return results, nil
}

// ChunkCount reports how many chunks are stored for a document. Test helper.
func (s *MemoryStore) ChunkCount(documentID uuid.UUID) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chunks[documentID])
}

// DocumentCount reports how many document rows exist. Test helper.
func (s *MemoryStore) DocumentCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

var _ Store = (*MemoryStore)(nil)
