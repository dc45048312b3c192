package docstore

import (
	"context"

	"github.com/google/uuid"
)

// Store persists documents and their chunks and answers similarity queries.
//
// PersistChunks offers no automatic rollback: when it fails partway, the
// caller owns marking the document failed and deleting whatever was written.
type Store interface {
	CreateDocument(ctx context.Context, doc *Document) error
	GetDocument(ctx context.Context, id uuid.UUID) (*Document, error)
	ListDocuments(ctx context.Context, ownerID string, limit int) ([]Document, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status Status) error
	SetCounts(ctx context.Context, id uuid.UUID, chunks, vectors int) error
	PersistChunks(ctx context.Context, documentID uuid.UUID, chunks []Chunk, vectors [][]float32) error
	DeleteChunks(ctx context.Context, documentID uuid.UUID) error
	DeleteDocument(ctx context.Context, id uuid.UUID) error
	Search(ctx context.Context, queryVector []float32, opts SearchOptions) ([]SearchResult, error)
}
