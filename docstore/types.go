// Package docstore owns document and chunk persistence plus semantic search.
package docstore

import (
	"time"

	"github.com/google/uuid"
)

// Status is the document lifecycle state. Transitions only move forward,
// except Failed which is terminal and reachable from anywhere.
type Status string

const (
	StatusPending   Status = "pending"
	StatusParsing   Status = "parsing"
	StatusEmbedding Status = "embedding"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

var statusRank = map[Status]int{
	StatusPending:   0,
	StatusParsing:   1,
	StatusEmbedding: 2,
	StatusCompleted: 3,
}

// CanTransition reports whether moving from s to next respects the forward-only
// lifecycle. Failed is always reachable and never left.
func (s Status) CanTransition(next Status) bool {
	if s == StatusFailed {
		return false
	}
	if next == StatusFailed {
		return true
	}
	from, ok := statusRank[s]
	if !ok {
		return false
	}
	to, ok := statusRank[next]
	if !ok {
		return false
	}
	return to > from
}

// Document is an ingested file's record.
type Document struct {
	ID          uuid.UUID
	Name        string
	MimeType    string
	SizeBytes   int64
	Status      Status
	OwnerID     string
	Description string
	Tags        []string
	ChunkCount  int
	VectorCount int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Chunk is one stored retrieval segment of a document.
type Chunk struct {
	ID         uuid.UUID
	DocumentID uuid.UUID
	Index      int
	Content    string
	Metadata   map[string]any
}

// SearchResult is a transient similarity hit; it is never persisted.
type SearchResult struct {
	ChunkID      uuid.UUID
	DocumentID   uuid.UUID
	DocumentName string
	Content      string
	Similarity   float64
	Metadata     map[string]any
}

// SearchOptions tunes a semantic search call.
type SearchOptions struct {
	Limit     int
	Threshold float64
	OwnerID   string
}

const defaultSearchLimit = 5

func (o SearchOptions) limit() int {
	if o.Limit <= 0 {
		return defaultSearchLimit
	}
	return o.Limit
}
