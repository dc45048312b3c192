package chat

import (
	"github.com/google/uuid"

	"github.com/quillworks/kbchat/knowledge"
)

// Source is a retrieval hit returned alongside the answer so callers can
// render provenance with similarity scores.
type Source struct {
	ChunkID      uuid.UUID
	DocumentID   uuid.UUID
	DocumentName string
	Content      string
	Similarity   float64
	Insight      knowledge.Insight
}

// Response is the outcome of one chat turn.
type Response struct {
	Answer         string
	Sources        []Source
	ConversationID uuid.UUID
}

// Options tunes a chat call. Zero values mean: retrieval on, five sources.
// A nil Temperature uses the 0.7 default; an explicit zero is passed through
// for deterministic output.
type Options struct {
	UserID      string
	DisableRAG  bool
	MaxSources  int
	Temperature *float32
}
