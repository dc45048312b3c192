// Package contextstore owns conversation state: ordered messages, token
// accounting, and lossy compression of older history.
package contextstore

import (
	"time"

	"github.com/google/uuid"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"

	// MetadataTypeSummary marks a synthetic compression artifact, not an
	// original utterance.
	MetadataTypeSummary = "summary"
)

// MessageMetadata annotates a message. Compression artifacts carry the
// fingerprint of the history they replaced.
type MessageMetadata struct {
	Type                   string   `json:"type,omitempty"`
	KeyPoints              []string `json:"keyPoints,omitempty"`
	Entities               []string `json:"entities,omitempty"`
	Topics                 []string `json:"topics,omitempty"`
	CompressedMessageCount int      `json:"compressedMessageCount,omitempty"`
}

// ContextMessage is one turn in a conversation.
type ContextMessage struct {
	ID        uuid.UUID        `json:"id"`
	Role      string           `json:"role"`
	Content   string           `json:"content"`
	Timestamp time.Time        `json:"timestamp"`
	Metadata  *MessageMetadata `json:"metadata,omitempty"`
}

// IsSummary reports whether the message is a compression artifact.
func (m *ContextMessage) IsSummary() bool {
	return m.Role == RoleSystem && m.Metadata != nil && m.Metadata.Type == MetadataTypeSummary
}

// ConversationContext is the persisted state of one conversation.
type ConversationContext struct {
	ID         uuid.UUID        `json:"id"`
	UserID     string           `json:"userId,omitempty"`
	Title      string           `json:"title"`
	Messages   []ContextMessage `json:"messages"`
	Summary    string           `json:"summary,omitempty"`
	Keywords   []string         `json:"keywords"`
	TokenCount int              `json:"tokenCount"`
	MaxTokens  int              `json:"maxTokens"`
	CreatedAt  time.Time        `json:"createdAt"`
	UpdatedAt  time.Time        `json:"updatedAt"`
}

// ModelMessages returns the messages fed back to the model: every message
// except summary artifacts. Compressed history therefore reaches the model
// only through Keywords, not through the summary text.
func (c *ConversationContext) ModelMessages() []ContextMessage {
	messages := make([]ContextMessage, 0, len(c.Messages))
	for i := range c.Messages {
		if c.Messages[i].IsSummary() {
			continue
		}
		messages = append(messages, c.Messages[i])
	}
	return messages
}

// EstimateTokens approximates the token cost of content as ceil(len/4). It is
// deterministic and provider-agnostic; exact tokenizer behavior is not
// modeled.
func EstimateTokens(content string) int {
	return (len(content) + 3) / 4
}
