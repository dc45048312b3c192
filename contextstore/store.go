package contextstore

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/quillworks/kbchat/kberr"
)

const (
	// DefaultSummaryThreshold is the message count past which AddMessage
	// considers compression.
	DefaultSummaryThreshold = 10
	// DefaultMaxMessages is the message count past which compression
	// actually rewrites history.
	DefaultMaxMessages = 20
	// DefaultMaxTokens is the nominal token budget of a fresh conversation.
	DefaultMaxTokens = 4000

	defaultListLimit  = 20
	defaultTitle      = "New conversation"
	summaryPrefix     = "[Conversation Summary] "
	defaultExpiryDays = 30
)

// Options tunes the store's compression behavior.
type Options struct {
	SummaryThreshold int
	MaxMessages      int
	MaxTokens        int
}

func (o *Options) applyDefaults() {
	if o.SummaryThreshold <= 0 {
		o.SummaryThreshold = DefaultSummaryThreshold
	}
	if o.MaxMessages <= 0 {
		o.MaxMessages = DefaultMaxMessages
	}
	if o.MaxTokens <= 0 {
		o.MaxTokens = DefaultMaxTokens
	}
}

// Store manages conversation contexts on top of a Repository.
type Store struct {
	repo       Repository
	summarizer Summarizer
	logger     *log.Logger
	opts       Options
	nowFunc    func() time.Time
}

// New builds a Store. A nil summarizer falls back to the frequency heuristic.
func New(repo Repository, summarizer Summarizer, logger *log.Logger, opts Options) *Store {
	if summarizer == nil {
		summarizer = NewFrequencySummarizer()
	}
	if logger == nil {
		logger = log.Default()
	}
	opts.applyDefaults()

	return &Store{
		repo:       repo,
		summarizer: summarizer,
		logger:     logger,
		opts:       opts,
		nowFunc:    time.Now,
	}
}

// CreateContext starts an empty conversation.
func (s *Store) CreateContext(ctx context.Context, userID, title string) (*ConversationContext, error) {
	if title == "" {
		title = defaultTitle
	}

	now := s.nowFunc()
	conversation := &ConversationContext{
		ID:        uuid.New(),
		UserID:    userID,
		Title:     title,
		Messages:  []ContextMessage{},
		Keywords:  []string{},
		MaxTokens: s.opts.MaxTokens,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.repo.Insert(ctx, conversation); err != nil {
		return nil, err
	}
	return conversation, nil
}

// GetContext loads a conversation, or nil when the id is unknown.
func (s *Store) GetContext(ctx context.Context, id uuid.UUID) (*ConversationContext, error) {
	return s.repo.Get(ctx, id)
}

// AddMessage appends a turn, updates the token estimate, compresses when the
// history has grown past the budget, and persists the result.
func (s *Store) AddMessage(ctx context.Context, contextID uuid.UUID, role, content string, metadata *MessageMetadata) (*ConversationContext, error) {
	conversation, err := s.repo.Get(ctx, contextID)
	if err != nil {
		return nil, err
	}
	if conversation == nil {
		return nil, kberr.New(kberr.KindStorage, "conversation context %s not found", contextID)
	}

	now := s.nowFunc()
	conversation.Messages = append(conversation.Messages, ContextMessage{
		ID:        uuid.New(),
		Role:      role,
		Content:   content,
		Timestamp: now,
		Metadata:  metadata,
	})
	conversation.TokenCount += EstimateTokens(content)
	conversation.UpdatedAt = now

	if len(conversation.Messages) > s.opts.SummaryThreshold {
		s.compress(conversation)
	}

	if err := s.repo.Save(ctx, conversation); err != nil {
		return nil, err
	}
	return conversation, nil
}

// compress rewrites history once it exceeds the max message count: the most
// recent half of the budget survives verbatim, everything older collapses
// into a single synthetic system message carrying only a keyword/entity/topic
// fingerprint. Lossy by design.
func (s *Store) compress(conversation *ConversationContext) {
	if len(conversation.Messages) <= s.opts.MaxMessages {
		return
	}

	keep := s.opts.MaxMessages / 2
	split := len(conversation.Messages) - keep
	older := conversation.Messages[:split]
	recent := conversation.Messages[split:]
	if len(older) == 0 {
		return
	}

	digest := s.summarizer.Summarize(older)

	summaryMessage := ContextMessage{
		ID:        uuid.New(),
		Role:      RoleSystem,
		Content:   summaryPrefix + digest.Summary,
		Timestamp: s.nowFunc(),
		Metadata: &MessageMetadata{
			Type:                   MetadataTypeSummary,
			KeyPoints:              digest.KeyPoints,
			Entities:               digest.Entities,
			Topics:                 digest.Topics,
			CompressedMessageCount: len(older),
		},
	}

	messages := make([]ContextMessage, 0, 1+len(recent))
	messages = append(messages, summaryMessage)
	messages = append(messages, recent...)
	conversation.Messages = messages
	conversation.Summary = digest.Summary
	conversation.Keywords = mergeKeywords(conversation.Keywords, digest.Topics)

	// Recompute from scratch rather than adjusting incrementally, so the
	// count cannot drift across repeated compressions.
	total := 0
	for i := range conversation.Messages {
		total += EstimateTokens(conversation.Messages[i].Content)
	}
	conversation.TokenCount = total

	s.logger.Printf("compressed conversation %s: %d messages into summary, %d kept", conversation.ID, len(older), len(recent))
}

// GetUserContexts lists a user's conversations, most recently updated first.
func (s *Store) GetUserContexts(ctx context.Context, userID string, limit int) ([]ConversationContext, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	return s.repo.ListByUser(ctx, userID, limit)
}

// DeleteContext removes a conversation and reports whether it existed.
func (s *Store) DeleteContext(ctx context.Context, id uuid.UUID) (bool, error) {
	return s.repo.Delete(ctx, id)
}

// CleanupExpired deletes conversations not updated within the window and
// returns how many were removed.
func (s *Store) CleanupExpired(ctx context.Context, daysOld int) (int, error) {
	if daysOld <= 0 {
		daysOld = defaultExpiryDays
	}
	cutoff := s.nowFunc().AddDate(0, 0, -daysOld)
	return s.repo.DeleteNotUpdatedSince(ctx, cutoff)
}

func mergeKeywords(existing, topics []string) []string {
	seen := make(map[string]struct{}, len(existing)+len(topics))
	merged := make([]string, 0, len(existing)+len(topics))
	for _, lists := range [][]string{existing, topics} {
		for _, keyword := range lists {
			if _, ok := seen[keyword]; ok {
				continue
			}
			seen[keyword] = struct{}{}
			merged = append(merged, keyword)
		}
	}
	return merged
}
