package contextstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository is an in-process Repository for tests and local runs.
type MemoryRepository struct {
	mu            sync.RWMutex
	conversations map[uuid.UUID]*ConversationContext
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{conversations: make(map[uuid.UUID]*ConversationContext)}
}

func (r *MemoryRepository) Insert(_ context.Context, conversation *ConversationContext) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conversations[conversation.ID] = cloneConversation(conversation)
	return nil
}

func (r *MemoryRepository) Get(_ context.Context, id uuid.UUID) (*ConversationContext, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conversation, ok := r.conversations[id]
	if !ok {
		return nil, nil
	}
	return cloneConversation(conversation), nil
}

func (r *MemoryRepository) Save(_ context.Context, conversation *ConversationContext) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conversations[conversation.ID] = cloneConversation(conversation)
	return nil
}

func (r *MemoryRepository) ListByUser(_ context.Context, userID string, limit int) ([]ConversationContext, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conversations := make([]ConversationContext, 0, len(r.conversations))
	for _, conversation := range r.conversations {
		if userID != "" && conversation.UserID != userID {
			continue
		}
		conversations = append(conversations, *cloneConversation(conversation))
	}
	sort.Slice(conversations, func(i, j int) bool {
		return conversations[i].UpdatedAt.After(conversations[j].UpdatedAt)
	})
	if len(conversations) > limit {
		conversations = conversations[:limit]
	}
	return conversations, nil
}

func (r *MemoryRepository) Delete(_ context.Context, id uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.conversations[id]; !ok {
		return false, nil
	}
	delete(r.conversations, id)
	return true, nil
}

func (r *MemoryRepository) DeleteNotUpdatedSince(_ context.Context, cutoff time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, conversation := range r.conversations {
		if conversation.UpdatedAt.Before(cutoff) {
			delete(r.conversations, id)
			removed++
		}
	}
	return removed, nil
}

func cloneConversation(conversation *ConversationContext) *ConversationContext {
	copied := *conversation
	copied.Messages = append([]ContextMessage(nil), conversation.Messages...)
	copied.Keywords = append([]string(nil), conversation.Keywords...)
	return &copied
}

var _ Repository = (*MemoryRepository)(nil)
