package contextstore

import (
	"context"
	"fmt"
	"io"
	"log"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore() (*Store, *MemoryRepository) {
	repo := NewMemoryRepository()
	store := New(repo, nil, log.New(io.Discard, "", 0), Options{})
	return store, repo
}

func fillConversation(t *testing.T, store *Store, id uuid.UUID, count int) *ConversationContext {
	t.Helper()

	var conversation *ConversationContext
	var err error
	for i := 0; i < count; i++ {
		role := RoleUser
		if i%2 == 1 {
			role = RoleAssistant
		}
		conversation, err = store.AddMessage(context.Background(), id, role, fmt.Sprintf("message number %d about deployments", i), nil)
		require.NoError(t, err)
	}
	return conversation
}

func TestCreateContextDefaults(t *testing.T) {
	store, _ := newTestStore()

	conversation, err := store.CreateContext(context.Background(), "user-1", "")
	require.NoError(t, err)

	assert.NotEqual(t, uuid.Nil, conversation.ID)
	assert.Equal(t, "New conversation", conversation.Title)
	assert.Equal(t, "user-1", conversation.UserID)
	assert.Empty(t, conversation.Messages)
	assert.Equal(t, DefaultMaxTokens, conversation.MaxTokens)
	assert.Zero(t, conversation.TokenCount)
}

func TestAddMessageUnknownConversation(t *testing.T) {
	store, _ := newTestStore()

	_, err := store.AddMessage(context.Background(), uuid.New(), RoleUser, "hello", nil)
	require.Error(t, err)
}

func TestAddMessageAccumulatesTokens(t *testing.T) {
	store, _ := newTestStore()
	conversation, err := store.CreateContext(context.Background(), "", "tokens")
	require.NoError(t, err)

	updated, err := store.AddMessage(context.Background(), conversation.ID, RoleUser, "12345678", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, updated.TokenCount)

	updated, err = store.AddMessage(context.Background(), conversation.ID, RoleAssistant, "123456789", nil)
	require.NoError(t, err)
	assert.Equal(t, 5, updated.TokenCount)
}

func TestEleventhMessageDoesNotCompress(t *testing.T) {
	store, _ := newTestStore()
	conversation, err := store.CreateContext(context.Background(), "", "growth")
	require.NoError(t, err)

	updated := fillConversation(t, store, conversation.ID, 11)

	require.Len(t, updated.Messages, 11)
	for i := range updated.Messages {
		assert.False(t, updated.Messages[i].IsSummary(), "message %d should be verbatim", i)
	}
}

func TestCompressionPastMaxMessages(t *testing.T) {
	store, _ := newTestStore()
	conversation, err := store.CreateContext(context.Background(), "", "long running")
	require.NoError(t, err)

	updated := fillConversation(t, store, conversation.ID, 21)

	// 11 older messages collapse into one summary, the 10 most recent stay.
	require.Len(t, updated.Messages, 11)

	summary := updated.Messages[0]
	assert.True(t, summary.IsSummary())
	assert.Equal(t, RoleSystem, summary.Role)
	assert.True(t, strings.HasPrefix(summary.Content, "[Conversation Summary] "))
	require.NotNil(t, summary.Metadata)
	assert.Equal(t, MetadataTypeSummary, summary.Metadata.Type)
	assert.Equal(t, 11, summary.Metadata.CompressedMessageCount)
	assert.NotEmpty(t, summary.Metadata.Topics)
	assert.LessOrEqual(t, len(summary.Metadata.KeyPoints), 5)

	for i := 1; i < len(updated.Messages); i++ {
		assert.False(t, updated.Messages[i].IsSummary())
	}

	assert.NotEmpty(t, updated.Summary)
	assert.NotEmpty(t, updated.Keywords)

	// Token count is recomputed over the surviving messages.
	expected := 0
	for i := range updated.Messages {
		expected += EstimateTokens(updated.Messages[i].Content)
	}
	assert.Equal(t, expected, updated.TokenCount)
}

func TestRepeatedCompressionKeepsBudget(t *testing.T) {
	store, _ := newTestStore()
	conversation, err := store.CreateContext(context.Background(), "", "very long running")
	require.NoError(t, err)

	updated := fillConversation(t, store, conversation.ID, 60)

	assert.LessOrEqual(t, len(updated.Messages), DefaultMaxMessages+1)

	summaries := 0
	for i := range updated.Messages {
		if updated.Messages[i].IsSummary() {
			summaries++
		}
	}
	assert.Equal(t, 1, summaries)
}

func TestModelMessagesExcludeSummaries(t *testing.T) {
	store, _ := newTestStore()
	conversation, err := store.CreateContext(context.Background(), "", "history")
	require.NoError(t, err)

	updated := fillConversation(t, store, conversation.ID, 21)
	require.True(t, updated.Messages[0].IsSummary())

	model := updated.ModelMessages()
	assert.Len(t, model, len(updated.Messages)-1)
	for i := range model {
		assert.False(t, model[i].IsSummary())
	}
}

func TestGetUserContextsOrdering(t *testing.T) {
	store, _ := newTestStore()

	first, err := store.CreateContext(context.Background(), "user-1", "first")
	require.NoError(t, err)
	second, err := store.CreateContext(context.Background(), "user-1", "second")
	require.NoError(t, err)
	_, err = store.CreateContext(context.Background(), "user-2", "other user")
	require.NoError(t, err)

	// Touching the first conversation makes it the most recently updated.
	time.Sleep(time.Millisecond)
	_, err = store.AddMessage(context.Background(), first.ID, RoleUser, "ping", nil)
	require.NoError(t, err)

	conversations, err := store.GetUserContexts(context.Background(), "user-1", 0)
	require.NoError(t, err)
	require.Len(t, conversations, 2)
	assert.Equal(t, first.ID, conversations[0].ID)
	assert.Equal(t, second.ID, conversations[1].ID)
}

func TestDeleteContext(t *testing.T) {
	store, _ := newTestStore()
	conversation, err := store.CreateContext(context.Background(), "", "short lived")
	require.NoError(t, err)

	deleted, err := store.DeleteContext(context.Background(), conversation.ID)
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = store.DeleteContext(context.Background(), conversation.ID)
	require.NoError(t, err)
	assert.False(t, deleted)

	loaded, err := store.GetContext(context.Background(), conversation.ID)
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestCleanupExpired(t *testing.T) {
	store, repo := newTestStore()

	stale := &ConversationContext{
		ID:        uuid.New(),
		Title:     "stale",
		UpdatedAt: time.Now().AddDate(0, 0, -40),
		CreatedAt: time.Now().AddDate(0, 0, -40),
	}
	require.NoError(t, repo.Insert(context.Background(), stale))

	fresh, err := store.CreateContext(context.Background(), "", "fresh")
	require.NoError(t, err)

	removed, err := store.CleanupExpired(context.Background(), 30)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	loaded, err := store.GetContext(context.Background(), fresh.ID)
	require.NoError(t, err)
	assert.NotNil(t, loaded)
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	assert.Equal(t, 1, EstimateTokens("abc"))
	assert.Equal(t, 1, EstimateTokens("abcd"))
	assert.Equal(t, 2, EstimateTokens("abcde"))
}
