// Package chat orchestrates retrieval-augmented conversations: it retrieves
// relevant chunks, assembles the model prompt, and records both turns in the
// conversation context.
package chat

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"

	"github.com/quillworks/kbchat/contextstore"
	"github.com/quillworks/kbchat/docstore"
	"github.com/quillworks/kbchat/embedding"
	"github.com/quillworks/kbchat/inference"
	"github.com/quillworks/kbchat/knowledge"
)

const (
	defaultMaxSources   = 5
	defaultTemperature  = 0.7
	similarityThreshold = 0.7

	// historyWindow is how many prior non-summary messages accompany the
	// current turn, roughly three exchanges.
	historyWindow = 6

	maxTitleLength = 60
)

// Service answers queries against the knowledge base.
type Service struct {
	store    docstore.Store
	contexts *contextstore.Store
	gateway  *embedding.Gateway
	provider inference.Provider
	insights knowledge.InsightStore
	logger   *log.Logger
}

// NewService wires the orchestrator. insights may be nil; source enrichment
// is then skipped.
func NewService(
	store docstore.Store,
	contexts *contextstore.Store,
	gateway *embedding.Gateway,
	provider inference.Provider,
	insights knowledge.InsightStore,
	logger *log.Logger,
) *Service {
	if logger == nil {
		logger = log.Default()
	}

	return &Service{
		store:    store,
		contexts: contexts,
		gateway:  gateway,
		provider: provider,
		insights: insights,
		logger:   logger,
	}
}

// Chat runs one conversational turn. A zero conversationID (or an unknown
// one) starts a new conversation. Retrieval failures degrade to a plain chat
// turn; completion failures are fatal to the call.
func (s *Service) Chat(ctx context.Context, query string, conversationID uuid.UUID, opts Options) (Response, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return Response{}, fmt.Errorf("query cannot be empty")
	}

	conversation, err := s.resolveConversation(ctx, conversationID, opts.UserID, query)
	if err != nil {
		return Response{}, err
	}

	var sources []Source
	if !opts.DisableRAG {
		sources = s.retrieve(ctx, query, opts)
	}

	messages := s.buildMessages(conversation, query, sources)

	temperature := float32(defaultTemperature)
	if opts.Temperature != nil {
		temperature = *opts.Temperature
	}
	answer, err := s.provider.Complete(ctx, messages, inference.CompleteOptions{Temperature: temperature})
	if err != nil {
		return Response{}, fmt.Errorf("generate completion: %w", err)
	}
	answer = strings.TrimSpace(answer)

	if _, err := s.contexts.AddMessage(ctx, conversation.ID, contextstore.RoleUser, query, nil); err != nil {
		return Response{}, fmt.Errorf("record user turn: %w", err)
	}
	if _, err := s.contexts.AddMessage(ctx, conversation.ID, contextstore.RoleAssistant, answer, nil); err != nil {
		return Response{}, fmt.Errorf("record assistant turn: %w", err)
	}

	return Response{
		Answer:         answer,
		Sources:        sources,
		ConversationID: conversation.ID,
	}, nil
}

func (s *Service) resolveConversation(ctx context.Context, id uuid.UUID, userID, query string) (*contextstore.ConversationContext, error) {
	if id != uuid.Nil {
		conversation, err := s.contexts.GetContext(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("load conversation: %w", err)
		}
		if conversation != nil {
			return conversation, nil
		}
	}

	conversation, err := s.contexts.CreateContext(ctx, userID, deriveTitle(query))
	if err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	return conversation, nil
}

// retrieve embeds the query and searches the store. Every failure on this
// path is logged and swallowed so the chat can proceed without augmentation.
func (s *Service) retrieve(ctx context.Context, query string, opts Options) []Source {
	maxSources := opts.MaxSources
	if maxSources <= 0 {
		maxSources = defaultMaxSources
	}

	vector, err := s.gateway.Embed(ctx, query)
	if err != nil {
		s.logger.Printf("query embedding failed, continuing without retrieval: %v", err)
		return nil
	}

	results, err := s.store.Search(ctx, vector, docstore.SearchOptions{
		Limit:     maxSources,
		Threshold: similarityThreshold,
		OwnerID:   opts.UserID,
	})
	if err != nil {
		s.logger.Printf("retrieval failed, continuing without augmentation: %v", err)
		return nil
	}

	sources := make([]Source, 0, len(results))
	for _, result := range results {
		sources = append(sources, Source{
			ChunkID:      result.ChunkID,
			DocumentID:   result.DocumentID,
			DocumentName: result.DocumentName,
			Content:      result.Content,
			Similarity:   result.Similarity,
		})
	}

	s.enrich(ctx, sources)
	return sources
}

// enrich merges knowledge-graph insights into the sources, best-effort.
func (s *Service) enrich(ctx context.Context, sources []Source) {
	if s.insights == nil || len(sources) == 0 {
		return
	}

	ids := make([]string, 0, len(sources))
	seen := make(map[string]struct{}, len(sources))
	for i := range sources {
		id := sources[i].DocumentID.String()
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}

	insightMap, err := s.insights.DocumentInsights(ctx, ids)
	if err != nil {
		s.logger.Printf("knowledge graph insights: %v", err)
		return
	}
	for i := range sources {
		if insight, ok := insightMap[sources[i].DocumentID.String()]; ok {
			sources[i].Insight = insight
		}
	}
}

// buildMessages assembles the model-facing list: an optional system
// instruction (only when sources were found), the trailing window of
// non-summary history, and the current turn.
func (s *Service) buildMessages(conversation *contextstore.ConversationContext, query string, sources []Source) []inference.Message {
	messages := make([]inference.Message, 0, historyWindow+2)

	if len(sources) > 0 {
		messages = append(messages, inference.Message{
			Role:    inference.RoleSystem,
			Content: systemInstruction(),
		})
	}

	history := conversation.ModelMessages()
	if len(history) > historyWindow {
		history = history[len(history)-historyWindow:]
	}
	for i := range history {
		messages = append(messages, inference.Message{
			Role:    history[i].Role,
			Content: history[i].Content,
		})
	}

	content := query
	if len(sources) > 0 {
		content = augmentedPrompt(query, sources)
	}
	messages = append(messages, inference.Message{Role: inference.RoleUser, Content: content})

	return messages
}

func systemInstruction() string {
	return "You are a knowledge-base assistant. Ground your answer in the provided document excerpts, " +
		"citing them by their bracketed numbers (e.g., [Document 1]). When the excerpts do not cover the " +
		"question, say so before falling back to general knowledge."
}

func augmentedPrompt(query string, sources []Source) string {
	var sb strings.Builder
	sb.WriteString("Relevant excerpts from the knowledge base:\n\n")
	for idx, source := range sources {
		fmt.Fprintf(&sb, "[Document %d: %s]\n%s\n\n", idx+1, source.DocumentName, source.Content)
	}
	sb.WriteString("Question: ")
	sb.WriteString(query)
	return sb.String()
}

func deriveTitle(query string) string {
	title := strings.Join(strings.Fields(query), " ")
	if len(title) > maxTitleLength {
		title = strings.TrimSpace(title[:maxTitleLength]) + "..."
	}
	return title
}
