package inference

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/quillworks/kbchat/config"
)

type openAIProvider struct {
	client         *openai.Client
	embeddingModel string
	chatModel      string
	dimension      int
}

// NewOpenAIProvider builds a Provider backed by the OpenAI API (or any
// compatible endpoint via OPENAI_BASE_URL).
func NewOpenAIProvider(cfg config.Config) Provider {
	clientCfg := openai.DefaultConfig(cfg.OpenAIAPIKey)
	if cfg.OpenAIBaseURL != "" {
		clientCfg.BaseURL = cfg.OpenAIBaseURL
	}

	return &openAIProvider{
		client:         openai.NewClientWithConfig(clientCfg),
		embeddingModel: cfg.EmbeddingModel,
		chatModel:      cfg.ChatModel,
		dimension:      cfg.EmbeddingDimension,
	}
}

func (p *openAIProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := p.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(p.embeddingModel),
		Input: texts,
	})
	if err != nil {
		return nil, fmt.Errorf("create embeddings: %w", err)
	}

	results := make([][]float32, len(resp.Data))
	for i, datum := range resp.Data {
		if p.dimension > 0 && len(datum.Embedding) != p.dimension {
			return nil, fmt.Errorf("embedding dimension mismatch: expected %d, got %d", p.dimension, len(datum.Embedding))
		}
		results[i] = datum.Embedding
	}

	return results, nil
}

func (p *openAIProvider) Complete(ctx context.Context, messages []Message, opts CompleteOptions) (string, error) {
	req := openai.ChatCompletionRequest{
		Model:       p.chatModel,
		Temperature: opts.Temperature,
	}

	req.Messages = make([]openai.ChatCompletionMessage, len(messages))
	for i, msg := range messages {
		req.Messages[i] = openai.ChatCompletionMessage{
			Role:    msg.Role,
			Content: msg.Content,
		}
	}

	resp, err := p.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("create chat completion: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion returned no choices")
	}

	return resp.Choices[0].Message.Content, nil
}

var _ Provider = (*openAIProvider)(nil)
