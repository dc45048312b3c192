// Package inference defines the single boundary to the embedding and
// chat-completion models. Core logic depends only on Provider; a concrete
// client (or a deterministic stub in tests) is injected by the caller.
package inference

import (
	"context"
	"log"

	"github.com/quillworks/kbchat/config"
	"github.com/quillworks/kbchat/kberr"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of a model-facing conversation.
type Message struct {
	Role    string
	Content string
}

// CompleteOptions tunes a single completion call.
type CompleteOptions struct {
	Temperature float32
}

// Provider converts text to vectors and conversations to completions.
type Provider interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Complete(ctx context.Context, messages []Message, opts CompleteOptions) (string, error)
}

// NewProvider selects a provider from configuration. A missing API key is a
// warning, not a startup failure: the returned provider fails with a config
// error the first time it is actually invoked.
func NewProvider(cfg config.Config, logger *log.Logger) Provider {
	if logger == nil {
		logger = log.Default()
	}

	if cfg.OpenAIAPIKey == "" {
		logger.Printf("warning: OPENAI_API_KEY not set, embedding and completion calls will fail")
		return unconfiguredProvider{}
	}

	return NewOpenAIProvider(cfg)
}

type unconfiguredProvider struct{}

func (unconfiguredProvider) Embed(context.Context, []string) ([][]float32, error) {
	return nil, kberr.New(kberr.KindConfig, "inference provider not configured: OPENAI_API_KEY is missing")
}

func (unconfiguredProvider) Complete(context.Context, []Message, CompleteOptions) (string, error) {
	return "", kberr.New(kberr.KindConfig, "inference provider not configured: OPENAI_API_KEY is missing")
}

var _ Provider = unconfiguredProvider{}
