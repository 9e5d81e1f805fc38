package provider

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/docser/docser/config"
	"github.com/docser/docser/models"
	openai_provider "github.com/docser/docser/provider/openai"
)

// Client represents different LLM providers
type Client string

const (
	OpenAI    Client = "openai"
	Anthropic Client = "anthropic"
	Gemini    Client = "gemini"
)

// Provider is the interface that all LLM implementations must satisfy
type Provider interface {
	// ChatCompletion runs the completion model over the conversation and
	// returns the assistant reply. The first message may carry the system
	// role; implementations preserve message order on the wire.
	ChatCompletion(ctx context.Context, messages []models.Message) (string, error)

	// GenerateTitle produces a short title for the opening exchange of a
	// conversation. It runs with its own low token budget and temperature.
	GenerateTitle(ctx context.Context, userMessage, assistantMessage string) (string, error)

	CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error)
}

// NewProvider creates a new LLM client based on the provided configuration
func NewProvider(cfg config.LLMConfig, logger *zap.Logger) (Provider, error) {
	switch Client(cfg.Provider) {
	case OpenAI:
		if cfg.APIKey == "" {
			return nil, errors.New("llm api key not set")
		}
		return openai_provider.NewClient(cfg, logger), nil
	case Anthropic:
		return nil, errors.New("anthropic client not implemented yet")
	case Gemini:
		return nil, errors.New("gemini client not implemented yet")
	default:
		return nil, errors.New("unsupported LLM provider")
	}
}
