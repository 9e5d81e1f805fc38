// Package search provides the document retrieval layer: one Backend contract
// and a closed set of interchangeable implementations selected by
// configuration. Every backend returns the canonical chunk shape, enforces
// access control inside its own query, and never retries on failure.
package search

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/docser/docser/config"
	"github.com/docser/docser/models"
)

// Mode identifies a retrieval backend implementation.
type Mode string

const (
	// ModeDirectIndex queries a search index directly with hybrid queries
	// and a client-built ACL filter.
	ModeDirectIndex Mode = "directindex"
	// ModeKBRemote uses the knowledge-base retrieve API with a delegated
	// per-request user token; ACLs are enforced server-side.
	ModeKBRemote Mode = "kbremote"
	// ModeKBIndexed uses the knowledge-base retrieve API with a static
	// admin api-key.
	ModeKBIndexed Mode = "kbindexed"
)

// Backend retrieves document chunks relevant to a query, scoped to what the
// principal may see. Implementations return at most top chunks sorted by
// non-increasing relevance score; zero results is a successful outcome.
// Backends hold no per-request state and are safe for concurrent use.
type Backend interface {
	Search(ctx context.Context, query string, principal models.Principal, top int) ([]models.DocumentChunk, error)
}

// Embedder turns texts into vectors for hybrid queries.
type Embedder interface {
	CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error)
}

// TokenProvider supplies a bearer token carrying the caller's delegated
// identity. Backends call it once per search and never cache the result.
type TokenProvider interface {
	GetToken(ctx context.Context) (string, error)
}

var ErrUnsupportedMode = errors.New("unsupported search mode")

// New builds the backend selected by cfg.Mode. An unknown mode is a startup
// error, not a runtime fallback.
func New(cfg config.SearchConfig, embedder Embedder, tokens TokenProvider, logger *zap.Logger) (Backend, error) {
	switch Mode(cfg.Mode) {
	case ModeDirectIndex:
		return NewDirectIndex(cfg.DirectIndex, embedder, logger), nil
	case ModeKBRemote:
		if tokens == nil {
			return nil, errors.New("kbremote search mode requires a token provider")
		}
		return NewKnowledgeBase(cfg.KnowledgeBase, ModeKBRemote, tokens, logger), nil
	case ModeKBIndexed:
		return NewKnowledgeBase(cfg.KnowledgeBase, ModeKBIndexed, nil, logger), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedMode, cfg.Mode)
	}
}
