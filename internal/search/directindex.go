package search

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/docser/docser/config"
	"github.com/docser/docser/models"
)

// DirectIndex searches a document index over HTTPS with hybrid queries:
// lexical text plus a vector the backend computes by embedding the query.
// Access control is trimmed inside the query itself through an OData filter
// over the chunk ACL fields, never by post-filtering results.
type DirectIndex struct {
	endpoint              string
	indexName             string
	apiKey                string
	apiVersion            string
	semanticRanking       bool
	semanticConfiguration string
	vectorField           string
	embedTimeout          time.Duration

	embedder Embedder
	http     *httpClient
	logger   *zap.Logger
}

func NewDirectIndex(cfg config.DirectIndexConfig, embedder Embedder, logger *zap.Logger) *DirectIndex {
	embedTimeout := cfg.EmbedTimeout
	if embedTimeout == 0 {
		embedTimeout = 10 * time.Second
	}
	return &DirectIndex{
		endpoint:              strings.TrimRight(cfg.Endpoint, "/"),
		indexName:             cfg.IndexName,
		apiKey:                cfg.APIKey,
		apiVersion:            cfg.APIVersion,
		semanticRanking:       cfg.SemanticRanking,
		semanticConfiguration: cfg.SemanticConfiguration,
		vectorField:           cfg.VectorField,
		embedTimeout:          embedTimeout,
		embedder:              embedder,
		http:                  newHTTPClient(cfg.Timeout),
		logger:                logger,
	}
}

func (s *DirectIndex) Search(ctx context.Context, query string, principal models.Principal, top int) ([]models.DocumentChunk, error) {
	body := map[string]any{
		"search": query,
		"filter": buildSecurityFilter(principal),
		"top":    top,
	}
	if s.semanticRanking {
		body["queryType"] = "semantic"
		body["semanticConfiguration"] = s.semanticConfiguration
	}

	// Embedding runs under its own timeout. Failure degrades the query to
	// keyword-only; it never fails the search.
	if s.embedder != nil {
		ectx, cancel := context.WithTimeout(ctx, s.embedTimeout)
		vecs, err := s.embedder.CreateEmbedding(ectx, []string{query})
		cancel()
		if err != nil || len(vecs) == 0 {
			s.logger.Warn("failed to generate query embedding, falling back to keyword search",
				zap.Error(err))
		} else {
			body["vectorQueries"] = []map[string]any{{
				"kind":   "vector",
				"vector": vecs[0],
				"k":      top,
				"fields": s.vectorField,
			}}
		}
	}

	s.logger.Info("searching documents",
		zap.String("user_id", principal.UserID),
		zap.Int("query_length", len(query)))

	url := fmt.Sprintf("%s/indexes/%s/docs/search?api-version=%s", s.endpoint, s.indexName, s.apiVersion)
	var raw struct {
		Value []struct {
			ID            string   `json:"id"`
			Title         string   `json:"title"`
			Content       string   `json:"content"`
			SourceURL     string   `json:"source_url"`
			FileType      string   `json:"file_type"`
			LastModified  string   `json:"last_modified"`
			Score         float64  `json:"@search.score"`
			RerankerScore *float64 `json:"@search.rerankerScore"`
		} `json:"value"`
	}
	if err := s.http.doJSON(ctx, http.MethodPost, url, map[string]string{"api-key": s.apiKey}, body, &raw); err != nil {
		return nil, fmt.Errorf("direct index search: %w", err)
	}

	chunks := make([]models.DocumentChunk, 0, len(raw.Value))
	for _, hit := range raw.Value {
		if hit.ID == "" {
			s.logger.Warn("skipping malformed search result without id")
			continue
		}
		title := hit.Title
		if title == "" {
			title = titleFromURL(hit.SourceURL)
		}
		if title == "" {
			title = "Untitled"
		}
		fileType := strings.ToLower(hit.FileType)
		if fileType == "" {
			fileType = "unknown"
		}
		lastModified, ok := parseTimestamp(hit.LastModified)
		if !ok {
			lastModified = time.Now().UTC()
		}
		score := hit.Score
		if hit.RerankerScore != nil {
			score = *hit.RerankerScore
		}
		if score < 0 {
			score = 0
		}
		chunks = append(chunks, models.DocumentChunk{
			ChunkID:        hit.ID,
			DocumentTitle:  title,
			Content:        hit.Content,
			SourceURL:      hit.SourceURL,
			FileType:       fileType,
			LastModified:   lastModified,
			RelevanceScore: score,
		})
	}
	return rankAndLimit(chunks, top), nil
}

// buildSecurityFilter assembles the ACL trim for one principal: the user
// clause first, then one clause per group, OR-joined.
func buildSecurityFilter(p models.Principal) string {
	parts := make([]string, 0, len(p.GroupIDs)+1)
	parts = append(parts, fmt.Sprintf("UserIds/any(u: u eq '%s')", escapeODataString(p.UserID)))
	for _, gid := range p.GroupIDs {
		parts = append(parts, fmt.Sprintf("GroupIds/any(g: g eq '%s')", escapeODataString(gid)))
	}
	return strings.Join(parts, " or ")
}

// escapeODataString doubles single quotes per OData string literal rules.
func escapeODataString(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}
