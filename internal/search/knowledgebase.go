package search

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/docser/docser/config"
	"github.com/docser/docser/models"
)

// Knowledge-source kinds on the retrieve wire. The kind discriminator and
// the auth header are the only differences between the two modes.
const (
	kindRemoteSource  = "remoteSource"
	kindIndexedSource = "indexedSource"
)

// KnowledgeBase retrieves chunks through a managed knowledge-base endpoint.
// One code path serves both modes: kbindexed authenticates with a static
// admin api-key, kbremote exchanges the caller's identity for a delegated
// token on every call so the endpoint can enforce per-user ACLs itself.
type KnowledgeBase struct {
	endpoint   string
	apiVersion string
	name       string
	sourceName string
	apiKey     string
	kind       string

	tokens TokenProvider
	http   *httpClient
	logger *zap.Logger
}

func NewKnowledgeBase(cfg config.KnowledgeBaseConfig, mode Mode, tokens TokenProvider, logger *zap.Logger) *KnowledgeBase {
	kind := kindIndexedSource
	if mode == ModeKBRemote {
		kind = kindRemoteSource
	}
	return &KnowledgeBase{
		endpoint:   strings.TrimRight(cfg.Endpoint, "/"),
		apiVersion: cfg.APIVersion,
		name:       cfg.Name,
		sourceName: cfg.SourceName,
		apiKey:     cfg.APIKey,
		kind:       kind,
		tokens:     tokens,
		http:       newHTTPClient(cfg.Timeout),
		logger:     logger,
	}
}

type kbContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type kbMessage struct {
	Role    string      `json:"role"`
	Content []kbContent `json:"content"`
}

type kbSourceParams struct {
	KnowledgeSourceName        string `json:"knowledgeSourceName"`
	Kind                       string `json:"kind"`
	IncludeReferences          bool   `json:"includeReferences"`
	IncludeReferenceSourceData bool   `json:"includeReferenceSourceData"`
}

type kbRetrieveRequest struct {
	Messages              []kbMessage      `json:"messages"`
	KnowledgeSourceParams []kbSourceParams `json:"knowledgeSourceParams"`
}

func (s *KnowledgeBase) Search(ctx context.Context, query string, principal models.Principal, top int) ([]models.DocumentChunk, error) {
	url := fmt.Sprintf("%s/knowledgebases/%s/retrieve?api-version=%s", s.endpoint, s.name, s.apiVersion)
	body := kbRetrieveRequest{
		Messages: []kbMessage{{
			Role:    "user",
			Content: []kbContent{{Type: "text", Text: query}},
		}},
		KnowledgeSourceParams: []kbSourceParams{{
			KnowledgeSourceName:        s.sourceName,
			Kind:                       s.kind,
			IncludeReferences:          true,
			IncludeReferenceSourceData: true,
		}},
	}

	headers, err := s.buildHeaders(ctx)
	if err != nil {
		return nil, err
	}

	s.logger.Info("knowledge base retrieve",
		zap.String("user_id", principal.UserID),
		zap.String("kind", s.kind),
		zap.Int("query_length", len(query)))

	// The envelope also carries a synthesised "response" answer, which is
	// deliberately not decoded: the agent composes its own.
	var raw struct {
		References []map[string]any `json:"references"`
		Activity   []map[string]any `json:"activity"`
	}
	if err := s.http.doJSON(ctx, http.MethodPost, url, headers, body, &raw); err != nil {
		return nil, fmt.Errorf("knowledge base retrieve: %w", err)
	}
	if len(raw.Activity) > 0 {
		s.logger.Debug("knowledge base activity", zap.Int("events", len(raw.Activity)))
	}

	return rankAndLimit(s.mapReferences(raw.References), top), nil
}

func (s *KnowledgeBase) buildHeaders(ctx context.Context) (map[string]string, error) {
	if s.kind == kindIndexedSource {
		return map[string]string{"api-key": s.apiKey}, nil
	}
	if s.tokens != nil {
		token, err := s.tokens.GetToken(ctx)
		if err != nil {
			return nil, fmt.Errorf("acquire delegated search token: %w", err)
		}
		return map[string]string{"Authorization": "Bearer " + token}, nil
	}
	if s.apiKey != "" {
		return map[string]string{"api-key": s.apiKey}, nil
	}
	return nil, errors.New("no authentication configured for knowledge base retrieve")
}

// Candidate locations per canonical attribute, tried in order.
var (
	kbIDPaths       = []fieldPath{{"chunkId"}, {"id"}, {"sourceData", "uid"}}
	kbTitlePaths    = []fieldPath{{"title"}, {"sourceData", "title"}}
	kbContentPaths  = []fieldPath{{"sourceData", "snippet"}, {"sourceData", "content"}}
	kbURLPaths      = []fieldPath{{"sourceData", "doc_url"}, {"sourceData", "webUrl"}}
	kbScorePaths    = []fieldPath{{"rerankerScore"}, {"score"}}
	kbFileTypePaths = []fieldPath{{"sourceData", "fileType"}}
	kbModifiedPaths = []fieldPath{{"lastModified"}}
)

func (s *KnowledgeBase) mapReferences(refs []map[string]any) []models.DocumentChunk {
	chunks := make([]models.DocumentChunk, 0, len(refs))
	for _, item := range refs {
		id := stringAt(item, kbIDPaths...)
		url := stringAt(item, kbURLPaths...)
		// An item with neither an id nor a locator cannot be cited; drop it.
		if id == "" && url == "" {
			s.logger.Warn("skipping knowledge base reference without id or url")
			continue
		}

		title := stringAt(item, kbTitlePaths...)
		if title == "" && url != "" {
			title = titleFromURL(url)
		}
		if title == "" {
			title = "Untitled"
		}

		score, ok := numberAt(item, kbScorePaths...)
		if !ok || score < 0 {
			score = 0
		}

		fileType := strings.ToLower(stringAt(item, kbFileTypePaths...))
		if fileType == "" {
			fileType = "unknown"
		}
		if fileType == "unknown" && url != "" {
			fileType = fileTypeFromURL(url)
		}

		lastModified := time.Now().UTC()
		if rawTS := stringAt(item, kbModifiedPaths...); rawTS != "" {
			if ts, parsed := parseTimestamp(rawTS); parsed {
				lastModified = ts
			}
		}

		chunks = append(chunks, models.DocumentChunk{
			ChunkID:        id,
			DocumentTitle:  title,
			Content:        stringAt(item, kbContentPaths...),
			SourceURL:      url,
			FileType:       fileType,
			LastModified:   lastModified,
			RelevanceScore: score,
		})
	}
	return chunks
}
