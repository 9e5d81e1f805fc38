package search

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/docser/docser/config"
	"github.com/docser/docser/models"
)

type fakeTokenProvider struct {
	token string
	err   error
	calls int
}

func (f *fakeTokenProvider) GetToken(ctx context.Context) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.token, nil
}

func kbConfig(endpoint string) config.KnowledgeBaseConfig {
	return config.KnowledgeBaseConfig{
		Endpoint:   endpoint,
		APIVersion: "2025-08-01",
		Name:       "corp-kb",
		SourceName: "corp-docs",
		APIKey:     "kb-admin-key",
		Timeout:    5 * time.Second,
	}
}

func TestKnowledgeBaseIndexedRequest(t *testing.T) {
	var gotAuth, gotKey string
	var gotBody kbRetrieveRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/knowledgebases/corp-kb/retrieve" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if v := r.URL.Query().Get("api-version"); v != "2025-08-01" {
			t.Errorf("api-version = %s", v)
		}
		gotAuth = r.Header.Get("Authorization")
		gotKey = r.Header.Get("api-key")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]any{"references": []map[string]any{}})
	}))
	defer srv.Close()

	backend := NewKnowledgeBase(kbConfig(srv.URL), ModeKBIndexed, nil, zap.NewNop())
	if _, err := backend.Search(context.Background(), "vacation days", models.Principal{UserID: "u1"}, 5); err != nil {
		t.Fatalf("search: %v", err)
	}

	if gotKey != "kb-admin-key" {
		t.Errorf("api-key header = %q", gotKey)
	}
	if gotAuth != "" {
		t.Errorf("indexed mode must not send Authorization, got %q", gotAuth)
	}
	if len(gotBody.Messages) != 1 || len(gotBody.Messages[0].Content) != 1 {
		t.Fatalf("messages = %+v", gotBody.Messages)
	}
	msg := gotBody.Messages[0]
	if msg.Role != "user" || msg.Content[0].Type != "text" || msg.Content[0].Text != "vacation days" {
		t.Errorf("message = %+v", msg)
	}
	if len(gotBody.KnowledgeSourceParams) != 1 {
		t.Fatalf("source params = %+v", gotBody.KnowledgeSourceParams)
	}
	sp := gotBody.KnowledgeSourceParams[0]
	if sp.KnowledgeSourceName != "corp-docs" || sp.Kind != "indexedSource" {
		t.Errorf("source params = %+v", sp)
	}
	if !sp.IncludeReferences || !sp.IncludeReferenceSourceData {
		t.Errorf("reference flags = %+v", sp)
	}
}

func TestKnowledgeBaseRemoteUsesDelegatedToken(t *testing.T) {
	var gotAuth, gotKind string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		var body kbRetrieveRequest
		json.NewDecoder(r.Body).Decode(&body)
		if len(body.KnowledgeSourceParams) == 1 {
			gotKind = body.KnowledgeSourceParams[0].Kind
		}
		json.NewEncoder(w).Encode(map[string]any{"references": []map[string]any{}})
	}))
	defer srv.Close()

	tokens := &fakeTokenProvider{token: "delegated-token"}
	backend := NewKnowledgeBase(kbConfig(srv.URL), ModeKBRemote, tokens, zap.NewNop())

	principal := models.Principal{UserID: "u1"}
	if _, err := backend.Search(context.Background(), "q", principal, 5); err != nil {
		t.Fatalf("search: %v", err)
	}
	if gotAuth != "Bearer delegated-token" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotKind != "remoteSource" {
		t.Errorf("kind = %q", gotKind)
	}

	// A second search must fetch a fresh token, never reuse the first.
	if _, err := backend.Search(context.Background(), "q2", principal, 5); err != nil {
		t.Fatalf("second search: %v", err)
	}
	if tokens.calls != 2 {
		t.Errorf("token provider calls = %d, want 2", tokens.calls)
	}
}

func TestKnowledgeBaseRemoteTokenFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("retrieve must not be called when token acquisition fails")
	}))
	defer srv.Close()

	tokens := &fakeTokenProvider{err: errors.New("exchange rejected")}
	backend := NewKnowledgeBase(kbConfig(srv.URL), ModeKBRemote, tokens, zap.NewNop())
	if _, err := backend.Search(context.Background(), "q", models.Principal{UserID: "u1"}, 5); err == nil {
		t.Fatal("expected token acquisition error")
	}
}

func TestKnowledgeBaseMapsReferences(t *testing.T) {
	start := time.Now().UTC()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			// The synthesised answer must be ignored, not surfaced as a chunk.
			"response": []map[string]any{{"content": []map[string]any{{"type": "text", "text": "ignore me"}}}},
			"activity": []map[string]any{{"type": "searchIndex"}},
			"references": []map[string]any{
				{
					"chunkId":       "r1",
					"title":         "HR Policy",
					"rerankerScore": 3.5,
					"score":         1.0,
					"lastModified":  "2025-03-04T05:06:07Z",
					"sourceData": map[string]any{
						"snippet":  "policy text",
						"doc_url":  "https://corp.example.com/hr/policy.pdf",
						"fileType": "PDF",
					},
				},
				{
					// No id anywhere, but a URL makes it citable.
					"score": 2.0,
					"sourceData": map[string]any{
						"content": "travel rules",
						"webUrl":  "https://corp.example.com/hr/Travel_Expense_Policy.pdf",
					},
				},
				{
					// Neither id nor URL: dropped.
					"score":      9.0,
					"sourceData": map[string]any{"snippet": "orphan"},
				},
				{
					"id":    "r3",
					"score": -2.0,
					"sourceData": map[string]any{
						"title":   "Old Memo",
						"snippet": "memo text",
					},
				},
			},
		})
	}))
	defer srv.Close()

	backend := NewKnowledgeBase(kbConfig(srv.URL), ModeKBIndexed, nil, zap.NewNop())
	chunks, err := backend.Search(context.Background(), "q", models.Principal{UserID: "u1"}, 5)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}

	first := chunks[0]
	if first.ChunkID != "r1" || first.DocumentTitle != "HR Policy" || first.Content != "policy text" {
		t.Fatalf("first chunk = %+v", first)
	}
	if first.RelevanceScore != 3.5 {
		t.Errorf("reranker score must win, got %v", first.RelevanceScore)
	}
	if first.FileType != "pdf" {
		t.Errorf("file type = %q", first.FileType)
	}
	if !first.LastModified.Equal(time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC)) {
		t.Errorf("last modified = %v", first.LastModified)
	}

	second := chunks[1]
	if second.ChunkID != "" {
		t.Errorf("url-only reference keeps an empty chunk id, got %q", second.ChunkID)
	}
	if second.DocumentTitle != "Travel Expense Policy" {
		t.Errorf("derived title = %q", second.DocumentTitle)
	}
	if second.FileType != "pdf" {
		t.Errorf("file type from url = %q", second.FileType)
	}
	if second.Content != "travel rules" {
		t.Errorf("content = %q", second.Content)
	}
	if second.LastModified.Before(start) {
		t.Errorf("missing timestamp should default to now, got %v", second.LastModified)
	}

	third := chunks[2]
	if third.ChunkID != "r3" || third.DocumentTitle != "Old Memo" {
		t.Fatalf("third chunk = %+v", third)
	}
	if third.RelevanceScore != 0 {
		t.Errorf("negative score must clamp to zero, got %v", third.RelevanceScore)
	}
	if third.FileType != "unknown" {
		t.Errorf("file type = %q", third.FileType)
	}
}

func TestKnowledgeBaseTruncatesToTop(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		refs := make([]map[string]any, 0, 7)
		for i, score := range []float64{0.3, 2.1, 1.4, 3.0, 0.9, 2.8, 1.1} {
			refs = append(refs, map[string]any{
				"id": string(rune('a' + i)), "score": score,
				"sourceData": map[string]any{"snippet": "body"},
			})
		}
		json.NewEncoder(w).Encode(map[string]any{"references": refs})
	}))
	defer srv.Close()

	backend := NewKnowledgeBase(kbConfig(srv.URL), ModeKBIndexed, nil, zap.NewNop())
	chunks, err := backend.Search(context.Background(), "q", models.Principal{UserID: "u1"}, 5)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(chunks) != 5 {
		t.Fatalf("expected 5 chunks, got %d", len(chunks))
	}
	want := []string{"d", "f", "b", "c", "g"}
	for i, id := range want {
		if chunks[i].ChunkID != id {
			t.Fatalf("chunk %d = %s, want %s", i, chunks[i].ChunkID, id)
		}
	}
}

func TestKnowledgeBaseServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream unavailable", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	backend := NewKnowledgeBase(kbConfig(srv.URL), ModeKBIndexed, nil, zap.NewNop())
	if _, err := backend.Search(context.Background(), "q", models.Principal{UserID: "u1"}, 5); err == nil {
		t.Fatal("expected error for non-2xx response")
	}
}
