package openai_provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/docser/docser/config"
	"github.com/docser/docser/models"
)

func testConfig(baseURL string) config.LLMConfig {
	return config.LLMConfig{
		Provider:        "openai",
		APIKey:          "test-key",
		BaseURL:         baseURL,
		CompletionModel: "gpt-test",
		EmbeddingModel:  "embed-test",
		Temperature:     0.2,
		MaxTokens:       800,
		Timeout:         5 * time.Second,
	}
}

func completionResponse(content string) map[string]any {
	return map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{"content": content}},
		},
	}
}

func TestChatCompletion(t *testing.T) {
	var gotAuth string
	var gotBody request

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(completionResponse("the answer"))
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL), zap.NewNop())
	got, err := c.ChatCompletion(context.Background(), []models.Message{
		{Role: models.RoleSystem, Content: "be helpful"},
		{Role: models.RoleUser, Content: "what is the policy"},
	})
	if err != nil {
		t.Fatalf("chat completion: %v", err)
	}
	if got != "the answer" {
		t.Fatalf("content = %q", got)
	}

	if gotAuth != "Bearer test-key" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotBody.Model != "gpt-test" || gotBody.Temperature != 0.2 || gotBody.MaxTokens != 800 {
		t.Errorf("request = %+v", gotBody)
	}
	if len(gotBody.Messages) != 2 || gotBody.Messages[0].Role != "system" || gotBody.Messages[1].Content != "what is the policy" {
		t.Errorf("messages = %+v", gotBody.Messages)
	}
}

func TestChatCompletionAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"rate limited"}}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL), zap.NewNop())
	if _, err := c.ChatCompletion(context.Background(), []models.Message{{Role: "user", Content: "q"}}); err == nil {
		t.Fatal("expected error for non-200 response")
	}
}

func TestChatCompletionNoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"choices": []any{}})
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL), zap.NewNop())
	if _, err := c.ChatCompletion(context.Background(), []models.Message{{Role: "user", Content: "q"}}); err == nil {
		t.Fatal("expected error for empty choices")
	}
}

func TestGenerateTitle(t *testing.T) {
	var gotBody request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotBody)
		json.NewEncoder(w).Encode(completionResponse(`  "Expense Policy Questions"  `))
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL), zap.NewNop())
	title, err := c.GenerateTitle(context.Background(), "how do expenses work", "expenses are filed monthly")
	if err != nil {
		t.Fatalf("generate title: %v", err)
	}
	if title != "Expense Policy Questions" {
		t.Fatalf("title = %q", title)
	}

	// Title generation overrides the configured sampling parameters.
	if gotBody.Temperature != 0.3 || gotBody.MaxTokens != 30 {
		t.Errorf("title request params = %+v", gotBody)
	}
	if len(gotBody.Messages) != 1 || !strings.Contains(gotBody.Messages[0].Content, "Generate a short, descriptive title") {
		t.Errorf("title prompt = %+v", gotBody.Messages)
	}
}

func TestGenerateTitleTruncatesInputs(t *testing.T) {
	var gotBody request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotBody)
		json.NewEncoder(w).Encode(completionResponse("Long Conversation"))
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL), zap.NewNop())
	user := strings.Repeat("a", 500) + "OVERFLOW"
	if _, err := c.GenerateTitle(context.Background(), user, "short reply"); err != nil {
		t.Fatalf("generate title: %v", err)
	}
	if strings.Contains(gotBody.Messages[0].Content, "OVERFLOW") {
		t.Fatal("prompt must truncate the user message to 500 characters")
	}
}

func TestGenerateTitleEmptyResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(completionResponse("  \"\"  "))
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL), zap.NewNop())
	if _, err := c.GenerateTitle(context.Background(), "q", "a"); err == nil {
		t.Fatal("expected error for empty title")
	}
}

func TestCreateEmbedding(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		if body["model"] != "embed-test" {
			t.Errorf("model = %v", body["model"])
		}
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{
				{"object": "embedding", "embedding": []float32{0.1, 0.2}, "index": 0},
			},
		})
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL), zap.NewNop())
	vecs, err := c.CreateEmbedding(context.Background(), []string{"hello"})
	if err != nil {
		t.Fatalf("create embedding: %v", err)
	}
	if len(vecs) != 1 || len(vecs[0]) != 2 || vecs[0][0] != 0.1 {
		t.Fatalf("vectors = %v", vecs)
	}
}

func TestCreateEmbeddingEmptyInput(t *testing.T) {
	c := NewClient(testConfig("http://unreachable.invalid"), zap.NewNop())
	vecs, err := c.CreateEmbedding(context.Background(), nil)
	if err != nil {
		t.Fatalf("empty input must not error: %v", err)
	}
	if vecs != nil {
		t.Fatalf("vectors = %v", vecs)
	}
}
