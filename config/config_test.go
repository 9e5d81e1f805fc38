package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
)

// LoadConfig reads through the package-level viper instance, so each test
// starts from a clean slate.
func resetViper(t *testing.T) {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)
}

func writeConfigFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	return path
}

const minimalKBConfig = `{
  "auth": {"token_url": "https://login.example.com/token"},
  "search": {
    "knowledgebase": {"endpoint": "https://kb.example.com", "name": "docs-kb", "source_name": "docs"}
  }
}`

func TestLoadConfigAppliesDefaults(t *testing.T) {
	resetViper(t)
	cfg, err := LoadConfig(writeConfigFile(t, minimalKBConfig))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Address != ":8080" {
		t.Errorf("server.address = %q", cfg.Server.Address)
	}
	if cfg.Server.MaxInputLength != 4000 {
		t.Errorf("server.max_input_length = %d", cfg.Server.MaxInputLength)
	}
	if len(cfg.Server.AllowOrigins) != 1 || cfg.Server.AllowOrigins[0] != "*" {
		t.Errorf("server.allow_origins = %v", cfg.Server.AllowOrigins)
	}
	if cfg.RateLimit.MaxRequests != 20 || cfg.RateLimit.Window != time.Minute {
		t.Errorf("ratelimit = %d per %s", cfg.RateLimit.MaxRequests, cfg.RateLimit.Window)
	}
	if cfg.Search.Mode != "kbremote" || cfg.Search.Top != 5 {
		t.Errorf("search = mode %q top %d", cfg.Search.Mode, cfg.Search.Top)
	}
	if cfg.LLM.CompletionModel != "gpt-4o" || cfg.LLM.EmbeddingModel != "text-embedding-ada-002" {
		t.Errorf("llm models = %q / %q", cfg.LLM.CompletionModel, cfg.LLM.EmbeddingModel)
	}
	if cfg.LLM.Temperature != 0.2 {
		t.Errorf("llm.temperature = %v", cfg.LLM.Temperature)
	}
	if cfg.Storage.Postgres.Host != "localhost" || cfg.Storage.Postgres.Port != "5432" {
		t.Errorf("postgres = %s:%s", cfg.Storage.Postgres.Host, cfg.Storage.Postgres.Port)
	}
	if cfg.Auth.Timeout != 10*time.Second {
		t.Errorf("auth.timeout = %s", cfg.Auth.Timeout)
	}
}

func TestLoadConfigReadsFileValues(t *testing.T) {
	resetViper(t)
	path := writeConfigFile(t, `{
  "general": {"debug": true, "log_level": "debug"},
  "server": {"address": ":9090", "jwt_secret": "s3cret", "allow_origins": ["https://app.example.com"]},
  "ratelimit": {"max_requests": 5, "window": "90s"},
  "search": {
    "mode": "directindex",
    "top": 3,
    "directindex": {
      "endpoint": "https://search.example.com",
      "index_name": "documents",
      "semantic_ranking": true,
      "semantic_configuration": "default",
      "timeout": "15s"
    }
  },
  "llm": {"api_key": "key", "base_url": "https://llm.example.com", "max_tokens": 512},
  "storage": {"postgres": {"url": "postgres://app:pw@db:5432/docser?sslmode=disable"}}
}`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !cfg.General.Debug || cfg.General.LogLevel != "debug" {
		t.Errorf("general = %+v", cfg.General)
	}
	if cfg.Server.Address != ":9090" || cfg.Server.JWTSecret != "s3cret" {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.RateLimit.MaxRequests != 5 || cfg.RateLimit.Window != 90*time.Second {
		t.Errorf("ratelimit = %d per %s", cfg.RateLimit.MaxRequests, cfg.RateLimit.Window)
	}
	if cfg.Search.Mode != "directindex" || cfg.Search.Top != 3 {
		t.Errorf("search = %+v", cfg.Search)
	}
	if !cfg.Search.DirectIndex.SemanticRanking || cfg.Search.DirectIndex.Timeout != 15*time.Second {
		t.Errorf("directindex = %+v", cfg.Search.DirectIndex)
	}
	if cfg.Search.DirectIndex.VectorField != "content_vector" {
		t.Errorf("vector_field default lost: %q", cfg.Search.DirectIndex.VectorField)
	}
	if cfg.LLM.MaxTokens != 512 {
		t.Errorf("llm.max_tokens = %d", cfg.LLM.MaxTokens)
	}
	if cfg.Storage.Postgres.URL == "" {
		t.Error("postgres url not read")
	}
}

func TestLoadConfigEnvOverridesFile(t *testing.T) {
	resetViper(t)
	t.Setenv("DOCSER_RATELIMIT_MAX_REQUESTS", "9")
	t.Setenv("DOCSER_SERVER_JWT_SECRET", "from-env")
	t.Setenv("DOCSER_LLM_API_KEY", "env-key")

	cfg, err := LoadConfig(writeConfigFile(t, minimalKBConfig))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.RateLimit.MaxRequests != 9 {
		t.Errorf("ratelimit.max_requests = %d, want env override 9", cfg.RateLimit.MaxRequests)
	}
	if cfg.Server.JWTSecret != "from-env" {
		t.Errorf("server.jwt_secret = %q", cfg.Server.JWTSecret)
	}
	if cfg.LLM.APIKey != "env-key" {
		t.Errorf("llm.api_key = %q", cfg.LLM.APIKey)
	}
}

func TestLoadConfigValidation(t *testing.T) {
	cases := []struct {
		name     string
		contents string
		wantErr  string
	}{
		{
			name:     "unknown search mode",
			contents: `{"search": {"mode": "bogus"}}`,
			wantErr:  "search.mode",
		},
		{
			name:     "directindex without endpoint",
			contents: `{"search": {"mode": "directindex"}}`,
			wantErr:  "search.directindex.endpoint",
		},
		{
			name:     "kbremote without token url",
			contents: `{"search": {"knowledgebase": {"endpoint": "https://kb.example.com", "name": "docs-kb"}}}`,
			wantErr:  "auth.token_url",
		},
		{
			name: "negative rate limit",
			contents: `{"auth": {"token_url": "https://login.example.com/token"},
				"ratelimit": {"max_requests": -1},
				"search": {"knowledgebase": {"endpoint": "https://kb.example.com", "name": "docs-kb"}}}`,
			wantErr: "ratelimit.max_requests",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resetViper(t)
			_, err := LoadConfig(writeConfigFile(t, tc.contents))
			if err == nil {
				t.Fatalf("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("error %q does not mention %q", err, tc.wantErr)
			}
		})
	}
}

func TestPostgresValidate(t *testing.T) {
	cfg := PostgresConfig{URL: "postgres://app:pw@db:5432/docser"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}

	bad := PostgresConfig{Host: "db", Port: "5432"}
	if err := bad.Validate(); err == nil {
		t.Fatal("expected validation error for missing dbname")
	}
}
