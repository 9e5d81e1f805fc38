package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the service
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Search    SearchConfig    `mapstructure:"search"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Storage   StorageConfig   `mapstructure:"storage"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Debug    bool   `mapstructure:"debug"`
	LogLevel string `mapstructure:"log_level"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Address        string   `mapstructure:"address"`
	JWTSecret      string   `mapstructure:"jwt_secret"`
	MaxInputLength int      `mapstructure:"max_input_length"`
	AllowOrigins   []string `mapstructure:"allow_origins"`
}

func (s ServerConfig) Validate() error {
	if s.MaxInputLength <= 0 {
		return fmt.Errorf("server.max_input_length must be greater than zero")
	}
	return nil
}

// AuthConfig contains token validation and on-behalf-of exchange settings.
// The exchange fields are only required when a search mode delegates the
// caller's identity downstream.
type AuthConfig struct {
	TokenURL     string        `mapstructure:"token_url"`
	ClientID     string        `mapstructure:"client_id"`
	ClientSecret string        `mapstructure:"client_secret"`
	Scope        string        `mapstructure:"scope"`
	Audience     string        `mapstructure:"audience"`
	Issuer       string        `mapstructure:"issuer"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

// RateLimitConfig contains per-user admission settings
type RateLimitConfig struct {
	MaxRequests int           `mapstructure:"max_requests"`
	Window      time.Duration `mapstructure:"window"`
}

func (r RateLimitConfig) Validate() error {
	if r.MaxRequests < 0 {
		return fmt.Errorf("ratelimit.max_requests cannot be negative")
	}
	if r.Window <= 0 {
		return fmt.Errorf("ratelimit.window must be positive")
	}
	return nil
}

// SearchConfig selects and configures the retrieval backend
type SearchConfig struct {
	Mode          string              `mapstructure:"mode"`
	Top           int                 `mapstructure:"top"`
	DirectIndex   DirectIndexConfig   `mapstructure:"directindex"`
	KnowledgeBase KnowledgeBaseConfig `mapstructure:"knowledgebase"`
}

func (s SearchConfig) Validate() error {
	if s.Top <= 0 {
		return fmt.Errorf("search.top must be greater than zero")
	}
	switch s.Mode {
	case "directindex":
		if strings.TrimSpace(s.DirectIndex.Endpoint) == "" {
			return fmt.Errorf("search.directindex.endpoint required for search.mode %q", s.Mode)
		}
		if strings.TrimSpace(s.DirectIndex.IndexName) == "" {
			return fmt.Errorf("search.directindex.index_name required for search.mode %q", s.Mode)
		}
	case "kbremote", "kbindexed":
		if strings.TrimSpace(s.KnowledgeBase.Endpoint) == "" {
			return fmt.Errorf("search.knowledgebase.endpoint required for search.mode %q", s.Mode)
		}
		if strings.TrimSpace(s.KnowledgeBase.Name) == "" {
			return fmt.Errorf("search.knowledgebase.name required for search.mode %q", s.Mode)
		}
	default:
		return fmt.Errorf("search.mode must be one of directindex, kbremote, kbindexed; got %q", s.Mode)
	}
	return nil
}

// DirectIndexConfig contains settings for querying a search index directly
type DirectIndexConfig struct {
	Endpoint              string        `mapstructure:"endpoint"`
	IndexName             string        `mapstructure:"index_name"`
	APIKey                string        `mapstructure:"api_key"`
	APIVersion            string        `mapstructure:"api_version"`
	SemanticRanking       bool          `mapstructure:"semantic_ranking"`
	SemanticConfiguration string        `mapstructure:"semantic_configuration"`
	VectorField           string        `mapstructure:"vector_field"`
	Timeout               time.Duration `mapstructure:"timeout"`
	EmbedTimeout          time.Duration `mapstructure:"embed_timeout"`
}

// KnowledgeBaseConfig contains settings for the managed retrieve endpoint
type KnowledgeBaseConfig struct {
	Endpoint   string        `mapstructure:"endpoint"`
	APIVersion string        `mapstructure:"api_version"`
	Name       string        `mapstructure:"name"`
	SourceName string        `mapstructure:"source_name"`
	APIKey     string        `mapstructure:"api_key"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// LLMConfig contains LLM provider settings
type LLMConfig struct {
	Provider          string        `mapstructure:"provider"`
	APIKey            string        `mapstructure:"api_key"`
	BaseURL           string        `mapstructure:"base_url"`
	CompletionModel   string        `mapstructure:"completion_model"`
	EmbeddingModel    string        `mapstructure:"embedding_model"`
	Temperature       float64       `mapstructure:"temperature"`
	MaxTokens         int           `mapstructure:"max_tokens"`
	Timeout           time.Duration `mapstructure:"timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
}

func (l LLMConfig) Validate() error {
	if strings.TrimSpace(l.Provider) == "" {
		return fmt.Errorf("llm.provider is required")
	}
	if l.Temperature < 0 || l.Temperature > 2 {
		return fmt.Errorf("llm.temperature must be between 0 and 2")
	}
	if l.RequestsPerSecond < 0 {
		return fmt.Errorf("llm.requests_per_second cannot be negative")
	}
	return nil
}

// StorageConfig contains storage and persistence settings
type StorageConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// PostgresConfig contains Postgres connection settings
type PostgresConfig struct {
	URL      string `mapstructure:"url"`
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

func (p PostgresConfig) Validate() error {
	if strings.TrimSpace(p.URL) != "" {
		return nil
	}
	if strings.TrimSpace(p.Host) == "" {
		return fmt.Errorf("storage.postgres.host required when url is not provided")
	}
	if strings.TrimSpace(p.Port) == "" {
		return fmt.Errorf("storage.postgres.port required when url is not provided")
	}
	if strings.TrimSpace(p.DBName) == "" {
		return fmt.Errorf("storage.postgres.dbname required when url is not provided")
	}
	return nil
}

// LoadConfig loads config from file and environment. When path is empty the
// usual directories are searched and a missing file is not an error, so a
// container can run on DOCSER_* variables alone.
func LoadConfig(path string) (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("json")
	viper.SetDefault("general.log_level", "info")
	viper.SetDefault("server.address", ":8080")
	viper.SetDefault("server.max_input_length", 4000)
	viper.SetDefault("server.allow_origins", []string{"*"})
	viper.SetDefault("auth.timeout", "10s")
	viper.SetDefault("ratelimit.max_requests", 20)
	viper.SetDefault("ratelimit.window", "1m")
	viper.SetDefault("search.mode", "kbremote")
	viper.SetDefault("search.top", 5)
	viper.SetDefault("search.directindex.api_version", "2024-07-01")
	viper.SetDefault("search.directindex.vector_field", "content_vector")
	viper.SetDefault("search.knowledgebase.api_version", "2025-05-01-preview")
	viper.SetDefault("llm.provider", "openai")
	viper.SetDefault("llm.completion_model", "gpt-4o")
	viper.SetDefault("llm.embedding_model", "text-embedding-ada-002")
	viper.SetDefault("llm.temperature", 0.2)
	viper.SetDefault("llm.max_tokens", 1000)
	viper.SetDefault("storage.postgres.host", "localhost")
	viper.SetDefault("storage.postgres.port", "5432")
	viper.SetDefault("storage.postgres.user", "docser")
	viper.SetDefault("storage.postgres.dbname", "docser")
	viper.SetDefault("storage.postgres.sslmode", "disable")

	if path == "" {
		viper.AddConfigPath("./config")
		viper.AddConfigPath(".")
		exe, _ := os.Executable()
		exeDir := filepath.Dir(exe)
		viper.AddConfigPath(exeDir)
		viper.AddConfigPath(filepath.Join(exeDir, ".."))
		viper.AddConfigPath(filepath.Join(exeDir, "..", "config"))
	} else {
		viper.SetConfigFile(path)
	}

	viper.SetEnvPrefix("DOCSER")
	replacer := strings.NewReplacer(".", "_")
	viper.SetEnvKeyReplacer(replacer)

	viper.AutomaticEnv() // read in environment variables that match (DOCSER_*)

	// Unmarshal only surfaces keys it already knows about, so every key is
	// bound explicitly for the file-less DOCSER_* deployment path.
	for _, key := range []string{
		"general.debug", "general.log_level",
		"server.address", "server.jwt_secret", "server.max_input_length", "server.allow_origins",
		"auth.token_url", "auth.client_id", "auth.client_secret",
		"auth.scope", "auth.audience", "auth.issuer", "auth.timeout",
		"ratelimit.max_requests", "ratelimit.window",
		"search.mode", "search.top",
		"search.directindex.endpoint", "search.directindex.index_name", "search.directindex.api_key",
		"search.directindex.api_version", "search.directindex.semantic_ranking",
		"search.directindex.semantic_configuration", "search.directindex.vector_field",
		"search.directindex.timeout", "search.directindex.embed_timeout",
		"search.knowledgebase.endpoint", "search.knowledgebase.api_version", "search.knowledgebase.name",
		"search.knowledgebase.source_name", "search.knowledgebase.api_key", "search.knowledgebase.timeout",
		"llm.provider", "llm.api_key", "llm.base_url", "llm.completion_model", "llm.embedding_model",
		"llm.temperature", "llm.max_tokens", "llm.timeout", "llm.requests_per_second", "llm.burst",
		"storage.postgres.url", "storage.postgres.host", "storage.postgres.port", "storage.postgres.user",
		"storage.postgres.password", "storage.postgres.dbname", "storage.postgres.sslmode",
	} {
		_ = viper.BindEnv(key)
	}

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := config.Server.Validate(); err != nil {
		return nil, err
	}
	if err := config.RateLimit.Validate(); err != nil {
		return nil, err
	}
	if err := config.Search.Validate(); err != nil {
		return nil, err
	}
	if err := config.LLM.Validate(); err != nil {
		return nil, err
	}
	if err := config.Storage.Postgres.Validate(); err != nil {
		return nil, err
	}
	if config.Search.Mode == "kbremote" && strings.TrimSpace(config.Auth.TokenURL) == "" {
		return nil, fmt.Errorf("auth.token_url required for search.mode %q", config.Search.Mode)
	}
	return &config, nil
}
