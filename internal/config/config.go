// Package config provides layered configuration for kbai.
// Precedence, lowest to highest: built-in defaults → YAML file → .env file →
// process environment. Every layer is expressed as environment variables, so
// the factories in provider, embedder, rag and auth read one source.
//
// YAML search order:
//  1. --config CLI flag (explicit path)
//  2. KBAI_CONFIG environment variable
//  3. ~/.kbai/config.yaml
//  4. ./kbai.yaml
//
// The .env file is read from --env-file, or ./.env when present.
// If neither file is found the system runs entirely from env vars.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the top-level YAML configuration structure.
// Field names use yaml tags that mirror the env var naming (lowercase, underscored).
type Config struct {
	// Model configures the LLM chat model provider.
	Model ModelConfig `yaml:"model"`

	// Embedding configures the embedding provider.
	Embedding EmbeddingConfig `yaml:"embedding"`

	// Knowledge locates the knowledge database and its source corpus.
	Knowledge KnowledgeConfig `yaml:"knowledge"`

	// Retrieval tunes hybrid search and reranking.
	Retrieval RetrievalConfig `yaml:"retrieval"`

	// Qdrant configures the Qdrant vector store connection.
	Qdrant QdrantConfig `yaml:"qdrant"`

	// Agent bounds the tool-calling loop.
	Agent AgentConfig `yaml:"agent"`

	// Server configures the HTTP server.
	Server ServerConfig `yaml:"server"`

	// Auth configures JWT authentication.
	Auth AuthConfig `yaml:"auth"`

	// Logging configures structured logging.
	Logging LoggingConfig `yaml:"logging"`

	// History configures chat history persistence.
	History HistoryConfig `yaml:"history"`

	// Tracing configures Langfuse tracing integration.
	Tracing TracingConfig `yaml:"tracing"`
}

// ModelConfig holds LLM chat model settings.
type ModelConfig struct {
	// Provider selects the backend: ollama, openai, azure, bedrock, gemini.
	Provider string `yaml:"provider"`

	// MaxTokens is the maximum number of tokens in the response.
	MaxTokens int `yaml:"max_tokens"`

	// Temperature controls response randomness (0.0 to 1.0).
	Temperature float32 `yaml:"temperature"`

	Ollama  OllamaConfig  `yaml:"ollama"`
	OpenAI  OpenAIConfig  `yaml:"openai"`
	Azure   AzureConfig   `yaml:"azure"`
	Bedrock BedrockConfig `yaml:"bedrock"`
	Gemini  GeminiConfig  `yaml:"gemini"`
}

// OllamaConfig holds Ollama provider settings.
type OllamaConfig struct {
	Host  string `yaml:"host"`
	Model string `yaml:"model"`
}

// OpenAIConfig holds OpenAI provider settings.
type OpenAIConfig struct {
	// APIKey is the OpenAI API key. Prefer env var OPENAI_API_KEY.
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url"`
}

// AzureConfig holds Azure OpenAI provider settings.
type AzureConfig struct {
	// APIKey is the Azure OpenAI API key. Prefer env var AZURE_OPENAI_API_KEY.
	APIKey     string `yaml:"api_key"`
	Endpoint   string `yaml:"endpoint"`
	Deployment string `yaml:"deployment"`
	APIVersion string `yaml:"api_version"`
}

// BedrockConfig holds AWS Bedrock provider settings.
type BedrockConfig struct {
	Region  string `yaml:"region"`
	ModelID string `yaml:"model_id"`
	// BaseURL is the OpenAI-compatible Bedrock runtime endpoint.
	BaseURL string `yaml:"base_url"`
}

// GeminiConfig holds Google Gemini provider settings.
type GeminiConfig struct {
	// APIKey is the Google API key. Prefer env var GOOGLE_API_KEY.
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	// Provider selects the embedding backend (ollama, openai, azure, gemini).
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
	// Dimensions overrides the embedding vector size.
	Dimensions int `yaml:"dimensions"`
	// APIKey is the embedding API key. Prefer env var EMBEDDING_API_KEY.
	APIKey   string `yaml:"api_key"`
	Endpoint string `yaml:"endpoint"`
}

// KnowledgeConfig locates the knowledge base.
type KnowledgeConfig struct {
	// DBPath is the SQLite knowledge database (chunks, FTS, structured tables).
	DBPath string `yaml:"db_path"`
	// DocumentsDir holds one subdirectory of markdown per category.
	DocumentsDir string `yaml:"documents_dir"`
	// StructuredDir holds kpi_catalog.csv and directory.json.
	StructuredDir string `yaml:"structured_dir"`
}

// RetrievalConfig tunes hybrid search.
type RetrievalConfig struct {
	// VectorBackend selects the vector index: qdrant or sqlite.
	VectorBackend string         `yaml:"vector_backend"`
	VectorLimit   int            `yaml:"vector_limit"`
	BM25Limit     int            `yaml:"bm25_limit"`
	FinalLimit    int            `yaml:"final_limit"`
	RRFK          int            `yaml:"rrf_k"`
	Reranker      RerankerConfig `yaml:"reranker"`
}

// RerankerConfig holds cross-encoder reranker settings.
type RerankerConfig struct {
	Enabled bool `yaml:"enabled"`
	// APIKey is the reranker API key. Prefer env var RERANKER_API_KEY.
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
	TopN     int    `yaml:"top_n"`
	Endpoint string `yaml:"endpoint"`
	// Timeout is a Go duration string, e.g. "10s".
	Timeout string `yaml:"timeout"`
}

// QdrantConfig holds Qdrant vector store settings.
type QdrantConfig struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	Collection string `yaml:"collection"`
	// APIKey is the Qdrant API key. Prefer env var QDRANT_API_KEY.
	APIKey string `yaml:"api_key"`
	TLS    bool   `yaml:"tls"`
}

// AgentConfig bounds the tool-calling loop.
type AgentConfig struct {
	MaxToolRounds    int `yaml:"max_tool_rounds"`
	MaxContextTokens int `yaml:"max_context_tokens"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// CORSOrigins lists allowed browser origins; "*" allows any.
	CORSOrigins []string `yaml:"cors_origins"`
}

// AuthConfig holds JWT settings.
type AuthConfig struct {
	// Enabled is a pointer so an explicit false in YAML is distinguishable
	// from an absent key.
	Enabled *bool `yaml:"enabled"`
	// JWTSecret signs tokens. Prefer env var JWT_SECRET.
	JWTSecret        string `yaml:"jwt_secret"`
	ExpiryHours      int    `yaml:"expiry_hours"`
	OpenRegistration bool   `yaml:"open_registration"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error.
	Level string `yaml:"level"`
	// Format is the log output format: json, text.
	Format string `yaml:"format"`
}

// HistoryConfig holds chat history settings.
type HistoryConfig struct {
	// DBPath is the SQLite chat history database path.
	DBPath string `yaml:"db_path"`
}

// TracingConfig holds Langfuse tracing settings.
type TracingConfig struct {
	// PublicKey is the Langfuse public key. Prefer env var LANGFUSE_PUBLIC_KEY.
	PublicKey string `yaml:"public_key"`
	// SecretKey is the Langfuse secret key. Prefer env var LANGFUSE_SECRET_KEY.
	SecretKey string `yaml:"secret_key"`
	Host      string `yaml:"host"`
}

// envMapping maps YAML config fields to their corresponding env var names.
// Only non-empty YAML values are applied; env vars always take precedence.
var envMapping = []struct {
	envKey string
	value  func(*Config) string
}{
	{"MODEL_PROVIDER", func(c *Config) string { return c.Model.Provider }},
	{"MODEL_MAX_TOKENS", func(c *Config) string { return intStr(c.Model.MaxTokens) }},
	{"MODEL_TEMPERATURE", func(c *Config) string { return float32Str(c.Model.Temperature) }},
	{"OLLAMA_HOST", func(c *Config) string { return c.Model.Ollama.Host }},
	{"OLLAMA_MODEL", func(c *Config) string { return c.Model.Ollama.Model }},
	{"OPENAI_API_KEY", func(c *Config) string { return c.Model.OpenAI.APIKey }},
	{"OPENAI_MODEL", func(c *Config) string { return c.Model.OpenAI.Model }},
	{"OPENAI_BASE_URL", func(c *Config) string { return c.Model.OpenAI.BaseURL }},
	{"AZURE_OPENAI_API_KEY", func(c *Config) string { return c.Model.Azure.APIKey }},
	{"AZURE_OPENAI_ENDPOINT", func(c *Config) string { return c.Model.Azure.Endpoint }},
	{"AZURE_OPENAI_DEPLOYMENT", func(c *Config) string { return c.Model.Azure.Deployment }},
	{"AZURE_OPENAI_API_VERSION", func(c *Config) string { return c.Model.Azure.APIVersion }},
	{"AWS_REGION", func(c *Config) string { return c.Model.Bedrock.Region }},
	{"BEDROCK_MODEL_ID", func(c *Config) string { return c.Model.Bedrock.ModelID }},
	{"BEDROCK_BASE_URL", func(c *Config) string { return c.Model.Bedrock.BaseURL }},
	{"GOOGLE_API_KEY", func(c *Config) string { return c.Model.Gemini.APIKey }},
	{"GEMINI_MODEL", func(c *Config) string { return c.Model.Gemini.Model }},
	{"EMBEDDING_PROVIDER", func(c *Config) string { return c.Embedding.Provider }},
	{"EMBEDDING_MODEL", func(c *Config) string { return c.Embedding.Model }},
	{"EMBEDDING_DIMENSIONS", func(c *Config) string { return intStr(c.Embedding.Dimensions) }},
	{"EMBEDDING_API_KEY", func(c *Config) string { return c.Embedding.APIKey }},
	{"EMBEDDING_ENDPOINT", func(c *Config) string { return c.Embedding.Endpoint }},
	{"KBAI_KNOWLEDGE_DB", func(c *Config) string { return c.Knowledge.DBPath }},
	{"KBAI_DOCUMENTS_DIR", func(c *Config) string { return c.Knowledge.DocumentsDir }},
	{"KBAI_STRUCTURED_DIR", func(c *Config) string { return c.Knowledge.StructuredDir }},
	{"VECTOR_BACKEND", func(c *Config) string { return c.Retrieval.VectorBackend }},
	{"VECTOR_SEARCH_LIMIT", func(c *Config) string { return intStr(c.Retrieval.VectorLimit) }},
	{"BM25_SEARCH_LIMIT", func(c *Config) string { return intStr(c.Retrieval.BM25Limit) }},
	{"FINAL_RESULTS_LIMIT", func(c *Config) string { return intStr(c.Retrieval.FinalLimit) }},
	{"RRF_K", func(c *Config) string { return intStr(c.Retrieval.RRFK) }},
	{"RERANKER_ENABLED", func(c *Config) string { return boolStr(c.Retrieval.Reranker.Enabled) }},
	{"RERANKER_API_KEY", func(c *Config) string { return c.Retrieval.Reranker.APIKey }},
	{"RERANKER_MODEL", func(c *Config) string { return c.Retrieval.Reranker.Model }},
	{"RERANKER_TOP_N", func(c *Config) string { return intStr(c.Retrieval.Reranker.TopN) }},
	{"RERANKER_ENDPOINT", func(c *Config) string { return c.Retrieval.Reranker.Endpoint }},
	{"RERANKER_TIMEOUT", func(c *Config) string { return c.Retrieval.Reranker.Timeout }},
	{"QDRANT_HOST", func(c *Config) string { return c.Qdrant.Host }},
	{"QDRANT_PORT", func(c *Config) string { return intStr(c.Qdrant.Port) }},
	{"QDRANT_COLLECTION", func(c *Config) string { return c.Qdrant.Collection }},
	{"QDRANT_API_KEY", func(c *Config) string { return c.Qdrant.APIKey }},
	{"QDRANT_USE_TLS", func(c *Config) string { return boolStr(c.Qdrant.TLS) }},
	{"AGENT_MAX_TOOL_ROUNDS", func(c *Config) string { return intStr(c.Agent.MaxToolRounds) }},
	{"AGENT_MAX_CONTEXT_TOKENS", func(c *Config) string { return intStr(c.Agent.MaxContextTokens) }},
	{"KBAI_HOST", func(c *Config) string { return c.Server.Host }},
	{"KBAI_PORT", func(c *Config) string { return intStr(c.Server.Port) }},
	{"CORS_ORIGINS", func(c *Config) string { return strings.Join(c.Server.CORSOrigins, ",") }},
	{"AUTH_ENABLED", func(c *Config) string { return boolPtrStr(c.Auth.Enabled) }},
	{"JWT_SECRET", func(c *Config) string { return c.Auth.JWTSecret }},
	{"JWT_EXPIRY_HOURS", func(c *Config) string { return intStr(c.Auth.ExpiryHours) }},
	{"KBAI_OPEN_REGISTRATION", func(c *Config) string { return boolStr(c.Auth.OpenRegistration) }},
	{"LOG_LEVEL", func(c *Config) string { return c.Logging.Level }},
	{"LOG_FORMAT", func(c *Config) string { return c.Logging.Format }},
	{"KBAI_HISTORY_DB", func(c *Config) string { return c.History.DBPath }},
	{"LANGFUSE_PUBLIC_KEY", func(c *Config) string { return c.Tracing.PublicKey }},
	{"LANGFUSE_SECRET_KEY", func(c *Config) string { return c.Tracing.SecretKey }},
	{"LANGFUSE_HOST", func(c *Config) string { return c.Tracing.Host }},
}

// LoadDotEnv loads KEY=VALUE pairs from a .env file into the environment.
// Variables already set to a non-empty value are never overwritten. An
// explicit path must exist; the default ./.env is optional. Returns the path
// loaded, or "".
func LoadDotEnv(explicitPath string, log *slog.Logger) (string, error) {
	path := explicitPath
	if path == "" {
		path = ".env"
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			log.Debug("config: no .env file found")
			return "", nil
		}
	}
	vars, err := godotenv.Read(path)
	if err != nil {
		return "", fmt.Errorf("config: failed to load %s: %w", path, err)
	}
	applied := 0
	for k, v := range vars {
		// Same rule as Load: an empty env var counts as unset.
		if os.Getenv(k) != "" {
			continue
		}
		if err := os.Setenv(k, v); err != nil {
			return "", fmt.Errorf("config: set %s: %w", k, err)
		}
		applied++
	}
	log.Info("config: loaded .env file", slog.String("path", path), slog.Int("applied", applied))
	return path, nil
}

// Load reads a YAML config file and applies non-empty values as environment
// variables. Existing env vars are never overwritten (env always wins), so
// call LoadDotEnv first to give .env precedence over YAML.
// Returns the path that was loaded, or empty string if no file was found.
func Load(explicitPath string, log *slog.Logger) (string, error) {
	path := resolveConfigPath(explicitPath)
	if path == "" {
		log.Debug("config: no YAML config file found, using env vars only")
		return "", nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("config: failed to read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return "", fmt.Errorf("config: failed to parse %s: %w", path, err)
	}

	applied := 0
	for _, m := range envMapping {
		yamlVal := m.value(&cfg)
		if yamlVal == "" {
			continue
		}
		if os.Getenv(m.envKey) != "" {
			continue // env var already set, do not override
		}
		if err := os.Setenv(m.envKey, yamlVal); err != nil {
			return "", fmt.Errorf("config: set %s: %w", m.envKey, err)
		}
		applied++
	}

	log.Info("config: loaded YAML config",
		slog.String("path", path),
		slog.Int("keys_applied", applied),
	)

	return path, nil
}

// resolveConfigPath returns the first config file path that exists.
func resolveConfigPath(explicit string) string {
	if explicit != "" {
		if _, err := os.Stat(explicit); err == nil {
			return explicit
		}
		return ""
	}

	if envPath := os.Getenv("KBAI_CONFIG"); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	home, err := os.UserHomeDir()
	if err == nil {
		p := filepath.Join(home, ".kbai", "config.yaml")
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	if _, err := os.Stat("kbai.yaml"); err == nil {
		return "kbai.yaml"
	}

	return ""
}

// intStr converts an int to string, returning "" for zero values.
func intStr(v int) string {
	if v == 0 {
		return ""
	}
	return strconv.Itoa(v)
}

// float32Str converts a float32 to string, returning "" for zero values.
func float32Str(v float32) string {
	if v == 0 {
		return ""
	}
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.4f", v), "0"), ".")
}

// boolStr converts a bool to string, returning "" for false.
func boolStr(v bool) string {
	if !v {
		return ""
	}
	return "true"
}

// boolPtrStr renders an optional bool, returning "" when unset.
func boolPtrStr(v *bool) string {
	if v == nil {
		return ""
	}
	return strconv.FormatBool(*v)
}
