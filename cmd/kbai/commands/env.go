package commands

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/54b3r/kbai-go/internal/rag"
)

// retrievalConfigFromEnv reads the search limits.
func retrievalConfigFromEnv() rag.RetrievalConfig {
	return rag.RetrievalConfig{
		VectorLimit:  getEnvInt("VECTOR_SEARCH_LIMIT", rag.DefaultVectorLimit),
		LexicalLimit: getEnvInt("BM25_SEARCH_LIMIT", rag.DefaultLexicalLimit),
		FinalLimit:   getEnvInt("FINAL_RESULTS_LIMIT", rag.DefaultFinalLimit),
		RRFK:         getEnvInt("RRF_K", rag.DefaultRRFK),
	}
}

// rerankConfigFromEnv reads the reranker settings. RERANKER_TIMEOUT accepts
// a Go duration ("10s") or whole seconds ("10").
func rerankConfigFromEnv() *rag.RerankConfig {
	return &rag.RerankConfig{
		Enabled:  getEnvBool("RERANKER_ENABLED"),
		APIKey:   os.Getenv("RERANKER_API_KEY"),
		Model:    getEnvOrDefault("RERANKER_MODEL", rag.DefaultRerankModel),
		TopN:     getEnvInt("RERANKER_TOP_N", rag.DefaultRerankTopN),
		Endpoint: getEnvOrDefault("RERANKER_ENDPOINT", rag.DefaultRerankEndpoint),
		Timeout:  getEnvDuration("RERANKER_TIMEOUT", rag.DefaultRerankTimeout),
	}
}

// qdrantConfigFromEnv reads Qdrant connection settings.
func qdrantConfigFromEnv(vectorSize int) *rag.QdrantConfig {
	return &rag.QdrantConfig{
		Host:       getEnvOrDefault("QDRANT_HOST", "localhost"),
		Port:       getEnvInt("QDRANT_PORT", 6334),
		Collection: getEnvOrDefault("QDRANT_COLLECTION", "kbai_chunks"),
		VectorSize: uint64(max(vectorSize, 0)),
		APIKey:     os.Getenv("QDRANT_API_KEY"),
		UseTLS:     getEnvBool("QDRANT_USE_TLS"),
	}
}

func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvBool(key string) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	return fallback
}
