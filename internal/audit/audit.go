// Package audit writes one structured record per CLI command invocation:
// the command, the config file it resolved and the operational environment.
// Credentials are recorded as "set" or "unset", never by value.
package audit

import (
	"context"
	"log/slog"
	"os"
	"strings"
)

// envKey is one environment variable included in the audit record.
type envKey struct {
	name   string
	secret bool
}

// auditKeys is the ordered list of env vars included in every record.
var auditKeys = []envKey{
	{"MODEL_PROVIDER", false},
	{"OLLAMA_HOST", false},
	{"OLLAMA_MODEL", false},
	{"OPENAI_API_KEY", true},
	{"OPENAI_MODEL", false},
	{"OPENAI_BASE_URL", false},
	{"AZURE_OPENAI_API_KEY", true},
	{"AZURE_OPENAI_ENDPOINT", false},
	{"AZURE_OPENAI_DEPLOYMENT", false},
	{"GOOGLE_API_KEY", true},
	{"GEMINI_MODEL", false},
	{"AWS_REGION", false},
	{"BEDROCK_MODEL_ID", false},
	{"EMBEDDING_PROVIDER", false},
	{"EMBEDDING_MODEL", false},
	{"EMBEDDING_API_KEY", true},
	{"KBAI_KNOWLEDGE_DB", false},
	{"KBAI_DOCUMENTS_DIR", false},
	{"KBAI_STRUCTURED_DIR", false},
	{"VECTOR_BACKEND", false},
	{"QDRANT_HOST", false},
	{"QDRANT_PORT", false},
	{"QDRANT_COLLECTION", false},
	{"QDRANT_API_KEY", true},
	{"RERANKER_ENABLED", false},
	{"RERANKER_API_KEY", true},
	{"AUTH_ENABLED", false},
	{"JWT_SECRET", true},
	{"KBAI_HISTORY_DB", false},
	{"LOG_LEVEL", false},
	{"LOG_FORMAT", false},
	{"LANGFUSE_PUBLIC_KEY", true},
	{"LANGFUSE_SECRET_KEY", true},
}

// extraSecrets are credentials that never appear in the record but may
// still reach SanitiseKey from diagnostics.
var extraSecrets = []string{"AWS_SECRET_ACCESS_KEY", "AWS_SESSION_TOKEN"}

var secretKeys = func() map[string]bool {
	m := make(map[string]bool, len(auditKeys)+len(extraSecrets))
	for _, k := range auditKeys {
		if k.secret {
			m[k.name] = true
		}
	}
	for _, k := range extraSecrets {
		m[k] = true
	}
	return m
}()

// LogCommandStart emits the audit record for command. configPath is the
// YAML file that was loaded, or "" when none was found.
func LogCommandStart(ctx context.Context, log *slog.Logger, command, configPath string) {
	attrs := make([]slog.Attr, 0, len(auditKeys)+2)
	attrs = append(attrs,
		slog.String("command", command),
		slog.String("config_file", sanitiseConfigPath(configPath)),
	)
	for _, k := range auditKeys {
		attrs = append(attrs, slog.String(k.name, SanitiseKey(k.name, os.Getenv(k.name))))
	}
	log.LogAttrs(ctx, slog.LevelInfo, "audit: command start", attrs...)
}

// SanitiseKey returns "set" or "unset" for credential keys and the value
// itself (or "unset") for everything else.
func SanitiseKey(key, value string) string {
	if secretKeys[key] {
		return presence(value)
	}
	return valOrUnset(value)
}

func presence(v string) string {
	if v != "" {
		return "set"
	}
	return "unset"
}

func valOrUnset(v string) string {
	if v != "" {
		return v
	}
	return "unset"
}

// sanitiseConfigPath returns "none" for an empty path and abbreviates the
// home directory to "~".
func sanitiseConfigPath(p string) string {
	if p == "" {
		return "none"
	}
	home, err := os.UserHomeDir()
	if err == nil && home != "" && strings.HasPrefix(p, home) {
		return "~" + p[len(home):]
	}
	return p
}
