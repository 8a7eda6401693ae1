// Package tools implements the two tools the conversation orchestrator binds
// to the chat model: search_knowledge_base over the hybrid retriever and
// lookup_structured_data over the guarded read-only SQL executor.
// Each tool satisfies both this package's KnowledgeTool interface and Eino's
// tool.InvokableTool interface so they can be bound directly to a
// ToolCallingChatModel.
package tools

import (
	"context"
	"errors"

	"github.com/cloudwego/eino/components/tool"

	"github.com/54b3r/kbai-go/internal/rag"
)

// Tool names as the model sees them.
const (
	SearchKnowledgeBaseName  = "search_knowledge_base"
	LookupStructuredDataName = "lookup_structured_data"
)

// ErrInvalidArguments marks a tool call the model made with unusable
// arguments. The orchestrator returns such errors to the model as text;
// every other tool error is fatal to the turn.
var ErrInvalidArguments = errors.New("invalid tool arguments")

// KnowledgeTool is the interface every tool in this package satisfies.
// It extends the basic Eino tool contract with Name and Description
// accessors so the orchestrator can log and route tool calls by name without
// type assertions.
type KnowledgeTool interface {
	tool.InvokableTool

	// Name returns the unique tool name registered with the model.
	Name() string

	// Description returns the description sent to the model as part of the
	// tool schema.
	Description() string
}

// Searcher is the retrieval surface used by the knowledge-base tool.
// *rag.Retriever satisfies it.
type Searcher interface {
	Search(ctx context.Context, req rag.SearchRequest) ([]rag.RetrievalResult, error)
}

// Querier executes guarded read-only SQL and always answers with text.
// *knowledge.Store satisfies it.
type Querier interface {
	QueryReadOnly(ctx context.Context, query string) string
}

// New returns both tools, search first.
func New(searcher Searcher, querier Querier) []KnowledgeTool {
	return []KnowledgeTool{
		NewSearchTool(searcher),
		NewLookupTool(querier),
	}
}
