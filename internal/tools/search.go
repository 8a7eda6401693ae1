package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/kbai-go/internal/rag"
)

// SearchTool is an Eino tool that runs a hybrid knowledge-base search and
// returns the hits as citeable text blocks.
type SearchTool struct {
	// searcher runs the retrieval pipeline.
	searcher Searcher
}

// searchInput is the JSON-serialisable input schema for SearchTool.
type searchInput struct {
	// Query is a standalone question, rewritten from conversation context.
	Query string `json:"query"`

	// Category optionally restricts the search to one corpus partition.
	Category string `json:"category,omitempty"`
}

// NewSearchTool constructs a SearchTool over the given Searcher.
func NewSearchTool(searcher Searcher) *SearchTool {
	return &SearchTool{searcher: searcher}
}

// Name returns the tool name registered with the model.
func (t *SearchTool) Name() string { return SearchKnowledgeBaseName }

// Description returns the model-facing description of this tool.
func (t *SearchTool) Description() string {
	return "Search the internal knowledge base for information. " +
		"Use this tool to find answers in policy documents, runbooks, and domain documentation. " +
		"Always formulate the query as a clear, standalone question that does not rely on prior conversation context."
}

// Info returns the Eino tool metadata including the JSON input schema.
func (t *SearchTool) Info(_ context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{
		Name: t.Name(),
		Desc: t.Description(),
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"query": {
				Type:     schema.String,
				Desc:     "A standalone search question (rewrite from context if needed).",
				Required: true,
			},
			"category": {
				Type: schema.String,
				Desc: "Optional filter: one of 'domain', 'policies', 'runbooks'. Omit to search all categories.",
				Enum: rag.Categories,
			},
		}),
	}, nil
}

// InvokableRun searches the knowledge base. Malformed arguments are reported
// with ErrInvalidArguments; retrieval failures are returned unchanged.
func (t *SearchTool) InvokableRun(ctx context.Context, argumentsInJSON string, _ ...tool.Option) (string, error) {
	var input searchInput
	if err := json.Unmarshal([]byte(argumentsInJSON), &input); err != nil {
		return "", fmt.Errorf("%s: %w: %v", SearchKnowledgeBaseName, ErrInvalidArguments, err)
	}
	input.Query = strings.TrimSpace(input.Query)
	if input.Query == "" {
		return "", fmt.Errorf("%s: %w: query is required", SearchKnowledgeBaseName, ErrInvalidArguments)
	}
	category := strings.ToLower(strings.TrimSpace(input.Category))
	if category != "" && !rag.IsCategory(category) {
		return "", fmt.Errorf("%s: %w: unknown category %q, valid values: %s",
			SearchKnowledgeBaseName, ErrInvalidArguments, input.Category, strings.Join(rag.Categories, ", "))
	}

	results, err := t.searcher.Search(ctx, rag.SearchRequest{Query: input.Query, Category: category})
	if err != nil {
		return "", fmt.Errorf("%s: %w", SearchKnowledgeBaseName, err)
	}
	return FormatResults(results), nil
}
