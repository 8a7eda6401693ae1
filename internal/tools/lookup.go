package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
)

// LookupTool is an Eino tool that runs a read-only SQL query against the
// KPI catalog and employee directory. Guard violations and SQL errors come
// back as text so the model can correct itself.
type LookupTool struct {
	// querier executes the guarded query.
	querier Querier
}

// lookupInput is the JSON-serialisable input schema for LookupTool.
type lookupInput struct {
	// SQLQuery is a SELECT statement against kpi_catalog or directory.
	SQLQuery string `json:"sql_query"`
}

// NewLookupTool constructs a LookupTool over the given Querier.
func NewLookupTool(querier Querier) *LookupTool {
	return &LookupTool{querier: querier}
}

// Name returns the tool name registered with the model.
func (t *LookupTool) Name() string { return LookupStructuredDataName }

// Description returns the model-facing description of this tool.
func (t *LookupTool) Description() string {
	return "Execute a read-only SQL query against the KPI catalog or employee directory. " +
		"Use this tool to look up specific KPIs (definitions, owners, sources), " +
		"employee details (name, email, team, role), or team information. " +
		"Only SELECT queries are allowed."
}

// Info returns the Eino tool metadata including the JSON input schema.
func (t *LookupTool) Info(_ context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{
		Name: t.Name(),
		Desc: t.Description(),
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"sql_query": {
				Type:     schema.String,
				Desc:     "A SQL SELECT query against the kpi_catalog or directory tables.",
				Required: true,
			},
		}),
	}, nil
}

// InvokableRun executes the query and returns the formatted table or an
// "Error:" / "SQL Error:" / "No results found." message.
func (t *LookupTool) InvokableRun(ctx context.Context, argumentsInJSON string, _ ...tool.Option) (string, error) {
	var input lookupInput
	if err := json.Unmarshal([]byte(argumentsInJSON), &input); err != nil {
		return "", fmt.Errorf("%s: %w: %v", LookupStructuredDataName, ErrInvalidArguments, err)
	}
	if strings.TrimSpace(input.SQLQuery) == "" {
		return "", fmt.Errorf("%s: %w: sql_query is required", LookupStructuredDataName, ErrInvalidArguments)
	}
	return t.querier.QueryReadOnly(ctx, input.SQLQuery), nil
}
