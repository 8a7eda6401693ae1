package agent

import (
	"encoding/json"

	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/kbai-go/internal/tools"
)

// maxRecordedResult bounds the tool output kept in a ToolCall record.
const maxRecordedResult = 500

// transcript accumulates tool-call records and citations over a turn.
type transcript struct {
	calls   []ToolCall
	sources []tools.Source
}

func newTranscript() *transcript {
	return &transcript{calls: []ToolCall{}, sources: []tools.Source{}}
}

// record stores one tool invocation and, for knowledge-base searches, the
// sources listed in its output.
func (t *transcript) record(call schema.ToolCall, output string) {
	t.calls = append(t.calls, ToolCall{
		Name:   call.Function.Name,
		Args:   decodeArgs(call.Function.Arguments),
		Result: truncate(output, maxRecordedResult),
	})
	if call.Function.Name == tools.SearchKnowledgeBaseName {
		t.sources = append(t.sources, tools.ParseSources(output)...)
	}
}

// decodeArgs returns the arguments as a JSON object, or an empty map.
func decodeArgs(raw string) map[string]any {
	args := map[string]any{}
	if err := json.Unmarshal([]byte(raw), &args); err != nil || args == nil {
		return map[string]any{}
	}
	return args
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
