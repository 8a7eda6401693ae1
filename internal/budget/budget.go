// Package budget keeps a conversation's prior turns inside the chat model's
// context window. The orchestrator runs against several backends with
// different tokenizers, so counts use a character heuristic:
// 1 token ≈ 4 characters of English prose.
package budget

import (
	"github.com/cloudwego/eino/schema"
)

const (
	// charsPerToken is the character-to-token ratio used for estimation.
	charsPerToken = 4

	// DefaultMaxContextTokens is the default history budget in tokens: the
	// system prompt, prior turns and the new prompt must fit within it.
	// Override with AGENT_MAX_CONTEXT_TOKENS.
	DefaultMaxContextTokens = 6000
)

// Estimate returns a rough token count for s using the character heuristic.
func Estimate(s string) int {
	n := len(s) / charsPerToken
	if n == 0 && len(s) > 0 {
		return 1
	}
	return n
}

// EstimateMessages returns the estimated total token count for a slice of
// schema.Message values, summing role, content and tool-call arguments.
func EstimateMessages(msgs []*schema.Message) int {
	total := 0
	for _, m := range msgs {
		// Per-message framing overhead.
		total += 4
		total += Estimate(string(m.Role))
		total += Estimate(m.Content)
		for _, tc := range m.ToolCalls {
			total += Estimate(tc.Function.Name) + Estimate(tc.Function.Arguments)
		}
	}
	return total
}

// TrimHistory removes the oldest messages from history until the total
// estimated token count of fixed + history fits within maxTokens. fixed holds
// the messages that are never trimmed (system prompt, new user prompt);
// history holds prior turns, oldest first. After trimming, leading assistant
// messages are dropped too so the retained history opens on a user turn.
//
// If even an empty history exceeds the budget the empty slice is returned;
// callers warn separately when fixed alone is over budget.
func TrimHistory(fixed, history []*schema.Message, maxTokens int) []*schema.Message {
	if len(history) == 0 {
		return history
	}

	fixedTokens := EstimateMessages(fixed)

	trimmed := false
	for len(history) > 0 {
		if fixedTokens+EstimateMessages(history) <= maxTokens {
			break
		}
		history = history[1:]
		trimmed = true
	}
	for trimmed && len(history) > 0 && history[0].Role != schema.User {
		history = history[1:]
	}
	return history
}
