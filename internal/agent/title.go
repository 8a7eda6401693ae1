package agent

import (
	"context"
	"log/slog"
	"strings"

	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/kbai-go/internal/logging"
)

// maxTitleLen is the longest title GenerateTitle returns, in characters.
const maxTitleLen = 80

const titlePrompt = "Write a short title of at most six words for a conversation that opens with the " +
	"messages below. Reply with the title only, without quotes or trailing punctuation."

// GenerateTitle asks the model for a short chat title. If the model fails or
// returns nothing usable, the first user message truncated to maxTitleLen
// characters is used instead.
func (o *Orchestrator) GenerateTitle(ctx context.Context, msgs []Message) (string, error) {
	if len(msgs) == 0 {
		return "", ErrEmptyConversation
	}

	var sb strings.Builder
	for _, m := range msgs {
		if sb.Len() > 2000 {
			break
		}
		sb.WriteString(string(m.Role))
		sb.WriteString(": ")
		sb.WriteString(m.Content)
		sb.WriteString("\n")
	}

	reply, err := o.chat.Generate(ctx, []*schema.Message{
		schema.SystemMessage(titlePrompt),
		schema.UserMessage(sb.String()),
	})
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		logging.FromContext(ctx).Warn("agent: title generation failed, using fallback", slog.Any("error", err))
		return FallbackTitle(msgs), nil
	}

	var title string
	if reply != nil {
		title = cleanTitle(reply.Content)
	}
	if title == "" {
		return FallbackTitle(msgs), nil
	}
	return title, nil
}

// FallbackTitle derives a title from the first user message.
func FallbackTitle(msgs []Message) string {
	for _, m := range msgs {
		if m.Role == RoleUser {
			return ProvisionalTitle(m.Content)
		}
	}
	return "New chat"
}

// ProvisionalTitle truncates text to maxTitleLen characters, marking the cut
// with "...".
func ProvisionalTitle(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	r := []rune(text)
	if len(r) <= maxTitleLen {
		return text
	}
	return string(r[:maxTitleLen]) + "..."
}

func cleanTitle(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	s = strings.Trim(s, "\"'`* ")
	s = strings.TrimPrefix(s, "Title: ")
	s = strings.TrimSpace(strings.Trim(s, "\"'"))
	return truncate(s, maxTitleLen)
}
