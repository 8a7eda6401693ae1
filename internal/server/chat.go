package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/54b3r/kbai-go/internal/agent"
	"github.com/54b3r/kbai-go/internal/logging"
	"github.com/54b3r/kbai-go/internal/store"
)

// Chat outcome label values.
const (
	outcomeOK      = "ok"
	outcomeTimeout = "timeout"
	outcomeError   = "error"
)

// turn is a validated chat request bound to its persisted chat.
type turn struct {
	chat    *store.Chat
	history []agent.Message
}

// handleChat handles POST /api/chat. It persists the question, runs one
// agent turn and returns the answer with its tool-call and source metadata.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()

	t, ok := s.beginTurn(w, r)
	if !ok {
		return
	}

	runCtx, cancel := context.WithTimeout(ctx, s.cfg.ChatTimeout)
	defer cancel()

	res, err := s.chat.Execute(runCtx, t.history)
	if err != nil {
		s.metrics.observeChat(outcomeFor(err), start)
		writeError(ctx, w, err)
		return
	}

	msgID, err := s.saveAnswer(ctx, t.chat.ID, res)
	if err != nil {
		s.metrics.observeChat(outcomeError, start)
		writeError(ctx, w, err)
		return
	}
	s.metrics.observeChat(outcomeOK, start)

	writeJSON(ctx, w, http.StatusOK, chatResponse{
		ChatID:    t.chat.ID,
		MessageID: msgID,
		Answer:    res.Answer,
		ToolCalls: res.ToolCalls,
		Sources:   res.Sources,
	})
}

// handleChatStream handles POST /api/chat/stream. Answer text is streamed
// as SSE data frames; a terminal "result" event carries the metadata,
// followed by "done". Failures after the stream opens are reported as an
// "error" event and nothing is persisted for the assistant.
func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logging.FromContext(ctx)
	start := time.Now()

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeStatus(ctx, w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	t, ok := s.beginTurn(w, r)
	if !ok {
		return
	}

	// Set SSE headers so the client receives a streaming response.
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	s.metrics.chatActiveStreams.Inc()
	defer s.metrics.chatActiveStreams.Dec()

	runCtx, cancel := context.WithTimeout(ctx, s.cfg.ChatTimeout)
	defer cancel()

	sink := &sseSink{w: w, flusher: flusher}
	res, err := s.chat.ExecuteStream(runCtx, t.history, sink)
	if err == nil {
		var msgID string
		msgID, err = s.saveAnswer(ctx, t.chat.ID, res)
		if err == nil {
			s.metrics.observeChat(outcomeOK, start)
			err = sink.event("result", streamResult{
				ChatID:    t.chat.ID,
				MessageID: msgID,
				ToolCalls: res.ToolCalls,
				Sources:   res.Sources,
			})
			if err != nil {
				log.Warn("stream: client went away before result", slog.Any("error", err))
				return
			}
			sink.done()
			return
		}
	}

	s.metrics.observeChat(outcomeFor(err), start)
	log.Error("stream: chat turn failed", slog.Any("error", err))
	sink.fail(streamErrorMessage(err))
	sink.done()
}

// beginTurn validates the request, resolves the chat and stores the user's
// message. On failure it writes the response and returns false.
func (s *Server) beginTurn(w http.ResponseWriter, r *http.Request) (*turn, bool) {
	ctx := r.Context()

	var req chatRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeStatus(ctx, w, http.StatusBadRequest, err.Error())
		return nil, false
	}
	if strings.TrimSpace(req.Message) == "" {
		writeStatus(ctx, w, http.StatusBadRequest, "message is required")
		return nil, false
	}

	id := identity(r)
	chat, err := s.history.GetOrCreateChat(ctx, req.ChatID, id.UserID)
	if err != nil {
		writeError(ctx, w, err)
		return nil, false
	}
	if chat.UserID != id.UserID {
		// Another user's chat is reported as missing.
		writeError(ctx, w, fmt.Errorf("chat %s: %w", req.ChatID, store.ErrNotFound))
		return nil, false
	}

	if _, err := s.history.SaveUserMessage(ctx, chat.ID, req.Message); err != nil {
		writeError(ctx, w, err)
		return nil, false
	}
	stored, err := s.history.ChatMessages(ctx, chat.ID)
	if err != nil {
		writeError(ctx, w, err)
		return nil, false
	}

	logging.FromContext(ctx).Debug("chat: turn accepted",
		slog.String("chat_id", chat.ID),
		slog.Int("history", len(stored)),
	)
	return &turn{chat: chat, history: toAgentMessages(stored)}, true
}

// saveAnswer persists the assistant message for a completed turn.
func (s *Server) saveAnswer(ctx context.Context, chatID string, res *agent.Result) (string, error) {
	return s.history.SaveAssistantMessage(ctx, chatID, store.AssistantMessage{
		Content:   res.Answer,
		ToolCalls: res.ToolCalls,
		Sources:   res.Sources,
		Model:     res.Model,
		LatencyMS: res.LatencyMS,
	})
}

// toAgentMessages converts stored messages into the agent's conversation form.
func toAgentMessages(msgs []store.Message) []agent.Message {
	out := make([]agent.Message, 0, len(msgs))
	for _, m := range msgs {
		role := agent.RoleUser
		if m.Role == store.RoleAssistant {
			role = agent.RoleAssistant
		}
		out = append(out, agent.Message{Role: role, Content: m.Content})
	}
	return out
}

// outcomeFor classifies a failed turn for the chat metrics.
func outcomeFor(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return outcomeTimeout
	}
	return outcomeError
}

// streamErrorMessage is the text of an "error" SSE event. Internal causes
// are not exposed.
func streamErrorMessage(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "request timed out"
	case errors.Is(err, agent.ErrToolLoopExceeded):
		return "the assistant could not produce an answer"
	default:
		return "internal error"
	}
}

// sseSink writes agent tokens as Server-Sent Event data frames.
type sseSink struct {
	// w is the underlying response writer.
	w http.ResponseWriter

	// flusher flushes buffered data to the client after each write.
	flusher http.Flusher
}

var _ agent.Sink = (*sseSink)(nil)

// Token emits text as one SSE message. Each newline in text starts a new
// "data: " line so multi-line chunks never break the frame boundary.
func (s *sseSink) Token(text string) error {
	if text == "" {
		return nil
	}
	return s.frame("", text)
}

// event emits a named event with a JSON payload.
func (s *sseSink) event(name string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("stream: encode %s event: %w", name, err)
	}
	return s.frame(name, string(b))
}

// fail emits an "error" event.
func (s *sseSink) fail(msg string) { _ = s.frame("error", msg) }

// done emits the terminal "done" event.
func (s *sseSink) done() { _ = s.frame("done", "[DONE]") }

func (s *sseSink) frame(event, data string) error {
	var buf strings.Builder
	if event != "" {
		buf.WriteString("event: ")
		buf.WriteString(event)
		buf.WriteString("\n")
	}
	for _, line := range strings.Split(data, "\n") {
		buf.WriteString("data: ")
		buf.WriteString(line)
		buf.WriteString("\n")
	}
	buf.WriteString("\n")
	if _, err := fmt.Fprint(s.w, buf.String()); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}
