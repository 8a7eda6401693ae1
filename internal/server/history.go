package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/54b3r/kbai-go/internal/agent"
	"github.com/54b3r/kbai-go/internal/logging"
	"github.com/54b3r/kbai-go/internal/store"
)

// titleTimeout bounds one title generation call.
const titleTimeout = 30 * time.Second

// handleListChats handles GET /api/chats. Chats are returned most recently
// active first.
func (s *Server) handleListChats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	chats, err := s.history.ListUserChats(ctx, identity(r).UserID)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, http.StatusOK, chats)
}

// handleChatMessages handles GET /api/chats/{id}/messages.
func (s *Server) handleChatMessages(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	chat, err := s.ownedChat(r)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	msgs, err := s.history.ChatMessages(ctx, chat.ID)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	if len(msgs) == 0 {
		writeStatus(ctx, w, http.StatusNotFound, "chat has no messages")
		return
	}
	writeJSON(ctx, w, http.StatusOK, msgs)
}

// handleChatTitle handles POST /api/chats/{id}/title. A model-written title
// is generated once and cached; later calls return the stored title.
func (s *Server) handleChatTitle(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logging.FromContext(ctx)

	chat, err := s.ownedChat(r)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	if chat.TitleGenerated && chat.Title != "" {
		writeJSON(ctx, w, http.StatusOK, titleResponse{ChatID: chat.ID, Title: chat.Title})
		return
	}

	stored, err := s.history.ChatMessages(ctx, chat.ID)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	if len(stored) == 0 {
		writeError(ctx, w, agent.ErrEmptyConversation)
		return
	}

	genCtx, cancel := context.WithTimeout(ctx, titleTimeout)
	defer cancel()
	title, err := s.chat.GenerateTitle(genCtx, toAgentMessages(stored))
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	if err := s.history.UpdateTitle(ctx, chat.ID, title, true); err != nil {
		writeError(ctx, w, err)
		return
	}
	log.Info("chat: title generated", slog.String("chat_id", chat.ID))
	writeJSON(ctx, w, http.StatusOK, titleResponse{ChatID: chat.ID, Title: title})
}

// ownedChat loads the chat named by the {id} path value. Chats owned by
// another user are reported as not found.
func (s *Server) ownedChat(r *http.Request) (*store.Chat, error) {
	id := r.PathValue("id")
	chat, err := s.history.GetChat(r.Context(), id)
	if err != nil {
		return nil, err
	}
	if chat.UserID != identity(r).UserID {
		return nil, fmt.Errorf("chat %s: %w", id, store.ErrNotFound)
	}
	return chat, nil
}
