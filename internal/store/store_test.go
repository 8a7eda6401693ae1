package store

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

// openTestStore opens an in-memory SQLiteStore with a clock that advances
// one second per call so ordering by timestamp is deterministic.
func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open in-memory store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	clock := time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)
	s.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	return s
}

func Test_Store_Users(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	alice, err := s.CreateUser(ctx, "Alice Smith", "alice@example.com")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	got, err := s.GetUser(ctx, alice.ID)
	if err != nil || got.Email != "alice@example.com" || got.Name != "Alice Smith" {
		t.Fatalf("get user = %+v, %v", got, err)
	}
	if _, err := s.GetUser(ctx, "nobody"); !errors.Is(err, ErrNotFound) {
		t.Errorf("get missing user err = %v, want ErrNotFound", err)
	}

	byEmail, err := s.EnsureUserByEmail(ctx, "Someone Else", "ALICE@example.com")
	if err != nil || byEmail.ID != alice.ID {
		t.Errorf("ensure by existing email = %+v, %v; want alice", byEmail, err)
	}
	bob, err := s.EnsureUserByEmail(ctx, "Bob Jones", "Bob@Example.com")
	if err != nil || bob.ID == alice.ID || bob.Email != "bob@example.com" {
		t.Errorf("ensure by new email = %+v, %v", bob, err)
	}

	placeholder, err := s.EnsureUser(ctx, "dev-user")
	if err != nil || placeholder.Name != "User" || placeholder.Email != "" {
		t.Fatalf("ensure placeholder = %+v, %v", placeholder, err)
	}
	again, err := s.EnsureUser(ctx, "dev-user")
	if err != nil || !again.CreatedAt.Equal(placeholder.CreatedAt) {
		t.Errorf("ensure existing = %+v, %v", again, err)
	}
}

func Test_Store_SeedUsers(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	seed := []SeedUser{
		{Name: "Alice Smith", Email: "alice@example.com"},
		{Name: "Bob Jones", Email: "bob@example.com"},
	}
	n, err := s.SeedUsers(ctx, seed)
	if err != nil || n != 2 {
		t.Fatalf("first seed = %d, %v; want 2", n, err)
	}
	n, err = s.SeedUsers(ctx, seed)
	if err != nil || n != 0 {
		t.Errorf("second seed = %d, %v; want 0", n, err)
	}
	if _, err := s.SeedUsers(ctx, []SeedUser{{Name: "No Mail"}}); err == nil {
		t.Error("expected error for seed user without email")
	}
}

func Test_Store_ChatLifecycle(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	chat, err := s.GetOrCreateChat(ctx, "", "dev-user")
	if err != nil {
		t.Fatalf("create chat: %v", err)
	}
	if chat.ID == "" || chat.Title != "" || chat.TitleGenerated {
		t.Fatalf("new chat = %+v", chat)
	}
	if _, err := s.GetUser(ctx, "dev-user"); err != nil {
		t.Errorf("owner placeholder not created: %v", err)
	}

	same, err := s.GetOrCreateChat(ctx, chat.ID, "dev-user")
	if err != nil || same.ID != chat.ID {
		t.Errorf("get existing chat = %+v, %v", same, err)
	}
	named, err := s.GetOrCreateChat(ctx, "client-chosen-id", "dev-user")
	if err != nil || named.ID != "client-chosen-id" {
		t.Errorf("create with id = %+v, %v", named, err)
	}

	long := strings.Repeat("how do I rotate the payments API key ", 4)
	if _, err := s.SaveUserMessage(ctx, chat.ID, long); err != nil {
		t.Fatalf("save user message: %v", err)
	}
	if _, err := s.SaveUserMessage(ctx, chat.ID, "second question"); err != nil {
		t.Fatalf("save second message: %v", err)
	}
	got, _ := s.GetChat(ctx, chat.ID)
	if got.Title != ProvisionalTitle(long) || !strings.HasSuffix(got.Title, "...") {
		t.Errorf("provisional title = %q", got.Title)
	}
	if !got.UpdatedAt.After(chat.UpdatedAt) {
		t.Error("saving a message should bump updated_at")
	}

	if err := s.UpdateTitle(ctx, chat.ID, "API Key Rotation", true); err != nil {
		t.Fatalf("update title: %v", err)
	}
	got, _ = s.GetChat(ctx, chat.ID)
	if got.Title != "API Key Rotation" || !got.TitleGenerated {
		t.Errorf("after update = %+v", got)
	}
	if err := s.UpdateTitle(ctx, "missing", "x", true); !errors.Is(err, ErrNotFound) {
		t.Errorf("update missing chat err = %v", err)
	}
	if _, err := s.GetChat(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("get missing chat err = %v", err)
	}
}

type recordedCall struct {
	Name string `json:"name"`
}

func Test_Store_MessagesRoundTripMetadata(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	chat, err := s.GetOrCreateChat(ctx, "", "u1")
	if err != nil {
		t.Fatalf("create chat: %v", err)
	}
	userID, err := s.SaveUserMessage(ctx, chat.ID, "what is contribution margin?")
	if err != nil {
		t.Fatalf("save user: %v", err)
	}
	asstID, err := s.SaveAssistantMessage(ctx, chat.ID, AssistantMessage{
		Content:   "Revenue minus variable costs [1].",
		ToolCalls: []recordedCall{{Name: "lookup_structured_data"}},
		Model:     "gpt-4o",
		LatencyMS: 812,
	})
	if err != nil {
		t.Fatalf("save assistant: %v", err)
	}

	msgs, err := s.ChatMessages(ctx, chat.ID)
	if err != nil {
		t.Fatalf("chat messages: %v", err)
	}
	if len(msgs) != 2 || msgs[0].ID != userID || msgs[1].ID != asstID {
		t.Fatalf("messages = %+v", msgs)
	}
	user, asst := msgs[0], msgs[1]
	if user.Role != RoleUser || string(user.ToolCalls) != "[]" || user.LatencyMS != nil {
		t.Errorf("user message = %+v", user)
	}
	if asst.Role != RoleAssistant || asst.Model != "gpt-4o" || asst.LatencyMS == nil || *asst.LatencyMS != 812 {
		t.Errorf("assistant message = %+v", asst)
	}
	var calls []recordedCall
	if err := json.Unmarshal(asst.ToolCalls, &calls); err != nil || len(calls) != 1 || calls[0].Name != "lookup_structured_data" {
		t.Errorf("tool calls = %s, %v", asst.ToolCalls, err)
	}
	if string(asst.Sources) != "[]" {
		t.Errorf("nil sources should persist as [], got %s", asst.Sources)
	}

	empty, err := s.ChatMessages(ctx, "no-such-chat")
	if err != nil || len(empty) != 0 {
		t.Errorf("messages of unknown chat = %v, %v", empty, err)
	}
	if _, err := s.SaveUserMessage(ctx, "no-such-chat", "hi"); err == nil {
		t.Error("expected error saving into an unknown chat")
	}
}

func Test_Store_ListUserChats(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	older, _ := s.GetOrCreateChat(ctx, "", "u1")
	newer, _ := s.GetOrCreateChat(ctx, "", "u1")
	other, _ := s.GetOrCreateChat(ctx, "", "u2")
	for _, c := range []*Chat{older, older, other} {
		if _, err := s.SaveUserMessage(ctx, c.ID, "hello"); err != nil {
			t.Fatalf("save: %v", err)
		}
	}

	list, err := s.ListUserChats(ctx, "u1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("want 2 chats for u1, got %d", len(list))
	}
	// older was touched last, so it sorts first.
	if list[0].ID != older.ID || list[0].MessageCount != 2 {
		t.Errorf("list[0] = %+v, want older chat with 2 messages", list[0])
	}
	if list[1].ID != newer.ID || list[1].MessageCount != 0 || list[1].Title != "" {
		t.Errorf("list[1] = %+v, want empty newer chat", list[1])
	}

	none, err := s.ListUserChats(ctx, "nobody")
	if err != nil || none == nil || len(none) != 0 {
		t.Errorf("list for unknown user = %#v, %v; want empty non-nil", none, err)
	}
}

func Test_ProvisionalTitle(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"short", "  pets in the office? ", "pets in the office?"},
		{"exact", strings.Repeat("x", 80), strings.Repeat("x", 80)},
		{"long", strings.Repeat("y", 81), strings.Repeat("y", 80) + "..."},
		{"multibyte", strings.Repeat("é", 90), strings.Repeat("é", 80) + "..."},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := ProvisionalTitle(tc.in); got != tc.want {
				t.Errorf("ProvisionalTitle() = %q, want %q", got, tc.want)
			}
		})
	}
}
