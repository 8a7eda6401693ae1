// Package store provides the SQLite-backed chat history for the knowledge
// assistant: users, their chats and the messages in each chat. It lives in
// its own database file so the knowledge base can be reset and re-ingested
// without touching conversations.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // register "sqlite" driver
)

// ErrNotFound is returned when a user or chat does not exist.
var ErrNotFound = errors.New("store: not found")

// Role identifies the author of a message.
type Role string

const (
	// RoleUser is a message sent by the employee.
	RoleUser Role = "user"
	// RoleAssistant is a message produced by the assistant.
	RoleAssistant Role = "assistant"
)

// provisionalTitleLen is how much of the first user message becomes the
// chat title until a generated one replaces it.
const provisionalTitleLen = 80

// User is a person who can own chats.
type User struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Chat is one conversation thread.
type Chat struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`
	// Title is empty until the first user message is saved.
	Title string `json:"title"`
	// TitleGenerated is true once the title came from the model rather than
	// the first message.
	TitleGenerated bool      `json:"title_generated"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Message is a persisted turn.
type Message struct {
	ID      string `json:"id"`
	ChatID  string `json:"chat_id"`
	Role    Role   `json:"role"`
	Content string `json:"content"`
	// ToolCalls and Sources hold the JSON arrays saved with an assistant
	// message; both are "[]" for user messages.
	ToolCalls json.RawMessage `json:"tool_calls"`
	Sources   json.RawMessage `json:"sources"`
	Model     string          `json:"model,omitempty"`
	LatencyMS *int64          `json:"latency_ms,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// ChatSummary is a chat listing entry.
type ChatSummary struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	MessageCount int       `json:"message_count"`
}

// AssistantMessage is the metadata saved with an assistant reply. ToolCalls
// and Sources are marshalled to JSON; nil becomes an empty array.
type AssistantMessage struct {
	Content   string
	ToolCalls any
	Sources   any
	Model     string
	LatencyMS int64
}

// SeedUser is a pre-registered account created at startup.
type SeedUser struct {
	Name  string `yaml:"name" json:"name"`
	Email string `yaml:"email" json:"email"`
}

// ChatStore is the chat history surface used by the HTTP server and CLI.
// Implementations must be safe for concurrent use.
type ChatStore interface {
	CreateUser(ctx context.Context, name, email string) (*User, error)
	GetUser(ctx context.Context, id string) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	EnsureUser(ctx context.Context, id string) (*User, error)
	EnsureUserByEmail(ctx context.Context, name, email string) (*User, error)
	SeedUsers(ctx context.Context, users []SeedUser) (int, error)

	GetChat(ctx context.Context, id string) (*Chat, error)
	GetOrCreateChat(ctx context.Context, chatID, userID string) (*Chat, error)
	UpdateTitle(ctx context.Context, chatID, title string, generated bool) error
	ListUserChats(ctx context.Context, userID string) ([]ChatSummary, error)

	SaveUserMessage(ctx context.Context, chatID, content string) (string, error)
	SaveAssistantMessage(ctx context.Context, chatID string, msg AssistantMessage) (string, error)
	ChatMessages(ctx context.Context, chatID string) ([]Message, error)

	Ping(ctx context.Context) error
	Close() error
}

// SQLiteStore is a ChatStore backed by a local SQLite database.
type SQLiteStore struct {
	// db is the underlying database connection pool.
	db *sql.DB
	// now is replaceable in tests.
	now func() time.Time
}

var _ ChatStore = (*SQLiteStore)(nil)

// Open opens (or creates) a SQLiteStore at the given path and runs the schema
// migration. Use ":memory:" for an in-memory database in tests.
func Open(path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("store: create directory for %s: %w", path, err)
		}
	}
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	// Limit to a single writer connection to avoid SQLITE_BUSY under concurrent writes.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, now: time.Now}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// migrate creates the schema if it does not already exist. Timestamps are
// Unix milliseconds.
func (s *SQLiteStore) migrate() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS users (
    id         TEXT PRIMARY KEY,
    name       TEXT NOT NULL,
    email      TEXT UNIQUE,
    created_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS chats (
    id              TEXT PRIMARY KEY,
    user_id         TEXT NOT NULL REFERENCES users(id),
    title           TEXT,
    title_generated INTEGER NOT NULL DEFAULT 0,
    created_at      INTEGER NOT NULL,
    updated_at      INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS messages (
    id         TEXT PRIMARY KEY,
    chat_id    TEXT NOT NULL REFERENCES chats(id),
    role       TEXT NOT NULL CHECK(role IN ('user','assistant')),
    content    TEXT NOT NULL,
    tool_calls TEXT NOT NULL DEFAULT '[]',
    sources    TEXT NOT NULL DEFAULT '[]',
    model      TEXT,
    latency_ms INTEGER,
    created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_chat_id ON messages (chat_id, created_at);
CREATE INDEX IF NOT EXISTS idx_chats_user_id ON chats (user_id, updated_at);
`
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

func (s *SQLiteStore) stamp() int64 { return s.now().UnixMilli() }

func fromStamp(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

// ─── Users ─────────────────────────────────────────────────────────────────

// CreateUser inserts a user with a new UUID. An empty email is stored as NULL.
func (s *SQLiteStore) CreateUser(ctx context.Context, name, email string) (*User, error) {
	u := &User{ID: uuid.NewString(), Name: name, Email: email, CreatedAt: fromStamp(s.stamp())}
	if err := s.insertUser(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

func (s *SQLiteStore) insertUser(ctx context.Context, u *User) error {
	const q = `INSERT INTO users (id, name, email, created_at) VALUES (?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, q, u.ID, u.Name, nullString(u.Email), u.CreatedAt.UnixMilli()); err != nil {
		return fmt.Errorf("store: create user: %w", err)
	}
	return nil
}

// GetUser returns the user with the given id or ErrNotFound.
func (s *SQLiteStore) GetUser(ctx context.Context, id string) (*User, error) {
	return s.queryUser(ctx, `SELECT id, name, email, created_at FROM users WHERE id = ?`, id)
}

// GetUserByEmail returns the user with the given email or ErrNotFound.
// Emails are compared case-insensitively.
func (s *SQLiteStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return s.queryUser(ctx, `SELECT id, name, email, created_at FROM users WHERE lower(email) = lower(?)`, email)
}

func (s *SQLiteStore) queryUser(ctx context.Context, q string, arg string) (*User, error) {
	var (
		u     User
		email sql.NullString
		ts    int64
	)
	err := s.db.QueryRowContext(ctx, q, arg).Scan(&u.ID, &u.Name, &email, &ts)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get user: %w", err)
	}
	u.Email = email.String
	u.CreatedAt = fromStamp(ts)
	return &u, nil
}

// EnsureUser returns the user with id, creating a placeholder named "User"
// when it does not exist.
func (s *SQLiteStore) EnsureUser(ctx context.Context, id string) (*User, error) {
	u, err := s.GetUser(ctx, id)
	if !errors.Is(err, ErrNotFound) {
		return u, err
	}
	u = &User{ID: id, Name: "User", CreatedAt: fromStamp(s.stamp())}
	if err := s.insertUser(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// EnsureUserByEmail returns the user with email, creating one when needed.
func (s *SQLiteStore) EnsureUserByEmail(ctx context.Context, name, email string) (*User, error) {
	u, err := s.GetUserByEmail(ctx, email)
	if !errors.Is(err, ErrNotFound) {
		return u, err
	}
	return s.CreateUser(ctx, name, strings.ToLower(email))
}

// SeedUsers creates every listed user whose email is not yet registered and
// returns how many were created.
func (s *SQLiteStore) SeedUsers(ctx context.Context, users []SeedUser) (int, error) {
	created := 0
	for _, su := range users {
		if strings.TrimSpace(su.Email) == "" {
			return created, fmt.Errorf("store: seed user %q has no email", su.Name)
		}
		_, err := s.GetUserByEmail(ctx, su.Email)
		if err == nil {
			continue
		}
		if !errors.Is(err, ErrNotFound) {
			return created, err
		}
		if _, err := s.CreateUser(ctx, su.Name, strings.ToLower(su.Email)); err != nil {
			return created, err
		}
		created++
	}
	return created, nil
}

// ─── Chats ─────────────────────────────────────────────────────────────────

// GetChat returns the chat with the given id or ErrNotFound.
func (s *SQLiteStore) GetChat(ctx context.Context, id string) (*Chat, error) {
	const q = `SELECT id, user_id, title, title_generated, created_at, updated_at FROM chats WHERE id = ?`
	var (
		c        Chat
		title    sql.NullString
		gen      int
		cts, uts int64
	)
	err := s.db.QueryRowContext(ctx, q, id).Scan(&c.ID, &c.UserID, &title, &gen, &cts, &uts)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get chat: %w", err)
	}
	c.Title = title.String
	c.TitleGenerated = gen != 0
	c.CreatedAt = fromStamp(cts)
	c.UpdatedAt = fromStamp(uts)
	return &c, nil
}

// GetOrCreateChat returns the chat with chatID, or creates it for userID.
// An empty chatID always creates a chat with a new UUID. The owning user is
// created as a placeholder if needed.
func (s *SQLiteStore) GetOrCreateChat(ctx context.Context, chatID, userID string) (*Chat, error) {
	if chatID != "" {
		c, err := s.GetChat(ctx, chatID)
		if !errors.Is(err, ErrNotFound) {
			return c, err
		}
	} else {
		chatID = uuid.NewString()
	}

	if _, err := s.EnsureUser(ctx, userID); err != nil {
		return nil, err
	}
	now := s.stamp()
	const q = `INSERT INTO chats (id, user_id, title, title_generated, created_at, updated_at) VALUES (?, ?, NULL, 0, ?, ?)`
	if _, err := s.db.ExecContext(ctx, q, chatID, userID, now, now); err != nil {
		return nil, fmt.Errorf("store: create chat: %w", err)
	}
	return &Chat{ID: chatID, UserID: userID, CreatedAt: fromStamp(now), UpdatedAt: fromStamp(now)}, nil
}

// UpdateTitle sets the chat title. generated marks a model-written title.
func (s *SQLiteStore) UpdateTitle(ctx context.Context, chatID, title string, generated bool) error {
	const q = `UPDATE chats SET title = ?, title_generated = ?, updated_at = ? WHERE id = ?`
	res, err := s.db.ExecContext(ctx, q, title, boolInt(generated), s.stamp(), chatID)
	if err != nil {
		return fmt.Errorf("store: update title: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListUserChats returns the user's chats, most recently updated first.
func (s *SQLiteStore) ListUserChats(ctx context.Context, userID string) ([]ChatSummary, error) {
	const q = `
SELECT c.id, c.title, c.created_at, c.updated_at, COUNT(m.id)
FROM   chats c
LEFT JOIN messages m ON m.chat_id = c.id
WHERE  c.user_id = ?
GROUP  BY c.id
ORDER  BY c.updated_at DESC, c.rowid DESC`

	rows, err := s.db.QueryContext(ctx, q, userID)
	if err != nil {
		return nil, fmt.Errorf("store: list chats: %w", err)
	}
	defer rows.Close()

	out := []ChatSummary{}
	for rows.Next() {
		var (
			cs       ChatSummary
			title    sql.NullString
			cts, uts int64
		)
		if err := rows.Scan(&cs.ID, &title, &cts, &uts, &cs.MessageCount); err != nil {
			return nil, fmt.Errorf("store: list chats scan: %w", err)
		}
		cs.Title = title.String
		cs.CreatedAt = fromStamp(cts)
		cs.UpdatedAt = fromStamp(uts)
		out = append(out, cs)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list chats rows: %w", err)
	}
	return out, nil
}

// ─── Messages ──────────────────────────────────────────────────────────────

// SaveUserMessage persists a user message and returns its id. The first
// message of an untitled chat becomes its provisional title.
func (s *SQLiteStore) SaveUserMessage(ctx context.Context, chatID, content string) (string, error) {
	id := uuid.NewString()
	now := s.stamp()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("store: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	const ins = `INSERT INTO messages (id, chat_id, role, content, created_at) VALUES (?, ?, 'user', ?, ?)`
	if _, err := tx.ExecContext(ctx, ins, id, chatID, content, now); err != nil {
		return "", fmt.Errorf("store: save user message: %w", err)
	}
	const title = `UPDATE chats SET title = ? WHERE id = ? AND (title IS NULL OR title = '')`
	if _, err := tx.ExecContext(ctx, title, ProvisionalTitle(content), chatID); err != nil {
		return "", fmt.Errorf("store: set provisional title: %w", err)
	}
	if err := touch(ctx, tx, chatID, now); err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("store: commit: %w", err)
	}
	return id, nil
}

// SaveAssistantMessage persists an assistant reply with its metadata and
// returns its id.
func (s *SQLiteStore) SaveAssistantMessage(ctx context.Context, chatID string, msg AssistantMessage) (string, error) {
	calls, err := jsonArray(msg.ToolCalls)
	if err != nil {
		return "", fmt.Errorf("store: encode tool calls: %w", err)
	}
	sources, err := jsonArray(msg.Sources)
	if err != nil {
		return "", fmt.Errorf("store: encode sources: %w", err)
	}

	id := uuid.NewString()
	now := s.stamp()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("store: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	const ins = `
INSERT INTO messages (id, chat_id, role, content, tool_calls, sources, model, latency_ms, created_at)
VALUES (?, ?, 'assistant', ?, ?, ?, ?, ?, ?)`
	if _, err := tx.ExecContext(ctx, ins, id, chatID, msg.Content, calls, sources,
		nullString(msg.Model), msg.LatencyMS, now); err != nil {
		return "", fmt.Errorf("store: save assistant message: %w", err)
	}
	if err := touch(ctx, tx, chatID, now); err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("store: commit: %w", err)
	}
	return id, nil
}

// ChatMessages returns every message in the chat, oldest first.
func (s *SQLiteStore) ChatMessages(ctx context.Context, chatID string) ([]Message, error) {
	const q = `
SELECT id, chat_id, role, content, tool_calls, sources, model, latency_ms, created_at
FROM   messages
WHERE  chat_id = ?
ORDER  BY created_at ASC, rowid ASC`

	rows, err := s.db.QueryContext(ctx, q, chatID)
	if err != nil {
		return nil, fmt.Errorf("store: chat messages: %w", err)
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var (
			m              Message
			role           string
			calls, sources string
			model          sql.NullString
			latency        sql.NullInt64
			ts             int64
		)
		if err := rows.Scan(&m.ID, &m.ChatID, &role, &m.Content, &calls, &sources, &model, &latency, &ts); err != nil {
			return nil, fmt.Errorf("store: chat messages scan: %w", err)
		}
		m.Role = Role(role)
		m.ToolCalls = rawArray(calls)
		m.Sources = rawArray(sources)
		m.Model = model.String
		if latency.Valid {
			v := latency.Int64
			m.LatencyMS = &v
		}
		m.CreatedAt = fromStamp(ts)
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: chat messages rows: %w", err)
	}
	return msgs, nil
}

// Ping verifies the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("store: ping: %w", err)
	}
	return nil
}

// Close releases the database connection pool.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("store: close: %w", err)
	}
	return nil
}

// ProvisionalTitle truncates the first message to provisionalTitleLen
// characters, marking the cut with "...".
func ProvisionalTitle(content string) string {
	r := []rune(strings.TrimSpace(content))
	if len(r) <= provisionalTitleLen {
		return string(r)
	}
	return strings.TrimSpace(string(r[:provisionalTitleLen])) + "..."
}

func touch(ctx context.Context, tx *sql.Tx, chatID string, now int64) error {
	res, err := tx.ExecContext(ctx, `UPDATE chats SET updated_at = ? WHERE id = ?`, now, chatID)
	if err != nil {
		return fmt.Errorf("store: touch chat: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// jsonArray marshals v, mapping nil to "[]".
func jsonArray(v any) (string, error) {
	if v == nil {
		return "[]", nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	if string(b) == "null" {
		return "[]", nil
	}
	return string(b), nil
}

// rawArray returns s as raw JSON, or "[]" when the column holds garbage.
func rawArray(s string) json.RawMessage {
	if !json.Valid([]byte(s)) {
		return json.RawMessage("[]")
	}
	return json.RawMessage(s)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
