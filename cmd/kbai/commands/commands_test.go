package commands

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/54b3r/kbai-go/internal/agent"
	"github.com/54b3r/kbai-go/internal/embedder"
	"github.com/54b3r/kbai-go/internal/rag"
	"github.com/54b3r/kbai-go/internal/tools"
)

func TestReadSeedFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	write := func(name, body string) string {
		t.Helper()
		p := filepath.Join(dir, name)
		if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
		return p
	}

	good := write("users.yaml", "users:\n  - name: Alice Smith\n    email: alice@example.com\n  - name: Bob\n    email: bob@example.com\n")
	users, err := readSeedFile(good)
	if err != nil {
		t.Fatalf("readSeedFile: %v", err)
	}
	if len(users) != 2 || users[0].Name != "Alice Smith" || users[1].Email != "bob@example.com" {
		t.Errorf("users = %+v", users)
	}

	tests := []struct {
		name string
		path string
	}{
		{"missing file", filepath.Join(dir, "nope.yaml")},
		{"invalid yaml", write("bad.yaml", "users: [unterminated")},
		{"empty list", write("empty.yaml", "users: []\n")},
		{"missing email", write("noemail.yaml", "users:\n  - name: Carol\n")},
	}
	for _, tc := range tests {
		if _, err := readSeedFile(tc.path); err == nil {
			t.Errorf("%s: expected error", tc.name)
		}
	}
}

func TestConfirmed(t *testing.T) {
	t.Parallel()

	for answer, want := range map[string]bool{
		"y\n":   true,
		"YES\n": true,
		" yes ": true,
		"\n":    false,
		"no\n":  false,
		"yep":   false,
	} {
		if got := confirmed(answer); got != want {
			t.Errorf("confirmed(%q) = %v, want %v", answer, got, want)
		}
	}
}

func TestSplitList(t *testing.T) {
	t.Parallel()

	got := splitList(" https://a.example.com, ,https://b.example.com ,")
	if len(got) != 2 || got[0] != "https://a.example.com" || got[1] != "https://b.example.com" {
		t.Errorf("splitList = %q", got)
	}
	if splitList("") != nil {
		t.Error("empty input should yield nil")
	}
}

func TestDBPaths_FromEnv(t *testing.T) {
	t.Setenv("KBAI_KNOWLEDGE_DB", "/data/kb.db")
	t.Setenv("KBAI_HISTORY_DB", "/data/history.db")

	if p, err := knowledgeDBPath(); err != nil || p != "/data/kb.db" {
		t.Errorf("knowledgeDBPath = %q, %v", p, err)
	}
	if p, err := historyDBPath(); err != nil || p != "/data/history.db" {
		t.Errorf("historyDBPath = %q, %v", p, err)
	}
}

func TestOpenKnowledgeBase_SQLiteBackend(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "knowledge.db")
	t.Setenv("KBAI_KNOWLEDGE_DB", dbPath)
	t.Setenv("VECTOR_BACKEND", "")

	ctx := context.Background()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	emb := embedder.NewMock(8)

	// Seed one chunk so the in-memory index has something to load.
	kb, err := openKnowledgeBase(ctx, log, emb)
	if err != nil {
		t.Fatalf("openKnowledgeBase: %v", err)
	}
	chunk := rag.Chunk{
		ID:             "returns_policy.md::0",
		DocumentName:   "returns_policy.md",
		Category:       "policies",
		SectionHeader:  "Refund window",
		RetrievalText:  "annual plans can be refunded within 30 days",
		GenerationText: "## Refund window\nAnnual plans can be refunded within 30 days.",
	}
	vec, err := embedder.EmbedOne(ctx, emb, chunk.RetrievalText)
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if err := kb.store.InsertChunks(ctx, []rag.Chunk{chunk}, []string{chunk.RetrievalText}, [][]float32{vec}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	kb.Close()

	kb, err = openKnowledgeBase(ctx, log, emb)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer kb.Close()

	if kb.qdrant != nil {
		t.Error("qdrant index set for sqlite backend")
	}
	mem, ok := kb.vectors.(*rag.MemoryIndex)
	if !ok || mem.Len() != 1 {
		t.Fatalf("vectors = %T, want memory index with 1 record", kb.vectors)
	}

	retriever, err := kb.retriever(log, nil)
	if err != nil {
		t.Fatalf("retriever: %v", err)
	}
	results, err := retriever.Search(ctx, rag.SearchRequest{Query: "refund annual plans"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 1 || results[0].ID != chunk.ID {
		t.Errorf("results = %+v", results)
	}
}

func TestOpenKnowledgeBase_UnknownBackend(t *testing.T) {
	t.Setenv("KBAI_KNOWLEDGE_DB", filepath.Join(t.TempDir(), "knowledge.db"))
	t.Setenv("VECTOR_BACKEND", "pinecone")

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	if _, err := openKnowledgeBase(context.Background(), log, embedder.NewMock(8)); err == nil ||
		!strings.Contains(err.Error(), "pinecone") {
		t.Errorf("err = %v, want unsupported backend error", err)
	}
}

func TestPrintSources(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	printSources(&buf, &agent.Result{
		Sources: []tools.Source{
			{Document: "returns_policy.md", Section: "Refund window", Date: "2024-03-01"},
			{Document: "glossary.md"},
		},
		ToolCalls: []agent.ToolCall{{Name: tools.SearchKnowledgeBaseName}},
		LatencyMS: 420,
	})

	out := buf.String()
	for _, want := range []string{
		"returns_policy.md > Refund window (2024-03-01)",
		"  - glossary.md\n",
		"Tools: search_knowledge_base (420ms)",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestVersionCmd(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	cmd := NewVersionCmd()
	cmd.SetOut(&buf)
	cmd.SetArgs(nil)
	if err := cmd.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !strings.HasPrefix(buf.String(), "kbai dev") {
		t.Errorf("version output = %q", buf.String())
	}
}
