package knowledge

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/54b3r/kbai-go/internal/chunker"
	"github.com/54b3r/kbai-go/internal/rag"
)

// openTestStore opens an in-memory Store for use in tests.
func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open in-memory store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testChunk(id, category, text string) rag.Chunk {
	return rag.Chunk{
		ID:             id,
		DocumentName:   id + ".md",
		Category:       category,
		SectionHeader:  "Section " + id,
		RetrievalText:  text,
		GenerationText: "# Section " + id + "\n" + text,
		LastUpdated:    "2024-02-01",
		WordCount:      chunker.CountTokens(text),
		Metadata:       rag.ChunkMetadata{FilePath: "docs/" + id + ".md", DocumentTitle: "Doc " + id, TotalChunks: 1, Sections: []string{"Section " + id}},
	}
}

func seedChunks(t *testing.T, s *Store, chunks ...rag.Chunk) {
	t.Helper()
	lexical := make([]string, len(chunks))
	vectors := make([][]float32, len(chunks))
	for i, c := range chunks {
		lexical[i] = chunker.LexicalText(c.RetrievalText)
		vectors[i] = []float32{float32(i + 1), 0.5}
	}
	if err := s.InsertChunks(context.Background(), chunks, lexical, vectors); err != nil {
		t.Fatalf("InsertChunks: %v", err)
	}
}

func Test_Store_InsertAndGetChunk(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	in := testChunk("returns", "policies", "Refunds are processed within 14 days.")
	seedChunks(t, s, in)

	got, ok, err := s.GetChunk(context.Background(), "returns")
	if err != nil || !ok {
		t.Fatalf("GetChunk: ok=%v err=%v", ok, err)
	}
	if got.GenerationText != in.GenerationText || got.Category != "policies" || got.LastUpdated != "2024-02-01" {
		t.Errorf("got %+v", got)
	}
	if got.Metadata.DocumentTitle != "Doc returns" || len(got.Metadata.Sections) != 1 {
		t.Errorf("metadata = %+v", got.Metadata)
	}

	if _, ok, err := s.GetChunk(context.Background(), "missing"); ok || err != nil {
		t.Errorf("missing chunk: ok=%v err=%v", ok, err)
	}
}

func Test_Store_InsertChunksIsIdempotent(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	c := testChunk("returns", "policies", "Refunds are processed within 14 days.")
	seedChunks(t, s, c)
	seedChunks(t, s, c)

	st, err := s.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if st.TotalChunks != 1 || st.TotalEmbeddings != 1 {
		t.Errorf("stats after re-insert = %+v", st)
	}
	hits, _ := s.SearchLexical(context.Background(), "refunds", 10, "")
	if len(hits) != 1 {
		t.Errorf("want one FTS row after re-insert, got %d", len(hits))
	}
}

func Test_Store_InsertChunksLengthMismatch(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	err := s.InsertChunks(context.Background(), []rag.Chunk{testChunk("a", "domain", "x")}, nil, nil)
	if err == nil {
		t.Fatal("want error for mismatched slices")
	}
}

func Test_Store_SearchLexical(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	seedChunks(t, s,
		testChunk("returns", "policies", "Refunds are processed within 14 days of the return."),
		testChunk("oncall", "runbooks", "Page the on-call engineer when checkout latency spikes."),
		testChunk("gmv", "domain", "Gross merchandise value counts refunds separately."),
	)
	ctx := context.Background()

	hits, err := s.SearchLexical(ctx, "How are refunds processed?", 10, "")
	if err != nil {
		t.Fatalf("SearchLexical: %v", err)
	}
	if len(hits) != 2 || hits[0].ChunkID != "returns" {
		t.Fatalf("hits = %+v", hits)
	}

	hits, err = s.SearchLexical(ctx, "refunds", 10, "domain")
	if err != nil {
		t.Fatalf("SearchLexical with category: %v", err)
	}
	if len(hits) != 1 || hits[0].ChunkID != "gmv" {
		t.Errorf("category hits = %+v", hits)
	}
}

func Test_Store_SearchLexicalToleratesSyntax(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	seedChunks(t, s, testChunk("returns", "policies", "Refunds are processed within 14 days."))

	for _, q := range []string{`"unbalanced refunds`, `refunds AND OR NOT (`, `*`, `???`, ``} {
		if _, err := s.SearchLexical(context.Background(), q, 10, ""); err != nil {
			t.Errorf("SearchLexical(%q) = %v", q, err)
		}
	}
}

func Test_MatchExpression(t *testing.T) {
	t.Parallel()
	if got := MatchExpression(`refunds "processed" refunds`); got != `"refund" OR "process"` {
		t.Errorf("got %q", got)
	}
	if got := MatchExpression("a an the"); got != "" {
		t.Errorf("got %q, want empty", got)
	}
}

func Test_Store_LoadEmbeddings(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	seedChunks(t, s,
		testChunk("a", "domain", "alpha"),
		testChunk("b", "runbooks", "bravo"),
	)
	recs, err := s.LoadEmbeddings(context.Background())
	if err != nil {
		t.Fatalf("LoadEmbeddings: %v", err)
	}
	if len(recs) != 2 || recs[0].ChunkID != "a" || recs[1].Category != "runbooks" {
		t.Fatalf("records = %+v", recs)
	}
	if len(recs[1].Vector) != 2 || recs[1].Vector[0] != 2 || recs[1].Vector[1] != 0.5 {
		t.Errorf("vector = %v", recs[1].Vector)
	}
}

func Test_Store_ResetDocuments(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()
	seedChunks(t, s, testChunk("a", "domain", "alpha"))
	if err := s.UpsertKPIs(ctx, []KPI{{Name: "GMV", Definition: "d", OwnerTeam: "Finance", PrimarySource: "dw"}}); err != nil {
		t.Fatalf("UpsertKPIs: %v", err)
	}

	if err := s.ResetDocuments(ctx); err != nil {
		t.Fatalf("ResetDocuments: %v", err)
	}
	st, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if st.TotalChunks != 0 || st.TotalEmbeddings != 0 || st.TotalKPIs != 1 {
		t.Errorf("stats after reset = %+v", st)
	}
}

func Test_ReadStructuredFiles(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	csvPath := filepath.Join(dir, KPICatalogFile)
	jsonPath := filepath.Join(dir, DirectoryFile)
	csvData := "kpi_name,definition,owner_team,primary_source,last_updated\n" +
		"GMV, Gross merchandise value ,Finance,warehouse.orders,2024-01-15\n" +
		"AOV,Average order value,Finance,warehouse.orders,\n"
	jsonData := `[{"name":" Ada Lovelace ","email":"ada@northwind.example","team":"Data","role":"Analyst","timezone":"UTC"},
{"name":"Bob","email":"ada@northwind.example","team":"","role":"SRE","timezone":"UTC"}]`
	if err := os.WriteFile(csvPath, []byte(csvData), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(jsonPath, []byte(jsonData), 0o600); err != nil {
		t.Fatal(err)
	}

	kpis, err := ReadKPICatalog(csvPath)
	if err != nil {
		t.Fatalf("ReadKPICatalog: %v", err)
	}
	if len(kpis) != 2 || kpis[0].Definition != "Gross merchandise value" || kpis[1].LastUpdated != "" {
		t.Errorf("kpis = %+v", kpis)
	}
	if issues := ValidateKPIs(kpis); len(issues) != 0 {
		t.Errorf("unexpected KPI issues: %v", issues)
	}

	emps, err := ReadDirectory(jsonPath)
	if err != nil {
		t.Fatalf("ReadDirectory: %v", err)
	}
	if emps[0].Name != "Ada Lovelace" {
		t.Errorf("name not trimmed: %q", emps[0].Name)
	}
	issues := ValidateEmployees(emps)
	if len(issues) != 2 {
		t.Errorf("want missing team and duplicate email, got %v", issues)
	}
}

func Test_Store_UpsertStructuredByKey(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()
	emp := Employee{Name: "Ada", Email: "ada@northwind.example", Team: "Data", Role: "Analyst", Timezone: "UTC"}
	if err := s.UpsertEmployees(ctx, []Employee{emp}); err != nil {
		t.Fatalf("UpsertEmployees: %v", err)
	}
	emp.Team = "Platform"
	if err := s.UpsertEmployees(ctx, []Employee{emp}); err != nil {
		t.Fatalf("UpsertEmployees again: %v", err)
	}
	got := s.QueryReadOnly(ctx, "SELECT name, team FROM directory")
	if want := "name | team\n--- | ---\nAda | Platform"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func Test_Store_QueryReadOnly(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()
	err := s.UpsertKPIs(ctx, []KPI{
		{Name: "GMV", Definition: "Gross merchandise value", OwnerTeam: "Finance", PrimarySource: "dw", LastUpdated: "2024-01-15"},
		{Name: "AOV", Definition: "Average order value", OwnerTeam: "Finance", PrimarySource: "dw"},
	})
	if err != nil {
		t.Fatalf("UpsertKPIs: %v", err)
	}

	cases := []struct {
		name  string
		query string
		want  string
	}{
		{"table", "SELECT kpi_name, last_updated FROM kpi_catalog ORDER BY kpi_name", "kpi_name | last_updated\n--- | ---\nAOV | \nGMV | 2024-01-15"},
		{"count", "  select count(*) AS n from kpi_catalog", "n\n---\n2"},
		{"empty", "SELECT * FROM kpi_catalog WHERE kpi_name = 'NOPE'", NoResults},
		{"not select", "DELETE FROM kpi_catalog", ErrOnlySelect},
		{"with cte", "WITH x AS (SELECT 1) SELECT * FROM x", ErrOnlySelect},
		{"forbidden token", "SELECT * FROM kpi_catalog; drop table kpi_catalog", "Error: DROP operations are not allowed."},
		{"first forbidden wins", "SELECT 1; insert into x; delete from y", "Error: DELETE operations are not allowed."},
		{"glued second statement", "SELECT 1;DELETE FROM kpi_catalog", ErrMultiStatements},
		{"glued commit then write", "SELECT 1;COMMIT;DELETE FROM kpi_catalog", ErrMultiStatements},
		{"trailing semicolon", "SELECT count(*) AS n FROM kpi_catalog; \n", "n\n---\n2"},
		{"semicolon in literal", "SELECT kpi_name FROM kpi_catalog WHERE definition = 'a;DELETE FROM kpi_catalog'", NoResults},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := s.QueryReadOnly(ctx, tc.query); got != tc.want {
				t.Errorf("got %q, want %q", got, tc.want)
			}
		})
	}

	if got := s.QueryReadOnly(ctx, "SELECT * FROM missing_table"); !strings.HasPrefix(got, "SQL Error: ") {
		t.Errorf("got %q, want SQL Error prefix", got)
	}
	if got := s.QueryReadOnly(ctx, "SELECT count(*) AS n FROM kpi_catalog"); got != "n\n---\n2" {
		t.Errorf("data changed after guarded queries: %q", got)
	}
}

func Test_Store_QueryOnlyConnectionCannotWrite(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()
	emp := Employee{Name: "Ada", Email: "ada@northwind.example", Team: "Data", Role: "Analyst", Timezone: "UTC"}
	if err := s.UpsertEmployees(ctx, []Employee{emp}); err != nil {
		t.Fatalf("UpsertEmployees: %v", err)
	}

	// Statements that get past the text checks still run on a query_only
	// connection.
	for _, stmt := range []string{
		"SELECT 1;DELETE FROM directory",
		"SELECT 1;COMMIT;DELETE FROM directory",
	} {
		_ = s.queryOnly(ctx, stmt)
		if got := s.QueryReadOnly(ctx, "SELECT count(*) AS n FROM directory"); got != "n\n---\n1" {
			t.Fatalf("after %q: %q, want the row kept", stmt, got)
		}
	}

	// The connection is writable again for regular store operations.
	emp.Team = "Platform"
	if err := s.UpsertEmployees(ctx, []Employee{emp}); err != nil {
		t.Fatalf("UpsertEmployees after guarded query: %v", err)
	}
	if got := s.QueryReadOnly(ctx, "SELECT team FROM directory"); got != "team\n---\nPlatform" {
		t.Errorf("got %q", got)
	}
}

func Test_singleStatement(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in     string
		want   string
		wantOK bool
	}{
		{"SELECT 1", "SELECT 1", true},
		{"SELECT 1;", "SELECT 1", true},
		{"SELECT 1 ;; \n", "SELECT 1 ", true},
		{"SELECT 1;SELECT 2", "", false},
		{"SELECT ';' AS s", "SELECT ';' AS s", true},
		{`SELECT "a;b" FROM t; DROP`, "", false},
	}
	for _, tc := range cases {
		got, ok := singleStatement(tc.in)
		if got != tc.want || ok != tc.wantOK {
			t.Errorf("singleStatement(%q) = %q, %v; want %q, %v", tc.in, got, ok, tc.want, tc.wantOK)
		}
	}
}
