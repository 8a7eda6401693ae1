package knowledge

import (
	"context"
	"fmt"
)

// Stats summarises the knowledge base contents.
type Stats struct {
	TotalChunks      int            `json:"total_chunks"`
	TotalDocuments   int            `json:"total_documents"`
	TotalEmbeddings  int            `json:"total_embeddings"`
	ChunksByCategory map[string]int `json:"chunks_by_category"`
	TotalKPIs        int            `json:"total_kpis"`
	TotalEmployees   int            `json:"total_employees"`
	KPIsByOwner      map[string]int `json:"kpis_by_owner"`
	EmployeesByTeam  map[string]int `json:"employees_by_team"`
}

// Stats counts chunks, documents, embeddings and structured rows.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{}

	scalars := []struct {
		q   string
		dst *int
	}{
		{`SELECT COUNT(*) FROM document_chunks`, &st.TotalChunks},
		{`SELECT COUNT(DISTINCT document_name) FROM document_chunks`, &st.TotalDocuments},
		{`SELECT COUNT(*) FROM chunk_embeddings`, &st.TotalEmbeddings},
		{`SELECT COUNT(*) FROM kpi_catalog`, &st.TotalKPIs},
		{`SELECT COUNT(*) FROM directory`, &st.TotalEmployees},
	}
	for _, sc := range scalars {
		if err := s.db.QueryRowContext(ctx, sc.q).Scan(sc.dst); err != nil {
			return nil, fmt.Errorf("knowledge: stats: %w", err)
		}
	}

	var err error
	if st.ChunksByCategory, err = s.groupCount(ctx, `SELECT category, COUNT(*) FROM document_chunks GROUP BY category`); err != nil {
		return nil, err
	}
	if st.KPIsByOwner, err = s.groupCount(ctx, `SELECT owner_team, COUNT(*) FROM kpi_catalog GROUP BY owner_team`); err != nil {
		return nil, err
	}
	if st.EmployeesByTeam, err = s.groupCount(ctx, `SELECT team, COUNT(*) FROM directory GROUP BY team`); err != nil {
		return nil, err
	}
	return st, nil
}

func (s *Store) groupCount(ctx context.Context, q string) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("knowledge: stats: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var (
			key string
			n   int
		)
		if err := rows.Scan(&key, &n); err != nil {
			return nil, fmt.Errorf("knowledge: stats scan: %w", err)
		}
		out[key] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("knowledge: stats rows: %w", err)
	}
	return out, nil
}
