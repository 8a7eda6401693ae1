package knowledge

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// Structured data file names inside the structured data directory.
const (
	KPICatalogFile = "kpi_catalog.csv"
	DirectoryFile  = "directory.json"
)

// KPI is one row of the KPI catalog.
type KPI struct {
	Name          string
	Definition    string
	OwnerTeam     string
	PrimarySource string
	LastUpdated   string
}

// Employee is one row of the employee directory.
type Employee struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Team     string `json:"team"`
	Role     string `json:"role"`
	Timezone string `json:"timezone"`
}

// ReadKPICatalog parses a KPI catalog CSV with a header row naming the
// kpi_name, definition, owner_team, primary_source and optional last_updated
// columns.
func ReadKPICatalog(path string) ([]KPI, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("knowledge: open KPI catalog: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.TrimLeadingSpace = true
	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("knowledge: read KPI catalog header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, h := range header {
		col[strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))] = i
	}
	for _, required := range []string{"kpi_name", "definition", "owner_team", "primary_source"} {
		if _, ok := col[required]; !ok {
			return nil, fmt.Errorf("knowledge: KPI catalog is missing column %q", required)
		}
	}
	field := func(rec []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	var kpis []KPI
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("knowledge: read KPI catalog: %w", err)
		}
		kpis = append(kpis, KPI{
			Name:          field(rec, "kpi_name"),
			Definition:    field(rec, "definition"),
			OwnerTeam:     field(rec, "owner_team"),
			PrimarySource: field(rec, "primary_source"),
			LastUpdated:   field(rec, "last_updated"),
		})
	}
	return kpis, nil
}

// ReadDirectory parses the employee directory JSON array.
func ReadDirectory(path string) ([]Employee, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("knowledge: open directory: %w", err)
	}
	var employees []Employee
	if err := json.Unmarshal(data, &employees); err != nil {
		return nil, fmt.Errorf("knowledge: decode directory: %w", err)
	}
	for i := range employees {
		e := &employees[i]
		e.Name = strings.TrimSpace(e.Name)
		e.Email = strings.TrimSpace(e.Email)
		e.Team = strings.TrimSpace(e.Team)
		e.Role = strings.TrimSpace(e.Role)
		e.Timezone = strings.TrimSpace(e.Timezone)
	}
	return employees, nil
}

// ValidateKPIs reports missing required fields. It returns nil when every
// row is complete.
func ValidateKPIs(kpis []KPI) []string {
	var issues []string
	for i, k := range kpis {
		for _, f := range []struct{ name, value string }{
			{"kpi_name", k.Name},
			{"definition", k.Definition},
			{"owner_team", k.OwnerTeam},
			{"primary_source", k.PrimarySource},
		} {
			if f.value == "" {
				issues = append(issues, fmt.Sprintf("KPI %d: missing %s", i+1, f.name))
			}
		}
	}
	return issues
}

// ValidateEmployees reports missing required fields and duplicate emails.
func ValidateEmployees(employees []Employee) []string {
	var issues []string
	seen := make(map[string]bool, len(employees))
	for i, e := range employees {
		for _, f := range []struct{ name, value string }{
			{"name", e.Name},
			{"email", e.Email},
			{"team", e.Team},
			{"role", e.Role},
			{"timezone", e.Timezone},
		} {
			if f.value == "" {
				issues = append(issues, fmt.Sprintf("employee %d: missing %s", i+1, f.name))
			}
		}
		if seen[e.Email] {
			issues = append(issues, fmt.Sprintf("employee %d: duplicate email %s", i+1, e.Email))
		}
		seen[e.Email] = true
	}
	return issues
}

// UpsertKPIs inserts KPIs, updating existing rows matched by kpi_name.
func (s *Store) UpsertKPIs(ctx context.Context, kpis []KPI) error {
	const q = `
INSERT INTO kpi_catalog (kpi_name, definition, owner_team, primary_source, last_updated)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(kpi_name) DO UPDATE SET
    definition     = excluded.definition,
    owner_team     = excluded.owner_team,
    primary_source = excluded.primary_source,
    last_updated   = excluded.last_updated`

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("knowledge: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, k := range kpis {
		if _, err := tx.ExecContext(ctx, q, k.Name, k.Definition, k.OwnerTeam, k.PrimarySource, nullable(k.LastUpdated)); err != nil {
			return fmt.Errorf("knowledge: upsert KPI %q: %w", k.Name, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("knowledge: commit: %w", err)
	}
	return nil
}

// UpsertEmployees inserts employees, updating existing rows matched by email.
func (s *Store) UpsertEmployees(ctx context.Context, employees []Employee) error {
	const q = `
INSERT INTO directory (name, email, team, role, timezone)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(email) DO UPDATE SET
    name     = excluded.name,
    team     = excluded.team,
    role     = excluded.role,
    timezone = excluded.timezone`

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("knowledge: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, e := range employees {
		if _, err := tx.ExecContext(ctx, q, e.Name, e.Email, e.Team, e.Role, e.Timezone); err != nil {
			return fmt.Errorf("knowledge: upsert employee %q: %w", e.Email, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("knowledge: commit: %w", err)
	}
	return nil
}
