package knowledge

import (
	"context"
	"database/sql/driver"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// TableSchemas describes the structured tables to the language model.
const TableSchemas = `Available tables and their schemas:

TABLE: kpi_catalog
  - id: INTEGER (primary key)
  - kpi_name: TEXT (unique, indexed)
  - definition: TEXT
  - owner_team: TEXT (indexed)
  - primary_source: TEXT
  - last_updated: TEXT
  - created_at: DATETIME

TABLE: directory
  - id: INTEGER (primary key)
  - name: TEXT
  - email: TEXT (unique, indexed)
  - team: TEXT (indexed)
  - role: TEXT
  - timezone: TEXT
  - created_at: DATETIME
`

// Fixed replies of the read-only query guard.
const (
	ErrOnlySelect      = "Error: Only SELECT queries are allowed."
	ErrMultiStatements = "Error: Only a single SELECT statement is allowed."
	NoResults          = "No results found."
)

// forbiddenKeywords are rejected when they appear as whole whitespace-separated
// tokens, checked in this order.
var forbiddenKeywords = []string{
	"drop", "delete", "insert", "update", "alter", "create", "replace", "attach", "detach",
}

// QueryReadOnly runs a single SELECT statement and renders the result as a
// pipe-delimited table: a header row, a row of "---" separators, then one
// row per result with NULL rendered as "". It never returns a Go error; every
// failure is reported in the returned text so the model can react to it.
func (s *Store) QueryReadOnly(ctx context.Context, query string) string {
	stmt := strings.TrimSpace(query)
	if !strings.HasPrefix(strings.ToUpper(stmt), "SELECT") {
		return ErrOnlySelect
	}
	tokens := make(map[string]bool)
	for _, tok := range strings.Fields(strings.ToLower(stmt)) {
		tokens[tok] = true
	}
	for _, kw := range forbiddenKeywords {
		if tokens[kw] {
			return fmt.Sprintf("Error: %s operations are not allowed.", strings.ToUpper(kw))
		}
	}
	stmt, ok := singleStatement(stmt)
	if !ok {
		return ErrMultiStatements
	}
	return s.queryOnly(ctx, stmt)
}

// singleStatement strips trailing semicolons from stmt and reports whether
// what remains is one statement. Semicolons inside quoted literals or
// identifiers do not count.
func singleStatement(stmt string) (string, bool) {
	var quote rune
	for i, r := range stmt {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			}
		case r == '\'' || r == '"' || r == '`':
			quote = r
		case r == ';':
			rest := strings.TrimLeft(stmt[i:], "; \t\r\n")
			if rest != "" {
				return "", false
			}
			return stmt[:i], true
		}
	}
	return stmt, true
}

// queryOnly runs stmt on a connection switched to PRAGMA query_only inside a
// transaction that is always rolled back, so nothing it contains can write.
func (s *Store) queryOnly(ctx context.Context, stmt string) string {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Sprintf("SQL Error: %v", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "PRAGMA query_only = ON"); err != nil {
		return fmt.Sprintf("SQL Error: %v", err)
	}
	defer func() {
		if _, err := conn.ExecContext(context.Background(), "PRAGMA query_only = OFF"); err != nil {
			// Evict the connection rather than return a read-only one to the pool.
			_ = conn.Raw(func(any) error { return driver.ErrBadConn })
		}
	}()

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Sprintf("SQL Error: %v", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, stmt)
	if err != nil {
		return fmt.Sprintf("SQL Error: %v", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return fmt.Sprintf("SQL Error: %v", err)
	}

	var lines []string
	values := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return fmt.Sprintf("SQL Error: %v", err)
		}
		cells := make([]string, len(values))
		for i, v := range values {
			cells[i] = formatCell(v)
		}
		lines = append(lines, strings.Join(cells, " | "))
	}
	if err := rows.Err(); err != nil {
		return fmt.Sprintf("SQL Error: %v", err)
	}
	if len(lines) == 0 {
		return NoResults
	}

	sep := make([]string, len(cols))
	for i := range sep {
		sep[i] = "---"
	}
	header := []string{strings.Join(cols, " | "), strings.Join(sep, " | ")}
	return strings.Join(append(header, lines...), "\n")
}

// formatCell renders one scanned value the way it reads in a table cell.
func formatCell(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case []byte:
		return string(x)
	case string:
		return x
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	case time.Time:
		return x.UTC().Format("2006-01-02 15:04:05")
	default:
		return fmt.Sprint(x)
	}
}
