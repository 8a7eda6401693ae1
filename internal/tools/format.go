package tools

import (
	"fmt"
	"strings"

	"github.com/54b3r/kbai-go/internal/rag"
)

// NoDocumentsMessage is returned by the search tool for an empty result set.
const NoDocumentsMessage = "No relevant documents found in the knowledge base for this query."

// resultDelimiter separates result blocks in the search tool output.
const resultDelimiter = "\n---\n"

// Source is a citation extracted from a search tool result block.
type Source struct {
	Document string `json:"document"`
	Section  string `json:"section"`
	Date     string `json:"date"`
}

// FormatResults renders retrieval results as numbered text blocks, one per
// result, for the model to read and cite.
func FormatResults(results []rag.RetrievalResult) string {
	if len(results) == 0 {
		return NoDocumentsMessage
	}
	parts := make([]string, len(results))
	for i, r := range results {
		parts[i] = fmt.Sprintf("[Result %d]\nDocument: %s\nCategory: %s\nSection: %s\nLast Updated: %s\nRelevance Score: %.4f\nContent:\n%s\n",
			i+1,
			r.DocumentName,
			r.Category,
			orDefault(r.SectionHeader, "N/A"),
			orDefault(r.LastUpdated, "Unknown"),
			r.Score,
			r.GenerationText,
		)
	}
	return strings.Join(parts, resultDelimiter)
}

// ParseSources extracts the Document, Section and Last Updated fields from
// each block of a search tool result. Blocks without a Document line are
// skipped.
func ParseSources(output string) []Source {
	var sources []Source
	for _, block := range strings.Split(output, "---") {
		var doc, section, date string
		for _, line := range strings.Split(strings.TrimSpace(block), "\n") {
			switch {
			case strings.HasPrefix(line, "Document:"):
				doc = fieldValue(line)
			case strings.HasPrefix(line, "Section:"):
				section = fieldValue(line)
			case strings.HasPrefix(line, "Last Updated:"):
				date = fieldValue(line)
			}
		}
		if doc == "" {
			continue
		}
		sources = append(sources, Source{
			Document: doc,
			Section:  orDefault(section, "N/A"),
			Date:     orDefault(date, "Unknown"),
		})
	}
	return sources
}

func fieldValue(line string) string {
	_, v, _ := strings.Cut(line, ":")
	return strings.TrimSpace(v)
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
