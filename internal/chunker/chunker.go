// Package chunker splits markdown documents into retrieval units.
//
// Every markdown section becomes one chunk when it fits the token budget.
// Oversized sections are split on paragraph boundaries into several
// retrieval chunks that all carry the full section as their generation text,
// so the answer model always sees the whole section for any sub-chunk hit.
package chunker

import (
	"crypto/md5" //nolint:gosec // ids only, not a security boundary
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/54b3r/kbai-go/internal/rag"
)

const (
	// DefaultMaxTokens is the retrieval chunk budget.
	DefaultMaxTokens = 500
	// DefaultMinTokens is advisory only. Sections are never merged.
	DefaultMinTokens = 300

	preambleTitle   = "Preamble"
	titleScanLines  = 10
	paragraphBreak  = "\n\n"
	chunkIDHashSize = 8
)

var (
	headerRe = regexp.MustCompile(`^(#{1,6})\s+(.+)$`)
	h1Re     = regexp.MustCompile(`^#\s+(.+)$`)
)

// Config holds the chunking budget.
type Config struct {
	// MaxTokens is the largest token count a single retrieval chunk may hold
	// before its section is split by paragraphs. Defaults to DefaultMaxTokens.
	MaxTokens int
	// MinTokens is recorded for callers that report on chunk sizes.
	// Defaults to DefaultMinTokens.
	MinTokens int
}

// Chunker turns markdown into rag.Chunk records. It holds no mutable state
// and is safe for concurrent use.
type Chunker struct {
	maxTokens int
	minTokens int
}

// New constructs a Chunker, applying defaults for zero fields.
func New(cfg *Config) *Chunker {
	if cfg == nil {
		cfg = &Config{}
	}
	c := &Chunker{maxTokens: cfg.MaxTokens, minTokens: cfg.MinTokens}
	if c.maxTokens <= 0 {
		c.maxTokens = DefaultMaxTokens
	}
	if c.minTokens <= 0 {
		c.minTokens = DefaultMinTokens
	}
	return c
}

// MaxTokens returns the effective retrieval chunk budget.
func (c *Chunker) MaxTokens() int { return c.maxTokens }

// MinTokens returns the advisory minimum chunk size.
func (c *Chunker) MinTokens() int { return c.minTokens }

// Section is one header-delimited region of a markdown document.
type Section struct {
	// Level is the header depth (1-6), or 0 for the preamble.
	Level int
	// Title is the header text without the leading hashes.
	Title string
	// Content is the trimmed body below the header.
	Content string
}

// header renders the section's header line, or "" for the preamble.
func (s Section) header() string {
	if s.Level == 0 {
		return ""
	}
	return strings.Repeat("#", s.Level) + " " + s.Title
}

// Markdown renders the section as header plus body.
func (s Section) Markdown() string {
	if s.Level == 0 {
		return strings.TrimSpace(s.Content)
	}
	return strings.TrimSpace(s.header() + "\n" + s.Content)
}

// render joins body parts under the section header.
func (s Section) render(parts []string) string {
	body := strings.Join(parts, paragraphBreak)
	if s.Level == 0 {
		return strings.TrimSpace(body)
	}
	return strings.TrimSpace(s.header() + "\n" + body)
}

// ParseSections splits markdown into sections on header lines. Non-blank
// text before the first header becomes a level-0 "Preamble" section.
func ParseSections(text string) []Section {
	var (
		sections []Section
		preamble []string
		current  *Section
		body     []string
	)

	flush := func() {
		if current != nil {
			current.Content = strings.TrimSpace(strings.Join(body, "\n"))
			sections = append(sections, *current)
		}
	}

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimRight(line, "\r")
		if m := headerRe.FindStringSubmatch(line); m != nil {
			flush()
			current = &Section{Level: len(m[1]), Title: strings.TrimSpace(m[2])}
			body = body[:0]
			continue
		}
		if current == nil {
			preamble = append(preamble, line)
			continue
		}
		body = append(body, line)
	}
	flush()

	if pre := strings.TrimSpace(strings.Join(preamble, "\n")); pre != "" {
		sections = append([]Section{{Level: 0, Title: preambleTitle, Content: pre}}, sections...)
	}
	return sections
}

// piece is an intermediate retrieval unit before ids and metadata are assigned.
type piece struct {
	section    Section
	text       string
	generation string
}

// split applies the token budget to one section.
func (c *Chunker) split(s Section) []piece {
	full := s.Markdown()
	if CountTokens(full) <= c.maxTokens {
		return []piece{{section: s, text: full, generation: full}}
	}

	var paras []string
	for _, p := range strings.Split(s.Content, paragraphBreak) {
		if p = strings.TrimSpace(p); p != "" {
			paras = append(paras, p)
		}
	}
	if len(paras) == 0 {
		return []piece{{section: s, text: full, generation: full}}
	}

	headerTokens := 0
	if h := s.header(); h != "" {
		headerTokens = CountTokens(h + "\n")
	}

	var (
		out []piece
		acc []string
	)
	accTokens := headerTokens
	for _, p := range paras {
		n := CountTokens(p)
		if accTokens+n > c.maxTokens && len(acc) > 0 {
			out = append(out, piece{section: s, text: s.render(acc), generation: full})
			acc = nil
			accTokens = headerTokens
		}
		acc = append(acc, p)
		accTokens += n
	}
	if len(acc) > 0 {
		out = append(out, piece{section: s, text: s.render(acc), generation: full})
	}
	return out
}

// Chunk splits a markdown document into chunks and the parallel list of
// lexical index texts. documentName is the file name (e.g. "returns.md") and
// seeds the chunk ids; filePath is recorded in metadata only.
func (c *Chunker) Chunk(documentName, filePath, text, category string) ([]rag.Chunk, []string) {
	sections := ParseSections(text)
	if len(sections) == 0 {
		return nil, nil
	}

	var pieces []piece
	for _, s := range sections {
		pieces = append(pieces, c.split(s)...)
	}

	title := DocumentTitle(text, strings.TrimSuffix(documentName, filepath.Ext(documentName)))
	updated := ExtractDate(text)

	chunks := make([]rag.Chunk, 0, len(pieces))
	lexical := make([]string, 0, len(pieces))
	for i, p := range pieces {
		chunks = append(chunks, rag.Chunk{
			ID:             ChunkID(documentName, i),
			DocumentName:   documentName,
			Category:       category,
			SectionHeader:  p.section.Title,
			RetrievalText:  NormalizeForEmbedding(p.text),
			GenerationText: p.generation,
			LastUpdated:    updated,
			WordCount:      CountTokens(p.text),
			Metadata: rag.ChunkMetadata{
				FilePath:      filePath,
				DocumentTitle: title,
				ChunkIndex:    i,
				TotalChunks:   len(pieces),
				Sections:      []string{p.section.Title},
			},
		})
		lexical = append(lexical, LexicalText(p.text))
	}
	return chunks, lexical
}

// ChunkFile reads a markdown file and chunks it under category.
func (c *Chunker) ChunkFile(path, category string) ([]rag.Chunk, []string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("chunker: read %s: %w", path, err)
	}
	chunks, lexical := c.Chunk(filepath.Base(path), path, string(data), category)
	return chunks, lexical, nil
}

// ChunkID derives the stable id for the index-th chunk of a document:
// "<name without .md>_<index>_<first 8 hex chars of md5(name:index)>".
func ChunkID(documentName string, index int) string {
	sum := md5.Sum([]byte(fmt.Sprintf("%s:%d", documentName, index))) //nolint:gosec // ids only
	stem := strings.TrimSuffix(documentName, ".md")
	return fmt.Sprintf("%s_%d_%s", stem, index, hex.EncodeToString(sum[:])[:chunkIDHashSize])
}

// DocumentTitle returns the first H1 within the first ten lines of text, or
// fallback when there is none.
func DocumentTitle(text, fallback string) string {
	lines := strings.SplitN(text, "\n", titleScanLines+1)
	if len(lines) > titleScanLines {
		lines = lines[:titleScanLines]
	}
	for _, line := range lines {
		if m := h1Re.FindStringSubmatch(strings.TrimRight(line, "\r")); m != nil {
			return strings.TrimSpace(m[1])
		}
	}
	return fallback
}
