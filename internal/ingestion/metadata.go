package ingestion

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/54b3r/kbai-go/internal/rag"
)

// SourceFile is one markdown document discovered under the documents directory.
type SourceFile struct {
	// Path is the file's path on disk.
	Path string
	// Category is inferred from the directory the file lives in.
	Category string
}

// InferCategory returns the category of path relative to root: the first
// directory segment below root, if it names a known category. Files outside
// a category directory return "".
func InferCategory(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return ""
	}
	segments := strings.Split(filepath.ToSlash(rel), "/")
	if len(segments) < 2 {
		return ""
	}
	c := strings.ToLower(segments[0])
	if !rag.IsCategory(c) {
		return ""
	}
	return c
}

// Discover lists the *.md files directly inside each category directory of
// root, sorted by path within a category. Missing category directories are
// returned in missing rather than as an error.
func Discover(root string) (files []SourceFile, missing []string, err error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, nil, fmt.Errorf("ingestion: documents directory: %w", err)
	}
	if !info.IsDir() {
		return nil, nil, fmt.Errorf("ingestion: documents directory %s is not a directory", root)
	}

	for _, c := range rag.Categories {
		dir := filepath.Join(root, c)
		if _, err := os.Stat(dir); err != nil {
			missing = append(missing, dir)
			continue
		}
		matches, err := filepath.Glob(filepath.Join(dir, "*.md"))
		if err != nil {
			return nil, nil, fmt.Errorf("ingestion: glob %s: %w", dir, err)
		}
		slices.Sort(matches)
		for _, m := range matches {
			files = append(files, SourceFile{Path: m, Category: InferCategory(root, m)})
		}
	}
	return files, missing, nil
}
