package embedder

import "context"

// mockValue is the constant every mock vector component is set to.
const mockValue = 0.1

// Mock returns the same constant vector for every input. It lets ingestion
// and search run without network access; all chunks are equidistant, so
// vector ranking under Mock carries no signal and lexical search decides.
type Mock struct {
	dims int
}

// NewMock returns a Mock producing dims-length vectors (default 1536).
func NewMock(dims int) *Mock {
	if dims <= 0 {
		dims = defaultOpenAIDimensions
	}
	return &Mock{dims: dims}
}

// Dimensions returns the vector length.
func (m *Mock) Dimensions() int { return m.dims }

// Embed returns one constant vector per text.
func (m *Mock) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		v := make([]float32, m.dims)
		for j := range v {
			v[j] = mockValue
		}
		out[i] = v
	}
	return out, nil
}
