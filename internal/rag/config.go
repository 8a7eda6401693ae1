package rag

// Retrieval defaults.
const (
	DefaultVectorLimit  = 10
	DefaultLexicalLimit = 10
	DefaultFinalLimit   = 5
)

// RetrievalConfig holds the default search limits.
type RetrievalConfig struct {
	// VectorLimit is the number of vector candidates (VECTOR_SEARCH_LIMIT).
	VectorLimit int
	// LexicalLimit is the number of lexical candidates (BM25_SEARCH_LIMIT).
	LexicalLimit int
	// FinalLimit is the number of results returned (FINAL_RESULTS_LIMIT).
	FinalLimit int
	// RRFK is the fusion constant (RRF_K).
	RRFK int
}

func (c RetrievalConfig) withDefaults() RetrievalConfig {
	if c.VectorLimit <= 0 {
		c.VectorLimit = DefaultVectorLimit
	}
	if c.LexicalLimit <= 0 {
		c.LexicalLimit = DefaultLexicalLimit
	}
	if c.FinalLimit <= 0 {
		c.FinalLimit = DefaultFinalLimit
	}
	if c.RRFK <= 0 {
		c.RRFK = DefaultRRFK
	}
	return c
}
