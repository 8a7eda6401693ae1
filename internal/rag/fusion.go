package rag

import (
	"sort"
)

// DefaultRRFK is the Reciprocal Rank Fusion smoothing constant.
const DefaultRRFK = 60

// Fused is a chunk id with its accumulated RRF score.
type Fused struct {
	// ChunkID identifies the chunk.
	ChunkID string
	// Score is the sum of 1/(k+rank+1) over every list the id appears in.
	Score float64
}

// FuseRRF merges ranked id lists with Reciprocal Rank Fusion. Ranks are
// zero-based, so the first entry of a list contributes 1/(k+1). Ties keep
// first-insertion order, with earlier lists inserted first. k <= 0 falls back
// to DefaultRRFK. Duplicate ids within one list contribute once per position.
func FuseRRF(k int, lists ...[]string) []Fused {
	if k <= 0 {
		k = DefaultRRFK
	}

	index := make(map[string]int)
	var out []Fused
	for _, list := range lists {
		for rank, id := range list {
			contribution := 1.0 / float64(k+rank+1)
			if i, ok := index[id]; ok {
				out[i].Score += contribution
				continue
			}
			index[id] = len(out)
			out = append(out, Fused{ChunkID: id, Score: contribution})
		}
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

// rankedIDs projects a ranked list onto its chunk ids.
func rankedIDs(list []Ranked) []string {
	ids := make([]string, len(list))
	for i, r := range list {
		ids[i] = r.ChunkID
	}
	return ids
}
