package retrieval

import (
	"github.com/ternarybob/codewiki/internal/interfaces"
)

// Rerank deduplicates near-identical chunks and keeps the best topK
// above the relevance threshold. Candidates arrive already sorted by
// similarity, so the first of any near-duplicate group wins.
func Rerank(candidates []interfaces.ScoredChunk, dedupThreshold, relevanceThreshold float64, topK int) []interfaces.ScoredChunk {
	var kept []interfaces.ScoredChunk
	for _, candidate := range candidates {
		if candidate.Score < relevanceThreshold {
			continue
		}
		duplicate := false
		for _, existing := range kept {
			if CosineSimilarity(candidate.Chunk.Embedding, existing.Chunk.Embedding) >= dedupThreshold {
				duplicate = true
				break
			}
		}
		if duplicate {
			continue
		}
		kept = append(kept, candidate)
		if topK > 0 && len(kept) >= topK {
			break
		}
	}
	return kept
}
