package search

import "sort"

// fuse combines semantic and grep hits into one ranking.
//
// Semantic hits contribute their raw cosine score; no renormalization is
// applied, so weight choice is the caller's responsibility. Grep hits
// contribute a rank-derived score: rank i (0-based) of N gets (N-i)/N, so
// the first grep hit scores 1.0 and the last 1/N. A chunk missing from one
// side scores 0 there.
//
// combined = semanticWeight*sem + keywordWeight*kw
//
// Ties break toward the semantic side: chunks with a semantic hit first,
// then higher semantic score, then chunk_id ascending. With keywordWeight
// zero this makes the fused order a permutation of the semantic order.
func fuse(semantic []SemanticResult, grep []GrepResult, semanticWeight, keywordWeight float64) []HybridResult {
	if len(semantic) == 0 && len(grep) == 0 {
		return []HybridResult{}
	}

	fused := make(map[string]*HybridResult, len(semantic)+len(grep))
	order := make([]string, 0, len(semantic)+len(grep))

	hasSemantic := make(map[string]bool, len(semantic))
	for _, r := range semantic {
		fused[r.ChunkID] = &HybridResult{
			ChunkID:       r.ChunkID,
			DocumentID:    r.DocumentID,
			Position:      r.Position,
			SemanticScore: float64(r.Score),
			Content:       r.Content,
			Metadata:      r.Metadata,
		}
		order = append(order, r.ChunkID)
		hasSemantic[r.ChunkID] = true
	}

	n := len(grep)
	for i, r := range grep {
		kw := float64(n-i) / float64(n)
		if existing, ok := fused[r.ChunkID]; ok {
			existing.KeywordScore = kw
			continue
		}
		fused[r.ChunkID] = &HybridResult{
			ChunkID:      r.ChunkID,
			DocumentID:   r.DocumentID,
			Position:     r.Position,
			KeywordScore: kw,
			Content:      r.Content,
			Metadata:     r.Metadata,
		}
		order = append(order, r.ChunkID)
	}

	results := make([]HybridResult, 0, len(order))
	for _, chunkID := range order {
		r := fused[chunkID]
		r.CombinedScore = semanticWeight*r.SemanticScore + keywordWeight*r.KeywordScore
		results = append(results, *r)
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].CombinedScore != results[j].CombinedScore {
			return results[i].CombinedScore > results[j].CombinedScore
		}
		si, sj := hasSemantic[results[i].ChunkID], hasSemantic[results[j].ChunkID]
		if si != sj {
			return si
		}
		if results[i].SemanticScore != results[j].SemanticScore {
			return results[i].SemanticScore > results[j].SemanticScore
		}
		return results[i].ChunkID < results[j].ChunkID
	})
	return results
}
