package retrieval

import (
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/devlens/devlens/db"
	"github.com/devlens/devlens/qdrant"
)

// Rerank weights. Dense similarity dominates, lexical rank refines, and a
// token-overlap prior on path and language breaks near-ties.
const (
	weightDense   = 0.45
	weightLexical = 0.35
	weightOverlap = 0.20
)

var tokenPattern = regexp.MustCompile(`[a-zA-Z0-9_]+`)

// RankedHit is one hybrid search result.
type RankedHit struct {
	ChunkID      string  `json:"chunk_id"`
	FilePath     string  `json:"file_path"`
	StartLine    *int    `json:"start_line"`
	EndLine      *int    `json:"end_line"`
	Language     *string `json:"language"`
	DenseScore   float64 `json:"dense_score"`
	LexicalScore float64 `json:"lexical_score"`
	RerankScore  float64 `json:"rerank_score"`
}

// ClampLimit bounds a requested result count to [1, 100].
func ClampLimit(limit int) int {
	if limit < 1 {
		return 1
	}
	if limit > 100 {
		return 100
	}
	return limit
}

func tokenize(text string) map[string]struct{} {
	tokens := map[string]struct{}{}
	for _, token := range tokenPattern.FindAllString(strings.ToLower(text), -1) {
		tokens[token] = struct{}{}
	}
	return tokens
}

// normalizeScores min-max scales a score set. A flat set maps to all ones so
// a single candidate keeps full weight.
func normalizeScores(values map[string]float64) map[string]float64 {
	if len(values) == 0 {
		return map[string]float64{}
	}
	minV := math.Inf(1)
	maxV := math.Inf(-1)
	for _, v := range values {
		minV = math.Min(minV, v)
		maxV = math.Max(maxV, v)
	}
	normalized := make(map[string]float64, len(values))
	if maxV == minV {
		for k := range values {
			normalized[k] = 1.0
		}
		return normalized
	}
	for k, v := range values {
		normalized[k] = (v - minV) / (maxV - minV)
	}
	return normalized
}

func round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}

// MergeAndRerank fuses lexical and dense candidate sets into one ranking.
// Scores from each side are min-max normalized over the merged set, combined
// with the token-overlap prior, rounded to six decimals and sorted by score
// descending with chunk id as the tiebreaker.
func MergeAndRerank(query string, lexical []db.LexicalHit, dense []qdrant.DenseHit, limit int) []RankedHit {
	limit = ClampLimit(limit)

	merged := map[string]*RankedHit{}
	for _, hit := range lexical {
		id := hit.ChunkID.String()
		merged[id] = &RankedHit{
			ChunkID:      id,
			FilePath:     hit.FilePath,
			StartLine:    hit.StartLine,
			EndLine:      hit.EndLine,
			Language:     hit.Language,
			LexicalScore: hit.Score,
		}
	}
	for _, hit := range dense {
		id := hit.ChunkID.String()
		if existing, ok := merged[id]; ok {
			existing.DenseScore = hit.DenseScore
			if existing.FilePath == "" {
				existing.FilePath = hit.FilePath
			}
			if existing.Language == nil {
				existing.Language = hit.Language
			}
			continue
		}
		merged[id] = &RankedHit{
			ChunkID:    id,
			FilePath:   hit.FilePath,
			StartLine:  hit.StartLine,
			EndLine:    hit.EndLine,
			Language:   hit.Language,
			DenseScore: hit.DenseScore,
		}
	}

	denseScores := make(map[string]float64, len(merged))
	lexicalScores := make(map[string]float64, len(merged))
	for id, row := range merged {
		denseScores[id] = row.DenseScore
		lexicalScores[id] = row.LexicalScore
	}
	denseNorm := normalizeScores(denseScores)
	lexicalNorm := normalizeScores(lexicalScores)

	queryTerms := tokenize(query)
	ranked := make([]RankedHit, 0, len(merged))
	for id, row := range merged {
		overlap := 0.0
		if len(queryTerms) > 0 {
			language := ""
			if row.Language != nil {
				language = *row.Language
			}
			fileTerms := tokenize(row.FilePath + " " + language)
			if len(fileTerms) > 0 {
				shared := 0
				for term := range queryTerms {
					if _, ok := fileTerms[term]; ok {
						shared++
					}
				}
				overlap = float64(shared) / float64(len(queryTerms))
			}
		}
		row.RerankScore = round6(weightDense*denseNorm[id] + weightLexical*lexicalNorm[id] + weightOverlap*overlap)
		ranked = append(ranked, *row)
	}

	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].RerankScore != ranked[j].RerankScore {
			return ranked[i].RerankScore > ranked[j].RerankScore
		}
		return ranked[i].ChunkID < ranked[j].ChunkID
	})

	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked
}
