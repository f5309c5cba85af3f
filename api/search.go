package api

import (
	"context"

	"github.com/google/uuid"

	"github.com/devlens/devlens/retrieval"
)

// hybridSearch gathers twice the requested budget from each side, fuses the
// candidate sets and returns the reranked top results. A vector store outage
// degrades to lexical-only ranking instead of failing the request.
func (s *Server) hybridSearch(ctx context.Context, repoID uuid.UUID, query string, limit int) ([]retrieval.RankedHit, error) {
	candidateLimit := candidateBudget(limit)

	lexical, err := s.store.LexicalSearch(ctx, repoID, query, candidateLimit)
	if err != nil {
		return nil, err
	}

	vector := retrieval.EmbedQuery(query, s.cfg.EmbedVectorSize)
	dense, err := s.vectors.Search(ctx, repoID.String(), vector, candidateLimit)
	if err != nil {
		s.log.WithError(err).Warn("dense search unavailable, degrading to lexical ranking")
		dense = nil
	}

	return retrieval.MergeAndRerank(query, lexical, dense, limit), nil
}

// candidateBudget is how many hits each side fetches before fusion: twice the
// response budget, never less than one.
func candidateBudget(limit int) int {
	if limit < 1 {
		limit = 1
	}
	return limit * 2
}
