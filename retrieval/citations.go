package retrieval

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/devlens/devlens/db"
)

// Citation anchors an assistant claim to a line range inside one chunk.
type Citation struct {
	ChunkID   string  `json:"chunk_id"`
	FilePath  string  `json:"file_path"`
	LineStart int     `json:"line_start"`
	LineEnd   int     `json:"line_end"`
	Anchor    string  `json:"anchor"`
	Score     float64 `json:"score"`
}

// FormatCitation builds a citation with a normalized line range and the
// file#Lx-Ly anchor. A missing start defaults to line 1 and the end is never
// allowed before the start.
func FormatCitation(chunkID, filePath string, lineStart, lineEnd *int, score float64) Citation {
	start := 1
	if lineStart != nil {
		start = *lineStart
	}
	end := start
	if lineEnd != nil {
		end = *lineEnd
	}
	if end < start {
		end = start
	}
	return Citation{
		ChunkID:   chunkID,
		FilePath:  filePath,
		LineStart: start,
		LineEnd:   end,
		Anchor:    fmt.Sprintf("%s#L%d-L%d", filePath, start, end),
		Score:     score,
	}
}

// ValidateCitations drops citations that do not resolve to a stored chunk of
// the repository, reference a different file, or claim lines outside the
// chunk's range. Valid citations come back with the range and anchor
// re-normalized against the chunk.
func ValidateCitations(ctx context.Context, store *db.Store, repoID uuid.UUID, citations []Citation) ([]Citation, error) {
	valid := make([]Citation, 0, len(citations))
	for _, citation := range citations {
		if citation.ChunkID == "" || citation.FilePath == "" {
			continue
		}
		chunkID, err := uuid.Parse(citation.ChunkID)
		if err != nil {
			continue
		}

		chunks, err := store.ChunksByIDs(ctx, repoID, []uuid.UUID{chunkID})
		if err != nil {
			return nil, err
		}
		if len(chunks) == 0 {
			continue
		}
		chunk := chunks[0]
		if chunk.FilePath != citation.FilePath {
			continue
		}

		dbStart := 1
		if chunk.StartLine != nil {
			dbStart = *chunk.StartLine
		}
		dbEnd := dbStart
		if chunk.EndLine != nil {
			dbEnd = *chunk.EndLine
		}

		cStart := citation.LineStart
		if cStart == 0 {
			cStart = dbStart
		}
		cEnd := citation.LineEnd
		if cEnd == 0 {
			cEnd = cStart
		}
		if cStart < dbStart || cEnd > dbEnd {
			continue
		}

		citation.LineStart = cStart
		citation.LineEnd = cEnd
		citation.Anchor = fmt.Sprintf("%s#L%d-L%d", citation.FilePath, cStart, cEnd)
		valid = append(valid, citation)
	}
	return valid, nil
}
