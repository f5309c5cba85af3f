package api

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/devlens/devlens/db"
	"github.com/devlens/devlens/retrieval"
)

const (
	chatPreviewLength   = 120
	chatDefaultTopK     = 5
	chatMaxCitations    = 3
	suggestionPathCount = 3
)

var staticSuggestions = []string{
	"What are the main architecture components in this repository?",
	"Where is authentication and token handling implemented?",
	"Which files show the core business logic flow?",
}

type chatSessionItem struct {
	SessionID          string    `json:"session_id"`
	RepoID             *string   `json:"repo_id"`
	CreatedAt          time.Time `json:"created_at"`
	MessageCount       int64     `json:"message_count"`
	LastMessagePreview *string   `json:"last_message_preview"`
}

// handleListChatSessions returns the caller's sessions, newest first, each
// with a message count and a preview of the latest turn.
func (s *Server) handleListChatSessions(c echo.Context) error {
	var repoFilter *uuid.UUID
	if raw := c.QueryParam("repo_id"); raw != "" {
		repoID, err := uuid.Parse(raw)
		if err != nil {
			return apiError(http.StatusBadRequest, "Invalid repo_id")
		}
		repoFilter = &repoID
	}

	ctx := c.Request().Context()
	user := currentUser(c)
	sessions, err := s.store.ListChatSessions(ctx, user.ID, repoFilter)
	if err != nil {
		return err
	}

	items := make([]chatSessionItem, 0, len(sessions))
	for _, session := range sessions {
		count, err := s.store.CountChatMessages(ctx, session.ID)
		if err != nil {
			return err
		}
		latest, err := s.store.LatestChatMessage(ctx, session.ID)
		if err != nil {
			return err
		}

		item := chatSessionItem{
			SessionID:    session.ID.String(),
			CreatedAt:    session.CreatedAt,
			MessageCount: count,
		}
		if session.RepoID != nil {
			repoID := session.RepoID.String()
			item.RepoID = &repoID
		}
		if latest != nil {
			preview := previewOf(latest.Content)
			item.LastMessagePreview = &preview
		}
		items = append(items, item)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"items": items})
}

func previewOf(content string) string {
	if len(content) > chatPreviewLength {
		return content[:chatPreviewLength]
	}
	return content
}

type createChatSessionRequest struct {
	RepoID string `json:"repo_id"`
}

// handleCreateChatSession opens a conversation about one repository.
func (s *Server) handleCreateChatSession(c echo.Context) error {
	var req createChatSessionRequest
	if err := c.Bind(&req); err != nil {
		return apiError(http.StatusBadRequest, "Invalid request body")
	}
	repoID, err := uuid.Parse(req.RepoID)
	if err != nil {
		return apiError(http.StatusBadRequest, "Invalid repo_id")
	}

	ctx := c.Request().Context()
	if _, err := s.store.GetRepository(ctx, repoID); err != nil {
		return apiError(http.StatusNotFound, "Repository not found")
	}

	user := currentUser(c)
	session, err := s.store.CreateChatSession(ctx, repoID, user.ID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"session_id": session.ID.String(),
		"repo_id":    repoID.String(),
		"created_at": session.CreatedAt,
	})
}

type chatMessageItem struct {
	MessageID string    `json:"message_id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Citations db.JSONB  `json:"citations"`
	CreatedAt time.Time `json:"created_at"`
}

// handleGetChatSession returns one owned session with its history.
func (s *Server) handleGetChatSession(c echo.Context) error {
	session, err := s.sessionFromPath(c)
	if err != nil {
		return err
	}

	messages, dbErr := s.store.ListChatMessages(c.Request().Context(), session.ID)
	if dbErr != nil {
		return dbErr
	}

	items := make([]chatMessageItem, 0, len(messages))
	for _, message := range messages {
		items = append(items, chatMessageItem{
			MessageID: message.ID.String(),
			Role:      message.Role,
			Content:   message.Content,
			Citations: message.SourceCitations,
			CreatedAt: message.CreatedAt,
		})
	}

	payload := map[string]interface{}{
		"session_id": session.ID.String(),
		"created_at": session.CreatedAt,
		"messages":   items,
	}
	if session.RepoID != nil {
		payload["repo_id"] = session.RepoID.String()
	}
	return c.JSON(http.StatusOK, payload)
}

// handleDeleteChatSession removes an owned session and its messages.
func (s *Server) handleDeleteChatSession(c echo.Context) error {
	sessionID, err := uuid.Parse(c.Param("session_id"))
	if err != nil {
		return apiError(http.StatusNotFound, "Chat session not found")
	}

	user := currentUser(c)
	deleted, dbErr := s.store.DeleteChatSession(c.Request().Context(), sessionID, user.ID)
	if dbErr != nil {
		return dbErr
	}
	if !deleted {
		return apiError(http.StatusNotFound, "Chat session not found")
	}
	return c.NoContent(http.StatusNoContent)
}

// suggestionList combines the static openers with per-file prompts and trims
// to the requested budget.
func suggestionList(paths []string, limit int) []string {
	suggestions := append([]string{}, staticSuggestions...)
	for i, path := range paths {
		if i == suggestionPathCount {
			break
		}
		suggestions = append(suggestions, fmt.Sprintf("Explain the responsibilities of `%s`.", path))
	}

	if limit < 1 {
		limit = 1
	}
	if limit > 10 {
		limit = 10
	}
	if len(suggestions) > limit {
		suggestions = suggestions[:limit]
	}
	return suggestions
}

// handleChatSuggestions returns starter questions for one repository.
func (s *Server) handleChatSuggestions(c echo.Context) error {
	repo, err := s.repoFromPath(c)
	if err != nil {
		return err
	}
	limit := queryInt(c, "limit", 5)

	paths, dbErr := s.store.DistinctFilePaths(c.Request().Context(), repo.ID, suggestionPathCount)
	if dbErr != nil {
		return dbErr
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"repo_id":     repo.ID.String(),
		"suggestions": suggestionList(paths, limit),
	})
}

type chatMessageRequest struct {
	Content string `json:"content"`
	TopK    int    `json:"top_k"`
}

// assistantReply derives the grounded answer from validated citations.
func assistantReply(citations []retrieval.Citation) string {
	if len(citations) == 0 {
		return "I could not find relevant indexed code context for that query."
	}
	refs := make([]string, 0, len(citations))
	for _, citation := range citations {
		refs = append(refs, fmt.Sprintf("%s:%d", citation.FilePath, citation.LineStart))
	}
	if len(refs) == 0 {
		refs = []string{"no exact anchor"}
	}
	return "Relevant code was found in: " + strings.Join(refs, ", ") + "."
}

func citationsJSONB(citations []retrieval.Citation) db.JSONB {
	rows := make([]interface{}, 0, len(citations))
	for _, citation := range citations {
		rows = append(rows, map[string]interface{}{
			"chunk_id":   citation.ChunkID,
			"file_path":  citation.FilePath,
			"line_start": citation.LineStart,
			"line_end":   citation.LineEnd,
			"anchor":     citation.Anchor,
			"score":      citation.Score,
		})
	}
	return db.JSONB{
		"citations":   rows,
		"no_citation": len(citations) == 0,
	}
}

// handleChatMessage persists the user turn, retrieves grounding context and
// streams the assistant's reply token by token over SSE.
func (s *Server) handleChatMessage(c echo.Context) error {
	session, err := s.sessionFromPath(c)
	if err != nil {
		return err
	}

	var req chatMessageRequest
	if err := c.Bind(&req); err != nil {
		return apiError(http.StatusBadRequest, "Invalid request body")
	}
	if strings.TrimSpace(req.Content) == "" {
		return apiError(http.StatusBadRequest, "Message content must not be empty")
	}
	topK := req.TopK
	if topK < 1 {
		topK = chatDefaultTopK
	}

	ctx := c.Request().Context()
	if _, err := s.store.CreateChatMessage(ctx, session.ID, "user", req.Content, nil); err != nil {
		return err
	}

	var citations []retrieval.Citation
	if session.RepoID != nil {
		ranked, searchErr := s.hybridSearch(ctx, *session.RepoID, req.Content, topK)
		if searchErr != nil {
			return searchErr
		}

		candidates := make([]retrieval.Citation, 0, chatMaxCitations)
		for i, hit := range ranked {
			if i == chatMaxCitations {
				break
			}
			score := hit.RerankScore
			if score == 0 {
				score = hit.DenseScore
			}
			candidates = append(candidates, retrieval.FormatCitation(hit.ChunkID, hit.FilePath, hit.StartLine, hit.EndLine, score))
		}
		citations, err = retrieval.ValidateCitations(ctx, s.store, *session.RepoID, candidates)
		if err != nil {
			return err
		}
	}

	reply := assistantReply(citations)
	payload := citationsJSONB(citations)
	message, err := s.store.CreateChatMessage(ctx, session.ID, "assistant", reply, payload)
	if err != nil {
		return err
	}

	header := c.Response().Header()
	header.Set(echo.HeaderContentType, "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	c.Response().WriteHeader(http.StatusOK)

	for _, word := range strings.Split(reply, " ") {
		if err := writeSSE(c, "delta", map[string]interface{}{"token": word + " "}); err != nil {
			return nil
		}
	}
	return writeSSE(c, "done", map[string]interface{}{
		"message_id":  message.ID.String(),
		"citations":   payload["citations"],
		"no_citation": payload["no_citation"],
	})
}

// sessionFromPath resolves the :session_id parameter to an owned session.
// A missing session and a foreign one are indistinguishable to the caller.
func (s *Server) sessionFromPath(c echo.Context) (*db.ChatSession, error) {
	sessionID, err := uuid.Parse(c.Param("session_id"))
	if err != nil {
		return nil, apiError(http.StatusNotFound, "Chat session not found")
	}
	user := currentUser(c)
	session, err := s.store.GetChatSession(c.Request().Context(), sessionID, user.ID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, apiError(http.StatusNotFound, "Chat session not found")
	}
	return session, nil
}
