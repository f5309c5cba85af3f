package api

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devlens/devlens/retrieval"
)

func TestSuggestionListDefaultBudget(t *testing.T) {
	paths := []string{"app/main.py", "app/models.py"}
	suggestions := suggestionList(paths, 5)

	require.Len(t, suggestions, 5)
	assert.Equal(t, staticSuggestions[0], suggestions[0])
	assert.Equal(t, "Explain the responsibilities of `app/main.py`.", suggestions[3])
	assert.Equal(t, "Explain the responsibilities of `app/models.py`.", suggestions[4])
}

func TestSuggestionListClampsLimit(t *testing.T) {
	paths := []string{"a.py", "b.py", "c.py", "d.py"}

	assert.Len(t, suggestionList(paths, 0), 1)
	assert.Len(t, suggestionList(paths, 100), 6)
	assert.Len(t, suggestionList(nil, 10), 3)
}

func TestSuggestionListCapsPathPrompts(t *testing.T) {
	paths := []string{"a.py", "b.py", "c.py", "d.py"}
	suggestions := suggestionList(paths, 10)

	require.Len(t, suggestions, 6)
	assert.NotContains(t, suggestions, "Explain the responsibilities of `d.py`.")
}

func TestAssistantReplyWithoutCitations(t *testing.T) {
	reply := assistantReply(nil)
	assert.Equal(t, "I could not find relevant indexed code context for that query.", reply)
}

func TestAssistantReplyWithCitations(t *testing.T) {
	one := 1
	ten := 10
	citations := []retrieval.Citation{
		retrieval.FormatCitation("c1", "app/main.py", &one, &ten, 0.9),
		retrieval.FormatCitation("c2", "app/models.py", nil, nil, 0.5),
	}

	reply := assistantReply(citations)
	assert.Equal(t, "Relevant code was found in: app/main.py:1, app/models.py:1.", reply)
}

func TestCitationsJSONB(t *testing.T) {
	one := 1
	five := 5
	payload := citationsJSONB([]retrieval.Citation{
		retrieval.FormatCitation("c1", "src/a.py", &one, &five, 0.7),
	})

	assert.Equal(t, false, payload["no_citation"])
	rows, ok := payload["citations"].([]interface{})
	require.True(t, ok)
	require.Len(t, rows, 1)
	first := rows[0].(map[string]interface{})
	assert.Equal(t, "src/a.py", first["file_path"])
	assert.Equal(t, "src/a.py#L1-L5", first["anchor"])

	empty := citationsJSONB(nil)
	assert.Equal(t, true, empty["no_citation"])
	assert.Empty(t, empty["citations"])
}

func TestPreviewOf(t *testing.T) {
	assert.Equal(t, "short", previewOf("short"))

	long := strings.Repeat("x", 300)
	assert.Len(t, previewOf(long), chatPreviewLength)
}
