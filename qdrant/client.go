// Package qdrant is a thin REST adapter for the vector store: collection
// bootstrap, batched point upserts and filtered similarity search. No
// official Go client is pulled in; the three endpoints used here are stable
// and the REST surface keeps the dependency fence small.
package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
)

var (
	// ErrUpsertFailed is returned when a write did not land after retries.
	ErrUpsertFailed = errors.New("qdrant upsert failed")

	// ErrSearchFailed is returned when a similarity search did not complete.
	ErrSearchFailed = errors.New("qdrant search failed")
)

var retryMinWaitDuration = 500 * time.Millisecond

// Payload is the per-point metadata stored alongside each vector. Keys are
// part of the wire contract with the retrieval layer.
type Payload struct {
	RepoID    string  `json:"repo_id"`
	ChunkID   string  `json:"chunk_id"`
	FilePath  string  `json:"file_path"`
	StartLine *int    `json:"start_line"`
	EndLine   *int    `json:"end_line"`
	Language  *string `json:"language"`
}

// Point is one vector plus payload.
type Point struct {
	ID      uuid.UUID `json:"id"`
	Vector  []float64 `json:"vector"`
	Payload Payload   `json:"payload"`
}

// DenseHit is one similarity search result, already reduced to payload
// fields.
type DenseHit struct {
	ChunkID    uuid.UUID
	FilePath   string
	StartLine  *int
	EndLine    *int
	Language   *string
	DenseScore float64
}

// Client talks to one qdrant collection.
type Client struct {
	baseURL     string
	collection  string
	vectorSize  int
	maxAttempts uint64
	httpClient  *http.Client
}

// NewClient builds a collection-scoped client. attempts bounds how often a
// transient failure is retried.
func NewClient(baseURL, collection string, vectorSize, attempts int) *Client {
	if attempts < 1 {
		attempts = 1
	}
	return &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		collection:  collection,
		vectorSize:  vectorSize,
		maxAttempts: uint64(attempts - 1),
		httpClient:  &http.Client{Timeout: 20 * time.Second},
	}
}

func (c *Client) do(ctx context.Context, method, url string, body interface{}, allowed ...int) ([]byte, error) {
	var encoded []byte
	if body != nil {
		var err error
		encoded, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
	}

	var response []byte
	backoff := retry.WithMaxRetries(c.maxAttempts, retry.NewFibonacci(retryMinWaitDuration))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(encoded))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return retry.RetryableError(err)
		}
		defer resp.Body.Close()

		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return retry.RetryableError(err)
		}

		if resp.StatusCode >= 500 {
			return retry.RetryableError(fmt.Errorf("qdrant returned %d", resp.StatusCode))
		}
		for _, status := range allowed {
			if resp.StatusCode == status {
				response = raw
				return nil
			}
		}
		if resp.StatusCode >= 400 {
			detail := string(raw)
			if len(detail) > 200 {
				detail = detail[:200]
			}
			return fmt.Errorf("qdrant request failed (%d): %s", resp.StatusCode, detail)
		}
		response = raw
		return nil
	})
	if err != nil {
		return nil, err
	}
	return response, nil
}

// EnsureCollection creates the collection with cosine distance. An existing
// collection (409) is fine.
func (c *Client) EnsureCollection(ctx context.Context) error {
	url := fmt.Sprintf("%s/collections/%s", c.baseURL, c.collection)
	body := map[string]interface{}{
		"vectors": map[string]interface{}{
			"size":     c.vectorSize,
			"distance": "Cosine",
		},
	}
	if _, err := c.do(ctx, http.MethodPut, url, body, http.StatusConflict); err != nil {
		return fmt.Errorf("%w: %v", ErrUpsertFailed, err)
	}
	return nil
}

// UpsertPoints writes a batch of vectors with wait=true so a successful
// return means the points are queryable.
func (c *Client) UpsertPoints(ctx context.Context, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	url := fmt.Sprintf("%s/collections/%s/points?wait=true", c.baseURL, c.collection)
	body := map[string]interface{}{"points": points}
	if _, err := c.do(ctx, http.MethodPut, url, body); err != nil {
		return fmt.Errorf("%w: %v", ErrUpsertFailed, err)
	}
	return nil
}

type searchResponse struct {
	Result []struct {
		Score   float64 `json:"score"`
		Payload Payload `json:"payload"`
	} `json:"result"`
}

// Search runs a cosine similarity query constrained to one repository.
// Points whose payload lacks a chunk id are skipped.
func (c *Client) Search(ctx context.Context, repoID string, vector []float64, limit int) ([]DenseHit, error) {
	url := fmt.Sprintf("%s/collections/%s/points/search", c.baseURL, c.collection)
	body := map[string]interface{}{
		"vector":       vector,
		"limit":        limit,
		"with_payload": true,
		"filter": map[string]interface{}{
			"must": []map[string]interface{}{
				{"key": "repo_id", "match": map[string]interface{}{"value": repoID}},
			},
		},
	}

	raw, err := c.do(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSearchFailed, err)
	}

	var decoded searchResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("%w: malformed response: %v", ErrSearchFailed, err)
	}

	hits := make([]DenseHit, 0, len(decoded.Result))
	for _, point := range decoded.Result {
		chunkID, err := uuid.Parse(point.Payload.ChunkID)
		if err != nil {
			continue
		}
		hits = append(hits, DenseHit{
			ChunkID:    chunkID,
			FilePath:   point.Payload.FilePath,
			StartLine:  point.Payload.StartLine,
			EndLine:    point.Payload.EndLine,
			Language:   point.Payload.Language,
			DenseScore: point.Score,
		})
	}
	return hits, nil
}
