//go:build integration

package db

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupPostgresStore(t *testing.T) (*Store, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "testuser",
			"POSTGRES_PASSWORD": "testpass",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err, "Failed to start PostgreSQL container")

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	dsn := fmt.Sprintf("postgres://testuser:testpass@%s:%s/testdb?sslmode=disable", host, port.Port())

	gdb, err := Open(dsn)
	require.NoError(t, err)
	require.NoError(t, Migrate(gdb))

	cleanup := func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate container: %v", err)
		}
	}
	return NewStore(gdb), cleanup
}

func seedRepo(t *testing.T, store *Store) *Repository {
	t.Helper()
	desc := "test repository"
	sha := "abc123def456"
	repo, err := store.UpsertRepository(context.Background(), &Repository{
		GithubURL:       "https://github.com/acme/widget",
		FullName:        "acme/widget",
		Owner:           "acme",
		Name:            "widget",
		DefaultBranch:   "main",
		LatestCommitSHA: &sha,
		Description:     &desc,
	})
	require.NoError(t, err)
	return repo
}

func seedUser(t *testing.T, store *Store) *User {
	t.Helper()
	user, err := store.UpsertUserByGithubID(context.Background(), 4242, "octocat", nil, nil)
	require.NoError(t, err)
	return user
}

func TestStore_Integration_JobLifecycle(t *testing.T) {
	store, cleanup := setupPostgresStore(t)
	defer cleanup()
	ctx := context.Background()

	repo := seedRepo(t, store)
	user := seedUser(t, store)

	job, err := store.CreateJob(ctx, repo.ID, &user.ID, "abc123def456", nil)
	require.NoError(t, err)
	assert.Equal(t, StatusQueued, job.Status)
	assert.Equal(t, 0, job.Progress)

	t.Run("claim moves the job into the stage", func(t *testing.T) {
		snapshot, err := store.ClaimNextJob(ctx, []string{StatusQueued, StatusParsing}, StatusParsing, 10)
		require.NoError(t, err)
		require.NotNil(t, snapshot)
		assert.Equal(t, job.ID, snapshot.JobID)
		assert.Equal(t, repo.ID, snapshot.RepoID)
		assert.Equal(t, "https://github.com/acme/widget", snapshot.GithubURL)

		claimed, err := store.GetJob(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusParsing, claimed.Status)
		assert.Equal(t, 10, claimed.Progress)
	})

	t.Run("no second claim while in flight", func(t *testing.T) {
		snapshot, err := store.ClaimNextJob(ctx, []string{StatusQueued}, StatusParsing, 10)
		require.NoError(t, err)
		assert.Nil(t, snapshot)
	})

	t.Run("retry schedule defers the next claim", func(t *testing.T) {
		err := store.ScheduleJobRetry(ctx, job.ID, StatusParsing, 1, time.Now().Add(time.Hour), "CLONE_TIMEOUT: Repository clone timed out")
		require.NoError(t, err)

		snapshot, err := store.ClaimNextJob(ctx, []string{StatusQueued, StatusParsing}, StatusParsing, 10)
		require.NoError(t, err)
		assert.Nil(t, snapshot, "backoff deadline should defer the claim")

		err = store.ScheduleJobRetry(ctx, job.ID, StatusParsing, 1, time.Now().Add(-time.Second), "CLONE_TIMEOUT: Repository clone timed out")
		require.NoError(t, err)

		snapshot, err = store.ClaimNextJob(ctx, []string{StatusQueued, StatusParsing}, StatusParsing, 10)
		require.NoError(t, err)
		require.NotNil(t, snapshot)
		assert.Equal(t, 1, snapshot.RetryCount)
	})

	t.Run("complete", func(t *testing.T) {
		require.NoError(t, store.CompleteJob(ctx, job.ID))
		done, err := store.GetJob(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusDone, done.Status)
		assert.Equal(t, 100, done.Progress)
		assert.NotNil(t, done.CompletedAt)
		assert.Nil(t, done.ErrorMessage)
	})
}

func TestStore_Integration_JobDedup(t *testing.T) {
	store, cleanup := setupPostgresStore(t)
	defer cleanup()
	ctx := context.Background()

	repo := seedRepo(t, store)
	user := seedUser(t, store)

	key := "client-key-1"
	first, err := store.CreateJob(ctx, repo.ID, &user.ID, "abc123def456", &key)
	require.NoError(t, err)

	t.Run("idempotency key match", func(t *testing.T) {
		found, err := store.FindJobByIdempotencyKey(ctx, repo.ID, "abc123def456", key)
		require.NoError(t, err)
		require.NotNil(t, found)
		assert.Equal(t, first.ID, found.ID)
	})

	t.Run("anonymous caller leaves the user null", func(t *testing.T) {
		anon, err := store.CreateJob(ctx, repo.ID, nil, "fedcba654321", nil)
		require.NoError(t, err)
		assert.Nil(t, anon.UserID)
	})

	t.Run("commit match only while active or done", func(t *testing.T) {
		found, err := store.FindReusableJob(ctx, repo.ID, "abc123def456")
		require.NoError(t, err)
		require.NotNil(t, found)
		assert.Equal(t, first.ID, found.ID)

		require.NoError(t, store.FailJob(ctx, first.ID, "CLONE_FAILED: boom"))
		found, err = store.FindReusableJob(ctx, repo.ID, "abc123def456")
		require.NoError(t, err)
		assert.Nil(t, found, "failed jobs never dedup")
	})
}

func TestStore_Integration_ChunksAndLexicalSearch(t *testing.T) {
	store, cleanup := setupPostgresStore(t)
	defer cleanup()
	ctx := context.Background()

	repo := seedRepo(t, store)
	lang := "py"
	line1, line40 := 1, 40
	chunks := []CodeChunk{
		{
			ID:        uuid.New(),
			RepoID:    &repo.ID,
			FilePath:  "app/auth/tokens.py",
			StartLine: &line1,
			EndLine:   &line40,
			Content:   "def refresh_token(session):\n    # rotate the refresh token hash\n    return issue()",
			Language:  &lang,
		},
		{
			ID:        uuid.New(),
			RepoID:    &repo.ID,
			FilePath:  "app/main.py",
			StartLine: &line1,
			EndLine:   &line40,
			Content:   "def healthcheck():\n    return 'ok'",
			Language:  &lang,
		},
	}
	require.NoError(t, store.ReplaceChunks(ctx, repo.ID, chunks))

	count, err := store.CountChunks(ctx, repo.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	t.Run("trigger fills fts and search ranks matches", func(t *testing.T) {
		hits, err := store.LexicalSearch(ctx, repo.ID, "refresh token", 20)
		require.NoError(t, err)
		require.NotEmpty(t, hits)
		assert.Equal(t, "app/auth/tokens.py", hits[0].FilePath)
		assert.Greater(t, hits[0].Score, 0.0)
	})

	t.Run("replace is atomic", func(t *testing.T) {
		require.NoError(t, store.ReplaceChunks(ctx, repo.ID, chunks[:1]))
		count, err := store.CountChunks(ctx, repo.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(1), count)
	})

	t.Run("record assigned point ids", func(t *testing.T) {
		pointID := uuid.New()
		require.NoError(t, store.SetChunkPointIDs(ctx, []ChunkPointID{{ChunkID: chunks[0].ID, PointID: pointID}}))
		loaded, err := store.ChunksByIDs(ctx, repo.ID, []uuid.UUID{chunks[0].ID})
		require.NoError(t, err)
		require.Len(t, loaded, 1)
		require.NotNil(t, loaded[0].QdrantPointID)
		assert.Equal(t, pointID, *loaded[0].QdrantPointID)
	})
}

func TestStore_Integration_ResultCacheKey(t *testing.T) {
	store, cleanup := setupPostgresStore(t)
	defer cleanup()
	ctx := context.Background()

	repo := seedRepo(t, store)
	user := seedUser(t, store)
	cacheKey := fmt.Sprintf("%s:abc123def456", repo.ID)

	first, err := store.CreateJob(ctx, repo.ID, &user.ID, "abc123def456", nil)
	require.NoError(t, err)
	summaryOne := "initial summary"
	require.NoError(t, store.SaveResultForJob(ctx, &AnalysisResult{
		RepoID:              &repo.ID,
		JobID:               &first.ID,
		CacheKey:            &cacheKey,
		ArchitectureSummary: &summaryOne,
	}))

	t.Run("forced re-analysis of the same commit overwrites the row", func(t *testing.T) {
		second, err := store.CreateJob(ctx, repo.ID, &user.ID, "abc123def456", nil)
		require.NoError(t, err)
		summaryTwo := "refreshed summary"
		require.NoError(t, store.SaveResultForJob(ctx, &AnalysisResult{
			RepoID:              &repo.ID,
			JobID:               &second.ID,
			CacheKey:            &cacheKey,
			ArchitectureSummary: &summaryTwo,
		}))

		var count int64
		require.NoError(t, store.DB().Model(&AnalysisResult{}).Where("repo_id = ?", repo.ID).Count(&count).Error)
		assert.Equal(t, int64(1), count)

		latest, err := store.LatestResult(ctx, repo.ID)
		require.NoError(t, err)
		require.NotNil(t, latest)
		require.NotNil(t, latest.CacheKey)
		assert.Equal(t, cacheKey, *latest.CacheKey)
		require.NotNil(t, latest.JobID)
		assert.Equal(t, second.ID, *latest.JobID)
		assert.Equal(t, summaryTwo, *latest.ArchitectureSummary)
	})
}

func TestStore_Integration_RefreshTokenRotation(t *testing.T) {
	store, cleanup := setupPostgresStore(t)
	defer cleanup()
	ctx := context.Background()

	user := seedUser(t, store)

	row, err := store.StoreRefreshToken(ctx, user.ID, "hash-one", time.Now().Add(24*time.Hour))
	require.NoError(t, err)

	found, err := store.FindActiveRefreshToken(ctx, "hash-one")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, row.ID, found.ID)

	require.NoError(t, store.RevokeRefreshToken(ctx, row.ID))
	found, err = store.FindActiveRefreshToken(ctx, "hash-one")
	require.NoError(t, err)
	assert.Nil(t, found, "revoked tokens do not resolve")

	_, err = store.StoreRefreshToken(ctx, user.ID, "hash-expired", time.Now().Add(-time.Hour))
	require.NoError(t, err)
	found, err = store.FindActiveRefreshToken(ctx, "hash-expired")
	require.NoError(t, err)
	assert.Nil(t, found, "expired tokens do not resolve")
}

func TestStore_Integration_APIKeys(t *testing.T) {
	store, cleanup := setupPostgresStore(t)
	defer cleanup()
	ctx := context.Background()

	user := seedUser(t, store)
	key := &APIKey{
		UserID:    user.ID,
		Name:      "ci",
		KeyPrefix: "dlk_abcdefgh",
		KeyLast4:  "wxyz",
		KeyHash:   "deadbeef",
	}
	require.NoError(t, store.CreateAPIKey(ctx, key))

	found, err := store.FindActiveAPIKey(ctx, "deadbeef")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, key.ID, found.ID)

	ok, err := store.RevokeAPIKey(ctx, key.ID, user.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	found, err = store.FindActiveAPIKey(ctx, "deadbeef")
	require.NoError(t, err)
	assert.Nil(t, found)

	ok, err = store.RevokeAPIKey(ctx, key.ID, user.ID)
	require.NoError(t, err)
	assert.False(t, ok, "second revoke is a no-op")
}
