package worker

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/devlens/devlens/config"
	"github.com/devlens/devlens/db"
	"github.com/devlens/devlens/qdrant"
	"github.com/devlens/devlens/retrieval"
	"github.com/devlens/devlens/telemetry"
)

// EmbedWorker turns a repository's chunks into vectors and upserts them into
// the qdrant collection. Each point gets a fresh id; the chunk row records
// the id it was indexed under.
type EmbedWorker struct {
	store       *db.Store
	vectors     *qdrant.Client
	reliability *Reliability
	cfg         *config.Config
	log         *logrus.Entry
}

// NewEmbedWorker wires the embed stage.
func NewEmbedWorker(store *db.Store, vectors *qdrant.Client, reliability *Reliability, cfg *config.Config, log *logrus.Entry) *EmbedWorker {
	return &EmbedWorker{store: store, vectors: vectors, reliability: reliability, cfg: cfg, log: log.WithField("stage", StageEmbedding)}
}

// ProcessNext claims and runs one embed job. It returns false when no job
// was eligible.
func (w *EmbedWorker) ProcessNext(ctx context.Context) (bool, error) {
	snapshot, err := w.store.ClaimNextJob(ctx, []string{db.StatusEmbedding}, db.StatusEmbedding, 10)
	if err != nil {
		return false, err
	}
	if snapshot == nil {
		return false, nil
	}

	started := time.Now()
	log := w.log.WithFields(logrus.Fields{"job_id": snapshot.JobID, "repo_id": snapshot.RepoID})
	log.Info("embed stage started")

	if err := w.run(ctx, snapshot); err != nil {
		se := classifyEmbed(err)
		w.reliability.HandleFailure(ctx, snapshot.JobID, snapshot.RepoID, StageEmbedding, se, nil)
		telemetry.RecordStageDuration(StageEmbedding, "error", time.Since(started).Seconds())
		return true, nil
	}

	telemetry.RecordStageDuration(StageEmbedding, "success", time.Since(started).Seconds())
	log.WithField("duration", time.Since(started)).Info("embed stage finished")
	return true, nil
}

// classifyEmbed folds qdrant transport failures into the upsert error code
// so they stay retriable.
func classifyEmbed(err error) *StageError {
	var se *StageError
	if errors.As(err, &se) {
		return se
	}
	if errors.Is(err, qdrant.ErrUpsertFailed) {
		return &StageError{Code: "EMBED_UPSERT_FAILED", Message: err.Error()}
	}
	return &StageError{Code: "UNEXPECTED_EMBED_ERROR", Message: err.Error()}
}

func (w *EmbedWorker) run(ctx context.Context, snapshot *db.JobSnapshot) error {
	chunks, err := w.store.ChunksByRepo(ctx, snapshot.RepoID)
	if err != nil {
		return err
	}
	if len(chunks) == 0 {
		return stageErr("NO_CHUNKS", "No chunks available for embedding")
	}

	if err := w.vectors.EnsureCollection(ctx); err != nil {
		return err
	}
	if err := w.store.UpdateJobStatus(ctx, snapshot.JobID, db.StatusEmbedding, 40, nil); err != nil {
		return err
	}

	batchSize := w.cfg.EmbedBatchSize
	if batchSize < 1 {
		batchSize = 1
	}

	var pairs []db.ChunkPointID
	for offset := 0; offset < len(chunks); offset += batchSize {
		end := offset + batchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[offset:end]

		texts := make([]string, len(batch))
		for i, chunk := range batch {
			texts[i] = chunk.Content
		}
		vectors := retrieval.EmbedChunkTexts(texts, w.cfg.EmbedVectorSize)
		if len(vectors) != len(batch) {
			return stageErr("EMBED_VECTOR_MISMATCH", "Chunks and vectors length mismatch")
		}

		points := make([]qdrant.Point, len(batch))
		for i, chunk := range batch {
			pointID := uuid.New()
			pairs = append(pairs, db.ChunkPointID{ChunkID: chunk.ID, PointID: pointID})
			points[i] = qdrant.Point{
				ID:     pointID,
				Vector: vectors[i],
				Payload: qdrant.Payload{
					RepoID:    snapshot.RepoID.String(),
					ChunkID:   chunk.ID.String(),
					FilePath:  chunk.FilePath,
					StartLine: chunk.StartLine,
					EndLine:   chunk.EndLine,
					Language:  chunk.Language,
				},
			}
		}
		if err := w.vectors.UpsertPoints(ctx, points); err != nil {
			return err
		}

		progress := 40 + int(float64(end)/float64(len(chunks))*50)
		if progress > 95 {
			progress = 95
		}
		if err := w.store.UpdateJobStatus(ctx, snapshot.JobID, db.StatusEmbedding, progress, nil); err != nil {
			return err
		}
	}

	if err := w.store.SetChunkPointIDs(ctx, pairs); err != nil {
		return err
	}
	return w.store.UpdateJobStatus(ctx, snapshot.JobID, db.StatusAnalyzing, 100, nil)
}
