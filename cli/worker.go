package cli

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/devlens/devlens/db"
	"github.com/devlens/devlens/github"
	"github.com/devlens/devlens/llm"
	"github.com/devlens/devlens/qdrant"
	"github.com/devlens/devlens/worker"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the analysis pipeline worker",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := bootstrap("worker")
		if err != nil {
			return err
		}

		gdb, err := db.Open(cfg.DatabaseURL)
		if err != nil {
			return err
		}
		store := db.NewStore(gdb)

		rdb, err := redisClient(cfg)
		if err != nil {
			return err
		}
		defer rdb.Close()

		vectors := qdrant.NewClient(cfg.QdrantURL, cfg.QdrantCollection, cfg.EmbedVectorSize, cfg.EmbedRetryAttempts)
		gh := github.NewClient(nil)
		summarizer := llm.NewSummarizerFromConfig(cfg, log)
		reliability := worker.NewReliability(store, cfg.WorkerRetryMaxAttempts, cfg.WorkerRetryBaseDelaySeconds, log)

		parse := worker.NewParseWorker(store, reliability, cfg, log)
		embed := worker.NewEmbedWorker(store, vectors, reliability, cfg, log)
		analyze := worker.NewAnalyzeWorker(store, gh, summarizer, reliability, log)
		runner := worker.NewRunner(parse, embed, analyze, rdb, cfg.WorkerMetricsPort, log)

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := runner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		log.Info("worker stopped")
		return nil
	},
}
