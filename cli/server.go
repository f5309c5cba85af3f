package cli

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/devlens/devlens/api"
	"github.com/devlens/devlens/auth"
	"github.com/devlens/devlens/db"
	"github.com/devlens/devlens/github"
	"github.com/devlens/devlens/qdrant"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run the HTTP API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := bootstrap("api")
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

		tokens := auth.NewTokenService(cfg.JWTSecret, cfg.AccessTokenTTL(), cfg.RefreshTokenTTL())
		oauth := github.NewOAuth(cfg.GitHubClientID, cfg.GitHubClientSecret, cfg.GitHubOAuthRedirectURI)
		gh := github.NewClient(nil)
		vectors := qdrant.NewClient(cfg.QdrantURL, cfg.QdrantCollection, cfg.EmbedVectorSize, cfg.EmbedRetryAttempts)

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := store.Ping(pingCtx); err != nil {
			log.WithError(err).Warn("database not reachable at startup")
		}

		server := api.NewServer(cfg, store, rdb, tokens, oauth, gh, vectors, log)
		return server.Start(ctx)
	},
}
