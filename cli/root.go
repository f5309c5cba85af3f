// Package cli defines the devlens command tree. One binary hosts the API
// server, the analysis worker and the schema migrator; deployments pick a
// role with a subcommand.
package cli

import (
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/devlens/devlens/common"
	"github.com/devlens/devlens/config"
	"github.com/devlens/devlens/version"
)

// RootCmd is the devlens entry point.
var RootCmd = &cobra.Command{
	Use:   "devlens",
	Short: "GitHub repository analysis service",
	Long: `DevLens analyzes public GitHub repositories: it clones and chunks the
source, indexes it for hybrid code search, derives quality and tech debt
signals and serves dashboards, grounded chat and share links over HTTP.

Subcommands select the process role:

  server    run the HTTP API
  worker    run the parse/embed/analyze pipeline
  migrate   create or update the database schema

Configuration comes from environment variables or an optional .env file
(DATABASE_URL, REDIS_URL, QDRANT_URL, JWT_SECRET, ...).`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build and dependency information",
	RunE: func(cmd *cobra.Command, args []string) error {
		encoded, err := json.MarshalIndent(version.GetBuildInfo(), "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(encoded))
		return nil
	},
}

func init() {
	RootCmd.AddCommand(serverCmd, workerCmd, migrateCmd, versionCmd)
}

// bootstrap loads configuration and configures the process logger.
func bootstrap(service string) (*config.Config, *logrus.Entry, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	log := common.Configure(common.LoggerConfig{
		Level:   cfg.LogLevel,
		Format:  cfg.LogFormat,
		Service: service,
	})
	log.WithFields(logrus.Fields{
		"env":     cfg.Env,
		"version": version.ServiceVersion(),
	}).Info("configuration loaded")
	return cfg, log, nil
}

// redisClient opens a client from the configured URL.
func redisClient(cfg *config.Config) (redis.UniversalClient, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	return redis.NewClient(opts), nil
}
