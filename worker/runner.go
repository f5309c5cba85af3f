package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/devlens/devlens/telemetry"
)

const (
	heartbeatKey      = "devlens:worker:heartbeat"
	heartbeatTTL      = 30 * time.Second
	heartbeatInterval = 10 * time.Second
	idleSleep         = 2 * time.Second
)

// Stage processes one claimed job at a time.
type Stage interface {
	ProcessNext(ctx context.Context) (bool, error)
}

// Runner drives the pipeline stages in a single loop, publishes a liveness
// heartbeat to redis and serves the worker's metrics endpoint.
type Runner struct {
	stages      []Stage
	rdb         redis.UniversalClient
	metricsAddr string
	log         *logrus.Entry
}

// NewRunner assembles the stage loop. Stages run in pipeline order so a job
// can move through parse, embed and analyze in consecutive iterations.
func NewRunner(parse *ParseWorker, embed *EmbedWorker, analyze *AnalyzeWorker, rdb redis.UniversalClient, metricsPort int, log *logrus.Entry) *Runner {
	return &Runner{
		stages:      []Stage{parse, embed, analyze},
		rdb:         rdb,
		metricsAddr: fmt.Sprintf(":%d", metricsPort),
		log:         log,
	}
}

// Run blocks until the context is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	metricsServer := telemetry.ServeMetrics(r.metricsAddr, r.log)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	go r.heartbeatLoop(ctx)

	r.log.WithField("metrics_addr", r.metricsAddr).Info("worker started")
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		busy := false
		for _, stage := range r.stages {
			processed, err := stage.ProcessNext(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				r.log.WithError(err).Error("stage poll failed")
				continue
			}
			busy = busy || processed
		}

		if !busy {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(idleSleep):
			}
		}
	}
}

// heartbeatLoop refreshes the liveness key every ten seconds with a TTL of
// thirty, so a dead worker disappears from the readiness probe quickly.
func (r *Runner) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	r.beat(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.beat(ctx)
		}
	}
}

func (r *Runner) beat(ctx context.Context) {
	if r.rdb == nil {
		return
	}
	if err := r.rdb.Set(ctx, heartbeatKey, time.Now().Unix(), heartbeatTTL).Err(); err != nil && ctx.Err() == nil {
		r.log.WithError(err).Warn("heartbeat write failed")
	}
}
