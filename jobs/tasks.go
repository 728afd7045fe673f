// Package jobs contains background task definitions and the Asynq worker.
package jobs

import (
	"context"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/bodega-pos/bodega/internal/jobs"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskSessionsPurge drops expired session records from the registry.
	TaskSessionsPurge = "sessions:purge"
)

// SessionPurger removes expired session rows. Implemented by auth.Service.
type SessionPurger interface {
	PurgeExpiredSessions(ctx context.Context) (int64, error)
}

// NewSessionsPurgeTask constructs the purge task. The task carries no
// payload; the cutoff is always "now".
func NewSessionsPurgeTask() *asynq.Task {
	return asynq.NewTask(TaskSessionsPurge, nil)
}

// NewSessionsPurgeHandler returns the handler processing TaskSessionsPurge.
// metrics may be nil.
func NewSessionsPurgeHandler(purger SessionPurger, logger *slog.Logger, metrics *jobmetrics.Metrics) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		tracker := metrics.Track(TaskSessionsPurge)
		removed, err := purger.PurgeExpiredSessions(ctx)
		if err != nil {
			return tracker.End(err)
		}
		if logger != nil {
			logger.Info("expired sessions purged", slog.Int64("removed", removed))
		}
		return tracker.End(nil)
	}
}
