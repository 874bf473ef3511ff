package workflow

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"bitbucket.org/mmdatafocus/finsight_backend/config"
)

// StartScheduledJobs launches the periodic engine jobs. Each tick takes a
// redis lease first so a multi-instance deployment runs every job exactly
// once per interval. Jobs stop when ctx is cancelled.
func StartScheduledJobs(ctx context.Context, db *gorm.DB, logger *logrus.Logger) {
	jobs := []struct {
		name     string
		interval time.Duration
		run      func(context.Context) error
	}{
		{
			name:     "metrics-recompute",
			interval: config.JobInterval("METRICS_RECOMPUTE_INTERVAL_SECONDS", time.Hour),
			run: func(ctx context.Context) error {
				end := time.Now().UTC()
				start := end.AddDate(0, 0, -config.MetricsPeriodDays())
				return RecomputeMetrics(ctx, db, logger, start, end)
			},
		},
		{
			name:     "alert-evaluate",
			interval: config.JobInterval("ALERT_EVALUATE_INTERVAL_SECONDS", 15*time.Minute),
			run: func(ctx context.Context) error {
				return EvaluateAlerts(ctx, db, logger)
			},
		},
		{
			name:     "prediction-reconcile",
			interval: config.JobInterval("PREDICTION_RECONCILE_INTERVAL_SECONDS", 6*time.Hour),
			run: func(ctx context.Context) error {
				return ReconcilePredictions(ctx, db, logger)
			},
		},
		{
			name:     "prediction-purge",
			interval: config.JobInterval("PREDICTION_PURGE_INTERVAL_SECONDS", 24*time.Hour),
			run: func(ctx context.Context) error {
				return PurgePredictions(ctx, db, logger)
			},
		},
	}

	for _, job := range jobs {
		go runPeriodically(ctx, logger, job.name, job.interval, job.run)
	}
}

func runPeriodically(ctx context.Context, logger *logrus.Logger, name string, interval time.Duration, run func(context.Context) error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		lock, err := AcquireJobLease(ctx, name, interval)
		if err != nil {
			// Another instance holds the lease for this tick.
			continue
		}
		if err := run(ctx); err != nil {
			logger.WithFields(logrus.Fields{
				"job":   name,
				"error": err.Error(),
			}).Error("scheduled job failed")
		}
		ReleaseJobLease(ctx, lock)
	}
}
