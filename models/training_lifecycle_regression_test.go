package models_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/finsight_backend/models"
)

// success is tri-state and single-transition: pending → success/failed, then
// frozen.
func TestTrainingRunStateTransitions(t *testing.T) {
	db := setupIntegrationDB(t)
	ctx := context.Background()

	run, err := models.StartTrainingRun(ctx, db, "payment_predictor", nil, nil)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if run.State() != models.TrainingRunStatePending {
		t.Fatalf("new run state = %q, want pending", run.State())
	}

	done, err := models.CompleteTrainingRun(ctx, db, run.ID, models.TrainingOutcome{
		RecordsUsed:     1200,
		FeaturesCount:   18,
		DurationSeconds: 42.5,
		ArtifactKey:     "models/payment_predictor/run-1.bin",
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if done.State() != models.TrainingRunStateSuccess || done.RecordsUsed != 1200 {
		t.Fatalf("completed run wrong: %+v", done)
	}

	// A finished run cannot flip to failed.
	if _, err := models.FailTrainingRun(ctx, db, run.ID, "late failure", 1); !errors.Is(err, models.ErrRunNotPending) {
		t.Fatalf("fail after complete: err = %v, want ErrRunNotPending", err)
	}
	reloaded, err := models.GetTrainingRun(ctx, db, run.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.State() != models.TrainingRunStateSuccess {
		t.Fatalf("state changed after rejected transition: %q", reloaded.State())
	}
}

// Only successful runs deploy; deployment is recorded at most once per run
// and the newest deployed run is the current deployment.
func TestTrainingRunDeployment(t *testing.T) {
	db := setupIntegrationDB(t)
	ctx := context.Background()

	failed, err := models.StartTrainingRun(ctx, db, "payment_predictor", nil, nil)
	if err != nil {
		t.Fatalf("start failed run: %v", err)
	}
	if _, err := models.FailTrainingRun(ctx, db, failed.ID, "did not converge", 10); err != nil {
		t.Fatalf("fail: %v", err)
	}
	if _, err := models.DeployTrainingRun(ctx, db, failed.ID); !errors.Is(err, models.ErrRunNotDeployable) {
		t.Fatalf("deploy failed run: err = %v, want ErrRunNotDeployable", err)
	}

	deploy := func() *models.TrainingRun {
		t.Helper()
		run, err := models.StartTrainingRun(ctx, db, "payment_predictor", nil, nil)
		if err != nil {
			t.Fatalf("start: %v", err)
		}
		if _, err := models.CompleteTrainingRun(ctx, db, run.ID, models.TrainingOutcome{}); err != nil {
			t.Fatalf("complete: %v", err)
		}
		deployed, err := models.DeployTrainingRun(ctx, db, run.ID)
		if err != nil {
			t.Fatalf("deploy: %v", err)
		}
		if deployed.DeployedAt == nil {
			t.Fatalf("deployed_at not set")
		}
		return deployed
	}

	first := deploy()
	time.Sleep(1100 * time.Millisecond)
	second := deploy()

	// Re-deploying the first run is a no-op: its timestamp must not move.
	again, err := models.DeployTrainingRun(ctx, db, first.ID)
	if err != nil {
		t.Fatalf("re-deploy: %v", err)
	}
	if !again.DeployedAt.Equal(*first.DeployedAt) {
		t.Fatalf("deployed_at moved on re-deploy: %v -> %v", first.DeployedAt, again.DeployedAt)
	}

	current, err := models.GetCurrentDeployment(ctx, db, "payment_predictor")
	if err != nil {
		t.Fatalf("GetCurrentDeployment: %v", err)
	}
	if current.ID != second.ID {
		t.Fatalf("current deployment = run %d, want run %d", current.ID, second.ID)
	}

	history, err := models.GetTrainingHistory(ctx, db, "payment_predictor", 0)
	if err != nil {
		t.Fatalf("GetTrainingHistory: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("history rows = %d, want 3", len(history))
	}
}
