package workflow

import (
	"bytes"
	"context"
	"io"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"bitbucket.org/mmdatafocus/finsight_backend/config"
	"bitbucket.org/mmdatafocus/finsight_backend/models"
	"bitbucket.org/mmdatafocus/finsight_backend/utils"
)

// Training itself runs out of process; this workflow is the bookkeeping
// side: run lifecycle, evaluation metrics and the trained artifact.

type TrainingSuccessInput struct {
	RecordsUsed     int                            `json:"records_used"`
	FeaturesCount   int                            `json:"features_count"`
	DurationSeconds float64                        `json:"duration_seconds"`
	Performance     *models.ModelPerformanceRecord `json:"performance"`
	Artifact        []byte                         `json:"artifact"`
}

func StartTraining(ctx context.Context, db *gorm.DB, logger *logrus.Logger, modelName string, rangeStart, rangeEnd *time.Time) (*models.TrainingRun, error) {
	run, err := models.StartTrainingRun(ctx, db, modelName, rangeStart, rangeEnd)
	if err != nil {
		config.LogError(logger, "trainingWorkflow.go", "StartTraining", "StartTrainingRun", modelName, err)
		return nil, err
	}
	config.LogJob(logger, "training", "run started", logrus.Fields{
		"runId":     run.ID,
		"modelName": modelName,
	})
	return run, nil
}

// FinishTrainingSuccess stores the artifact first, then finalizes the run
// and attaches the evaluation record. A failed artifact upload leaves the
// run pending so the trainer can retry the completion call.
func FinishTrainingSuccess(ctx context.Context, db *gorm.DB, logger *logrus.Logger, runId uint, input TrainingSuccessInput) (*models.TrainingRun, error) {
	run, err := models.GetTrainingRun(ctx, db, runId)
	if err != nil {
		return nil, err
	}

	artifactKey := ""
	if len(input.Artifact) > 0 {
		artifactKey = utils.ModelArtifactKey(run.ModelName, run.ID)
		if _, err := utils.SaveModelArtifact(ctx, artifactKey, bytes.NewReader(input.Artifact)); err != nil {
			config.LogError(logger, "trainingWorkflow.go", "FinishTrainingSuccess", "SaveModelArtifact", artifactKey, err)
			return nil, err
		}
	}

	run, err = models.CompleteTrainingRun(ctx, db, runId, models.TrainingOutcome{
		RecordsUsed:     input.RecordsUsed,
		FeaturesCount:   input.FeaturesCount,
		DurationSeconds: input.DurationSeconds,
		ArtifactKey:     artifactKey,
	})
	if err != nil {
		config.LogError(logger, "trainingWorkflow.go", "FinishTrainingSuccess", "CompleteTrainingRun", runId, err)
		return nil, err
	}

	if input.Performance != nil {
		perf := *input.Performance
		perf.ModelName = run.ModelName
		perf.TrainingRunId = &run.ID
		if perf.TrainingTimeSeconds == nil {
			perf.TrainingTimeSeconds = &input.DurationSeconds
		}
		if err := models.RecordModelPerformance(ctx, db, &perf); err != nil {
			config.LogError(logger, "trainingWorkflow.go", "FinishTrainingSuccess", "RecordModelPerformance", runId, err)
			return nil, err
		}
	}

	config.LogJob(logger, "training", "run succeeded", logrus.Fields{
		"runId":       run.ID,
		"modelName":   run.ModelName,
		"recordsUsed": input.RecordsUsed,
	})
	return run, nil
}

func FinishTrainingFailure(ctx context.Context, db *gorm.DB, logger *logrus.Logger, runId uint, message string, durationSeconds float64) (*models.TrainingRun, error) {
	run, err := models.FailTrainingRun(ctx, db, runId, message, durationSeconds)
	if err != nil {
		config.LogError(logger, "trainingWorkflow.go", "FinishTrainingFailure", "FailTrainingRun", runId, err)
		return nil, err
	}
	config.LogJob(logger, "training", "run failed", logrus.Fields{
		"runId":     run.ID,
		"modelName": run.ModelName,
		"error":     message,
	})
	return run, nil
}

// DeployModel promotes a successful run and announces the deployment so
// downstream scorers pick up the new version.
func DeployModel(ctx context.Context, db *gorm.DB, logger *logrus.Logger, runId uint) (*models.TrainingRun, error) {
	run, err := models.DeployTrainingRun(ctx, db, runId)
	if err != nil {
		config.LogError(logger, "trainingWorkflow.go", "DeployModel", "DeployTrainingRun", runId, err)
		return nil, err
	}

	if topic := config.ModelDeployedTopic(); topic != "" {
		if _, err := config.PublishJSON(ctx, topic, map[string]interface{}{
			"run_id":       run.ID,
			"model_name":   run.ModelName,
			"artifact_key": run.ArtifactKey,
			"deployed_at":  run.DeployedAt,
		}); err != nil {
			logger.WithField("error", err.Error()).Warn("model deployment event publish failed")
		}
	}

	config.LogJob(logger, "training", "run deployed", logrus.Fields{
		"runId":     run.ID,
		"modelName": run.ModelName,
	})
	return run, nil
}

// LoadDeployedArtifact fetches the artifact bytes of the current deployment.
func LoadDeployedArtifact(ctx context.Context, db *gorm.DB, modelName string) ([]byte, *models.TrainingRun, error) {
	run, err := models.GetCurrentDeployment(ctx, db, modelName)
	if err != nil {
		return nil, nil, err
	}
	if run.ArtifactKey == "" {
		return nil, run, utils.ErrorRecordNotFound
	}
	rc, err := utils.LoadModelArtifact(ctx, run.ArtifactKey)
	if err != nil {
		return nil, run, err
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, run, err
	}
	return data, run, nil
}
