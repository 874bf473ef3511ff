package models

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"bitbucket.org/mmdatafocus/finsight_backend/utils"
)

// TrainingRun is one attempt at training one model. The persisted success
// flag is tri-state: NULL while the run is in flight, then true or false,
// and it never changes again. deployed_at is set at most once per run, so a
// run's deployment timestamp can only appear, never move, and the deployment
// history of a model is the ordered set of its deployed runs.
type TrainingRun struct {
	ID             uint       `gorm:"primary_key" json:"id"`
	ModelName      string     `gorm:"column:model_name;size:128;not null;index" json:"model_name"`
	TrainingDate   time.Time  `gorm:"column:training_date;not null" json:"training_date"`
	DateRangeStart *time.Time `gorm:"column:date_range_start;type:date" json:"date_range_start"`
	DateRangeEnd   *time.Time `gorm:"column:date_range_end;type:date" json:"date_range_end"`

	RecordsUsed   int `gorm:"column:records_used;default:0" json:"records_used"`
	FeaturesCount int `gorm:"column:features_count;default:0" json:"features_count"`

	Success                 *bool    `gorm:"column:success" json:"success"`
	ErrorMessage            string   `gorm:"column:error_message;type:text" json:"error_message"`
	TrainingDurationSeconds *float64 `gorm:"column:training_duration_seconds" json:"training_duration_seconds"`

	ArtifactKey string     `gorm:"column:artifact_key;size:255" json:"artifact_key"`
	DeployedAt  *time.Time `gorm:"column:deployed_at;index" json:"deployed_at"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (TrainingRun) TableName() string { return "ml_training_history" }

func (r *TrainingRun) State() TrainingRunState {
	switch {
	case r.Success == nil:
		return TrainingRunStatePending
	case *r.Success:
		return TrainingRunStateSuccess
	default:
		return TrainingRunStateFailed
	}
}

var (
	ErrRunNotPending   = errors.New("training run already finished")
	ErrRunNotDeployable = errors.New("only a successful training run can be deployed")
)

func StartTrainingRun(ctx context.Context, db *gorm.DB, modelName string, rangeStart, rangeEnd *time.Time) (*TrainingRun, error) {
	run := TrainingRun{
		ModelName:      modelName,
		TrainingDate:   time.Now().UTC(),
		DateRangeStart: rangeStart,
		DateRangeEnd:   rangeEnd,
	}
	if err := db.WithContext(ctx).Create(&run).Error; err != nil {
		return nil, err
	}
	return &run, nil
}

type TrainingOutcome struct {
	RecordsUsed     int
	FeaturesCount   int
	DurationSeconds float64
	ArtifactKey     string
}

// CompleteTrainingRun moves pending → success. The guarded UPDATE makes the
// transition race-safe: a run that already finished is left untouched.
func CompleteTrainingRun(ctx context.Context, db *gorm.DB, runId uint, outcome TrainingOutcome) (*TrainingRun, error) {
	res := db.WithContext(ctx).Model(&TrainingRun{}).
		Where("id = ? AND success IS NULL", runId).
		Updates(map[string]interface{}{
			"success":                   true,
			"records_used":              outcome.RecordsUsed,
			"features_count":            outcome.FeaturesCount,
			"training_duration_seconds": outcome.DurationSeconds,
			"artifact_key":              outcome.ArtifactKey,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, finishedOrMissing(ctx, db, runId)
	}
	return GetTrainingRun(ctx, db, runId)
}

// FailTrainingRun moves pending → failed with the reason preserved.
func FailTrainingRun(ctx context.Context, db *gorm.DB, runId uint, message string, durationSeconds float64) (*TrainingRun, error) {
	res := db.WithContext(ctx).Model(&TrainingRun{}).
		Where("id = ? AND success IS NULL", runId).
		Updates(map[string]interface{}{
			"success":                   false,
			"error_message":             message,
			"training_duration_seconds": durationSeconds,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, finishedOrMissing(ctx, db, runId)
	}
	return GetTrainingRun(ctx, db, runId)
}

func finishedOrMissing(ctx context.Context, db *gorm.DB, runId uint) error {
	var run TrainingRun
	if err := db.WithContext(ctx).First(&run, runId).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return utils.ErrorRecordNotFound
		}
		return err
	}
	return ErrRunNotPending
}

// DeployTrainingRun stamps deployed_at on a successful run. Deploying twice
// is a no-op keeping the original timestamp, so the deployment history never
// rewrites itself. The newest deployed_at per model is the current
// deployment.
func DeployTrainingRun(ctx context.Context, db *gorm.DB, runId uint) (*TrainingRun, error) {
	run, err := GetTrainingRun(ctx, db, runId)
	if err != nil {
		return nil, err
	}
	if run.State() != TrainingRunStateSuccess {
		return nil, ErrRunNotDeployable
	}
	if run.DeployedAt != nil {
		return run, nil
	}
	res := db.WithContext(ctx).Model(&TrainingRun{}).
		Where("id = ? AND deployed_at IS NULL", runId).
		Update("deployed_at", time.Now().UTC())
	if res.Error != nil {
		return nil, res.Error
	}
	return GetTrainingRun(ctx, db, runId)
}

func GetTrainingRun(ctx context.Context, db *gorm.DB, runId uint) (*TrainingRun, error) {
	var run TrainingRun
	if err := db.WithContext(ctx).First(&run, runId).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &run, nil
}

// GetCurrentDeployment returns the deployed run with the newest deployed_at
// for the model, or ErrorRecordNotFound when nothing is deployed.
func GetCurrentDeployment(ctx context.Context, db *gorm.DB, modelName string) (*TrainingRun, error) {
	var run TrainingRun
	err := db.WithContext(ctx).
		Where("model_name = ? AND deployed_at IS NOT NULL", modelName).
		Order("deployed_at DESC").
		First(&run).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &run, nil
}

func GetTrainingHistory(ctx context.Context, db *gorm.DB, modelName string, limit int) ([]TrainingRun, error) {
	var runs []TrainingRun
	q := db.WithContext(ctx).Order("training_date DESC")
	if modelName != "" {
		q = q.Where("model_name = ?", modelName)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&runs).Error
	return runs, err
}
