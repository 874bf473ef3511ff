package models

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ModelPerformanceRecord is one evaluation of one model version. The metric
// columns are scoped by model type: regression and forecasting models carry
// mae/rmse/r2, classification models carry accuracy/precision/recall/f1/auc.
// Fields outside the model's family stay NULL; NULL means "not applicable",
// never zero.
type ModelPerformanceRecord struct {
	ID             uint      `gorm:"primary_key" json:"id"`
	ModelName      string    `gorm:"column:model_name;size:128;not null;index:idx_mp_name_eval,priority:1" json:"model_name"`
	ModelType      ModelType `gorm:"column:model_type;size:32;not null" json:"model_type"`
	EvaluationDate time.Time `gorm:"column:evaluation_date;not null;index:idx_mp_name_eval,priority:2" json:"evaluation_date"`

	TrainingSamples int `gorm:"column:training_samples;default:0" json:"training_samples"`
	TestSamples     int `gorm:"column:test_samples;default:0" json:"test_samples"`

	MAE     *decimal.Decimal `gorm:"column:mae;type:decimal(20,4)" json:"mae"`
	RMSE    *decimal.Decimal `gorm:"column:rmse;type:decimal(20,4)" json:"rmse"`
	R2Score *float64         `gorm:"column:r2_score" json:"r2_score"`

	Accuracy       *float64 `gorm:"column:accuracy" json:"accuracy"`
	PrecisionScore *float64 `gorm:"column:precision_score" json:"precision_score"`
	RecallScore    *float64 `gorm:"column:recall_score" json:"recall_score"`
	F1Score        *float64 `gorm:"column:f1_score" json:"f1_score"`
	AucRoc         *float64 `gorm:"column:auc_roc" json:"auc_roc"`

	TopFeatures         StructuredBlob `gorm:"column:top_features;type:text" json:"top_features"`
	Hyperparameters     StructuredBlob `gorm:"column:hyperparameters;type:text" json:"hyperparameters"`
	TrainingTimeSeconds *float64       `gorm:"column:training_time_seconds" json:"training_time_seconds"`
	TrainingRunId       *uint          `gorm:"column:training_run_id;index" json:"training_run_id"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (ModelPerformanceRecord) TableName() string { return "ml_model_performance" }

func (r *ModelPerformanceRecord) hasRegressionMetrics() bool {
	return r.MAE != nil || r.RMSE != nil || r.R2Score != nil
}

func (r *ModelPerformanceRecord) hasClassificationMetrics() bool {
	return r.Accuracy != nil || r.PrecisionScore != nil || r.RecallScore != nil ||
		r.F1Score != nil || r.AucRoc != nil
}

// Validate enforces the metric/type scoping before anything is persisted.
func (r *ModelPerformanceRecord) Validate() error {
	if r.ModelName == "" {
		return fmt.Errorf("model_name is required")
	}
	if !r.ModelType.IsValid() {
		return ErrInvalidModelType
	}
	switch r.ModelType {
	case ModelTypeClassification:
		if r.hasRegressionMetrics() {
			return fmt.Errorf("classification model %s cannot carry regression metrics", r.ModelName)
		}
	case ModelTypeRegression, ModelTypeForecasting:
		if r.hasClassificationMetrics() {
			return fmt.Errorf("%s model %s cannot carry classification metrics", r.ModelType, r.ModelName)
		}
	}
	return nil
}

func RecordModelPerformance(ctx context.Context, db *gorm.DB, rec *ModelPerformanceRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	if rec.EvaluationDate.IsZero() {
		rec.EvaluationDate = time.Now().UTC()
	}
	return db.WithContext(ctx).Create(rec).Error
}

func GetModelPerformanceHistory(ctx context.Context, db *gorm.DB, modelName string, limit int) ([]ModelPerformanceRecord, error) {
	var records []ModelPerformanceRecord
	q := db.WithContext(ctx).
		Where("model_name = ?", modelName).
		Order("evaluation_date DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&records).Error
	return records, err
}

func GetLatestModelPerformance(ctx context.Context, db *gorm.DB) ([]ModelPerformanceRecord, error) {
	var records []ModelPerformanceRecord
	err := db.WithContext(ctx).
		Where(`(model_name, evaluation_date) IN (
			SELECT model_name, MAX(evaluation_date)
			FROM ml_model_performance
			GROUP BY model_name)`).
		Order("model_name").
		Find(&records).Error
	return records, err
}
