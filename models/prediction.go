package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"bitbucket.org/mmdatafocus/finsight_backend/utils"
)

// Prediction is one model output for one entity. Supersession is append-only:
// a new batch deactivates the previous active rows and inserts fresh ones, so
// every prediction ever made stays on record for accuracy tracking.
//
// active_key is the currency projection: "predictionType:entityType:entityId"
// while active, NULL once superseded. Its unique index guarantees at most one
// active prediction per subject even under concurrent batch ingestion.
type Prediction struct {
	ID                uint             `gorm:"primary_key" json:"id"`
	PredictionType    PredictionType   `gorm:"column:prediction_type;size:64;not null;index:idx_pred_type_active,priority:1" json:"prediction_type"`
	EntityType        string           `gorm:"column:entity_type;size:64;not null" json:"entity_type"`
	EntityId          string           `gorm:"column:entity_id;size:128;not null;index" json:"entity_id"`
	EntityName        string           `gorm:"column:entity_name;size:255" json:"entity_name"`
	PredictionDate    time.Time        `gorm:"column:prediction_date;not null" json:"prediction_date"`
	TargetDate        *time.Time       `gorm:"column:target_date;type:date;index" json:"target_date"`
	PredictedValue    *decimal.Decimal `gorm:"column:predicted_value;type:decimal(20,4)" json:"predicted_value"`
	PredictedCategory string           `gorm:"column:predicted_category;size:64" json:"predicted_category"`
	ConfidenceScore   *float64         `gorm:"column:confidence_score" json:"confidence_score"`
	ModelVersion      string           `gorm:"column:model_version;size:64;not null" json:"model_version"`
	FeaturesUsed      StructuredBlob   `gorm:"column:features_used;type:text" json:"features_used"`
	Metadata          StructuredBlob   `gorm:"column:metadata;type:text" json:"metadata"`
	IsActive          bool             `gorm:"column:is_active;not null;default:true;index:idx_pred_type_active,priority:2" json:"is_active"`
	ActiveKey         *string          `gorm:"column:active_key;size:255;uniqueIndex" json:"-"`
	ActualValue       *decimal.Decimal `gorm:"column:actual_value;type:decimal(20,4)" json:"actual_value"`
	PredictionError   *decimal.Decimal `gorm:"column:prediction_error;type:decimal(20,4)" json:"prediction_error"`
	ReconciledAt      *time.Time       `gorm:"column:reconciled_at" json:"reconciled_at"`
	CreatedAt         time.Time        `gorm:"autoCreateTime" json:"created_at"`
}

func (Prediction) TableName() string { return "ml_predictions" }

func PredictionActiveKey(predictionType PredictionType, entityType, entityId string) string {
	return fmt.Sprintf("%s:%s:%s", predictionType, entityType, entityId)
}

// NewPrediction is the ingest payload, bound from HTTP or Pub/Sub.
type NewPrediction struct {
	PredictionType    PredictionType   `json:"prediction_type" binding:"required"`
	EntityType        string           `json:"entity_type" binding:"required"`
	EntityId          string           `json:"entity_id" binding:"required"`
	EntityName        string           `json:"entity_name"`
	TargetDate        *time.Time       `json:"target_date"`
	PredictedValue    *decimal.Decimal `json:"predicted_value"`
	PredictedCategory string           `json:"predicted_category"`
	ConfidenceScore   *float64         `json:"confidence_score" binding:"omitempty,gte=0,lte=1"`
	ModelVersion      string           `json:"model_version" binding:"required"`
	FeaturesUsed      StructuredBlob   `json:"features_used"`
	Metadata          StructuredBlob   `json:"metadata"`
}

var ErrDuplicateSubjectInBatch = errors.New("prediction batch contains the same subject twice")

// IngestPredictionBatch atomically supersedes and activates: in one
// transaction the currently active rows for every subject in the batch are
// deactivated (active_key cleared) and the new rows are inserted active.
// Readers therefore never observe a subject with zero or two active
// predictions. A unique-index conflict from a concurrent batch rolls the
// whole transaction back; the caller retries.
func IngestPredictionBatch(ctx context.Context, db *gorm.DB, batch []NewPrediction) ([]Prediction, error) {
	var rows []Prediction
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		rows, err = IngestPredictionBatchTx(tx, batch)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// IngestPredictionBatchTx is the transaction-scoped form. The caller owns tx;
// this lets the activation advisory lock live on the same connection as the
// supersession writes.
func IngestPredictionBatchTx(tx *gorm.DB, batch []NewPrediction) ([]Prediction, error) {
	if len(batch) == 0 {
		return nil, nil
	}

	keys := make([]string, 0, len(batch))
	seen := make(map[string]struct{}, len(batch))
	for _, p := range batch {
		key := PredictionActiveKey(p.PredictionType, p.EntityType, p.EntityId)
		if _, dup := seen[key]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateSubjectInBatch, key)
		}
		seen[key] = struct{}{}
		keys = append(keys, key)
	}

	now := time.Now().UTC()
	rows := make([]Prediction, 0, len(batch))
	for i, p := range batch {
		rows = append(rows, Prediction{
			PredictionType:    p.PredictionType,
			EntityType:        p.EntityType,
			EntityId:          p.EntityId,
			EntityName:        p.EntityName,
			PredictionDate:    now,
			TargetDate:        p.TargetDate,
			PredictedValue:    p.PredictedValue,
			PredictedCategory: p.PredictedCategory,
			ConfidenceScore:   p.ConfidenceScore,
			ModelVersion:      p.ModelVersion,
			FeaturesUsed:      p.FeaturesUsed,
			Metadata:          p.Metadata,
			IsActive:          true,
			ActiveKey:         &keys[i],
		})
	}

	res := tx.Model(&Prediction{}).
		Where("active_key IN ?", keys).
		Updates(map[string]interface{}{
			"is_active":  false,
			"active_key": nil,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if err := tx.Create(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// ReconcilePrediction attaches the observed outcome. First write wins: a row
// that already has an actual is returned unchanged, so replayed reconcile
// jobs cannot drift the error. prediction_error = actual − predicted and is
// only defined when the prediction was numeric.
func ReconcilePrediction(ctx context.Context, db *gorm.DB, predictionId uint, actual decimal.Decimal) (*Prediction, error) {
	var pred Prediction
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&pred, predictionId).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return utils.ErrorRecordNotFound
			}
			return err
		}
		if pred.ActualValue != nil {
			return nil
		}

		now := time.Now().UTC()
		updates := map[string]interface{}{
			"actual_value":  actual,
			"reconciled_at": now,
		}
		if pred.PredictedValue != nil {
			predErr := actual.Sub(*pred.PredictedValue)
			updates["prediction_error"] = predErr
			pred.PredictionError = &predErr
		}
		res := tx.Model(&Prediction{}).
			Where("id = ? AND actual_value IS NULL", predictionId).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// Lost a race with another reconciler; reload the winner's write.
			return tx.First(&pred, predictionId).Error
		}
		pred.ActualValue = &actual
		pred.ReconciledAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &pred, nil
}

// ReconcilePredictionByKey reconciles by the subject tuple the external
// trainer holds: the prediction for (type, entityType, entityId) whose
// target_date matches the observed outcome's date. Superseded rows are fair
// targets; when both an active and a superseded row share the target date,
// the active one wins. First-write-wins semantics are inherited from
// ReconcilePrediction.
func ReconcilePredictionByKey(ctx context.Context, db *gorm.DB, predictionType PredictionType, entityType, entityId string, actualDate time.Time, actual decimal.Decimal) (*Prediction, error) {
	var pred Prediction
	err := db.WithContext(ctx).
		Where("prediction_type = ? AND entity_type = ? AND entity_id = ? AND target_date = ?",
			predictionType, entityType, entityId, utils.TruncateToDay(actualDate)).
		Order("is_active DESC, prediction_date DESC").
		First(&pred).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return ReconcilePrediction(ctx, db, pred.ID, actual)
}

type PredictionFilter struct {
	Type       *PredictionType
	EntityType *string
	EntityId   *string
	ActiveOnly bool
	Limit      int
}

func GetPredictions(ctx context.Context, db *gorm.DB, filter PredictionFilter) ([]Prediction, error) {
	var preds []Prediction
	q := db.WithContext(ctx).Model(&Prediction{})
	if filter.Type != nil {
		q = q.Where("prediction_type = ?", *filter.Type)
	}
	if filter.EntityType != nil {
		q = q.Where("entity_type = ?", *filter.EntityType)
	}
	if filter.EntityId != nil {
		q = q.Where("entity_id = ?", *filter.EntityId)
	}
	if filter.ActiveOnly {
		q = q.Where("is_active = ?", true)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	err := q.Order("prediction_date DESC").Find(&preds).Error
	return preds, err
}

// ListUnreconciledMatured returns active predictions whose target date has
// passed without an actual attached, the work queue for the reconcile job.
func ListUnreconciledMatured(ctx context.Context, db *gorm.DB, asOf time.Time, limit int) ([]Prediction, error) {
	var preds []Prediction
	q := db.WithContext(ctx).
		Where("actual_value IS NULL AND target_date IS NOT NULL AND target_date <= ?", asOf).
		Order("target_date")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&preds).Error
	return preds, err
}

// PurgeSupersededPredictions deletes superseded rows older than the cutoff.
// Reconciled rows are kept regardless of age: they are the accuracy audit
// trail the v_model_accuracy view is built on.
func PurgeSupersededPredictions(ctx context.Context, db *gorm.DB, olderThan time.Time) (int64, error) {
	res := db.WithContext(ctx).
		Where("is_active = ? AND actual_value IS NULL AND created_at < ?", false, olderThan).
		Delete(&Prediction{})
	return res.RowsAffected, res.Error
}

// ActivePredictionSummary is a row of the v_active_predictions view: one
// row per (prediction_type, entity_type) over the active set.
type ActivePredictionSummary struct {
	PredictionType     PredictionType `json:"prediction_type"`
	EntityType         string         `json:"entity_type"`
	PredictionCount    int64          `json:"prediction_count"`
	AvgConfidence      *float64       `json:"avg_confidence"`
	EarliestPrediction time.Time      `json:"earliest_prediction"`
	LatestPrediction   time.Time      `json:"latest_prediction"`
}

func GetActivePredictionView(ctx context.Context, db *gorm.DB, predictionType *PredictionType) ([]ActivePredictionSummary, error) {
	var rows []ActivePredictionSummary
	q := db.WithContext(ctx).Table("v_active_predictions")
	if predictionType != nil {
		q = q.Where("prediction_type = ?", *predictionType)
	}
	err := q.Order("prediction_type, entity_type").Scan(&rows).Error
	return rows, err
}

// ModelAccuracySummary is a row of the v_model_accuracy view: one row per
// prediction_type. MeanAbsError is NULL, never zero, for a type with no
// verified predictions.
type ModelAccuracySummary struct {
	PredictionType      PredictionType   `json:"prediction_type"`
	TotalPredictions    int64            `json:"total_predictions"`
	VerifiedPredictions int64            `json:"verified_predictions"`
	MeanAbsError        *decimal.Decimal `json:"mean_abs_error"`
	AvgConfidence       *float64         `json:"avg_confidence"`
}

func GetModelAccuracyView(ctx context.Context, db *gorm.DB) ([]ModelAccuracySummary, error) {
	var rows []ModelAccuracySummary
	err := db.WithContext(ctx).Table("v_model_accuracy").
		Order("prediction_type").
		Scan(&rows).Error
	return rows, err
}
