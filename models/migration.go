package models

import (
	"log"

	"gorm.io/gorm"

	"bitbucket.org/mmdatafocus/finsight_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&Company{}, &Person{}, &Invoice{}, &Product{}, &Transaction{}, &Account{},
		&DashboardMetric{}, &CustomerMetric{}, &TimeseriesPoint{}, &Alert{},
		&Prediction{}, &ModelPerformanceRecord{}, &TrainingRun{},
		&SyncRun{}, &SyncError{}, &SyncCursor{},
	)
	if err != nil {
		log.Fatal(err)
	}

	if err := CreateViews(db); err != nil {
		log.Fatal(err)
	}
}

// CreateViews (re)creates the SQL views of the read contract:
// v_active_predictions summarizes the current belief per
// (prediction_type, entity_type), v_model_accuracy the live error aggregates
// per prediction_type. The AVG over the CASE expression yields NULL, not
// zero, for types with no reconciled rows, so an unmeasured model never
// reports perfect accuracy.
func CreateViews(db *gorm.DB) error {
	if err := db.Exec(`
		CREATE OR REPLACE VIEW v_active_predictions AS
		SELECT prediction_type,
		       entity_type,
		       COUNT(*) AS prediction_count,
		       AVG(confidence_score) AS avg_confidence,
		       MIN(prediction_date) AS earliest_prediction,
		       MAX(prediction_date) AS latest_prediction
		FROM ml_predictions
		WHERE is_active = 1
		GROUP BY prediction_type, entity_type`).Error; err != nil {
		return err
	}

	return db.Exec(`
		CREATE OR REPLACE VIEW v_model_accuracy AS
		SELECT prediction_type,
		       COUNT(*) AS total_predictions,
		       SUM(CASE WHEN actual_value IS NOT NULL THEN 1 ELSE 0 END) AS verified_predictions,
		       AVG(CASE WHEN actual_value IS NOT NULL THEN ABS(prediction_error) END) AS mean_abs_error,
		       AVG(confidence_score) AS avg_confidence
		FROM ml_predictions
		GROUP BY prediction_type`).Error
}
