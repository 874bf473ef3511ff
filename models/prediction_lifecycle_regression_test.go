package models_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"bitbucket.org/mmdatafocus/finsight_backend/models"
	"bitbucket.org/mmdatafocus/finsight_backend/utils"
)

func decPtr(v int64) *decimal.Decimal {
	d := decimal.NewFromInt(v)
	return &d
}

func newPrediction(entityId, modelVersion string, predicted int64) models.NewPrediction {
	return newTypedPrediction(models.PredictionTypeDaysToPay, entityId, modelVersion, predicted)
}

func newTypedPrediction(ptype models.PredictionType, entityId, modelVersion string, predicted int64) models.NewPrediction {
	target := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	return models.NewPrediction{
		PredictionType: ptype,
		EntityType:     "invoice",
		EntityId:       entityId,
		TargetDate:     &target,
		PredictedValue: decPtr(predicted),
		ModelVersion:   modelVersion,
	}
}

// A new batch supersedes the previous active rows for the same subjects in
// one step; history keeps every row.
func TestPredictionBatchSupersession(t *testing.T) {
	db := setupIntegrationDB(t)
	ctx := context.Background()

	v1, err := models.IngestPredictionBatch(ctx, db, []models.NewPrediction{
		newPrediction("10", "days_to_pay_v1", 20),
		newPrediction("11", "days_to_pay_v1", 35),
	})
	if err != nil {
		t.Fatalf("ingest v1: %v", err)
	}
	if len(v1) != 2 {
		t.Fatalf("v1 rows = %d, want 2", len(v1))
	}

	// v2 covers one of the two subjects plus a new one.
	if _, err := models.IngestPredictionBatch(ctx, db, []models.NewPrediction{
		newPrediction("10", "days_to_pay_v2", 18),
		newPrediction("12", "days_to_pay_v2", 40),
	}); err != nil {
		t.Fatalf("ingest v2: %v", err)
	}

	active, err := models.GetPredictions(ctx, db, models.PredictionFilter{ActiveOnly: true})
	if err != nil {
		t.Fatalf("GetPredictions: %v", err)
	}
	if len(active) != 3 {
		t.Fatalf("active rows = %d, want 3", len(active))
	}
	byEntity := map[string]models.Prediction{}
	for _, p := range active {
		byEntity[p.EntityId] = p
	}
	if byEntity["10"].ModelVersion != "days_to_pay_v2" {
		t.Fatalf("entity 10 active version = %q, want v2", byEntity["10"].ModelVersion)
	}
	if byEntity["11"].ModelVersion != "days_to_pay_v1" {
		t.Fatalf("entity 11 should still be v1")
	}

	// The superseded row survives inactive with its key cleared.
	var superseded models.Prediction
	err = db.Where("entity_id = ? AND model_version = ?", "10", "days_to_pay_v1").
		First(&superseded).Error
	if err != nil {
		t.Fatalf("superseded row gone: %v", err)
	}
	if superseded.IsActive || superseded.ActiveKey != nil {
		t.Fatalf("superseded row still active: %+v", superseded)
	}

	// The view aggregates the active set per (type, entity_type): one group
	// covering all three active rows.
	viewRows, err := models.GetActivePredictionView(ctx, db, nil)
	if err != nil {
		t.Fatalf("GetActivePredictionView: %v", err)
	}
	if len(viewRows) != 1 {
		t.Fatalf("view rows = %d, want 1", len(viewRows))
	}
	if viewRows[0].PredictionType != models.PredictionTypeDaysToPay ||
		viewRows[0].EntityType != "invoice" ||
		viewRows[0].PredictionCount != 3 {
		t.Fatalf("view group wrong: %+v", viewRows[0])
	}
	if viewRows[0].LatestPrediction.Before(viewRows[0].EarliestPrediction) {
		t.Fatalf("prediction date range inverted: %+v", viewRows[0])
	}
}

func TestPredictionBatchRejectsDuplicateSubject(t *testing.T) {
	db := setupIntegrationDB(t)
	ctx := context.Background()

	_, err := models.IngestPredictionBatch(ctx, db, []models.NewPrediction{
		newPrediction("10", "v1", 20),
		newPrediction("10", "v1", 21),
	})
	if err == nil {
		t.Fatalf("duplicate subject batch should fail")
	}

	var count int64
	if err := db.Model(&models.Prediction{}).Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Fatalf("rejected batch left %d rows", count)
	}
}

// Reconciliation is first-write-wins: a replay cannot change the recorded
// error.
func TestReconcilePredictionIdempotent(t *testing.T) {
	db := setupIntegrationDB(t)
	ctx := context.Background()

	rows, err := models.IngestPredictionBatch(ctx, db, []models.NewPrediction{
		newPrediction("10", "v1", 10),
	})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	id := rows[0].ID

	first, err := models.ReconcilePrediction(ctx, db, id, decimal.NewFromInt(15))
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if first.ActualValue == nil || !first.ActualValue.Equal(decimal.NewFromInt(15)) {
		t.Fatalf("actual = %v, want 15", first.ActualValue)
	}
	if first.PredictionError == nil || !first.PredictionError.Equal(decimal.NewFromInt(5)) {
		t.Fatalf("error = %v, want 5", first.PredictionError)
	}

	// Replay with a different actual: the original write stands.
	second, err := models.ReconcilePrediction(ctx, db, id, decimal.NewFromInt(99))
	if err != nil {
		t.Fatalf("replay reconcile: %v", err)
	}
	if !second.ActualValue.Equal(decimal.NewFromInt(15)) {
		t.Fatalf("replay changed actual to %v", second.ActualValue)
	}
	if !second.PredictionError.Equal(decimal.NewFromInt(5)) {
		t.Fatalf("replay changed error to %v", second.PredictionError)
	}
}

// The accuracy view aggregates per prediction type and reports NULL error,
// never zero, for types with no verified predictions.
func TestModelAccuracyViewUndefinedNotZero(t *testing.T) {
	db := setupIntegrationDB(t)
	ctx := context.Background()

	measured, err := models.IngestPredictionBatch(ctx, db, []models.NewPrediction{
		newTypedPrediction(models.PredictionTypeDaysToPay, "10", "v1", 10),
	})
	if err != nil {
		t.Fatalf("ingest days_to_pay: %v", err)
	}
	if _, err := models.IngestPredictionBatch(ctx, db, []models.NewPrediction{
		newTypedPrediction(models.PredictionTypeChurnRisk, "20", "v1", 30),
	}); err != nil {
		t.Fatalf("ingest churn_risk: %v", err)
	}
	if _, err := models.ReconcilePrediction(ctx, db, measured[0].ID, decimal.NewFromInt(13)); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	rows, err := models.GetModelAccuracyView(ctx, db)
	if err != nil {
		t.Fatalf("GetModelAccuracyView: %v", err)
	}
	byType := map[models.PredictionType]models.ModelAccuracySummary{}
	for _, r := range rows {
		byType[r.PredictionType] = r
	}

	measuredRow := byType[models.PredictionTypeDaysToPay]
	if measuredRow.TotalPredictions != 1 || measuredRow.VerifiedPredictions != 1 {
		t.Fatalf("days_to_pay counts wrong: %+v", measuredRow)
	}
	if measuredRow.MeanAbsError == nil || !measuredRow.MeanAbsError.Equal(decimal.NewFromInt(3)) {
		t.Fatalf("days_to_pay error = %v, want 3", measuredRow.MeanAbsError)
	}

	unmeasured := byType[models.PredictionTypeChurnRisk]
	if unmeasured.TotalPredictions != 1 || unmeasured.VerifiedPredictions != 0 {
		t.Fatalf("churn_risk counts wrong: %+v", unmeasured)
	}
	if unmeasured.MeanAbsError != nil {
		t.Fatalf("unverified type must report NULL error, got %v", unmeasured.MeanAbsError)
	}
}

// Reconciliation by subject key targets the row whose target_date matches
// the observed outcome; replays keep the first write.
func TestReconcilePredictionByKey(t *testing.T) {
	db := setupIntegrationDB(t)
	ctx := context.Background()

	if _, err := models.IngestPredictionBatch(ctx, db, []models.NewPrediction{
		newPrediction("10", "v1", 30),
	}); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	targetDate := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	pred, err := models.ReconcilePredictionByKey(ctx, db,
		models.PredictionTypeDaysToPay, "invoice", "10", targetDate, decimal.NewFromInt(35))
	if err != nil {
		t.Fatalf("reconcile by key: %v", err)
	}
	if pred.PredictionError == nil || !pred.PredictionError.Equal(decimal.NewFromInt(5)) {
		t.Fatalf("error = %v, want 5", pred.PredictionError)
	}

	// Replay with a different actual: first write wins.
	replay, err := models.ReconcilePredictionByKey(ctx, db,
		models.PredictionTypeDaysToPay, "invoice", "10", targetDate, decimal.NewFromInt(99))
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if !replay.ActualValue.Equal(decimal.NewFromInt(35)) {
		t.Fatalf("replay changed actual to %v", replay.ActualValue)
	}

	// Unknown subject is a not-found, not a silent no-op.
	_, err = models.ReconcilePredictionByKey(ctx, db,
		models.PredictionTypeDaysToPay, "invoice", "404", targetDate, decimal.NewFromInt(1))
	if err != utils.ErrorRecordNotFound {
		t.Fatalf("unknown key error = %v, want ErrorRecordNotFound", err)
	}
}

// Purge removes only old superseded never-reconciled rows; the reconciled
// audit trail is permanent.
func TestPurgeKeepsReconciledRows(t *testing.T) {
	db := setupIntegrationDB(t)
	ctx := context.Background()

	rows, err := models.IngestPredictionBatch(ctx, db, []models.NewPrediction{
		newPrediction("10", "v1", 10),
		newPrediction("11", "v1", 12),
	})
	if err != nil {
		t.Fatalf("ingest v1: %v", err)
	}
	if _, err := models.ReconcilePrediction(ctx, db, rows[0].ID, decimal.NewFromInt(9)); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	// Supersede both subjects so the v1 rows go inactive.
	if _, err := models.IngestPredictionBatch(ctx, db, []models.NewPrediction{
		newPrediction("10", "v2", 11),
		newPrediction("11", "v2", 13),
	}); err != nil {
		t.Fatalf("ingest v2: %v", err)
	}

	purged, err := models.PurgeSupersededPredictions(ctx, db, time.Now().UTC().Add(time.Hour))
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if purged != 1 {
		t.Fatalf("purged = %d, want 1 (only the unreconciled superseded row)", purged)
	}

	var remaining int64
	if err := db.Model(&models.Prediction{}).Count(&remaining).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if remaining != 3 {
		t.Fatalf("remaining rows = %d, want 3", remaining)
	}
}
