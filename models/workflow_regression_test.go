package models_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"bitbucket.org/mmdatafocus/finsight_backend/config"
	"bitbucket.org/mmdatafocus/finsight_backend/models"
	"bitbucket.org/mmdatafocus/finsight_backend/workflow"
)

// The activation advisory lock must be released with the batch that took it.
// A leaked lock parks on an idle pooled session and every later batch for
// the same prediction type stalls until the lock timeout.
func TestBatchIngestReleasesActivationLock(t *testing.T) {
	db := setupIntegrationDB(t)
	ctx := context.Background()
	logger := config.GetLogger()

	if _, err := workflow.IngestPredictionBatch(ctx, db, logger, []models.NewPrediction{
		newPrediction("10", "v1", 20),
	}); err != nil {
		t.Fatalf("first ingest: %v", err)
	}

	start := time.Now()
	if _, err := workflow.IngestPredictionBatch(ctx, db, logger, []models.NewPrediction{
		newPrediction("11", "v1", 25),
	}); err != nil {
		t.Fatalf("second ingest: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Fatalf("second ingest stalled %s waiting on a leaked lock", elapsed)
	}

	active, err := models.GetPredictions(ctx, db, models.PredictionFilter{ActiveOnly: true})
	if err != nil {
		t.Fatalf("GetPredictions: %v", err)
	}
	if len(active) != 2 {
		t.Fatalf("active rows = %d, want 2", len(active))
	}
}

func seedOverdueInvoice(t *testing.T, db *gorm.DB, invoiceId, daysOverdue int) {
	t.Helper()
	due := time.Now().UTC().AddDate(0, 0, -daysOverdue)
	changed := due
	inv := models.Invoice{
		InvoiceId:    invoiceId,
		InvoiceNo:    fmt.Sprintf("INV-%d", invoiceId),
		CustomerName: "Test Oy",
		Balance:      decimal.NewFromInt(500),
		DateDue:      &due,
		Status:       models.InvoiceStatusUnpaid,
		DateChanged:  &changed,
	}
	if err := db.Create(&inv).Error; err != nil {
		t.Fatalf("seed invoice %d: %v", invoiceId, err)
	}
}

// An open alert whose condition still holds must survive evaluation even
// when the invoice falls outside the capped set of newly created alerts.
func TestEvaluateKeepsAlertsBeyondCreationCap(t *testing.T) {
	db := setupIntegrationDB(t)
	ctx := context.Background()
	logger := config.GetLogger()

	// A handful of mildly overdue invoices get their alerts first.
	for id := 1; id <= 5; id++ {
		seedOverdueInvoice(t, db, id, 10)
	}
	if err := workflow.EvaluateAlerts(ctx, db, logger); err != nil {
		t.Fatalf("first evaluate: %v", err)
	}

	// A wave of much older invoices pushes the originals out of the
	// top-by-days-overdue creation window.
	for id := 101; id <= 160; id++ {
		seedOverdueInvoice(t, db, id, 100)
	}
	if err := workflow.EvaluateAlerts(ctx, db, logger); err != nil {
		t.Fatalf("second evaluate: %v", err)
	}

	for id := 1; id <= 5; id++ {
		var alert models.Alert
		err := db.Where("alert_type = ? AND entity_id = ? AND is_resolved = ?",
			models.AlertTypeOverdueInvoice, fmt.Sprint(id), false).
			First(&alert).Error
		if err != nil {
			t.Fatalf("invoice %d still overdue but its alert is gone: %v", id, err)
		}
	}
}
