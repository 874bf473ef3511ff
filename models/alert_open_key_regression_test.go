package models_test

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"bitbucket.org/mmdatafocus/finsight_backend/models"
	"bitbucket.org/mmdatafocus/finsight_backend/utils"
)

func overdueAlert(invoiceId string, severity models.AlertSeverity) *models.Alert {
	amount := decimal.NewFromInt(500)
	return &models.Alert{
		AlertType:  models.AlertTypeOverdueInvoice,
		Severity:   severity,
		Title:      "Overdue Invoice: INV-" + invoiceId,
		Amount:     &amount,
		EntityType: "invoice",
		EntityId:   invoiceId,
	}
}

// At most one open alert per condition; re-evaluating the same condition
// must not duplicate it, and the existing row keeps its original severity.
func TestAlertOpenKeyDeduplicates(t *testing.T) {
	db := setupIntegrationDB(t)
	ctx := context.Background()

	opened, err := models.OpenAlertIfAbsent(ctx, db, overdueAlert("42", models.AlertSeverityLow))
	if err != nil || !opened {
		t.Fatalf("first open: opened=%v err=%v", opened, err)
	}

	// Same condition again, even at a higher severity: dropped.
	opened, err = models.OpenAlertIfAbsent(ctx, db, overdueAlert("42", models.AlertSeverityHigh))
	if err != nil {
		t.Fatalf("second open: %v", err)
	}
	if opened {
		t.Fatalf("second open should have been deduplicated")
	}

	open := models.AlertStateOpen
	alerts, err := models.GetAlerts(ctx, db, models.AlertFilter{State: &open})
	if err != nil {
		t.Fatalf("GetAlerts: %v", err)
	}
	if len(alerts) != 1 {
		t.Fatalf("open alerts = %d, want 1", len(alerts))
	}
	if alerts[0].Severity != models.AlertSeverityLow {
		t.Fatalf("existing alert severity changed to %q", alerts[0].Severity)
	}
}

// Resolution is terminal and frees the condition to open again as a new row.
func TestAlertResolveAndReopen(t *testing.T) {
	db := setupIntegrationDB(t)
	ctx := context.Background()

	first := overdueAlert("77", models.AlertSeverityMedium)
	if _, err := models.OpenAlertIfAbsent(ctx, db, first); err != nil {
		t.Fatalf("open: %v", err)
	}

	resolved, err := models.ResolveAlert(ctx, db, first.ID)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !resolved.IsResolved || resolved.ResolvedAt == nil {
		t.Fatalf("alert not marked resolved: %+v", resolved)
	}

	// Resolving again is a no-op, not an error.
	if _, err := models.ResolveAlert(ctx, db, first.ID); err != nil {
		t.Fatalf("double resolve: %v", err)
	}
	if _, err := models.ResolveAlert(ctx, db, 99999); !errors.Is(err, utils.ErrorRecordNotFound) {
		t.Fatalf("unknown id: err = %v, want ErrorRecordNotFound", err)
	}

	// Condition recurs: a fresh row opens, history keeps both.
	second := overdueAlert("77", models.AlertSeverityHigh)
	opened, err := models.OpenAlertIfAbsent(ctx, db, second)
	if err != nil || !opened {
		t.Fatalf("reopen after resolve: opened=%v err=%v", opened, err)
	}
	if second.ID == first.ID {
		t.Fatalf("reopen reused the resolved row")
	}

	var total int64
	if err := db.Model(&models.Alert{}).Count(&total).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if total != 2 {
		t.Fatalf("alert rows = %d, want 2", total)
	}
}

// Alerts whose condition stopped firing are auto-resolved; still-firing ones
// stay open.
func TestResolveAlertsAbsentFromKeys(t *testing.T) {
	db := setupIntegrationDB(t)
	ctx := context.Background()

	a := overdueAlert("1", models.AlertSeverityLow)
	b := overdueAlert("2", models.AlertSeverityLow)
	for _, alert := range []*models.Alert{a, b} {
		if _, err := models.OpenAlertIfAbsent(ctx, db, alert); err != nil {
			t.Fatalf("open: %v", err)
		}
	}

	stillFiring := []string{models.AlertOpenKey(models.AlertTypeOverdueInvoice, "invoice", "1")}
	closed, err := models.ResolveAlertsAbsentFromKeys(ctx, db, models.AlertTypeOverdueInvoice, stillFiring)
	if err != nil {
		t.Fatalf("ResolveAlertsAbsentFromKeys: %v", err)
	}
	if closed != 1 {
		t.Fatalf("closed = %d, want 1", closed)
	}

	open := models.AlertStateOpen
	alerts, err := models.GetAlerts(ctx, db, models.AlertFilter{State: &open})
	if err != nil {
		t.Fatalf("GetAlerts: %v", err)
	}
	if len(alerts) != 1 || alerts[0].EntityId != "1" {
		t.Fatalf("wrong surviving alert: %+v", alerts)
	}

	counts, err := models.CountOpenAlertsBySeverity(ctx, db)
	if err != nil {
		t.Fatalf("CountOpenAlertsBySeverity: %v", err)
	}
	if counts[models.AlertSeverityLow] != 1 {
		t.Fatalf("open low-severity count = %d, want 1", counts[models.AlertSeverityLow])
	}
}
