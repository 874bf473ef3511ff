package models_test

import (
	"testing"

	"bitbucket.org/mmdatafocus/finsight_backend/models"
)

func TestOverdueSeverityTiers(t *testing.T) {
	cases := []struct {
		days int
		want models.AlertSeverity
	}{
		{0, models.AlertSeverityLow},
		{45, models.AlertSeverityLow},
		{60, models.AlertSeverityLow},
		{61, models.AlertSeverityMedium},
		{90, models.AlertSeverityMedium},
		{91, models.AlertSeverityHigh},
		{400, models.AlertSeverityHigh},
	}
	for _, c := range cases {
		if got := models.OverdueSeverity(c.days); got != c.want {
			t.Errorf("OverdueSeverity(%d) = %q, want %q", c.days, got, c.want)
		}
	}
}

func TestAlertOpenKeyFormat(t *testing.T) {
	got := models.AlertOpenKey(models.AlertTypeOverdueInvoice, "invoice", "42")
	if got != "overdue_invoice:invoice:42" {
		t.Fatalf("open key = %q", got)
	}
}

func TestPredictionActiveKeyFormat(t *testing.T) {
	got := models.PredictionActiveKey(models.PredictionTypeDaysToPay, "invoice", "42")
	if got != "days_to_pay:invoice:42" {
		t.Fatalf("active key = %q", got)
	}
}
