package models_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"bitbucket.org/mmdatafocus/finsight_backend/models"
)

// dashboard_metrics appends a snapshot per run; the latest read picks the
// newest calculated_at per metric without losing history.
func TestDashboardMetricsAppendOnly(t *testing.T) {
	db := setupIntegrationDB(t)
	ctx := context.Background()

	run1 := time.Date(2026, 6, 1, 6, 0, 0, 0, time.UTC)
	run2 := time.Date(2026, 6, 2, 6, 0, 0, 0, time.UTC)

	value := func(v int64) *decimal.Decimal {
		d := decimal.NewFromInt(v)
		return &d
	}
	write := func(calculatedAt time.Time, revenue int64) {
		t.Helper()
		err := models.InsertDashboardMetrics(ctx, db, []models.DashboardMetric{
			{
				MetricName:     "total_revenue_90d",
				MetricCategory: models.MetricCategoryFinancial,
				MetricValue:    value(revenue),
				MetricUnit:     models.MetricUnitCurrency,
				CalculatedAt:   calculatedAt,
			},
		})
		if err != nil {
			t.Fatalf("InsertDashboardMetrics: %v", err)
		}
	}

	write(run1, 1000)
	write(run2, 1500)

	latest, err := models.GetLatestDashboardMetrics(ctx, db, nil)
	if err != nil {
		t.Fatalf("GetLatestDashboardMetrics: %v", err)
	}
	if len(latest) != 1 {
		t.Fatalf("latest rows = %d, want 1", len(latest))
	}
	if !latest[0].MetricValue.Equal(decimal.NewFromInt(1500)) {
		t.Fatalf("latest value = %s, want 1500", latest[0].MetricValue)
	}

	history, err := models.GetDashboardMetricHistory(ctx, db, "total_revenue_90d", run1.Add(-time.Hour))
	if err != nil {
		t.Fatalf("GetDashboardMetricHistory: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("history rows = %d, want 2 (append-only)", len(history))
	}
}

// metrics_timeseries replaces by (metric_name, date): recomputing a month
// must not duplicate its point.
func TestTimeseriesUpsertReplaces(t *testing.T) {
	db := setupIntegrationDB(t)
	ctx := context.Background()

	jan := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	point := func(v int64) models.TimeseriesPoint {
		return models.TimeseriesPoint{
			MetricName: "monthly_revenue",
			Date:       jan,
			Value:      decimal.NewFromInt(v),
		}
	}

	if err := models.UpsertTimeseriesPoints(ctx, db, []models.TimeseriesPoint{point(900)}); err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	if err := models.UpsertTimeseriesPoints(ctx, db, []models.TimeseriesPoint{point(950)}); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	points, err := models.GetTimeseries(ctx, db, "monthly_revenue", jan.AddDate(0, -1, 0), jan.AddDate(0, 1, 0))
	if err != nil {
		t.Fatalf("GetTimeseries: %v", err)
	}
	if len(points) != 1 {
		t.Fatalf("points = %d, want 1 (replaced in place)", len(points))
	}
	if !points[0].Value.Equal(decimal.NewFromInt(950)) {
		t.Fatalf("value = %s, want 950", points[0].Value)
	}
}

// customer_metrics holds one row per customer, replaced wholesale on
// recompute.
func TestCustomerMetricsReplaceByCustomer(t *testing.T) {
	db := setupIntegrationDB(t)
	ctx := context.Background()

	first := []models.CustomerMetric{
		{CustomerId: 5, CustomerName: "Acme Oy", TotalRevenue: decimal.NewFromInt(100), InvoiceCount: 1, PaymentStatus: models.PaymentStatusAverage},
	}
	if err := models.ReplaceCustomerMetrics(ctx, db, first); err != nil {
		t.Fatalf("first replace: %v", err)
	}

	second := []models.CustomerMetric{
		{CustomerId: 5, CustomerName: "Acme Oy", TotalRevenue: decimal.NewFromInt(250), InvoiceCount: 3, PaymentStatus: models.PaymentStatusFastPayer},
	}
	if err := models.ReplaceCustomerMetrics(ctx, db, second); err != nil {
		t.Fatalf("second replace: %v", err)
	}

	customers, err := models.GetCustomerMetrics(ctx, db, nil)
	if err != nil {
		t.Fatalf("GetCustomerMetrics: %v", err)
	}
	if len(customers) != 1 {
		t.Fatalf("rows = %d, want 1", len(customers))
	}
	got := customers[0]
	if !got.TotalRevenue.Equal(decimal.NewFromInt(250)) || got.InvoiceCount != 3 {
		t.Fatalf("row not replaced: %+v", got)
	}
	if got.PaymentStatus != models.PaymentStatusFastPayer {
		t.Fatalf("payment status = %q, want fast_payer", got.PaymentStatus)
	}
}
