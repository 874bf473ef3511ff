package workflow

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"bitbucket.org/mmdatafocus/finsight_backend/models"
)

func testBuilder() *metricBuilder {
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 5, 30, 0, 0, 0, 0, time.UTC)
	return &metricBuilder{
		periodStart:  start,
		periodEnd:    end,
		calculatedAt: end,
		periodDays:   90,
	}
}

func TestMetricBuilderWindowSuffix(t *testing.T) {
	if got := testBuilder().windowSuffix(); got != "90d" {
		t.Fatalf("windowSuffix = %q, want 90d", got)
	}
}

func TestMetricBuilderNullableKeepsNullNull(t *testing.T) {
	b := testBuilder()
	b.addNullable("avg_payment_days", models.MetricCategoryOperational,
		decimal.NullDecimal{}, models.MetricUnitDays)
	b.addNullable("net_cash_flow_90d", models.MetricCategoryFinancial,
		decimal.NullDecimal{Valid: true, Decimal: decimal.NewFromFloat(12.34567)}, models.MetricUnitCurrency)

	if len(b.metrics) != 2 {
		t.Fatalf("metrics = %d, want 2", len(b.metrics))
	}
	if b.metrics[0].MetricValue != nil {
		t.Fatalf("unknown average must stay NULL, got %v", b.metrics[0].MetricValue)
	}
	if b.metrics[1].MetricValue == nil || !b.metrics[1].MetricValue.Equal(decimal.NewFromFloat(12.3457)) {
		t.Fatalf("valid value rounded wrong: %v", b.metrics[1].MetricValue)
	}
}

func TestMetricBuilderStampsPeriod(t *testing.T) {
	b := testBuilder()
	b.add("total_revenue_90d", models.MetricCategoryFinancial, decimal.NewFromInt(100), models.MetricUnitCurrency)
	b.addWithMeta("overdue_count", models.MetricCategoryFinancial, decimal.NewFromInt(2), models.MetricUnitCount,
		map[string]interface{}{"total_amount": "350"})

	for _, m := range b.metrics {
		if m.PeriodStart == nil || !m.PeriodStart.Equal(b.periodStart) {
			t.Fatalf("period start missing on %s", m.MetricName)
		}
		if !m.CalculatedAt.Equal(b.calculatedAt) {
			t.Fatalf("calculated_at missing on %s", m.MetricName)
		}
	}
	meta, ok := b.metrics[1].Metadata.Parsed()
	if !ok || meta["total_amount"] != "350" {
		t.Fatalf("metadata not carried: %v", meta)
	}
}
