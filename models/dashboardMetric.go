package models

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// DashboardMetric is one KPI value from one recompute run. The table is
// append-only: every run inserts a fresh snapshot row per metric and readers
// pick the latest calculated_at per metric_name. History stays queryable.
type DashboardMetric struct {
	ID              uint             `gorm:"primary_key" json:"id"`
	MetricName      string           `gorm:"column:metric_name;size:128;not null;index:idx_dm_name_calc,priority:1" json:"metric_name"`
	MetricCategory  MetricCategory   `gorm:"column:metric_category;size:32;not null;index" json:"metric_category"`
	MetricValue     *decimal.Decimal `gorm:"column:metric_value;type:decimal(20,4)" json:"metric_value"`
	MetricValueText string           `gorm:"column:metric_value_text;size:255" json:"metric_value_text"`
	MetricUnit      MetricUnit       `gorm:"column:metric_unit;size:32" json:"metric_unit"`
	PeriodStart     *time.Time       `gorm:"column:period_start;type:date" json:"period_start"`
	PeriodEnd       *time.Time       `gorm:"column:period_end;type:date" json:"period_end"`
	CalculatedAt    time.Time        `gorm:"column:calculated_at;not null;index:idx_dm_name_calc,priority:2" json:"calculated_at"`
	Metadata        StructuredBlob   `gorm:"column:metadata;type:text" json:"metadata"`
}

func (DashboardMetric) TableName() string { return "dashboard_metrics" }

func (DashboardMetric) writePolicy() WritePolicy { return WritePolicyAppendSnapshot }

// InsertDashboardMetrics appends one run's snapshot. All rows share the same
// calculated_at so the run can be read back as a unit.
func InsertDashboardMetrics(ctx context.Context, db *gorm.DB, metrics []DashboardMetric) error {
	if len(metrics) == 0 {
		return nil
	}
	return db.WithContext(ctx).Create(&metrics).Error
}

// GetLatestDashboardMetrics returns the newest row per metric name,
// optionally filtered by category.
func GetLatestDashboardMetrics(ctx context.Context, db *gorm.DB, category *MetricCategory) ([]DashboardMetric, error) {
	var metrics []DashboardMetric
	q := db.WithContext(ctx).
		Where(`(metric_name, calculated_at) IN (
			SELECT metric_name, MAX(calculated_at)
			FROM dashboard_metrics
			GROUP BY metric_name)`)
	if category != nil {
		q = q.Where("metric_category = ?", *category)
	}
	err := q.Order("metric_category, metric_name").Find(&metrics).Error
	return metrics, err
}

func GetDashboardMetricHistory(ctx context.Context, db *gorm.DB, metricName string, since time.Time) ([]DashboardMetric, error) {
	var metrics []DashboardMetric
	err := db.WithContext(ctx).
		Where("metric_name = ? AND calculated_at >= ?", metricName, since).
		Order("calculated_at").
		Find(&metrics).Error
	return metrics, err
}
