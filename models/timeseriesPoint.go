package models

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// TimeseriesPoint is one dated value of a named series. (metric_name, date)
// is unique; recomputing a period replaces the points in place, so charts
// never show duplicate dates.
type TimeseriesPoint struct {
	ID              uint             `gorm:"primary_key" json:"id"`
	MetricName      string           `gorm:"column:metric_name;size:128;not null;uniqueIndex:idx_ts_name_date,priority:1" json:"metric_name"`
	Date            time.Time        `gorm:"column:date;type:date;not null;uniqueIndex:idx_ts_name_date,priority:2" json:"date"`
	Value           decimal.Decimal  `gorm:"column:value;type:decimal(20,4);default:0" json:"value"`
	ComparisonValue *decimal.Decimal `gorm:"column:comparison_value;type:decimal(20,4)" json:"comparison_value"`
	Metadata        StructuredBlob   `gorm:"column:metadata;type:text" json:"metadata"`
	UpdatedAt       time.Time        `gorm:"autoUpdateTime" json:"updated_at"`
}

func (TimeseriesPoint) TableName() string { return "metrics_timeseries" }

func (TimeseriesPoint) writePolicy() WritePolicy { return WritePolicyUpsertReplace }

func UpsertTimeseriesPoints(ctx context.Context, db *gorm.DB, points []TimeseriesPoint) error {
	if len(points) == 0 {
		return nil
	}
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "metric_name"}, {Name: "date"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"value", "comparison_value", "metadata",
		}),
	}).Create(&points).Error
}

func GetTimeseries(ctx context.Context, db *gorm.DB, metricName string, from, to time.Time) ([]TimeseriesPoint, error) {
	var points []TimeseriesPoint
	err := db.WithContext(ctx).
		Where("metric_name = ? AND date >= ? AND date <= ?", metricName, from, to).
		Order("date").
		Find(&points).Error
	return points, err
}
