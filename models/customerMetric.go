package models

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CustomerMetric is the per-customer rollup, one row per customer, replaced
// wholesale on every recompute.
type CustomerMetric struct {
	ID              uint             `gorm:"primary_key" json:"id"`
	CustomerId      int              `gorm:"column:customer_id;uniqueIndex;not null" json:"customer_id"`
	CustomerName    string           `gorm:"column:customer_name;size:255" json:"customer_name"`
	TotalRevenue    decimal.Decimal  `gorm:"column:total_revenue;type:decimal(20,4);default:0" json:"total_revenue"`
	InvoiceCount    int              `gorm:"column:invoice_count;default:0" json:"invoice_count"`
	AvgPaymentDays  *decimal.Decimal `gorm:"column:avg_payment_days;type:decimal(10,2)" json:"avg_payment_days"`
	LastInvoiceDate *time.Time       `gorm:"column:last_invoice_date;type:date" json:"last_invoice_date"`
	PaymentStatus   string           `gorm:"column:payment_status;size:32" json:"payment_status"`
	LifetimeValue   decimal.Decimal  `gorm:"column:lifetime_value;type:decimal(20,4);default:0" json:"lifetime_value"`
	UpdatedAt       time.Time        `gorm:"autoUpdateTime" json:"updated_at"`
}

func (CustomerMetric) TableName() string { return "customer_metrics" }

func (CustomerMetric) writePolicy() WritePolicy { return WritePolicyUpsertReplace }

// PaymentStatusFor buckets a customer by average settlement time. A customer
// with no paid invoices yet defaults to average.
func PaymentStatusFor(avgPaymentDays *decimal.Decimal) string {
	if avgPaymentDays == nil {
		return PaymentStatusAverage
	}
	switch {
	case avgPaymentDays.LessThan(decimal.NewFromInt(15)):
		return PaymentStatusFastPayer
	case avgPaymentDays.GreaterThan(decimal.NewFromInt(45)):
		return PaymentStatusSlowPayer
	default:
		return PaymentStatusAverage
	}
}

func ReplaceCustomerMetrics(ctx context.Context, db *gorm.DB, metrics []CustomerMetric) error {
	if len(metrics) == 0 {
		return nil
	}
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "customer_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"customer_name", "total_revenue", "invoice_count",
			"avg_payment_days", "last_invoice_date", "payment_status",
			"lifetime_value",
		}),
	}).Create(&metrics).Error
}

func GetCustomerMetrics(ctx context.Context, db *gorm.DB, paymentStatus *string) ([]CustomerMetric, error) {
	var metrics []CustomerMetric
	q := db.WithContext(ctx)
	if paymentStatus != nil && *paymentStatus != "" {
		q = q.Where("payment_status = ?", *paymentStatus)
	}
	err := q.Order("total_revenue DESC").Find(&metrics).Error
	return metrics, err
}
