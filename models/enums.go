package models

import "errors"

// MetricCategory buckets dashboard KPIs for the front end.
type MetricCategory string

const (
	MetricCategoryFinancial   MetricCategory = "financial"
	MetricCategoryOperational MetricCategory = "operational"
	MetricCategoryCustomer    MetricCategory = "customer"
	MetricCategoryTax         MetricCategory = "tax"
)

type MetricUnit string

const (
	MetricUnitCount      MetricUnit = "count"
	MetricUnitCurrency   MetricUnit = "currency"
	MetricUnitDays       MetricUnit = "days"
	MetricUnitPercentage MetricUnit = "percentage"
)

// WritePolicy makes the append-vs-replace duality of the analytical tables
// an explicit property of each writer instead of an implicit convention:
// dashboard_metrics appends a snapshot row per recompute run, while
// customer_metrics and metrics_timeseries replace by unique key.
type WritePolicy string

const (
	WritePolicyAppendSnapshot WritePolicy = "append_snapshot"
	WritePolicyUpsertReplace  WritePolicy = "upsert_replace"
)

type AlertType string

const (
	AlertTypeOverdueInvoice     AlertType = "overdue_invoice"
	AlertTypeUpcomingPayment    AlertType = "upcoming_payment"
	AlertTypeLowCash            AlertType = "low_cash"
	AlertTypeUnusualTransaction AlertType = "unusual_transaction"
)

type AlertSeverity string

const (
	AlertSeverityLow    AlertSeverity = "low"
	AlertSeverityMedium AlertSeverity = "medium"
	AlertSeverityHigh   AlertSeverity = "high"
)

// AlertState is derived from the persisted is_resolved/resolved_at pair.
// RESOLVED is terminal; a recurrence of the same condition opens a new row.
type AlertState string

const (
	AlertStateOpen     AlertState = "open"
	AlertStateResolved AlertState = "resolved"
)

type PredictionType string

const (
	PredictionTypePaymentRisk      PredictionType = "payment_risk"
	PredictionTypeDaysToPay        PredictionType = "days_to_pay"
	PredictionTypeCashFlowForecast PredictionType = "cash_flow_forecast"
	PredictionTypeChurnRisk        PredictionType = "churn_risk"
)

type ModelType string

const (
	ModelTypeClassification ModelType = "classification"
	ModelTypeRegression     ModelType = "regression"
	ModelTypeForecasting    ModelType = "forecasting"
)

func (t ModelType) IsValid() bool {
	switch t {
	case ModelTypeClassification, ModelTypeRegression, ModelTypeForecasting:
		return true
	}
	return false
}

// TrainingRunState is derived from the persisted success flag:
// NULL = pending, true = success, false = failed.
type TrainingRunState string

const (
	TrainingRunStatePending TrainingRunState = "pending"
	TrainingRunStateSuccess TrainingRunState = "success"
	TrainingRunStateFailed  TrainingRunState = "failed"
)

// Invoice statuses delivered by the sync connector. The engine never
// writes these; it only filters on them.
const (
	InvoiceStatusPaid      = "Paid"
	InvoiceStatusUnpaid    = "Unpaid"
	InvoiceStatusCancelled = "Cancelled"
	InvoiceStatusCredited  = "Credited"
)

const (
	PaymentStatusFastPayer = "fast_payer"
	PaymentStatusAverage   = "average"
	PaymentStatusSlowPayer = "slow_payer"
)

var ErrInvalidModelType = errors.New("model type must be classification, regression or forecasting")
