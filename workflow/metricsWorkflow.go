package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"bitbucket.org/mmdatafocus/finsight_backend/config"
	"bitbucket.org/mmdatafocus/finsight_backend/models"
	"bitbucket.org/mmdatafocus/finsight_backend/utils"
)

// Invoice statuses that never count towards revenue or receivables.
var excludedInvoiceStatuses = []string{
	models.InvoiceStatusCancelled, models.InvoiceStatusCredited,
}

// RecomputeMetrics rebuilds the whole analytical layer from one fact
// snapshot: dashboard KPIs (appended), customer rollups and the monthly
// revenue series (replaced in place). Every derived row in one run reflects
// the same instant of the fact store.
func RecomputeMetrics(ctx context.Context, db *gorm.DB, logger *logrus.Logger, periodStart, periodEnd time.Time) error {
	snap, err := models.OpenFactSnapshot(ctx, db)
	if err != nil {
		config.LogError(logger, "metricsWorkflow.go", "RecomputeMetrics", "OpenFactSnapshot", nil, err)
		return err
	}
	defer snap.Close()

	calculatedAt := snap.AsOf

	dashboard, err := computeDashboardMetrics(snap.DB(), periodStart, periodEnd, calculatedAt)
	if err != nil {
		config.LogError(logger, "metricsWorkflow.go", "RecomputeMetrics", "computeDashboardMetrics", nil, err)
		return err
	}
	customers, err := computeCustomerMetrics(snap.DB(), periodEnd)
	if err != nil {
		config.LogError(logger, "metricsWorkflow.go", "RecomputeMetrics", "computeCustomerMetrics", nil, err)
		return err
	}
	series, err := computeMonthlyRevenue(snap.DB(), periodEnd)
	if err != nil {
		config.LogError(logger, "metricsWorkflow.go", "RecomputeMetrics", "computeMonthlyRevenue", nil, err)
		return err
	}

	if err := models.InsertDashboardMetrics(ctx, db, dashboard); err != nil {
		config.LogError(logger, "metricsWorkflow.go", "RecomputeMetrics", "InsertDashboardMetrics", nil, err)
		return err
	}
	if err := models.ReplaceCustomerMetrics(ctx, db, customers); err != nil {
		config.LogError(logger, "metricsWorkflow.go", "RecomputeMetrics", "ReplaceCustomerMetrics", nil, err)
		return err
	}
	if err := models.UpsertTimeseriesPoints(ctx, db, series); err != nil {
		config.LogError(logger, "metricsWorkflow.go", "RecomputeMetrics", "UpsertTimeseriesPoints", nil, err)
		return err
	}

	// Readers may now see the new rows; drop the cached dashboard responses.
	if err := config.RemoveRedisKeysByPattern(ctx, "dashboard:*"); err != nil {
		logger.WithField("error", err.Error()).Warn("dashboard cache invalidation failed")
	}

	config.LogJob(logger, "metrics-recompute", "recompute finished", logrus.Fields{
		"metrics":     len(dashboard),
		"customers":   len(customers),
		"series":      len(series),
		"periodStart": periodStart.Format("2006-01-02"),
		"periodEnd":   periodEnd.Format("2006-01-02"),
	})
	return nil
}

func computeDashboardMetrics(snap *gorm.DB, periodStart, periodEnd, calculatedAt time.Time) ([]models.DashboardMetric, error) {
	type periodTotals struct {
		TotalRevenue    decimal.NullDecimal
		InvoiceCount    int64
		AvgInvoiceValue decimal.NullDecimal
		ActiveCustomers int64
	}
	var totals periodTotals
	err := snap.Model(&models.Invoice{}).
		Select(`SUM(totalIncVat) AS total_revenue,
			COUNT(*) AS invoice_count,
			AVG(totalIncVat) AS avg_invoice_value,
			COUNT(DISTINCT customerId) AS active_customers`).
		Where("dateInvoiced >= ? AND dateInvoiced <= ?", periodStart, periodEnd).
		Where("status NOT IN ?", excludedInvoiceStatuses).
		Scan(&totals).Error
	if err != nil {
		return nil, err
	}

	type receivableTotals struct {
		Outstanding   decimal.NullDecimal
		OverdueCount  int64
		OverdueAmount decimal.NullDecimal
	}
	var recv receivableTotals
	err = snap.Model(&models.Invoice{}).
		Select(`SUM(balance) AS outstanding,
			SUM(CASE WHEN dateDue IS NOT NULL AND dateDue < ? THEN 1 ELSE 0 END) AS overdue_count,
			SUM(CASE WHEN dateDue IS NOT NULL AND dateDue < ? THEN balance ELSE 0 END) AS overdue_amount`,
			periodEnd, periodEnd).
		Where("balance > 0").
		Where("status NOT IN ?", excludedInvoiceStatuses).
		Scan(&recv).Error
	if err != nil {
		return nil, err
	}

	// Aging buckets by invoice age, over everything still unpaid.
	agingBuckets := []struct {
		name     string
		daysFrom int
		daysTo   int
	}{
		{"current", 0, 30},
		{"30_days", 30, 60},
		{"60_days", 60, 90},
		{"90_plus_days", 90, 999999},
	}
	aging := make([]decimal.NullDecimal, len(agingBuckets))
	for i, bucket := range agingBuckets {
		err = snap.Model(&models.Invoice{}).
			Select("SUM(totalIncVat)").
			Where("status NOT IN ?", []string{models.InvoiceStatusPaid, models.InvoiceStatusCancelled}).
			Where("DATEDIFF(?, dateInvoiced) BETWEEN ? AND ?", periodEnd, bucket.daysFrom, bucket.daysTo).
			Scan(&aging[i]).Error
		if err != nil {
			return nil, err
		}
	}

	// Payment date is approximated by the last change of a paid invoice.
	var avgPaymentDays decimal.NullDecimal
	err = snap.Model(&models.Invoice{}).
		Select("AVG(DATEDIFF(dateChanged, dateInvoiced))").
		Where("status = ? AND dateInvoiced IS NOT NULL AND dateChanged IS NOT NULL", models.InvoiceStatusPaid).
		Where("dateInvoiced >= ?", periodEnd.AddDate(0, 0, -180)).
		Scan(&avgPaymentDays).Error
	if err != nil {
		return nil, err
	}

	var netCashFlow decimal.NullDecimal
	err = snap.Model(&models.Transaction{}).
		Select("SUM(amount)").
		Where("date >= ? AND date <= ?", periodStart, periodEnd).
		Scan(&netCashFlow).Error
	if err != nil {
		return nil, err
	}

	periodDays := utils.DaysBetween(periodStart, periodEnd)
	b := metricBuilder{
		periodStart:  periodStart,
		periodEnd:    periodEnd,
		calculatedAt: calculatedAt,
		periodDays:   periodDays,
	}

	b.add("total_revenue_"+b.windowSuffix(), models.MetricCategoryFinancial, nullDecimalOrZero(totals.TotalRevenue), models.MetricUnitCurrency)
	b.add("outstanding_receivables", models.MetricCategoryFinancial, nullDecimalOrZero(recv.Outstanding), models.MetricUnitCurrency)
	b.addNullable("avg_invoice_value", models.MetricCategoryFinancial, totals.AvgInvoiceValue, models.MetricUnitCurrency)
	b.add("net_cash_flow_"+b.windowSuffix(), models.MetricCategoryFinancial, nullDecimalOrZero(netCashFlow), models.MetricUnitCurrency)
	for i, bucket := range agingBuckets {
		b.addWithMeta("aging_"+bucket.name, models.MetricCategoryFinancial,
			nullDecimalOrZero(aging[i]), models.MetricUnitCurrency,
			map[string]interface{}{"days_from": bucket.daysFrom, "days_to": bucket.daysTo})
	}
	b.add("invoice_count_"+b.windowSuffix(), models.MetricCategoryOperational, decimal.NewFromInt(totals.InvoiceCount), models.MetricUnitCount)
	b.addWithMeta("overdue_invoice_count", models.MetricCategoryOperational,
		decimal.NewFromInt(recv.OverdueCount), models.MetricUnitCount,
		map[string]interface{}{"total_amount": nullDecimalOrZero(recv.OverdueAmount)})
	b.addNullable("avg_payment_days", models.MetricCategoryOperational, avgPaymentDays, models.MetricUnitDays)
	b.add("active_customers", models.MetricCategoryCustomer, decimal.NewFromInt(totals.ActiveCustomers), models.MetricUnitCount)

	// Derived ratio: undefined without customers, never zero.
	if totals.ActiveCustomers > 0 && totals.TotalRevenue.Valid {
		avg := totals.TotalRevenue.Decimal.Div(decimal.NewFromInt(totals.ActiveCustomers)).Round(4)
		b.add("avg_customer_revenue", models.MetricCategoryCustomer, avg, models.MetricUnitCurrency)
	} else {
		b.addText("avg_customer_revenue", models.MetricCategoryCustomer, "", models.MetricUnitCurrency)
	}

	return b.metrics, nil
}

type metricBuilder struct {
	periodStart  time.Time
	periodEnd    time.Time
	calculatedAt time.Time
	periodDays   int
	metrics      []models.DashboardMetric
}

func (b *metricBuilder) windowSuffix() string {
	return fmt.Sprintf("%dd", b.periodDays)
}

func (b *metricBuilder) add(name string, category models.MetricCategory, value decimal.Decimal, unit models.MetricUnit) {
	b.addWithMeta(name, category, value, unit, nil)
}

func (b *metricBuilder) addWithMeta(name string, category models.MetricCategory, value decimal.Decimal, unit models.MetricUnit, meta map[string]interface{}) {
	v := value
	metric := models.DashboardMetric{
		MetricName:     name,
		MetricCategory: category,
		MetricValue:    &v,
		MetricUnit:     unit,
		PeriodStart:    &b.periodStart,
		PeriodEnd:      &b.periodEnd,
		CalculatedAt:   b.calculatedAt,
	}
	if meta != nil {
		if blob, err := models.NewStructuredBlobFrom(meta); err == nil {
			metric.Metadata = blob
		}
	}
	b.metrics = append(b.metrics, metric)
}

// addNullable keeps NULL metric values NULL: an average over nothing is
// unknown, not zero.
func (b *metricBuilder) addNullable(name string, category models.MetricCategory, value decimal.NullDecimal, unit models.MetricUnit) {
	var v *decimal.Decimal
	if value.Valid {
		rounded := value.Decimal.Round(4)
		v = &rounded
	}
	b.metrics = append(b.metrics, models.DashboardMetric{
		MetricName:     name,
		MetricCategory: category,
		MetricValue:    v,
		MetricUnit:     unit,
		PeriodStart:    &b.periodStart,
		PeriodEnd:      &b.periodEnd,
		CalculatedAt:   b.calculatedAt,
	})
}

func (b *metricBuilder) addText(name string, category models.MetricCategory, text string, unit models.MetricUnit) {
	b.metrics = append(b.metrics, models.DashboardMetric{
		MetricName:      name,
		MetricCategory:  category,
		MetricValueText: text,
		MetricUnit:      unit,
		PeriodStart:     &b.periodStart,
		PeriodEnd:       &b.periodEnd,
		CalculatedAt:    b.calculatedAt,
	})
}

func nullDecimalOrZero(v decimal.NullDecimal) decimal.Decimal {
	if v.Valid {
		return v.Decimal
	}
	return decimal.Zero
}

// computeCustomerMetrics rolls up the top customers by revenue over the
// trailing year.
func computeCustomerMetrics(snap *gorm.DB, asOf time.Time) ([]models.CustomerMetric, error) {
	type customerRow struct {
		CustomerId      int
		CustomerName    string
		TotalRevenue    decimal.Decimal
		InvoiceCount    int
		AvgPaymentDays  decimal.NullDecimal
		LastInvoiceDate *time.Time
		LifetimeValue   decimal.Decimal
	}
	var rows []customerRow
	err := snap.Model(&models.Invoice{}).
		Select(`customerId AS customer_id,
			MAX(customerName) AS customer_name,
			COALESCE(SUM(totalIncVat), 0) AS total_revenue,
			COUNT(*) AS invoice_count,
			AVG(CASE WHEN status = ? AND dateInvoiced IS NOT NULL AND dateChanged IS NOT NULL
				THEN DATEDIFF(dateChanged, dateInvoiced) END) AS avg_payment_days,
			MAX(dateInvoiced) AS last_invoice_date,
			COALESCE(SUM(amountPaid), 0) AS lifetime_value`, models.InvoiceStatusPaid).
		Where("customerId IS NOT NULL").
		Where("dateInvoiced >= ?", asOf.AddDate(-1, 0, 0)).
		Where("status NOT IN ?", excludedInvoiceStatuses).
		Group("customerId").
		Having("total_revenue > 0").
		Order("total_revenue DESC").
		Limit(100).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	metrics := make([]models.CustomerMetric, 0, len(rows))
	for _, r := range rows {
		var avgDays *decimal.Decimal
		if r.AvgPaymentDays.Valid {
			d := r.AvgPaymentDays.Decimal.Round(2)
			avgDays = &d
		}
		metrics = append(metrics, models.CustomerMetric{
			CustomerId:      r.CustomerId,
			CustomerName:    r.CustomerName,
			TotalRevenue:    r.TotalRevenue,
			InvoiceCount:    r.InvoiceCount,
			AvgPaymentDays:  avgDays,
			LastInvoiceDate: r.LastInvoiceDate,
			PaymentStatus:   models.PaymentStatusFor(avgDays),
			LifetimeValue:   r.LifetimeValue,
		})
	}
	return metrics, nil
}

// computeMonthlyRevenue builds the revenue_monthly series for the trailing
// twelve months. When the year-over-year flag is on, comparison_value is the
// same month one year earlier; months with no invoices a year back keep a
// NULL comparison.
func computeMonthlyRevenue(snap *gorm.DB, periodEnd time.Time) ([]models.TimeseriesPoint, error) {
	from := utils.MonthStart(periodEnd).AddDate(0, -11, 0)
	queryFrom := from
	if config.YearOverYearEnabled() {
		queryFrom = utils.ShiftYearBack(from)
	}

	type monthRow struct {
		Month   string
		Revenue decimal.Decimal
	}
	var rows []monthRow
	err := snap.Model(&models.Invoice{}).
		Select(`DATE_FORMAT(dateInvoiced, '%Y-%m-01') AS month,
			COALESCE(SUM(totalIncVat), 0) AS revenue`).
		Where("dateInvoiced >= ? AND dateInvoiced <= ?", queryFrom, periodEnd).
		Where("status NOT IN ?", excludedInvoiceStatuses).
		Group("month").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	byMonth := make(map[string]decimal.Decimal, len(rows))
	for _, r := range rows {
		byMonth[r.Month] = r.Revenue
	}

	var points []models.TimeseriesPoint
	for m := from; !m.After(periodEnd); m = m.AddDate(0, 1, 0) {
		key := m.Format("2006-01-02")
		value, ok := byMonth[key]
		if !ok {
			value = decimal.Zero
		}
		point := models.TimeseriesPoint{
			MetricName: "revenue_monthly",
			Date:       m,
			Value:      value,
		}
		if config.YearOverYearEnabled() {
			prevKey := utils.ShiftYearBack(m).Format("2006-01-02")
			if prev, ok := byMonth[prevKey]; ok {
				point.ComparisonValue = &prev
			}
		}
		points = append(points, point)
	}
	return points, nil
}
