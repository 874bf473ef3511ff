package reports

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"
	"gorm.io/gorm"

	"bitbucket.org/mmdatafocus/finsight_backend/models"
)

// ExportDashboardWorkbook writes the current dashboard state as an xlsx
// workbook: latest metric snapshot, customer rollups and open alerts, one
// sheet each.
func ExportDashboardWorkbook(ctx context.Context, db *gorm.DB, w io.Writer) error {
	metrics, err := models.GetLatestDashboardMetrics(ctx, db, nil)
	if err != nil {
		return err
	}
	customers, err := models.GetCustomerMetrics(ctx, db, nil)
	if err != nil {
		return err
	}
	open := models.AlertStateOpen
	alerts, err := models.GetAlerts(ctx, db, models.AlertFilter{State: &open})
	if err != nil {
		return err
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := writeMetricsSheet(f, metrics); err != nil {
		return err
	}
	if err := writeCustomersSheet(f, customers); err != nil {
		return err
	}
	if err := writeAlertsSheet(f, alerts); err != nil {
		return err
	}
	f.DeleteSheet("Sheet1")

	return f.Write(w)
}

func writeMetricsSheet(f *excelize.File, metrics []models.DashboardMetric) error {
	const sheet = "Metrics"
	if _, err := f.NewSheet(sheet); err != nil {
		return err
	}
	headers := []string{"Metric", "Category", "Value", "Unit", "Period Start", "Period End", "Calculated At"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		f.SetCellValue(sheet, cell, h)
	}
	for i, m := range metrics {
		row := i + 2
		value := m.MetricValueText
		if m.MetricValue != nil {
			value = m.MetricValue.String()
		}
		setRow(f, sheet, row,
			m.MetricName, string(m.MetricCategory), value, string(m.MetricUnit),
			dateOrEmpty(m.PeriodStart), dateOrEmpty(m.PeriodEnd),
			m.CalculatedAt.Format("2006-01-02 15:04:05"))
	}
	return nil
}

func writeCustomersSheet(f *excelize.File, customers []models.CustomerMetric) error {
	const sheet = "Customers"
	if _, err := f.NewSheet(sheet); err != nil {
		return err
	}
	headers := []string{"Customer", "Revenue", "Invoices", "Avg Payment Days", "Last Invoice", "Payment Status", "Lifetime Value"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		f.SetCellValue(sheet, cell, h)
	}
	for i, c := range customers {
		row := i + 2
		avgDays := ""
		if c.AvgPaymentDays != nil {
			avgDays = c.AvgPaymentDays.StringFixed(1)
		}
		setRow(f, sheet, row,
			c.CustomerName, c.TotalRevenue.String(), c.InvoiceCount, avgDays,
			dateOrEmpty(c.LastInvoiceDate), c.PaymentStatus, c.LifetimeValue.String())
	}
	return nil
}

func writeAlertsSheet(f *excelize.File, alerts []models.Alert) error {
	const sheet = "Open Alerts"
	if _, err := f.NewSheet(sheet); err != nil {
		return err
	}
	headers := []string{"Type", "Severity", "Title", "Amount", "Due Date", "Entity", "Created At"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		f.SetCellValue(sheet, cell, h)
	}
	for i, a := range alerts {
		row := i + 2
		amount := ""
		if a.Amount != nil {
			amount = a.Amount.String()
		}
		setRow(f, sheet, row,
			string(a.AlertType), string(a.Severity), a.Title, amount,
			dateOrEmpty(a.DueDate),
			fmt.Sprintf("%s %s", a.EntityType, a.EntityId),
			a.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	return nil
}

func setRow(f *excelize.File, sheet string, row int, values ...interface{}) {
	for i, v := range values {
		cell, _ := excelize.CoordinatesToCellName(i+1, row)
		f.SetCellValue(sheet, cell, v)
	}
}

func dateOrEmpty(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format("2006-01-02")
}
