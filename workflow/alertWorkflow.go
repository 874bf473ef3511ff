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
)

const (
	overdueAlertLimit       = 50
	unusualTransactionLimit = 10
	unusualFactor           = 5
	lowCashWindowDays       = 30
)

// EvaluateAlerts runs every alert rule against one fact snapshot. Each rule
// opens alerts for conditions that fire and resolves its own open alerts
// whose condition no longer holds. Dedup is enforced by the open projection
// key, so re-running the evaluator never duplicates an open alert.
func EvaluateAlerts(ctx context.Context, db *gorm.DB, logger *logrus.Logger) error {
	snap, err := models.OpenFactSnapshot(ctx, db)
	if err != nil {
		config.LogError(logger, "alertWorkflow.go", "EvaluateAlerts", "OpenFactSnapshot", nil, err)
		return err
	}
	defer snap.Close()

	asOf := snap.AsOf
	opened, resolved := 0, 0

	for _, rule := range []func(context.Context, *gorm.DB, *gorm.DB, time.Time) (int, int, error){
		evaluateOverdueInvoices,
		evaluateUpcomingPayments,
		evaluateLowCash,
		evaluateUnusualTransactions,
	} {
		o, r, err := rule(ctx, db, snap.DB(), asOf)
		if err != nil {
			config.LogError(logger, "alertWorkflow.go", "EvaluateAlerts", "rule", nil, err)
			return err
		}
		opened += o
		resolved += r
	}

	config.LogJob(logger, "alert-evaluate", "evaluation finished", logrus.Fields{
		"opened":   opened,
		"resolved": resolved,
	})
	return nil
}

type overdueInvoiceRow struct {
	InvoiceId    int
	InvoiceNo    string
	CustomerName string
	Balance      decimal.Decimal
	DateDue      *time.Time
	DaysOverdue  int
}

func evaluateOverdueInvoices(ctx context.Context, db, snap *gorm.DB, asOf time.Time) (int, int, error) {
	var rows []overdueInvoiceRow
	err := snap.Model(&models.Invoice{}).
		Select(`invoiceId AS invoice_id, invoiceNo AS invoice_no,
			customerName AS customer_name, balance,
			dateDue AS date_due,
			DATEDIFF(?, dateDue) AS days_overdue`, asOf).
		Where("balance > 0 AND dateDue IS NOT NULL AND dateDue < ?", asOf).
		Where("status NOT IN ?", []string{models.InvoiceStatusPaid, models.InvoiceStatusCancelled}).
		Order("days_overdue DESC").
		Scan(&rows).Error
	if err != nil {
		return 0, 0, err
	}

	// The firing set must cover every invoice whose condition holds, or the
	// resolve pass below would close alerts that are still valid. Only
	// new-alert creation is capped.
	opened := 0
	firing := make([]string, 0, len(rows))
	for i, row := range rows {
		entityId := fmt.Sprint(row.InvoiceId)
		firing = append(firing, models.AlertOpenKey(models.AlertTypeOverdueInvoice, "invoice", entityId))
		if i >= overdueAlertLimit {
			continue
		}
		amount := row.Balance
		created, err := models.OpenAlertIfAbsent(ctx, db, &models.Alert{
			AlertType:   models.AlertTypeOverdueInvoice,
			Severity:    models.OverdueSeverity(row.DaysOverdue),
			Title:       fmt.Sprintf("Overdue Invoice: %s", row.InvoiceNo),
			Description: fmt.Sprintf("%s - %d days overdue", row.CustomerName, row.DaysOverdue),
			Amount:      &amount,
			DueDate:     row.DateDue,
			EntityId:    entityId,
			EntityType:  "invoice",
		})
		if err != nil {
			return opened, 0, err
		}
		if created {
			opened++
		}
	}

	resolved, err := models.ResolveAlertsAbsentFromKeys(ctx, db, models.AlertTypeOverdueInvoice, firing)
	return opened, int(resolved), err
}

// evaluateUpcomingPayments warns about invoices falling due inside the
// lookahead window, before they turn overdue.
func evaluateUpcomingPayments(ctx context.Context, db, snap *gorm.DB, asOf time.Time) (int, int, error) {
	horizon := asOf.AddDate(0, 0, config.AlertLookaheadDays())

	type upcomingRow struct {
		InvoiceId    int
		InvoiceNo    string
		CustomerName string
		Balance      decimal.Decimal
		DateDue      *time.Time
	}
	var rows []upcomingRow
	err := snap.Model(&models.Invoice{}).
		Select(`invoiceId AS invoice_id, invoiceNo AS invoice_no,
			customerName AS customer_name, balance, dateDue AS date_due`).
		Where("balance > 0 AND dateDue >= ? AND dateDue <= ?", asOf, horizon).
		Where("status NOT IN ?", []string{models.InvoiceStatusPaid, models.InvoiceStatusCancelled}).
		Order("dateDue").
		Scan(&rows).Error
	if err != nil {
		return 0, 0, err
	}

	opened := 0
	firing := make([]string, 0, len(rows))
	for _, row := range rows {
		entityId := fmt.Sprint(row.InvoiceId)
		firing = append(firing, models.AlertOpenKey(models.AlertTypeUpcomingPayment, "invoice", entityId))
		amount := row.Balance
		created, err := models.OpenAlertIfAbsent(ctx, db, &models.Alert{
			AlertType:   models.AlertTypeUpcomingPayment,
			Severity:    models.AlertSeverityLow,
			Title:       fmt.Sprintf("Payment Due Soon: %s", row.InvoiceNo),
			Description: fmt.Sprintf("%s - due %s", row.CustomerName, row.DateDue.Format("2006-01-02")),
			Amount:      &amount,
			DueDate:     row.DateDue,
			EntityId:    entityId,
			EntityType:  "invoice",
		})
		if err != nil {
			return opened, 0, err
		}
		if created {
			opened++
		}
	}

	resolved, err := models.ResolveAlertsAbsentFromKeys(ctx, db, models.AlertTypeUpcomingPayment, firing)
	return opened, int(resolved), err
}

// evaluateLowCash opens a single global alert while the trailing 30-day net
// cash flow is negative and resolves it when the flow recovers.
func evaluateLowCash(ctx context.Context, db, snap *gorm.DB, asOf time.Time) (int, int, error) {
	type flowRow struct {
		Inflow  decimal.NullDecimal
		Outflow decimal.NullDecimal
	}
	var flow flowRow
	err := snap.Model(&models.Transaction{}).
		Select(`SUM(CASE WHEN amount > 0 THEN amount ELSE 0 END) AS inflow,
			SUM(CASE WHEN amount < 0 THEN ABS(amount) ELSE 0 END) AS outflow`).
		Where("date >= ?", asOf.AddDate(0, 0, -lowCashWindowDays)).
		Scan(&flow).Error
	if err != nil {
		return 0, 0, err
	}

	var firing []string
	opened := 0
	if flow.Inflow.Valid && flow.Outflow.Valid {
		netFlow := flow.Inflow.Decimal.Sub(flow.Outflow.Decimal)
		if netFlow.IsNegative() {
			shortfall := netFlow.Abs()
			firing = append(firing, models.AlertOpenKey(models.AlertTypeLowCash, "transaction", "global"))
			created, err := models.OpenAlertIfAbsent(ctx, db, &models.Alert{
				AlertType:   models.AlertTypeLowCash,
				Severity:    models.AlertSeverityHigh,
				Title:       "Negative Cash Flow",
				Description: fmt.Sprintf("Cash outflow exceeds inflow by %s in last %d days", shortfall.StringFixed(2), lowCashWindowDays),
				Amount:      &shortfall,
				EntityId:    "global",
				EntityType:  "transaction",
			})
			if err != nil {
				return 0, 0, err
			}
			if created {
				opened++
			}
		}
	}

	resolved, err := models.ResolveAlertsAbsentFromKeys(ctx, db, models.AlertTypeLowCash, firing)
	return opened, int(resolved), err
}

// evaluateUnusualTransactions flags last-week postings larger than five
// times the trailing 90-day average absolute amount.
func evaluateUnusualTransactions(ctx context.Context, db, snap *gorm.DB, asOf time.Time) (int, int, error) {
	var avgAmount decimal.NullDecimal
	err := snap.Model(&models.Transaction{}).
		Select("AVG(ABS(amount))").
		Where("date >= ?", asOf.AddDate(0, 0, -config.MetricsPeriodDays())).
		Scan(&avgAmount).Error
	if err != nil {
		return 0, 0, err
	}
	if !avgAmount.Valid || avgAmount.Decimal.IsZero() {
		resolved, err := models.ResolveAlertsAbsentFromKeys(ctx, db, models.AlertTypeUnusualTransaction, nil)
		return 0, int(resolved), err
	}
	threshold := avgAmount.Decimal.Mul(decimal.NewFromInt(unusualFactor))

	type txnRow struct {
		TransactionId int
		Amount        decimal.Decimal
		Description   string
		AccountNo     int
	}
	var rows []txnRow
	err = snap.Model(&models.Transaction{}).
		Select("transactionId AS transaction_id, amount, description, accountNo AS account_no").
		Where("date >= ? AND ABS(amount) > ?", asOf.AddDate(0, 0, -config.AlertLookaheadDays()), threshold).
		Order("ABS(amount) DESC").
		Scan(&rows).Error
	if err != nil {
		return 0, 0, err
	}

	// Full firing set, capped creation, same as the overdue rule.
	opened := 0
	firing := make([]string, 0, len(rows))
	for i, row := range rows {
		entityId := fmt.Sprint(row.TransactionId)
		firing = append(firing, models.AlertOpenKey(models.AlertTypeUnusualTransaction, "transaction", entityId))
		if i >= unusualTransactionLimit {
			continue
		}
		amount := row.Amount.Abs()
		desc := row.Description
		if len(desc) > 100 {
			desc = desc[:100]
		}
		created, err := models.OpenAlertIfAbsent(ctx, db, &models.Alert{
			AlertType:   models.AlertTypeUnusualTransaction,
			Severity:    models.AlertSeverityMedium,
			Title:       "Large Transaction",
			Description: fmt.Sprintf("Account %d: %s", row.AccountNo, desc),
			Amount:      &amount,
			EntityId:    entityId,
			EntityType:  "transaction",
		})
		if err != nil {
			return opened, 0, err
		}
		if created {
			opened++
		}
	}

	resolved, err := models.ResolveAlertsAbsentFromKeys(ctx, db, models.AlertTypeUnusualTransaction, firing)
	return opened, int(resolved), err
}
