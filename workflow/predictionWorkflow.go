package workflow

import (
	"context"
	"sort"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"bitbucket.org/mmdatafocus/finsight_backend/config"
	"bitbucket.org/mmdatafocus/finsight_backend/models"
	"bitbucket.org/mmdatafocus/finsight_backend/utils"
)

const ingestConflictRetries = 3

// IngestPredictionBatch validates and activates a batch. Activation is
// serialized per prediction type with an advisory lock; a duplicate-key
// conflict from a racing batch that slipped past the lock (different DB
// connection pools, lock timeout) is retried a few times before giving up.
func IngestPredictionBatch(ctx context.Context, db *gorm.DB, logger *logrus.Logger, batch []models.NewPrediction) ([]models.Prediction, error) {
	if len(batch) == 0 {
		return nil, nil
	}

	var types []string
	for _, p := range batch {
		types = append(types, string(p.PredictionType))
	}
	types = utils.UniqueSlice(types)
	// Locks are taken in sorted order so two batches with overlapping type
	// sets cannot deadlock each other.
	sort.Strings(types)

	var rows []models.Prediction
	var err error
	for attempt := 0; attempt < ingestConflictRetries; attempt++ {
		rows, err = ingestLocked(ctx, db, types, batch)
		if err == nil {
			break
		}
		if !models.IsDuplicateKeyErr(err) {
			config.LogError(logger, "predictionWorkflow.go", "IngestPredictionBatch", "ingestLocked", len(batch), err)
			return nil, err
		}
		logger.WithFields(logrus.Fields{
			"attempt": attempt + 1,
			"batch":   len(batch),
		}).Warn("prediction activation conflict, retrying")
	}
	if err != nil {
		config.LogError(logger, "predictionWorkflow.go", "IngestPredictionBatch", "retriesExhausted", len(batch), err)
		return nil, err
	}

	config.LogJob(logger, "prediction-ingest", "batch activated", logrus.Fields{
		"predictions": len(rows),
	})
	return rows, nil
}

// ingestLocked pins one connection for the whole critical section: GET_LOCK
// is session-scoped, so lock, activation transaction, and RELEASE_LOCK must
// all run on the same connection or the lock leaks onto an idle pooled
// session and stalls later batches.
func ingestLocked(ctx context.Context, db *gorm.DB, types []string, batch []models.NewPrediction) ([]models.Prediction, error) {
	var rows []models.Prediction
	err := db.WithContext(ctx).Connection(func(conn *gorm.DB) error {
		for _, t := range types {
			if err := AcquireActivationLock(conn, t); err != nil {
				return err
			}
			defer ReleaseActivationLock(conn, t)
		}
		return conn.Transaction(func(tx *gorm.DB) error {
			var err error
			rows, err = models.IngestPredictionBatchTx(tx, batch)
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// ReconcilePredictions attaches actual outcomes to matured predictions. The
// actual for each type is derived from the fact snapshot:
//
//	days_to_pay        days from invoicing to settlement, once paid
//	payment_risk       1 when the invoice was settled late or is still
//	                   unpaid past due, 0 when settled on time
//	cash_flow_forecast net transaction flow of the target month
//
// Reconciliation is first-write-wins per row, so replaying the job cannot
// change an error already on record.
func ReconcilePredictions(ctx context.Context, db *gorm.DB, logger *logrus.Logger) error {
	snap, err := models.OpenFactSnapshot(ctx, db)
	if err != nil {
		config.LogError(logger, "predictionWorkflow.go", "ReconcilePredictions", "OpenFactSnapshot", nil, err)
		return err
	}
	defer snap.Close()

	matured, err := models.ListUnreconciledMatured(ctx, db, snap.AsOf, 0)
	if err != nil {
		config.LogError(logger, "predictionWorkflow.go", "ReconcilePredictions", "ListUnreconciledMatured", nil, err)
		return err
	}

	reconciled, skipped := 0, 0
	for _, pred := range matured {
		actual, ok, err := deriveActual(snap.DB(), &pred, snap.AsOf)
		if err != nil {
			config.LogError(logger, "predictionWorkflow.go", "ReconcilePredictions", "deriveActual", pred.ID, err)
			return err
		}
		if !ok {
			// Outcome not observable yet (e.g. invoice still open and
			// not past due); leave for a later run.
			skipped++
			continue
		}
		if _, err := models.ReconcilePrediction(ctx, db, pred.ID, actual); err != nil {
			config.LogError(logger, "predictionWorkflow.go", "ReconcilePredictions", "ReconcilePrediction", pred.ID, err)
			return err
		}
		reconciled++
	}

	config.LogJob(logger, "prediction-reconcile", "reconcile finished", logrus.Fields{
		"matured":    len(matured),
		"reconciled": reconciled,
		"skipped":    skipped,
	})
	return nil
}

func deriveActual(snap *gorm.DB, pred *models.Prediction, asOf time.Time) (decimal.Decimal, bool, error) {
	switch pred.PredictionType {
	case models.PredictionTypeDaysToPay:
		return deriveDaysToPay(snap, pred)
	case models.PredictionTypePaymentRisk:
		return derivePaymentRisk(snap, pred, asOf)
	case models.PredictionTypeCashFlowForecast:
		return deriveCashFlow(snap, pred)
	default:
		return decimal.Zero, false, nil
	}
}

func invoiceForPrediction(snap *gorm.DB, pred *models.Prediction) (*models.Invoice, error) {
	invoiceId, err := strconv.Atoi(pred.EntityId)
	if err != nil {
		return nil, nil
	}
	var inv models.Invoice
	if err := snap.First(&inv, "invoiceId = ?", invoiceId).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &inv, nil
}

func deriveDaysToPay(snap *gorm.DB, pred *models.Prediction) (decimal.Decimal, bool, error) {
	inv, err := invoiceForPrediction(snap, pred)
	if err != nil || inv == nil {
		return decimal.Zero, false, err
	}
	if inv.Status != models.InvoiceStatusPaid || inv.DateInvoiced == nil || inv.DateChanged == nil {
		return decimal.Zero, false, nil
	}
	days := int64(inv.DateChanged.Sub(*inv.DateInvoiced).Hours() / 24)
	return decimal.NewFromInt(days), true, nil
}

func derivePaymentRisk(snap *gorm.DB, pred *models.Prediction, asOf time.Time) (decimal.Decimal, bool, error) {
	inv, err := invoiceForPrediction(snap, pred)
	if err != nil || inv == nil {
		return decimal.Zero, false, err
	}
	if inv.Status == models.InvoiceStatusPaid {
		late := inv.DateDue != nil && inv.DateChanged != nil && inv.DateChanged.After(*inv.DateDue)
		if late {
			return decimal.NewFromInt(1), true, nil
		}
		return decimal.Zero, true, nil
	}
	if inv.DaysOverdue(asOf) > 0 {
		return decimal.NewFromInt(1), true, nil
	}
	return decimal.Zero, false, nil
}

func deriveCashFlow(snap *gorm.DB, pred *models.Prediction) (decimal.Decimal, bool, error) {
	if pred.TargetDate == nil {
		return decimal.Zero, false, nil
	}
	from := time.Date(pred.TargetDate.Year(), pred.TargetDate.Month(), 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 1, 0)

	var net decimal.NullDecimal
	err := snap.Model(&models.Transaction{}).
		Select("SUM(amount)").
		Where("date >= ? AND date < ?", from, to).
		Scan(&net).Error
	if err != nil {
		return decimal.Zero, false, err
	}
	if !net.Valid {
		return decimal.Zero, false, nil
	}
	return net.Decimal, true, nil
}

// PurgePredictions removes old superseded, never-reconciled rows past the
// retention window.
func PurgePredictions(ctx context.Context, db *gorm.DB, logger *logrus.Logger) error {
	cutoff := time.Now().UTC().AddDate(0, 0, -config.PredictionRetentionDays())
	purged, err := models.PurgeSupersededPredictions(ctx, db, cutoff)
	if err != nil {
		config.LogError(logger, "predictionWorkflow.go", "PurgePredictions", "PurgeSupersededPredictions", cutoff, err)
		return err
	}
	config.LogJob(logger, "prediction-purge", "purge finished", logrus.Fields{
		"purged": purged,
		"cutoff": cutoff.Format("2006-01-02"),
	})
	return nil
}
