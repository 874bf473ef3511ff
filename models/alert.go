package models

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"bitbucket.org/mmdatafocus/finsight_backend/utils"
)

// Alert is a persisted dashboard alert. Lifecycle is open → resolved and
// resolved is terminal; when the condition recurs a new row is opened.
//
// open_key is the dedup projection: "type:entityType:entityId" while the
// alert is open, NULL once resolved. The unique index on it enforces "at
// most one open alert per condition" in the database (MySQL unique indexes
// ignore NULLs), so concurrent evaluators cannot double-open.
type Alert struct {
	ID          uint             `gorm:"primary_key" json:"id"`
	AlertType   AlertType        `gorm:"column:alert_type;size:64;not null;index" json:"alert_type"`
	Severity    AlertSeverity    `gorm:"column:severity;size:16;not null;index" json:"severity"`
	Title       string           `gorm:"column:title;size:255;not null" json:"title"`
	Description string           `gorm:"column:description;type:text" json:"description"`
	Amount      *decimal.Decimal `gorm:"column:amount;type:decimal(20,4)" json:"amount"`
	DueDate     *time.Time       `gorm:"column:due_date;type:date" json:"due_date"`
	EntityId    string           `gorm:"column:entity_id;size:128" json:"entity_id"`
	EntityType  string           `gorm:"column:entity_type;size:64" json:"entity_type"`
	IsResolved  bool             `gorm:"column:is_resolved;not null;default:false" json:"is_resolved"`
	OpenKey     *string          `gorm:"column:open_key;size:255;uniqueIndex" json:"-"`
	Context     StructuredBlob   `gorm:"column:context;type:text" json:"context"`
	CreatedAt   time.Time        `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	ResolvedAt  *time.Time       `gorm:"column:resolved_at" json:"resolved_at"`
}

func (Alert) TableName() string { return "dashboard_alerts" }

func (a *Alert) State() AlertState {
	if a.IsResolved {
		return AlertStateResolved
	}
	return AlertStateOpen
}

func AlertOpenKey(alertType AlertType, entityType, entityId string) string {
	return fmt.Sprintf("%s:%s:%s", alertType, entityType, entityId)
}

// OverdueSeverity maps days overdue to the severity tiers the dashboard
// expects: >90 high, >60 medium, otherwise low.
func OverdueSeverity(daysOverdue int) AlertSeverity {
	switch {
	case daysOverdue > 90:
		return AlertSeverityHigh
	case daysOverdue > 60:
		return AlertSeverityMedium
	default:
		return AlertSeverityLow
	}
}

// OpenAlertIfAbsent inserts the alert with its open projection key set.
// A duplicate-key conflict means the same condition is already open, from
// this run or a concurrent one; the insert is dropped and (false, nil) is
// returned. The existing open row is left untouched, including its severity:
// escalation shows up when the old alert is resolved and the condition
// re-fires.
func OpenAlertIfAbsent(ctx context.Context, db *gorm.DB, alert *Alert) (bool, error) {
	key := AlertOpenKey(alert.AlertType, alert.EntityType, alert.EntityId)
	alert.OpenKey = &key
	alert.IsResolved = false

	err := db.WithContext(ctx).Create(alert).Error
	if err != nil {
		if IsDuplicateKeyErr(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// ResolveAlert transitions open → resolved and clears the projection key so
// the condition can open again later. Resolving an already-resolved alert is
// a no-op; an unknown id is ErrorRecordNotFound.
func ResolveAlert(ctx context.Context, db *gorm.DB, alertId uint) (*Alert, error) {
	var alert Alert
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&alert, alertId).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return utils.ErrorRecordNotFound
			}
			return err
		}
		if alert.IsResolved {
			return nil
		}
		now := time.Now().UTC()
		res := tx.Model(&Alert{}).
			Where("id = ? AND is_resolved = ?", alertId, false).
			Updates(map[string]interface{}{
				"is_resolved": true,
				"resolved_at": now,
				"open_key":    nil,
			})
		if res.Error != nil {
			return res.Error
		}
		alert.IsResolved = true
		alert.ResolvedAt = &now
		alert.OpenKey = nil
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &alert, nil
}

// ResolveAlertsAbsentFromKeys closes open alerts of the given type whose
// condition no longer holds, i.e. whose open_key is not in the still-firing
// set. Used by evaluator rules that can see the full current set.
func ResolveAlertsAbsentFromKeys(ctx context.Context, db *gorm.DB, alertType AlertType, stillFiring []string) (int64, error) {
	q := db.WithContext(ctx).Model(&Alert{}).
		Where("alert_type = ? AND is_resolved = ?", alertType, false)
	if len(stillFiring) > 0 {
		q = q.Where("open_key NOT IN ?", stillFiring)
	}
	res := q.Updates(map[string]interface{}{
		"is_resolved": true,
		"resolved_at": time.Now().UTC(),
		"open_key":    nil,
	})
	return res.RowsAffected, res.Error
}

type AlertFilter struct {
	State    *AlertState
	Type     *AlertType
	Severity *AlertSeverity
	Limit    int
}

func GetAlerts(ctx context.Context, db *gorm.DB, filter AlertFilter) ([]Alert, error) {
	var alerts []Alert
	q := db.WithContext(ctx).Model(&Alert{})
	if filter.State != nil {
		q = q.Where("is_resolved = ?", *filter.State == AlertStateResolved)
	}
	if filter.Type != nil {
		q = q.Where("alert_type = ?", *filter.Type)
	}
	if filter.Severity != nil {
		q = q.Where("severity = ?", *filter.Severity)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	err := q.Order("created_at DESC").Find(&alerts).Error
	return alerts, err
}

func CountOpenAlertsBySeverity(ctx context.Context, db *gorm.DB) (map[AlertSeverity]int64, error) {
	type row struct {
		Severity AlertSeverity
		Count    int64
	}
	var rows []row
	err := db.WithContext(ctx).Model(&Alert{}).
		Select("severity, COUNT(*) AS count").
		Where("is_resolved = ?", false).
		Group("severity").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	counts := make(map[AlertSeverity]int64, len(rows))
	for _, r := range rows {
		counts[r.Severity] = r.Count
	}
	return counts, nil
}
