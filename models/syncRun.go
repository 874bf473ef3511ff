package models

import (
	"context"
	"time"

	"gorm.io/gorm"
)

const SyncProviderFinago = "finago"

const (
	SyncRunStatusQueued  = "queued"
	SyncRunStatusRunning = "running"
	SyncRunStatusSuccess = "success"
	SyncRunStatusFailed  = "failed"
	SyncRunStatusPartial = "partial"
)

const (
	SyncTriggeredManual = "manual"
	SyncTriggeredSystem = "system"
	SyncTriggeredPubSub = "pubsub"
)

// SyncRun is the bookkeeping row for one connector pull. partial means some
// records landed and some were written to sync_errors; the run as a whole
// still advanced the cursors for the modules that succeeded.
type SyncRun struct {
	ID              uint           `gorm:"primary_key" json:"id"`
	Provider        string         `gorm:"column:provider;size:50;not null;index" json:"provider"`
	Status          string         `gorm:"column:status;size:20;not null;index" json:"status"`
	TriggeredBy     string         `gorm:"column:triggered_by;size:20" json:"triggered_by"`
	Modules         StructuredBlob `gorm:"column:modules;type:text" json:"modules"`
	Stats           StructuredBlob `gorm:"column:stats;type:text" json:"stats"`
	RecordsSynced   int            `gorm:"column:records_synced;default:0" json:"records_synced"`
	ErrorCount      int            `gorm:"column:error_count;default:0" json:"error_count"`
	StartedAt       *time.Time     `gorm:"column:started_at" json:"started_at"`
	FinishedAt      *time.Time     `gorm:"column:finished_at" json:"finished_at"`
	DurationMs      int64          `gorm:"column:duration_ms;default:0" json:"duration_ms"`
	CreatedAt       time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

func (SyncRun) TableName() string { return "sync_runs" }

// SyncError is one record that failed inside an otherwise healthy run.
type SyncError struct {
	ID         uint           `gorm:"primary_key" json:"id"`
	SyncRunId  uint           `gorm:"column:sync_run_id;index;not null" json:"sync_run_id"`
	EntityType string         `gorm:"column:entity_type;size:50" json:"entity_type"`
	ExternalId string         `gorm:"column:external_id;size:128" json:"external_id"`
	Message    string         `gorm:"column:message;type:text" json:"message"`
	Payload    StructuredBlob `gorm:"column:payload;type:text" json:"payload"`
	Retryable  bool           `gorm:"column:retryable;default:false" json:"retryable"`
	CreatedAt  time.Time      `gorm:"autoCreateTime" json:"created_at"`
}

func (SyncError) TableName() string { return "sync_errors" }

func CreateSyncRun(ctx context.Context, db *gorm.DB, run *SyncRun) error {
	return db.WithContext(ctx).Create(run).Error
}

func UpdateSyncRun(ctx context.Context, db *gorm.DB, run *SyncRun) error {
	return db.WithContext(ctx).Save(run).Error
}

func RecordSyncErrors(ctx context.Context, db *gorm.DB, errs []SyncError) error {
	if len(errs) == 0 {
		return nil
	}
	return db.WithContext(ctx).Create(&errs).Error
}

func GetSyncRuns(ctx context.Context, db *gorm.DB, limit int) ([]SyncRun, error) {
	var runs []SyncRun
	q := db.WithContext(ctx).Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&runs).Error
	return runs, err
}

func GetSyncErrors(ctx context.Context, db *gorm.DB, syncRunId uint) ([]SyncError, error) {
	var errs []SyncError
	err := db.WithContext(ctx).Where("sync_run_id = ?", syncRunId).
		Order("id").Find(&errs).Error
	return errs, err
}

// SyncCursor stores the incremental position per provider module, one row
// per (provider, module).
type SyncCursor struct {
	ID          uint       `gorm:"primary_key" json:"id"`
	Provider    string     `gorm:"column:provider;size:50;not null;uniqueIndex:idx_sync_cursor,priority:1" json:"provider"`
	Module      string     `gorm:"column:module;size:50;not null;uniqueIndex:idx_sync_cursor,priority:2" json:"module"`
	UpdatedSince *time.Time `gorm:"column:updated_since" json:"updated_since"`
	PageCursor  string     `gorm:"column:page_cursor;size:255" json:"page_cursor"`
	UpdatedAt   time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (SyncCursor) TableName() string { return "sync_cursors" }

func GetSyncCursor(ctx context.Context, db *gorm.DB, provider, module string) (*SyncCursor, error) {
	var cursor SyncCursor
	err := db.WithContext(ctx).
		Where("provider = ? AND module = ?", provider, module).
		First(&cursor).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return &SyncCursor{Provider: provider, Module: module}, nil
		}
		return nil, err
	}
	return &cursor, nil
}

func SaveSyncCursor(ctx context.Context, db *gorm.DB, cursor *SyncCursor) error {
	return db.WithContext(ctx).Save(cursor).Error
}
