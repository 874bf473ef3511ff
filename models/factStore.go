package models

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Fact tables are written last-write-wins on the dateChanged watermark: an
// incoming record only replaces the stored one when its dateChanged is
// strictly newer. The guard lives in the ON DUPLICATE KEY UPDATE clause, so
// concurrent sync workers never need row locks and replayed batches are
// no-ops. dateChanged is assigned last: MySQL evaluates the assignment list
// left to right, so every preceding column guard still sees the old value.
const watermarkFloor = "'1000-01-01'"

func watermarkAssignment(col string) clause.Assignment {
	guard := fmt.Sprintf(
		"COALESCE(VALUES(`dateChanged`), %s) > COALESCE(`dateChanged`, %s)",
		watermarkFloor, watermarkFloor)
	return clause.Assignment{
		Column: clause.Column{Name: col},
		Value:  gorm.Expr(fmt.Sprintf("IF(%s, VALUES(`%s`), `%s`)", guard, col, col)),
	}
}

func watermarkSet(updateCols []string) clause.Set {
	assignments := make([]clause.Assignment, 0, len(updateCols)+2)
	for _, col := range updateCols {
		assignments = append(assignments, watermarkAssignment(col))
	}
	guard := fmt.Sprintf(
		"COALESCE(VALUES(`dateChanged`), %s) > COALESCE(`dateChanged`, %s)",
		watermarkFloor, watermarkFloor)
	assignments = append(assignments, clause.Assignment{
		Column: clause.Column{Name: "updated_at"},
		Value:  gorm.Expr(fmt.Sprintf("IF(%s, CURRENT_TIMESTAMP, `updated_at`)", guard)),
	})
	// Watermark moves last.
	assignments = append(assignments, watermarkAssignment("dateChanged"))
	return clause.Set(assignments)
}

type FactUpsertError struct {
	Key string `json:"key"`
	Err error  `json:"error"`
}

// FactUpsertResult counts the outcome of one batch. Unchanged covers both
// stale writes rejected by the watermark and byte-identical replays; the two
// are indistinguishable at the SQL level and equally harmless.
type FactUpsertResult struct {
	Inserted  int               `json:"inserted"`
	Updated   int               `json:"updated"`
	Unchanged int               `json:"unchanged"`
	Failed    int               `json:"failed"`
	Errors    []FactUpsertError `json:"errors,omitempty"`
}

func (r *FactUpsertResult) Total() int {
	return r.Inserted + r.Updated + r.Unchanged + r.Failed
}

func (r *FactUpsertResult) record(rows int64, key string, err error) {
	if err != nil {
		r.Failed++
		r.Errors = append(r.Errors, FactUpsertError{Key: key, Err: err})
		return
	}
	// MySQL reports 1 for a fresh insert, 2 for a row changed by the
	// duplicate-key update, 0 when every assignment left the row as-is.
	switch rows {
	case 1:
		r.Inserted++
	case 2:
		r.Updated++
	default:
		r.Unchanged++
	}
}

func upsertFact[T any](db *gorm.DB, rec *T, updateCols []string) (int64, error) {
	res := db.Clauses(clause.OnConflict{DoUpdates: watermarkSet(updateCols)}).Create(rec)
	return res.RowsAffected, res.Error
}

// One statement per record so a malformed record poisons only itself, never
// the batch.
func UpsertCompanies(ctx context.Context, db *gorm.DB, records []Company) FactUpsertResult {
	var result FactUpsertResult
	for i := range records {
		rows, err := upsertFact(db.WithContext(ctx), &records[i], companyUpdateColumns)
		result.record(rows, fmt.Sprintf("company:%d", records[i].CompanyId), err)
	}
	return result
}

func UpsertPersons(ctx context.Context, db *gorm.DB, records []Person) FactUpsertResult {
	var result FactUpsertResult
	for i := range records {
		rows, err := upsertFact(db.WithContext(ctx), &records[i], personUpdateColumns)
		result.record(rows, fmt.Sprintf("person:%d", records[i].PersonId), err)
	}
	return result
}

func UpsertInvoices(ctx context.Context, db *gorm.DB, records []Invoice) FactUpsertResult {
	var result FactUpsertResult
	for i := range records {
		rows, err := upsertFact(db.WithContext(ctx), &records[i], invoiceUpdateColumns)
		result.record(rows, fmt.Sprintf("invoice:%d", records[i].InvoiceId), err)
	}
	return result
}

func UpsertProducts(ctx context.Context, db *gorm.DB, records []Product) FactUpsertResult {
	var result FactUpsertResult
	for i := range records {
		rows, err := upsertFact(db.WithContext(ctx), &records[i], productUpdateColumns)
		result.record(rows, fmt.Sprintf("product:%d", records[i].ProductId), err)
	}
	return result
}

func UpsertTransactions(ctx context.Context, db *gorm.DB, records []Transaction) FactUpsertResult {
	var result FactUpsertResult
	for i := range records {
		rows, err := upsertFact(db.WithContext(ctx), &records[i], transactionUpdateColumns)
		result.record(rows, fmt.Sprintf("transaction:%d", records[i].TransactionId), err)
	}
	return result
}

func UpsertAccounts(ctx context.Context, db *gorm.DB, records []Account) FactUpsertResult {
	var result FactUpsertResult
	for i := range records {
		rows, err := upsertFact(db.WithContext(ctx), &records[i], accountUpdateColumns)
		result.record(rows, fmt.Sprintf("account:%d", records[i].AccountNo), err)
	}
	return result
}

// MaxDateChanged returns the newest watermark stored for a fact table, used
// as the updated_since cursor for the next incremental pull.
func MaxDateChanged(ctx context.Context, db *gorm.DB, model interface{}) (*time.Time, error) {
	var max sql.NullTime
	err := db.WithContext(ctx).Model(model).
		Select("MAX(`dateChanged`)").Scan(&max).Error
	if err != nil {
		return nil, err
	}
	if !max.Valid {
		return nil, nil
	}
	t := max.Time
	return &t, nil
}

// FactSnapshot gives a job one stable view of every fact table for its whole
// run. Backed by a read-only REPEATABLE READ transaction: concurrent sync
// writes land in the base tables but stay invisible until the next run.
type FactSnapshot struct {
	tx   *gorm.DB
	AsOf time.Time
}

func OpenFactSnapshot(ctx context.Context, db *gorm.DB) (*FactSnapshot, error) {
	tx := db.WithContext(ctx).Begin(&sql.TxOptions{
		Isolation: sql.LevelRepeatableRead,
		ReadOnly:  true,
	})
	if tx.Error != nil {
		return nil, tx.Error
	}
	return &FactSnapshot{tx: tx, AsOf: time.Now().UTC()}, nil
}

func (s *FactSnapshot) DB() *gorm.DB { return s.tx }

func (s *FactSnapshot) Close() {
	if s.tx != nil {
		s.tx.Rollback()
		s.tx = nil
	}
}
