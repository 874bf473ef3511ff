package models_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"bitbucket.org/mmdatafocus/finsight_backend/models"
)

func datePtr(t time.Time) *time.Time { return &t }

// A replayed batch must be a no-op and an older dateChanged must never
// overwrite a newer row.
func TestFactUpsertWatermarkRejectsStaleAndReplays(t *testing.T) {
	db := setupIntegrationDB(t)
	ctx := context.Background()

	older := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	newer := time.Date(2026, 3, 5, 10, 0, 0, 0, time.UTC)

	first := models.Invoice{
		InvoiceId:    1001,
		InvoiceNo:    "INV-1001",
		CustomerName: "Acme Oy",
		TotalIncVat:  decimal.NewFromInt(1200),
		Balance:      decimal.NewFromInt(1200),
		Status:       models.InvoiceStatusUnpaid,
		DateInvoiced: datePtr(time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)),
		DateChanged:  datePtr(older),
	}

	res := models.UpsertInvoices(ctx, db, []models.Invoice{first})
	if res.Inserted != 1 || res.Failed != 0 {
		t.Fatalf("initial insert: %+v", res)
	}

	// Replay of the identical record: watermark not newer, row untouched.
	res = models.UpsertInvoices(ctx, db, []models.Invoice{first})
	if res.Unchanged != 1 || res.Updated != 0 || res.Inserted != 0 {
		t.Fatalf("replay should be unchanged: %+v", res)
	}

	// Newer watermark wins.
	updated := first
	updated.Status = models.InvoiceStatusPaid
	updated.Balance = decimal.Zero
	updated.AmountPaid = decimal.NewFromInt(1200)
	updated.DateChanged = datePtr(newer)
	res = models.UpsertInvoices(ctx, db, []models.Invoice{updated})
	if res.Updated != 1 {
		t.Fatalf("newer watermark should update: %+v", res)
	}

	// Stale write arriving late must not roll the row back.
	stale := first
	stale.Status = models.InvoiceStatusUnpaid
	stale.DateChanged = datePtr(older)
	res = models.UpsertInvoices(ctx, db, []models.Invoice{stale})
	if res.Unchanged != 1 || res.Updated != 0 {
		t.Fatalf("stale write should be rejected: %+v", res)
	}

	var got models.Invoice
	if err := db.First(&got, "invoiceId = ?", 1001).Error; err != nil {
		t.Fatalf("reload invoice: %v", err)
	}
	if got.Status != models.InvoiceStatusPaid {
		t.Fatalf("stale write overwrote status: got %q", got.Status)
	}
	if !got.Balance.IsZero() {
		t.Fatalf("stale write overwrote balance: got %s", got.Balance)
	}
	if got.DateChanged == nil || !got.DateChanged.Equal(newer) {
		t.Fatalf("watermark rolled back: got %v", got.DateChanged)
	}

	max, err := models.MaxDateChanged(ctx, db, &models.Invoice{})
	if err != nil {
		t.Fatalf("MaxDateChanged: %v", err)
	}
	if max == nil || !max.Equal(newer) {
		t.Fatalf("MaxDateChanged = %v, want %v", max, newer)
	}
}

// A record with NULL dateChanged must accept a dated update, and an update
// with NULL dateChanged must never clobber a dated row.
func TestFactUpsertWatermarkNullHandling(t *testing.T) {
	db := setupIntegrationDB(t)
	ctx := context.Background()

	undated := models.Company{
		CompanyId:   7,
		CompanyName: "Undated Oy",
		IsCustomer:  true,
	}
	res := models.UpsertCompanies(ctx, db, []models.Company{undated})
	if res.Inserted != 1 {
		t.Fatalf("insert undated: %+v", res)
	}

	stamp := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	dated := undated
	dated.CompanyName = "Dated Oy"
	dated.DateChanged = datePtr(stamp)
	res = models.UpsertCompanies(ctx, db, []models.Company{dated})
	if res.Updated != 1 {
		t.Fatalf("dated update over NULL watermark should apply: %+v", res)
	}

	// NULL incoming watermark loses against the stored date.
	clobber := undated
	clobber.CompanyName = "Clobber Oy"
	res = models.UpsertCompanies(ctx, db, []models.Company{clobber})
	if res.Unchanged != 1 {
		t.Fatalf("NULL watermark should be rejected: %+v", res)
	}

	var got models.Company
	if err := db.First(&got, "companyId = ?", 7).Error; err != nil {
		t.Fatalf("reload company: %v", err)
	}
	if got.CompanyName != "Dated Oy" {
		t.Fatalf("company name = %q, want Dated Oy", got.CompanyName)
	}
}

// One malformed record must not poison the rest of its batch.
func TestFactUpsertIsolatesBadRecords(t *testing.T) {
	db := setupIntegrationDB(t)
	ctx := context.Background()

	good := models.Account{AccountNo: 3000, Name: "Sales", AccountType: "revenue", IsActive: true}
	tooLong := models.Account{AccountNo: 3001, Name: "x", AccountType: string(make([]byte, 300)), IsActive: true}

	res := models.UpsertAccounts(ctx, db, []models.Account{good, tooLong})
	if res.Inserted != 1 || res.Failed != 1 {
		t.Fatalf("expected 1 inserted 1 failed: %+v", res)
	}
	if len(res.Errors) != 1 || res.Errors[0].Key != "account:3001" {
		t.Fatalf("error not attributed to bad record: %+v", res.Errors)
	}

	var count int64
	if err := db.Model(&models.Account{}).Count(&count).Error; err != nil {
		t.Fatalf("count accounts: %v", err)
	}
	if count != 1 {
		t.Fatalf("accounts stored = %d, want 1", count)
	}
}
