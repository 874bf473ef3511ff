package finagosync

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"bitbucket.org/mmdatafocus/finsight_backend/config"
	"bitbucket.org/mmdatafocus/finsight_backend/models"
	"bitbucket.org/mmdatafocus/finsight_backend/utils"
)

const (
	pageSize = 200
	// Hard stop for a cursor that never reports has_more=false.
	maxPages = 500
)

var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func parseTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			u := t.UTC()
			return &u
		}
	}
	return nil
}

type moduleOutcome struct {
	models.FactUpsertResult
	HardError string `json:"hard_error,omitempty"`
}

// ProcessSyncRun executes one queued connector pull end to end: per enabled
// module it pages the Finago API from the stored cursor, upserts the facts
// and advances the cursor. A record that fails to decode or upsert lands in
// sync_errors and the run continues; a module whose API call fails stops that
// module but not the others.
func ProcessSyncRun(ctx context.Context, db *gorm.DB, logger *logrus.Logger, runId uint) error {
	var run models.SyncRun
	if err := db.WithContext(ctx).First(&run, runId).Error; err != nil {
		config.LogError(logger, "worker.go", "ProcessSyncRun", "loadRun", runId, err)
		return err
	}
	if run.Status != models.SyncRunStatusQueued {
		// Redelivered pubsub message or double trigger; the run already ran.
		logger.WithFields(logrus.Fields{"run_id": runId, "status": run.Status}).
			Info("sync run not queued, skipping")
		return nil
	}

	started := time.Now().UTC()
	run.Status = models.SyncRunStatusRunning
	run.StartedAt = &started
	if err := models.UpdateSyncRun(ctx, db, &run); err != nil {
		config.LogError(logger, "worker.go", "ProcessSyncRun", "markRunning", runId, err)
		return err
	}

	client, err := newFinagoClient()
	if err != nil {
		config.LogError(logger, "worker.go", "ProcessSyncRun", "newFinagoClient", runId, err)
		return finalizeRun(ctx, db, &run, started, nil, nil, err)
	}
	defer client.close()

	modules := DecodeModules(run.Modules.Raw())
	outcomes := map[string]*moduleOutcome{}
	var syncErrs []models.SyncError

	for _, m := range enabledModules(modules) {
		outcome := &moduleOutcome{}
		outcomes[m.name] = outcome

		errs, moduleErr := syncModule(ctx, client, db, m, started, outcome)
		syncErrs = append(syncErrs, errs...)
		if moduleErr != nil {
			config.LogError(logger, "worker.go", "ProcessSyncRun", m.name, runId, moduleErr)
			outcome.HardError = moduleErr.Error()
			continue
		}
		logger.WithFields(logrus.Fields{
			"run_id":    runId,
			"module":    m.name,
			"inserted":  outcome.Inserted,
			"updated":   outcome.Updated,
			"unchanged": outcome.Unchanged,
			"failed":    outcome.Failed,
		}).Info("module synced")
	}

	for i := range syncErrs {
		syncErrs[i].SyncRunId = run.ID
	}
	if err := models.RecordSyncErrors(ctx, db, syncErrs); err != nil {
		config.LogError(logger, "worker.go", "ProcessSyncRun", "RecordSyncErrors", runId, err)
	}

	return finalizeRun(ctx, db, &run, started, outcomes, syncErrs, nil)
}

func finalizeRun(ctx context.Context, db *gorm.DB, run *models.SyncRun, started time.Time, outcomes map[string]*moduleOutcome, syncErrs []models.SyncError, hardErr error) error {
	finished := time.Now().UTC()
	run.FinishedAt = &finished
	run.DurationMs = finished.Sub(started).Milliseconds()

	synced, failed, hardModules := 0, 0, 0
	for _, o := range outcomes {
		synced += o.Inserted + o.Updated + o.Unchanged
		failed += o.Failed
		if o.HardError != "" {
			hardModules++
		}
	}
	run.RecordsSynced = synced
	run.ErrorCount = len(syncErrs)

	switch {
	case hardErr != nil:
		run.Status = models.SyncRunStatusFailed
	case hardModules == len(outcomes) && len(outcomes) > 0 && synced == 0:
		run.Status = models.SyncRunStatusFailed
	case hardModules > 0 || failed > 0:
		run.Status = models.SyncRunStatusPartial
	default:
		run.Status = models.SyncRunStatusSuccess
	}

	if outcomes != nil {
		if stats, err := models.NewStructuredBlobFrom(outcomes); err == nil {
			run.Stats = stats
		}
	} else if hardErr != nil {
		if stats, err := models.NewStructuredBlobFrom(map[string]string{"error": hardErr.Error()}); err == nil {
			run.Stats = stats
		}
	}

	if err := models.UpdateSyncRun(ctx, db, run); err != nil {
		return err
	}
	return hardErr
}

type syncableModule struct {
	name         string
	path         string
	maxWatermark func(ctx context.Context, db *gorm.DB) (*time.Time, error)
	upsertPage   func(ctx context.Context, db *gorm.DB, records []json.RawMessage) (models.FactUpsertResult, []models.SyncError)
}

func enabledModules(m SyncModules) []syncableModule {
	all := []struct {
		on  bool
		mod syncableModule
	}{
		{m.Companies, syncableModule{"companies", "/v1/companies", maxWatermarkOf(&models.Company{}), upsertCompanyPage}},
		{m.Persons, syncableModule{"persons", "/v1/persons", maxWatermarkOf(&models.Person{}), upsertPersonPage}},
		{m.Invoices, syncableModule{"invoices", "/v1/invoices", maxWatermarkOf(&models.Invoice{}), upsertInvoicePage}},
		{m.Products, syncableModule{"products", "/v1/products", maxWatermarkOf(&models.Product{}), upsertProductPage}},
		{m.Transactions, syncableModule{"transactions", "/v1/transactions", maxWatermarkOf(&models.Transaction{}), upsertTransactionPage}},
		{m.Accounts, syncableModule{"accounts", "/v1/accounts", maxWatermarkOf(&models.Account{}), upsertAccountPage}},
	}
	var enabled []syncableModule
	for _, e := range all {
		if e.on {
			enabled = append(enabled, e.mod)
		}
	}
	return enabled
}

func maxWatermarkOf(model interface{}) func(context.Context, *gorm.DB) (*time.Time, error) {
	return func(ctx context.Context, db *gorm.DB) (*time.Time, error) {
		return models.MaxDateChanged(ctx, db, model)
	}
}

// syncModule pages one module from its cursor. The updated_since cursor only
// advances to the run start after the module finishes cleanly, so a module
// interrupted mid-pull re-reads the same window next run; the watermark
// upserts make that replay a no-op.
func syncModule(ctx context.Context, client *finagoClient, db *gorm.DB, m syncableModule, runStart time.Time, outcome *moduleOutcome) ([]models.SyncError, error) {
	cursor, err := models.GetSyncCursor(ctx, db, models.SyncProviderFinago, m.name)
	if err != nil {
		return nil, err
	}
	if cursor.UpdatedSince == nil {
		// First pull after a restore: seed from the data already on disk.
		seed, err := m.maxWatermark(ctx, db)
		if err != nil {
			return nil, err
		}
		cursor.UpdatedSince = seed
	}

	var syncErrs []models.SyncError
	pageCursor := cursor.PageCursor

	for page := 0; page < maxPages; page++ {
		params := url.Values{}
		params.Set("limit", strconv.Itoa(pageSize))
		if pageCursor != "" {
			params.Set("cursor", pageCursor)
		}
		if cursor.UpdatedSince != nil {
			params.Set("updated_since", cursor.UpdatedSince.Format(time.RFC3339))
		}

		resp, err := client.getList(ctx, m.path, params)
		if err != nil {
			// Persist the page position so a retry resumes mid-module.
			cursor.PageCursor = pageCursor
			if saveErr := models.SaveSyncCursor(ctx, db, cursor); saveErr != nil {
				return syncErrs, saveErr
			}
			return syncErrs, err
		}

		result, errs := m.upsertPage(ctx, db, resp.records())
		outcome.Inserted += result.Inserted
		outcome.Updated += result.Updated
		outcome.Unchanged += result.Unchanged
		outcome.Failed += result.Failed
		syncErrs = append(syncErrs, errs...)

		pageCursor = resp.NextCursor
		if pageCursor == "" || (resp.HasMore != nil && !*resp.HasMore) {
			break
		}
	}

	cursor.UpdatedSince = &runStart
	cursor.PageCursor = ""
	if err := models.SaveSyncCursor(ctx, db, cursor); err != nil {
		return syncErrs, err
	}
	return syncErrs, nil
}

func decodeError(module string, raw json.RawMessage, err error) models.SyncError {
	return models.SyncError{
		EntityType: module,
		Message:    err.Error(),
		Payload:    models.NewStructuredBlob(string(raw)),
		Retryable:  false,
	}
}

func upsertErrors(module string, result models.FactUpsertResult) []models.SyncError {
	var errs []models.SyncError
	for _, e := range result.Errors {
		errs = append(errs, models.SyncError{
			EntityType: module,
			ExternalId: e.Key,
			Message:    e.Err.Error(),
			Retryable:  true,
		})
	}
	return errs
}

// sanitizeEmail blanks malformed email values. Like phone normalization, a
// bad contact field must never fail a record.
func sanitizeEmail(email string) string {
	email = strings.TrimSpace(email)
	if email == "" || !utils.IsValidEmail(email) {
		return ""
	}
	return email
}

type companyRecord struct {
	CompanyId      int    `json:"companyId"`
	CompanyName    string `json:"companyName"`
	OrganizationNo string `json:"organizationNo"`
	CustomerNumber string `json:"customerNumber"`
	Email          string `json:"email"`
	Phone          string `json:"phone"`
	CountryCode    string `json:"countryCode"`
	IsCustomer     bool   `json:"isCustomer"`
	IsSupplier     bool   `json:"isSupplier"`
	DateChanged    string `json:"dateChanged"`
}

func upsertCompanyPage(ctx context.Context, db *gorm.DB, records []json.RawMessage) (models.FactUpsertResult, []models.SyncError) {
	var batch []models.Company
	var errs []models.SyncError
	for _, raw := range records {
		var rec companyRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			errs = append(errs, decodeError("companies", raw, err))
			continue
		}
		if rec.CompanyId == 0 {
			errs = append(errs, decodeError("companies", raw, fmt.Errorf("missing companyId")))
			continue
		}
		country := rec.CountryCode
		if country == "" {
			country = "FI"
		}
		batch = append(batch, models.Company{
			CompanyId:      rec.CompanyId,
			CompanyName:    rec.CompanyName,
			OrganizationNo: rec.OrganizationNo,
			CustomerNumber: rec.CustomerNumber,
			Email:          sanitizeEmail(rec.Email),
			Phone:          utils.NormalizePhoneNumber(rec.Phone, country),
			IsCustomer:     rec.IsCustomer,
			IsSupplier:     rec.IsSupplier,
			DateChanged:    parseTime(rec.DateChanged),
		})
	}
	result := models.UpsertCompanies(ctx, db, batch)
	return result, append(errs, upsertErrors("companies", result)...)
}

type personRecord struct {
	PersonId    int    `json:"personId"`
	CompanyId   *int   `json:"companyId"`
	FirstName   string `json:"firstName"`
	LastName    string `json:"lastName"`
	Email       string `json:"email"`
	Phone       string `json:"phone"`
	CountryCode string `json:"countryCode"`
	Role        string `json:"role"`
	DateChanged string `json:"dateChanged"`
}

func upsertPersonPage(ctx context.Context, db *gorm.DB, records []json.RawMessage) (models.FactUpsertResult, []models.SyncError) {
	var batch []models.Person
	var errs []models.SyncError
	for _, raw := range records {
		var rec personRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			errs = append(errs, decodeError("persons", raw, err))
			continue
		}
		if rec.PersonId == 0 {
			errs = append(errs, decodeError("persons", raw, fmt.Errorf("missing personId")))
			continue
		}
		country := rec.CountryCode
		if country == "" {
			country = "FI"
		}
		batch = append(batch, models.Person{
			PersonId:    rec.PersonId,
			CompanyId:   rec.CompanyId,
			FirstName:   rec.FirstName,
			LastName:    rec.LastName,
			Email:       sanitizeEmail(rec.Email),
			Phone:       utils.NormalizePhoneNumber(rec.Phone, country),
			Role:        rec.Role,
			DateChanged: parseTime(rec.DateChanged),
		})
	}
	result := models.UpsertPersons(ctx, db, batch)
	return result, append(errs, upsertErrors("persons", result)...)
}

type invoiceRecord struct {
	InvoiceId      int             `json:"invoiceId"`
	OrderId        *int            `json:"orderId"`
	InvoiceNo      string          `json:"invoiceNo"`
	CustomerId     *int            `json:"customerId"`
	CustomerName   string          `json:"customerName"`
	DateInvoiced   string          `json:"dateInvoiced"`
	DateDue        string          `json:"dateDue"`
	TotalIncVat    decimal.Decimal `json:"totalIncVat"`
	TotalVat       decimal.Decimal `json:"totalVat"`
	AmountPaid     decimal.Decimal `json:"amountPaid"`
	Balance        decimal.Decimal `json:"balance"`
	CurrencySymbol string          `json:"currencySymbol"`
	Status         string          `json:"status"`
	ExternalStatus *int            `json:"externalStatus"`
	DateChanged    string          `json:"dateChanged"`
}

func upsertInvoicePage(ctx context.Context, db *gorm.DB, records []json.RawMessage) (models.FactUpsertResult, []models.SyncError) {
	var batch []models.Invoice
	var errs []models.SyncError
	for _, raw := range records {
		var rec invoiceRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			errs = append(errs, decodeError("invoices", raw, err))
			continue
		}
		if rec.InvoiceId == 0 {
			errs = append(errs, decodeError("invoices", raw, fmt.Errorf("missing invoiceId")))
			continue
		}
		batch = append(batch, models.Invoice{
			InvoiceId:      rec.InvoiceId,
			OrderId:        rec.OrderId,
			InvoiceNo:      rec.InvoiceNo,
			CustomerId:     rec.CustomerId,
			CustomerName:   rec.CustomerName,
			DateInvoiced:   parseTime(rec.DateInvoiced),
			DateDue:        parseTime(rec.DateDue),
			TotalIncVat:    rec.TotalIncVat,
			TotalVat:       rec.TotalVat,
			AmountPaid:     rec.AmountPaid,
			Balance:        rec.Balance,
			CurrencySymbol: rec.CurrencySymbol,
			Status:         rec.Status,
			ExternalStatus: rec.ExternalStatus,
			DateChanged:    parseTime(rec.DateChanged),
		})
	}
	result := models.UpsertInvoices(ctx, db, batch)
	return result, append(errs, upsertErrors("invoices", result)...)
}

type productRecord struct {
	ProductId   int             `json:"productId"`
	ProductNo   string          `json:"productNo"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	UnitPrice   decimal.Decimal `json:"unitPrice"`
	VatRate     decimal.Decimal `json:"vatRate"`
	IsActive    *bool           `json:"isActive"`
	DateChanged string          `json:"dateChanged"`
}

func upsertProductPage(ctx context.Context, db *gorm.DB, records []json.RawMessage) (models.FactUpsertResult, []models.SyncError) {
	var batch []models.Product
	var errs []models.SyncError
	for _, raw := range records {
		var rec productRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			errs = append(errs, decodeError("products", raw, err))
			continue
		}
		if rec.ProductId == 0 {
			errs = append(errs, decodeError("products", raw, fmt.Errorf("missing productId")))
			continue
		}
		active := true
		if rec.IsActive != nil {
			active = *rec.IsActive
		}
		batch = append(batch, models.Product{
			ProductId:   rec.ProductId,
			ProductNo:   rec.ProductNo,
			Name:        rec.Name,
			Description: rec.Description,
			UnitPrice:   rec.UnitPrice,
			VatRate:     rec.VatRate,
			IsActive:    active,
			DateChanged: parseTime(rec.DateChanged),
		})
	}
	result := models.UpsertProducts(ctx, db, batch)
	return result, append(errs, upsertErrors("products", result)...)
}

type transactionRecord struct {
	TransactionId int             `json:"transactionId"`
	Date          string          `json:"date"`
	AccountNo     int             `json:"accountNo"`
	Debit         decimal.Decimal `json:"debit"`
	Credit        decimal.Decimal `json:"credit"`
	Description   string          `json:"description"`
	CustomerId    *int            `json:"customerId"`
	VoucherNo     string          `json:"voucherNo"`
	DateChanged   string          `json:"dateChanged"`
}

func upsertTransactionPage(ctx context.Context, db *gorm.DB, records []json.RawMessage) (models.FactUpsertResult, []models.SyncError) {
	var batch []models.Transaction
	var errs []models.SyncError
	for _, raw := range records {
		var rec transactionRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			errs = append(errs, decodeError("transactions", raw, err))
			continue
		}
		if rec.TransactionId == 0 {
			errs = append(errs, decodeError("transactions", raw, fmt.Errorf("missing transactionId")))
			continue
		}
		batch = append(batch, models.Transaction{
			TransactionId: rec.TransactionId,
			Date:          parseTime(rec.Date),
			AccountNo:     rec.AccountNo,
			Amount:        rec.Debit.Sub(rec.Credit),
			Debit:         rec.Debit,
			Credit:        rec.Credit,
			Description:   rec.Description,
			CustomerId:    rec.CustomerId,
			VoucherNo:     rec.VoucherNo,
			DateChanged:   parseTime(rec.DateChanged),
		})
	}
	result := models.UpsertTransactions(ctx, db, batch)
	return result, append(errs, upsertErrors("transactions", result)...)
}

type accountRecord struct {
	AccountNo   int    `json:"accountNo"`
	Name        string `json:"name"`
	AccountType string `json:"accountType"`
	IsActive    *bool  `json:"isActive"`
	DateChanged string `json:"dateChanged"`
}

func upsertAccountPage(ctx context.Context, db *gorm.DB, records []json.RawMessage) (models.FactUpsertResult, []models.SyncError) {
	var batch []models.Account
	var errs []models.SyncError
	for _, raw := range records {
		var rec accountRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			errs = append(errs, decodeError("accounts", raw, err))
			continue
		}
		if rec.AccountNo == 0 {
			errs = append(errs, decodeError("accounts", raw, fmt.Errorf("missing accountNo")))
			continue
		}
		active := true
		if rec.IsActive != nil {
			active = *rec.IsActive
		}
		batch = append(batch, models.Account{
			AccountNo:   rec.AccountNo,
			Name:        rec.Name,
			AccountType: rec.AccountType,
			IsActive:    active,
			DateChanged: parseTime(rec.DateChanged),
		})
	}
	result := models.UpsertAccounts(ctx, db, batch)
	return result, append(errs, upsertErrors("accounts", result)...)
}
