package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Invoice mirrors the upstream sales invoice. Balance is the open amount;
// a paid invoice has balance zero and status Paid.
type Invoice struct {
	InvoiceId      int             `gorm:"column:invoiceId;primaryKey" json:"invoiceId"`
	OrderId        *int            `gorm:"column:orderId;index" json:"orderId"`
	InvoiceNo      string          `gorm:"column:invoiceNo;size:64;index" json:"invoiceNo"`
	CustomerId     *int            `gorm:"column:customerId;index" json:"customerId"`
	CustomerName   string          `gorm:"column:customerName;size:255" json:"customerName"`
	DateInvoiced   *time.Time      `gorm:"column:dateInvoiced;type:date;index" json:"dateInvoiced"`
	DateDue        *time.Time      `gorm:"column:dateDue;type:date;index" json:"dateDue"`
	TotalIncVat    decimal.Decimal `gorm:"column:totalIncVat;type:decimal(20,4);default:0" json:"totalIncVat"`
	TotalVat       decimal.Decimal `gorm:"column:totalVat;type:decimal(20,4);default:0" json:"totalVat"`
	AmountPaid     decimal.Decimal `gorm:"column:amountPaid;type:decimal(20,4);default:0" json:"amountPaid"`
	Balance        decimal.Decimal `gorm:"column:balance;type:decimal(20,4);default:0" json:"balance"`
	CurrencySymbol string          `gorm:"column:currencySymbol;size:8" json:"currencySymbol"`
	Status         string          `gorm:"column:status;size:32;index" json:"status"`
	ExternalStatus *int            `gorm:"column:externalStatus" json:"externalStatus"`
	DateChanged    *time.Time      `gorm:"column:dateChanged;index" json:"dateChanged"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Invoice) TableName() string { return "invoices_sync" }

var invoiceUpdateColumns = []string{
	"orderId", "invoiceNo", "customerId", "customerName", "dateInvoiced",
	"dateDue", "totalIncVat", "totalVat", "amountPaid", "balance",
	"currencySymbol", "status", "externalStatus",
}

// DaysOverdue is measured against now; zero when not yet due or undated.
func (inv *Invoice) DaysOverdue(now time.Time) int {
	if inv.DateDue == nil {
		return 0
	}
	days := int(now.Sub(*inv.DateDue).Hours() / 24)
	if days < 0 {
		return 0
	}
	return days
}
