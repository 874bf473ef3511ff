package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Transaction is a ledger posting line. Amount is the signed value
// (debit − credit); debit and credit carry the raw sides.
type Transaction struct {
	TransactionId int             `gorm:"column:transactionId;primaryKey" json:"transactionId"`
	Date          *time.Time      `gorm:"column:date;type:date;index" json:"date"`
	AccountNo     int             `gorm:"column:accountNo;index" json:"accountNo"`
	Amount        decimal.Decimal `gorm:"column:amount;type:decimal(20,4);default:0" json:"amount"`
	Debit         decimal.Decimal `gorm:"column:debit;type:decimal(20,4);default:0" json:"debit"`
	Credit        decimal.Decimal `gorm:"column:credit;type:decimal(20,4);default:0" json:"credit"`
	Description   string          `gorm:"column:description;size:512" json:"description"`
	CustomerId    *int            `gorm:"column:customerId;index" json:"customerId"`
	VoucherNo     string          `gorm:"column:voucherNo;size:64" json:"voucherNo"`
	DateChanged   *time.Time      `gorm:"column:dateChanged;index" json:"dateChanged"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Transaction) TableName() string { return "transactions_sync" }

var transactionUpdateColumns = []string{
	"date", "accountNo", "amount", "debit", "credit", "description",
	"customerId", "voucherNo",
}
