package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Product struct {
	ProductId   int             `gorm:"column:productId;primaryKey" json:"productId"`
	ProductNo   string          `gorm:"column:productNo;size:64;index" json:"productNo"`
	Name        string          `gorm:"column:name;size:255" json:"name"`
	Description string          `gorm:"column:description;type:text" json:"description"`
	UnitPrice   decimal.Decimal `gorm:"column:unitPrice;type:decimal(20,4);default:0" json:"unitPrice"`
	VatRate     decimal.Decimal `gorm:"column:vatRate;type:decimal(10,4);default:0" json:"vatRate"`
	IsActive    bool            `gorm:"column:isActive;default:true" json:"isActive"`
	DateChanged *time.Time      `gorm:"column:dateChanged;index" json:"dateChanged"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Product) TableName() string { return "products_sync" }

var productUpdateColumns = []string{
	"productNo", "name", "description", "unitPrice", "vatRate", "isActive",
}
