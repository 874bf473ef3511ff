package models

import "time"

// Company mirrors the upstream accounting system's company record. Columns
// keep the upstream camelCase names so synced payloads map without renaming.
type Company struct {
	CompanyId      int        `gorm:"column:companyId;primaryKey" json:"companyId"`
	CompanyName    string     `gorm:"column:companyName;size:255" json:"companyName"`
	OrganizationNo string     `gorm:"column:organizationNo;size:64;index" json:"organizationNo"`
	CustomerNumber string     `gorm:"column:customerNumber;size:64" json:"customerNumber"`
	Email          string     `gorm:"column:email;size:255" json:"email"`
	Phone          string     `gorm:"column:phone;size:64" json:"phone"`
	IsCustomer     bool       `gorm:"column:isCustomer" json:"isCustomer"`
	IsSupplier     bool       `gorm:"column:isSupplier" json:"isSupplier"`
	DateChanged    *time.Time `gorm:"column:dateChanged;index" json:"dateChanged"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Company) TableName() string { return "companies_sync" }

var companyUpdateColumns = []string{
	"companyName", "organizationNo", "customerNumber", "email", "phone",
	"isCustomer", "isSupplier",
}
