package models

import "time"

type Account struct {
	AccountNo   int        `gorm:"column:accountNo;primaryKey" json:"accountNo"`
	Name        string     `gorm:"column:name;size:255" json:"name"`
	AccountType string     `gorm:"column:accountType;size:64;index" json:"accountType"`
	IsActive    bool       `gorm:"column:isActive;default:true" json:"isActive"`
	DateChanged *time.Time `gorm:"column:dateChanged;index" json:"dateChanged"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Account) TableName() string { return "accounts_sync" }

var accountUpdateColumns = []string{"name", "accountType", "isActive"}
