package models

import "time"

// Person is an upstream contact person, usually attached to a company.
type Person struct {
	PersonId    int        `gorm:"column:personId;primaryKey" json:"personId"`
	CompanyId   *int       `gorm:"column:companyId;index" json:"companyId"`
	FirstName   string     `gorm:"column:firstName;size:128" json:"firstName"`
	LastName    string     `gorm:"column:lastName;size:128" json:"lastName"`
	Email       string     `gorm:"column:email;size:255" json:"email"`
	Phone       string     `gorm:"column:phone;size:64" json:"phone"`
	Role        string     `gorm:"column:role;size:128" json:"role"`
	DateChanged *time.Time `gorm:"column:dateChanged;index" json:"dateChanged"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Person) TableName() string { return "persons_sync" }

var personUpdateColumns = []string{
	"companyId", "firstName", "lastName", "email", "phone", "role",
}
