package console

import (
	"errors"
	"time"

	"gorm.io/gorm"
)

// Tenant is one row in the central tenant directory. Schema names the MySQL
// schema the tenant's work orders live in.
type Tenant struct {
	ID          int       `gorm:"column:id;primaryKey;autoIncrement"`
	Code        string    `gorm:"column:code;type:varchar(64);not null;unique"`
	Name        string    `gorm:"column:name;type:varchar(255);not null"`
	Domain      string    `gorm:"column:domain;type:varchar(255);not null"`
	Schema      string    `gorm:"column:schema;type:varchar(64);not null"`
	Deactivated int8      `gorm:"column:deactivated;not null"`
	CreatedAt   time.Time `gorm:"column:createdAt;autoCreateTime"`
	UpdatedAt   time.Time `gorm:"column:updatedAt;autoUpdateTime"`
}

func GetTenants(db *gorm.DB) ([]Tenant, error) {
	var tenants []Tenant
	err := db.Find(&tenants).Error
	return tenants, err
}

func FindTenantByDomain(db *gorm.DB, domain string) (*Tenant, error) {
	var tenant Tenant
	err := db.Where(&Tenant{Domain: domain}).First(&tenant).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil // not found
	}
	return &tenant, err
}
