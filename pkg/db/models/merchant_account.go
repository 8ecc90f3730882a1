package models

import (
	"time"

	"github.com/google/uuid"
)

// MerchantAccount holds a merchant's spendable balances in minor currency
// units. Mutations follow the same read-verify-write discipline as bank
// accounts.
type MerchantAccount struct {
	ID               uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Code             string    `gorm:"column:code;not null;uniqueIndex"`
	Name             string    `gorm:"column:name"`
	CurrentBalance   int64     `gorm:"column:current_balance;not null;default:0"`
	AvailableBalance int64     `gorm:"column:available_balance;not null;default:0"`
	Active           bool      `gorm:"column:active;not null;default:true"`
	CreatedAt        time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
