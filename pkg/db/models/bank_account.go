package models

import (
	"time"

	"github.com/google/uuid"
)

// BankAccount is a receiving bank account owned by the platform. Balances
// are minor currency units and may only be mutated through the optimistic
// concurrency path in internal/banks.
type BankAccount struct {
	ID                uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	AccountNumber     string    `gorm:"column:account_number;not null;uniqueIndex"`
	MerchantID        uuid.UUID `gorm:"column:merchant_id;type:uuid"`
	BankCode          string    `gorm:"column:bank_code;not null"`
	HolderName        string    `gorm:"column:holder_name"`
	CurrentBalance    int64     `gorm:"column:current_balance;not null;default:0"`
	AvailableBalance  int64     `gorm:"column:available_balance;not null;default:0"`
	RealBalance       int64     `gorm:"column:real_balance;not null;default:0"`
	Active            bool      `gorm:"column:active;not null;default:true"`
	CreatedAt         time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
