package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/paywatch/payhook-backend/pkg/enums"
)

// Order is an internal deposit/withdrawal request awaiting payment
// confirmation. Reference is the token customers put in their transfer
// description (prefix + 8 digits + 7 alphanumerics).
type Order struct {
	ID               uuid.UUID         `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Reference        string            `gorm:"column:reference;not null;uniqueIndex"`
	MerchantID       uuid.UUID         `gorm:"column:merchant_id;type:uuid;not null"`
	Type             enums.OrderType   `gorm:"column:type;type:text;not null"`
	Status           enums.OrderStatus `gorm:"column:status;type:text;not null;default:'pending'"`
	AmountMinor      int64             `gorm:"column:amount_minor;not null"`
	OutstandingMinor int64             `gorm:"column:outstanding_minor;not null"`
	Retroactive      bool              `gorm:"column:retroactive;not null;default:false"`
	Notes            string            `gorm:"column:notes"`
	PaidAt           *time.Time        `gorm:"column:paid_at"`
	CreatedAt        time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}
