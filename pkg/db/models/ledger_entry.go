package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/paywatch/payhook-backend/pkg/enums"
)

// LedgerEntry is the durable record of one reconciliation attempt for a bank
// transaction. (portal, portal_transaction_id) is the natural idempotency
// key; the unique index makes the append-once guarantee hold across
// concurrent writers.
type LedgerEntry struct {
	ID                  uuid.UUID         `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Portal              enums.Portal      `gorm:"column:portal;type:text;not null;uniqueIndex:idx_ledger_portal_tx"`
	PortalTransactionID string            `gorm:"column:portal_transaction_id;not null;uniqueIndex:idx_ledger_portal_tx"`
	OrderID             *uuid.UUID        `gorm:"column:order_id;type:uuid"`
	BankID              uuid.UUID         `gorm:"column:bank_id;type:uuid;not null"`
	AmountMinor         int64             `gorm:"column:amount_minor;not null"`
	Direction           enums.Direction   `gorm:"column:direction;type:text;not null"`
	Status              enums.ReconStatus `gorm:"column:status;type:text;not null;default:'pending'"`
	Description         string            `gorm:"column:description"`
	BalanceAfterMinor   int64             `gorm:"column:balance_after_minor"`
	Notes               string            `gorm:"column:notes"`
	OccurredAt          time.Time         `gorm:"column:occurred_at"`
	ProcessedAt         *time.Time        `gorm:"column:processed_at"`
	CreatedAt           time.Time         `gorm:"column:created_at;autoCreateTime"`
}
