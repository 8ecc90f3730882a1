package repo

import (
	"context"

	"gorm.io/gorm"
)

// Base carries the gorm handle every reconciliation repository embeds. A
// repository rebuilds itself around a transaction handle in WithTx, so Base
// is copied by value on purpose.
type Base struct {
	db *gorm.DB
}

// NewBase wraps a gorm handle, either the pooled connection or an open
// transaction.
func NewBase(db *gorm.DB) Base {
	return Base{db: db}
}

// DB scopes the handle to the caller's context so statement deadlines follow
// the reconciliation phase timeouts.
func (b Base) DB(ctx context.Context) *gorm.DB {
	if ctx == nil {
		return b.db
	}
	return b.db.WithContext(ctx)
}
