package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/paywatch/payhook-backend/internal/repo"
	"github.com/paywatch/payhook-backend/pkg/db/models"
	"github.com/paywatch/payhook-backend/pkg/enums"
	"github.com/paywatch/payhook-backend/pkg/pagination"
)

// Repository manages persistence for ledger entries.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, entry *models.LedgerEntry) error
	FindByPortalTransaction(ctx context.Context, portal enums.Portal, portalTransactionID string) (*models.LedgerEntry, error)
	UpdateOutcome(ctx context.Context, id uuid.UUID, status enums.ReconStatus, orderID *uuid.UUID, notes string, processedAt time.Time) error
	ListByOrderID(ctx context.Context, orderID uuid.UUID) ([]models.LedgerEntry, error)
	// ListRecent returns entries newest first, starting after the cursor
	// when one is provided. Callers pass limit+1 to detect a next page.
	ListRecent(ctx context.Context, cursor *pagination.Cursor, limit int) ([]models.LedgerEntry, error)
}

type repository struct {
	repo.Base
}

// NewRepository returns a ledger repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{Base: repo.NewBase(db)}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{Base: repo.NewBase(tx)}
}

func (r *repository) Create(ctx context.Context, entry *models.LedgerEntry) error {
	return r.DB(ctx).Create(entry).Error
}

func (r *repository) FindByPortalTransaction(ctx context.Context, portal enums.Portal, portalTransactionID string) (*models.LedgerEntry, error) {
	var entry models.LedgerEntry
	if err := r.DB(ctx).
		Where("portal = ? AND portal_transaction_id = ?", portal, portalTransactionID).
		First(&entry).Error; err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *repository) UpdateOutcome(ctx context.Context, id uuid.UUID, status enums.ReconStatus, orderID *uuid.UUID, notes string, processedAt time.Time) error {
	updates := map[string]any{
		"status":       status,
		"notes":        notes,
		"processed_at": processedAt,
	}
	if orderID != nil {
		updates["order_id"] = *orderID
	}
	return r.DB(ctx).
		Model(&models.LedgerEntry{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *repository) ListByOrderID(ctx context.Context, orderID uuid.UUID) ([]models.LedgerEntry, error) {
	var entries []models.LedgerEntry
	if err := r.DB(ctx).
		Where("order_id = ?", orderID).
		Order("created_at ASC").
		Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *repository) ListRecent(ctx context.Context, cursor *pagination.Cursor, limit int) ([]models.LedgerEntry, error) {
	query := r.DB(ctx).
		Order("created_at DESC, id DESC").
		Limit(limit)
	if cursor != nil {
		query = query.Where("(created_at, id) < (?, ?)", cursor.CreatedAt, cursor.ID)
	}
	var entries []models.LedgerEntry
	if err := query.Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}
