package orders

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/paywatch/payhook-backend/internal/repo"
	"github.com/paywatch/payhook-backend/pkg/db/models"
	"github.com/paywatch/payhook-backend/pkg/enums"
)

// Repository manages persistence for orders.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, order *models.Order) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	FindByReference(ctx context.Context, reference string) (*models.Order, error)
	// ApplyPaymentIf reduces the outstanding amount only when it still
	// equals the value read at the start of the attempt.
	ApplyPaymentIf(ctx context.Context, id uuid.UUID, readOutstanding, nextOutstanding int64, status enums.OrderStatus, paidAt *time.Time) (bool, error)
}

type repository struct {
	repo.Base
}

// NewRepository returns an order repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{Base: repo.NewBase(db)}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{Base: repo.NewBase(tx)}
}

func (r *repository) Create(ctx context.Context, order *models.Order) error {
	return r.DB(ctx).Create(order).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	if err := r.DB(ctx).
		Where("id = ?", id).
		First(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) FindByReference(ctx context.Context, reference string) (*models.Order, error) {
	var order models.Order
	if err := r.DB(ctx).
		Where("reference = ?", reference).
		First(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) ApplyPaymentIf(ctx context.Context, id uuid.UUID, readOutstanding, nextOutstanding int64, status enums.OrderStatus, paidAt *time.Time) (bool, error) {
	updates := map[string]any{
		"outstanding_minor": nextOutstanding,
		"status":            status,
	}
	if paidAt != nil {
		updates["paid_at"] = paidAt
	}
	result := r.DB(ctx).
		Model(&models.Order{}).
		Where("id = ? AND outstanding_minor = ?", id, readOutstanding).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}
