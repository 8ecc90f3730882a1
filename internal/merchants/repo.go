package merchants

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/paywatch/payhook-backend/internal/repo"
	"github.com/paywatch/payhook-backend/pkg/db/models"
)

// Repository manages persistence for merchant accounts.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, account *models.MerchantAccount) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.MerchantAccount, error)
	FindByCode(ctx context.Context, code string) (*models.MerchantAccount, error)
	// UpdateBalancesIf commits only when the stored balances still match
	// the values read at the start of the attempt.
	UpdateBalancesIf(ctx context.Context, id uuid.UUID, readCurrent, readAvailable, nextCurrent, nextAvailable int64) (bool, error)
}

type repository struct {
	repo.Base
}

// NewRepository returns a merchant account repository bound to the provided
// database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{Base: repo.NewBase(db)}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{Base: repo.NewBase(tx)}
}

func (r *repository) Create(ctx context.Context, account *models.MerchantAccount) error {
	return r.DB(ctx).Create(account).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.MerchantAccount, error) {
	var account models.MerchantAccount
	if err := r.DB(ctx).
		Where("id = ?", id).
		First(&account).Error; err != nil {
		return nil, err
	}
	return &account, nil
}

func (r *repository) FindByCode(ctx context.Context, code string) (*models.MerchantAccount, error) {
	var account models.MerchantAccount
	if err := r.DB(ctx).
		Where("code = ? AND active = ?", code, true).
		First(&account).Error; err != nil {
		return nil, err
	}
	return &account, nil
}

func (r *repository) UpdateBalancesIf(ctx context.Context, id uuid.UUID, readCurrent, readAvailable, nextCurrent, nextAvailable int64) (bool, error) {
	result := r.DB(ctx).
		Model(&models.MerchantAccount{}).
		Where("id = ? AND current_balance = ? AND available_balance = ?", id, readCurrent, readAvailable).
		Updates(map[string]any{
			"current_balance":   nextCurrent,
			"available_balance": nextAvailable,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}
