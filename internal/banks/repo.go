package banks

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/paywatch/payhook-backend/internal/repo"
	"github.com/paywatch/payhook-backend/pkg/db/models"
)

// Repository manages persistence for bank accounts.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, account *models.BankAccount) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.BankAccount, error)
	FindByAccountNumber(ctx context.Context, accountNumber string) (*models.BankAccount, error)
	// UpdateBalancesIf commits the new balances only when the stored
	// balances still equal the values read at the start of the attempt.
	// Returns false when another writer interleaved.
	UpdateBalancesIf(ctx context.Context, id uuid.UUID, read BalanceSnapshot, next BalanceSnapshot) (bool, error)
}

// BalanceSnapshot is one consistent read of an account's balance columns.
type BalanceSnapshot struct {
	CurrentBalance   int64
	AvailableBalance int64
	RealBalance      int64
}

type repository struct {
	repo.Base
}

// NewRepository returns a bank account repository bound to the provided
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

func (r *repository) Create(ctx context.Context, account *models.BankAccount) error {
	return r.DB(ctx).Create(account).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.BankAccount, error) {
	var account models.BankAccount
	if err := r.DB(ctx).
		Where("id = ?", id).
		First(&account).Error; err != nil {
		return nil, err
	}
	return &account, nil
}

func (r *repository) FindByAccountNumber(ctx context.Context, accountNumber string) (*models.BankAccount, error) {
	var account models.BankAccount
	if err := r.DB(ctx).
		Where("account_number = ? AND active = ?", accountNumber, true).
		First(&account).Error; err != nil {
		return nil, err
	}
	return &account, nil
}

func (r *repository) UpdateBalancesIf(ctx context.Context, id uuid.UUID, read BalanceSnapshot, next BalanceSnapshot) (bool, error) {
	result := r.DB(ctx).
		Model(&models.BankAccount{}).
		Where("id = ? AND current_balance = ? AND available_balance = ? AND real_balance = ?",
			id, read.CurrentBalance, read.AvailableBalance, read.RealBalance).
		Updates(map[string]any{
			"current_balance":   next.CurrentBalance,
			"available_balance": next.AvailableBalance,
			"real_balance":      next.RealBalance,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}
