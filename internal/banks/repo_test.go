package banks

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/paywatch/payhook-backend/pkg/db/models"
)

func setupBanksTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)

	schema := `
CREATE TABLE IF NOT EXISTS bank_accounts (
  id TEXT PRIMARY KEY,
  account_number TEXT NOT NULL UNIQUE,
  merchant_id TEXT,
  bank_code TEXT NOT NULL DEFAULT '',
  holder_name TEXT,
  current_balance INTEGER NOT NULL DEFAULT 0,
  available_balance INTEGER NOT NULL DEFAULT 0,
  real_balance INTEGER NOT NULL DEFAULT 0,
  active INTEGER NOT NULL DEFAULT 1,
  created_at DATETIME,
  updated_at DATETIME
);`
	require.NoError(t, db.Exec(schema).Error)
	return db
}

func seedBankAccount(t *testing.T, db *gorm.DB, accountNumber string, balance int64) *models.BankAccount {
	t.Helper()
	account := &models.BankAccount{
		ID:               uuid.New(),
		AccountNumber:    accountNumber,
		BankCode:         "VCB",
		CurrentBalance:   balance,
		AvailableBalance: balance,
		RealBalance:      balance,
		Active:           true,
	}
	require.NoError(t, db.Create(account).Error)
	return account
}

func TestRepositoryFindByAccountNumber(t *testing.T) {
	db := setupBanksTestDB(t)
	repo := NewRepository(db)
	seeded := seedBankAccount(t, db, "0011223344", 100000)

	found, err := repo.FindByAccountNumber(context.Background(), "0011223344")
	require.NoError(t, err)
	assert.Equal(t, seeded.ID, found.ID)
	assert.Equal(t, int64(100000), found.CurrentBalance)

	_, err = repo.FindByAccountNumber(context.Background(), "missing")
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestRepositoryFindByAccountNumberSkipsInactive(t *testing.T) {
	db := setupBanksTestDB(t)
	repo := NewRepository(db)
	account := seedBankAccount(t, db, "999", 0)
	require.NoError(t, db.Model(account).Update("active", false).Error)

	_, err := repo.FindByAccountNumber(context.Background(), "999")
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestRepositoryUpdateBalancesIf(t *testing.T) {
	db := setupBanksTestDB(t)
	repo := NewRepository(db)
	account := seedBankAccount(t, db, "0011", 50000)

	read := BalanceSnapshot{CurrentBalance: 50000, AvailableBalance: 50000, RealBalance: 50000}
	next := BalanceSnapshot{CurrentBalance: 80000, AvailableBalance: 80000, RealBalance: 81000}

	applied, err := repo.UpdateBalancesIf(context.Background(), account.ID, read, next)
	require.NoError(t, err)
	assert.True(t, applied)

	// the snapshot is now stale, the same guard must refuse a second write
	applied, err = repo.UpdateBalancesIf(context.Background(), account.ID, read, next)
	require.NoError(t, err)
	assert.False(t, applied)

	reloaded, err := repo.FindByID(context.Background(), account.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(80000), reloaded.CurrentBalance)
	assert.Equal(t, int64(81000), reloaded.RealBalance)
}
