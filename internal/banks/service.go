package banks

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/paywatch/payhook-backend/internal/cache"
	"github.com/paywatch/payhook-backend/pkg/db/models"
	pkgerrors "github.com/paywatch/payhook-backend/pkg/errors"
)

// Service exposes bank account resolution and the optimistic-concurrency
// balance mutation the reconciliation engine depends on.
type Service interface {
	Resolve(ctx context.Context, accountNumber string) (*models.BankAccount, error)
	// ApplyTransaction adds the signed amount to the account's current and
	// available balances and records the portal-reported running balance.
	ApplyTransaction(ctx context.Context, id uuid.UUID, amountMinor int64, reportedBalance int64) (*models.BankAccount, error)
}

// ServiceParams wires the bank service dependencies.
type ServiceParams struct {
	Repo          Repository
	Cache         *cache.Store[models.BankAccount]
	RetryAttempts int
	RetryDelay    time.Duration
}

type service struct {
	repo          Repository
	cache         *cache.Store[models.BankAccount]
	retryAttempts int
	retryDelay    time.Duration
}

// NewService validates dependencies and returns a bank service.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "bank repo required")
	}
	if params.RetryAttempts <= 0 {
		params.RetryAttempts = 5
	}
	if params.RetryDelay <= 0 {
		params.RetryDelay = 25 * time.Millisecond
	}
	return &service{
		repo:          params.Repo,
		cache:         params.Cache,
		retryAttempts: params.RetryAttempts,
		retryDelay:    params.RetryDelay,
	}, nil
}

// Resolve looks up an account by number, cache first, store on miss. The
// store stays the source of truth; a cold or disabled cache only costs a
// round-trip.
func (s *service) Resolve(ctx context.Context, accountNumber string) (*models.BankAccount, error) {
	if accountNumber == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "account number required")
	}
	if s.cache != nil {
		if cached, ok := s.cache.Get(accountNumber); ok {
			account := cached
			return &account, nil
		}
	}

	account, err := s.repo.FindByAccountNumber(ctx, accountNumber)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "bank account not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "resolve bank account")
	}
	if s.cache != nil {
		s.cache.Set(accountNumber, *account)
	}
	return account, nil
}

// ApplyTransaction re-reads before every commit attempt and only writes when
// the balances are unchanged since the read. A stale absolute value is never
// re-applied; each retry recomputes from fresh values.
func (s *service) ApplyTransaction(ctx context.Context, id uuid.UUID, amountMinor int64, reportedBalance int64) (*models.BankAccount, error) {
	for attempt := 0; attempt < s.retryAttempts; attempt++ {
		account, err := s.repo.FindByID(ctx, id)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, pkgerrors.New(pkgerrors.CodeNotFound, "bank account not found")
			}
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read bank balance")
		}

		read := BalanceSnapshot{
			CurrentBalance:   account.CurrentBalance,
			AvailableBalance: account.AvailableBalance,
			RealBalance:      account.RealBalance,
		}
		next := BalanceSnapshot{
			CurrentBalance:   account.CurrentBalance + amountMinor,
			AvailableBalance: account.AvailableBalance + amountMinor,
			RealBalance:      reportedBalance,
		}

		applied, err := s.repo.UpdateBalancesIf(ctx, id, read, next)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "commit bank balance")
		}
		if applied {
			account.CurrentBalance = next.CurrentBalance
			account.AvailableBalance = next.AvailableBalance
			account.RealBalance = next.RealBalance
			if s.cache != nil {
				s.cache.Delete(account.AccountNumber)
			}
			return account, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(conflictDelay(s.retryDelay)):
		}
	}
	return nil, pkgerrors.New(pkgerrors.CodeConcurrency, "bank balance update contended, giving up")
}

// conflictDelay randomizes the pause between conflicting writers so they do
// not collide again in lockstep.
func conflictDelay(base time.Duration) time.Duration {
	return base + time.Duration(rand.Int63n(int64(base)))
}
