package merchants

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/paywatch/payhook-backend/pkg/db/models"
	pkgerrors "github.com/paywatch/payhook-backend/pkg/errors"
)

// Service mutates merchant balances with the same read-verify-write
// discipline the bank accounts use.
type Service interface {
	Find(ctx context.Context, id uuid.UUID) (*models.MerchantAccount, error)
	// Credit adds the amount to both current and available balance.
	Credit(ctx context.Context, id uuid.UUID, amountMinor int64) (*models.MerchantAccount, error)
	// CreditAvailable adds the amount to the available balance only, used
	// when an overpayment is banked for future redemption.
	CreditAvailable(ctx context.Context, id uuid.UUID, amountMinor int64) (*models.MerchantAccount, error)
}

// ServiceParams wires the merchant service dependencies.
type ServiceParams struct {
	Repo          Repository
	RetryAttempts int
	RetryDelay    time.Duration
}

type service struct {
	repo          Repository
	retryAttempts int
	retryDelay    time.Duration
}

// NewService validates dependencies and returns a merchant service.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "merchant repo required")
	}
	if params.RetryAttempts <= 0 {
		params.RetryAttempts = 5
	}
	if params.RetryDelay <= 0 {
		params.RetryDelay = 25 * time.Millisecond
	}
	return &service{
		repo:          params.Repo,
		retryAttempts: params.RetryAttempts,
		retryDelay:    params.RetryDelay,
	}, nil
}

func (s *service) Find(ctx context.Context, id uuid.UUID) (*models.MerchantAccount, error) {
	account, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "merchant account not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "find merchant account")
	}
	return account, nil
}

func (s *service) Credit(ctx context.Context, id uuid.UUID, amountMinor int64) (*models.MerchantAccount, error) {
	return s.mutate(ctx, id, amountMinor, amountMinor)
}

func (s *service) CreditAvailable(ctx context.Context, id uuid.UUID, amountMinor int64) (*models.MerchantAccount, error) {
	return s.mutate(ctx, id, 0, amountMinor)
}

func (s *service) mutate(ctx context.Context, id uuid.UUID, currentDelta, availableDelta int64) (*models.MerchantAccount, error) {
	for attempt := 0; attempt < s.retryAttempts; attempt++ {
		account, err := s.repo.FindByID(ctx, id)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, pkgerrors.New(pkgerrors.CodeNotFound, "merchant account not found")
			}
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read merchant balance")
		}

		nextCurrent := account.CurrentBalance + currentDelta
		nextAvailable := account.AvailableBalance + availableDelta

		applied, err := s.repo.UpdateBalancesIf(ctx, id,
			account.CurrentBalance, account.AvailableBalance,
			nextCurrent, nextAvailable)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "commit merchant balance")
		}
		if applied {
			account.CurrentBalance = nextCurrent
			account.AvailableBalance = nextAvailable
			return account, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.retryDelay + time.Duration(rand.Int63n(int64(s.retryDelay)))):
		}
	}
	return nil, pkgerrors.New(pkgerrors.CodeConcurrency, "merchant balance update contended, giving up")
}
