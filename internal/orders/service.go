package orders

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/paywatch/payhook-backend/pkg/db"
	"github.com/paywatch/payhook-backend/pkg/db/models"
	"github.com/paywatch/payhook-backend/pkg/enums"
	pkgerrors "github.com/paywatch/payhook-backend/pkg/errors"
)

// PaymentOutcome classifies what applying a bank credit to an order did.
type PaymentOutcome int

const (
	// PaymentApplied reduced the order's outstanding amount.
	PaymentApplied PaymentOutcome = iota
	// PaymentOverpaid means the order's outstanding amount was already
	// zero; the full amount is excess to be banked.
	PaymentOverpaid
	// PaymentRejected means the order cannot accept payment (canceled).
	PaymentRejected
)

// PaymentResult reports the order state after a payment application.
type PaymentResult struct {
	Outcome      PaymentOutcome
	Order        *models.Order
	AppliedMinor int64
	ExcessMinor  int64
}

// RetroactiveOrderInput materializes an order for a payment that arrived
// before the order-creation request.
type RetroactiveOrderInput struct {
	Reference   string
	MerchantID  uuid.UUID
	AmountMinor int64
}

// CreateOrderInput is a customer-initiated deposit or withdrawal request.
type CreateOrderInput struct {
	Reference   string
	MerchantID  uuid.UUID
	Type        enums.OrderType
	AmountMinor int64
}

// Service applies confirmed bank payments to orders.
type Service interface {
	ApplyPayment(ctx context.Context, reference string, amountMinor int64) (*PaymentResult, error)
	Create(ctx context.Context, input CreateOrderInput) (*models.Order, error)
	CreateRetroactive(ctx context.Context, input RetroactiveOrderInput) (*models.Order, error)
	FindByReference(ctx context.Context, reference string) (*models.Order, error)
}

// ServiceParams wires the order service dependencies.
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

// NewService validates dependencies and returns an order service.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "order repo required")
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

func (s *service) FindByReference(ctx context.Context, reference string) (*models.Order, error) {
	order, err := s.repo.FindByReference(ctx, reference)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "find order")
	}
	return order, nil
}

// ApplyPayment credits amountMinor against the referenced order. The
// outstanding amount floors at zero; anything beyond it is reported as
// excess, never rejected. Contended writers retry with fresh reads.
func (s *service) ApplyPayment(ctx context.Context, reference string, amountMinor int64) (*PaymentResult, error) {
	if amountMinor <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment amount must be positive")
	}

	for attempt := 0; attempt < s.retryAttempts; attempt++ {
		order, err := s.FindByReference(ctx, reference)
		if err != nil {
			return nil, err
		}

		if !order.Status.AcceptsPayment() {
			if order.OutstandingMinor == 0 && order.Status == enums.OrderStatusCompleted {
				return &PaymentResult{
					Outcome:     PaymentOverpaid,
					Order:       order,
					ExcessMinor: amountMinor,
				}, nil
			}
			return &PaymentResult{Outcome: PaymentRejected, Order: order}, nil
		}
		if order.OutstandingMinor == 0 {
			return &PaymentResult{
				Outcome:     PaymentOverpaid,
				Order:       order,
				ExcessMinor: amountMinor,
			}, nil
		}

		applied := amountMinor
		if applied > order.OutstandingMinor {
			applied = order.OutstandingMinor
		}
		nextOutstanding := order.OutstandingMinor - applied

		status := enums.OrderStatusPartial
		var paidAt *time.Time
		if nextOutstanding == 0 {
			status = enums.OrderStatusCompleted
			now := time.Now().UTC()
			paidAt = &now
		}

		ok, err := s.repo.ApplyPaymentIf(ctx, order.ID, order.OutstandingMinor, nextOutstanding, status, paidAt)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "commit order payment")
		}
		if ok {
			order.OutstandingMinor = nextOutstanding
			order.Status = status
			order.PaidAt = paidAt
			return &PaymentResult{
				Outcome:      PaymentApplied,
				Order:        order,
				AppliedMinor: applied,
				ExcessMinor:  amountMinor - applied,
			}, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.retryDelay + time.Duration(rand.Int63n(int64(s.retryDelay)))):
		}
	}
	return nil, pkgerrors.New(pkgerrors.CodeConcurrency, "order payment contended, giving up")
}

// Create registers a new order awaiting payment.
func (s *service) Create(ctx context.Context, input CreateOrderInput) (*models.Order, error) {
	if input.Reference == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order reference required")
	}
	if input.MerchantID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "merchant id required")
	}
	if !input.Type.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid order type")
	}
	if input.AmountMinor <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order amount must be positive")
	}

	order := &models.Order{
		ID:               uuid.New(),
		Reference:        input.Reference,
		MerchantID:       input.MerchantID,
		Type:             input.Type,
		Status:           enums.OrderStatusPending,
		AmountMinor:      input.AmountMinor,
		OutstandingMinor: input.AmountMinor,
	}
	if err := s.repo.Create(ctx, order); err != nil {
		if db.IsUniqueViolation(err, "") {
			return nil, pkgerrors.Wrap(pkgerrors.CodeConflict, err, "order reference already exists")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create order")
	}
	return order, nil
}

// CreateRetroactive builds the order a webhook paid for before its creation
// request landed. It starts pending with the full amount outstanding so the
// caller's follow-up payment application settles it like any other order.
func (s *service) CreateRetroactive(ctx context.Context, input RetroactiveOrderInput) (*models.Order, error) {
	if input.Reference == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order reference required")
	}
	if input.MerchantID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "merchant id required")
	}
	if input.AmountMinor <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order amount must be positive")
	}

	order := &models.Order{
		ID:               uuid.New(),
		Reference:        input.Reference,
		MerchantID:       input.MerchantID,
		Type:             enums.OrderTypeDeposit,
		Status:           enums.OrderStatusPending,
		AmountMinor:      input.AmountMinor,
		OutstandingMinor: input.AmountMinor,
		Retroactive:      true,
		Notes:            "materialized from bank transaction",
	}
	if err := s.repo.Create(ctx, order); err != nil {
		if db.IsUniqueViolation(err, "") {
			return nil, pkgerrors.Wrap(pkgerrors.CodeConflict, err, "order reference already exists")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create retroactive order")
	}
	return order, nil
}
