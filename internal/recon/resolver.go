package recon

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/paywatch/payhook-backend/internal/orders"
	"github.com/paywatch/payhook-backend/pkg/config"
	pkgerrors "github.com/paywatch/payhook-backend/pkg/errors"
	"github.com/paywatch/payhook-backend/pkg/logger"
)

// orderResolver absorbs the webhook-before-order race. Payments confirmed
// by the bank can reference an order whose creation request is still in
// flight; the resolver retries twice with short delays and, when enabled,
// materializes the order retroactively. The whole path is bounded: two
// retries plus at most one retroactive attempt.
type orderResolver struct {
	orders      orders.Service
	firstDelay  time.Duration
	secondDelay time.Duration
	retroactive bool
	logg        *logger.Logger
}

func newOrderResolver(svc orders.Service, cfg config.ReconConfig, logg *logger.Logger) *orderResolver {
	firstDelay := cfg.OrderRetryFirstDelay
	if firstDelay <= 0 {
		firstDelay = 150 * time.Millisecond
	}
	secondDelay := cfg.OrderRetrySecondDelay
	if secondDelay <= 0 {
		secondDelay = 350 * time.Millisecond
	}
	return &orderResolver{
		orders:      svc,
		firstDelay:  firstDelay,
		secondDelay: secondDelay,
		retroactive: cfg.RetroactiveOrders,
		logg:        logg,
	}
}

// Apply credits amountMinor against the referenced order, riding out the
// order-creation race. merchantID is the owner of the receiving bank
// account, used when the order has to be materialized.
func (r *orderResolver) Apply(ctx context.Context, reference string, amountMinor int64, merchantID uuid.UUID) (*orders.PaymentResult, error) {
	result, err := r.orders.ApplyPayment(ctx, reference, amountMinor)
	if !isOrderMissing(err) {
		return result, err
	}

	for _, delay := range []time.Duration{r.firstDelay, r.secondDelay} {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		result, err = r.orders.ApplyPayment(ctx, reference, amountMinor)
		if !isOrderMissing(err) {
			return result, err
		}
	}

	if !r.retroactive || merchantID == uuid.Nil {
		return nil, err
	}

	if r.logg != nil {
		r.logg.Warn(ctx, "order still missing after retries, materializing retroactively")
	}
	if _, createErr := r.orders.CreateRetroactive(ctx, orders.RetroactiveOrderInput{
		Reference:   reference,
		MerchantID:  merchantID,
		AmountMinor: amountMinor,
	}); createErr != nil && pkgerrors.CodeOf(createErr) != pkgerrors.CodeConflict {
		// a conflict means the racing order-creation request finally won;
		// the payment application below picks it up either way
		if r.logg != nil {
			r.logg.Error(ctx, "retroactive order creation failed", createErr)
		}
		return nil, createErr
	}
	return r.orders.ApplyPayment(ctx, reference, amountMinor)
}

func isOrderMissing(err error) bool {
	return err != nil && pkgerrors.CodeOf(err) == pkgerrors.CodeNotFound
}
