package recon

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paywatch/payhook-backend/internal/orders"
	"github.com/paywatch/payhook-backend/pkg/config"
	"github.com/paywatch/payhook-backend/pkg/db/models"
	"github.com/paywatch/payhook-backend/pkg/enums"
	pkgerrors "github.com/paywatch/payhook-backend/pkg/errors"
)

func newTestResolver(svc orders.Service, retroactive bool) *orderResolver {
	return newOrderResolver(svc, config.ReconConfig{
		OrderRetryFirstDelay:  time.Millisecond,
		OrderRetrySecondDelay: 2 * time.Millisecond,
		RetroactiveOrders:     retroactive,
	}, nil)
}

func TestResolverAppliesImmediately(t *testing.T) {
	stub := newStubOrders()
	stub.add(&models.Order{
		Reference: "DH12345678ABCDEFG",
		Status:    enums.OrderStatusPending, OutstandingMinor: 1000,
	})

	result, err := newTestResolver(stub, false).Apply(context.Background(), "DH12345678ABCDEFG", 1000, uuid.Nil)
	require.NoError(t, err)
	assert.Equal(t, orders.PaymentApplied, result.Outcome)
	assert.Equal(t, 1, stub.lookups["DH12345678ABCDEFG"])
}

func TestResolverRetriesThroughRace(t *testing.T) {
	stub := newStubOrders()
	stub.add(&models.Order{
		Reference: "DH12345678ABCDEFG",
		Status:    enums.OrderStatusPending, OutstandingMinor: 1000,
	})
	stub.missingUntil["DH12345678ABCDEFG"] = 2

	result, err := newTestResolver(stub, false).Apply(context.Background(), "DH12345678ABCDEFG", 1000, uuid.Nil)
	require.NoError(t, err)
	assert.Equal(t, orders.PaymentApplied, result.Outcome)
	// initial attempt plus two retries
	assert.Equal(t, 3, stub.lookups["DH12345678ABCDEFG"])
}

func TestResolverRetriesAreBounded(t *testing.T) {
	stub := newStubOrders()

	_, err := newTestResolver(stub, false).Apply(context.Background(), "DH12345678ABCDEFG", 1000, uuid.Nil)
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeNotFound, pkgerrors.CodeOf(err))
	assert.Equal(t, 3, stub.lookups["DH12345678ABCDEFG"])
	assert.Empty(t, stub.retroCreated)
}

func TestResolverMaterializesRetroactively(t *testing.T) {
	stub := newStubOrders()
	merchant := uuid.New()

	result, err := newTestResolver(stub, true).Apply(context.Background(), "DH12345678ABCDEFG", 1000, merchant)
	require.NoError(t, err)
	assert.Equal(t, orders.PaymentApplied, result.Outcome)
	assert.Equal(t, int64(1000), result.AppliedMinor)
	assert.Equal(t, []string{"DH12345678ABCDEFG"}, stub.retroCreated)
	assert.Equal(t, merchant, stub.orders["DH12345678ABCDEFG"].MerchantID)
}

func TestResolverSkipsRetroactiveWithoutMerchant(t *testing.T) {
	stub := newStubOrders()

	_, err := newTestResolver(stub, true).Apply(context.Background(), "DH12345678ABCDEFG", 1000, uuid.Nil)
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeNotFound, pkgerrors.CodeOf(err))
	assert.Empty(t, stub.retroCreated)
}

func TestResolverStopsOnCanceledContext(t *testing.T) {
	stub := newStubOrders()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestResolver(stub, false).Apply(ctx, "DH12345678ABCDEFG", 1000, uuid.Nil)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, stub.lookups["DH12345678ABCDEFG"])
}
