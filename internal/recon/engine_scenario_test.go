package recon

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paywatch/payhook-backend/internal/portal"
	"github.com/paywatch/payhook-backend/internal/reference"
	"github.com/paywatch/payhook-backend/pkg/config"
	"github.com/paywatch/payhook-backend/pkg/db/models"
	"github.com/paywatch/payhook-backend/pkg/enums"
	pkgerrors "github.com/paywatch/payhook-backend/pkg/errors"
	"github.com/paywatch/payhook-backend/pkg/types"
)

type engineHarness struct {
	engine    *Engine
	ledger    *stubLedger
	banks     *stubBanks
	merchants *stubMerchants
	orders    *stubOrders
	guard     *stubGuard
	bank      *models.BankAccount
	merchant  uuid.UUID
}

func newEngineHarness(t *testing.T, recon config.ReconConfig) *engineHarness {
	t.Helper()

	h := &engineHarness{
		ledger:    newStubLedger(),
		banks:     newStubBanks(),
		merchants: newStubMerchants(),
		orders:    newStubOrders(),
		guard:     newStubGuard(),
		merchant:  uuid.New(),
	}
	h.bank = &models.BankAccount{
		ID:            uuid.New(),
		AccountNumber: "0011223344",
		MerchantID:    h.merchant,
		Active:        true,
	}
	h.banks.add(h.bank)

	engine, err := NewEngine(EngineParams{
		Ledger:     h.ledger,
		Banks:      h.banks,
		Merchants:  h.merchants,
		Orders:     h.orders,
		Extractor:  reference.New("DH", nil),
		Duplicates: h.guard,
		Recon:      recon,
		Resilience: config.ResilienceConfig{
			FailureThreshold:    100,
			RetryMaxAttempts:    1,
			RetryInitialBackoff: time.Millisecond,
			CallTimeout:         time.Second,
		},
	})
	require.NoError(t, err)
	h.engine = engine
	return h
}

func quickRecon() config.ReconConfig {
	return config.ReconConfig{
		OrderRetryFirstDelay:  time.Millisecond,
		OrderRetrySecondDelay: 2 * time.Millisecond,
	}
}

func creditTx(txID, description string, amount int64) portal.NormalizedTransaction {
	return portal.NormalizedTransaction{
		Portal:              enums.PortalSepay,
		PortalTransactionID: txID,
		AmountMinor:         amount,
		AccountNumber:       "0011223344",
		Description:         description,
		BalanceAfterMinor:   amount,
		OccurredAt:          time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestProcessHappyPath(t *testing.T) {
	h := newEngineHarness(t, quickRecon())
	h.orders.add(&models.Order{
		ID:               uuid.New(),
		Reference:        "DH12345678ABCDEFG",
		MerchantID:       h.merchant,
		Status:           enums.OrderStatusPending,
		AmountMinor:      50000,
		OutstandingMinor: 50000,
	})

	result := h.engine.Process(context.Background(), creditTx("1001", "CK DH12345678ABCDEFG", 50000), false)
	h.engine.Drain()

	assert.Equal(t, string(enums.ReconStatusProcessed), result.Status)
	assert.Equal(t, h.bank.ID.String(), result.BankID)
	assert.NotEmpty(t, result.OrderID)
	assert.Equal(t, int64(50000), h.banks.applied[h.bank.ID])
	assert.Equal(t, int64(50000), h.merchants.credited[h.merchant])

	entry := h.ledger.mustEntry(t, enums.PortalSepay, "1001")
	settled := h.ledger.settled[entry.ID]
	assert.Equal(t, enums.ReconStatusProcessed, settled.status)
	require.NotNil(t, settled.orderID)
}

func TestProcessDuplicateViaLedger(t *testing.T) {
	h := newEngineHarness(t, quickRecon())
	h.orders.add(&models.Order{
		Reference: "DH12345678ABCDEFG", MerchantID: h.merchant,
		Status: enums.OrderStatusPending, OutstandingMinor: 50000,
	})

	first := h.engine.Process(context.Background(), creditTx("1002", "CK DH12345678ABCDEFG", 50000), false)
	require.Equal(t, string(enums.ReconStatusProcessed), first.Status)

	second := h.engine.Process(context.Background(), creditTx("1002", "CK DH12345678ABCDEFG", 50000), false)
	h.engine.Drain()

	assert.Equal(t, string(enums.ReconStatusDuplicated), second.Status)
	// no second credit happened
	assert.Equal(t, int64(50000), h.banks.applied[h.bank.ID])
	assert.Equal(t, int64(50000), h.merchants.credited[h.merchant])
}

func TestProcessDuplicateViaGuardSkipsLedger(t *testing.T) {
	h := newEngineHarness(t, quickRecon())
	key := h.guard.DuplicateKey("sepay", "1003")
	_, err := h.guard.SetNX(context.Background(), key, "1", time.Hour)
	require.NoError(t, err)

	result := h.engine.Process(context.Background(), creditTx("1003", "whatever", 100), false)
	assert.Equal(t, string(enums.ReconStatusDuplicated), result.Status)
	assert.Empty(t, h.ledger.entries)
}

func TestProcessUnlinkedStillMovesBankBalance(t *testing.T) {
	h := newEngineHarness(t, quickRecon())

	result := h.engine.Process(context.Background(), creditTx("1004", "chuyen tien cho ban", 50000), false)
	h.engine.Drain()

	assert.Equal(t, string(enums.ReconStatusUnlinked), result.Status)
	assert.Empty(t, result.OrderID)
	require.NotNil(t, result.Amount)
	assert.Equal(t, int64(50000), *result.Amount)
	assert.Equal(t, int64(50000), h.banks.applied[h.bank.ID])

	entry := h.ledger.mustEntry(t, enums.PortalSepay, "1004")
	assert.Nil(t, entry.OrderID)
	assert.Equal(t, enums.ReconStatusUnlinked, h.ledger.settled[entry.ID].status)
}

func TestProcessUnknownBankAccountFails(t *testing.T) {
	h := newEngineHarness(t, quickRecon())

	tx := creditTx("1005", "CK DH12345678ABCDEFG", 1000)
	tx.AccountNumber = "9999"
	result := h.engine.Process(context.Background(), tx, false)

	assert.Equal(t, string(enums.ReconStatusFailed), result.Status)
	assert.Empty(t, h.ledger.entries)
}

func TestProcessFallbackBankAccount(t *testing.T) {
	cfg := quickRecon()
	cfg.FallbackBankAccount = "0011223344"
	h := newEngineHarness(t, cfg)
	h.orders.add(&models.Order{
		Reference: "DH12345678ABCDEFG", MerchantID: h.merchant,
		Status: enums.OrderStatusPending, OutstandingMinor: 1000,
	})

	tx := creditTx("1006", "CK DH12345678ABCDEFG", 1000)
	tx.AccountNumber = "9999"
	result := h.engine.Process(context.Background(), tx, false)

	assert.Equal(t, string(enums.ReconStatusProcessed), result.Status)
	assert.Equal(t, h.bank.ID.String(), result.BankID)
}

func TestProcessBankBalanceFailureWins(t *testing.T) {
	h := newEngineHarness(t, quickRecon())
	h.banks.applyErr = pkgerrors.New(pkgerrors.CodeDependency, "balance store down")
	h.orders.add(&models.Order{
		Reference: "DH12345678ABCDEFG", MerchantID: h.merchant,
		Status: enums.OrderStatusPending, OutstandingMinor: 1000,
	})

	result := h.engine.Process(context.Background(), creditTx("1007", "CK DH12345678ABCDEFG", 1000), false)
	h.engine.Drain()

	assert.Equal(t, string(enums.ReconStatusFailed), result.Status)
	entry := h.ledger.mustEntry(t, enums.PortalSepay, "1007")
	assert.Equal(t, enums.ReconStatusFailed, h.ledger.settled[entry.ID].status)
	assert.Contains(t, h.ledger.settled[entry.ID].notes, "bank failed")
}

func TestProcessOverpaymentBecomesAvailable(t *testing.T) {
	h := newEngineHarness(t, quickRecon())
	h.orders.add(&models.Order{
		ID:        uuid.New(),
		Reference: "DH12345678ABCDEFG", MerchantID: h.merchant,
		Status: enums.OrderStatusCompleted, OutstandingMinor: 0,
	})

	result := h.engine.Process(context.Background(), creditTx("1008", "CK DH12345678ABCDEFG", 20000), false)
	h.engine.Drain()

	assert.Equal(t, string(enums.ReconStatusAvailable), result.Status)
	assert.Equal(t, int64(20000), h.merchants.available[h.merchant])
	assert.Zero(t, h.merchants.credited[h.merchant])
	// bank balance still moved
	assert.Equal(t, int64(20000), h.banks.applied[h.bank.ID])
}

func TestProcessPartialOverpaymentBanksExcess(t *testing.T) {
	h := newEngineHarness(t, quickRecon())
	h.orders.add(&models.Order{
		ID:        uuid.New(),
		Reference: "DH12345678ABCDEFG", MerchantID: h.merchant,
		Status: enums.OrderStatusPending, OutstandingMinor: 30000,
	})

	result := h.engine.Process(context.Background(), creditTx("1009", "CK DH12345678ABCDEFG", 50000), false)
	h.engine.Drain()

	assert.Equal(t, string(enums.ReconStatusAvailable), result.Status)
	assert.Equal(t, int64(30000), h.merchants.credited[h.merchant])
	assert.Equal(t, int64(20000), h.merchants.available[h.merchant])
}

func TestProcessOrderAppearsDuringRetries(t *testing.T) {
	h := newEngineHarness(t, quickRecon())
	h.orders.add(&models.Order{
		Reference: "DH11111111ORD123A", MerchantID: h.merchant,
		Status: enums.OrderStatusPending, OutstandingMinor: 5000,
	})
	// first two payment attempts miss, the third finds the order
	h.orders.missingUntil["DH11111111ORD123A"] = 2

	result := h.engine.Process(context.Background(), creditTx("1010", "CK DH11111111ORD123A", 5000), false)
	assert.Equal(t, string(enums.ReconStatusProcessed), result.Status)
	assert.Empty(t, h.orders.retroCreated)
}

func TestProcessRetroactiveOrderMaterialized(t *testing.T) {
	cfg := quickRecon()
	cfg.RetroactiveOrders = true
	h := newEngineHarness(t, cfg)

	result := h.engine.Process(context.Background(), creditTx("1011", "CK DH22222222ORD456B", 7500), false)
	h.engine.Drain()

	assert.Equal(t, string(enums.ReconStatusProcessed), result.Status)
	assert.Equal(t, []string{"DH22222222ORD456B"}, h.orders.retroCreated)
	assert.Equal(t, int64(7500), h.merchants.credited[h.merchant])

	created := h.orders.orders["DH22222222ORD456B"]
	require.NotNil(t, created)
	assert.True(t, created.Retroactive)
	assert.Equal(t, h.merchant, created.MerchantID)
}

func TestProcessMissingOrderWithoutRetroactiveFails(t *testing.T) {
	h := newEngineHarness(t, quickRecon())

	result := h.engine.Process(context.Background(), creditTx("1012", "CK DH33333333NOPE999", 7500), false)
	h.engine.Drain()

	assert.Equal(t, string(enums.ReconStatusFailed), result.Status)
	entry := h.ledger.mustEntry(t, enums.PortalSepay, "1012")
	assert.Equal(t, enums.ReconStatusFailed, h.ledger.settled[entry.ID].status)
	// the bank side still settled; only the order attribution failed
	assert.Equal(t, int64(7500), h.banks.applied[h.bank.ID])
}

func TestProcessMerchantCreditFailureKeepsPaymentAcknowledged(t *testing.T) {
	h := newEngineHarness(t, quickRecon())
	h.orders.add(&models.Order{
		ID:               uuid.New(),
		Reference:        "DH12345678ABCDEFG",
		MerchantID:       h.merchant,
		Status:           enums.OrderStatusPending,
		AmountMinor:      50000,
		OutstandingMinor: 50000,
	})
	h.merchants.creditErr = pkgerrors.New(pkgerrors.CodeDependency, "merchant store down")

	result := h.engine.Process(context.Background(), creditTx("1013", "CK DH12345678ABCDEFG", 50000), false)
	h.engine.Drain()

	// the order consumed the payment, so the entry must acknowledge it even
	// though the merchant credit needs manual repair
	assert.Equal(t, string(enums.ReconStatusProcessed), result.Status)
	assert.Contains(t, result.Message, "merchant credit pending")
	assert.Zero(t, h.orders.orders["DH12345678ABCDEFG"].OutstandingMinor)

	entry := h.ledger.mustEntry(t, enums.PortalSepay, "1013")
	settled := h.ledger.settled[entry.ID]
	assert.Equal(t, enums.ReconStatusProcessed, settled.status)
	assert.Contains(t, settled.notes, "merchant credit failed")

	// a replay reports the duplicate against an entry that shows the payment
	replay := h.engine.Process(context.Background(), creditTx("1013", "CK DH12345678ABCDEFG", 50000), false)
	h.engine.Drain()
	assert.Equal(t, string(enums.ReconStatusDuplicated), replay.Status)
}

func TestProcessConcurrentDeliveriesReconcileOnce(t *testing.T) {
	h := newEngineHarness(t, quickRecon())
	h.orders.add(&models.Order{
		ID:               uuid.New(),
		Reference:        "DH12345678ABCDEFG",
		MerchantID:       h.merchant,
		Status:           enums.OrderStatusPending,
		AmountMinor:      50000,
		OutstandingMinor: 50000,
	})

	const deliveries = 8
	results := make([]types.TransactionResult, deliveries)
	var wg sync.WaitGroup
	wg.Add(deliveries)
	for i := 0; i < deliveries; i++ {
		go func(i int) {
			defer wg.Done()
			results[i] = h.engine.Process(context.Background(), creditTx("1014", "CK DH12345678ABCDEFG", 50000), false)
		}(i)
	}
	wg.Wait()
	h.engine.Drain()

	settled := 0
	for _, result := range results {
		switch result.Status {
		case string(enums.ReconStatusProcessed):
			settled++
		case string(enums.ReconStatusDuplicated):
		default:
			t.Fatalf("unexpected status %q", result.Status)
		}
	}
	assert.Equal(t, 1, settled)
	assert.Equal(t, int64(50000), h.banks.applied[h.bank.ID])
	assert.Equal(t, int64(50000), h.merchants.credited[h.merchant])
	assert.Len(t, h.ledger.entries, 1)
}

func TestProcessInvalidTransactionFailsFast(t *testing.T) {
	h := newEngineHarness(t, quickRecon())

	tx := creditTx("abc", "CK DH12345678ABCDEFG", 1000)
	result := h.engine.Process(context.Background(), tx, false)

	assert.Equal(t, string(enums.ReconStatusFailed), result.Status)
	assert.Empty(t, h.ledger.entries)
	assert.Zero(t, h.banks.applied[h.bank.ID])
}
