package recon

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	ledgerpkg "github.com/paywatch/payhook-backend/internal/ledger"
	"github.com/paywatch/payhook-backend/internal/orders"
	"github.com/paywatch/payhook-backend/pkg/db/models"
	"github.com/paywatch/payhook-backend/pkg/enums"
	pkgerrors "github.com/paywatch/payhook-backend/pkg/errors"
	"github.com/paywatch/payhook-backend/pkg/pagination"
)

// --- stubs -----------------------------------------------------------------

type settledOutcome struct {
	status  enums.ReconStatus
	orderID *uuid.UUID
	notes   string
}

type stubLedger struct {
	mu        sync.Mutex
	entries   map[string]*models.LedgerEntry
	settled   map[uuid.UUID]settledOutcome
	recordErr error
}

func newStubLedger() *stubLedger {
	return &stubLedger{
		entries: make(map[string]*models.LedgerEntry),
		settled: make(map[uuid.UUID]settledOutcome),
	}
}

func ledgerKey(p enums.Portal, txID string) string {
	return string(p) + ":" + txID
}

func (s *stubLedger) Record(ctx context.Context, input ledgerpkg.RecordEntryInput) (*models.LedgerEntry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.recordErr != nil {
		return nil, false, s.recordErr
	}
	key := ledgerKey(input.Portal, input.PortalTransactionID)
	if existing, ok := s.entries[key]; ok {
		return existing, true, nil
	}
	entry := &models.LedgerEntry{
		ID:                  uuid.New(),
		Portal:              input.Portal,
		PortalTransactionID: input.PortalTransactionID,
		BankID:              input.BankID,
		AmountMinor:         input.AmountMinor,
		Direction:           enums.DirectionForAmount(input.AmountMinor),
		Status:              enums.ReconStatusPending,
		Description:         input.Description,
		BalanceAfterMinor:   input.BalanceAfterMinor,
		OccurredAt:          input.OccurredAt,
	}
	s.entries[key] = entry
	return entry, false, nil
}

func (s *stubLedger) Exists(ctx context.Context, p enums.Portal, portalTransactionID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[ledgerKey(p, portalTransactionID)]
	return ok, nil
}

func (s *stubLedger) SettleOutcome(ctx context.Context, id uuid.UUID, status enums.ReconStatus, orderID *uuid.UUID, notes string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settled[id] = settledOutcome{status: status, orderID: orderID, notes: notes}
	return nil
}

func (s *stubLedger) ListRecent(ctx context.Context, params pagination.Params) ([]models.LedgerEntry, string, error) {
	return nil, "", nil
}

func (s *stubLedger) mustEntry(t *testing.T, p enums.Portal, txID string) *models.LedgerEntry {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[ledgerKey(p, txID)]
	require.True(t, ok)
	return entry
}

type stubBanks struct {
	mu       sync.Mutex
	accounts map[string]*models.BankAccount
	applyErr error
	applied  map[uuid.UUID]int64
}

func newStubBanks() *stubBanks {
	return &stubBanks{
		accounts: make(map[string]*models.BankAccount),
		applied:  make(map[uuid.UUID]int64),
	}
}

func (s *stubBanks) add(account *models.BankAccount) {
	s.accounts[account.AccountNumber] = account
}

func (s *stubBanks) Resolve(ctx context.Context, accountNumber string) (*models.BankAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	account, ok := s.accounts[accountNumber]
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "bank account not found")
	}
	copied := *account
	return &copied, nil
}

func (s *stubBanks) ApplyTransaction(ctx context.Context, id uuid.UUID, amountMinor int64, reportedBalance int64) (*models.BankAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.applyErr != nil {
		return nil, s.applyErr
	}
	s.applied[id] += amountMinor
	for _, account := range s.accounts {
		if account.ID == id {
			account.CurrentBalance += amountMinor
			account.AvailableBalance += amountMinor
			account.RealBalance = reportedBalance
			copied := *account
			return &copied, nil
		}
	}
	return nil, pkgerrors.New(pkgerrors.CodeNotFound, "bank account not found")
}

type stubMerchants struct {
	mu        sync.Mutex
	credited  map[uuid.UUID]int64
	available map[uuid.UUID]int64
	creditErr error
}

func newStubMerchants() *stubMerchants {
	return &stubMerchants{
		credited:  make(map[uuid.UUID]int64),
		available: make(map[uuid.UUID]int64),
	}
}

func (s *stubMerchants) Find(ctx context.Context, id uuid.UUID) (*models.MerchantAccount, error) {
	return &models.MerchantAccount{ID: id}, nil
}

func (s *stubMerchants) Credit(ctx context.Context, id uuid.UUID, amountMinor int64) (*models.MerchantAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.creditErr != nil {
		return nil, s.creditErr
	}
	s.credited[id] += amountMinor
	return &models.MerchantAccount{ID: id}, nil
}

func (s *stubMerchants) CreditAvailable(ctx context.Context, id uuid.UUID, amountMinor int64) (*models.MerchantAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.creditErr != nil {
		return nil, s.creditErr
	}
	s.available[id] += amountMinor
	return &models.MerchantAccount{ID: id}, nil
}

// stubOrders keeps a miniature order book and an optional delayed
// appearance to simulate the webhook-before-order race.
type stubOrders struct {
	mu           sync.Mutex
	orders       map[string]*models.Order
	missingUntil map[string]int
	lookups      map[string]int
	retroCreated []string
}

func newStubOrders() *stubOrders {
	return &stubOrders{
		orders:       make(map[string]*models.Order),
		missingUntil: make(map[string]int),
		lookups:      make(map[string]int),
	}
}

func (s *stubOrders) add(order *models.Order) {
	s.orders[order.Reference] = order
}

func (s *stubOrders) FindByReference(ctx context.Context, reference string) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[reference]
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	copied := *order
	return &copied, nil
}

func (s *stubOrders) ApplyPayment(ctx context.Context, reference string, amountMinor int64) (*orders.PaymentResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lookups[reference]++
	if s.lookups[reference] <= s.missingUntil[reference] {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	order, ok := s.orders[reference]
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	if order.OutstandingMinor == 0 {
		return &orders.PaymentResult{Outcome: orders.PaymentOverpaid, Order: order, ExcessMinor: amountMinor}, nil
	}
	applied := amountMinor
	if applied > order.OutstandingMinor {
		applied = order.OutstandingMinor
	}
	order.OutstandingMinor -= applied
	if order.OutstandingMinor == 0 {
		order.Status = enums.OrderStatusCompleted
	} else {
		order.Status = enums.OrderStatusPartial
	}
	return &orders.PaymentResult{
		Outcome:      orders.PaymentApplied,
		Order:        order,
		AppliedMinor: applied,
		ExcessMinor:  amountMinor - applied,
	}, nil
}

func (s *stubOrders) Create(ctx context.Context, input orders.CreateOrderInput) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[input.Reference]; ok {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "order reference already exists")
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
	s.orders[input.Reference] = order
	return order, nil
}

func (s *stubOrders) CreateRetroactive(ctx context.Context, input orders.RetroactiveOrderInput) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	order := &models.Order{
		ID:               uuid.New(),
		Reference:        input.Reference,
		MerchantID:       input.MerchantID,
		Status:           enums.OrderStatusPending,
		AmountMinor:      input.AmountMinor,
		OutstandingMinor: input.AmountMinor,
		Retroactive:      true,
	}
	s.orders[input.Reference] = order
	delete(s.missingUntil, input.Reference)
	s.retroCreated = append(s.retroCreated, input.Reference)
	return order, nil
}

type stubGuard struct {
	mu   sync.Mutex
	seen map[string]string
}

func newStubGuard() *stubGuard {
	return &stubGuard{seen: make(map[string]string)}
}

func (s *stubGuard) Get(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seen[key], nil
}

func (s *stubGuard) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.seen[key]; ok {
		return false, nil
	}
	s.seen[key] = "1"
	return true, nil
}

func (s *stubGuard) DuplicateKey(portal, transactionID string) string {
	return "ph:duplicate:" + portal + ":" + transactionID
}
