package recon

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/paywatch/payhook-backend/internal/banks"
	ledgerpkg "github.com/paywatch/payhook-backend/internal/ledger"
	"github.com/paywatch/payhook-backend/internal/merchants"
	"github.com/paywatch/payhook-backend/internal/orders"
	"github.com/paywatch/payhook-backend/internal/portal"
	"github.com/paywatch/payhook-backend/internal/resilience"
	"github.com/paywatch/payhook-backend/pkg/config"
	"github.com/paywatch/payhook-backend/pkg/db/models"
	"github.com/paywatch/payhook-backend/pkg/enums"
	pkgerrors "github.com/paywatch/payhook-backend/pkg/errors"
	"github.com/paywatch/payhook-backend/pkg/logger"
	"github.com/paywatch/payhook-backend/pkg/metrics"
	"github.com/paywatch/payhook-backend/pkg/types"
)

// Breaker operation names. opBankFallback may be configured as the exempt
// operation so the designated rail keeps moving during an outage.
const (
	opBankResolve  = "bank-resolve"
	opBankBalance  = "bank-balance"
	opOrderPayment = "order-payment"
	opBankFallback = "bank-fallback"
)

type referenceExtractor interface {
	Extract(description string) (string, bool)
}

type duplicateGuard interface {
	Get(ctx context.Context, key string) (string, error)
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	DuplicateKey(portal, transactionID string) string
}

// EngineParams wires the reconciliation engine dependencies. Everything is
// constructed once per process and injected; the engine owns no globals.
type EngineParams struct {
	Ledger       ledgerpkg.Service
	Banks        banks.Service
	Merchants    merchants.Service
	Orders       orders.Service
	Extractor    referenceExtractor
	Duplicates   duplicateGuard
	Breakers     *resilience.Registry
	Stats        *Tracker
	Metrics      *metrics.ReconMetrics
	Logger       *logger.Logger
	Recon        config.ReconConfig
	Resilience   config.ResilienceConfig
	DuplicateTTL time.Duration
}

// Engine runs the per-transaction reconciliation state machine:
// pending -> duplicated | failed | unlinked | processed | available.
type Engine struct {
	ledger       ledgerpkg.Service
	banks        banks.Service
	merchants    merchants.Service
	resolver     *orderResolver
	extractor    referenceExtractor
	duplicates   duplicateGuard
	breakers     *resilience.Registry
	retryPolicy  resilience.RetryPolicy
	stats        *Tracker
	metrics      *metrics.ReconMetrics
	logg         *logger.Logger
	recon        config.ReconConfig
	resil        config.ResilienceConfig
	duplicateTTL time.Duration

	settles sync.WaitGroup
}

// NewEngine validates dependencies and returns a reconciliation engine.
func NewEngine(params EngineParams) (*Engine, error) {
	if params.Ledger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "ledger service required")
	}
	if params.Banks == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "bank service required")
	}
	if params.Merchants == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "merchant service required")
	}
	if params.Orders == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "order service required")
	}
	if params.Extractor == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "reference extractor required")
	}
	if params.Breakers == nil {
		params.Breakers = resilience.NewRegistry(params.Resilience)
	}
	if params.Stats == nil {
		params.Stats = NewTracker()
	}
	if params.DuplicateTTL <= 0 {
		params.DuplicateTTL = 30 * 24 * time.Hour
	}
	return &Engine{
		ledger:       params.Ledger,
		banks:        params.Banks,
		merchants:    params.Merchants,
		resolver:     newOrderResolver(params.Orders, params.Recon, params.Logger),
		extractor:    params.Extractor,
		duplicates:   params.Duplicates,
		breakers:     params.Breakers,
		retryPolicy:  resilience.RetryPolicyFromConfig(params.Resilience),
		stats:        params.Stats,
		metrics:      params.Metrics,
		logg:         params.Logger,
		recon:        params.Recon,
		resil:        params.Resilience,
		duplicateTTL: params.DuplicateTTL,
	}, nil
}

// Process reconciles one transaction to a terminal status. It never returns
// an error; every failure mode maps onto a TransactionResult so one bad
// transaction cannot poison its batch.
func (e *Engine) Process(ctx context.Context, tx portal.NormalizedTransaction, bulk bool) types.TransactionResult {
	started := time.Now()
	ctx = e.logContext(ctx, tx)

	result := e.process(ctx, tx, bulk)

	elapsed := time.Since(started)
	e.stats.Record(tx.Portal, elapsed, result.Status == string(enums.ReconStatusFailed))
	if e.metrics != nil {
		e.metrics.IncOutcome(tx.Portal.String(), result.Status)
		e.metrics.ObservePhase("transaction", elapsed)
	}
	return result
}

func (e *Engine) process(ctx context.Context, tx portal.NormalizedTransaction, bulk bool) types.TransactionResult {
	if err := tx.Validate(); err != nil {
		return e.failure(tx, err)
	}

	// phase 1: duplicate suppression
	if dup, err := e.isDuplicate(ctx, tx); err != nil {
		return e.failure(tx, err)
	} else if dup {
		return types.TransactionResult{
			ID:      tx.PortalTransactionID,
			Status:  string(enums.ReconStatusDuplicated),
			Message: "transaction already reconciled",
		}
	}

	// phase 2: bank resolution, with the configured fallback rail
	account, err := e.resolveBank(ctx, tx, bulk)
	if err != nil {
		return e.failure(tx, err)
	}

	// phase 3: append-once ledger entry
	entry, duplicate, err := e.ledger.Record(ctx, ledgerpkg.RecordEntryInput{
		Portal:              tx.Portal,
		PortalTransactionID: tx.PortalTransactionID,
		BankID:              account.ID,
		AmountMinor:         tx.AmountMinor,
		Description:         tx.Description,
		BalanceAfterMinor:   tx.BalanceAfterMinor,
		OccurredAt:          tx.OccurredAt,
	})
	if err != nil {
		return e.failure(tx, err)
	}
	if duplicate {
		e.markDuplicate(ctx, tx)
		return types.TransactionResult{
			ID:      tx.PortalTransactionID,
			Status:  string(enums.ReconStatusDuplicated),
			BankID:  account.ID.String(),
			Message: "transaction already reconciled",
		}
	}
	e.markDuplicate(ctx, tx)

	reference, found := e.extractor.Extract(tx.Description)
	if !found {
		return e.settleUnlinked(ctx, tx, entry, account, bulk)
	}

	return e.settleLinked(ctx, tx, entry, account, reference, bulk)
}

// settleUnlinked records the transaction without attributing it to an
// order. The bank balance still moves so the books match the statement.
func (e *Engine) settleUnlinked(ctx context.Context, tx portal.NormalizedTransaction, entry *models.LedgerEntry, account *models.BankAccount, bulk bool) types.TransactionResult {
	if err := e.applyBankBalance(ctx, tx, account, bulk); err != nil {
		e.settleAsync(entry.ID, enums.ReconStatusFailed, nil, "bank balance update failed: "+err.Error())
		return e.failure(tx, err)
	}
	e.settleAsync(entry.ID, enums.ReconStatusUnlinked, nil, "no order reference in description")
	return types.TransactionResult{
		ID:      tx.PortalTransactionID,
		Status:  string(enums.ReconStatusUnlinked),
		BankID:  account.ID.String(),
		Amount:  &tx.AmountMinor,
		Message: "no order reference found",
	}
}

// settleLinked runs the balance mutation and the order payment application
// concurrently. Neither cancels the other; both outcomes land in the notes.
func (e *Engine) settleLinked(ctx context.Context, tx portal.NormalizedTransaction, entry *models.LedgerEntry, account *models.BankAccount, reference string, bulk bool) types.TransactionResult {
	var (
		wg         sync.WaitGroup
		bankErr    error
		payment    *orders.PaymentResult
		paymentErr error
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		bankErr = e.applyBankBalance(ctx, tx, account, bulk)
	}()
	go func() {
		defer wg.Done()
		payment, paymentErr = e.applyOrderPayment(ctx, tx, account, reference, bulk)
	}()
	wg.Wait()

	notes := phaseNotes(bankErr, paymentErr, payment)

	if bankErr != nil {
		e.settleAsync(entry.ID, enums.ReconStatusFailed, nil, notes)
		return e.failure(tx, pkgerrors.Wrap(pkgerrors.CodeOf(bankErr), multierr.Append(bankErr, paymentErr), "bank balance update failed"))
	}
	if paymentErr != nil || payment == nil || payment.Outcome == orders.PaymentRejected {
		e.settleAsync(entry.ID, enums.ReconStatusFailed, nil, notes)
		message := "order payment failed"
		if paymentErr != nil {
			message = paymentErr.Error()
		}
		return types.TransactionResult{
			ID:      tx.PortalTransactionID,
			Status:  string(enums.ReconStatusFailed),
			BankID:  account.ID.String(),
			Amount:  &tx.AmountMinor,
			Message: message,
		}
	}

	orderID := payment.Order.ID
	status := enums.ReconStatusProcessed
	message := "payment applied"
	if payment.Outcome == orders.PaymentOverpaid {
		// outstanding already zero: bank the full amount for future redemption
		status = enums.ReconStatusAvailable
		message = "order already settled, amount banked as available"
	} else if payment.ExcessMinor > 0 {
		status = enums.ReconStatusAvailable
		message = "payment applied, excess banked as available"
	}

	// The order has already consumed the payment at this point. A merchant
	// credit failure must not flip the entry to failed: a replay would come
	// back duplicated with no entry acknowledging the applied amount. The
	// entry keeps its terminal status and the discrepancy lands in the notes.
	if creditErr := e.creditMerchant(ctx, payment); creditErr != nil {
		notes += "; merchant credit failed: " + creditErr.Error()
		message += ", merchant credit pending"
		if e.logg != nil {
			e.logg.Error(ctx, "merchant credit failed after payment application", creditErr)
		}
	}

	e.settleAsync(entry.ID, status, &orderID, notes)
	return types.TransactionResult{
		ID:      tx.PortalTransactionID,
		Status:  string(status),
		BankID:  account.ID.String(),
		OrderID: orderID.String(),
		Amount:  &tx.AmountMinor,
		Message: message,
	}
}

// creditMerchant moves the settled portion onto the merchant's balance and
// any excess onto the available balance. Both are attempted even when the
// first fails so the notes capture the full discrepancy.
func (e *Engine) creditMerchant(ctx context.Context, payment *orders.PaymentResult) error {
	var err error
	if payment.Outcome != orders.PaymentOverpaid && payment.AppliedMinor > 0 {
		if _, creditErr := e.merchants.Credit(ctx, payment.Order.MerchantID, payment.AppliedMinor); creditErr != nil {
			err = multierr.Append(err, creditErr)
		}
	}
	if payment.ExcessMinor > 0 {
		if _, creditErr := e.merchants.CreditAvailable(ctx, payment.Order.MerchantID, payment.ExcessMinor); creditErr != nil {
			err = multierr.Append(err, creditErr)
		}
	}
	return err
}

// isDuplicate consults the cache first and falls through to the ledger; the
// store stays the source of truth when the cache is cold or disabled.
func (e *Engine) isDuplicate(ctx context.Context, tx portal.NormalizedTransaction) (bool, error) {
	if e.duplicates != nil {
		key := e.duplicates.DuplicateKey(tx.Portal.String(), tx.PortalTransactionID)
		if value, err := e.duplicates.Get(ctx, key); err == nil && value != "" {
			return true, nil
		}
	}
	exists, err := e.ledger.Exists(ctx, tx.Portal, tx.PortalTransactionID)
	if err != nil {
		return false, err
	}
	if exists {
		e.markDuplicate(ctx, tx)
	}
	return exists, nil
}

// markDuplicate is best-effort: the ledger's unique index is the real guard.
func (e *Engine) markDuplicate(ctx context.Context, tx portal.NormalizedTransaction) {
	if e.duplicates == nil {
		return
	}
	key := e.duplicates.DuplicateKey(tx.Portal.String(), tx.PortalTransactionID)
	if _, err := e.duplicates.SetNX(ctx, key, "1", e.duplicateTTL); err != nil && e.logg != nil {
		e.logg.Warn(ctx, "duplicate marker write failed: "+err.Error())
	}
}

func (e *Engine) resolveBank(ctx context.Context, tx portal.NormalizedTransaction, bulk bool) (*models.BankAccount, error) {
	var account *models.BankAccount
	err := resilience.Guarded(ctx, e.breakers.For(opBankResolve), e.retryPolicy, bulk, func(ctx context.Context) error {
		ctx, cancel := e.phaseTimeout(ctx, tx.Portal, bulk)
		defer cancel()
		resolved, resolveErr := e.banks.Resolve(ctx, tx.AccountNumber)
		if resolveErr != nil {
			return resolveErr
		}
		account = resolved
		return nil
	})
	if err == nil {
		return account, nil
	}

	if e.recon.FallbackBankAccount != "" && e.recon.FallbackBankAccount != tx.AccountNumber {
		if e.logg != nil {
			e.logg.Warn(ctx, "bank resolution failed, trying fallback account: "+err.Error())
		}
		fallbackErr := resilience.Guarded(ctx, e.breakers.For(opBankFallback), e.retryPolicy, bulk, func(ctx context.Context) error {
			ctx, cancel := e.phaseTimeout(ctx, tx.Portal, bulk)
			defer cancel()
			resolved, resolveErr := e.banks.Resolve(ctx, e.recon.FallbackBankAccount)
			if resolveErr != nil {
				return resolveErr
			}
			account = resolved
			return nil
		})
		if fallbackErr == nil {
			return account, nil
		}
	}
	return nil, err
}

func (e *Engine) applyBankBalance(ctx context.Context, tx portal.NormalizedTransaction, account *models.BankAccount, bulk bool) error {
	return resilience.Guarded(ctx, e.breakers.For(opBankBalance), e.retryPolicy, bulk, func(ctx context.Context) error {
		ctx, cancel := e.phaseTimeout(ctx, tx.Portal, bulk)
		defer cancel()
		_, err := e.banks.ApplyTransaction(ctx, account.ID, tx.AmountMinor, tx.BalanceAfterMinor)
		return err
	})
}

func (e *Engine) applyOrderPayment(ctx context.Context, tx portal.NormalizedTransaction, account *models.BankAccount, reference string, bulk bool) (*orders.PaymentResult, error) {
	var result *orders.PaymentResult
	breaker := e.breakers.For(opOrderPayment)
	if !breaker.Allow() {
		return nil, pkgerrors.New(pkgerrors.CodeCircuitOpen, "order payment temporarily unavailable")
	}
	// the resolver owns its own bounded retry schedule, so only the
	// breaker accounting wraps it here
	err := breaker.Execute(ctx, bulk, func(ctx context.Context) error {
		applied, applyErr := e.resolver.Apply(ctx, reference, tx.AmountMinor, account.MerchantID)
		if applyErr != nil {
			return applyErr
		}
		result = applied
		return nil
	})
	return result, err
}

// phaseTimeout derives the per-call deadline, stretched for bulk batches
// and for portals currently running hot.
func (e *Engine) phaseTimeout(ctx context.Context, p enums.Portal, bulk bool) (context.Context, context.CancelFunc) {
	base := e.resil.CallTimeout
	if base <= 0 {
		base = 5 * time.Second
	}
	ceiling := e.resil.CallTimeoutCeiling
	if ceiling <= 0 {
		ceiling = 4 * base
	}

	timeout := base
	if bulk {
		timeout *= 2
	}
	if e.stats.ErrorRate(p) > 0.2 || e.stats.AvgLatency(p) > base/2 {
		timeout += timeout / 2
	}
	if timeout > ceiling {
		timeout = ceiling
	}
	return context.WithTimeout(ctx, timeout)
}

// settleAsync persists the terminal status off the response path. Failure
// only degrades auditability; the business outcome is already decided.
func (e *Engine) settleAsync(entryID uuid.UUID, status enums.ReconStatus, orderID *uuid.UUID, notes string) {
	e.settles.Add(1)
	go func() {
		defer e.settles.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := e.ledger.SettleOutcome(ctx, entryID, status, orderID, notes); err != nil && e.logg != nil {
			e.logg.Error(ctx, fmt.Sprintf("ledger status persist failed for entry %s", entryID), err)
		}
	}()
}

// Drain blocks until all in-flight status persists finish. Called on
// shutdown and by tests that assert on persisted statuses.
func (e *Engine) Drain() {
	e.settles.Wait()
}

func (e *Engine) failure(tx portal.NormalizedTransaction, err error) types.TransactionResult {
	message := "reconciliation failed"
	if err != nil {
		message = err.Error()
	}
	return types.TransactionResult{
		ID:      tx.PortalTransactionID,
		Status:  string(enums.ReconStatusFailed),
		Amount:  &tx.AmountMinor,
		Message: message,
	}
}

func (e *Engine) logContext(ctx context.Context, tx portal.NormalizedTransaction) context.Context {
	if e.logg == nil {
		return ctx
	}
	ctx = e.logg.WithPortal(ctx, tx.Portal.String())
	return e.logg.WithTransactionID(ctx, tx.PortalTransactionID)
}

// phaseNotes folds both parallel phase outcomes into one audit line.
func phaseNotes(bankErr, paymentErr error, payment *orders.PaymentResult) string {
	bank := "bank ok"
	if bankErr != nil {
		bank = "bank failed: " + bankErr.Error()
	}
	order := "order ok"
	switch {
	case paymentErr != nil:
		order = "order failed: " + paymentErr.Error()
	case payment == nil:
		order = "order failed: no result"
	case payment.Outcome == orders.PaymentOverpaid:
		order = "order already settled, excess " + strconv.FormatInt(payment.ExcessMinor, 10)
	case payment.Outcome == orders.PaymentRejected:
		order = "order rejected payment"
	case payment.ExcessMinor > 0:
		order = fmt.Sprintf("order applied %d, excess %d", payment.AppliedMinor, payment.ExcessMinor)
	}
	return bank + "; " + order
}
