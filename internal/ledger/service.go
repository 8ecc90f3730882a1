package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/paywatch/payhook-backend/pkg/db"
	"github.com/paywatch/payhook-backend/pkg/db/models"
	"github.com/paywatch/payhook-backend/pkg/enums"
	pkgerrors "github.com/paywatch/payhook-backend/pkg/errors"
	"github.com/paywatch/payhook-backend/pkg/pagination"
)

// RecordEntryInput captures one bank transaction to be appended to the
// ledger in pending state.
type RecordEntryInput struct {
	Portal              enums.Portal
	PortalTransactionID string
	BankID              uuid.UUID
	AmountMinor         int64
	Description         string
	BalanceAfterMinor   int64
	OccurredAt          time.Time
}

// Service records reconciliation attempts. The (portal, transaction id)
// unique index is the append-once guarantee; a violation on insert means
// another writer already owns the transaction.
type Service interface {
	// Record appends a pending entry. The bool result is true when the
	// entry already existed (idempotent replay), in which case the stored
	// entry is returned.
	Record(ctx context.Context, input RecordEntryInput) (*models.LedgerEntry, bool, error)
	Exists(ctx context.Context, portal enums.Portal, portalTransactionID string) (bool, error)
	// SettleOutcome persists the terminal status. Best-effort by contract:
	// the business outcome is already decided when this runs.
	SettleOutcome(ctx context.Context, id uuid.UUID, status enums.ReconStatus, orderID *uuid.UUID, notes string) error
	// ListRecent pages through the ledger newest first for audit review.
	ListRecent(ctx context.Context, params pagination.Params) ([]models.LedgerEntry, string, error)
}

// ServiceParams wires the ledger service dependencies.
type ServiceParams struct {
	Repo Repository
}

type service struct {
	repo Repository
}

// NewService validates dependencies and returns a ledger service.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "ledger repo required")
	}
	return &service{repo: params.Repo}, nil
}

func (s *service) Record(ctx context.Context, input RecordEntryInput) (*models.LedgerEntry, bool, error) {
	if input.PortalTransactionID == "" {
		return nil, false, pkgerrors.New(pkgerrors.CodeValidation, "portal transaction id required")
	}
	if !input.Portal.IsValid() {
		return nil, false, pkgerrors.New(pkgerrors.CodeValidation, "unknown portal")
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

	if err := s.repo.Create(ctx, entry); err != nil {
		if db.IsUniqueViolation(err, "") {
			stored, findErr := s.repo.FindByPortalTransaction(ctx, input.Portal, input.PortalTransactionID)
			if findErr != nil {
				return nil, true, pkgerrors.Wrap(pkgerrors.CodeDependency, findErr, "load duplicate ledger entry")
			}
			return stored, true, nil
		}
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "append ledger entry")
	}
	return entry, false, nil
}

func (s *service) Exists(ctx context.Context, portal enums.Portal, portalTransactionID string) (bool, error) {
	_, err := s.repo.FindByPortalTransaction(ctx, portal, portalTransactionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check ledger entry")
	}
	return true, nil
}

func (s *service) SettleOutcome(ctx context.Context, id uuid.UUID, status enums.ReconStatus, orderID *uuid.UUID, notes string) error {
	if !status.IsTerminal() {
		return pkgerrors.New(pkgerrors.CodeValidation, "ledger outcome must be terminal")
	}
	if err := s.repo.UpdateOutcome(ctx, id, status, orderID, notes, time.Now().UTC()); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "settle ledger outcome")
	}
	return nil
}

func (s *service) ListRecent(ctx context.Context, params pagination.Params) ([]models.LedgerEntry, string, error) {
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, "", pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}

	limit := pagination.NormalizeLimit(params.Limit)
	entries, err := s.repo.ListRecent(ctx, cursor, pagination.LimitWithBuffer(params.Limit))
	if err != nil {
		return nil, "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list ledger entries")
	}

	next := ""
	if len(entries) > limit {
		entries = entries[:limit]
		last := entries[limit-1]
		next = pagination.EncodeCursor(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
	}
	return entries, next, nil
}
