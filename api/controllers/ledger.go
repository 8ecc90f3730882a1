package controllers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/paywatch/payhook-backend/api/responses"
	"github.com/paywatch/payhook-backend/internal/ledger"
	"github.com/paywatch/payhook-backend/pkg/db/models"
	pkgerrors "github.com/paywatch/payhook-backend/pkg/errors"
	"github.com/paywatch/payhook-backend/pkg/logger"
	"github.com/paywatch/payhook-backend/pkg/pagination"
)

type ledgerEntryResponse struct {
	ID                  string     `json:"id"`
	Portal              string     `json:"portal"`
	PortalTransactionID string     `json:"portalTransactionId"`
	OrderID             *string    `json:"orderId,omitempty"`
	BankID              string     `json:"bankId"`
	AmountMinor         int64      `json:"amountMinor"`
	Direction           string     `json:"direction"`
	Status              string     `json:"status"`
	Description         string     `json:"description"`
	Notes               string     `json:"notes,omitempty"`
	OccurredAt          time.Time  `json:"occurredAt"`
	ProcessedAt         *time.Time `json:"processedAt,omitempty"`
	CreatedAt           time.Time  `json:"createdAt"`
}

type ledgerListResponse struct {
	Entries    []ledgerEntryResponse `json:"entries"`
	NextCursor string                `json:"nextCursor,omitempty"`
}

// ListLedger pages through reconciliation ledger entries newest first.
func ListLedger(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "ledger service unavailable"))
			return
		}

		params := pagination.Params{Cursor: r.URL.Query().Get("cursor")}
		if raw := r.URL.Query().Get("limit"); raw != "" {
			limit, err := strconv.Atoi(raw)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid limit"))
				return
			}
			params.Limit = limit
		}

		entries, nextCursor, err := svc.ListRecent(ctx, params)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		out := ledgerListResponse{
			Entries:    make([]ledgerEntryResponse, 0, len(entries)),
			NextCursor: nextCursor,
		}
		for i := range entries {
			out.Entries = append(out.Entries, toLedgerEntryResponse(&entries[i]))
		}
		responses.WriteSuccess(w, out)
	}
}

func toLedgerEntryResponse(entry *models.LedgerEntry) ledgerEntryResponse {
	resp := ledgerEntryResponse{
		ID:                  entry.ID.String(),
		Portal:              string(entry.Portal),
		PortalTransactionID: entry.PortalTransactionID,
		BankID:              entry.BankID.String(),
		AmountMinor:         entry.AmountMinor,
		Direction:           string(entry.Direction),
		Status:              string(entry.Status),
		Description:         entry.Description,
		Notes:               entry.Notes,
		OccurredAt:          entry.OccurredAt,
		ProcessedAt:         entry.ProcessedAt,
		CreatedAt:           entry.CreatedAt,
	}
	if entry.OrderID != nil {
		id := entry.OrderID.String()
		resp.OrderID = &id
	}
	return resp
}
