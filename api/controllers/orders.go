package controllers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/paywatch/payhook-backend/api/responses"
	"github.com/paywatch/payhook-backend/api/validators"
	"github.com/paywatch/payhook-backend/internal/orders"
	"github.com/paywatch/payhook-backend/pkg/db/models"
	"github.com/paywatch/payhook-backend/pkg/enums"
	pkgerrors "github.com/paywatch/payhook-backend/pkg/errors"
	"github.com/paywatch/payhook-backend/pkg/logger"
)

type createOrderRequest struct {
	Reference   string `json:"reference" validate:"required,min=10,max=64"`
	MerchantID  string `json:"merchantId" validate:"required,uuid"`
	Type        string `json:"type" validate:"required,oneof=deposit withdraw"`
	AmountMinor int64  `json:"amountMinor" validate:"required,min=1"`
}

type orderResponse struct {
	ID               string `json:"id"`
	Reference        string `json:"reference"`
	MerchantID       string `json:"merchantId"`
	Type             string `json:"type"`
	Status           string `json:"status"`
	AmountMinor      int64  `json:"amountMinor"`
	OutstandingMinor int64  `json:"outstandingMinor"`
	Retroactive      bool   `json:"retroactive"`
}

// CreateOrder registers a deposit or withdrawal request whose reference the
// customer embeds in their bank transfer description.
func CreateOrder(svc orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "order service unavailable"))
			return
		}

		var req createOrderRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		merchantID, err := uuid.Parse(req.MerchantID)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid merchant id"))
			return
		}
		orderType, err := enums.ParseOrderType(req.Type)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid order type"))
			return
		}

		order, err := svc.Create(ctx, orders.CreateOrderInput{
			Reference:   req.Reference,
			MerchantID:  merchantID,
			Type:        orderType,
			AmountMinor: req.AmountMinor,
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, toOrderResponse(order))
	}
}

// GetOrder looks an order up by its transfer reference.
func GetOrder(svc orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "order service unavailable"))
			return
		}

		order, err := svc.FindByReference(ctx, chi.URLParam(r, "reference"))
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, toOrderResponse(order))
	}
}

func toOrderResponse(order *models.Order) orderResponse {
	return orderResponse{
		ID:               order.ID.String(),
		Reference:        order.Reference,
		MerchantID:       order.MerchantID.String(),
		Type:             string(order.Type),
		Status:           string(order.Status),
		AmountMinor:      order.AmountMinor,
		OutstandingMinor: order.OutstandingMinor,
		Retroactive:      order.Retroactive,
	}
}
