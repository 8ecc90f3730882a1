package webhooks

import (
	"context"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/paywatch/payhook-backend/api/responses"
	portalpkg "github.com/paywatch/payhook-backend/internal/portal"
	"github.com/paywatch/payhook-backend/pkg/enums"
	pkgerrors "github.com/paywatch/payhook-backend/pkg/errors"
	"github.com/paywatch/payhook-backend/pkg/logger"
	"github.com/paywatch/payhook-backend/pkg/types"
)

// maxWebhookBody bounds one delivery; aggregators batch at most a few
// hundred transactions per call.
const maxWebhookBody = 4 << 20

type batchProcessor interface {
	ProcessBatch(ctx context.Context, p enums.Portal, txs []portalpkg.NormalizedTransaction) []types.TransactionResult
}

// PortalWebhook handles POST /api/v1/webhooks/{portal}. Every authenticated
// delivery is acknowledged with 200 regardless of per-transaction outcomes;
// retrying an already-reconciled batch is harmless, so giving aggregators a
// reason to redeliver only creates duplicate suppression work.
func PortalWebhook(adapters *portalpkg.Registry, scheduler batchProcessor, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if adapters == nil || scheduler == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook pipeline unavailable"))
			return
		}

		p, err := enums.ParsePortal(chi.URLParam(r, "portal"))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeNotFound, err, "unknown portal"))
			return
		}
		if logg != nil {
			ctx = logg.WithPortal(ctx, p.String())
		}

		adapter, err := adapters.For(p)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body"))
			return
		}

		if err := adapter.Verify(r.Header, body); err != nil {
			// a missing secret is our misconfiguration and must page us; a
			// bad signature is the caller's problem and gets the 200 shrug
			// so probing requests learn nothing
			if pkgerrors.CodeOf(err) == pkgerrors.CodeConfig {
				responses.WriteError(ctx, logg, w, err)
				return
			}
			if logg != nil {
				logg.Warn(ctx, "webhook authentication rejected: "+err.Error())
			}
			responses.WriteWebhook(w, nil)
			return
		}

		txs, err := adapter.Parse(body)
		if err != nil {
			if logg != nil {
				logg.Warn(ctx, "webhook payload rejected: "+err.Error())
			}
			responses.WriteWebhook(w, nil)
			return
		}

		results := scheduler.ProcessBatch(ctx, p, txs)
		responses.WriteWebhook(w, results)
	}
}
