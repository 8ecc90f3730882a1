package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/paywatch/payhook-backend/api/responses"
	pkgerrors "github.com/paywatch/payhook-backend/pkg/errors"
	"github.com/paywatch/payhook-backend/pkg/logger"
)

// RateLimiter counts deliveries per scope inside a fixed window.
type RateLimiter interface {
	FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error)
}

// PortalRateLimit throttles webhook deliveries per portal. The limiter
// failing open is deliberate: losing Redis must not drop payment
// notifications.
func PortalRateLimit(limiter RateLimiter, limit int64, window time.Duration, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			if limiter == nil || limit <= 0 {
				next.ServeHTTP(w, r)
				return
			}

			scope := chi.URLParam(r, "portal")
			if scope == "" {
				scope = r.URL.Path
			}

			allowed, count, err := limiter.FixedWindowAllow(ctx, scope, limit, window)
			if err != nil {
				if logg != nil {
					logg.Warn(ctx, "rate limit check failed, allowing request: "+err.Error())
				}
				next.ServeHTTP(w, r)
				return
			}
			if !allowed {
				if logg != nil {
					ctx = logg.WithFields(ctx, map[string]any{
						"scope": scope,
						"count": count,
					})
					logg.Warn(ctx, "portal delivery rate limited")
				}
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeRateLimit, "too many deliveries, retry later"))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
