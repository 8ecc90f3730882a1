package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/paywatch/payhook-backend/pkg/errors"
)

type fakeLimiter struct {
	limit     int64
	counts    map[string]int64
	err       error
	lastScope string
}

func (f *fakeLimiter) FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error) {
	if f.err != nil {
		return false, 0, f.err
	}
	if f.counts == nil {
		f.counts = make(map[string]int64)
	}
	f.counts[scope]++
	f.lastScope = scope
	return f.counts[scope] <= limit, f.counts[scope], nil
}

func newRateLimitedRouter(limiter RateLimiter, limit int64) http.Handler {
	r := chi.NewRouter()
	r.With(PortalRateLimit(limiter, limit, time.Minute, nil)).
		Post("/webhooks/{portal}", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
	return r
}

func TestPortalRateLimitAllowsWithinWindow(t *testing.T) {
	limiter := &fakeLimiter{}
	router := newRateLimitedRouter(limiter, 3)

	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhooks/sepay", nil))
		require.Equal(t, http.StatusOK, rec.Code)
	}
	assert.Equal(t, "sepay", limiter.lastScope)
}

func TestPortalRateLimitRejectsOverLimit(t *testing.T) {
	limiter := &fakeLimiter{}
	router := newRateLimitedRouter(limiter, 2)

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhooks/sepay", nil))
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhooks/sepay", nil))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	// another portal keeps its own window
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhooks/casso", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestPortalRateLimitFailsOpenOnLimiterError(t *testing.T) {
	limiter := &fakeLimiter{err: pkgerrors.New(pkgerrors.CodeDependency, "redis down")}
	router := newRateLimitedRouter(limiter, 1)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhooks/sepay", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestPortalRateLimitDisabled(t *testing.T) {
	router := newRateLimitedRouter(nil, 0)

	for i := 0; i < 5; i++ {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhooks/sepay", nil))
		require.Equal(t, http.StatusOK, rec.Code)
	}
}
