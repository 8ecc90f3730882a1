package resilience

import (
	"context"
	"errors"
	"net"
	"strings"
	"syscall"

	pkgerrors "github.com/paywatch/payhook-backend/pkg/errors"
)

// FailureKind classifies a downstream failure for breaker accounting and
// retry decisions.
type FailureKind int

const (
	// FailureNone marks a successful call.
	FailureNone FailureKind = iota
	// FailureTransient covers timeouts, resets and rate limits; these are
	// expected under bulk webhook delivery and are retried.
	FailureTransient
	// FailurePermanent covers validation and not-found outcomes; retrying
	// cannot help.
	FailurePermanent
)

// Classify maps an error to a FailureKind. Untyped errors default to
// permanent so that an unknown bug does not spin the retry loop.
func Classify(err error) FailureKind {
	if err == nil {
		return FailureNone
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return FailureTransient
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return FailureTransient
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ENETUNREACH) {
		return FailureTransient
	}

	switch pkgerrors.CodeOf(err) {
	case pkgerrors.CodeDependency, pkgerrors.CodeRateLimit, pkgerrors.CodeConcurrency:
		return FailureTransient
	case pkgerrors.CodeValidation, pkgerrors.CodeNotFound, pkgerrors.CodeUnauthorized, pkgerrors.CodeConflict:
		return FailurePermanent
	}

	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "timeout") || strings.Contains(msg, "connection reset") || strings.Contains(msg, "temporarily unavailable") {
		return FailureTransient
	}
	return FailurePermanent
}

// IsRetryable reports whether the retry executor should attempt the call
// again.
func IsRetryable(err error) bool {
	if pkgerrors.CodeOf(err) == pkgerrors.CodeCircuitOpen {
		return false
	}
	return Classify(err) == FailureTransient
}
