package portal

import (
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/paywatch/payhook-backend/pkg/enums"
	pkgerrors "github.com/paywatch/payhook-backend/pkg/errors"
)

// NormalizedTransaction is the portal-independent shape of one bank
// transaction. Constructed once by an adapter and never mutated afterwards.
type NormalizedTransaction struct {
	Portal              enums.Portal
	PortalTransactionID string
	AmountMinor         int64
	AccountNumber       string
	Description         string
	BalanceAfterMinor   int64
	OccurredAt          time.Time
}

// Validate rejects transactions no portal should emit. The transaction id
// must look like a positive integer; anything else fails before side effects.
func (t NormalizedTransaction) Validate() error {
	if !t.Portal.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, "unknown portal")
	}
	id := strings.TrimSpace(t.PortalTransactionID)
	if id == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "transaction id required")
	}
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil || n <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "transaction id must be a positive integer")
	}
	if t.AccountNumber == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "account number required")
	}
	return nil
}

// portalID tolerates transaction ids delivered as JSON numbers or as quoted
// strings; the same portal switches between the two across versions.
type portalID string

func (p *portalID) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "null" {
		s = ""
	}
	*p = portalID(s)
	return nil
}

func (p portalID) String() string {
	return string(p)
}

// amountToMinor converts a portal amount into signed minor currency units.
// Portals send whole-currency values, sometimes with a trailing ".00"; any
// real fractional part means a malformed payload.
func amountToMinor(d decimal.Decimal) (int64, error) {
	if !d.IsInteger() {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "amount has fractional minor units")
	}
	return d.IntPart(), nil
}
