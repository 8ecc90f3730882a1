package portal

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/paywatch/payhook-backend/pkg/enums"
	pkgerrors "github.com/paywatch/payhook-backend/pkg/errors"
)

// CassoAdapter authenticates deliveries with the shared secure token the
// portal echoes back in its own header.
type CassoAdapter struct {
	token string
}

func NewCassoAdapter(token string) *CassoAdapter {
	return &CassoAdapter{token: token}
}

func (a *CassoAdapter) Portal() enums.Portal {
	return enums.PortalCasso
}

func (a *CassoAdapter) Verify(header http.Header, _ []byte) error {
	if a.token == "" {
		return pkgerrors.New(pkgerrors.CodeConfig, "casso secure token not configured")
	}
	presented := header.Get("Secure-Token")
	if presented == "" {
		return pkgerrors.New(pkgerrors.CodeUnauthorized, "casso secure token missing")
	}
	if subtle.ConstantTimeCompare([]byte(presented), []byte(a.token)) != 1 {
		return pkgerrors.New(pkgerrors.CodeUnauthorized, "casso secure token mismatch")
	}
	return nil
}

type cassoEnvelope struct {
	Error int                `json:"error"`
	Data  []cassoTransaction `json:"data"`
}

type cassoTransaction struct {
	ID           portalID        `json:"id"`
	TID          string          `json:"tid"`
	Description  string          `json:"description"`
	Amount       decimal.Decimal `json:"amount"`
	CusumBalance decimal.Decimal `json:"cusum_balance"`
	When         string          `json:"when"`
	BankSubAccID string          `json:"bank_sub_acc_id"`
}

// Parse accepts the envelope form ({"error":0,"data":[...]}), a bare array
// of transactions, or a bare single transaction.
func (a *CassoAdapter) Parse(body []byte) ([]NormalizedTransaction, error) {
	var records []cassoTransaction

	if isArrayPayload(body) {
		if err := json.Unmarshal(body, &records); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode casso payload")
		}
	} else {
		var envelope cassoEnvelope
		if err := json.Unmarshal(body, &envelope); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode casso payload")
		}
		if envelope.Data != nil {
			if envelope.Error != 0 {
				return nil, pkgerrors.New(pkgerrors.CodeValidation, "casso delivery flagged as errored")
			}
			records = envelope.Data
		} else {
			var single cassoTransaction
			if err := json.Unmarshal(body, &single); err != nil {
				return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode casso payload")
			}
			records = append(records, single)
		}
	}

	txs := make([]NormalizedTransaction, 0, len(records))
	for _, record := range records {
		tx, err := record.normalize()
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	return txs, nil
}

func (c cassoTransaction) normalize() (NormalizedTransaction, error) {
	amount, err := amountToMinor(c.Amount)
	if err != nil {
		return NormalizedTransaction{}, err
	}
	balance, err := amountToMinor(c.CusumBalance)
	if err != nil {
		return NormalizedTransaction{}, err
	}

	occurredAt := time.Now().UTC()
	if c.When != "" {
		parsed, parseErr := time.Parse(time.RFC3339, c.When)
		if parseErr != nil {
			// casso historically sent a space-separated local timestamp
			parsed, parseErr = time.Parse("2006-01-02 15:04:05", c.When)
		}
		if parseErr != nil {
			return NormalizedTransaction{}, pkgerrors.Wrap(pkgerrors.CodeValidation, parseErr, "parse casso timestamp")
		}
		occurredAt = parsed.UTC()
	}

	tx := NormalizedTransaction{
		Portal:              enums.PortalCasso,
		PortalTransactionID: c.ID.String(),
		AmountMinor:         amount,
		AccountNumber:       c.BankSubAccID,
		Description:         c.Description,
		BalanceAfterMinor:   balance,
		OccurredAt:          occurredAt,
	}
	if err := tx.Validate(); err != nil {
		return NormalizedTransaction{}, err
	}
	return tx, nil
}
