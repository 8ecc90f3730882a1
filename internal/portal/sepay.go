package portal

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/paywatch/payhook-backend/pkg/enums"
	pkgerrors "github.com/paywatch/payhook-backend/pkg/errors"
)

const sepayTimeLayout = "2006-01-02 15:04:05"

// SepayAdapter authenticates deliveries with a static API key carried in the
// Authorization header ("Apikey <key>").
type SepayAdapter struct {
	apiKey string
}

func NewSepayAdapter(apiKey string) *SepayAdapter {
	return &SepayAdapter{apiKey: apiKey}
}

func (a *SepayAdapter) Portal() enums.Portal {
	return enums.PortalSepay
}

func (a *SepayAdapter) Verify(header http.Header, _ []byte) error {
	if a.apiKey == "" {
		return pkgerrors.New(pkgerrors.CodeConfig, "sepay api key not configured")
	}
	auth := header.Get("Authorization")
	presented, ok := strings.CutPrefix(auth, "Apikey ")
	if !ok || presented == "" {
		return pkgerrors.New(pkgerrors.CodeUnauthorized, "sepay api key missing")
	}
	if subtle.ConstantTimeCompare([]byte(presented), []byte(a.apiKey)) != 1 {
		return pkgerrors.New(pkgerrors.CodeUnauthorized, "sepay api key mismatch")
	}
	return nil
}

type sepayPayload struct {
	ID              portalID        `json:"id"`
	Gateway         string          `json:"gateway"`
	TransactionDate string          `json:"transactionDate"`
	AccountNumber   string          `json:"accountNumber"`
	Content         string          `json:"content"`
	TransferType    string          `json:"transferType"`
	TransferAmount  decimal.Decimal `json:"transferAmount"`
	Accumulated     decimal.Decimal `json:"accumulated"`
}

func (a *SepayAdapter) Parse(body []byte) ([]NormalizedTransaction, error) {
	var payloads []sepayPayload
	if isArrayPayload(body) {
		if err := json.Unmarshal(body, &payloads); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode sepay payload")
		}
	} else {
		var single sepayPayload
		if err := json.Unmarshal(body, &single); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode sepay payload")
		}
		payloads = append(payloads, single)
	}

	txs := make([]NormalizedTransaction, 0, len(payloads))
	for _, p := range payloads {
		tx, err := p.normalize()
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	return txs, nil
}

func (p sepayPayload) normalize() (NormalizedTransaction, error) {
	amount, err := amountToMinor(p.TransferAmount)
	if err != nil {
		return NormalizedTransaction{}, err
	}
	if strings.EqualFold(p.TransferType, "out") {
		amount = -amount
	}
	balance, err := amountToMinor(p.Accumulated)
	if err != nil {
		return NormalizedTransaction{}, err
	}

	occurredAt := time.Now().UTC()
	if p.TransactionDate != "" {
		parsed, parseErr := time.Parse(sepayTimeLayout, p.TransactionDate)
		if parseErr != nil {
			return NormalizedTransaction{}, pkgerrors.Wrap(pkgerrors.CodeValidation, parseErr, "parse sepay transaction date")
		}
		occurredAt = parsed.UTC()
	}

	tx := NormalizedTransaction{
		Portal:              enums.PortalSepay,
		PortalTransactionID: p.ID.String(),
		AmountMinor:         amount,
		AccountNumber:       p.AccountNumber,
		Description:         p.Content,
		BalanceAfterMinor:   balance,
		OccurredAt:          occurredAt,
	}
	if err := tx.Validate(); err != nil {
		return NormalizedTransaction{}, err
	}
	return tx, nil
}
