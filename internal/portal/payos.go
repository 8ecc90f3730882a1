package portal

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/paywatch/payhook-backend/pkg/enums"
	pkgerrors "github.com/paywatch/payhook-backend/pkg/errors"
)

const (
	payosSignatureHeader = "X-Payos-Signature"
	payosTimestampHeader = "X-Payos-Timestamp"
)

// PayosAdapter verifies an HMAC-SHA512 signature computed over the
// canonicalized (key-sorted) JSON body concatenated with the delivery
// timestamp. The timestamp is also bounded against clock skew so captured
// deliveries cannot be replayed later.
type PayosAdapter struct {
	secret    string
	clockSkew time.Duration

	now func() time.Time
}

func NewPayosAdapter(secret string, clockSkew time.Duration) *PayosAdapter {
	if clockSkew <= 0 {
		clockSkew = 5 * time.Minute
	}
	return &PayosAdapter{
		secret:    secret,
		clockSkew: clockSkew,
		now:       time.Now,
	}
}

func (a *PayosAdapter) Portal() enums.Portal {
	return enums.PortalPayos
}

func (a *PayosAdapter) Verify(header http.Header, body []byte) error {
	if a.secret == "" {
		return pkgerrors.New(pkgerrors.CodeConfig, "payos checksum key not configured")
	}

	signature := header.Get(payosSignatureHeader)
	if signature == "" {
		return pkgerrors.New(pkgerrors.CodeUnauthorized, "payos signature missing")
	}
	timestamp := header.Get(payosTimestampHeader)
	if timestamp == "" {
		return pkgerrors.New(pkgerrors.CodeUnauthorized, "payos timestamp missing")
	}

	unix, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return pkgerrors.New(pkgerrors.CodeUnauthorized, "payos timestamp malformed")
	}
	drift := a.now().Sub(time.Unix(unix, 0))
	if drift < 0 {
		drift = -drift
	}
	if drift > a.clockSkew {
		return pkgerrors.New(pkgerrors.CodeUnauthorized, "payos timestamp outside accepted skew")
	}

	expected, err := a.sign(body, timestamp)
	if err != nil {
		return err
	}
	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return pkgerrors.New(pkgerrors.CodeUnauthorized, "payos signature mismatch")
	}
	return nil
}

// sign computes hex(HMAC-SHA512(secret, canonicalJSON(body) + timestamp)).
func (a *PayosAdapter) sign(body []byte, timestamp string) (string, error) {
	canonical, err := canonicalJSON(body)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeValidation, err, "canonicalize payos body")
	}
	mac := hmac.New(sha512.New, []byte(a.secret))
	mac.Write([]byte(canonical))
	mac.Write([]byte(timestamp))
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// canonicalJSON re-renders a JSON document with object keys sorted
// lexicographically at every depth, so both sides sign the same bytes
// regardless of the original key order.
func canonicalJSON(body []byte) (string, error) {
	var value any
	decoder := json.NewDecoder(strings.NewReader(string(body)))
	decoder.UseNumber()
	if err := decoder.Decode(&value); err != nil {
		return "", err
	}
	var b strings.Builder
	writeCanonical(&b, value)
	return b.String(), nil
}

func writeCanonical(b *strings.Builder, value any) {
	switch v := value.(type) {
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			encoded, _ := json.Marshal(k)
			b.Write(encoded)
			b.WriteByte(':')
			writeCanonical(b, v[k])
		}
		b.WriteByte('}')
	case []any:
		b.WriteByte('[')
		for i, item := range v {
			if i > 0 {
				b.WriteByte(',')
			}
			writeCanonical(b, item)
		}
		b.WriteByte(']')
	case json.Number:
		b.WriteString(v.String())
	case nil:
		b.WriteString("null")
	default:
		encoded, _ := json.Marshal(v)
		b.Write(encoded)
	}
}

type payosEnvelope struct {
	Code string             `json:"code"`
	Desc string             `json:"desc"`
	Data []payosTransaction `json:"data"`
}

type payosTransaction struct {
	ID               portalID        `json:"transactionId"`
	Amount           decimal.Decimal `json:"amount"`
	AccountNumber    string          `json:"accountNumber"`
	Description      string          `json:"description"`
	BalanceRemaining decimal.Decimal `json:"balanceRemaining"`
	TransactionTime  string          `json:"transactionDateTime"`
}

// Parse accepts the envelope with a data array, an envelope whose data is a
// single object, or a bare transaction object.
func (a *PayosAdapter) Parse(body []byte) ([]NormalizedTransaction, error) {
	var records []payosTransaction

	var envelope payosEnvelope
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Data != nil {
		if envelope.Code != "" && envelope.Code != "00" {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("payos delivery reported code %s", envelope.Code))
		}
		records = envelope.Data
	} else if isArrayPayload(body) {
		if err := json.Unmarshal(body, &records); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode payos payload")
		}
	} else {
		var wrapper struct {
			Code string           `json:"code"`
			Data payosTransaction `json:"data"`
		}
		if err := json.Unmarshal(body, &wrapper); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode payos payload")
		}
		if wrapper.Data.ID.String() != "" {
			records = append(records, wrapper.Data)
		} else {
			var single payosTransaction
			if err := json.Unmarshal(body, &single); err != nil {
				return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode payos payload")
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

func (p payosTransaction) normalize() (NormalizedTransaction, error) {
	amount, err := amountToMinor(p.Amount)
	if err != nil {
		return NormalizedTransaction{}, err
	}
	balance, err := amountToMinor(p.BalanceRemaining)
	if err != nil {
		return NormalizedTransaction{}, err
	}

	occurredAt := time.Now().UTC()
	if p.TransactionTime != "" {
		parsed, parseErr := time.Parse(time.RFC3339, p.TransactionTime)
		if parseErr != nil {
			return NormalizedTransaction{}, pkgerrors.Wrap(pkgerrors.CodeValidation, parseErr, "parse payos timestamp")
		}
		occurredAt = parsed.UTC()
	}

	tx := NormalizedTransaction{
		Portal:              enums.PortalPayos,
		PortalTransactionID: p.ID.String(),
		AmountMinor:         amount,
		AccountNumber:       p.AccountNumber,
		Description:         p.Description,
		BalanceAfterMinor:   balance,
		OccurredAt:          occurredAt,
	}
	if err := tx.Validate(); err != nil {
		return NormalizedTransaction{}, err
	}
	return tx, nil
}
