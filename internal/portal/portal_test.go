package portal

import (
	"fmt"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paywatch/payhook-backend/pkg/config"
	"github.com/paywatch/payhook-backend/pkg/enums"
	pkgerrors "github.com/paywatch/payhook-backend/pkg/errors"
)

func TestRegistryResolvesConfiguredAdapters(t *testing.T) {
	r := NewRegistry(config.PortalsConfig{
		SepayAPIKey: "sk",
		CassoToken:  "ct",
		PayosSecret: "ps",
	})

	for _, portal := range []enums.Portal{enums.PortalSepay, enums.PortalCasso, enums.PortalPayos} {
		a, err := r.For(portal)
		require.NoError(t, err)
		assert.Equal(t, portal, a.Portal())
	}

	_, err := r.For(enums.Portal("paypal"))
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeNotFound, pkgerrors.CodeOf(err))
}

func TestSepayVerify(t *testing.T) {
	a := NewSepayAdapter("secret-key")

	header := http.Header{}
	header.Set("Authorization", "Apikey secret-key")
	assert.NoError(t, a.Verify(header, nil))

	header.Set("Authorization", "Apikey wrong")
	err := a.Verify(header, nil)
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeUnauthorized, pkgerrors.CodeOf(err))

	err = a.Verify(http.Header{}, nil)
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeUnauthorized, pkgerrors.CodeOf(err))
}

func TestSepayVerifyWithoutConfiguredKey(t *testing.T) {
	a := NewSepayAdapter("")
	err := a.Verify(http.Header{}, nil)
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeConfig, pkgerrors.CodeOf(err))
}

func TestSepayParseSingleObject(t *testing.T) {
	a := NewSepayAdapter("k")
	body := []byte(`{
		"id": 92704,
		"gateway": "Vietcombank",
		"transactionDate": "2026-09-01 10:15:00",
		"accountNumber": "0011223344",
		"content": "CK DH12345678ABCDEFG",
		"transferType": "in",
		"transferAmount": 50000,
		"accumulated": 982000
	}`)

	txs, err := a.Parse(body)
	require.NoError(t, err)
	require.Len(t, txs, 1)

	tx := txs[0]
	assert.Equal(t, enums.PortalSepay, tx.Portal)
	assert.Equal(t, "92704", tx.PortalTransactionID)
	assert.Equal(t, int64(50000), tx.AmountMinor)
	assert.Equal(t, "0011223344", tx.AccountNumber)
	assert.Equal(t, "CK DH12345678ABCDEFG", tx.Description)
	assert.Equal(t, int64(982000), tx.BalanceAfterMinor)
	assert.Equal(t, time.Date(2026, 9, 1, 10, 15, 0, 0, time.UTC), tx.OccurredAt)
}

func TestSepayParseArrayAndOutgoingSign(t *testing.T) {
	a := NewSepayAdapter("k")
	body := []byte(`[
		{"id": "1", "accountNumber": "0011", "transferType": "in", "transferAmount": "120000.00", "accumulated": 120000},
		{"id": "2", "accountNumber": "0011", "transferType": "out", "transferAmount": 30000, "accumulated": 90000}
	]`)

	txs, err := a.Parse(body)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, int64(120000), txs[0].AmountMinor)
	assert.Equal(t, int64(-30000), txs[1].AmountMinor)
}

func TestSepayParseRejectsBadTransactionID(t *testing.T) {
	a := NewSepayAdapter("k")
	for _, id := range []string{`"0"`, `"-5"`, `"12abc"`, `""`} {
		body := []byte(fmt.Sprintf(`{"id": %s, "accountNumber": "0011", "transferType": "in", "transferAmount": 10, "accumulated": 10}`, id))
		_, err := a.Parse(body)
		require.Error(t, err, id)
		assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))
	}
}

func TestSepayParseRejectsFractionalAmount(t *testing.T) {
	a := NewSepayAdapter("k")
	body := []byte(`{"id": 7, "accountNumber": "0011", "transferType": "in", "transferAmount": "10.55", "accumulated": 10}`)
	_, err := a.Parse(body)
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))
}

func TestCassoVerify(t *testing.T) {
	a := NewCassoAdapter("tok")

	header := http.Header{}
	header.Set("Secure-Token", "tok")
	assert.NoError(t, a.Verify(header, nil))

	header.Set("Secure-Token", "nope")
	err := a.Verify(header, nil)
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeUnauthorized, pkgerrors.CodeOf(err))
}

func TestCassoParseEnvelope(t *testing.T) {
	a := NewCassoAdapter("tok")
	body := []byte(`{
		"error": 0,
		"data": [
			{"id": 311, "tid": "FT123", "description": "DH12345678ABCDEFG", "amount": 75000, "cusum_balance": 500000, "when": "2026-09-01T03:00:00Z", "bank_sub_acc_id": "889900"}
		]
	}`)

	txs, err := a.Parse(body)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, enums.PortalCasso, txs[0].Portal)
	assert.Equal(t, "311", txs[0].PortalTransactionID)
	assert.Equal(t, int64(75000), txs[0].AmountMinor)
	assert.Equal(t, "889900", txs[0].AccountNumber)
}

func TestCassoParseBareShapes(t *testing.T) {
	a := NewCassoAdapter("tok")

	txs, err := a.Parse([]byte(`[{"id": 1, "amount": 100, "cusum_balance": 100, "bank_sub_acc_id": "1"}]`))
	require.NoError(t, err)
	assert.Len(t, txs, 1)

	txs, err = a.Parse([]byte(`{"id": 2, "amount": 200, "cusum_balance": 300, "bank_sub_acc_id": "1"}`))
	require.NoError(t, err)
	assert.Len(t, txs, 1)
}

func TestCassoParseErroredEnvelope(t *testing.T) {
	a := NewCassoAdapter("tok")
	_, err := a.Parse([]byte(`{"error": 1, "data": [{"id": 1, "amount": 1, "cusum_balance": 1, "bank_sub_acc_id": "1"}]}`))
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))
}

func newPayosAdapterAt(secret string, at time.Time) *PayosAdapter {
	a := NewPayosAdapter(secret, 5*time.Minute)
	a.now = func() time.Time { return at }
	return a
}

func TestPayosVerifyAcceptsValidSignature(t *testing.T) {
	now := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
	a := newPayosAdapterAt("checksum-key", now)

	body := []byte(`{"code":"00","data":{"transactionId":5,"amount":1000,"accountNumber":"1","balanceRemaining":1000}}`)
	timestamp := strconv.FormatInt(now.Unix(), 10)
	signature, err := a.sign(body, timestamp)
	require.NoError(t, err)

	header := http.Header{}
	header.Set(payosSignatureHeader, signature)
	header.Set(payosTimestampHeader, timestamp)
	assert.NoError(t, a.Verify(header, body))
}

func TestPayosVerifySignatureSurvivesKeyReordering(t *testing.T) {
	now := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
	a := newPayosAdapterAt("checksum-key", now)

	original := []byte(`{"b": 2, "a": {"y": [1, 2], "x": "v"}}`)
	reordered := []byte(`{"a": {"x": "v", "y": [1, 2]}, "b": 2}`)

	timestamp := strconv.FormatInt(now.Unix(), 10)
	sig1, err := a.sign(original, timestamp)
	require.NoError(t, err)
	sig2, err := a.sign(reordered, timestamp)
	require.NoError(t, err)
	assert.Equal(t, sig1, sig2)
}

func TestPayosVerifyRejectsTampering(t *testing.T) {
	now := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
	a := newPayosAdapterAt("checksum-key", now)

	body := []byte(`{"amount": 1000}`)
	timestamp := strconv.FormatInt(now.Unix(), 10)
	signature, err := a.sign(body, timestamp)
	require.NoError(t, err)

	header := http.Header{}
	header.Set(payosSignatureHeader, signature)
	header.Set(payosTimestampHeader, timestamp)

	err = a.Verify(header, []byte(`{"amount": 9000}`))
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeUnauthorized, pkgerrors.CodeOf(err))
}

func TestPayosVerifyRejectsStaleTimestamp(t *testing.T) {
	now := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
	a := newPayosAdapterAt("checksum-key", now)

	body := []byte(`{"amount": 1000}`)
	stale := strconv.FormatInt(now.Add(-10*time.Minute).Unix(), 10)
	signature, err := a.sign(body, stale)
	require.NoError(t, err)

	header := http.Header{}
	header.Set(payosSignatureHeader, signature)
	header.Set(payosTimestampHeader, stale)

	err = a.Verify(header, body)
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeUnauthorized, pkgerrors.CodeOf(err))
}

func TestPayosParseEnvelopeArray(t *testing.T) {
	a := NewPayosAdapter("k", 0)
	body := []byte(`{
		"code": "00",
		"desc": "success",
		"data": [
			{"transactionId": 41, "amount": 25000, "accountNumber": "556677", "description": "DH12345678ABCDEFG", "balanceRemaining": 125000, "transactionDateTime": "2026-09-01T10:00:00Z"}
		]
	}`)

	txs, err := a.Parse(body)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, enums.PortalPayos, txs[0].Portal)
	assert.Equal(t, "41", txs[0].PortalTransactionID)
	assert.Equal(t, int64(25000), txs[0].AmountMinor)
}

func TestPayosParseSingleDataObject(t *testing.T) {
	a := NewPayosAdapter("k", 0)
	body := []byte(`{"code": "00", "data": {"transactionId": 42, "amount": 1000, "accountNumber": "1", "balanceRemaining": 1000}}`)

	txs, err := a.Parse(body)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, "42", txs[0].PortalTransactionID)
}

func TestPayosParseRejectsFailedCode(t *testing.T) {
	a := NewPayosAdapter("k", 0)
	_, err := a.Parse([]byte(`{"code": "01", "data": [{"transactionId": 1, "amount": 1, "accountNumber": "1", "balanceRemaining": 1}]}`))
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))
}

func TestNormalizedTransactionValidate(t *testing.T) {
	base := NormalizedTransaction{
		Portal:              enums.PortalSepay,
		PortalTransactionID: "10",
		AccountNumber:       "0011",
	}
	assert.NoError(t, base.Validate())

	bad := base
	bad.PortalTransactionID = "abc"
	assert.Error(t, bad.Validate())

	bad = base
	bad.AccountNumber = ""
	assert.Error(t, bad.Validate())

	bad = base
	bad.Portal = enums.Portal("zelle")
	assert.Error(t, bad.Validate())
}
