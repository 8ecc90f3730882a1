package types

// WebhookEnvelope is the top-level body returned to aggregators. The HTTP
// status is 200 regardless of per-transaction outcomes; failure detail lives
// in Results.
type WebhookEnvelope struct {
	Success   bool                `json:"success"`
	Processed int                 `json:"processed"`
	Results   []TransactionResult `json:"results"`
}

// TransactionResult reports the terminal outcome of one transaction.
type TransactionResult struct {
	ID      string `json:"id"`
	Status  string `json:"status"`
	BankID  string `json:"bankId,omitempty"`
	OrderID string `json:"odrId,omitempty"`
	Amount  *int64 `json:"amount,omitempty"`
	Message string `json:"message"`
}

type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

type SuccessEnvelope struct {
	Data any `json:"data"`
}
