package model

import "encoding/json"

const (
	ProviderStripe   = "stripe"
	ProviderRazorpay = "razorpay"
	SourceCalendly   = "calendly"
)

// OrderRequest is the client's order body. Amount stays a json.Number so a
// fractional value can be rounded rather than rejected by the decoder.
type OrderRequest struct {
	ProductName    string      `json:"productName"`
	Description    string      `json:"description,omitempty"`
	Amount         json.Number `json:"amount"`
	Currency       string      `json:"currency,omitempty"`
	CustomerEmail  string      `json:"customerEmail,omitempty"`
	UserID         string      `json:"userId"`
	ProgramID      string      `json:"programId,omitempty"`
	TransactionID  string      `json:"transactionId,omitempty"`
	DurationMonths int         `json:"durationMonths,omitempty"`
	SuccessURL     string      `json:"successUrl,omitempty"`
	CancelURL      string      `json:"cancelUrl,omitempty"`
}

type Order struct {
	ID          string `json:"id"`
	RedirectURL string `json:"url"`
	Provider    string `json:"provider"`
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency"`
	KeyID       string `json:"keyId,omitempty"`
}

// PaymentConfirmation is a provider-verified purchase outcome, normalized
// across gateways and confirmation paths.
type PaymentConfirmation struct {
	Provider       string `json:"provider"`
	TransactionRef string `json:"transaction_ref"`
	OrderRef       string `json:"order_ref"`
	AmountPaid     int64  `json:"amount_paid"`
	Currency       string `json:"currency"`
	UserID         string `json:"user_id"`
	ProgramID      string `json:"program_id,omitempty"`
	DurationMonths int    `json:"duration_months"`
	Email          string `json:"email,omitempty"`
}

// IdempotencyKey identifies the purchase, so the webhook and the client-driven
// confirmation of the same order collapse onto one ledger row.
func (c PaymentConfirmation) IdempotencyKey() string {
	return c.Provider + ":" + c.OrderRef
}

const (
	StatusProcessed = "processed"
	StatusDuplicate = "duplicate"
	StatusIgnored   = "ignored"
)

type ConfirmationResult struct {
	Status     string     `json:"status"`
	Membership Membership `json:"membership"`
	FirstTime  bool       `json:"first_time"`
}

// Metadata keys threaded through provider order metadata / notes.
const (
	MetaUserID         = "userId"
	MetaProgramID      = "programId"
	MetaTransactionID  = "transactionId"
	MetaDurationMonths = "durationMonths"
	MetaCustomerEmail  = "customerEmail"
)

// MaxDurationMonths caps how far a single purchase can extend a membership.
const MaxDurationMonths = 120
