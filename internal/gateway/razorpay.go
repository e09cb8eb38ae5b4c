package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	razorpay "github.com/razorpay/razorpay-go"

	"coachpay/internal/apperr"
	"coachpay/internal/model"
)

// RazorpayOrders is the slice of the Razorpay client this service uses.
// *resources.Order satisfies it.
type RazorpayOrders interface {
	Create(data map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error)
	Fetch(orderID string, queryParams map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error)
}

type RazorpayConfig struct {
	KeyID         string
	KeySecret     string
	WebhookSecret string
}

type Razorpay struct {
	orders RazorpayOrders
	cfg    RazorpayConfig
}

func NewRazorpay(cfg RazorpayConfig) *Razorpay {
	var orders RazorpayOrders
	if cfg.KeyID != "" && cfg.KeySecret != "" {
		orders = razorpay.NewClient(cfg.KeyID, cfg.KeySecret).Order
	}
	return NewRazorpayWithOrders(orders, cfg)
}

func NewRazorpayWithOrders(orders RazorpayOrders, cfg RazorpayConfig) *Razorpay {
	return &Razorpay{orders: orders, cfg: cfg}
}

func (r *Razorpay) Provider() string        { return model.ProviderRazorpay }
func (r *Razorpay) DefaultCurrency() string { return "INR" }

func (r *Razorpay) CreateOrder(_ context.Context, p OrderParams) (*model.Order, error) {
	if r.orders == nil {
		return nil, errMissingConfig("razorpay_key")
	}

	notes := map[string]interface{}{}
	for k, v := range p.Metadata {
		notes[k] = v
	}
	data := map[string]interface{}{
		"amount":   p.Amount,
		"currency": strings.ToUpper(p.Currency),
		"notes":    notes,
	}
	if txn := p.Metadata[model.MetaTransactionID]; txn != "" && len(txn) <= 40 {
		data["receipt"] = txn
	}

	body, err := r.orders.Create(data, nil)
	if err != nil {
		return nil, classifyRazorpay(err)
	}
	id, _ := body["id"].(string)
	if id == "" {
		return nil, apperr.New(apperr.KindUnavailable, "provider unavailable")
	}
	return &model.Order{
		ID:       id,
		Provider: model.ProviderRazorpay,
		Amount:   p.Amount,
		Currency: strings.ToUpper(p.Currency),
		KeyID:    r.cfg.KeyID,
	}, nil
}

// VerifyPayment checks the checkout callback signature over
// "<order_id>|<payment_id>" and reads the correlation notes back from the
// order itself rather than trusting the client.
func (r *Razorpay) VerifyPayment(ctx context.Context, orderID, paymentID, signature string) (*model.PaymentConfirmation, error) {
	if r.orders == nil || r.cfg.KeySecret == "" {
		return nil, errMissingConfig("razorpay_key")
	}
	if orderID == "" || paymentID == "" || signature == "" {
		return nil, apperr.Validation("missing razorpay payment fields")
	}
	if !validHMAC(orderID+"|"+paymentID, signature, r.cfg.KeySecret) {
		return nil, apperr.Auth("invalid signature")
	}

	c, err := r.fetchConfirmation(ctx, orderID)
	if err != nil {
		return nil, err
	}
	c.TransactionRef = paymentID
	return c, nil
}

type razorpayNotes map[string]string

// UnmarshalJSON accepts the empty array Razorpay sends for "no notes" and
// stringifies non-string values.
func (n *razorpayNotes) UnmarshalJSON(b []byte) error {
	var raw map[string]interface{}
	if err := json.Unmarshal(b, &raw); err != nil {
		var arr []interface{}
		if json.Unmarshal(b, &arr) == nil {
			*n = razorpayNotes{}
			return nil
		}
		return err
	}
	*n = notesFrom(raw)
	return nil
}

func notesFrom(raw map[string]interface{}) razorpayNotes {
	out := razorpayNotes{}
	for k, v := range raw {
		switch t := v.(type) {
		case string:
			out[k] = t
		case nil:
		default:
			out[k] = fmt.Sprint(t)
		}
	}
	return out
}

type razorpayWebhook struct {
	Event   string `json:"event"`
	Payload struct {
		Payment *struct {
			Entity struct {
				ID       string        `json:"id"`
				OrderID  string        `json:"order_id"`
				Amount   int64         `json:"amount"`
				Currency string        `json:"currency"`
				Email    string        `json:"email"`
				Notes    razorpayNotes `json:"notes"`
			} `json:"entity"`
		} `json:"payment"`
		Order *struct {
			Entity struct {
				ID         string        `json:"id"`
				AmountPaid int64         `json:"amount_paid"`
				Currency   string        `json:"currency"`
				Notes      razorpayNotes `json:"notes"`
			} `json:"entity"`
		} `json:"order"`
	} `json:"payload"`
}

// ParseWebhook verifies X-Razorpay-Signature (hex HMAC-SHA256 of the raw
// body) and handles order.paid and payment.captured.
func (r *Razorpay) ParseWebhook(ctx context.Context, payload []byte, signature string) (*model.PaymentConfirmation, error) {
	if r.cfg.WebhookSecret == "" || signature == "" {
		return nil, apperr.Auth("invalid signature")
	}
	if !validHMAC(string(payload), signature, r.cfg.WebhookSecret) {
		return nil, apperr.Auth("invalid signature")
	}

	var wh razorpayWebhook
	if err := json.Unmarshal(payload, &wh); err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, "malformed webhook payload", err)
	}
	if wh.Event != "order.paid" && wh.Event != "payment.captured" {
		return nil, ErrIgnored
	}
	if wh.Payload.Payment == nil {
		return nil, apperr.Validation("webhook payload missing payment")
	}
	pay := wh.Payload.Payment.Entity

	var c *model.PaymentConfirmation
	var err error
	switch {
	case wh.Payload.Order != nil:
		ord := wh.Payload.Order.Entity
		c, err = confirmationFromMeta(model.ProviderRazorpay, ord.Notes)
		if err == nil {
			c.OrderRef = ord.ID
			c.AmountPaid = ord.AmountPaid
			c.Currency = ord.Currency
		}
	case pay.Notes[model.MetaUserID] != "":
		c, err = confirmationFromMeta(model.ProviderRazorpay, pay.Notes)
		if err == nil {
			c.OrderRef = pay.OrderID
			c.AmountPaid = pay.Amount
			c.Currency = pay.Currency
		}
	default:
		c, err = r.fetchConfirmation(ctx, pay.OrderID)
	}
	if err != nil {
		return nil, err
	}
	if c.OrderRef == "" {
		return nil, apperr.Validation("webhook payload missing order id")
	}
	c.TransactionRef = pay.ID
	c.Email = firstNonEmpty(pay.Email, c.Email)
	return c, nil
}

func (r *Razorpay) fetchConfirmation(_ context.Context, orderID string) (*model.PaymentConfirmation, error) {
	if r.orders == nil {
		return nil, errMissingConfig("razorpay_key")
	}
	if orderID == "" {
		return nil, apperr.Validation("missing order id")
	}
	body, err := r.orders.Fetch(orderID, nil, nil)
	if err != nil {
		return nil, classifyRazorpay(err)
	}

	raw, _ := body["notes"].(map[string]interface{})
	c, err := confirmationFromMeta(model.ProviderRazorpay, notesFrom(raw))
	if err != nil {
		return nil, err
	}
	c.OrderRef = orderID
	if paid, ok := body["amount_paid"].(float64); ok {
		c.AmountPaid = int64(paid)
	}
	c.Currency, _ = body["currency"].(string)
	return c, nil
}

func validHMAC(message, signature, secret string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(message))
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(signature)))
}

// classifyRazorpay: the SDK flattens HTTP failures into plain errors whose
// text carries Razorpay's error code.
func classifyRazorpay(err error) error {
	if classifyTransport(err) || strings.Contains(err.Error(), "SERVER_ERROR") {
		return apperr.Wrap(apperr.KindUnavailable, "provider unavailable", err)
	}
	e := &apperr.Error{Kind: apperr.KindUpstream, Message: "invalid request", Err: err}
	if strings.Contains(err.Error(), "BAD_REQUEST_ERROR") {
		e.Code = "BAD_REQUEST_ERROR"
	}
	return e
}
