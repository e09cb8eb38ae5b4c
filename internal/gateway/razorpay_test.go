package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coachpay/internal/apperr"
	"coachpay/internal/model"
)

type fakeOrders struct {
	createData map[string]interface{}
	createErr  error
	fetched    []string
	order      map[string]interface{}
}

func (f *fakeOrders) Create(data map[string]interface{}, _ map[string]string) (map[string]interface{}, error) {
	f.createData = data
	if f.createErr != nil {
		return nil, f.createErr
	}
	return map[string]interface{}{"id": "order_1", "status": "created"}, nil
}

func (f *fakeOrders) Fetch(orderID string, _ map[string]interface{}, _ map[string]string) (map[string]interface{}, error) {
	f.fetched = append(f.fetched, orderID)
	return f.order, nil
}

func sign(message, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}

func testRazorpay(o RazorpayOrders) *Razorpay {
	return NewRazorpayWithOrders(o, RazorpayConfig{KeyID: "rzp_test", KeySecret: "key-secret", WebhookSecret: "hook-secret"})
}

func TestRazorpay_CreateOrder(t *testing.T) {
	fo := &fakeOrders{}
	gw := testRazorpay(fo)

	order, err := gw.CreateOrder(context.Background(), OrderParams{
		Amount:   50000,
		Currency: "inr",
		Metadata: map[string]string{model.MetaUserID: "u1", model.MetaTransactionID: "t1"},
	})
	require.NoError(t, err)
	assert.Equal(t, "order_1", order.ID)
	assert.Equal(t, "rzp_test", order.KeyID)
	assert.Equal(t, "INR", fo.createData["currency"])
	assert.Equal(t, int64(50000), fo.createData["amount"])
	assert.Equal(t, "t1", fo.createData["receipt"])
	assert.Equal(t, "u1", fo.createData["notes"].(map[string]interface{})[model.MetaUserID])
}

func TestRazorpay_CreateOrderErrors(t *testing.T) {
	_, err := NewRazorpay(RazorpayConfig{}).CreateOrder(context.Background(), OrderParams{Amount: 1})
	assert.True(t, apperr.Is(err, apperr.KindConfig))

	gw := testRazorpay(&fakeOrders{createErr: errors.New("BAD_REQUEST_ERROR: The amount must be atleast INR 1.00")})
	_, err = gw.CreateOrder(context.Background(), OrderParams{Amount: 1})
	assert.True(t, apperr.Is(err, apperr.KindUpstream))
	_, _, code := apperr.Public(err)
	assert.Equal(t, "BAD_REQUEST_ERROR", code)

	gw = testRazorpay(&fakeOrders{createErr: errors.New("SERVER_ERROR: try again")})
	_, err = gw.CreateOrder(context.Background(), OrderParams{Amount: 1})
	assert.True(t, apperr.Is(err, apperr.KindUnavailable))
}

func TestRazorpay_VerifyPayment(t *testing.T) {
	fo := &fakeOrders{order: map[string]interface{}{
		"id":          "order_1",
		"amount_paid": float64(50000),
		"currency":    "INR",
		"notes": map[string]interface{}{
			model.MetaUserID: "u1", model.MetaProgramID: "p9", model.MetaDurationMonths: "6", model.MetaCustomerEmail: "a@b.co",
		},
	}}
	gw := testRazorpay(fo)

	c, err := gw.VerifyPayment(context.Background(), "order_1", "pay_1", sign("order_1|pay_1", "key-secret"))
	require.NoError(t, err)
	assert.Equal(t, "razorpay:order_1", c.IdempotencyKey())
	assert.Equal(t, "pay_1", c.TransactionRef)
	assert.Equal(t, 6, c.DurationMonths)
	assert.Equal(t, int64(50000), c.AmountPaid)
	assert.Equal(t, "a@b.co", c.Email, "callback carries the email stored in order notes")

	_, err = gw.VerifyPayment(context.Background(), "order_1", "pay_1", sign("order_1|pay_2", "key-secret"))
	assert.True(t, apperr.Is(err, apperr.KindAuth))
	assert.Len(t, fo.fetched, 1)
}

const orderPaidBody = `{
  "event": "order.paid",
  "payload": {
    "payment": {"entity": {"id": "pay_1", "order_id": "order_1", "amount": 50000, "currency": "INR", "email": "a@b.co", "notes": []}},
    "order": {"entity": {"id": "order_1", "amount_paid": 50000, "currency": "INR", "notes": {"userId": "u1", "programId": "p9", "durationMonths": "1"}}}
  }
}`

func TestRazorpay_ParseWebhook(t *testing.T) {
	gw := testRazorpay(&fakeOrders{})

	c, err := gw.ParseWebhook(context.Background(), []byte(orderPaidBody), sign(orderPaidBody, "hook-secret"))
	require.NoError(t, err)
	assert.Equal(t, "razorpay:order_1", c.IdempotencyKey())
	assert.Equal(t, "u1", c.UserID)
	assert.Equal(t, "p9", c.ProgramID)
	assert.Equal(t, "a@b.co", c.Email)

	_, err = gw.ParseWebhook(context.Background(), []byte(orderPaidBody), sign(orderPaidBody, "other"))
	assert.True(t, apperr.Is(err, apperr.KindAuth))

	_, err = gw.ParseWebhook(context.Background(), []byte(orderPaidBody), "")
	assert.True(t, apperr.Is(err, apperr.KindAuth))

	failed := `{"event":"payment.failed","payload":{}}`
	_, err = gw.ParseWebhook(context.Background(), []byte(failed), sign(failed, "hook-secret"))
	assert.ErrorIs(t, err, ErrIgnored)
}

func TestRazorpay_PaymentCapturedFetchesOrderNotes(t *testing.T) {
	fo := &fakeOrders{order: map[string]interface{}{
		"id":    "order_2",
		"notes": map[string]interface{}{model.MetaUserID: "u2", model.MetaCustomerEmail: "u2@b.co"},
	}}
	gw := testRazorpay(fo)

	body := `{"event":"payment.captured","payload":{"payment":{"entity":{"id":"pay_2","order_id":"order_2","amount":100,"currency":"INR","notes":[]}}}}`
	c, err := gw.ParseWebhook(context.Background(), []byte(body), sign(body, "hook-secret"))
	require.NoError(t, err)
	assert.Equal(t, []string{"order_2"}, fo.fetched)
	assert.Equal(t, "u2", c.UserID)
	assert.Equal(t, "pay_2", c.TransactionRef)
	assert.Equal(t, "u2@b.co", c.Email, "payment without email keeps the order email")
}

func TestRazorpay_DurationOutOfRange(t *testing.T) {
	for _, months := range []string{"0", "-3", "121", "99999999999"} {
		fo := &fakeOrders{order: map[string]interface{}{
			"id":    "order_3",
			"notes": map[string]interface{}{model.MetaUserID: "u3", model.MetaDurationMonths: months},
		}}
		_, err := testRazorpay(fo).VerifyPayment(context.Background(), "order_3", "pay_3", sign("order_3|pay_3", "key-secret"))
		assert.True(t, apperr.Is(err, apperr.KindValidation), months)
	}
}
