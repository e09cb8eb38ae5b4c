package service

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coachpay/internal/apperr"
	"coachpay/internal/metrics"
	"coachpay/internal/model"
)

func validOrder(amount string) model.OrderRequest {
	return model.OrderRequest{
		ProductName:    "12-week coaching",
		Amount:         json.Number(amount),
		UserID:         "u1",
		ProgramID:      "p9",
		DurationMonths: 3,
	}
}

func TestCreateOrder_PositiveAmount(t *testing.T) {
	gw := &fakeGateway{provider: model.ProviderStripe}
	svc := NewOrders(metrics.Nop(), gw)

	order, err := svc.CreateOrder(context.Background(), model.ProviderStripe, validOrder("4900"))
	require.NoError(t, err)
	assert.Equal(t, "ord_1", order.ID)
	assert.NotEmpty(t, order.RedirectURL)

	require.Len(t, gw.calls, 1)
	p := gw.calls[0]
	assert.Equal(t, int64(4900), p.Amount)
	assert.Equal(t, "usd", p.Currency)
	assert.Equal(t, map[string]string{
		model.MetaUserID:         "u1",
		model.MetaProgramID:      "p9",
		model.MetaDurationMonths: "3",
	}, p.Metadata)
}

func TestCreateOrder_InvalidAmountMakesNoProviderCall(t *testing.T) {
	for _, amount := range []string{"0", "-5", "0.4", "", "abc", "NaN"} {
		t.Run(amount, func(t *testing.T) {
			gw := &fakeGateway{provider: model.ProviderRazorpay}
			svc := NewOrders(metrics.Nop(), gw)

			_, err := svc.CreateOrder(context.Background(), model.ProviderRazorpay, validOrder(amount))
			assert.True(t, apperr.Is(err, apperr.KindValidation))
			assert.Empty(t, gw.calls)
		})
	}
}

func TestCreateOrder_RoundsFractionalAmount(t *testing.T) {
	gw := &fakeGateway{provider: model.ProviderRazorpay}
	m := metrics.Nop()
	svc := NewOrders(m, gw)

	_, err := svc.CreateOrder(context.Background(), model.ProviderRazorpay, validOrder("4999.6"))
	require.NoError(t, err)
	assert.Equal(t, int64(5000), gw.calls[0].Amount)
	assert.Equal(t, "INR", gw.calls[0].Currency)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OrdersAmountRounded.WithLabelValues(model.ProviderRazorpay)))
}

func TestCreateOrder_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*model.OrderRequest)
	}{
		{"bad currency", func(r *model.OrderRequest) { r.Currency = "dollars" }},
		{"no user", func(r *model.OrderRequest) { r.UserID = " " }},
		{"no product", func(r *model.OrderRequest) { r.ProductName = "" }},
		{"negative duration", func(r *model.OrderRequest) { r.DurationMonths = -1 }},
		{"duration over cap", func(r *model.OrderRequest) { r.DurationMonths = model.MaxDurationMonths + 1 }},
		{"huge duration", func(r *model.OrderRequest) { r.DurationMonths = 1 << 40 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw := &fakeGateway{provider: model.ProviderStripe}
			req := validOrder("100")
			tt.mutate(&req)

			_, err := NewOrders(metrics.Nop(), gw).CreateOrder(context.Background(), model.ProviderStripe, req)
			assert.True(t, apperr.Is(err, apperr.KindValidation))
			assert.Empty(t, gw.calls)
		})
	}
}

func TestCreateOrder_ProviderErrorsPassThrough(t *testing.T) {
	gw := &fakeGateway{provider: model.ProviderStripe, err: apperr.New(apperr.KindUnavailable, "provider unavailable")}
	_, err := NewOrders(metrics.Nop(), gw).CreateOrder(context.Background(), model.ProviderStripe, validOrder("100"))
	assert.True(t, apperr.Is(err, apperr.KindUnavailable))

	_, err = NewOrders(metrics.Nop(), gw).CreateOrder(context.Background(), "paypal", validOrder("100"))
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestCreateOrder_MetadataCarriesEmailAndDuration(t *testing.T) {
	gw := &fakeGateway{provider: model.ProviderRazorpay}
	req := validOrder("500")
	req.CustomerEmail = "a@b.co"
	req.DurationMonths = model.MaxDurationMonths

	_, err := NewOrders(metrics.Nop(), gw).CreateOrder(context.Background(), model.ProviderRazorpay, req)
	require.NoError(t, err)
	require.Len(t, gw.calls, 1)
	assert.Equal(t, "a@b.co", gw.calls[0].Metadata[model.MetaCustomerEmail])
	assert.Equal(t, "120", gw.calls[0].Metadata[model.MetaDurationMonths])
}
