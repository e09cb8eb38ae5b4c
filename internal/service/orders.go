package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"coachpay/internal/apperr"
	"coachpay/internal/gateway"
	"coachpay/internal/metrics"
	"coachpay/internal/model"
	"coachpay/internal/obs"
)

var errInvalidAmount = errors.New("amount must be a positive number")

// maxMinorUnits keeps amounts exactly representable as float64.
const maxMinorUnits = 1 << 53

type Orders struct {
	gateways map[string]gateway.Gateway
	metrics  *metrics.Metrics
}

func NewOrders(m *metrics.Metrics, gateways ...gateway.Gateway) *Orders {
	byName := make(map[string]gateway.Gateway, len(gateways))
	for _, g := range gateways {
		byName[g.Provider()] = g
	}
	return &Orders{gateways: byName, metrics: m}
}

func (s *Orders) CreateOrder(ctx context.Context, provider string, req model.OrderRequest) (*model.Order, error) {
	gw, ok := s.gateways[provider]
	if !ok {
		return nil, apperr.New(apperr.KindNotFound, "unknown payment provider")
	}

	params, err := s.orderParams(gw, req)
	if err != nil {
		return nil, err
	}

	ctx, span := obs.Tracer().Start(ctx, "orders.create", trace.WithAttributes(
		attribute.String("provider", provider),
		attribute.Int64("amount", params.Amount),
	))
	defer span.End()

	start := time.Now()
	order, err := gw.CreateOrder(ctx, params)
	s.metrics.ProviderLatency.WithLabelValues(provider, "create_order").Observe(time.Since(start).Seconds())
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		s.metrics.OrdersCreated.WithLabelValues(provider, apperr.KindOf(err).String()).Inc()
		slog.Error("order creation failed", "provider", provider, "user_id", req.UserID, "error", err)
		return nil, err
	}

	s.metrics.OrdersCreated.WithLabelValues(provider, "ok").Inc()
	slog.Info("order created", "provider", provider, "order_id", order.ID, "user_id", req.UserID, "amount", order.Amount)
	return order, nil
}

// orderParams validates the request before any provider call is made.
func (s *Orders) orderParams(gw gateway.Gateway, req model.OrderRequest) (gateway.OrderParams, error) {
	amount, rounded, err := minorUnits(req.Amount)
	if err != nil {
		return gateway.OrderParams{}, apperr.Wrap(apperr.KindValidation, "invalid amount", err)
	}
	if rounded {
		slog.Warn("order amount rounded to minor unit", "provider", gw.Provider(), "requested", req.Amount.String(), "amount", amount)
		s.metrics.OrdersAmountRounded.WithLabelValues(gw.Provider()).Inc()
	}

	currency := strings.TrimSpace(req.Currency)
	if currency == "" {
		currency = gw.DefaultCurrency()
	}
	if !isCurrencyCode(currency) {
		return gateway.OrderParams{}, apperr.Validation("invalid currency")
	}

	if strings.TrimSpace(req.UserID) == "" {
		return gateway.OrderParams{}, apperr.Validation("missing userId")
	}
	if strings.TrimSpace(req.ProductName) == "" {
		return gateway.OrderParams{}, apperr.Validation("missing productName")
	}

	months := req.DurationMonths
	if months == 0 {
		months = 1
	}
	if months < 0 || months > model.MaxDurationMonths {
		return gateway.OrderParams{}, apperr.Validation("invalid durationMonths")
	}

	meta := map[string]string{
		model.MetaUserID:         req.UserID,
		model.MetaDurationMonths: strconv.Itoa(months),
	}
	if req.ProgramID != "" {
		meta[model.MetaProgramID] = req.ProgramID
	}
	if req.TransactionID != "" {
		meta[model.MetaTransactionID] = req.TransactionID
	}
	if req.CustomerEmail != "" {
		meta[model.MetaCustomerEmail] = req.CustomerEmail
	}

	return gateway.OrderParams{
		Amount:        amount,
		Currency:      currency,
		ProductName:   req.ProductName,
		Description:   req.Description,
		CustomerEmail: req.CustomerEmail,
		SuccessURL:    req.SuccessURL,
		CancelURL:     req.CancelURL,
		Metadata:      meta,
	}, nil
}

// minorUnits parses an amount in minor units. Fractions are rounded to the
// nearest unit; the bool reports whether that happened.
func minorUnits(n json.Number) (int64, bool, error) {
	if n == "" {
		return 0, false, errInvalidAmount
	}
	f, err := strconv.ParseFloat(string(n), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f <= 0 {
		return 0, false, errInvalidAmount
	}
	r := math.Round(f)
	if r < 1 || r > maxMinorUnits {
		return 0, false, errInvalidAmount
	}
	return int64(r), r != f, nil
}

func isCurrencyCode(s string) bool {
	if len(s) != 3 {
		return false
	}
	for _, r := range s {
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') {
			return false
		}
	}
	return true
}
