package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
	"github.com/stripe/stripe-go/v82/webhook"

	"coachpay/internal/apperr"
	"coachpay/internal/model"
)

// CheckoutSessions is the slice of the Stripe client this service uses.
// *session.Client satisfies it.
type CheckoutSessions interface {
	New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	Get(id string, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	SuccessURL    string
	CancelURL     string
}

type Stripe struct {
	sessions CheckoutSessions
	cfg      StripeConfig
}

// NewStripe builds the API client once. Without a secret key the gateway is
// still constructed and reports a configuration error per request.
func NewStripe(cfg StripeConfig) *Stripe {
	var sessions CheckoutSessions
	if cfg.SecretKey != "" {
		sc := &client.API{}
		sc.Init(cfg.SecretKey, nil)
		sessions = sc.CheckoutSessions
	}
	return NewStripeWithSessions(sessions, cfg)
}

func NewStripeWithSessions(sessions CheckoutSessions, cfg StripeConfig) *Stripe {
	return &Stripe{sessions: sessions, cfg: cfg}
}

func (s *Stripe) Provider() string        { return model.ProviderStripe }
func (s *Stripe) DefaultCurrency() string { return "usd" }

func (s *Stripe) CreateOrder(ctx context.Context, p OrderParams) (*model.Order, error) {
	if s.sessions == nil {
		return nil, errMissingConfig("stripe_secret_key")
	}

	successURL := firstNonEmpty(p.SuccessURL, s.cfg.SuccessURL)
	cancelURL := firstNonEmpty(p.CancelURL, s.cfg.CancelURL)
	if successURL == "" || cancelURL == "" {
		return nil, errMissingConfig("stripe_redirect_urls")
	}

	product := &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
		Name: stripe.String(p.ProductName),
	}
	if p.Description != "" {
		product.Description = stripe.String(p.Description)
	}

	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:    stripe.String(strings.ToLower(p.Currency)),
				UnitAmount:  stripe.Int64(p.Amount),
				ProductData: product,
			},
			Quantity: stripe.Int64(1),
		}},
		SuccessURL:        stripe.String(successURL),
		CancelURL:         stripe.String(cancelURL),
		ClientReferenceID: stripe.String(p.Metadata[model.MetaUserID]),
	}
	if p.CustomerEmail != "" {
		params.CustomerEmail = stripe.String(p.CustomerEmail)
	}
	params.Context = ctx
	for k, v := range p.Metadata {
		params.AddMetadata(k, v)
	}

	sess, err := s.sessions.New(params)
	if err != nil {
		return nil, classifyStripe(err)
	}
	return &model.Order{
		ID:          sess.ID,
		RedirectURL: sess.URL,
		Provider:    model.ProviderStripe,
		Amount:      p.Amount,
		Currency:    strings.ToLower(p.Currency),
	}, nil
}

// ConfirmCheckout re-fetches a session the client claims is complete. Only a
// paid session yields a confirmation.
func (s *Stripe) ConfirmCheckout(ctx context.Context, sessionID string) (*model.PaymentConfirmation, error) {
	if s.sessions == nil {
		return nil, errMissingConfig("stripe_secret_key")
	}
	if sessionID == "" {
		return nil, apperr.Validation("missing session_id")
	}

	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	sess, err := s.sessions.Get(sessionID, params)
	if err != nil {
		return nil, classifyStripe(err)
	}
	if sess.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
		return nil, &apperr.Error{Kind: apperr.KindValidation, Message: "payment not completed", Code: string(sess.PaymentStatus)}
	}
	return sessionConfirmation(sess)
}

// ParseWebhook verifies the Stripe-Signature header and extracts a
// confirmation from checkout completion events. Other event types return
// ErrIgnored.
func (s *Stripe) ParseWebhook(payload []byte, sigHeader string) (*model.PaymentConfirmation, error) {
	if s.cfg.WebhookSecret == "" || sigHeader == "" {
		return nil, apperr.Auth("invalid signature")
	}
	event, err := webhook.ConstructEventWithOptions(payload, sigHeader, s.cfg.WebhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.KindAuth, "invalid signature", err)
	}

	switch event.Type {
	case stripe.EventTypeCheckoutSessionCompleted, stripe.EventTypeCheckoutSessionAsyncPaymentSucceeded:
	default:
		return nil, ErrIgnored
	}

	var sess stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, "malformed checkout session", err)
	}
	// A completed session with a delayed payment method is confirmed later by
	// async_payment_succeeded.
	if sess.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
		return nil, ErrIgnored
	}
	return sessionConfirmation(&sess)
}

func sessionConfirmation(sess *stripe.CheckoutSession) (*model.PaymentConfirmation, error) {
	meta := map[string]string{}
	for k, v := range sess.Metadata {
		meta[k] = v
	}
	if meta[model.MetaUserID] == "" {
		meta[model.MetaUserID] = sess.ClientReferenceID
	}
	c, err := confirmationFromMeta(model.ProviderStripe, meta)
	if err != nil {
		return nil, err
	}

	c.OrderRef = sess.ID
	c.TransactionRef = sess.ID
	if sess.PaymentIntent != nil && sess.PaymentIntent.ID != "" {
		c.TransactionRef = sess.PaymentIntent.ID
	}
	c.AmountPaid = sess.AmountTotal
	c.Currency = string(sess.Currency)
	var detailsEmail string
	if sess.CustomerDetails != nil {
		detailsEmail = sess.CustomerDetails.Email
	}
	c.Email = firstNonEmpty(detailsEmail, sess.CustomerEmail, c.Email)
	return c, nil
}

// classifyStripe maps SDK failures onto the error taxonomy: rejected requests
// keep Stripe's type and code, outages are retryable.
func classifyStripe(err error) error {
	var serr *stripe.Error
	if errors.As(err, &serr) {
		if serr.HTTPStatusCode >= http.StatusInternalServerError || serr.Type == stripe.ErrorTypeAPI {
			return apperr.Wrap(apperr.KindUnavailable, "provider unavailable", err)
		}
		return &apperr.Error{
			Kind:    apperr.KindUpstream,
			Message: "invalid request",
			Type:    string(serr.Type),
			Code:    string(serr.Code),
			Err:     err,
		}
	}
	// Anything that is not an API error never got a response from Stripe.
	return apperr.Wrap(apperr.KindUnavailable, "provider unavailable", fmt.Errorf("stripe: %w", err))
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
