package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"coachpay/internal/apperr"
	"coachpay/internal/auth"
	"coachpay/internal/gateway"
	"coachpay/internal/metrics"
	"coachpay/internal/model"
	"coachpay/internal/notify"
	"coachpay/internal/obs"
	"coachpay/internal/repository"
)

type stripeConfirmer interface {
	ConfirmCheckout(ctx context.Context, sessionID string) (*model.PaymentConfirmation, error)
	ParseWebhook(payload []byte, signature string) (*model.PaymentConfirmation, error)
}

type razorpayConfirmer interface {
	VerifyPayment(ctx context.Context, orderID, paymentID, signature string) (*model.PaymentConfirmation, error)
	ParseWebhook(ctx context.Context, payload []byte, signature string) (*model.PaymentConfirmation, error)
}

type PaymentDeps struct {
	Store           repository.RecordStore
	Stripe          stripeConfirmer
	Razorpay        razorpayConfirmer
	Mailer          notify.Mailer
	Bus             repository.MessageBus
	Claims          claimer
	Metrics         *metrics.Metrics
	WelcomeTemplate string
}

type Payments struct {
	deps PaymentDeps
	now  func() time.Time
}

func NewPayments(deps PaymentDeps) *Payments {
	if deps.Bus == nil {
		deps.Bus = repository.NoopBus{}
	}
	if deps.WelcomeTemplate == "" {
		deps.WelcomeTemplate = "welcome"
	}
	return &Payments{deps: deps, now: time.Now}
}

// ConfirmPayment applies a client-reported confirmation. The confirmation
// must belong to the session user.
func (s *Payments) ConfirmPayment(ctx context.Context, sessionUser string, c model.PaymentConfirmation) (*model.ConfirmationResult, error) {
	if sessionUser == "" || c.UserID != sessionUser {
		return nil, apperr.Auth("user mismatch")
	}
	if c.Email == "" {
		if sess, ok := auth.SessionFromContext(ctx); ok && sess.UserID == sessionUser {
			c.Email = sess.Email
		}
	}
	return s.apply(ctx, &c)
}

// ConfirmStripeCheckout handles the checkout success redirect. The session
// is re-read from Stripe; the query string is only a pointer to it.
func (s *Payments) ConfirmStripeCheckout(ctx context.Context, sessionUser, sessionID string) (*model.ConfirmationResult, error) {
	if s.deps.Stripe == nil {
		return nil, apperr.Config("configuration missing")
	}
	c, err := s.deps.Stripe.ConfirmCheckout(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return s.ConfirmPayment(ctx, sessionUser, *c)
}

func (s *Payments) ConfirmRazorpayPayment(ctx context.Context, sessionUser string, cb RazorpayCallback) (*model.ConfirmationResult, error) {
	if s.deps.Razorpay == nil {
		return nil, apperr.Config("configuration missing")
	}
	c, err := s.deps.Razorpay.VerifyPayment(ctx, cb.OrderID, cb.PaymentID, cb.Signature)
	if err != nil {
		s.rejected(model.ProviderRazorpay, err)
		return nil, err
	}
	return s.ConfirmPayment(ctx, sessionUser, *c)
}

// HandleStripeWebhook is authenticated by the Stripe-Signature header.
func (s *Payments) HandleStripeWebhook(ctx context.Context, payload []byte, signature string) (*model.ConfirmationResult, error) {
	if s.deps.Stripe == nil {
		return nil, apperr.Auth("invalid signature")
	}
	c, err := s.deps.Stripe.ParseWebhook(payload, signature)
	return s.webhook(ctx, model.ProviderStripe, c, err)
}

func (s *Payments) HandleRazorpayWebhook(ctx context.Context, payload []byte, signature string) (*model.ConfirmationResult, error) {
	if s.deps.Razorpay == nil {
		return nil, apperr.Auth("invalid signature")
	}
	c, err := s.deps.Razorpay.ParseWebhook(ctx, payload, signature)
	return s.webhook(ctx, model.ProviderRazorpay, c, err)
}

func (s *Payments) webhook(ctx context.Context, provider string, c *model.PaymentConfirmation, err error) (*model.ConfirmationResult, error) {
	if errors.Is(err, gateway.ErrIgnored) {
		s.deps.Metrics.Confirmations.WithLabelValues(provider, model.StatusIgnored).Inc()
		return &model.ConfirmationResult{Status: model.StatusIgnored}, nil
	}
	if err != nil {
		s.rejected(provider, err)
		return nil, err
	}
	return s.apply(ctx, c)
}

func (s *Payments) rejected(provider string, err error) {
	if apperr.Is(err, apperr.KindAuth) {
		s.deps.Metrics.WebhookRejections.WithLabelValues(provider, "signature").Inc()
		slog.Warn("payment confirmation rejected", "provider", provider, "error", err)
	}
}

func (s *Payments) apply(ctx context.Context, c *model.PaymentConfirmation) (*model.ConfirmationResult, error) {
	if c.UserID == "" || c.OrderRef == "" {
		return nil, apperr.Validation("missing correlation ids")
	}
	if c.DurationMonths <= 0 {
		return nil, apperr.Validation("invalid durationMonths")
	}
	key := c.IdempotencyKey()

	ctx, span := obs.Tracer().Start(ctx, "payments.apply", trace.WithAttributes(
		attribute.String("provider", c.Provider),
		attribute.String("idempotency_key", key),
	))
	defer span.End()

	if s.deps.Claims != nil {
		release, err := s.deps.Claims.Claim(ctx, key)
		switch {
		case errors.Is(err, repository.ErrInFlight):
			return nil, apperr.Wrap(apperr.KindConflict, "confirmation in progress", err)
		case err != nil:
			// The ledger still guarantees exactly-once; only the fast path is lost.
			slog.Warn("claim guard unavailable", "key", key, "error", err)
		default:
			defer release()
		}
	}

	now := s.now()
	var firstTime bool
	rec, err := s.deps.Store.ApplyOnce(ctx, model.ProcessedEvent{
		IdempotencyKey: key,
		Source:         c.Provider,
		UserID:         c.UserID,
		ProcessedAt:    now,
	}, func(cur *model.UserRecord) (model.RecordPatch, error) {
		firstTime = !cur.Membership.IsMember
		expiry := ExtendExpiry(cur.Membership.Expiry, now, c.DurationMonths)
		member := true
		patch := &model.MembershipPatch{IsMember: &member, Expiry: &expiry}
		if c.ProgramID != "" {
			plan := c.ProgramID
			patch.Plan = &plan
		}
		return model.RecordPatch{Membership: patch}, nil
	})

	if errors.Is(err, repository.ErrAlreadyProcessed) {
		s.deps.Metrics.Confirmations.WithLabelValues(c.Provider, model.StatusDuplicate).Inc()
		slog.Info("payment already applied", "key", key, "user_id", c.UserID)
		res := &model.ConfirmationResult{Status: model.StatusDuplicate}
		if cur, gerr := s.deps.Store.Get(ctx, c.UserID); gerr == nil {
			res.Membership = cur.Membership
		}
		return res, nil
	}
	if err != nil {
		s.deps.Metrics.Confirmations.WithLabelValues(c.Provider, "failed").Inc()
		slog.Error("payment confirmation failed", "key", key, "user_id", c.UserID, "error", err)
		return nil, apperr.Wrap(apperr.KindInternal, "processing failed", err)
	}

	s.deps.Metrics.Confirmations.WithLabelValues(c.Provider, model.StatusProcessed).Inc()
	slog.Info("payment applied",
		"key", key,
		"user_id", c.UserID,
		"plan", rec.Membership.Plan,
		"expiry", rec.Membership.Expiry,
		"first_time", firstTime,
	)

	if firstTime {
		s.sendWelcome(ctx, c, rec)
	}
	s.publish(c, rec, firstTime)

	return &model.ConfirmationResult{
		Status:     model.StatusProcessed,
		Membership: rec.Membership,
		FirstTime:  firstTime,
	}, nil
}

// sendWelcome never fails the confirmation: the membership is already
// committed.
func (s *Payments) sendWelcome(ctx context.Context, c *model.PaymentConfirmation, rec *model.UserRecord) {
	if s.deps.Mailer == nil {
		return
	}
	data := map[string]string{
		"userId": c.UserID,
		"plan":   rec.Membership.Plan,
	}
	if rec.Membership.Expiry != nil {
		data["expiry"] = rec.Membership.Expiry.Format(time.RFC3339)
	}
	if err := s.deps.Mailer.Send(ctx, c.Email, s.deps.WelcomeTemplate, data); err != nil {
		s.deps.Metrics.WelcomeEmailFailures.Inc()
		slog.Error("welcome email failed", "user_id", c.UserID, "error", err)
	}
}

func (s *Payments) publish(c *model.PaymentConfirmation, rec *model.UserRecord, firstTime bool) {
	topic := model.TopicMembershipRenewed
	if firstTime {
		topic = model.TopicMembershipActivated
	}
	ev := model.MembershipEvent{
		UserID:         c.UserID,
		Email:          c.Email,
		Plan:           rec.Membership.Plan,
		Provider:       c.Provider,
		IdempotencyKey: c.IdempotencyKey(),
		CreatedAt:      s.now().UTC(),
	}
	if rec.Membership.Expiry != nil {
		ev.Expiry = *rec.Membership.Expiry
	}
	if err := repository.PublishEvent(s.deps.Bus, topic, ev); err != nil {
		slog.Error("failed to publish membership event", "topic", topic, "user_id", c.UserID, "error", err)
	}
}

// ExtendExpiry adds months to the later of the current expiry and now, so
// an active membership is extended and a lapsed one restarts today.
func ExtendExpiry(current *time.Time, now time.Time, months int) time.Time {
	base := now
	if current != nil && current.After(now) {
		base = *current
	}
	return base.AddDate(0, months, 0).UTC()
}
