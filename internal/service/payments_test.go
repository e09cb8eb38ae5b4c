package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coachpay/internal/apperr"
	"coachpay/internal/gateway"
	"coachpay/internal/metrics"
	"coachpay/internal/model"
	"coachpay/internal/repository"
)

var testNow = time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)

type paymentsFixture struct {
	svc    *Payments
	store  *repository.MemoryStore
	mailer *fakeMailer
	bus    *captureBus
}

func newPayments(t *testing.T, stripe stripeConfirmer, rzp razorpayConfirmer) paymentsFixture {
	t.Helper()
	f := paymentsFixture{
		store:  repository.NewMemoryStore(),
		mailer: &fakeMailer{},
		bus:    &captureBus{},
	}
	f.svc = NewPayments(PaymentDeps{
		Store:    f.store,
		Stripe:   stripe,
		Razorpay: rzp,
		Mailer:   f.mailer,
		Bus:      f.bus,
		Metrics:  metrics.Nop(),
	})
	f.svc.now = func() time.Time { return testNow }
	return f
}

func confirmation(orderRef string, months int) model.PaymentConfirmation {
	return model.PaymentConfirmation{
		Provider:       model.ProviderStripe,
		TransactionRef: "pi_" + orderRef,
		OrderRef:       orderRef,
		AmountPaid:     4900,
		Currency:       "usd",
		UserID:         "u1",
		ProgramID:      "p9",
		DurationMonths: months,
		Email:          "a@b.co",
	}
}

func TestExtendExpiry(t *testing.T) {
	future := testNow.AddDate(0, 2, 0)
	past := testNow.AddDate(0, -2, 0)

	assert.Equal(t, future.AddDate(0, 3, 0), ExtendExpiry(&future, testNow, 3))
	assert.Equal(t, testNow.AddDate(0, 3, 0), ExtendExpiry(&past, testNow, 3))
	assert.Equal(t, testNow.AddDate(0, 1, 0), ExtendExpiry(nil, testNow, 1))
}

func TestConfirmPayment_NewMember(t *testing.T) {
	f := newPayments(t, nil, nil)

	res, err := f.svc.ConfirmPayment(context.Background(), "u1", confirmation("cs_1", 3))
	require.NoError(t, err)
	assert.Equal(t, model.StatusProcessed, res.Status)
	assert.True(t, res.FirstTime)

	rec, err := f.store.Get(context.Background(), "u1")
	require.NoError(t, err)
	assert.True(t, rec.Membership.IsMember)
	assert.Equal(t, "p9", rec.Membership.Plan)
	assert.Equal(t, testNow.AddDate(0, 3, 0), *rec.Membership.Expiry)

	require.Len(t, f.mailer.sent, 1)
	assert.Equal(t, "a@b.co", f.mailer.sent[0].to)
	assert.Equal(t, "welcome", f.mailer.sent[0].template)
	assert.Equal(t, []string{model.TopicMembershipActivated}, f.bus.topics())
}

func TestConfirmPayment_ExtendsFutureExpiry(t *testing.T) {
	f := newPayments(t, nil, nil)
	member := true
	existing := testNow.AddDate(0, 1, 0)
	require.NoError(t, f.store.Merge(context.Background(), "u1", model.RecordPatch{
		Membership: &model.MembershipPatch{IsMember: &member, Expiry: &existing},
	}))

	res, err := f.svc.ConfirmPayment(context.Background(), "u1", confirmation("cs_2", 2))
	require.NoError(t, err)
	assert.False(t, res.FirstTime)
	assert.Equal(t, existing.AddDate(0, 2, 0), *res.Membership.Expiry)

	// Renewals send no welcome email.
	assert.Empty(t, f.mailer.sent)
	assert.Equal(t, []string{model.TopicMembershipRenewed}, f.bus.topics())

	var ev model.MembershipEvent
	require.NoError(t, f.bus.decode(0, &ev))
	assert.Equal(t, "stripe:cs_2", ev.IdempotencyKey)
}

func TestConfirmPayment_ReplayIsDuplicate(t *testing.T) {
	f := newPayments(t, nil, nil)
	c := confirmation("cs_3", 1)

	first, err := f.svc.ConfirmPayment(context.Background(), "u1", c)
	require.NoError(t, err)
	second, err := f.svc.ConfirmPayment(context.Background(), "u1", c)
	require.NoError(t, err)

	assert.Equal(t, model.StatusProcessed, first.Status)
	assert.Equal(t, model.StatusDuplicate, second.Status)

	rec, err := f.store.Get(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, testNow.AddDate(0, 1, 0), *rec.Membership.Expiry, "expiry extended once")
	assert.Len(t, f.mailer.sent, 1)
	assert.Len(t, f.bus.topics(), 1)
}

func TestConfirmPayment_UserMismatch(t *testing.T) {
	f := newPayments(t, nil, nil)

	_, err := f.svc.ConfirmPayment(context.Background(), "someone-else", confirmation("cs_4", 1))
	assert.True(t, apperr.Is(err, apperr.KindAuth))

	_, err = f.store.Get(context.Background(), "u1")
	assert.ErrorIs(t, err, repository.ErrNotFound)
	assert.False(t, f.store.Processed("stripe:cs_4"))
}

func TestConfirmPayment_WelcomeFailureIsSwallowed(t *testing.T) {
	f := newPayments(t, nil, nil)
	f.mailer.err = errors.New("outbox down")

	res, err := f.svc.ConfirmPayment(context.Background(), "u1", confirmation("cs_5", 1))
	require.NoError(t, err)
	assert.Equal(t, model.StatusProcessed, res.Status)
	assert.Len(t, f.mailer.sent, 1)
}

func TestConfirmPayment_ClaimInFlight(t *testing.T) {
	f := newPayments(t, nil, nil)
	f.svc.deps.Claims = &fakeClaims{err: repository.ErrInFlight}

	_, err := f.svc.ConfirmPayment(context.Background(), "u1", confirmation("cs_6", 1))
	assert.True(t, apperr.Is(err, apperr.KindConflict))
	assert.False(t, f.store.Processed("stripe:cs_6"))
}

func TestConfirmPayment_ClaimGuardDownStillApplies(t *testing.T) {
	f := newPayments(t, nil, nil)
	f.svc.deps.Claims = &fakeClaims{err: errors.New("redis: connection refused")}

	res, err := f.svc.ConfirmPayment(context.Background(), "u1", confirmation("cs_7", 1))
	require.NoError(t, err)
	assert.Equal(t, model.StatusProcessed, res.Status)
}

func TestConfirmPayment_ReleasesClaim(t *testing.T) {
	f := newPayments(t, nil, nil)
	claims := &fakeClaims{}
	f.svc.deps.Claims = claims

	_, err := f.svc.ConfirmPayment(context.Background(), "u1", confirmation("cs_8", 1))
	require.NoError(t, err)
	assert.Equal(t, 1, claims.released)
}

func TestStripeWebhookAndRedirectCollapse(t *testing.T) {
	c := confirmation("cs_9", 1)
	f := newPayments(t, &fakeStripe{confirmation: &c}, nil)

	res, err := f.svc.HandleStripeWebhook(context.Background(), []byte(`{}`), "sig")
	require.NoError(t, err)
	assert.Equal(t, model.StatusProcessed, res.Status)

	res, err = f.svc.ConfirmStripeCheckout(context.Background(), "u1", "cs_9")
	require.NoError(t, err)
	assert.Equal(t, model.StatusDuplicate, res.Status)
	assert.True(t, res.Membership.IsMember)
}

func TestWebhook_InvalidSignatureMutatesNothing(t *testing.T) {
	f := newPayments(t,
		&fakeStripe{err: apperr.Auth("invalid signature")},
		&fakeRazorpay{err: apperr.Auth("invalid signature")},
	)

	_, err := f.svc.HandleStripeWebhook(context.Background(), []byte(`{}`), "bad")
	assert.True(t, apperr.Is(err, apperr.KindAuth))
	_, err = f.svc.HandleRazorpayWebhook(context.Background(), []byte(`{}`), "bad")
	assert.True(t, apperr.Is(err, apperr.KindAuth))

	_, err = f.store.Get(context.Background(), "u1")
	assert.ErrorIs(t, err, repository.ErrNotFound)
	assert.Empty(t, f.mailer.sent)
}

func TestWebhook_Ignored(t *testing.T) {
	f := newPayments(t, &fakeStripe{err: gateway.ErrIgnored}, nil)

	res, err := f.svc.HandleStripeWebhook(context.Background(), []byte(`{}`), "sig")
	require.NoError(t, err)
	assert.Equal(t, model.StatusIgnored, res.Status)
}

func TestRazorpayCallback(t *testing.T) {
	c := confirmation("order_1", 1)
	c.Provider = model.ProviderRazorpay
	f := newPayments(t, nil, &fakeRazorpay{confirmation: &c})

	_, err := f.svc.ConfirmRazorpayPayment(context.Background(), "u2", RazorpayCallback{OrderID: "order_1"})
	assert.True(t, apperr.Is(err, apperr.KindAuth))

	res, err := f.svc.ConfirmRazorpayPayment(context.Background(), "u1", RazorpayCallback{OrderID: "order_1"})
	require.NoError(t, err)
	assert.Equal(t, model.StatusProcessed, res.Status)
	assert.True(t, f.store.Processed("razorpay:order_1"))
}

func TestConfirmPayment_MissingCorrelation(t *testing.T) {
	f := newPayments(t, nil, nil)
	c := confirmation("", 1)

	_, err := f.svc.ConfirmPayment(context.Background(), "u1", c)
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

type failingStore struct {
	repository.RecordStore
}

func (failingStore) ApplyOnce(context.Context, model.ProcessedEvent, repository.ApplyFunc) (*model.UserRecord, error) {
	return nil, errors.New("connection reset")
}

func TestConfirmPayment_StoreFailure(t *testing.T) {
	f := newPayments(t, nil, nil)
	f.svc.deps.Store = failingStore{f.store}

	_, err := f.svc.ConfirmPayment(context.Background(), "u1", confirmation("cs_10", 1))
	require.Error(t, err)
	msg, _, _ := apperr.Public(err)
	assert.Equal(t, "processing failed", msg)
	assert.Empty(t, f.mailer.sent)
}
