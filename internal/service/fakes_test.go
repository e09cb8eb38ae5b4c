package service

import (
	"context"
	"encoding/json"
	"sync"

	"coachpay/internal/crm"
	"coachpay/internal/gateway"
	"coachpay/internal/model"
)

type fakeGateway struct {
	provider string
	calls    []gateway.OrderParams
	err      error
}

func (f *fakeGateway) Provider() string { return f.provider }

func (f *fakeGateway) DefaultCurrency() string {
	if f.provider == model.ProviderRazorpay {
		return "INR"
	}
	return "usd"
}

func (f *fakeGateway) CreateOrder(_ context.Context, p gateway.OrderParams) (*model.Order, error) {
	f.calls = append(f.calls, p)
	if f.err != nil {
		return nil, f.err
	}
	return &model.Order{ID: "ord_1", RedirectURL: "https://pay.example/ord_1", Provider: f.provider, Amount: p.Amount, Currency: p.Currency}, nil
}

type fakeStripe struct {
	confirmation *model.PaymentConfirmation
	err          error
}

func (f *fakeStripe) ConfirmCheckout(context.Context, string) (*model.PaymentConfirmation, error) {
	if f.err != nil {
		return nil, f.err
	}
	c := *f.confirmation
	return &c, nil
}

func (f *fakeStripe) ParseWebhook([]byte, string) (*model.PaymentConfirmation, error) {
	return f.ConfirmCheckout(context.Background(), "")
}

type fakeRazorpay struct {
	confirmation *model.PaymentConfirmation
	err          error
}

func (f *fakeRazorpay) VerifyPayment(context.Context, string, string, string) (*model.PaymentConfirmation, error) {
	if f.err != nil {
		return nil, f.err
	}
	c := *f.confirmation
	return &c, nil
}

func (f *fakeRazorpay) ParseWebhook(ctx context.Context, _ []byte, _ string) (*model.PaymentConfirmation, error) {
	return f.VerifyPayment(ctx, "", "", "")
}

type sentMail struct {
	to, template string
	data         map[string]string
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []sentMail
	err  error
}

func (f *fakeMailer) Send(_ context.Context, to, template string, data map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMail{to, template, data})
	return f.err
}

type published struct {
	topic string
	data  []byte
}

type captureBus struct {
	mu   sync.Mutex
	msgs []published
}

func (b *captureBus) Publish(topic string, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.msgs = append(b.msgs, published{topic, data})
	return nil
}

func (b *captureBus) topics() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.msgs))
	for _, m := range b.msgs {
		out = append(out, m.topic)
	}
	return out
}

func (b *captureBus) decode(i int, v any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return json.Unmarshal(b.msgs[i].data, v)
}

type fakeCRM struct {
	member crm.Member
	tags   map[string][]string
	err    error
}

func (f *fakeCRM) UpsertMember(_ context.Context, m crm.Member) (map[string]any, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.member = m
	return map[string]any{"id": crm.SubscriberHash(m.Email), "status": "subscribed"}, nil
}

func (f *fakeCRM) AddTags(_ context.Context, email string, tags ...string) error {
	if f.err != nil {
		return f.err
	}
	if f.tags == nil {
		f.tags = map[string][]string{}
	}
	f.tags[email] = append(f.tags[email], tags...)
	return nil
}

type fakeClaims struct {
	err      error
	released int
}

func (f *fakeClaims) Claim(context.Context, string) (func(), error) {
	if f.err != nil {
		return nil, f.err
	}
	return func() { f.released++ }, nil
}
