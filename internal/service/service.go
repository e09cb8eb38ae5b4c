package service

import (
	"context"

	"coachpay/internal/crm"
	"coachpay/internal/model"
)

// OrderService creates provider orders. Transports depend on these
// interfaces, not on the concrete implementations.
type OrderService interface {
	CreateOrder(ctx context.Context, provider string, req model.OrderRequest) (*model.Order, error)
}

// PaymentService applies verified payment confirmations exactly once.
type PaymentService interface {
	ConfirmPayment(ctx context.Context, sessionUser string, c model.PaymentConfirmation) (*model.ConfirmationResult, error)
	ConfirmStripeCheckout(ctx context.Context, sessionUser, sessionID string) (*model.ConfirmationResult, error)
	ConfirmRazorpayPayment(ctx context.Context, sessionUser string, cb RazorpayCallback) (*model.ConfirmationResult, error)
	HandleStripeWebhook(ctx context.Context, payload []byte, signature string) (*model.ConfirmationResult, error)
	HandleRazorpayWebhook(ctx context.Context, payload []byte, signature string) (*model.ConfirmationResult, error)
}

// SchedulingService applies booking webhooks to coaching engagements.
type SchedulingService interface {
	HandleWebhook(ctx context.Context, signature string, body []byte) (string, error)
	Apply(ctx context.Context, ev *model.SchedulingEvent) (string, error)
}

type CRMService interface {
	Schedule(ctx context.Context, req model.CRMScheduleRequest) (*model.CRMScheduleResult, error)
	TagMember(ctx context.Context, email string, tags ...string) error
}

type RecordService interface {
	Get(ctx context.Context, userID string) (*model.UserRecord, error)
	RecordAccess(ctx context.Context, cmd model.AccessCommand) error
}

// RazorpayCallback is what the checkout SDK hands the client on success.
type RazorpayCallback struct {
	OrderID   string `json:"razorpay_order_id"`
	PaymentID string `json:"razorpay_payment_id"`
	Signature string `json:"razorpay_signature"`
}

type claimer interface {
	Claim(ctx context.Context, key string) (func(), error)
}

type crmClient interface {
	UpsertMember(ctx context.Context, m crm.Member) (map[string]any, error)
	AddTags(ctx context.Context, email string, tags ...string) error
}
