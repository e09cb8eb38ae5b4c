// Package gateway adapts the payment providers to one order/confirmation
// shape. Provider SDK clients are built once at start-up and injected.
package gateway

import (
	"context"
	"errors"
	"net"
	"strconv"

	"coachpay/internal/apperr"
	"coachpay/internal/model"
)

// ErrIgnored marks a verified webhook that carries nothing to apply.
var ErrIgnored = errors.New("webhook event ignored")

// OrderParams is a validated order: amount already in minor units.
type OrderParams struct {
	Amount        int64
	Currency      string
	ProductName   string
	Description   string
	CustomerEmail string
	SuccessURL    string
	CancelURL     string
	Metadata      map[string]string
}

type Gateway interface {
	Provider() string
	DefaultCurrency() string
	CreateOrder(ctx context.Context, p OrderParams) (*model.Order, error)
}

func errMissingConfig(what string) error {
	return &apperr.Error{Kind: apperr.KindConfig, Message: "configuration missing", Code: what}
}

// classifyTransport separates "provider unreachable" from everything else.
func classifyTransport(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded)
}

// confirmationFromMeta builds a confirmation from the metadata/notes that
// were attached when the order was created.
func confirmationFromMeta(provider string, meta map[string]string) (*model.PaymentConfirmation, error) {
	c := &model.PaymentConfirmation{
		Provider:       provider,
		UserID:         meta[model.MetaUserID],
		ProgramID:      meta[model.MetaProgramID],
		Email:          meta[model.MetaCustomerEmail],
		DurationMonths: 1,
	}
	if c.UserID == "" {
		return nil, apperr.Validation("missing user id in order metadata")
	}
	if raw := meta[model.MetaDurationMonths]; raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > model.MaxDurationMonths {
			return nil, apperr.Validation("invalid durationMonths in order metadata")
		}
		c.DurationMonths = n
	}
	return c, nil
}
