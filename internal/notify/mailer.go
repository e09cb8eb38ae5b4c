// Package notify sends email by writing to the mail outbox; a separate
// delivery process owns the SMTP side.
package notify

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"coachpay/internal/model"
)

type Mailer interface {
	Send(ctx context.Context, to, template string, data map[string]string) error
}

type outbox interface {
	EnqueueMail(ctx context.Context, msg model.MailMessage) error
}

type OutboxMailer struct {
	store outbox
	now   func() time.Time
}

func NewOutboxMailer(store outbox) *OutboxMailer {
	return &OutboxMailer{store: store, now: time.Now}
}

func (m *OutboxMailer) Send(ctx context.Context, to, template string, data map[string]string) error {
	if to == "" {
		return errors.New("mail recipient is empty")
	}
	return m.store.EnqueueMail(ctx, model.MailMessage{
		ID:        uuid.NewString(),
		To:        to,
		Template:  template,
		Data:      data,
		CreatedAt: m.now().UTC(),
	})
}
