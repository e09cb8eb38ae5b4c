package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"coachpay/internal/model"
	"coachpay/internal/service"
)

// Processor reacts to membership events. Its work is best effort: a failure
// is logged and the event is dropped, the membership itself is already
// committed.
type Processor struct {
	crm service.CRMService
}

func NewProcessor(crm service.CRMService) *Processor {
	return &Processor{crm: crm}
}

// Topics lists the topics Handle understands.
func (p *Processor) Topics() []string {
	return []string{model.TopicMembershipActivated}
}

func (p *Processor) Handle(ctx context.Context, topic string, data []byte) error {
	switch topic {
	case model.TopicMembershipActivated:
		var ev model.MembershipEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return fmt.Errorf("decode %s: %w", topic, err)
		}
		return p.tagMember(ctx, ev)
	default:
		slog.Debug("worker: topic not handled", "topic", topic)
		return nil
	}
}

func (p *Processor) tagMember(ctx context.Context, ev model.MembershipEvent) error {
	if ev.Email == "" {
		slog.Info("worker: member has no email, skipping crm tag", "user_id", ev.UserID)
		return nil
	}
	if err := p.crm.TagMember(ctx, ev.Email, service.TagMember); err != nil {
		return fmt.Errorf("tag member %s: %w", ev.UserID, err)
	}
	slog.Info("worker: member tagged in crm", "user_id", ev.UserID, "key", ev.IdempotencyKey)
	return nil
}
