package nats

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/nats-io/nats.go"

	"coachpay/internal/model"
	"coachpay/internal/service"
)

const queueGroup = "coachpay_commands"

// Handler subscribes to command subjects and delegates to the record service.
type Handler struct {
	records service.RecordService
	nc      *nats.Conn
	subs    []*nats.Subscription
}

func NewHandler(records service.RecordService, nc *nats.Conn) *Handler {
	return &Handler{records: records, nc: nc}
}

// Start subscribes to command subjects and blocks until ctx is cancelled.
func (h *Handler) Start(ctx context.Context) error {
	sub, err := h.nc.QueueSubscribe(model.TopicAccessRecord, queueGroup, func(m *nats.Msg) {
		h.recordAccess(ctx, m.Data)
	})
	if err != nil {
		return err
	}
	h.subs = append(h.subs, sub)

	slog.Info("NATS command handler is running", "subject", model.TopicAccessRecord)

	<-ctx.Done()
	slog.Info("NATS command handler shutting down, draining subscriptions...")

	for _, s := range h.subs {
		_ = s.Drain()
	}
	return nil
}

func (h *Handler) Stop(ctx context.Context) error {
	for _, s := range h.subs {
		_ = s.Unsubscribe()
	}
	return nil
}

func (h *Handler) recordAccess(ctx context.Context, data []byte) {
	var cmd model.AccessCommand
	if err := json.Unmarshal(data, &cmd); err != nil {
		slog.Error("nats: failed to unmarshal access command", "error", err)
		return
	}
	if err := h.records.RecordAccess(ctx, cmd); err != nil {
		slog.Error("nats: record access failed", "error", err, "user_id", cmd.UserID)
	}
}
