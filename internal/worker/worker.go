package worker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
)

const queueGroup = "membership_workers"

// MembershipWorker feeds NATS membership events to a Processor.
type MembershipWorker struct {
	proc     *Processor
	natsConn *nats.Conn
}

func NewMembershipWorker(proc *Processor, nc *nats.Conn) *MembershipWorker {
	return &MembershipWorker{proc: proc, natsConn: nc}
}

// Run subscribes to the processor topics and blocks until ctx is cancelled.
func (w *MembershipWorker) Run(ctx context.Context) error {
	var subs []*nats.Subscription
	for _, topic := range w.proc.Topics() {
		// Each event is delivered to one worker of the group.
		sub, err := w.natsConn.QueueSubscribe(topic, queueGroup, func(m *nats.Msg) {
			if err := w.proc.Handle(ctx, m.Subject, m.Data); err != nil {
				slog.Error("worker: event abandoned", "topic", m.Subject, "error", err)
			}
		})
		if err != nil {
			drain(subs)
			return fmt.Errorf("worker: failed to subscribe to %s: %w", topic, err)
		}
		subs = append(subs, sub)
	}

	slog.Info("membership worker is running", "topics", w.proc.Topics())

	<-ctx.Done()

	slog.Info("worker received shutdown signal, draining subscriptions...")
	drain(subs)
	return nil
}

func (w *MembershipWorker) Start(ctx context.Context) error {
	return w.Run(ctx)
}

// Stop is a no-op; shutdown goes through ctx.
func (w *MembershipWorker) Stop(ctx context.Context) error {
	return nil
}

func drain(subs []*nats.Subscription) {
	for _, s := range subs {
		if err := s.Drain(); err != nil {
			slog.Warn("worker: drain failed", "subject", s.Subject, "error", err)
		}
	}
}
