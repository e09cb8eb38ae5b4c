package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"coachpay/internal/apperr"
	"coachpay/internal/metrics"
	"coachpay/internal/model"
	"coachpay/internal/obs"
	"coachpay/internal/repository"
	"coachpay/internal/scheduling"
)

type Scheduling struct {
	store      repository.RecordStore
	bus        repository.MessageBus
	metrics    *metrics.Metrics
	signingKey string
	now        func() time.Time
}

func NewScheduling(store repository.RecordStore, bus repository.MessageBus, m *metrics.Metrics, signingKey string) *Scheduling {
	if bus == nil {
		bus = repository.NoopBus{}
	}
	return &Scheduling{store: store, bus: bus, metrics: m, signingKey: signingKey, now: time.Now}
}

// HandleWebhook verifies, decodes and applies a booking webhook. It returns
// the processing status for the caller's logs.
func (s *Scheduling) HandleWebhook(ctx context.Context, signature string, body []byte) (string, error) {
	if err := scheduling.VerifySignature(signature, body, s.signingKey, s.now()); err != nil {
		s.metrics.WebhookRejections.WithLabelValues(model.SourceCalendly, "signature").Inc()
		slog.Warn("scheduling webhook rejected", "error", err)
		return "", apperr.Wrap(apperr.KindAuth, "invalid signature", err)
	}

	wh, err := scheduling.Parse(body)
	if err != nil {
		return "", apperr.Wrap(apperr.KindValidation, "invalid payload", err)
	}
	if wh.Event != scheduling.EventInviteeCreated {
		s.metrics.SchedulingEvents.WithLabelValues(model.StatusIgnored).Inc()
		slog.Debug("scheduling event ignored", "event", wh.Event)
		return model.StatusIgnored, nil
	}

	ev, err := wh.SchedulingEvent()
	if err != nil {
		var missing *scheduling.MissingFieldError
		if errors.As(err, &missing) {
			s.metrics.SchedulingEvents.WithLabelValues("uncorrelated").Inc()
			slog.Warn("scheduling event missing correlation", "field", missing.Field, "invitee", wh.Payload.URI)
			return "", apperr.Wrap(apperr.KindValidation, "missing required information", err)
		}
		return "", err
	}
	return s.Apply(ctx, ev)
}

// Apply writes a correlated booking into the user's engagement. Each
// invitee is applied once.
func (s *Scheduling) Apply(ctx context.Context, ev *model.SchedulingEvent) (string, error) {
	key := ev.ProgramID
	if key == "" {
		key = ev.TransactionID
	}
	if ev.UserID == "" || key == "" {
		return "", apperr.Validation("missing required information")
	}
	// The key names a field inside the engagements document.
	if strings.Contains(key, ".") || strings.HasPrefix(key, "$") {
		return "", apperr.Validation("invalid engagement key")
	}
	start, err := time.Parse(time.RFC3339, ev.StartTime)
	if err != nil {
		return "", apperr.Wrap(apperr.KindValidation, "invalid scheduled date", err)
	}
	start = start.UTC()

	idem := model.SourceCalendly + ":" + ev.InviteeURI
	if ev.InviteeURI == "" {
		idem = model.SourceCalendly + ":" + ev.EventRef + ":" + ev.UserID + ":" + key
	}

	ctx, span := obs.Tracer().Start(ctx, "scheduling.apply", trace.WithAttributes(
		attribute.String("engagement_key", key),
		attribute.String("idempotency_key", idem),
	))
	defer span.End()

	engagement := model.Engagement{
		ScheduledDate:  &start,
		EventRef:       ev.EventRef,
		InviteeEmail:   ev.InviteeEmail,
		TransactionRef: ev.TransactionID,
		Metadata:       engagementMetadata(ev),
	}
	_, err = s.store.ApplyOnce(ctx, model.ProcessedEvent{
		IdempotencyKey: idem,
		Source:         model.SourceCalendly,
		UserID:         ev.UserID,
		ProcessedAt:    s.now(),
	}, func(*model.UserRecord) (model.RecordPatch, error) {
		return model.RecordPatch{Engagements: map[string]model.Engagement{key: engagement}}, nil
	})
	if errors.Is(err, repository.ErrAlreadyProcessed) {
		s.metrics.SchedulingEvents.WithLabelValues(model.StatusDuplicate).Inc()
		slog.Info("scheduling event already applied", "key", idem)
		return model.StatusDuplicate, nil
	}
	if err != nil {
		s.metrics.SchedulingEvents.WithLabelValues("failed").Inc()
		slog.Error("failed to update coaching record", "user_id", ev.UserID, "engagement", key, "error", err)
		return "", apperr.Wrap(apperr.KindInternal, "failed to update coaching record", err)
	}

	s.metrics.SchedulingEvents.WithLabelValues(model.StatusProcessed).Inc()
	slog.Info("coaching session scheduled", "user_id", ev.UserID, "engagement", key, "scheduled_date", start)

	out := model.EngagementEvent{
		UserID:        ev.UserID,
		EngagementKey: key,
		ScheduledDate: start,
		InviteeEmail:  ev.InviteeEmail,
		CreatedAt:     s.now().UTC(),
	}
	if err := repository.PublishEvent(s.bus, model.TopicEngagementScheduled, out); err != nil {
		slog.Error("failed to publish engagement event", "user_id", ev.UserID, "error", err)
	}
	return model.StatusProcessed, nil
}

func engagementMetadata(ev *model.SchedulingEvent) map[string]string {
	meta := map[string]string{}
	for k, v := range map[string]string{
		"inviteeName":   ev.InviteeName,
		"eventName":     ev.EventName,
		"endTime":       ev.EndTime,
		"cancelUrl":     ev.CancelURL,
		"rescheduleUrl": ev.RescheduleURL,
	} {
		if v != "" {
			meta[k] = v
		}
	}
	return meta
}
