// Package metrics holds the Prometheus collectors for the reconciliation
// workflow.
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "coachpay"

type Metrics struct {
	OrdersCreated        *prometheus.CounterVec
	OrdersAmountRounded  *prometheus.CounterVec
	Confirmations        *prometheus.CounterVec
	WebhookRejections    *prometheus.CounterVec
	SchedulingEvents     *prometheus.CounterVec
	WelcomeEmailFailures prometheus.Counter
	ProviderLatency      *prometheus.HistogramVec
}

// MustNew registers the collectors with reg. Collectors already registered
// by an earlier call are reused, so tests can share a registry.
func MustNew(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		OrdersCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_created_total",
			Help:      "Provider orders created, by provider and outcome.",
		}, []string{"provider", "outcome"}),
		OrdersAmountRounded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_amount_rounded_total",
			Help:      "Order requests whose fractional amount was rounded to a minor unit.",
		}, []string{"provider"}),
		Confirmations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_confirmations_total",
			Help:      "Payment confirmations by provider and status (processed, duplicate, failed).",
		}, []string{"provider", "status"}),
		WebhookRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_rejections_total",
			Help:      "Webhooks rejected before any mutation, by source and reason.",
		}, []string{"source", "reason"}),
		SchedulingEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduling_events_total",
			Help:      "Scheduling webhook events by status.",
		}, []string{"status"}),
		WelcomeEmailFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "welcome_email_failures_total",
			Help:      "Welcome emails that could not be queued.",
		}),
		ProviderLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_request_duration_seconds",
			Help:      "Latency of outbound provider calls.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider", "operation"}),
	}

	m.OrdersCreated = register(reg, m.OrdersCreated)
	m.OrdersAmountRounded = register(reg, m.OrdersAmountRounded)
	m.Confirmations = register(reg, m.Confirmations)
	m.WebhookRejections = register(reg, m.WebhookRejections)
	m.SchedulingEvents = register(reg, m.SchedulingEvents)
	m.WelcomeEmailFailures = register(reg, m.WelcomeEmailFailures)
	m.ProviderLatency = register(reg, m.ProviderLatency)
	return m
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

// Nop returns collectors registered on a throwaway registry.
func Nop() *Metrics {
	return MustNew(prometheus.NewRegistry())
}
