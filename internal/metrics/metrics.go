// Package metrics содержит метрики Prometheus бота.
//
//nolint:gochecknoglobals
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "gatebot"

var (
	Commands = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "commands_total",
		Help:      "The total number of handled bot commands",
	}, []string{"command"})

	Verifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "verifications_total",
		Help:      "Balance verifications by outcome",
	}, []string{"outcome"})

	Grants = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "grants_total",
		Help:      "The total number of granted subscriptions",
	})

	EntitlementChecks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "entitlement_checks_total",
		Help:      "Entitlement checks by result",
	}, []string{"result"})

	MaintenanceIterations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "maintenance",
		Name:      "iterations_total",
		Help:      "Maintenance iterations by status",
	}, []string{"status"})

	ActiveSubscriptions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_subscriptions",
		Help:      "The number of currently active subscriptions",
	})

	RemindersSent = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "maintenance",
		Name:      "reminders_sent_total",
		Help:      "Expiring-soon notices handed to the notifier",
	})

	UpdatesDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "updates",
		Name:      "handle_duration_seconds",
		Help:      "The latency of update handling by gate operation.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"op"})
)
