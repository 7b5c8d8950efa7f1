package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Pipeline counters for the inbound email processor.
var (
	EmailsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "citizenspring",
		Subsystem: "inbound",
		Name:      "emails_processed_total",
		Help:      "Inbound emails handled by the pipeline, by outcome.",
	}, []string{"outcome"})

	NotificationsSent = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "citizenspring",
		Subsystem: "outbound",
		Name:      "notifications_sent_total",
		Help:      "Outbound notification emails handed to the mailer.",
	})

	NotificationFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "citizenspring",
		Subsystem: "outbound",
		Name:      "notification_failures_total",
		Help:      "Outbound notification emails the mailer could not send.",
	})
)

// Outcome labels for EmailsProcessed.
const (
	OutcomeOK        = "ok"
	OutcomeDuplicate = "duplicate"
	OutcomeEmpty     = "empty"
	OutcomeError     = "error"
)
