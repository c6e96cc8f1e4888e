package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/helpdesk/internal/errs"
	"github.com/example/helpdesk/internal/models"
)

var (
	transitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "helpdesk",
		Subsystem: "lifecycle",
		Name:      "transitions_total",
		Help:      "Lifecycle update attempts broken down by action and result.",
	}, []string{"action", "result"})

	notifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "helpdesk",
		Subsystem: "notifications",
		Name:      "total",
		Help:      "Notification delivery outcomes broken down by kind and result.",
	}, []string{"kind", "result"})
)

// ObserveTransition counts one update attempt. An empty kind means success.
func ObserveTransition(action string, kind errs.Kind) {
	result := "ok"
	if kind != "" {
		result = string(kind)
	}
	transitions.With(prometheus.Labels{"action": action, "result": result}).Inc()
}

// ObserveNotification counts one notification outcome: queued, sent,
// dropped, retried or failed.
func ObserveNotification(kind models.NotificationKind, result string) {
	notifications.With(prometheus.Labels{"kind": string(kind), "result": result}).Inc()
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
