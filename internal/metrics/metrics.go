// Package metrics exposes the service's Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// MessagesSent counts accepted message appends.
	MessagesSent = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ideamart",
		Subsystem: "chat",
		Name:      "messages_sent_total",
		Help:      "Messages accepted and persisted.",
	})

	// MessagesRejected counts rejected mutations by reason.
	MessagesRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ideamart",
		Subsystem: "chat",
		Name:      "messages_rejected_total",
		Help:      "Message mutations rejected by validation, authorization, or business rules.",
	}, []string{"reason"})

	// ActiveSubscriptions gauges live change-feed subscriptions.
	ActiveSubscriptions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "ideamart",
		Subsystem: "chat",
		Name:      "active_subscriptions",
		Help:      "Currently attached change-feed subscriptions.",
	})

	// WSConnections gauges open websocket sessions.
	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "ideamart",
		Subsystem: "realtime",
		Name:      "ws_connections",
		Help:      "Currently open websocket connections.",
	})
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
