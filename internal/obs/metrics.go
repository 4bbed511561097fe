// Package obs holds the relay's Prometheus collectors.
package obs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	Sessions          = promauto.NewGauge(prometheus.GaugeOpts{Name: "p2pboard_sessions", Help: "Currently registered sessions"})
	BroadcastsTotal   = promauto.NewCounter(prometheus.CounterOpts{Name: "p2pboard_broadcasts_total", Help: "Messages fanned out to the registry"})
	DeliveriesTotal   = promauto.NewCounter(prometheus.CounterOpts{Name: "p2pboard_deliveries_total", Help: "Per-session send attempts issued by broadcasts"})
	DroppedTotal      = promauto.NewCounterVec(prometheus.CounterOpts{Name: "p2pboard_dropped_total", Help: "Messages dropped before broadcast by reason"}, []string{"reason"})
	SendFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{Name: "p2pboard_send_failures_total", Help: "Per-session send failures by stage"}, []string{"stage"})
	HandshakeFailures = promauto.NewCounter(prometheus.CounterOpts{Name: "p2pboard_handshake_failures_total", Help: "WebSocket upgrades that failed"})
	FederatedTotal    = promauto.NewCounterVec(prometheus.CounterOpts{Name: "p2pboard_federated_total", Help: "Messages exchanged with other relay instances"}, []string{"direction"})
	MessageBytes      = promauto.NewHistogram(prometheus.HistogramOpts{Name: "p2pboard_message_bytes", Help: "Size of broadcast payloads", Buckets: prometheus.ExponentialBuckets(16, 4, 9)})
)
